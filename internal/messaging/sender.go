// Package messaging adapts the teacher's Telnyx ACL client to spec.md's
// provider-agnostic SMS sending needs, and normalizes/classifies phone
// numbers for compliance. The lead-gen/Twilio conversation-routing surface
// the teacher built this package around is gone along with internal/
// conversation and internal/leads; what remains is generic enough to keep.
package messaging

import (
	"container/list"
	"context"
	"fmt"
	"net/http"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/voxcare/concierge/internal/errs"
	"github.com/voxcare/concierge/internal/messaging/telnyxclient"
	"github.com/voxcare/concierge/pkg/logging"
)

var sendTracer = otel.Tracer("concierge.internal.messaging.send")

// Credentials is the tenant-scoped identity an outbound send uses: which
// number it sends from and which provider account authorizes the send.
// Every Sender call carries its own Credentials so a single Sender can serve
// many tenants without rebuilding per caller.
type Credentials struct {
	FromNumber    string
	APIKey        string
	WebhookSecret string
}

// Sender is the provider-agnostic outbound SMS surface every caller
// (reminders, including the booking confirmation stage, and waitlist)
// depends on.
type Sender interface {
	Send(ctx context.Context, creds Credentials, to, body string) (externalID string, err error)
}

// TelnyxSender adapts a single, already-configured telnyxclient.Client —
// kept unmodified — to Sender. Used when every tenant shares one global
// provider account (no per-tenant credential overrides configured).
type TelnyxSender struct {
	client *telnyxclient.Client
}

// NewTelnyxSender wraps an already-configured client.
func NewTelnyxSender(client *telnyxclient.Client) *TelnyxSender {
	return &TelnyxSender{client: client}
}

// Send dispatches one SMS, classifying any failure per spec §4.E's send-loop
// contract: a non-429 4xx is permanent (errs.KindValidation), anything else
// (5xx, 429, timeout, network) is retryable (errs.KindUpstreamDown).
func (s *TelnyxSender) Send(ctx context.Context, creds Credentials, to, body string) (string, error) {
	return sendVia(ctx, s.client, creds.FromNumber, to, body)
}

func sendVia(ctx context.Context, client *telnyxclient.Client, from, to, body string) (string, error) {
	ctx, span := sendTracer.Start(ctx, "messaging.telnyx.send")
	defer span.End()
	span.SetAttributes(
		attribute.String("concierge.to", to),
		attribute.String("concierge.from", from),
	)

	if !IsValidE164(to) {
		err := errs.New(errs.KindValidation, "messaging.Send", fmt.Errorf("recipient %q is not a valid E.164 number", to))
		span.RecordError(err)
		return "", err
	}
	resp, err := client.SendMessage(ctx, telnyxclient.SendMessageRequest{From: from, To: to, Body: body})
	if err != nil {
		if status, ok := telnyxclient.HTTPStatus(err); ok && status >= 400 && status < 500 && status != http.StatusTooManyRequests {
			wrapped := errs.New(errs.KindValidation, "messaging.Send", err)
			span.RecordError(wrapped)
			return "", wrapped
		}
		wrapped := errs.New(errs.KindUpstreamDown, "messaging.Send", fmt.Errorf("send sms: %w", err))
		span.RecordError(wrapped)
		return "", wrapped
	}
	span.SetAttributes(attribute.String("concierge.message_id", resp.ID))
	return resp.ID, nil
}

// CachingSender resolves a distinct Telnyx client per (apiKey, webhookSecret)
// through a ClientCache, so rotating one tenant's credentials never disturbs
// another tenant's live client (spec §5 "cached SMS-provider client keyed by
// (account_id, auth_token), bounded to 16 entries").
type CachingSender struct {
	cache *ClientCache
}

// NewCachingSender wraps a ClientCache as a credential-aware Sender.
func NewCachingSender(cache *ClientCache) *CachingSender {
	return &CachingSender{cache: cache}
}

func (s *CachingSender) Send(ctx context.Context, creds Credentials, to, body string) (string, error) {
	client, err := s.cache.Get(creds.APIKey, creds.WebhookSecret)
	if err != nil {
		return "", errs.New(errs.KindUpstreamDown, "messaging.Send", err)
	}
	return sendVia(ctx, client, creds.FromNumber, to, body)
}

// ClientFactory builds a Telnyx client from per-practice credentials
// (practice.CredentialOverrides or global config fallback).
type ClientFactory func(apiKey, webhookSecret string) (*telnyxclient.Client, error)

// ClientCache bounds the number of live Telnyx clients kept warm per
// distinct credential set, per spec §5's "LRU-bounded client cache" note —
// every practice otherwise holding its own client risks unbounded growth in
// a platform with thousands of tenants.
type ClientCache struct {
	mu      sync.Mutex
	build   ClientFactory
	logger  *logging.Logger
	maxSize int
	order   *list.List
	entries map[string]*list.Element
}

type cacheEntry struct {
	key    string
	client *telnyxclient.Client
}

// NewClientCache creates a cache bounded to maxSize entries (spec default: 16).
func NewClientCache(build ClientFactory, maxSize int, logger *logging.Logger) *ClientCache {
	if maxSize <= 0 {
		maxSize = 16
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &ClientCache{
		build:   build,
		logger:  logger,
		maxSize: maxSize,
		order:   list.New(),
		entries: make(map[string]*list.Element),
	}
}

// Get returns a cached client for (apiKey, webhookSecret), building and
// evicting the least-recently-used entry if the cache is full.
func (c *ClientCache) Get(apiKey, webhookSecret string) (*telnyxclient.Client, error) {
	key := apiKey + "|" + webhookSecret
	c.mu.Lock()
	defer c.mu.Unlock()

	if el, ok := c.entries[key]; ok {
		c.order.MoveToFront(el)
		return el.Value.(*cacheEntry).client, nil
	}

	client, err := c.build(apiKey, webhookSecret)
	if err != nil {
		return nil, fmt.Errorf("messaging: build client: %w", err)
	}

	if c.order.Len() >= c.maxSize {
		oldest := c.order.Back()
		if oldest != nil {
			evicted := c.order.Remove(oldest).(*cacheEntry)
			delete(c.entries, evicted.key)
			c.logger.Debug("messaging: evicted sms client", "key_prefix", safePrefix(evicted.key))
		}
	}
	el := c.order.PushFront(&cacheEntry{key: key, client: client})
	c.entries[key] = el
	return client, nil
}

func safePrefix(key string) string {
	if len(key) > 8 {
		return key[:8] + "…"
	}
	return key
}
