package webhook

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/voxcare/concierge/internal/calls"
	"github.com/voxcare/concierge/internal/events"
	"github.com/voxcare/concierge/internal/observability/metrics"
	"github.com/voxcare/concierge/internal/practice"
	"github.com/voxcare/concierge/internal/tenancy"
	"github.com/voxcare/concierge/internal/tools"
	"github.com/voxcare/concierge/pkg/logging"
)

// webhookProvider names the event namespace ProcessedStore dedups within;
// there is only one voice platform integration today (the X-Vapi-Signature
// header verifyOrSuppress checks), so this stays a constant rather than a
// field threaded through every call site.
const webhookProvider = "vapi"

// FeedbackAnalyzer runs the §4.K per-call analysis. Implemented by
// internal/feedback; kept as a narrow interface here so this package never
// imports the LLM stack directly.
type FeedbackAnalyzer interface {
	AnalyzeCall(ctx context.Context, practiceID uuid.UUID, externalCallID string) error
}

// FeedbackQueue fans analysis jobs out to an async worker instead of running
// them on the webhook goroutine. Implemented by internal/feedback.AnalysisQueue.
// Optional: a nil FeedbackQueue or one with Enabled()==false falls back to
// analyzeWithRetry's in-process retry loop.
type FeedbackQueue interface {
	Enabled() bool
	Enqueue(ctx context.Context, practiceID uuid.UUID, externalCallID string) error
}

// Dispatcher implements §4.H end to end.
type Dispatcher struct {
	Practice      *practice.Store
	Calls         *calls.Store
	Tools         *tools.Registry
	Feedback      FeedbackAnalyzer
	FeedbackQueue FeedbackQueue
	Processed     *events.ProcessedStore
	Secret        string
	Production    bool
	Metrics       *metrics.WebhookMetrics
	Logger        *logging.Logger
}

// DispatcherConfig configures a Dispatcher.
type DispatcherConfig struct {
	Practice      *practice.Store
	Calls         *calls.Store
	Tools         *tools.Registry
	Feedback      FeedbackAnalyzer
	FeedbackQueue FeedbackQueue
	Processed     *events.ProcessedStore
	Secret        string
	Production    bool
	Metrics       *metrics.WebhookMetrics
	Logger        *logging.Logger
}

// NewDispatcher wires the dispatcher. cfg.Metrics, cfg.FeedbackQueue, and
// cfg.Processed may be nil — a nil Processed disables redelivery dedup
// rather than failing closed, since Calls.CreateOrUpdate's own
// ON CONFLICT upsert already makes status-update redelivery idempotent on
// its own, just without skipping the redundant write.
func NewDispatcher(cfg DispatcherConfig) *Dispatcher {
	if cfg.Logger == nil {
		cfg.Logger = logging.Default()
	}
	return &Dispatcher{
		Practice: cfg.Practice, Calls: cfg.Calls, Tools: cfg.Tools, Feedback: cfg.Feedback,
		FeedbackQueue: cfg.FeedbackQueue, Processed: cfg.Processed,
		Secret:        cfg.Secret, Production: cfg.Production, Metrics: cfg.Metrics, Logger: cfg.Logger,
	}
}

// ServeHTTP is the voice-platform webhook entry point. Per §4.H step-1 it
// never returns anything other than 200 to the platform, except the 413
// size-limit case and a 400 when the body cannot be read — suppressing retries the platform would otherwise fire
// on every non-2xx.
func (d *Dispatcher) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	body, err := io.ReadAll(io.LimitReader(r.Body, MaxBodyBytes+1))
	if err != nil {
		http.Error(w, "invalid body", http.StatusBadRequest)
		return
	}
	if len(body) > MaxBodyBytes {
		d.Metrics.ObserveEvent("unknown", "too_large")
		http.Error(w, "payload too large", http.StatusRequestEntityTooLarge)
		return
	}

	if !d.verifyOrSuppress(w, body, r.Header.Get("X-Vapi-Signature")) {
		d.Metrics.ObserveEvent("unknown", "bad_signature")
		return
	}

	var env Envelope
	if err := json.Unmarshal(body, &env); err != nil {
		d.Logger.Warn("webhook: parse error, swallowing", "error", err)
		d.Metrics.ObserveEvent("unknown", "parse_error")
		w.WriteHeader(http.StatusOK)
		return
	}

	ctx := r.Context()
	practiceID, ok := d.resolveTenant(ctx, env.Message)
	if !ok {
		d.Logger.Warn("webhook: unresolved tenant, swallowing", "call_id", env.Message.Call.ID)
		d.Metrics.ObserveEvent(env.Message.Type, "unresolved_tenant")
		w.WriteHeader(http.StatusOK)
		return
	}

	ctx = tenancy.WithPracticeID(ctx, practiceID.String())
	resp := d.dispatch(ctx, practiceID, env.Message)
	d.Metrics.ObserveEvent(env.Message.Type, "ok")
	d.Metrics.ObserveLatency(env.Message.Type, time.Since(start).Seconds())
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	if resp != nil {
		_ = json.NewEncoder(w).Encode(resp)
	}
}

// verifyOrSuppress implements §4.H step 2. Returns false once it has
// already written the (always-200) response and the caller should stop.
func (d *Dispatcher) verifyOrSuppress(w http.ResponseWriter, body []byte, signatureHeader string) bool {
	if d.Secret == "" {
		if d.Production {
			d.Logger.Error("webhook: no secret configured in production")
		} else {
			d.Logger.Info("webhook: no secret configured, allowing (development)")
		}
		return true
	}
	if err := VerifySignature(d.Secret, body, signatureHeader); err != nil {
		d.Logger.Warn("webhook: signature verification failed")
		w.WriteHeader(http.StatusOK)
		return false
	}
	return true
}

// resolveTenant implements §4.H step 4: existing Call record first, then
// the dialed number. No default-practice fallback.
func (d *Dispatcher) resolveTenant(ctx context.Context, msg Message) (uuid.UUID, bool) {
	if msg.Call.ID != "" {
		if existing, err := d.Calls.FindAnyPracticeByExternalID(ctx, msg.Call.ID); err == nil && existing != nil {
			return existing.PracticeID, true
		}
	}
	if dialed := msg.Call.PhoneNumber.Dialed(); dialed != "" {
		if p, err := d.Practice.GetPracticeByDialedNumber(ctx, dialed); err == nil && p != nil {
			return p.ID, true
		}
	}
	return uuid.UUID{}, false
}

// alreadyProcessed implements the P5/§4.H redelivery guard for event types
// that run non-idempotent side effects (spawning a feedback analysis job).
// tool-calls and function-call are deliberately excluded: those need a live
// synchronous response on every delivery, so there is nothing to dedup.
// A nil Processed, or a lookup error, fails open — the caller still runs,
// same as before this guard existed.
func (d *Dispatcher) alreadyProcessed(ctx context.Context, key string) bool {
	if d.Processed == nil {
		return false
	}
	seen, err := d.Processed.AlreadyProcessed(ctx, webhookProvider, key)
	if err != nil {
		d.Logger.Error("webhook: processed-event lookup failed", "error", err, "key", key)
		return false
	}
	if seen {
		d.Logger.Info("webhook: duplicate delivery suppressed", "key", key)
		return true
	}
	if _, err := d.Processed.MarkProcessed(ctx, webhookProvider, key); err != nil {
		d.Logger.Error("webhook: mark processed failed", "error", err, "key", key)
	}
	return false
}

func (d *Dispatcher) dispatch(ctx context.Context, practiceID uuid.UUID, msg Message) any {
	switch msg.Type {
	case "assistant-request":
		return map[string]any{"assistant": nil}

	case "status-update":
		d.handleStatusUpdate(ctx, practiceID, msg)
		return nil

	case "tool-calls":
		return d.handleToolCalls(ctx, practiceID, msg)

	case "function-call":
		return d.handleFunctionCall(ctx, practiceID, msg)

	case "end-of-call-report":
		d.handleEndOfCall(ctx, practiceID, msg)
		return nil

	case "hang":
		d.Logger.Info("webhook: hang event", "call_id", msg.Call.ID)
		return nil

	default:
		d.Logger.Info("webhook: unhandled event type", "type", msg.Type, "call_id", msg.Call.ID)
		return nil
	}
}

func (d *Dispatcher) handleStatusUpdate(ctx context.Context, practiceID uuid.UUID, msg Message) {
	if d.alreadyProcessed(ctx, "status-update:"+msg.Call.ID+":"+msg.Status) {
		return
	}
	direction := calls.DirectionInbound
	if msg.Call.Type == "outboundPhoneCall" {
		direction = calls.DirectionOutbound
	}
	var startedAt, endedAt *time.Time
	if t, ok := parseTimestamp(msg.StartedAt); ok {
		startedAt = &t
	}
	if t, ok := parseTimestamp(msg.EndedAt); ok {
		endedAt = &t
	}
	if _, err := d.Calls.CreateOrUpdate(ctx, practiceID, msg.Call.ID, direction, msg.CallerPhone, calls.Status(msg.Status), startedAt, endedAt); err != nil {
		d.Logger.Error("webhook: status-update create/update failed", "error", err, "call_id", msg.Call.ID)
	}
}

func (d *Dispatcher) handleToolCalls(ctx context.Context, practiceID uuid.UUID, msg Message) any {
	results := make([]ToolCallResult, 0, len(msg.ToolCalls))
	for _, tc := range msg.ToolCalls {
		result, err := d.Tools.Invoke(ctx, tc.Function.Name, practiceID, msg.Call.ID, tc.Function.Arguments)
		if err != nil {
			result = map[string]string{"error": fmt.Sprintf("%s failed, please try again", tc.Function.Name)}
		}
		results = append(results, ToolCallResult{ToolCallID: tc.ID, Result: result})
	}
	return map[string]any{"results": results}
}

func (d *Dispatcher) handleFunctionCall(ctx context.Context, practiceID uuid.UUID, msg Message) any {
	result, err := d.Tools.Invoke(ctx, msg.Name, practiceID, msg.Call.ID, msg.Parameters)
	if err != nil {
		result = map[string]string{"error": fmt.Sprintf("%s failed, please try again", msg.Name)}
	}
	return map[string]any{"result": result}
}

func (d *Dispatcher) handleEndOfCall(ctx context.Context, practiceID uuid.UUID, msg Message) {
	if d.alreadyProcessed(ctx, "end-of-call-report:"+msg.Call.ID) {
		return
	}
	transcript := msg.Transcript
	if transcript == "" && len(msg.Messages) > 0 {
		var b strings.Builder
		for _, m := range msg.Messages {
			b.WriteString(m.Role)
			b.WriteString(": ")
			b.WriteString(m.Message)
			b.WriteString("\n")
		}
		transcript = b.String()
	}

	duration := int(msg.DurationSecs)
	startedAt, startOK := parseTimestamp(msg.StartedAt)
	endedAt, endOK := parseTimestamp(msg.EndedAt)
	if duration == 0 && startOK && endOK {
		duration = int(endedAt.Sub(startedAt).Seconds())
	}
	if !endOK {
		endedAt = time.Now().UTC()
	}

	summary := msg.Summary
	if summary == "" {
		summary = msg.Analysis.Summary
	}

	_, err := d.Calls.SaveEndOfCall(ctx, practiceID, msg.Call.ID, calls.EndOfCallInput{
		Transcript:        transcript,
		RecordingURL:      msg.RecordingURL,
		Summary:           summary,
		DurationSeconds:   duration,
		Cost:              msg.Cost,
		EndedReason:       msg.EndedReason,
		StructuredData:    msg.Analysis.StructuredData,
		SuccessEvaluation: msg.Analysis.SuccessEvaluation,
		EndedAt:           endedAt,
	})
	if err != nil {
		d.Logger.Error("webhook: end-of-call-report save failed", "error", err, "call_id", msg.Call.ID)
		return
	}

	if d.Feedback == nil {
		return
	}
	if d.FeedbackQueue != nil && d.FeedbackQueue.Enabled() {
		if err := d.FeedbackQueue.Enqueue(ctx, practiceID, msg.Call.ID); err != nil {
			d.Logger.Error("webhook: enqueue feedback analysis failed, falling back to inline retry", "error", err, "call_id", msg.Call.ID)
			go d.analyzeWithRetry(practiceID, msg.Call.ID)
		}
		return
	}
	go d.analyzeWithRetry(practiceID, msg.Call.ID)
}

// analyzeWithRetry spawns the feedback analyser in the background with the
// retry-with-backoff policy grounded in telnyxclient.Client.invoke's
// shouldRetry/exponential-backoff loop, reused at the job level.
func (d *Dispatcher) analyzeWithRetry(practiceID uuid.UUID, externalCallID string) {
	const maxAttempts = 3
	for attempt := 0; attempt < maxAttempts; attempt++ {
		ctx, cancel := context.WithTimeout(context.Background(), 45*time.Second)
		err := d.Feedback.AnalyzeCall(ctx, practiceID, externalCallID)
		cancel()
		if err == nil {
			return
		}
		d.Logger.Error("webhook: feedback analysis attempt failed", "attempt", attempt+1, "error", err, "call_id", externalCallID)
		if attempt < maxAttempts-1 {
			time.Sleep(time.Duration(1<<attempt) * time.Second)
		}
	}
	d.Logger.Error("webhook: feedback analysis exhausted retries", "call_id", externalCallID)
}

func parseTimestamp(v string) (time.Time, bool) {
	if v == "" {
		return time.Time{}, false
	}
	if t, err := time.Parse(time.RFC3339, v); err == nil {
		return t, true
	}
	return time.Time{}, false
}
