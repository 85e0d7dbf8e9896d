package events

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// rowQuerier is the query surface ProcessedStore needs, satisfied by
// *pgxpool.Pool and by pgxmock in tests — mirrors the DB interface
// convention OutboxStore and the rest of this module use instead of a
// concrete *pgxpool.Pool field.
type rowQuerier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// ProcessedStore records provider events that were already handled, backing
// spec P5/§4.H: a voice-platform webhook redelivered at-least-once must not
// re-trigger a call's side effects (spawning another feedback analysis job,
// re-dispatching a status transition) a second time.
type ProcessedStore struct {
	pool rowQuerier
}

func NewProcessedStore(pool rowQuerier) *ProcessedStore {
	if pool == nil {
		panic("events: db required")
	}
	return &ProcessedStore{pool: pool}
}

// AlreadyProcessed checks if we've seen this provider event id.
func (s *ProcessedStore) AlreadyProcessed(ctx context.Context, provider, eventID string) (bool, error) {
	eventUUID, _, _, err := normalizeProcessedEvent(provider, eventID)
	if err != nil {
		return false, err
	}
	query := `SELECT 1 FROM processed_events WHERE event_id = $1`
	var exists int
	if err := s.pool.QueryRow(ctx, query, eventUUID).Scan(&exists); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return false, nil
		}
		return false, fmt.Errorf("events: check processed: %w", err)
	}
	return true, nil
}

// MarkProcessed inserts an event id for the provider, returning false if it already exists.
func (s *ProcessedStore) MarkProcessed(ctx context.Context, provider, eventID string) (bool, error) {
	eventUUID, normalizedProvider, normalizedEventID, err := normalizeProcessedEvent(provider, eventID)
	if err != nil {
		return false, err
	}
	query := `
		INSERT INTO processed_events (event_id, provider, external_event_id)
		VALUES ($1, NULLIF($2, ''), NULLIF($3, ''))
		ON CONFLICT DO NOTHING
	`
	ct, err := s.pool.Exec(ctx, query, eventUUID, normalizedProvider, normalizedEventID)
	if err != nil {
		return false, fmt.Errorf("events: mark processed: %w", err)
	}
	return ct.RowsAffected() > 0, nil
}

var processedNamespace = uuid.MustParse("1c4b4ef0-0f1f-4f8b-8a9c-7c0fba51cdbd")

func normalizeProcessedEvent(provider, eventID string) (uuid.UUID, string, string, error) {
	eventID = strings.TrimSpace(eventID)
	if eventID == "" {
		return uuid.Nil, "", "", fmt.Errorf("events: event id required")
	}
	provider = strings.TrimSpace(provider)
	key := provider + ":" + eventID
	return uuid.NewSHA1(processedNamespace, []byte(key)), provider, eventID, nil
}
