package tools

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// DB is the query surface the store needs.
type DB interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Store persists the two record types that exist only for the tool runtime:
// refill requests and voicemails. Neither has a dedicated aggregate package
// elsewhere in the spec, so they live alongside the tools that create them.
type Store struct {
	db DB
}

// NewStore wraps db. Panics on a nil db.
func NewStore(db DB) *Store {
	if db == nil {
		panic("tools: NewStore: nil db")
	}
	return &Store{db: db}
}

// CreateRefillRequest persists a request_refill tool invocation.
func (s *Store) CreateRefillRequest(ctx context.Context, r *RefillRequest) error {
	if r.ID == uuid.Nil {
		r.ID = uuid.New()
	}
	if r.Urgency == "" {
		r.Urgency = UrgencyNormal
	}
	r.CreatedAt = time.Now().UTC()
	_, err := s.db.Exec(ctx, `
		INSERT INTO refill_requests (id, practice_id, patient_id, medication, dosage, pharmacy, urgency, call_id, created_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)`,
		r.ID, r.PracticeID, r.PatientID, r.Medication, r.Dosage, r.Pharmacy, string(r.Urgency), r.CallID, r.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("tools: create refill request: %w", err)
	}
	return nil
}

// CreateVoicemail persists a leave_voicemail tool invocation.
func (s *Store) CreateVoicemail(ctx context.Context, v *Voicemail) error {
	if v.ID == uuid.Nil {
		v.ID = uuid.New()
	}
	if v.Urgency == "" {
		v.Urgency = UrgencyNormal
	}
	v.CreatedAt = time.Now().UTC()
	_, err := s.db.Exec(ctx, `
		INSERT INTO voicemails (id, practice_id, caller_phone, caller_name, message, urgency, call_id, created_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8)`,
		v.ID, v.PracticeID, v.CallerPhone, v.CallerName, v.Message, string(v.Urgency), v.CallID, v.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("tools: create voicemail: %w", err)
	}
	return nil
}
