package reminders

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

// Store persists Reminders.
type Store struct {
	db DB
}

// NewStore wraps db.
func NewStore(db DB) *Store {
	return &Store{db: db}
}

// Create inserts a reminder, silently no-op'ing on the (appointment, scheduled_for)
// non-terminal uniqueness invariant — the caller's idempotent scheduling may
// attempt to recreate the same stage more than once.
func (s *Store) Create(ctx context.Context, r *Reminder) error {
	if r.ID == uuid.Nil {
		r.ID = uuid.New()
	}
	now := time.Now().UTC()
	r.CreatedAt, r.UpdatedAt = now, now
	if r.Status == "" {
		r.Status = StatusPending
	}
	_, err := s.db.Exec(ctx, `
		INSERT INTO reminders (id, practice_id, appointment_id, patient_id, stage, scheduled_for,
		                        status, message_content, response, attempts, sent_at,
		                        external_message_id, created_at, updated_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14)
		ON CONFLICT (appointment_id, scheduled_for) WHERE status IN ('pending','sent') DO NOTHING`,
		r.ID, r.PracticeID, r.AppointmentID, r.PatientID, string(r.Stage), r.ScheduledFor,
		string(r.Status), r.MessageContent, r.Response, r.Attempts, r.SentAt,
		r.ExternalMessageID, r.CreatedAt, r.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("reminders: create: %w", err)
	}
	return nil
}

// ListDue returns up to limit pending reminders due at or before asOf,
// ordered oldest-first (spec §4.E send loop step).
func (s *Store) ListDue(ctx context.Context, asOf time.Time, limit int) ([]Reminder, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.Query(ctx, `
		SELECT id, practice_id, appointment_id, patient_id, stage, scheduled_for, status,
		       message_content, response, attempts, sent_at, COALESCE(external_message_id,''),
		       created_at, updated_at
		FROM reminders
		WHERE status = 'pending' AND scheduled_for <= $1 AND attempts < 3
		ORDER BY scheduled_for ASC LIMIT $2`, asOf, limit)
	if err != nil {
		return nil, fmt.Errorf("reminders: list due: %w", err)
	}
	defer rows.Close()
	return scanReminders(rows)
}

// MarkSent records a successful send.
func (s *Store) MarkSent(ctx context.Context, id uuid.UUID, externalID string) error {
	now := time.Now().UTC()
	_, err := s.db.Exec(ctx, `
		UPDATE reminders SET status = 'sent', sent_at = $1, external_message_id = $2, updated_at = $1
		WHERE id = $3`, now, externalID, id)
	if err != nil {
		return fmt.Errorf("reminders: mark sent: %w", err)
	}
	return nil
}

// MarkFailed records a permanent failure.
func (s *Store) MarkFailed(ctx context.Context, id uuid.UUID) error {
	_, err := s.db.Exec(ctx, `UPDATE reminders SET status = 'failed', updated_at = $1 WHERE id = $2`,
		time.Now().UTC(), id)
	if err != nil {
		return fmt.Errorf("reminders: mark failed: %w", err)
	}
	return nil
}

// MarkCancelled records the terminal cancellation state (cascaded from the
// parent appointment, or a stale pre-send re-check — spec §4.D/§4.E).
func (s *Store) MarkCancelled(ctx context.Context, id uuid.UUID) error {
	_, err := s.db.Exec(ctx, `UPDATE reminders SET status = 'cancelled', updated_at = $1 WHERE id = $2`,
		time.Now().UTC(), id)
	if err != nil {
		return fmt.Errorf("reminders: mark cancelled: %w", err)
	}
	return nil
}

// IncrementAttempt bumps the retry counter on a transient failure, staying
// pending unless the caller separately marks it failed after the 3rd.
func (s *Store) IncrementAttempt(ctx context.Context, id uuid.UUID) error {
	_, err := s.db.Exec(ctx, `UPDATE reminders SET attempts = attempts + 1, updated_at = $1 WHERE id = $2`,
		time.Now().UTC(), id)
	if err != nil {
		return fmt.Errorf("reminders: increment attempt: %w", err)
	}
	return nil
}

// CancelForAppointment cascades cancellation to every non-terminal reminder
// of an appointment (booking.Engine.Cancel's side effect).
func (s *Store) CancelForAppointment(ctx context.Context, appointmentID uuid.UUID) error {
	_, err := s.db.Exec(ctx, `
		UPDATE reminders SET status = 'cancelled', updated_at = $1
		WHERE appointment_id = $2 AND status = 'pending'`, time.Now().UTC(), appointmentID)
	if err != nil {
		return fmt.Errorf("reminders: cancel for appointment: %w", err)
	}
	return nil
}

// ExistsForAppointmentStage reports whether a non-terminal or sent reminder
// already exists for (appointment, stage) — used by the no-show sweep to
// avoid duplicate follow-ups.
func (s *Store) ExistsForAppointmentStage(ctx context.Context, appointmentID uuid.UUID, stage Stage) (bool, error) {
	row := s.db.QueryRow(ctx, `
		SELECT EXISTS(SELECT 1 FROM reminders WHERE appointment_id = $1 AND stage = $2 AND status IN ('pending','sent'))`,
		appointmentID, string(stage))
	var exists bool
	if err := row.Scan(&exists); err != nil {
		return false, fmt.Errorf("reminders: exists for stage: %w", err)
	}
	return exists, nil
}

// FindActiveForPhone returns the most recently sent reminder for a patient
// phone within a practice, for the inbound SMS router (spec §4.G).
func (s *Store) FindActiveForPhone(ctx context.Context, practiceID uuid.UUID, phone string) (*Reminder, error) {
	rows, err := s.db.Query(ctx, `
		SELECT r.id, r.practice_id, r.appointment_id, r.patient_id, r.stage, r.scheduled_for, r.status,
		       r.message_content, r.response, r.attempts, r.sent_at, COALESCE(r.external_message_id,''),
		       r.created_at, r.updated_at
		FROM reminders r
		JOIN patients p ON p.id = r.patient_id
		WHERE r.practice_id = $1 AND p.phone = $2 AND r.status = 'sent'
		ORDER BY r.sent_at DESC LIMIT 1`, practiceID, phone)
	if err != nil {
		return nil, fmt.Errorf("reminders: find active for phone: %w", err)
	}
	defer rows.Close()
	found, err := scanReminders(rows)
	if err != nil {
		return nil, err
	}
	if len(found) == 0 {
		return nil, nil
	}
	return &found[0], nil
}

// RecordResponse stores the raw inbound reply body on the matched reminder.
func (s *Store) RecordResponse(ctx context.Context, id uuid.UUID, response string) error {
	_, err := s.db.Exec(ctx, `UPDATE reminders SET response = $1, updated_at = $2 WHERE id = $3`,
		response, time.Now().UTC(), id)
	if err != nil {
		return fmt.Errorf("reminders: record response: %w", err)
	}
	return nil
}

func scanReminders(rows pgx.Rows) ([]Reminder, error) {
	var out []Reminder
	for rows.Next() {
		var r Reminder
		var stage, status string
		if err := rows.Scan(&r.ID, &r.PracticeID, &r.AppointmentID, &r.PatientID, &stage, &r.ScheduledFor,
			&status, &r.MessageContent, &r.Response, &r.Attempts, &r.SentAt, &r.ExternalMessageID,
			&r.CreatedAt, &r.UpdatedAt); err != nil {
			return nil, fmt.Errorf("reminders: scan: %w", err)
		}
		r.Stage = Stage(stage)
		r.Status = Status(status)
		out = append(out, r)
	}
	return out, rows.Err()
}
