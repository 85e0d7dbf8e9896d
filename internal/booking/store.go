package booking

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// DB is the query surface the store needs, satisfied by *pgxpool.Pool and
// by pgxmock in tests.
type DB interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Begin(ctx context.Context) (pgx.Tx, error)
}

// Store persists Appointments. All writes that must observe the (practice,
// date, time) cap go through WithTx.
type Store struct {
	db DB
}

// NewStore wraps db.
func NewStore(db DB) *Store {
	if db == nil {
		panic("booking: db required")
	}
	return &Store{db: db}
}

// querier is satisfied by both DB and pgx.Tx, letting the same SQL helpers
// run inside or outside a transaction.
type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// WithTx runs fn inside a serializable transaction, committing on success
// and rolling back otherwise. This is the unit spec §4.D requires for the
// slot-available-check + insert pair.
func (s *Store) WithTx(ctx context.Context, fn func(ctx context.Context, q querier) error) error {
	tx, err := s.db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("booking: begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if _, err := tx.Exec(ctx, "SET TRANSACTION ISOLATION LEVEL SERIALIZABLE"); err != nil {
		return fmt.Errorf("booking: set isolation: %w", err)
	}
	if err := fn(ctx, tx); err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("booking: commit tx: %w", err)
	}
	return nil
}

// CountNonCancelled returns the number of non-cancelled appointments at
// (practice, date, time), the invariant spec §3/§4.D guards.
func (s *Store) CountNonCancelled(ctx context.Context, q querier, practiceID uuid.UUID, date time.Time, at string) (int, error) {
	row := q.QueryRow(ctx, `
		SELECT COUNT(*) FROM appointments
		WHERE practice_id = $1 AND date = $2 AND time = $3 AND status != 'cancelled'`,
		practiceID, date, at)
	var count int
	if err := row.Scan(&count); err != nil {
		return 0, fmt.Errorf("booking: count non-cancelled: %w", err)
	}
	return count, nil
}

// CountByTime returns non-cancelled counts grouped by time for (practice,
// date) — used by internal/slots.Generator, satisfying slots.BookingCounter.
func (s *Store) CountByTime(ctx context.Context, practiceID uuid.UUID, date time.Time) (map[string]int, error) {
	rows, err := s.db.Query(ctx, `
		SELECT time, COUNT(*) FROM appointments
		WHERE practice_id = $1 AND date = $2 AND status != 'cancelled'
		GROUP BY time`, practiceID, date)
	if err != nil {
		return nil, fmt.Errorf("booking: count by time: %w", err)
	}
	defer rows.Close()
	out := make(map[string]int)
	for rows.Next() {
		var t string
		var c int
		if err := rows.Scan(&t, &c); err != nil {
			return nil, fmt.Errorf("booking: scan count: %w", err)
		}
		out[t] = c
	}
	return out, rows.Err()
}

// Insert creates a new appointment row inside the given querier (tx or pool).
func (s *Store) Insert(ctx context.Context, q querier, a *Appointment) error {
	if a.ID == uuid.Nil {
		a.ID = uuid.New()
	}
	now := time.Now().UTC()
	a.CreatedAt, a.UpdatedAt = now, now
	if a.Status == "" {
		a.Status = StatusBooked
	}
	_, err := q.Exec(ctx, `
		INSERT INTO appointments (id, practice_id, patient_id, appointment_type_id, date, time,
		                           duration_minutes, status, notes, booked_by, call_id,
		                           sms_confirmation_sent, idempotency_key, created_at, updated_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15)`,
		a.ID, a.PracticeID, a.PatientID, a.AppointmentTypeID, a.Date, a.Time,
		a.DurationMinutes, string(a.Status), a.Notes, string(a.BookedBy), a.CallID,
		a.SMSConfirmationSent, a.IdempotencyKey, a.CreatedAt, a.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("booking: insert: %w", err)
	}
	return nil
}

// FindByIdempotencyKey implements spec §4.D's idempotent-booking lookup: an
// identical (practice, patient, date, time, call_id, non-terminal) match
// returns the existing row unchanged.
func (s *Store) FindByIdempotencyKey(ctx context.Context, practiceID, patientID uuid.UUID, date time.Time, at string, callID *uuid.UUID, key string) (*Appointment, error) {
	row := s.db.QueryRow(ctx, `
		SELECT id, practice_id, patient_id, appointment_type_id, date, time, duration_minutes,
		       status, COALESCE(notes,''), booked_by, call_id, sms_confirmation_sent,
		       COALESCE(idempotency_key,''), created_at, updated_at
		FROM appointments
		WHERE practice_id = $1 AND patient_id = $2 AND date = $3 AND time = $4
		  AND call_id IS NOT DISTINCT FROM $5 AND idempotency_key = $6
		  AND status != 'cancelled'
		LIMIT 1`, practiceID, patientID, date, at, callID, key)
	return scanAppointment(row)
}

// Get fetches by id, scoped to practice.
func (s *Store) Get(ctx context.Context, practiceID, id uuid.UUID) (*Appointment, error) {
	row := s.db.QueryRow(ctx, appointmentSelectSQL+` WHERE id = $1 AND practice_id = $2`, id, practiceID)
	return scanAppointment(row)
}

// FindNextNonCancelledForPatient returns the soonest non-cancelled
// appointment for a patient, optionally filtered to a specific date
// (tool #6 cancel_appointment's lookup).
func (s *Store) FindNextNonCancelledForPatient(ctx context.Context, practiceID, patientID uuid.UUID, onDate *time.Time) (*Appointment, error) {
	if onDate != nil {
		row := s.db.QueryRow(ctx, appointmentSelectSQL+`
			WHERE practice_id = $1 AND patient_id = $2 AND date = $3 AND status != 'cancelled'
			ORDER BY date ASC, time ASC LIMIT 1`, practiceID, patientID, *onDate)
		return scanAppointment(row)
	}
	row := s.db.QueryRow(ctx, appointmentSelectSQL+`
		WHERE practice_id = $1 AND patient_id = $2 AND status != 'cancelled'
		ORDER BY date ASC, time ASC LIMIT 1`, practiceID, patientID)
	return scanAppointment(row)
}

// UpdateStatus transitions status, returning false if no row matched (used
// to enforce state-machine preconditions like confirm's booked-only rule).
func (s *Store) UpdateStatus(ctx context.Context, q querier, id uuid.UUID, from []Status, to Status) (bool, error) {
	fromStrs := make([]string, len(from))
	for i, f := range from {
		fromStrs[i] = string(f)
	}
	tag, err := q.Exec(ctx, `
		UPDATE appointments SET status = $1, updated_at = $2
		WHERE id = $3 AND status = ANY($4)`,
		string(to), time.Now().UTC(), id, fromStrs)
	if err != nil {
		return false, fmt.Errorf("booking: update status: %w", err)
	}
	return tag.RowsAffected() > 0, nil
}

// MarkSMSConfirmationSent records that the best-effort confirmation send was
// attempted (success or failure), so a retried idempotency lookup won't
// re-fire it.
func (s *Store) MarkSMSConfirmationSent(ctx context.Context, id uuid.UUID) error {
	_, err := s.db.Exec(ctx, `UPDATE appointments SET sms_confirmation_sent = true, updated_at = $2 WHERE id = $1`,
		id, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("booking: mark sms sent: %w", err)
	}
	return nil
}

// AppendNote appends text to an appointment's notes, used for the
// RESCHEDULE-reply manual-follow-up annotation (spec §4.G).
func (s *Store) AppendNote(ctx context.Context, id uuid.UUID, note string) error {
	_, err := s.db.Exec(ctx, `
		UPDATE appointments SET notes = CASE WHEN notes = '' THEN $1 ELSE notes || '; ' || $1 END, updated_at = $2
		WHERE id = $3`, note, time.Now().UTC(), id)
	if err != nil {
		return fmt.Errorf("booking: append note: %w", err)
	}
	return nil
}

// ListNoShowOlderThan returns no_show appointments last transitioned before
// cutoff, the candidate set for the no-show follow-up sweep (spec §4.E).
func (s *Store) ListNoShowOlderThan(ctx context.Context, cutoff time.Time) ([]*Appointment, error) {
	rows, err := s.db.Query(ctx, appointmentSelectSQL+` WHERE status = 'no_show' AND updated_at <= $1`, cutoff)
	if err != nil {
		return nil, fmt.Errorf("booking: list no-show: %w", err)
	}
	defer rows.Close()
	var out []*Appointment
	for rows.Next() {
		a, err := scanAppointment(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

const appointmentSelectSQL = `
	SELECT id, practice_id, patient_id, appointment_type_id, date, time, duration_minutes,
	       status, COALESCE(notes,''), booked_by, call_id, sms_confirmation_sent,
	       COALESCE(idempotency_key,''), created_at, updated_at
	FROM appointments`

func scanAppointment(row pgx.Row) (*Appointment, error) {
	var a Appointment
	var status, bookedBy string
	if err := row.Scan(&a.ID, &a.PracticeID, &a.PatientID, &a.AppointmentTypeID, &a.Date, &a.Time,
		&a.DurationMinutes, &status, &a.Notes, &bookedBy, &a.CallID, &a.SMSConfirmationSent,
		&a.IdempotencyKey, &a.CreatedAt, &a.UpdatedAt); err != nil {
		if err == pgx.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("booking: scan appointment: %w", err)
	}
	a.Status = Status(status)
	a.BookedBy = BookedBy(bookedBy)
	return &a, nil
}
