package waitlist

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

// Store persists WaitlistEntries.
type Store struct {
	db DB
}

// NewStore wraps db.
func NewStore(db DB) *Store {
	return &Store{db: db}
}

// Create inserts a new waiting entry.
func (s *Store) Create(ctx context.Context, e *Entry) error {
	if e.ID == uuid.Nil {
		e.ID = uuid.New()
	}
	now := time.Now().UTC()
	e.CreatedAt, e.UpdatedAt = now, now
	if e.Status == "" {
		e.Status = StatusWaiting
	}
	if e.Priority <= 0 {
		e.Priority = 3
	}
	_, err := s.db.Exec(ctx, `
		INSERT INTO waitlist_entries (id, practice_id, patient_name, patient_phone, appointment_type_id,
		                               preferred_date_start, preferred_date_end, preferred_time_start,
		                               preferred_time_end, priority, status, created_at, updated_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13)`,
		e.ID, e.PracticeID, e.PatientName, e.PatientPhone, e.AppointmentTypeID,
		e.PreferredDateStart, e.PreferredDateEnd, e.PreferredTimeStart, e.PreferredTimeEnd,
		e.Priority, string(e.Status), e.CreatedAt, e.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("waitlist: create: %w", err)
	}
	return nil
}

// ListWaiting returns every waiting entry for a practice, ordered
// (priority asc, created_at asc) per spec §4.F's sort rule.
func (s *Store) ListWaiting(ctx context.Context, practiceID uuid.UUID) ([]Entry, error) {
	rows, err := s.db.Query(ctx, selectSQL+`
		WHERE practice_id = $1 AND status = 'waiting'
		ORDER BY priority ASC, created_at ASC`, practiceID)
	if err != nil {
		return nil, fmt.Errorf("waitlist: list waiting: %w", err)
	}
	defer rows.Close()
	return scanEntries(rows)
}

// MarkNotified transitions waiting -> notified with a 2h expiry.
func (s *Store) MarkNotified(ctx context.Context, id uuid.UUID, now time.Time, expiresAt time.Time) error {
	_, err := s.db.Exec(ctx, `
		UPDATE waitlist_entries SET status = 'notified', notified_at = $1, expires_at = $2, updated_at = $1
		WHERE id = $3 AND status = 'waiting'`, now, expiresAt, id)
	if err != nil {
		return fmt.Errorf("waitlist: mark notified: %w", err)
	}
	return nil
}

// FindActiveNotifiedByPhone returns the most recent notified, unexpired
// entry for a phone within a practice (spec §4.F on_reply lookup).
func (s *Store) FindActiveNotifiedByPhone(ctx context.Context, practiceID uuid.UUID, phone string, now time.Time) (*Entry, error) {
	rows, err := s.db.Query(ctx, selectSQL+`
		WHERE practice_id = $1 AND patient_phone = $2 AND status = 'notified' AND expires_at > $3
		ORDER BY notified_at DESC LIMIT 1`, practiceID, phone, now)
	if err != nil {
		return nil, fmt.Errorf("waitlist: find active notified: %w", err)
	}
	defer rows.Close()
	found, err := scanEntries(rows)
	if err != nil {
		return nil, err
	}
	if len(found) == 0 {
		return nil, nil
	}
	return &found[0], nil
}

// UpdateStatus transitions id to status, guarded by the allowed source states.
func (s *Store) UpdateStatus(ctx context.Context, id uuid.UUID, from []Status, to Status) (bool, error) {
	fromStrs := make([]string, len(from))
	for i, f := range from {
		fromStrs[i] = string(f)
	}
	tag, err := s.db.Exec(ctx, `
		UPDATE waitlist_entries SET status = $1, updated_at = $2
		WHERE id = $3 AND status = ANY($4)`, string(to), time.Now().UTC(), id, fromStrs)
	if err != nil {
		return false, fmt.Errorf("waitlist: update status: %w", err)
	}
	return tag.RowsAffected() > 0, nil
}

// ListNotifiedExpired returns notified entries whose expiry has passed.
func (s *Store) ListNotifiedExpired(ctx context.Context, now time.Time) ([]Entry, error) {
	rows, err := s.db.Query(ctx, selectSQL+`
		WHERE status = 'notified' AND expires_at <= $1`, now)
	if err != nil {
		return nil, fmt.Errorf("waitlist: list notified expired: %w", err)
	}
	defer rows.Close()
	return scanEntries(rows)
}

// ListWaitingPastDateRange returns waiting entries whose preferred date
// range has already ended.
func (s *Store) ListWaitingPastDateRange(ctx context.Context, today time.Time) ([]Entry, error) {
	rows, err := s.db.Query(ctx, selectSQL+`
		WHERE status = 'waiting' AND preferred_date_end IS NOT NULL AND preferred_date_end < $1`, today)
	if err != nil {
		return nil, fmt.Errorf("waitlist: list waiting past range: %w", err)
	}
	defer rows.Close()
	return scanEntries(rows)
}

const selectSQL = `
	SELECT id, practice_id, patient_name, patient_phone, appointment_type_id,
	       preferred_date_start, preferred_date_end, COALESCE(preferred_time_start,''),
	       COALESCE(preferred_time_end,''), priority, status, notified_at, expires_at,
	       created_at, updated_at
	FROM waitlist_entries`

func scanEntries(rows pgx.Rows) ([]Entry, error) {
	var out []Entry
	for rows.Next() {
		var e Entry
		var status string
		if err := rows.Scan(&e.ID, &e.PracticeID, &e.PatientName, &e.PatientPhone, &e.AppointmentTypeID,
			&e.PreferredDateStart, &e.PreferredDateEnd, &e.PreferredTimeStart, &e.PreferredTimeEnd,
			&e.Priority, &status, &e.NotifiedAt, &e.ExpiresAt, &e.CreatedAt, &e.UpdatedAt); err != nil {
			return nil, fmt.Errorf("waitlist: scan: %w", err)
		}
		e.Status = Status(status)
		out = append(out, e)
	}
	return out, rows.Err()
}
