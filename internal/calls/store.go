package calls

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/voxcare/concierge/internal/messaging/compliance"
)

// DB is the query surface the store needs.
type DB interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Store persists Calls, keyed externally by (practice_id, external_call_id)
// per the P5 idempotency invariant.
type Store struct {
	db DB
}

// NewStore wraps db. Panics on a nil db, matching the teacher's
// constructor-precondition style.
func NewStore(db DB) *Store {
	if db == nil {
		panic("calls: NewStore: nil db")
	}
	return &Store{db: db}
}

// CreateOrUpdate implements §4.J create_or_update: insert if absent, else
// update the non-null fields supplied. Idempotent on (practice_id,
// external_call_id).
func (s *Store) CreateOrUpdate(ctx context.Context, practiceID uuid.UUID, externalCallID string, direction Direction, callerPhone string, status Status, startedAt, endedAt *time.Time) (*Call, error) {
	now := time.Now().UTC()
	var id uuid.UUID
	err := s.db.QueryRow(ctx, `
		INSERT INTO calls (id, practice_id, external_call_id, direction, caller_phone, status, started_at, ended_at, structured_data, created_at, updated_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,'{}',$9,$9)
		ON CONFLICT (practice_id, external_call_id) DO UPDATE SET
			status = EXCLUDED.status,
			direction = COALESCE(NULLIF(EXCLUDED.direction, ''), calls.direction),
			caller_phone = COALESCE(NULLIF(EXCLUDED.caller_phone, ''), calls.caller_phone),
			started_at = COALESCE(calls.started_at, EXCLUDED.started_at),
			ended_at = COALESCE(EXCLUDED.ended_at, calls.ended_at),
			updated_at = EXCLUDED.updated_at
		RETURNING id`,
		uuid.New(), practiceID, externalCallID, string(direction), callerPhone, string(status), startedAt, endedAt, now,
	).Scan(&id)
	if err != nil {
		return nil, fmt.Errorf("calls: create or update: %w", err)
	}
	return s.GetByExternalID(ctx, practiceID, externalCallID)
}

// LinkToPatient implements §4.J link_to_patient.
func (s *Store) LinkToPatient(ctx context.Context, practiceID uuid.UUID, externalCallID string, patientID uuid.UUID) error {
	_, err := s.db.Exec(ctx, `
		UPDATE calls SET patient_id = $1, updated_at = $2
		WHERE practice_id = $3 AND external_call_id = $4`,
		patientID, time.Now().UTC(), practiceID, externalCallID)
	if err != nil {
		return fmt.Errorf("calls: link to patient: %w", err)
	}
	return nil
}

// LinkToAppointment implements §4.J link_to_appointment.
func (s *Store) LinkToAppointment(ctx context.Context, practiceID uuid.UUID, externalCallID string, appointmentID uuid.UUID) error {
	_, err := s.db.Exec(ctx, `
		UPDATE calls SET appointment_id = $1, updated_at = $2
		WHERE practice_id = $3 AND external_call_id = $4`,
		appointmentID, time.Now().UTC(), practiceID, externalCallID)
	if err != nil {
		return fmt.Errorf("calls: link to appointment: %w", err)
	}
	return nil
}

// SaveCallerInfo implements §4.J save_caller_info: set identity fields
// mid-call. Empty strings are treated as "not supplied" and left alone.
func (s *Store) SaveCallerInfo(ctx context.Context, practiceID uuid.UUID, externalCallID string, callerName, callerPhone string, patientID *uuid.UUID) error {
	_, err := s.db.Exec(ctx, `
		UPDATE calls SET
			caller_name = COALESCE(NULLIF($1, ''), caller_name),
			caller_phone = COALESCE(NULLIF($2, ''), caller_phone),
			patient_id = COALESCE($3, patient_id),
			updated_at = $4
		WHERE practice_id = $5 AND external_call_id = $6`,
		callerName, callerPhone, patientID, time.Now().UTC(), practiceID, externalCallID)
	if err != nil {
		return fmt.Errorf("calls: save caller info: %w", err)
	}
	return nil
}

// EndOfCallInput carries the artefacts persisted at call end (§4.J
// save_end_of_call).
type EndOfCallInput struct {
	Transcript        string
	RecordingURL      string
	Summary           string
	DurationSeconds   int
	Cost              *float64
	EndedReason       string
	StructuredData    map[string]any
	SuccessEvaluation string
	CallerIntent      string
	CallerSentiment   string
	Language          string
	EndedAt           time.Time
}

// SaveEndOfCall implements §4.J save_end_of_call, fully updating the
// end-of-call artefacts and evaluating the callback_needed auto-flag.
func (s *Store) SaveEndOfCall(ctx context.Context, practiceID uuid.UUID, externalCallID string, in EndOfCallInput) (*Call, error) {
	existing, err := s.GetByExternalID(ctx, practiceID, externalCallID)
	if err != nil {
		return nil, err
	}
	if existing == nil {
		return nil, fmt.Errorf("calls: save end of call: %s not found", externalCallID)
	}
	structuredJSON, err := json.Marshal(in.StructuredData)
	if err != nil {
		return nil, fmt.Errorf("calls: save end of call: marshal structured_data: %w", err)
	}
	callbackNeeded := ShouldFlagCallback(in.EndedReason, in.DurationSeconds, existing.CallerName, existing.CallerPhone)
	// A caller occasionally reads off a card number to staff mid-call; the
	// transcript is the one artefact here with no "store verbatim" spec
	// requirement, so redact anything that looks like a PAN before it lands
	// in the database (unlike reminder replies, §4.G requires those stored raw).
	transcript := in.Transcript
	if redacted, changed := compliance.RedactPAN(transcript); changed {
		transcript = redacted
	}
	now := time.Now().UTC()
	_, err = s.db.Exec(ctx, `
		UPDATE calls SET
			status = 'ended',
			transcript = $1,
			recording_url = $2,
			summary = $3,
			duration_s = $4,
			cost = $5,
			outcome = $6,
			structured_data = $7,
			success_evaluation = $8,
			caller_intent = $9,
			caller_sentiment = $10,
			language = $11,
			callback_needed = callback_needed OR $12,
			ended_at = $13,
			updated_at = $14
		WHERE practice_id = $15 AND external_call_id = $16`,
		transcript, in.RecordingURL, in.Summary, in.DurationSeconds, in.Cost, in.EndedReason,
		structuredJSON, in.SuccessEvaluation, in.CallerIntent, in.CallerSentiment, in.Language,
		callbackNeeded, in.EndedAt, now, practiceID, externalCallID,
	)
	if err != nil {
		return nil, fmt.Errorf("calls: save end of call: %w", err)
	}
	return s.GetByExternalID(ctx, practiceID, externalCallID)
}

// GetByExternalID loads a call by its voice-platform identifier.
func (s *Store) GetByExternalID(ctx context.Context, practiceID uuid.UUID, externalCallID string) (*Call, error) {
	rows, err := s.db.Query(ctx, selectSQL+` WHERE practice_id = $1 AND external_call_id = $2`, practiceID, externalCallID)
	if err != nil {
		return nil, fmt.Errorf("calls: get by external id: %w", err)
	}
	defer rows.Close()
	out, err := scanCalls(rows)
	if err != nil {
		return nil, err
	}
	if len(out) == 0 {
		return nil, nil
	}
	return &out[0], nil
}

// FindAnyPracticeByExternalID resolves the tenant from an existing Call
// record alone, used by the webhook dispatcher's tenant-resolution order
// ("first by existing Call record for message.call.id").
func (s *Store) FindAnyPracticeByExternalID(ctx context.Context, externalCallID string) (*Call, error) {
	rows, err := s.db.Query(ctx, selectSQL+` WHERE external_call_id = $1 LIMIT 1`, externalCallID)
	if err != nil {
		return nil, fmt.Errorf("calls: find any practice by external id: %w", err)
	}
	defer rows.Close()
	out, err := scanCalls(rows)
	if err != nil {
		return nil, err
	}
	if len(out) == 0 {
		return nil, nil
	}
	return &out[0], nil
}

const selectSQL = `
	SELECT id, practice_id, external_call_id, direction, caller_phone, COALESCE(caller_name,''),
	       patient_id, appointment_id, status, started_at, ended_at, duration_s,
	       COALESCE(transcript,''), COALESCE(summary,''), COALESCE(recording_url,''), cost,
	       COALESCE(outcome,''), structured_data, COALESCE(caller_intent,''), COALESCE(caller_sentiment,''),
	       COALESCE(success_evaluation,''), COALESCE(language,''), callback_needed, callback_completed,
	       COALESCE(callback_notes,''), created_at, updated_at
	FROM calls`

func scanCalls(rows pgx.Rows) ([]Call, error) {
	var out []Call
	for rows.Next() {
		var c Call
		var direction, status string
		var structured []byte
		if err := rows.Scan(&c.ID, &c.PracticeID, &c.ExternalCallID, &direction, &c.CallerPhone, &c.CallerName,
			&c.PatientID, &c.AppointmentID, &status, &c.StartedAt, &c.EndedAt, &c.DurationSeconds,
			&c.Transcript, &c.Summary, &c.RecordingURL, &c.Cost,
			&c.Outcome, &structured, &c.CallerIntent, &c.CallerSentiment,
			&c.SuccessEvaluation, &c.Language, &c.CallbackNeeded, &c.CallbackCompleted,
			&c.CallbackNotes, &c.CreatedAt, &c.UpdatedAt); err != nil {
			return nil, fmt.Errorf("calls: scan: %w", err)
		}
		c.Direction = Direction(direction)
		c.Status = Status(status)
		if len(structured) > 0 {
			_ = json.Unmarshal(structured, &c.StructuredData)
		}
		out = append(out, c)
	}
	return out, rows.Err()
}
