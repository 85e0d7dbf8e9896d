package practice

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// DB abstracts the pgx query surface so tests can inject pgxmock. Grounded
// on the teacher's internal/rebooking.DB.
type DB interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Store persists practices, schedules, appointment types, and patients.
type Store struct {
	db DB
}

// NewStore creates a practice store backed by db.
func NewStore(db DB) *Store {
	if db == nil {
		panic("practice: db required")
	}
	return &Store{db: db}
}

// GetPractice loads a practice by id.
func (s *Store) GetPractice(ctx context.Context, id uuid.UUID) (*Practice, error) {
	row := s.db.QueryRow(ctx, `
		SELECT id, name, timezone, phone, address, created_at, updated_at
		FROM practices WHERE id = $1`, id)
	var p Practice
	if err := row.Scan(&p.ID, &p.Name, &p.Timezone, &p.Phone, &p.Address, &p.CreatedAt, &p.UpdatedAt); err != nil {
		return nil, fmt.Errorf("practice: get practice: %w", err)
	}
	return &p, nil
}

// GetPracticeByDialedNumber resolves the practice whose config lists number
// among its dialed numbers — the non-call-record tenant-resolution path for
// the webhook dispatcher (spec §4.H step 4).
func (s *Store) GetPracticeByDialedNumber(ctx context.Context, number string) (*Practice, error) {
	row := s.db.QueryRow(ctx, `
		SELECT p.id, p.name, p.timezone, p.phone, p.address, p.created_at, p.updated_at
		FROM practices p
		JOIN practice_configs c ON c.practice_id = p.id
		WHERE $1 = ANY(c.dialed_numbers)
		LIMIT 1`, number)
	var p Practice
	if err := row.Scan(&p.ID, &p.Name, &p.Timezone, &p.Phone, &p.Address, &p.CreatedAt, &p.UpdatedAt); err != nil {
		return nil, fmt.Errorf("practice: get practice by dialed number: %w", err)
	}
	return &p, nil
}

// GetWeeklyTemplate returns the (practice, dayOfWeek) row, or nil if absent.
func (s *Store) GetWeeklyTemplate(ctx context.Context, practiceID uuid.UUID, dayOfWeek int) (*WeeklyScheduleTemplate, error) {
	row := s.db.QueryRow(ctx, `
		SELECT practice_id, day_of_week, is_enabled, open, close
		FROM weekly_schedule_templates WHERE practice_id = $1 AND day_of_week = $2`,
		practiceID, dayOfWeek)
	var t WeeklyScheduleTemplate
	var open, close *string
	if err := row.Scan(&t.PracticeID, &t.DayOfWeek, &t.IsEnabled, &open, &close); err != nil {
		if err == pgx.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("practice: get weekly template: %w", err)
	}
	if open != nil {
		t.Open = *open
	}
	if close != nil {
		t.Close = *close
	}
	return &t, nil
}

// GetScheduleOverride returns the (practice, date) override, or nil if absent.
func (s *Store) GetScheduleOverride(ctx context.Context, practiceID uuid.UUID, date time.Time) (*ScheduleOverride, error) {
	row := s.db.QueryRow(ctx, `
		SELECT practice_id, date, is_working, open, close, COALESCE(reason, '')
		FROM schedule_overrides WHERE practice_id = $1 AND date = $2`,
		practiceID, date)
	var o ScheduleOverride
	var open, close *string
	if err := row.Scan(&o.PracticeID, &o.Date, &o.IsWorking, &open, &close, &o.Reason); err != nil {
		if err == pgx.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("practice: get schedule override: %w", err)
	}
	if open != nil {
		o.Open = *open
	}
	if close != nil {
		o.Close = *close
	}
	return &o, nil
}

// IsHoliday reports whether date is a global holiday.
func (s *Store) IsHoliday(ctx context.Context, date time.Time) (bool, error) {
	row := s.db.QueryRow(ctx, `SELECT 1 FROM holidays WHERE date = $1`, date)
	var exists int
	if err := row.Scan(&exists); err != nil {
		if err == pgx.ErrNoRows {
			return false, nil
		}
		return false, fmt.Errorf("practice: is holiday: %w", err)
	}
	return true, nil
}

// GetAppointmentType resolves by exact or fuzzy (LIKE) name match, falling
// back to the first active type ordered by sort_order (spec §4.I fuzzy
// matching rule, shared by tools 4 and 5).
func (s *Store) GetAppointmentType(ctx context.Context, practiceID uuid.UUID, nameHint string) (*AppointmentType, error) {
	if nameHint != "" {
		pattern := "%" + escapeLike(nameHint) + "%"
		row := s.db.QueryRow(ctx, `
			SELECT id, practice_id, name, duration_minutes, is_active, sort_order
			FROM appointment_types
			WHERE practice_id = $1 AND is_active = true AND name ILIKE $2 ESCAPE '\'
			ORDER BY sort_order ASC LIMIT 1`, practiceID, pattern)
		var t AppointmentType
		err := row.Scan(&t.ID, &t.PracticeID, &t.Name, &t.DurationMinutes, &t.IsActive, &t.SortOrder)
		if err == nil {
			return &t, nil
		}
		if err != pgx.ErrNoRows {
			return nil, fmt.Errorf("practice: fuzzy appointment type: %w", err)
		}
	}
	row := s.db.QueryRow(ctx, `
		SELECT id, practice_id, name, duration_minutes, is_active, sort_order
		FROM appointment_types
		WHERE practice_id = $1 AND is_active = true
		ORDER BY sort_order ASC LIMIT 1`, practiceID)
	var t AppointmentType
	if err := row.Scan(&t.ID, &t.PracticeID, &t.Name, &t.DurationMinutes, &t.IsActive, &t.SortOrder); err != nil {
		return nil, fmt.Errorf("practice: default appointment type: %w", err)
	}
	return &t, nil
}

// GetAppointmentTypeByID fetches a type by id, verifying it belongs to the practice.
func (s *Store) GetAppointmentTypeByID(ctx context.Context, practiceID, typeID uuid.UUID) (*AppointmentType, error) {
	row := s.db.QueryRow(ctx, `
		SELECT id, practice_id, name, duration_minutes, is_active, sort_order
		FROM appointment_types WHERE id = $1 AND practice_id = $2`, typeID, practiceID)
	var t AppointmentType
	if err := row.Scan(&t.ID, &t.PracticeID, &t.Name, &t.DurationMinutes, &t.IsActive, &t.SortOrder); err != nil {
		return nil, fmt.Errorf("practice: get appointment type: %w", err)
	}
	return &t, nil
}

// escapeLike escapes SQL LIKE/ILIKE metacharacters (spec §4.I).
func escapeLike(s string) string {
	out := make([]rune, 0, len(s))
	for _, r := range s {
		switch r {
		case '\\', '%', '_':
			out = append(out, '\\', r)
		default:
			out = append(out, r)
		}
	}
	return string(out)
}

// FindPatient looks up a patient case-insensitively by (first, last, dob),
// the uniqueness tuple from spec §3.
func (s *Store) FindPatient(ctx context.Context, practiceID uuid.UUID, first, last string, dob time.Time) (*Patient, error) {
	row := s.db.QueryRow(ctx, `
		SELECT id, practice_id, first_name, last_name, dob, COALESCE(phone,''), COALESCE(address,''),
		       language_preference, COALESCE(insurance_carrier,''), COALESCE(member_id,''),
		       is_new, opted_out_recall, created_at, updated_at
		FROM patients
		WHERE practice_id = $1 AND lower(first_name) = lower($2) AND lower(last_name) = lower($3) AND dob = $4`,
		practiceID, first, last, dob)
	return scanPatient(row)
}

// FindPatientByPhone looks up the most recently updated patient with the
// given phone number, used by the inbound SMS router to resolve STOP/HELP
// replies back to a patient record (spec §3 Patient.opted_out_recall).
func (s *Store) FindPatientByPhone(ctx context.Context, practiceID uuid.UUID, phone string) (*Patient, error) {
	row := s.db.QueryRow(ctx, `
		SELECT id, practice_id, first_name, last_name, dob, COALESCE(phone,''), COALESCE(address,''),
		       language_preference, COALESCE(insurance_carrier,''), COALESCE(member_id,''),
		       is_new, opted_out_recall, created_at, updated_at
		FROM patients
		WHERE practice_id = $1 AND phone = $2
		ORDER BY updated_at DESC
		LIMIT 1`, practiceID, phone)
	return scanPatient(row)
}

// SetOptedOutRecall flips a patient's recall-messaging opt-out flag, driven
// by an inbound STOP/START keyword reply (spec §3, §4.G).
func (s *Store) SetOptedOutRecall(ctx context.Context, id uuid.UUID, optedOut bool) error {
	_, err := s.db.Exec(ctx, `UPDATE patients SET opted_out_recall = $2, updated_at = $3 WHERE id = $1`,
		id, optedOut, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("practice: set opted out recall: %w", err)
	}
	return nil
}

// GetPatient fetches by id.
func (s *Store) GetPatient(ctx context.Context, practiceID, id uuid.UUID) (*Patient, error) {
	row := s.db.QueryRow(ctx, `
		SELECT id, practice_id, first_name, last_name, dob, COALESCE(phone,''), COALESCE(address,''),
		       language_preference, COALESCE(insurance_carrier,''), COALESCE(member_id,''),
		       is_new, opted_out_recall, created_at, updated_at
		FROM patients WHERE id = $1 AND practice_id = $2`, id, practiceID)
	return scanPatient(row)
}

func scanPatient(row pgx.Row) (*Patient, error) {
	var p Patient
	if err := row.Scan(&p.ID, &p.PracticeID, &p.FirstName, &p.LastName, &p.DOB, &p.Phone, &p.Address,
		&p.LanguagePreference, &p.InsuranceCarrier, &p.MemberID, &p.IsNew, &p.OptedOutRecall,
		&p.CreatedAt, &p.UpdatedAt); err != nil {
		if err == pgx.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("practice: scan patient: %w", err)
	}
	return &p, nil
}

// CreatePatient inserts a new patient row.
func (s *Store) CreatePatient(ctx context.Context, p *Patient) error {
	if p.ID == uuid.Nil {
		p.ID = uuid.New()
	}
	now := time.Now().UTC()
	p.CreatedAt, p.UpdatedAt = now, now
	if p.LanguagePreference == "" {
		p.LanguagePreference = "en"
	}
	_, err := s.db.Exec(ctx, `
		INSERT INTO patients (id, practice_id, first_name, last_name, dob, phone, address,
		                       language_preference, insurance_carrier, member_id, is_new, opted_out_recall,
		                       created_at, updated_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14)`,
		p.ID, p.PracticeID, p.FirstName, p.LastName, p.DOB, p.Phone, p.Address,
		p.LanguagePreference, p.InsuranceCarrier, p.MemberID, p.IsNew, p.OptedOutRecall,
		p.CreatedAt, p.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("practice: create patient: %w", err)
	}
	return nil
}

// MarkPatientNotNew flips is_new to false (booking-engine side effect, §4.D).
func (s *Store) MarkPatientNotNew(ctx context.Context, id uuid.UUID) error {
	_, err := s.db.Exec(ctx, `UPDATE patients SET is_new = false, updated_at = $2 WHERE id = $1 AND is_new = true`,
		id, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("practice: mark patient not new: %w", err)
	}
	return nil
}
