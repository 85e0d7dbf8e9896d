// Package practice models the tenant (Practice) and its configuration,
// schedule, appointment types, and patients — the data every other
// component scopes its work by. Grounded on the teacher's
// internal/clinic.Config, generalized from one flat JSON blob to the
// relational shape spec.md §3 describes.
package practice

import (
	"time"

	"github.com/google/uuid"
)

// Practice is a tenant: a single medical office.
type Practice struct {
	ID        uuid.UUID `json:"id"`
	Name      string    `json:"name"`
	Timezone  string    `json:"timezone"`
	Phone     string    `json:"phone"`
	Address   string    `json:"address"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// CredentialOverrides holds per-tenant third-party credentials that take
// precedence over global configuration (spec §9 "Credential caching").
type CredentialOverrides struct {
	VoicePlatformKey string `json:"voice_platform_key,omitempty"`
	SMSProviderSID   string `json:"sms_provider_sid,omitempty"`
	SMSProviderToken string `json:"sms_provider_token,omitempty"`
	SMSSenderNumber  string `json:"sms_sender_number,omitempty"`
	InsuranceAPIKey  string `json:"insurance_api_key,omitempty"`
}

// Config is the one-to-one PracticeConfig entity.
type Config struct {
	PracticeID            uuid.UUID            `json:"practice_id"`
	SlotDurationMinutes   int                  `json:"slot_duration_minutes"`
	BookingHorizonDays    int                  `json:"booking_horizon_days"`
	AllowOverbooking      bool                 `json:"allow_overbooking"`
	MaxOverbookingPerSlot int                  `json:"max_overbooking_per_slot"`
	TransferNumber        string               `json:"transfer_number,omitempty"`
	SMSTemplates          map[string]Templates `json:"sms_templates"` // language -> stage templates
	VoiceAssistantID      string               `json:"voice_assistant_id,omitempty"`
	DialedNumbers         []string             `json:"dialed_numbers,omitempty"`
	EligibilityEnabled    bool                 `json:"eligibility_enabled"`
	Credentials           CredentialOverrides  `json:"credentials,omitempty"`
}

// Templates groups the per-stage SMS template strings for one language.
type Templates struct {
	Confirmation string `json:"confirmation"`
	TMinus24h    string `json:"t_minus_24h"`
	TMinus2h     string `json:"t_minus_2h"`
	NoShow       string `json:"no_show"`
}

// Validate enforces PracticeConfig's invariants (spec §3).
func (c *Config) Validate() error {
	if c.SlotDurationMinutes < 5 || c.SlotDurationMinutes > 120 {
		return validationErr("slot_duration_minutes must be in [5, 120]")
	}
	if c.MaxOverbookingPerSlot < 1 {
		return validationErr("max_overbooking_per_slot must be >= 1")
	}
	if c.BookingHorizonDays < 1 || c.BookingHorizonDays > 365 {
		return validationErr("booking_horizon_days must be in [1, 365]")
	}
	return nil
}

func validationErr(msg string) error { return &configValidationError{msg: msg} }

type configValidationError struct{ msg string }

func (e *configValidationError) Error() string { return "practice: " + e.msg }

// DefaultConfig returns a config with spec-compliant defaults for a new practice.
func DefaultConfig(practiceID uuid.UUID) *Config {
	return &Config{
		PracticeID:            practiceID,
		SlotDurationMinutes:   30,
		BookingHorizonDays:    60,
		AllowOverbooking:      false,
		MaxOverbookingPerSlot: 1,
		SMSTemplates: map[string]Templates{
			"en": {
				Confirmation: "Hi {patient_name}, your appointment at {practice_name} is confirmed for {date} at {time}. Reply CONFIRM, CANCEL, or RESCHEDULE.",
				TMinus24h:    "Reminder: {patient_name}, you have an appointment at {practice_name} tomorrow {date} at {time}.",
				TMinus2h:     "Reminder: {patient_name}, your appointment at {practice_name} is today at {time}.",
				NoShow:       "Hi {patient_name}, we missed you at {practice_name} for your {date} {time} appointment. Please call us to reschedule.",
			},
			"es": {
				Confirmation: "Hola {patient_name}, su cita en {practice_name} esta confirmada para el {date} a las {time}. Responda CONFIRMAR, CANCELAR o REPROGRAMAR.",
				TMinus24h:    "Recordatorio: {patient_name}, tiene una cita en {practice_name} manana {date} a las {time}.",
				TMinus2h:     "Recordatorio: {patient_name}, su cita en {practice_name} es hoy a las {time}.",
				NoShow:       "Hola {patient_name}, le extranamos en {practice_name} para su cita del {date} {time}. Por favor llamenos para reprogramar.",
			},
		},
	}
}

// DayHours is the open/close wall-clock pair for a working day. Grounded on
// clinic.DayHours.
type DayHours struct {
	Open  string `json:"open"`
	Close string `json:"close"`
}

// WeeklyScheduleTemplate is one (practice, day_of_week) row.
type WeeklyScheduleTemplate struct {
	PracticeID uuid.UUID `json:"practice_id"`
	DayOfWeek  int       `json:"day_of_week"` // 0=Sunday .. 6=Saturday
	IsEnabled  bool      `json:"is_enabled"`
	Open       string    `json:"open,omitempty"`
	Close      string    `json:"close,omitempty"`
}

// ScheduleOverride supersedes the weekly template for one specific date.
type ScheduleOverride struct {
	PracticeID uuid.UUID `json:"practice_id"`
	Date       time.Time `json:"date"` // date-only, UTC midnight sentinel
	IsWorking  bool      `json:"is_working"`
	Open       string    `json:"open,omitempty"`
	Close      string    `json:"close,omitempty"`
	Reason     string    `json:"reason,omitempty"`
}

// Holiday is a global date that closes every practice.
type Holiday struct {
	Date time.Time `json:"date"`
	Name string    `json:"name,omitempty"`
}

// AppointmentType is a bookable service offered by a practice.
type AppointmentType struct {
	ID              uuid.UUID `json:"id"`
	PracticeID      uuid.UUID `json:"practice_id"`
	Name            string    `json:"name"`
	DurationMinutes int       `json:"duration_minutes"`
	IsActive        bool      `json:"is_active"`
	SortOrder       int       `json:"sort_order"`
}

// Patient is a person the practice has on file.
type Patient struct {
	ID                 uuid.UUID  `json:"id"`
	PracticeID         uuid.UUID  `json:"practice_id"`
	FirstName          string     `json:"first_name"`
	LastName           string     `json:"last_name"`
	DOB                time.Time  `json:"dob"`
	Phone              string     `json:"phone,omitempty"`
	Address            string     `json:"address,omitempty"`
	LanguagePreference string     `json:"language_preference"`
	InsuranceCarrier   string     `json:"insurance_carrier,omitempty"`
	MemberID           string     `json:"member_id,omitempty"`
	IsNew              bool       `json:"is_new"`
	OptedOutRecall     bool       `json:"opted_out_recall"`
	CreatedAt          time.Time  `json:"created_at"`
	UpdatedAt          time.Time  `json:"updated_at"`
}
