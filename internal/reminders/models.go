// Package reminders implements the multi-stage SMS reminder pipeline —
// spec.md §4.E. Grounded on the teacher's internal/rebooking package
// (Reminder/ReminderStatus/Store/Worker shape), generalized from a single
// rebooking outreach stage to four lifecycle stages per appointment, and
// from a calendar-days ticker to the spec's 60s send loop with per-reminder
// exponential backoff.
package reminders

import (
	"time"

	"github.com/google/uuid"
)

// Stage is the reminder lifecycle point (spec §3, §4.E).
type Stage string

const (
	StageConfirmation Stage = "confirmation"
	StageTMinus24h     Stage = "t_minus_24h"
	StageTMinus2h      Stage = "t_minus_2h"
	StageNoShow        Stage = "no_show"
)

// Status tracks delivery lifecycle.
type Status string

const (
	StatusPending   Status = "pending"
	StatusSent      Status = "sent"
	StatusFailed    Status = "failed"
	StatusCancelled Status = "cancelled"
)

// Reminder is one scheduled SMS outreach tied to an Appointment.
type Reminder struct {
	ID                uuid.UUID  `json:"id"`
	PracticeID        uuid.UUID  `json:"practice_id"`
	AppointmentID     uuid.UUID  `json:"appointment_id"`
	PatientID         uuid.UUID  `json:"patient_id"`
	Stage             Stage      `json:"stage"`
	ScheduledFor      time.Time  `json:"scheduled_for"`
	Status            Status     `json:"status"`
	MessageContent    string     `json:"message_content"`
	Response          *string    `json:"response,omitempty"`
	Attempts          int        `json:"attempts"`
	SentAt            *time.Time `json:"sent_at,omitempty"`
	ExternalMessageID string     `json:"external_message_id,omitempty"`
	CreatedAt         time.Time  `json:"created_at"`
	UpdatedAt         time.Time  `json:"updated_at"`
}
