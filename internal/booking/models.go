// Package booking implements the atomic book/cancel/reschedule/confirm
// engine — spec.md §4.D, the core of the system (18% + 14% combined share
// with the tool runtime). Grounded on the teacher's internal/bookings
// repository shape and internal/http/handlers/telnyx_webhooks.go's
// begin-tx/do-work/rollback-by-default pattern, generalized from a single
// sqlc-flavoured insert to a full state machine with a serializable
// conflict check.
package booking

import (
	"time"

	"github.com/google/uuid"
)

// Status is the Appointment lifecycle state (spec §3).
type Status string

const (
	StatusBooked    Status = "booked"
	StatusConfirmed Status = "confirmed"
	StatusCancelled Status = "cancelled"
	StatusNoShow    Status = "no_show"
	StatusCompleted Status = "completed"
)

// BookedBy records who initiated the booking.
type BookedBy string

const (
	BookedByAI      BookedBy = "ai"
	BookedByStaff   BookedBy = "staff"
	BookedByPatient BookedBy = "patient"
)

// Appointment is the tenant-scoped booking record.
type Appointment struct {
	ID                  uuid.UUID  `json:"id"`
	PracticeID          uuid.UUID  `json:"practice_id"`
	PatientID           uuid.UUID  `json:"patient_id"`
	AppointmentTypeID   uuid.UUID  `json:"appointment_type_id"`
	Date                time.Time  `json:"date"` // date-only, UTC midnight sentinel
	Time                string     `json:"time"` // "HH:MM" practice-local wall clock
	DurationMinutes     int        `json:"duration_minutes"`
	Status              Status     `json:"status"`
	Notes               string     `json:"notes,omitempty"`
	BookedBy            BookedBy   `json:"booked_by"`
	CallID              *uuid.UUID `json:"call_id,omitempty"`
	SMSConfirmationSent bool       `json:"sms_confirmation_sent"`
	IdempotencyKey      string     `json:"idempotency_key,omitempty"`
	CreatedAt           time.Time  `json:"created_at"`
	UpdatedAt           time.Time  `json:"updated_at"`
}

// Instant returns the appointment's (date, time) as a single instant in tz.
func (a *Appointment) Instant(tz string) (time.Time, bool) {
	hour, minute, ok := parseWallClock(a.Time)
	if !ok {
		return time.Time{}, false
	}
	loc := mustLoc(tz)
	d := a.Date.In(loc)
	return time.Date(d.Year(), d.Month(), d.Day(), hour, minute, 0, 0, loc), true
}

func parseWallClock(v string) (int, int, bool) {
	t, err := time.Parse("15:04", v)
	if err != nil {
		return 0, 0, false
	}
	return t.Hour(), t.Minute(), true
}

func mustLoc(tz string) *time.Location {
	loc, err := time.LoadLocation(tz)
	if err != nil {
		return time.UTC
	}
	return loc
}
