// Package waitlist implements the cancelled-slot waitlist engine — spec.md
// §4.F. Modeled on the same store/worker shape as internal/reminders
// (itself grounded on the teacher's internal/rebooking), since both are
// "match candidates → notify → consume reply → expire" pipelines.
package waitlist

import (
	"time"

	"github.com/google/uuid"
)

// Status is the WaitlistEntry lifecycle state (spec §3).
type Status string

const (
	StatusWaiting   Status = "waiting"
	StatusNotified  Status = "notified"
	StatusBooked    Status = "booked"
	StatusExpired   Status = "expired"
	StatusCancelled Status = "cancelled"
)

// Entry is a tenant-scoped waitlist request.
type Entry struct {
	ID                  uuid.UUID  `json:"id"`
	PracticeID          uuid.UUID  `json:"practice_id"`
	PatientName         string     `json:"patient_name"`
	PatientPhone        string     `json:"patient_phone"`
	AppointmentTypeID   *uuid.UUID `json:"appointment_type_id,omitempty"`
	PreferredDateStart  *time.Time `json:"preferred_date_start,omitempty"`
	PreferredDateEnd    *time.Time `json:"preferred_date_end,omitempty"`
	PreferredTimeStart  string     `json:"preferred_time_start,omitempty"`
	PreferredTimeEnd    string     `json:"preferred_time_end,omitempty"`
	Priority            int        `json:"priority"` // 1 = highest
	Status              Status     `json:"status"`
	NotifiedAt          *time.Time `json:"notified_at,omitempty"`
	ExpiresAt           *time.Time `json:"expires_at,omitempty"`
	CreatedAt           time.Time  `json:"created_at"`
	UpdatedAt           time.Time  `json:"updated_at"`
}

// matchesType reports whether the entry's optional type preference allows
// the cancelled appointment's type.
func (e *Entry) matchesType(appointmentTypeID uuid.UUID) bool {
	return e.AppointmentTypeID == nil || *e.AppointmentTypeID == appointmentTypeID
}

// matchesDate reports whether the entry's optional date-range preference
// contains date.
func (e *Entry) matchesDate(date time.Time) bool {
	if e.PreferredDateStart != nil && date.Before(*e.PreferredDateStart) {
		return false
	}
	if e.PreferredDateEnd != nil && date.After(*e.PreferredDateEnd) {
		return false
	}
	return true
}

// matchesTime reports whether the entry's optional wall-clock time-range
// preference contains at ("HH:MM").
func (e *Entry) matchesTime(at string) bool {
	if e.PreferredTimeStart != "" && at < e.PreferredTimeStart {
		return false
	}
	if e.PreferredTimeEnd != "" && at > e.PreferredTimeEnd {
		return false
	}
	return true
}
