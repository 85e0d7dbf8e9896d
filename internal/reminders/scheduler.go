package reminders

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/voxcare/concierge/internal/booking"
	"github.com/voxcare/concierge/pkg/logging"
)

// PracticeInfo is the subset of Practice the scheduler needs.
type PracticeInfo struct {
	Name     string
	Timezone string
	Phone    string
}

// PatientInfo is the subset of Patient the scheduler/worker needs.
type PatientInfo struct {
	ID                 uuid.UUID
	FirstName          string
	LastName           string
	Phone              string
	LanguagePreference string
}

// Credentials is the tenant's SMS sending identity.
type Credentials struct {
	FromNumber string
	APIKey     string
}

// Practices resolves everything the reminder pipeline needs from the
// practice domain, kept as an interface so this package never imports
// internal/practice directly (practice.RemindersAdapter implements this).
type Practices interface {
	GetPractice(ctx context.Context, practiceID uuid.UUID) (*PracticeInfo, error)
	GetPatient(ctx context.Context, practiceID, patientID uuid.UUID) (*PatientInfo, error)
	Templates(ctx context.Context, practiceID uuid.UUID) (map[string]Templates, error)
	Credentials(ctx context.Context, practiceID uuid.UUID) (*Credentials, error)
}

// Scheduler creates the reminder rows a booking triggers (spec §4.E "On booking").
type Scheduler struct {
	Store     *Store
	Practices Practices
	Logger    *logging.Logger
}

// NewScheduler wires the scheduler.
func NewScheduler(store *Store, practices Practices, logger *logging.Logger) *Scheduler {
	if logger == nil {
		logger = logging.Default()
	}
	return &Scheduler{Store: store, Practices: practices, Logger: logger}
}

// ScheduleForAppointment implements booking.Reminders, creating confirmation,
// T-24h and T-2h reminder rows. Stages already in the past (any but
// confirmation) are skipped.
func (s *Scheduler) ScheduleForAppointment(ctx context.Context, appt *booking.Appointment) error {
	practiceInfo, err := s.Practices.GetPractice(ctx, appt.PracticeID)
	if err != nil {
		return fmt.Errorf("reminders: schedule: practice lookup: %w", err)
	}
	instant, ok := appt.Instant(practiceInfo.Timezone)
	if !ok {
		return fmt.Errorf("reminders: schedule: invalid appointment time %q", appt.Time)
	}

	now := time.Now().UTC()
	stages := []struct {
		stage Stage
		at    time.Time
	}{
		{StageConfirmation, now},
		{StageTMinus24h, instant.Add(-24 * time.Hour)},
		{StageTMinus2h, instant.Add(-2 * time.Hour)},
	}

	for _, st := range stages {
		if st.stage != StageConfirmation && st.at.Before(now) {
			continue
		}
		content, err := s.RenderMessage(ctx, appt, st.stage)
		if err != nil {
			s.Logger.Error("reminders: render failed", "appointment_id", appt.ID, "stage", st.stage, "error", err)
			continue
		}
		r := &Reminder{
			PracticeID:     appt.PracticeID,
			AppointmentID:  appt.ID,
			PatientID:      appt.PatientID,
			Stage:          st.stage,
			ScheduledFor:   st.at,
			MessageContent: content,
		}
		if err := s.Store.Create(ctx, r); err != nil {
			return fmt.Errorf("reminders: schedule: create %s: %w", st.stage, err)
		}
	}
	return nil
}

// CancelForAppointment implements booking.Reminders.
func (s *Scheduler) CancelForAppointment(ctx context.Context, appointmentID uuid.UUID) error {
	return s.Store.CancelForAppointment(ctx, appointmentID)
}

// RenderMessage builds the stage's message content for an appointment,
// shared by scheduling (above) and the worker's no-show follow-up sweep.
func (s *Scheduler) RenderMessage(ctx context.Context, appt *booking.Appointment, stage Stage) (string, error) {
	patient, err := s.Practices.GetPatient(ctx, appt.PracticeID, appt.PatientID)
	if err != nil {
		return "", fmt.Errorf("patient lookup: %w", err)
	}
	practiceInfo, err := s.Practices.GetPractice(ctx, appt.PracticeID)
	if err != nil {
		return "", fmt.Errorf("practice lookup: %w", err)
	}
	byLanguage, err := s.Practices.Templates(ctx, appt.PracticeID)
	if err != nil {
		return "", fmt.Errorf("templates lookup: %w", err)
	}
	tmpl := TemplateFor(byLanguage, patient.LanguagePreference, stage)
	fields := map[string]string{
		"patient_name":  patient.FirstName,
		"practice_name": practiceInfo.Name,
		"date":          appt.Date.Format("2006-01-02"),
		"time":          appt.Time,
		"phone":         practiceInfo.Phone,
	}
	return Render(tmpl, fields), nil
}
