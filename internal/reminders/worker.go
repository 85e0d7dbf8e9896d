package reminders

import (
	"context"
	"math"
	"time"

	"github.com/google/uuid"

	"github.com/voxcare/concierge/internal/booking"
	"github.com/voxcare/concierge/internal/errs"
	"github.com/voxcare/concierge/internal/messaging"
	"github.com/voxcare/concierge/internal/observability/metrics"
	"github.com/voxcare/concierge/pkg/logging"
)

// Appointments is the subset of booking.Store the worker needs. Satisfied
// directly by *booking.Store — reminders already depends on the booking
// package for the Appointment type, so there is no cycle risk in taking the
// concrete store instead of yet another interface.
type Appointments interface {
	Get(ctx context.Context, practiceID, id uuid.UUID) (*booking.Appointment, error)
	MarkSMSConfirmationSent(ctx context.Context, id uuid.UUID) error
	ListNoShowOlderThan(ctx context.Context, cutoff time.Time) ([]*booking.Appointment, error)
}

// Worker drives the 60s send-loop and the no-show follow-up sweep (spec §4.E).
type Worker struct {
	Store        *Store
	Scheduler    *Scheduler
	Appointments Appointments
	Practices    Practices
	Sender       messaging.Sender
	Metrics      *metrics.ReminderMetrics
	Logger       *logging.Logger

	noShowGrace time.Duration
}

// NewWorker wires the worker. noShowGrace defaults to 30 minutes per spec.
// reminderMetrics may be nil.
func NewWorker(store *Store, scheduler *Scheduler, appts Appointments, practices Practices, sender messaging.Sender, reminderMetrics *metrics.ReminderMetrics, logger *logging.Logger) *Worker {
	if logger == nil {
		logger = logging.Default()
	}
	return &Worker{
		Store: store, Scheduler: scheduler, Appointments: appts, Practices: practices,
		Sender: sender, Metrics: reminderMetrics, Logger: logger, noShowGrace: 30 * time.Minute,
	}
}

// Start runs the 60s send-loop tick plus a no-show sweep on the same
// cadence, until ctx is cancelled — grounded on rebooking.Worker/
// events.Deliverer's ticker-select pattern.
func (w *Worker) Start(ctx context.Context) {
	ticker := time.NewTicker(60 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n, err := w.Tick(ctx); err != nil {
				w.Logger.Error("reminders worker: tick failed", "error", err)
			} else if n > 0 {
				w.Logger.Info("reminders worker: processed reminders", "count", n)
			}
			if n, err := w.SweepNoShows(ctx); err != nil {
				w.Logger.Error("reminders worker: no-show sweep failed", "error", err)
			} else if n > 0 {
				w.Logger.Info("reminders worker: no-show follow-ups sent", "count", n)
			}
		}
	}
}

// Tick processes one batch of due reminders, committing per-reminder so one
// failure never re-sends its batch-mates (spec §4.E).
func (w *Worker) Tick(ctx context.Context) (int, error) {
	now := time.Now().UTC()
	due, err := w.Store.ListDue(ctx, now, 100)
	if err != nil {
		return 0, err
	}
	processed := 0
	for i := range due {
		if err := w.processOne(ctx, &due[i], now); err != nil {
			w.Logger.Error("reminders worker: process failed", "reminder_id", due[i].ID, "error", err)
			continue
		}
		processed++
	}
	return processed, nil
}

func (w *Worker) processOne(ctx context.Context, r *Reminder, now time.Time) error {
	stage := string(r.Stage)

	appt, err := w.Appointments.Get(ctx, r.PracticeID, r.AppointmentID)
	if err != nil {
		return err
	}
	if appt == nil {
		w.Metrics.ObserveSend(stage, "cancelled_missing_appointment")
		w.Metrics.ObserveAttemptsUsed(r.Attempts)
		return w.Store.MarkCancelled(ctx, r.ID)
	}

	// The no_show stage IS the reaction to a no_show status, so it is exempt
	// from the cancelled/no_show pre-send check that protects the earlier
	// stages (spec §4.E; see DESIGN.md Open Question resolution).
	if r.Stage != StageNoShow && (appt.Status == booking.StatusCancelled || appt.Status == booking.StatusNoShow) {
		w.Metrics.ObserveSend(stage, "cancelled_appointment_state")
		w.Metrics.ObserveAttemptsUsed(r.Attempts)
		return w.Store.MarkCancelled(ctx, r.ID)
	}

	if r.Attempts > 0 {
		backoff := time.Duration(math.Pow(2, float64(r.Attempts))) * time.Minute
		if now.Before(r.UpdatedAt.Add(backoff)) {
			return nil // not due yet this tick
		}
	}

	creds, err := w.Practices.Credentials(ctx, r.PracticeID)
	if err != nil || creds == nil || creds.FromNumber == "" || creds.APIKey == "" {
		w.Metrics.ObserveSend(stage, "failed_credentials")
		w.Metrics.ObserveAttemptsUsed(r.Attempts + 1)
		return w.Store.MarkFailed(ctx, r.ID)
	}
	patient, err := w.Practices.GetPatient(ctx, r.PracticeID, r.PatientID)
	if err != nil || patient == nil || patient.Phone == "" {
		w.Metrics.ObserveSend(stage, "failed_patient_phone")
		w.Metrics.ObserveAttemptsUsed(r.Attempts + 1)
		return w.Store.MarkFailed(ctx, r.ID)
	}

	externalID, sendErr := w.Sender.Send(ctx, messaging.Credentials{FromNumber: creds.FromNumber, APIKey: creds.APIKey}, patient.Phone, r.MessageContent)
	if sendErr != nil {
		if errs.KindOf(sendErr) == errs.KindValidation {
			w.Metrics.ObserveSend(stage, "failed_permanent")
			w.Metrics.ObserveAttemptsUsed(r.Attempts + 1)
			return w.Store.MarkFailed(ctx, r.ID)
		}
		if r.Attempts+1 >= 3 {
			w.Metrics.ObserveSend(stage, "failed_attempts_exhausted")
			w.Metrics.ObserveAttemptsUsed(r.Attempts + 1)
			return w.Store.MarkFailed(ctx, r.ID)
		}
		w.Metrics.ObserveSend(stage, "retry")
		return w.Store.IncrementAttempt(ctx, r.ID)
	}

	if err := w.Store.MarkSent(ctx, r.ID, externalID); err != nil {
		return err
	}
	w.Metrics.ObserveSend(stage, "sent")
	w.Metrics.ObserveAttemptsUsed(r.Attempts + 1)
	if r.Stage == StageConfirmation {
		if err := w.Appointments.MarkSMSConfirmationSent(ctx, r.AppointmentID); err != nil {
			w.Logger.Error("reminders worker: mark confirmation sent failed", "appointment_id", r.AppointmentID, "error", err)
		}
	}
	return nil
}

// SweepNoShows finds no_show appointments past the grace period with no
// outstanding no_show reminder, and inserts + sends one immediately (spec
// §4.E "No-show follow-up").
func (w *Worker) SweepNoShows(ctx context.Context) (int, error) {
	cutoff := time.Now().UTC().Add(-w.noShowGrace)
	due, err := w.Appointments.ListNoShowOlderThan(ctx, cutoff)
	if err != nil {
		return 0, err
	}
	sent := 0
	for _, appt := range due {
		exists, err := w.Store.ExistsForAppointmentStage(ctx, appt.ID, StageNoShow)
		if err != nil {
			w.Logger.Error("reminders worker: no-show exists check failed", "appointment_id", appt.ID, "error", err)
			continue
		}
		if exists {
			continue
		}
		content, err := w.Scheduler.RenderMessage(ctx, appt, StageNoShow)
		if err != nil {
			w.Logger.Error("reminders worker: no-show render failed", "appointment_id", appt.ID, "error", err)
			continue
		}
		r := &Reminder{
			PracticeID:     appt.PracticeID,
			AppointmentID:  appt.ID,
			PatientID:      appt.PatientID,
			Stage:          StageNoShow,
			ScheduledFor:   time.Now().UTC(),
			MessageContent: content,
		}
		if err := w.Store.Create(ctx, r); err != nil {
			w.Logger.Error("reminders worker: no-show create failed", "appointment_id", appt.ID, "error", err)
			continue
		}
		if err := w.processOne(ctx, r, time.Now().UTC()); err != nil {
			w.Logger.Error("reminders worker: no-show send failed", "appointment_id", appt.ID, "error", err)
			continue
		}
		sent++
	}
	return sent, nil
}

// HandleReply consumes an inbound SMS reply against the most recently sent
// reminder for (practice, phone) — spec §4.G's reminder-reply branch.
func (w *Worker) HandleReply(ctx context.Context, practiceID uuid.UUID, phone, body string) (*Reminder, error) {
	r, err := w.Store.FindActiveForPhone(ctx, practiceID, phone)
	if err != nil || r == nil {
		return r, err
	}
	if err := w.Store.RecordResponse(ctx, r.ID, body); err != nil {
		return r, err
	}
	return r, nil
}
