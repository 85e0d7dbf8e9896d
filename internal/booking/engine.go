package booking

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/voxcare/concierge/internal/errs"
	"github.com/voxcare/concierge/internal/events"
	"github.com/voxcare/concierge/internal/observability/metrics"
	"github.com/voxcare/concierge/internal/slots"
	"github.com/voxcare/concierge/pkg/logging"
)

// EventAppointmentBooked and EventAppointmentCancelled are the outbox event
// types this package emits; internal/booking's OutboxDispatcher is the only
// consumer today but the type string, not the Go type, is the wire contract
// (spec §9 — cascades are delivered out-of-band of the triggering commit).
const (
	EventAppointmentBooked    = "appointment.booked.v1"
	EventAppointmentCancelled = "appointment.cancelled.v1"
)

// appointmentEventPayload is the outbox payload shared by both event types:
// the dispatcher reloads the appointment by id rather than carrying a full
// snapshot, so it always acts on current state even if delivery lags.
type appointmentEventPayload struct {
	AppointmentID uuid.UUID `json:"appointment_id"`
}

// AppointmentTypeInfo is the subset of practice.AppointmentType the engine needs.
type AppointmentTypeInfo struct {
	ID              uuid.UUID
	PracticeID      uuid.UUID
	IsActive        bool
	DurationMinutes int
}

// AppointmentTypes resolves appointment types by id.
type AppointmentTypes interface {
	GetAppointmentTypeByID(ctx context.Context, practiceID, typeID uuid.UUID) (*AppointmentTypeInfo, error)
}

// PolicyProvider resolves the practice's booking policy (slot duration,
// overbooking cap, horizon, timezone).
type PolicyProvider interface {
	Policy(ctx context.Context, practiceID uuid.UUID) (slots.Policy, string, int, error) // policy, tz, horizonDays
}

// Outbox appends a domain event to the transactional outbox, backing the
// reminder schedule/cancel cascade (spec §4.E) so it commits atomically
// with the appointment write it describes instead of running as an
// in-process best-effort call. internal/booking.OutboxDispatcher is the
// delivery-side handler that turns these back into Reminders calls.
type Outbox interface {
	Insert(ctx context.Context, exec events.Execer, practiceID uuid.UUID, eventType string, payload any) (uuid.UUID, error)
}

// WaitlistNotifier runs the §4.F on_cancel match. Unlike the reminder
// cascade this stays a synchronous call: its notified count is part of the
// cancel_appointment tool response (spec §4.I tool #6), so it cannot be
// deferred to an async drain.
type WaitlistNotifier interface {
	OnCancel(ctx context.Context, practiceID, appointmentTypeID uuid.UUID, date time.Time, at string) (notified int, err error)
}

// Engine implements spec §4.D's book/cancel/reschedule/confirm/
// find_next_available operations.
type Engine struct {
	Store    *Store
	Slots    *slots.Generator
	Types    AppointmentTypes
	Policies PolicyProvider
	Outbox   Outbox
	Waitlist WaitlistNotifier
	Metrics  *metrics.BookingMetrics
	Logger   *logging.Logger
}

// NewEngine wires all dependencies. metrics may be nil.
func NewEngine(store *Store, generator *slots.Generator, types AppointmentTypes, policies PolicyProvider,
	outbox Outbox, waitlist WaitlistNotifier, bookingMetrics *metrics.BookingMetrics, logger *logging.Logger) *Engine {
	if logger == nil {
		logger = logging.Default()
	}
	return &Engine{Store: store, Slots: generator, Types: types, Policies: policies,
		Outbox: outbox, Waitlist: waitlist, Metrics: bookingMetrics, Logger: logger}
}

// BookInput is the book() request (spec §4.D).
type BookInput struct {
	PracticeID        uuid.UUID
	PatientID         uuid.UUID
	AppointmentTypeID uuid.UUID
	Date              time.Time
	Time              string
	BookedBy          BookedBy
	CallID            *uuid.UUID
	IdempotencyKey    string
}

// Book validates and inserts a new appointment within a serializable
// transaction. The appointment.booked.v1 outbox row is written in the same
// transaction, so the reminder/confirmation cascade it drives is durable
// the moment Book returns, even though delivery itself happens later via
// the Deliverer's async drain.
func (e *Engine) Book(ctx context.Context, in BookInput) (*Appointment, error) {
	if in.IdempotencyKey != "" {
		existing, err := e.Store.FindByIdempotencyKey(ctx, in.PracticeID, in.PatientID, in.Date, in.Time, in.CallID, in.IdempotencyKey)
		if err != nil {
			return nil, fmt.Errorf("booking: book: idempotency lookup: %w", err)
		}
		if existing != nil {
			return existing, nil
		}
	}

	typ, err := e.Types.GetAppointmentTypeByID(ctx, in.PracticeID, in.AppointmentTypeID)
	if err != nil {
		return nil, errs.New(errs.KindNotFound, "booking.Book", err)
	}
	if typ == nil || typ.PracticeID != in.PracticeID {
		return nil, errs.New(errs.KindNotFound, "booking.Book", errors.New("appointment type not found"))
	}
	if !typ.IsActive {
		return nil, errs.New(errs.KindValidation, "booking.Book", errors.New("appointment type inactive"))
	}

	policy, tz, horizonDays, err := e.Policies.Policy(ctx, in.PracticeID)
	if err != nil {
		return nil, fmt.Errorf("booking: book: policy: %w", err)
	}
	if err := e.validateSlotInHorizon(ctx, in.PracticeID, tz, in.Date, horizonDays); err != nil {
		return nil, err
	}

	typeDuration := slots.AppointmentTypeDuration{DurationMinutes: typ.DurationMinutes, Found: typ.DurationMinutes > 0}
	generated, err := e.Slots.Slots(ctx, in.PracticeID, tz, in.Date, policy, typeDuration)
	if err != nil {
		return nil, fmt.Errorf("booking: book: generate slots: %w", err)
	}
	found := false
	for i := range generated {
		if generated[i].Time == in.Time {
			found = true
			break
		}
	}
	if !found {
		return nil, errs.New(errs.KindValidation, "booking.Book", errors.New("time is not a generated slot"))
	}

	appt := &Appointment{
		PracticeID:        in.PracticeID,
		PatientID:         in.PatientID,
		AppointmentTypeID: in.AppointmentTypeID,
		Date:              in.Date,
		Time:              in.Time,
		DurationMinutes:   typeDuration.DurationMinutes,
		BookedBy:          in.BookedBy,
		CallID:            in.CallID,
		IdempotencyKey:    in.IdempotencyKey,
		Status:            StatusBooked,
	}
	if appt.DurationMinutes <= 0 {
		appt.DurationMinutes = policy.SlotDurationMinutes
	}

	capLimit := 1
	if policy.AllowOverbooking {
		capLimit = policy.MaxOverbookingPerSlot
		if capLimit < 1 {
			capLimit = 1
		}
	}

	const maxAttempts = 3
	var txErr error
	for attempt := 0; attempt < maxAttempts; attempt++ {
		txErr = e.Store.WithTx(ctx, func(ctx context.Context, q querier) error {
			count, err := e.Store.CountNonCancelled(ctx, q, in.PracticeID, in.Date, in.Time)
			if err != nil {
				return err
			}
			if count >= capLimit {
				return errs.New(errs.KindConflictFull, "booking.Book", errors.New("slot at capacity"))
			}
			if err := e.Store.Insert(ctx, q, appt); err != nil {
				return err
			}
			if e.Outbox != nil {
				if _, err := e.Outbox.Insert(ctx, q, appt.PracticeID, EventAppointmentBooked, appointmentEventPayload{AppointmentID: appt.ID}); err != nil {
					return fmt.Errorf("booking: book: outbox insert: %w", err)
				}
			}
			return nil
		})
		if txErr == nil || errs.KindOf(txErr) == errs.KindConflictFull {
			break
		}
		if !isSerializationFailure(txErr) {
			break
		}
	}
	if txErr != nil {
		e.Metrics.ObserveOperation("book", string(errs.KindOf(txErr)))
		return nil, txErr
	}
	e.Metrics.ObserveOperation("book", "ok")

	// Patient.is_new flip is handled by the caller (tool/find-or-create
	// layer, which owns practice.Store); Engine itself stays scoped to the
	// appointments table. The outbox row committed above is what actually
	// schedules the confirmation reminder, once the Deliverer drains it.
	return appt, nil
}

func (e *Engine) validateSlotInHorizon(ctx context.Context, practiceID uuid.UUID, tz string, date time.Time, horizonDays int) error {
	now := time.Now()
	loc, err := time.LoadLocation(tz)
	if err != nil {
		loc = time.UTC
	}
	today := now.In(loc)
	todayMidnight := time.Date(today.Year(), today.Month(), today.Day(), 0, 0, 0, 0, loc)
	target := time.Date(date.Year(), date.Month(), date.Day(), 0, 0, 0, 0, loc)
	if target.Before(todayMidnight) {
		return errs.New(errs.KindValidation, "booking.validateSlotInHorizon", errors.New("date is in the past"))
	}
	horizon := todayMidnight.AddDate(0, 0, horizonDays)
	if target.After(horizon) {
		return errs.New(errs.KindValidation, "booking.validateSlotInHorizon", errors.New("date beyond booking horizon"))
	}
	return nil
}

// Cancel transitions an appointment to cancelled. Cascades (reminder
// cancellation, waitlist match) are best-effort and logged, never rolling
// back the cancellation (spec §4.D, §9). The returned int is the number of
// waitlist entries notified of the newly opened slot (spec §4.F), 0 if no
// Waitlist is wired or the cascade failed.
func (e *Engine) Cancel(ctx context.Context, practiceID, appointmentID uuid.UUID, reason string) (*Appointment, int, error) {
	appt, err := e.Store.Get(ctx, practiceID, appointmentID)
	if err != nil {
		return nil, 0, fmt.Errorf("booking: cancel: load: %w", err)
	}
	if appt == nil {
		return nil, 0, errs.New(errs.KindNotFound, "booking.Cancel", errors.New("appointment not found"))
	}
	if appt.Status == StatusCancelled {
		return nil, 0, errs.New(errs.KindValidation, "booking.Cancel", errors.New("already cancelled"))
	}

	ok, err := e.Store.UpdateStatus(ctx, e.Store.db, appointmentID, []Status{StatusBooked, StatusConfirmed, StatusNoShow}, StatusCancelled)
	if err != nil {
		return nil, 0, fmt.Errorf("booking: cancel: update: %w", err)
	}
	if !ok {
		e.Metrics.ObserveOperation("cancel", string(errs.KindBadTransition))
		return nil, 0, errs.New(errs.KindBadTransition, "booking.Cancel", errors.New("cannot cancel from current state"))
	}
	e.Metrics.ObserveOperation("cancel", "ok")
	if reason != "" {
		appt.Notes = appendNote(appt.Notes, reason)
		_, _ = e.Store.db.Exec(ctx, `UPDATE appointments SET notes = $1, updated_at = $2 WHERE id = $3`, appt.Notes, time.Now().UTC(), appointmentID)
	}
	appt.Status = StatusCancelled

	if e.Outbox != nil {
		if _, err := e.Outbox.Insert(ctx, e.Store.db, practiceID, EventAppointmentCancelled, appointmentEventPayload{AppointmentID: appointmentID}); err != nil {
			e.Logger.Error("booking: cascade reminder cancel outbox insert failed", "appointment_id", appointmentID, "error", err)
		}
	}
	notified := 0
	if e.Waitlist != nil {
		notified, err = e.Waitlist.OnCancel(ctx, practiceID, appt.AppointmentTypeID, appt.Date, appt.Time)
		if err != nil {
			e.Logger.Error("booking: waitlist on_cancel failed", "appointment_id", appointmentID, "error", err)
			notified = 0
		}
	}
	return appt, notified, nil
}

func appendNote(existing, addition string) string {
	if existing == "" {
		return addition
	}
	return existing + "; " + addition
}

// Confirm transitions booked -> confirmed only.
func (e *Engine) Confirm(ctx context.Context, practiceID, appointmentID uuid.UUID) (*Appointment, error) {
	ok, err := e.Store.UpdateStatus(ctx, e.Store.db, appointmentID, []Status{StatusBooked}, StatusConfirmed)
	if err != nil {
		return nil, fmt.Errorf("booking: confirm: %w", err)
	}
	if !ok {
		e.Metrics.ObserveOperation("confirm", string(errs.KindBadTransition))
		return nil, errs.New(errs.KindBadTransition, "booking.Confirm", errors.New("only booked appointments can be confirmed"))
	}
	e.Metrics.ObserveOperation("confirm", "ok")
	return e.Store.Get(ctx, practiceID, appointmentID)
}

// RescheduleInput is the reschedule() request.
type RescheduleInput struct {
	PracticeID uuid.UUID
	AppointmentID uuid.UUID
	NewDate    time.Time
	NewTime    string
	Notes      string
}

// Reschedule implements cancel(old) + book(new) as one atomic-in-effect unit
// per spec §4.D: if the new slot is unavailable, neither side changes.
func (e *Engine) Reschedule(ctx context.Context, in RescheduleInput) (*Appointment, error) {
	old, err := e.Store.Get(ctx, in.PracticeID, in.AppointmentID)
	if err != nil {
		return nil, fmt.Errorf("booking: reschedule: load: %w", err)
	}
	if old == nil {
		return nil, errs.New(errs.KindNotFound, "booking.Reschedule", errors.New("appointment not found"))
	}
	if old.Status == StatusCancelled {
		return nil, errs.New(errs.KindValidation, "booking.Reschedule", errors.New("source appointment is cancelled"))
	}

	// Attempt the new booking first; if it fails, the source is untouched.
	newAppt, err := e.Book(ctx, BookInput{
		PracticeID:        in.PracticeID,
		PatientID:         old.PatientID,
		AppointmentTypeID: old.AppointmentTypeID,
		Date:              in.NewDate,
		Time:              in.NewTime,
		BookedBy:          old.BookedBy,
		CallID:            old.CallID,
	})
	if err != nil {
		return nil, err
	}

	reason := fmt.Sprintf("Rescheduled to %s %s", in.NewDate.Format("2006-01-02"), in.NewTime)
	if _, _, err := e.Cancel(ctx, in.PracticeID, in.AppointmentID, reason); err != nil {
		// Best effort has already placed the new booking; surface the error so
		// the caller can reconcile, but the new appointment stands per spec's
		// cancel-then-book semantics being best described as two linked ops.
		e.Logger.Error("booking: reschedule: cancel old failed", "old_id", in.AppointmentID, "new_id", newAppt.ID, "error", err)
		return nil, fmt.Errorf("booking: reschedule: cancel old: %w", err)
	}
	if in.Notes != "" {
		newAppt.Notes = in.Notes
		_, _ = e.Store.db.Exec(ctx, `UPDATE appointments SET notes = $1, updated_at = $2 WHERE id = $3`, in.Notes, time.Now().UTC(), newAppt.ID)
	}
	return newAppt, nil
}

// NextAvailable is the find_next_available() result.
type NextAvailable struct {
	Date time.Time
	Time string
}

// FindNextAvailable searches forward up to horizonDays for the first slot,
// or the slot closest to preferredTime on the first day with any
// availability (spec §4.D).
func (e *Engine) FindNextAvailable(ctx context.Context, practiceID uuid.UUID, typeID *uuid.UUID, fromDate time.Time, preferredTime string) (*NextAvailable, error) {
	policy, tz, horizonDays, err := e.Policies.Policy(ctx, practiceID)
	if err != nil {
		return nil, fmt.Errorf("booking: find next available: policy: %w", err)
	}

	var typeDuration slots.AppointmentTypeDuration
	if typeID != nil {
		typ, err := e.Types.GetAppointmentTypeByID(ctx, practiceID, *typeID)
		if err != nil {
			return nil, fmt.Errorf("booking: find next available: type lookup: %w", err)
		}
		if typ != nil {
			typeDuration = slots.AppointmentTypeDuration{DurationMinutes: typ.DurationMinutes, Found: typ.DurationMinutes > 0}
		}
	}

	for i := 0; i <= horizonDays; i++ {
		date := fromDate.AddDate(0, 0, i)
		generated, err := e.Slots.Slots(ctx, practiceID, tz, date, policy, typeDuration)
		if err != nil {
			return nil, fmt.Errorf("booking: find next available: generate slots: %w", err)
		}
		var available []slots.Slot
		for _, s := range generated {
			if s.Available {
				available = append(available, s)
			}
		}
		if len(available) == 0 {
			continue
		}
		if preferredTime == "" {
			return &NextAvailable{Date: date, Time: available[0].Time}, nil
		}
		best := closestByWallClock(available, preferredTime)
		return &NextAvailable{Date: date, Time: best}, nil
	}
	return nil, nil
}

func closestByWallClock(candidates []slots.Slot, preferred string) string {
	pref, err := time.Parse("15:04", preferred)
	if err != nil {
		return candidates[0].Time
	}
	prefMinutes := pref.Hour()*60 + pref.Minute()
	best := candidates[0].Time
	bestDiff := -1
	for _, c := range candidates {
		t, err := time.Parse("15:04", c.Time)
		if err != nil {
			continue
		}
		diff := abs(t.Hour()*60 + t.Minute() - prefMinutes)
		if bestDiff == -1 || diff < bestDiff {
			bestDiff = diff
			best = c.Time
		}
	}
	return best
}

func abs(v int) int {
	if v < 0 {
		return -v
	}
	return v
}

func isSerializationFailure(err error) bool {
	// Postgres serialization_failure is SQLSTATE 40001; pgconn surfaces it via
	// *pgconn.PgError but we keep this check string-based to stay agnostic of
	// the exact driver error wrapping depth used by tests/mocks.
	return err != nil && strings.Contains(err.Error(), "40001")
}
