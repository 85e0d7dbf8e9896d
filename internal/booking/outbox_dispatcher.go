package booking

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"

	"github.com/voxcare/concierge/internal/events"
	"github.com/voxcare/concierge/pkg/logging"
)

// Reminders schedules/cancels reminders for an appointment. OutboxDispatcher
// is the delivery-side handler that turns an outbox row committed by Book
// or Cancel back into one of these calls, on the Deliverer's own goroutine
// rather than inline with the booking transaction — grounded on the
// teacher's internal/conversation.OutboxDispatcher switch-on-event-type
// pattern.
type Reminders interface {
	ScheduleForAppointment(ctx context.Context, appt *Appointment) error
	CancelForAppointment(ctx context.Context, appointmentID uuid.UUID) error
}

// OutboxDispatcher implements events.DeliveryHandler for the two event
// types Engine emits.
type OutboxDispatcher struct {
	Store     *Store
	Reminders Reminders
	Logger    *logging.Logger
}

// NewOutboxDispatcher wires the dispatcher. logger may be nil.
func NewOutboxDispatcher(store *Store, reminders Reminders, logger *logging.Logger) *OutboxDispatcher {
	if logger == nil {
		logger = logging.Default()
	}
	return &OutboxDispatcher{Store: store, Reminders: reminders, Logger: logger}
}

// Handle decodes entry.Payload and delegates to Reminders, reloading the
// appointment by id so a delayed delivery always acts on current state.
func (d *OutboxDispatcher) Handle(ctx context.Context, entry events.OutboxEntry) error {
	var payload appointmentEventPayload
	if err := json.Unmarshal(entry.Payload, &payload); err != nil {
		return fmt.Errorf("booking: outbox dispatch: decode payload: %w", err)
	}

	switch entry.Type {
	case EventAppointmentBooked:
		appt, err := d.Store.Get(ctx, entry.PracticeID, payload.AppointmentID)
		if err != nil {
			return fmt.Errorf("booking: outbox dispatch: load appointment: %w", err)
		}
		if appt == nil {
			d.Logger.Error("booking: outbox dispatch: appointment vanished", "appointment_id", payload.AppointmentID)
			return nil
		}
		return d.Reminders.ScheduleForAppointment(ctx, appt)
	case EventAppointmentCancelled:
		return d.Reminders.CancelForAppointment(ctx, payload.AppointmentID)
	default:
		d.Logger.Error("booking: outbox dispatch: unknown event type", "type", entry.Type)
		return nil
	}
}
