package booking

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/google/uuid"
	pgxmock "github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/voxcare/concierge/internal/events"
)

type fakeDispatcherReminders struct {
	scheduled []*Appointment
	cancelled []uuid.UUID
}

func (f *fakeDispatcherReminders) ScheduleForAppointment(ctx context.Context, appt *Appointment) error {
	f.scheduled = append(f.scheduled, appt)
	return nil
}

func (f *fakeDispatcherReminders) CancelForAppointment(ctx context.Context, appointmentID uuid.UUID) error {
	f.cancelled = append(f.cancelled, appointmentID)
	return nil
}

func TestOutboxDispatcher_HandleBooked(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	store := NewStore(mock)
	reminders := &fakeDispatcherReminders{}
	dispatcher := NewOutboxDispatcher(store, reminders, nil)

	practiceID := uuid.New()
	appointmentID := uuid.New()
	payload, err := json.Marshal(appointmentEventPayload{AppointmentID: appointmentID})
	require.NoError(t, err)

	now := time.Now()
	mock.ExpectQuery("SELECT id, practice_id").WithArgs(pgxmock.AnyArg(), pgxmock.AnyArg()).
		WillReturnRows(pgxmock.NewRows([]string{
			"id", "practice_id", "patient_id", "appointment_type_id", "date", "time", "duration_minutes",
			"status", "notes", "booked_by", "call_id", "sms_confirmation_sent", "idempotency_key",
			"created_at", "updated_at",
		}).AddRow(appointmentID, practiceID, uuid.New(), uuid.New(), now, "09:00", 30,
			"booked", "", "ai", nil, false, "", now, now))

	err = dispatcher.Handle(context.Background(), events.OutboxEntry{
		ID:         uuid.New(),
		PracticeID: practiceID,
		Type:       EventAppointmentBooked,
		Payload:    payload,
		CreatedAt:  now,
	})
	require.NoError(t, err)
	require.Len(t, reminders.scheduled, 1)
	assert.Equal(t, appointmentID, reminders.scheduled[0].ID)
}

func TestOutboxDispatcher_HandleCancelled(t *testing.T) {
	store := NewStore(mustNewMockPool(t))
	reminders := &fakeDispatcherReminders{}
	dispatcher := NewOutboxDispatcher(store, reminders, nil)

	appointmentID := uuid.New()
	payload, err := json.Marshal(appointmentEventPayload{AppointmentID: appointmentID})
	require.NoError(t, err)

	err = dispatcher.Handle(context.Background(), events.OutboxEntry{
		ID:         uuid.New(),
		PracticeID: uuid.New(),
		Type:       EventAppointmentCancelled,
		Payload:    payload,
	})
	require.NoError(t, err)
	require.Len(t, reminders.cancelled, 1)
	assert.Equal(t, appointmentID, reminders.cancelled[0])
}

func TestOutboxDispatcher_UnknownType(t *testing.T) {
	store := NewStore(mustNewMockPool(t))
	dispatcher := NewOutboxDispatcher(store, &fakeDispatcherReminders{}, nil)

	err := dispatcher.Handle(context.Background(), events.OutboxEntry{
		Type:    "something.else.v1",
		Payload: []byte(`{}`),
	})
	require.NoError(t, err)
}

func mustNewMockPool(t *testing.T) pgxmock.PgxPoolIface {
	t.Helper()
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	t.Cleanup(func() { mock.Close() })
	return mock
}
