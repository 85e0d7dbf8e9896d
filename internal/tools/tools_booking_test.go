package tools

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	pgxmock "github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/voxcare/concierge/internal/booking"
)

type fakeWaitlistNotifier struct{ notified int }

func (f *fakeWaitlistNotifier) OnCancel(ctx context.Context, practiceID, appointmentTypeID uuid.UUID, date time.Time, at string) (int, error) {
	return f.notified, nil
}

func TestCancelAppointment_ReportsWaitlistNotifiedCount(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	practiceID := uuid.New()
	patientID := uuid.New()
	appointmentID := uuid.New()
	now := time.Now()

	store := booking.NewStore(mock)
	waitlistFake := &fakeWaitlistNotifier{notified: 2}
	engine := booking.NewEngine(store, nil, nil, nil, nil, waitlistFake, nil, nil)

	mock.ExpectQuery("SELECT id, practice_id").
		WillReturnRows(pgxmock.NewRows([]string{
			"id", "practice_id", "patient_id", "appointment_type_id", "date", "time", "duration_minutes",
			"status", "notes", "booked_by", "call_id", "sms_confirmation_sent", "idempotency_key",
			"created_at", "updated_at",
		}).AddRow(appointmentID, practiceID, patientID, uuid.New(), now, "09:00", 30,
			"booked", "", "ai", nil, false, "", now, now))
	mock.ExpectQuery("SELECT id, practice_id").
		WillReturnRows(pgxmock.NewRows([]string{
			"id", "practice_id", "patient_id", "appointment_type_id", "date", "time", "duration_minutes",
			"status", "notes", "booked_by", "call_id", "sms_confirmation_sent", "idempotency_key",
			"created_at", "updated_at",
		}).AddRow(appointmentID, practiceID, patientID, uuid.New(), now, "09:00", 30,
			"booked", "", "ai", nil, false, "", now, now))
	mock.ExpectExec("UPDATE appointments SET status").WillReturnResult(pgxmock.NewResult("UPDATE", 1))

	reg := NewRegistry(&Deps{Booking: engine})
	result, err := reg.Invoke(context.Background(), "cancel_appointment", practiceID, "", map[string]any{
		"patient_id": patientID.String(),
	})
	require.NoError(t, err)
	m, ok := result.(map[string]any)
	require.True(t, ok)
	assert.Equal(t, true, m["cancelled"])
	assert.Equal(t, 2, m["waitlist_notified"])
}
