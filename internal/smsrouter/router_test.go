package smsrouter

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	pgxmock "github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/voxcare/concierge/internal/booking"
	"github.com/voxcare/concierge/internal/reminders"
	"github.com/voxcare/concierge/internal/waitlist"
)

func TestNormalizeKeyword(t *testing.T) {
	assert.Equal(t, "yes", normalizeKeyword("  YES "))
	assert.Equal(t, "yes", normalizeKeyword("YeS"))
	assert.Equal(t, "cancel", normalizeKeyword("Cancel"))
}

var reminderCols = []string{
	"id", "practice_id", "appointment_id", "patient_id", "stage", "scheduled_for", "status",
	"message_content", "response", "attempts", "sent_at", "external_message_id",
	"created_at", "updated_at",
}

var apptCols = []string{
	"id", "practice_id", "patient_id", "appointment_type_id", "date", "time", "duration_minutes",
	"status", "notes", "booked_by", "call_id", "sms_confirmation_sent",
	"idempotency_key", "created_at", "updated_at",
}

func newTestRouter(t *testing.T) (*Router, pgxmock.PgxPoolIface, pgxmock.PgxPoolIface, pgxmock.PgxPoolIface) {
	t.Helper()
	remindersMock, err := pgxmock.NewPool()
	require.NoError(t, err)
	bookingMock, err := pgxmock.NewPool()
	require.NoError(t, err)
	waitlistMock, err := pgxmock.NewPool()
	require.NoError(t, err)

	remindersWorker := reminders.NewWorker(reminders.NewStore(remindersMock), nil, nil, nil, nil, nil, nil)
	bookingEngine := booking.NewEngine(booking.NewStore(bookingMock), nil, nil, nil, nil, nil, nil, nil)
	waitlistEngine := waitlist.NewEngine(waitlist.NewStore(waitlistMock), nil, nil, nil)

	router := NewRouter(remindersWorker, bookingEngine, waitlistEngine, nil, nil)
	return router, remindersMock, bookingMock, waitlistMock
}

func TestRoute_ConfirmWordConfirmsAppointment(t *testing.T) {
	router, remindersMock, bookingMock, waitlistMock := newTestRouter(t)
	defer remindersMock.Close()
	defer bookingMock.Close()
	defer waitlistMock.Close()

	practiceID := uuid.New()
	appointmentID := uuid.New()
	reminderID := uuid.New()
	now := time.Now()

	remindersMock.ExpectQuery("SELECT (.+) FROM reminders").
		WillReturnRows(pgxmock.NewRows(reminderCols).
			AddRow(reminderID, practiceID, appointmentID, uuid.New(), "t_minus_24h", now, "sent",
				"body", "", 0, &now, "", now, now))
	remindersMock.ExpectExec("UPDATE reminders SET response").WillReturnResult(pgxmock.NewResult("UPDATE", 1))

	bookingMock.ExpectExec("UPDATE appointments SET status").WillReturnResult(pgxmock.NewResult("UPDATE", 1))
	bookingMock.ExpectQuery("SELECT (.+) FROM appointments").
		WillReturnRows(pgxmock.NewRows(apptCols).
			AddRow(appointmentID, practiceID, uuid.New(), uuid.New(), now, "10:00", 30,
				"confirmed", "", "ai", nil, false, "", now, now))

	result, err := router.Route(context.Background(), practiceID, "+15551234567", "  YES ")
	require.NoError(t, err)
	assert.Equal(t, ActionConfirmed, result.Action)

	require.NoError(t, remindersMock.ExpectationsWereMet())
	require.NoError(t, bookingMock.ExpectationsWereMet())
}

func TestRoute_NoMatchFallsBackToGenericReply(t *testing.T) {
	router, remindersMock, bookingMock, waitlistMock := newTestRouter(t)
	defer remindersMock.Close()
	defer bookingMock.Close()
	defer waitlistMock.Close()

	practiceID := uuid.New()

	remindersMock.ExpectQuery("SELECT (.+) FROM reminders").WillReturnRows(pgxmock.NewRows(reminderCols))
	waitlistMock.ExpectQuery("SELECT (.+) FROM waitlist_entries").WillReturnRows(pgxmock.NewRows([]string{
		"id", "practice_id", "patient_name", "patient_phone", "appointment_type_id",
		"preferred_date_start", "preferred_date_end", "preferred_time_start",
		"preferred_time_end", "priority", "status", "notified_at", "expires_at",
		"created_at", "updated_at",
	}))

	result, err := router.Route(context.Background(), practiceID, "+15551234567", "what's the address")
	require.NoError(t, err)
	assert.Equal(t, ActionNoMatch, result.Action)
}

func TestRoute_StopKeywordShortCircuitsBeforeReminderLookup(t *testing.T) {
	router, remindersMock, bookingMock, waitlistMock := newTestRouter(t)
	defer remindersMock.Close()
	defer bookingMock.Close()
	defer waitlistMock.Close()

	result, err := router.Route(context.Background(), uuid.New(), "+15551234567", "STOP")
	require.NoError(t, err)
	assert.Equal(t, ActionOptedOut, result.Action)

	// No reminder/waitlist queries should have been issued.
	require.NoError(t, remindersMock.ExpectationsWereMet())
	require.NoError(t, waitlistMock.ExpectationsWereMet())
}

func TestRoute_CancelKeywordIsNotTreatedAsOptOut(t *testing.T) {
	// "CANCEL" must still reach the reminder-reply handler and cancel the
	// appointment (spec §4.G), not be swallowed as an SMS opt-out.
	router, remindersMock, bookingMock, waitlistMock := newTestRouter(t)
	defer remindersMock.Close()
	defer bookingMock.Close()
	defer waitlistMock.Close()

	practiceID := uuid.New()
	appointmentID := uuid.New()
	reminderID := uuid.New()
	now := time.Now()

	remindersMock.ExpectQuery("SELECT (.+) FROM reminders").
		WillReturnRows(pgxmock.NewRows(reminderCols).
			AddRow(reminderID, practiceID, appointmentID, uuid.New(), "t_minus_24h", now, "sent",
				"body", "", 0, &now, "", now, now))
	remindersMock.ExpectExec("UPDATE reminders SET response").WillReturnResult(pgxmock.NewResult("UPDATE", 1))

	bookingMock.ExpectQuery("SELECT (.+) FROM appointments").
		WillReturnRows(pgxmock.NewRows(apptCols).
			AddRow(appointmentID, practiceID, uuid.New(), uuid.New(), now, "10:00", 30,
				"booked", "", "ai", nil, false, "", now, now))
	bookingMock.ExpectExec("UPDATE appointments SET status").WillReturnResult(pgxmock.NewResult("UPDATE", 1))
	bookingMock.ExpectExec("UPDATE appointments SET notes").WillReturnResult(pgxmock.NewResult("UPDATE", 1))

	result, err := router.Route(context.Background(), practiceID, "+15551234567", "CANCEL")
	require.NoError(t, err)
	assert.Equal(t, ActionCancelled, result.Action)
}
