package webhook

import (
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/google/uuid"
	pgxmock "github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	pgx "github.com/jackc/pgx/v5"

	"github.com/voxcare/concierge/internal/calls"
	"github.com/voxcare/concierge/internal/events"
	"github.com/voxcare/concierge/internal/practice"
	"github.com/voxcare/concierge/pkg/logging"
)

var callCols = []string{
	"id", "practice_id", "external_call_id", "direction", "caller_phone", "caller_name",
	"patient_id", "appointment_id", "status", "started_at", "ended_at", "duration_s",
	"transcript", "summary", "recording_url", "cost",
	"outcome", "structured_data", "caller_intent", "caller_sentiment",
	"success_evaluation", "language", "callback_needed", "callback_completed",
	"callback_notes", "created_at", "updated_at",
}

func callRow(id, practiceID uuid.UUID, externalCallID string, now time.Time) []any {
	return []any{
		id, practiceID, externalCallID, "inbound", "+15551234567", "Jane Doe",
		nil, nil, "in-progress", &now, nil, nil,
		"", "", "", nil,
		"", []byte("{}"), "", "",
		"", "", false, false,
		"", now, now,
	}
}

func newTestDispatcher(callsMock, practiceMock pgxmock.PgxPoolIface) *Dispatcher {
	return NewDispatcher(DispatcherConfig{
		Calls:    calls.NewStore(callsMock),
		Practice: practice.NewStore(practiceMock),
	})
}

func TestServeHTTP_BodyTooLargeReturns413(t *testing.T) {
	callsMock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer callsMock.Close()
	practiceMock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer practiceMock.Close()

	d := newTestDispatcher(callsMock, practiceMock)

	oversized := bytes.Repeat([]byte("a"), MaxBodyBytes+10)
	req := httptest.NewRequest(http.MethodPost, "/webhooks/voice", bytes.NewReader(oversized))
	rec := httptest.NewRecorder()

	d.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusRequestEntityTooLarge, rec.Code)
}

func TestServeHTTP_BadSignatureSuppressedWith200(t *testing.T) {
	callsMock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer callsMock.Close()
	practiceMock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer practiceMock.Close()

	d := newTestDispatcher(callsMock, practiceMock)
	d.Secret = "shh"

	body := []byte(`{"message":{"type":"hang","call":{"id":"call-1"}}}`)
	req := httptest.NewRequest(http.MethodPost, "/webhooks/voice", bytes.NewReader(body))
	req.Header.Set("X-Vapi-Signature", "deadbeef")
	rec := httptest.NewRecorder()

	d.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Empty(t, rec.Body.Bytes())
}

func TestServeHTTP_UnresolvedTenantSwallowedWith200(t *testing.T) {
	callsMock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer callsMock.Close()
	practiceMock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer practiceMock.Close()

	callsMock.ExpectQuery("SELECT (.+) FROM calls").WillReturnRows(pgxmock.NewRows(callCols))
	practiceMock.ExpectQuery("SELECT (.+) FROM practices").WillReturnError(assertErr("not found"))

	d := newTestDispatcher(callsMock, practiceMock)

	body := []byte(`{"message":{"type":"status-update","call":{"id":"unknown-call","phoneNumber":{"number":"+15559990000"}},"status":"ringing"}}`)
	req := httptest.NewRequest(http.MethodPost, "/webhooks/voice", bytes.NewReader(body))
	rec := httptest.NewRecorder()

	d.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Empty(t, rec.Body.Bytes())
}

func TestServeHTTP_StatusUpdateResolvesViaExistingCall(t *testing.T) {
	callsMock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer callsMock.Close()
	practiceMock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer practiceMock.Close()

	practiceID := uuid.New()
	callID := uuid.New()
	now := time.Now().UTC()

	callsMock.ExpectQuery("SELECT (.+) FROM calls").
		WillReturnRows(pgxmock.NewRows(callCols).AddRow(callRow(callID, practiceID, "call-1", now)...))
	callsMock.ExpectQuery("INSERT INTO calls").WillReturnRows(pgxmock.NewRows([]string{"id"}).AddRow(callID))
	callsMock.ExpectQuery("SELECT (.+) FROM calls").
		WillReturnRows(pgxmock.NewRows(callCols).AddRow(callRow(callID, practiceID, "call-1", now)...))

	d := newTestDispatcher(callsMock, practiceMock)

	body := []byte(`{"message":{"type":"status-update","call":{"id":"call-1"},"status":"ringing"}}`)
	req := httptest.NewRequest(http.MethodPost, "/webhooks/voice", bytes.NewReader(body))
	rec := httptest.NewRecorder()

	d.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
	require.NoError(t, callsMock.ExpectationsWereMet())
}

func TestServeHTTP_EndOfCallReportFlagsCallbackOnShortDuration(t *testing.T) {
	callsMock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer callsMock.Close()
	practiceMock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer practiceMock.Close()

	practiceID := uuid.New()
	callID := uuid.New()
	now := time.Now().UTC()

	callsMock.ExpectQuery("SELECT (.+) FROM calls").
		WillReturnRows(pgxmock.NewRows(callCols).AddRow(callRow(callID, practiceID, "call-2", now)...))
	callsMock.ExpectQuery("SELECT (.+) FROM calls").
		WillReturnRows(pgxmock.NewRows(callCols).AddRow(callRow(callID, practiceID, "call-2", now)...))
	callsMock.ExpectExec("UPDATE calls SET").WillReturnResult(pgxmock.NewResult("UPDATE", 1))
	callsMock.ExpectQuery("SELECT (.+) FROM calls").
		WillReturnRows(pgxmock.NewRows(callCols).AddRow(callRow(callID, practiceID, "call-2", now)...))

	d := newTestDispatcher(callsMock, practiceMock)

	body := []byte(`{"message":{"type":"end-of-call-report","call":{"id":"call-2"},"durationSeconds":8,"endedReason":"customer-ended-call"}}`)
	req := httptest.NewRequest(http.MethodPost, "/webhooks/voice", bytes.NewReader(body))
	rec := httptest.NewRecorder()

	d.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
	require.NoError(t, callsMock.ExpectationsWereMet())
}

func TestResolveTenant_FallsBackToDialedNumber(t *testing.T) {
	callsMock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer callsMock.Close()
	practiceMock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer practiceMock.Close()

	practiceID := uuid.New()
	now := time.Now().UTC()

	callsMock.ExpectQuery("SELECT (.+) FROM calls").WillReturnRows(pgxmock.NewRows(callCols))
	practiceMock.ExpectQuery("SELECT (.+) FROM practices").
		WillReturnRows(pgxmock.NewRows([]string{"id", "name", "timezone", "phone", "address", "created_at", "updated_at"}).
			AddRow(practiceID, "Test Practice", "America/New_York", "+15559990000", "", now, now))

	d := newTestDispatcher(callsMock, practiceMock)
	msg := Message{Call: Call{ID: "new-call", PhoneNumber: PhoneNumberRef{Number: "+15559990000"}}}

	id, ok := d.resolveTenant(context.Background(), msg)
	require.True(t, ok)
	assert.Equal(t, practiceID, id)
}

func TestHandleStatusUpdate_SuppressesRedelivery(t *testing.T) {
	callsMock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer callsMock.Close()
	eventsMock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer eventsMock.Close()

	practiceID := uuid.New()
	callID := uuid.New()
	now := time.Now().UTC()

	callsMock.ExpectQuery("SELECT (.+) FROM calls").
		WillReturnRows(pgxmock.NewRows(callCols).AddRow(callRow(callID, practiceID, "call-dup", now)...))
	callsMock.ExpectQuery("INSERT INTO calls").WillReturnRows(pgxmock.NewRows([]string{"id"}).AddRow(callID))

	d := &Dispatcher{
		Calls:     calls.NewStore(callsMock),
		Processed: events.NewProcessedStore(eventsMock),
		Logger:    logging.Default(),
	}

	msg := Message{Type: "status-update", Call: Call{ID: "call-dup"}, Status: "ringing"}

	eventsMock.ExpectQuery("SELECT 1 FROM processed_events").WillReturnError(pgx.ErrNoRows)
	eventsMock.ExpectExec("INSERT INTO processed_events").WillReturnResult(pgxmock.NewResult("INSERT", 1))
	d.handleStatusUpdate(context.Background(), practiceID, msg)

	eventsMock.ExpectQuery("SELECT 1 FROM processed_events").WillReturnRows(pgxmock.NewRows([]string{"exists"}).AddRow(1))
	d.handleStatusUpdate(context.Background(), practiceID, msg)

	require.NoError(t, callsMock.ExpectationsWereMet())
	require.NoError(t, eventsMock.ExpectationsWereMet())
}

type assertErr string

func (e assertErr) Error() string { return string(e) }

func TestParseTimestamp(t *testing.T) {
	_, ok := parseTimestamp("")
	assert.False(t, ok)
	_, ok = parseTimestamp("not-a-time")
	assert.False(t, ok)
	tm, ok := parseTimestamp("2025-03-15T09:00:00Z")
	require.True(t, ok)
	assert.Equal(t, 2025, tm.Year())
}
