package calls

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	pgxmock "github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var callCols = []string{
	"id", "practice_id", "external_call_id", "direction", "caller_phone", "caller_name",
	"patient_id", "appointment_id", "status", "started_at", "ended_at", "duration_s",
	"transcript", "summary", "recording_url", "cost",
	"outcome", "structured_data", "caller_intent", "caller_sentiment",
	"success_evaluation", "language", "callback_needed", "callback_completed",
	"callback_notes", "created_at", "updated_at",
}

func sampleRow(id, practiceID uuid.UUID, externalCallID string, status Status, callbackNeeded bool, now time.Time) []any {
	return []any{
		id, practiceID, externalCallID, string(DirectionInbound), "+15551234567", "Jane Doe",
		nil, nil, string(status), &now, nil, nil,
		"", "", "", nil,
		"", []byte("{}"), "", "",
		"", "", callbackNeeded, false,
		"", now, now,
	}
}

func TestCreateOrUpdate_InsertsThenIsIdempotent(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	practiceID := uuid.New()
	callID := uuid.New()
	now := time.Now().UTC()
	externalCallID := "ext-call-1"

	store := NewStore(mock)

	mock.ExpectQuery("INSERT INTO calls").WithArgs(
		pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(),
		pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(),
	).WillReturnRows(pgxmock.NewRows([]string{"id"}).AddRow(callID))
	mock.ExpectQuery("SELECT (.+) FROM calls").WithArgs(pgxmock.AnyArg(), pgxmock.AnyArg()).
		WillReturnRows(pgxmock.NewRows(callCols).AddRow(sampleRow(callID, practiceID, externalCallID, StatusInProgress, false, now)...))

	got, err := store.CreateOrUpdate(context.Background(), practiceID, externalCallID, DirectionInbound, "+15551234567", StatusInProgress, &now, nil)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, externalCallID, got.ExternalCallID)
	assert.Equal(t, StatusInProgress, got.Status)

	// Second post of the identical webhook hits ON CONFLICT DO UPDATE, not a
	// second row.
	mock.ExpectQuery("INSERT INTO calls").WithArgs(
		pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(),
		pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(),
	).WillReturnRows(pgxmock.NewRows([]string{"id"}).AddRow(callID))
	mock.ExpectQuery("SELECT (.+) FROM calls").WithArgs(pgxmock.AnyArg(), pgxmock.AnyArg()).
		WillReturnRows(pgxmock.NewRows(callCols).AddRow(sampleRow(callID, practiceID, externalCallID, StatusInProgress, false, now)...))

	got2, err := store.CreateOrUpdate(context.Background(), practiceID, externalCallID, DirectionInbound, "+15551234567", StatusInProgress, &now, nil)
	require.NoError(t, err)
	assert.Equal(t, got.ID, got2.ID)

	require.NoError(t, mock.ExpectationsWereMet())
}

func TestSaveEndOfCall_NotFoundReturnsError(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	mock.ExpectQuery("SELECT (.+) FROM calls").WillReturnRows(pgxmock.NewRows(callCols))

	store := NewStore(mock)
	_, err = store.SaveEndOfCall(context.Background(), uuid.New(), "missing-call", EndOfCallInput{})
	assert.Error(t, err)
}

func TestSaveEndOfCall_FlagsCallbackOnShortDuration(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	practiceID := uuid.New()
	callID := uuid.New()
	externalCallID := "ext-call-2"
	now := time.Now().UTC()

	store := NewStore(mock)

	mock.ExpectQuery("SELECT (.+) FROM calls").
		WillReturnRows(pgxmock.NewRows(callCols).AddRow(sampleRow(callID, practiceID, externalCallID, StatusInProgress, false, now)...))
	mock.ExpectExec("UPDATE calls SET").WillReturnResult(pgxmock.NewResult("UPDATE", 1))
	mock.ExpectQuery("SELECT (.+) FROM calls").
		WillReturnRows(pgxmock.NewRows(callCols).AddRow(sampleRow(callID, practiceID, externalCallID, StatusEnded, true, now)...))

	got, err := store.SaveEndOfCall(context.Background(), practiceID, externalCallID, EndOfCallInput{
		Transcript:      "short call",
		DurationSeconds: 8,
		EndedReason:     "customer-ended-call",
		EndedAt:         now,
	})
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.True(t, got.CallbackNeeded)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestSaveEndOfCall_RedactsPANFromTranscript(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	practiceID := uuid.New()
	callID := uuid.New()
	externalCallID := "ext-call-pan"
	now := time.Now().UTC()

	store := NewStore(mock)

	mock.ExpectQuery("SELECT (.+) FROM calls").
		WillReturnRows(pgxmock.NewRows(callCols).AddRow(sampleRow(callID, practiceID, externalCallID, StatusInProgress, false, now)...))
	mock.ExpectExec("UPDATE calls SET").
		WithArgs("my card is [REDACTED_CARD_1111], please charge it",
			pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(),
			pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(),
			pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))
	mock.ExpectQuery("SELECT (.+) FROM calls").
		WillReturnRows(pgxmock.NewRows(callCols).AddRow(sampleRow(callID, practiceID, externalCallID, StatusEnded, false, now)...))

	_, err = store.SaveEndOfCall(context.Background(), practiceID, externalCallID, EndOfCallInput{
		Transcript:      "my card is 4111 1111 1111 1111, please charge it",
		DurationSeconds: 120,
		EndedAt:         now,
	})
	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestFindAnyPracticeByExternalID_NotFoundReturnsNil(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	mock.ExpectQuery("SELECT (.+) FROM calls").WillReturnRows(pgxmock.NewRows(callCols))

	store := NewStore(mock)
	got, err := store.FindAnyPracticeByExternalID(context.Background(), "unknown")
	require.NoError(t, err)
	assert.Nil(t, got)
}
