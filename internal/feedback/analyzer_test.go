package feedback

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	pgxmock "github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/require"

	"github.com/voxcare/concierge/internal/calls"
)

var callCols = []string{
	"id", "practice_id", "external_call_id", "direction", "caller_phone", "caller_name",
	"patient_id", "appointment_id", "status", "started_at", "ended_at", "duration_s",
	"transcript", "summary", "recording_url", "cost",
	"outcome", "structured_data", "caller_intent", "caller_sentiment",
	"success_evaluation", "language", "callback_needed", "callback_completed",
	"callback_notes", "created_at", "updated_at",
}

func callRow(id, practiceID uuid.UUID, externalCallID string, durationSeconds int, outcome string, now time.Time) []any {
	return []any{
		id, practiceID, externalCallID, "inbound", "+15551234567", "Jane Doe",
		nil, nil, "ended", &now, &now, &durationSeconds,
		"hello", "", "", nil,
		outcome, []byte("{}"), "", "",
		"", "", false, false,
		"", now, now,
	}
}

func TestAnalyzeCall_SkipsShortCalls(t *testing.T) {
	callsMock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer callsMock.Close()
	feedbackMock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer feedbackMock.Close()

	practiceID := uuid.New()
	callID := uuid.New()
	now := time.Now().UTC()

	callsMock.ExpectQuery("SELECT (.+) FROM calls").
		WillReturnRows(pgxmock.NewRows(callCols).AddRow(callRow(callID, practiceID, "call-1", 3, "", now)...))

	a := NewAnalyzer(NewStore(feedbackMock), calls.NewStore(callsMock), nil, nil)
	err = a.AnalyzeCall(context.Background(), practiceID, "call-1")
	require.NoError(t, err)
	require.NoError(t, feedbackMock.ExpectationsWereMet()) // no feedback DB interaction at all
}

func TestAnalyzeCall_SkipsWhenFeedbackAlreadyExists(t *testing.T) {
	callsMock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer callsMock.Close()
	feedbackMock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer feedbackMock.Close()

	practiceID := uuid.New()
	callID := uuid.New()
	now := time.Now().UTC()

	callsMock.ExpectQuery("SELECT (.+) FROM calls").
		WillReturnRows(pgxmock.NewRows(callCols).AddRow(callRow(callID, practiceID, "call-2", 120, "", now)...))
	feedbackMock.ExpectQuery("SELECT 1 FROM call_feedback").
		WillReturnRows(pgxmock.NewRows([]string{"1"}).AddRow(1))

	a := NewAnalyzer(NewStore(feedbackMock), calls.NewStore(callsMock), nil, nil)
	err = a.AnalyzeCall(context.Background(), practiceID, "call-2")
	require.NoError(t, err)
	require.NoError(t, feedbackMock.ExpectationsWereMet())
}

func TestAnalyzeCall_UsesFallbackScorerWhenNoLLMConfigured(t *testing.T) {
	callsMock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer callsMock.Close()
	feedbackMock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer feedbackMock.Close()

	practiceID := uuid.New()
	callID := uuid.New()
	now := time.Now().UTC()

	callsMock.ExpectQuery("SELECT (.+) FROM calls").
		WillReturnRows(pgxmock.NewRows(callCols).AddRow(callRow(callID, practiceID, "call-3", 120, "", now)...))
	feedbackMock.ExpectQuery("SELECT 1 FROM call_feedback").
		WillReturnRows(pgxmock.NewRows([]string{"1"}))
	feedbackMock.ExpectQuery("SELECT (.+) FROM prompt_versions").
		WillReturnRows(pgxmock.NewRows([]string{
			"id", "practice_id", "version", "prompt_text", "change_reason", "is_active",
			"activated_at", "deactivated_at", "total_calls", "successful_calls", "avg_score", "booking_rate", "created_at",
		}))
	feedbackMock.ExpectExec("INSERT INTO call_feedback").
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	feedbackMock.ExpectQuery("SELECT COUNT\\(\\*\\) FROM call_feedback").
		WillReturnRows(pgxmock.NewRows([]string{"count"}).AddRow(3))

	a := NewAnalyzer(NewStore(feedbackMock), calls.NewStore(callsMock), nil, nil)
	err = a.AnalyzeCall(context.Background(), practiceID, "call-3")
	require.NoError(t, err)
	require.NoError(t, feedbackMock.ExpectationsWereMet())
}
