package events

import (
	"context"
	"errors"
	"testing"

	pgx "github.com/jackc/pgx/v5"
	pgxmock "github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestProcessedStore(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	store := NewProcessedStore(mock)

	eventUUID, _, _, err := normalizeProcessedEvent("vapi", "evt")
	require.NoError(t, err)
	mock.ExpectQuery("SELECT 1 FROM processed_events").WithArgs(eventUUID).WillReturnRows(pgxmock.NewRows([]string{"exists"}).AddRow(1))
	processed, err := store.AlreadyProcessed(context.Background(), "vapi", "evt")
	require.NoError(t, err)
	assert.True(t, processed)

	missUUID, _, _, err := normalizeProcessedEvent("vapi", "evt-miss")
	require.NoError(t, err)
	mock.ExpectQuery("SELECT 1 FROM processed_events").WithArgs(missUUID).WillReturnError(pgx.ErrNoRows)
	processed, err = store.AlreadyProcessed(context.Background(), "vapi", "evt-miss")
	require.NoError(t, err)
	assert.False(t, processed)

	insertUUID, _, _, err := normalizeProcessedEvent("vapi", "evt-new")
	require.NoError(t, err)
	mock.ExpectExec("INSERT INTO processed_events").WithArgs(insertUUID, "vapi", "evt-new").WillReturnResult(pgxmock.NewResult("INSERT", 1))
	ok, err := store.MarkProcessed(context.Background(), "vapi", "evt-new")
	require.NoError(t, err)
	assert.True(t, ok)

	_, _, _, err = normalizeProcessedEvent("vapi", "")
	require.Error(t, err)

	require.NoError(t, mock.ExpectationsWereMet())
}

func TestNewProcessedStorePanicsOnNilPool(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Fatal("expected panic for nil pool")
		}
	}()
	NewProcessedStore(nil)
}

func TestProcessedStoreErrorPaths(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	store := NewProcessedStore(mock)
	eventUUID, _, _, err := normalizeProcessedEvent("p", "evt")
	require.NoError(t, err)
	mock.ExpectQuery("SELECT 1 FROM processed_events").WithArgs(eventUUID).WillReturnError(errors.New("db down"))
	_, err = store.AlreadyProcessed(context.Background(), "p", "evt")
	require.Error(t, err)

	mock.ExpectExec("INSERT INTO processed_events").WithArgs(pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg()).WillReturnError(errors.New("insert fail"))
	_, err = store.MarkProcessed(context.Background(), "p", "evt")
	require.Error(t, err)
}
