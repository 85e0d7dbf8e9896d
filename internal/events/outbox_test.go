package events

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/google/uuid"
	pgxmock "github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/voxcare/concierge/pkg/logging"
)

func TestOutboxStoreFlow(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	store := NewOutboxStore(mock)
	practiceID := uuid.New()

	mock.ExpectExec("INSERT INTO outbox").
		WithArgs(pgxmock.AnyArg(), practiceID, EventAppointmentBookedForTest, pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	_, err = store.Insert(context.Background(), mock, practiceID, EventAppointmentBookedForTest, map[string]string{"foo": "bar"})
	require.NoError(t, err)

	now := time.Now().UTC()
	id := uuid.New()
	rows := pgxmock.NewRows([]string{"id", "practice_id", "type", "payload", "created_at"}).
		AddRow(id, practiceID, EventAppointmentBookedForTest, []byte(`{"foo":"bar"}`), now)
	mock.ExpectQuery("SELECT id").WithArgs(int32(10)).WillReturnRows(rows)

	entries, err := store.FetchPending(context.Background(), 10)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, id, entries[0].ID)
	assert.Equal(t, practiceID, entries[0].PracticeID)
	assert.Equal(t, EventAppointmentBookedForTest, entries[0].Type)

	mock.ExpectExec("UPDATE outbox").WithArgs(id).WillReturnResult(pgxmock.NewResult("UPDATE", 1))
	ok, err := store.MarkDelivered(context.Background(), id)
	require.NoError(t, err)
	assert.True(t, ok)

	require.NoError(t, mock.ExpectationsWereMet())
}

func TestOutboxStoreInsertMarshalError(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	store := NewOutboxStore(mock)
	_, err = store.Insert(context.Background(), mock, uuid.New(), "evt", make(chan int))
	require.Error(t, err)
}

func TestFetchPendingQueryError(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	store := NewOutboxStore(mock)
	mock.ExpectQuery("SELECT id").WithArgs(int32(5)).WillReturnError(fmt.Errorf("boom"))
	_, err = store.FetchPending(context.Background(), 5)
	require.Error(t, err)
}

func TestMarkDeliveredError(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	store := NewOutboxStore(mock)
	mock.ExpectExec("UPDATE outbox").WithArgs(pgxmock.AnyArg()).WillReturnError(fmt.Errorf("boom"))
	_, err = store.MarkDelivered(context.Background(), uuid.New())
	require.Error(t, err)
}

func TestNewOutboxStorePanicsOnNilDB(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Fatal("expected panic for nil db")
		}
	}()
	NewOutboxStore(nil)
}

func TestDelivererDrain(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	store := NewOutboxStore(mock)
	handler := &stubDeliveryHandler{}
	deliverer := NewDeliverer(store, handler, logging.Default())

	id := uuid.New()
	now := time.Now().UTC()
	rows := pgxmock.NewRows([]string{"id", "practice_id", "type", "payload", "created_at"}).
		AddRow(id, uuid.New(), EventAppointmentBookedForTest, []byte("{}"), now)
	mock.ExpectQuery("SELECT id").WithArgs(int32(25)).WillReturnRows(rows)
	mock.ExpectExec("UPDATE outbox").WithArgs(id).WillReturnResult(pgxmock.NewResult("UPDATE", 1))

	deliverer.drain(context.Background())
	require.Len(t, handler.entries, 1)
	assert.Equal(t, id, handler.entries[0].ID)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestDelivererDrainHandlesHandlerErrors(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	store := NewOutboxStore(mock)
	id := uuid.New()
	rows := pgxmock.NewRows([]string{"id", "practice_id", "type", "payload", "created_at"}).
		AddRow(id, uuid.New(), "evt", []byte("{}"), time.Now().UTC())
	mock.ExpectQuery("SELECT id").WithArgs(int32(25)).WillReturnRows(rows)
	badHandler := deliveryHandlerFunc(func(ctx context.Context, entry OutboxEntry) error {
		return errors.New("handler failed")
	})
	deliverer := NewDeliverer(store, badHandler, logging.Default())
	deliverer.drain(context.Background())
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestDelivererDrainHandlesMarkDeliveredError(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	store := NewOutboxStore(mock)
	id := uuid.New()
	rows := pgxmock.NewRows([]string{"id", "practice_id", "type", "payload", "created_at"}).
		AddRow(id, uuid.New(), "evt", []byte("{}"), time.Now().UTC())
	mock.ExpectQuery("SELECT id").WithArgs(int32(25)).WillReturnRows(rows)
	mock.ExpectExec("UPDATE outbox").WithArgs(id).WillReturnError(errors.New("db down"))
	deliverer := NewDeliverer(store, deliveryHandlerFunc(func(ctx context.Context, entry OutboxEntry) error {
		return nil
	}), logging.Default())
	deliverer.drain(context.Background())
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestDelivererStartStopsOnContextCancel(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	store := NewOutboxStore(mock)
	ctx, cancel := context.WithCancel(context.Background())
	handler := &stubDeliveryHandler{afterHandle: cancel}
	deliverer := NewDeliverer(store, handler, logging.Default()).WithInterval(5 * time.Millisecond)

	id := uuid.New()
	rows := pgxmock.NewRows([]string{"id", "practice_id", "type", "payload", "created_at"}).
		AddRow(id, uuid.New(), "evt", []byte("{}"), time.Now().UTC())
	mock.ExpectQuery("SELECT id").WithArgs(int32(25)).WillReturnRows(rows)
	mock.ExpectExec("UPDATE outbox").WithArgs(id).WillReturnResult(pgxmock.NewResult("UPDATE", 1))

	done := make(chan struct{})
	go func() {
		deliverer.Start(ctx)
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(200 * time.Millisecond):
		t.Fatal("deliverer did not stop after cancellation")
	}
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestDelivererStartNoopWithoutDeps(t *testing.T) {
	deliverer := NewDeliverer(nil, nil, nil)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	deliverer.Start(ctx)
}

func TestDelivererOptionHelpers(t *testing.T) {
	deliverer := NewDeliverer(nil, nil, nil)
	deliverer.WithBatchSize(100)
	assert.EqualValues(t, 100, deliverer.batchSize)
	interval := 123 * time.Millisecond
	deliverer.WithInterval(interval)
	assert.Equal(t, interval, deliverer.interval)
}

// EventAppointmentBookedForTest keeps this package's tests independent of
// internal/booking's event type constants (importing booking here would
// cycle back to internal/events).
const EventAppointmentBookedForTest = "appointment.booked.v1"

type deliveryHandlerFunc func(ctx context.Context, entry OutboxEntry) error

func (f deliveryHandlerFunc) Handle(ctx context.Context, entry OutboxEntry) error {
	return f(ctx, entry)
}

type stubDeliveryHandler struct {
	entries     []OutboxEntry
	afterHandle func()
}

func (s *stubDeliveryHandler) Handle(ctx context.Context, entry OutboxEntry) error {
	s.entries = append(s.entries, entry)
	if s.afterHandle != nil {
		s.afterHandle()
	}
	return nil
}
