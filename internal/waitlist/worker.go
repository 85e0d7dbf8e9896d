package waitlist

import (
	"context"
	"time"

	"github.com/voxcare/concierge/pkg/logging"
)

// Worker drives the periodic expire() sweep (spec §4.F).
type Worker struct {
	Store  *Store
	Logger *logging.Logger
}

// NewWorker wires the worker.
func NewWorker(store *Store, logger *logging.Logger) *Worker {
	if logger == nil {
		logger = logging.Default()
	}
	return &Worker{Store: store, Logger: logger}
}

// Start ticks Expire every 5 minutes until ctx is cancelled. Offers expire on
// a 2h window so a tighter cadence than the reminder send loop isn't needed.
func (w *Worker) Start(ctx context.Context) {
	ticker := time.NewTicker(5 * time.Minute)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n, err := w.Expire(ctx); err != nil {
				w.Logger.Error("waitlist worker: expire failed", "error", err)
			} else if n > 0 {
				w.Logger.Info("waitlist worker: expired entries", "count", n)
			}
		}
	}
}

// Expire implements spec §4.F's expire(): notified offers past expires_at,
// and waiting entries whose preferred date range has already ended.
func (w *Worker) Expire(ctx context.Context) (int, error) {
	now := time.Now().UTC()
	count := 0

	notifiedExpired, err := w.Store.ListNotifiedExpired(ctx, now)
	if err != nil {
		return count, err
	}
	for _, e := range notifiedExpired {
		if ok, err := w.Store.UpdateStatus(ctx, e.ID, []Status{StatusNotified}, StatusExpired); err != nil {
			w.Logger.Error("waitlist worker: expire notified failed", "entry_id", e.ID, "error", err)
		} else if ok {
			count++
		}
	}

	today := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)
	waitingPast, err := w.Store.ListWaitingPastDateRange(ctx, today)
	if err != nil {
		return count, err
	}
	for _, e := range waitingPast {
		if ok, err := w.Store.UpdateStatus(ctx, e.ID, []Status{StatusWaiting}, StatusExpired); err != nil {
			w.Logger.Error("waitlist worker: expire waiting failed", "entry_id", e.ID, "error", err)
		} else if ok {
			count++
		}
	}
	return count, nil
}
