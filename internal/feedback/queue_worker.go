package feedback

import (
	"context"
	"time"
)

// QueueWorker drains AnalysisQueue and runs AnalyzeCall for each job,
// deleting the message only after a successful analysis so a crashed worker
// leaves the job for SQS to redeliver.
type QueueWorker struct {
	Queue    *AnalysisQueue
	Analyzer *Analyzer
}

// NewQueueWorker wires the worker. Both arguments are required; callers
// should only construct one when Queue.Enabled().
func NewQueueWorker(queue *AnalysisQueue, analyzer *Analyzer) *QueueWorker {
	return &QueueWorker{Queue: queue, Analyzer: analyzer}
}

// Start long-polls the queue until ctx is cancelled.
func (w *QueueWorker) Start(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}
		jobs, err := w.Queue.receive(ctx, 10, 20)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			w.Analyzer.Logger.Error("feedback: queue receive failed", "error", err)
			time.Sleep(5 * time.Second)
			continue
		}
		for _, rj := range jobs {
			if err := w.Analyzer.AnalyzeCall(ctx, rj.job.PracticeID, rj.job.ExternalCallID); err != nil {
				w.Analyzer.Logger.Error("feedback: queued analysis failed", "error", err, "call_id", rj.job.ExternalCallID)
				continue
			}
			if err := w.Queue.delete(ctx, rj.receiptHandle); err != nil {
				w.Analyzer.Logger.Error("feedback: delete analysis job failed", "error", err)
			}
		}
	}
}
