package feedback

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/google/uuid"
)

// SQSAPI is the subset of the SQS client the analysis queue uses.
type SQSAPI interface {
	SendMessage(ctx context.Context, params *sqs.SendMessageInput, optFns ...func(*sqs.Options)) (*sqs.SendMessageOutput, error)
	ReceiveMessage(ctx context.Context, params *sqs.ReceiveMessageInput, optFns ...func(*sqs.Options)) (*sqs.ReceiveMessageOutput, error)
	DeleteMessage(ctx context.Context, params *sqs.DeleteMessageInput, optFns ...func(*sqs.Options)) (*sqs.DeleteMessageOutput, error)
}

// analysisJob is the message body enqueued for §4.K's per-call analysis.
type analysisJob struct {
	PracticeID     uuid.UUID `json:"practice_id"`
	ExternalCallID string    `json:"external_call_id"`
}

// AnalysisQueue fans call-ended-report analysis jobs out to SQS instead of
// running AnalyzeCall in this process, so a slow LLM call never ties up the
// webhook server. Optional: when unconfigured, callers fall
// back to the in-process retry loop (webhook.Dispatcher.analyzeWithRetry).
type AnalysisQueue struct {
	client   SQSAPI
	queueURL string
	logger   *slog.Logger
}

// NewAnalysisQueue wraps an SQS client. If queueURL is empty, Enabled
// reports false and Enqueue is a no-op.
func NewAnalysisQueue(client SQSAPI, queueURL string, logger *slog.Logger) *AnalysisQueue {
	if logger == nil {
		logger = slog.Default()
	}
	return &AnalysisQueue{client: client, queueURL: queueURL, logger: logger}
}

// Enabled reports whether async fan-out is configured.
func (q *AnalysisQueue) Enabled() bool {
	return q != nil && q.queueURL != "" && q.client != nil
}

// Enqueue submits one call for background analysis.
func (q *AnalysisQueue) Enqueue(ctx context.Context, practiceID uuid.UUID, externalCallID string) error {
	if !q.Enabled() {
		return nil
	}
	body, err := json.Marshal(analysisJob{PracticeID: practiceID, ExternalCallID: externalCallID})
	if err != nil {
		return fmt.Errorf("feedback: marshal analysis job: %w", err)
	}
	_, err = q.client.SendMessage(ctx, &sqs.SendMessageInput{
		QueueUrl:    aws.String(q.queueURL),
		MessageBody: aws.String(string(body)),
	})
	if err != nil {
		return fmt.Errorf("feedback: enqueue analysis job: %w", err)
	}
	return nil
}

// receivedJob pairs a decoded job with the SQS receipt handle needed to
// acknowledge it.
type receivedJob struct {
	job           analysisJob
	receiptHandle string
}

// receive long-polls for up to maxMessages jobs, skipping (and logging, not
// failing) any message whose body doesn't decode as an analysisJob.
func (q *AnalysisQueue) receive(ctx context.Context, maxMessages int32, waitSeconds int32) ([]receivedJob, error) {
	out, err := q.client.ReceiveMessage(ctx, &sqs.ReceiveMessageInput{
		QueueUrl:            aws.String(q.queueURL),
		MaxNumberOfMessages: maxMessages,
		WaitTimeSeconds:     waitSeconds,
	})
	if err != nil {
		return nil, fmt.Errorf("feedback: receive analysis jobs: %w", err)
	}
	jobs := make([]receivedJob, 0, len(out.Messages))
	for _, msg := range out.Messages {
		var job analysisJob
		if err := json.Unmarshal([]byte(aws.ToString(msg.Body)), &job); err != nil {
			q.logger.Warn("feedback: dropping unparseable analysis job", "error", err)
			continue
		}
		jobs = append(jobs, receivedJob{job: job, receiptHandle: aws.ToString(msg.ReceiptHandle)})
	}
	return jobs, nil
}

func (q *AnalysisQueue) delete(ctx context.Context, receiptHandle string) error {
	if receiptHandle == "" {
		return nil
	}
	_, err := q.client.DeleteMessage(ctx, &sqs.DeleteMessageInput{
		QueueUrl:      aws.String(q.queueURL),
		ReceiptHandle: aws.String(receiptHandle),
	})
	if err != nil {
		return fmt.Errorf("feedback: delete analysis job: %w", err)
	}
	return nil
}
