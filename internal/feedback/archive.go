package feedback

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	s3types "github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/google/uuid"
)

// S3API is the subset of the S3 client the recording archiver uses.
type S3API interface {
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

// Archiver persists raw call recordings alongside the transcript workflow,
// the supervised-training counterpart to §4.L's "upload -> transcribe" step.
type Archiver interface {
	Archive(ctx context.Context, practiceID uuid.UUID, externalCallID string, audio []byte) (string, error)
}

// S3Archiver writes recordings to a date-partitioned S3 prefix, optionally
// under a customer-managed KMS key.
type S3Archiver struct {
	bucket string
	kmsKey string
	client S3API
	logger *slog.Logger
}

// NewS3Archiver builds an archiver. If bucket is empty, Archive is a no-op —
// archival is an optional feature, never a hard dependency of training.
func NewS3Archiver(client S3API, bucket, kmsKey string, logger *slog.Logger) *S3Archiver {
	if logger == nil {
		logger = slog.Default()
	}
	return &S3Archiver{bucket: bucket, kmsKey: kmsKey, client: client, logger: logger}
}

// Enabled reports whether archival is configured.
func (a *S3Archiver) Enabled() bool {
	return a != nil && a.bucket != "" && a.client != nil
}

// Archive uploads audio under a key derived from the call's practice and
// external id, returning the S3 key written.
func (a *S3Archiver) Archive(ctx context.Context, practiceID uuid.UUID, externalCallID string, audio []byte) (string, error) {
	if !a.Enabled() {
		return "", nil
	}
	now := time.Now().UTC()
	key := fmt.Sprintf("recordings/v1/by-date/%d/%02d/%02d/%s/%s.audio",
		now.Year(), now.Month(), now.Day(), practiceID, externalCallID)

	input := &s3.PutObjectInput{
		Bucket:      aws.String(a.bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(audio),
		ContentType: aws.String("application/octet-stream"),
	}
	if a.kmsKey != "" {
		input.ServerSideEncryption = s3types.ServerSideEncryptionAwsKms
		input.SSEKMSKeyId = aws.String(a.kmsKey)
	}
	if _, err := a.client.PutObject(ctx, input); err != nil {
		return "", fmt.Errorf("feedback: archive recording: s3 put %s: %w", key, err)
	}
	a.logger.Info("feedback: archived recording", "practice_id", practiceID, "call_id", externalCallID, "s3_key", key)
	return key, nil
}
