package feedback

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"time"

	"github.com/google/uuid"

	"github.com/voxcare/concierge/internal/calls"
	"github.com/voxcare/concierge/pkg/logging"
)

// Transcriber converts a recorded call's audio into text. It is an external
// collaborator (spec §1) — the training pipeline depends on the interface
// only, never a concrete transcription vendor.
type Transcriber interface {
	Transcribe(ctx context.Context, audio io.Reader) (string, error)
}

// TrainingSession is one batch-review run over a set of recorded calls:
// upload -> transcribe -> analyse (reuses §4.K) -> aggregate -> prompt
// generation -> optional publish (spec §4.L).
type TrainingSession struct {
	ID          uuid.UUID
	PracticeID  uuid.UUID
	StartedAt   time.Time
	CompletedAt *time.Time
	CallIDs     []uuid.UUID
	Insights    []*FeedbackInsight
	DraftPrompt string
	Published   bool
}

// Trainer runs TrainingSessions. It reuses Analyzer for per-call scoring
// and pattern aggregation rather than duplicating that logic.
type Trainer struct {
	Analyzer    *Analyzer
	Store       *Store
	Calls       *calls.Store
	Transcriber Transcriber
	Archiver    Archiver
	Logger      *logging.Logger
}

// NewTrainer wires the trainer's collaborators. Transcriber and archiver may
// be nil if every call in a session already has a transcript, or archival is
// not configured for this deployment, respectively.
func NewTrainer(analyzer *Analyzer, store *Store, callStore *calls.Store, transcriber Transcriber, archiver Archiver, logger *logging.Logger) *Trainer {
	if analyzer == nil || store == nil || callStore == nil {
		panic("feedback: NewTrainer: analyzer, store, and call store are required")
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &Trainer{Analyzer: analyzer, Store: store, Calls: callStore, Transcriber: transcriber, Archiver: archiver, Logger: logger}
}

// UploadRecording attaches transcribed audio to a call that has none yet,
// the "upload -> transcribe" step of §4.L. Calls that already carry a
// transcript (from the voice platform's end-of-call-report) skip this step
// entirely and go straight to analysis.
func (t *Trainer) UploadRecording(ctx context.Context, practiceID uuid.UUID, externalCallID string, audio io.Reader) error {
	if t.Transcriber == nil {
		return fmt.Errorf("feedback: upload recording: no transcriber configured")
	}
	call, err := t.Calls.GetByExternalID(ctx, practiceID, externalCallID)
	if err != nil {
		return fmt.Errorf("feedback: upload recording: load call: %w", err)
	}
	if call == nil {
		return fmt.Errorf("feedback: upload recording: call %s not found", externalCallID)
	}
	if call.Transcript != "" {
		return nil
	}

	var raw bytes.Buffer
	if _, err := io.Copy(&raw, audio); err != nil {
		return fmt.Errorf("feedback: upload recording: read audio: %w", err)
	}
	if t.Archiver != nil {
		if _, err := t.Archiver.Archive(ctx, practiceID, externalCallID, raw.Bytes()); err != nil {
			t.Logger.Warn("feedback: recording archival failed", "error", err, "call_id", externalCallID)
		}
	}

	text, err := t.Transcriber.Transcribe(ctx, bytes.NewReader(raw.Bytes()))
	if err != nil {
		return fmt.Errorf("feedback: upload recording: transcribe: %w", err)
	}
	_, err = t.Calls.SaveEndOfCall(ctx, practiceID, externalCallID, calls.EndOfCallInput{
		Transcript:      text,
		DurationSeconds: 0,
		EndedAt:         time.Now().UTC(),
	})
	if err != nil {
		return fmt.Errorf("feedback: upload recording: save transcript: %w", err)
	}
	return nil
}

// Run executes a full training session over the given calls: analyse each
// (skipping ones that already have feedback), run pattern detection once
// over the aggregate, and draft an improved prompt from the resulting
// insights. The draft is not applied until Publish is called.
func (t *Trainer) Run(ctx context.Context, practiceID uuid.UUID, externalCallIDs []string) (*TrainingSession, error) {
	session := &TrainingSession{
		ID:         uuid.New(),
		PracticeID: practiceID,
		StartedAt:  time.Now().UTC(),
	}

	for _, externalID := range externalCallIDs {
		if err := t.Analyzer.AnalyzeCall(ctx, practiceID, externalID); err != nil {
			t.Logger.Error("feedback: training session analysis failed", "error", err, "call_id", externalID)
			continue
		}
		if call, err := t.Calls.GetByExternalID(ctx, practiceID, externalID); err == nil && call != nil {
			session.CallIDs = append(session.CallIDs, call.ID)
		}
	}

	if err := t.Analyzer.DetectPatterns(ctx, practiceID); err != nil {
		t.Logger.Error("feedback: training session pattern detection failed", "error", err, "practice_id", practiceID)
	}
	insights, err := t.Store.OpenInsights(ctx, practiceID)
	if err != nil {
		return nil, fmt.Errorf("feedback: training session: open insights: %w", err)
	}
	session.Insights = insights

	active, err := t.Store.ActivePromptVersion(ctx, practiceID)
	if err != nil {
		return nil, fmt.Errorf("feedback: training session: active prompt version: %w", err)
	}
	currentPrompt := ""
	if active != nil {
		currentPrompt = active.PromptText
	}
	if len(insights) > 0 {
		draft, err := t.Analyzer.ImprovePrompt(ctx, practiceID, currentPrompt)
		if err != nil {
			t.Logger.Warn("feedback: training session prompt improvement failed", "error", err, "practice_id", practiceID)
		} else {
			session.DraftPrompt = draft
		}
	}

	now := time.Now().UTC()
	session.CompletedAt = &now
	return session, nil
}

// Publish applies a training session's draft prompt via PromptVersion.apply
// (spec §4.K "Prompt improvement" / P4). It is a no-op if the session has no
// draft, so callers can unconditionally call Publish after Run.
func (t *Trainer) Publish(ctx context.Context, session *TrainingSession, reason string) error {
	if session == nil || session.DraftPrompt == "" {
		return nil
	}
	if _, err := t.Store.Apply(ctx, session.PracticeID, session.DraftPrompt, reason); err != nil {
		return fmt.Errorf("feedback: publish: %w", err)
	}
	session.Published = true
	return nil
}
