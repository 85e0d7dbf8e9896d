package feedback

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/voxcare/concierge/internal/calls"
	"github.com/voxcare/concierge/pkg/logging"
)

var analyzerTracer = otel.Tracer("concierge.internal.feedback.analyzer")

const (
	analysisMaxTokens  = 1024
	analysisModel      = "anthropic.claude-3-5-sonnet-20241022-v2:0"
	minAnalyzedSeconds = 5
)

// Analyzer implements the webhook.FeedbackAnalyzer interface (AnalyzeCall)
// plus §4.K's pattern detection and prompt improvement, and is reused by
// the §4.L training pipeline.
type Analyzer struct {
	Store  *Store
	Calls  *calls.Store
	LLM    LLMClient
	Logger *logging.Logger
}

// NewAnalyzer wires the analyser's collaborators.
func NewAnalyzer(store *Store, callStore *calls.Store, llm LLMClient, logger *logging.Logger) *Analyzer {
	if store == nil || callStore == nil {
		panic("feedback: NewAnalyzer: store and call store are required")
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &Analyzer{Store: store, Calls: callStore, LLM: llm, Logger: logger}
}

// AnalyzeCall implements webhook.FeedbackAnalyzer. It is the per-call
// analysis entry point spawned from the end-of-call-report handler.
func (a *Analyzer) AnalyzeCall(ctx context.Context, practiceID uuid.UUID, externalCallID string) error {
	call, err := a.Calls.GetByExternalID(ctx, practiceID, externalCallID)
	if err != nil {
		return fmt.Errorf("feedback: analyze call: load call: %w", err)
	}
	if call == nil {
		return fmt.Errorf("feedback: analyze call: call %s not found", externalCallID)
	}

	duration := 0
	if call.DurationSeconds != nil {
		duration = *call.DurationSeconds
	}
	if duration < minAnalyzedSeconds {
		a.Logger.Info("feedback: skipping analysis, call too short", "call_id", externalCallID, "duration", duration)
		return nil
	}
	exists, err := a.Store.FeedbackExists(ctx, call.ID)
	if err != nil {
		return fmt.Errorf("feedback: analyze call: feedback exists check: %w", err)
	}
	if exists {
		a.Logger.Info("feedback: skipping analysis, feedback already exists", "call_id", externalCallID)
		return nil
	}

	activeVersion, err := a.Store.ActivePromptVersion(ctx, practiceID)
	if err != nil {
		return fmt.Errorf("feedback: analyze call: active prompt version: %w", err)
	}

	payload, usedFallback := a.score(ctx, call)

	cf := &CallFeedback{
		PracticeID:            practiceID,
		CallID:                call.ID,
		OverallScore:           clampScore(payload.OverallScore),
		ResolutionScore:        clampScore(payload.ResolutionScore),
		EfficiencyScore:        clampScore(payload.EfficiencyScore),
		EmpathyScore:           clampScore(payload.EmpathyScore),
		AccuracyScore:          clampScore(payload.AccuracyScore),
		WasSuccessful:          payload.WasSuccessful,
		FailurePoint:           payload.FailurePoint,
		FailureReason:          payload.FailureReason,
		ImprovementSuggestion:  payload.ImprovementSuggestion,
		Complexity:             payload.Complexity,
		CallerDropped:          payload.CallerDropped,
		KeyObservations:        payload.KeyObservations,
	}
	if activeVersion != nil {
		cf.PromptVersionID = &activeVersion.ID
	}
	if err := a.Store.SaveCallFeedback(ctx, cf); err != nil {
		return fmt.Errorf("feedback: analyze call: save: %w", err)
	}
	if usedFallback {
		a.Logger.Warn("feedback: used deterministic fallback scorer", "call_id", externalCallID)
	}

	if activeVersion != nil {
		if err := a.Store.RecomputeMetrics(ctx, practiceID, activeVersion.ID); err != nil {
			a.Logger.Error("feedback: recompute metrics failed", "error", err, "call_id", externalCallID)
		}
	}

	if err := a.maybeDetectPatterns(ctx, practiceID, cf.OverallScore); err != nil {
		a.Logger.Error("feedback: pattern detection failed", "error", err, "practice_id", practiceID)
	}
	return nil
}

// score calls the LLM in JSON mode, falling back to the deterministic
// ended_reason+duration scorer if the LLM is unreachable or returns
// unparseable output (§4.K).
func (a *Analyzer) score(ctx context.Context, call *calls.Call) (analysisPayload, bool) {
	ctx, span := analyzerTracer.Start(ctx, "feedback.llm.score")
	defer span.End()
	span.SetAttributes(
		attribute.String("concierge.call_id", call.ExternalCallID),
		attribute.String("concierge.model", analysisModel),
	)

	if a.LLM == nil {
		return fallbackScore(call), true
	}
	prompt := buildScoringPrompt(call)
	resp, err := a.LLM.Complete(ctx, LLMRequest{
		Model:       analysisModel,
		System:      []string{scoringSystemPrompt},
		Messages:    []ChatMessage{{Role: chatRoleUser, Content: prompt}},
		MaxTokens:   analysisMaxTokens,
		Temperature: 0,
	})
	if err != nil {
		span.RecordError(err)
		a.Logger.Warn("feedback: LLM scoring failed, using fallback", "error", err, "call_id", call.ExternalCallID)
		return fallbackScore(call), true
	}
	var payload analysisPayload
	if err := json.Unmarshal([]byte(sanitizeJSON(resp.Text)), &payload); err != nil {
		span.RecordError(err)
		a.Logger.Warn("feedback: LLM scoring response unparseable, using fallback", "error", err, "call_id", call.ExternalCallID)
		return fallbackScore(call), true
	}
	return payload, false
}

const scoringSystemPrompt = `You score a completed medical-office phone call transcript for quality.
Return ONLY JSON, no prose, no code fences, in this exact shape:
{"overall_score":0.0,"resolution_score":0.0,"efficiency_score":0.0,"empathy_score":0.0,"accuracy_score":0.0,
 "was_successful":false,"failure_point":"","failure_reason":"","improvement_suggestion":"","complexity":"low|medium|high",
 "caller_dropped":false,"key_observations":[""]}
All scores are floats in [0,1].`

func buildScoringPrompt(call *calls.Call) string {
	var b strings.Builder
	fmt.Fprintf(&b, "call_id: %s\n", call.ExternalCallID)
	fmt.Fprintf(&b, "ended_reason: %s\n", call.Outcome)
	if call.DurationSeconds != nil {
		fmt.Fprintf(&b, "duration_seconds: %d\n", *call.DurationSeconds)
	}
	fmt.Fprintf(&b, "success_evaluation: %s\n", call.SuccessEvaluation)
	if len(call.StructuredData) > 0 {
		sd, _ := json.Marshal(call.StructuredData)
		fmt.Fprintf(&b, "structured_data: %s\n", sd)
	}
	b.WriteString("transcript:\n")
	b.WriteString(truncateBytes(call.Transcript, maxTranscriptBytes))
	return b.String()
}

// fallbackScore implements §4.K's deterministic fallback scorer, used when
// the LLM is unreachable. It reasons only from the call record: ended_reason
// and duration, plus caller name/phone, which calls.ShouldFlagCallback
// requires before it reports a bad outcome.
func fallbackScore(call *calls.Call) analysisPayload {
	duration := 0
	if call.DurationSeconds != nil {
		duration = *call.DurationSeconds
	}
	badOutcome := calls.ShouldFlagCallback(call.Outcome, duration, call.CallerName, call.CallerPhone)
	score := 0.7
	successful := true
	failurePoint, failureReason := "", ""
	switch {
	case badOutcome:
		score = 0.3
		successful = false
		failurePoint = "call_end"
		failureReason = call.Outcome
	case duration < 15:
		score = 0.4
		successful = false
		failurePoint = "call_end"
		failureReason = "call ended abnormally quickly"
	case duration > 600:
		score = 0.5
	}
	return analysisPayload{
		OverallScore:          score,
		ResolutionScore:       score,
		EfficiencyScore:       score,
		EmpathyScore:          score,
		AccuracyScore:         score,
		WasSuccessful:         successful,
		FailurePoint:          failurePoint,
		FailureReason:         failureReason,
		ImprovementSuggestion: "",
		Complexity:            "unknown",
		CallerDropped:         badOutcome,
		KeyObservations:       []string{"scored by deterministic fallback, LLM unreachable"},
	}
}

// maybeDetectPatterns triggers pattern detection every patternDetectEvery
// calls or immediately on a score below patternScoreAlert (§4.K).
func (a *Analyzer) maybeDetectPatterns(ctx context.Context, practiceID uuid.UUID, latestScore float64) error {
	if latestScore < patternScoreAlert {
		return a.DetectPatterns(ctx, practiceID)
	}
	count, err := a.Store.CountFeedback(ctx, practiceID)
	if err != nil {
		return err
	}
	if count%patternDetectEvery == 0 {
		return a.DetectPatterns(ctx, practiceID)
	}
	return nil
}

// DetectPatterns implements §4.K's pattern detection: pull recent
// CallFeedback, ask the LLM to aggregate recurring issues, persist new
// FeedbackInsights deduped by title among open insights.
func (a *Analyzer) DetectPatterns(ctx context.Context, practiceID uuid.UUID) error {
	recent, err := a.Store.RecentFeedback(ctx, practiceID)
	if err != nil {
		return fmt.Errorf("feedback: detect patterns: recent feedback: %w", err)
	}
	if len(recent) == 0 || a.LLM == nil {
		return nil
	}

	resp, err := a.LLM.Complete(ctx, LLMRequest{
		Model:       analysisModel,
		System:      []string{patternSystemPrompt},
		Messages:    []ChatMessage{{Role: chatRoleUser, Content: buildPatternPrompt(recent)}},
		MaxTokens:   analysisMaxTokens,
		Temperature: 0,
	})
	if err != nil {
		return fmt.Errorf("feedback: detect patterns: llm: %w", err)
	}
	var payload insightsPayload
	if err := json.Unmarshal([]byte(sanitizeJSON(resp.Text)), &payload); err != nil {
		return fmt.Errorf("feedback: detect patterns: parse: %w", err)
	}

	for _, item := range payload.Insights {
		if strings.TrimSpace(item.Title) == "" {
			continue
		}
		exists, err := a.Store.InsightOpenExists(ctx, practiceID, item.Title)
		if err != nil {
			a.Logger.Error("feedback: insight dedup check failed", "error", err, "title", item.Title)
			continue
		}
		if exists {
			continue
		}
		if err := a.Store.SaveInsight(ctx, &FeedbackInsight{
			PracticeID:    practiceID,
			Type:          item.Type,
			Category:      item.Category,
			Severity:      item.Severity,
			Title:         item.Title,
			Description:   item.Description,
			SuggestedFix:  item.SuggestedFix,
			AffectedCalls: item.AffectedCalls,
		}); err != nil {
			a.Logger.Error("feedback: save insight failed", "error", err, "title", item.Title)
		}
	}
	return nil
}

const patternSystemPrompt = `You look across recent call-quality feedback for one medical practice's AI
receptionist and identify recurring failure patterns. Return ONLY JSON, no prose, no code fences:
{"insights":[{"type":"","category":"","severity":"low|medium|high","title":"","description":"","suggested_fix":"","affected_calls":0}]}
Only report genuinely recurring patterns, not one-off issues.`

func buildPatternPrompt(recent []*CallFeedback) string {
	var b strings.Builder
	fmt.Fprintf(&b, "%d recent calls:\n", len(recent))
	for _, cf := range recent {
		fmt.Fprintf(&b, "- score=%.2f successful=%t failure_point=%q failure_reason=%q complexity=%q dropped=%t\n",
			cf.OverallScore, cf.WasSuccessful, cf.FailurePoint, cf.FailureReason, cf.Complexity, cf.CallerDropped)
	}
	return b.String()
}

// ImprovePrompt implements §4.K's "Prompt improvement": build a prompt
// containing the current active prompt plus open insights, ask the LLM for
// a revised prompt. It does not apply the change — callers decide whether
// to call Store.Apply (or training.go's Publish).
func (a *Analyzer) ImprovePrompt(ctx context.Context, practiceID uuid.UUID, currentPrompt string) (string, error) {
	if a.LLM == nil {
		return "", fmt.Errorf("feedback: improve prompt: no LLM configured")
	}
	insights, err := a.Store.OpenInsights(ctx, practiceID)
	if err != nil {
		return "", fmt.Errorf("feedback: improve prompt: open insights: %w", err)
	}
	var b strings.Builder
	b.WriteString("current system prompt:\n")
	b.WriteString(currentPrompt)
	b.WriteString("\n\nopen issues to address:\n")
	for _, in := range insights {
		fmt.Fprintf(&b, "- [%s/%s] %s: %s (suggested fix: %s)\n", in.Severity, in.Category, in.Title, in.Description, in.SuggestedFix)
	}

	resp, err := a.LLM.Complete(ctx, LLMRequest{
		Model:       analysisModel,
		System:      []string{promptImprovementSystemPrompt},
		Messages:    []ChatMessage{{Role: chatRoleUser, Content: b.String()}},
		MaxTokens:   2048,
		Temperature: 0.3,
	})
	if err != nil {
		return "", fmt.Errorf("feedback: improve prompt: llm: %w", err)
	}
	var payload promptPayload
	if err := json.Unmarshal([]byte(sanitizeJSON(resp.Text)), &payload); err != nil {
		return "", fmt.Errorf("feedback: improve prompt: parse: %w", err)
	}
	if strings.TrimSpace(payload.Prompt) == "" {
		return "", fmt.Errorf("feedback: improve prompt: empty prompt returned")
	}
	return payload.Prompt, nil
}

const promptImprovementSystemPrompt = `You revise a medical-office voice AI assistant's system prompt to fix the
listed recurring issues while preserving everything that already works. Return ONLY JSON, no prose, no code
fences: {"prompt":"the full revised system prompt"}`
