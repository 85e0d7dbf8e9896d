// Package feedback implements the per-call quality analyser and the
// session-scoped training pipeline (spec §4.K/§4.L): scoring each call with
// an LLM (or a deterministic fallback), detecting recurring failure
// patterns, and proposing/publishing improved system prompts.
package feedback

import (
	"time"

	"github.com/google/uuid"
)

// CallFeedback is the one-per-Call quality score (spec §3).
type CallFeedback struct {
	ID                   uuid.UUID
	PracticeID           uuid.UUID
	CallID               uuid.UUID
	PromptVersionID      *uuid.UUID
	OverallScore         float64
	ResolutionScore      float64
	EfficiencyScore      float64
	EmpathyScore         float64
	AccuracyScore        float64
	WasSuccessful        bool
	FailurePoint         string
	FailureReason        string
	ImprovementSuggestion string
	Complexity           string
	CallerDropped        bool
	KeyObservations      []string
	CreatedAt            time.Time
}

// clampScore enforces the §4.K [0,1] clamp on overall_score (and, for
// consistency, the per-dimension scores the LLM returns alongside it).
func clampScore(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

// PromptVersion is (practice, version) -> prompt_text with rolling metrics
// (spec §3). Invariant P4: at most one active version per practice.
type PromptVersion struct {
	ID              uuid.UUID
	PracticeID      uuid.UUID
	Version         int
	PromptText      string
	ChangeReason    string
	IsActive        bool
	ActivatedAt     *time.Time
	DeactivatedAt   *time.Time
	TotalCalls      int
	SuccessfulCalls int
	AvgScore        float64
	BookingRate     float64
	CreatedAt       time.Time
}

// InsightType/Severity/Status are closed enumerations for FeedbackInsight.
type InsightStatus string

const (
	InsightStatusOpen      InsightStatus = "open"
	InsightStatusApplied   InsightStatus = "applied"
	InsightStatusDismissed InsightStatus = "dismissed"
)

// FeedbackInsight is a detected recurring pattern across recent calls
// (spec §3, §4.K pattern detection).
type FeedbackInsight struct {
	ID            uuid.UUID
	PracticeID    uuid.UUID
	Type          string
	Category      string
	Severity      string
	Title         string
	Description   string
	SuggestedFix  string
	AffectedCalls int
	Status        InsightStatus
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// analysisPayload is the LLM's JSON-mode per-call scoring response (§4.K:
// "Parse scores, failure point/reason, improvement suggestion, complexity,
// caller_dropped, key_observations").
type analysisPayload struct {
	OverallScore          float64  `json:"overall_score"`
	ResolutionScore       float64  `json:"resolution_score"`
	EfficiencyScore       float64  `json:"efficiency_score"`
	EmpathyScore          float64  `json:"empathy_score"`
	AccuracyScore         float64  `json:"accuracy_score"`
	WasSuccessful         bool     `json:"was_successful"`
	FailurePoint          string   `json:"failure_point"`
	FailureReason         string   `json:"failure_reason"`
	ImprovementSuggestion string   `json:"improvement_suggestion"`
	Complexity            string   `json:"complexity"`
	CallerDropped         bool     `json:"caller_dropped"`
	KeyObservations       []string `json:"key_observations"`
}

// insightsPayload is the pattern-detection aggregation response.
type insightsPayload struct {
	Insights []insightItem `json:"insights"`
}

type insightItem struct {
	Type          string `json:"type"`
	Category      string `json:"category"`
	Severity      string `json:"severity"`
	Title         string `json:"title"`
	Description   string `json:"description"`
	SuggestedFix  string `json:"suggested_fix"`
	AffectedCalls int    `json:"affected_calls"`
}

// promptPayload is the prompt-improvement response (§4.K "Prompt improvement").
type promptPayload struct {
	Prompt string `json:"prompt"`
}

const (
	maxTranscriptBytes = 8000
	patternDetectEvery = 10
	patternScoreAlert  = 0.3
	recentWindow       = 24 * time.Hour
	recentRowLimit     = 100
)

func truncateBytes(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
