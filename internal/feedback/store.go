package feedback

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// DB is the query surface the store needs, satisfied by *pgxpool.Pool and
// by pgxmock in tests.
type DB interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Begin(ctx context.Context) (pgx.Tx, error)
}

// Store persists CallFeedback, PromptVersion, and FeedbackInsight rows.
type Store struct {
	db DB
}

// NewStore wraps db. Panics on a nil db, matching the teacher's
// constructor-precondition style.
func NewStore(db DB) *Store {
	if db == nil {
		panic("feedback: NewStore: nil db")
	}
	return &Store{db: db}
}

// ActivePromptVersion returns the currently active PromptVersion for a
// practice, or nil if none has ever been created.
func (s *Store) ActivePromptVersion(ctx context.Context, practiceID uuid.UUID) (*PromptVersion, error) {
	row := s.db.QueryRow(ctx, promptVersionSelectSQL+` WHERE practice_id = $1 AND is_active = true`, practiceID)
	return scanPromptVersion(row)
}

// CountFeedback reports how many CallFeedback rows exist for a practice,
// used to trigger pattern detection every 10 calls.
func (s *Store) CountFeedback(ctx context.Context, practiceID uuid.UUID) (int, error) {
	row := s.db.QueryRow(ctx, `SELECT COUNT(*) FROM call_feedback WHERE practice_id = $1`, practiceID)
	var n int
	if err := row.Scan(&n); err != nil {
		return 0, fmt.Errorf("feedback: count feedback: %w", err)
	}
	return n, nil
}

// FeedbackExists reports whether a CallFeedback row already exists for the
// call, implementing §4.K's "skip if ... feedback already exists" guard.
func (s *Store) FeedbackExists(ctx context.Context, callID uuid.UUID) (bool, error) {
	row := s.db.QueryRow(ctx, `SELECT 1 FROM call_feedback WHERE call_id = $1 LIMIT 1`, callID)
	var one int
	if err := row.Scan(&one); err != nil {
		if err == pgx.ErrNoRows {
			return false, nil
		}
		return false, fmt.Errorf("feedback: feedback exists: %w", err)
	}
	return true, nil
}

// SaveCallFeedback inserts one CallFeedback row, linked to the call and to
// the currently active PromptVersion (may be nil if none is configured yet).
func (s *Store) SaveCallFeedback(ctx context.Context, cf *CallFeedback) error {
	if cf.ID == uuid.Nil {
		cf.ID = uuid.New()
	}
	cf.CreatedAt = time.Now().UTC()
	observations, err := json.Marshal(cf.KeyObservations)
	if err != nil {
		return fmt.Errorf("feedback: marshal key observations: %w", err)
	}
	_, err = s.db.Exec(ctx, `
		INSERT INTO call_feedback (id, practice_id, call_id, prompt_version_id, overall_score,
			resolution_score, efficiency_score, empathy_score, accuracy_score, was_successful,
			failure_point, failure_reason, improvement_suggestion, complexity, caller_dropped,
			key_observations, created_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17)`,
		cf.ID, cf.PracticeID, cf.CallID, cf.PromptVersionID, cf.OverallScore,
		cf.ResolutionScore, cf.EfficiencyScore, cf.EmpathyScore, cf.AccuracyScore, cf.WasSuccessful,
		cf.FailurePoint, cf.FailureReason, cf.ImprovementSuggestion, cf.Complexity, cf.CallerDropped,
		observations, cf.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("feedback: save call feedback: %w", err)
	}
	return nil
}

// RecentFeedback returns up to recentRowLimit CallFeedback rows from the
// last recentWindow, the candidate set for pattern detection (§4.K).
func (s *Store) RecentFeedback(ctx context.Context, practiceID uuid.UUID) ([]*CallFeedback, error) {
	since := time.Now().UTC().Add(-recentWindow)
	rows, err := s.db.Query(ctx, `
		SELECT id, practice_id, call_id, prompt_version_id, overall_score, resolution_score,
		       efficiency_score, empathy_score, accuracy_score, was_successful,
		       COALESCE(failure_point,''), COALESCE(failure_reason,''), COALESCE(improvement_suggestion,''),
		       COALESCE(complexity,''), caller_dropped, key_observations, created_at
		FROM call_feedback
		WHERE practice_id = $1 AND created_at >= $2
		ORDER BY created_at DESC
		LIMIT $3`, practiceID, since, recentRowLimit)
	if err != nil {
		return nil, fmt.Errorf("feedback: recent feedback: %w", err)
	}
	defer rows.Close()
	var out []*CallFeedback
	for rows.Next() {
		cf, err := scanCallFeedback(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, cf)
	}
	return out, rows.Err()
}

// InsightOpenExists implements the pattern detector's dedup-by-title rule:
// an open insight with the same title is not recreated.
func (s *Store) InsightOpenExists(ctx context.Context, practiceID uuid.UUID, title string) (bool, error) {
	row := s.db.QueryRow(ctx, `
		SELECT 1 FROM feedback_insights WHERE practice_id = $1 AND title = $2 AND status = $3 LIMIT 1`,
		practiceID, title, InsightStatusOpen)
	var one int
	if err := row.Scan(&one); err != nil {
		if err == pgx.ErrNoRows {
			return false, nil
		}
		return false, fmt.Errorf("feedback: insight open exists: %w", err)
	}
	return true, nil
}

// SaveInsight inserts a new FeedbackInsight row, defaulting to open status.
func (s *Store) SaveInsight(ctx context.Context, in *FeedbackInsight) error {
	if in.ID == uuid.Nil {
		in.ID = uuid.New()
	}
	if in.Status == "" {
		in.Status = InsightStatusOpen
	}
	now := time.Now().UTC()
	in.CreatedAt, in.UpdatedAt = now, now
	_, err := s.db.Exec(ctx, `
		INSERT INTO feedback_insights (id, practice_id, type, category, severity, title, description,
			suggested_fix, affected_calls, status, created_at, updated_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12)`,
		in.ID, in.PracticeID, in.Type, in.Category, in.Severity, in.Title, in.Description,
		in.SuggestedFix, in.AffectedCalls, string(in.Status), in.CreatedAt, in.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("feedback: save insight: %w", err)
	}
	return nil
}

// OpenInsights returns the open FeedbackInsights for a practice, the input
// to prompt improvement (§4.K "Prompt improvement").
func (s *Store) OpenInsights(ctx context.Context, practiceID uuid.UUID) ([]*FeedbackInsight, error) {
	rows, err := s.db.Query(ctx, `
		SELECT id, practice_id, type, category, severity, title, description,
		       COALESCE(suggested_fix,''), affected_calls, status, created_at, updated_at
		FROM feedback_insights
		WHERE practice_id = $1 AND status = $2
		ORDER BY created_at DESC`, practiceID, InsightStatusOpen)
	if err != nil {
		return nil, fmt.Errorf("feedback: open insights: %w", err)
	}
	defer rows.Close()
	var out []*FeedbackInsight
	for rows.Next() {
		var in FeedbackInsight
		var status string
		if err := rows.Scan(&in.ID, &in.PracticeID, &in.Type, &in.Category, &in.Severity, &in.Title,
			&in.Description, &in.SuggestedFix, &in.AffectedCalls, &status, &in.CreatedAt, &in.UpdatedAt); err != nil {
			return nil, fmt.Errorf("feedback: scan insight: %w", err)
		}
		in.Status = InsightStatus(status)
		out = append(out, &in)
	}
	return out, rows.Err()
}

// Apply implements PromptVersion.apply (§4.K): atomically deactivate the
// current active version and insert the new one with version = max+1.
func (s *Store) Apply(ctx context.Context, practiceID uuid.UUID, newPrompt, reason string) (*PromptVersion, error) {
	tx, err := s.db.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("feedback: apply: begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	now := time.Now().UTC()
	if _, err := tx.Exec(ctx, `
		UPDATE prompt_versions SET is_active = false, deactivated_at = $1
		WHERE practice_id = $2 AND is_active = true`, now, practiceID); err != nil {
		return nil, fmt.Errorf("feedback: apply: deactivate: %w", err)
	}

	var maxVersion int
	row := tx.QueryRow(ctx, `SELECT COALESCE(MAX(version), 0) FROM prompt_versions WHERE practice_id = $1`, practiceID)
	if err := row.Scan(&maxVersion); err != nil {
		return nil, fmt.Errorf("feedback: apply: max version: %w", err)
	}

	pv := &PromptVersion{
		ID:          uuid.New(),
		PracticeID:  practiceID,
		Version:     maxVersion + 1,
		PromptText:  newPrompt,
		ChangeReason: reason,
		IsActive:    true,
		ActivatedAt: &now,
		CreatedAt:   now,
	}
	if _, err := tx.Exec(ctx, `
		INSERT INTO prompt_versions (id, practice_id, version, prompt_text, change_reason, is_active,
			activated_at, total_calls, successful_calls, avg_score, booking_rate, created_at)
		VALUES ($1,$2,$3,$4,$5,true,$6,0,0,0,0,$7)`,
		pv.ID, pv.PracticeID, pv.Version, pv.PromptText, pv.ChangeReason, pv.ActivatedAt, pv.CreatedAt,
	); err != nil {
		return nil, fmt.Errorf("feedback: apply: insert: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("feedback: apply: commit: %w", err)
	}
	return pv, nil
}

// RecomputeMetrics implements the §4.K "Prompt metrics update" step: rolling
// total_calls/successful_calls/avg_score/booking_rate for the active
// PromptVersion, booking_rate scoped to calls that produced an appointment.
func (s *Store) RecomputeMetrics(ctx context.Context, practiceID, promptVersionID uuid.UUID) error {
	row := s.db.QueryRow(ctx, `
		SELECT COUNT(*), COALESCE(SUM(CASE WHEN cf.was_successful THEN 1 ELSE 0 END), 0),
		       COALESCE(AVG(cf.overall_score), 0)
		FROM call_feedback cf
		WHERE cf.practice_id = $1 AND cf.prompt_version_id = $2`, practiceID, promptVersionID)
	var total, successful int
	var avg float64
	if err := row.Scan(&total, &successful, &avg); err != nil {
		return fmt.Errorf("feedback: recompute metrics: scores: %w", err)
	}

	bookingRow := s.db.QueryRow(ctx, `
		SELECT COUNT(*), COALESCE(SUM(CASE WHEN c.appointment_id IS NOT NULL THEN 1 ELSE 0 END), 0)
		FROM call_feedback cf
		JOIN calls c ON c.id = cf.call_id
		WHERE cf.practice_id = $1 AND cf.prompt_version_id = $2`, practiceID, promptVersionID)
	var bookingTotal, booked int
	if err := bookingRow.Scan(&bookingTotal, &booked); err != nil {
		return fmt.Errorf("feedback: recompute metrics: booking rate: %w", err)
	}
	bookingRate := 0.0
	if bookingTotal > 0 {
		bookingRate = float64(booked) / float64(bookingTotal)
	}

	_, err := s.db.Exec(ctx, `
		UPDATE prompt_versions SET total_calls = $1, successful_calls = $2, avg_score = $3, booking_rate = $4
		WHERE id = $5`, total, successful, avg, bookingRate, promptVersionID)
	if err != nil {
		return fmt.Errorf("feedback: recompute metrics: update: %w", err)
	}
	return nil
}

const promptVersionSelectSQL = `
	SELECT id, practice_id, version, prompt_text, COALESCE(change_reason,''), is_active,
	       activated_at, deactivated_at, total_calls, successful_calls, avg_score, booking_rate, created_at
	FROM prompt_versions`

func scanPromptVersion(row pgx.Row) (*PromptVersion, error) {
	var pv PromptVersion
	if err := row.Scan(&pv.ID, &pv.PracticeID, &pv.Version, &pv.PromptText, &pv.ChangeReason, &pv.IsActive,
		&pv.ActivatedAt, &pv.DeactivatedAt, &pv.TotalCalls, &pv.SuccessfulCalls, &pv.AvgScore, &pv.BookingRate,
		&pv.CreatedAt); err != nil {
		if err == pgx.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("feedback: scan prompt version: %w", err)
	}
	return &pv, nil
}

func scanCallFeedback(rows pgx.Rows) (*CallFeedback, error) {
	var cf CallFeedback
	var observations []byte
	if err := rows.Scan(&cf.ID, &cf.PracticeID, &cf.CallID, &cf.PromptVersionID, &cf.OverallScore,
		&cf.ResolutionScore, &cf.EfficiencyScore, &cf.EmpathyScore, &cf.AccuracyScore, &cf.WasSuccessful,
		&cf.FailurePoint, &cf.FailureReason, &cf.ImprovementSuggestion, &cf.Complexity, &cf.CallerDropped,
		&observations, &cf.CreatedAt); err != nil {
		return nil, fmt.Errorf("feedback: scan call feedback: %w", err)
	}
	if len(observations) > 0 {
		_ = json.Unmarshal(observations, &cf.KeyObservations)
	}
	return &cf, nil
}
