package sqlstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/felixgeelhaar/nosubvo/internal/domain"
	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
)

// ProgressRepository implements domain.ProgressRepository
type ProgressRepository struct {
	q sqlx.ExtContext
}

// Upsert writes the ledger entry for (UserID, ExerciseID), replacing any
// previous outcome for the pair.
func (r *ProgressRepository) Upsert(ctx context.Context, e *domain.ProgressEntry) error {
	query := r.q.Rebind(`
		INSERT INTO user_progress (user_id, exercise_id, status, comprehension_score,
			questions_answered, questions_correct, reading_speed_wpm,
			session_duration_seconds, completed_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (user_id, exercise_id) DO UPDATE SET
			status = excluded.status,
			comprehension_score = excluded.comprehension_score,
			questions_answered = excluded.questions_answered,
			questions_correct = excluded.questions_correct,
			reading_speed_wpm = excluded.reading_speed_wpm,
			session_duration_seconds = excluded.session_duration_seconds,
			completed_at = excluded.completed_at`)

	_, err := r.q.ExecContext(ctx, query,
		e.UserID, e.ExerciseID, string(e.Status), e.ComprehensionScore,
		e.QuestionsAnswered, e.QuestionsCorrect, e.ReadingSpeedWPM,
		e.SessionDurationSeconds, e.CompletedAt)
	if err != nil {
		return fmt.Errorf("upsert progress: %w", err)
	}
	return nil
}

// Get returns the ledger entry for a pair or domain.ErrNotFound
func (r *ProgressRepository) Get(ctx context.Context, userID uuid.UUID, exerciseID int64) (*domain.ProgressEntry, error) {
	var e domain.ProgressEntry
	err := sqlx.GetContext(ctx, r.q, &e, r.q.Rebind(`
		SELECT user_id, exercise_id, status, comprehension_score, questions_answered,
			questions_correct, reading_speed_wpm, session_duration_seconds, completed_at
		FROM user_progress WHERE user_id = ? AND exercise_id = ?`), userID, exerciseID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get progress: %w", err)
	}
	return &e, nil
}

// CompletedExerciseIDs lists exercises the user has completed
func (r *ProgressRepository) CompletedExerciseIDs(ctx context.Context, userID uuid.UUID) ([]int64, error) {
	var ids []int64
	err := sqlx.SelectContext(ctx, r.q, &ids, r.q.Rebind(`
		SELECT exercise_id FROM user_progress
		WHERE user_id = ? AND status = ? ORDER BY exercise_id`),
		userID, string(domain.StatusCompleted))
	if err != nil {
		return nil, fmt.Errorf("list completed exercises: %w", err)
	}
	return ids, nil
}

// Stats aggregates the user's ledger. Average comprehension considers
// completed entries only; average speed considers every entry.
func (r *ProgressRepository) Stats(ctx context.Context, userID uuid.UUID) (*domain.ProgressStats, error) {
	var row struct {
		Total     int             `db:"total"`
		Completed sql.NullInt64   `db:"completed"`
		Failed    sql.NullInt64   `db:"failed"`
		AvgComp   sql.NullFloat64 `db:"avg_comprehension"`
		AvgWPM    sql.NullFloat64 `db:"avg_wpm"`
		Seconds   sql.NullInt64   `db:"total_seconds"`
	}

	err := sqlx.GetContext(ctx, r.q, &row, r.q.Rebind(`
		SELECT
			COUNT(*) AS total,
			SUM(CASE WHEN status = 'completed' THEN 1 ELSE 0 END) AS completed,
			SUM(CASE WHEN status = 'failed' THEN 1 ELSE 0 END) AS failed,
			AVG(CASE WHEN status = 'completed' THEN comprehension_score END) AS avg_comprehension,
			AVG(reading_speed_wpm) AS avg_wpm,
			SUM(session_duration_seconds) AS total_seconds
		FROM user_progress WHERE user_id = ?`), userID)
	if err != nil {
		return nil, fmt.Errorf("aggregate progress: %w", err)
	}

	return &domain.ProgressStats{
		Total:               row.Total,
		Completed:           int(row.Completed.Int64),
		Failed:              int(row.Failed.Int64),
		AvgComprehension:    row.AvgComp.Float64,
		AvgReadingSpeedWPM:  row.AvgWPM.Float64,
		TotalReadingSeconds: row.Seconds.Int64,
	}, nil
}

var _ domain.ProgressRepository = (*ProgressRepository)(nil)
