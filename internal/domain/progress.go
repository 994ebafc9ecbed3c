package domain

import (
	"fmt"
	"math"
	"time"

	"github.com/google/uuid"
)

// CompletedThreshold is the minimum comprehension score that completes an exercise
const CompletedThreshold = 0.7

// ProgressStatus is the outcome recorded for a (user, exercise) pair
type ProgressStatus string

const (
	StatusPending   ProgressStatus = "pending"
	StatusCompleted ProgressStatus = "completed"
	StatusFailed    ProgressStatus = "failed"
)

// ProgressEntry is the ledger row for one user and one exercise
type ProgressEntry struct {
	UserID                 uuid.UUID      `json:"user_id" db:"user_id"`
	ExerciseID             int64          `json:"exercise_id" db:"exercise_id"`
	Status                 ProgressStatus `json:"status" db:"status"`
	ComprehensionScore     float64        `json:"comprehension_score" db:"comprehension_score"`
	QuestionsAnswered      int            `json:"questions_answered" db:"questions_answered"`
	QuestionsCorrect       int            `json:"questions_correct" db:"questions_correct"`
	ReadingSpeedWPM        float64        `json:"reading_speed_wpm" db:"reading_speed_wpm"`
	SessionDurationSeconds int            `json:"session_duration_seconds" db:"session_duration_seconds"`
	CompletedAt            time.Time      `json:"completed_at" db:"completed_at"`
}

// Attempt is a submitted reading session for an exercise
type Attempt struct {
	ExerciseID             int64   `json:"exercise_id"`
	ComprehensionScore     float64 `json:"comprehension_score"`
	QuestionsAnswered      int     `json:"questions_answered"`
	QuestionsCorrect       int     `json:"questions_correct"`
	ReadingSpeedWPM        float64 `json:"reading_speed_wpm"`
	SessionDurationSeconds int     `json:"session_duration_seconds"`
}

// Validate checks the attempt before anything is written
func (a Attempt) Validate() error {
	switch {
	case a.ExerciseID <= 0:
		return fmt.Errorf("%w: exercise_id must be positive", ErrInvalidInput)
	case math.IsNaN(a.ComprehensionScore) || a.ComprehensionScore < 0 || a.ComprehensionScore > 1:
		return fmt.Errorf("%w: comprehension_score must be within [0, 1]", ErrInvalidInput)
	case a.QuestionsAnswered < 0 || a.QuestionsCorrect < 0:
		return fmt.Errorf("%w: question counts must be non-negative", ErrInvalidInput)
	case a.QuestionsCorrect > a.QuestionsAnswered:
		return fmt.Errorf("%w: questions_correct exceeds questions_answered", ErrInvalidInput)
	case math.IsNaN(a.ReadingSpeedWPM) || a.ReadingSpeedWPM < 0:
		return fmt.Errorf("%w: reading_speed_wpm must be non-negative", ErrInvalidInput)
	case a.SessionDurationSeconds < 0:
		return fmt.Errorf("%w: session_duration_seconds must be non-negative", ErrInvalidInput)
	}
	return nil
}

// Outcome maps the comprehension score to a progress status
func (a Attempt) Outcome() ProgressStatus {
	if a.ComprehensionScore >= CompletedThreshold {
		return StatusCompleted
	}
	return StatusFailed
}

// Entry builds the ledger row recorded for this attempt
func (a Attempt) Entry(userID uuid.UUID, at time.Time) ProgressEntry {
	return ProgressEntry{
		UserID:                 userID,
		ExerciseID:             a.ExerciseID,
		Status:                 a.Outcome(),
		ComprehensionScore:     a.ComprehensionScore,
		QuestionsAnswered:      a.QuestionsAnswered,
		QuestionsCorrect:       a.QuestionsCorrect,
		ReadingSpeedWPM:        a.ReadingSpeedWPM,
		SessionDurationSeconds: a.SessionDurationSeconds,
		CompletedAt:            at,
	}
}

// ProgressStats are the raw aggregates kept by the ledger
type ProgressStats struct {
	Total               int     `db:"total"`
	Completed           int     `db:"completed"`
	Failed              int     `db:"failed"`
	AvgComprehension    float64 `db:"avg_comprehension"`
	AvgReadingSpeedWPM  float64 `db:"avg_wpm"`
	TotalReadingSeconds int64   `db:"total_seconds"`
}

// ProgressReport is the per-user summary shown to learners
type ProgressReport struct {
	TotalExercises      int     `json:"total_exercises"`
	CompletedExercises  int     `json:"completed_exercises"`
	FailedExercises     int     `json:"failed_exercises"`
	AvgComprehension    float64 `json:"avg_comprehension"`
	AvgReadingSpeedWPM  float64 `json:"avg_reading_speed_wpm"`
	TotalReadingSeconds int64   `json:"total_reading_time_seconds"`
	QueueCount          int     `json:"queue_count"`
	CompletionRate      float64 `json:"completion_rate"`
}

// NewProgressReport rounds ledger aggregates for display. Comprehension keeps
// two decimals; speed and completion rate (a percentage) keep one.
func NewProgressReport(s ProgressStats, queueCount int) ProgressReport {
	return ProgressReport{
		TotalExercises:      s.Total,
		CompletedExercises:  s.Completed,
		FailedExercises:     s.Failed,
		AvgComprehension:    round(s.AvgComprehension, 2),
		AvgReadingSpeedWPM:  round(s.AvgReadingSpeedWPM, 1),
		TotalReadingSeconds: s.TotalReadingSeconds,
		QueueCount:          queueCount,
		CompletionRate:      round(float64(s.Completed)/float64(max(s.Total, 1))*100, 1),
	}
}

func round(v float64, places int) float64 {
	p := math.Pow(10, float64(places))
	return math.Round(v*p) / p
}
