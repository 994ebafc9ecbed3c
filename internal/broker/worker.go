package broker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/felixgeelhaar/nosubvo/internal/domain"
)

// QuestionGenerator produces comprehension questions for a text
type QuestionGenerator interface {
	Generate(ctx context.Context, text string, n int) ([]domain.Question, error)
}

// QuestionWorker fills an exercise's questions from a generation job
type QuestionWorker struct {
	gen    QuestionGenerator
	tx     domain.Transactor
	logger *slog.Logger
}

// NewQuestionWorker creates a worker storing results through tx
func NewQuestionWorker(gen QuestionGenerator, tx domain.Transactor, logger *slog.Logger) *QuestionWorker {
	if logger == nil {
		logger = slog.Default()
	}
	return &QuestionWorker{gen: gen, tx: tx, logger: logger}
}

// Handle generates questions for job.ExerciseID and stores them.
// A job for a deleted exercise is dropped.
func (w *QuestionWorker) Handle(ctx context.Context, job *domain.QuestionsRequested) error {
	exercise, err := w.load(ctx, job.ExerciseID)
	if errors.Is(err, domain.ErrExerciseNotFound) {
		w.logger.Warn("question job for unknown exercise", "exercise_id", job.ExerciseID)
		return nil
	}
	if err != nil {
		return err
	}

	questions, err := w.gen.Generate(ctx, exercise.Text, job.Count)
	if err != nil {
		return fmt.Errorf("generate questions: %w", err)
	}

	uow, err := w.tx.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	if err := uow.Exercises().UpdateQuestions(ctx, exercise.ID, questions); err != nil {
		_ = uow.Rollback()
		return fmt.Errorf("store questions: %w", err)
	}
	if err := uow.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}

	w.logger.Info("questions generated",
		"job_id", job.ID,
		"exercise_id", exercise.ID,
		"count", len(questions),
	)
	return nil
}

func (w *QuestionWorker) load(ctx context.Context, id int64) (*domain.Exercise, error) {
	uow, err := w.tx.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin: %w", err)
	}
	defer uow.Rollback()

	return uow.Exercises().Get(ctx, id)
}

// LogAttempts returns a handler that records attempt events in the log
func LogAttempts(logger *slog.Logger) func(ctx context.Context, event *domain.AttemptRecorded) error {
	return func(_ context.Context, event *domain.AttemptRecorded) error {
		logger.Info("attempt recorded",
			"event_id", event.ID,
			"user_id", event.UserID,
			"exercise_id", event.ExerciseID,
			"status", event.Status,
			"comprehension", event.ComprehensionScore,
			"wpm", event.ReadingSpeedWPM,
		)
		return nil
	}
}
