package broker

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/felixgeelhaar/nosubvo/internal/domain"
)

type jsonPublisher interface {
	PublishJSON(ctx context.Context, queue string, data any) error
}

// Producer publishes NoSubvo events and jobs
type Producer struct {
	pub    jsonPublisher
	logger *slog.Logger
}

// NewProducer creates a producer on conn
func NewProducer(conn *Connection, logger *slog.Logger) *Producer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Producer{pub: conn, logger: logger}
}

// PublishAttempt publishes a committed attempt to the attempts queue
func (p *Producer) PublishAttempt(ctx context.Context, event domain.AttemptRecorded) error {
	if err := p.pub.PublishJSON(ctx, AttemptQueueName, event); err != nil {
		return fmt.Errorf("publish attempt: %w", err)
	}

	p.logger.Debug("published attempt",
		"event_id", event.ID,
		"user_id", event.UserID,
		"exercise_id", event.ExerciseID,
		"status", event.Status,
	)
	return nil
}

// PublishQuestionJob enqueues question generation for an exercise
func (p *Producer) PublishQuestionJob(ctx context.Context, exerciseID int64, count int) error {
	job := domain.NewQuestionsRequested(exerciseID, count)
	if err := p.pub.PublishJSON(ctx, QuestionJobQueueName, job); err != nil {
		return fmt.Errorf("publish question job: %w", err)
	}

	p.logger.Info("queued question generation",
		"job_id", job.ID,
		"exercise_id", exerciseID,
		"count", count,
	)
	return nil
}
