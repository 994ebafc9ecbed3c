package broker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/felixgeelhaar/nosubvo/internal/domain"
)

// ErrMalformed marks a message that can never be processed
var ErrMalformed = errors.New("malformed message")

// Handler processes one message body
type Handler func(ctx context.Context, body []byte) error

// QuestionJobs decodes question-generation jobs for h
func QuestionJobs(h func(ctx context.Context, job *domain.QuestionsRequested) error) Handler {
	return func(ctx context.Context, body []byte) error {
		var job domain.QuestionsRequested
		if err := json.Unmarshal(body, &job); err != nil {
			return fmt.Errorf("%w: %v", ErrMalformed, err)
		}
		if job.ExerciseID <= 0 {
			return fmt.Errorf("%w: missing exercise_id", ErrMalformed)
		}
		return h(ctx, &job)
	}
}

// Attempts decodes attempt events for h
func Attempts(h func(ctx context.Context, event *domain.AttemptRecorded) error) Handler {
	return func(ctx context.Context, body []byte) error {
		var event domain.AttemptRecorded
		if err := json.Unmarshal(body, &event); err != nil {
			return fmt.Errorf("%w: %v", ErrMalformed, err)
		}
		return h(ctx, &event)
	}
}

// ConsumerConfig holds consumer configuration
type ConsumerConfig struct {
	Queue    string
	Workers  int           // number of concurrent workers
	Prefetch int           // prefetch count per channel
	Timeout  time.Duration // per-message deadline
}

// DefaultConsumerConfig returns the question-job defaults
func DefaultConsumerConfig() ConsumerConfig {
	return ConsumerConfig{
		Queue:    QuestionJobQueueName,
		Workers:  2,
		Prefetch: 1,
		Timeout:  2 * time.Minute,
	}
}

// Consumer feeds messages from one queue to a pool of workers
type Consumer struct {
	conn    *Connection
	handler Handler
	cfg     ConsumerConfig
	logger  *slog.Logger
}

// NewConsumer creates a consumer; zero config fields take the defaults
func NewConsumer(conn *Connection, handler Handler, cfg ConsumerConfig, logger *slog.Logger) *Consumer {
	def := DefaultConsumerConfig()
	if cfg.Queue == "" {
		cfg.Queue = def.Queue
	}
	if cfg.Workers <= 0 {
		cfg.Workers = def.Workers
	}
	if cfg.Prefetch <= 0 {
		cfg.Prefetch = def.Prefetch
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = def.Timeout
	}
	if logger == nil {
		logger = slog.Default()
	}

	return &Consumer{
		conn:    conn,
		handler: handler,
		cfg:     cfg,
		logger:  logger.With("queue", cfg.Queue),
	}
}

// Run consumes until ctx is cancelled, re-subscribing after a reconnect
func (c *Consumer) Run(ctx context.Context) error {
	for {
		msgs, err := c.subscribe()
		if err != nil {
			return err
		}

		c.logger.Info("consumer started", "workers", c.cfg.Workers, "prefetch", c.cfg.Prefetch)

		var wg sync.WaitGroup
		for i := 0; i < c.cfg.Workers; i++ {
			wg.Add(1)
			go func(id int) {
				defer wg.Done()
				c.worker(ctx, id, msgs)
			}(i)
		}
		wg.Wait()

		select {
		case <-ctx.Done():
			c.logger.Info("consumer stopped")
			return nil
		case <-c.conn.Reconnected():
			c.logger.Info("re-subscribing after reconnect")
		}
	}
}

func (c *Consumer) subscribe() (<-chan amqp.Delivery, error) {
	ch := c.conn.Channel()
	if ch == nil {
		return nil, ErrClosed
	}

	if err := ch.Qos(c.cfg.Prefetch, 0, false); err != nil {
		return nil, fmt.Errorf("set QoS: %w", err)
	}

	msgs, err := ch.Consume(
		c.cfg.Queue,
		"",    // consumer tag (auto-generated)
		false, // auto-ack
		false, // exclusive
		false, // no-local
		false, // no-wait
		nil,
	)
	if err != nil {
		return nil, fmt.Errorf("start consuming %s: %w", c.cfg.Queue, err)
	}
	return msgs, nil
}

func (c *Consumer) worker(ctx context.Context, id int, msgs <-chan amqp.Delivery) {
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-msgs:
			if !ok {
				c.logger.Debug("message channel closed", "worker_id", id)
				return
			}
			c.process(ctx, id, msg)
		}
	}
}

// process runs the handler and settles the delivery. Malformed messages are
// dropped; other failures are requeued once.
func (c *Consumer) process(ctx context.Context, workerID int, msg amqp.Delivery) {
	start := time.Now()

	msgCtx, cancel := context.WithTimeout(ctx, c.cfg.Timeout)
	defer cancel()

	err := c.handler(msgCtx, msg.Body)
	switch {
	case err == nil:
		if ackErr := msg.Ack(false); ackErr != nil {
			c.logger.Error("failed to ack message", "worker_id", workerID, "error", ackErr)
		}
		c.logger.Debug("message processed", "worker_id", workerID, "duration", time.Since(start))

	case errors.Is(err, ErrMalformed):
		c.logger.Error("rejecting malformed message", "worker_id", workerID, "error", err)
		_ = msg.Reject(false)

	case msg.Redelivered:
		c.logger.Error("message failed after redelivery, dropping",
			"worker_id", workerID,
			"error", err,
			"duration", time.Since(start),
		)
		_ = msg.Reject(false)

	default:
		c.logger.Warn("message failed, requeueing",
			"worker_id", workerID,
			"error", err,
			"duration", time.Since(start),
		)
		_ = msg.Nack(false, true)
	}
}
