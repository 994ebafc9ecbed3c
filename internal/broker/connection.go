// Package broker carries NoSubvo events and background jobs over RabbitMQ.
package broker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
)

// Queue names
const (
	AttemptQueueName     = "nosubvo.attempts"
	QuestionJobQueueName = "nosubvo.question_jobs"
)

const (
	maxReconnectAttempts = 10
	maxReconnectBackoff  = 30 * time.Second
)

// ErrClosed is returned when publishing on a closed connection
var ErrClosed = errors.New("broker connection closed")

// Connection manages the RabbitMQ connection with automatic reconnection
type Connection struct {
	url     string
	logger  *slog.Logger
	conn    *amqp.Connection
	channel *amqp.Channel
	mu      sync.RWMutex
	closed  bool
	done    chan struct{}

	// reconnected is signalled after every successful reconnect
	reconnected chan struct{}
}

// NewConnection dials RabbitMQ and declares the NoSubvo queues
func NewConnection(rawURL string, logger *slog.Logger) (*Connection, error) {
	if logger == nil {
		logger = slog.Default()
	}
	c := &Connection{
		url:         rawURL,
		logger:      logger.With("component", "broker"),
		done:        make(chan struct{}),
		reconnected: make(chan struct{}, 1),
	}

	if err := c.connect(); err != nil {
		return nil, err
	}

	return c, nil
}

func (c *Connection) connect() error {
	conn, err := amqp.Dial(c.url)
	if err != nil {
		return fmt.Errorf("connect to RabbitMQ: %w", err)
	}

	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return fmt.Errorf("open channel: %w", err)
	}

	if err := declareQueues(ch); err != nil {
		ch.Close()
		conn.Close()
		return err
	}

	c.mu.Lock()
	c.conn = conn
	c.channel = ch
	c.mu.Unlock()

	go c.handleReconnect(conn.NotifyClose(make(chan *amqp.Error, 1)))

	c.logger.Info("connected to RabbitMQ", "url", sanitizeURL(c.url))
	return nil
}

func declareQueues(ch *amqp.Channel) error {
	queues := []struct {
		name string
		args amqp.Table
	}{
		{AttemptQueueName, amqp.Table{"x-message-ttl": int32(24 * time.Hour / time.Millisecond)}},
		{QuestionJobQueueName, nil},
	}

	for _, q := range queues {
		_, err := ch.QueueDeclare(
			q.name,
			true,  // durable
			false, // delete when unused
			false, // exclusive
			false, // no-wait
			q.args,
		)
		if err != nil {
			return fmt.Errorf("declare queue %s: %w", q.name, err)
		}
	}
	return nil
}

// handleReconnect redials with exponential backoff after an unexpected close
func (c *Connection) handleReconnect(notifyClose <-chan *amqp.Error) {
	var amqpErr *amqp.Error
	select {
	case <-c.done:
		return
	case amqpErr = <-notifyClose:
	}
	if amqpErr == nil {
		return // normal close
	}

	c.logger.Warn("RabbitMQ connection closed, reconnecting", "error", amqpErr)

	for i := 0; i < maxReconnectAttempts; i++ {
		backoff := time.Duration(1<<i) * time.Second
		if backoff > maxReconnectBackoff {
			backoff = maxReconnectBackoff
		}

		select {
		case <-c.done:
			return
		case <-time.After(backoff):
		}

		if err := c.connect(); err != nil {
			c.logger.Error("reconnection failed", "error", err, "attempt", i+1)
			continue
		}

		c.logger.Info("reconnected to RabbitMQ", "attempts", i+1)
		select {
		case c.reconnected <- struct{}{}:
		default:
		}
		return
	}

	c.logger.Error("giving up on RabbitMQ", "attempts", maxReconnectAttempts)
}

// Channel returns the current channel
func (c *Connection) Channel() *amqp.Channel {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.channel
}

// Reconnected fires after the connection has been re-established
func (c *Connection) Reconnected() <-chan struct{} {
	return c.reconnected
}

// Close closes the connection and stops reconnecting
func (c *Connection) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return nil
	}
	c.closed = true
	close(c.done)

	if c.channel != nil {
		c.channel.Close()
	}
	if c.conn != nil {
		return c.conn.Close()
	}
	return nil
}

// IsConnected checks if the connection is active
func (c *Connection) IsConnected() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return !c.closed && c.conn != nil && !c.conn.IsClosed()
}

// PublishJSON publishes a persistent JSON message to a queue
func (c *Connection) PublishJSON(ctx context.Context, queue string, data any) error {
	body, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("marshal message: %w", err)
	}

	c.mu.RLock()
	ch, closed := c.channel, c.closed
	c.mu.RUnlock()
	if closed || ch == nil {
		return ErrClosed
	}

	return ch.PublishWithContext(
		ctx,
		"",    // default exchange
		queue, // routing key
		false, // mandatory
		false, // immediate
		amqp.Publishing{
			ContentType:  "application/json",
			DeliveryMode: amqp.Persistent,
			Timestamp:    time.Now().UTC(),
			Body:         body,
		},
	)
}

// sanitizeURL hides the password for logging
func sanitizeURL(raw string) string {
	u, err := url.Parse(raw)
	if err != nil || u.Host == "" {
		return "<invalid url>"
	}
	return u.Redacted()
}
