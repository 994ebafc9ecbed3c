// Package queue maintains each learner's ordered exercise queue and records
// attempt outcomes in the progress ledger.
//
// A queue is seeded from the catalog in the learner's language, easiest
// first, with ties broken randomly. Completing an exercise removes it and
// closes the gap; failing one sends it to the back. Positions always run
// 1..N without gaps, so the next exercise is the one at position 1.
package queue

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"sort"
	"sync"
	"time"

	"github.com/felixgeelhaar/nosubvo/internal/domain"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const tracerName = "github.com/felixgeelhaar/nosubvo/internal/queue"

// Shuffler is the randomness source used to break difficulty ties.
// *rand.Rand satisfies it.
type Shuffler interface {
	Shuffle(n int, swap func(i, j int))
}

// AttemptPublisher receives committed attempts
type AttemptPublisher interface {
	PublishAttempt(ctx context.Context, event domain.AttemptRecorded) error
}

// Manager owns queue and ledger mutations
type Manager struct {
	tx domain.Transactor

	mu  sync.Mutex // guards rng
	rng Shuffler

	now       func() time.Time
	publisher AttemptPublisher
	logger    *slog.Logger
	tracer    trace.Tracer
}

// Option configures a Manager
type Option func(*Manager)

// WithShuffler sets the tie-breaking randomness source
func WithShuffler(s Shuffler) Option {
	return func(m *Manager) { m.rng = s }
}

// WithSeed uses a deterministic source seeded with seed
func WithSeed(seed uint64) Option {
	return func(m *Manager) { m.rng = rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15)) }
}

// WithClock sets the time source used for completed_at and added_at
func WithClock(now func() time.Time) Option {
	return func(m *Manager) { m.now = now }
}

// WithPublisher sends AttemptRecorded events after each committed attempt
func WithPublisher(p AttemptPublisher) Option {
	return func(m *Manager) { m.publisher = p }
}

// WithLogger sets the logger
func WithLogger(l *slog.Logger) Option {
	return func(m *Manager) { m.logger = l }
}

// NewManager creates a Manager. Without WithShuffler or WithSeed the
// tie-breaker is seeded from the clock.
func NewManager(tx domain.Transactor, opts ...Option) *Manager {
	seed := uint64(time.Now().UnixNano())
	m := &Manager{
		tx:     tx,
		rng:    rand.New(rand.NewPCG(seed, seed>>1)),
		now:    time.Now,
		logger: slog.Default(),
		tracer: otel.Tracer(tracerName),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// InitializeQueue queues every exercise in language that the user has not
// completed and that is not already queued. It returns the number added.
func (m *Manager) InitializeQueue(ctx context.Context, userID uuid.UUID, language string) (int, error) {
	ctx, span := m.tracer.Start(ctx, "queue.InitializeQueue", trace.WithAttributes(
		attribute.String("user.id", userID.String()),
		attribute.String("language", language),
	))
	defer span.End()

	var added int
	err := m.withTx(ctx, func(uow domain.UnitOfWork) error {
		var err error
		added, err = m.SeedQueue(ctx, uow, userID, language)
		return err
	})
	if err != nil {
		recordError(span, err)
		return 0, fmt.Errorf("initialize queue: %w", err)
	}

	span.SetAttributes(attribute.Int("queue.added", added))
	m.logger.Info("queue initialized", "user_id", userID, "language", language, "added", added)
	return added, nil
}

// SeedQueue does the work of InitializeQueue inside the caller's unit of
// work, so account creation and queue seeding commit together.
func (m *Manager) SeedQueue(ctx context.Context, uow domain.UnitOfWork, userID uuid.UUID, language string) (int, error) {
	if language == "" {
		language = domain.DefaultLanguage
	}

	q := uow.Queue()
	if err := q.Lock(ctx, userID); err != nil {
		return 0, err
	}

	completed, err := uow.Progress().CompletedExerciseIDs(ctx, userID)
	if err != nil {
		return 0, err
	}
	queued, err := q.QueuedExerciseIDs(ctx, userID)
	if err != nil {
		return 0, err
	}

	excluding := make([]int64, 0, len(completed)+len(queued))
	excluding = append(excluding, completed...)
	excluding = append(excluding, queued...)

	candidates, err := uow.Exercises().FindCandidates(ctx, language, excluding)
	if err != nil {
		return 0, err
	}
	if len(candidates) == 0 {
		return 0, nil
	}

	m.order(candidates)

	// Continue after existing entries so positions stay contiguous
	start, err := q.MaxPosition(ctx, userID)
	if err != nil {
		return 0, err
	}

	now := m.now().UTC()
	entries := make([]domain.QueueEntry, len(candidates))
	for i, c := range candidates {
		entries[i] = domain.QueueEntry{
			UserID:        userID,
			ExerciseID:    c.ID,
			QueuePosition: start + i + 1,
			AddedAt:       now,
		}
	}

	if err := q.Insert(ctx, entries); err != nil {
		return 0, err
	}
	return len(entries), nil
}

// order sorts candidates by difficulty rank. A shuffle beforehand combined
// with a stable sort gives a random order within each rank.
func (m *Manager) order(candidates []domain.ExerciseCandidate) {
	m.mu.Lock()
	m.rng.Shuffle(len(candidates), func(i, j int) {
		candidates[i], candidates[j] = candidates[j], candidates[i]
	})
	m.mu.Unlock()

	sort.SliceStable(candidates, func(i, j int) bool {
		return candidates[i].Difficulty.Rank() < candidates[j].Difficulty.Rank()
	})
}

// GetNext returns the exercise at the head of the user's queue, or nil when
// the queue is exhausted.
func (m *Manager) GetNext(ctx context.Context, userID uuid.UUID) (*domain.Exercise, error) {
	ctx, span := m.tracer.Start(ctx, "queue.GetNext", trace.WithAttributes(
		attribute.String("user.id", userID.String()),
	))
	defer span.End()

	var next *domain.Exercise
	err := m.withTx(ctx, func(uow domain.UnitOfWork) error {
		head, err := uow.Queue().EntryAt(ctx, userID, 1)
		if err != nil || head == nil {
			return err
		}
		next, err = uow.Exercises().Get(ctx, head.ExerciseID)
		return err
	})
	if err != nil {
		recordError(span, err)
		return nil, fmt.Errorf("get next exercise: %w", err)
	}

	span.SetAttributes(attribute.Bool("queue.exhausted", next == nil))
	return next, nil
}

// SubmitAttempt records an attempt in the ledger and repositions the
// exercise: completed attempts leave the queue, failed ones move to the back.
// Invalid attempts are rejected before anything is written.
func (m *Manager) SubmitAttempt(ctx context.Context, userID uuid.UUID, attempt domain.Attempt) (domain.ProgressStatus, error) {
	ctx, span := m.tracer.Start(ctx, "queue.SubmitAttempt", trace.WithAttributes(
		attribute.String("user.id", userID.String()),
		attribute.Int64("exercise.id", attempt.ExerciseID),
		attribute.Float64("comprehension_score", attempt.ComprehensionScore),
	))
	defer span.End()

	if err := attempt.Validate(); err != nil {
		recordError(span, err)
		return "", err
	}

	entry := attempt.Entry(userID, m.now().UTC())

	err := m.withTx(ctx, func(uow domain.UnitOfWork) error {
		q := uow.Queue()
		if err := q.Lock(ctx, userID); err != nil {
			return err
		}
		if _, err := uow.Exercises().Get(ctx, attempt.ExerciseID); err != nil {
			return err
		}
		if err := uow.Progress().Upsert(ctx, &entry); err != nil {
			return err
		}

		pos, queued, err := q.Position(ctx, userID, attempt.ExerciseID)
		if err != nil || !queued {
			return err
		}

		switch entry.Status {
		case domain.StatusCompleted:
			if err := q.Delete(ctx, userID, attempt.ExerciseID); err != nil {
				return err
			}
			return q.DecrementAbove(ctx, userID, pos)

		case domain.StatusFailed:
			last, err := q.MaxPosition(ctx, userID)
			if err != nil || pos == last {
				return err
			}
			if err := q.Reposition(ctx, userID, attempt.ExerciseID, last+1); err != nil {
				return err
			}
			return q.DecrementAbove(ctx, userID, pos)
		}
		return nil
	})
	if err != nil {
		recordError(span, err)
		return "", fmt.Errorf("submit attempt: %w", err)
	}

	span.SetAttributes(attribute.String("progress.status", string(entry.Status)))
	m.logger.Info("attempt recorded",
		"user_id", userID,
		"exercise_id", attempt.ExerciseID,
		"status", entry.Status,
		"score", attempt.ComprehensionScore,
	)

	if m.publisher != nil {
		if err := m.publisher.PublishAttempt(ctx, domain.NewAttemptRecorded(entry)); err != nil {
			m.logger.Warn("publish attempt event failed", "exercise_id", attempt.ExerciseID, "error", err)
		}
	}

	return entry.Status, nil
}

// Snapshot returns the user's queue in order
func (m *Manager) Snapshot(ctx context.Context, userID uuid.UUID) ([]domain.QueuedExercise, error) {
	var entries []domain.QueuedExercise
	err := m.withTx(ctx, func(uow domain.UnitOfWork) error {
		var err error
		entries, err = uow.Queue().List(ctx, userID)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("snapshot queue: %w", err)
	}
	return entries, nil
}

// Report summarizes the user's ledger and queue
func (m *Manager) Report(ctx context.Context, userID uuid.UUID) (domain.ProgressReport, error) {
	var report domain.ProgressReport
	err := m.withTx(ctx, func(uow domain.UnitOfWork) error {
		stats, err := uow.Progress().Stats(ctx, userID)
		if err != nil {
			return err
		}
		count, err := uow.Queue().Count(ctx, userID)
		if err != nil {
			return err
		}
		report = domain.NewProgressReport(*stats, count)
		return nil
	})
	if err != nil {
		return domain.ProgressReport{}, fmt.Errorf("progress report: %w", err)
	}
	return report, nil
}

// withTx runs fn in a unit of work, committing on success. The transaction
// is rolled back on every other path, including panics.
func (m *Manager) withTx(ctx context.Context, fn func(domain.UnitOfWork) error) error {
	uow, err := m.tx.Begin(ctx)
	if err != nil {
		return err
	}

	committed := false
	defer func() {
		if !committed {
			if rbErr := uow.Rollback(); rbErr != nil && !errors.Is(rbErr, context.Canceled) {
				m.logger.Debug("rollback", "error", rbErr)
			}
		}
	}()

	if err := fn(uow); err != nil {
		return err
	}
	if err := uow.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	committed = true
	return nil
}

func recordError(span trace.Span, err error) {
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
}
