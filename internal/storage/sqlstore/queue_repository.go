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

// QueueRepository implements domain.QueueRepository
type QueueRepository struct {
	q      sqlx.ExtContext
	sqlite bool
}

// Lock takes a row lock on the user so concurrent queue mutations for the
// same user serialize. SQLite already allows a single writer.
func (r *QueueRepository) Lock(ctx context.Context, userID uuid.UUID) error {
	if r.sqlite {
		return nil
	}
	var id uuid.UUID
	err := sqlx.GetContext(ctx, r.q, &id, r.q.Rebind(`SELECT id FROM users WHERE id = ? FOR UPDATE`), userID)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.ErrUserNotFound
	}
	if err != nil {
		return fmt.Errorf("lock user queue: %w", err)
	}
	return nil
}

// Insert adds queue entries, skipping pairs that are already queued
func (r *QueueRepository) Insert(ctx context.Context, entries []domain.QueueEntry) error {
	query := r.q.Rebind(`
		INSERT INTO user_queue (user_id, exercise_id, queue_position, added_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT (user_id, exercise_id) DO NOTHING`)

	for _, e := range entries {
		if _, err := r.q.ExecContext(ctx, query, e.UserID, e.ExerciseID, e.QueuePosition, e.AddedAt); err != nil {
			return fmt.Errorf("insert queue entry %d: %w", e.ExerciseID, err)
		}
	}
	return nil
}

// EntryAt returns the entry at position, or nil when the slot is empty
func (r *QueueRepository) EntryAt(ctx context.Context, userID uuid.UUID, position int) (*domain.QueueEntry, error) {
	var e domain.QueueEntry
	err := sqlx.GetContext(ctx, r.q, &e, r.q.Rebind(`
		SELECT user_id, exercise_id, queue_position, added_at
		FROM user_queue WHERE user_id = ? AND queue_position = ?`), userID, position)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get queue entry: %w", err)
	}
	return &e, nil
}

// Position returns the queue position of an exercise and whether it is queued
func (r *QueueRepository) Position(ctx context.Context, userID uuid.UUID, exerciseID int64) (int, bool, error) {
	var pos int
	err := sqlx.GetContext(ctx, r.q, &pos, r.q.Rebind(`
		SELECT queue_position FROM user_queue WHERE user_id = ? AND exercise_id = ?`), userID, exerciseID)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, fmt.Errorf("get queue position: %w", err)
	}
	return pos, true, nil
}

// Delete removes an exercise from the user's queue
func (r *QueueRepository) Delete(ctx context.Context, userID uuid.UUID, exerciseID int64) error {
	_, err := r.q.ExecContext(ctx, r.q.Rebind(`
		DELETE FROM user_queue WHERE user_id = ? AND exercise_id = ?`), userID, exerciseID)
	if err != nil {
		return fmt.Errorf("delete queue entry: %w", err)
	}
	return nil
}

// DecrementAbove shifts every position greater than position down by one
func (r *QueueRepository) DecrementAbove(ctx context.Context, userID uuid.UUID, position int) error {
	_, err := r.q.ExecContext(ctx, r.q.Rebind(`
		UPDATE user_queue SET queue_position = queue_position - 1
		WHERE user_id = ? AND queue_position > ?`), userID, position)
	if err != nil {
		return fmt.Errorf("compact queue: %w", err)
	}
	return nil
}

// MaxPosition returns the highest position in the queue, zero when empty
func (r *QueueRepository) MaxPosition(ctx context.Context, userID uuid.UUID) (int, error) {
	var pos int
	err := sqlx.GetContext(ctx, r.q, &pos, r.q.Rebind(`
		SELECT COALESCE(MAX(queue_position), 0) FROM user_queue WHERE user_id = ?`), userID)
	if err != nil {
		return 0, fmt.Errorf("get max queue position: %w", err)
	}
	return pos, nil
}

// Reposition moves an exercise to position
func (r *QueueRepository) Reposition(ctx context.Context, userID uuid.UUID, exerciseID int64, position int) error {
	_, err := r.q.ExecContext(ctx, r.q.Rebind(`
		UPDATE user_queue SET queue_position = ? WHERE user_id = ? AND exercise_id = ?`),
		position, userID, exerciseID)
	if err != nil {
		return fmt.Errorf("reposition queue entry: %w", err)
	}
	return nil
}

// QueuedExerciseIDs lists the exercise ids currently queued for the user
func (r *QueueRepository) QueuedExerciseIDs(ctx context.Context, userID uuid.UUID) ([]int64, error) {
	var ids []int64
	err := sqlx.SelectContext(ctx, r.q, &ids, r.q.Rebind(`
		SELECT exercise_id FROM user_queue WHERE user_id = ? ORDER BY queue_position`), userID)
	if err != nil {
		return nil, fmt.Errorf("list queued exercises: %w", err)
	}
	return ids, nil
}

// List returns the queue in position order with exercise summaries
func (r *QueueRepository) List(ctx context.Context, userID uuid.UUID) ([]domain.QueuedExercise, error) {
	var entries []domain.QueuedExercise
	err := sqlx.SelectContext(ctx, r.q, &entries, r.q.Rebind(`
		SELECT q.user_id, q.exercise_id, q.queue_position, q.added_at,
			e.title, e.difficulty, e.topic
		FROM user_queue q
		JOIN exercises e ON e.id = q.exercise_id
		WHERE q.user_id = ?
		ORDER BY q.queue_position`), userID)
	if err != nil {
		return nil, fmt.Errorf("list queue: %w", err)
	}
	return entries, nil
}

// Count returns the number of queued exercises
func (r *QueueRepository) Count(ctx context.Context, userID uuid.UUID) (int, error) {
	var n int
	err := sqlx.GetContext(ctx, r.q, &n, r.q.Rebind(`SELECT COUNT(*) FROM user_queue WHERE user_id = ?`), userID)
	if err != nil {
		return 0, fmt.Errorf("count queue: %w", err)
	}
	return n, nil
}

var _ domain.QueueRepository = (*QueueRepository)(nil)
