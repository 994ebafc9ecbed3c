package domain

import (
	"context"

	"github.com/google/uuid"
)

// ExerciseRepository reads and writes the exercise catalog
type ExerciseRepository interface {
	Create(ctx context.Context, e *Exercise) error
	Get(ctx context.Context, id int64) (*Exercise, error)
	FindByTitle(ctx context.Context, language, title string) (*Exercise, error)
	// FindCandidates returns exercises in language whose ids are not excluded
	FindCandidates(ctx context.Context, language string, excluding []int64) ([]ExerciseCandidate, error)
	List(ctx context.Context, filter ExerciseFilter) ([]*Exercise, error)
	UpdateQuestions(ctx context.Context, id int64, questions []Question) error
	Stats(ctx context.Context) (*CatalogStats, error)
}

// ProgressRepository is the per-user progress ledger
type ProgressRepository interface {
	// Upsert inserts or replaces the entry for (UserID, ExerciseID)
	Upsert(ctx context.Context, e *ProgressEntry) error
	Get(ctx context.Context, userID uuid.UUID, exerciseID int64) (*ProgressEntry, error)
	CompletedExerciseIDs(ctx context.Context, userID uuid.UUID) ([]int64, error)
	Stats(ctx context.Context, userID uuid.UUID) (*ProgressStats, error)
}

// QueueRepository stores ordered per-user queues
type QueueRepository interface {
	// Lock serializes queue mutations for a user within the transaction
	Lock(ctx context.Context, userID uuid.UUID) error
	// Insert adds entries; pairs already present are skipped
	Insert(ctx context.Context, entries []QueueEntry) error
	// EntryAt returns the entry at position, or nil when none exists
	EntryAt(ctx context.Context, userID uuid.UUID, position int) (*QueueEntry, error)
	// Position returns the exercise's position and whether it is queued
	Position(ctx context.Context, userID uuid.UUID, exerciseID int64) (int, bool, error)
	Delete(ctx context.Context, userID uuid.UUID, exerciseID int64) error
	// DecrementAbove shifts every position greater than position down by one
	DecrementAbove(ctx context.Context, userID uuid.UUID, position int) error
	// MaxPosition returns the highest position, zero for an empty queue
	MaxPosition(ctx context.Context, userID uuid.UUID) (int, error)
	Reposition(ctx context.Context, userID uuid.UUID, exerciseID int64, position int) error
	QueuedExerciseIDs(ctx context.Context, userID uuid.UUID) ([]int64, error)
	List(ctx context.Context, userID uuid.UUID) ([]QueuedExercise, error)
	Count(ctx context.Context, userID uuid.UUID) (int, error)
}

// UserRepository stores learner accounts
type UserRepository interface {
	Create(ctx context.Context, u *User) error
	GetByID(ctx context.Context, id uuid.UUID) (*User, error)
	GetByEmail(ctx context.Context, email string) (*User, error)
	// GetByLogin matches either username or email
	GetByLogin(ctx context.Context, login string) (*User, error)
	// Exists reports whether the username or the email is taken
	Exists(ctx context.Context, username, email string) (bool, error)
	TouchLastLogin(ctx context.Context, id uuid.UUID) error
}

// UnitOfWork groups repository calls into one transaction
type UnitOfWork interface {
	Exercises() ExerciseRepository
	Progress() ProgressRepository
	Queue() QueueRepository
	Users() UserRepository

	Commit() error
	Rollback() error
}

// Transactor opens units of work
type Transactor interface {
	Begin(ctx context.Context) (UnitOfWork, error)
}
