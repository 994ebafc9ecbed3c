package domain

import (
	"time"

	"github.com/google/uuid"
)

// QueueEntry places an exercise in a user's queue. Positions are unique
// per user and contiguous from 1.
type QueueEntry struct {
	UserID        uuid.UUID `json:"user_id" db:"user_id"`
	ExerciseID    int64     `json:"exercise_id" db:"exercise_id"`
	QueuePosition int       `json:"queue_position" db:"queue_position"`
	AddedAt       time.Time `json:"added_at" db:"added_at"`
}

// QueuedExercise is a queue entry joined with its exercise
type QueuedExercise struct {
	QueueEntry
	Title      string     `json:"title" db:"title"`
	Difficulty Difficulty `json:"difficulty" db:"difficulty"`
	Topic      string     `json:"topic" db:"topic"`
}
