package domain

import (
	"time"

	"github.com/google/uuid"
)

// Event types published to the broker
const (
	EventAttemptRecorded = "attempt.recorded"
	EventQuestionsNeeded = "exercise.questions_requested"
)

// Event represents a domain event
type Event interface {
	// EventID returns the unique identifier for this event
	EventID() uuid.UUID
	// EventType returns the type name of this event
	EventType() string
	// OccurredAt returns when this event occurred
	OccurredAt() time.Time
}

// BaseEvent provides common event fields
type BaseEvent struct {
	ID        uuid.UUID `json:"id"`
	Type      string    `json:"type"`
	Timestamp time.Time `json:"timestamp"`
}

// NewBaseEvent creates a new BaseEvent
func NewBaseEvent(eventType string) BaseEvent {
	return BaseEvent{
		ID:        uuid.New(),
		Type:      eventType,
		Timestamp: time.Now().UTC(),
	}
}

func (e BaseEvent) EventID() uuid.UUID    { return e.ID }
func (e BaseEvent) EventType() string     { return e.Type }
func (e BaseEvent) OccurredAt() time.Time { return e.Timestamp }

// AttemptRecorded is emitted after a submitted attempt is committed
type AttemptRecorded struct {
	BaseEvent
	UserID             uuid.UUID      `json:"user_id"`
	ExerciseID         int64          `json:"exercise_id"`
	Status             ProgressStatus `json:"status"`
	ComprehensionScore float64        `json:"comprehension_score"`
	ReadingSpeedWPM    float64        `json:"reading_speed_wpm"`
}

// NewAttemptRecorded builds the event for a committed ledger entry
func NewAttemptRecorded(e ProgressEntry) AttemptRecorded {
	return AttemptRecorded{
		BaseEvent:          NewBaseEvent(EventAttemptRecorded),
		UserID:             e.UserID,
		ExerciseID:         e.ExerciseID,
		Status:             e.Status,
		ComprehensionScore: e.ComprehensionScore,
		ReadingSpeedWPM:    e.ReadingSpeedWPM,
	}
}

// QuestionsRequested asks a worker to generate questions for an exercise
type QuestionsRequested struct {
	BaseEvent
	ExerciseID int64 `json:"exercise_id"`
	Count      int   `json:"count"`
}

// NewQuestionsRequested builds a question-generation request
func NewQuestionsRequested(exerciseID int64, count int) QuestionsRequested {
	return QuestionsRequested{
		BaseEvent:  NewBaseEvent(EventQuestionsNeeded),
		ExerciseID: exerciseID,
		Count:      count,
	}
}
