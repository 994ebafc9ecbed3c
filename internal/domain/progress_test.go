package domain

import (
	"errors"
	"math"
	"testing"
	"time"

	"github.com/google/uuid"
)

func validAttempt() Attempt {
	return Attempt{
		ExerciseID:             1,
		ComprehensionScore:     0.8,
		QuestionsAnswered:      5,
		QuestionsCorrect:       4,
		ReadingSpeedWPM:        220,
		SessionDurationSeconds: 90,
	}
}

func TestAttempt_Validate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Attempt)
		wantErr bool
	}{
		{"valid", func(a *Attempt) {}, false},
		{"score zero", func(a *Attempt) { a.ComprehensionScore = 0 }, false},
		{"score one", func(a *Attempt) { a.ComprehensionScore = 1 }, false},
		{"score above one", func(a *Attempt) { a.ComprehensionScore = 1.5 }, true},
		{"score negative", func(a *Attempt) { a.ComprehensionScore = -0.1 }, true},
		{"score NaN", func(a *Attempt) { a.ComprehensionScore = math.NaN() }, true},
		{"missing exercise", func(a *Attempt) { a.ExerciseID = 0 }, true},
		{"negative answered", func(a *Attempt) { a.QuestionsAnswered = -1 }, true},
		{"correct exceeds answered", func(a *Attempt) { a.QuestionsCorrect = 6 }, true},
		{"negative wpm", func(a *Attempt) { a.ReadingSpeedWPM = -1 }, true},
		{"negative duration", func(a *Attempt) { a.SessionDurationSeconds = -5 }, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			a := validAttempt()
			tt.mutate(&a)
			err := a.Validate()
			if (err != nil) != tt.wantErr {
				t.Fatalf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
			if err != nil && !errors.Is(err, ErrInvalidInput) {
				t.Errorf("Validate() error = %v, want ErrInvalidInput", err)
			}
		})
	}
}

func TestAttempt_Outcome(t *testing.T) {
	tests := []struct {
		score float64
		want  ProgressStatus
	}{
		{0, StatusFailed},
		{0.3, StatusFailed},
		{0.69, StatusFailed},
		{0.7, StatusCompleted},
		{0.85, StatusCompleted},
		{1, StatusCompleted},
	}

	for _, tt := range tests {
		a := Attempt{ExerciseID: 1, ComprehensionScore: tt.score}
		if got := a.Outcome(); got != tt.want {
			t.Errorf("Outcome(%v) = %q, want %q", tt.score, got, tt.want)
		}
	}
}

func TestAttempt_Entry(t *testing.T) {
	userID := uuid.New()
	at := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	e := validAttempt().Entry(userID, at)

	if e.UserID != userID {
		t.Errorf("UserID = %v, want %v", e.UserID, userID)
	}
	if e.Status != StatusCompleted {
		t.Errorf("Status = %q, want completed", e.Status)
	}
	if !e.CompletedAt.Equal(at) {
		t.Errorf("CompletedAt = %v, want %v", e.CompletedAt, at)
	}
	if e.QuestionsCorrect != 4 {
		t.Errorf("QuestionsCorrect = %d, want 4", e.QuestionsCorrect)
	}
}

func TestNewProgressReport(t *testing.T) {
	r := NewProgressReport(ProgressStats{
		Total:               3,
		Completed:           2,
		Failed:              1,
		AvgComprehension:    0.83333,
		AvgReadingSpeedWPM:  212.345,
		TotalReadingSeconds: 420,
	}, 4)

	if r.AvgComprehension != 0.83 {
		t.Errorf("AvgComprehension = %v, want 0.83", r.AvgComprehension)
	}
	if r.AvgReadingSpeedWPM != 212.3 {
		t.Errorf("AvgReadingSpeedWPM = %v, want 212.3", r.AvgReadingSpeedWPM)
	}
	if r.CompletionRate != 66.7 {
		t.Errorf("CompletionRate = %v, want 66.7", r.CompletionRate)
	}
	if r.QueueCount != 4 {
		t.Errorf("QueueCount = %d, want 4", r.QueueCount)
	}
}

func TestNewProgressReport_Empty(t *testing.T) {
	r := NewProgressReport(ProgressStats{}, 0)
	if r.CompletionRate != 0 {
		t.Errorf("CompletionRate = %v, want 0", r.CompletionRate)
	}
}
