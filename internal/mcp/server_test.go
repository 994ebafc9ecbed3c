package mcp

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/felixgeelhaar/nosubvo/internal/domain"
	"github.com/felixgeelhaar/nosubvo/internal/queue"
	"github.com/felixgeelhaar/nosubvo/internal/storage/sqlstore"
	"github.com/google/uuid"
)

// setupTestServer creates a server for a learner with three queued exercises
func setupTestServer(t *testing.T) (*Server, []*domain.Exercise) {
	t.Helper()
	ctx := context.Background()

	db, err := sqlstore.Open(ctx, sqlstore.DriverSQLite, filepath.Join(t.TempDir(), "mcp.db"))
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	if err := db.Migrate(ctx); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	store := sqlstore.NewUnitOfWork(db)

	user := &domain.User{
		ID:                uuid.New(),
		Username:          "reader",
		Email:             "reader@example.com",
		AuthProvider:      domain.AuthProviderPassword,
		PreferredLanguage: "en",
	}
	if err := store.Users().Create(ctx, user); err != nil {
		t.Fatalf("create user: %v", err)
	}

	var exercises []*domain.Exercise
	for _, d := range []domain.Difficulty{domain.DifficultyBeginner, domain.DifficultyIntermediate, domain.DifficultyAdvanced} {
		ex := &domain.Exercise{
			Title:      "Exercise " + string(d),
			Text:       "Clouds drift slowly over the hills.",
			Language:   "en",
			Difficulty: d,
			Topic:      "weather",
		}
		if err := store.Exercises().Create(ctx, ex); err != nil {
			t.Fatalf("create exercise: %v", err)
		}
		exercises = append(exercises, ex)
	}

	q := queue.NewManager(store, queue.WithSeed(1))
	if _, err := q.InitializeQueue(ctx, user.ID, "en"); err != nil {
		t.Fatalf("initialize queue: %v", err)
	}

	return NewServer(Config{Queue: q, UserID: user.ID}), exercises
}

func TestNewServer(t *testing.T) {
	server := NewServer(Config{})
	if server.GetMCPServer() == nil {
		t.Fatal("expected non-nil MCP server")
	}
	if server.chunker == nil {
		t.Error("expected rule chunker by default")
	}
}

func TestHandleNextAndSubmit(t *testing.T) {
	server, exercises := setupTestServer(t)
	ctx := context.Background()

	next, err := server.handleNext(ctx, NextInput{})
	if err != nil {
		t.Fatalf("handleNext() error = %v", err)
	}
	if next.ExerciseID != exercises[0].ID {
		t.Errorf("handleNext() = %d; want %d", next.ExerciseID, exercises[0].ID)
	}

	tests := []struct {
		name       string
		input      SubmitInput
		wantStatus string
		wantNext   int64
	}{
		{
			name:       "failed moves to tail",
			input:      SubmitInput{ExerciseID: exercises[0].ID, ComprehensionScore: 0.5, QuestionsAnswered: 4, QuestionsCorrect: 2},
			wantStatus: string(domain.StatusFailed),
			wantNext:   exercises[1].ID,
		},
		{
			name:       "completed removes",
			input:      SubmitInput{ExerciseID: exercises[1].ID, ComprehensionScore: 0.75, QuestionsAnswered: 4, QuestionsCorrect: 3},
			wantStatus: string(domain.StatusCompleted),
			wantNext:   exercises[2].ID,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out, err := server.handleSubmit(ctx, tt.input)
			if err != nil {
				t.Fatalf("handleSubmit() error = %v", err)
			}
			if out.Status != tt.wantStatus {
				t.Errorf("Status = %q; want %q", out.Status, tt.wantStatus)
			}
			if out.NextExerciseID != tt.wantNext {
				t.Errorf("NextExerciseID = %d; want %d", out.NextExerciseID, tt.wantNext)
			}
		})
	}

	report, err := server.handleProgress(ctx, ProgressInput{})
	if err != nil {
		t.Fatalf("handleProgress() error = %v", err)
	}
	if report.CompletedExercises != 1 || report.FailedExercises != 1 || report.QueueCount != 2 {
		t.Errorf("handleProgress() = %+v; want 1 completed, 1 failed, 2 queued", report)
	}
}

func TestHandleSubmitInvalid(t *testing.T) {
	server, exercises := setupTestServer(t)

	_, err := server.handleSubmit(context.Background(), SubmitInput{
		ExerciseID:         exercises[0].ID,
		ComprehensionScore: 1.2,
	})
	if err == nil {
		t.Error("handleSubmit() expected error for score above 1")
	}
}

func TestHandleChunk(t *testing.T) {
	server := NewServer(Config{})

	out, err := server.handleChunk(context.Background(), ChunkInput{Text: "The cat sat on the mat. Then it slept."})
	if err != nil {
		t.Fatalf("handleChunk() error = %v", err)
	}
	if len(out.Chunks) == 0 {
		t.Error("handleChunk() returned no chunks")
	}
	if out.Stats.Words != 9 {
		t.Errorf("Words = %d; want 9", out.Stats.Words)
	}

	if _, err := server.handleChunk(context.Background(), ChunkInput{}); err == nil {
		t.Error("handleChunk() expected error for empty text")
	}
}
