// Package mcp exposes a learner's reading queue as MCP tools so an editor
// or assistant can fetch exercises and record attempts over stdio.
package mcp

import (
	"context"
	"errors"
	"fmt"

	mcp "github.com/felixgeelhaar/mcp-go"
	"github.com/felixgeelhaar/mcp-go/server"
	"github.com/felixgeelhaar/nosubvo/internal/chunker"
	"github.com/felixgeelhaar/nosubvo/internal/domain"
	"github.com/felixgeelhaar/nosubvo/internal/queue"
	"github.com/google/uuid"
)

// Server wraps the MCP server for one learner
type Server struct {
	mcpServer *server.Server
	queue     *queue.Manager
	chunker   chunker.Chunker
	userID    uuid.UUID
}

// Config contains configuration for the MCP server
type Config struct {
	Queue   *queue.Manager
	Chunker chunker.Chunker
	UserID  uuid.UUID
	Version string
}

// NewServer creates a new MCP server bound to cfg.UserID
func NewServer(cfg Config) *Server {
	s := &Server{
		queue:   cfg.Queue,
		chunker: cfg.Chunker,
		userID:  cfg.UserID,
	}
	if s.chunker == nil {
		s.chunker = chunker.NewRuleChunker()
	}

	version := cfg.Version
	if version == "" {
		version = "dev"
	}

	s.mcpServer = server.New(server.Info{
		Name:    "nosubvo",
		Version: version,
	}, server.WithInstructions(`
NoSubvo is a reading-comprehension trainer. Each learner works through a queue
of exercises ordered from beginner to advanced.

Available tools:
- nosubvo_next_exercise: Get the exercise at the head of the queue
- nosubvo_submit_attempt: Record a finished reading attempt
- nosubvo_progress: Summarize the learner's progress
- nosubvo_chunk_text: Split text into short phrases for guided reading

A comprehension score of 0.7 or more completes an exercise. Lower scores move
it to the back of the queue.
`))

	s.registerTools()

	return s
}

func (s *Server) registerTools() {
	s.mcpServer.Tool("nosubvo_next_exercise").
		Description("Get the next exercise to read, with its comprehension questions.").
		Handler(s.handleNext)

	s.mcpServer.Tool("nosubvo_submit_attempt").
		Description("Record a reading attempt. Returns completed or failed and the next exercise id.").
		Handler(s.handleSubmit)

	s.mcpServer.Tool("nosubvo_progress").
		Description("Get the learner's progress summary.").
		Handler(s.handleProgress)

	s.mcpServer.Tool("nosubvo_chunk_text").
		Description("Split text into short meaningful phrases.").
		Handler(s.handleChunk)
}

type NextInput struct{}

type NextOutput struct {
	Empty      bool              `json:"empty"`
	ExerciseID int64             `json:"exercise_id,omitempty"`
	Title      string            `json:"title,omitempty"`
	Text       string            `json:"text,omitempty"`
	Difficulty string            `json:"difficulty,omitempty"`
	Topic      string            `json:"topic,omitempty"`
	Questions  []domain.Question `json:"questions,omitempty"`
}

type SubmitInput struct {
	ExerciseID             int64   `json:"exercise_id" jsonschema:"description=Exercise ID from nosubvo_next_exercise"`
	ComprehensionScore     float64 `json:"comprehension_score" jsonschema:"description=Share of questions answered correctly (0 to 1)"`
	QuestionsAnswered      int     `json:"questions_answered"`
	QuestionsCorrect       int     `json:"questions_correct"`
	ReadingSpeedWPM        float64 `json:"reading_speed_wpm,omitempty" jsonschema:"description=Words per minute"`
	SessionDurationSeconds int     `json:"session_duration_seconds,omitempty"`
}

type SubmitOutput struct {
	Status         string `json:"status"`
	NextExerciseID int64  `json:"next_exercise_id,omitempty"`
	Message        string `json:"message"`
}

type ProgressInput struct{}

type ChunkInput struct {
	Text string `json:"text" jsonschema:"description=Text to split into phrases"`
}

type ChunkOutput struct {
	Chunks []string      `json:"chunks"`
	Stats  chunker.Stats `json:"stats"`
}

func (s *Server) handleNext(ctx context.Context, _ NextInput) (NextOutput, error) {
	ex, err := s.queue.GetNext(ctx, s.userID)
	if err != nil {
		return NextOutput{}, fmt.Errorf("get next exercise: %w", err)
	}
	if ex == nil {
		return NextOutput{Empty: true}, nil
	}

	return NextOutput{
		ExerciseID: ex.ID,
		Title:      ex.Title,
		Text:       ex.Text,
		Difficulty: string(ex.Difficulty),
		Topic:      ex.Topic,
		Questions:  ex.Questions,
	}, nil
}

func (s *Server) handleSubmit(ctx context.Context, input SubmitInput) (SubmitOutput, error) {
	status, err := s.queue.SubmitAttempt(ctx, s.userID, domain.Attempt{
		ExerciseID:             input.ExerciseID,
		ComprehensionScore:     input.ComprehensionScore,
		QuestionsAnswered:      input.QuestionsAnswered,
		QuestionsCorrect:       input.QuestionsCorrect,
		ReadingSpeedWPM:        input.ReadingSpeedWPM,
		SessionDurationSeconds: input.SessionDurationSeconds,
	})
	if err != nil {
		return SubmitOutput{}, fmt.Errorf("submit attempt: %w", err)
	}

	out := SubmitOutput{Status: string(status)}
	next, err := s.queue.GetNext(ctx, s.userID)
	if err != nil {
		return SubmitOutput{}, fmt.Errorf("get next exercise: %w", err)
	}

	switch {
	case next == nil:
		out.Message = "Queue finished. Every exercise is completed."
	case status == domain.StatusCompleted:
		out.NextExerciseID = next.ID
		out.Message = fmt.Sprintf("Completed. Next up: %s", next.Title)
	default:
		out.NextExerciseID = next.ID
		out.Message = fmt.Sprintf("Moved to the back of the queue. Next up: %s", next.Title)
	}
	return out, nil
}

func (s *Server) handleProgress(ctx context.Context, _ ProgressInput) (domain.ProgressReport, error) {
	report, err := s.queue.Report(ctx, s.userID)
	if err != nil {
		return domain.ProgressReport{}, fmt.Errorf("progress report: %w", err)
	}
	return report, nil
}

func (s *Server) handleChunk(ctx context.Context, input ChunkInput) (ChunkOutput, error) {
	if input.Text == "" {
		return ChunkOutput{}, errors.New("text is required")
	}

	chunks, err := s.chunker.Chunk(ctx, input.Text)
	if err != nil {
		return ChunkOutput{}, fmt.Errorf("chunk text: %w", err)
	}
	return ChunkOutput{
		Chunks: chunks,
		Stats:  chunker.Analyze(input.Text, chunker.DefaultWPM),
	}, nil
}

// ServeStdio starts the MCP server on stdio
func (s *Server) ServeStdio(ctx context.Context) error {
	return mcp.ServeStdio(ctx, s.mcpServer)
}

// GetMCPServer returns the underlying MCP server (for testing)
func (s *Server) GetMCPServer() *server.Server {
	return s.mcpServer
}
