package handlers

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/felixgeelhaar/nosubvo/internal/domain"
	"github.com/felixgeelhaar/nosubvo/internal/queue"
)

// QuestionJobPublisher enqueues background question generation
type QuestionJobPublisher interface {
	PublishQuestionJob(ctx context.Context, exerciseID int64, count int) error
}

// ExerciseHandler handles catalog and queue-head endpoints
type ExerciseHandler struct {
	catalog   domain.ExerciseRepository
	queue     *queue.Manager
	questions QuestionGenerator
	jobs      QuestionJobPublisher
	logger    *slog.Logger
}

// NewExerciseHandler creates a new exercise handler. jobs may be nil, in
// which case question generation runs within the request.
func NewExerciseHandler(catalog domain.ExerciseRepository, q *queue.Manager, questions QuestionGenerator, jobs QuestionJobPublisher, logger *slog.Logger) *ExerciseHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &ExerciseHandler{catalog: catalog, queue: q, questions: questions, jobs: jobs, logger: logger}
}

// Random returns a random exercise matching language, difficulty and
// topic, or any exercise when nothing matches.
func (h *ExerciseHandler) Random(w http.ResponseWriter, r *http.Request) error {
	q := r.URL.Query()

	filter := domain.ExerciseFilter{
		Language: q.Get("language"),
		Topic:    q.Get("topic"),
		Limit:    1,
		Random:   true,
	}
	if filter.Language == "" {
		filter.Language = domain.DefaultLanguage
	}
	if d := q.Get("difficulty"); d != "" {
		diff, err := domain.ParseDifficulty(d)
		if err != nil {
			return err
		}
		filter.Difficulty = diff
	}

	found, err := h.catalog.List(r.Context(), filter)
	if err != nil {
		return err
	}
	if len(found) == 0 {
		found, err = h.catalog.List(r.Context(), domain.ExerciseFilter{Limit: 1, Random: true})
		if err != nil {
			return err
		}
	}
	if len(found) == 0 {
		return domain.ErrExerciseNotFound
	}

	return writeJSON(w, http.StatusOK, map[string]any{"exercise": found[0]})
}

// Stats returns catalog counts by language, difficulty and topic
func (h *ExerciseHandler) Stats(w http.ResponseWriter, r *http.Request) error {
	stats, err := h.catalog.Stats(r.Context())
	if err != nil {
		return err
	}
	return writeJSON(w, http.StatusOK, map[string]any{"stats": stats})
}

// Next returns the head of the learner's queue
func (h *ExerciseHandler) Next(w http.ResponseWriter, r *http.Request) error {
	user, err := currentUser(r)
	if err != nil {
		return err
	}

	ex, err := h.queue.GetNext(r.Context(), user.ID)
	if err != nil {
		return err
	}
	if ex == nil {
		return ErrQueueEmpty
	}
	return writeJSON(w, http.StatusOK, map[string]any{"exercise": ex})
}

// Get returns one exercise
func (h *ExerciseHandler) Get(w http.ResponseWriter, r *http.Request) error {
	id, err := exerciseID(r)
	if err != nil {
		return err
	}

	ex, err := h.catalog.Get(r.Context(), id)
	if err != nil {
		return err
	}
	return writeJSON(w, http.StatusOK, map[string]any{"exercise": ex})
}

// CreateExerciseRequest is the body for adding an exercise
type CreateExerciseRequest struct {
	Title      string            `json:"title" validate:"required,max=200"`
	Text       string            `json:"text" validate:"required"`
	Language   string            `json:"language" validate:"omitempty,min=2,max=16"`
	Difficulty string            `json:"difficulty" validate:"omitempty,oneof=beginner intermediate advanced"`
	Topic      string            `json:"topic" validate:"max=64"`
	Questions  []domain.Question `json:"questions"`
}

// Create adds an exercise to the catalog
func (h *ExerciseHandler) Create(w http.ResponseWriter, r *http.Request) error {
	var req CreateExerciseRequest
	if err := decodeJSON(w, r, &req); err != nil {
		return err
	}

	ex := &domain.Exercise{
		Title:      req.Title,
		Text:       req.Text,
		Language:   req.Language,
		Difficulty: domain.Difficulty(req.Difficulty),
		Topic:      req.Topic,
		Questions:  req.Questions,
	}
	ex.ApplyDefaults()
	if err := ex.Validate(); err != nil {
		return err
	}

	if _, err := h.catalog.FindByTitle(r.Context(), ex.Language, ex.Title); err == nil {
		return fmt.Errorf("%w: exercise %q already exists", domain.ErrConflict, ex.Title)
	}

	if err := h.catalog.Create(r.Context(), ex); err != nil {
		return err
	}

	h.logger.Info("exercise added", "exercise_id", ex.ID, "language", ex.Language)
	return writeJSON(w, http.StatusCreated, map[string]any{"exercise": ex})
}

// GenerateQuestionsRequest is the body for regenerating questions
type GenerateQuestionsRequest struct {
	Count int `json:"count" validate:"gte=0,lte=10"`
}

// GenerateQuestions replaces an exercise's questions with generated ones.
// With a broker the job is queued and 202 is returned.
func (h *ExerciseHandler) GenerateQuestions(w http.ResponseWriter, r *http.Request) error {
	id, err := exerciseID(r)
	if err != nil {
		return err
	}

	var req GenerateQuestionsRequest
	if r.ContentLength != 0 {
		if err := decodeJSON(w, r, &req); err != nil {
			return err
		}
	}

	ex, err := h.catalog.Get(r.Context(), id)
	if err != nil {
		return err
	}

	if h.jobs != nil {
		if err := h.jobs.PublishQuestionJob(r.Context(), id, req.Count); err != nil {
			return err
		}
		return writeJSON(w, http.StatusAccepted, map[string]any{
			"exercise_id": id,
			"status":      "queued",
		})
	}

	qs, err := h.questions.Generate(r.Context(), ex.Text, req.Count)
	if err != nil {
		return err
	}
	if err := h.catalog.UpdateQuestions(r.Context(), id, qs); err != nil {
		return err
	}
	ex.Questions = qs

	return writeJSON(w, http.StatusOK, map[string]any{"exercise": ex})
}

func exerciseID(r *http.Request) (int64, error) {
	id, err := strconv.ParseInt(r.PathValue("id"), 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("%w: invalid exercise id", domain.ErrInvalidInput)
	}
	return id, nil
}
