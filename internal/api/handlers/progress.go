package handlers

import (
	"net/http"

	"github.com/felixgeelhaar/nosubvo/internal/domain"
	"github.com/felixgeelhaar/nosubvo/internal/queue"
)

// ProgressHandler records attempts and reports learner progress
type ProgressHandler struct {
	queue *queue.Manager
}

// NewProgressHandler creates a new progress handler
func NewProgressHandler(q *queue.Manager) *ProgressHandler {
	return &ProgressHandler{queue: q}
}

// AttemptRequest is the body for a finished reading session. Pointers
// distinguish missing fields from zero values.
type AttemptRequest struct {
	ExerciseID             int64    `json:"exercise_id" validate:"required,gt=0"`
	ComprehensionScore     *float64 `json:"comprehension_score" validate:"required,gte=0,lte=1"`
	QuestionsAnswered      *int     `json:"questions_answered" validate:"required,gte=0"`
	QuestionsCorrect       *int     `json:"questions_correct" validate:"required,gte=0"`
	ReadingSpeedWPM        float64  `json:"reading_speed_wpm" validate:"gte=0"`
	SessionDurationSeconds int      `json:"session_duration_seconds" validate:"gte=0"`
}

// SubmitResponse reports the outcome and what to read next
type SubmitResponse struct {
	Status             domain.ProgressStatus `json:"status"`
	ComprehensionScore float64               `json:"comprehension_score"`
	NextExercise       *domain.Exercise      `json:"next_exercise"`
}

// Submit records an attempt and returns the next exercise
func (h *ProgressHandler) Submit(w http.ResponseWriter, r *http.Request) error {
	user, err := currentUser(r)
	if err != nil {
		return err
	}

	var req AttemptRequest
	if err := decodeJSON(w, r, &req); err != nil {
		return err
	}

	attempt := domain.Attempt{
		ExerciseID:             req.ExerciseID,
		ComprehensionScore:     *req.ComprehensionScore,
		QuestionsAnswered:      *req.QuestionsAnswered,
		QuestionsCorrect:       *req.QuestionsCorrect,
		ReadingSpeedWPM:        req.ReadingSpeedWPM,
		SessionDurationSeconds: req.SessionDurationSeconds,
	}

	status, err := h.queue.SubmitAttempt(r.Context(), user.ID, attempt)
	if err != nil {
		return err
	}

	next, err := h.queue.GetNext(r.Context(), user.ID)
	if err != nil {
		return err
	}

	return writeJSON(w, http.StatusOK, SubmitResponse{
		Status:             status,
		ComprehensionScore: attempt.ComprehensionScore,
		NextExercise:       next,
	})
}

// Report returns the learner's progress summary
func (h *ProgressHandler) Report(w http.ResponseWriter, r *http.Request) error {
	user, err := currentUser(r)
	if err != nil {
		return err
	}

	report, err := h.queue.Report(r.Context(), user.ID)
	if err != nil {
		return err
	}
	return writeJSON(w, http.StatusOK, map[string]any{"progress": report})
}

// Queue returns the learner's queue in order
func (h *ProgressHandler) Queue(w http.ResponseWriter, r *http.Request) error {
	user, err := currentUser(r)
	if err != nil {
		return err
	}

	entries, err := h.queue.Snapshot(r.Context(), user.ID)
	if err != nil {
		return err
	}
	if entries == nil {
		entries = []domain.QueuedExercise{}
	}
	return writeJSON(w, http.StatusOK, map[string]any{
		"queue": entries,
		"count": len(entries),
	})
}

// RefreshQueue appends catalog exercises the learner has not seen yet
func (h *ProgressHandler) RefreshQueue(w http.ResponseWriter, r *http.Request) error {
	user, err := currentUser(r)
	if err != nil {
		return err
	}

	language := r.URL.Query().Get("language")
	if language == "" {
		language = user.PreferredLanguage
	}

	added, err := h.queue.InitializeQueue(r.Context(), user.ID, language)
	if err != nil {
		return err
	}
	return writeJSON(w, http.StatusOK, map[string]any{
		"added":    added,
		"language": language,
	})
}
