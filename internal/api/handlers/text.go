package handlers

import (
	"context"
	"fmt"
	"io"
	"mime"
	"net/http"
	"strings"
	"unicode/utf8"

	"github.com/felixgeelhaar/nosubvo/internal/chunker"
	"github.com/felixgeelhaar/nosubvo/internal/domain"
)

// Chunking strategies accepted by the chunk endpoint
const (
	StrategyRules = "rules"
	StrategyLLM   = "llm"
)

// QuestionGenerator produces comprehension questions for a text
type QuestionGenerator interface {
	Generate(ctx context.Context, text string, n int) ([]domain.Question, error)
}

// TextHandler serves chunking and question generation for arbitrary text
type TextHandler struct {
	rules           chunker.Chunker
	llm             chunker.Chunker
	defaultStrategy string
	questions       QuestionGenerator
}

// NewTextHandler creates the handler. llmChunker may be nil, in which
// case every request uses rules.
func NewTextHandler(rules, llmChunker chunker.Chunker, defaultStrategy string, questions QuestionGenerator) *TextHandler {
	if defaultStrategy == "" {
		defaultStrategy = StrategyRules
	}
	return &TextHandler{rules: rules, llm: llmChunker, defaultStrategy: defaultStrategy, questions: questions}
}

// ChunkRequest is the JSON body for chunking
type ChunkRequest struct {
	Text     string `json:"text" validate:"required"`
	Strategy string `json:"strategy" validate:"omitempty,oneof=rules llm"`
}

// ChunkResponse lists the phrases of a text
type ChunkResponse struct {
	Chunks         []string      `json:"chunks"`
	ChunkCount     int           `json:"chunk_count"`
	OriginalLength int           `json:"original_length"`
	Strategy       string        `json:"strategy"`
	Stats          chunker.Stats `json:"stats"`
}

// Chunk splits text sent as JSON or as an uploaded "file" field
func (h *TextHandler) Chunk(w http.ResponseWriter, r *http.Request) error {
	req, err := h.readChunkRequest(w, r)
	if err != nil {
		return err
	}
	if strings.TrimSpace(req.Text) == "" {
		return fmt.Errorf("%w: text cannot be empty", domain.ErrInvalidInput)
	}

	strategy := req.Strategy
	if strategy == "" {
		strategy = h.defaultStrategy
	}
	c := h.rules
	if strategy == StrategyLLM && h.llm != nil {
		c = h.llm
	} else {
		strategy = StrategyRules
	}

	chunks, err := c.Chunk(r.Context(), req.Text)
	if err != nil {
		return err
	}

	return writeJSON(w, http.StatusOK, ChunkResponse{
		Chunks:         chunks,
		ChunkCount:     len(chunks),
		OriginalLength: utf8.RuneCountInString(req.Text),
		Strategy:       strategy,
		Stats:          chunker.Analyze(req.Text, chunker.DefaultWPM),
	})
}

func (h *TextHandler) readChunkRequest(w http.ResponseWriter, r *http.Request) (*ChunkRequest, error) {
	mediaType, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))

	switch mediaType {
	case "application/json":
		var req ChunkRequest
		if err := decodeJSON(w, r, &req); err != nil {
			return nil, err
		}
		return &req, nil

	case "multipart/form-data":
		r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
		file, _, err := r.FormFile("file")
		if err != nil {
			return nil, fmt.Errorf("%w: missing file upload", domain.ErrInvalidInput)
		}
		defer file.Close()

		data, err := io.ReadAll(file)
		if err != nil {
			return nil, err
		}
		if !utf8.Valid(data) {
			return nil, fmt.Errorf("%w: file must be UTF-8 text", domain.ErrInvalidInput)
		}
		return &ChunkRequest{Text: string(data), Strategy: r.FormValue("strategy")}, nil
	}

	return nil, fmt.Errorf("%w: send text as JSON or a file upload", domain.ErrInvalidInput)
}

// QuestionsRequest is the JSON body for question generation
type QuestionsRequest struct {
	Text         string `json:"text" validate:"required"`
	NumQuestions int    `json:"num_questions" validate:"gte=0"`
}

// Questions generates comprehension questions for a text
func (h *TextHandler) Questions(w http.ResponseWriter, r *http.Request) error {
	var req QuestionsRequest
	if err := decodeJSON(w, r, &req); err != nil {
		return err
	}

	qs, err := h.questions.Generate(r.Context(), req.Text, req.NumQuestions)
	if err != nil {
		return err
	}

	return writeJSON(w, http.StatusOK, map[string]any{
		"questions":      qs,
		"question_count": len(qs),
	})
}
