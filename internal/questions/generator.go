// Package questions generates multiple-choice comprehension questions for
// a reading text.
package questions

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/felixgeelhaar/nosubvo/internal/chunker"
	"github.com/felixgeelhaar/nosubvo/internal/domain"
	"github.com/felixgeelhaar/nosubvo/internal/llm"
)

// Bounds on the number of questions per request
const (
	MinQuestions     = 1
	MaxQuestions     = 10
	DefaultQuestions = 3
)

const prompt = `Generate %d comprehension questions based on the following text.
Each question should test understanding of key concepts, facts, or details from the text.

Text: %q

Return your response as a JSON array with this exact format:
[
  {
    "question": "Question text here?",
    "options": ["Option A", "Option B", "Option C", "Option D"],
    "correct_answer": 0,
    "explanation": "Brief explanation of why this answer is correct"
  }
]

Make sure:
- Questions are clear and test comprehension
- Options are plausible but only one is correct
- correct_answer is the index (0-3) of the correct option
- Include explanations for learning`

var errNoQuestions = errors.New("model returned no usable questions")

// Fallback is returned when no model is available or generation fails
func Fallback() []domain.Question {
	return []domain.Question{{
		Question:    "What is the main topic discussed in this text?",
		Options:     []string{"The main topic", "A different topic", "Another topic", "Not mentioned"},
		Answer:      0,
		Explanation: "This is a fallback question for testing purposes.",
	}}
}

// ProviderSource yields the provider to use for a call
type ProviderSource interface {
	Default() (llm.Provider, error)
}

// Generator produces questions with the registry's default provider
type Generator struct {
	providers ProviderSource
	logger    *slog.Logger
}

// NewGenerator creates a Generator
func NewGenerator(providers ProviderSource, logger *slog.Logger) *Generator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Generator{providers: providers, logger: logger}
}

// Clamp bounds n to MinQuestions..MaxQuestions; zero means the default
func Clamp(n int) int {
	if n == 0 {
		return DefaultQuestions
	}
	return max(MinQuestions, min(n, MaxQuestions))
}

// Generate returns up to n questions about text. It falls back to the
// canned question instead of failing, unless ctx is done.
func (g *Generator) Generate(ctx context.Context, text string, n int) ([]domain.Question, error) {
	if strings.TrimSpace(text) == "" {
		return nil, fmt.Errorf("%w: text cannot be empty", domain.ErrInvalidInput)
	}
	n = Clamp(n)

	provider, err := g.providers.Default()
	if err != nil {
		g.logger.Debug("no llm provider, using fallback question")
		return Fallback(), nil
	}

	qs, err := g.ask(ctx, provider, text, n)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		g.logger.Warn("question generation failed, using fallback", "provider", provider.Name(), "error", err)
		return Fallback(), nil
	}
	return qs, nil
}

func (g *Generator) ask(ctx context.Context, provider llm.Provider, text string, n int) ([]domain.Question, error) {
	req := llm.UserPrompt(fmt.Sprintf(prompt, n, text))
	req.Temperature = 0.7

	resp, err := provider.Generate(ctx, req)
	if err != nil {
		return nil, err
	}
	return Parse(resp.Content, n)
}

// Parse decodes a model reply into at most limit valid questions. Code
// fences and a wrapping {"questions": [...]} object are accepted; invalid
// items are dropped.
func Parse(content string, limit int) ([]domain.Question, error) {
	body := chunker.StripCodeFence(content)

	var raw []json.RawMessage
	if err := json.Unmarshal([]byte(body), &raw); err != nil {
		var wrapped struct {
			Questions []json.RawMessage `json:"questions"`
		}
		if err2 := json.Unmarshal([]byte(body), &wrapped); err2 != nil {
			return nil, fmt.Errorf("decode questions: %w", err)
		}
		raw = wrapped.Questions
	}

	out := make([]domain.Question, 0, len(raw))
	for _, item := range raw {
		var q domain.Question
		if err := json.Unmarshal(item, &q); err != nil {
			continue
		}
		if q.Validate() != nil {
			continue
		}
		out = append(out, q)
		if len(out) == limit {
			break
		}
	}

	if len(out) == 0 {
		return nil, errNoQuestions
	}
	return out, nil
}
