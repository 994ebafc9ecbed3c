package domain

import (
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"
)

// Exercise is a reading-comprehension text with its questions
type Exercise struct {
	ID         int64      `json:"id"`
	Title      string     `json:"title"`
	Text       string     `json:"text"`
	Language   string     `json:"language"`
	Difficulty Difficulty `json:"difficulty"`
	Topic      string     `json:"topic"`
	Questions  []Question `json:"questions"`
	CreatedAt  time.Time  `json:"created_at"`
	UpdatedAt  time.Time  `json:"updated_at"`
}

// Defaults applied to exercises created without these fields
const (
	DefaultDifficulty = DifficultyIntermediate
	DefaultTopic      = "general"
)

// Validate checks the fields required to store an exercise
func (e *Exercise) Validate() error {
	if strings.TrimSpace(e.Title) == "" {
		return fmt.Errorf("%w: title is required", ErrInvalidExercise)
	}
	if strings.TrimSpace(e.Text) == "" {
		return fmt.Errorf("%w: text is required", ErrInvalidExercise)
	}
	if e.Language == "" {
		return fmt.Errorf("%w: language is required", ErrInvalidExercise)
	}
	if !e.Difficulty.Valid() {
		return fmt.Errorf("%w: unknown difficulty %q", ErrInvalidExercise, e.Difficulty)
	}
	for i, q := range e.Questions {
		if err := q.Validate(); err != nil {
			return fmt.Errorf("%w: question %d: %v", ErrInvalidExercise, i+1, err)
		}
	}
	return nil
}

// ApplyDefaults fills language, difficulty and topic when empty
func (e *Exercise) ApplyDefaults() {
	if e.Language == "" {
		e.Language = DefaultLanguage
	}
	if e.Difficulty == "" {
		e.Difficulty = DefaultDifficulty
	}
	if e.Topic == "" {
		e.Topic = DefaultTopic
	}
}

// WordCount returns the number of whitespace-separated words in the text
func (e *Exercise) WordCount() int {
	return len(strings.Fields(e.Text))
}

// Difficulty represents exercise difficulty level
type Difficulty string

const (
	DifficultyBeginner     Difficulty = "beginner"
	DifficultyIntermediate Difficulty = "intermediate"
	DifficultyAdvanced     Difficulty = "advanced"
)

// Rank orders difficulties; unknown values sort last
func (d Difficulty) Rank() int {
	switch d {
	case DifficultyBeginner:
		return 0
	case DifficultyIntermediate:
		return 1
	case DifficultyAdvanced:
		return 2
	default:
		return 3
	}
}

// Valid reports whether d is a known difficulty
func (d Difficulty) Valid() bool {
	return d.Rank() < 3
}

// ParseDifficulty parses a case-insensitive difficulty name
func ParseDifficulty(s string) (Difficulty, error) {
	d := Difficulty(strings.ToLower(strings.TrimSpace(s)))
	if !d.Valid() {
		return "", fmt.Errorf("%w: unknown difficulty %q", ErrInvalidInput, s)
	}
	return d, nil
}

// Question is a multiple-choice comprehension question
type Question struct {
	Question    string   `json:"question" yaml:"question"`
	Options     []string `json:"options" yaml:"options"`
	Answer      int      `json:"answer" yaml:"answer"`
	Explanation string   `json:"explanation,omitempty" yaml:"explanation,omitempty"`
}

// Validate checks the question has text, options and an in-range answer
func (q Question) Validate() error {
	if strings.TrimSpace(q.Question) == "" {
		return fmt.Errorf("question text is required")
	}
	if len(q.Options) < 2 {
		return fmt.Errorf("at least two options are required")
	}
	if q.Answer < 0 || q.Answer >= len(q.Options) {
		return fmt.Errorf("answer index %d out of range", q.Answer)
	}
	return nil
}

// UnmarshalJSON accepts options as a list or as a letter-keyed object
// ({"A": "...", "B": "..."}), and the answer as an index or a letter.
// The correct_answer key is accepted as an alias for answer.
func (q *Question) UnmarshalJSON(data []byte) error {
	var raw struct {
		Question      string          `json:"question"`
		Options       json.RawMessage `json:"options"`
		Answer        json.RawMessage `json:"answer"`
		CorrectAnswer json.RawMessage `json:"correct_answer"`
		Explanation   string          `json:"explanation"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}

	q.Question = raw.Question
	q.Explanation = raw.Explanation
	q.Options = nil
	q.Answer = 0

	var keys []string
	if len(raw.Options) > 0 {
		if err := json.Unmarshal(raw.Options, &q.Options); err != nil {
			var byKey map[string]string
			if err := json.Unmarshal(raw.Options, &byKey); err != nil {
				return fmt.Errorf("decode options: %w", err)
			}
			for k := range byKey {
				keys = append(keys, k)
			}
			sort.Strings(keys)
			for _, k := range keys {
				q.Options = append(q.Options, byKey[k])
			}
		}
	}

	answer := raw.Answer
	if len(answer) == 0 {
		answer = raw.CorrectAnswer
	}
	if len(answer) == 0 || string(answer) == "null" {
		return nil
	}

	var idx int
	if err := json.Unmarshal(answer, &idx); err == nil {
		q.Answer = idx
		return nil
	}

	var label string
	if err := json.Unmarshal(answer, &label); err != nil {
		return fmt.Errorf("decode answer: %w", err)
	}
	idx, err := answerIndex(label, keys)
	if err != nil {
		return err
	}
	q.Answer = idx
	return nil
}

// answerIndex resolves "B", "2" or an option key to a zero-based index
func answerIndex(label string, keys []string) (int, error) {
	label = strings.TrimSpace(label)
	for i, k := range keys {
		if strings.EqualFold(k, label) {
			return i, nil
		}
	}
	if len(label) == 1 {
		c := strings.ToUpper(label)[0]
		if c >= 'A' && c <= 'Z' {
			return int(c - 'A'), nil
		}
	}
	if n, err := strconv.Atoi(label); err == nil {
		return n, nil
	}
	return 0, fmt.Errorf("unrecognized answer %q", label)
}

// ExerciseFilter narrows exercise listings; empty fields match anything
type ExerciseFilter struct {
	Language   string
	Difficulty Difficulty
	Topic      string
	Limit      int
	// Random orders results randomly instead of by id
	Random bool
}

// ExerciseCandidate is the projection used to build a queue
type ExerciseCandidate struct {
	ID         int64      `db:"id"`
	Difficulty Difficulty `db:"difficulty"`
}

// CatalogStats summarizes the exercise catalog
type CatalogStats struct {
	Total        int            `json:"total_exercises"`
	ByLanguage   map[string]int `json:"by_language"`
	ByDifficulty map[string]int `json:"by_difficulty"`
	ByTopic      map[string]int `json:"by_topic"`
}
