package chunker

import (
	"math"
	"strings"
	"unicode"
)

// DefaultWPM is the reading speed assumed for estimates
const DefaultWPM = 200

// Stats summarizes a text
type Stats struct {
	Words          int `json:"word_count"`
	Sentences      int `json:"sentence_count"`
	Characters     int `json:"character_count"`
	ReadingSeconds int `json:"estimated_reading_seconds"`
}

// Analyze counts words and sentences and estimates reading time at wpm
// words per minute. A non-positive wpm uses DefaultWPM.
func Analyze(text string, wpm int) Stats {
	if wpm <= 0 {
		wpm = DefaultWPM
	}

	var s Stats
	s.Characters = len([]rune(text))

	sentenceOpen := false
	for _, tok := range strings.Fields(text) {
		if SanitizeWord(tok) != "" {
			s.Words++
			sentenceOpen = true
		}
		if sentenceOpen && strings.ContainsAny(tok, ".!?") && endsSentence(tok) {
			s.Sentences++
			sentenceOpen = false
		}
	}
	if sentenceOpen {
		s.Sentences++
	}

	s.ReadingSeconds = int(math.Ceil(float64(s.Words) * 60 / float64(wpm)))
	return s
}

func endsSentence(tok string) bool {
	t := strings.TrimRight(tok, `"'”’)]»`)
	return t != "" && strings.ContainsAny(t[len(t)-1:], ".!?")
}

// SanitizeWord keeps only the letters and digits of word
func SanitizeWord(word string) string {
	var sb strings.Builder
	for _, r := range word {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			sb.WriteRune(r)
		}
	}
	return sb.String()
}

// Words returns the sanitized, lower-cased words of text in order
func Words(text string) []string {
	var out []string
	for _, tok := range strings.Fields(text) {
		if w := SanitizeWord(tok); w != "" {
			out = append(out, strings.ToLower(w))
		}
	}
	return out
}
