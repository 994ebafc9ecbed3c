// Package chunker splits reading text into short phrase-sized units.
//
// Reading a phrase at a time instead of a word at a time discourages
// subvocalization. The rule chunker groups function words with the content
// words that follow them, which approximates noun, verb and prepositional
// phrases without a parser.
package chunker

import (
	"context"
	"strings"
	"unicode"
)

// DefaultMaxWords bounds the length of a rule-based chunk
const DefaultMaxWords = 4

// Chunker splits text into ordered chunks
type Chunker interface {
	Chunk(ctx context.Context, text string) ([]string, error)
}

// RuleChunker chunks text with word-class rules
type RuleChunker struct {
	MaxWords int
}

// NewRuleChunker creates a RuleChunker with DefaultMaxWords
func NewRuleChunker() *RuleChunker {
	return &RuleChunker{MaxWords: DefaultMaxWords}
}

// Chunk never fails; the error is part of the Chunker contract
func (c *RuleChunker) Chunk(_ context.Context, text string) ([]string, error) {
	maxWords := c.MaxWords
	if maxWords <= 0 {
		maxWords = DefaultMaxWords
	}

	var (
		chunks     []string
		cur        []string
		hasContent bool
	)
	flush := func() {
		if len(cur) > 0 {
			chunks = append(chunks, strings.Join(cur, " "))
		}
		cur = cur[:0]
		hasContent = false
	}

	for _, tok := range strings.Fields(text) {
		word := trimPunct(tok)
		if word == "" {
			// punctuation-only tokens end a phrase but are never emitted
			if closesPhrase(tok) {
				flush()
			}
			continue
		}

		function := IsFunctionWord(word)
		if (function && hasContent) || len(cur) >= maxWords {
			flush()
		}

		cur = append(cur, word)
		if !function {
			hasContent = true
		}

		if closesPhrase(tok) {
			flush()
		}
	}
	flush()

	return chunks, nil
}

// trimPunct strips leading and trailing characters that are neither
// letters nor digits, keeping inner apostrophes and hyphens.
func trimPunct(tok string) string {
	return strings.TrimFunc(tok, func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
}

func closesPhrase(tok string) bool {
	last := strings.TrimRight(tok, `"'”’)]»`)
	if last == "" {
		last = tok
	}
	return strings.ContainsAny(last[len(last)-1:], ".,;:!?")
}

// IsFunctionWord reports whether word (any case) is a determiner,
// preposition, auxiliary, conjunction, pronoun or negation.
func IsFunctionWord(word string) bool {
	_, ok := functionWords[strings.ToLower(word)]
	return ok
}

var functionWords = toSet(
	// determiners
	"a", "an", "the", "this", "that", "these", "those", "my", "your", "his", "her",
	"its", "our", "their", "some", "any", "no", "every", "each", "all", "both",
	"either", "neither", "much", "many", "more", "most", "few", "several", "such",
	// prepositions
	"about", "above", "across", "after", "against", "along", "among", "around", "at",
	"before", "behind", "below", "beneath", "beside", "between", "beyond", "by",
	"despite", "down", "during", "except", "for", "from", "in", "inside", "into",
	"like", "near", "of", "off", "on", "onto", "out", "outside", "over", "past",
	"since", "through", "throughout", "to", "toward", "towards", "under", "until",
	"up", "upon", "with", "within", "without",
	// auxiliaries and modals
	"am", "is", "are", "was", "were", "be", "been", "being", "have", "has", "had",
	"do", "does", "did", "will", "would", "shall", "should", "can", "could", "may",
	"might", "must",
	// conjunctions
	"and", "or", "but", "nor", "so", "yet", "because", "although", "though",
	"while", "if", "unless", "when", "whereas", "than", "whether",
	// pronouns
	"i", "you", "he", "she", "it", "we", "they", "me", "him", "us", "them",
	"who", "whom", "whose", "which", "what",
	// negations
	"not", "never", "don't", "doesn't", "didn't", "isn't", "aren't", "wasn't",
	"weren't", "won't", "can't", "cannot", "couldn't", "shouldn't", "wouldn't",
)

func toSet(words ...string) map[string]struct{} {
	m := make(map[string]struct{}, len(words))
	for _, w := range words {
		m[w] = struct{}{}
	}
	return m
}
