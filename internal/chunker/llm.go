package chunker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"slices"

	"github.com/felixgeelhaar/nosubvo/internal/llm"
)

const chunkPrompt = `Split the text below into short meaningful phrases (noun phrases, verb phrases, prepositional phrases) of at most %d words, to help a reader take in one phrase at a time.
Keep every word, in the original order, without adding or changing words. Leave out punctuation.
Return a JSON object of the form {"chunks": ["phrase one", "phrase two"]}.

Text:
%s`

var errChunkMismatch = errors.New("chunks do not reproduce the text")

// LLMChunker asks a language model for chunks and falls back to rules when
// the call fails or the answer does not reproduce the text.
type LLMChunker struct {
	provider llm.Provider
	fallback *RuleChunker
	logger   *slog.Logger
}

// NewLLMChunker creates an LLMChunker. A nil provider always uses rules.
func NewLLMChunker(provider llm.Provider, logger *slog.Logger) *LLMChunker {
	if logger == nil {
		logger = slog.Default()
	}
	return &LLMChunker{provider: provider, fallback: NewRuleChunker(), logger: logger}
}

func (c *LLMChunker) Chunk(ctx context.Context, text string) ([]string, error) {
	if c.provider == nil {
		return c.fallback.Chunk(ctx, text)
	}

	chunks, err := c.ask(ctx, text)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		c.logger.Warn("llm chunking failed, using rules", "provider", c.provider.Name(), "error", err)
		return c.fallback.Chunk(ctx, text)
	}
	return chunks, nil
}

func (c *LLMChunker) ask(ctx context.Context, text string) ([]string, error) {
	req := llm.UserPrompt(fmt.Sprintf(chunkPrompt, c.fallback.MaxWords, text))
	req.JSON = true
	req.Temperature = 0.2

	resp, err := c.provider.Generate(ctx, req)
	if err != nil {
		return nil, err
	}

	var out struct {
		Chunks []string `json:"chunks"`
	}
	if err := json.Unmarshal([]byte(StripCodeFence(resp.Content)), &out); err != nil {
		return nil, fmt.Errorf("decode chunks: %w", err)
	}

	chunks := make([]string, 0, len(out.Chunks))
	var words []string
	for _, ch := range out.Chunks {
		w := Words(ch)
		if len(w) == 0 {
			continue
		}
		chunks = append(chunks, trimPunct(ch))
		words = append(words, w...)
	}

	if len(chunks) == 0 || !slices.Equal(words, Words(text)) {
		return nil, errChunkMismatch
	}
	return chunks, nil
}
