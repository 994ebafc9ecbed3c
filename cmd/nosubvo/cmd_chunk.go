package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"unicode/utf8"

	"github.com/felixgeelhaar/nosubvo/internal/chunker"
	"github.com/felixgeelhaar/nosubvo/internal/config"
	"github.com/felixgeelhaar/nosubvo/internal/llm"
)

// cmdChunk splits a text file into reading phrases
func cmdChunk(args []string) error {
	fs := flag.NewFlagSet("chunk", flag.ContinueOnError)
	useLLM := fs.Bool("llm", false, "use the configured language model (falls back to rules)")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if fs.NArg() != 1 {
		return fmt.Errorf("usage: nosubvo chunk [-llm] <file>")
	}

	data, err := os.ReadFile(fs.Arg(0))
	if err != nil {
		return fmt.Errorf("read %s: %w", fs.Arg(0), err)
	}
	if !utf8.Valid(data) {
		return fmt.Errorf("%s is not UTF-8 text", fs.Arg(0))
	}

	cfg, err := config.LoadTool()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	logger := setupLogging(cfg)

	var c chunker.Chunker = chunker.NewRuleChunker()
	if *useLLM {
		provider, err := llm.FromConfig(cfg, logger).Default()
		if err != nil {
			logger.Warn("no language model configured, using rules", "error", err)
		}
		c = chunker.NewLLMChunker(provider, logger)
	}

	text := string(data)
	chunks, err := c.Chunk(context.Background(), text)
	if err != nil {
		return fmt.Errorf("chunk: %w", err)
	}

	for _, ch := range chunks {
		fmt.Println(ch)
	}

	stats := chunker.Analyze(text, chunker.DefaultWPM)
	fmt.Fprintf(os.Stderr, "\n%d chunks, %d words, %d sentences, ~%ds at %d wpm\n",
		len(chunks), stats.Words, stats.Sentences, stats.ReadingSeconds, chunker.DefaultWPM)
	return nil
}
