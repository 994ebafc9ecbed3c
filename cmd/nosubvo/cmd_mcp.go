package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/felixgeelhaar/nosubvo/internal/chunker"
	"github.com/felixgeelhaar/nosubvo/internal/domain"
	"github.com/felixgeelhaar/nosubvo/internal/llm"
	mcpserver "github.com/felixgeelhaar/nosubvo/internal/mcp"
	"github.com/felixgeelhaar/nosubvo/internal/queue"
	"github.com/felixgeelhaar/nosubvo/internal/storage/sqlstore"
)

// cmdMCP starts the MCP server on stdio for one learner
func cmdMCP(args []string) error {
	fs := flag.NewFlagSet("mcp", flag.ContinueOnError)
	email := fs.String("user", "", "learner email address")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *email == "" {
		return fmt.Errorf("usage: nosubvo mcp -user <email>")
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	cfg, db, err := openStore(ctx)
	if err != nil {
		return err
	}
	defer db.Close()
	logger := slog.Default()

	store := sqlstore.NewUnitOfWork(db)
	user, err := store.Users().GetByEmail(ctx, *email)
	if errors.Is(err, domain.ErrUserNotFound) {
		return fmt.Errorf("no learner with email %s (register through the web app first)", *email)
	}
	if err != nil {
		return fmt.Errorf("find learner: %w", err)
	}

	opts := []queue.Option{queue.WithLogger(logger)}
	if cfg.QueueSeed != 0 {
		opts = append(opts, queue.WithSeed(uint64(cfg.QueueSeed)))
	}

	var c chunker.Chunker = chunker.NewRuleChunker()
	if cfg.Chunker == "llm" {
		provider, _ := llm.FromConfig(cfg, logger).Default()
		c = chunker.NewLLMChunker(provider, logger)
	}

	srv := mcpserver.NewServer(mcpserver.Config{
		Queue:   queue.NewManager(store, opts...),
		Chunker: c,
		UserID:  user.ID,
		Version: Version,
	})

	return srv.ServeStdio(ctx)
}
