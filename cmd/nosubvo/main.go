package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/felixgeelhaar/nosubvo/internal/config"
	"github.com/felixgeelhaar/nosubvo/internal/storage/sqlstore"
)

// Version is set at build time via ldflags
var Version = "dev"

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	var err error
	switch os.Args[1] {
	case "migrate":
		err = cmdMigrate()
	case "seed":
		err = cmdSeed(os.Args[2:])
	case "import":
		err = cmdImport(os.Args[2:])
	case "chunk":
		err = cmdChunk(os.Args[2:])
	case "stats":
		err = cmdStats()
	case "mcp":
		err = cmdMCP(os.Args[2:])
	case "help", "-h", "--help":
		printUsage()
	case "version", "-v", "--version":
		fmt.Printf("nosubvo %s\n", Version)
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n\n", os.Args[1])
		printUsage()
		os.Exit(1)
	}

	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Println(`NoSubvo - Reading comprehension training

Usage:
  nosubvo <command> [arguments]

Database Commands:
  migrate                      Apply pending schema migrations
  seed <dir>                   Load exercise packs from dir
  import [-sheet name] <file>  Import exercises from an .xlsx workbook
  stats                        Show catalog statistics

Reading Commands:
  chunk [-llm] <file>          Split a text file into reading phrases

Integration Commands:
  mcp -user <email>            Start MCP server on stdio for one learner

Other:
  help                         Show this help message
  version                      Show version information

Configuration is read from nosubvo.yaml, .env and the environment
(DATABASE_URL, DB_DRIVER, LLM_PROVIDER, ...).

Examples:
  nosubvo migrate
  nosubvo seed ./exercises
  nosubvo import -sheet German exercises.xlsx
  nosubvo chunk -llm article.txt
  nosubvo mcp -user reader@example.com`)
}

// openStore loads tool configuration and opens the migrated database
func openStore(ctx context.Context) (*config.Config, *sqlstore.DB, error) {
	cfg, err := config.LoadTool()
	if err != nil {
		return nil, nil, fmt.Errorf("load config: %w", err)
	}
	setupLogging(cfg)

	db, err := sqlstore.Open(ctx, cfg.DBDriver, cfg.DatabaseURL)
	if err != nil {
		return nil, nil, fmt.Errorf("open database: %w", err)
	}
	if err := db.Migrate(ctx); err != nil {
		db.Close()
		return nil, nil, fmt.Errorf("migrate: %w", err)
	}
	return cfg, db, nil
}

// setupLogging sends logs to stderr so stdout stays free for output and MCP
func setupLogging(cfg *config.Config) *slog.Logger {
	level := slog.LevelWarn
	if cfg.Debug || cfg.LogLevel == "debug" {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)
	return logger
}

// renderProgressBar creates a visual progress bar
func renderProgressBar(value float64, width int) string {
	filled := min(max(int(value*float64(width)), 0), width)
	return "[" + strings.Repeat("█", filled) + strings.Repeat("░", width-filled) + "]"
}
