package api

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/felixgeelhaar/nosubvo/internal/api/handlers"
	"github.com/felixgeelhaar/nosubvo/internal/api/middleware"
	"github.com/felixgeelhaar/nosubvo/internal/auth"
	"github.com/felixgeelhaar/nosubvo/internal/auth/oauth"
	"github.com/felixgeelhaar/nosubvo/internal/chunker"
	"github.com/felixgeelhaar/nosubvo/internal/config"
	"github.com/felixgeelhaar/nosubvo/internal/llm"
	"github.com/felixgeelhaar/nosubvo/internal/questions"
	"github.com/felixgeelhaar/nosubvo/internal/queue"
	"github.com/felixgeelhaar/nosubvo/internal/session"
	"github.com/felixgeelhaar/nosubvo/internal/storage/sqlstore"
)

// App holds all application dependencies
type App struct {
	Config    *config.Config
	DB        *sqlstore.DB
	Store     *sqlstore.UnitOfWork
	Sessions  session.Store
	Auth      *auth.Service
	Queue     *queue.Manager
	OAuth     *oauth.Registry
	State     *oauth.StateCodec
	LLM       *llm.Registry
	Rules     chunker.Chunker
	Chunker   chunker.Chunker
	Questions *questions.Generator
	Jobs      handlers.QuestionJobPublisher
	Logger    *slog.Logger

	limiters []*middleware.RateLimiter
}

// AppConfig holds configuration for application initialization
type AppConfig struct {
	Config   *config.Config
	DB       *sqlstore.DB
	Sessions session.Store

	// Optional; nil keeps attempts local and generates questions inline
	Publisher queue.AttemptPublisher
	Jobs      handlers.QuestionJobPublisher

	// Optional; defaults to time-based ordering
	QueueOptions []queue.Option
	Logger       *slog.Logger
}

// NewApp creates a new application instance with all dependencies wired
func NewApp(_ context.Context, cfg AppConfig) (*App, error) {
	if cfg.Config == nil {
		return nil, errors.New("config required")
	}
	if cfg.DB == nil {
		return nil, errors.New("database required")
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	app := &App{
		Config:   cfg.Config,
		DB:       cfg.DB,
		Store:    sqlstore.NewUnitOfWork(cfg.DB),
		Sessions: cfg.Sessions,
		Jobs:     cfg.Jobs,
		Logger:   logger,
	}
	if app.Sessions == nil {
		app.Sessions = sqlstore.NewSessionStore(cfg.DB)
	}

	opts := []queue.Option{queue.WithLogger(logger)}
	if cfg.Config.QueueSeed != 0 {
		opts = append(opts, queue.WithSeed(uint64(cfg.Config.QueueSeed)))
	}
	if cfg.Publisher != nil {
		opts = append(opts, queue.WithPublisher(cfg.Publisher))
	}
	opts = append(opts, cfg.QueueOptions...)
	app.Queue = queue.NewManager(app.Store, opts...)

	app.Auth = auth.NewService(app.Store, app.Sessions, app.Queue, cfg.Config.SessionTTL()).WithLogger(logger)

	app.OAuth = oauth.FromConfig(cfg.Config.OAuth, logger)
	app.State = oauth.NewStateCodec(cfg.Config.SessionSecret)

	app.LLM = llm.FromConfig(cfg.Config, logger)
	app.Questions = questions.NewGenerator(app.LLM, logger)

	app.Rules = chunker.NewRuleChunker()
	provider, err := app.LLM.Default()
	if err != nil {
		// Chunking still works on rules alone
		provider = nil
	}
	app.Chunker = chunker.NewLLMChunker(provider, logger)

	return app, nil
}

// ChunkStrategy returns the configured default chunking strategy
func (a *App) ChunkStrategy() string {
	if a.Config.Chunker == handlers.StrategyLLM {
		return handlers.StrategyLLM
	}
	return handlers.StrategyRules
}

// SecureCookies reports whether session cookies carry the Secure flag
func (a *App) SecureCookies() bool {
	return !a.Config.Debug
}

// SessionMaxAge returns the session lifetime
func (a *App) SessionMaxAge() time.Duration {
	return a.Config.SessionTTL()
}

// Close stops background helpers. The database is owned by the caller.
func (a *App) Close() error {
	for _, l := range a.limiters {
		l.Stop()
	}
	a.limiters = nil
	return nil
}
