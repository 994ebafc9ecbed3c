package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/felixgeelhaar/nosubvo/internal/api"
	"github.com/felixgeelhaar/nosubvo/internal/broker"
	"github.com/felixgeelhaar/nosubvo/internal/config"
	"github.com/felixgeelhaar/nosubvo/internal/scheduler"
	"github.com/felixgeelhaar/nosubvo/internal/session"
	"github.com/felixgeelhaar/nosubvo/internal/storage/sqlstore"
	"github.com/felixgeelhaar/nosubvo/internal/telemetry"
	"golang.org/x/sync/errgroup"
)

// Version is set at build time via ldflags
var Version = "dev"

const shutdownTimeout = 30 * time.Second

func main() {
	if err := run(); err != nil {
		slog.Error("daemon error", "error", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	logger, logFile, err := setupLogging(cfg)
	if err != nil {
		return fmt.Errorf("setup logging: %w", err)
	}
	if logFile != nil {
		defer logFile.Close()
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	environment := "production"
	if cfg.Debug {
		environment = "development"
	}
	shutdownTracing := telemetry.Init(ctx, logger, telemetry.Config{
		Enabled:     cfg.OTELEnabled,
		ServiceName: "nosubvo",
		Version:     Version,
		Environment: environment,
		Endpoint:    cfg.OTELEndpoint,
		Insecure:    os.Getenv("OTEL_EXPORTER_OTLP_INSECURE") == "true",
		Headers:     telemetry.ParseHeaders(os.Getenv("OTEL_EXPORTER_OTLP_HEADERS")),
		SampleRatio: cfg.OTELSampler,
	})
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownTracing(ctx); err != nil {
			logger.Warn("tracing shutdown failed", "error", err)
		}
	}()

	db, err := sqlstore.Open(ctx, cfg.DBDriver, cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	defer db.Close()

	if err := db.Migrate(ctx); err != nil {
		return fmt.Errorf("migrate: %w", err)
	}

	sessions, closeSessions, err := openSessionStore(ctx, cfg, db)
	if err != nil {
		return err
	}
	defer closeSessions()

	appCfg := api.AppConfig{
		Config:   cfg,
		DB:       db,
		Sessions: sessions,
		Logger:   logger,
	}

	var conn *broker.Connection
	if cfg.RabbitMQURL != "" {
		conn, err = broker.NewConnection(cfg.RabbitMQURL, logger)
		if err != nil {
			return fmt.Errorf("connect broker: %w", err)
		}
		defer conn.Close()

		producer := broker.NewProducer(conn, logger)
		appCfg.Publisher = producer
		appCfg.Jobs = producer
	} else {
		logger.Info("RABBITMQ_URL not set; attempts stay local and questions are generated inline")
	}

	app, err := api.NewApp(ctx, appCfg)
	if err != nil {
		return fmt.Errorf("create app: %w", err)
	}
	defer app.Close()

	handler, err := api.NewRouter(app)
	if err != nil {
		return fmt.Errorf("create router: %w", err)
	}

	server := &http.Server{
		Addr:              cfg.Addr(),
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      2 * time.Minute,
		IdleTimeout:       2 * time.Minute,
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		logger.Info("http server listening", "addr", server.Addr, "version", Version)
		if err := server.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server error: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutting down")

		ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return server.Shutdown(ctx)
	})

	g.Go(func() error {
		return scheduler.New(app.Auth, cfg.SessionCleanupInterval, logger).Run(gctx)
	})

	if conn != nil {
		worker := broker.NewQuestionWorker(app.Questions, app.Store, logger)
		jobs := broker.NewConsumer(conn, broker.QuestionJobs(worker.Handle), broker.ConsumerConfig{
			Queue:   broker.QuestionJobQueueName,
			Workers: cfg.BrokerWorkers,
		}, logger)
		attempts := broker.NewConsumer(conn, broker.Attempts(broker.LogAttempts(logger)), broker.ConsumerConfig{
			Queue:   broker.AttemptQueueName,
			Workers: 1,
			Timeout: 10 * time.Second,
		}, logger)

		g.Go(func() error { return jobs.Run(gctx) })
		g.Go(func() error { return attempts.Run(gctx) })
	}

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}

	logger.Info("daemon stopped")
	return nil
}

func openSessionStore(ctx context.Context, cfg *config.Config, db *sqlstore.DB) (session.Store, func(), error) {
	switch cfg.SessionStore {
	case "memory":
		return session.NewMemoryStore(), func() {}, nil
	case "redis":
		store, err := session.OpenRedis(ctx, cfg.RedisURL)
		if err != nil {
			return nil, nil, fmt.Errorf("open redis session store: %w", err)
		}
		return store, func() { store.Close() }, nil
	default:
		return sqlstore.NewSessionStore(db), func() {}, nil
	}
}

func parseLogLevel(level string) slog.Level {
	switch level {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// setupLogging writes text to stderr and, with LOG_FILE set, JSON to the file
func setupLogging(cfg *config.Config) (*slog.Logger, io.Closer, error) {
	level := parseLogLevel(cfg.LogLevel)
	handlers := []slog.Handler{
		slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}),
	}

	var logFile *os.File
	if cfg.LogFile != "" {
		f, err := os.OpenFile(cfg.LogFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
		if err != nil {
			return nil, nil, fmt.Errorf("open log file: %w", err)
		}
		logFile = f
		handlers = append(handlers, slog.NewJSONHandler(f, &slog.HandlerOptions{Level: level}))
	}

	logger := slog.New(&multiHandler{handlers: handlers})
	slog.SetDefault(logger)

	if logFile == nil {
		return logger, nil, nil
	}
	return logger, logFile, nil
}

// multiHandler logs to multiple handlers
type multiHandler struct {
	handlers []slog.Handler
}

func (h *multiHandler) Enabled(ctx context.Context, level slog.Level) bool {
	for _, handler := range h.handlers {
		if handler.Enabled(ctx, level) {
			return true
		}
	}
	return false
}

func (h *multiHandler) Handle(ctx context.Context, r slog.Record) error {
	var errs []error
	for _, handler := range h.handlers {
		if handler.Enabled(ctx, r.Level) {
			errs = append(errs, handler.Handle(ctx, r.Clone()))
		}
	}
	return errors.Join(errs...)
}

func (h *multiHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	handlers := make([]slog.Handler, len(h.handlers))
	for i, handler := range h.handlers {
		handlers[i] = handler.WithAttrs(attrs)
	}
	return &multiHandler{handlers: handlers}
}

func (h *multiHandler) WithGroup(name string) slog.Handler {
	handlers := make([]slog.Handler, len(h.handlers))
	for i, handler := range h.handlers {
		handlers[i] = handler.WithGroup(name)
	}
	return &multiHandler{handlers: handlers}
}
