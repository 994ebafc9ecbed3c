package api

import (
	"crypto/subtle"
	"log/slog"
	"net/http"
	"time"

	"github.com/felixgeelhaar/nosubvo/internal/api/handlers"
	"github.com/felixgeelhaar/nosubvo/internal/api/middleware"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

// Router wraps the HTTP multiplexer with middleware and handlers
type Router struct {
	mux       *http.ServeMux
	app       *App
	auth      *handlers.AuthHandler
	oauth     *handlers.OAuthHandler
	text      *handlers.TextHandler
	exercise  *handlers.ExerciseHandler
	progress  *handlers.ProgressHandler
	expensive func(http.Handler) http.Handler
}

// NewRouter creates a new API router with all routes configured
func NewRouter(app *App) (http.Handler, error) {
	r := &Router{
		mux: http.NewServeMux(),
		app: app,
	}

	// Initialize handlers
	r.auth = handlers.NewAuthHandler(app.Auth, app.SecureCookies(), app.SessionMaxAge())
	r.oauth = handlers.NewOAuthHandler(app.OAuth, app.State, app.Auth, r.auth, app.Config.FrontendURL, app.Logger)
	r.text = handlers.NewTextHandler(app.Rules, app.Chunker, app.ChunkStrategy(), app.Questions)
	r.exercise = handlers.NewExerciseHandler(app.Store.Exercises(), app.Queue, app.Questions, app.Jobs, app.Logger)
	r.progress = handlers.NewProgressHandler(app.Queue)

	r.expensive = func(next http.Handler) http.Handler { return next }
	if !app.Config.Debug {
		cfg := middleware.DefaultRateLimitConfig()
		limiter := middleware.NewRateLimiter(cfg.ExpensiveRequestsPerMinute, time.Minute/time.Duration(cfg.ExpensiveRequestsPerMinute), cfg.ExpensiveRequestsPerMinute)
		app.limiters = append(app.limiters, limiter)
		r.expensive = middleware.RateLimit(limiter)
	}

	// Register routes
	r.registerRoutes()

	// Build middleware chain
	handler := r.buildMiddlewareChain(r.mux, app)

	return otelhttp.NewHandler(handler, "nosubvo",
		otelhttp.WithSpanNameFormatter(func(_ string, req *http.Request) string {
			return req.Method + " " + req.URL.Path
		}),
	), nil
}

func (r *Router) registerRoutes() {
	// Health check
	r.mux.HandleFunc("GET /health", r.handleHealth)
	r.mux.HandleFunc("GET /ready", r.handleReady)

	// Auth
	r.mux.HandleFunc("POST /api/v1/auth/register", r.wrap(r.auth.Register))
	r.mux.HandleFunc("POST /api/v1/auth/login", r.wrap(r.auth.Login))
	r.mux.HandleFunc("POST /api/v1/auth/logout", r.wrap(r.auth.Logout))
	r.mux.HandleFunc("GET /api/v1/auth/me", r.requireAuth(r.auth.Me))

	// OAuth
	r.mux.HandleFunc("GET /api/v1/auth/oauth/providers", r.wrap(r.oauth.Providers))
	r.mux.HandleFunc("GET /api/v1/auth/oauth/{provider}", r.wrap(r.oauth.Start))
	r.mux.HandleFunc("GET /api/v1/auth/oauth/{provider}/callback", r.wrap(r.oauth.Callback))
	r.mux.HandleFunc("POST /api/v1/auth/oauth/{provider}/callback", r.wrap(r.oauth.Callback))

	// Reading tools
	r.mux.Handle("POST /api/v1/chunk", r.expensive(r.wrap(r.text.Chunk)))
	r.mux.Handle("POST /api/v1/questions", r.expensive(r.wrap(r.text.Questions)))

	// Exercises
	r.mux.HandleFunc("GET /api/v1/exercises", r.wrap(r.exercise.Random))
	r.mux.HandleFunc("GET /api/v1/exercises/stats", r.wrap(r.exercise.Stats))
	r.mux.HandleFunc("GET /api/v1/exercises/next", r.requireAuth(r.exercise.Next))
	r.mux.HandleFunc("GET /api/v1/exercises/{id}", r.wrap(r.exercise.Get))
	r.mux.HandleFunc("POST /api/v1/exercises", r.requireAdmin(r.exercise.Create))
	r.mux.Handle("POST /api/v1/exercises/{id}/questions", r.expensive(r.requireAdmin(r.exercise.GenerateQuestions)))

	// Progress and queue
	r.mux.HandleFunc("POST /api/v1/progress", r.requireAuth(r.progress.Submit))
	r.mux.HandleFunc("GET /api/v1/progress", r.requireAuth(r.progress.Report))
	r.mux.HandleFunc("GET /api/v1/queue", r.requireAuth(r.progress.Queue))
	r.mux.HandleFunc("POST /api/v1/queue/refresh", r.requireAuth(r.progress.RefreshQueue))
}

func (r *Router) buildMiddlewareChain(handler http.Handler, app *App) http.Handler {
	// Apply middleware in reverse order (last applied = first executed)
	handler = middleware.Recovery(handler)
	handler = middleware.Logger(handler)

	// Apply rate limiting (skip in debug mode for easier development)
	if !app.Config.Debug {
		cfg := middleware.DefaultRateLimitConfig()
		limiter := middleware.NewRateLimiter(cfg.RequestsPerMinute, time.Minute/time.Duration(cfg.RequestsPerMinute), cfg.RequestsPerMinute*cfg.BurstMultiplier)
		app.limiters = append(app.limiters, limiter)
		handler = middleware.RateLimit(limiter)(handler)
	}

	handler = middleware.RequestID(handler)

	origins := []string{app.Config.FrontendURL}
	if app.Config.Debug {
		origins = append(origins, "*")
	}
	handler = middleware.CORS(origins...)(handler)

	return handler
}

// wrap adapts an error-returning handler, mapping errors to the JSON envelope
func (r *Router) wrap(h handlers.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, req *http.Request) {
		if err := h(w, req); err != nil {
			status, apiErr := FromError(err)
			WriteError(w, req, status, apiErr)
		}
	}
}

// requireAuth wraps a handler with authentication
func (r *Router) requireAuth(next handlers.HandlerFunc) http.HandlerFunc {
	h := r.wrap(next)
	return func(w http.ResponseWriter, req *http.Request) {
		token := handlers.SessionToken(req)
		if token == "" {
			Unauthorized(w, req, "authentication required")
			return
		}

		user, _, err := r.app.Auth.ValidateSession(req.Context(), token)
		if err != nil {
			slog.Warn("invalid session",
				"error", err,
				"request_id", middleware.GetRequestID(req.Context()),
			)
			status, apiErr := FromError(err)
			WriteError(w, req, status, apiErr)
			return
		}

		h(w, req.WithContext(handlers.WithUser(req.Context(), user)))
	}
}

// requireAdmin guards catalog writes with the shared admin token. Without
// a configured token the routes are disabled.
func (r *Router) requireAdmin(next handlers.HandlerFunc) http.HandlerFunc {
	h := r.wrap(next)
	return func(w http.ResponseWriter, req *http.Request) {
		want := r.app.Config.AdminToken
		if want == "" {
			Forbidden(w, req, "admin endpoints are disabled")
			return
		}

		got := req.Header.Get("X-Admin-Token")
		if subtle.ConstantTimeCompare([]byte(got), []byte(want)) != 1 {
			Forbidden(w, req, "invalid admin token")
			return
		}

		h(w, req)
	}
}

// Health check handlers
func (r *Router) handleHealth(w http.ResponseWriter, req *http.Request) {
	WriteJSON(w, http.StatusOK, map[string]string{
		"status": "healthy",
		"time":   time.Now().UTC().Format(time.RFC3339),
	})
}

func (r *Router) handleReady(w http.ResponseWriter, req *http.Request) {
	// Check database connectivity
	if err := r.app.DB.PingContext(req.Context()); err != nil {
		slog.Error("database health check failed",
			"error", err,
			"request_id", middleware.GetRequestID(req.Context()),
		)
		WriteJSON(w, http.StatusServiceUnavailable, map[string]any{
			"status": "not ready",
			"checks": map[string]string{
				"database": "unhealthy",
			},
		})
		return
	}

	WriteJSON(w, http.StatusOK, map[string]any{
		"status": "ready",
		"checks": map[string]string{
			"database": "healthy",
		},
	})
}
