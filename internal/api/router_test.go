package api_test

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"net/url"
	"path/filepath"
	"strconv"
	"strings"
	"testing"

	"github.com/felixgeelhaar/nosubvo/internal/api"
	"github.com/felixgeelhaar/nosubvo/internal/api/handlers"
	"github.com/felixgeelhaar/nosubvo/internal/auth"
	"github.com/felixgeelhaar/nosubvo/internal/config"
	"github.com/felixgeelhaar/nosubvo/internal/domain"
	"github.com/felixgeelhaar/nosubvo/internal/queue"
	"github.com/felixgeelhaar/nosubvo/internal/session"
	"github.com/felixgeelhaar/nosubvo/internal/storage/sqlstore"
)

const adminToken = "test-admin-token"

type testServer struct {
	handler http.Handler
	app     *api.App
}

func newTestServer(t *testing.T, mutate func(*config.Config)) *testServer {
	t.Helper()
	ctx := context.Background()

	db, err := sqlstore.Open(ctx, sqlstore.DriverSQLite, filepath.Join(t.TempDir(), "api.db"))
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	t.Cleanup(func() { db.Close() })
	if err := db.Migrate(ctx); err != nil {
		t.Fatalf("Migrate() error = %v", err)
	}

	cfg := config.Default()
	cfg.Debug = true
	cfg.LLMProvider = "none"
	cfg.AdminToken = adminToken
	if mutate != nil {
		mutate(cfg)
	}

	app, err := api.NewApp(ctx, api.AppConfig{
		Config:       cfg,
		DB:           db,
		Sessions:     session.NewMemoryStore(),
		QueueOptions: []queue.Option{queue.WithSeed(7)},
	})
	if err != nil {
		t.Fatalf("NewApp() error = %v", err)
	}
	t.Cleanup(func() { app.Close() })

	handler, err := api.NewRouter(app)
	if err != nil {
		t.Fatalf("NewRouter() error = %v", err)
	}
	return &testServer{handler: handler, app: app}
}

func (s *testServer) addExercise(t *testing.T, title, lang string, d domain.Difficulty) *domain.Exercise {
	t.Helper()
	e := &domain.Exercise{
		Title:      title,
		Text:       "A short text about " + title + ". It is easy to read.",
		Language:   lang,
		Difficulty: d,
		Topic:      "nature",
		Questions: []domain.Question{
			{Question: "What is it about?", Options: []string{title, "nothing"}, Answer: 0},
		},
	}
	if err := s.app.Store.Exercises().Create(context.Background(), e); err != nil {
		t.Fatalf("Create(exercise) error = %v", err)
	}
	return e
}

func (s *testServer) do(t *testing.T, method, path string, body any, headers map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode body: %v", err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	s.handler.ServeHTTP(rec, req)
	return rec
}

func (s *testServer) register(t *testing.T, username, lang string) string {
	t.Helper()
	rec := s.do(t, http.MethodPost, "/api/v1/auth/register", map[string]string{
		"username":           username,
		"email":              username + "@example.com",
		"password":           "secret123",
		"preferred_language": lang,
	}, nil)
	if rec.Code != http.StatusCreated {
		t.Fatalf("register status = %d; want %d (%s)", rec.Code, http.StatusCreated, rec.Body.String())
	}
	var resp struct {
		Token string `json:"session_token"`
	}
	decode(t, rec, &resp)
	if resp.Token == "" {
		t.Fatal("register returned no session token")
	}
	return resp.Token
}

func bearer(token string) map[string]string {
	return map[string]string{"Authorization": "Bearer " + token}
}

func decode(t *testing.T, rec *httptest.ResponseRecorder, v any) {
	t.Helper()
	if err := json.Unmarshal(rec.Body.Bytes(), v); err != nil {
		t.Fatalf("decode response %q: %v", rec.Body.String(), err)
	}
}

func errorCode(t *testing.T, rec *httptest.ResponseRecorder) string {
	t.Helper()
	var resp api.ErrorResponse
	decode(t, rec, &resp)
	if resp.Error == nil {
		t.Fatalf("response %q has no error envelope", rec.Body.String())
	}
	return resp.Error.Code
}

func TestHealthAndReady(t *testing.T) {
	s := newTestServer(t, nil)

	for _, path := range []string{"/health", "/ready"} {
		rec := s.do(t, http.MethodGet, path, nil, nil)
		if rec.Code != http.StatusOK {
			t.Errorf("GET %s status = %d; want %d", path, rec.Code, http.StatusOK)
		}
	}
}

func TestRequestLogCarriesRequestID(t *testing.T) {
	s := newTestServer(t, nil)

	var buf bytes.Buffer
	prev := slog.Default()
	slog.SetDefault(slog.New(slog.NewJSONHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug})))
	t.Cleanup(func() { slog.SetDefault(prev) })

	rec := s.do(t, http.MethodGet, "/api/v1/exercises/999", nil, map[string]string{"X-Request-ID": "req-123"})
	if rec.Code != http.StatusNotFound {
		t.Fatalf("status = %d; want %d", rec.Code, http.StatusNotFound)
	}

	var found bool
	for _, line := range bytes.Split(bytes.TrimSpace(buf.Bytes()), []byte("\n")) {
		var entry map[string]any
		if err := json.Unmarshal(line, &entry); err != nil {
			t.Fatalf("decode log line %q: %v", line, err)
		}
		if entry["msg"] != "http request" && entry["msg"] != "api error" {
			continue
		}
		found = true
		if entry["request_id"] != "req-123" {
			t.Errorf("%s request_id = %v; want req-123", entry["msg"], entry["request_id"])
		}
	}
	if !found {
		t.Errorf("no request log written: %s", buf.String())
	}
}

func TestLearnerFlow(t *testing.T) {
	s := newTestServer(t, nil)
	beginner := s.addExercise(t, "Birds", "en", domain.DifficultyBeginner)
	intermediate := s.addExercise(t, "Rivers", "en", domain.DifficultyIntermediate)
	advanced := s.addExercise(t, "Glaciers", "en", domain.DifficultyAdvanced)
	s.addExercise(t, "Vögel", "de", domain.DifficultyBeginner)

	token := s.register(t, "reader", "en")

	rec := s.do(t, http.MethodGet, "/api/v1/queue", nil, bearer(token))
	var q struct {
		Count int `json:"count"`
	}
	decode(t, rec, &q)
	if q.Count != 3 {
		t.Fatalf("queue count = %d; want 3", q.Count)
	}

	rec = s.do(t, http.MethodGet, "/api/v1/exercises/next", nil, bearer(token))
	if rec.Code != http.StatusOK {
		t.Fatalf("next status = %d; want %d", rec.Code, http.StatusOK)
	}
	var next struct {
		Exercise domain.Exercise `json:"exercise"`
	}
	decode(t, rec, &next)
	if next.Exercise.ID != beginner.ID {
		t.Errorf("next exercise = %d; want %d", next.Exercise.ID, beginner.ID)
	}

	steps := []struct {
		exerciseID int64
		score      float64
		wantStatus domain.ProgressStatus
		wantNext   int64
	}{
		{beginner.ID, 0.9, domain.StatusCompleted, intermediate.ID},
		{intermediate.ID, 0.4, domain.StatusFailed, advanced.ID},
	}
	for _, st := range steps {
		rec = s.do(t, http.MethodPost, "/api/v1/progress", map[string]any{
			"exercise_id":              st.exerciseID,
			"comprehension_score":      st.score,
			"questions_answered":       5,
			"questions_correct":        int(st.score * 5),
			"reading_speed_wpm":        180,
			"session_duration_seconds": 60,
		}, bearer(token))
		if rec.Code != http.StatusOK {
			t.Fatalf("submit status = %d; want %d (%s)", rec.Code, http.StatusOK, rec.Body.String())
		}
		var resp struct {
			Status       domain.ProgressStatus `json:"status"`
			NextExercise *domain.Exercise      `json:"next_exercise"`
		}
		decode(t, rec, &resp)
		if resp.Status != st.wantStatus {
			t.Errorf("status = %q; want %q", resp.Status, st.wantStatus)
		}
		if resp.NextExercise == nil || resp.NextExercise.ID != st.wantNext {
			t.Errorf("next_exercise = %+v; want id %d", resp.NextExercise, st.wantNext)
		}
	}

	rec = s.do(t, http.MethodGet, "/api/v1/progress", nil, bearer(token))
	var report struct {
		Progress domain.ProgressReport `json:"progress"`
	}
	decode(t, rec, &report)
	if report.Progress.CompletedExercises != 1 || report.Progress.FailedExercises != 1 {
		t.Errorf("report = %+v; want 1 completed and 1 failed", report.Progress)
	}
	if report.Progress.QueueCount != 2 {
		t.Errorf("QueueCount = %d; want 2", report.Progress.QueueCount)
	}
}

func TestSubmitValidation(t *testing.T) {
	s := newTestServer(t, nil)
	ex := s.addExercise(t, "Birds", "en", domain.DifficultyBeginner)
	token := s.register(t, "reader", "en")

	tests := []struct {
		name string
		body map[string]any
	}{
		{"missing score", map[string]any{"exercise_id": ex.ID, "questions_answered": 1, "questions_correct": 1}},
		{"score above one", map[string]any{"exercise_id": ex.ID, "comprehension_score": 1.5, "questions_answered": 1, "questions_correct": 1}},
		{"correct above answered", map[string]any{"exercise_id": ex.ID, "comprehension_score": 0.5, "questions_answered": 1, "questions_correct": 2}},
		{"negative speed", map[string]any{"exercise_id": ex.ID, "comprehension_score": 0.5, "questions_answered": 1, "questions_correct": 1, "reading_speed_wpm": -1}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := s.do(t, http.MethodPost, "/api/v1/progress", tt.body, bearer(token))
			if rec.Code != http.StatusBadRequest {
				t.Errorf("status = %d; want %d (%s)", rec.Code, http.StatusBadRequest, rec.Body.String())
			}
		})
	}
}

func TestSubmitUnknownExercise(t *testing.T) {
	s := newTestServer(t, nil)
	token := s.register(t, "reader", "en")

	rec := s.do(t, http.MethodPost, "/api/v1/progress", map[string]any{
		"exercise_id":         999,
		"comprehension_score": 0.5,
		"questions_answered":  2,
		"questions_correct":   1,
	}, bearer(token))
	if rec.Code != http.StatusNotFound {
		t.Errorf("status = %d; want %d", rec.Code, http.StatusNotFound)
	}
}

func TestQueueEmpty(t *testing.T) {
	s := newTestServer(t, nil)
	s.addExercise(t, "Birds", "en", domain.DifficultyBeginner)
	token := s.register(t, "lernende", "de")

	rec := s.do(t, http.MethodGet, "/api/v1/exercises/next", nil, bearer(token))
	if rec.Code != http.StatusNotFound {
		t.Fatalf("status = %d; want %d", rec.Code, http.StatusNotFound)
	}
	if code := errorCode(t, rec); code != "QUEUE_EMPTY" {
		t.Errorf("code = %q; want QUEUE_EMPTY", code)
	}

	s.addExercise(t, "Vögel", "de", domain.DifficultyBeginner)
	rec = s.do(t, http.MethodPost, "/api/v1/queue/refresh", nil, bearer(token))
	var refreshed struct {
		Added    int    `json:"added"`
		Language string `json:"language"`
	}
	decode(t, rec, &refreshed)
	if refreshed.Added != 1 || refreshed.Language != "de" {
		t.Errorf("refresh = %+v; want 1 added for de", refreshed)
	}

	rec = s.do(t, http.MethodGet, "/api/v1/exercises/next", nil, bearer(token))
	if rec.Code != http.StatusOK {
		t.Errorf("status after refresh = %d; want %d", rec.Code, http.StatusOK)
	}
}

func TestAuthEndpoints(t *testing.T) {
	s := newTestServer(t, nil)
	token := s.register(t, "reader", "en")

	tests := []struct {
		name       string
		method     string
		path       string
		body       any
		headers    map[string]string
		wantStatus int
	}{
		{"me without session", http.MethodGet, "/api/v1/auth/me", nil, nil, http.StatusUnauthorized},
		{"me with bogus token", http.MethodGet, "/api/v1/auth/me", nil, bearer("bogus"), http.StatusUnauthorized},
		{"me", http.MethodGet, "/api/v1/auth/me", nil, bearer(token), http.StatusOK},
		{"duplicate registration", http.MethodPost, "/api/v1/auth/register", map[string]string{
			"username": "reader", "email": "reader@example.com", "password": "secret123",
		}, nil, http.StatusConflict},
		{"short password", http.MethodPost, "/api/v1/auth/register", map[string]string{
			"username": "other", "email": "other@example.com", "password": "123",
		}, nil, http.StatusBadRequest},
		{"login by email", http.MethodPost, "/api/v1/auth/login", map[string]string{
			"username": "READER@example.com", "password": "secret123",
		}, nil, http.StatusOK},
		{"wrong password", http.MethodPost, "/api/v1/auth/login", map[string]string{
			"username": "reader", "password": "nope-nope",
		}, nil, http.StatusUnauthorized},
		{"protected queue", http.MethodGet, "/api/v1/queue", nil, nil, http.StatusUnauthorized},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := s.do(t, tt.method, tt.path, tt.body, tt.headers)
			if rec.Code != tt.wantStatus {
				t.Errorf("status = %d; want %d (%s)", rec.Code, tt.wantStatus, rec.Body.String())
			}
		})
	}

	rec := s.do(t, http.MethodPost, "/api/v1/auth/logout", nil, bearer(token))
	if rec.Code != http.StatusOK {
		t.Fatalf("logout status = %d; want %d", rec.Code, http.StatusOK)
	}
	rec = s.do(t, http.MethodGet, "/api/v1/auth/me", nil, bearer(token))
	if rec.Code != http.StatusUnauthorized {
		t.Errorf("me after logout status = %d; want %d", rec.Code, http.StatusUnauthorized)
	}
}

func TestExerciseEndpoints(t *testing.T) {
	s := newTestServer(t, nil)
	ex := s.addExercise(t, "Birds", "en", domain.DifficultyBeginner)

	tests := []struct {
		name       string
		path       string
		wantStatus int
	}{
		{"get", "/api/v1/exercises/" + itoa(ex.ID), http.StatusOK},
		{"missing", "/api/v1/exercises/9999", http.StatusNotFound},
		{"bad id", "/api/v1/exercises/abc", http.StatusBadRequest},
		{"random", "/api/v1/exercises?language=en&difficulty=beginner", http.StatusOK},
		{"random falls back", "/api/v1/exercises?language=fr", http.StatusOK},
		{"bad difficulty", "/api/v1/exercises?difficulty=expert", http.StatusBadRequest},
		{"stats", "/api/v1/exercises/stats", http.StatusOK},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := s.do(t, http.MethodGet, tt.path, nil, nil)
			if rec.Code != tt.wantStatus {
				t.Errorf("status = %d; want %d (%s)", rec.Code, tt.wantStatus, rec.Body.String())
			}
		})
	}
}

func TestAdminEndpoints(t *testing.T) {
	s := newTestServer(t, nil)
	admin := map[string]string{"X-Admin-Token": adminToken}
	body := map[string]any{
		"title":    "Mountains",
		"text":     "Mountains are tall. Snow covers the peaks.",
		"language": "en",
	}

	tests := []struct {
		name       string
		headers    map[string]string
		body       any
		wantStatus int
	}{
		{"no token", nil, body, http.StatusForbidden},
		{"wrong token", map[string]string{"X-Admin-Token": "nope"}, body, http.StatusForbidden},
		{"created", admin, body, http.StatusCreated},
		{"duplicate", admin, body, http.StatusConflict},
		{"missing text", admin, map[string]any{"title": "Empty"}, http.StatusBadRequest},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := s.do(t, http.MethodPost, "/api/v1/exercises", tt.body, tt.headers)
			if rec.Code != tt.wantStatus {
				t.Errorf("status = %d; want %d (%s)", rec.Code, tt.wantStatus, rec.Body.String())
			}
		})
	}

	found, err := s.app.Store.Exercises().FindByTitle(context.Background(), "en", "Mountains")
	if err != nil {
		t.Fatalf("FindByTitle() error = %v", err)
	}

	rec := s.do(t, http.MethodPost, "/api/v1/exercises/"+itoa(found.ID)+"/questions", map[string]int{"count": 2}, admin)
	if rec.Code != http.StatusOK {
		t.Fatalf("generate status = %d; want %d (%s)", rec.Code, http.StatusOK, rec.Body.String())
	}
	var resp struct {
		Exercise domain.Exercise `json:"exercise"`
	}
	decode(t, rec, &resp)
	if len(resp.Exercise.Questions) == 0 {
		t.Error("generate returned no questions")
	}
}

func TestAdminDisabled(t *testing.T) {
	s := newTestServer(t, func(c *config.Config) { c.AdminToken = "" })

	rec := s.do(t, http.MethodPost, "/api/v1/exercises", map[string]string{"title": "x", "text": "y"},
		map[string]string{"X-Admin-Token": ""})
	if rec.Code != http.StatusForbidden {
		t.Errorf("status = %d; want %d", rec.Code, http.StatusForbidden)
	}
}

func TestChunkEndpoint(t *testing.T) {
	s := newTestServer(t, nil)

	rec := s.do(t, http.MethodPost, "/api/v1/chunk", map[string]string{
		"text": "The quick brown fox jumps over the lazy dog. It was not amused.",
	}, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d; want %d (%s)", rec.Code, http.StatusOK, rec.Body.String())
	}

	var resp struct {
		Chunks     []string `json:"chunks"`
		ChunkCount int      `json:"chunk_count"`
		Strategy   string   `json:"strategy"`
	}
	decode(t, rec, &resp)
	if resp.ChunkCount == 0 || resp.ChunkCount != len(resp.Chunks) {
		t.Errorf("chunk_count = %d with %d chunks", resp.ChunkCount, len(resp.Chunks))
	}
	if resp.Strategy != "rules" {
		t.Errorf("strategy = %q; want rules", resp.Strategy)
	}
	if got := strings.Join(resp.Chunks, " "); !strings.Contains(got, "fox") {
		t.Errorf("chunks %q lost words", got)
	}

	rec = s.do(t, http.MethodPost, "/api/v1/chunk", map[string]string{"text": ""}, nil)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("empty text status = %d; want %d", rec.Code, http.StatusBadRequest)
	}
}

func TestQuestionsEndpoint(t *testing.T) {
	s := newTestServer(t, nil)

	rec := s.do(t, http.MethodPost, "/api/v1/questions", map[string]any{
		"text":          "Water boils at one hundred degrees.",
		"num_questions": 3,
	}, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d; want %d (%s)", rec.Code, http.StatusOK, rec.Body.String())
	}
	var resp struct {
		Questions []domain.Question `json:"questions"`
	}
	decode(t, rec, &resp)
	if len(resp.Questions) != 1 {
		t.Errorf("got %d questions; want the single fallback question", len(resp.Questions))
	}
}

func TestOAuthProvidersEmpty(t *testing.T) {
	s := newTestServer(t, nil)

	rec := s.do(t, http.MethodGet, "/api/v1/auth/oauth/providers", nil, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d; want %d", rec.Code, http.StatusOK)
	}

	rec = s.do(t, http.MethodGet, "/api/v1/auth/oauth/google", nil, nil)
	if rec.Code != http.StatusNotFound {
		t.Errorf("unconfigured provider status = %d; want %d", rec.Code, http.StatusNotFound)
	}
}

// stubIdentityProvider returns a fixed identity for any code
type stubIdentityProvider struct {
	identity auth.Identity
}

func (p *stubIdentityProvider) Name() domain.AuthProvider { return p.identity.Provider }

func (p *stubIdentityProvider) AuthCodeURL(state, _ string) string {
	return "https://login.example.com/authorize?state=" + url.QueryEscape(state)
}

func (p *stubIdentityProvider) Exchange(context.Context, string, string) (*auth.Identity, error) {
	id := p.identity
	return &id, nil
}

func TestOAuthCallback(t *testing.T) {
	s := newTestServer(t, nil)
	s.register(t, "victim", "en")

	tests := []struct {
		name       string
		email      string
		wantCookie bool
		wantQuery  url.Values
	}{
		{"new identity", "new@example.com", true, url.Values{"success": {"true"}}},
		{"email of password account", "victim@example.com", false, url.Values{"success": {"false"}, "error": {"account_exists"}}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s.app.OAuth.Register(&stubIdentityProvider{identity: auth.Identity{
				Provider: domain.AuthProviderMicrosoft,
				Subject:  "sub-" + tt.email,
				Email:    tt.email,
			}})

			state, _, err := s.app.State.Issue(domain.AuthProviderMicrosoft, "en")
			if err != nil {
				t.Fatalf("Issue() error = %v", err)
			}
			rec := s.do(t, http.MethodGet, "/api/v1/auth/oauth/microsoft/callback?code=abc&state="+url.QueryEscape(state), nil, nil)
			if rec.Code != http.StatusFound {
				t.Fatalf("status = %d; want %d (%s)", rec.Code, http.StatusFound, rec.Body.String())
			}

			loc, err := url.Parse(rec.Header().Get("Location"))
			if err != nil {
				t.Fatalf("parse Location: %v", err)
			}
			got := loc.Query()
			if len(got) != len(tt.wantQuery) {
				t.Errorf("redirect query = %v; want %v", got, tt.wantQuery)
			}
			for k := range tt.wantQuery {
				if got.Get(k) != tt.wantQuery.Get(k) {
					t.Errorf("redirect %s = %q; want %q", k, got.Get(k), tt.wantQuery.Get(k))
				}
			}
			if loc.Fragment != "" {
				t.Errorf("redirect fragment = %q; want empty", loc.Fragment)
			}

			hasCookie := false
			for _, c := range rec.Result().Cookies() {
				if c.Name == handlers.SessionCookieName && c.Value != "" {
					hasCookie = true
				}
			}
			if hasCookie != tt.wantCookie {
				t.Errorf("session cookie set = %v; want %v", hasCookie, tt.wantCookie)
			}
		})
	}
}

func itoa(id int64) string {
	return strconv.FormatInt(id, 10)
}
