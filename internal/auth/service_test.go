package auth_test

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/felixgeelhaar/nosubvo/internal/auth"
	"github.com/felixgeelhaar/nosubvo/internal/domain"
	"github.com/felixgeelhaar/nosubvo/internal/queue"
	"github.com/felixgeelhaar/nosubvo/internal/session"
	"github.com/felixgeelhaar/nosubvo/internal/storage/sqlstore"
)

type env struct {
	svc      *auth.Service
	uow      *sqlstore.UnitOfWork
	sessions *session.MemoryStore
	queue    *queue.Manager
}

func newEnv(t *testing.T) *env {
	t.Helper()
	ctx := context.Background()

	db, err := sqlstore.Open(ctx, sqlstore.DriverSQLite, filepath.Join(t.TempDir(), "auth.db"))
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	t.Cleanup(func() { db.Close() })
	if err := db.Migrate(ctx); err != nil {
		t.Fatalf("Migrate() error = %v", err)
	}

	uow := sqlstore.NewUnitOfWork(db)
	for _, title := range []string{"one", "two"} {
		e := &domain.Exercise{Title: title, Text: "some text", Language: "en", Difficulty: domain.DifficultyBeginner, Topic: "general"}
		if err := uow.Exercises().Create(ctx, e); err != nil {
			t.Fatalf("Create(exercise) error = %v", err)
		}
	}

	sessions := session.NewMemoryStore()
	mgr := queue.NewManager(uow, queue.WithSeed(1))
	return &env{
		svc:      auth.NewService(uow, sessions, mgr, time.Hour),
		uow:      uow,
		sessions: sessions,
		queue:    mgr,
	}
}

func TestRegister(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t)

	resp, err := e.svc.Register(ctx, auth.RegisterRequest{
		Username: "alice",
		Email:    " Alice@Example.com ",
		Password: "secret1",
	})
	if err != nil {
		t.Fatalf("Register() error = %v", err)
	}
	if resp.User.Email != "alice@example.com" {
		t.Errorf("Email = %q; want normalized", resp.User.Email)
	}
	if resp.User.PreferredLanguage != "en" {
		t.Errorf("PreferredLanguage = %q; want en", resp.User.PreferredLanguage)
	}
	if resp.Token == "" {
		t.Error("Register() returned no session token")
	}

	queued, err := e.queue.Snapshot(ctx, resp.User.ID)
	if err != nil {
		t.Fatalf("Snapshot() error = %v", err)
	}
	if len(queued) != 2 {
		t.Errorf("queue length = %d; want 2", len(queued))
	}
}

func TestRegister_Validation(t *testing.T) {
	tests := []struct {
		name string
		req  auth.RegisterRequest
		want error
	}{
		{"short username", auth.RegisterRequest{Username: "ab", Email: "a@b.c", Password: "secret1"}, domain.ErrInvalidUsername},
		{"bad email", auth.RegisterRequest{Username: "alice", Email: "nope", Password: "secret1"}, domain.ErrInvalidEmail},
		{"short password", auth.RegisterRequest{Username: "alice", Email: "a@b.c", Password: "12345"}, domain.ErrInvalidPassword},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := newEnv(t)
			if _, err := e.svc.Register(context.Background(), tt.req); !errors.Is(err, tt.want) {
				t.Errorf("Register() error = %v; want %v", err, tt.want)
			}
		})
	}
}

func TestRegister_Duplicate(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t)

	req := auth.RegisterRequest{Username: "alice", Email: "alice@example.com", Password: "secret1"}
	if _, err := e.svc.Register(ctx, req); err != nil {
		t.Fatalf("Register() error = %v", err)
	}

	req.Email = "other@example.com"
	if _, err := e.svc.Register(ctx, req); !errors.Is(err, domain.ErrUserExists) {
		t.Errorf("Register(same username) error = %v; want ErrUserExists", err)
	}

	req.Username, req.Email = "bob", "alice@example.com"
	if _, err := e.svc.Register(ctx, req); !errors.Is(err, domain.ErrUserExists) {
		t.Errorf("Register(same email) error = %v; want ErrUserExists", err)
	}
}

func TestLogin(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t)

	if _, err := e.svc.Register(ctx, auth.RegisterRequest{Username: "alice", Email: "alice@example.com", Password: "secret1"}); err != nil {
		t.Fatalf("Register() error = %v", err)
	}

	tests := []struct {
		name    string
		login   string
		pass    string
		wantErr error
	}{
		{"username", "alice", "secret1", nil},
		{"email", "ALICE@example.com", "secret1", nil},
		{"wrong password", "alice", "nope", domain.ErrInvalidCredentials},
		{"unknown user", "carol", "secret1", domain.ErrInvalidCredentials},
		{"empty", "", "", domain.ErrInvalidCredentials},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp, err := e.svc.Login(ctx, auth.LoginRequest{Login: tt.login, Password: tt.pass})
			if !errors.Is(err, tt.wantErr) {
				t.Fatalf("Login() error = %v; want %v", err, tt.wantErr)
			}
			if tt.wantErr == nil && resp.User.Username != "alice" {
				t.Errorf("Login() user = %q; want alice", resp.User.Username)
			}
		})
	}
}

func TestValidateSessionAndLogout(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t)

	resp, err := e.svc.Register(ctx, auth.RegisterRequest{Username: "alice", Email: "alice@example.com", Password: "secret1"})
	if err != nil {
		t.Fatalf("Register() error = %v", err)
	}

	user, _, err := e.svc.ValidateSession(ctx, resp.Token)
	if err != nil {
		t.Fatalf("ValidateSession() error = %v", err)
	}
	if user.ID != resp.User.ID {
		t.Errorf("ValidateSession() user = %v; want %v", user.ID, resp.User.ID)
	}

	if err := e.svc.Logout(ctx, resp.Token); err != nil {
		t.Fatalf("Logout() error = %v", err)
	}
	if _, _, err := e.svc.ValidateSession(ctx, resp.Token); !errors.Is(err, domain.ErrSessionNotFound) {
		t.Errorf("ValidateSession() after logout error = %v; want ErrSessionNotFound", err)
	}
	if _, _, err := e.svc.ValidateSession(ctx, ""); !errors.Is(err, domain.ErrSessionNotFound) {
		t.Errorf("ValidateSession(\"\") error = %v; want ErrSessionNotFound", err)
	}
}

func TestValidateSession_Expired(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t)

	resp, err := e.svc.Register(ctx, auth.RegisterRequest{Username: "alice", Email: "alice@example.com", Password: "secret1"})
	if err != nil {
		t.Fatalf("Register() error = %v", err)
	}

	e.sessions.WithClock(func() time.Time { return time.Now().Add(2 * time.Hour) })

	if _, _, err := e.svc.ValidateSession(ctx, resp.Token); !errors.Is(err, domain.ErrSessionExpired) {
		t.Errorf("ValidateSession() error = %v; want ErrSessionExpired", err)
	}
	n, err := e.svc.CleanupExpiredSessions(ctx)
	if err != nil {
		t.Fatalf("CleanupExpiredSessions() error = %v", err)
	}
	if n != 0 {
		t.Errorf("CleanupExpiredSessions() = %d; want 0 (already removed on read)", n)
	}
}

func TestLoginWithIdentity(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t)

	id := auth.Identity{Provider: domain.AuthProviderGoogle, Subject: "123", Email: "g@example.com", Name: "Gina"}
	first, err := e.svc.LoginWithIdentity(ctx, id, "en")
	if err != nil {
		t.Fatalf("LoginWithIdentity() error = %v", err)
	}
	if first.User.AuthProvider != domain.AuthProviderGoogle || first.User.Username != "Gina" {
		t.Errorf("created user = %+v", first.User)
	}
	if q, _ := e.queue.Snapshot(ctx, first.User.ID); len(q) != 2 {
		t.Errorf("queue length = %d; want 2", len(q))
	}

	second, err := e.svc.LoginWithIdentity(ctx, id, "en")
	if err != nil {
		t.Fatalf("second LoginWithIdentity() error = %v", err)
	}
	if second.User.ID != first.User.ID {
		t.Errorf("second login created a new user")
	}

	// OAuth-only accounts cannot use password login
	if _, err := e.svc.Login(ctx, auth.LoginRequest{Login: "g@example.com", Password: "anything"}); !errors.Is(err, domain.ErrInvalidCredentials) {
		t.Errorf("Login() error = %v; want ErrInvalidCredentials", err)
	}
}

func TestLoginWithIdentity_UsernameCollision(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t)

	if _, err := e.svc.Register(ctx, auth.RegisterRequest{Username: "sam", Email: "sam@old.com", Password: "secret1"}); err != nil {
		t.Fatalf("Register() error = %v", err)
	}
	resp, err := e.svc.LoginWithIdentity(ctx, auth.Identity{Provider: domain.AuthProviderApple, Email: "sam@new.com"}, "")
	if err != nil {
		t.Fatalf("LoginWithIdentity() error = %v", err)
	}
	if resp.User.Username == "sam" {
		t.Error("username collision was not resolved")
	}
}

func TestLoginWithIdentity_NoEmail(t *testing.T) {
	e := newEnv(t)
	_, err := e.svc.LoginWithIdentity(context.Background(), auth.Identity{Provider: domain.AuthProviderApple}, "en")
	if !errors.Is(err, domain.ErrInvalidEmail) {
		t.Errorf("LoginWithIdentity() error = %v; want ErrInvalidEmail", err)
	}
}

func TestLoginWithIdentity_OtherProviderEmail(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t)

	victim, err := e.svc.Register(ctx, auth.RegisterRequest{Username: "victim", Email: "victim@example.com", Password: "secret1"})
	if err != nil {
		t.Fatalf("Register() error = %v", err)
	}
	if _, err := e.svc.LoginWithIdentity(ctx, auth.Identity{Provider: domain.AuthProviderGoogle, Subject: "g1", Email: "google@example.com"}, "en"); err != nil {
		t.Fatalf("LoginWithIdentity(google) error = %v", err)
	}

	tests := []struct {
		name  string
		id    auth.Identity
		owner domain.AuthProvider
	}{
		{"password account", auth.Identity{Provider: domain.AuthProviderMicrosoft, Subject: "m1", Email: "Victim@Example.com"}, domain.AuthProviderPassword},
		{"google account", auth.Identity{Provider: domain.AuthProviderMicrosoft, Subject: "m2", Email: "google@example.com"}, domain.AuthProviderGoogle},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp, err := e.svc.LoginWithIdentity(ctx, tt.id, "en")
			if !errors.Is(err, domain.ErrUserExists) {
				t.Fatalf("LoginWithIdentity() error = %v; want ErrUserExists", err)
			}
			if resp != nil {
				t.Errorf("LoginWithIdentity() issued a session for the %s account", tt.owner)
			}
		})
	}

	// The password account is untouched
	if _, err := e.svc.Login(ctx, auth.LoginRequest{Login: "victim", Password: "secret1"}); err != nil {
		t.Errorf("Login() error = %v", err)
	}
	if victim.User.AuthProvider != domain.AuthProviderPassword {
		t.Errorf("AuthProvider = %q; want %q", victim.User.AuthProvider, domain.AuthProviderPassword)
	}
}
