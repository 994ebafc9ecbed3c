package auth

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/felixgeelhaar/nosubvo/internal/domain"
	"github.com/felixgeelhaar/nosubvo/internal/session"
	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"
)

// QueueSeeder fills a new user's queue inside the registration transaction
type QueueSeeder interface {
	SeedQueue(ctx context.Context, uow domain.UnitOfWork, userID uuid.UUID, language string) (int, error)
}

// Identity is a user identity verified by an external provider
type Identity struct {
	Provider domain.AuthProvider
	Subject  string
	Email    string
	Name     string
}

// Service handles authentication operations
type Service struct {
	tx            domain.Transactor
	sessions      session.Store
	seeder        QueueSeeder
	sessionMaxAge time.Duration
	bcryptCost    int
	now           func() time.Time
	logger        *slog.Logger
}

// NewService creates a new auth service
func NewService(tx domain.Transactor, sessions session.Store, seeder QueueSeeder, sessionMaxAge time.Duration) *Service {
	return &Service{
		tx:            tx,
		sessions:      sessions,
		seeder:        seeder,
		sessionMaxAge: sessionMaxAge,
		bcryptCost:    bcrypt.DefaultCost,
		now:           time.Now,
		logger:        slog.Default(),
	}
}

// WithLogger sets the logger
func (s *Service) WithLogger(l *slog.Logger) *Service {
	s.logger = l
	return s
}

// RegisterRequest contains registration data
type RegisterRequest struct {
	Username          string
	Email             string
	Password          string
	PreferredLanguage string
}

// Validate checks registration input
func (r *RegisterRequest) Validate() error {
	r.Username = strings.TrimSpace(r.Username)
	r.Email = domain.NormalizeEmail(r.Email)

	if len(r.Username) < domain.MinUsernameLength {
		return fmt.Errorf("%w: username must be at least %d characters", domain.ErrInvalidUsername, domain.MinUsernameLength)
	}
	if !domain.ValidEmail(r.Email) {
		return domain.ErrInvalidEmail
	}
	if len(r.Password) < domain.MinPasswordLength {
		return fmt.Errorf("%w: password must be at least %d characters", domain.ErrInvalidPassword, domain.MinPasswordLength)
	}
	if r.PreferredLanguage == "" {
		r.PreferredLanguage = domain.DefaultLanguage
	}
	return nil
}

// LoginResponse contains login result
type LoginResponse struct {
	User    *domain.User
	Session *domain.Session
	Token   string
}

// Register creates an account, seeds its queue and opens a session. The
// account and its queue commit together.
func (s *Service) Register(ctx context.Context, req RegisterRequest) (*LoginResponse, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}

	hashed, err := bcrypt.GenerateFromPassword([]byte(req.Password), s.bcryptCost)
	if err != nil {
		return nil, fmt.Errorf("hash password: %w", err)
	}

	user := &domain.User{
		ID:                uuid.New(),
		Username:          req.Username,
		Email:             req.Email,
		PasswordHash:      string(hashed),
		AuthProvider:      domain.AuthProviderPassword,
		PreferredLanguage: req.PreferredLanguage,
	}

	var queued int
	err = s.inTx(ctx, func(uow domain.UnitOfWork) error {
		exists, err := uow.Users().Exists(ctx, user.Username, user.Email)
		if err != nil {
			return err
		}
		if exists {
			return domain.ErrUserExists
		}
		if err := uow.Users().Create(ctx, user); err != nil {
			return err
		}
		queued, err = s.seeder.SeedQueue(ctx, uow, user.ID, user.PreferredLanguage)
		return err
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info("user registered", "user_id", user.ID, "language", user.PreferredLanguage, "queued", queued)
	return s.openSession(ctx, user)
}

// LoginRequest contains login credentials; Login is a username or an email
type LoginRequest struct {
	Login    string
	Password string
}

// Login authenticates a user and creates a session
func (s *Service) Login(ctx context.Context, req LoginRequest) (*LoginResponse, error) {
	login := strings.TrimSpace(req.Login)
	if login == "" || req.Password == "" {
		return nil, domain.ErrInvalidCredentials
	}

	uow, err := s.tx.Begin(ctx)
	if err != nil {
		return nil, err
	}
	defer uow.Rollback()

	user, err := uow.Users().GetByLogin(ctx, login)
	if errors.Is(err, domain.ErrUserNotFound) {
		return nil, domain.ErrInvalidCredentials
	}
	if err != nil {
		return nil, err
	}

	// OAuth-only accounts have no password hash
	if !user.HasPassword() {
		return nil, domain.ErrInvalidCredentials
	}
	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(req.Password)); err != nil {
		return nil, domain.ErrInvalidCredentials
	}

	if err := uow.Users().TouchLastLogin(ctx, user.ID); err != nil {
		return nil, err
	}
	if err := uow.Commit(); err != nil {
		return nil, fmt.Errorf("commit: %w", err)
	}

	return s.openSession(ctx, user)
}

// LoginWithIdentity signs in the user matching a verified identity's
// email, creating the account and seeding its queue on first sign-in. An
// email already registered through another provider is refused with
// ErrUserExists.
func (s *Service) LoginWithIdentity(ctx context.Context, id Identity, language string) (*LoginResponse, error) {
	email := domain.NormalizeEmail(id.Email)
	if !domain.ValidEmail(email) {
		return nil, fmt.Errorf("%w: email is required for %s sign-in", domain.ErrInvalidEmail, id.Provider)
	}
	if language == "" {
		language = domain.DefaultLanguage
	}

	var user *domain.User
	err := s.inTx(ctx, func(uow domain.UnitOfWork) error {
		existing, err := uow.Users().GetByEmail(ctx, email)
		switch {
		case err == nil:
			// Identities only reach accounts created through the same provider
			if existing.AuthProvider != id.Provider {
				return fmt.Errorf("%w: email is registered with %s sign-in", domain.ErrUserExists, existing.AuthProvider)
			}
			user = existing
			return uow.Users().TouchLastLogin(ctx, user.ID)
		case !errors.Is(err, domain.ErrUserNotFound):
			return err
		}

		now := s.now().UTC()
		user = &domain.User{
			ID:                uuid.New(),
			Username:          identityUsername(id, email),
			Email:             email,
			AuthProvider:      id.Provider,
			PreferredLanguage: language,
			LastLoginAt:       &now,
		}

		taken, err := uow.Users().Exists(ctx, user.Username, "")
		if err != nil {
			return err
		}
		if taken {
			user.Username += "_" + randomHex(2)
		}

		if err := uow.Users().Create(ctx, user); err != nil {
			return err
		}
		_, err = s.seeder.SeedQueue(ctx, uow, user.ID, language)
		return err
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info("identity login", "user_id", user.ID, "provider", id.Provider)
	return s.openSession(ctx, user)
}

// identityUsername prefers the provider's display name, then the email's
// local part.
func identityUsername(id Identity, email string) string {
	name := strings.TrimSpace(id.Name)
	if len(name) >= domain.MinUsernameLength {
		return name
	}
	local, _, _ := strings.Cut(email, "@")
	if len(local) >= domain.MinUsernameLength {
		return local
	}
	return string(id.Provider) + "_user_" + randomHex(4)
}

// Logout invalidates a session
func (s *Service) Logout(ctx context.Context, token string) error {
	if _, err := s.sessions.Get(ctx, token); err != nil {
		return err
	}
	return s.sessions.Delete(ctx, token)
}

// ValidateSession checks if a session token is valid
func (s *Service) ValidateSession(ctx context.Context, token string) (*domain.User, *domain.Session, error) {
	if token == "" {
		return nil, nil, domain.ErrSessionNotFound
	}

	sess, err := s.sessions.Get(ctx, token)
	if err != nil {
		return nil, nil, err
	}

	if sess.ExpiredAt(s.now()) {
		_ = s.sessions.Delete(ctx, token)
		return nil, nil, domain.ErrSessionExpired
	}

	uow, err := s.tx.Begin(ctx)
	if err != nil {
		return nil, nil, err
	}
	defer uow.Rollback()

	user, err := uow.Users().GetByID(ctx, sess.UserID)
	if err != nil {
		return nil, nil, err
	}

	return user, sess, nil
}

// LogoutAll invalidates all sessions for a user
func (s *Service) LogoutAll(ctx context.Context, userID uuid.UUID) error {
	return s.sessions.DeleteUser(ctx, userID)
}

// CleanupExpiredSessions removes all expired sessions
func (s *Service) CleanupExpiredSessions(ctx context.Context) (int64, error) {
	n, err := s.sessions.DeleteExpired(ctx)
	if err != nil {
		return 0, fmt.Errorf("cleanup sessions: %w", err)
	}
	if n > 0 {
		s.logger.Info("expired sessions removed", "count", n)
	}
	return n, nil
}

func (s *Service) openSession(ctx context.Context, user *domain.User) (*LoginResponse, error) {
	token, err := generateToken(32)
	if err != nil {
		return nil, err
	}

	now := s.now().UTC()
	sess := &domain.Session{
		Token:     token,
		UserID:    user.ID,
		CreatedAt: now,
		ExpiresAt: now.Add(s.sessionMaxAge),
	}

	if err := s.sessions.Create(ctx, sess); err != nil {
		return nil, fmt.Errorf("create session: %w", err)
	}

	return &LoginResponse{User: user, Session: sess, Token: token}, nil
}

func (s *Service) inTx(ctx context.Context, fn func(domain.UnitOfWork) error) error {
	uow, err := s.tx.Begin(ctx)
	if err != nil {
		return err
	}
	committed := false
	defer func() {
		if !committed {
			_ = uow.Rollback()
		}
	}()

	if err := fn(uow); err != nil {
		return err
	}
	if err := uow.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	committed = true
	return nil
}

// generateToken creates a cryptographically secure random token
func generateToken(length int) (string, error) {
	bytes := make([]byte, length)
	if _, err := rand.Read(bytes); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(bytes), nil
}

func randomHex(n int) string {
	b := make([]byte, n)
	_, _ = rand.Read(b)
	return hex.EncodeToString(b)
}
