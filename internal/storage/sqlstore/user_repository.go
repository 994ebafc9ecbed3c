package sqlstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/felixgeelhaar/nosubvo/internal/domain"
	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
)

// UserRepository implements domain.UserRepository
type UserRepository struct {
	q sqlx.ExtContext
}

const userColumns = `id, username, email, password_hash, auth_provider, preferred_language,
	created_at, updated_at, last_login_at`

// Create inserts a user. A taken username or email yields domain.ErrUserExists.
func (r *UserRepository) Create(ctx context.Context, u *domain.User) error {
	if u.ID == uuid.Nil {
		u.ID = uuid.New()
	}
	now := time.Now().UTC()
	if u.CreatedAt.IsZero() {
		u.CreatedAt = now
	}
	u.UpdatedAt = now

	_, err := r.q.ExecContext(ctx, r.q.Rebind(`
		INSERT INTO users (id, username, email, password_hash, auth_provider,
			preferred_language, created_at, updated_at, last_login_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`),
		u.ID, u.Username, u.Email, u.PasswordHash, string(u.AuthProvider),
		u.PreferredLanguage, u.CreatedAt, u.UpdatedAt, u.LastLoginAt)
	if isUniqueViolation(err) {
		return domain.ErrUserExists
	}
	if err != nil {
		return fmt.Errorf("insert user: %w", err)
	}
	return nil
}

// GetByID returns the user with id
func (r *UserRepository) GetByID(ctx context.Context, id uuid.UUID) (*domain.User, error) {
	return r.getOne(ctx, `WHERE id = ?`, id)
}

// GetByEmail returns the user with the (normalized) email
func (r *UserRepository) GetByEmail(ctx context.Context, email string) (*domain.User, error) {
	return r.getOne(ctx, `WHERE email = ?`, domain.NormalizeEmail(email))
}

// GetByLogin matches a username or an email address
func (r *UserRepository) GetByLogin(ctx context.Context, login string) (*domain.User, error) {
	return r.getOne(ctx, `WHERE username = ? OR email = ? ORDER BY created_at LIMIT 1`,
		login, domain.NormalizeEmail(login))
}

func (r *UserRepository) getOne(ctx context.Context, where string, args ...any) (*domain.User, error) {
	var u domain.User
	err := sqlx.GetContext(ctx, r.q, &u, r.q.Rebind(`SELECT `+userColumns+` FROM users `+where), args...)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrUserNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get user: %w", err)
	}
	return &u, nil
}

// Exists reports whether the username or the email is already registered
func (r *UserRepository) Exists(ctx context.Context, username, email string) (bool, error) {
	var n int
	err := sqlx.GetContext(ctx, r.q, &n, r.q.Rebind(`
		SELECT COUNT(*) FROM users WHERE username = ? OR email = ?`),
		username, domain.NormalizeEmail(email))
	if err != nil {
		return false, fmt.Errorf("check user exists: %w", err)
	}
	return n > 0, nil
}

// TouchLastLogin records a successful login
func (r *UserRepository) TouchLastLogin(ctx context.Context, id uuid.UUID) error {
	now := time.Now().UTC()
	res, err := r.q.ExecContext(ctx, r.q.Rebind(`
		UPDATE users SET last_login_at = ?, updated_at = ? WHERE id = ?`), now, now, id)
	if err != nil {
		return fmt.Errorf("update last login: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return domain.ErrUserNotFound
	}
	return nil
}

var _ domain.UserRepository = (*UserRepository)(nil)
