package domain

import (
	"strings"
	"time"

	"github.com/google/uuid"
)

// Minimum credential lengths accepted at registration
const (
	MinUsernameLength = 3
	MinPasswordLength = 6
)

// DefaultLanguage is used when a user has no preferred language
const DefaultLanguage = "en"

// AuthProvider names how a user account authenticates
type AuthProvider string

const (
	AuthProviderPassword  AuthProvider = "password"
	AuthProviderGoogle    AuthProvider = "google"
	AuthProviderMicrosoft AuthProvider = "microsoft"
	AuthProviderApple     AuthProvider = "apple"
)

// User represents a registered learner
type User struct {
	ID                uuid.UUID    `json:"id" db:"id"`
	Username          string       `json:"username" db:"username"`
	Email             string       `json:"email" db:"email"`
	PasswordHash      string       `json:"-" db:"password_hash"`
	AuthProvider      AuthProvider `json:"auth_provider" db:"auth_provider"`
	PreferredLanguage string       `json:"preferred_language" db:"preferred_language"`
	CreatedAt         time.Time    `json:"created_at" db:"created_at"`
	UpdatedAt         time.Time    `json:"updated_at" db:"updated_at"`
	LastLoginAt       *time.Time   `json:"last_login_at,omitempty" db:"last_login_at"`
}

// HasPassword reports whether the account can log in with a password
func (u *User) HasPassword() bool {
	return u.PasswordHash != ""
}

// NormalizeEmail trims and lower-cases an email address
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// ValidEmail performs the minimal shape check used at registration
func ValidEmail(email string) bool {
	at := strings.Index(email, "@")
	return at > 0 && at < len(email)-1
}

// Session represents an authenticated session
type Session struct {
	Token     string    `json:"token" db:"token"`
	UserID    uuid.UUID `json:"user_id" db:"user_id"`
	CreatedAt time.Time `json:"created_at" db:"created_at"`
	ExpiresAt time.Time `json:"expires_at" db:"expires_at"`
}

// IsExpired checks if the session has expired
func (s *Session) IsExpired() bool {
	return s.ExpiredAt(time.Now())
}

// ExpiredAt checks expiry against a given instant
func (s *Session) ExpiredAt(now time.Time) bool {
	return !now.Before(s.ExpiresAt)
}

// TTL returns the remaining lifetime relative to now
func (s *Session) TTL(now time.Time) time.Duration {
	return s.ExpiresAt.Sub(now)
}
