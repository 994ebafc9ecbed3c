// Package session stores authenticated sessions keyed by token with expiry.
package session

import (
	"context"
	"time"

	"github.com/felixgeelhaar/nosubvo/internal/domain"
	"github.com/google/uuid"
)

// Store persists sessions. Get returns domain.ErrSessionNotFound for unknown
// tokens and domain.ErrSessionExpired for sessions past their expiry.
type Store interface {
	Create(ctx context.Context, s *domain.Session) error
	Get(ctx context.Context, token string) (*domain.Session, error)
	Delete(ctx context.Context, token string) error
	DeleteUser(ctx context.Context, userID uuid.UUID) error
	// DeleteExpired removes expired sessions and returns how many were removed
	DeleteExpired(ctx context.Context) (int64, error)
}

// Clock returns the current time; tests substitute a fixed clock
type Clock func() time.Time
