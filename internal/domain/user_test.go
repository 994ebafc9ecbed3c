package domain

import (
	"testing"
	"time"

	"github.com/google/uuid"
)

func TestSession_IsExpired(t *testing.T) {
	tests := []struct {
		name      string
		expiresAt time.Time
		want      bool
	}{
		{"expired", time.Now().Add(-time.Hour), true},
		{"not expired", time.Now().Add(time.Hour), false},
		{"just expired", time.Now().Add(-time.Millisecond), true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			session := &Session{
				Token:     "token",
				UserID:    uuid.New(),
				ExpiresAt: tt.expiresAt,
			}
			if got := session.IsExpired(); got != tt.want {
				t.Errorf("IsExpired() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestSession_ExpiredAt_Boundary(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	s := &Session{ExpiresAt: now}
	if !s.ExpiredAt(now) {
		t.Error("ExpiredAt(expires_at) should be true")
	}
	if s.ExpiredAt(now.Add(-time.Second)) {
		t.Error("ExpiredAt(before expiry) should be false")
	}
}

func TestValidEmail(t *testing.T) {
	tests := []struct {
		email string
		want  bool
	}{
		{"learner@example.com", true},
		{"a@b", true},
		{"no-at-sign", false},
		{"@example.com", false},
		{"trailing@", false},
		{"", false},
	}

	for _, tt := range tests {
		if got := ValidEmail(tt.email); got != tt.want {
			t.Errorf("ValidEmail(%q) = %v, want %v", tt.email, got, tt.want)
		}
	}
}

func TestNormalizeEmail(t *testing.T) {
	if got := NormalizeEmail("  Learner@Example.COM "); got != "learner@example.com" {
		t.Errorf("NormalizeEmail() = %q, want learner@example.com", got)
	}
}
