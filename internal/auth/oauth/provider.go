// Package oauth signs users in through external identity providers.
//
// Each provider runs the authorization code flow with golang.org/x/oauth2
// and turns the result into a verified auth.Identity. Flow state travels in
// a signed, short-lived token so the server keeps nothing between the
// redirect and the callback.
package oauth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"

	"github.com/felixgeelhaar/nosubvo/internal/auth"
	"github.com/felixgeelhaar/nosubvo/internal/config"
	"github.com/felixgeelhaar/nosubvo/internal/domain"
)

var (
	ErrUnknownProvider = errors.New("unknown identity provider")
	ErrInvalidState    = errors.New("invalid or expired oauth state")
	ErrExchange        = errors.New("oauth code exchange failed")
)

// IdentityProvider is one external sign-in option
type IdentityProvider interface {
	Name() domain.AuthProvider
	// AuthCodeURL returns the provider's consent page URL
	AuthCodeURL(state, nonce string) string
	// Exchange trades an authorization code for a verified identity.
	// nonce is the value passed to AuthCodeURL.
	Exchange(ctx context.Context, code, nonce string) (*auth.Identity, error)
}

// CallbackPath returns the callback route for a provider
func CallbackPath(p domain.AuthProvider) string {
	return "/api/v1/auth/oauth/" + string(p) + "/callback"
}

// Registry holds the enabled providers
type Registry struct {
	providers map[domain.AuthProvider]IdentityProvider
}

// NewRegistry returns an empty registry
func NewRegistry() *Registry {
	return &Registry{providers: make(map[domain.AuthProvider]IdentityProvider)}
}

// FromConfig enables every provider whose credentials are present.
// Misconfigured providers are logged and skipped.
func FromConfig(cfg config.OAuthConfig, logger *slog.Logger) *Registry {
	r := NewRegistry()
	base := strings.TrimRight(cfg.RedirectBase, "/")

	if cfg.GoogleClientID != "" && cfg.GoogleClientSecret != "" {
		r.Register(NewGoogle(GoogleConfig{
			ClientID:     cfg.GoogleClientID,
			ClientSecret: cfg.GoogleClientSecret,
			RedirectURL:  base + CallbackPath(domain.AuthProviderGoogle),
		}))
	}

	if cfg.MicrosoftClientID != "" && cfg.MicrosoftClientSecret != "" {
		r.Register(NewMicrosoft(MicrosoftConfig{
			ClientID:     cfg.MicrosoftClientID,
			ClientSecret: cfg.MicrosoftClientSecret,
			RedirectURL:  base + CallbackPath(domain.AuthProviderMicrosoft),
		}))
	}

	if cfg.AppleClientID != "" && cfg.AppleTeamID != "" && cfg.AppleKeyID != "" && cfg.ApplePrivateKeyPath != "" {
		apple, err := NewAppleFromKeyFile(AppleConfig{
			ClientID:    cfg.AppleClientID,
			TeamID:      cfg.AppleTeamID,
			KeyID:       cfg.AppleKeyID,
			RedirectURL: base + CallbackPath(domain.AuthProviderApple),
		}, cfg.ApplePrivateKeyPath)
		if err != nil {
			logger.Warn("apple sign-in disabled", "error", err)
		} else {
			r.Register(apple)
		}
	}

	return r
}

// Register adds or replaces a provider
func (r *Registry) Register(p IdentityProvider) {
	r.providers[p.Name()] = p
}

// Get returns the provider with the given name
func (r *Registry) Get(name string) (IdentityProvider, error) {
	p, ok := r.providers[domain.AuthProvider(strings.ToLower(name))]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownProvider, name)
	}
	return p, nil
}

// Enabled lists provider names in a stable order
func (r *Registry) Enabled() []domain.AuthProvider {
	names := make([]domain.AuthProvider, 0, len(r.providers))
	for name := range r.providers {
		names = append(names, name)
	}
	sort.Slice(names, func(i, j int) bool { return names[i] < names[j] })
	return names
}
