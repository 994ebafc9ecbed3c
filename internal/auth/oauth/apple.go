package oauth

import (
	"context"
	"crypto/ecdsa"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/felixgeelhaar/nosubvo/internal/auth"
	"github.com/felixgeelhaar/nosubvo/internal/domain"
	"github.com/go-resty/resty/v2"
	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/oauth2"
)

const (
	appleIssuer       = "https://appleid.apple.com"
	appleDiscoveryURL = "https://appleid.apple.com/.well-known/openid-configuration"
	appleSecretTTL    = 180 * 24 * time.Hour
)

var appleEndpoint = oauth2.Endpoint{
	AuthURL:   "https://appleid.apple.com/auth/authorize",
	TokenURL:  "https://appleid.apple.com/auth/token",
	AuthStyle: oauth2.AuthStyleInParams,
}

// AppleConfig configures Sign in with Apple
type AppleConfig struct {
	ClientID    string // services id
	TeamID      string
	KeyID       string
	RedirectURL string

	Endpoint     oauth2.Endpoint
	DiscoveryURL string
}

// Apple signs users in with an Apple ID. Apple posts the callback as a
// form and expects a client secret signed with the team's key.
type Apple struct {
	cfg      AppleConfig
	key      *ecdsa.PrivateKey
	verifier *idTokenVerifier
	now      func() time.Time

	mu           sync.Mutex
	secret       string
	secretExpiry time.Time
}

// NewAppleFromKeyFile loads the .p8 signing key and creates the provider
func NewAppleFromKeyFile(cfg AppleConfig, keyPath string) (*Apple, error) {
	pem, err := os.ReadFile(keyPath)
	if err != nil {
		return nil, fmt.Errorf("read apple key: %w", err)
	}
	key, err := jwt.ParseECPrivateKeyFromPEM(pem)
	if err != nil {
		return nil, fmt.Errorf("parse apple key: %w", err)
	}
	return NewApple(cfg, key), nil
}

// NewApple creates the Apple provider with a parsed signing key
func NewApple(cfg AppleConfig, key *ecdsa.PrivateKey) *Apple {
	if cfg.Endpoint.AuthURL == "" {
		cfg.Endpoint = appleEndpoint
	}
	if cfg.DiscoveryURL == "" {
		cfg.DiscoveryURL = appleDiscoveryURL
	}

	return &Apple{
		cfg: cfg,
		key: key,
		verifier: newIDTokenVerifier(
			resty.New().SetTimeout(10*time.Second),
			cfg.DiscoveryURL,
			[]string{appleIssuer},
			cfg.ClientID,
			[]string{"RS256", "ES256"},
		),
		now: time.Now,
	}
}

func (a *Apple) Name() domain.AuthProvider { return domain.AuthProviderApple }

func (a *Apple) config(secret string) *oauth2.Config {
	return &oauth2.Config{
		ClientID:     a.cfg.ClientID,
		ClientSecret: secret,
		RedirectURL:  a.cfg.RedirectURL,
		Endpoint:     a.cfg.Endpoint,
		Scopes:       []string{"name", "email"},
	}
}

func (a *Apple) AuthCodeURL(state, nonce string) string {
	return a.config("").AuthCodeURL(state,
		oauth2.SetAuthURLParam("nonce", nonce),
		oauth2.SetAuthURLParam("response_mode", "form_post"),
	)
}

// ClientSecret returns the signed client secret, reusing it until a day
// before it expires.
func (a *Apple) ClientSecret() (string, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	now := a.now()
	if a.secret != "" && now.Add(24*time.Hour).Before(a.secretExpiry) {
		return a.secret, nil
	}

	exp := now.Add(appleSecretTTL)
	tok := jwt.NewWithClaims(jwt.SigningMethodES256, jwt.RegisteredClaims{
		Issuer:    a.cfg.TeamID,
		Subject:   a.cfg.ClientID,
		Audience:  jwt.ClaimStrings{appleIssuer},
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(exp),
	})
	tok.Header["kid"] = a.cfg.KeyID

	signed, err := tok.SignedString(a.key)
	if err != nil {
		return "", fmt.Errorf("sign apple client secret: %w", err)
	}
	a.secret, a.secretExpiry = signed, exp
	return signed, nil
}

func (a *Apple) Exchange(ctx context.Context, code, nonce string) (*auth.Identity, error) {
	secret, err := a.ClientSecret()
	if err != nil {
		return nil, err
	}

	tok, err := a.config(secret).Exchange(ctx, code)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrExchange, err)
	}

	raw, _ := tok.Extra("id_token").(string)
	claims, err := a.verifier.verify(ctx, raw, nonce)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrExchange, err)
	}

	// Apple sends the user's name only on first consent, in the form body
	return &auth.Identity{
		Provider: domain.AuthProviderApple,
		Subject:  claimString(claims, "sub"),
		Email:    claimString(claims, "email"),
	}, nil
}
