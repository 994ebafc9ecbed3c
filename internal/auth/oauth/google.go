package oauth

import (
	"context"
	"fmt"
	"time"

	"github.com/felixgeelhaar/nosubvo/internal/auth"
	"github.com/felixgeelhaar/nosubvo/internal/domain"
	"github.com/go-resty/resty/v2"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
)

const googleDiscoveryURL = "https://accounts.google.com/.well-known/openid-configuration"

// GoogleConfig configures Google sign-in. Endpoint and DiscoveryURL
// default to Google's production values.
type GoogleConfig struct {
	ClientID     string
	ClientSecret string
	RedirectURL  string

	Endpoint     oauth2.Endpoint
	DiscoveryURL string
}

// Google signs users in with a Google account
type Google struct {
	oauth    *oauth2.Config
	verifier *idTokenVerifier
}

// NewGoogle creates the Google provider
func NewGoogle(cfg GoogleConfig) *Google {
	if cfg.Endpoint.AuthURL == "" {
		cfg.Endpoint = google.Endpoint
	}
	if cfg.DiscoveryURL == "" {
		cfg.DiscoveryURL = googleDiscoveryURL
	}

	return &Google{
		oauth: &oauth2.Config{
			ClientID:     cfg.ClientID,
			ClientSecret: cfg.ClientSecret,
			RedirectURL:  cfg.RedirectURL,
			Endpoint:     cfg.Endpoint,
			Scopes:       []string{"openid", "email", "profile"},
		},
		verifier: newIDTokenVerifier(
			resty.New().SetTimeout(10*time.Second),
			cfg.DiscoveryURL,
			[]string{"accounts.google.com", "https://accounts.google.com"},
			cfg.ClientID,
			[]string{"RS256"},
		),
	}
}

func (g *Google) Name() domain.AuthProvider { return domain.AuthProviderGoogle }

func (g *Google) AuthCodeURL(state, nonce string) string {
	return g.oauth.AuthCodeURL(state,
		oauth2.SetAuthURLParam("nonce", nonce),
		oauth2.SetAuthURLParam("prompt", "select_account"),
	)
}

func (g *Google) Exchange(ctx context.Context, code, nonce string) (*auth.Identity, error) {
	tok, err := g.oauth.Exchange(ctx, code)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrExchange, err)
	}

	raw, _ := tok.Extra("id_token").(string)
	claims, err := g.verifier.verify(ctx, raw, nonce)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrExchange, err)
	}
	if !claimBool(claims, "email_verified") {
		return nil, fmt.Errorf("%w: google email is not verified", ErrExchange)
	}

	return &auth.Identity{
		Provider: domain.AuthProviderGoogle,
		Subject:  claimString(claims, "sub"),
		Email:    claimString(claims, "email"),
		Name:     claimString(claims, "name"),
	}, nil
}
