package oauth

import (
	"context"
	"fmt"
	"time"

	"github.com/felixgeelhaar/nosubvo/internal/auth"
	"github.com/felixgeelhaar/nosubvo/internal/domain"
	"github.com/go-resty/resty/v2"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/microsoft"
)

const microsoftUserinfoURL = "https://graph.microsoft.com/oidc/userinfo"

// MicrosoftConfig configures Microsoft sign-in for personal and work accounts
type MicrosoftConfig struct {
	ClientID     string
	ClientSecret string
	RedirectURL  string

	Endpoint    oauth2.Endpoint
	UserinfoURL string
}

// Microsoft signs users in with a Microsoft account. Identity is read from
// the userinfo endpoint because the common tenant issues tokens with
// per-tenant issuers.
type Microsoft struct {
	oauth       *oauth2.Config
	client      *resty.Client
	userinfoURL string
}

// NewMicrosoft creates the Microsoft provider
func NewMicrosoft(cfg MicrosoftConfig) *Microsoft {
	if cfg.Endpoint.AuthURL == "" {
		cfg.Endpoint = microsoft.AzureADEndpoint("common")
	}
	if cfg.UserinfoURL == "" {
		cfg.UserinfoURL = microsoftUserinfoURL
	}

	return &Microsoft{
		oauth: &oauth2.Config{
			ClientID:     cfg.ClientID,
			ClientSecret: cfg.ClientSecret,
			RedirectURL:  cfg.RedirectURL,
			Endpoint:     cfg.Endpoint,
			Scopes:       []string{"openid", "email", "profile", "User.Read"},
		},
		client:      resty.New().SetTimeout(10 * time.Second),
		userinfoURL: cfg.UserinfoURL,
	}
}

func (m *Microsoft) Name() domain.AuthProvider { return domain.AuthProviderMicrosoft }

func (m *Microsoft) AuthCodeURL(state, nonce string) string {
	return m.oauth.AuthCodeURL(state, oauth2.SetAuthURLParam("nonce", nonce))
}

type microsoftUserinfo struct {
	Sub   string `json:"sub"`
	Email string `json:"email"`
	Name  string `json:"name"`
}

func (m *Microsoft) Exchange(ctx context.Context, code, _ string) (*auth.Identity, error) {
	tok, err := m.oauth.Exchange(ctx, code)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrExchange, err)
	}

	var info microsoftUserinfo
	res, err := m.client.R().
		SetContext(ctx).
		SetAuthToken(tok.AccessToken).
		SetResult(&info).
		Get(m.userinfoURL)
	if err != nil {
		return nil, fmt.Errorf("%w: userinfo: %v", ErrExchange, err)
	}
	if res.IsError() {
		return nil, fmt.Errorf("%w: userinfo returned %s", ErrExchange, res.Status())
	}

	return &auth.Identity{
		Provider: domain.AuthProviderMicrosoft,
		Subject:  info.Sub,
		Email:    info.Email,
		Name:     info.Name,
	}, nil
}
