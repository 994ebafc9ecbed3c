package handlers

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/felixgeelhaar/nosubvo/internal/auth"
	"github.com/felixgeelhaar/nosubvo/internal/auth/oauth"
	"github.com/felixgeelhaar/nosubvo/internal/domain"
)

// OAuthHandler runs the provider redirect and callback
type OAuthHandler struct {
	providers   *oauth.Registry
	state       *oauth.StateCodec
	auth        *auth.Service
	cookies     *AuthHandler
	frontendURL string
	logger      *slog.Logger
}

// NewOAuthHandler creates the handler. Successful callbacks redirect to
// frontendURL + "/auth/callback".
func NewOAuthHandler(providers *oauth.Registry, state *oauth.StateCodec, authService *auth.Service, cookies *AuthHandler, frontendURL string, logger *slog.Logger) *OAuthHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &OAuthHandler{
		providers:   providers,
		state:       state,
		auth:        authService,
		cookies:     cookies,
		frontendURL: strings.TrimRight(frontendURL, "/"),
		logger:      logger,
	}
}

var providerDisplayNames = map[domain.AuthProvider]string{
	domain.AuthProviderGoogle:    "Google",
	domain.AuthProviderMicrosoft: "Microsoft",
	domain.AuthProviderApple:     "Apple",
}

// ProviderInfo describes an enabled sign-in option
type ProviderInfo struct {
	Name        domain.AuthProvider `json:"name"`
	DisplayName string              `json:"display_name"`
	LoginURL    string              `json:"login_url"`
}

// Providers lists the enabled identity providers
func (h *OAuthHandler) Providers(w http.ResponseWriter, r *http.Request) error {
	enabled := h.providers.Enabled()
	infos := make([]ProviderInfo, 0, len(enabled))
	for _, name := range enabled {
		infos = append(infos, ProviderInfo{
			Name:        name,
			DisplayName: providerDisplayNames[name],
			LoginURL:    "/api/v1/auth/oauth/" + string(name),
		})
	}
	return writeJSON(w, http.StatusOK, map[string]any{"providers": infos})
}

// Start redirects to the provider's consent page
func (h *OAuthHandler) Start(w http.ResponseWriter, r *http.Request) error {
	p, err := h.providers.Get(r.PathValue("provider"))
	if err != nil {
		return err
	}

	state, nonce, err := h.state.Issue(p.Name(), r.URL.Query().Get("language"))
	if err != nil {
		return err
	}

	http.Redirect(w, r, p.AuthCodeURL(state, nonce), http.StatusFound)
	return nil
}

// Callback completes sign-in. Apple posts the response as a form, the
// others use query parameters; r.FormValue reads both.
func (h *OAuthHandler) Callback(w http.ResponseWriter, r *http.Request) error {
	p, err := h.providers.Get(r.PathValue("provider"))
	if err != nil {
		return err
	}

	if denied := r.FormValue("error"); denied != "" {
		h.logger.Warn("oauth sign-in denied", "provider", p.Name(), "error", denied)
		h.redirectFailure(w, r, "access_denied")
		return nil
	}

	st, err := h.state.Parse(r.FormValue("state"), p.Name())
	if err != nil {
		h.logger.Warn("oauth state rejected", "provider", p.Name(), "error", err)
		h.redirectFailure(w, r, "invalid_state")
		return nil
	}

	identity, err := p.Exchange(r.Context(), r.FormValue("code"), st.Nonce)
	if err != nil {
		h.logger.Error("oauth exchange failed", "provider", p.Name(), "error", err)
		h.redirectFailure(w, r, "exchange_failed")
		return nil
	}
	if identity.Name == "" {
		identity.Name = appleUserName(r.FormValue("user"))
	}

	result, err := h.auth.LoginWithIdentity(r.Context(), *identity, st.Language)
	if err != nil {
		code := "login_failed"
		switch {
		case errors.Is(err, domain.ErrInvalidEmail):
			code = "email_required"
		case errors.Is(err, domain.ErrUserExists):
			code = "account_exists"
		}
		h.logger.Error("oauth login failed", "provider", p.Name(), "error", err)
		h.redirectFailure(w, r, code)
		return nil
	}

	h.cookies.setSessionCookie(w, result.Token, int(time.Until(result.Session.ExpiresAt).Seconds()))

	// The session travels only in the cookie
	http.Redirect(w, r, h.frontendURL+"/auth/callback?success=true", http.StatusFound)
	return nil
}

func (h *OAuthHandler) redirectFailure(w http.ResponseWriter, r *http.Request, code string) {
	q := url.Values{}
	q.Set("success", "false")
	q.Set("error", code)
	http.Redirect(w, r, h.frontendURL+"/auth/callback?"+q.Encode(), http.StatusFound)
}

// appleUserName reads the name Apple posts on the first sign-in only
func appleUserName(raw string) string {
	if raw == "" {
		return ""
	}
	var u struct {
		Name struct {
			FirstName string `json:"firstName"`
			LastName  string `json:"lastName"`
		} `json:"name"`
	}
	if err := json.Unmarshal([]byte(raw), &u); err != nil {
		return ""
	}
	return strings.TrimSpace(u.Name.FirstName + " " + u.Name.LastName)
}
