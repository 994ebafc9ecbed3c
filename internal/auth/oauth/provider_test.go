package oauth

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/rsa"
	"encoding/base64"
	"encoding/json"
	"errors"
	"math/big"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/felixgeelhaar/nosubvo/internal/domain"
	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/oauth2"
)

// fakeIDP serves discovery, JWKS, token and userinfo endpoints
type fakeIDP struct {
	srv     *httptest.Server
	key     *rsa.PrivateKey
	idToken string
}

func newFakeIDP(t *testing.T) *fakeIDP {
	t.Helper()
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatalf("GenerateKey() error = %v", err)
	}
	f := &fakeIDP{key: key}

	mux := http.NewServeMux()
	mux.HandleFunc("/discovery", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, map[string]string{"jwks_uri": f.srv.URL + "/jwks"})
	})
	mux.HandleFunc("/jwks", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, map[string]any{"keys": []map[string]string{{
			"kty": "RSA",
			"kid": "k1",
			"n":   base64.RawURLEncoding.EncodeToString(key.N.Bytes()),
			"e":   base64.RawURLEncoding.EncodeToString(big.NewInt(int64(key.E)).Bytes()),
		}}})
	})
	mux.HandleFunc("/token", func(w http.ResponseWriter, r *http.Request) {
		if r.FormValue("code") != "good-code" {
			http.Error(w, `{"error":"invalid_grant"}`, http.StatusBadRequest)
			return
		}
		writeJSON(w, map[string]any{
			"access_token": "at",
			"token_type":   "Bearer",
			"expires_in":   3600,
			"id_token":     f.idToken,
		})
	})
	mux.HandleFunc("/userinfo", func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer at" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		writeJSON(w, map[string]string{"sub": "ms-1", "email": "m@example.com", "name": "Mia"})
	})

	f.srv = httptest.NewServer(mux)
	t.Cleanup(f.srv.Close)
	return f
}

func (f *fakeIDP) endpoint() oauth2.Endpoint {
	return oauth2.Endpoint{AuthURL: f.srv.URL + "/auth", TokenURL: f.srv.URL + "/token"}
}

func (f *fakeIDP) sign(t *testing.T, claims jwt.MapClaims) {
	t.Helper()
	tok := jwt.NewWithClaims(jwt.SigningMethodRS256, claims)
	tok.Header["kid"] = "k1"
	s, err := tok.SignedString(f.key)
	if err != nil {
		t.Fatalf("SignedString() error = %v", err)
	}
	f.idToken = s
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}

func googleClaims(nonce string) jwt.MapClaims {
	now := time.Now()
	return jwt.MapClaims{
		"iss":            "https://accounts.google.com",
		"aud":            "cid",
		"sub":            "g-1",
		"email":          "g@example.com",
		"email_verified": true,
		"name":           "Gina",
		"nonce":          nonce,
		"iat":            now.Unix(),
		"exp":            now.Add(time.Hour).Unix(),
	}
}

func TestGoogle_Exchange(t *testing.T) {
	idp := newFakeIDP(t)
	g := NewGoogle(GoogleConfig{ClientID: "cid", ClientSecret: "s", Endpoint: idp.endpoint(), DiscoveryURL: idp.srv.URL + "/discovery"})
	ctx := t.Context()

	idp.sign(t, googleClaims("n1"))
	id, err := g.Exchange(ctx, "good-code", "n1")
	if err != nil {
		t.Fatalf("Exchange() error = %v", err)
	}
	if id.Email != "g@example.com" || id.Subject != "g-1" || id.Name != "Gina" || id.Provider != domain.AuthProviderGoogle {
		t.Errorf("Exchange() = %+v", id)
	}

	tests := []struct {
		name   string
		code   string
		nonce  string
		mutate func(jwt.MapClaims)
	}{
		{"bad code", "bad", "n1", nil},
		{"nonce mismatch", "good-code", "other", nil},
		{"wrong audience", "good-code", "n1", func(c jwt.MapClaims) { c["aud"] = "someone-else" }},
		{"wrong issuer", "good-code", "n1", func(c jwt.MapClaims) { c["iss"] = "https://evil.example" }},
		{"expired", "good-code", "n1", func(c jwt.MapClaims) { c["exp"] = time.Now().Add(-time.Hour).Unix() }},
		{"unverified email", "good-code", "n1", func(c jwt.MapClaims) { c["email_verified"] = false }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := googleClaims("n1")
			if tt.mutate != nil {
				tt.mutate(c)
			}
			idp.sign(t, c)
			if _, err := g.Exchange(ctx, tt.code, tt.nonce); !errors.Is(err, ErrExchange) {
				t.Errorf("Exchange() error = %v; want ErrExchange", err)
			}
		})
	}
}

func TestMicrosoft_Exchange(t *testing.T) {
	idp := newFakeIDP(t)
	m := NewMicrosoft(MicrosoftConfig{ClientID: "cid", ClientSecret: "s", Endpoint: idp.endpoint(), UserinfoURL: idp.srv.URL + "/userinfo"})

	id, err := m.Exchange(t.Context(), "good-code", "")
	if err != nil {
		t.Fatalf("Exchange() error = %v", err)
	}
	if id.Email != "m@example.com" || id.Name != "Mia" || id.Provider != domain.AuthProviderMicrosoft {
		t.Errorf("Exchange() = %+v", id)
	}
}

func TestApple_ClientSecret(t *testing.T) {
	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		t.Fatalf("GenerateKey() error = %v", err)
	}
	a := NewApple(AppleConfig{ClientID: "com.example.web", TeamID: "TEAM123", KeyID: "KEY123"}, key)

	secret, err := a.ClientSecret()
	if err != nil {
		t.Fatalf("ClientSecret() error = %v", err)
	}

	claims := jwt.RegisteredClaims{}
	tok, err := jwt.ParseWithClaims(secret, &claims, func(*jwt.Token) (any, error) { return &key.PublicKey, nil },
		jwt.WithValidMethods([]string{"ES256"}))
	if err != nil {
		t.Fatalf("parse client secret error = %v", err)
	}
	if tok.Header["kid"] != "KEY123" {
		t.Errorf("kid = %v; want KEY123", tok.Header["kid"])
	}
	if claims.Issuer != "TEAM123" || claims.Subject != "com.example.web" {
		t.Errorf("claims = %+v", claims)
	}
	if len(claims.Audience) != 1 || claims.Audience[0] != appleIssuer {
		t.Errorf("aud = %v; want %s", claims.Audience, appleIssuer)
	}
	if life := claims.ExpiresAt.Sub(claims.IssuedAt.Time); life != appleSecretTTL {
		t.Errorf("lifetime = %v; want %v", life, appleSecretTTL)
	}

	again, _ := a.ClientSecret()
	if again != secret {
		t.Error("ClientSecret() was not reused")
	}

	u := a.AuthCodeURL("st", "nn")
	if !strings.Contains(u, "response_mode=form_post") {
		t.Errorf("AuthCodeURL() = %q; want form_post", u)
	}
}
