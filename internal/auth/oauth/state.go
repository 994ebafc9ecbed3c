package oauth

import (
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"time"

	"github.com/felixgeelhaar/nosubvo/internal/domain"
	"github.com/golang-jwt/jwt/v5"
)

const (
	stateIssuer = "nosubvo"
	stateTTL    = 10 * time.Minute
)

// State is carried through the provider redirect
type State struct {
	Provider domain.AuthProvider `json:"provider"`
	Language string              `json:"lang,omitempty"`
	Nonce    string              `json:"nonce"`
	jwt.RegisteredClaims
}

// StateCodec signs and verifies flow state with HS256
type StateCodec struct {
	secret []byte
	ttl    time.Duration
	now    func() time.Time
}

// NewStateCodec creates a codec keyed by secret
func NewStateCodec(secret string) *StateCodec {
	return &StateCodec{secret: []byte(secret), ttl: stateTTL, now: time.Now}
}

// Issue creates a state token and the nonce bound to it
func (c *StateCodec) Issue(provider domain.AuthProvider, language string) (token, nonce string, err error) {
	nonce, err = randomString(16)
	if err != nil {
		return "", "", err
	}

	now := c.now()
	claims := State{
		Provider: provider,
		Language: language,
		Nonce:    nonce,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    stateIssuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(c.ttl)),
		},
	}

	token, err = jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(c.secret)
	if err != nil {
		return "", "", fmt.Errorf("sign state: %w", err)
	}
	return token, nonce, nil
}

// Parse verifies a state token issued for provider
func (c *StateCodec) Parse(token string, provider domain.AuthProvider) (*State, error) {
	parser := jwt.NewParser(
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(stateIssuer),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(c.now),
	)

	var st State
	if _, err := parser.ParseWithClaims(token, &st, func(*jwt.Token) (any, error) {
		return c.secret, nil
	}); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidState, err)
	}
	if st.Provider != provider {
		return nil, fmt.Errorf("%w: issued for %s", ErrInvalidState, st.Provider)
	}
	return &st, nil
}

func randomString(n int) (string, error) {
	b := make([]byte, n)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}
