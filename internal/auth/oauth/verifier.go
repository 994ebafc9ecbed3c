package oauth

import (
	"context"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rsa"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"sync"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/golang-jwt/jwt/v5"
)

// idTokenVerifier checks OIDC id_tokens against a provider's published keys
type idTokenVerifier struct {
	client       *resty.Client
	discoveryURL string
	issuers      []string
	audience     string
	algs         []string

	mu      sync.Mutex
	jwksURL string
	jwks    *jwksCache
	now     func() time.Time
}

type oidcDiscovery struct {
	Issuer           string `json:"issuer"`
	JWKSURI          string `json:"jwks_uri"`
	UserinfoEndpoint string `json:"userinfo_endpoint"`
}

func newIDTokenVerifier(client *resty.Client, discoveryURL string, issuers []string, audience string, algs []string) *idTokenVerifier {
	return &idTokenVerifier{
		client:       client,
		discoveryURL: discoveryURL,
		issuers:      issuers,
		audience:     audience,
		algs:         algs,
		jwks:         newJWKSCache(client),
		now:          time.Now,
	}
}

// discover resolves the JWKS URL once. A failed attempt is retried on the
// next call.
func (v *idTokenVerifier) discover(ctx context.Context) (string, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.jwksURL != "" {
		return v.jwksURL, nil
	}

	var d oidcDiscovery
	res, err := v.client.R().SetContext(ctx).SetResult(&d).Get(v.discoveryURL)
	if err != nil {
		return "", err
	}
	if res.IsError() {
		return "", fmt.Errorf("discovery request failed: %s", res.Status())
	}
	if strings.TrimSpace(d.JWKSURI) == "" {
		return "", errors.New("discovery missing jwks_uri")
	}
	v.jwksURL = d.JWKSURI
	return v.jwksURL, nil
}

func (v *idTokenVerifier) verify(ctx context.Context, raw, nonce string) (jwt.MapClaims, error) {
	if strings.TrimSpace(raw) == "" {
		return nil, errors.New("id_token is empty")
	}
	jwksURL, err := v.discover(ctx)
	if err != nil {
		return nil, fmt.Errorf("oidc discovery: %w", err)
	}

	parser := jwt.NewParser(
		jwt.WithValidMethods(v.algs),
		jwt.WithIssuedAt(),
		jwt.WithExpirationRequired(),
		jwt.WithAudience(v.audience),
		jwt.WithTimeFunc(v.now),
		jwt.WithLeeway(time.Minute),
	)

	claims := jwt.MapClaims{}
	_, err = parser.ParseWithClaims(raw, claims, func(t *jwt.Token) (any, error) {
		kid, _ := t.Header["kid"].(string)
		if strings.TrimSpace(kid) == "" {
			return nil, errors.New("missing kid")
		}
		return v.jwks.key(ctx, jwksURL, kid)
	})
	if err != nil {
		return nil, fmt.Errorf("invalid id_token: %w", err)
	}

	iss, _ := claims["iss"].(string)
	if !containsConstantTime(v.issuers, iss) {
		return nil, fmt.Errorf("issuer mismatch: %q", iss)
	}
	if sub, _ := claims["sub"].(string); strings.TrimSpace(sub) == "" {
		return nil, errors.New("missing sub")
	}
	if nonce != "" {
		claim, _ := claims["nonce"].(string)
		if !nonceMatches(claim, nonce) {
			return nil, errors.New("nonce mismatch")
		}
	}

	return claims, nil
}

// nonceMatches accepts the raw nonce or its base64url SHA-256, since some
// clients hash before sending.
func nonceMatches(claim, nonce string) bool {
	if claim == "" {
		return false
	}
	if constantTimeEq(claim, nonce) {
		return true
	}
	sum := sha256.Sum256([]byte(nonce))
	return constantTimeEq(claim, base64.RawURLEncoding.EncodeToString(sum[:]))
}

func constantTimeEq(a, b string) bool {
	return len(a) == len(b) && subtle.ConstantTimeCompare([]byte(a), []byte(b)) == 1
}

func containsConstantTime(list []string, s string) bool {
	for _, v := range list {
		if constantTimeEq(v, s) {
			return true
		}
	}
	return false
}

func claimString(c jwt.MapClaims, key string) string {
	s, _ := c[key].(string)
	return s
}

func claimBool(c jwt.MapClaims, key string) bool {
	switch x := c[key].(type) {
	case bool:
		return x
	case string:
		return strings.EqualFold(x, "true")
	}
	return false
}

// jwksCache holds RSA and EC keys by kid
type jwksCache struct {
	client *resty.Client

	mu        sync.RWMutex
	keys      map[string]any
	fetchedAt time.Time
	ttl       time.Duration
}

type jwkSet struct {
	Keys []jwk `json:"keys"`
}

type jwk struct {
	Kty string `json:"kty"`
	Kid string `json:"kid"`
	N   string `json:"n"`
	E   string `json:"e"`
	Crv string `json:"crv"`
	X   string `json:"x"`
	Y   string `json:"y"`
}

func newJWKSCache(client *resty.Client) *jwksCache {
	return &jwksCache{client: client, keys: map[string]any{}, ttl: 6 * time.Hour}
}

func (j *jwksCache) key(ctx context.Context, url, kid string) (any, error) {
	j.mu.RLock()
	key := j.keys[kid]
	stale := time.Since(j.fetchedAt) > j.ttl
	j.mu.RUnlock()

	if key != nil && !stale {
		return key, nil
	}

	if err := j.refresh(ctx, url); err != nil {
		// keep serving a cached key while the endpoint is unavailable
		if key != nil {
			return key, nil
		}
		return nil, err
	}

	j.mu.RLock()
	defer j.mu.RUnlock()
	if key = j.keys[kid]; key == nil {
		return nil, fmt.Errorf("kid not found in jwks: %s", kid)
	}
	return key, nil
}

func (j *jwksCache) refresh(ctx context.Context, url string) error {
	var set jwkSet
	res, err := j.client.R().SetContext(ctx).SetResult(&set).Get(url)
	if err != nil {
		return err
	}
	if res.IsError() {
		return fmt.Errorf("jwks fetch failed: %s", res.Status())
	}

	next := map[string]any{}
	for _, k := range set.Keys {
		if k.Kid == "" {
			continue
		}
		switch k.Kty {
		case "RSA":
			if pub, err := rsaKey(k.N, k.E); err == nil {
				next[k.Kid] = pub
			}
		case "EC":
			if pub, err := ecKey(k.Crv, k.X, k.Y); err == nil {
				next[k.Kid] = pub
			}
		}
	}
	if len(next) == 0 {
		return errors.New("jwks contained no usable keys")
	}

	j.mu.Lock()
	j.keys = next
	j.fetchedAt = time.Now()
	j.mu.Unlock()
	return nil
}

func rsaKey(nB64, eB64 string) (*rsa.PublicKey, error) {
	nb, err := base64.RawURLEncoding.DecodeString(nB64)
	if err != nil {
		return nil, err
	}
	eb, err := base64.RawURLEncoding.DecodeString(eB64)
	if err != nil {
		return nil, err
	}

	e := 0
	for _, b := range eb {
		e = e<<8 + int(b)
	}
	if e == 0 {
		return nil, errors.New("invalid exponent")
	}
	return &rsa.PublicKey{N: new(big.Int).SetBytes(nb), E: e}, nil
}

func ecKey(crv, xB64, yB64 string) (*ecdsa.PublicKey, error) {
	if crv != "P-256" {
		return nil, fmt.Errorf("unsupported curve: %s", crv)
	}
	xb, err := base64.RawURLEncoding.DecodeString(xB64)
	if err != nil {
		return nil, err
	}
	yb, err := base64.RawURLEncoding.DecodeString(yB64)
	if err != nil {
		return nil, err
	}

	curve := elliptic.P256()
	x, y := new(big.Int).SetBytes(xb), new(big.Int).SetBytes(yb)
	if !curve.IsOnCurve(x, y) {
		return nil, errors.New("invalid EC point")
	}
	return &ecdsa.PublicKey{Curve: curve, X: x, Y: y}, nil
}
