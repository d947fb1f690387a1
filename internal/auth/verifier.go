// Package auth turns bearer tokens into journey actors.
package auth

import (
	"context"
	"crypto/rsa"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"math/big"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/Blank-Slate-Dev/drivlet-sub004/internal/config"
	"github.com/Blank-Slate-Dev/drivlet-sub004/internal/model"
)

// Verifier validates tokens and extracts role/subject claims.
// Supports modes: dev (no verify, "role:id"), hmac (HS256), jwks (RS256 from JWKS URL).
type Verifier struct {
	Mode       string
	HMACSecret []byte
	JWKSURL    string
	RoleClaim  string
	http       *http.Client
	mu         sync.RWMutex
	jwks       jwks
	lastFetch  time.Time
	cacheTTL   time.Duration
}

type jwks struct {
	Keys []jwk `json:"keys"`
}
type jwk struct {
	Kty string `json:"kty"`
	Kid string `json:"kid"`
	N   string `json:"n"`
	E   string `json:"e"`
	Alg string `json:"alg"`
}

// Principal is the authenticated caller.
type Principal struct {
	Role    model.Role
	Subject string
}

func (p Principal) Actor() model.Actor {
	return model.Actor{ID: p.Subject, Role: p.Role}
}

var (
	ErrInvalidToken = errors.New("invalid token")
	ErrUnknownRole  = errors.New("unknown role")
)

func NewVerifier(cfg config.Auth) *Verifier {
	mode := strings.ToLower(strings.TrimSpace(cfg.Mode))
	if mode == "" {
		mode = "dev"
	}
	roleClaim := cfg.RoleClaim
	if roleClaim == "" {
		roleClaim = "role"
	}
	return &Verifier{
		Mode:       mode,
		HMACSecret: []byte(cfg.HMACSecret),
		JWKSURL:    cfg.JWKSURL,
		RoleClaim:  roleClaim,
		http:       &http.Client{Timeout: 5 * time.Second},
		cacheTTL:   10 * time.Minute,
	}
}

func (v *Verifier) Verify(ctx context.Context, token string) (Principal, error) {
	if v.Mode == "dev" {
		role, sub, ok := strings.Cut(token, ":")
		if !ok || sub == "" {
			return Principal{}, fmt.Errorf("%w: expected role:id", ErrInvalidToken)
		}
		return principal(role, sub)
	}

	var opts []jwt.ParserOption
	var keyFunc jwt.Keyfunc
	switch v.Mode {
	case "hmac":
		opts = append(opts, jwt.WithValidMethods([]string{"HS256"}))
		keyFunc = func(*jwt.Token) (interface{}, error) { return v.HMACSecret, nil }
	case "jwks":
		opts = append(opts, jwt.WithValidMethods([]string{"RS256"}))
		keyFunc = func(t *jwt.Token) (interface{}, error) {
			kid, _ := t.Header["kid"].(string)
			return v.getRSAPublicKey(ctx, kid)
		}
	default:
		return Principal{}, errors.New("unsupported auth mode")
	}

	claims := jwt.MapClaims{}
	parsed, err := jwt.ParseWithClaims(token, claims, keyFunc, opts...)
	if err != nil || !parsed.Valid {
		return Principal{}, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	role, _ := claims[v.RoleClaim].(string)
	sub, _ := claims.GetSubject()
	if sub == "" {
		return Principal{}, fmt.Errorf("%w: missing sub claim", ErrInvalidToken)
	}
	return principal(role, sub)
}

func principal(role, sub string) (Principal, error) {
	r := model.Role(strings.ToLower(strings.TrimSpace(role)))
	switch r {
	case model.RoleAdmin, model.RoleDriver, model.RoleSystem:
	default:
		return Principal{}, fmt.Errorf("%w %q", ErrUnknownRole, role)
	}
	return Principal{Role: r, Subject: sub}, nil
}

// get RSAPublicKey from JWKS cache/fetch
func (v *Verifier) getRSAPublicKey(ctx context.Context, kid string) (*rsa.PublicKey, error) {
	v.mu.RLock()
	cached := v.jwks
	stale := time.Since(v.lastFetch) > v.cacheTTL
	v.mu.RUnlock()
	if len(cached.Keys) == 0 || stale {
		if err := v.fetchJWKS(ctx); err != nil {
			return nil, err
		}
		v.mu.RLock()
		cached = v.jwks
		v.mu.RUnlock()
	}
	for _, k := range cached.Keys {
		if k.Kid == kid && strings.EqualFold(k.Kty, "RSA") {
			nBytes, err := base64.RawURLEncoding.DecodeString(k.N)
			if err != nil {
				return nil, err
			}
			eBytes, err := base64.RawURLEncoding.DecodeString(k.E)
			if err != nil {
				return nil, err
			}
			n := new(big.Int).SetBytes(nBytes)
			e := new(big.Int).SetBytes(eBytes)
			return &rsa.PublicKey{N: n, E: int(e.Int64())}, nil
		}
	}
	return nil, errors.New("kid not found in JWKS")
}

func (v *Verifier) fetchJWKS(ctx context.Context) error {
	if v.JWKSURL == "" {
		return errors.New("AUTH_JWKS_URL not set")
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, v.JWKSURL, nil)
	if err != nil {
		return err
	}
	resp, err := v.http.Do(req)
	if err != nil {
		return err
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("jwks fetch: status %d", resp.StatusCode)
	}
	var j jwks
	if err := json.NewDecoder(resp.Body).Decode(&j); err != nil {
		return err
	}
	v.mu.Lock()
	v.jwks = j
	v.lastFetch = time.Now()
	v.mu.Unlock()
	return nil
}
