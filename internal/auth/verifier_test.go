package auth

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"encoding/base64"
	"encoding/json"
	"errors"
	"math/big"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/Blank-Slate-Dev/drivlet-sub004/internal/config"
	"github.com/Blank-Slate-Dev/drivlet-sub004/internal/model"
)

func TestVerify_Dev(t *testing.T) {
	v := NewVerifier(config.Auth{Mode: "dev"})
	p, err := v.Verify(context.Background(), "driver:d-7")
	if err != nil || p.Role != model.RoleDriver || p.Subject != "d-7" {
		t.Fatalf("got %+v %v", p, err)
	}
	if _, err := v.Verify(context.Background(), "customer:c1"); !errors.Is(err, ErrUnknownRole) {
		t.Fatalf("want unknown role, got %v", err)
	}
	if _, err := v.Verify(context.Background(), "admin"); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("want invalid token, got %v", err)
	}
}

func TestVerify_HMAC(t *testing.T) {
	v := NewVerifier(config.Auth{Mode: "hmac", HMACSecret: "s3cret"})
	tok := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"sub": "ops-1", "role": "Admin", "exp": time.Now().Add(time.Hour).Unix(),
	})
	signed, err := tok.SignedString([]byte("s3cret"))
	if err != nil {
		t.Fatal(err)
	}
	p, err := v.Verify(context.Background(), signed)
	if err != nil || p.Actor() != (model.Actor{ID: "ops-1", Role: model.RoleAdmin}) {
		t.Fatalf("got %+v %v", p, err)
	}

	bad, _ := tok.SignedString([]byte("other"))
	if _, err := v.Verify(context.Background(), bad); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("want invalid token, got %v", err)
	}

	expired := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"sub": "ops-1", "role": "admin", "exp": time.Now().Add(-time.Minute).Unix(),
	})
	old, _ := expired.SignedString([]byte("s3cret"))
	if _, err := v.Verify(context.Background(), old); err == nil {
		t.Fatal("expired token accepted")
	}
}

func TestVerify_JWKS(t *testing.T) {
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatal(err)
	}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(jwks{Keys: []jwk{{
			Kty: "RSA", Kid: "k1", Alg: "RS256",
			N: base64.RawURLEncoding.EncodeToString(key.N.Bytes()),
			E: base64.RawURLEncoding.EncodeToString(big.NewInt(int64(key.E)).Bytes()),
		}}})
	}))
	defer srv.Close()

	v := NewVerifier(config.Auth{Mode: "jwks", JWKSURL: srv.URL})
	tok := jwt.NewWithClaims(jwt.SigningMethodRS256, jwt.MapClaims{"sub": "payments", "role": "system"})
	tok.Header["kid"] = "k1"
	signed, err := tok.SignedString(key)
	if err != nil {
		t.Fatal(err)
	}
	p, err := v.Verify(context.Background(), signed)
	if err != nil || p.Role != model.RoleSystem || p.Subject != "payments" {
		t.Fatalf("got %+v %v", p, err)
	}

	tok.Header["kid"] = "missing"
	other, _ := tok.SignedString(key)
	if _, err := v.Verify(context.Background(), other); err == nil {
		t.Fatal("unknown kid accepted")
	}
}
