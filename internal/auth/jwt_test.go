package auth

import (
	"errors"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/tbourn/gossip-backend/internal/config"
	"github.com/tbourn/gossip-backend/internal/realtime"
)

func newTestVerifier(t *testing.T, issuer string) *Verifier {
	t.Helper()
	v, err := NewVerifier(config.AuthConfig{JWTSecret: "test-secret", JWTIssuer: issuer})
	if err != nil {
		t.Fatalf("NewVerifier: %v", err)
	}
	return v
}

func TestNewVerifier_RequiresSecret(t *testing.T) {
	if _, err := NewVerifier(config.AuthConfig{JWTSecret: "  "}); err == nil {
		t.Fatalf("expected error for empty secret")
	}
}

func TestVerify_RoundTrip(t *testing.T) {
	v := newTestVerifier(t, "gossip")
	tok, err := v.Issue(realtime.Identity{UserID: "u1", DisplayName: "Ann"}, time.Hour)
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}
	id, err := v.Verify(tok)
	if err != nil {
		t.Fatalf("Verify: %v", err)
	}
	if id.UserID != "u1" || id.DisplayName != "Ann" {
		t.Fatalf("identity = %+v", id)
	}
}

func TestVerify_Rejections(t *testing.T) {
	v := newTestVerifier(t, "gossip")
	other := newTestVerifier(t, "someone-else")

	expired, _ := v.Issue(realtime.Identity{UserID: "u1"}, -time.Minute)
	wrongIssuer, _ := other.Issue(realtime.Identity{UserID: "u1"}, time.Hour)
	noSubject, _ := v.Issue(realtime.Identity{}, time.Hour)

	noExp, _ := jwt.NewWithClaims(jwt.SigningMethodHS256, Claims{
		RegisteredClaims: jwt.RegisteredClaims{Subject: "u1", Issuer: "gossip"},
	}).SignedString([]byte("test-secret"))

	wrongAlg, _ := jwt.NewWithClaims(jwt.SigningMethodHS512, Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   "u1",
			Issuer:    "gossip",
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
	}).SignedString([]byte("test-secret"))

	badSig, _ := jwt.NewWithClaims(jwt.SigningMethodHS256, Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   "u1",
			Issuer:    "gossip",
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
	}).SignedString([]byte("not-the-secret"))

	cases := map[string]string{
		"empty":        "",
		"garbage":      "not.a.jwt",
		"expired":      expired,
		"wrong issuer": wrongIssuer,
		"no subject":   noSubject,
		"no expiry":    noExp,
		"wrong alg":    wrongAlg,
		"bad sig":      badSig,
	}
	for name, tok := range cases {
		t.Run(name, func(t *testing.T) {
			if _, err := v.Verify(tok); !errors.Is(err, ErrInvalidCredential) {
				t.Fatalf("expected ErrInvalidCredential, got %v", err)
			}
		})
	}
}

func TestVerify_IssuerOptional(t *testing.T) {
	issuing := newTestVerifier(t, "anything")
	tok, _ := issuing.Issue(realtime.Identity{UserID: "u2"}, time.Hour)
	if _, err := newTestVerifier(t, "").Verify(tok); err != nil {
		t.Fatalf("issuer should not be checked when unset: %v", err)
	}
}

func TestTokenFromRequest(t *testing.T) {
	r := httptest.NewRequest("GET", "/ws?token=q", nil)
	if got := TokenFromRequest(r); got != "q" {
		t.Fatalf("query token = %q", got)
	}

	r.Header.Set("Authorization", "Bearer h")
	if got := TokenFromRequest(r); got != "h" {
		t.Fatalf("header should win, got %q", got)
	}

	r.Header.Set("Authorization", "Basic abc")
	if got := TokenFromRequest(r); got != "" {
		t.Fatalf("non-bearer scheme should yield empty, got %q", got)
	}
}
