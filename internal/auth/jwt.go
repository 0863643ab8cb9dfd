// Package auth verifies the bearer tokens presented by API and socket
// clients and turns them into a realtime.Identity.
//
// Tokens are HS256 JWTs issued by the account service. The subject claim
// carries the user ID and the optional "name" claim the display name used on
// outgoing messages. Expiry is mandatory; the issuer is checked when one is
// configured.
package auth

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/tbourn/gossip-backend/internal/config"
	"github.com/tbourn/gossip-backend/internal/realtime"
)

// ErrInvalidCredential is returned for missing, malformed, expired or
// wrongly signed tokens.
var ErrInvalidCredential = errors.New("invalid credential")

// Claims are the token claims understood by the backend.
type Claims struct {
	Name string `json:"name,omitempty"`
	jwt.RegisteredClaims
}

// Verifier validates tokens against a shared secret.
//
// This type is safe for concurrent use.
type Verifier struct {
	secret []byte
	issuer string
	now    func() time.Time
}

// NewVerifier builds a Verifier from cfg.
func NewVerifier(cfg config.AuthConfig) (*Verifier, error) {
	if strings.TrimSpace(cfg.JWTSecret) == "" {
		return nil, errors.New("auth: JWT secret is required")
	}
	return &Verifier{secret: []byte(cfg.JWTSecret), issuer: cfg.JWTIssuer, now: time.Now}, nil
}

// Verify parses raw and returns the identity it carries.
func (v *Verifier) Verify(raw string) (realtime.Identity, error) {
	if raw == "" {
		return realtime.Identity{}, ErrInvalidCredential
	}
	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(v.now),
	}
	if v.issuer != "" {
		opts = append(opts, jwt.WithIssuer(v.issuer))
	}

	claims := &Claims{}
	tok, err := jwt.ParseWithClaims(raw, claims, func(*jwt.Token) (any, error) {
		return v.secret, nil
	}, opts...)
	if err != nil || !tok.Valid {
		return realtime.Identity{}, fmt.Errorf("%w: %v", ErrInvalidCredential, err)
	}
	if strings.TrimSpace(claims.Subject) == "" {
		return realtime.Identity{}, fmt.Errorf("%w: missing subject", ErrInvalidCredential)
	}
	return realtime.Identity{UserID: claims.Subject, DisplayName: claims.Name}, nil
}

// Issue signs a token for id valid for ttl. It is used by tooling and tests;
// production tokens come from the account service.
func (v *Verifier) Issue(id realtime.Identity, ttl time.Duration) (string, error) {
	now := v.now()
	claims := Claims{
		Name: id.DisplayName,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   id.UserID,
			Issuer:    v.issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(v.secret)
	if err != nil {
		return "", fmt.Errorf("sign token: %w", err)
	}
	return signed, nil
}

// TokenFromRequest extracts the bearer token from the Authorization header,
// falling back to the "token" query parameter that browser sockets use.
func TokenFromRequest(r *http.Request) string {
	if h := r.Header.Get("Authorization"); h != "" {
		scheme, tok, ok := strings.Cut(h, " ")
		if ok && strings.EqualFold(scheme, "Bearer") {
			return strings.TrimSpace(tok)
		}
		return ""
	}
	return strings.TrimSpace(r.URL.Query().Get("token"))
}
