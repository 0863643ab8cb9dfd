package middleware

import (
	"crypto/subtle"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/tbourn/gossip-backend/internal/realtime"
)

const (
	ctxKeyUserID   = "userID"
	ctxKeyIdentity = "identity"

	// HeaderAdminToken carries the operator token for /system routes.
	HeaderAdminToken = "X-Admin-Token"
)

// TokenVerifier turns a bearer credential into an identity.
// *auth.Verifier satisfies it.
type TokenVerifier interface {
	Verify(raw string) (realtime.Identity, error)
}

// Authenticate rejects requests without a valid credential and stores the
// verified identity in the Gin context ("userID" and "identity").
//
// token extracts the raw credential from the request (auth.TokenFromRequest).
func Authenticate(v TokenVerifier, token func(*http.Request) string) gin.HandlerFunc {
	return func(c *gin.Context) {
		id, err := v.Verify(token(c.Request))
		if err != nil {
			abortJSON(c, http.StatusUnauthorized, "unauthorized", "missing or invalid credentials", nil)
			return
		}
		c.Set(ctxKeyUserID, id.UserID)
		c.Set(ctxKeyIdentity, id)
		scoped := LoggerFrom(c).With().Str("user_id", id.UserID).Logger()
		c.Set(loggerKey, &scoped)
		c.Next()
	}
}

// IdentityFrom returns the identity stored by Authenticate.
func IdentityFrom(c *gin.Context) (realtime.Identity, bool) {
	v, ok := c.Get(ctxKeyIdentity)
	if !ok {
		return realtime.Identity{}, false
	}
	id, ok := v.(realtime.Identity)
	return id, ok
}

// RequireAdmin guards operator routes with a static shared token compared in
// constant time. An empty token rejects everything.
func RequireAdmin(token string) gin.HandlerFunc {
	return func(c *gin.Context) {
		got := c.GetHeader(HeaderAdminToken)
		if token == "" || subtle.ConstantTimeCompare([]byte(got), []byte(token)) != 1 {
			abortJSON(c, http.StatusForbidden, "forbidden", "admin token required", nil)
			return
		}
		c.Next()
	}
}
