package middleware

import (
	"context"
	"net/http"
	"regexp"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
)

// HeaderIdempotencyKey carries the client's key for a message post.
const HeaderIdempotencyKey = "Idempotency-Key"

const (
	ctxKeyIdemKey    = "idem.key"
	ctxKeyIdemReplay = "idem.replay"
	ctxKeyRateBypass = "rate.bypass"

	defaultIdemMaxLen = 200
)

var defaultIdemPattern = regexp.MustCompile(`^[A-Za-z0-9._~\-:]+$`)

// GetIdempotencyKey returns the key accepted by IdempotencyValidator.
func GetIdempotencyKey(c *gin.Context) (string, bool) {
	s := c.GetString(ctxKeyIdemKey)
	return s, s != ""
}

// IsReplay reports whether the caller already completed this post with the
// same key in the same room.
func IsReplay(c *gin.Context) bool {
	return c.GetBool(ctxKeyIdemReplay)
}

// IdempotencyOptions configures IdempotencyValidator.
type IdempotencyOptions struct {
	// MaxLen caps the key length; <= 0 means 200.
	MaxLen int
	// Pattern restricts key characters; nil allows [A-Za-z0-9._~-:].
	Pattern *regexp.Regexp
	// Scope names the room a key is bound to, e.g. "conversation:<id>".
	// nil falls back to the ":id" route parameter.
	Scope func(*gin.Context) string
}

// IdempotencyLookup reports whether an unexpired record exists for
// (userID, scope, key). Errors are logged and treated as a miss.
type IdempotencyLookup func(ctx context.Context, userID, scope, key string, now time.Time) (exists bool, err error)

// IdempotencyValidator must run after Authenticate. A missing header is a
// no-op; a malformed one is rejected with 400 bad_idempotency_key. When
// lookup finds a stored result the request is flagged as a replay and the
// message rate limit further down the chain is skipped, since a replay
// sends nothing.
func IdempotencyValidator(opts IdempotencyOptions, lookup IdempotencyLookup) gin.HandlerFunc {
	maxLen := opts.MaxLen
	if maxLen <= 0 {
		maxLen = defaultIdemMaxLen
	}
	pat := opts.Pattern
	if pat == nil {
		pat = defaultIdemPattern
	}
	scope := opts.Scope
	if scope == nil {
		scope = func(c *gin.Context) string { return c.Param("id") }
	}

	return func(c *gin.Context) {
		key := strings.TrimSpace(c.GetHeader(HeaderIdempotencyKey))
		if key == "" {
			c.Next()
			return
		}
		if len(key) > maxLen || !pat.MatchString(key) {
			abortJSON(c, http.StatusBadRequest, "bad_idempotency_key", "invalid Idempotency-Key", nil)
			return
		}
		c.Set(ctxKeyIdemKey, key)

		uid := c.GetString(ctxKeyUserID)
		if lookup == nil || uid == "" {
			c.Next()
			return
		}
		room := scope(c)
		exists, err := lookup(c.Request.Context(), uid, room, key, time.Now().UTC())
		if err != nil {
			LoggerFrom(c).Warn().Err(err).Str("room", room).Msg("idempotency lookup failed")
		}
		if exists {
			c.Set(ctxKeyIdemReplay, true)
			c.Set(ctxKeyRateBypass, true)
		}
		c.Next()
	}
}
