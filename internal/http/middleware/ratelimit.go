// Package middleware contains shared Gin middleware used by the HTTP layer.
//
// This file adapts ratelimit.Gate to Gin. Each route group names the class it
// charges and how a request is keyed; the gate owns the windows, blocks and
// the shared/local store switch.
//
// Features:
//   - X-RateLimit-Limit / X-RateLimit-Remaining / X-RateLimit-Reset on every
//     charged request, Retry-After on rejection
//   - Pluggable identity function (user+IP, or IP+declared credential)
//   - Seamless bypass for idempotent replays (when paired with IdempotencyValidator)
//   - Fail-open when the store itself errors; the request is logged and served
package middleware

import (
	"bytes"
	"errors"
	"io"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/goccy/go-json"

	"github.com/tbourn/gossip-backend/internal/ratelimit"
)

// Rate-limit response headers.
const (
	HeaderRateLimit     = "X-RateLimit-Limit"
	HeaderRateRemaining = "X-RateLimit-Remaining"
	HeaderRateReset     = "X-RateLimit-Reset"
	HeaderRetryAfter    = "Retry-After"
)

// maxCredentialBody bounds how much of a request body CredentialKey will
// buffer while looking for the credential field.
const maxCredentialBody = 64 << 10

// KeyFunc selects the identity used to key a rate-limit counter.
type KeyFunc func(*gin.Context) string

// KeyByUserOrIP keys by client IP and, once authenticated, the user ID
// stored under "userID" (see ratelimit.RequestKey).
func KeyByUserOrIP() KeyFunc {
	return func(c *gin.Context) string {
		return ratelimit.RequestKey(c.ClientIP(), c.GetString(ctxKeyUserID))
	}
}

// CredentialKey keys credential-sensitive classes (login, password reset) by
// client IP plus the first non-empty JSON body field among fields. The body
// is restored afterwards so the handler can still bind it. Nothing in this
// router issues credentials; it is meant for auth routes mounted alongside.
func CredentialKey(fields ...string) KeyFunc {
	return func(c *gin.Context) string {
		ip := c.ClientIP()
		if c.Request.Body == nil || len(fields) == 0 {
			return ip
		}
		raw, err := io.ReadAll(io.LimitReader(c.Request.Body, maxCredentialBody))
		_ = c.Request.Body.Close()
		c.Request.Body = io.NopCloser(bytes.NewReader(raw))
		if err != nil || len(raw) == 0 {
			return ip
		}

		var body map[string]any
		if json.Unmarshal(raw, &body) != nil {
			return ip
		}
		for _, f := range fields {
			if s, ok := body[f].(string); ok && s != "" {
				return ratelimit.ClientKey(ip, s)
			}
		}
		return ip
	}
}

// IsRateBypass reports whether IdempotencyValidator marked this request for
// rate-limit bypass (i.e., it is a replay of a previously completed request).
func IsRateBypass(c *gin.Context) bool {
	v, ok := c.Get(ctxKeyRateBypass)
	if !ok {
		return false
	}
	b, _ := v.(bool)
	return b
}

// RateLimit charges one point of class per request, keyed by keyFn.
//
// Behavior:
//   - A nil gate disables limiting (RATE_LIMIT_ENABLED=false).
//   - Replays flagged by IdempotencyValidator are not charged.
//   - Rejections abort with 429 and the standard envelope plus retry_after:
//
//     HTTP/1.1 429 Too Many Requests
//     Retry-After: 42
//     {
//     "request_id":  "<uuid>",
//     "code":        "too_many_requests",
//     "message":     "rate limit exceeded",
//     "retry_after": 42
//     }
func RateLimit(gate *ratelimit.Gate, class string, keyFn KeyFunc) gin.HandlerFunc {
	if keyFn == nil {
		keyFn = KeyByUserOrIP()
	}
	return func(c *gin.Context) {
		if gate == nil || IsRateBypass(c) {
			c.Next()
			return
		}

		res, err := gate.Consume(c.Request.Context(), class, keyFn(c))
		if err != nil {
			var exc *ratelimit.ExceededError
			if errors.As(err, &exc) {
				retry := exc.RetryAfterSeconds()
				c.Header(HeaderRateLimit, strconv.Itoa(exc.Limit))
				c.Header(HeaderRateRemaining, "0")
				c.Header(HeaderRateReset, strconv.FormatInt(exc.ResetAt.Unix(), 10))
				c.Header(HeaderRetryAfter, strconv.Itoa(retry))
				abortJSON(c, http.StatusTooManyRequests, "too_many_requests", "rate limit exceeded", gin.H{"retry_after": retry})
				return
			}
			LoggerFrom(c).Warn().Err(err).Str("class", class).Msg("rate limit check failed; allowing request")
			c.Next()
			return
		}

		c.Header(HeaderRateLimit, strconv.Itoa(res.Limit))
		c.Header(HeaderRateRemaining, strconv.Itoa(res.Remaining))
		c.Header(HeaderRateReset, strconv.FormatInt(res.ResetAt.Unix(), 10))
		c.Next()
	}
}
