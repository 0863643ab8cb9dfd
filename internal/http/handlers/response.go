// Package handlers implements the REST surface over the realtime hub:
// presence, notifications, message posts and history, and the operator
// endpoints for breakers and rate limits.
//
// Every error is the envelope
//
//	{"request_id": "...", "code": "not_found", "message": "user not found"}
//
// with a stable code from errors.go.
package handlers

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/tbourn/gossip-backend/internal/breaker"
	"github.com/tbourn/gossip-backend/internal/http/middleware"
)

// dependencyRetryAfter is the Retry-After hint, in seconds, sent with 503s.
const dependencyRetryAfter = 5

// ErrorResponse is the error body of every non-2xx answer.
type ErrorResponse struct {
	RequestID string `json:"request_id,omitempty"`
	Code      string `json:"code"`
	Message   string `json:"message"`
}

// fail aborts with the error envelope. 5xx responses are logged through the
// request-scoped logger, which already carries request_id and user_id.
func fail(c *gin.Context, status int, code, msg string) {
	rid := middleware.RequestIDFrom(c)
	if rid == "" {
		rid = c.Writer.Header().Get("X-Request-ID")
	}
	if status >= http.StatusInternalServerError {
		middleware.LoggerFrom(c).Error().
			Int("status", status).
			Str("code", code).
			Str("message", msg).
			Msg("api error")
	}
	c.AbortWithStatusJSON(status, ErrorResponse{RequestID: rid, Code: code, Message: msg})
}

// Fail lets the router answer NoRoute/NoMethod with the same envelope.
func Fail(c *gin.Context, status int, code, msg string) { fail(c, status, code, msg) }

func ok(c *gin.Context, status int, body any) {
	c.JSON(status, body)
}

func noContent(c *gin.Context) {
	c.Status(http.StatusNoContent)
}

// failDependency answers for errors no handler-specific case matched. A
// tripped or timed-out circuit becomes 503 with Retry-After so clients back
// off; anything else is a 500 with fallbackCode. The underlying error is
// logged, never echoed: it may carry SQL or Redis addresses.
func failDependency(c *gin.Context, err error, fallbackCode string) {
	if errors.Is(err, breaker.ErrCircuitOpen) || errors.Is(err, breaker.ErrTimeout) {
		c.Header("Retry-After", strconv.Itoa(dependencyRetryAfter))
		fail(c, http.StatusServiceUnavailable, ErrCodeServiceUnavailable, "dependency temporarily unavailable")
		return
	}
	middleware.LoggerFrom(c).Error().Err(err).Str("route", c.FullPath()).Msg("dependency call failed")
	fail(c, http.StatusInternalServerError, fallbackCode, "internal server error")
}
