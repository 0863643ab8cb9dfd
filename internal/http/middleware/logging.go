// Package middleware contains shared Gin middleware used by the HTTP layer.
//
// This file owns request correlation and failure containment:
//
//   - RequestID() assigns every request a correlation ID. A client-supplied
//     X-Request-ID is honoured only when it is short and made of safe
//     characters; anything else is replaced so log lines cannot be forged.
//   - Recovery() turns panics into the standard JSON 500 envelope, logs the
//     stack through the request-scoped logger and counts the panic.
//   - LoggerFrom() returns the logger attached by RedactingLogger, enriched
//     with user_id once Authenticate has run.
//
// Order: RequestID, RedactingLogger, Recovery.
package middleware

import (
	"net/http"
	"regexp"
	"runtime/debug"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

const (
	requestIDKey    = "requestID"
	loggerKey       = "logger"
	requestIDHeader = "X-Request-ID"
	// maxQueryLogLength caps the number of bytes of the raw query string logged.
	maxQueryLogLength = 2048
)

// validRequestID bounds inbound correlation IDs (UUIDs, ULIDs, trace ids).
var validRequestID = regexp.MustCompile(`^[A-Za-z0-9._:-]{1,128}$`)

var httpPanics = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "gossip_http_panics_total",
		Help: "Handler panics recovered by the HTTP layer.",
	},
	[]string{"path"},
)

func init() {
	prometheus.MustRegister(httpPanics)
}

// RequestID reuses a well-formed inbound X-Request-ID or generates a UUIDv4,
// stores it in the Gin context and echoes it on the response.
func RequestID() gin.HandlerFunc {
	return func(c *gin.Context) {
		rid := c.GetHeader(requestIDHeader)
		if !validRequestID.MatchString(rid) {
			rid = uuid.NewString()
		}
		c.Set(requestIDKey, rid)
		c.Writer.Header().Set(requestIDHeader, rid)
		c.Next()
	}
}

// RequestIDFrom returns the correlation ID set by RequestID, or "".
func RequestIDFrom(c *gin.Context) string {
	return c.GetString(requestIDKey)
}

// abortJSON ends the chain with the error envelope shared by every handler:
// {"request_id", "code", "message"} plus any extra fields.
func abortJSON(c *gin.Context, status int, code, msg string, extra gin.H) {
	body := gin.H{
		"request_id": RequestIDFrom(c),
		"code":       code,
		"message":    msg,
	}
	for k, v := range extra {
		body[k] = v
	}
	c.AbortWithStatusJSON(status, body)
}

// Recovery converts a panic into a 500. Hijacked connections (WebSocket
// upgrades) and responses already in flight are only aborted.
func Recovery() gin.HandlerFunc {
	return func(c *gin.Context) {
		defer func() {
			rec := recover()
			if rec == nil {
				return
			}
			httpPanics.WithLabelValues(routeLabel(c)).Inc()
			LoggerFrom(c).Error().
				Interface("panic", rec).
				Bytes("stack", debug.Stack()).
				Str("request_id", RequestIDFrom(c)).
				Msg("panic recovered")

			if c.Writer.Written() || c.IsWebsocket() {
				c.Abort()
				return
			}
			abortJSON(c, http.StatusInternalServerError, "internal_error", "internal server error", nil)
		}()
		c.Next()
	}
}

// LoggerFrom returns the request-scoped logger, or the global logger when
// RedactingLogger did not run. Never nil.
func LoggerFrom(c *gin.Context) *zerolog.Logger {
	if v, ok := c.Get(loggerKey); ok {
		if lg, ok := v.(*zerolog.Logger); ok {
			return lg
		}
	}
	l := log.With().Logger()
	return &l
}

// truncate cuts s to max bytes plus an ellipsis; max <= 0 disables it.
func truncate(s string, max int) string {
	if max <= 0 || len(s) <= max {
		return s
	}
	return s[:max] + "…"
}
