package middleware

import (
	"net/url"
	"regexp"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"
)

// RedactOptions extends the built-in masks. Header and parameter names are
// matched case-insensitively.
type RedactOptions struct {
	// MaskHeaders adds to Authorization, Cookie and Set-Cookie.
	MaskHeaders []string
	// MaskQuery adds to token and access_token.
	MaskQuery []string
	// SkipPaths are exact URL paths (probes, scrapes) whose successful
	// requests are not logged. Failures are always logged.
	SkipPaths []string
}

// RedactingLogger is the access log. It never logs bodies, masks credential
// headers and query parameters (the socket handshake carries its JWT as
// ?token=), scrubs emails, phone numbers and UUIDs from what remains, and
// attaches the request-scoped logger read by LoggerFrom.
//
// Severity follows the outcome: info, warn for 4xx, error for 5xx or when
// handlers recorded gin errors.
//
// UUIDs are redacted before phone numbers; the phone pattern would otherwise
// eat the digit groups of a UUID.
func RedactingLogger(opts RedactOptions) gin.HandlerFunc {
	// Compile regex patterns once.
	uuidRE := regexp.MustCompile(`(?i)\b[0-9a-f]{8}\-[0-9a-f]{4}\-[1-5][0-9a-f]{3}\-[89ab][0-9a-f]{3}\-[0-9a-f]{12}\b`)
	emailRE := regexp.MustCompile(`(?i)\b[a-z0-9._%+\-]+@[a-z0-9.\-]+\.[a-z]{2,}\b`)
	// Digits-only phone pattern (prevents matching hex characters from UUIDs).
	// Examples matched: "+1 212-555-1212", "212 555 1212", "(212) 555-1212".
	phoneRE := regexp.MustCompile(`\b(?:\+?\d{1,3}[ .-]?)?(?:\(?\d{2,4}\)?[ .-]?)?\d{3,4}[ .-]?\d{4}\b`)

	redact := func(s string) string {
		if s == "" {
			return s
		}
		out := s
		// Order matters: IDs → email → phone (phone is the loosest).
		out = uuidRE.ReplaceAllString(out, "[REDACTED:id]")
		out = emailRE.ReplaceAllString(out, "[REDACTED:email]")
		out = phoneRE.ReplaceAllString(out, "[REDACTED:phone]")
		return out
	}

	// Build header mask set (case-insensitive).
	maskHeaders := map[string]struct{}{
		"authorization": {},
		"cookie":        {},
		"set-cookie":    {},
	}
	for _, h := range opts.MaskHeaders {
		if h = strings.ToLower(strings.TrimSpace(h)); h != "" {
			maskHeaders[h] = struct{}{}
		}
	}

	maskQuery := map[string]struct{}{
		"token":        {},
		"access_token": {},
	}
	for _, q := range opts.MaskQuery {
		if q = strings.ToLower(strings.TrimSpace(q)); q != "" {
			maskQuery[q] = struct{}{}
		}
	}

	skip := make(map[string]struct{}, len(opts.SkipPaths))
	for _, p := range opts.SkipPaths {
		skip[p] = struct{}{}
	}

	return func(c *gin.Context) {
		start := time.Now()

		// Request path and query.
		path := c.FullPath()
		if path == "" {
			path = c.Request.URL.Path
		}
		safeQuery := truncate(redact(maskQueryParams(c.Request.URL.RawQuery, maskQuery)), maxQueryLogLength)

		// Request-scoped logger for handlers; Authenticate adds user_id.
		scoped := log.With().
			Str("request_id", RequestIDFrom(c)).
			Str("method", c.Request.Method).
			Str("path", path).
			Str("remote_ip", c.ClientIP()).
			Logger()
		c.Set(loggerKey, &scoped)

		// Scrub headers.
		safeHeaders := make(map[string]string, len(c.Request.Header))
		for k, vv := range c.Request.Header {
			keyLower := strings.ToLower(k)
			val := strings.Join(vv, ", ")
			if _, ok := maskHeaders[keyLower]; ok {
				safeHeaders[k] = "[REDACTED]"
				continue
			}
			safeHeaders[k] = redact(val)
		}

		c.Next()

		latency := time.Since(start)
		status := c.Writer.Status()
		size := c.Writer.Size()

		reqID := RequestIDFrom(c)
		if reqID == "" {
			reqID = c.Writer.Header().Get(requestIDHeader)
		}
		if reqID == "" {
			reqID = c.GetHeader(requestIDHeader)
		}

		if _, ok := skip[c.Request.URL.Path]; ok && status < 400 && len(c.Errors) == 0 {
			return
		}

		// Severity based on status.
		ev := log.Info()
		switch {
		case len(c.Errors) > 0:
			ev = log.Error().Str("errors", c.Errors.String())
		case status >= 500:
			ev = log.Error()
		case status >= 400:
			ev = log.Warn()
		}

		ev.
			Str("request_id", reqID).
			Str("user_id", c.GetString(ctxKeyUserID)).
			Bool("websocket", c.IsWebsocket()).
			Str("method", c.Request.Method).
			Str("path", path).
			Str("query", safeQuery).
			Int("status", status).
			Int("bytes", size).
			Dur("latency", latency).
			Interface("headers", safeHeaders).
			Msg("http_request")
	}
}

// maskQueryParams replaces the values of masked parameters in rawQuery.
// Unparseable queries are dropped entirely rather than logged raw.
func maskQueryParams(rawQuery string, masked map[string]struct{}) string {
	if rawQuery == "" {
		return ""
	}
	vals, err := url.ParseQuery(rawQuery)
	if err != nil {
		return "[REDACTED:unparseable]"
	}
	hit := false
	for k := range vals {
		if _, ok := masked[strings.ToLower(k)]; ok {
			vals[k] = []string{"[REDACTED]"}
			hit = true
		}
	}
	if !hit {
		return rawQuery
	}
	return strings.ReplaceAll(vals.Encode(), url.QueryEscape("[REDACTED]"), "[REDACTED]")
}
