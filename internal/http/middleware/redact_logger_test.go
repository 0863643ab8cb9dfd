package middleware

import (
	"bytes"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

func withCapturedLogger(t *testing.T) *bytes.Buffer {
	t.Helper()
	var buf bytes.Buffer
	prev := log.Logger
	t.Cleanup(func() { log.Logger = prev })
	log.Logger = zerolog.New(&buf) // plain JSON lines
	return &buf
}

func TestRedactingLogger_ScrubsPresenceLookup(t *testing.T) {
	gin.SetMode(gin.TestMode)
	buf := withCapturedLogger(t)

	r := gin.New()
	r.Use(RequestID(), RedactingLogger(RedactOptions{MaskHeaders: []string{"X-Admin-Token"}}))
	r.GET("/api/v1/presence/:userId", func(c *gin.Context) { c.String(http.StatusOK, "{}") })

	friend := "123e4567-e89b-12d3-a456-426614174000"
	req := httptest.NewRequest(http.MethodGet,
		"/api/v1/presence/"+friend+"?invite=a.b+tag@example.com&sms=+1-555-123-4567&ref="+friend, nil)
	req.Header.Set("Authorization", "Bearer eyJ.secret")
	req.Header.Set("Cookie", "sid=topsecret")
	req.Header.Set("X-Admin-Token", "ops")
	req.Header.Set("X-Device", "owner a@b.com device "+friend+" sms 555-123-4567")
	req.Header.Set("X-Request-ID", "rid-presence")
	r.ServeHTTP(httptest.NewRecorder(), req)

	logs := buf.String()
	for _, want := range []string{
		`"level":"info"`,
		`"path":"/api/v1/presence/:userId"`,
		`"request_id":"rid-presence"`,
		`"websocket":false`,
		`"Authorization":"[REDACTED]"`,
		`"Cookie":"[REDACTED]"`,
		`"X-Admin-Token":"[REDACTED]"`,
		`"X-Device":"owner [REDACTED:email] device [REDACTED:id] sms [REDACTED:phone]"`,
		`[REDACTED:email]`, `[REDACTED:phone]`, `ref=[REDACTED:id]`,
	} {
		if !strings.Contains(logs, want) {
			t.Fatalf("missing %s in %s", want, logs)
		}
	}
	if strings.Contains(logs, friend) || strings.Contains(logs, "topsecret") {
		t.Fatalf("identifiers leaked into log: %s", logs)
	}
}

func TestRedactingLogger_WarnAndErrorLevels_RequestIDFallback(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()

	buf := withCapturedLogger(t)

	// No response header X-Request-ID this time
	r.Use(RedactingLogger(RedactOptions{}))

	r.GET("/warn", func(c *gin.Context) { c.Status(http.StatusNotFound) })             // 404 -> warn
	r.GET("/error", func(c *gin.Context) { c.Status(http.StatusInternalServerError) }) // 500 -> error

	// Set only request header request-id; logger should fall back to it
	reqWarn := httptest.NewRequest(http.MethodGet, "/warn", nil)
	reqWarn.Header.Set("X-Request-ID", "rid-warn")
	w1 := httptest.NewRecorder()
	r.ServeHTTP(w1, reqWarn)

	reqErr := httptest.NewRequest(http.MethodGet, "/error", nil)
	reqErr.Header.Set("X-Request-ID", "rid-err")
	w2 := httptest.NewRecorder()
	r.ServeHTTP(w2, reqErr)

	logs := buf.String()
	if !strings.Contains(logs, `"level":"warn"`) || !strings.Contains(logs, `"request_id":"rid-warn"`) {
		t.Fatalf("warn log not found or missing request_id fallback: %s", logs)
	}
	if !strings.Contains(logs, `"level":"error"`) || !strings.Contains(logs, `"request_id":"rid-err"`) {
		t.Fatalf("error log not found or missing request_id fallback: %s", logs)
	}
}

func TestRedactingLogger_MasksTokenQueryAndLogsUser(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	buf := withCapturedLogger(t)

	r.Use(RedactingLogger(RedactOptions{MaskQuery: []string{"sig"}}))
	r.Use(func(c *gin.Context) { c.Set(ctxKeyUserID, "u-42"); c.Next() })
	r.GET("/ws", func(c *gin.Context) { c.Status(http.StatusUnauthorized) })

	req := httptest.NewRequest(http.MethodGet, "/ws?token=eyJhbGciOi.secret.part&sig=abc&room=g1", nil)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	logs := buf.String()
	if strings.Contains(logs, "eyJhbGciOi") || strings.Contains(logs, "sig=abc") {
		t.Fatalf("credentials leaked into log: %s", logs)
	}
	if !strings.Contains(logs, `token=[REDACTED]`) || !strings.Contains(logs, `sig=[REDACTED]`) {
		t.Fatalf("expected masked query params, got: %s", logs)
	}
	if !strings.Contains(logs, "room=g1") {
		t.Fatalf("unmasked params should be kept, got: %s", logs)
	}
	if !strings.Contains(logs, `"user_id":"u-42"`) {
		t.Fatalf("expected user_id in access log, got: %s", logs)
	}
}

func TestMaskQueryParams(t *testing.T) {
	masked := map[string]struct{}{"token": {}}
	cases := map[string]string{
		"":                "",
		"a=1":             "a=1",
		"Token=x&a=1":     "Token=[REDACTED]&a=1",
		"token=%zz":       "[REDACTED:unparseable]",
		"b=2&token=x&a=1": "a=1&b=2&token=[REDACTED]",
	}
	for in, want := range cases {
		if got := maskQueryParams(in, masked); got != want {
			t.Errorf("maskQueryParams(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestRedactingLogger_SkipPathsOnlyWhenHealthy(t *testing.T) {
	gin.SetMode(gin.TestMode)
	buf := withCapturedLogger(t)

	healthy := true
	r := gin.New()
	r.Use(RequestID(), RedactingLogger(RedactOptions{SkipPaths: []string{"/health"}}))
	r.GET("/health", func(c *gin.Context) {
		if !healthy {
			c.Status(http.StatusServiceUnavailable)
			return
		}
		c.Status(http.StatusOK)
	})
	r.GET("/api/v1/notifications", func(c *gin.Context) { c.Status(http.StatusOK) })

	r.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/health", nil))
	if buf.Len() != 0 {
		t.Fatalf("healthy probe should not be logged: %s", buf.String())
	}

	r.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/api/v1/notifications", nil))
	if !strings.Contains(buf.String(), `"path":"/api/v1/notifications"`) {
		t.Fatalf("regular route must be logged: %s", buf.String())
	}

	healthy = false
	buf.Reset()
	r.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/health", nil))
	if !strings.Contains(buf.String(), `"level":"error"`) || !strings.Contains(buf.String(), `"path":"/health"`) {
		t.Fatalf("failing probe must be logged: %s", buf.String())
	}
}
