package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestMetrics_RouteLabelsAndInflight(t *testing.T) {
	gin.SetMode(gin.TestMode)

	r := gin.New()
	r.Use(Metrics())
	r.GET("/api/v1/presence/:userId", func(c *gin.Context) { c.String(http.StatusOK, `{"status":"online"}`) })
	r.PUT("/api/v1/notifications/:id/read", func(c *gin.Context) { c.Status(http.StatusNoContent) })

	basePresence := testutil.ToFloat64(httpReqs.WithLabelValues("GET", "/api/v1/presence/:userId", "200"))
	baseRead := testutil.ToFloat64(httpReqs.WithLabelValues("PUT", "/api/v1/notifications/:id/read", "204"))
	baseMiss := testutil.ToFloat64(httpReqs.WithLabelValues("GET", unmatchedRoute, "404"))

	for _, rq := range []struct{ method, path string }{
		{http.MethodGet, "/api/v1/presence/u1"},
		{http.MethodGet, "/api/v1/presence/u2"},
		{http.MethodPut, "/api/v1/notifications/n1/read"},
		{http.MethodGet, "/wp-login.php"},
		{http.MethodGet, "/.env"},
	} {
		r.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(rq.method, rq.path, nil))
	}

	if got := testutil.ToFloat64(httpReqs.WithLabelValues("GET", "/api/v1/presence/:userId", "200")); got != basePresence+2 {
		t.Fatalf("presence counter = %v, want %v", got, basePresence+2)
	}
	if got := testutil.ToFloat64(httpReqs.WithLabelValues("PUT", "/api/v1/notifications/:id/read", "204")); got != baseRead+1 {
		t.Fatalf("read counter = %v, want %v", got, baseRead+1)
	}
	if got := testutil.ToFloat64(httpReqs.WithLabelValues("GET", unmatchedRoute, "404")); got != baseMiss+2 {
		t.Fatalf("unmatched paths should share one series, got %v want %v", got, baseMiss+2)
	}
	if inFlight := testutil.ToFloat64(httpInflight); inFlight != 0 {
		t.Fatalf("httpInflight = %v; want 0", inFlight)
	}
}

func TestMetrics_WebsocketHandshakesCountedSeparately(t *testing.T) {
	gin.SetMode(gin.TestMode)

	r := gin.New()
	r.Use(Metrics())
	r.GET("/ws", func(c *gin.Context) {
		if c.Query("token") == "" {
			c.Status(http.StatusUnauthorized)
			return
		}
		// a hijacked connection leaves gin's default status untouched
	})

	base401 := testutil.ToFloat64(wsUpgrades.WithLabelValues("401"))
	base101 := testutil.ToFloat64(wsUpgrades.WithLabelValues("101"))
	baseReq := testutil.ToFloat64(httpReqs.WithLabelValues("GET", "/ws", "401"))

	for _, target := range []string{"/ws", "/ws?token=t"} {
		req := httptest.NewRequest(http.MethodGet, target, nil)
		req.Header.Set("Connection", "Upgrade")
		req.Header.Set("Upgrade", "websocket")
		r.ServeHTTP(httptest.NewRecorder(), req)
	}

	if got := testutil.ToFloat64(wsUpgrades.WithLabelValues("401")); got != base401+1 {
		t.Fatalf("rejected handshakes = %v, want %v", got, base401+1)
	}
	if got := testutil.ToFloat64(wsUpgrades.WithLabelValues("101")); got != base101+1 {
		t.Fatalf("upgraded handshakes = %v, want %v", got, base101+1)
	}
	if got := testutil.ToFloat64(httpReqs.WithLabelValues("GET", "/ws", "401")); got != baseReq {
		t.Fatalf("handshakes must not hit the request counter")
	}
}
