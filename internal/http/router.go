// Package httpapi wires the HTTP transport (Gin) to the realtime hub,
// application services, middleware, and route handlers. It centralizes
// cross-cutting concerns such as tracing, correlation IDs, logging/redaction,
// panic recovery, metrics, CORS, security headers, authentication,
// idempotency, and rate limiting.
//
// Design goals:
//   - Put observability first (OTel + Prometheus)
//   - Safe-by-default middleware ordering (RequestID → logging → recovery)
//   - Deterministic, minimal router setup; all dependencies injected
//   - Rate limits applied per route class, after identity is known
package httpapi

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-contrib/gzip"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
	"gorm.io/gorm"

	"github.com/tbourn/gossip-backend/internal/auth"
	"github.com/tbourn/gossip-backend/internal/breaker"
	"github.com/tbourn/gossip-backend/internal/config"
	"github.com/tbourn/gossip-backend/internal/http/handlers"
	"github.com/tbourn/gossip-backend/internal/http/middleware"
	"github.com/tbourn/gossip-backend/internal/ratelimit"
	"github.com/tbourn/gossip-backend/internal/repo"
)

// Deps are the collaborators the routes are served by. Limiter may be nil,
// which disables rate limiting; Socket may be nil, which leaves /ws unmounted.
type Deps struct {
	DB            *gorm.DB
	Verifier      middleware.TokenVerifier
	Presence      handlers.PresenceService
	Notifications handlers.NotificationService
	Messages      handlers.MessageService
	Breakers      *breaker.Gate
	Limiter       *ratelimit.Gate
	Socket        gin.HandlerFunc
}

// corsAllowHeaders and corsExposeHeaders are shared by both CORS branches.
var (
	corsAllowHeaders = []string{
		"Origin", "Content-Type", "Accept", "Authorization",
		middleware.HeaderIdempotencyKey, middleware.HeaderAdminToken,
	}
	corsExposeHeaders = []string{
		"X-Request-ID", "Content-Length", "ETag", middleware.HeaderReplayed,
		middleware.HeaderRateLimit, middleware.HeaderRateRemaining,
		middleware.HeaderRateReset, middleware.HeaderRetryAfter,
	}
)

// RegisterRoutes attaches all middleware and HTTP endpoints to the given Gin
// engine. It configures observability (tracing, metrics), CORS and security
// headers, health and metrics endpoints, the socket upgrade endpoint, the
// versioned public API under /api/v*, and the operator endpoints under
// /system when an admin token is configured.
//
// Middleware order matters:
//  1. OpenTelemetry: trace everything
//  2. RequestID: generate/propagate correlation id
//  3. RedactingLogger: structured logs with token scrubbing
//  4. Recovery: capture panics after logger
//  5. Body size limiter
//  6. Metrics
//  7. CORS, security headers and gzip
//
// Per group: Authenticate → RateLimit(api) → IdempotencyValidator →
// RateLimit(message), so replays bypass the message quota.
func RegisterRoutes(r *gin.Engine, cfg config.Config, d Deps) {
	r.HandleMethodNotAllowed = true

	// 1) Trace all HTTP requests
	r.Use(otelgin.Middleware(cfg.OTEL.ServiceName))

	// 2) Correlate requests and logs
	r.Use(middleware.RequestID())

	// 3) Structured logging with redaction
	r.Use(middleware.RedactingLogger(middleware.RedactOptions{
		MaskHeaders: []string{middleware.HeaderAdminToken},
		SkipPaths:   []string{"/health", "/metrics"},
	}))

	// 4) Panic recovery to JSON 500 (with request id)
	r.Use(middleware.Recovery())

	// 5) Global body size limit (1 MiB)
	r.Use(limitBody(1 << 20))

	// 6) Prometheus metrics and /metrics endpoint
	r.Use(middleware.Metrics())
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	// 7) CORS posture (safe defaults: allow all if none configured)
	if len(cfg.CORS.AllowedOrigins) == 0 {
		// Force ACAO: * even for requests without an Origin header (helps tests and simple health checks).
		r.Use(func(c *gin.Context) {
			c.Writer.Header().Set("Access-Control-Allow-Origin", "*")
			c.Next()
		})
		r.Use(cors.New(cors.Config{
			AllowAllOrigins:  true,
			AllowMethods:     []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
			AllowHeaders:     corsAllowHeaders,
			ExposeHeaders:    corsExposeHeaders,
			AllowCredentials: false, // must remain false with AllowAllOrigins
			MaxAge:           12 * time.Hour,
		}))
	} else {
		// Echo ACAO with the request Origin when it is in the allowlist (in addition to gin-contrib/cors).
		allowed := make(map[string]struct{}, len(cfg.CORS.AllowedOrigins))
		for _, o := range cfg.CORS.AllowedOrigins {
			allowed[o] = struct{}{}
		}
		r.Use(func(c *gin.Context) {
			if origin := c.GetHeader("Origin"); origin != "" {
				if _, ok := allowed[origin]; ok {
					h := c.Writer.Header()
					h.Set("Access-Control-Allow-Origin", origin)
					h.Add("Vary", "Origin")
				}
			}
			c.Next()
		})
		r.Use(cors.New(cors.Config{
			AllowOrigins:     cfg.CORS.AllowedOrigins,
			AllowMethods:     []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
			AllowHeaders:     corsAllowHeaders,
			ExposeHeaders:    corsExposeHeaders,
			AllowCredentials: false,
			MaxAge:           12 * time.Hour,
		}))
	}

	// Security headers (HSTS only when enabled and request is HTTPS)
	r.Use(middleware.SecurityHeaders(middleware.SecurityOptions{
		EnableHSTS:    cfg.Security.EnableHSTS,
		HSTSMaxAge:    cfg.Security.HSTSMaxAge,
		EnablePolicy:  true,
		PrivatePrefix: cfg.APIBasePath,
	}))

	// Compress JSON bodies; the socket upgrade must reach the raw writer.
	r.Use(gzip.Gzip(gzip.DefaultCompression, gzip.WithExcludedPaths([]string{"/ws", "/metrics"})))

	// Fallbacks
	r.NoRoute(func(c *gin.Context) {
		handlers.Fail(c, http.StatusNotFound, handlers.ErrCodeNotFound, "route not found")
	})
	r.NoMethod(func(c *gin.Context) {
		handlers.Fail(c, http.StatusMethodNotAllowed, handlers.ErrCodeMethodNotAllowed, "method not allowed")
	})

	// Liveness/health
	r.GET("/health", func(c *gin.Context) { c.JSON(http.StatusOK, gin.H{"status": "ok"}) })

	// The handlers treat a nil view as "limiting disabled"; keep the
	// interface nil rather than wrapping a nil *Gate.
	var limits handlers.RateLimitView
	if d.Limiter != nil {
		limits = d.Limiter
	}
	var breakers handlers.BreakerAdmin
	if d.Breakers != nil {
		breakers = d.Breakers
	}
	h := handlers.New(d.Presence, d.Notifications, d.Messages, breakers, limits)

	// Socket upgrade: connection attempts are charged per IP before the
	// handshake verifies the token.
	if d.Socket != nil {
		r.GET("/ws", middleware.RateLimit(d.Limiter, config.ClassConnect, middleware.KeyByUserOrIP()), d.Socket)
	}

	// Public API
	api := groupWithPrefix(r, cfg.APIBasePath) // e.g. "/api/v1"
	api.Use(
		middleware.Authenticate(d.Verifier, auth.TokenFromRequest),
		middleware.RateLimit(d.Limiter, config.ClassAPI, middleware.KeyByUserOrIP()),
	)
	{
		// Presence
		api.GET("/presence/:userId", h.GetPresence)
		api.PUT("/presence/status", h.SetStatus)

		// Notifications
		api.GET("/notifications", h.ListNotifications)
		api.PUT("/notifications/:id/read", h.MarkNotificationRead)

		// Messages
		lookup := idempotencyLookup(d.DB)
		sendLimit := middleware.RateLimit(d.Limiter, config.ClassMessage, middleware.KeyByUserOrIP())

		api.GET("/conversations/:id/messages", h.ListConversationMessages)
		api.POST("/conversations/:id/messages",
			middleware.IdempotencyValidator(middleware.IdempotencyOptions{MaxLen: 200, Scope: handlers.ConversationScope}, lookup),
			sendLimit,
			h.PostConversationMessage,
		)
		api.GET("/groups/:id/messages", h.ListGroupMessages)
		api.POST("/groups/:id/messages",
			middleware.IdempotencyValidator(middleware.IdempotencyOptions{MaxLen: 200, Scope: handlers.GroupScope}, lookup),
			sendLimit,
			h.PostGroupMessage,
		)
	}

	// Operator endpoints
	if cfg.Security.AdminToken != "" && breakers != nil {
		sys := r.Group("/system", middleware.RequireAdmin(cfg.Security.AdminToken))
		sys.GET("/breakers", h.ListBreakers)
		sys.POST("/breakers/:name/reset", h.ResetBreaker)
		sys.GET("/ratelimits", h.ListRateLimits)
	}
}

// idempotencyLookup reports whether a non-expired idempotency record exists.
// A nil db disables replays.
func idempotencyLookup(db *gorm.DB) middleware.IdempotencyLookup {
	if db == nil {
		return nil
	}
	return func(ctx context.Context, userID, scope, key string, now time.Time) (bool, error) {
		rec, err := repo.GetIdempotency(ctx, db, userID, scope, key, now)
		if errors.Is(err, repo.ErrNotFound) {
			return false, nil
		}
		if err != nil {
			return false, err
		}
		return rec != nil, nil
	}
}

// limitBody returns a Gin middleware that caps the request body size for all
// endpoints to maxBytes using http.MaxBytesReader. Requests exceeding the cap
// will cause downstream body reads to error.
func limitBody(maxBytes int64) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, maxBytes)
		c.Next()
	}
}

// groupWithPrefix mounts a group at prefix, treating "/" (or empty) as root.
func groupWithPrefix(r *gin.Engine, prefix string) *gin.RouterGroup {
	if prefix == "" || prefix == "/" {
		return r.Group("")
	}
	return r.Group(prefix)
}
