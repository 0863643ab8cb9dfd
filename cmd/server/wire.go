package main

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"gorm.io/gorm"

	"github.com/tbourn/gossip-backend/internal/auth"
	"github.com/tbourn/gossip-backend/internal/breaker"
	"github.com/tbourn/gossip-backend/internal/cache"
	"github.com/tbourn/gossip-backend/internal/config"
	httpapi "github.com/tbourn/gossip-backend/internal/http"
	"github.com/tbourn/gossip-backend/internal/ratelimit"
	"github.com/tbourn/gossip-backend/internal/realtime"
	"github.com/tbourn/gossip-backend/internal/repo"
	"github.com/tbourn/gossip-backend/internal/services"
	"github.com/tbourn/gossip-backend/internal/supervisor"
	"github.com/tbourn/gossip-backend/internal/ws"
)

const (
	maxMessageRunes = 4000
	previewRunes    = 140
	idempotencyTTL  = 24 * time.Hour
)

// deps are the process resources build wires components onto. rdb may be
// nil, which keeps the cache and the limiter in-process.
type deps struct {
	db   *gorm.DB
	rdb  redis.UniversalClient
	log  zerolog.Logger
	tree *supervisor.Tree
}

// app is everything the HTTP layer needs.
type app struct {
	hub     *realtime.Hub
	limiter *ratelimit.Gate
	routes  httpapi.Deps
}

// build constructs the realtime and resilience components and registers
// their background loops with d.tree.
func build(cfg config.Config, p config.Policies, d deps) (*app, error) {
	overrides := make(map[string]breaker.Settings, len(p.Breakers))
	for name, b := range p.Breakers {
		overrides[name] = breakerSettings(b)
	}
	breakers := breaker.NewGate(breakerSettings(p.Breaker), overrides, component(d.log, "breaker"))

	dir := services.NewDirectory(d.db, cache.New(d.rdb, breakers, component(d.log, "cache")), breakers, cfg.Realtime.DirectoryCacheTTL)

	rooms := realtime.NewBroadcaster()
	notifs := &services.NotificationService{
		DB:           d.db,
		Directory:    dir,
		Pusher:       rooms,
		Log:          component(d.log, "notifications"),
		PreviewRunes: previewRunes,
	}
	hub := realtime.NewHub(realtime.Config{
		IdleThreshold:      cfg.Realtime.IdleThreshold,
		PresenceSweepEvery: cfg.Realtime.PresenceSweepEvery,
		TypingTTL:          cfg.Realtime.TypingTTL,
		TypingSweepEvery:   cfg.Realtime.TypingSweepEvery,
	}, realtime.Deps{
		Rooms:    rooms,
		Graph:    dir,
		Members:  dir,
		Recorder: notifs,
		Logger:   component(d.log, "realtime"),
	})
	msgs := &services.MessageService{
		DB:             d.db,
		Sender:         hub,
		Directory:      dir,
		MaxBodyRunes:   maxMessageRunes,
		IdempotencyTTL: idempotencyTTL,
	}

	verifier, err := auth.NewVerifier(cfg.Auth)
	if err != nil {
		return nil, err
	}

	limiter, err := newLimiter(cfg, p, d)
	if err != nil {
		return nil, err
	}

	socket := ws.NewHandler(hub, verifier, ws.Options{
		SendBuffer:      cfg.Realtime.SendBuffer,
		EventsPerSecond: cfg.Realtime.EventsPerSecond,
		EventBurst:      cfg.Realtime.EventBurst,
		AllowedOrigins:  cfg.CORS.AllowedOrigins,
		Token:           auth.TokenFromRequest,
		Gate:            limiter,
		Logger:          component(d.log, "ws"),
	})

	d.tree.AddRealtime(hub)
	d.tree.AddRealtime(&supervisor.Periodic{
		Name:  "idempotency-janitor",
		Every: time.Hour,
		Run: func(ctx context.Context) {
			n, err := repo.PurgeExpiredIdempotency(ctx, d.db, time.Now().UTC())
			if err != nil {
				d.log.Warn().Err(err).Msg("purge idempotency records")
				return
			}
			if n > 0 {
				d.log.Debug().Int64("purged", n).Msg("expired idempotency records removed")
			}
		},
	})

	return &app{
		hub:     hub,
		limiter: limiter,
		routes: httpapi.Deps{
			DB:            d.db,
			Verifier:      verifier,
			Presence:      hub,
			Notifications: notifs,
			Messages:      msgs,
			Breakers:      breakers,
			Limiter:       limiter,
			Socket:        socket.Serve,
		},
	}, nil
}

// newLimiter returns nil when rate limiting is disabled. With Redis
// configured the shared store is fronted by the in-memory fallback and its
// recovery probe runs under the supervisor.
func newLimiter(cfg config.Config, p config.Policies, d deps) (*ratelimit.Gate, error) {
	if !cfg.RateLimit.Enabled {
		return nil, nil
	}
	log := component(d.log, "ratelimit")

	var store ratelimit.Store = ratelimit.NewMemoryStore()
	if d.rdb != nil {
		fb := ratelimit.NewFallbackStore(ratelimit.NewRedisStore(d.rdb, "rl"), store, cfg.RateLimit.ProbeInterval, log)
		d.tree.AddResilience(fb)
		store = fb
	}
	g, err := ratelimit.NewGate(store, limiterPolicies(p), ratelimit.WithLogger(log))
	if err != nil {
		return nil, fmt.Errorf("rate limiter: %w", err)
	}
	return g, nil
}

func limiterPolicies(p config.Policies) map[string]ratelimit.Policy {
	out := make(map[string]ratelimit.Policy, len(p.Limiters))
	for class, l := range p.Limiters {
		out[class] = ratelimit.Policy(l)
	}
	return out
}

func breakerSettings(b config.BreakerPolicy) breaker.Settings {
	return breaker.Settings(b)
}
