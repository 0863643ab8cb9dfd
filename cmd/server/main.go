// Command server runs the gossip realtime backend: the WebSocket hub, the
// REST API and the background sweeps, all under one supervisor tree.
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/tbourn/gossip-backend/internal/config"
	httpapi "github.com/tbourn/gossip-backend/internal/http"
	"github.com/tbourn/gossip-backend/internal/observability"
	"github.com/tbourn/gossip-backend/internal/repo"
	"github.com/tbourn/gossip-backend/internal/supervisor"
	"github.com/tbourn/gossip-backend/internal/sysutil"
)

// version is set at build time with -ldflags "-X main.version=...".
var version = "dev"

func main() {
	// .env is optional; real environment wins.
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("invalid configuration")
	}
	logger := sysutil.SetupLogger(os.Stdout, cfg.LogLevel, cfg.LogPretty)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger); err != nil {
		logger.Fatal().Err(err).Msg("server stopped")
	}
	logger.Info().Msg("server stopped")
}

func run(ctx context.Context, cfg config.Config, logger zerolog.Logger) error {
	policies, err := config.LoadPolicies(cfg.ResiliencePath)
	if err != nil {
		return err
	}

	shutdownTracing, err := observability.SetupOTel(ctx, cfg.OTEL, version, logger)
	if err != nil {
		return err
	}
	defer func() {
		sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownTracing(sctx); err != nil {
			logger.Warn().Err(err).Msg("tracer shutdown")
		}
	}()

	db, err := repo.OpenSQLite(cfg.DBPath)
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	if err := repo.AutoMigrate(db); err != nil {
		return fmt.Errorf("migrate: %w", err)
	}

	var rdb redis.UniversalClient
	if cfg.Redis.Addr != "" {
		rdb = redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		defer rdb.Close()
	}

	tree := supervisor.NewTree(component(logger, "supervisor"), supervisor.TreeConfig{ShutdownTimeout: 15 * time.Second})

	app, err := build(cfg, policies, deps{db: db, rdb: rdb, log: logger, tree: tree})
	if err != nil {
		return err
	}

	gin.SetMode(cfg.GinMode)
	r := gin.New()
	httpapi.RegisterRoutes(r, cfg, app.routes)

	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           r,
		ReadTimeout:       cfg.ReadTimeout,
		ReadHeaderTimeout: cfg.ReadHeaderTimeout,
		WriteTimeout:      cfg.WriteTimeout,
		IdleTimeout:       cfg.IdleTimeout,
		MaxHeaderBytes:    cfg.MaxHeaderBytes,
	}
	tree.AddAPI(supervisor.NewHTTPService(srv, 10*time.Second))

	observability.RecordStart(version, time.Now())
	logger.Info().
		Str("addr", srv.Addr).
		Str("version", version).
		Bool("redis", rdb != nil).
		Bool("rate_limit", cfg.RateLimit.Enabled).
		Msg("server starting")

	if err := tree.Serve(ctx); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	if report, err := tree.UnstoppedServiceReport(); err == nil && len(report) > 0 {
		logger.Warn().Int("services", len(report)).Msg("services did not stop in time")
	}
	return nil
}

func component(l zerolog.Logger, name string) zerolog.Logger {
	return l.With().Str("component", name).Logger()
}
