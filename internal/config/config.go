// Package config provides application configuration loaded from environment
// variables with defaults and validation. It centralizes server timeouts,
// logging, database and Redis settings, realtime tuning (presence idle
// threshold, typing TTL, sweep intervals, per-socket throttling), identity
// verification and observability.
//
// Resilience tuning (rate-limit classes and circuit-breaker thresholds) is
// loaded separately by LoadPolicies, which layers an optional YAML file over
// typed defaults.
package config

import (
	"errors"
	"os"
	"strconv"
	"strings"
	"time"
)

// CORSConfig defines Cross-Origin Resource Sharing settings.
type CORSConfig struct {
	AllowedOrigins []string
}

// SecurityConfig defines security-related settings such as HSTS.
type SecurityConfig struct {
	EnableHSTS bool
	HSTSMaxAge time.Duration
	AdminToken string // ADMIN_TOKEN; empty disables the breaker admin routes
}

// OTELConfig defines OpenTelemetry observability settings.
type OTELConfig struct {
	Enabled     bool    // OTEL_ENABLED
	Endpoint    string  // OTEL_EXPORTER_OTLP_ENDPOINT (e.g. "otel:4317")
	Insecure    bool    // OTEL_EXPORTER_OTLP_INSECURE (true if no TLS)
	ServiceName string  // OTEL_SERVICE_NAME (e.g. "gossip-backend")
	SampleRatio float64 // OTEL_TRACES_SAMPLER_ARG in [0..1]
}

// RedisConfig points at the shared store used by the rate limiter and cache.
// An empty Addr runs both on their in-process fallbacks only.
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

// AuthConfig configures bearer-token verification.
type AuthConfig struct {
	JWTSecret string
	JWTIssuer string // optional; checked when set
}

// RealtimeConfig tunes presence, typing and the socket transport.
type RealtimeConfig struct {
	IdleThreshold      time.Duration // online -> away after this much inactivity
	PresenceSweepEvery time.Duration
	TypingTTL          time.Duration
	TypingSweepEvery   time.Duration
	EventsPerSecond    float64 // per-socket inbound throttle
	EventBurst         int
	SendBuffer         int // per-connection outbound queue
	DirectoryCacheTTL  time.Duration
}

// RateLimitConfig toggles the gate and its backing store probe.
type RateLimitConfig struct {
	Enabled       bool
	ProbeInterval time.Duration
}

// Config holds all configuration values for the application.
type Config struct {
	// Server
	Port              string        // just the number
	ReadTimeout       time.Duration // e.g. 15s
	ReadHeaderTimeout time.Duration // e.g. 10s
	WriteTimeout      time.Duration // e.g. 20s
	IdleTimeout       time.Duration // e.g. 60s
	MaxHeaderBytes    int           // bytes
	GinMode           string        // debug|release|test

	// Logging
	LogLevel    string // debug|info|warn|error|fatal|panic
	LogPretty   bool   // pretty console logs in dev
	APIBasePath string // base path for API routes

	// Storage
	DBPath string // SQLite path
	Redis  RedisConfig

	Auth      AuthConfig
	Realtime  RealtimeConfig
	RateLimit RateLimitConfig

	// ResiliencePath is an optional YAML file with limiter/breaker overrides.
	ResiliencePath string

	// Web protection
	CORS     CORSConfig
	Security SecurityConfig

	// Observability
	OTEL OTELConfig
}

// MustLoad loads the configuration and panics if validation fails.
func MustLoad() Config {
	cfg, err := Load()
	if err != nil {
		panic(err)
	}
	return cfg
}

// Load reads configuration from environment variables,
// applies defaults, normalizes values, and validates the result.
func Load() (Config, error) {
	cfg := Config{
		// Server
		Port:              getenv("PORT", "8080"),
		ReadTimeout:       getdur("READ_TIMEOUT", 15*time.Second),
		ReadHeaderTimeout: getdur("READ_HEADER_TIMEOUT", 10*time.Second),
		WriteTimeout:      getdur("WRITE_TIMEOUT", 20*time.Second),
		IdleTimeout:       getdur("IDLE_TIMEOUT", 60*time.Second),
		MaxHeaderBytes:    getint("MAX_HEADER_BYTES", 1<<20),
		GinMode:           strings.ToLower(getenv("GIN_MODE", "release")),

		// Logging
		LogLevel:    strings.ToLower(getenv("LOG_LEVEL", "info")),
		LogPretty:   getbool("LOG_PRETTY", false),
		APIBasePath: normalizeBasePath(getenv("API_BASE_PATH", "/api/v1")),

		// Storage
		DBPath: getenv("DB_PATH", "gossip.db"),
		Redis: RedisConfig{
			Addr:     strings.TrimSpace(getenv("REDIS_ADDR", "")),
			Password: getenv("REDIS_PASSWORD", ""),
			DB:       getint("REDIS_DB", 0),
		},

		Auth: AuthConfig{
			JWTSecret: getenv("JWT_SECRET", ""),
			JWTIssuer: getenv("JWT_ISSUER", ""),
		},

		Realtime: RealtimeConfig{
			IdleThreshold:      getdur("PRESENCE_IDLE_THRESHOLD", 5*time.Minute),
			PresenceSweepEvery: getdur("PRESENCE_SWEEP_INTERVAL", 60*time.Second),
			TypingTTL:          getdur("TYPING_TTL", 10*time.Second),
			TypingSweepEvery:   getdur("TYPING_SWEEP_INTERVAL", 2*time.Second),
			EventsPerSecond:    getfloat("WS_EVENTS_PER_SECOND", 10),
			EventBurst:         getint("WS_EVENT_BURST", 20),
			SendBuffer:         getint("WS_SEND_BUFFER", 256),
			DirectoryCacheTTL:  getdur("DIRECTORY_CACHE_TTL", 60*time.Second),
		},

		RateLimit: RateLimitConfig{
			Enabled:       getbool("RATE_LIMIT_ENABLED", true),
			ProbeInterval: getdur("RATE_LIMIT_PROBE_INTERVAL", 5*time.Second),
		},

		ResiliencePath: getenv("RESILIENCE_CONFIG", ""),

		// Web protection
		CORS: CORSConfig{
			AllowedOrigins: splitCSV(getenv("CORS_ALLOWED_ORIGINS", "")),
		},
		Security: SecurityConfig{
			EnableHSTS: getbool("ENABLE_HSTS", false),
			HSTSMaxAge: getdur("HSTS_MAX_AGE", 180*24*time.Hour),
			AdminToken: getenv("ADMIN_TOKEN", ""),
		},

		// Observability (OpenTelemetry)
		OTEL: OTELConfig{
			Enabled:     getbool("OTEL_ENABLED", false),
			Endpoint:    getenv("OTEL_EXPORTER_OTLP_ENDPOINT", "localhost:4317"),
			Insecure:    getbool("OTEL_EXPORTER_OTLP_INSECURE", true),
			ServiceName: getenv("OTEL_SERVICE_NAME", "gossip-backend"),
			SampleRatio: getfloat("OTEL_TRACES_SAMPLER_ARG", 1.0),
		},
	}

	// --- normalization ---
	if cfg.LogLevel == "warning" {
		cfg.LogLevel = "warn"
	}
	switch cfg.GinMode {
	case "debug", "release", "test":
	default:
		cfg.GinMode = "release"
	}

	// --- validation ---
	switch cfg.LogLevel {
	case "debug", "info", "warn", "error", "fatal", "panic":
	default:
		return cfg, errors.New("LOG_LEVEL must be one of: debug, info, warn, error, fatal, panic")
	}
	if strings.TrimSpace(cfg.Port) == "" {
		return cfg, errors.New("PORT must not be empty")
	}
	if cfg.ReadTimeout <= 0 || cfg.ReadHeaderTimeout <= 0 || cfg.WriteTimeout <= 0 || cfg.IdleTimeout <= 0 {
		return cfg, errors.New("timeouts must be positive durations")
	}
	if cfg.MaxHeaderBytes <= 0 {
		return cfg, errors.New("MAX_HEADER_BYTES must be > 0")
	}
	if strings.TrimSpace(cfg.DBPath) == "" {
		return cfg, errors.New("DB_PATH must not be empty")
	}
	if cfg.Redis.DB < 0 {
		return cfg, errors.New("REDIS_DB must be >= 0")
	}
	if strings.TrimSpace(cfg.Auth.JWTSecret) == "" {
		return cfg, errors.New("JWT_SECRET must not be empty")
	}
	rt := cfg.Realtime
	if rt.IdleThreshold <= 0 || rt.PresenceSweepEvery <= 0 || rt.TypingTTL <= 0 || rt.TypingSweepEvery <= 0 {
		return cfg, errors.New("presence and typing durations must be positive")
	}
	if rt.EventsPerSecond <= 0 {
		return cfg, errors.New("WS_EVENTS_PER_SECOND must be > 0")
	}
	if rt.EventBurst < 1 {
		return cfg, errors.New("WS_EVENT_BURST must be >= 1")
	}
	if rt.SendBuffer < 1 {
		return cfg, errors.New("WS_SEND_BUFFER must be >= 1")
	}
	if rt.DirectoryCacheTTL < 0 {
		return cfg, errors.New("DIRECTORY_CACHE_TTL must be >= 0")
	}
	if cfg.RateLimit.ProbeInterval <= 0 {
		return cfg, errors.New("RATE_LIMIT_PROBE_INTERVAL must be > 0")
	}
	if cfg.Security.HSTSMaxAge < 0 {
		return cfg, errors.New("HSTS_MAX_AGE must be >= 0")
	}
	if cfg.OTEL.SampleRatio < 0 || cfg.OTEL.SampleRatio > 1 {
		return cfg, errors.New("OTEL_TRACES_SAMPLER_ARG must be in [0,1]")
	}

	return cfg, nil
}

// ---- helpers ----

func getenv(k, def string) string {
	if v, ok := os.LookupEnv(k); ok && v != "" {
		return v
	}
	return def
}

func getfloat(k string, def float64) float64 {
	if v, ok := os.LookupEnv(k); ok && v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return def
}

func getint(k string, def int) int {
	if v, ok := os.LookupEnv(k); ok && v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return def
}

func getbool(k string, def bool) bool {
	if v, ok := os.LookupEnv(k); ok && v != "" {
		switch strings.ToLower(strings.TrimSpace(v)) {
		case "1", "true", "yes", "y", "on":
			return true
		case "0", "false", "no", "n", "off":
			return false
		}
	}
	return def
}

func getdur(k string, def time.Duration) time.Duration {
	if v, ok := os.LookupEnv(k); ok && v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return def
}

func splitCSV(s string) []string {
	if s == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		t := strings.TrimSpace(p)
		if t != "" {
			out = append(out, t)
		}
	}
	return out
}

// normalizeBasePath ensures leading '/' and strips trailing '/' (except root).
func normalizeBasePath(p string) string {
	p = strings.TrimSpace(p)
	if p == "" {
		return "/"
	}
	if !strings.HasPrefix(p, "/") {
		p = "/" + p
	}
	if len(p) > 1 && strings.HasSuffix(p, "/") {
		p = strings.TrimRight(p, "/")
	}
	return p
}
