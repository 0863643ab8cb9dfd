package config

import (
	"os"
	"reflect"
	"strings"
	"testing"
	"time"
)

// --- MustLoad ---

func TestMustLoad_PanicsOnInvalidConfig(t *testing.T) {
	t.Setenv("JWT_SECRET", "s3cret")
	t.Setenv("LOG_LEVEL", "verbose") // invalid -> Load() error
	defer func() {
		if r := recover(); r == nil {
			t.Fatalf("MustLoad should panic on invalid config")
		}
	}()
	_ = MustLoad()
}

func TestMustLoad_Success_NoPanic(t *testing.T) {
	t.Setenv("JWT_SECRET", "s3cret")
	defer func() {
		if r := recover(); r != nil {
			t.Fatalf("MustLoad should not panic on valid defaults, got: %v", r)
		}
	}()
	cfg := MustLoad()
	if cfg.APIBasePath != "/api/v1" {
		t.Fatalf("API_BASE_PATH default expected '/api/v1', got %q", cfg.APIBasePath)
	}
	if cfg.Realtime.IdleThreshold != 5*time.Minute || cfg.Realtime.TypingTTL != 10*time.Second {
		t.Fatalf("realtime defaults unexpected: %+v", cfg.Realtime)
	}
	if !cfg.RateLimit.Enabled || cfg.Redis.Addr != "" {
		t.Fatalf("rate limit / redis defaults unexpected: %+v %+v", cfg.RateLimit, cfg.Redis)
	}
}

// --- Load success + normalization + parsing ---

func TestLoad_Success_DefaultsAndOverrides(t *testing.T) {
	// Server
	t.Setenv("PORT", "8088")
	t.Setenv("READ_TIMEOUT", "2s")
	t.Setenv("READ_HEADER_TIMEOUT", "1s")
	t.Setenv("WRITE_TIMEOUT", "3s")
	t.Setenv("IDLE_TIMEOUT", "4s")
	t.Setenv("MAX_HEADER_BYTES", "8192")
	t.Setenv("GIN_MODE", "weird") // will normalize to "release"

	// Logging
	t.Setenv("LOG_LEVEL", "warning") // will normalize to "warn"
	t.Setenv("LOG_PRETTY", "yes")
	t.Setenv("API_BASE_PATH", "api/v2/")

	// Storage
	t.Setenv("DB_PATH", "db.sqlite")
	t.Setenv("REDIS_ADDR", " localhost:6379 ")
	t.Setenv("REDIS_PASSWORD", "pw")
	t.Setenv("REDIS_DB", "2")

	// Auth
	t.Setenv("JWT_SECRET", "s3cret")
	t.Setenv("JWT_ISSUER", "gossip")

	// Realtime (bad parse falls back to default)
	t.Setenv("PRESENCE_IDLE_THRESHOLD", "2m")
	t.Setenv("PRESENCE_SWEEP_INTERVAL", "10s")
	t.Setenv("TYPING_TTL", "nope")
	t.Setenv("TYPING_SWEEP_INTERVAL", "500ms")
	t.Setenv("WS_EVENTS_PER_SECOND", "4.5")
	t.Setenv("WS_EVENT_BURST", "9")
	t.Setenv("WS_SEND_BUFFER", "32")
	t.Setenv("DIRECTORY_CACHE_TTL", "0s")

	t.Setenv("RATE_LIMIT_ENABLED", "off")
	t.Setenv("RATE_LIMIT_PROBE_INTERVAL", "1s")
	t.Setenv("RESILIENCE_CONFIG", "resilience.yaml")

	// Web protection
	t.Setenv("CORS_ALLOWED_ORIGINS", " https://a.com , , http://b ")
	t.Setenv("ENABLE_HSTS", "TRUE")
	t.Setenv("HSTS_MAX_AGE", "24h")
	t.Setenv("ADMIN_TOKEN", "adm")

	// OTEL
	t.Setenv("OTEL_ENABLED", "1")
	t.Setenv("OTEL_EXPORTER_OTLP_ENDPOINT", "otel:4317")
	t.Setenv("OTEL_EXPORTER_OTLP_INSECURE", "0")
	t.Setenv("OTEL_SERVICE_NAME", "svc")
	t.Setenv("OTEL_TRACES_SAMPLER_ARG", "0.75")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}

	if cfg.Port != "8088" ||
		cfg.ReadTimeout != 2*time.Second ||
		cfg.ReadHeaderTimeout != 1*time.Second ||
		cfg.WriteTimeout != 3*time.Second ||
		cfg.IdleTimeout != 4*time.Second ||
		cfg.MaxHeaderBytes != 8192 ||
		cfg.GinMode != "release" {
		t.Fatalf("server fields unexpected: %+v", cfg)
	}
	if cfg.LogLevel != "warn" || !cfg.LogPretty || cfg.APIBasePath != "/api/v2" {
		t.Fatalf("logging unexpected: %+v", cfg)
	}
	if cfg.DBPath != "db.sqlite" || cfg.Redis != (RedisConfig{Addr: "localhost:6379", Password: "pw", DB: 2}) {
		t.Fatalf("storage unexpected: %+v", cfg.Redis)
	}
	if cfg.Auth.JWTSecret != "s3cret" || cfg.Auth.JWTIssuer != "gossip" {
		t.Fatalf("auth unexpected: %+v", cfg.Auth)
	}
	want := RealtimeConfig{
		IdleThreshold:      2 * time.Minute,
		PresenceSweepEvery: 10 * time.Second,
		TypingTTL:          10 * time.Second,
		TypingSweepEvery:   500 * time.Millisecond,
		EventsPerSecond:    4.5,
		EventBurst:         9,
		SendBuffer:         32,
		DirectoryCacheTTL:  0,
	}
	if cfg.Realtime != want {
		t.Fatalf("realtime unexpected:\n got %+v\nwant %+v", cfg.Realtime, want)
	}
	if cfg.RateLimit.Enabled || cfg.RateLimit.ProbeInterval != time.Second || cfg.ResiliencePath != "resilience.yaml" {
		t.Fatalf("rate limit unexpected: %+v %q", cfg.RateLimit, cfg.ResiliencePath)
	}
	if !reflect.DeepEqual(cfg.CORS.AllowedOrigins, []string{"https://a.com", "http://b"}) {
		t.Fatalf("cors origins unexpected: %#v", cfg.CORS.AllowedOrigins)
	}
	if !cfg.Security.EnableHSTS || cfg.Security.HSTSMaxAge != 24*time.Hour || cfg.Security.AdminToken != "adm" {
		t.Fatalf("security unexpected: %+v", cfg.Security)
	}
	if !cfg.OTEL.Enabled || cfg.OTEL.Endpoint != "otel:4317" || cfg.OTEL.Insecure || cfg.OTEL.ServiceName != "svc" || cfg.OTEL.SampleRatio != 0.75 {
		t.Fatalf("otel unexpected: %+v", cfg.OTEL)
	}
}

// --- Load validations (each case triggers exactly one validation error) ---

func TestLoad_ValidationErrors(t *testing.T) {
	cases := []struct {
		name, key, val, want string
	}{
		{"invalid LOG_LEVEL", "LOG_LEVEL", "verbose", "LOG_LEVEL"},
		{"empty PORT via spaces", "PORT", "   ", "PORT must not be empty"},
		{"non-positive timeouts", "READ_TIMEOUT", "0s", "timeouts must be positive"},
		{"max header bytes <= 0", "MAX_HEADER_BYTES", "0", "MAX_HEADER_BYTES"},
		{"empty DB_PATH", "DB_PATH", "   ", "DB_PATH must not be empty"},
		{"negative REDIS_DB", "REDIS_DB", "-1", "REDIS_DB"},
		{"empty JWT_SECRET", "JWT_SECRET", "  ", "JWT_SECRET"},
		{"zero idle threshold", "PRESENCE_IDLE_THRESHOLD", "0s", "presence and typing durations"},
		{"zero typing ttl", "TYPING_TTL", "0s", "presence and typing durations"},
		{"zero events per second", "WS_EVENTS_PER_SECOND", "0", "WS_EVENTS_PER_SECOND"},
		{"event burst < 1", "WS_EVENT_BURST", "0", "WS_EVENT_BURST"},
		{"send buffer < 1", "WS_SEND_BUFFER", "0", "WS_SEND_BUFFER"},
		{"negative cache ttl", "DIRECTORY_CACHE_TTL", "-1s", "DIRECTORY_CACHE_TTL"},
		{"zero probe interval", "RATE_LIMIT_PROBE_INTERVAL", "0s", "RATE_LIMIT_PROBE_INTERVAL"},
		{"hsts max age negative", "HSTS_MAX_AGE", "-1s", "HSTS_MAX_AGE"},
		{"otel sample ratio out of range", "OTEL_TRACES_SAMPLER_ARG", "1.5", "OTEL_TRACES_SAMPLER_ARG"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t.Setenv("JWT_SECRET", "s3cret")
			t.Setenv(tc.key, tc.val)
			if _, err := Load(); err == nil || !containsErr(err, tc.want) {
				t.Fatalf("expected %q validation error, got: %v", tc.want, err)
			}
		})
	}
}

// --- helpers ---

func TestHelpers_getenv(t *testing.T) {
	t.Setenv("X_EMPTY", "")
	if getenv("X_EMPTY", "d") != "d" {
		t.Fatalf("getenv should fall back to default on empty var")
	}
	t.Setenv("X_SET", "val")
	if getenv("X_SET", "d") != "val" {
		t.Fatalf("getenv should read set value")
	}
}

func TestHelpers_getfloat_getint_getdur(t *testing.T) {
	t.Setenv("F_VALID", "3.14")
	if getfloat("F_VALID", 0) != 3.14 {
		t.Fatalf("getfloat parse failed")
	}
	t.Setenv("F_BAD", "nope")
	if getfloat("F_BAD", 1.23) != 1.23 {
		t.Fatalf("getfloat default on bad parse failed")
	}

	t.Setenv("I_VALID", "42")
	if getint("I_VALID", 0) != 42 {
		t.Fatalf("getint parse failed")
	}
	t.Setenv("I_BAD", "x")
	if getint("I_BAD", 7) != 7 {
		t.Fatalf("getint default on bad parse failed")
	}

	t.Setenv("D_VALID", "150ms")
	if getdur("D_VALID", time.Second) != 150*time.Millisecond {
		t.Fatalf("getdur parse failed")
	}
	t.Setenv("D_BAD", "zzz")
	if getdur("D_BAD", 2*time.Second) != 2*time.Second {
		t.Fatalf("getdur default on bad parse failed")
	}
}

func TestHelpers_getbool(t *testing.T) {
	for i, v := range []string{"1", "true", "TRUE", " yes ", "Y", "on", "On"} {
		k := "B_T_" + string(rune('a'+i))
		t.Setenv(k, v)
		if !getbool(k, false) {
			t.Fatalf("getbool(%q) = false; want true", v)
		}
	}
	for i, v := range []string{"0", "false", "FALSE", " no ", "N", "off", "Off"} {
		k := "B_F_" + string(rune('a'+i))
		t.Setenv(k, v)
		if getbool(k, true) {
			t.Fatalf("getbool(%q) = true; want false", v)
		}
	}
	t.Setenv("B_EMPTY", "")
	if !getbool("B_EMPTY", true) || getbool("B_EMPTY", false) {
		t.Fatalf("getbool default behavior unexpected")
	}
}

func TestHelpers_splitCSV_and_normalizeBasePath(t *testing.T) {
	if out := splitCSV(""); out != nil {
		t.Fatalf("splitCSV empty should return nil")
	}
	want := []string{"a", "b", "c"}
	if got := splitCSV(" a, ,b ,  c  ,"); !reflect.DeepEqual(got, want) {
		t.Fatalf("splitCSV mismatch: got %#v want %#v", got, want)
	}

	if normalizeBasePath("") != "/" {
		t.Fatalf("normalizeBasePath empty -> '/' failed")
	}
	if normalizeBasePath("v1") != "/v1" {
		t.Fatalf("normalizeBasePath missing leading slash failed")
	}
	if normalizeBasePath("/v1/") != "/v1" {
		t.Fatalf("normalizeBasePath trailing slash trim failed")
	}
	if normalizeBasePath(" / ") != "/" {
		t.Fatalf("normalizeBasePath whitespace failed")
	}
}

func TestMain(m *testing.M) {
	os.Unsetenv("PORT")
	os.Unsetenv("JWT_SECRET")
	os.Exit(m.Run())
}

// containsErr reports whether err's message contains the given substring.
func containsErr(err error, want string) bool {
	if err == nil {
		return false
	}
	return strings.Contains(err.Error(), want)
}
