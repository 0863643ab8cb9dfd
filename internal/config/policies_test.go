package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func writeYAML(t *testing.T, body string) string {
	t.Helper()
	p := filepath.Join(t.TempDir(), "resilience.yaml")
	if err := os.WriteFile(p, []byte(body), 0o600); err != nil {
		t.Fatalf("write yaml: %v", err)
	}
	return p
}

func TestLoadPolicies_DefaultsWhenNoFile(t *testing.T) {
	p, err := LoadPolicies("")
	if err != nil {
		t.Fatalf("LoadPolicies: %v", err)
	}
	login, ok := p.Limiters[ClassLogin]
	if !ok {
		t.Fatalf("login class missing: %+v", p.Limiters)
	}
	if login.Points != 5 || login.Window != 15*time.Minute || login.Block != 30*time.Minute || !login.CredentialSensitive {
		t.Fatalf("login defaults unexpected: %+v", login)
	}
	if len(p.Limiters) != len(DefaultPolicies().Limiters) {
		t.Fatalf("expected %d classes, got %d", len(DefaultPolicies().Limiters), len(p.Limiters))
	}
	if p.Breaker.Timeout != 3*time.Second || p.Breaker.ResetTimeout != 30*time.Second ||
		p.Breaker.RollingWindow != 10*time.Second || p.Breaker.RollingBuckets != 10 ||
		p.Breaker.ErrorThresholdPercentage != 50 {
		t.Fatalf("breaker defaults unexpected: %+v", p.Breaker)
	}
}

func TestLoadPolicies_FileOverridesAreLayered(t *testing.T) {
	path := writeYAML(t, `
limiters:
  login:
    points: 10
  upload:
    points: 4
    window: 1m
    block: 30s
breaker:
  reset_timeout: 15s
breakers:
  cache-get:
    timeout: 250ms
`)
	p, err := LoadPolicies(path)
	if err != nil {
		t.Fatalf("LoadPolicies: %v", err)
	}
	login := p.Limiters[ClassLogin]
	if login.Points != 10 || login.Window != 15*time.Minute || !login.CredentialSensitive {
		t.Fatalf("login should keep unspecified defaults: %+v", login)
	}
	if up := p.Limiters["upload"]; up.Points != 4 || up.Window != time.Minute || up.Block != 30*time.Second {
		t.Fatalf("upload class unexpected: %+v", up)
	}
	if p.Breaker.ResetTimeout != 15*time.Second || p.Breaker.Timeout != 3*time.Second {
		t.Fatalf("breaker merge unexpected: %+v", p.Breaker)
	}
	cg := p.BreakerFor("cache-get")
	if cg.Timeout != 250*time.Millisecond || cg.ResetTimeout != 15*time.Second || cg.RollingBuckets != 10 {
		t.Fatalf("override should inherit defaults: %+v", cg)
	}
	if p.BreakerFor("other") != p.Breaker {
		t.Fatalf("unknown names should use the shared default")
	}
}

func TestLoadPolicies_Errors(t *testing.T) {
	if _, err := LoadPolicies(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Fatalf("expected error for missing file")
	}

	bad := writeYAML(t, "limiters:\n  login:\n    points: 0\n")
	_, err := LoadPolicies(bad)
	if err == nil || !strings.Contains(err.Error(), "invalid resilience config") {
		t.Fatalf("expected validation error, got %v", err)
	}

	thr := writeYAML(t, "breaker:\n  error_threshold_percentage: 150\n")
	if _, err := LoadPolicies(thr); err == nil {
		t.Fatalf("expected threshold validation error")
	}
}
