package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/structs"
	"github.com/knadh/koanf/v2"
)

// LimiterPolicy is the quota for one rate-limit class. Its field set matches
// ratelimit.Policy so the two convert directly.
type LimiterPolicy struct {
	Points              int           `koanf:"points" validate:"min=1"`
	Window              time.Duration `koanf:"window" validate:"gt=0"`
	Block               time.Duration `koanf:"block" validate:"gte=0"`
	CredentialSensitive bool          `koanf:"credential_sensitive"`
}

// BreakerPolicy tunes one circuit breaker. Its field set matches
// breaker.Settings so the two convert directly.
type BreakerPolicy struct {
	Timeout                  time.Duration `koanf:"timeout" validate:"gt=0"`
	ResetTimeout             time.Duration `koanf:"reset_timeout" validate:"gt=0"`
	RollingWindow            time.Duration `koanf:"rolling_window" validate:"gt=0"`
	RollingBuckets           int           `koanf:"rolling_buckets" validate:"min=1"`
	ErrorThresholdPercentage float64       `koanf:"error_threshold_percentage" validate:"gt=0,lte=100"`
	VolumeThreshold          uint32        `koanf:"volume_threshold"`
}

// Policies is the full resilience tuning table enumerated at startup.
type Policies struct {
	Limiters map[string]LimiterPolicy `koanf:"limiters" validate:"required,dive"`
	Breaker  BreakerPolicy            `koanf:"breaker"`
	// Breakers overrides Breaker per dependency name (e.g. "cache-get").
	Breakers map[string]BreakerPolicy `koanf:"breakers" validate:"dive"`
}

// Rate-limit class names used by the HTTP and socket layers.
const (
	ClassAPI           = "api"
	ClassAuth          = "auth"
	ClassLogin         = "login"
	ClassPasswordReset = "password-reset"
	ClassRegistration  = "registration"
	ClassPost          = "post"
	ClassComment       = "comment"
	ClassLike          = "like"
	ClassMessage       = "message"
	ClassConnect       = "connect"
)

// DefaultPolicies returns the built-in limiter classes and breaker defaults.
func DefaultPolicies() Policies {
	return Policies{
		Limiters: map[string]LimiterPolicy{
			ClassAPI:           {Points: 100, Window: time.Minute, Block: time.Minute},
			ClassAuth:          {Points: 20, Window: time.Hour, Block: 10 * time.Minute},
			ClassLogin:         {Points: 5, Window: 15 * time.Minute, Block: 30 * time.Minute, CredentialSensitive: true},
			ClassPasswordReset: {Points: 3, Window: time.Hour, Block: time.Hour, CredentialSensitive: true},
			ClassRegistration:  {Points: 3, Window: 24 * time.Hour, Block: 12 * time.Hour},
			ClassPost:          {Points: 30, Window: time.Hour, Block: 5 * time.Minute},
			ClassComment:       {Points: 60, Window: time.Hour, Block: 5 * time.Minute},
			ClassLike:          {Points: 100, Window: time.Hour, Block: 2 * time.Minute},
			ClassMessage:       {Points: 60, Window: time.Minute, Block: time.Minute},
			ClassConnect:       {Points: 30, Window: time.Minute, Block: 5 * time.Minute},
		},
		Breaker: BreakerPolicy{
			Timeout:                  3 * time.Second,
			ResetTimeout:             30 * time.Second,
			RollingWindow:            10 * time.Second,
			RollingBuckets:           10,
			ErrorThresholdPercentage: 50,
		},
		Breakers: map[string]BreakerPolicy{},
	}
}

// BreakerFor returns the override for name, or the shared default.
func (p Policies) BreakerFor(name string) BreakerPolicy {
	if b, ok := p.Breakers[name]; ok {
		return b
	}
	return p.Breaker
}

// LoadPolicies layers the optional YAML file at path over DefaultPolicies and
// validates the result. An empty path yields the defaults.
//
// Example file:
//
//	limiters:
//	  login:
//	    points: 10
//	breaker:
//	  reset_timeout: 15s
func LoadPolicies(path string) (Policies, error) {
	k := koanf.New(".")

	if err := k.Load(structs.Provider(DefaultPolicies(), "koanf"), nil); err != nil {
		return Policies{}, fmt.Errorf("load policy defaults: %w", err)
	}

	path = strings.TrimSpace(path)
	if path != "" {
		if _, err := os.Stat(path); err != nil {
			return Policies{}, fmt.Errorf("resilience config %s: %w", path, err)
		}
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return Policies{}, fmt.Errorf("load resilience config %s: %w", path, err)
		}
	}

	var out Policies
	if err := k.UnmarshalWithConf("", &out, koanf.UnmarshalConf{Tag: "koanf"}); err != nil {
		return Policies{}, fmt.Errorf("unmarshal policies: %w", err)
	}
	if out.Breakers == nil {
		out.Breakers = map[string]BreakerPolicy{}
	}
	// Per-dependency overrides inherit unset fields from the shared default.
	for name, b := range out.Breakers {
		out.Breakers[name] = mergeBreaker(out.Breaker, b)
	}

	if err := validator.New(validator.WithRequiredStructEnabled()).Struct(out); err != nil {
		return Policies{}, fmt.Errorf("invalid resilience config: %w", err)
	}
	return out, nil
}

func mergeBreaker(base, o BreakerPolicy) BreakerPolicy {
	if o.Timeout > 0 {
		base.Timeout = o.Timeout
	}
	if o.ResetTimeout > 0 {
		base.ResetTimeout = o.ResetTimeout
	}
	if o.RollingWindow > 0 {
		base.RollingWindow = o.RollingWindow
	}
	if o.RollingBuckets > 0 {
		base.RollingBuckets = o.RollingBuckets
	}
	if o.ErrorThresholdPercentage > 0 {
		base.ErrorThresholdPercentage = o.ErrorThresholdPercentage
	}
	if o.VolumeThreshold > 0 {
		base.VolumeThreshold = o.VolumeThreshold
	}
	return base
}
