// Package breaker guards calls to external dependencies (Redis cache, future
// network calls) with per-dependency circuit breakers built on
// sony/gobreaker.
//
// Behavior:
//   - closed -> open when the failure percentage over the rolling window
//     reaches ErrorThresholdPercentage (after VolumeThreshold completed calls).
//   - open -> half-open once ResetTimeout has elapsed.
//   - half-open admits exactly one probe. Concurrent callers are short
//     circuited while it is in flight. A successful probe closes the circuit,
//     a failed one re-opens it.
//   - Calls that exceed Timeout count as failures even if they later succeed.
//   - Caller cancellation (context.Canceled) is neither success nor failure.
//
// While a circuit is open the wrapped function is never invoked: Do runs the
// fallback if one is given, or fails fast with ErrCircuitOpen. Every state
// transition is logged and exported as Prometheus metrics.
package breaker

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog"
	gobreaker "github.com/sony/gobreaker/v2"
)

var (
	// ErrCircuitOpen is returned when a call was short-circuited.
	ErrCircuitOpen = errors.New("circuit open")
	// ErrTimeout is returned when a call exceeded its timeout.
	ErrTimeout = errors.New("circuit breaker call timed out")
)

// Settings tunes one breaker.
type Settings struct {
	Timeout                  time.Duration
	ResetTimeout             time.Duration
	RollingWindow            time.Duration
	RollingBuckets           int
	ErrorThresholdPercentage float64
	VolumeThreshold          uint32
}

// DefaultSettings returns 3s call timeout, 50% threshold, 30s reset and a
// 10s window in 10 buckets.
func DefaultSettings() Settings {
	return Settings{
		Timeout:                  3 * time.Second,
		ResetTimeout:             30 * time.Second,
		RollingWindow:            10 * time.Second,
		RollingBuckets:           10,
		ErrorThresholdPercentage: 50,
	}
}

// State is a breaker state name.
type State string

const (
	StateClosed   State = "closed"
	StateHalfOpen State = "half-open"
	StateOpen     State = "open"
)

// Status is a point-in-time view of one breaker.
type Status struct {
	Name                string   `json:"name"`
	State               State    `json:"state"`
	Requests            uint32   `json:"requests"`
	Successes           uint32   `json:"successes"`
	Failures            uint32   `json:"failures"`
	ConsecutiveFailures uint32   `json:"consecutive_failures"`
	Settings            Settings `json:"-"`
}

type entry struct {
	cb       *gobreaker.CircuitBreaker[any]
	settings Settings
}

// Gate owns the breakers for every dependency name. Breakers are created on
// first use.
type Gate struct {
	mu        sync.Mutex
	breakers  map[string]*entry
	defaults  Settings
	overrides map[string]Settings
	log       zerolog.Logger
}

// NewGate returns a Gate using defaults for any name without an override.
func NewGate(defaults Settings, overrides map[string]Settings, log zerolog.Logger) *Gate {
	ov := make(map[string]Settings, len(overrides))
	for k, v := range overrides {
		ov[k] = v
	}
	return &Gate{
		breakers:  make(map[string]*entry),
		defaults:  defaults,
		overrides: ov,
		log:       log,
	}
}

func (g *Gate) settingsFor(name string) Settings {
	if s, ok := g.overrides[name]; ok {
		return s
	}
	return g.defaults
}

func (g *Gate) get(name string) *entry {
	g.mu.Lock()
	defer g.mu.Unlock()
	e, ok := g.breakers[name]
	if !ok {
		e = g.newEntry(name)
		g.breakers[name] = e
	}
	return e
}

func (g *Gate) newEntry(name string) *entry {
	s := g.settingsFor(name)
	buckets := s.RollingBuckets
	if buckets < 1 {
		buckets = 1
	}
	st := gobreaker.Settings{
		Name:         name,
		MaxRequests:  1,
		Interval:     s.RollingWindow,
		BucketPeriod: s.RollingWindow / time.Duration(buckets),
		Timeout:      s.ResetTimeout,
		ReadyToTrip: func(c gobreaker.Counts) bool {
			completed := c.TotalSuccesses + c.TotalFailures
			if completed == 0 || completed < s.VolumeThreshold {
				return false
			}
			return float64(c.TotalFailures)*100/float64(completed) >= s.ErrorThresholdPercentage
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			ev := g.log.Info()
			if to == gobreaker.StateOpen {
				ev = g.log.Warn()
			}
			ev.Str("breaker", name).Str("from", from.String()).Str("to", to.String()).Msg("circuit breaker state change")
			stateGauge.WithLabelValues(name).Set(stateValue(to))
			transitions.WithLabelValues(name, from.String(), to.String()).Inc()
		},
		IsExcluded: func(err error) bool {
			return errors.Is(err, context.Canceled)
		},
	}
	stateGauge.WithLabelValues(name).Set(stateValue(gobreaker.StateClosed))
	return &entry{cb: gobreaker.NewCircuitBreaker[any](st), settings: s}
}

// Do runs fn through the breaker named name. On any failure (open circuit,
// probe already in flight, error or timeout) fallback is invoked with the
// cause if non-nil; otherwise the cause is returned. Short-circuited calls
// surface as ErrCircuitOpen.
func Do[T any](ctx context.Context, g *Gate, name string, fn func(context.Context) (T, error), fallback func(error) (T, error)) (T, error) {
	e := g.get(name)

	v, err := e.cb.Execute(func() (any, error) {
		return callWithTimeout(ctx, e.settings.Timeout, fn)
	})
	if err == nil {
		requests.WithLabelValues(name, "success").Inc()
		out, _ := v.(T)
		return out, nil
	}

	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		requests.WithLabelValues(name, "rejected").Inc()
		err = fmt.Errorf("%w: %s", ErrCircuitOpen, name)
	} else {
		requests.WithLabelValues(name, "failure").Inc()
	}

	if fallback != nil {
		g.log.Debug().Str("breaker", name).Err(err).Msg("circuit breaker fallback")
		return fallback(err)
	}
	var zero T
	return zero, err
}

// callWithTimeout runs fn with a deadline. A result arriving after the
// deadline is discarded and the call reported as ErrTimeout.
func callWithTimeout[T any](ctx context.Context, d time.Duration, fn func(context.Context) (T, error)) (any, error) {
	if d <= 0 {
		return fn(ctx)
	}
	cctx, cancel := context.WithTimeout(ctx, d)
	defer cancel()

	type result struct {
		v   T
		err error
	}
	ch := make(chan result, 1)
	go func() {
		v, err := fn(cctx)
		ch <- result{v, err}
	}()

	select {
	case r := <-ch:
		return r.v, r.err
	case <-cctx.Done():
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		return nil, fmt.Errorf("%w after %s", ErrTimeout, d)
	}
}

// Status reports the named breaker, if it has been used.
func (g *Gate) Status(name string) (Status, bool) {
	g.mu.Lock()
	e, ok := g.breakers[name]
	g.mu.Unlock()
	if !ok {
		return Status{}, false
	}
	return e.status(), true
}

// Statuses reports every breaker sorted by name.
func (g *Gate) Statuses() []Status {
	g.mu.Lock()
	entries := make([]*entry, 0, len(g.breakers))
	for _, e := range g.breakers {
		entries = append(entries, e)
	}
	g.mu.Unlock()

	out := make([]Status, 0, len(entries))
	for _, e := range entries {
		out = append(out, e.status())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Reset replaces the named breaker with a fresh closed one. It reports
// whether the breaker existed.
func (g *Gate) Reset(name string) bool {
	g.mu.Lock()
	old, ok := g.breakers[name]
	if ok {
		g.breakers[name] = g.newEntry(name)
	}
	g.mu.Unlock()
	if !ok {
		return false
	}
	g.log.Info().Str("breaker", name).Str("from", old.cb.State().String()).Msg("circuit breaker reset")
	return true
}

func (e *entry) status() Status {
	// State() first: it applies any pending open -> half-open transition.
	st := e.cb.State()
	c := e.cb.Counts()
	return Status{
		Name:                e.cb.Name(),
		State:               State(st.String()),
		Requests:            c.Requests,
		Successes:           c.TotalSuccesses,
		Failures:            c.TotalFailures,
		ConsecutiveFailures: c.ConsecutiveFailures,
		Settings:            e.settings,
	}
}

func stateValue(s gobreaker.State) float64 {
	switch s {
	case gobreaker.StateClosed:
		return 0
	case gobreaker.StateHalfOpen:
		return 1
	case gobreaker.StateOpen:
		return 2
	default:
		return -1
	}
}
