// Package ratelimit implements the fixed-window, block-on-exhaustion rate
// limiter that guards every inbound API request and socket handshake.
//
// Each limiter class (login, api, message, ...) is configured with a Policy:
// Points consumptions are admitted per Window; the consumption that exceeds
// Points blocks the key for Block, during which every attempt is rejected even
// if the window itself has rolled over.
//
// Behavior:
//   - Accounting lives in a Store. RedisStore shares counters across
//     processes; MemoryStore keeps them process-local. FallbackStore wraps the
//     two and switches to the local store while the shared one is unreachable.
//   - Gate.Consume returns a Result (limit, remaining, reset time) for response
//     headers, or an *ExceededError carrying the retry-after duration.
//   - Rejections are counted per class. Rejections on credential-sensitive
//     classes (login, password reset) are logged at warn level as security
//     events; everything else logs at debug.
package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sort"
	"time"

	"github.com/rs/zerolog"
)

var (
	// ErrLimited is matched by every *ExceededError via errors.Is.
	ErrLimited = errors.New("rate limit exceeded")
	// ErrUnknownClass is returned for a class that was not configured.
	ErrUnknownClass = errors.New("unknown rate limit class")
	// ErrStoreUnavailable wraps backing store failures. FallbackStore absorbs
	// it; it never reaches callers of a Gate built on one.
	ErrStoreUnavailable = errors.New("rate limit store unavailable")
)

// Policy is the quota for one limiter class.
type Policy struct {
	Points              int
	Window              time.Duration
	Block               time.Duration
	CredentialSensitive bool
}

// Usage is what a Store reports for one consumption.
type Usage struct {
	Consumed int           // points consumed in the current window, this one included
	ResetIn  time.Duration // until the window resets, or until the block lifts
	Blocked  bool          // the consumption was rejected
}

// Store performs atomic consume-with-expiry accounting.
type Store interface {
	Consume(ctx context.Context, key string, p Policy, now time.Time) (Usage, error)
	Ping(ctx context.Context) error
}

// Result describes an admitted consumption.
type Result struct {
	Limit     int
	Remaining int
	ResetAt   time.Time
}

// ExceededError is returned when a key is over quota or blocked.
type ExceededError struct {
	Class      string
	RetryAfter time.Duration
	ResetAt    time.Time
	Limit      int
}

func (e *ExceededError) Error() string {
	return fmt.Sprintf("rate limit exceeded for %s: retry after %ds", e.Class, e.RetryAfterSeconds())
}

// Is makes errors.Is(err, ErrLimited) hold.
func (e *ExceededError) Is(target error) bool { return target == ErrLimited }

// RetryAfterSeconds rounds the retry-after duration up to whole seconds, with
// a floor of one so clients never get a zero hint.
func (e *ExceededError) RetryAfterSeconds() int {
	s := int(math.Ceil(e.RetryAfter.Seconds()))
	if s < 1 {
		return 1
	}
	return s
}

// Gate applies per-class policies against a Store.
type Gate struct {
	store    Store
	policies map[string]Policy
	log      zerolog.Logger
	now      func() time.Time
}

// Option customizes a Gate.
type Option func(*Gate)

// WithClock overrides the time source (tests).
func WithClock(now func() time.Time) Option {
	return func(g *Gate) { g.now = now }
}

// WithLogger sets the logger used for block events.
func WithLogger(l zerolog.Logger) Option {
	return func(g *Gate) { g.log = l }
}

// NewGate validates policies and returns a Gate backed by store.
func NewGate(store Store, policies map[string]Policy, opts ...Option) (*Gate, error) {
	if store == nil {
		return nil, errors.New("ratelimit: nil store")
	}
	cp := make(map[string]Policy, len(policies))
	for class, p := range policies {
		if p.Points < 1 || p.Window <= 0 || p.Block < 0 {
			return nil, fmt.Errorf("ratelimit: invalid policy for class %q", class)
		}
		cp[class] = p
	}
	g := &Gate{
		store:    store,
		policies: cp,
		log:      zerolog.Nop(),
		now:      time.Now,
	}
	for _, o := range opts {
		o(g)
	}
	return g, nil
}

// Policy returns the configured policy for class.
func (g *Gate) Policy(class string) (Policy, bool) {
	p, ok := g.policies[class]
	return p, ok
}

// Degraded reports whether the gate is counting locally because its shared
// store is unavailable. Only a FallbackStore can degrade.
func (g *Gate) Degraded() bool {
	d, ok := g.store.(interface{ Degraded() bool })
	return ok && d.Degraded()
}

// Classes lists configured classes in sorted order.
func (g *Gate) Classes() []string {
	out := make([]string, 0, len(g.policies))
	for c := range g.policies {
		out = append(out, c)
	}
	sort.Strings(out)
	return out
}

// Consume charges one point to key under class.
func (g *Gate) Consume(ctx context.Context, class, key string) (Result, error) {
	p, ok := g.policies[class]
	if !ok {
		return Result{}, fmt.Errorf("%w: %s", ErrUnknownClass, class)
	}
	now := g.now()
	u, err := g.store.Consume(ctx, class+":"+key, p, now)
	if err != nil {
		return Result{}, err
	}

	resetAt := now.Add(u.ResetIn)
	if u.Blocked || u.Consumed > p.Points {
		exc := &ExceededError{Class: class, RetryAfter: u.ResetIn, ResetAt: resetAt, Limit: p.Points}
		rejections.WithLabelValues(class).Inc()
		ev := g.log.Debug()
		if p.CredentialSensitive {
			ev = g.log.Warn().Bool("security", true)
		}
		ev.Str("class", class).
			Str("key", key).
			Int("retry_after_s", exc.RetryAfterSeconds()).
			Msg("rate limit block")
		return Result{}, exc
	}

	remaining := p.Points - u.Consumed
	if remaining < 0 {
		remaining = 0
	}
	return Result{Limit: p.Points, Remaining: remaining, ResetAt: resetAt}, nil
}
