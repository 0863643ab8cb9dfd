package ratelimit

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
)

// FallbackStore routes consumption to a shared primary store and, while the
// primary is failing, to a process-local store with the same semantics.
//
// Behavior:
//   - The first primary failure flips the store into degraded mode and logs
//     once. Requests never see the failure. Errors seen after the caller's
//     context ended do not count as failures.
//   - While degraded, the primary is not consulted per request. Probe (driven
//     by Serve) pings it and flips back on success, logging once.
//   - Limits become per-process during an outage.
type FallbackStore struct {
	primary    Store
	local      Store
	degraded   atomic.Bool
	log        zerolog.Logger
	probeEvery time.Duration
}

// NewFallbackStore wraps primary with local. probeEvery <= 0 defaults to 5s.
func NewFallbackStore(primary, local Store, probeEvery time.Duration, log zerolog.Logger) *FallbackStore {
	if probeEvery <= 0 {
		probeEvery = 5 * time.Second
	}
	storeFallback.Set(0)
	return &FallbackStore{primary: primary, local: local, log: log, probeEvery: probeEvery}
}

// Consume implements Store.
func (f *FallbackStore) Consume(ctx context.Context, key string, p Policy, now time.Time) (Usage, error) {
	if !f.degraded.Load() {
		u, err := f.primary.Consume(ctx, key, p, now)
		if err == nil {
			return u, nil
		}
		if ctx.Err() != nil {
			// the caller gave up; say nothing about the primary's health
			return f.local.Consume(ctx, key, p, now)
		}
		f.degrade(err)
	}
	return f.local.Consume(ctx, key, p, now)
}

// Ping implements Store. The local side is always reachable.
func (f *FallbackStore) Ping(context.Context) error { return nil }

// Degraded reports whether the local store is currently serving.
func (f *FallbackStore) Degraded() bool { return f.degraded.Load() }

func (f *FallbackStore) degrade(err error) {
	if f.degraded.CompareAndSwap(false, true) {
		storeFallback.Set(1)
		f.log.Warn().Err(err).Msg("rate limit store unavailable, using in-memory fallback")
	}
}

// Probe pings the primary while degraded and restores it on success. It
// reports whether the primary is serving afterwards.
func (f *FallbackStore) Probe(ctx context.Context) bool {
	if !f.degraded.Load() {
		return true
	}
	if err := f.primary.Ping(ctx); err != nil {
		return false
	}
	if f.degraded.CompareAndSwap(true, false) {
		storeFallback.Set(0)
		f.log.Info().Msg("rate limit store recovered, resuming shared accounting")
	}
	return true
}

// Serve probes the primary until ctx ends.
func (f *FallbackStore) Serve(ctx context.Context) error {
	t := time.NewTicker(f.probeEvery)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-t.C:
			f.Probe(ctx)
		}
	}
}

func (f *FallbackStore) String() string { return "ratelimit-store-probe" }
