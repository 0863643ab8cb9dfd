// Package supervisor runs the long-lived parts of the server under a
// suture/v4 tree so a crashed sweep or probe loop is restarted with backoff
// instead of taking the process down.
//
// Layers:
//   - realtime: hub presence/typing sweeps
//   - resilience: rate-limit store probe
//   - api: HTTP server
package supervisor

import (
	"context"
	"time"

	"github.com/rs/zerolog"
	"github.com/thejerf/suture/v4"
)

// TreeConfig holds restart and shutdown tuning. Zero values take the
// suture defaults.
type TreeConfig struct {
	FailureThreshold float64
	FailureDecay     float64
	FailureBackoff   time.Duration
	ShutdownTimeout  time.Duration
}

// DefaultTreeConfig returns suture's own defaults.
func DefaultTreeConfig() TreeConfig {
	return TreeConfig{
		FailureThreshold: 5.0,
		FailureDecay:     30.0,
		FailureBackoff:   15 * time.Second,
		ShutdownTimeout:  10 * time.Second,
	}
}

// Tree is the process supervisor.
type Tree struct {
	root       *suture.Supervisor
	realtime   *suture.Supervisor
	resilience *suture.Supervisor
	api        *suture.Supervisor
	config     TreeConfig
}

// NewTree builds the three-layer tree. Supervisor events are logged to log.
func NewTree(log zerolog.Logger, config TreeConfig) *Tree {
	def := DefaultTreeConfig()
	if config.FailureThreshold == 0 {
		config.FailureThreshold = def.FailureThreshold
	}
	if config.FailureDecay == 0 {
		config.FailureDecay = def.FailureDecay
	}
	if config.FailureBackoff == 0 {
		config.FailureBackoff = def.FailureBackoff
	}
	if config.ShutdownTimeout == 0 {
		config.ShutdownTimeout = def.ShutdownTimeout
	}

	childSpec := suture.Spec{
		FailureThreshold: config.FailureThreshold,
		FailureDecay:     config.FailureDecay,
		FailureBackoff:   config.FailureBackoff,
		Timeout:          config.ShutdownTimeout,
	}
	rootSpec := childSpec
	rootSpec.EventHook = EventHook(log)

	t := &Tree{
		root:       suture.New("gossip", rootSpec),
		realtime:   suture.New("realtime", childSpec),
		resilience: suture.New("resilience", childSpec),
		api:        suture.New("api", childSpec),
		config:     config,
	}
	t.root.Add(t.realtime)
	t.root.Add(t.resilience)
	t.root.Add(t.api)
	return t
}

// AddRealtime adds svc to the realtime layer.
func (t *Tree) AddRealtime(svc suture.Service) suture.ServiceToken { return t.realtime.Add(svc) }

// AddResilience adds svc to the resilience layer.
func (t *Tree) AddResilience(svc suture.Service) suture.ServiceToken { return t.resilience.Add(svc) }

// AddAPI adds svc to the api layer.
func (t *Tree) AddAPI(svc suture.Service) suture.ServiceToken { return t.api.Add(svc) }

// Serve blocks until ctx is canceled and every service has stopped or timed
// out.
func (t *Tree) Serve(ctx context.Context) error { return t.root.Serve(ctx) }

// ServeBackground runs the tree in a goroutine.
func (t *Tree) ServeBackground(ctx context.Context) <-chan error { return t.root.ServeBackground(ctx) }

// UnstoppedServiceReport lists services that outlived the shutdown timeout.
func (t *Tree) UnstoppedServiceReport() ([]suture.UnstoppedService, error) {
	return t.root.UnstoppedServiceReport()
}

// EventHook logs suture events. Panics and stop timeouts are errors, restarts
// and backoff are warnings.
func EventHook(log zerolog.Logger) suture.EventHook {
	return func(ev suture.Event) {
		var e *zerolog.Event
		switch ev.Type() {
		case suture.EventTypeServicePanic, suture.EventTypeStopTimeout:
			e = log.Error()
		case suture.EventTypeResume:
			e = log.Info()
		default:
			e = log.Warn()
		}
		e = e.Fields(ev.Map())
		e.Msg("supervisor event")
	}
}
