package supervisor

import (
	"context"
	"time"
)

// Periodic runs Run every Every until canceled. A panic in Run restarts the
// loop through the supervisor.
type Periodic struct {
	Name  string
	Every time.Duration
	Run   func(ctx context.Context)
}

// Serve implements suture.Service.
func (p *Periodic) Serve(ctx context.Context) error {
	every := p.Every
	if every <= 0 {
		every = time.Minute
	}
	t := time.NewTicker(every)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-t.C:
			p.Run(ctx)
		}
	}
}

func (p *Periodic) String() string { return p.Name }
