package remotedb

import (
	"context"
	"fmt"
	"time"
)

// pingPolicy bounds how long Ping keeps trying a server that refuses or
// drops connections. Only failures isUnavailable accepts are retried; any
// other error ends the attempt at once.
type pingPolicy struct {
	attempts int
	// first is the pause after the first failure; each later pause doubles
	// up to ceiling.
	first   time.Duration
	ceiling time.Duration
}

var defaultPingPolicy = pingPolicy{
	attempts: 3,
	first:    250 * time.Millisecond,
	ceiling:  2 * time.Second,
}

// pause returns the wait after the given number of consecutive failures.
func (p pingPolicy) pause(failures int) time.Duration {
	d := p.first
	for i := 1; i < failures && d < p.ceiling; i++ {
		d *= 2
	}
	return min(d, p.ceiling)
}

func (p pingPolicy) run(ctx context.Context, ping func(context.Context) error) error {
	for failures := 1; ; failures++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		err := ping(ctx)
		if err == nil {
			return nil
		}
		if !isUnavailable(err) {
			return err
		}
		if failures >= p.attempts {
			return fmt.Errorf("unreachable after %d attempts: %w", failures, err)
		}

		t := time.NewTimer(p.pause(failures))
		select {
		case <-ctx.Done():
			t.Stop()
			return fmt.Errorf("%w (last failure: %w)", ctx.Err(), err)
		case <-t.C:
		}
	}
}
