// Package retry provides the single retry/backoff policy shared by the
// membership oracle and the reconciliation loop.
package retry

import (
	"context"
	"math/rand/v2"
	"time"
)

// Policy describes bounded retries with capped exponential backoff.
type Policy struct {
	MaxAttempts int
	BaseDelay   time.Duration
	MaxDelay    time.Duration
	// Jitter is the fraction of the computed delay randomized away, 0..1.
	Jitter float64
}

// Delay returns the backoff before the given attempt (1-based). Attempt 1 has
// no delay; later attempts back off exponentially up to MaxDelay, with the
// configured jitter subtracted at random so concurrent retriers spread out.
func (p Policy) Delay(attempt int) time.Duration {
	if attempt <= 1 || p.BaseDelay <= 0 {
		return 0
	}

	d := p.BaseDelay
	for i := 2; i < attempt; i++ {
		d *= 2
		if p.MaxDelay > 0 && d >= p.MaxDelay {
			d = p.MaxDelay
			break
		}
	}
	if p.MaxDelay > 0 && d > p.MaxDelay {
		d = p.MaxDelay
	}

	if p.Jitter > 0 {
		d -= time.Duration(float64(d) * p.Jitter * rand.Float64())
	}
	return d
}

// Sleep blocks for the attempt's backoff or until ctx is done.
func (p Policy) Sleep(ctx context.Context, attempt int) error {
	d := p.Delay(attempt)
	if d == 0 {
		return ctx.Err()
	}

	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// Do runs fn up to MaxAttempts times, sleeping between attempts. It returns
// nil on the first success and the last error once attempts are exhausted.
func (p Policy) Do(ctx context.Context, fn func(ctx context.Context) error) error {
	attempts := p.MaxAttempts
	if attempts < 1 {
		attempts = 1
	}

	var err error
	for attempt := 1; attempt <= attempts; attempt++ {
		if serr := p.Sleep(ctx, attempt); serr != nil {
			return serr
		}
		if err = fn(ctx); err == nil {
			return nil
		}
	}
	return err
}
