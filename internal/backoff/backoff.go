// Package backoff provides the attempt-count based wait policy used by
// every polling loop in ecsroll. Timeouts are attempt-count based, not
// wall-clock based, scaled by the operator-supplied base wait.
package backoff

import (
	"context"
	"math/rand/v2"
	"time"
)

// SleepFunc blocks for the given duration or until the context is done.
// Tests inject a no-op implementation so no real timers run.
type SleepFunc func(ctx context.Context, d time.Duration) error

// Policy describes one polling loop's timing: a base wait multiplied by
// a per-attempt factor, optionally jittered, with a hard attempt ceiling.
type Policy struct {
	// Base is the operator-supplied base wait between attempts.
	Base time.Duration

	// Factor multiplies the delay per attempt. 1.0 polls at a fixed
	// interval.
	Factor float64

	// Jitter is the fraction of the delay randomized in both directions
	// to avoid thundering-herd polling of the control-plane APIs.
	Jitter float64

	// MaxAttempts is the attempt ceiling. Zero means unbounded.
	MaxAttempts int

	// Sleep replaces the real timer when set.
	Sleep SleepFunc
}

// New returns a policy with the standard factor and jitter for the
// given base wait and ceiling.
func New(base time.Duration, maxAttempts int) Policy {
	return Policy{
		Base:        base,
		Factor:      1.5,
		Jitter:      0.2,
		MaxAttempts: maxAttempts,
	}
}

// Exhausted reports whether the given attempt number is past the ceiling.
func (p Policy) Exhausted(attempt int) bool {
	return p.MaxAttempts > 0 && attempt >= p.MaxAttempts
}

// Delay computes the wait before the given attempt (1-based). The delay
// is capped at ten times the base so long drains keep a sane poll rate.
func (p Policy) Delay(attempt int) time.Duration {
	if p.Base <= 0 {
		return 0
	}
	factor := p.Factor
	if factor <= 0 {
		factor = 1.0
	}

	d := float64(p.Base)
	for i := 1; i < attempt; i++ {
		d *= factor
		if d >= float64(10*p.Base) {
			d = float64(10 * p.Base)
			break
		}
	}

	if p.Jitter > 0 {
		spread := d * p.Jitter
		d = d - spread + rand.Float64()*2*spread
	}

	return time.Duration(d)
}

// Wait blocks for the delay of the given attempt, honoring context
// cancellation.
func (p Policy) Wait(ctx context.Context, attempt int) error {
	d := p.Delay(attempt)
	if p.Sleep != nil {
		return p.Sleep(ctx, d)
	}
	if d <= 0 {
		return ctx.Err()
	}

	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
