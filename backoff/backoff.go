// Package backoff implements the doubling-capped retry delay used between
// master-playlist fetch attempts in the orchestrator (after a transient
// failure that isn't Offline) and between reconnect attempts inside
// httpreq.Request.Do. Adapted from the
// teacher's proxy.BackoffStrategy, unchanged in shape.
package backoff

import (
	"context"
	"time"
)

// Strategy is an exponential backoff with a hard ceiling.
type Strategy struct {
	initial time.Duration
	max     time.Duration
	current time.Duration
}

// New builds a Strategy starting at initial and doubling up to max. A
// zero max disables growth: Next always returns initial.
func New(initial, max time.Duration) *Strategy {
	return &Strategy{initial: initial, max: max, current: initial}
}

// Next returns the delay for this attempt and doubles the delay for the
// next one, capped at max.
func (b *Strategy) Next() time.Duration {
	if b.max == 0 {
		return b.initial
	}

	current := b.current
	b.current *= 2
	if b.current > b.max {
		b.current = b.max
	}
	return current
}

// Sleep waits out Next(), returning early if ctx is cancelled.
func (b *Strategy) Sleep(ctx context.Context) {
	select {
	case <-ctx.Done():
	case <-time.After(b.Next()):
	}
}

// Reset restores the delay to initial, called after a successful session
// so the next failure doesn't inherit an already-maxed-out delay.
func (b *Strategy) Reset() {
	if b.max > 0 {
		b.current = b.initial
	}
}
