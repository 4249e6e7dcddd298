// Package retry models bounded exponential backoff as an explicit state
// machine, so callers drive the loop and can observe each attempt.
package retry

import (
	"context"
	"time"
)

// Policy bounds a retry loop.
type Policy struct {
	MaxAttempts int
	BaseDelay   time.Duration
	MaxDelay    time.Duration
}

// Backoff is the state of one retry loop.
type Backoff struct {
	policy  Policy
	attempt int
}

// New starts a retry loop. Zero fields get conservative defaults.
func New(p Policy) *Backoff {
	if p.MaxAttempts <= 0 {
		p.MaxAttempts = 1
	}
	if p.BaseDelay <= 0 {
		p.BaseDelay = 200 * time.Millisecond
	}
	if p.MaxDelay < p.BaseDelay {
		p.MaxDelay = p.BaseDelay
	}
	return &Backoff{policy: p}
}

// Attempt returns the number of attempts started so far.
func (b *Backoff) Attempt() int { return b.attempt }

// Next starts another attempt. It returns false once the bound is reached.
func (b *Backoff) Next() bool {
	if b.attempt >= b.policy.MaxAttempts {
		return false
	}
	b.attempt++
	return true
}

// Exhausted reports whether the current attempt is the last one allowed.
func (b *Backoff) Exhausted() bool {
	return b.attempt >= b.policy.MaxAttempts
}

// Delay is the wait before the attempt after the current one:
// base * 2^(attempt-1), capped at MaxDelay.
func (b *Backoff) Delay() time.Duration {
	n := b.attempt - 1
	if n < 0 {
		n = 0
	}
	d := b.policy.BaseDelay
	for i := 0; i < n; i++ {
		d *= 2
		if d >= b.policy.MaxDelay {
			return b.policy.MaxDelay
		}
	}
	return d
}

// Wait sleeps for Delay or until ctx is done.
func (b *Backoff) Wait(ctx context.Context) error {
	t := time.NewTimer(b.Delay())
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
