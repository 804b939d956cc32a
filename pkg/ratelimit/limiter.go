package ratelimit

import (
	"context"
	"math/rand"
	"time"
)

// Limiter defines the interface for request pacing
type Limiter interface {
	// Wait blocks until the pacing policy allows another request, or the
	// context is cancelled
	Wait(ctx context.Context) error
	// Reset clears the limiter state
	Reset()
}

// Paced enforces a randomized minimum delay between successive requests.
// Each Wait draws a fresh delay uniformly from [MinDelay, MaxDelay] so call
// spacing has no detectable period, and blocks until that much time has
// elapsed since the previous request.
//
// Paced does not implement mutual exclusion: the caller's dispatch must
// guarantee at most one in-flight request per limiter at a time. One Paced
// instance is owned by one account.
type Paced struct {
	minDelay time.Duration
	maxDelay time.Duration
	last     time.Time

	// injectable for tests
	now       func() time.Time
	sleep     func(context.Context, time.Duration) error
	randFloat func() float64
}

// NewPaced creates a pacer for the [minDelay, maxDelay] window. If maxDelay
// is below minDelay the window collapses to a fixed minDelay interval.
func NewPaced(minDelay, maxDelay time.Duration) *Paced {
	if maxDelay < minDelay {
		maxDelay = minDelay
	}
	return &Paced{
		minDelay:  minDelay,
		maxDelay:  maxDelay,
		now:       time.Now,
		sleep:     sleepContext,
		randFloat: rand.Float64,
	}
}

// Wait blocks until a freshly drawn delay has elapsed since the last request,
// then records the new request time. Always eventually returns; the only
// error is context cancellation.
func (p *Paced) Wait(ctx context.Context) error {
	delay := p.minDelay
	if spread := p.maxDelay - p.minDelay; spread > 0 {
		delay += time.Duration(p.randFloat() * float64(spread))
	}

	if !p.last.IsZero() {
		if remaining := delay - p.now().Sub(p.last); remaining > 0 {
			if err := p.sleep(ctx, remaining); err != nil {
				return err
			}
		}
	}

	p.last = p.now()
	return nil
}

// Reset clears the last request timestamp so the next Wait returns at once
func (p *Paced) Reset() {
	p.last = time.Time{}
}

// LastRequest returns the time of the most recent paced request
func (p *Paced) LastRequest() time.Time {
	return p.last
}

// sleepContext waits for the duration or until the context is cancelled
func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
