// Package ratelimit provides the shared token buckets that keep the
// indicator poller and the LLM drivers inside external API budgets.
package ratelimit

import (
	"context"
	"sync"
	"time"
)

// Bucket is a token bucket refilled continuously at a per-minute rate.
// TryAcquire never blocks; Wait suspends cooperatively until a token is
// available or the context ends.
type Bucket struct {
	mu         sync.Mutex
	ratePerSec float64
	burst      float64
	tokens     float64
	last       time.Time
	nowFn      func() time.Time
}

// NewBucket creates a bucket allowing ratePerMinute acquisitions with
// the given burst capacity.
func NewBucket(ratePerMinute float64, burst int) *Bucket {
	if ratePerMinute <= 0 {
		ratePerMinute = 1
	}
	if burst <= 0 {
		burst = 1
	}
	now := time.Now()
	return &Bucket{
		ratePerSec: ratePerMinute / 60.0,
		burst:      float64(burst),
		tokens:     float64(burst),
		last:       now,
		nowFn:      time.Now,
	}
}

func (b *Bucket) refill(now time.Time) {
	elapsed := now.Sub(b.last).Seconds()
	if elapsed <= 0 {
		return
	}
	b.tokens += elapsed * b.ratePerSec
	if b.tokens > b.burst {
		b.tokens = b.burst
	}
	b.last = now
}

// TryAcquire takes a token if one is available. On refusal it returns
// the wait until the next token.
func (b *Bucket) TryAcquire() (bool, time.Duration) {
	b.mu.Lock()
	defer b.mu.Unlock()

	now := b.nowFn()
	b.refill(now)

	if b.tokens >= 1 {
		b.tokens--
		return true, 0
	}
	need := 1 - b.tokens
	wait := time.Duration(need / b.ratePerSec * float64(time.Second))
	return false, wait
}

// Wait blocks until a token is acquired or ctx is done.
func (b *Bucket) Wait(ctx context.Context) error {
	for {
		ok, wait := b.TryAcquire()
		if ok {
			return nil
		}
		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
}
