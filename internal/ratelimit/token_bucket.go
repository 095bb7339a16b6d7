package ratelimit

import (
	"sync"
	"time"
)

// Clock abstracts time so refill behavior can be tested deterministically.
type Clock interface {
	Now() time.Time
}

type RealClock struct{}

func (RealClock) Now() time.Time { return time.Now() }

// nanoPerToken is the fixed-point scale: one token is 1e9 nano-tokens, so a
// fill rate of X tokens/sec adds exactly X nano-tokens per elapsed nanosecond.
const nanoPerToken = int64(time.Second)

// TokenBucket is a per-connection message budget. It refills lazily on each
// Allow call from the elapsed wall time, using integer nano-tokens to avoid
// losing fractional refill between calls.
type TokenBucket struct {
	mu sync.Mutex

	clock    Clock
	capacity int64 // tokens
	rate     int64 // tokens/sec

	available int64 // nano-tokens
	last      time.Time
}

// NewTokenBucket returns a bucket that starts full. A non-positive capacity or
// rate yields a bucket that never allows anything once drained.
func NewTokenBucket(clock Clock, capacity, perSecond int64) *TokenBucket {
	if clock == nil {
		clock = RealClock{}
	}
	if capacity < 0 {
		capacity = 0
	}
	if perSecond < 0 {
		perSecond = 0
	}
	return &TokenBucket{
		clock:     clock,
		capacity:  capacity,
		rate:      perSecond,
		available: capacity * nanoPerToken,
		last:      clock.Now(),
	}
}

// Allow consumes one token, reporting whether the caller is within budget.
func (b *TokenBucket) Allow() bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.refillLocked()

	if b.available < nanoPerToken {
		return false
	}
	b.available -= nanoPerToken
	return true
}

func (b *TokenBucket) refillLocked() {
	now := b.clock.Now()
	if !now.After(b.last) {
		// Time stalled or went backwards; move the reference point without
		// refilling.
		b.last = now
		return
	}
	elapsed := now.Sub(b.last).Nanoseconds()
	b.last = now

	if b.rate <= 0 || b.capacity <= 0 {
		return
	}

	max := b.capacity * nanoPerToken
	need := max - b.available
	if need <= 0 {
		b.available = max
		return
	}
	// If enough time passed to fill the bucket, clamp instead of multiplying
	// (elapsed*rate can overflow for long idle periods).
	if elapsed >= need/b.rate+1 {
		b.available = max
		return
	}
	b.available += elapsed * b.rate
	if b.available > max {
		b.available = max
	}
}
