package ratelimit

import (
	"sync"
	"testing"
	"time"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func TestTokenBucket_BurstThenRefill(t *testing.T) {
	clk := &fakeClock{now: time.Unix(0, 0)}
	b := NewTokenBucket(clk, 5, 5)

	for i := 0; i < 5; i++ {
		if !b.Allow() {
			t.Fatalf("burst message %d rejected", i)
		}
	}
	if b.Allow() {
		t.Fatalf("expected empty bucket to reject")
	}

	clk.Advance(200 * time.Millisecond) // one token at 5/sec
	if !b.Allow() {
		t.Fatalf("expected refill after 200ms")
	}
	if b.Allow() {
		t.Fatalf("expected only one refilled token")
	}
}

func TestTokenBucket_ClampsToCapacity(t *testing.T) {
	clk := &fakeClock{now: time.Unix(0, 0)}
	b := NewTokenBucket(clk, 2, 2)

	if !b.Allow() || !b.Allow() {
		t.Fatalf("expected initial capacity of 2")
	}

	clk.Advance(time.Hour)
	if !b.Allow() || !b.Allow() {
		t.Fatalf("expected refill up to capacity")
	}
	if b.Allow() {
		t.Fatalf("expected capacity clamp after long idle")
	}
}

func TestTokenBucket_FractionalRefillAccumulates(t *testing.T) {
	clk := &fakeClock{now: time.Unix(0, 0)}
	b := NewTokenBucket(clk, 10, 10)

	for i := 0; i < 10; i++ {
		b.Allow()
	}

	// 10 tokens/sec means 50ms is half a token; two advances make one.
	clk.Advance(50 * time.Millisecond)
	if b.Allow() {
		t.Fatalf("half a token should not be spendable")
	}
	clk.Advance(50 * time.Millisecond)
	if !b.Allow() {
		t.Fatalf("expected accumulated fractional refill to add up")
	}
}

func TestTokenBucket_TimeGoingBackwards(t *testing.T) {
	clk := &fakeClock{now: time.Unix(1000, 0)}
	b := NewTokenBucket(clk, 1, 1)

	if !b.Allow() {
		t.Fatalf("expected initial token")
	}
	clk.Advance(-time.Hour)
	if b.Allow() {
		t.Fatalf("expected no refill when clock moves backwards")
	}
}
