package attempt

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2025, 8, 11, 9, 0, 0, 0, time.UTC)}
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

func TestTimerDerivesRemainingFromDeadline(t *testing.T) {
	clock := newFakeClock()
	var lastTick atomic.Int64
	var expiries atomic.Int32
	// Interval of an hour keeps the background ticker out of the way; the
	// test drives evaluation directly.
	tm := NewTimerWithClock(time.Hour, func(remaining int) {
		lastTick.Store(int64(remaining))
	}, func() {
		expiries.Add(1)
	}, clock.Now)

	tm.Start(10 * time.Second)
	tm.tick()
	if got := lastTick.Load(); got != 10 {
		t.Fatalf("expected 10s remaining, got %d", got)
	}

	clock.Advance(4 * time.Second)
	tm.tick()
	if got := lastTick.Load(); got != 6 {
		t.Fatalf("expected 6s remaining, got %d", got)
	}

	// A long stall (background-tab throttling) must not extend the deadline.
	clock.Advance(20 * time.Second)
	tm.tick()
	if got := lastTick.Load(); got != 0 {
		t.Fatalf("expected 0s remaining after deadline, got %d", got)
	}
	if got := expiries.Load(); got != 1 {
		t.Fatalf("expected exactly one expiry, got %d", got)
	}

	// Further ticks never re-fire expiry.
	tm.tick()
	tm.tick()
	if got := expiries.Load(); got != 1 {
		t.Fatalf("expiry fired again: %d", got)
	}
}

func TestTimerRemainingNeverNegative(t *testing.T) {
	clock := newFakeClock()
	tm := NewTimerWithClock(time.Hour, nil, nil, clock.Now)
	tm.Start(3 * time.Second)

	prev := tm.Remaining()
	for i := 0; i < 10; i++ {
		clock.Advance(time.Second)
		got := tm.Remaining()
		if got > prev {
			t.Fatalf("remaining increased: %d -> %d", prev, got)
		}
		if got < 0 {
			t.Fatalf("remaining went negative: %d", got)
		}
		prev = got
	}
}

func TestTimerStopSuppressesExpiry(t *testing.T) {
	clock := newFakeClock()
	var expiries atomic.Int32
	tm := NewTimerWithClock(time.Hour, nil, func() { expiries.Add(1) }, clock.Now)

	tm.Start(5 * time.Second)
	tm.Stop()
	tm.Stop() // idempotent

	clock.Advance(time.Minute)
	tm.tick()
	if got := expiries.Load(); got != 0 {
		t.Fatalf("expiry fired after stop: %d", got)
	}
}

func TestTimerStopAfterExpiryIsSafe(t *testing.T) {
	clock := newFakeClock()
	var expiries atomic.Int32
	tm := NewTimerWithClock(time.Hour, nil, func() { expiries.Add(1) }, clock.Now)

	tm.Start(time.Second)
	clock.Advance(2 * time.Second)
	tm.tick()
	if got := expiries.Load(); got != 1 {
		t.Fatalf("expected one expiry, got %d", got)
	}
	tm.Stop()
	if got := expiries.Load(); got != 1 {
		t.Fatalf("stop after expiry changed count: %d", got)
	}
}
