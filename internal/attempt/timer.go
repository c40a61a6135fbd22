package attempt

import (
	"sync"
	"time"
)

// Timer drives the countdown for one attempt session. Remaining time is
// always derived from a fixed end timestamp, so missed or delayed ticks can
// never stretch the session past its true deadline.
type Timer struct {
	now      func() time.Time
	interval time.Duration
	onTick   func(remaining int)
	onExpire func()

	mu         sync.Mutex
	plannedEnd time.Time
	running    bool
	expired    bool
	stopCh     chan struct{}
}

// NewTimer builds a timer ticking at interval against the real clock.
func NewTimer(interval time.Duration, onTick func(remaining int), onExpire func()) *Timer {
	return NewTimerWithClock(interval, onTick, onExpire, time.Now)
}

// NewTimerWithClock allows deterministic time in tests.
func NewTimerWithClock(interval time.Duration, onTick func(remaining int), onExpire func(), now func() time.Time) *Timer {
	if interval <= 0 {
		interval = time.Second
	}
	return &Timer{
		now:      now,
		interval: interval,
		onTick:   onTick,
		onExpire: onExpire,
	}
}

// Start begins the countdown for the given duration. It is a no-op if the
// timer is already running or has expired.
func (t *Timer) Start(duration time.Duration) {
	t.mu.Lock()
	if t.running || t.expired {
		t.mu.Unlock()
		return
	}
	t.plannedEnd = t.now().Add(duration)
	t.running = true
	t.stopCh = make(chan struct{})
	stopCh := t.stopCh
	t.mu.Unlock()

	go t.loop(stopCh)
}

func (t *Timer) loop(stopCh chan struct{}) {
	ticker := time.NewTicker(t.interval)
	defer ticker.Stop()
	for {
		select {
		case <-stopCh:
			return
		case <-ticker.C:
			if t.tick() {
				return
			}
		}
	}
}

// tick evaluates the countdown once and reports whether it has expired.
// Callbacks run without the lock held so they may call Stop.
func (t *Timer) tick() bool {
	t.mu.Lock()
	if !t.running {
		t.mu.Unlock()
		return true
	}
	remaining := t.remainingLocked()
	expiring := remaining <= 0 && !t.expired
	if expiring {
		t.expired = true
		t.running = false
	}
	t.mu.Unlock()

	if t.onTick != nil {
		t.onTick(remaining)
	}
	if expiring && t.onExpire != nil {
		t.onExpire()
	}
	return expiring
}

// Remaining reports the whole seconds left, never negative.
func (t *Timer) Remaining() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.plannedEnd.IsZero() {
		return 0
	}
	return t.remainingLocked()
}

func (t *Timer) remainingLocked() int {
	left := int(t.plannedEnd.Sub(t.now()) / time.Second)
	if left < 0 {
		return 0
	}
	return left
}

// Stop halts the countdown. It is idempotent, safe after expiry, and
// guarantees onExpire never fires afterwards.
func (t *Timer) Stop() {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.stopCh != nil {
		select {
		case <-t.stopCh:
		default:
			close(t.stopCh)
		}
	}
	t.running = false
	t.expired = true
}
