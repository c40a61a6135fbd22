package attempt

import (
	"context"
	"sync"
	"time"

	"quiz-attempt-service/internal/domain"
)

// Trigger identifies what caused a finalize.
type Trigger string

const (
	TriggerManual  Trigger = "MANUAL"
	TriggerTimeout Trigger = "TIMEOUT"
	TriggerUnload  Trigger = "UNLOAD"
)

// flight is one in-progress grading call; duplicate finalize callers block on
// done and share its outcome.
type flight struct {
	done       chan struct{}
	submission domain.Submission
	err        error
}

// Finalizer submits one attempt's ledger to the grading collaborator. It is
// single-flight: the guard is taken synchronously before any blocking call,
// so a timer expiry and a manual submit racing in the same instant produce
// exactly one grading request.
type Finalizer struct {
	grading     GradingClient
	unloadBound time.Duration

	mu      sync.Mutex
	current *flight
	latched *flight
}

// NewFinalizer builds a finalizer for one session. unloadBound caps how long
// an UNLOAD-triggered finalize may run before page teardown proceeds.
func NewFinalizer(grading GradingClient, unloadBound time.Duration) *Finalizer {
	if unloadBound <= 0 {
		unloadBound = 2 * time.Second
	}
	return &Finalizer{grading: grading, unloadBound: unloadBound}
}

// Finalize submits the payload at most once per flight. Concurrent callers
// await the same outcome; after a recoverable failure the guard is released
// so a retry issues a fresh request, after success or a terminal outcome it
// stays latched and later calls return the settled result immediately.
func (f *Finalizer) Finalize(ctx context.Context, trigger Trigger, quizID, userID string, payload domain.SubmitPayload) (domain.Submission, error) {
	f.mu.Lock()
	if f.latched != nil {
		settled := f.latched
		f.mu.Unlock()
		return settled.submission, settled.err
	}
	if f.current != nil {
		inflight := f.current
		f.mu.Unlock()
		<-inflight.done
		return inflight.submission, inflight.err
	}
	fl := &flight{done: make(chan struct{})}
	f.current = fl
	f.mu.Unlock()

	if trigger == TriggerUnload {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, f.unloadBound)
		defer cancel()
	}

	fl.submission, fl.err = f.submit(ctx, quizID, userID, payload)

	f.mu.Lock()
	if fl.err == nil || !domain.KindOf(fl.err).Recoverable() {
		f.latched = fl
	}
	f.current = nil
	close(fl.done)
	f.mu.Unlock()
	return fl.submission, fl.err
}

// submit performs the grading call, retrying once on a network failure.
func (f *Finalizer) submit(ctx context.Context, quizID, userID string, payload domain.SubmitPayload) (domain.Submission, error) {
	submission, err := f.grading.SubmitAttempt(ctx, quizID, userID, payload)
	if err == nil || domain.KindOf(err) != domain.KindNetwork || ctx.Err() != nil {
		return submission, err
	}
	return f.grading.SubmitAttempt(ctx, quizID, userID, payload)
}

// Latch marks the finalizer as terminally resolved without a grading call.
// Used when ALREADY_SUBMITTED is resolved through a history refetch.
func (f *Finalizer) Latch(result domain.Submission) {
	f.mu.Lock()
	defer f.mu.Unlock()
	fl := &flight{done: make(chan struct{}), submission: result}
	close(fl.done)
	f.latched = fl
}
