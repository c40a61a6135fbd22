package attempt

import (
	"context"
	"log"
	"sync"
	"time"

	"quiz-attempt-service/internal/domain"
)

// State is the lifecycle position of an attempt session. IDLE is represented
// by the session not existing at all; COMPLETED sessions are removed from the
// registry once their terminal result is settled.
type State string

const (
	StateActive     State = "ACTIVE"
	StateFinalizing State = "FINALIZING"
	StateCompleted  State = "COMPLETED"
)

// Event is pushed to session subscribers as the attempt progresses.
type Event struct {
	Type             string                 `json:"type"` // tick | completed | expired | error
	RemainingSeconds int                    `json:"remainingSeconds"`
	Submission       *domain.Submission     `json:"submission,omitempty"`
	History          *domain.AttemptHistory `json:"history,omitempty"`
	ErrorKind        domain.ErrorKind       `json:"errorKind,omitempty"`
}

// Session owns the mutable state of one student's run through one quiz. It
// composes the timer, ledger and finalizer; every transition of the attempt
// state machine happens here.
type Session struct {
	quizID    string
	userID    string
	questions []domain.Question // session navigation order
	// optionPerm maps display option positions back to the quiz's canonical
	// option order; nil when answers are not shuffled.
	optionPerm [][]int

	now       func() time.Time
	startedAt time.Time
	snapshots SnapshotStore
	resolver  *HistoryResolver
	finalizer *Finalizer
	timer     *Timer

	snapshotEvery time.Duration
	maxAttempts   int

	mu           sync.Mutex
	state        State
	ledger       *Ledger
	lastSnapshot time.Time
	final        *Event // terminal outcome once COMPLETED
	subscribers  map[chan Event]struct{}
	onClose      func()
}

// sessionConfig carries the knobs a Session needs from the service.
type sessionConfig struct {
	tickInterval  time.Duration
	snapshotEvery time.Duration
	unloadBound   time.Duration
	now           func() time.Time
}

func newSession(quiz domain.Quiz, userID string, questions []domain.Question, optionPerm [][]int,
	snapshots SnapshotStore, grading GradingClient, resolver *HistoryResolver,
	cfg sessionConfig, onClose func()) *Session {

	s := &Session{
		quizID:        quiz.ID,
		userID:        userID,
		questions:     questions,
		optionPerm:    optionPerm,
		now:           cfg.now,
		startedAt:     cfg.now(),
		snapshots:     snapshots,
		resolver:      resolver,
		finalizer:     NewFinalizer(grading, cfg.unloadBound),
		snapshotEvery: cfg.snapshotEvery,
		maxAttempts:   quiz.MaxAttempts,
		state:         StateActive,
		ledger:        NewLedger(questions),
		subscribers:   make(map[chan Event]struct{}),
		onClose:       onClose,
	}
	s.timer = NewTimerWithClock(cfg.tickInterval, s.handleTick, s.handleExpiry, cfg.now)
	return s
}

// start restores any persisted snapshot and begins the countdown.
// remainingSeconds defaults to the quiz time limit when no snapshot exists.
func (s *Session) start(ctx context.Context, timeLimitSeconds int) (int, error) {
	remaining := timeLimitSeconds
	snap, found, err := s.snapshots.Load(ctx, s.userID, s.quizID)
	if err != nil {
		return 0, err
	}
	if found {
		s.mu.Lock()
		s.ledger.Restore(snap)
		s.mu.Unlock()
		if snap.RemainingSeconds >= 0 && snap.RemainingSeconds < remaining {
			remaining = snap.RemainingSeconds
		}
	}
	if timeLimitSeconds <= 0 {
		// Untimed quiz: no countdown, only manual or teardown finalize.
		return 0, nil
	}
	s.timer.Start(time.Duration(remaining) * time.Second)
	if remaining <= 0 {
		// Resumed a snapshot whose clock already ran out: finalize now
		// instead of waiting for the first tick.
		go s.Finalize(context.Background(), TriggerTimeout)
	}
	return remaining, nil
}

// State returns the current lifecycle state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Remaining reports the seconds left on the countdown.
func (s *Session) Remaining() int { return s.timer.Remaining() }

// Questions returns the session's navigation order.
func (s *Session) Questions() []domain.Question { return s.questions }

// AnsweredMap reports which question indexes currently count as answered,
// plus the recorded values for resume rendering.
func (s *Session) AnsweredMap() map[int]domain.AnswerValue {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[int]domain.AnswerValue)
	for i := 0; i < s.ledger.Len(); i++ {
		if value, ok := s.ledger.Get(i); ok {
			out[i] = value
		}
	}
	return out
}

// AnsweredCount reports how many questions count as answered.
func (s *Session) AnsweredCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ledger.AnsweredCount()
}

// SetAnswer records an answer and persists a fresh snapshot. Writes are
// rejected while a finalize is in flight so no answer can be dropped between
// payload build and send.
func (s *Session) SetAnswer(ctx context.Context, index int, value domain.AnswerValue) error {
	s.mu.Lock()
	switch s.state {
	case StateFinalizing:
		s.mu.Unlock()
		return domain.ErrSessionFinalizing
	case StateCompleted:
		s.mu.Unlock()
		return domain.ErrSessionNotFound
	}
	elapsed := int(s.now().Sub(s.startedAt) / time.Second)
	if err := s.ledger.Set(index, value, elapsed); err != nil {
		s.mu.Unlock()
		return err
	}
	snap := s.ledger.Snapshot(s.timer.Remaining())
	s.lastSnapshot = s.now()
	s.mu.Unlock()

	return s.snapshots.Save(ctx, s.userID, s.quizID, snap)
}

// IsAnswered exposes the ledger completeness rule for one question.
func (s *Session) IsAnswered(index int) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ledger.IsAnswered(index)
}

// handleTick runs on every timer tick: persist progress at a bounded rate and
// fan the countdown out to subscribers.
func (s *Session) handleTick(remaining int) {
	s.mu.Lock()
	if s.state != StateActive {
		s.mu.Unlock()
		return
	}
	var snap *domain.Snapshot
	now := s.now()
	if s.snapshotEvery <= 0 || now.Sub(s.lastSnapshot) >= s.snapshotEvery {
		built := s.ledger.Snapshot(remaining)
		snap = &built
		s.lastSnapshot = now
	}
	s.mu.Unlock()

	if snap != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		if err := s.snapshots.Save(ctx, s.userID, s.quizID, *snap); err != nil {
			log.Printf("attempt %s/%s: snapshot save failed: %v", s.userID, s.quizID, err)
		}
		cancel()
	}
	s.broadcast(Event{Type: "tick", RemainingSeconds: remaining})
}

// handleExpiry fires exactly once when the countdown hits zero.
func (s *Session) handleExpiry() {
	if _, _, err := s.Finalize(context.Background(), TriggerTimeout); err != nil {
		log.Printf("attempt %s/%s: timeout finalize failed: %v", s.userID, s.quizID, err)
	}
}

// buildPayload snapshots the answered subset into the grading request body.
// Caller must hold s.mu.
func (s *Session) buildPayloadLocked() domain.SubmitPayload {
	payload := s.ledger.Payload(int(s.now().Sub(s.startedAt) / time.Second))
	if s.optionPerm == nil {
		return payload
	}
	// Translate displayed option positions back to canonical indexes.
	byID := make(map[string]int, len(s.questions))
	for i, q := range s.questions {
		byID[q.ID] = i
	}
	for i, ans := range payload.Answers {
		idx, ok := byID[ans.QuestionID]
		if !ok || s.questions[idx].Type != domain.MultipleChoice {
			continue
		}
		display, ok := ans.UserAnswer.(int)
		if !ok {
			continue
		}
		perm := s.optionPerm[idx]
		if display >= 0 && display < len(perm) {
			payload.Answers[i].UserAnswer = perm[display]
		}
	}
	return payload
}

// Finalize drives the ACTIVE → FINALIZING → terminal transitions. Exactly one
// grading request is issued no matter how many triggers race; recoverable
// failures revert to ACTIVE with the ledger and snapshot untouched.
func (s *Session) Finalize(ctx context.Context, trigger Trigger) (domain.Submission, domain.AttemptHistory, error) {
	s.mu.Lock()
	if s.state == StateCompleted {
		final := s.final
		s.mu.Unlock()
		return finalOutcome(final)
	}
	s.state = StateFinalizing
	payload := s.buildPayloadLocked()
	s.mu.Unlock()

	submission, err := s.finalizer.Finalize(ctx, trigger, s.quizID, s.userID, payload)
	if err == nil {
		history := s.complete(submission)
		return submission, history, nil
	}

	switch kind := domain.KindOf(err); kind {
	case domain.KindAlreadySubmitted:
		// A previous attempt landed; adopt its submission as this
		// attempt's outcome.
		history, histErr := s.resolver.Resolve(context.Background(), s.quizID, s.userID, s.maxAttempts)
		if histErr == nil && len(history.Submissions) > 0 {
			submission = history.Submissions[len(history.Submissions)-1]
		}
		s.finalizer.Latch(submission)
		history = s.complete(submission)
		return submission, history, nil
	case domain.KindQuizExpired:
		s.abort()
		return domain.Submission{}, domain.AttemptHistory{}, err
	default:
		s.mu.Lock()
		if s.state == StateFinalizing {
			s.state = StateActive
		}
		s.mu.Unlock()
		s.broadcast(Event{Type: "error", RemainingSeconds: s.timer.Remaining(), ErrorKind: domain.KindOf(err)})
		return domain.Submission{}, domain.AttemptHistory{}, err
	}
}

// complete performs the single transition to COMPLETED: stop the clock, clear
// the durable snapshot, refresh attempt accounting, notify, unregister.
// Idempotent; the first caller wins.
func (s *Session) complete(submission domain.Submission) domain.AttemptHistory {
	s.mu.Lock()
	if s.state == StateCompleted {
		final := s.final
		s.mu.Unlock()
		if final != nil && final.History != nil {
			return *final.History
		}
		return domain.AttemptHistory{}
	}
	s.state = StateCompleted
	s.mu.Unlock()

	s.timer.Stop()
	if err := s.snapshots.Clear(context.Background(), s.userID, s.quizID); err != nil {
		log.Printf("attempt %s/%s: snapshot clear failed: %v", s.userID, s.quizID, err)
	}

	history, err := s.resolver.Resolve(context.Background(), s.quizID, s.userID, s.maxAttempts)
	if err != nil {
		log.Printf("attempt %s/%s: history refresh failed: %v", s.userID, s.quizID, err)
		history = Recompute([]domain.Submission{submission}, s.maxAttempts)
	}

	final := Event{Type: "completed", Submission: &submission, History: &history}
	s.mu.Lock()
	s.final = &final
	s.mu.Unlock()

	s.broadcast(final)
	s.close()
	return history
}

// abort tears the session down after a fatal outcome (server-side deadline
// passed): no submission exists, the snapshot is discarded, and the student
// goes back to the quiz list.
func (s *Session) abort() {
	s.mu.Lock()
	if s.state == StateCompleted {
		s.mu.Unlock()
		return
	}
	s.state = StateCompleted
	s.final = &Event{Type: "expired", ErrorKind: domain.KindQuizExpired}
	s.mu.Unlock()

	s.timer.Stop()
	if err := s.snapshots.Clear(context.Background(), s.userID, s.quizID); err != nil {
		log.Printf("attempt %s/%s: snapshot clear failed: %v", s.userID, s.quizID, err)
	}
	s.broadcast(Event{Type: "expired", ErrorKind: domain.KindQuizExpired})
	s.close()
}

func (s *Session) close() {
	s.mu.Lock()
	for ch := range s.subscribers {
		delete(s.subscribers, ch)
		close(ch)
	}
	onClose := s.onClose
	s.onClose = nil
	s.mu.Unlock()
	if onClose != nil {
		onClose()
	}
}

// Subscribe returns a channel receiving tick and terminal events. The caller
// must invoke cancel to avoid leaks.
func (s *Session) Subscribe() (<-chan Event, func()) {
	ch := make(chan Event, 8)
	s.mu.Lock()
	if s.state == StateCompleted {
		final := s.final
		s.mu.Unlock()
		if final != nil {
			ch <- *final
		}
		close(ch)
		return ch, func() {}
	}
	s.subscribers[ch] = struct{}{}
	s.mu.Unlock()

	cancel := func() {
		s.mu.Lock()
		if _, ok := s.subscribers[ch]; ok {
			delete(s.subscribers, ch)
			close(ch)
		}
		s.mu.Unlock()
	}
	return ch, cancel
}

func (s *Session) broadcast(ev Event) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for ch := range s.subscribers {
		select {
		case ch <- ev:
		default:
			// Drop the oldest update so a slow consumer cannot block
			// the timer goroutine.
			select {
			case <-ch:
			default:
			}
			select {
			case ch <- ev:
			default:
			}
		}
	}
}

func finalOutcome(final *Event) (domain.Submission, domain.AttemptHistory, error) {
	if final == nil {
		return domain.Submission{}, domain.AttemptHistory{}, domain.ErrSessionNotFound
	}
	if final.Type == "expired" {
		return domain.Submission{}, domain.AttemptHistory{}, &domain.GradingError{Kind: domain.KindQuizExpired}
	}
	var submission domain.Submission
	var history domain.AttemptHistory
	if final.Submission != nil {
		submission = *final.Submission
	}
	if final.History != nil {
		history = *final.History
	}
	return submission, history, nil
}
