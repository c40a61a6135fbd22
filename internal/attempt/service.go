package attempt

import (
	"context"
	"hash/fnv"
	"math/rand"
	"sync"
	"time"

	"quiz-attempt-service/internal/domain"
)

// QuizRepository loads quiz content (from cache/backing store).
type QuizRepository interface {
	GetQuiz(ctx context.Context, quizID string) (domain.Quiz, error)
}

// SnapshotStore is the persistence adapter for in-progress attempts: one
// overwritable record per (user, quiz), cleared only on completion.
type SnapshotStore interface {
	Load(ctx context.Context, userID, quizID string) (domain.Snapshot, bool, error)
	Save(ctx context.Context, userID, quizID string, snap domain.Snapshot) error
	Clear(ctx context.Context, userID, quizID string) error
}

// GradingClient is the remote grading collaborator. It owns scoring; this
// service only invokes it and interprets the classified result.
type GradingClient interface {
	SubmitAttempt(ctx context.Context, quizID, userID string, payload domain.SubmitPayload) (domain.Submission, error)
	SubmissionHistory(ctx context.Context, quizID, userID string) (domain.AttemptHistory, error)
}

// Config tunes the engine.
type Config struct {
	TickInterval  time.Duration // countdown granularity, default 1s
	SnapshotEvery time.Duration // bound on tick-driven snapshot writes, default 1s
	UnloadBound   time.Duration // budget for teardown-triggered finalize, default 2s
}

func (c Config) withDefaults() Config {
	if c.TickInterval <= 0 {
		c.TickInterval = time.Second
	}
	if c.SnapshotEvery <= 0 {
		c.SnapshotEvery = time.Second
	}
	if c.UnloadBound <= 0 {
		c.UnloadBound = 2 * time.Second
	}
	return c
}

// StartResult is everything a transport needs to render a freshly started (or
// resumed) attempt.
type StartResult struct {
	Quiz             domain.Quiz
	Questions        []domain.Question // navigation order, answer keys stripped
	RemainingSeconds int
	Answers          map[int]domain.AnswerValue
	History          domain.AttemptHistory
	Resumed          bool
}

// AttemptService owns the attempt sessions of this process, at most one per
// (user, quiz).
type AttemptService struct {
	quizzes   QuizRepository
	snapshots SnapshotStore
	grading   GradingClient
	resolver  *HistoryResolver
	cfg       Config
	now       func() time.Time

	mu       sync.Mutex
	sessions map[sessionKey]*Session
}

type sessionKey struct {
	userID string
	quizID string
}

func NewAttemptService(quizzes QuizRepository, snapshots SnapshotStore, grading GradingClient, cfg Config) *AttemptService {
	return NewAttemptServiceWithClock(quizzes, snapshots, grading, cfg, time.Now)
}

// NewAttemptServiceWithClock allows deterministic time in tests.
func NewAttemptServiceWithClock(quizzes QuizRepository, snapshots SnapshotStore, grading GradingClient, cfg Config, now func() time.Time) *AttemptService {
	return &AttemptService{
		quizzes:   quizzes,
		snapshots: snapshots,
		grading:   grading,
		resolver:  NewHistoryResolver(grading),
		cfg:       cfg.withDefaults(),
		now:       now,
		sessions:  make(map[sessionKey]*Session),
	}
}

// History resolves the attempt accounting for a quiz without touching any
// session state.
func (s *AttemptService) History(ctx context.Context, quizID, userID string) (domain.AttemptHistory, error) {
	quiz, err := s.quizzes.GetQuiz(ctx, quizID)
	if err != nil {
		return domain.AttemptHistory{}, err
	}
	return s.resolver.Resolve(ctx, quizID, userID, quiz.MaxAttempts)
}

// Start begins (or resumes after a reload) an attempt. Eligibility is checked
// before any session state exists: an empty quiz or exhausted attempts never
// create a session.
func (s *AttemptService) Start(ctx context.Context, quizID, userID string) (*StartResult, error) {
	quiz, err := s.quizzes.GetQuiz(ctx, quizID)
	if err != nil {
		return nil, err
	}
	if len(quiz.Questions) == 0 {
		return nil, domain.ErrEmptyQuiz
	}
	history, err := s.resolver.Resolve(ctx, quizID, userID, quiz.MaxAttempts)
	if err != nil {
		return nil, err
	}
	if !history.CanRetake {
		return nil, domain.ErrNoAttemptsLeft
	}

	key := sessionKey{userID: userID, quizID: quizID}
	s.mu.Lock()
	if prior, ok := s.sessions[key]; ok {
		// A reload reached us before the old connection died. The durable
		// snapshot carries the progress; rebuild from it.
		prior.timer.Stop()
		delete(s.sessions, key)
	}
	questions, optionPerm := sessionOrder(quiz, userID)
	session := newSession(quiz, userID, questions, optionPerm, s.snapshots, s.grading, s.resolver,
		sessionConfig{
			tickInterval:  s.cfg.TickInterval,
			snapshotEvery: s.cfg.SnapshotEvery,
			unloadBound:   s.cfg.UnloadBound,
			now:           s.now,
		},
		func() { s.remove(key) })
	s.sessions[key] = session
	s.mu.Unlock()

	remaining, err := session.start(ctx, quiz.TimeLimitSeconds)
	if err != nil {
		s.remove(key)
		return nil, err
	}

	answers := session.AnsweredMap()
	return &StartResult{
		Quiz:             quiz,
		Questions:        studentQuestions(questions),
		RemainingSeconds: remaining,
		Answers:          answers,
		History:          history,
		Resumed:          len(answers) > 0 || remaining < quiz.TimeLimitSeconds,
	}, nil
}

// SetAnswer records an answer on the active session.
func (s *AttemptService) SetAnswer(ctx context.Context, quizID, userID string, index int, value domain.AnswerValue) error {
	session, ok := s.get(quizID, userID)
	if !ok {
		return domain.ErrSessionNotFound
	}
	return session.SetAnswer(ctx, index, value)
}

// Submit finalizes the attempt on the student's request.
func (s *AttemptService) Submit(ctx context.Context, quizID, userID string) (domain.Submission, domain.AttemptHistory, error) {
	session, ok := s.get(quizID, userID)
	if !ok {
		return domain.Submission{}, domain.AttemptHistory{}, domain.ErrSessionNotFound
	}
	return session.Finalize(ctx, TriggerManual)
}

// Teardown is the host-environment lifecycle hook: the transport calls it
// when the page or connection is going away. Best-effort by contract — the
// finalize runs under the configured unload bound.
func (s *AttemptService) Teardown(ctx context.Context, quizID, userID string) {
	session, ok := s.get(quizID, userID)
	if !ok || session.State() != StateActive {
		return
	}
	if _, _, err := session.Finalize(ctx, TriggerUnload); err != nil {
		// Accepted tradeoff: teardown cannot wait; the snapshot keeps
		// the answers for a resume.
		return
	}
}

// Subscribe attaches to the session's tick/terminal event stream.
func (s *AttemptService) Subscribe(quizID, userID string) (<-chan Event, func(), error) {
	session, ok := s.get(quizID, userID)
	if !ok {
		return nil, nil, domain.ErrSessionNotFound
	}
	ch, cancel := session.Subscribe()
	return ch, cancel, nil
}

// Session exposes the live session, if any.
func (s *AttemptService) Session(quizID, userID string) (*Session, bool) {
	return s.get(quizID, userID)
}

func (s *AttemptService) get(quizID, userID string) (*Session, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	session, ok := s.sessions[sessionKey{userID: userID, quizID: quizID}]
	return session, ok
}

func (s *AttemptService) remove(key sessionKey) {
	s.mu.Lock()
	delete(s.sessions, key)
	s.mu.Unlock()
}

// sessionOrder applies the quiz's shuffle flags. The permutation is seeded
// from (userID, quizID) so a resume after reload reproduces the exact same
// navigation and option order without persisting it.
func sessionOrder(quiz domain.Quiz, userID string) ([]domain.Question, [][]int) {
	questions := quiz.OrderedQuestions()
	seed := fnv.New64a()
	seed.Write([]byte(userID))
	seed.Write([]byte{0})
	seed.Write([]byte(quiz.ID))
	rnd := rand.New(rand.NewSource(int64(seed.Sum64())))

	if quiz.ShuffleQuestions {
		rnd.Shuffle(len(questions), func(i, j int) {
			questions[i], questions[j] = questions[j], questions[i]
		})
	}

	var optionPerm [][]int
	if quiz.ShuffleAnswers {
		optionPerm = make([][]int, len(questions))
		for qi := range questions {
			if questions[qi].Type != domain.MultipleChoice {
				continue
			}
			perm := rnd.Perm(len(questions[qi].Options))
			shuffled := make([]domain.Option, len(perm))
			for display, canonical := range perm {
				shuffled[display] = questions[qi].Options[canonical]
			}
			questions[qi].Options = shuffled
			optionPerm[qi] = perm
		}
	}
	return questions, optionPerm
}

// studentQuestions strips grading-only fields before questions cross a
// transport boundary.
func studentQuestions(questions []domain.Question) []domain.Question {
	out := make([]domain.Question, len(questions))
	copy(out, questions)
	for i := range out {
		out[i].AnswerKey = ""
	}
	return out
}
