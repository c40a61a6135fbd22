package attempt

import (
	"quiz-attempt-service/internal/domain"
)

// Ledger collects a student's answers for one attempt, indexed by question
// position in the session's navigation order. It is agnostic to scoring:
// completeness rules live here, correctness never does.
type Ledger struct {
	questions  []domain.Question
	slots      []domain.AnswerSlot
	answeredAt []int // elapsed seconds when each answer was last written
}

// NewLedger builds an empty ledger over the session's question order.
func NewLedger(questions []domain.Question) *Ledger {
	return &Ledger{
		questions:  questions,
		slots:      make([]domain.AnswerSlot, len(questions)),
		answeredAt: make([]int, len(questions)),
	}
}

// Set records the answer for a question index. elapsedSeconds is the attempt
// time consumed when the answer was written.
func (l *Ledger) Set(index int, value domain.AnswerValue, elapsedSeconds int) error {
	if index < 0 || index >= len(l.questions) {
		return domain.ErrQuestionIndex
	}
	l.slots[index] = domain.SlotFor(value)
	l.answeredAt[index] = elapsedSeconds
	return nil
}

// Get returns the recorded answer and whether any value was ever set.
func (l *Ledger) Get(index int) (domain.AnswerValue, bool) {
	if index < 0 || index >= len(l.slots) || l.slots[index].Empty() {
		return domain.AnswerValue{}, false
	}
	return l.slots[index].Value(), true
}

// IsAnswered applies the per-type completeness rule: choice questions need a
// valid selection, text questions a non-blank trimmed value.
func (l *Ledger) IsAnswered(index int) bool {
	if index < 0 || index >= len(l.questions) {
		return false
	}
	slot := l.slots[index]
	if slot.Empty() {
		return false
	}
	q := l.questions[index]
	return slot.Value().Answered(q.Type, len(q.Options))
}

// AnsweredCount reports how many questions currently count as answered.
func (l *Ledger) AnsweredCount() int {
	count := 0
	for i := range l.questions {
		if l.IsAnswered(i) {
			count++
		}
	}
	return count
}

// Len returns the number of questions the ledger tracks.
func (l *Ledger) Len() int { return len(l.questions) }

// Snapshot renders the ledger into its durable form.
func (l *Ledger) Snapshot(remainingSeconds int) domain.Snapshot {
	answers := make([]domain.AnswerSlot, len(l.slots))
	copy(answers, l.slots)
	return domain.Snapshot{Answers: answers, RemainingSeconds: remainingSeconds}
}

// Restore replays a snapshot's answers into the ledger. Entries beyond the
// quiz length are dropped rather than rejected; a stale snapshot must never
// block a resume.
func (l *Ledger) Restore(snap domain.Snapshot) {
	for i, slot := range snap.Answers {
		if i >= len(l.slots) {
			break
		}
		l.slots[i] = slot
	}
}

// Payload filters the ledger down to answered questions and builds the
// grading request body.
func (l *Ledger) Payload(timeSpentSeconds int) domain.SubmitPayload {
	answers := make([]domain.SubmittedAnswer, 0, len(l.questions))
	for i, q := range l.questions {
		if !l.IsAnswered(i) {
			continue
		}
		answers = append(answers, domain.SubmittedAnswer{
			QuestionID: q.ID,
			UserAnswer: l.slots[i].Value().Wire(),
			TimeTaken:  l.answeredAt[i],
		})
	}
	return domain.SubmitPayload{Answers: answers, TimeSpent: timeSpentSeconds}
}
