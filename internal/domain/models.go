package domain

import (
	"bytes"
	"encoding/json"
	"sort"
	"strings"
	"time"
)

// QuestionType enumerates the supported question kinds. Choice types carry an
// option list; text types accept free-form input.
type QuestionType string

const (
	MultipleChoice QuestionType = "MULTIPLE_CHOICE"
	TrueFalse      QuestionType = "TRUE_FALSE"
	FillBlank      QuestionType = "FILL_BLANK"
	Essay          QuestionType = "ESSAY"
)

// Option represents a selectable answer for a multiple-choice question.
type Option struct {
	ID   string `json:"id"`
	Text string `json:"text"`
}

// Question models one quiz question. AnswerKey is only meaningful on the
// grading side and must be stripped before a question reaches a student.
type Question struct {
	ID        string       `json:"id"`
	Type      QuestionType `json:"type"`
	Prompt    string       `json:"prompt"`
	Options   []Option     `json:"options,omitempty"`
	AnswerKey string       `json:"answerKey,omitempty"`
	Points    int          `json:"points"` // defaults to 1 if zero
	Order     int          `json:"order"`
}

// Quiz is an ordered, time-boxed collection of questions. Immutable for the
// duration of an attempt.
type Quiz struct {
	ID               string     `json:"id"`
	Title            string     `json:"title"`
	TimeLimitSeconds int        `json:"timeLimitSeconds"`
	MaxAttempts      int        `json:"maxAttempts"`
	ShuffleQuestions bool       `json:"shuffleQuestions"`
	ShuffleAnswers   bool       `json:"shuffleAnswers"`
	Questions        []Question `json:"questions"`
}

// OrderedQuestions returns the questions sorted by their Order field, which
// defines the navigation sequence.
func (q Quiz) OrderedQuestions() []Question {
	out := make([]Question, len(q.Questions))
	copy(out, q.Questions)
	sort.SliceStable(out, func(i, j int) bool { return out[i].Order < out[j].Order })
	return out
}

// AnswerValue holds a student's response to a single question. For
// MULTIPLE_CHOICE it records the selected option index; for every other type
// it records text (TRUE_FALSE stores "true"/"false").
type AnswerValue struct {
	OptionIndex int
	Text        string
	hasOption   bool
}

// ChoiceAnswer builds an AnswerValue for a selected option index.
func ChoiceAnswer(index int) AnswerValue {
	return AnswerValue{OptionIndex: index, hasOption: true}
}

// TextAnswer builds an AnswerValue for text-based question types.
func TextAnswer(text string) AnswerValue {
	return AnswerValue{Text: text}
}

// HasOption reports whether the value carries an option selection.
func (v AnswerValue) HasOption() bool { return v.hasOption }

// Answered reports whether the value counts as answered for the given
// question type. An unset or blank value never counts.
func (v AnswerValue) Answered(t QuestionType, optionCount int) bool {
	switch t {
	case MultipleChoice:
		return v.hasOption && v.OptionIndex >= 0 && v.OptionIndex < optionCount
	case TrueFalse:
		lower := strings.ToLower(strings.TrimSpace(v.Text))
		return lower == "true" || lower == "false"
	default:
		return strings.TrimSpace(v.Text) != ""
	}
}

// Wire returns the value in its submission form: a number for choice
// selections, a trimmed string otherwise.
func (v AnswerValue) Wire() any {
	if v.hasOption {
		return v.OptionIndex
	}
	return strings.TrimSpace(v.Text)
}

// AnswerSlot is one persisted answer inside a snapshot: a number (option
// index) for choice questions, a string for text questions, or null when the
// question is unanswered.
type AnswerSlot struct {
	Option *int
	Text   *string
}

// SlotFor converts an AnswerValue into its persisted form.
func SlotFor(v AnswerValue) AnswerSlot {
	if v.hasOption {
		idx := v.OptionIndex
		return AnswerSlot{Option: &idx}
	}
	text := v.Text
	return AnswerSlot{Text: &text}
}

// Empty reports whether the slot holds no answer.
func (s AnswerSlot) Empty() bool { return s.Option == nil && s.Text == nil }

// Value converts the slot back into an AnswerValue. The zero AnswerValue is
// returned for empty slots.
func (s AnswerSlot) Value() AnswerValue {
	if s.Option != nil {
		return ChoiceAnswer(*s.Option)
	}
	if s.Text != nil {
		return TextAnswer(*s.Text)
	}
	return AnswerValue{}
}

func (s AnswerSlot) MarshalJSON() ([]byte, error) {
	switch {
	case s.Option != nil:
		return json.Marshal(*s.Option)
	case s.Text != nil:
		return json.Marshal(*s.Text)
	default:
		return []byte("null"), nil
	}
}

func (s *AnswerSlot) UnmarshalJSON(data []byte) error {
	*s = AnswerSlot{}
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		return nil
	}
	if trimmed[0] == '"' {
		var text string
		if err := json.Unmarshal(trimmed, &text); err != nil {
			return err
		}
		s.Text = &text
		return nil
	}
	var idx int
	if err := json.Unmarshal(trimmed, &idx); err != nil {
		return err
	}
	s.Option = &idx
	return nil
}

// Snapshot is the durable record of an in-progress attempt, keyed by
// (userID, quizID). Answers are indexed by question position.
type Snapshot struct {
	Answers          []AnswerSlot `json:"answers"`
	RemainingSeconds int          `json:"remainingSeconds"`
}

// SubmittedAnswer is one entry of the grading payload.
type SubmittedAnswer struct {
	QuestionID string `json:"questionId"`
	UserAnswer any    `json:"userAnswer"`
	TimeTaken  int    `json:"timeTaken"`
}

// SubmitPayload is the body of POST /quizzes/{id}/submissions.
type SubmitPayload struct {
	Answers   []SubmittedAnswer `json:"answers"`
	TimeSpent int               `json:"timeSpent"`
}

// AnswerResult reports per-question correctness inside a graded submission.
type AnswerResult struct {
	QuestionID string `json:"questionId"`
	IsCorrect  bool   `json:"isCorrect"`
}

// Submission is the permanent, graded record of a finished attempt.
type Submission struct {
	ID               string         `json:"id"`
	AttemptNumber    int            `json:"attemptNumber"`
	Score            float64        `json:"score"`
	TotalPoints      float64        `json:"totalPoints"`
	TimeSpentSeconds int            `json:"timeSpentSeconds"`
	Answers          []AnswerResult `json:"answers"`
	SubmittedAt      time.Time      `json:"submittedAt"`
}

// NormalizedScore maps the submission score onto [0,1] so submissions with
// different point totals compare on a common scale.
func (s Submission) NormalizedScore() float64 {
	if s.TotalPoints <= 0 {
		return 0
	}
	return s.Score / s.TotalPoints
}

// AttemptHistory aggregates the prior submissions for a (user, quiz) pair and
// the retake accounting derived from them.
type AttemptHistory struct {
	Submissions       []Submission `json:"submissions"`
	CanRetake         bool         `json:"canRetake"`
	RemainingAttempts int          `json:"remainingAttempts"`
	CurrentAttempt    int          `json:"currentAttempt"`
	BestScore         float64      `json:"maxScore"`
}
