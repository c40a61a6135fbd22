package domain

import (
	"errors"
	"fmt"
)

var (
	// ErrQuizNotFound indicates the quiz content could not be loaded.
	ErrQuizNotFound = errors.New("quiz not found")
	// ErrSessionNotFound is returned when no attempt session exists for the key.
	ErrSessionNotFound = errors.New("attempt session not found")
	// ErrEmptyQuiz rejects starting an attempt on a quiz with zero questions.
	ErrEmptyQuiz = errors.New("quiz has no questions")
	// ErrNoAttemptsLeft rejects starting an attempt once maxAttempts is used up.
	ErrNoAttemptsLeft = errors.New("no attempts remaining")
	// ErrSessionFinalizing rejects ledger writes while a finalize is in flight.
	ErrSessionFinalizing = errors.New("attempt is being finalized")
	// ErrQuestionIndex is returned for an answer aimed at a question index
	// outside the quiz.
	ErrQuestionIndex = errors.New("question index out of range")
)

// ErrorKind classifies a failed or short-circuited grading call. The grading
// collaborator reports a stable machine code with every error response;
// transport-level failures map to KindNetwork.
type ErrorKind string

const (
	KindAlreadySubmitted ErrorKind = "ALREADY_SUBMITTED"
	KindQuizExpired      ErrorKind = "QUIZ_EXPIRED"
	KindValidation       ErrorKind = "VALIDATION"
	KindNetwork          ErrorKind = "NETWORK"
	KindEmptyQuiz        ErrorKind = "EMPTY_QUIZ"
)

// GradingError is a classified failure from the grading collaborator.
type GradingError struct {
	Kind    ErrorKind
	Message string
	Cause   error
}

func (e *GradingError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("grading: %s: %s", e.Kind, e.Message)
	}
	return fmt.Sprintf("grading: %s", e.Kind)
}

func (e *GradingError) Unwrap() error { return e.Cause }

// KindOf extracts the ErrorKind from err, defaulting to KindNetwork for
// unclassified failures so callers treat unknown errors as retryable.
func KindOf(err error) ErrorKind {
	var ge *GradingError
	if errors.As(err, &ge) {
		return ge.Kind
	}
	return KindNetwork
}

// Recoverable reports whether the attempt may return to ACTIVE after this
// error, keeping the ledger and snapshot intact.
func (k ErrorKind) Recoverable() bool {
	return k == KindNetwork || k == KindValidation
}
