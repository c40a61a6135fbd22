package attempt

import (
	"context"
	"sort"

	"quiz-attempt-service/internal/domain"
)

// HistoryResolver derives retake accounting from the submissions the grading
// collaborator has on record for a (user, quiz) pair.
type HistoryResolver struct {
	grading GradingClient
}

func NewHistoryResolver(grading GradingClient) *HistoryResolver {
	return &HistoryResolver{grading: grading}
}

// Resolve fetches the submission history, orders it by submission time and
// recomputes the retake fields locally. maxAttempts <= 0 means unlimited.
func (r *HistoryResolver) Resolve(ctx context.Context, quizID, userID string, maxAttempts int) (domain.AttemptHistory, error) {
	history, err := r.grading.SubmissionHistory(ctx, quizID, userID)
	if err != nil {
		return domain.AttemptHistory{}, err
	}
	return Recompute(history.Submissions, maxAttempts), nil
}

// Recompute rebuilds the accounting fields from a raw submission list. The
// fetched canRetake/remaining values are recomputed rather than trusted so a
// stale collaborator response cannot hand out an extra attempt.
func Recompute(submissions []domain.Submission, maxAttempts int) domain.AttemptHistory {
	ordered := make([]domain.Submission, len(submissions))
	copy(ordered, submissions)
	sort.SliceStable(ordered, func(i, j int) bool {
		return ordered[i].SubmittedAt.Before(ordered[j].SubmittedAt)
	})

	history := domain.AttemptHistory{
		Submissions:    ordered,
		CurrentAttempt: len(ordered),
	}
	for _, sub := range ordered {
		if score := sub.NormalizedScore(); score > history.BestScore {
			history.BestScore = score
		}
	}
	if maxAttempts <= 0 {
		history.CanRetake = true
		history.RemainingAttempts = -1
		return history
	}
	history.RemainingAttempts = maxAttempts - len(ordered)
	if history.RemainingAttempts < 0 {
		history.RemainingAttempts = 0
	}
	history.CanRetake = history.RemainingAttempts > 0
	return history
}
