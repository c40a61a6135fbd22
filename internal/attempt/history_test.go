package attempt

import (
	"testing"
	"time"

	"quiz-attempt-service/internal/domain"
)

func TestRecomputeAccounting(t *testing.T) {
	base := time.Date(2025, 8, 11, 9, 0, 0, 0, time.UTC)
	submissions := []domain.Submission{
		{ID: "s2", Score: 18, TotalPoints: 20, SubmittedAt: base.Add(time.Hour)},
		{ID: "s1", Score: 5, TotalPoints: 10, SubmittedAt: base},
	}

	history := Recompute(submissions, 3)
	if history.CurrentAttempt != 2 || history.RemainingAttempts != 1 || !history.CanRetake {
		t.Fatalf("unexpected accounting %+v", history)
	}
	if history.Submissions[0].ID != "s1" || history.Submissions[1].ID != "s2" {
		t.Fatalf("submissions not ordered by submittedAt: %+v", history.Submissions)
	}
	// Best score is normalized: 18/20 beats 5/10.
	if history.BestScore != 0.9 {
		t.Fatalf("bestScore = %v", history.BestScore)
	}
}

func TestRecomputeCanRetakeBoundary(t *testing.T) {
	subs := []domain.Submission{{ID: "s1", SubmittedAt: time.Now()}}

	if h := Recompute(subs, 1); h.CanRetake || h.RemainingAttempts != 0 {
		t.Fatalf("maxAttempts=1 with one submission must not allow retake: %+v", h)
	}
	if h := Recompute(nil, 1); !h.CanRetake || h.RemainingAttempts != 1 {
		t.Fatalf("fresh quiz should allow the first attempt: %+v", h)
	}
	// More submissions than the cap (cap lowered after the fact) clamps to zero.
	if h := Recompute([]domain.Submission{{ID: "a"}, {ID: "b"}}, 1); h.CanRetake || h.RemainingAttempts != 0 {
		t.Fatalf("over-cap history must clamp: %+v", h)
	}
}

func TestRecomputeUnlimitedAttempts(t *testing.T) {
	h := Recompute([]domain.Submission{{ID: "a"}, {ID: "b"}, {ID: "c"}}, 0)
	if !h.CanRetake {
		t.Fatalf("maxAttempts<=0 means unlimited retakes")
	}
}
