package redis

import (
	"context"
	"testing"

	"quiz-attempt-service/internal/domain"
	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func testClient(t *testing.T) *redis.Client {
	t.Helper()
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("run miniredis: %v", err)
	}
	t.Cleanup(mr.Close)
	return redis.NewClient(&redis.Options{Addr: mr.Addr()})
}

func TestSnapshotStoreRoundTrip(t *testing.T) {
	ctx := context.Background()
	store := NewSnapshotStore(testClient(t))

	if _, found, err := store.Load(ctx, "u1", "quiz-1"); err != nil || found {
		t.Fatalf("expected miss on empty store, found=%v err=%v", found, err)
	}

	option := 2
	text := "Paris"
	snap := domain.Snapshot{
		Answers:          []domain.AnswerSlot{{Option: &option}, {}, {Text: &text}},
		RemainingSeconds: 734,
	}
	if err := store.Save(ctx, "u1", "quiz-1", snap); err != nil {
		t.Fatalf("save: %v", err)
	}

	loaded, found, err := store.Load(ctx, "u1", "quiz-1")
	if err != nil || !found {
		t.Fatalf("load: found=%v err=%v", found, err)
	}
	if loaded.RemainingSeconds != 734 || len(loaded.Answers) != 3 {
		t.Fatalf("unexpected snapshot %+v", loaded)
	}
	if loaded.Answers[0].Option == nil || *loaded.Answers[0].Option != 2 {
		t.Fatalf("option slot lost: %+v", loaded.Answers[0])
	}
	if !loaded.Answers[1].Empty() {
		t.Fatalf("empty slot not preserved")
	}
	if loaded.Answers[2].Text == nil || *loaded.Answers[2].Text != "Paris" {
		t.Fatalf("text slot lost: %+v", loaded.Answers[2])
	}
}

func TestSnapshotStoreOverwritesAndClears(t *testing.T) {
	ctx := context.Background()
	store := NewSnapshotStore(testClient(t))

	_ = store.Save(ctx, "u1", "quiz-1", domain.Snapshot{RemainingSeconds: 900})
	_ = store.Save(ctx, "u1", "quiz-1", domain.Snapshot{RemainingSeconds: 850})

	loaded, _, _ := store.Load(ctx, "u1", "quiz-1")
	if loaded.RemainingSeconds != 850 {
		t.Fatalf("save must overwrite, got %d", loaded.RemainingSeconds)
	}

	if err := store.Clear(ctx, "u1", "quiz-1"); err != nil {
		t.Fatalf("clear: %v", err)
	}
	if _, found, _ := store.Load(ctx, "u1", "quiz-1"); found {
		t.Fatalf("snapshot still present after clear")
	}
}

func TestSnapshotStoreKeysAreScoped(t *testing.T) {
	ctx := context.Background()
	store := NewSnapshotStore(testClient(t))

	_ = store.Save(ctx, "u1", "quiz-1", domain.Snapshot{RemainingSeconds: 100})
	_ = store.Save(ctx, "u2", "quiz-1", domain.Snapshot{RemainingSeconds: 200})

	if err := store.Clear(ctx, "u1", "quiz-1"); err != nil {
		t.Fatalf("clear: %v", err)
	}
	if _, found, _ := store.Load(ctx, "u2", "quiz-1"); !found {
		t.Fatalf("clearing one user's snapshot removed another's")
	}
}
