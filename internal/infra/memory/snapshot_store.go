package memory

import (
	"context"
	"sync"

	"quiz-attempt-service/internal/domain"
)

// SnapshotStore is an in-memory implementation of attempt.SnapshotStore,
// used in tests and when running without redis. One record per (user, quiz),
// overwritten on every save.
type SnapshotStore struct {
	mu        sync.RWMutex
	snapshots map[string]domain.Snapshot
}

func NewSnapshotStore() *SnapshotStore {
	return &SnapshotStore{snapshots: make(map[string]domain.Snapshot)}
}

func (s *SnapshotStore) Load(_ context.Context, userID, quizID string) (domain.Snapshot, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	snap, ok := s.snapshots[key(userID, quizID)]
	return snap, ok, nil
}

func (s *SnapshotStore) Save(_ context.Context, userID, quizID string, snap domain.Snapshot) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.snapshots[key(userID, quizID)] = snap
	return nil
}

func (s *SnapshotStore) Clear(_ context.Context, userID, quizID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.snapshots, key(userID, quizID))
	return nil
}

func key(userID, quizID string) string {
	return userID + "|" + quizID
}
