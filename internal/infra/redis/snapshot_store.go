package redis

import (
	"context"
	"encoding/json"
	"fmt"

	"quiz-attempt-service/internal/domain"
	"github.com/redis/go-redis/v9"
)

// SnapshotStore persists in-progress attempts in Redis so a reload resumes
// with the answers and remaining time intact. One key per (user, quiz),
// overwritten on every save, no TTL: only reaching COMPLETED clears it.
type SnapshotStore struct {
	client *redis.Client
}

func NewSnapshotStore(client *redis.Client) *SnapshotStore {
	return &SnapshotStore{client: client}
}

func (s *SnapshotStore) Load(ctx context.Context, userID, quizID string) (domain.Snapshot, bool, error) {
	raw, err := s.client.Get(ctx, s.key(userID, quizID)).Bytes()
	if err == redis.Nil {
		return domain.Snapshot{}, false, nil
	}
	if err != nil {
		return domain.Snapshot{}, false, fmt.Errorf("load snapshot: %w", err)
	}
	var snap domain.Snapshot
	if err := json.Unmarshal(raw, &snap); err != nil {
		return domain.Snapshot{}, false, fmt.Errorf("decode snapshot: %w", err)
	}
	return snap, true, nil
}

func (s *SnapshotStore) Save(ctx context.Context, userID, quizID string, snap domain.Snapshot) error {
	raw, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("encode snapshot: %w", err)
	}
	if err := s.client.Set(ctx, s.key(userID, quizID), raw, 0).Err(); err != nil {
		return fmt.Errorf("save snapshot: %w", err)
	}
	return nil
}

func (s *SnapshotStore) Clear(ctx context.Context, userID, quizID string) error {
	if err := s.client.Del(ctx, s.key(userID, quizID)).Err(); err != nil {
		return fmt.Errorf("clear snapshot: %w", err)
	}
	return nil
}

func (s *SnapshotStore) key(userID, quizID string) string {
	return "attempt:snapshot:" + userID + ":" + quizID
}
