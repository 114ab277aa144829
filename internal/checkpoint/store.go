package checkpoint

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/meghx-ai/meghx/internal/expense"
)

// ErrNotFound is returned when no snapshot exists for the thread, either
// because none was saved or because its TTL expired.
var ErrNotFound = errors.New("checkpoint not found")

// Snapshot is the per-thread state persisted between turns. Version guards
// against loading snapshots written by an incompatible layout.
type Snapshot struct {
	Version   int           `json:"version"`
	UserID    int64         `json:"user_id"`
	ThreadID  string        `json:"thread_id"`
	Expense   expense.State `json:"expense"`
	UpdatedAt time.Time     `json:"updated_at"`
}

// HasPendingInterrupt reports whether the snapshot holds a paused workflow
// that the next user message should resume.
func (s *Snapshot) HasPendingInterrupt() bool {
	return s.Expense.HasPendingInterrupt()
}

// TTLPolicy decides snapshot retention per user.
type TTLPolicy struct {
	Default    time.Duration
	Privileged time.Duration
	privileged map[int64]struct{}
}

// NewTTLPolicy builds a policy with an extended window for the given users.
func NewTTLPolicy(def, privileged time.Duration, privilegedUsers []int64) TTLPolicy {
	set := make(map[int64]struct{}, len(privilegedUsers))
	for _, id := range privilegedUsers {
		set[id] = struct{}{}
	}
	return TTLPolicy{Default: def, Privileged: privileged, privileged: set}
}

// For returns the retention window for a user.
func (p TTLPolicy) For(userID int64) time.Duration {
	if _, ok := p.privileged[userID]; ok {
		return p.Privileged
	}
	return p.Default
}

// Store persists interrupt snapshots in Redis keyed by user and thread.
type Store struct {
	client *redis.Client
	policy TTLPolicy
}

// NewStore creates a checkpoint store.
func NewStore(client *redis.Client, policy TTLPolicy) *Store {
	return &Store{client: client, policy: policy}
}

func snapshotKey(userID int64, threadID string) string {
	return fmt.Sprintf("checkpoint:%d:%s", userID, threadID)
}

// Save writes the snapshot, refreshing its TTL from the policy.
func (s *Store) Save(ctx context.Context, snap Snapshot) error {
	snap.Version = expense.StateVersion
	snap.UpdatedAt = time.Now().UTC()

	data, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("marshaling snapshot: %w", err)
	}

	key := snapshotKey(snap.UserID, snap.ThreadID)
	if err := s.client.Set(ctx, key, data, s.policy.For(snap.UserID)).Err(); err != nil {
		return fmt.Errorf("set %s: %w", key, err)
	}
	return nil
}

// Load fetches the snapshot for a thread. A missing key or an incompatible
// version both report ErrNotFound so callers fall back to a fresh turn.
func (s *Store) Load(ctx context.Context, userID int64, threadID string) (*Snapshot, error) {
	key := snapshotKey(userID, threadID)

	data, err := s.client.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get %s: %w", key, err)
	}

	var snap Snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return nil, fmt.Errorf("unmarshaling snapshot %s: %w", key, err)
	}
	if snap.Version != expense.StateVersion {
		return nil, ErrNotFound
	}
	return &snap, nil
}

// Delete removes a thread's snapshot. Deleting a missing key is not an error.
func (s *Store) Delete(ctx context.Context, userID int64, threadID string) error {
	return s.client.Del(ctx, snapshotKey(userID, threadID)).Err()
}
