package memory

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// EpisodicStore keeps the rolling per-thread event window in Redis lists.
type EpisodicStore struct {
	client   *redis.Client
	limit    int
	ttl      time.Duration
	maxChars int
}

// NewEpisodicStore creates an episodic store. limit bounds the list length,
// maxChars truncates each entry's content before storage.
func NewEpisodicStore(client *redis.Client, limit int, ttl time.Duration, maxChars int) *EpisodicStore {
	return &EpisodicStore{client: client, limit: limit, ttl: ttl, maxChars: maxChars}
}

func episodicKey(userID int64, threadID string) string {
	return fmt.Sprintf("episodic:%d:%s", userID, threadID)
}

// PushTurn appends a turn, trims the list to the configured limit, and
// refreshes the window TTL in one pipeline.
func (s *EpisodicStore) PushTurn(ctx context.Context, userID int64, threadID string, turn EpisodicTurn) error {
	if turn.Timestamp.IsZero() {
		turn.Timestamp = time.Now().UTC()
	}
	if len(turn.Content) > s.maxChars {
		turn.Content = turn.Content[:s.maxChars]
	}

	data, err := json.Marshal(turn)
	if err != nil {
		return fmt.Errorf("marshaling turn: %w", err)
	}

	key := episodicKey(userID, threadID)
	pipe := s.client.Pipeline()
	pipe.RPush(ctx, key, string(data))
	pipe.LTrim(ctx, key, int64(-s.limit), -1)
	pipe.Expire(ctx, key, s.ttl)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("pipeline exec for %s: %w", key, err)
	}
	return nil
}

// RecentTurns returns up to limit most recent turns, oldest first.
func (s *EpisodicStore) RecentTurns(ctx context.Context, userID int64, threadID string, limit int) ([]EpisodicTurn, error) {
	key := episodicKey(userID, threadID)

	vals, err := s.client.LRange(ctx, key, int64(-limit), -1).Result()
	if err != nil {
		return nil, fmt.Errorf("lrange %s: %w", key, err)
	}

	turns := make([]EpisodicTurn, 0, len(vals))
	for _, v := range vals {
		var turn EpisodicTurn
		if err := json.Unmarshal([]byte(v), &turn); err != nil {
			continue // skip malformed entries
		}
		turns = append(turns, turn)
	}
	return turns, nil
}

// Clear deletes the thread's episodic window.
func (s *EpisodicStore) Clear(ctx context.Context, userID int64, threadID string) error {
	return s.client.Del(ctx, episodicKey(userID, threadID)).Err()
}
