package memory

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// SettingsStore fetches per-user memory preferences.
type SettingsStore interface {
	Get(ctx context.Context, userID int64) (Settings, error)
}

// PostgresSettingsStore implements SettingsStore using pgx. Users without a
// row get the defaults.
type PostgresSettingsStore struct {
	pool          *pgxpool.Pool
	retentionDays int
}

// NewPostgresSettingsStore creates a settings store with the given default
// semantic retention.
func NewPostgresSettingsStore(pool *pgxpool.Pool, retentionDays int) *PostgresSettingsStore {
	return &PostgresSettingsStore{pool: pool, retentionDays: retentionDays}
}

func (s *PostgresSettingsStore) Get(ctx context.Context, userID int64) (Settings, error) {
	var out Settings
	err := s.pool.QueryRow(ctx,
		`SELECT allow_episodic, allow_semantic, allow_procedural, allow_long_conversation_memory, semantic_retention_days
		 FROM user_memory_settings WHERE user_id = $1`,
		userID,
	).Scan(&out.AllowEpisodic, &out.AllowSemantic, &out.AllowProcedural, &out.AllowSummary, &out.SemanticRetentionDays)
	if errors.Is(err, pgx.ErrNoRows) {
		return DefaultSettings(s.retentionDays), nil
	}
	if err != nil {
		return Settings{}, fmt.Errorf("fetching memory settings: %w", err)
	}
	if out.SemanticRetentionDays <= 0 {
		out.SemanticRetentionDays = s.retentionDays
	}
	return out, nil
}
