package memory

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// ProceduralStore persists behavioral rules. Each user owns exactly one row
// holding the whole rule set.
type ProceduralStore interface {
	SaveRules(ctx context.Context, userID int64, rules []Rule) error
	Rules(ctx context.Context, userID int64) ([]string, error)
}

// PostgresProceduralStore implements ProceduralStore using pgx.
type PostgresProceduralStore struct {
	pool *pgxpool.Pool
}

// NewPostgresProceduralStore creates a procedural rule store.
func NewPostgresProceduralStore(pool *pgxpool.Pool) *PostgresProceduralStore {
	return &PostgresProceduralStore{pool: pool}
}

// SaveRules merges new rules into the user's set. The row is locked for the
// duration of the merge so concurrent extractions cannot clobber each other;
// already-present rule texts are kept once.
func (s *PostgresProceduralStore) SaveRules(ctx context.Context, userID int64, rules []Rule) error {
	if len(rules) == 0 {
		return nil
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("beginning rules tx: %w", err)
	}
	defer tx.Rollback(ctx)

	var raw []byte
	var confidence float64
	err = tx.QueryRow(ctx,
		`SELECT rules, confidence FROM procedural_memories WHERE user_id = $1 FOR UPDATE`,
		userID,
	).Scan(&raw, &confidence)
	if err != nil && !errors.Is(err, pgx.ErrNoRows) {
		return fmt.Errorf("locking rules row: %w", err)
	}

	existing := unpackRules(raw)
	for _, r := range rules {
		if !containsRule(existing, r.Rule) {
			existing = append(existing, r.Rule)
		}
		if r.Confidence > confidence {
			confidence = r.Confidence
		}
	}

	packed, err := json.Marshal(existing)
	if err != nil {
		return fmt.Errorf("packing rules: %w", err)
	}

	_, err = tx.Exec(ctx,
		`INSERT INTO procedural_memories (user_id, rules, confidence, fingerprint, updated_at)
		 VALUES ($1, $2, $3, $4, now())
		 ON CONFLICT (user_id)
		 DO UPDATE SET rules = $2, confidence = $3, fingerprint = $4, updated_at = now()`,
		userID, packed, confidence, Fingerprint(string(packed)),
	)
	if err != nil {
		return fmt.Errorf("upserting rules: %w", err)
	}
	return tx.Commit(ctx)
}

// Rules returns the user's active rule set, empty when none exist.
func (s *PostgresProceduralStore) Rules(ctx context.Context, userID int64) ([]string, error) {
	var raw []byte
	err := s.pool.QueryRow(ctx,
		`SELECT rules FROM procedural_memories WHERE user_id = $1 AND active`,
		userID,
	).Scan(&raw)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("fetching rules: %w", err)
	}
	return unpackRules(raw), nil
}

func unpackRules(raw []byte) []string {
	if len(raw) == 0 {
		return nil
	}
	var rules []string
	if err := json.Unmarshal(raw, &rules); err != nil {
		return nil // corrupted set starts over
	}
	return rules
}

func containsRule(rules []string, rule string) bool {
	for _, r := range rules {
		if r == rule {
			return true
		}
	}
	return false
}
