package memory

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	pgvector "github.com/pgvector/pgvector-go"

	"github.com/meghx-ai/meghx/internal/crypto"
	"github.com/meghx-ai/meghx/internal/metrics"
)

// Embedder turns text into a fixed-size vector for similarity search.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// SemanticStore persists durable user facts.
type SemanticStore interface {
	Save(ctx context.Context, fact SemanticFact) (versioned bool, err error)
	Query(ctx context.Context, userID int64, query string, topK int) ([]string, error)
	DecayOnce(ctx context.Context, batchSize int) (int64, error)
}

// PostgresSemanticStore implements SemanticStore using pgx + pgvector.
type PostgresSemanticStore struct {
	pool      *pgxpool.Pool
	embedder  Embedder
	encryptor *crypto.Encryptor
}

// NewPostgresSemanticStore creates a semantic fact store.
func NewPostgresSemanticStore(pool *pgxpool.Pool, embedder Embedder, encryptor *crypto.Encryptor) *PostgresSemanticStore {
	return &PostgresSemanticStore{pool: pool, embedder: embedder, encryptor: encryptor}
}

// Save stores a fact. An active fact with the same fingerprint is expired
// first so the new version takes over; this counts as versioning, never as
// a duplicate rejection. Expire and insert run in one transaction under an
// advisory lock so concurrent extractions for the same fingerprint cannot
// leave two active versions.
func (s *PostgresSemanticStore) Save(ctx context.Context, fact SemanticFact) (bool, error) {
	if fact.Fingerprint == "" {
		return false, errors.New("semantic fact requires a fingerprint")
	}

	// Embedding and encryption happen before the lock is taken.
	embedding, err := s.embedder.Embed(ctx, fact.Fact)
	if err != nil {
		return false, fmt.Errorf("embedding fact: %w", err)
	}

	content := fact.Fact
	if fact.Encrypted {
		content, err = s.encryptor.Encrypt(fact.Fact)
		if err != nil {
			return false, fmt.Errorf("encrypting fact: %w", err)
		}
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return false, fmt.Errorf("beginning fact tx: %w", err)
	}
	defer tx.Rollback(ctx)

	// A row lock cannot serialize the first write of a fingerprint, since
	// there is no row to lock yet. The advisory lock covers that case and
	// is released on commit or rollback.
	_, err = tx.Exec(ctx,
		`SELECT pg_advisory_xact_lock(hashtextextended($1::text || ':' || $2, 0))`,
		fact.UserID, fact.Fingerprint,
	)
	if err != nil {
		return false, fmt.Errorf("locking fingerprint: %w", err)
	}

	tag, err := tx.Exec(ctx,
		`UPDATE semantic_memories
		 SET retention_until = now()
		 WHERE user_id = $1 AND fingerprint = $2 AND retention_until > now()`,
		fact.UserID, fact.Fingerprint,
	)
	if err != nil {
		return false, fmt.Errorf("expiring previous version: %w", err)
	}
	versioned := tag.RowsAffected() > 0

	_, err = tx.Exec(ctx,
		`INSERT INTO semantic_memories (user_id, fact, fingerprint, confidence, encrypted, embedding, retention_until)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		fact.UserID, content, fact.Fingerprint, fact.Confidence, fact.Encrypted,
		pgvector.NewVector(embedding), fact.RetentionUntil,
	)
	if err != nil {
		return false, fmt.Errorf("inserting semantic fact: %w", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return false, fmt.Errorf("committing fact tx: %w", err)
	}

	if versioned {
		metrics.SemanticVersionedTotal.Inc()
	}
	return versioned, nil
}

// Query returns up to topK non-expired facts nearest to the query text,
// decrypted for prompt use. Facts that no longer decrypt under any ring key
// are skipped rather than failing the lookup.
func (s *PostgresSemanticStore) Query(ctx context.Context, userID int64, query string, topK int) ([]string, error) {
	embedding, err := s.embedder.Embed(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("embedding query: %w", err)
	}

	rows, err := s.pool.Query(ctx,
		`SELECT fact, encrypted
		 FROM semantic_memories
		 WHERE user_id = $1 AND retention_until > now()
		 ORDER BY embedding <=> $2
		 LIMIT $3`,
		userID, pgvector.NewVector(embedding), topK,
	)
	if err != nil {
		return nil, fmt.Errorf("querying semantic facts: %w", err)
	}
	defer rows.Close()

	var facts []string
	for rows.Next() {
		var fact string
		var encrypted bool
		if err := rows.Scan(&fact, &encrypted); err != nil {
			return nil, fmt.Errorf("scanning semantic fact: %w", err)
		}
		if encrypted {
			plain, err := s.encryptor.Decrypt(fact)
			if err != nil {
				continue
			}
			fact = plain
		}
		facts = append(facts, fact)
	}
	return facts, rows.Err()
}

// DecayOnce deletes one batch of expired facts and reports how many were
// removed. Safe to re-run; the maintenance loop calls it periodically.
func (s *PostgresSemanticStore) DecayOnce(ctx context.Context, batchSize int) (int64, error) {
	tag, err := s.pool.Exec(ctx,
		`DELETE FROM semantic_memories
		 WHERE id IN (
		     SELECT id FROM semantic_memories
		     WHERE retention_until <= now()
		     ORDER BY created_at
		     LIMIT $1
		 )`,
		batchSize,
	)
	if err != nil {
		return 0, fmt.Errorf("decaying semantic facts: %w", err)
	}
	return tag.RowsAffected(), nil
}

// RunMaintenance periodically decays expired semantic facts until the
// context is cancelled.
func RunMaintenance(ctx context.Context, store SemanticStore, interval time.Duration, batchSize int, onDecay func(int64)) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n, err := store.DecayOnce(ctx, batchSize)
			if err == nil && n > 0 && onDecay != nil {
				onDecay(n)
			}
		}
	}
}
