//go:build integration

package memory

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/meghx-ai/meghx/internal/crypto"
	"github.com/meghx-ai/meghx/internal/database"
)

const testEncryptionKey = "0123456789abcdef0123456789abcdef0123456789abcdef0123456789abcdef"

func setupSemanticStore(t *testing.T) (*PostgresSemanticStore, *pgxpool.Pool) {
	t.Helper()
	ctx := context.Background()

	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: testcontainers.ContainerRequest{
			Image:        "pgvector/pgvector:0.8.1-pg16",
			ExposedPorts: []string{"5432/tcp"},
			Env: map[string]string{
				"POSTGRES_USER":     "test",
				"POSTGRES_PASSWORD": "test",
				"POSTGRES_DB":       "meghx_test",
			},
			WaitingFor: wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(60 * time.Second),
		},
		Started: true,
	})
	require.NoError(t, err)
	t.Cleanup(func() { container.Terminate(ctx) })

	host, err := container.Host(ctx)
	require.NoError(t, err)
	port, err := container.MappedPort(ctx, "5432")
	require.NoError(t, err)

	dsn := fmt.Sprintf("postgres://test:test@%s:%s/meghx_test?sslmode=disable", host, port.Port())
	require.NoError(t, database.RunMigrations(dsn, "../../migrations"))

	pool, err := pgxpool.New(ctx, dsn)
	require.NoError(t, err)
	t.Cleanup(pool.Close)

	encryptor, err := crypto.NewEncryptor(testEncryptionKey)
	require.NoError(t, err)

	return NewPostgresSemanticStore(pool, HashEmbedder{}, encryptor), pool
}

func activeVersions(t *testing.T, pool *pgxpool.Pool, userID int64, fingerprint string) int {
	t.Helper()
	var n int
	err := pool.QueryRow(context.Background(),
		`SELECT count(*) FROM semantic_memories
		 WHERE user_id = $1 AND fingerprint = $2 AND retention_until > now()`,
		userID, fingerprint,
	).Scan(&n)
	require.NoError(t, err)
	return n
}

func TestSemanticStore_SaveVersionsByFingerprint(t *testing.T) {
	store, pool := setupSemanticStore(t)
	ctx := context.Background()

	fact := SemanticFact{
		UserID:         7,
		Fact:           "user keeps a monthly grocery budget of 500",
		Fingerprint:    Fingerprint("monthly grocery budget"),
		Confidence:     0.9,
		RetentionUntil: time.Now().Add(90 * 24 * time.Hour),
	}

	versioned, err := store.Save(ctx, fact)
	require.NoError(t, err)
	assert.False(t, versioned, "first write of a fingerprint is not a versioning")

	fact.Fact = "user keeps a monthly grocery budget of 650"
	versioned, err = store.Save(ctx, fact)
	require.NoError(t, err)
	assert.True(t, versioned, "same fingerprint expires the previous version")

	assert.Equal(t, 1, activeVersions(t, pool, 7, fact.Fingerprint))

	facts, err := store.Query(ctx, 7, "monthly grocery budget", 5)
	require.NoError(t, err)
	require.Len(t, facts, 1)
	assert.Contains(t, facts[0], "650")
}

func TestSemanticStore_ConcurrentSavesKeepOneActiveVersion(t *testing.T) {
	store, pool := setupSemanticStore(t)
	ctx := context.Background()
	fp := Fingerprint("home city")

	const writers = 8
	var wg sync.WaitGroup
	errs := make(chan error, writers)
	for i := 0; i < writers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := store.Save(ctx, SemanticFact{
				UserID:         7,
				Fact:           fmt.Sprintf("user lives in city number %d", i),
				Fingerprint:    fp,
				Confidence:     0.8,
				RetentionUntil: time.Now().Add(24 * time.Hour),
			})
			errs <- err
		}(i)
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		require.NoError(t, err)
	}

	assert.Equal(t, 1, activeVersions(t, pool, 7, fp))
}

func TestSemanticStore_EncryptedFactRoundTrips(t *testing.T) {
	store, pool := setupSemanticStore(t)
	ctx := context.Background()

	_, err := store.Save(ctx, SemanticFact{
		UserID:         7,
		Fact:           "user email is pat@example.com",
		Fingerprint:    Fingerprint("user email"),
		Confidence:     1,
		Encrypted:      true,
		RetentionUntil: time.Now().Add(24 * time.Hour),
	})
	require.NoError(t, err)

	var stored string
	require.NoError(t, pool.QueryRow(ctx,
		`SELECT fact FROM semantic_memories WHERE user_id = 7`,
	).Scan(&stored))
	assert.NotContains(t, stored, "pat@example.com", "plaintext never reaches the row")

	facts, err := store.Query(ctx, 7, "user email", 5)
	require.NoError(t, err)
	require.Len(t, facts, 1)
	assert.Equal(t, "user email is pat@example.com", facts[0])
}
