package vectorstore

import (
	"context"
	"os"
	"testing"

	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// newTestPostgresStore connects to the database named by
// HUEVEC_TEST_POSTGRES_DSN and starts from empty tables. The tests are
// skipped when the variable is unset.
func newTestPostgresStore(t *testing.T) *PostgresStore {
	t.Helper()

	dsn := os.Getenv("HUEVEC_TEST_POSTGRES_DSN")
	if dsn == "" {
		t.Skip("HUEVEC_TEST_POSTGRES_DSN not set, skipping Postgres store tests")
	}

	db, err := sqlx.Connect("postgres", dsn)
	require.NoError(t, err)
	_, err = db.Exec(`DROP TABLE IF EXISTS huevec_schema, huevec_revisions, huevec_word_vectors, huevec_vectors`)
	require.NoError(t, err)
	require.NoError(t, db.Close())

	s, err := NewPostgresStore(context.Background(), dsn)
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestPostgresStore_BasicOps(t *testing.T) {
	ctx := context.Background()
	s := newTestPostgresStore(t)

	v := testVector("ocean", "rev-a", "img-1", 0.1, 0.2)
	require.NoError(t, s.PutVector(ctx, v))
	require.NoError(t, s.PutVector(ctx, testVector("ocean", "rev-a", "img-0", 0.3)))
	require.NoError(t, s.PutWordVector(ctx, testWordVector("ocean", "rev-a", 2, 0.2)))

	got, err := s.GetVector(ctx, "ocean", "rev-a", "img-1")
	require.NoError(t, err)
	assert.Equal(t, v.Values, got.Values)
	assert.Equal(t, v.Provenance.Word, got.Provenance.Word)
	assert.WithinDuration(t, v.Provenance.CreatedAt, got.Provenance.CreatedAt, 0)

	_, err = s.GetVector(ctx, "ocean", "rev-a", "missing")
	assert.ErrorIs(t, err, ErrNotFound)

	images, err := s.ListImages(ctx, "ocean", "rev-a")
	require.NoError(t, err)
	assert.Equal(t, []string{"img-0", "img-1"}, images)

	words, err := s.ListWords(ctx, "rev-a")
	require.NoError(t, err)
	assert.Equal(t, []string{"ocean"}, words)

	revisions, err := s.ListRevisions(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"rev-a"}, revisions)

	wv, err := s.GetWordVector(ctx, "ocean", "rev-a")
	require.NoError(t, err)
	assert.Equal(t, uint64(2), wv.Count)
	assert.Equal(t, []float64{0.2}, wv.Mean)
}

func TestPostgresStore_Finalize(t *testing.T) {
	ctx := context.Background()
	s := newTestPostgresStore(t)

	require.NoError(t, s.PutVector(ctx, testVector("ocean", "rev-a", "img-1", 1)))
	require.NoError(t, s.Finalize(ctx, "rev-a"))

	finalized, err := s.Finalized(ctx, "rev-a")
	require.NoError(t, err)
	assert.True(t, finalized)

	err = s.PutVector(ctx, testVector("ocean", "rev-a", "img-2", 2))
	assert.ErrorIs(t, err, ErrRevisionFinalized)

	// Finalize is idempotent.
	require.NoError(t, s.Finalize(ctx, "rev-a"))
}

func TestPostgresStore_DumpRestore(t *testing.T) {
	ctx := context.Background()
	s := newTestPostgresStore(t)

	require.NoError(t, s.PutVector(ctx, testVector("ocean", "rev-a", "img-1", 1)))
	require.NoError(t, s.PutVector(ctx, testVector("forest", "rev-b", "img-2", 2)))
	require.NoError(t, s.PutWordVector(ctx, testWordVector("ocean", "rev-a", 1, 1)))
	require.NoError(t, s.Finalize(ctx, "rev-a"))

	d, err := s.Dump(ctx, "rev-a")
	require.NoError(t, err)
	assert.Len(t, d.Vectors, 1)
	assert.Len(t, d.WordVectors, 1)
	assert.Len(t, d.Revisions, 1)

	dst := NewMemoryStore()
	defer dst.Close()
	require.NoError(t, dst.Restore(ctx, d))

	finalized, err := dst.Finalized(ctx, "rev-a")
	require.NoError(t, err)
	assert.True(t, finalized)
}
