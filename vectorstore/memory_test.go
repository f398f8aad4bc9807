package vectorstore

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/huevec/aggregate"
	"github.com/hupe1980/huevec/feature"
)

func testVector(word, revision, imageID string, values ...float32) feature.Vector {
	return feature.Vector{
		Values: values,
		Provenance: feature.Provenance{
			ImageID:   imageID,
			Word:      word,
			Revision:  revision,
			CreatedAt: time.Date(2024, 5, 14, 12, 0, 0, 0, time.UTC),
		},
	}
}

func testWordVector(word, revision string, count uint64, mean ...float64) aggregate.WordVector {
	m2 := make([]float64, len(mean))
	return aggregate.WordVector{
		Word:     word,
		Revision: revision,
		Count:    count,
		Mean:     mean,
		M2:       m2,
	}
}

func TestMemoryStore_Vectors(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	defer s.Close()

	t.Run("put and get", func(t *testing.T) {
		v := testVector("ocean", "rev-a", "img-1", 0.1, 0.2)
		require.NoError(t, s.PutVector(ctx, v))

		got, err := s.GetVector(ctx, "ocean", "rev-a", "img-1")
		require.NoError(t, err)
		assert.Equal(t, v, got)
	})

	t.Run("get returns a copy", func(t *testing.T) {
		got, err := s.GetVector(ctx, "ocean", "rev-a", "img-1")
		require.NoError(t, err)
		got.Values[0] = 99

		again, err := s.GetVector(ctx, "ocean", "rev-a", "img-1")
		require.NoError(t, err)
		assert.Equal(t, float32(0.1), again.Values[0])
	})

	t.Run("overwrite same key", func(t *testing.T) {
		require.NoError(t, s.PutVector(ctx, testVector("ocean", "rev-a", "img-1", 0.5, 0.6)))

		got, err := s.GetVector(ctx, "ocean", "rev-a", "img-1")
		require.NoError(t, err)
		assert.Equal(t, []float32{0.5, 0.6}, got.Values)

		images, err := s.ListImages(ctx, "ocean", "rev-a")
		require.NoError(t, err)
		assert.Equal(t, []string{"img-1"}, images)
	})

	t.Run("not found", func(t *testing.T) {
		_, err := s.GetVector(ctx, "ocean", "rev-a", "missing")
		assert.ErrorIs(t, err, ErrNotFound)
	})

	t.Run("invalid keys", func(t *testing.T) {
		_, err := s.GetVector(ctx, "", "rev-a", "img-1")
		assert.ErrorIs(t, err, ErrInvalidKey)

		err = s.PutVector(ctx, testVector("ocean", "rev\x00a", "img-1", 1))
		assert.ErrorIs(t, err, ErrInvalidKey)
	})
}

func TestMemoryStore_Listings(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	defer s.Close()

	require.NoError(t, s.PutVector(ctx, testVector("ocean", "rev-a", "img-2", 1)))
	require.NoError(t, s.PutVector(ctx, testVector("ocean", "rev-a", "img-1", 2)))
	require.NoError(t, s.PutVector(ctx, testVector("forest", "rev-a", "img-3", 3)))
	require.NoError(t, s.PutVector(ctx, testVector("ocean", "rev-b", "img-4", 4)))
	require.NoError(t, s.PutWordVector(ctx, testWordVector("sunset", "rev-a", 1, 0.5)))

	t.Run("list images sorted", func(t *testing.T) {
		images, err := s.ListImages(ctx, "ocean", "rev-a")
		require.NoError(t, err)
		assert.Equal(t, []string{"img-1", "img-2"}, images)
	})

	t.Run("list images empty", func(t *testing.T) {
		images, err := s.ListImages(ctx, "ocean", "rev-z")
		require.NoError(t, err)
		assert.Empty(t, images)
	})

	t.Run("list words includes both kinds", func(t *testing.T) {
		words, err := s.ListWords(ctx, "rev-a")
		require.NoError(t, err)
		assert.Equal(t, []string{"forest", "ocean", "sunset"}, words)
	})

	t.Run("list words scoped to revision", func(t *testing.T) {
		words, err := s.ListWords(ctx, "rev-b")
		require.NoError(t, err)
		assert.Equal(t, []string{"ocean"}, words)
	})

	t.Run("list revisions", func(t *testing.T) {
		revisions, err := s.ListRevisions(ctx)
		require.NoError(t, err)
		assert.Equal(t, []string{"rev-a", "rev-b"}, revisions)
	})
}

func TestMemoryStore_WordVectors(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	defer s.Close()

	wv := testWordVector("ocean", "rev-a", 3, 0.1, 0.2)
	require.NoError(t, s.PutWordVector(ctx, wv))

	got, err := s.GetWordVector(ctx, "ocean", "rev-a")
	require.NoError(t, err)
	assert.Equal(t, wv, got)

	// Returned value is detached from store state.
	got.Mean[0] = 42
	again, err := s.GetWordVector(ctx, "ocean", "rev-a")
	require.NoError(t, err)
	assert.Equal(t, 0.1, again.Mean[0])

	_, err = s.GetWordVector(ctx, "ocean", "rev-z")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestMemoryStore_Finalize(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	defer s.Close()

	require.NoError(t, s.PutVector(ctx, testVector("ocean", "rev-a", "img-1", 1)))
	require.NoError(t, s.Finalize(ctx, "rev-a"))

	finalized, err := s.Finalized(ctx, "rev-a")
	require.NoError(t, err)
	assert.True(t, finalized)

	t.Run("writes rejected", func(t *testing.T) {
		err := s.PutVector(ctx, testVector("ocean", "rev-a", "img-2", 2))
		assert.ErrorIs(t, err, ErrRevisionFinalized)

		err = s.PutWordVector(ctx, testWordVector("ocean", "rev-a", 1, 0.5))
		assert.ErrorIs(t, err, ErrRevisionFinalized)
	})

	t.Run("idempotent", func(t *testing.T) {
		require.NoError(t, s.Finalize(ctx, "rev-a"))
	})

	t.Run("other revisions unaffected", func(t *testing.T) {
		require.NoError(t, s.PutVector(ctx, testVector("ocean", "rev-b", "img-2", 2)))
	})

	t.Run("reads still work", func(t *testing.T) {
		_, err := s.GetVector(ctx, "ocean", "rev-a", "img-1")
		require.NoError(t, err)
	})
}

func TestMemoryStore_DumpRestore(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	defer s.Close()

	require.NoError(t, s.PutVector(ctx, testVector("ocean", "rev-a", "img-1", 1)))
	require.NoError(t, s.PutVector(ctx, testVector("forest", "rev-b", "img-2", 2)))
	require.NoError(t, s.PutWordVector(ctx, testWordVector("ocean", "rev-a", 1, 1)))
	require.NoError(t, s.Finalize(ctx, "rev-a"))

	t.Run("dump everything", func(t *testing.T) {
		d, err := s.Dump(ctx)
		require.NoError(t, err)
		assert.Len(t, d.Vectors, 2)
		assert.Len(t, d.WordVectors, 1)
		assert.Len(t, d.Revisions, 1)
	})

	t.Run("dump filtered", func(t *testing.T) {
		d, err := s.Dump(ctx, "rev-b")
		require.NoError(t, err)
		require.Len(t, d.Vectors, 1)
		assert.Equal(t, "forest", d.Vectors[0].Provenance.Word)
		assert.Empty(t, d.WordVectors)
		assert.Empty(t, d.Revisions)
	})

	t.Run("restore reproduces contents", func(t *testing.T) {
		d, err := s.Dump(ctx)
		require.NoError(t, err)

		fresh := NewMemoryStore()
		defer fresh.Close()
		require.NoError(t, fresh.Restore(ctx, d))

		d2, err := fresh.Dump(ctx)
		require.NoError(t, err)
		assert.Equal(t, d, d2)

		finalized, err := fresh.Finalized(ctx, "rev-a")
		require.NoError(t, err)
		assert.True(t, finalized)
	})

	t.Run("restore merges word vectors when asked", func(t *testing.T) {
		a := NewMemoryStore()
		defer a.Close()
		require.NoError(t, a.PutWordVector(ctx, aggregate.WordVector{
			Word: "ocean", Revision: "rev-m", Count: 2,
			Mean: []float64{1, 3}, M2: []float64{0, 0},
		}))

		d := &Dump{WordVectors: []aggregate.WordVector{{
			Word: "ocean", Revision: "rev-m", Count: 2,
			Mean: []float64{3, 5}, M2: []float64{0, 0},
		}}}

		require.NoError(t, a.Restore(ctx, d, func(o *RestoreOptions) {
			o.MergeWords = true
		}))

		got, err := a.GetWordVector(ctx, "ocean", "rev-m")
		require.NoError(t, err)
		assert.Equal(t, uint64(4), got.Count)
		assert.InDelta(t, 2.0, got.Mean[0], 1e-12)
		assert.InDelta(t, 4.0, got.Mean[1], 1e-12)
	})
}

func TestMemoryStore_Closed(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	require.NoError(t, s.Close())

	err := s.PutVector(ctx, testVector("ocean", "rev-a", "img-1", 1))
	assert.ErrorIs(t, err, ErrClosed)

	_, err = s.ListRevisions(ctx)
	assert.ErrorIs(t, err, ErrClosed)
}
