package huevec_test

import (
	"context"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/huevec"
	"github.com/hupe1980/huevec/colorspace"
	"github.com/hupe1980/huevec/persistence"
	"github.com/hupe1980/huevec/testutil"
	"github.com/hupe1980/huevec/vectorstore"
)

func buildTable(t *testing.T) *colorspace.Table {
	t.Helper()
	return colorspace.BuildTable(func(o *colorspace.BuildOptions) {
		o.Depth = 4
	})
}

// TestCloseIdempotent verifies that calling Close multiple times is safe.
func TestCloseIdempotent(t *testing.T) {
	p, err := huevec.New(huevec.WithTable(buildTable(t)))
	require.NoError(t, err)

	ctx := context.Background()
	_, err = p.Process(ctx, huevec.Image{
		ID:   "img-001",
		Word: "dawn",
		Raw:  testutil.UniformImage(8, 8, 250, 120, 80),
	})
	require.NoError(t, err)

	err1 := p.Close()
	err2 := p.Close()
	err3 := p.Close()

	assert.NoError(t, err1, "First close should succeed")
	assert.NoError(t, err2, "Second close should be idempotent")
	assert.NoError(t, err3, "Third close should be idempotent")
}

// TestCloseNil verifies a nil pipeline closes without panicking.
func TestCloseNil(t *testing.T) {
	var p *huevec.Pipeline
	assert.NoError(t, p.Close())
}

// TestSuppliedStoreStaysOpen verifies Close leaves caller-owned
// resources alone.
func TestSuppliedStoreStaysOpen(t *testing.T) {
	ctx := context.Background()
	store := vectorstore.NewMemoryStore()
	defer store.Close()

	p, err := huevec.New(huevec.WithTable(buildTable(t)), huevec.WithStore(store))
	require.NoError(t, err)

	_, err = p.Process(ctx, huevec.Image{
		ID:   "img-001",
		Word: "dusk",
		Raw:  testutil.UniformImage(8, 8, 70, 50, 120),
	})
	require.NoError(t, err)
	require.NoError(t, p.Close())

	// The supplied store keeps serving reads after the pipeline is gone.
	words, err := store.ListWords(ctx, huevec.DefaultRevision)
	require.NoError(t, err)
	assert.Equal(t, []string{"dusk"}, words)
}

// TestOwnedTableClosed verifies a path-opened table is released on
// Close together with the pipeline itself.
func TestOwnedTableClosed(t *testing.T) {
	path := filepath.Join(t.TempDir(), "table.hvt")
	table := buildTable(t)
	require.NoError(t, colorspace.SaveTable(path, table, persistence.LayoutZstd))
	require.NoError(t, table.Close())

	p, err := huevec.New(huevec.WithTablePath(path))
	require.NoError(t, err)

	ctx := context.Background()
	_, err = p.Process(ctx, huevec.Image{
		ID:   "img-001",
		Word: "noon",
		Raw:  testutil.UniformImage(8, 8, 240, 220, 90),
	})
	require.NoError(t, err)

	require.NoError(t, p.Close())

	_, err = p.Process(ctx, huevec.Image{
		ID:   "img-002",
		Word: "noon",
		Raw:  testutil.UniformImage(8, 8, 240, 220, 90),
	})
	require.ErrorIs(t, err, huevec.ErrPipelineClosed)
}

// TestCloseWithActiveBatch verifies graceful shutdown while a batch is
// in flight: in-flight images finish or are rejected cleanly, nothing
// hangs.
func TestCloseWithActiveBatch(t *testing.T) {
	p, err := huevec.New(huevec.WithTable(buildTable(t)), huevec.WithWorkers(2))
	require.NoError(t, err)

	ctx := context.Background()
	rng := testutil.NewRNG(7)
	images := make([]huevec.Image, 16)
	for i := range images {
		images[i] = huevec.Image{
			ID:   fmt.Sprintf("img-%03d", i),
			Word: "storm",
			Raw:  rng.NoiseImage(64, 64),
		}
	}

	done := make(chan []huevec.Result, 1)
	go func() { done <- p.ProcessBatch(ctx, images) }()

	time.Sleep(5 * time.Millisecond)
	require.NoError(t, p.Close())

	select {
	case results := <-done:
		require.Len(t, results, len(images))
		for _, r := range results {
			if r.Err != nil {
				assert.ErrorIs(t, r.Err, huevec.ErrPipelineClosed)
			}
		}
	case <-time.After(5 * time.Second):
		t.Fatal("batch did not finish after close")
	}
}
