package feature

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/huevec/persistence"
)

func sampleProjection(t *testing.T) *Projection {
	t.Helper()
	p, err := NewProjection(3, 2,
		[]float32{
			1, 0, 0,
			0, 2, 0,
		},
		[]float32{0.5, 0.5, 0.5},
	)
	require.NoError(t, err)
	return p
}

func TestProjection_Apply(t *testing.T) {
	p := sampleProjection(t)

	y, err := p.Apply([]float32{1.5, 1.0, 9.0})
	require.NoError(t, err)
	require.Len(t, y, 2)
	assert.InDelta(t, 1.0, float64(y[0]), 1e-6)
	assert.InDelta(t, 1.0, float64(y[1]), 1e-6)
}

func TestProjection_ApplyDimensionMismatch(t *testing.T) {
	p := sampleProjection(t)

	_, err := p.Apply([]float32{1, 2})
	var mismatch *DimensionMismatchError
	require.ErrorAs(t, err, &mismatch)
	assert.Equal(t, 3, mismatch.Expected)
	assert.Equal(t, 2, mismatch.Actual)
}

func TestNewProjection_BadShapes(t *testing.T) {
	_, err := NewProjection(0, 2, nil, nil)
	assert.ErrorIs(t, err, ErrProjectionFormat)

	_, err = NewProjection(3, 2, make([]float32, 5), make([]float32, 3))
	var mismatch *DimensionMismatchError
	assert.ErrorAs(t, err, &mismatch)

	_, err = NewProjection(3, 2, make([]float32, 6), make([]float32, 2))
	assert.ErrorAs(t, err, &mismatch)
}

func TestProjection_SaveOpenRoundTrip(t *testing.T) {
	for _, tc := range []struct {
		name   string
		layout uint8
	}{
		{"raw", persistence.LayoutRaw},
		{"zstd", persistence.LayoutZstd},
	} {
		t.Run(tc.name, func(t *testing.T) {
			p := sampleProjection(t)
			path := filepath.Join(t.TempDir(), "proj.hvp")
			require.NoError(t, SaveProjection(path, p, tc.layout))

			loaded, err := OpenProjection(path)
			require.NoError(t, err)
			assert.Equal(t, p.InDim, loaded.InDim)
			assert.Equal(t, p.OutDim, loaded.OutDim)
			assert.Equal(t, p.Matrix, loaded.Matrix)
			assert.Equal(t, p.Mean, loaded.Mean)
		})
	}
}

func TestProjection_LoadStream(t *testing.T) {
	p := sampleProjection(t)
	var buf bytes.Buffer
	require.NoError(t, WriteProjection(&buf, p, persistence.LayoutRaw))

	loaded, err := LoadProjection(&buf)
	require.NoError(t, err)
	assert.Equal(t, p.Matrix, loaded.Matrix)
}

func TestOpenProjection_Missing(t *testing.T) {
	_, err := OpenProjection(filepath.Join(t.TempDir(), "absent.hvp"))

	var notFound *TransformNotFoundError
	require.ErrorAs(t, err, &notFound)
	assert.ErrorIs(t, err, os.ErrNotExist)
}

func TestOpenProjection_Corrupt(t *testing.T) {
	p := sampleProjection(t)
	path := filepath.Join(t.TempDir(), "proj.hvp")
	require.NoError(t, SaveProjection(path, p, persistence.LayoutRaw))

	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	raw[len(raw)-2] ^= 0xff
	require.NoError(t, os.WriteFile(path, raw, 0o600))

	_, err = OpenProjection(path)
	var notFound *TransformNotFoundError
	require.ErrorAs(t, err, &notFound)
	var mismatch *persistence.ChecksumMismatchError
	assert.ErrorAs(t, err, &mismatch)
}
