package testutil

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestUniformVectors(t *testing.T) {
	rng := NewRNG(4711)

	v := rng.UniformVectors(8, 32)

	assert.Equal(t, 8, len(v))
	assert.Equal(t, 32, len(v[0]))
	assert.Less(t, v[0][0], 1.0)
	assert.GreaterOrEqual(t, v[1][0], 0.0)
}

func TestReset(t *testing.T) {
	rng := NewRNG(4711)
	v1 := rng.UniformVectors(1, 10)

	rng.Reset()
	v2 := rng.UniformVectors(1, 10)

	assert.Equal(t, v1, v2)
}

func TestUniformImage(t *testing.T) {
	img := UniformImage(6, 4, 200, 40, 40)

	require.NoError(t, img.Validate())
	for y := 0; y < img.H; y++ {
		for x := 0; x < img.W; x++ {
			r, g, b := img.At(x, y)
			assert.Equal(t, uint8(200), r)
			assert.Equal(t, uint8(40), g)
			assert.Equal(t, uint8(40), b)
		}
	}
}

func TestGradientImage(t *testing.T) {
	img := GradientImage(8, 2, [3]uint8{0, 0, 0}, [3]uint8{255, 255, 255})

	require.NoError(t, img.Validate())

	r, g, b := img.At(0, 0)
	assert.Equal(t, uint8(0), r)
	assert.Equal(t, uint8(0), g)
	assert.Equal(t, uint8(0), b)

	r, g, b = img.At(7, 1)
	assert.Equal(t, uint8(255), r)
	assert.Equal(t, uint8(255), g)
	assert.Equal(t, uint8(255), b)

	// Monotone along x.
	prev, _, _ := img.At(0, 0)
	for x := 1; x < img.W; x++ {
		cur, _, _ := img.At(x, 0)
		assert.GreaterOrEqual(t, cur, prev)
		prev = cur
	}
}

func TestQuadrantImage(t *testing.T) {
	colors := [4][3]uint8{
		{255, 0, 0},
		{0, 255, 0},
		{0, 0, 255},
		{255, 255, 0},
	}
	img := QuadrantImage(4, 4, colors)

	require.NoError(t, img.Validate())

	checks := []struct {
		x, y int
		want [3]uint8
	}{
		{0, 0, colors[0]},
		{3, 0, colors[1]},
		{0, 3, colors[2]},
		{3, 3, colors[3]},
	}
	for _, c := range checks {
		r, g, b := img.At(c.x, c.y)
		assert.Equal(t, c.want, [3]uint8{r, g, b})
	}
}

func TestNoiseImageDeterministic(t *testing.T) {
	rng := NewRNG(42)
	img1 := rng.NoiseImage(16, 16)

	require.NoError(t, img1.Validate())

	rng.Reset()
	img2 := rng.NoiseImage(16, 16)

	assert.Equal(t, img1.Pix, img2.Pix)
}
