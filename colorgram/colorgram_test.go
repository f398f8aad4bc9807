package colorgram

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/huevec/colorspace"
)

func unitRangeGenerator(optFns ...func(o *Config)) *Generator {
	return NewGeneratorWithRanges("test-space", [3]float32{0, 0, 0}, [3]float32{1, 1, 1}, optFns...)
}

func syntheticImage(w, h int, fill func(x, y int) [3]float32) colorspace.PerceptualImage {
	img := colorspace.PerceptualImage{W: w, H: h, Space: "test-space", Pix: make([]float32, w*h*3)}
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			v := fill(x, y)
			i := (y*w + x) * 3
			img.Pix[i], img.Pix[i+1], img.Pix[i+2] = v[0], v[1], v[2]
		}
	}
	return img
}

func TestGenerate_UniformImage(t *testing.T) {
	g := unitRangeGenerator()
	img := syntheticImage(6, 4, func(x, y int) [3]float32 {
		return [3]float32{0.3, 0.3, 0.3}
	})

	cg, err := g.Generate(img)
	require.NoError(t, err)

	assert.Equal(t, 24, cg.PixelCount)
	for ch := 0; ch < 3; ch++ {
		assert.Equal(t, 0.0, cg.Variance[ch], "constant channel has exactly zero variance")
		assert.InDelta(t, 0.3, cg.Mean[ch], 1e-7)

		populated := 0
		for _, mass := range cg.Level0().Hist[ch] {
			if mass > 0 {
				populated++
				assert.Equal(t, 1.0, mass)
			}
		}
		assert.Equal(t, 1, populated, "uniform image fills exactly one bin")
	}
}

func TestBinFor_TieBreak(t *testing.T) {
	g := unitRangeGenerator(func(o *Config) { o.Bins = 4 })

	cases := []struct {
		v    float32
		want int
	}{
		{0.0, 0},
		{0.1, 0},
		{0.25, 0}, // boundary resolves to the lower bin
		{0.26, 1},
		{0.5, 1}, // boundary
		{0.75, 2},
		{0.9, 3},
		{1.0, 3}, // channel max clamps into the last bin
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, g.binFor(0, tc.v), "value %v", tc.v)
	}
}

func TestGenerate_HistogramMass(t *testing.T) {
	g := unitRangeGenerator(func(o *Config) { o.Bins = 5 })
	img := syntheticImage(7, 5, func(x, y int) [3]float32 {
		return [3]float32{
			float32(x) / 7.0,
			float32(y) / 5.0,
			float32(x+y) / 12.0,
		}
	})

	cg, err := g.Generate(img)
	require.NoError(t, err)

	for ch := 0; ch < 3; ch++ {
		mass := 0.0
		for _, m := range cg.Level0().Hist[ch] {
			mass += m
		}
		assert.InDelta(t, 1.0, mass, 1e-9)
	}
}

func TestGenerate_PyramidLevels(t *testing.T) {
	g := unitRangeGenerator(func(o *Config) { o.Levels = 2 })
	img := syntheticImage(4, 4, func(x, y int) [3]float32 {
		if x < 2 && y < 2 {
			return [3]float32{0.1, 0.1, 0.1}
		}
		return [3]float32{0.9, 0.9, 0.9}
	})

	cg, err := g.Generate(img)
	require.NoError(t, err)
	require.Len(t, cg.Cells, 5) // 1 + 4

	assert.Equal(t, 16, cg.Level0().PixelCount)

	perLevel := 0
	for row := 0; row < 2; row++ {
		for col := 0; col < 2; col++ {
			perLevel += cg.CellAt(1, row, col).PixelCount
		}
	}
	assert.Equal(t, 16, perLevel, "level cells partition the image")

	// The top-left quadrant is uniformly dark, so its histogram puts all
	// mass in one low bin; the other quadrants are uniformly bright.
	topLeft := cg.CellAt(1, 0, 0)
	assert.Equal(t, 4, topLeft.PixelCount)
	assert.Equal(t, 1.0, topLeft.Hist[0][0])

	bottomRight := cg.CellAt(1, 1, 1)
	lastBin := len(bottomRight.Hist[0]) - 1
	assert.Equal(t, 0.0, bottomRight.Hist[0][0])
	assert.Equal(t, 1.0, bottomRight.Hist[0][lastBin])
}

func TestGenerate_EmptyCells(t *testing.T) {
	g := unitRangeGenerator(func(o *Config) { o.Levels = 2 })
	img := syntheticImage(1, 1, func(x, y int) [3]float32 {
		return [3]float32{0.5, 0.5, 0.5}
	})

	cg, err := g.Generate(img)
	require.NoError(t, err)

	populated := 0
	for i := range cg.Cells {
		cell := &cg.Cells[i]
		if cell.Level == 0 {
			continue
		}
		mass := 0.0
		for _, m := range cell.Hist[0] {
			mass += m
		}
		if cell.PixelCount > 0 {
			populated++
			assert.InDelta(t, 1.0, mass, 1e-9)
		} else {
			assert.Equal(t, 0.0, mass, "empty cells keep zero mass")
		}
	}
	assert.Equal(t, 1, populated)
}

func TestGenerate_Deterministic(t *testing.T) {
	g := unitRangeGenerator(func(o *Config) { o.Bins = 6 })
	img := syntheticImage(9, 7, func(x, y int) [3]float32 {
		return [3]float32{float32(x*13%9) / 9.0, float32(y*7%5) / 5.0, float32((x+y)%3) / 3.0}
	})

	a, err := g.Generate(img)
	require.NoError(t, err)
	b, err := g.Generate(img)
	require.NoError(t, err)
	assert.Equal(t, a, b)
}

func TestGenerate_Errors(t *testing.T) {
	g := unitRangeGenerator()

	_, err := g.Generate(colorspace.PerceptualImage{W: 2, H: 2, Space: "test-space", Pix: make([]float32, 5)})
	assert.ErrorIs(t, err, ErrBadImage)

	_, err = g.Generate(colorspace.PerceptualImage{W: 0, H: 0, Space: "test-space"})
	assert.ErrorIs(t, err, ErrBadImage)

	other := syntheticImage(2, 2, func(x, y int) [3]float32 { return [3]float32{0.1, 0.1, 0.1} })
	other.Space = "some-other-space"
	_, err = g.Generate(other)
	assert.ErrorIs(t, err, ErrSpaceMismatch)
}

func TestGenerate_MeanVariance(t *testing.T) {
	g := unitRangeGenerator()
	// Channel 0 alternates 0.2 and 0.4: mean 0.3, population variance 0.01.
	img := syntheticImage(2, 1, func(x, y int) [3]float32 {
		if x == 0 {
			return [3]float32{0.2, 0.5, 0.5}
		}
		return [3]float32{0.4, 0.5, 0.5}
	})

	cg, err := g.Generate(img)
	require.NoError(t, err)

	assert.InDelta(t, 0.3, cg.Mean[0], 1e-7)
	assert.InDelta(t, 0.01, cg.Variance[0], 1e-7)
	assert.InDelta(t, 0.0, cg.Variance[1], 1e-12)
}
