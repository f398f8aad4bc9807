package colorspace

import (
	"image"
	"image/color"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConverter_Deterministic(t *testing.T) {
	table := buildSmallTable(t)
	conv := NewConverter(table)

	img := NewRawImage(8, 6)
	for i := range img.Pix {
		img.Pix[i] = uint8(i * 7)
	}

	first, err := conv.Convert(img)
	require.NoError(t, err)
	second, err := conv.Convert(img)
	require.NoError(t, err)

	assert.Equal(t, first.Pix, second.Pix, "conversion must be bit-identical across runs")
	assert.Equal(t, SpaceJzAzBzD65, first.Space)
	assert.Len(t, first.Pix, 8*6*3)
}

func TestConverter_UniformImage(t *testing.T) {
	table := buildSmallTable(t)
	conv := NewConverter(table)

	img := NewRawImage(4, 4)
	for y := 0; y < 4; y++ {
		for x := 0; x < 4; x++ {
			img.Set(x, y, 10, 200, 30)
		}
	}

	out, err := conv.Convert(img)
	require.NoError(t, err)

	c0, c1, c2 := out.At(0, 0)
	for y := 0; y < 4; y++ {
		for x := 0; x < 4; x++ {
			g0, g1, g2 := out.At(x, y)
			assert.Equal(t, [3]float32{c0, c1, c2}, [3]float32{g0, g1, g2})
		}
	}
}

func TestConverter_InvalidShape(t *testing.T) {
	table := buildSmallTable(t)
	conv := NewConverter(table)

	cases := []struct {
		name string
		img  RawImage
	}{
		{"short buffer", RawImage{W: 4, H: 4, Pix: make([]uint8, 10)}},
		{"zero width", RawImage{W: 0, H: 4, Pix: nil}},
		{"negative height", RawImage{W: 4, H: -1, Pix: make([]uint8, 48)}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := conv.Convert(tc.img)
			var shapeErr *InvalidPixelRangeError
			require.ErrorAs(t, err, &shapeErr)
		})
	}
}

func TestFromImage(t *testing.T) {
	src := image.NewRGBA(image.Rect(0, 0, 3, 2))
	src.Set(0, 0, color.RGBA{R: 255, A: 255})
	src.Set(1, 0, color.RGBA{G: 255, A: 255})
	src.Set(2, 0, color.RGBA{B: 255, A: 255})
	src.Set(0, 1, color.RGBA{R: 10, G: 20, B: 30, A: 255})

	raw := FromImage(src)
	require.NoError(t, raw.Validate())
	assert.Equal(t, 3, raw.W)
	assert.Equal(t, 2, raw.H)

	r, g, b := raw.At(0, 0)
	assert.Equal(t, [3]uint8{255, 0, 0}, [3]uint8{r, g, b})
	r, g, b = raw.At(1, 0)
	assert.Equal(t, [3]uint8{0, 255, 0}, [3]uint8{r, g, b})
	r, g, b = raw.At(0, 1)
	assert.Equal(t, [3]uint8{10, 20, 30}, [3]uint8{r, g, b})
}
