package testutil

import (
	"math/rand"
	"sync"

	"github.com/hupe1980/huevec/colorspace"
)

// RNG struct encapsulates the random number generator and seed.
// It is thread-safe.
type RNG struct {
	rand *rand.Rand
	seed int64
	mu   sync.Mutex
}

// NewRNG creates a new RNG instance with the specified seed.
func NewRNG(seed int64) *RNG {
	return &RNG{
		rand: rand.New(rand.NewSource(seed)),
		seed: seed,
	}
}

// Reset resets the RNG to its initial seed.
func (r *RNG) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.rand.Seed(r.seed)
}

// Seed returns the initial seed.
func (r *RNG) Seed() int64 {
	return r.seed
}

// Intn returns a non-negative pseudo-random number in [0,n).
func (r *RNG) Intn(n int) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.rand.Intn(n)
}

// Uint64 returns a pseudo-random uint64.
func (r *RNG) Uint64() uint64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.rand.Uint64()
}

// Float64 returns, as a float64, a pseudo-random number in [0.0,1.0).
func (r *RNG) Float64() float64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.rand.Float64()
}

// FillUniform fills dst with random values in range [0, 1).
// Locks only once per call (preferred over calling Float64 in a loop).
func (r *RNG) FillUniform(dst []float64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i := range dst {
		dst[i] = r.rand.Float64()
	}
}

// FillUniformRange fills dst with random values in range [minVal, maxVal).
func (r *RNG) FillUniformRange(dst []float64, minVal, maxVal float64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	span := maxVal - minVal
	for i := range dst {
		dst[i] = minVal + r.rand.Float64()*span
	}
}

// UniformVectors generates random vectors with values in range [0, 1).
// Uses a single backing array for efficiency.
func (r *RNG) UniformVectors(num int, dimensions int) [][]float64 {
	r.mu.Lock()
	defer r.mu.Unlock()

	data := make([]float64, num*dimensions)
	vectors := make([][]float64, num)

	for i := 0; i < num; i++ {
		vec := data[i*dimensions : (i+1)*dimensions]
		for j := range vec {
			vec[j] = r.rand.Float64()
		}
		vectors[i] = vec
	}

	return vectors
}

// NoiseImage returns an image filled with seeded random pixels.
func (r *RNG) NoiseImage(w, h int) colorspace.RawImage {
	r.mu.Lock()
	defer r.mu.Unlock()

	img := colorspace.NewRawImage(w, h)
	for i := range img.Pix {
		img.Pix[i] = uint8(r.rand.Intn(256))
	}
	return img
}

// UniformImage returns an image where every pixel is (cr, cg, cb).
func UniformImage(w, h int, cr, cg, cb uint8) colorspace.RawImage {
	img := colorspace.NewRawImage(w, h)
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.Set(x, y, cr, cg, cb)
		}
	}
	return img
}

// GradientImage returns an image that interpolates linearly from the
// color "from" at the left edge to "to" at the right edge.
func GradientImage(w, h int, from, to [3]uint8) colorspace.RawImage {
	img := colorspace.NewRawImage(w, h)
	for x := 0; x < w; x++ {
		t := 0.0
		if w > 1 {
			t = float64(x) / float64(w-1)
		}
		var c [3]uint8
		for i := range c {
			c[i] = uint8(float64(from[i]) + t*(float64(to[i])-float64(from[i])))
		}
		for y := 0; y < h; y++ {
			img.Set(x, y, c[0], c[1], c[2])
		}
	}
	return img
}

// QuadrantImage returns an image whose four quadrants are filled with
// the given colors in order top-left, top-right, bottom-left,
// bottom-right. Useful for exercising spatial pyramid levels.
func QuadrantImage(w, h int, colors [4][3]uint8) colorspace.RawImage {
	img := colorspace.NewRawImage(w, h)
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			q := 0
			if x >= w/2 {
				q = 1
			}
			if y >= h/2 {
				q += 2
			}
			img.Set(x, y, colors[q][0], colors[q][1], colors[q][2])
		}
	}
	return img
}
