// Package colorgram summarizes perceptual images into per-channel
// histogram digests, optionally resolved over a spatial pyramid.
package colorgram

import (
	"errors"
	"fmt"
	"math"

	"github.com/hupe1980/huevec/colorspace"
)

var (
	// ErrBadImage reports a perceptual image whose buffer does not match
	// its declared shape.
	ErrBadImage = errors.New("colorgram: image shape mismatch")
	// ErrSpaceMismatch reports an image from a different color space
	// than the generator was configured for.
	ErrSpaceMismatch = errors.New("colorgram: color space mismatch")
)

// Cell is the digest of one spatial region: a normalized histogram per
// channel plus the region's pixel count. Cells that receive no pixels
// (possible when the grid outnumbers the pixels) keep zero mass.
type Cell struct {
	Level      int
	Row, Col   int
	PixelCount int
	Hist       [3][]float64
}

// Colorgram is the per-image digest: global channel statistics plus the
// pyramid of cell histograms. Level 0 is the whole image; level l
// partitions it into 2^l by 2^l cells. A Colorgram is immutable once
// generated.
type Colorgram struct {
	Space      string
	Bins       int
	Levels     int
	PixelCount int
	Mean       [3]float64
	Variance   [3]float64
	Cells      []Cell
}

// CellAt returns the cell digest for (level, row, col).
func (c *Colorgram) CellAt(level, row, col int) *Cell {
	idx := 0
	for l := 0; l < level; l++ {
		idx += (1 << l) * (1 << l)
	}
	g := 1 << level
	return &c.Cells[idx+row*g+col]
}

// Level0 returns the whole-image cell.
func (c *Colorgram) Level0() *Cell {
	return &c.Cells[0]
}

// Config holds the generator knobs.
type Config struct {
	// Bins is the histogram resolution per channel.
	Bins int
	// Levels is the pyramid depth; level 0 alone when 1.
	Levels int
}

// Generator produces Colorgrams with fixed binning over the channel
// ranges of one color table. It is safe for concurrent use.
type Generator struct {
	space  string
	bins   int
	levels int
	min    [3]float32
	max    [3]float32
}

// DefaultBins and DefaultLevels are the production defaults.
const (
	DefaultBins   = 8
	DefaultLevels = 1
)

// NewGenerator derives binning ranges from a loaded color table.
func NewGenerator(table *colorspace.Table, optFns ...func(o *Config)) *Generator {
	var min, max [3]float32
	for ch := 0; ch < 3; ch++ {
		min[ch], max[ch] = table.ChannelRange(ch)
	}
	return NewGeneratorWithRanges(table.Space(), min, max, optFns...)
}

// NewGeneratorWithRanges builds a generator over explicit channel
// ranges.
func NewGeneratorWithRanges(space string, min, max [3]float32, optFns ...func(o *Config)) *Generator {
	cfg := Config{Bins: DefaultBins, Levels: DefaultLevels}
	for _, fn := range optFns {
		fn(&cfg)
	}
	if cfg.Bins < 1 {
		cfg.Bins = DefaultBins
	}
	if cfg.Levels < 1 {
		cfg.Levels = DefaultLevels
	}
	return &Generator{
		space:  space,
		bins:   cfg.Bins,
		levels: cfg.Levels,
		min:    min,
		max:    max,
	}
}

// Bins returns the histogram resolution.
func (g *Generator) Bins() int { return g.bins }

// Levels returns the pyramid depth.
func (g *Generator) Levels() int { return g.levels }

// binFor places a channel value into a bin. Interior boundaries break
// ties toward the lower bin; the channel maximum lands in the last bin.
func (g *Generator) binFor(ch int, v float32) int {
	span := float64(g.max[ch]) - float64(g.min[ch])
	if span <= 0 {
		return 0
	}
	pos := (float64(v) - float64(g.min[ch])) * float64(g.bins) / span
	idx := int(math.Ceil(pos)) - 1
	if idx < 0 {
		idx = 0
	}
	if idx >= g.bins {
		idx = g.bins - 1
	}
	return idx
}

// Generate digests img. Identical images yield identical digests.
func (g *Generator) Generate(img colorspace.PerceptualImage) (Colorgram, error) {
	if img.W <= 0 || img.H <= 0 || len(img.Pix) != img.W*img.H*3 {
		return Colorgram{}, fmt.Errorf("%w: %dx%d with %d floats", ErrBadImage, img.W, img.H, len(img.Pix))
	}
	if img.Space != "" && img.Space != g.space {
		return Colorgram{}, fmt.Errorf("%w: image %q, generator %q", ErrSpaceMismatch, img.Space, g.space)
	}

	totalCells := 0
	for l := 0; l < g.levels; l++ {
		totalCells += (1 << l) * (1 << l)
	}

	cg := Colorgram{
		Space:      g.space,
		Bins:       g.bins,
		Levels:     g.levels,
		PixelCount: img.W * img.H,
		Cells:      make([]Cell, 0, totalCells),
	}

	// Global running statistics per channel. Welford keeps the variance
	// of a constant channel at exactly zero.
	var count int
	var mean, m2 [3]float64
	for i := 0; i < len(img.Pix); i += 3 {
		count++
		for ch := 0; ch < 3; ch++ {
			v := float64(img.Pix[i+ch])
			delta := v - mean[ch]
			mean[ch] += delta / float64(count)
			m2[ch] += delta * (v - mean[ch])
		}
	}
	for ch := 0; ch < 3; ch++ {
		cg.Mean[ch] = mean[ch]
		cg.Variance[ch] = m2[ch] / float64(count)
	}

	for l := 0; l < g.levels; l++ {
		grid := 1 << l
		for row := 0; row < grid; row++ {
			for col := 0; col < grid; col++ {
				cg.Cells = append(cg.Cells, g.digestCell(img, l, row, col, grid))
			}
		}
	}

	return cg, nil
}

func (g *Generator) digestCell(img colorspace.PerceptualImage, level, row, col, grid int) Cell {
	cell := Cell{Level: level, Row: row, Col: col}
	for ch := 0; ch < 3; ch++ {
		cell.Hist[ch] = make([]float64, g.bins)
	}

	y0, y1 := row*img.H/grid, (row+1)*img.H/grid
	x0, x1 := col*img.W/grid, (col+1)*img.W/grid

	for y := y0; y < y1; y++ {
		base := (y*img.W + x0) * 3
		for x := x0; x < x1; x++ {
			for ch := 0; ch < 3; ch++ {
				cell.Hist[ch][g.binFor(ch, img.Pix[base+ch])]++
			}
			base += 3
			cell.PixelCount++
		}
	}

	if cell.PixelCount > 0 {
		n := float64(cell.PixelCount)
		for ch := 0; ch < 3; ch++ {
			for b := range cell.Hist[ch] {
				cell.Hist[ch][b] /= n
			}
		}
	}
	return cell
}
