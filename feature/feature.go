// Package feature turns colorgram digests into fixed-length vectors
// suitable for aggregation, optionally through a fitted linear
// projection.
package feature

import (
	"fmt"
	"time"

	"github.com/hupe1980/huevec/colorgram"
)

// Provenance records where a vector came from.
type Provenance struct {
	ImageID   string    `json:"image_id"`
	Word      string    `json:"word"`
	Revision  string    `json:"revision"`
	CreatedAt time.Time `json:"created_at"`
}

// Vector is a fixed-length feature vector with its provenance.
type Vector struct {
	Values     []float32  `json:"values"`
	Provenance Provenance `json:"provenance"`
}

// DimensionMismatchError reports an input whose shape does not match
// the extractor or projection configuration.
type DimensionMismatchError struct {
	Expected int
	Actual   int
}

func (e *DimensionMismatchError) Error() string {
	return fmt.Sprintf("feature: dimension mismatch: expected %d, got %d", e.Expected, e.Actual)
}

// Config selects which digest components enter the vector.
type Config struct {
	// IncludeMoments adds the global per-channel mean and variance.
	IncludeMoments bool
	// IncludeBins adds the level-0 histogram, flattened channel-major.
	IncludeBins bool
	// AllLevels extends IncludeBins to every pyramid level.
	AllLevels bool
	// Projection, when set, maps the assembled vector through a fitted
	// linear transform; the output length becomes Projection.OutDim.
	Projection *Projection
}

// Extractor assembles feature vectors from colorgrams of one fixed
// shape. The output length is constant for a given configuration, and
// identical digests always produce identical vectors.
//
// Layout without a projection: [mean0 mean1 mean2 var0 var1 var2] when
// moments are enabled, followed by histograms cell by cell (level 0
// first), each cell contributing its three channels in order.
type Extractor struct {
	bins   int
	levels int
	cfg    Config
}

// NewExtractor creates an extractor for colorgrams with the given bins
// and pyramid depth. Moments and level-0 bins are on by default.
func NewExtractor(bins, levels int, optFns ...func(o *Config)) *Extractor {
	cfg := Config{IncludeMoments: true, IncludeBins: true}
	for _, fn := range optFns {
		fn(&cfg)
	}
	return &Extractor{bins: bins, levels: levels, cfg: cfg}
}

func (e *Extractor) cells() int {
	if !e.cfg.IncludeBins {
		return 0
	}
	if !e.cfg.AllLevels {
		return 1
	}
	total := 0
	for l := 0; l < e.levels; l++ {
		total += (1 << l) * (1 << l)
	}
	return total
}

// BaseLength returns the assembled length before any projection.
func (e *Extractor) BaseLength() int {
	n := 0
	if e.cfg.IncludeMoments {
		n += 6
	}
	n += e.cells() * 3 * e.bins
	return n
}

// Length returns the final vector length.
func (e *Extractor) Length() int {
	if e.cfg.Projection != nil {
		return e.cfg.Projection.OutDim
	}
	return e.BaseLength()
}

// Extract builds the vector for cg and stamps it with prov.
func (e *Extractor) Extract(cg colorgram.Colorgram, prov Provenance) (Vector, error) {
	if cg.Bins != e.bins {
		return Vector{}, &DimensionMismatchError{Expected: e.bins, Actual: cg.Bins}
	}
	if cg.Levels != e.levels {
		return Vector{}, &DimensionMismatchError{Expected: e.levels, Actual: cg.Levels}
	}

	values := make([]float32, 0, e.BaseLength())
	if e.cfg.IncludeMoments {
		for ch := 0; ch < 3; ch++ {
			values = append(values, float32(cg.Mean[ch]))
		}
		for ch := 0; ch < 3; ch++ {
			values = append(values, float32(cg.Variance[ch]))
		}
	}
	if e.cfg.IncludeBins {
		cells := e.cells()
		for i := 0; i < cells; i++ {
			cell := &cg.Cells[i]
			for ch := 0; ch < 3; ch++ {
				for _, mass := range cell.Hist[ch] {
					values = append(values, float32(mass))
				}
			}
		}
	}

	if p := e.cfg.Projection; p != nil {
		projected, err := p.Apply(values)
		if err != nil {
			return Vector{}, err
		}
		values = projected
	}

	return Vector{Values: values, Provenance: prov}, nil
}
