// Package aggregate maintains running color-vector statistics per
// (word, revision) key using Welford's incremental algorithm.
package aggregate

import "fmt"

// DimensionMismatchError reports a contribution or merge whose vector
// length differs from the established dimension. The aggregate state is
// untouched when it is returned.
type DimensionMismatchError struct {
	Expected int
	Actual   int
}

func (e *DimensionMismatchError) Error() string {
	return fmt.Sprintf("aggregate: dimension mismatch: expected %d, got %d", e.Expected, e.Actual)
}

// RunningStats accumulates count, mean and M2 (sum of squared
// deviations) per component. Welford's update keeps the results stable
// and order-invariant up to floating-point rounding; a naive two-pass
// sum would not.
type RunningStats struct {
	Count uint64
	Mean  []float64
	M2    []float64
}

// NewRunningStats creates an accumulator for vectors of length dim.
func NewRunningStats(dim int) *RunningStats {
	return &RunningStats{
		Mean: make([]float64, dim),
		M2:   make([]float64, dim),
	}
}

// Dim returns the component count.
func (s *RunningStats) Dim() int {
	return len(s.Mean)
}

// Update folds one vector into the statistics.
func (s *RunningStats) Update(v []float32) error {
	if len(v) != len(s.Mean) {
		return &DimensionMismatchError{Expected: len(s.Mean), Actual: len(v)}
	}
	s.Count++
	n := float64(s.Count)
	for i, x := range v {
		val := float64(x)
		delta := val - s.Mean[i]
		s.Mean[i] += delta / n
		s.M2[i] += delta * (val - s.Mean[i])
	}
	return nil
}

// Variance returns the population variance per component. It is zero
// for every component until two contributions exist.
func (s *RunningStats) Variance() []float64 {
	out := make([]float64, len(s.M2))
	if s.Count == 0 {
		return out
	}
	n := float64(s.Count)
	for i, m2 := range s.M2 {
		out[i] = m2 / n
	}
	return out
}

// MergeFrom pools another accumulator into s using the parallel
// variance combination of Chan et al. The operation is associative and
// commutative up to rounding.
func (s *RunningStats) MergeFrom(o *RunningStats) error {
	if o.Count == 0 {
		return nil
	}
	if s.Count == 0 {
		if len(s.Mean) != 0 && len(s.Mean) != len(o.Mean) {
			return &DimensionMismatchError{Expected: len(s.Mean), Actual: len(o.Mean)}
		}
		s.Count = o.Count
		s.Mean = append([]float64(nil), o.Mean...)
		s.M2 = append([]float64(nil), o.M2...)
		return nil
	}
	if len(o.Mean) != len(s.Mean) {
		return &DimensionMismatchError{Expected: len(s.Mean), Actual: len(o.Mean)}
	}

	na := float64(s.Count)
	nb := float64(o.Count)
	n := na + nb
	for i := range s.Mean {
		delta := o.Mean[i] - s.Mean[i]
		s.Mean[i] += delta * nb / n
		s.M2[i] += o.M2[i] + delta*delta*na*nb/n
	}
	s.Count += o.Count
	return nil
}

// Clone returns an independent copy.
func (s *RunningStats) Clone() *RunningStats {
	return &RunningStats{
		Count: s.Count,
		Mean:  append([]float64(nil), s.Mean...),
		M2:    append([]float64(nil), s.M2...),
	}
}
