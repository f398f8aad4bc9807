package distance

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSquaredL2(t *testing.T) {
	tests := []struct {
		name     string
		a, b     []float64
		expected float64
	}{
		{"Simple", []float64{1, 2, 3}, []float64{4, 5, 6}, 27},
		{"Zero", []float64{0, 0, 0}, []float64{0, 0, 0}, 0},
		{"Identical", []float64{1, 2, 3}, []float64{1, 2, 3}, 0},
		{"Mixed", []float64{1, -1}, []float64{-1, 1}, 8}, // (1 - -1)^2 + (-1 - 1)^2 = 4 + 4 = 8
		{"Empty", []float64{}, []float64{}, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := SquaredL2(tt.a, tt.b)
			assert.InDelta(t, tt.expected, got, 1e-12)
		})
	}
}

func TestL1(t *testing.T) {
	tests := []struct {
		name     string
		a, b     []float64
		expected float64
	}{
		{"Simple", []float64{1, 2, 3}, []float64{4, 5, 6}, 9},
		{"Identical", []float64{0.5, 0.5}, []float64{0.5, 0.5}, 0},
		{"Mixed", []float64{1, -1}, []float64{-1, 1}, 4},
		{"Empty", []float64{}, []float64{}, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := L1(tt.a, tt.b)
			assert.InDelta(t, tt.expected, got, 1e-12)
		})
	}
}

func TestCosine(t *testing.T) {
	tests := []struct {
		name     string
		a, b     []float64
		expected float64
	}{
		{"Identical", []float64{1, 2, 3}, []float64{1, 2, 3}, 0},
		{"Scaled", []float64{1, 0}, []float64{5, 0}, 0},
		{"Orthogonal", []float64{1, 0}, []float64{0, 1}, 1},
		{"Opposite", []float64{1, 0}, []float64{-1, 0}, 2},
		{"ZeroNorm", []float64{0, 0}, []float64{1, 1}, 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Cosine(tt.a, tt.b)
			assert.InDelta(t, tt.expected, got, 1e-12)
		})
	}
}

func TestMetric(t *testing.T) {
	t.Run("String", func(t *testing.T) {
		assert.Equal(t, "L2", MetricL2.String())
		assert.Equal(t, "L1", MetricL1.String())
		assert.Equal(t, "Cosine", MetricCosine.String())
		assert.Equal(t, "Unknown(99)", Metric(99).String())
	})

	t.Run("Parse", func(t *testing.T) {
		m, err := ParseMetric("cosine")
		require.NoError(t, err)
		assert.Equal(t, MetricCosine, m)

		m, err = ParseMetric("")
		require.NoError(t, err)
		assert.Equal(t, MetricL2, m)

		_, err = ParseMetric("chebyshev")
		assert.Error(t, err)
	})

	t.Run("Provider", func(t *testing.T) {
		f, err := Provider(MetricL2)
		require.NoError(t, err)
		assert.InDelta(t, 27, f([]float64{1, 2, 3}, []float64{4, 5, 6}), 1e-12)

		f, err = Provider(MetricL1)
		require.NoError(t, err)
		assert.InDelta(t, 9, f([]float64{1, 2, 3}, []float64{4, 5, 6}), 1e-12)

		f, err = Provider(MetricCosine)
		require.NoError(t, err)
		assert.NotNil(t, f)

		_, err = Provider(Metric(99))
		assert.Error(t, err)
	})
}
