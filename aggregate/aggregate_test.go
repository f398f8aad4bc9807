package aggregate

import (
	"math"
	"math/rand"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/huevec/feature"
)

func vec(values ...float32) feature.Vector {
	return feature.Vector{Values: values}
}

func TestAggregator_OceanScenario(t *testing.T) {
	agg := NewAggregator()

	contributions := [][]float32{
		{0.1, 0.2, 0.1, 0.0, 0.0, 0.6},
		{0.15, 0.25, 0.05, 0.0, 0.0, 0.55},
		{0.05, 0.15, 0.2, 0.0, 0.0, 0.6},
	}
	var wv WordVector
	var err error
	for _, c := range contributions {
		wv, err = agg.Contribute("ocean", "2026.2", vec(c...))
		require.NoError(t, err)
	}

	assert.Equal(t, uint64(3), wv.Count)
	wantMean := []float64{0.1, 0.2, 0.11666667, 0.0, 0.0, 0.58333333}
	for i, want := range wantMean {
		assert.InDelta(t, want, wv.Mean[i], 1e-4, "mean component %d", i)
	}

	// Population variance of {0.1, 0.15, 0.05} is 0.05²·2/3.
	variance := wv.Variance()
	assert.InDelta(t, 0.005/3.0, variance[0], 1e-6)
	assert.InDelta(t, 0.0, variance[3], 1e-12)
}

func TestAggregator_OrderInvariance(t *testing.T) {
	rng := rand.New(rand.NewSource(42))
	const n, dim = 50, 6

	vectors := make([]feature.Vector, n)
	for i := range vectors {
		values := make([]float32, dim)
		for j := range values {
			values[j] = rng.Float32()
		}
		vectors[i] = feature.Vector{Values: values}
	}

	reference := contributeAll(t, vectors)

	for trial := 0; trial < 5; trial++ {
		shuffled := append([]feature.Vector(nil), vectors...)
		rng.Shuffle(len(shuffled), func(i, j int) {
			shuffled[i], shuffled[j] = shuffled[j], shuffled[i]
		})
		got := contributeAll(t, shuffled)

		require.Equal(t, reference.Count, got.Count)
		for i := range reference.Mean {
			assertRelDelta(t, reference.Mean[i], got.Mean[i], 1e-9)
		}
		refVar, gotVar := reference.Variance(), got.Variance()
		for i := range refVar {
			assertRelDelta(t, refVar[i], gotVar[i], 1e-9)
		}
	}
}

func contributeAll(t *testing.T, vectors []feature.Vector) WordVector {
	t.Helper()
	agg := NewAggregator()
	var wv WordVector
	var err error
	for _, v := range vectors {
		wv, err = agg.Contribute("word", "rev", v)
		require.NoError(t, err)
	}
	return wv
}

func assertRelDelta(t *testing.T, want, got, tol float64) {
	t.Helper()
	scale := math.Max(math.Abs(want), math.Abs(got))
	if scale < 1 {
		scale = 1
	}
	assert.InDelta(t, want, got, tol*scale)
}

func TestMerge_MatchesSequential(t *testing.T) {
	rng := rand.New(rand.NewSource(7))
	all := make([]feature.Vector, 30)
	for i := range all {
		values := make([]float32, 4)
		for j := range values {
			values[j] = rng.Float32() * 2
		}
		all[i] = feature.Vector{Values: values}
	}

	sequential := contributeAll(t, all)

	left := contributeAll(t, all[:11])
	right := contributeAll(t, all[11:])
	merged, err := Merge(left, right)
	require.NoError(t, err)

	require.Equal(t, sequential.Count, merged.Count)
	for i := range sequential.Mean {
		assertRelDelta(t, sequential.Mean[i], merged.Mean[i], 1e-9)
	}
	seqVar, mergedVar := sequential.Variance(), merged.Variance()
	for i := range seqVar {
		assertRelDelta(t, seqVar[i], mergedVar[i], 1e-9)
	}
}

func TestMerge_AssociativeCommutative(t *testing.T) {
	rng := rand.New(rand.NewSource(99))
	part := func(n int) WordVector {
		vs := make([]feature.Vector, n)
		for i := range vs {
			values := make([]float32, 3)
			for j := range values {
				values[j] = rng.Float32()
			}
			vs[i] = feature.Vector{Values: values}
		}
		return contributeAll(t, vs)
	}

	a, b, c := part(5), part(9), part(2)

	ab, err := Merge(a, b)
	require.NoError(t, err)
	abc1, err := Merge(ab, c)
	require.NoError(t, err)

	bc, err := Merge(b, c)
	require.NoError(t, err)
	abc2, err := Merge(a, bc)
	require.NoError(t, err)

	ba, err := Merge(b, a)
	require.NoError(t, err)

	require.Equal(t, abc1.Count, abc2.Count)
	for i := range abc1.Mean {
		assertRelDelta(t, abc1.Mean[i], abc2.Mean[i], 1e-9)
		assertRelDelta(t, ab.Mean[i], ba.Mean[i], 1e-9)
	}
	v1, v2 := abc1.Variance(), abc2.Variance()
	for i := range v1 {
		assertRelDelta(t, v1[i], v2[i], 1e-9)
	}
}

func TestMerge_Errors(t *testing.T) {
	a := WordVector{Word: "sea", Revision: "r1", Count: 1, Mean: []float64{1}, M2: []float64{0}}
	b := WordVector{Word: "sky", Revision: "r1", Count: 1, Mean: []float64{1}, M2: []float64{0}}
	_, err := Merge(a, b)
	var keyErr *KeyMismatchError
	require.ErrorAs(t, err, &keyErr)

	c := WordVector{Word: "sea", Revision: "r1", Count: 1, Mean: []float64{1, 2}, M2: []float64{0, 0}}
	_, err = Merge(a, c)
	var dimErr *DimensionMismatchError
	require.ErrorAs(t, err, &dimErr)
}

func TestContribute_DimensionMismatchLeavesStateUntouched(t *testing.T) {
	agg := NewAggregator()

	first, err := agg.Contribute("w", "r", vec(0.5, 0.5))
	require.NoError(t, err)
	require.Equal(t, uint64(1), first.Count)

	_, err = agg.Contribute("w", "r", vec(0.1, 0.2, 0.3))
	var dimErr *DimensionMismatchError
	require.ErrorAs(t, err, &dimErr)
	assert.Equal(t, 2, dimErr.Expected)
	assert.Equal(t, 3, dimErr.Actual)

	got, ok := agg.Get("w", "r")
	require.True(t, ok)
	assert.Equal(t, first.Count, got.Count)
	assert.Equal(t, first.Mean, got.Mean)
}

func TestAggregator_ConcurrentContributions(t *testing.T) {
	agg := NewAggregator()
	const workers, perWorker = 8, 200

	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func(seed int64) {
			defer wg.Done()
			rng := rand.New(rand.NewSource(seed))
			for i := 0; i < perWorker; i++ {
				word := "alpha"
				if rng.Intn(2) == 1 {
					word = "beta"
				}
				_, err := agg.Contribute(word, "r", vec(rng.Float32(), rng.Float32()))
				assert.NoError(t, err)
			}
		}(int64(w))
	}
	wg.Wait()

	alpha, okA := agg.Get("alpha", "r")
	beta, okB := agg.Get("beta", "r")
	require.True(t, okA)
	require.True(t, okB)
	assert.Equal(t, uint64(workers*perWorker), alpha.Count+beta.Count)
}

func TestAggregator_SnapshotRestore(t *testing.T) {
	agg := NewAggregator()
	_, err := agg.Contribute("sea", "r1", vec(0.2, 0.4))
	require.NoError(t, err)
	_, err = agg.Contribute("sea", "r1", vec(0.4, 0.6))
	require.NoError(t, err)
	_, err = agg.Contribute("sky", "r1", vec(0.9, 0.1))
	require.NoError(t, err)

	snap := agg.Snapshot()
	require.Len(t, snap, 2)

	restored := NewAggregator()
	require.NoError(t, restored.Restore(snap))

	for _, want := range snap {
		got, ok := restored.Get(want.Word, want.Revision)
		require.True(t, ok)
		assert.Equal(t, want.Count, got.Count)
		assert.Equal(t, want.Mean, got.Mean)
		assert.Equal(t, want.M2, got.M2)
	}

	// Restoring again doubles the counts by pooling.
	require.NoError(t, restored.Restore(snap))
	got, ok := restored.Get("sea", "r1")
	require.True(t, ok)
	assert.Equal(t, uint64(4), got.Count)
}

func TestAggregator_GetMissing(t *testing.T) {
	agg := NewAggregator()
	_, ok := agg.Get("absent", "r")
	assert.False(t, ok)
	assert.Empty(t, agg.Keys())
}

func TestRunningStats_SingleContribution(t *testing.T) {
	s := NewRunningStats(3)
	require.NoError(t, s.Update([]float32{1, 2, 3}))

	assert.Equal(t, uint64(1), s.Count)
	for _, v := range s.Variance() {
		assert.Equal(t, 0.0, v)
	}
}
