package aggregate

import (
	"fmt"
	"sort"
	"sync"

	"github.com/hupe1980/huevec/feature"
)

// KeyMismatchError reports a merge across different (word, revision)
// keys.
type KeyMismatchError struct {
	A, B Key
}

func (e *KeyMismatchError) Error() string {
	return fmt.Sprintf("aggregate: cannot merge %s with %s", e.A, e.B)
}

// Key identifies one aggregation target.
type Key struct {
	Word     string `json:"word"`
	Revision string `json:"revision"`
}

func (k Key) String() string {
	return k.Word + "@" + k.Revision
}

// WordVector is the aggregated color representation of a word within a
// revision: contribution count plus per-component running mean and M2.
type WordVector struct {
	Word     string    `json:"word"`
	Revision string    `json:"revision"`
	Count    uint64    `json:"count"`
	Mean     []float64 `json:"mean"`
	M2       []float64 `json:"m2"`
}

// Key returns the vector's aggregation key.
func (wv WordVector) Key() Key {
	return Key{Word: wv.Word, Revision: wv.Revision}
}

// Dim returns the component count.
func (wv WordVector) Dim() int {
	return len(wv.Mean)
}

// Variance returns the population variance per component.
func (wv WordVector) Variance() []float64 {
	stats := RunningStats{Count: wv.Count, Mean: wv.Mean, M2: wv.M2}
	return stats.Variance()
}

// Merge pools two word vectors for the same key. It is associative and
// commutative up to floating-point rounding and never mutates its
// inputs.
func Merge(a, b WordVector) (WordVector, error) {
	if a.Word != b.Word || a.Revision != b.Revision {
		return WordVector{}, &KeyMismatchError{A: a.Key(), B: b.Key()}
	}
	if a.Count > 0 && b.Count > 0 && a.Dim() != b.Dim() {
		return WordVector{}, &DimensionMismatchError{Expected: a.Dim(), Actual: b.Dim()}
	}

	merged := RunningStats{
		Count: a.Count,
		Mean:  append([]float64(nil), a.Mean...),
		M2:    append([]float64(nil), a.M2...),
	}
	if err := merged.MergeFrom(&RunningStats{Count: b.Count, Mean: b.Mean, M2: b.M2}); err != nil {
		return WordVector{}, err
	}
	return WordVector{
		Word:     a.Word,
		Revision: a.Revision,
		Count:    merged.Count,
		Mean:     merged.Mean,
		M2:       merged.M2,
	}, nil
}

type entry struct {
	mu    sync.Mutex
	stats *RunningStats
}

// Aggregator folds feature vectors into per-key running statistics.
// Contributions to different keys proceed concurrently; only updates to
// the same key serialize, on that key's own mutex. The map itself is
// guarded separately and only for entry lookup and creation.
type Aggregator struct {
	mu      sync.RWMutex
	entries map[Key]*entry
}

// NewAggregator creates an empty aggregator.
func NewAggregator() *Aggregator {
	return &Aggregator{entries: make(map[Key]*entry)}
}

func (a *Aggregator) entryFor(key Key) *entry {
	a.mu.RLock()
	e, ok := a.entries[key]
	a.mu.RUnlock()
	if ok {
		return e
	}

	a.mu.Lock()
	defer a.mu.Unlock()
	if e, ok = a.entries[key]; ok {
		return e
	}
	e = &entry{stats: NewRunningStats(0)}
	a.entries[key] = e
	return e
}

// Contribute folds v into the (word, revision) statistics and returns
// the updated snapshot. The first contribution to a key fixes its
// dimension; later mismatches are rejected without touching state.
func (a *Aggregator) Contribute(word, revision string, v feature.Vector) (WordVector, error) {
	e := a.entryFor(Key{Word: word, Revision: revision})

	e.mu.Lock()
	defer e.mu.Unlock()

	if e.stats.Count == 0 && e.stats.Dim() != len(v.Values) {
		e.stats = NewRunningStats(len(v.Values))
	}
	if err := e.stats.Update(v.Values); err != nil {
		return WordVector{}, err
	}
	return a.snapshotLocked(Key{Word: word, Revision: revision}, e), nil
}

func (a *Aggregator) snapshotLocked(key Key, e *entry) WordVector {
	return WordVector{
		Word:     key.Word,
		Revision: key.Revision,
		Count:    e.stats.Count,
		Mean:     append([]float64(nil), e.stats.Mean...),
		M2:       append([]float64(nil), e.stats.M2...),
	}
}

// Get returns the current snapshot for a key.
func (a *Aggregator) Get(word, revision string) (WordVector, bool) {
	key := Key{Word: word, Revision: revision}
	a.mu.RLock()
	e, ok := a.entries[key]
	a.mu.RUnlock()
	if !ok {
		return WordVector{}, false
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if e.stats.Count == 0 {
		return WordVector{}, false
	}
	return a.snapshotLocked(key, e), true
}

// Keys returns all keys with at least one contribution, sorted for
// reproducible iteration.
func (a *Aggregator) Keys() []Key {
	a.mu.RLock()
	keys := make([]Key, 0, len(a.entries))
	for k, e := range a.entries {
		e.mu.Lock()
		count := e.stats.Count
		e.mu.Unlock()
		if count > 0 {
			keys = append(keys, k)
		}
	}
	a.mu.RUnlock()

	sort.Slice(keys, func(i, j int) bool {
		if keys[i].Word != keys[j].Word {
			return keys[i].Word < keys[j].Word
		}
		return keys[i].Revision < keys[j].Revision
	})
	return keys
}

// Snapshot returns copies of every aggregated vector.
func (a *Aggregator) Snapshot() []WordVector {
	keys := a.Keys()
	out := make([]WordVector, 0, len(keys))
	for _, k := range keys {
		if wv, ok := a.Get(k.Word, k.Revision); ok {
			out = append(out, wv)
		}
	}
	return out
}

// Restore merges persisted vectors back into the aggregator, e.g. when
// resuming a revision from a store.
func (a *Aggregator) Restore(vectors []WordVector) error {
	for _, wv := range vectors {
		e := a.entryFor(wv.Key())
		e.mu.Lock()
		err := e.stats.MergeFrom(&RunningStats{Count: wv.Count, Mean: wv.Mean, M2: wv.M2})
		e.mu.Unlock()
		if err != nil {
			return err
		}
	}
	return nil
}
