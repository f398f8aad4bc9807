package vectorstore

import (
	"context"
	"slices"
	"sort"
	"sync"
	"time"

	"github.com/RoaringBitmap/roaring/v2"

	"github.com/hupe1980/huevec/aggregate"
	"github.com/hupe1980/huevec/feature"
)

type vectorKey struct {
	word     string
	revision string
	imageID  string
}

// MemoryStore is the default, non-durable store. Feature vectors get a
// dense internal ID; per-word and per-revision posting bitmaps make the
// list operations cheap without scanning every record.
type MemoryStore struct {
	mu     sync.RWMutex
	closed bool

	nextID  uint32
	records map[uint32]feature.Vector
	byKey   map[vectorKey]uint32
	byWord  map[string]*roaring.Bitmap
	byRev   map[string]*roaring.Bitmap

	words     map[aggregate.Key]aggregate.WordVector
	revisions map[string]RevisionState
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		records:   make(map[uint32]feature.Vector),
		byKey:     make(map[vectorKey]uint32),
		byWord:    make(map[string]*roaring.Bitmap),
		byRev:     make(map[string]*roaring.Bitmap),
		words:     make(map[aggregate.Key]aggregate.WordVector),
		revisions: make(map[string]RevisionState),
	}
}

func cloneVector(v feature.Vector) feature.Vector {
	v.Values = slices.Clone(v.Values)
	return v
}

func cloneWordVector(wv aggregate.WordVector) aggregate.WordVector {
	wv.Mean = slices.Clone(wv.Mean)
	wv.M2 = slices.Clone(wv.M2)
	return wv
}

// PutVector implements Store.
func (s *MemoryStore) PutVector(_ context.Context, v feature.Vector) error {
	if err := validateVector(v); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrClosed
	}
	if s.revisions[v.Provenance.Revision].Finalized {
		return ErrRevisionFinalized
	}

	key := vectorKey{word: v.Provenance.Word, revision: v.Provenance.Revision, imageID: v.Provenance.ImageID}
	if id, ok := s.byKey[key]; ok {
		s.records[id] = cloneVector(v)
		return nil
	}

	id := s.nextID
	s.nextID++
	s.records[id] = cloneVector(v)
	s.byKey[key] = id

	wbm := s.byWord[key.word]
	if wbm == nil {
		wbm = roaring.New()
		s.byWord[key.word] = wbm
	}
	wbm.Add(id)

	rbm := s.byRev[key.revision]
	if rbm == nil {
		rbm = roaring.New()
		s.byRev[key.revision] = rbm
	}
	rbm.Add(id)

	return nil
}

// GetVector implements Store.
func (s *MemoryStore) GetVector(_ context.Context, word, revision, imageID string) (feature.Vector, error) {
	if err := validateKey(word, revision, imageID); err != nil {
		return feature.Vector{}, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return feature.Vector{}, ErrClosed
	}

	id, ok := s.byKey[vectorKey{word: word, revision: revision, imageID: imageID}]
	if !ok {
		return feature.Vector{}, ErrNotFound
	}
	return cloneVector(s.records[id]), nil
}

// ListImages implements Store.
func (s *MemoryStore) ListImages(_ context.Context, word, revision string) ([]string, error) {
	if err := validateKey(word, revision); err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return nil, ErrClosed
	}

	wbm, rbm := s.byWord[word], s.byRev[revision]
	if wbm == nil || rbm == nil {
		return nil, nil
	}

	ids := roaring.And(wbm, rbm)
	out := make([]string, 0, ids.GetCardinality())

	it := ids.Iterator()
	for it.HasNext() {
		out = append(out, s.records[it.Next()].Provenance.ImageID)
	}

	sort.Strings(out)
	return out, nil
}

// PutWordVector implements Store.
func (s *MemoryStore) PutWordVector(_ context.Context, wv aggregate.WordVector) error {
	if err := validateKey(wv.Word, wv.Revision); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrClosed
	}
	if s.revisions[wv.Revision].Finalized {
		return ErrRevisionFinalized
	}

	s.words[wv.Key()] = cloneWordVector(wv)
	return nil
}

// GetWordVector implements Store.
func (s *MemoryStore) GetWordVector(_ context.Context, word, revision string) (aggregate.WordVector, error) {
	if err := validateKey(word, revision); err != nil {
		return aggregate.WordVector{}, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return aggregate.WordVector{}, ErrClosed
	}

	wv, ok := s.words[aggregate.Key{Word: word, Revision: revision}]
	if !ok {
		return aggregate.WordVector{}, ErrNotFound
	}
	return cloneWordVector(wv), nil
}

// ListWords implements Store.
func (s *MemoryStore) ListWords(_ context.Context, revision string) ([]string, error) {
	if err := validateKey(revision); err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return nil, ErrClosed
	}

	seen := make(map[string]struct{})
	for key := range s.words {
		if key.Revision == revision {
			seen[key.Word] = struct{}{}
		}
	}
	if rbm := s.byRev[revision]; rbm != nil {
		for word, wbm := range s.byWord {
			if _, ok := seen[word]; ok {
				continue
			}
			if roaring.And(wbm, rbm).GetCardinality() > 0 {
				seen[word] = struct{}{}
			}
		}
	}

	out := make([]string, 0, len(seen))
	for word := range seen {
		out = append(out, word)
	}

	sort.Strings(out)
	return out, nil
}

// ListRevisions implements Store.
func (s *MemoryStore) ListRevisions(_ context.Context) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return nil, ErrClosed
	}

	seen := make(map[string]struct{})
	for revision, rbm := range s.byRev {
		if !rbm.IsEmpty() {
			seen[revision] = struct{}{}
		}
	}
	for key := range s.words {
		seen[key.Revision] = struct{}{}
	}
	for revision := range s.revisions {
		seen[revision] = struct{}{}
	}

	out := make([]string, 0, len(seen))
	for revision := range seen {
		out = append(out, revision)
	}

	sort.Strings(out)
	return out, nil
}

// Finalize implements Store.
func (s *MemoryStore) Finalize(_ context.Context, revision string) error {
	if err := validateKey(revision); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrClosed
	}

	state := s.revisions[revision]
	if state.Finalized {
		return nil
	}
	s.revisions[revision] = RevisionState{
		Revision:    revision,
		Finalized:   true,
		FinalizedAt: time.Now().UTC(),
	}
	return nil
}

// Finalized implements Store.
func (s *MemoryStore) Finalized(_ context.Context, revision string) (bool, error) {
	if err := validateKey(revision); err != nil {
		return false, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return false, ErrClosed
	}
	return s.revisions[revision].Finalized, nil
}

// Dump implements Store.
func (s *MemoryStore) Dump(_ context.Context, revisions ...string) (*Dump, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return nil, ErrClosed
	}

	var filter map[string]struct{}
	if len(revisions) > 0 {
		filter = make(map[string]struct{}, len(revisions))
		for _, revision := range revisions {
			filter[revision] = struct{}{}
		}
	}
	included := func(revision string) bool {
		if filter == nil {
			return true
		}
		_, ok := filter[revision]
		return ok
	}

	d := &Dump{}
	for key, wv := range s.words {
		if included(key.Revision) {
			d.WordVectors = append(d.WordVectors, cloneWordVector(wv))
		}
	}
	for _, id := range s.byKey {
		v := s.records[id]
		if included(v.Provenance.Revision) {
			d.Vectors = append(d.Vectors, cloneVector(v))
		}
	}
	for revision, state := range s.revisions {
		if included(revision) {
			d.Revisions = append(d.Revisions, state)
		}
	}

	sortDump(d)
	return d, nil
}

// Restore implements Store.
func (s *MemoryStore) Restore(ctx context.Context, d *Dump, optFns ...func(o *RestoreOptions)) error {
	opts := RestoreOptions{}
	for _, fn := range optFns {
		fn(&opts)
	}

	for _, wv := range d.WordVectors {
		if err := restoreWordVector(ctx, s, wv, opts.MergeWords); err != nil {
			return err
		}
	}
	for _, v := range d.Vectors {
		if err := s.PutVector(ctx, v); err != nil {
			return err
		}
	}
	for _, state := range d.Revisions {
		if err := s.applyRevisionState(state); err != nil {
			return err
		}
	}
	return nil
}

// applyRevisionState installs a restored state, keeping the earlier
// finalization timestamp if the revision is already finalized.
func (s *MemoryStore) applyRevisionState(state RevisionState) error {
	if err := validateKey(state.Revision); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrClosed
	}
	if s.revisions[state.Revision].Finalized {
		return nil
	}
	if state.Finalized {
		s.revisions[state.Revision] = state
	}
	return nil
}

// Close implements Store.
func (s *MemoryStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.closed = true
	return nil
}

// sortDump orders dump slices by key so dumps are deterministic.
func sortDump(d *Dump) {
	sort.Slice(d.WordVectors, func(i, j int) bool {
		a, b := d.WordVectors[i], d.WordVectors[j]
		if a.Revision != b.Revision {
			return a.Revision < b.Revision
		}
		return a.Word < b.Word
	})
	sort.Slice(d.Vectors, func(i, j int) bool {
		a, b := d.Vectors[i].Provenance, d.Vectors[j].Provenance
		if a.Revision != b.Revision {
			return a.Revision < b.Revision
		}
		if a.Word != b.Word {
			return a.Word < b.Word
		}
		return a.ImageID < b.ImageID
	})
	sort.Slice(d.Revisions, func(i, j int) bool {
		return d.Revisions[i].Revision < d.Revisions[j].Revision
	})
}
