package vectorstore

import (
	"bytes"
	"context"
	"fmt"
	"sort"
	"sync/atomic"
	"time"

	bolt "go.etcd.io/bbolt"

	"github.com/hupe1980/huevec/aggregate"
	"github.com/hupe1980/huevec/codec"
	"github.com/hupe1980/huevec/feature"
)

// boltSchemaVersion is bumped whenever the bucket layout or value
// encoding changes incompatibly. Opening a file with a different
// version fails closed instead of guessing.
const boltSchemaVersion = 1

var (
	boltWordVectorsBucket = []byte("word_vectors")
	boltVectorsBucket     = []byte("feature_vectors")
	boltRevisionsBucket   = []byte("revisions")
	boltSchemaBucket      = []byte("schema")
	boltSchemaVersionKey  = []byte("version")
)

// keySep separates key components inside a bucket. validateKey rejects
// it in user input.
const keySep = byte(0)

type boltSchemaInfo struct {
	Version int `json:"version"`
}

// BoltOptions configures a BoltStore.
type BoltOptions struct {
	// Codec encodes stored values. Defaults to codec.Default.
	Codec codec.Codec

	// Timeout bounds the wait for the file lock. Defaults to 1s.
	Timeout time.Duration
}

// BoltStore is a single-file durable store backed by bbolt. Writes are
// transactional; a crash never leaves a torn record behind.
type BoltStore struct {
	db     *bolt.DB
	codec  codec.Codec
	closed atomic.Bool
}

// NewBoltStore opens or creates the store file at path.
func NewBoltStore(path string, optFns ...func(o *BoltOptions)) (*BoltStore, error) {
	opts := BoltOptions{
		Codec:   codec.Default,
		Timeout: time.Second,
	}
	for _, fn := range optFns {
		fn(&opts)
	}
	if opts.Codec == nil {
		opts.Codec = codec.Default
	}

	db, err := bolt.Open(path, 0600, &bolt.Options{Timeout: opts.Timeout})
	if err != nil {
		return nil, fmt.Errorf("failed to open store file: %w", err)
	}

	s := &BoltStore{db: db, codec: opts.Codec}
	if err := s.init(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

// init creates the buckets and verifies the schema version.
func (s *BoltStore) init() error {
	return s.db.Update(func(tx *bolt.Tx) error {
		for _, name := range [][]byte{boltWordVectorsBucket, boltVectorsBucket, boltRevisionsBucket, boltSchemaBucket} {
			if _, err := tx.CreateBucketIfNotExists(name); err != nil {
				return fmt.Errorf("failed to create bucket %s: %w", name, err)
			}
		}

		schema := tx.Bucket(boltSchemaBucket)
		raw := schema.Get(boltSchemaVersionKey)
		if raw == nil {
			data, err := s.codec.Marshal(boltSchemaInfo{Version: boltSchemaVersion})
			if err != nil {
				return err
			}
			return schema.Put(boltSchemaVersionKey, data)
		}

		var info boltSchemaInfo
		if err := s.codec.Unmarshal(raw, &info); err != nil {
			return &CorruptError{Reason: "unreadable schema info", Err: err}
		}
		if info.Version != boltSchemaVersion {
			return &CorruptError{Reason: fmt.Sprintf("schema version %d, expected %d", info.Version, boltSchemaVersion)}
		}
		return nil
	})
}

func joinKey(components ...string) []byte {
	size := len(components) - 1
	for _, c := range components {
		size += len(c)
	}
	key := make([]byte, 0, size)
	for i, c := range components {
		if i > 0 {
			key = append(key, keySep)
		}
		key = append(key, c...)
	}
	return key
}

// keyPrefix is joinKey plus a trailing separator, for cursor scans.
func keyPrefix(components ...string) []byte {
	return append(joinKey(components...), keySep)
}

func (s *BoltStore) guard() error {
	if s.closed.Load() {
		return ErrClosed
	}
	return nil
}

// revisionFinalized reads the revision state inside an open
// transaction.
func (s *BoltStore) revisionFinalized(tx *bolt.Tx, revision string) (RevisionState, error) {
	raw := tx.Bucket(boltRevisionsBucket).Get([]byte(revision))
	if raw == nil {
		return RevisionState{Revision: revision}, nil
	}
	var state RevisionState
	if err := s.codec.Unmarshal(raw, &state); err != nil {
		return RevisionState{}, &CorruptError{Reason: "unreadable revision state", Err: err}
	}
	return state, nil
}

// PutVector implements Store.
func (s *BoltStore) PutVector(_ context.Context, v feature.Vector) error {
	if err := validateVector(v); err != nil {
		return err
	}
	if err := s.guard(); err != nil {
		return err
	}

	data, err := s.codec.Marshal(v)
	if err != nil {
		return err
	}

	return s.db.Update(func(tx *bolt.Tx) error {
		state, err := s.revisionFinalized(tx, v.Provenance.Revision)
		if err != nil {
			return err
		}
		if state.Finalized {
			return ErrRevisionFinalized
		}
		key := joinKey(v.Provenance.Revision, v.Provenance.Word, v.Provenance.ImageID)
		return tx.Bucket(boltVectorsBucket).Put(key, data)
	})
}

// GetVector implements Store.
func (s *BoltStore) GetVector(_ context.Context, word, revision, imageID string) (feature.Vector, error) {
	var v feature.Vector

	if err := validateKey(word, revision, imageID); err != nil {
		return v, err
	}
	if err := s.guard(); err != nil {
		return v, err
	}

	err := s.db.View(func(tx *bolt.Tx) error {
		raw := tx.Bucket(boltVectorsBucket).Get(joinKey(revision, word, imageID))
		if raw == nil {
			return ErrNotFound
		}
		if err := s.codec.Unmarshal(raw, &v); err != nil {
			return &CorruptError{Reason: "unreadable vector record", Err: err}
		}
		return nil
	})
	return v, err
}

// ListImages implements Store.
func (s *BoltStore) ListImages(_ context.Context, word, revision string) ([]string, error) {
	if err := validateKey(word, revision); err != nil {
		return nil, err
	}
	if err := s.guard(); err != nil {
		return nil, err
	}

	var out []string
	err := s.db.View(func(tx *bolt.Tx) error {
		prefix := keyPrefix(revision, word)
		c := tx.Bucket(boltVectorsBucket).Cursor()
		for k, _ := c.Seek(prefix); k != nil && bytes.HasPrefix(k, prefix); k, _ = c.Next() {
			out = append(out, string(k[len(prefix):]))
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	sort.Strings(out)
	return out, nil
}

// PutWordVector implements Store.
func (s *BoltStore) PutWordVector(_ context.Context, wv aggregate.WordVector) error {
	if err := validateKey(wv.Word, wv.Revision); err != nil {
		return err
	}
	if err := s.guard(); err != nil {
		return err
	}

	data, err := s.codec.Marshal(wv)
	if err != nil {
		return err
	}

	return s.db.Update(func(tx *bolt.Tx) error {
		state, err := s.revisionFinalized(tx, wv.Revision)
		if err != nil {
			return err
		}
		if state.Finalized {
			return ErrRevisionFinalized
		}
		return tx.Bucket(boltWordVectorsBucket).Put(joinKey(wv.Revision, wv.Word), data)
	})
}

// GetWordVector implements Store.
func (s *BoltStore) GetWordVector(_ context.Context, word, revision string) (aggregate.WordVector, error) {
	var wv aggregate.WordVector

	if err := validateKey(word, revision); err != nil {
		return wv, err
	}
	if err := s.guard(); err != nil {
		return wv, err
	}

	err := s.db.View(func(tx *bolt.Tx) error {
		raw := tx.Bucket(boltWordVectorsBucket).Get(joinKey(revision, word))
		if raw == nil {
			return ErrNotFound
		}
		if err := s.codec.Unmarshal(raw, &wv); err != nil {
			return &CorruptError{Reason: "unreadable word vector record", Err: err}
		}
		return nil
	})
	return wv, err
}

// ListWords implements Store.
func (s *BoltStore) ListWords(_ context.Context, revision string) ([]string, error) {
	if err := validateKey(revision); err != nil {
		return nil, err
	}
	if err := s.guard(); err != nil {
		return nil, err
	}

	seen := make(map[string]struct{})
	err := s.db.View(func(tx *bolt.Tx) error {
		prefix := keyPrefix(revision)

		c := tx.Bucket(boltWordVectorsBucket).Cursor()
		for k, _ := c.Seek(prefix); k != nil && bytes.HasPrefix(k, prefix); k, _ = c.Next() {
			seen[string(k[len(prefix):])] = struct{}{}
		}

		c = tx.Bucket(boltVectorsBucket).Cursor()
		for k, _ := c.Seek(prefix); k != nil && bytes.HasPrefix(k, prefix); k, _ = c.Next() {
			rest := k[len(prefix):]
			if i := bytes.IndexByte(rest, keySep); i >= 0 {
				seen[string(rest[:i])] = struct{}{}
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	out := make([]string, 0, len(seen))
	for word := range seen {
		out = append(out, word)
	}

	sort.Strings(out)
	return out, nil
}

// ListRevisions implements Store.
func (s *BoltStore) ListRevisions(_ context.Context) ([]string, error) {
	if err := s.guard(); err != nil {
		return nil, err
	}

	seen := make(map[string]struct{})
	err := s.db.View(func(tx *bolt.Tx) error {
		c := tx.Bucket(boltRevisionsBucket).Cursor()
		for k, _ := c.First(); k != nil; k, _ = c.Next() {
			seen[string(k)] = struct{}{}
		}

		for _, bucket := range [][]byte{boltWordVectorsBucket, boltVectorsBucket} {
			c := tx.Bucket(bucket).Cursor()
			for k, _ := c.First(); k != nil; k, _ = c.Next() {
				if i := bytes.IndexByte(k, keySep); i >= 0 {
					seen[string(k[:i])] = struct{}{}
				}
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	out := make([]string, 0, len(seen))
	for revision := range seen {
		out = append(out, revision)
	}

	sort.Strings(out)
	return out, nil
}

// Finalize implements Store.
func (s *BoltStore) Finalize(_ context.Context, revision string) error {
	if err := validateKey(revision); err != nil {
		return err
	}
	if err := s.guard(); err != nil {
		return err
	}

	return s.db.Update(func(tx *bolt.Tx) error {
		state, err := s.revisionFinalized(tx, revision)
		if err != nil {
			return err
		}
		if state.Finalized {
			return nil
		}

		data, err := s.codec.Marshal(RevisionState{
			Revision:    revision,
			Finalized:   true,
			FinalizedAt: time.Now().UTC(),
		})
		if err != nil {
			return err
		}
		return tx.Bucket(boltRevisionsBucket).Put([]byte(revision), data)
	})
}

// Finalized implements Store.
func (s *BoltStore) Finalized(_ context.Context, revision string) (bool, error) {
	if err := validateKey(revision); err != nil {
		return false, err
	}
	if err := s.guard(); err != nil {
		return false, err
	}

	var finalized bool
	err := s.db.View(func(tx *bolt.Tx) error {
		state, err := s.revisionFinalized(tx, revision)
		if err != nil {
			return err
		}
		finalized = state.Finalized
		return nil
	})
	return finalized, err
}

// Dump implements Store.
func (s *BoltStore) Dump(_ context.Context, revisions ...string) (*Dump, error) {
	if err := s.guard(); err != nil {
		return nil, err
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
	err := s.db.View(func(tx *bolt.Tx) error {
		c := tx.Bucket(boltWordVectorsBucket).Cursor()
		for k, raw := c.First(); k != nil; k, raw = c.Next() {
			var wv aggregate.WordVector
			if err := s.codec.Unmarshal(raw, &wv); err != nil {
				return &CorruptError{Reason: "unreadable word vector record", Err: err}
			}
			if included(wv.Revision) {
				d.WordVectors = append(d.WordVectors, wv)
			}
		}

		c = tx.Bucket(boltVectorsBucket).Cursor()
		for k, raw := c.First(); k != nil; k, raw = c.Next() {
			var v feature.Vector
			if err := s.codec.Unmarshal(raw, &v); err != nil {
				return &CorruptError{Reason: "unreadable vector record", Err: err}
			}
			if included(v.Provenance.Revision) {
				d.Vectors = append(d.Vectors, v)
			}
		}

		c = tx.Bucket(boltRevisionsBucket).Cursor()
		for k, raw := c.First(); k != nil; k, raw = c.Next() {
			var state RevisionState
			if err := s.codec.Unmarshal(raw, &state); err != nil {
				return &CorruptError{Reason: "unreadable revision state", Err: err}
			}
			if included(state.Revision) {
				d.Revisions = append(d.Revisions, state)
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	sortDump(d)
	return d, nil
}

// Restore implements Store.
func (s *BoltStore) Restore(ctx context.Context, d *Dump, optFns ...func(o *RestoreOptions)) error {
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
		if !state.Finalized {
			continue
		}
		if err := s.applyRevisionState(state); err != nil {
			return err
		}
	}
	return nil
}

// applyRevisionState installs a restored state, keeping the earlier
// finalization if the revision is already finalized.
func (s *BoltStore) applyRevisionState(state RevisionState) error {
	if err := validateKey(state.Revision); err != nil {
		return err
	}
	if err := s.guard(); err != nil {
		return err
	}

	return s.db.Update(func(tx *bolt.Tx) error {
		existing, err := s.revisionFinalized(tx, state.Revision)
		if err != nil {
			return err
		}
		if existing.Finalized {
			return nil
		}

		data, err := s.codec.Marshal(state)
		if err != nil {
			return err
		}
		return tx.Bucket(boltRevisionsBucket).Put([]byte(state.Revision), data)
	})
}

// Close implements Store.
func (s *BoltStore) Close() error {
	if s.closed.Swap(true) {
		return nil
	}
	return s.db.Close()
}
