// Package vectorstore defines the canonical storage interface for
// feature vectors and aggregated word vectors.
//
// A store keys feature vectors by (word, revision, image ID) and word
// vectors by (word, revision). Revisions can be finalized, after which
// every write into them is rejected. Backends cover the deployment
// range: in-memory for pipelines, bbolt for single-machine durability,
// Postgres for shared setups.
package vectorstore

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/hupe1980/huevec/aggregate"
	"github.com/hupe1980/huevec/feature"
)

var (
	// ErrNotFound is returned when no record exists for a key.
	ErrNotFound = errors.New("vectorstore: not found")

	// ErrRevisionFinalized is returned on writes into a finalized
	// revision.
	ErrRevisionFinalized = errors.New("vectorstore: revision finalized")

	// ErrInvalidKey is returned when a key component is empty or
	// contains reserved bytes.
	ErrInvalidKey = errors.New("vectorstore: invalid key component")

	// ErrClosed is returned when the store has been closed.
	ErrClosed = errors.New("vectorstore: store closed")
)

// CorruptError reports persisted state that cannot be read safely. The
// store fails closed: no partial data is returned alongside it.
type CorruptError struct {
	Reason string
	Err    error
}

func (e *CorruptError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("vectorstore: corrupt data: %s: %v", e.Reason, e.Err)
	}
	return fmt.Sprintf("vectorstore: corrupt data: %s", e.Reason)
}

func (e *CorruptError) Unwrap() error {
	return e.Err
}

// RevisionState tracks the lifecycle of one revision.
type RevisionState struct {
	Revision    string    `json:"revision"`
	Finalized   bool      `json:"finalized"`
	FinalizedAt time.Time `json:"finalized_at"`
}

// Dump is the full contents of a store in exportable form. Slices are
// sorted by key so identical stores dump identically.
type Dump struct {
	WordVectors []aggregate.WordVector `json:"word_vectors"`
	Vectors     []feature.Vector       `json:"vectors"`
	Revisions   []RevisionState        `json:"revisions"`
}

// RestoreOptions controls how a dump is applied to a store.
type RestoreOptions struct {
	// MergeWords combines an incoming word vector with an existing one
	// for the same (word, revision) key using running-statistics
	// merging, instead of overwriting. The two sides must have
	// aggregated disjoint image sets for the counts to stay truthful.
	MergeWords bool
}

// Store is the canonical storage for feature vectors and word vectors.
//
// Implementations must be safe for concurrent use. Returned slices are
// copies; callers may mutate them freely.
type Store interface {
	// PutVector stores v keyed by its provenance. The provenance word,
	// revision and image ID must be non-empty.
	PutVector(ctx context.Context, v feature.Vector) error

	// GetVector returns the vector stored for the key, or ErrNotFound.
	GetVector(ctx context.Context, word, revision, imageID string) (feature.Vector, error)

	// ListImages returns the sorted image IDs with vectors stored
	// under (word, revision).
	ListImages(ctx context.Context, word, revision string) ([]string, error)

	// PutWordVector stores the aggregate for (wv.Word, wv.Revision).
	PutWordVector(ctx context.Context, wv aggregate.WordVector) error

	// GetWordVector returns the aggregate for the key, or ErrNotFound.
	GetWordVector(ctx context.Context, word, revision string) (aggregate.WordVector, error)

	// ListWords returns the sorted words present in the revision,
	// whether as word vectors or as stored feature vectors.
	ListWords(ctx context.Context, revision string) ([]string, error)

	// ListRevisions returns all revisions the store knows about,
	// sorted.
	ListRevisions(ctx context.Context) ([]string, error)

	// Finalize marks a revision read-only. Finalizing an already
	// finalized revision is a no-op.
	Finalize(ctx context.Context, revision string) error

	// Finalized reports whether the revision has been finalized.
	Finalized(ctx context.Context, revision string) (bool, error)

	// Dump returns the store contents, optionally restricted to the
	// given revisions.
	Dump(ctx context.Context, revisions ...string) (*Dump, error)

	// Restore applies a dump to the store. Existing records with the
	// same keys are overwritten (or merged, see RestoreOptions);
	// records under other keys are kept. Restoring into a finalized
	// revision fails with ErrRevisionFinalized.
	Restore(ctx context.Context, d *Dump, optFns ...func(o *RestoreOptions)) error

	// Close releases backend resources. The store must not be used
	// afterwards.
	Close() error
}

// validateKey rejects empty components and the NUL byte, which the
// durable backends use as a key separator.
func validateKey(components ...string) error {
	for _, c := range components {
		if c == "" || strings.ContainsRune(c, 0) {
			return ErrInvalidKey
		}
	}
	return nil
}

// validateVector checks the provenance key of a vector before storage.
func validateVector(v feature.Vector) error {
	return validateKey(v.Provenance.Word, v.Provenance.Revision, v.Provenance.ImageID)
}

// restoreWordVector implements the shared overwrite-or-merge logic of
// Restore for one incoming word vector.
func restoreWordVector(ctx context.Context, s Store, wv aggregate.WordVector, merge bool) error {
	if !merge {
		return s.PutWordVector(ctx, wv)
	}

	existing, err := s.GetWordVector(ctx, wv.Word, wv.Revision)
	if errors.Is(err, ErrNotFound) {
		return s.PutWordVector(ctx, wv)
	}
	if err != nil {
		return err
	}

	merged, err := aggregate.Merge(existing, wv)
	if err != nil {
		return err
	}
	return s.PutWordVector(ctx, merged)
}
