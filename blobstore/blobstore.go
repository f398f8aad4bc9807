package blobstore

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
)

var (
	// ErrNotFound is returned when a blob does not exist.
	ErrNotFound = errors.New("blobstore: blob not found")

	// ErrRevisionCommitted is returned when publishing a revision that
	// has already been committed to the shared store.
	ErrRevisionCommitted = errors.New("blobstore: revision already committed")
)

// BlobStore provides named binary artifact storage for shared huevec
// data: store snapshots, color tables and projection files.
//
// Names are forward-slash paths ("vectors/rev-a/colorvectors.hvs").
// Implementations must be safe for concurrent use.
type BlobStore interface {
	// Open returns a reader for the named blob, or ErrNotFound.
	Open(ctx context.Context, name string) (Blob, error)

	// Create returns a writer for the named blob. The blob becomes
	// visible when the writer is closed without error.
	Create(ctx context.Context, name string) (WritableBlob, error)

	// Put writes data as the named blob in one call.
	Put(ctx context.Context, name string, data []byte) error

	// Delete removes the named blob. Deleting a missing blob is not an
	// error.
	Delete(ctx context.Context, name string) error

	// List returns the sorted names of blobs under the prefix.
	List(ctx context.Context, prefix string) ([]string, error)
}

// Blob is a random-access reader over a stored artifact.
type Blob interface {
	io.ReaderAt
	io.Closer

	// Size returns the blob length in bytes.
	Size() int64
}

// WritableBlob streams data into a blob. Close commits the write;
// implementations discard partial data when the write failed.
type WritableBlob interface {
	io.Writer
	io.Closer
}

// Mappable is implemented by blobs whose content is available as a
// contiguous byte slice without copying (memory-mapped files, memory
// blobs). The slice is valid until the blob is closed.
type Mappable interface {
	Bytes() []byte
}

// ValidateName rejects blob names that would escape the store
// namespace.
func ValidateName(name string) error {
	if name == "" || strings.HasPrefix(name, "/") || strings.Contains(name, "..") {
		return fmt.Errorf("blobstore: invalid blob name %q", name)
	}
	return nil
}

// ReadAll reads the full content of the named blob.
func ReadAll(ctx context.Context, bs BlobStore, name string) ([]byte, error) {
	b, err := bs.Open(ctx, name)
	if err != nil {
		return nil, err
	}
	defer b.Close()

	if m, ok := b.(Mappable); ok {
		data := m.Bytes()
		out := make([]byte, len(data))
		copy(out, data)
		return out, nil
	}

	out := make([]byte, b.Size())
	if _, err := io.ReadFull(io.NewSectionReader(b, 0, b.Size()), out); err != nil {
		return nil, err
	}
	return out, nil
}

// Exists reports whether the named blob is present.
func Exists(ctx context.Context, bs BlobStore, name string) (bool, error) {
	b, err := bs.Open(ctx, name)
	if errors.Is(err, ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	_ = b.Close()
	return true, nil
}
