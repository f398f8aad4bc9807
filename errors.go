package huevec

import (
	"errors"
	"fmt"

	"github.com/hupe1980/huevec/aggregate"
	"github.com/hupe1980/huevec/blobstore"
	"github.com/hupe1980/huevec/colorspace"
	"github.com/hupe1980/huevec/feature"
	"github.com/hupe1980/huevec/vectorstore"
)

var (
	// ErrNotFound is returned when a stored vector is not found.
	ErrNotFound = errors.New("not found")

	// ErrUnknownWord is returned when a word has no aggregate in the
	// pipeline's revision, or when a label normalizes to the empty
	// string and therefore cannot be used as a key.
	ErrUnknownWord = errors.New("unknown word")

	// ErrRevisionFinalized is returned on writes into a finalized
	// revision.
	ErrRevisionFinalized = errors.New("revision finalized")

	// ErrInvalidK is returned when k is not positive.
	ErrInvalidK = errors.New("k must be positive")

	// ErrPipelineClosed is returned when the pipeline has been closed.
	ErrPipelineClosed = errors.New("pipeline closed")
)

// ErrInvalidPixelRange indicates an image whose declared shape does not
// match its pixel buffer. The image is rejected; the batch continues.
//
// The original underlying error (if any) can be accessed via errors.Unwrap.
type ErrInvalidPixelRange struct {
	Width  int
	Height int
	PixLen int
	cause  error
}

func (e *ErrInvalidPixelRange) Error() string {
	return fmt.Sprintf("invalid image shape: %dx%d with %d pixel bytes", e.Width, e.Height, e.PixLen)
}

func (e *ErrInvalidPixelRange) Unwrap() error { return e.cause }

// ErrMissingColorTable indicates that the configured color table could
// not be opened. There is no retry path; fix the configuration.
//
// The original underlying error (if any) can be accessed via errors.Unwrap.
type ErrMissingColorTable struct {
	Path  string
	cause error
}

func (e *ErrMissingColorTable) Error() string {
	return fmt.Sprintf("color table %q unavailable", e.Path)
}

func (e *ErrMissingColorTable) Unwrap() error { return e.cause }

// ErrMissingTransform indicates that the configured projection artifact
// could not be opened.
//
// The original underlying error (if any) can be accessed via errors.Unwrap.
type ErrMissingTransform struct {
	Path  string
	cause error
}

func (e *ErrMissingTransform) Error() string {
	return fmt.Sprintf("transform %q unavailable", e.Path)
}

func (e *ErrMissingTransform) Unwrap() error { return e.cause }

// ErrDimensionMismatch indicates a vector whose length differs from the
// established dimension. Aggregate state is untouched when it is
// returned.
//
// The original underlying error (if any) can be accessed via errors.Unwrap.
type ErrDimensionMismatch struct {
	Expected int
	Actual   int
	cause    error
}

func (e *ErrDimensionMismatch) Error() string {
	return fmt.Sprintf("dimension mismatch: expected %d, got %d", e.Expected, e.Actual)
}

func (e *ErrDimensionMismatch) Unwrap() error { return e.cause }

// ErrCorruptStore indicates persisted state that cannot be read safely.
// Reads fail closed; no partial data accompanies this error.
//
// The original underlying error (if any) can be accessed via errors.Unwrap.
type ErrCorruptStore struct {
	Reason string
	cause  error
}

func (e *ErrCorruptStore) Error() string {
	return fmt.Sprintf("corrupt store: %s", e.Reason)
}

func (e *ErrCorruptStore) Unwrap() error { return e.cause }

func translateError(err error) error {
	if err == nil {
		return nil
	}

	// Not found unification.
	if errors.Is(err, vectorstore.ErrNotFound) || errors.Is(err, blobstore.ErrNotFound) {
		return fmt.Errorf("%w: %w", ErrNotFound, err)
	}
	if errors.Is(err, vectorstore.ErrRevisionFinalized) {
		return fmt.Errorf("%w: %w", ErrRevisionFinalized, err)
	}
	if errors.Is(err, vectorstore.ErrClosed) {
		return fmt.Errorf("%w: %w", ErrPipelineClosed, err)
	}

	// Shape and input normalization.
	var ipr *colorspace.InvalidPixelRangeError
	if errors.As(err, &ipr) {
		return &ErrInvalidPixelRange{Width: ipr.Width, Height: ipr.Height, PixLen: ipr.PixLen, cause: err}
	}
	var fdm *feature.DimensionMismatchError
	if errors.As(err, &fdm) {
		return &ErrDimensionMismatch{Expected: fdm.Expected, Actual: fdm.Actual, cause: err}
	}
	var adm *aggregate.DimensionMismatchError
	if errors.As(err, &adm) {
		return &ErrDimensionMismatch{Expected: adm.Expected, Actual: adm.Actual, cause: err}
	}

	// Startup resources.
	var tnf *colorspace.TableNotFoundError
	if errors.As(err, &tnf) {
		return &ErrMissingColorTable{Path: tnf.Path, cause: err}
	}
	var xnf *feature.TransformNotFoundError
	if errors.As(err, &xnf) {
		return &ErrMissingTransform{Path: xnf.Path, cause: err}
	}

	// Fail-closed persistence.
	var ce *vectorstore.CorruptError
	if errors.As(err, &ce) {
		return &ErrCorruptStore{Reason: ce.Reason, cause: err}
	}

	return err
}
