package resource

import (
	"context"
	"io"
)

// RateLimitedWriter paces writes through the controller's IO limit.
// Used for snapshot uploads so a push cannot saturate the link.
type RateLimitedWriter struct {
	ctx context.Context
	w   io.Writer
	rc  *Controller
}

// NewRateLimitedWriter wraps w. A nil controller disables pacing.
func NewRateLimitedWriter(ctx context.Context, w io.Writer, rc *Controller) *RateLimitedWriter {
	return &RateLimitedWriter{
		ctx: ctx,
		w:   w,
		rc:  rc,
	}
}

func (w *RateLimitedWriter) Write(p []byte) (int, error) {
	if err := w.rc.AcquireIO(w.ctx, len(p)); err != nil {
		return 0, err
	}
	return w.w.Write(p)
}

// RateLimitedReader paces reads through the controller's IO limit.
// Used for snapshot downloads.
type RateLimitedReader struct {
	ctx context.Context
	r   io.Reader
	rc  *Controller
}

// NewRateLimitedReader wraps r. A nil controller disables pacing.
func NewRateLimitedReader(ctx context.Context, r io.Reader, rc *Controller) *RateLimitedReader {
	return &RateLimitedReader{
		ctx: ctx,
		r:   r,
		rc:  rc,
	}
}

func (r *RateLimitedReader) Read(p []byte) (int, error) {
	// Charge for bytes actually read, not the buffer size, so short
	// reads do not consume budget they never used.
	n, err := r.r.Read(p)
	if n > 0 {
		if lerr := r.rc.AcquireIO(r.ctx, n); lerr != nil {
			return n, lerr
		}
	}
	return n, err
}
