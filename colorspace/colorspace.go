// Package colorspace converts raw RGB images into a perceptually
// uniform color space through a precomputed lookup table.
package colorspace

import "fmt"

// RawImage is an 8-bit RGB image with interleaved channels. Pix holds
// W*H*3 bytes in row-major order.
type RawImage struct {
	W, H int
	Pix  []uint8
}

// NewRawImage allocates a zeroed image of the given dimensions.
func NewRawImage(w, h int) RawImage {
	return RawImage{W: w, H: h, Pix: make([]uint8, w*h*3)}
}

// Validate checks the declared shape against the pixel buffer.
func (img RawImage) Validate() error {
	if img.W <= 0 || img.H <= 0 || len(img.Pix) != img.W*img.H*3 {
		return &InvalidPixelRangeError{Width: img.W, Height: img.H, PixLen: len(img.Pix)}
	}
	return nil
}

// At returns the RGB triple at (x, y). Bounds are the caller's problem.
func (img RawImage) At(x, y int) (r, g, b uint8) {
	i := (y*img.W + x) * 3
	return img.Pix[i], img.Pix[i+1], img.Pix[i+2]
}

// Set writes the RGB triple at (x, y).
func (img RawImage) Set(x, y int, r, g, b uint8) {
	i := (y*img.W + x) * 3
	img.Pix[i], img.Pix[i+1], img.Pix[i+2] = r, g, b
}

// PerceptualImage is a converted image with three interleaved float32
// channels in the table's color space. It is a transient in-memory
// representation and is never persisted.
type PerceptualImage struct {
	W, H  int
	Space string
	Pix   []float32
}

// At returns the channel triple at (x, y).
func (img PerceptualImage) At(x, y int) (c0, c1, c2 float32) {
	i := (y*img.W + x) * 3
	return img.Pix[i], img.Pix[i+1], img.Pix[i+2]
}

// InvalidPixelRangeError reports an image whose buffer does not match
// its declared shape.
type InvalidPixelRangeError struct {
	Width  int
	Height int
	PixLen int
}

func (e *InvalidPixelRangeError) Error() string {
	return fmt.Sprintf("colorspace: invalid image shape %dx%d with %d pixel bytes", e.Width, e.Height, e.PixLen)
}

// TableNotFoundError reports a color table that is absent or unreadable.
// Table loading happens at startup and is fatal; there is no retry path.
type TableNotFoundError struct {
	Path string
	Err  error
}

func (e *TableNotFoundError) Error() string {
	return fmt.Sprintf("colorspace: color table %q unavailable: %v", e.Path, e.Err)
}

func (e *TableNotFoundError) Unwrap() error {
	return e.Err
}
