package persistence

import (
	"bytes"
	"encoding/binary"
	"math"
	"unsafe"
)

// SliceReader provides bounds-checked sequential reads over a byte
// slice. Loaders use it over mmapped regions to parse headers and hand
// out zero-copy views of the payload.
type SliceReader struct {
	b   []byte
	off int
}

// NewSliceReader creates a reader over b starting at offset 0.
func NewSliceReader(b []byte) *SliceReader {
	return &SliceReader{b: b}
}

// Offset returns the current read position.
func (r *SliceReader) Offset() int {
	if r == nil {
		return 0
	}
	return r.off
}

// ReadBytes returns the next n bytes without copying.
func (r *SliceReader) ReadBytes(n int) ([]byte, error) {
	if n < 0 || r.off+n > len(r.b) {
		return nil, boundsErr(n, r.off, len(r.b))
	}
	out := r.b[r.off : r.off+n]
	r.off += n
	return out, nil
}

// ReadUint32 reads a little-endian uint32.
func (r *SliceReader) ReadUint32() (uint32, error) {
	b, err := r.ReadBytes(4)
	if err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint32(b), nil
}

// ReadUint64 reads a little-endian uint64.
func (r *SliceReader) ReadUint64() (uint64, error) {
	b, err := r.ReadBytes(8)
	if err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint64(b), nil
}

// ReadFloat64 reads a little-endian float64.
func (r *SliceReader) ReadFloat64() (float64, error) {
	b, err := r.ReadBytes(8)
	if err != nil {
		return 0, err
	}
	return math.Float64frombits(binary.LittleEndian.Uint64(b)), nil
}

// Remaining returns the unread tail of the slice.
func (r *SliceReader) Remaining() []byte {
	if r.off >= len(r.b) {
		return nil
	}
	return r.b[r.off:]
}

// ReadFileHeader reads and validates the fixed container header.
func (r *SliceReader) ReadFileHeader(magic uint32, kind uint8) (*FileHeader, error) {
	b, err := r.ReadBytes(headerSize)
	if err != nil {
		return nil, err
	}
	var h FileHeader
	if err := binary.Read(bytes.NewReader(b), binary.LittleEndian, &h); err != nil {
		return nil, err
	}
	if err := h.ValidateFor(magic, kind); err != nil {
		return nil, err
	}
	return &h, nil
}

// ReadFloat32SliceView returns the next n float32 values as a view into
// the underlying bytes. The view shares the mmapped memory and is valid
// only while the mapping is open.
func (r *SliceReader) ReadFloat32SliceView(n int) ([]float32, error) {
	if n == 0 {
		return nil, nil
	}
	bb, err := r.ReadBytes(n * 4)
	if err != nil {
		return nil, err
	}
	if uintptr(unsafe.Pointer(&bb[0]))%4 != 0 {
		return nil, ErrUnalignedAccess
	}
	return unsafe.Slice((*float32)(unsafe.Pointer(&bb[0])), n), nil
}
