package feature

import (
	"encoding/binary"
	"errors"
	"fmt"
	"hash/crc32"
	"io"
	"math"
	"unsafe"

	"github.com/klauspost/compress/zstd"

	"github.com/hupe1980/huevec/persistence"
)

// ErrProjectionFormat reports a structurally invalid projection
// artifact.
var ErrProjectionFormat = errors.New("feature: malformed projection artifact")

// TransformNotFoundError reports a projection artifact that is absent
// or unreadable. A requested but unloadable transform is fatal at
// startup.
type TransformNotFoundError struct {
	Path string
	Err  error
}

func (e *TransformNotFoundError) Error() string {
	return fmt.Sprintf("feature: projection %q unavailable: %v", e.Path, e.Err)
}

func (e *TransformNotFoundError) Unwrap() error {
	return e.Err
}

// Projection is a fitted linear transform y = M(x - mean). Matrix is
// OutDim x InDim in row-major order. Projections are immutable once
// loaded and safe for concurrent Apply calls.
type Projection struct {
	InDim  int
	OutDim int
	Matrix []float32
	Mean   []float32
}

// NewProjection validates dimensions and builds a projection.
func NewProjection(inDim, outDim int, matrix, mean []float32) (*Projection, error) {
	if inDim <= 0 || outDim <= 0 {
		return nil, fmt.Errorf("%w: dims %dx%d", ErrProjectionFormat, outDim, inDim)
	}
	if len(matrix) != inDim*outDim {
		return nil, &DimensionMismatchError{Expected: inDim * outDim, Actual: len(matrix)}
	}
	if len(mean) != inDim {
		return nil, &DimensionMismatchError{Expected: inDim, Actual: len(mean)}
	}
	return &Projection{InDim: inDim, OutDim: outDim, Matrix: matrix, Mean: mean}, nil
}

// Apply computes y = M(x - mean). The arithmetic runs in float64 and
// narrows once at the end.
func (p *Projection) Apply(x []float32) ([]float32, error) {
	if len(x) != p.InDim {
		return nil, &DimensionMismatchError{Expected: p.InDim, Actual: len(x)}
	}

	centered := make([]float64, p.InDim)
	for i := range x {
		centered[i] = float64(x[i]) - float64(p.Mean[i])
	}

	out := make([]float32, p.OutDim)
	for row := 0; row < p.OutDim; row++ {
		sum := 0.0
		base := row * p.InDim
		for col := 0; col < p.InDim; col++ {
			sum += float64(p.Matrix[base+col]) * centered[col]
		}
		out[row] = float32(sum)
	}
	return out, nil
}

// WriteProjection writes p as a versioned artifact.
func WriteProjection(w io.Writer, p *Projection, layout uint8) error {
	extra := make([]byte, 0, 8)
	extra = binary.LittleEndian.AppendUint32(extra, uint32(p.InDim))
	extra = binary.LittleEndian.AppendUint32(extra, uint32(p.OutDim))

	payload := make([]float32, 0, len(p.Matrix)+len(p.Mean))
	payload = append(payload, p.Matrix...)
	payload = append(payload, p.Mean...)
	payloadBytes := unsafe.Slice((*byte)(unsafe.Pointer(&payload[0])), len(payload)*4)

	stored := payloadBytes
	if layout == persistence.LayoutZstd {
		enc, err := zstd.NewWriter(nil)
		if err != nil {
			return err
		}
		stored = enc.EncodeAll(payloadBytes, nil)
		enc.Close()
	} else if layout != persistence.LayoutRaw {
		return persistence.ErrInvalidLayout
	}

	sum := crc32.Update(0, persistence.CRC32Table, extra)
	sum = crc32.Update(sum, persistence.CRC32Table, stored)

	header := &persistence.FileHeader{
		Magic:      persistence.MagicProjection,
		Version:    persistence.Version,
		Kind:       persistence.KindProjection,
		Layout:     layout,
		ExtraLen:   uint32(len(extra)),
		PayloadLen: uint64(len(payloadBytes)),
		StoredLen:  uint64(len(stored)),
		Checksum:   sum,
	}

	bw := persistence.NewWriter(w)
	if err := bw.WriteHeader(header); err != nil {
		return err
	}
	if _, err := w.Write(extra); err != nil {
		return err
	}
	_, err := w.Write(stored)
	return err
}

// SaveProjection writes p to path via a temp file and atomic rename.
func SaveProjection(path string, p *Projection, layout uint8) error {
	return persistence.SaveToFile(path, func(w io.Writer) error {
		return WriteProjection(w, p, layout)
	})
}

// OpenProjection loads the projection at path, verifying its checksum.
func OpenProjection(path string) (*Projection, error) {
	var p *Projection
	err := persistence.LoadFromFile(path, func(r io.Reader) error {
		loaded, err := LoadProjection(r)
		if err != nil {
			return err
		}
		p = loaded
		return nil
	})
	if err != nil {
		return nil, &TransformNotFoundError{Path: path, Err: err}
	}
	return p, nil
}

// LoadProjection reads a projection from a stream.
func LoadProjection(r io.Reader) (*Projection, error) {
	raw, err := io.ReadAll(r)
	if err != nil {
		return nil, err
	}

	sr := persistence.NewSliceReader(raw)
	header, err := sr.ReadFileHeader(persistence.MagicProjection, persistence.KindProjection)
	if err != nil {
		return nil, err
	}

	extra, err := sr.ReadBytes(int(header.ExtraLen))
	if err != nil {
		return nil, err
	}
	stored, err := sr.ReadBytes(int(header.StoredLen))
	if err != nil {
		return nil, err
	}

	sum := crc32.Update(0, persistence.CRC32Table, extra)
	sum = crc32.Update(sum, persistence.CRC32Table, stored)
	if sum != header.Checksum {
		return nil, &persistence.ChecksumMismatchError{Expected: header.Checksum, Actual: sum}
	}

	if len(extra) < 8 {
		return nil, fmt.Errorf("%w: extra header too short", ErrProjectionFormat)
	}
	inDim := int(binary.LittleEndian.Uint32(extra[0:4]))
	outDim := int(binary.LittleEndian.Uint32(extra[4:8]))
	if inDim <= 0 || outDim <= 0 {
		return nil, fmt.Errorf("%w: dims %dx%d", ErrProjectionFormat, outDim, inDim)
	}

	want := (inDim*outDim + inDim) * 4
	if header.PayloadLen != uint64(want) {
		return nil, fmt.Errorf("%w: payload length %d, want %d", ErrProjectionFormat, header.PayloadLen, want)
	}

	var payloadBytes []byte
	switch header.Layout {
	case persistence.LayoutRaw:
		if len(stored) != want {
			return nil, fmt.Errorf("%w: raw payload truncated", ErrProjectionFormat)
		}
		payloadBytes = stored
	case persistence.LayoutZstd:
		dec, err := zstd.NewReader(nil)
		if err != nil {
			return nil, err
		}
		defer dec.Close()
		out, err := dec.DecodeAll(stored, make([]byte, 0, want))
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrProjectionFormat, err)
		}
		if len(out) != want {
			return nil, fmt.Errorf("%w: decompressed %d bytes, want %d", ErrProjectionFormat, len(out), want)
		}
		payloadBytes = out
	default:
		return nil, persistence.ErrInvalidLayout
	}

	values := make([]float32, inDim*outDim+inDim)
	for i := range values {
		values[i] = math.Float32frombits(binary.LittleEndian.Uint32(payloadBytes[i*4:]))
	}

	return &Projection{
		InDim:  inDim,
		OutDim: outDim,
		Matrix: values[:inDim*outDim],
		Mean:   values[inDim*outDim:],
	}, nil
}
