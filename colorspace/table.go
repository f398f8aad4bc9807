package colorspace

import (
	"encoding/binary"
	"errors"
	"fmt"
	"hash/crc32"
	"io"
	"math"
	"sync/atomic"
	"unsafe"

	"github.com/klauspost/compress/zstd"

	"github.com/hupe1980/huevec/internal/mmap"
	"github.com/hupe1980/huevec/persistence"
)

// ErrTableFormat reports a structurally invalid color table artifact.
var ErrTableFormat = errors.New("colorspace: malformed color table")

// Table is a precomputed lookup table mapping 8-bit RGB triples to
// coordinates in a perceptual color space. Entries are float32 triples
// indexed by quantized (r, g, b). A depth-8 table covers the full 256³
// domain; smaller depths quantize each channel to its bucket midpoint.
//
// Tables are immutable after load and safe for concurrent lookups.
type Table struct {
	space  string
	depth  uint8
	shift  uint8
	edge   int
	min    [3]float32
	max    [3]float32
	data   []float32
	mapped *mmap.Mapping
	closed atomic.Bool
}

// BuildOptions configures table generation.
type BuildOptions struct {
	// Depth is the per-channel resolution exponent; the table stores
	// (1<<Depth)³ entries. Production tables use 8.
	Depth int
}

// BuildTable computes a table over the sRGB domain.
func BuildTable(optFns ...func(o *BuildOptions)) *Table {
	opts := BuildOptions{Depth: 8}
	for _, fn := range optFns {
		fn(&opts)
	}
	if opts.Depth < 1 || opts.Depth > 8 {
		opts.Depth = 8
	}

	depth := uint8(opts.Depth)
	shift := 8 - depth
	edge := 1 << depth
	half := uint8(0)
	if shift > 0 {
		half = 1 << (shift - 1)
	}

	t := &Table{
		space: SpaceJzAzBzD65,
		depth: depth,
		shift: shift,
		edge:  edge,
		data:  make([]float32, edge*edge*edge*3),
	}
	for ch := 0; ch < 3; ch++ {
		t.min[ch] = float32(math.Inf(1))
		t.max[ch] = float32(math.Inf(-1))
	}

	i := 0
	for r := 0; r < edge; r++ {
		for g := 0; g < edge; g++ {
			for b := 0; b < edge; b++ {
				jz, az, bz := srgbToJzAzBz(
					uint8(r)<<shift+half,
					uint8(g)<<shift+half,
					uint8(b)<<shift+half,
				)
				t.data[i] = float32(jz)
				t.data[i+1] = float32(az)
				t.data[i+2] = float32(bz)
				for ch, v := range [3]float32{t.data[i], t.data[i+1], t.data[i+2]} {
					if v < t.min[ch] {
						t.min[ch] = v
					}
					if v > t.max[ch] {
						t.max[ch] = v
					}
				}
				i += 3
			}
		}
	}

	return t
}

// Space returns the color space identifier, e.g. "jzazbz-d65".
func (t *Table) Space() string { return t.space }

// Depth returns the per-channel resolution exponent.
func (t *Table) Depth() int { return int(t.depth) }

// Entries returns the number of table entries.
func (t *Table) Entries() int { return t.edge * t.edge * t.edge }

// ChannelRange returns the observed [min, max] of one output channel.
func (t *Table) ChannelRange(ch int) (min, max float32) {
	return t.min[ch], t.max[ch]
}

// Lookup returns the perceptual coordinates for an RGB triple.
func (t *Table) Lookup(r, g, b uint8) (c0, c1, c2 float32) {
	i := ((int(r>>t.shift)*t.edge+int(g>>t.shift))*t.edge + int(b>>t.shift)) * 3
	return t.data[i], t.data[i+1], t.data[i+2]
}

// Close releases the backing mapping, if any. Idempotent.
func (t *Table) Close() error {
	if t.closed.Swap(true) {
		return nil
	}
	t.data = nil
	if t.mapped != nil {
		return t.mapped.Close()
	}
	return nil
}

// encodeExtra serializes the table-specific header fields, padded so the
// payload starts 8-byte aligned.
func (t *Table) encodeExtra() []byte {
	space := []byte(t.space)
	extra := make([]byte, 0, 28+len(space))
	extra = append(extra, t.depth, 0)
	extra = binary.LittleEndian.AppendUint16(extra, uint16(len(space)))
	for ch := 0; ch < 3; ch++ {
		extra = binary.LittleEndian.AppendUint32(extra, math.Float32bits(t.min[ch]))
	}
	for ch := 0; ch < 3; ch++ {
		extra = binary.LittleEndian.AppendUint32(extra, math.Float32bits(t.max[ch]))
	}
	extra = append(extra, space...)
	return persistence.PadTo8(extra)
}

func parseExtra(extra []byte) (depth uint8, space string, min, max [3]float32, err error) {
	r := persistence.NewSliceReader(extra)
	head, err := r.ReadBytes(4)
	if err != nil {
		return 0, "", min, max, fmt.Errorf("%w: %v", ErrTableFormat, err)
	}
	depth = head[0]
	spaceLen := int(binary.LittleEndian.Uint16(head[2:4]))
	for ch := 0; ch < 3; ch++ {
		v, rerr := r.ReadUint32()
		if rerr != nil {
			return 0, "", min, max, fmt.Errorf("%w: %v", ErrTableFormat, rerr)
		}
		min[ch] = math.Float32frombits(v)
	}
	for ch := 0; ch < 3; ch++ {
		v, rerr := r.ReadUint32()
		if rerr != nil {
			return 0, "", min, max, fmt.Errorf("%w: %v", ErrTableFormat, rerr)
		}
		max[ch] = math.Float32frombits(v)
	}
	spaceBytes, err := r.ReadBytes(spaceLen)
	if err != nil {
		return 0, "", min, max, fmt.Errorf("%w: %v", ErrTableFormat, err)
	}
	if depth < 1 || depth > 8 {
		return 0, "", min, max, fmt.Errorf("%w: depth %d", ErrTableFormat, depth)
	}
	return depth, string(spaceBytes), min, max, nil
}

// WriteTable writes t as a versioned artifact. layout selects the
// payload encoding: persistence.LayoutRaw keeps the float data mappable
// in place, persistence.LayoutZstd trades open-time decompression for a
// much smaller file.
func WriteTable(w io.Writer, t *Table, layout uint8) error {
	extra := t.encodeExtra()
	payload := unsafe.Slice((*byte)(unsafe.Pointer(&t.data[0])), len(t.data)*4)

	stored := payload
	if layout == persistence.LayoutZstd {
		enc, err := zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
		if err != nil {
			return err
		}
		stored = enc.EncodeAll(payload, nil)
		enc.Close()
	} else if layout != persistence.LayoutRaw {
		return persistence.ErrInvalidLayout
	}

	sum := crc32.Update(0, persistence.CRC32Table, extra)
	sum = crc32.Update(sum, persistence.CRC32Table, stored)

	header := &persistence.FileHeader{
		Magic:      persistence.MagicColorTable,
		Version:    persistence.Version,
		Kind:       persistence.KindColorTable,
		Layout:     layout,
		ExtraLen:   uint32(len(extra)),
		PayloadLen: uint64(len(payload)),
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

// SaveTable writes the table to path via a temp file and atomic rename.
func SaveTable(path string, t *Table, layout uint8) error {
	return persistence.SaveToFile(path, func(w io.Writer) error {
		return WriteTable(w, t, layout)
	})
}

// OpenTable memory-maps the table at path. Raw-layout payloads stay in
// the mapping (zero copy); zstd payloads are decompressed into memory
// and the mapping is released. The artifact checksum is always verified
// before any lookup is possible.
func OpenTable(path string) (*Table, error) {
	m, err := mmap.Open(path)
	if err != nil {
		return nil, &TableNotFoundError{Path: path, Err: err}
	}
	_ = m.Advise(mmap.AccessSequential)

	t, keepMapping, err := parseTable(m.Bytes())
	if err != nil {
		_ = m.Close()
		return nil, &TableNotFoundError{Path: path, Err: err}
	}
	if keepMapping {
		t.mapped = m
		_ = m.Advise(mmap.AccessRandom)
	} else {
		_ = m.Close()
	}
	return t, nil
}

// LoadTable reads a table from a stream, e.g. a blob fetched from
// object storage. Raw-layout views reference the buffered stream, which
// the table keeps alive.
func LoadTable(r io.Reader) (*Table, error) {
	raw, err := io.ReadAll(r)
	if err != nil {
		return nil, err
	}
	t, _, err := parseTable(raw)
	if err != nil {
		return nil, err
	}
	return t, nil
}

// parseTable validates and decodes a complete artifact held in b. The
// returned bool reports whether t.data references b directly, which
// requires the caller to keep the backing memory alive.
func parseTable(b []byte) (*Table, bool, error) {
	sr := persistence.NewSliceReader(b)
	header, err := sr.ReadFileHeader(persistence.MagicColorTable, persistence.KindColorTable)
	if err != nil {
		return nil, false, err
	}

	extra, err := sr.ReadBytes(int(header.ExtraLen))
	if err != nil {
		return nil, false, err
	}
	stored, err := sr.ReadBytes(int(header.StoredLen))
	if err != nil {
		return nil, false, err
	}

	sum := crc32.Update(0, persistence.CRC32Table, extra)
	sum = crc32.Update(sum, persistence.CRC32Table, stored)
	if sum != header.Checksum {
		return nil, false, &persistence.ChecksumMismatchError{Expected: header.Checksum, Actual: sum}
	}

	depth, space, min, max, err := parseExtra(extra)
	if err != nil {
		return nil, false, err
	}

	edge := 1 << depth
	entries := edge * edge * edge
	if header.PayloadLen != uint64(entries*3*4) {
		return nil, false, fmt.Errorf("%w: payload length %d for depth %d", ErrTableFormat, header.PayloadLen, depth)
	}

	t := &Table{
		space: space,
		depth: depth,
		shift: 8 - depth,
		edge:  edge,
		min:   min,
		max:   max,
	}

	switch header.Layout {
	case persistence.LayoutRaw:
		if uint64(len(stored)) != header.PayloadLen {
			return nil, false, fmt.Errorf("%w: raw payload truncated", ErrTableFormat)
		}
		view, err := persistence.NewSliceReader(stored).ReadFloat32SliceView(entries * 3)
		if err != nil {
			return nil, false, err
		}
		t.data = view
		return t, true, nil
	case persistence.LayoutZstd:
		dec, err := zstd.NewReader(nil)
		if err != nil {
			return nil, false, err
		}
		defer dec.Close()
		data := make([]float32, entries*3)
		dst := unsafe.Slice((*byte)(unsafe.Pointer(&data[0])), entries*3*4)
		out, err := dec.DecodeAll(stored, dst[:0])
		if err != nil {
			return nil, false, fmt.Errorf("%w: %v", ErrTableFormat, err)
		}
		if len(out) != len(dst) {
			return nil, false, fmt.Errorf("%w: decompressed %d bytes, want %d", ErrTableFormat, len(out), len(dst))
		}
		if &out[0] != &dst[0] {
			// Decoder grew a fresh buffer; fall back to a copy.
			copy(dst, out)
		}
		t.data = data
		return t, false, nil
	default:
		return nil, false, persistence.ErrInvalidLayout
	}
}
