package vectorstore

import (
	"context"
	"encoding/binary"
	"fmt"
	"io"
	"os"

	"github.com/klauspost/compress/zstd"
	"github.com/pierrec/lz4/v4"

	"github.com/hupe1980/huevec/codec"
	"github.com/hupe1980/huevec/persistence"
)

var (
	snapshotDirMagic    = [4]byte{'H', 'V', 'D', '1'}
	snapshotFooterMagic = [4]byte{'H', 'V', 'F', '1'}
)

const snapshotFormatVersion = uint16(1)

const (
	snapshotSectionWordVectors = uint16(1)
	snapshotSectionVectors     = uint16(2)
	snapshotSectionRevisions   = uint16(3)
)

// Compression selects the per-section block compression of a snapshot.
// Incompressible sections are stored raw regardless of the choice.
type Compression uint16

const (
	CompressionNone Compression = iota
	CompressionZstd
	CompressionLZ4
)

func (c Compression) String() string {
	switch c {
	case CompressionNone:
		return "none"
	case CompressionZstd:
		return "zstd"
	case CompressionLZ4:
		return "lz4"
	default:
		return fmt.Sprintf("unknown(%d)", uint16(c))
	}
}

// ParseCompression resolves a compression scheme by its config name.
func ParseCompression(name string) (Compression, error) {
	switch name {
	case "none":
		return CompressionNone, nil
	case "zstd", "":
		return CompressionZstd, nil
	case "lz4":
		return CompressionLZ4, nil
	default:
		return 0, fmt.Errorf("unknown compression %q", name)
	}
}

type snapshotSectionEntry struct {
	Type        uint16
	Compression Compression
	Checksum    uint32 // CRC32 of the stored (possibly compressed) bytes
	Offset      uint64
	Len         uint64 // stored length
	RawLen      uint64 // uncompressed length
}

// ExportOptions configures snapshot writing.
type ExportOptions struct {
	// Codec encodes the sections. Defaults to codec.Default; its name
	// is recorded in the header so readers can resolve it.
	Codec codec.Codec

	// Compression is the per-section block compression. Defaults to
	// CompressionZstd.
	Compression Compression

	// Revisions restricts the snapshot to the given revisions. Empty
	// means everything.
	Revisions []string
}

// ImportOptions configures snapshot reading.
type ImportOptions struct {
	// Codec overrides codec resolution. When nil, the codec named in
	// the snapshot header is used.
	Codec codec.Codec

	// MergeWords merges imported word vectors into existing ones
	// instead of overwriting. See RestoreOptions.
	MergeWords bool
}

// Export writes a snapshot of the store to w.
//
// Format:
//  1. snapshot header (magic/version/codec name)
//  2. word vector section
//  3. feature vector section
//  4. revision state section
//  5. directory (offset/length/checksum for each section)
//  6. footer (directory offset/length)
//
// Each section is codec-marshaled, individually compressed and covered
// by its own CRC32, so a reader can reject a damaged file before
// decoding anything.
func Export(ctx context.Context, w io.Writer, s Store, optFns ...func(o *ExportOptions)) error {
	if w == nil {
		return fmt.Errorf("snapshot: writer is nil")
	}
	if s == nil {
		return fmt.Errorf("snapshot: store is nil")
	}

	opts := ExportOptions{
		Codec:       codec.Default,
		Compression: CompressionZstd,
	}
	for _, fn := range optFns {
		fn(&opts)
	}
	if opts.Codec == nil {
		opts.Codec = codec.Default
	}

	d, err := s.Dump(ctx, opts.Revisions...)
	if err != nil {
		return err
	}

	codecName := opts.Codec.Name()
	if len(codecName) > 0xFFFF {
		return fmt.Errorf("snapshot codec name too long: %d", len(codecName))
	}

	// Header (16 bytes + codec name)
	// [0:4]  magic
	// [4:6]  version
	// [6:8]  flags/reserved
	// [8:10] codec name len
	// [10:12] section count
	// [12:16] reserved
	var hdr [16]byte
	binary.BigEndian.PutUint32(hdr[0:4], persistence.MagicSnapshot)
	binary.LittleEndian.PutUint16(hdr[4:6], snapshotFormatVersion)
	binary.LittleEndian.PutUint16(hdr[8:10], uint16(len(codecName)))
	binary.LittleEndian.PutUint16(hdr[10:12], 3)
	if _, err := w.Write(hdr[:]); err != nil {
		return err
	}
	if len(codecName) > 0 {
		if _, err := w.Write([]byte(codecName)); err != nil {
			return err
		}
	}

	cw := &countingWriter{w: w}
	cw.n = int64(len(hdr)) + int64(len(codecName))

	entries := make([]snapshotSectionEntry, 0, 3)
	writeSection := func(typ uint16, v any) error {
		raw, err := opts.Codec.Marshal(v)
		if err != nil {
			return fmt.Errorf("failed to encode snapshot section %d: %w", typ, err)
		}
		stored, comp, err := compressSection(raw, opts.Compression)
		if err != nil {
			return err
		}
		entry := snapshotSectionEntry{
			Type:        typ,
			Compression: comp,
			Checksum:    persistence.Checksum(stored),
			Offset:      uint64(cw.n),
			Len:         uint64(len(stored)),
			RawLen:      uint64(len(raw)),
		}
		if _, err := cw.Write(stored); err != nil {
			return err
		}
		entries = append(entries, entry)
		return nil
	}

	if err := writeSection(snapshotSectionWordVectors, d.WordVectors); err != nil {
		return err
	}
	if err := writeSection(snapshotSectionVectors, d.Vectors); err != nil {
		return err
	}
	if err := writeSection(snapshotSectionRevisions, d.Revisions); err != nil {
		return err
	}

	// Directory
	dirOff := uint64(cw.n)
	if err := writeSnapshotDirectory(cw, entries); err != nil {
		return err
	}
	dirLen := uint64(cw.n) - dirOff

	// Footer
	return writeSnapshotFooter(cw, dirOff, dirLen)
}

// Import reads a snapshot from r and restores it into s. Any container
// malformation (bad magic, truncation, checksum mismatch, unknown
// codec or compression) fails with *CorruptError before the store is
// touched.
//
// The container requires random access (io.ReadSeeker) so the reader
// can locate the footer and directory first and then verify each
// section by offset.
func Import(ctx context.Context, r io.ReadSeeker, s Store, optFns ...func(o *ImportOptions)) error {
	if r == nil {
		return fmt.Errorf("snapshot: reader is nil")
	}
	if s == nil {
		return fmt.Errorf("snapshot: store is nil")
	}

	opts := ImportOptions{}
	for _, fn := range optFns {
		fn(&opts)
	}

	codecName, sections, err := readSnapshotDirectory(r)
	if err != nil {
		return err
	}

	c := opts.Codec
	if c == nil {
		if codecName == "" {
			c = codec.Default
		} else {
			cc, ok := codec.ByName(codecName)
			if !ok {
				return &CorruptError{Reason: fmt.Sprintf("unsupported snapshot codec %q", codecName)}
			}
			c = cc
		}
	} else if codecName != "" && c.Name() != codecName {
		return &CorruptError{Reason: fmt.Sprintf("snapshot codec %q does not match configured codec %q", codecName, c.Name())}
	}

	readSection := func(typ uint16, v any) error {
		entry, ok := sections[typ]
		if !ok {
			return &CorruptError{Reason: fmt.Sprintf("snapshot missing section %d", typ)}
		}
		if _, err := r.Seek(int64(entry.Offset), io.SeekStart); err != nil {
			return &CorruptError{Reason: "seek to section failed", Err: err}
		}
		stored := make([]byte, entry.Len)
		if _, err := io.ReadFull(r, stored); err != nil {
			return &CorruptError{Reason: fmt.Sprintf("truncated section %d", typ), Err: err}
		}
		if actual := persistence.Checksum(stored); actual != entry.Checksum {
			return &CorruptError{
				Reason: fmt.Sprintf("section %d checksum", typ),
				Err:    &persistence.ChecksumMismatchError{Expected: entry.Checksum, Actual: actual},
			}
		}
		raw, err := decompressSection(stored, entry.Compression, entry.RawLen)
		if err != nil {
			return err
		}
		if err := c.Unmarshal(raw, v); err != nil {
			return &CorruptError{Reason: fmt.Sprintf("failed to decode section %d", typ), Err: err}
		}
		return nil
	}

	var d Dump
	if err := readSection(snapshotSectionWordVectors, &d.WordVectors); err != nil {
		return err
	}
	if err := readSection(snapshotSectionVectors, &d.Vectors); err != nil {
		return err
	}
	if err := readSection(snapshotSectionRevisions, &d.Revisions); err != nil {
		return err
	}

	return s.Restore(ctx, &d, func(o *RestoreOptions) {
		o.MergeWords = opts.MergeWords
	})
}

// ExportFile writes a snapshot to path using a temp file and atomic
// rename.
func ExportFile(ctx context.Context, path string, s Store, optFns ...func(o *ExportOptions)) error {
	return persistence.SaveToFile(path, func(w io.Writer) error {
		return Export(ctx, w, s, optFns...)
	})
}

// ImportFile restores a snapshot file into s.
func ImportFile(ctx context.Context, path string, s Store, optFns ...func(o *ImportOptions)) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()

	return Import(ctx, f, s, optFns...)
}

func compressSection(raw []byte, want Compression) ([]byte, Compression, error) {
	switch want {
	case CompressionNone:
		return raw, CompressionNone, nil

	case CompressionZstd:
		enc, err := zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
		if err != nil {
			return nil, 0, err
		}
		out := enc.EncodeAll(raw, make([]byte, 0, len(raw)))
		_ = enc.Close()
		if len(out) >= len(raw) {
			return raw, CompressionNone, nil
		}
		return out, CompressionZstd, nil

	case CompressionLZ4:
		bound := lz4.CompressBlockBound(len(raw))
		buf := make([]byte, bound)
		var compressor lz4.Compressor
		n, err := compressor.CompressBlock(raw, buf)
		if err != nil {
			return nil, 0, err
		}
		// n == 0 means incompressible.
		if n == 0 || n >= len(raw) {
			return raw, CompressionNone, nil
		}
		return buf[:n], CompressionLZ4, nil

	default:
		return nil, 0, fmt.Errorf("unknown compression %v", want)
	}
}

func decompressSection(stored []byte, comp Compression, rawLen uint64) ([]byte, error) {
	const maxSectionLen = uint64(1) << 40
	if rawLen > maxSectionLen {
		return nil, &CorruptError{Reason: fmt.Sprintf("implausible section length %d", rawLen)}
	}

	switch comp {
	case CompressionNone:
		if uint64(len(stored)) != rawLen {
			return nil, &CorruptError{Reason: "section length mismatch"}
		}
		return stored, nil

	case CompressionZstd:
		dec, err := zstd.NewReader(nil)
		if err != nil {
			return nil, err
		}
		defer dec.Close()
		raw, err := dec.DecodeAll(stored, make([]byte, 0, rawLen))
		if err != nil {
			return nil, &CorruptError{Reason: "zstd section decompression failed", Err: err}
		}
		if uint64(len(raw)) != rawLen {
			return nil, &CorruptError{Reason: "zstd section length mismatch"}
		}
		return raw, nil

	case CompressionLZ4:
		raw := make([]byte, rawLen)
		n, err := lz4.UncompressBlock(stored, raw)
		if err != nil {
			return nil, &CorruptError{Reason: "lz4 section decompression failed", Err: err}
		}
		if uint64(n) != rawLen {
			return nil, &CorruptError{Reason: "lz4 section length mismatch"}
		}
		return raw, nil

	default:
		return nil, &CorruptError{Reason: fmt.Sprintf("unknown section compression %d", uint16(comp))}
	}
}

type countingWriter struct {
	w io.Writer
	n int64
}

func (cw *countingWriter) Write(p []byte) (int, error) {
	n, err := cw.w.Write(p)
	cw.n += int64(n)
	return n, err
}

func writeSnapshotDirectory(w io.Writer, entries []snapshotSectionEntry) error {
	// Directory header (12 bytes)
	// [0:4] magic
	// [4:6] version
	// [6:8] reserved
	// [8:12] entry count
	var hdr [12]byte
	copy(hdr[0:4], snapshotDirMagic[:])
	binary.LittleEndian.PutUint16(hdr[4:6], snapshotFormatVersion)
	binary.LittleEndian.PutUint32(hdr[8:12], uint32(len(entries)))
	if _, err := w.Write(hdr[:]); err != nil {
		return err
	}

	// Each entry is 32 bytes
	// [0:2] type
	// [2:4] compression
	// [4:8] checksum (CRC32)
	// [8:16] offset
	// [16:24] stored length
	// [24:32] uncompressed length
	for _, e := range entries {
		var b [32]byte
		binary.LittleEndian.PutUint16(b[0:2], e.Type)
		binary.LittleEndian.PutUint16(b[2:4], uint16(e.Compression))
		binary.LittleEndian.PutUint32(b[4:8], e.Checksum)
		binary.LittleEndian.PutUint64(b[8:16], e.Offset)
		binary.LittleEndian.PutUint64(b[16:24], e.Len)
		binary.LittleEndian.PutUint64(b[24:32], e.RawLen)
		if _, err := w.Write(b[:]); err != nil {
			return err
		}
	}
	return nil
}

func writeSnapshotFooter(w io.Writer, dirOffset, dirLen uint64) error {
	// Footer is 24 bytes
	// [0:4] magic
	// [4:6] version
	// [6:8] reserved
	// [8:16] directory offset
	// [16:24] directory length
	var b [24]byte
	copy(b[0:4], snapshotFooterMagic[:])
	binary.LittleEndian.PutUint16(b[4:6], snapshotFormatVersion)
	binary.LittleEndian.PutUint64(b[8:16], dirOffset)
	binary.LittleEndian.PutUint64(b[16:24], dirLen)
	_, err := w.Write(b[:])
	return err
}

func readSnapshotDirectory(r io.ReadSeeker) (codecName string, sections map[uint16]snapshotSectionEntry, err error) {
	// Header
	if _, err := r.Seek(0, io.SeekStart); err != nil {
		return "", nil, &CorruptError{Reason: "seek to header failed", Err: err}
	}
	var hdr [16]byte
	if _, err := io.ReadFull(r, hdr[:]); err != nil {
		return "", nil, &CorruptError{Reason: "truncated snapshot header", Err: err}
	}
	if binary.BigEndian.Uint32(hdr[0:4]) != persistence.MagicSnapshot {
		return "", nil, &CorruptError{Reason: "bad snapshot magic"}
	}
	ver := binary.LittleEndian.Uint16(hdr[4:6])
	if ver != snapshotFormatVersion {
		return "", nil, &CorruptError{Reason: fmt.Sprintf("unsupported snapshot version %d", ver)}
	}
	nameLen := int(binary.LittleEndian.Uint16(hdr[8:10]))
	sectionCount := int(binary.LittleEndian.Uint16(hdr[10:12]))
	if sectionCount <= 0 {
		return "", nil, &CorruptError{Reason: fmt.Sprintf("invalid section count %d", sectionCount)}
	}

	nameBytes := make([]byte, nameLen)
	if nameLen > 0 {
		if _, err := io.ReadFull(r, nameBytes); err != nil {
			return "", nil, &CorruptError{Reason: "truncated codec name", Err: err}
		}
	}
	codecName = string(nameBytes)

	// Footer (last 24 bytes)
	end, err := r.Seek(0, io.SeekEnd)
	if err != nil {
		return "", nil, &CorruptError{Reason: "seek to footer failed", Err: err}
	}
	if end < 24 {
		return "", nil, &CorruptError{Reason: "truncated snapshot"}
	}
	if _, err := r.Seek(end-24, io.SeekStart); err != nil {
		return "", nil, &CorruptError{Reason: "seek to footer failed", Err: err}
	}
	var foot [24]byte
	if _, err := io.ReadFull(r, foot[:]); err != nil {
		return "", nil, &CorruptError{Reason: "truncated snapshot footer", Err: err}
	}
	if [4]byte(foot[0:4]) != snapshotFooterMagic {
		return "", nil, &CorruptError{Reason: "missing snapshot footer"}
	}
	if fver := binary.LittleEndian.Uint16(foot[4:6]); fver != snapshotFormatVersion {
		return "", nil, &CorruptError{Reason: fmt.Sprintf("unsupported footer version %d", fver)}
	}

	const maxInt64u = uint64(^uint64(0) >> 1)
	dirOffsetU := binary.LittleEndian.Uint64(foot[8:16])
	dirLenU := binary.LittleEndian.Uint64(foot[16:24])
	if dirOffsetU > maxInt64u || dirLenU > maxInt64u {
		return "", nil, &CorruptError{Reason: "invalid directory offsets"}
	}
	dataEndU := uint64(end - 24)
	if dirLenU < 12 || dirOffsetU > dataEndU || dirLenU > dataEndU-dirOffsetU {
		return "", nil, &CorruptError{Reason: "invalid directory range"}
	}

	// Directory header
	if _, err := r.Seek(int64(dirOffsetU), io.SeekStart); err != nil {
		return "", nil, &CorruptError{Reason: "seek to directory failed", Err: err}
	}
	var dh [12]byte
	if _, err := io.ReadFull(r, dh[:]); err != nil {
		return "", nil, &CorruptError{Reason: "truncated directory header", Err: err}
	}
	if [4]byte(dh[0:4]) != snapshotDirMagic {
		return "", nil, &CorruptError{Reason: "invalid directory magic"}
	}
	if dver := binary.LittleEndian.Uint16(dh[4:6]); dver != snapshotFormatVersion {
		return "", nil, &CorruptError{Reason: fmt.Sprintf("unsupported directory version %d", dver)}
	}
	entryCount := int(binary.LittleEndian.Uint32(dh[8:12]))
	if entryCount != sectionCount {
		return "", nil, &CorruptError{Reason: fmt.Sprintf("directory entry count %d does not match header section count %d", entryCount, sectionCount)}
	}

	sections = make(map[uint16]snapshotSectionEntry, entryCount)
	for i := 0; i < entryCount; i++ {
		var eb [32]byte
		if _, err := io.ReadFull(r, eb[:]); err != nil {
			return "", nil, &CorruptError{Reason: "truncated directory entry", Err: err}
		}
		typ := binary.LittleEndian.Uint16(eb[0:2])
		comp := Compression(binary.LittleEndian.Uint16(eb[2:4]))
		checksum := binary.LittleEndian.Uint32(eb[4:8])
		off := binary.LittleEndian.Uint64(eb[8:16])
		ln := binary.LittleEndian.Uint64(eb[16:24])
		rawLn := binary.LittleEndian.Uint64(eb[24:32])
		if _, exists := sections[typ]; exists {
			return "", nil, &CorruptError{Reason: fmt.Sprintf("duplicate section type %d", typ)}
		}

		// Sections must not point into the header (including codec
		// name) and must end before the directory.
		headerEndU := uint64(16 + nameLen)
		if off < headerEndU {
			return "", nil, &CorruptError{Reason: "section overlaps header"}
		}
		if off > dirOffsetU || ln > dirOffsetU-off {
			return "", nil, &CorruptError{Reason: "invalid section range"}
		}
		sections[typ] = snapshotSectionEntry{
			Type:        typ,
			Compression: comp,
			Checksum:    checksum,
			Offset:      off,
			Len:         ln,
			RawLen:      rawLn,
		}
	}

	return codecName, sections, nil
}
