// Package persistence defines the binary container shared by huevec
// artifacts (color tables, projection files, store snapshots) and the
// low-level read/write helpers for it.
package persistence

import "errors"

const (
	// MagicColorTable identifies color table files (ASCII "HVT1").
	MagicColorTable = 0x48565431
	// MagicProjection identifies projection artifact files (ASCII "HVP1").
	MagicProjection = 0x48565031
	// MagicSnapshot identifies store snapshot files (ASCII "HVS1").
	// Snapshots use the sectioned container in package vectorstore, not
	// FileHeader, so there is no matching kind.
	MagicSnapshot = 0x48565331

	// Version is the current container format version (v1.0.0).
	Version = 0x00010000

	// Artifact kinds.
	KindColorTable = 1
	KindProjection = 2

	// Payload layouts.
	LayoutRaw  = 0
	LayoutZstd = 1
)

var (
	ErrInvalidMagic     = errors.New("invalid magic number")
	ErrInvalidVersion   = errors.New("unsupported format version")
	ErrInvalidKind      = errors.New("unexpected artifact kind")
	ErrInvalidLayout    = errors.New("unknown payload layout")
	ErrTruncated        = errors.New("truncated artifact")
	ErrHeaderExtraAlign = errors.New("extra header length must be a multiple of 8")
)

// FileHeader is the fixed 64-byte header at the start of every huevec
// artifact. A kind-specific extra header of ExtraLen bytes follows it,
// then the stored payload. ExtraLen is always a multiple of 8 so that a
// raw payload starts aligned for zero-copy float32 views over mmap.
//
// Checksum is the CRC32 (IEEE) of the extra header plus the stored
// payload, i.e. everything after these 64 bytes.
type FileHeader struct {
	Magic      uint32
	Version    uint32
	Kind       uint8
	Layout     uint8
	Padding1   [2]byte
	ExtraLen   uint32
	PayloadLen uint64 // uncompressed payload length
	StoredLen  uint64 // payload length as stored on disk
	Checksum   uint32
	Padding2   [4]byte
	Reserved   [24]byte
}

// headerSize is the encoded size of FileHeader.
const headerSize = 64

// ValidateFor checks magic, version and kind against the expectation for
// one artifact type. It reports the first mismatch.
func (h *FileHeader) ValidateFor(magic uint32, kind uint8) error {
	if h.Magic != magic {
		return ErrInvalidMagic
	}
	if h.Version != Version {
		return ErrInvalidVersion
	}
	if h.Kind != kind {
		return ErrInvalidKind
	}
	if h.Layout != LayoutRaw && h.Layout != LayoutZstd {
		return ErrInvalidLayout
	}
	if h.ExtraLen%8 != 0 {
		return ErrHeaderExtraAlign
	}
	return nil
}
