package persistence

import (
	"errors"
	"fmt"
	"runtime"
	"unsafe"
)

var (
	// ErrUnsupportedArchitecture is returned on CPU architectures the
	// zero-copy readers do not support.
	ErrUnsupportedArchitecture = errors.New("unsupported architecture: only amd64 and arm64 are supported")

	// ErrBigEndian is returned on big-endian systems.
	ErrBigEndian = errors.New("big-endian systems are not supported")

	// ErrUnalignedAccess is returned when a slice is not aligned for its
	// element type.
	ErrUnalignedAccess = errors.New("unaligned memory access detected")
)

// The container format stores payloads as native little-endian words and
// reads them back through unsafe views. That only holds on little-endian
// amd64/arm64, so the package refuses to start anywhere else.
func init() {
	if err := validatePlatform(); err != nil {
		panic(fmt.Sprintf("huevec/persistence: %v", err))
	}
}

func validatePlatform() error {
	arch := runtime.GOARCH
	if arch != "amd64" && arch != "arm64" {
		return fmt.Errorf("%w: %s", ErrUnsupportedArchitecture, arch)
	}
	if !isLittleEndian() {
		return ErrBigEndian
	}
	return nil
}

func isLittleEndian() bool {
	var test uint16 = 0x0001
	firstByte := *(*byte)(unsafe.Pointer(&test))
	return firstByte == 1
}

func validateFloat32SliceAlignment(vec []float32) error {
	if len(vec) == 0 {
		return nil
	}
	ptr := uintptr(unsafe.Pointer(&vec[0]))
	if ptr%4 != 0 {
		return fmt.Errorf("%w: float32 slice at address 0x%x", ErrUnalignedAccess, ptr)
	}
	return nil
}

func validateFloat64SliceAlignment(vec []float64) error {
	if len(vec) == 0 {
		return nil
	}
	ptr := uintptr(unsafe.Pointer(&vec[0]))
	if ptr%8 != 0 {
		return fmt.Errorf("%w: float64 slice at address 0x%x", ErrUnalignedAccess, ptr)
	}
	return nil
}

// PlatformInfo describes the running platform, for startup logging.
func PlatformInfo() string {
	endian := "little-endian"
	if !isLittleEndian() {
		endian = "big-endian"
	}
	return fmt.Sprintf("GOOS=%s GOARCH=%s endianness=%s", runtime.GOOS, runtime.GOARCH, endian)
}
