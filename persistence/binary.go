package persistence

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"unsafe"
)

// Writer emits artifact containers in little-endian binary form.
type Writer struct {
	w io.Writer
}

// NewWriter creates a container writer.
func NewWriter(w io.Writer) *Writer {
	return &Writer{w: w}
}

// WriteHeader writes the fixed 64-byte file header.
func (bw *Writer) WriteHeader(header *FileHeader) error {
	if header.ExtraLen%8 != 0 {
		return ErrHeaderExtraAlign
	}
	return binary.Write(bw.w, binary.LittleEndian, header)
}

// WriteFloat32Slice writes a float32 slice as raw little-endian bytes.
// The slice memory is reinterpreted in place; alignment is validated
// before the unsafe conversion.
func (bw *Writer) WriteFloat32Slice(vec []float32) error {
	if len(vec) == 0 {
		return nil
	}
	if err := validateFloat32SliceAlignment(vec); err != nil {
		return err
	}
	byteSlice := unsafe.Slice((*byte)(unsafe.Pointer(&vec[0])), len(vec)*4)
	_, err := bw.w.Write(byteSlice)
	return err
}

// WriteFloat64Slice writes a float64 slice as raw little-endian bytes.
func (bw *Writer) WriteFloat64Slice(vec []float64) error {
	if len(vec) == 0 {
		return nil
	}
	if err := validateFloat64SliceAlignment(vec); err != nil {
		return err
	}
	byteSlice := unsafe.Slice((*byte)(unsafe.Pointer(&vec[0])), len(vec)*8)
	_, err := bw.w.Write(byteSlice)
	return err
}

// Reader consumes artifact containers written by Writer.
type Reader struct {
	r io.Reader
}

// NewReader creates a container reader.
func NewReader(r io.Reader) *Reader {
	return &Reader{r: r}
}

// ReadHeader reads the 64-byte file header and validates it against the
// expected magic and kind.
func (br *Reader) ReadHeader(magic uint32, kind uint8) (*FileHeader, error) {
	var header FileHeader
	if err := binary.Read(br.r, binary.LittleEndian, &header); err != nil {
		if err == io.EOF || err == io.ErrUnexpectedEOF {
			return nil, ErrTruncated
		}
		return nil, err
	}
	if err := header.ValidateFor(magic, kind); err != nil {
		return nil, err
	}
	return &header, nil
}

// ReadFloat32SliceInto fills vec from the stream.
func (br *Reader) ReadFloat32SliceInto(vec []float32) error {
	if len(vec) == 0 {
		return nil
	}
	byteSlice := unsafe.Slice((*byte)(unsafe.Pointer(&vec[0])), len(vec)*4)
	if _, err := io.ReadFull(br.r, byteSlice); err != nil {
		if err == io.EOF || err == io.ErrUnexpectedEOF {
			return ErrTruncated
		}
		return err
	}
	return nil
}

// ReadFloat64Slice reads count float64 values.
func (br *Reader) ReadFloat64Slice(count int) ([]float64, error) {
	if count == 0 {
		return nil, nil
	}
	vec := make([]float64, count)
	byteSlice := unsafe.Slice((*byte)(unsafe.Pointer(&vec[0])), count*8)
	if _, err := io.ReadFull(br.r, byteSlice); err != nil {
		if err == io.EOF || err == io.ErrUnexpectedEOF {
			return nil, ErrTruncated
		}
		return nil, err
	}
	return vec, nil
}

// SaveToFile writes an artifact through writeFunc into filename using a
// temp file and an atomic rename, so readers never observe a partial
// artifact.
func SaveToFile(filename string, writeFunc func(io.Writer) error) error {
	dir := filepath.Dir(filename)
	base := filepath.Base(filename)

	tmp, err := os.CreateTemp(dir, base+".tmp-*")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	defer func() {
		_ = tmp.Close()
		_ = os.Remove(tmpName)
	}()

	_ = tmp.Chmod(0644)

	buf := bufio.NewWriterSize(tmp, 256*1024)
	if err := writeFunc(buf); err != nil {
		return err
	}
	if err := buf.Flush(); err != nil {
		return err
	}
	if err := tmp.Sync(); err != nil {
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}

	if err := os.Rename(tmpName, filename); err != nil {
		return err
	}

	// fsync the directory so the rename survives a crash on POSIX.
	if d, err := os.Open(dir); err == nil {
		_ = d.Sync()
		_ = d.Close()
	}

	tmpName = ""
	return nil
}

// LoadFromFile streams filename through readFunc with buffered reads.
func LoadFromFile(filename string, readFunc func(io.Reader) error) error {
	f, err := os.Open(filename)
	if err != nil {
		return err
	}
	defer f.Close()

	buf := bufio.NewReaderSize(f, 256*1024)
	return readFunc(buf)
}

// PadTo8 returns b extended with zero bytes to the next multiple of 8.
func PadTo8(b []byte) []byte {
	if rem := len(b) % 8; rem != 0 {
		b = append(b, make([]byte, 8-rem)...)
	}
	return b
}

func boundsErr(n, off, length int) error {
	return fmt.Errorf("%w: %d bytes at offset %d of %d", ErrTruncated, n, off, length)
}
