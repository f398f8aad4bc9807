// Package codec centralizes record encoding for persisted huevec data.
//
// Codec choice is a compatibility boundary: snapshot files record the
// codec name in their header, and a reader must resolve that exact
// codec to decode the sections.
package codec

import "fmt"

// Codec encodes and decodes values. Implementations must be safe for
// concurrent use.
type Codec interface {
	Marshal(v any) ([]byte, error)
	Unmarshal(data []byte, v any) error
	Name() string
}

// ByName resolves a built-in codec by its stable name. Snapshot readers
// use it to honor the codec recorded in a file header.
func ByName(name string) (Codec, bool) {
	switch name {
	case "json":
		return JSON{}, true
	case "go-json":
		return GoJSON{}, true
	default:
		return nil, false
	}
}

// MustMarshal panics on encoding failure; for tests and fixtures only.
func MustMarshal(c Codec, v any) []byte {
	if c == nil {
		c = Default
	}
	b, err := c.Marshal(v)
	if err != nil {
		panic(fmt.Errorf("codec %s marshal failed: %w", c.Name(), err))
	}
	return b
}
