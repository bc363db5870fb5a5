// Package codec centralizes the encoding of structured metadata: schema
// descriptions, index definitions and snapshot manifests.
//
// Row tuples and index nodes use their own fixed binary layouts; the codec is
// only for the self-describing parts of persisted files. Codec selection is a
// compatibility boundary: snapshots record the codec name in their header and
// refuse to load with an unknown one.
package codec

import "fmt"

// Codec encodes/decodes values.
// Implementations must be safe for concurrent use.
type Codec interface {
	Marshal(v any) ([]byte, error)
	Unmarshal(data []byte, v any) error
	Name() string
}

// ByName returns a built-in codec by its stable name.
//
// Snapshot headers store the codec name, so a file written with one codec is
// always decoded with the same one regardless of the process default.
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

// MustMarshal is a helper for internal tests/benchmarks.
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
