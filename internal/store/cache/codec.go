package cache

import (
	"bytes"
	"encoding/gob"
	"time"
)

func init() {
	// Dynamic value types a store may place in rows or distinct sets beyond
	// the basic types gob registers itself.
	gob.Register(time.Time{})
	gob.Register([]any{})
	gob.Register(map[string]any{})
}

// entry wraps a cached result so top-level slices and pointers encode alike
type entry[T any] struct {
	Value T
}

// encode serialises a result keeping the dynamic type of every value, so a
// hit decodes to the same int64, float64 and time.Time values a miss returns.
func encode[T any](v T) ([]byte, error) {
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(entry[T]{Value: v}); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func decode[T any](data []byte) (T, error) {
	var e entry[T]
	if err := gob.NewDecoder(bytes.NewReader(data)).Decode(&e); err != nil {
		var zero T
		return zero, err
	}
	return e.Value, nil
}
