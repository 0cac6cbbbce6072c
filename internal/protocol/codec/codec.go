// Package codec holds the shared msgpack configuration for every payload
// that crosses the wire.
//
// Integers are written in their smallest encoding so payloads match what
// numpy/msgspec clients produce. Floats are never narrowed.
package codec

import (
	"bytes"
	"errors"

	"github.com/vmihailenco/msgpack/v5"
)

var ErrTrailingData = errors.New("codec: trailing data after payload")

// Marshal encodes v as msgpack.
func Marshal(v any) ([]byte, error) {
	var buf bytes.Buffer
	enc := msgpack.NewEncoder(&buf)
	enc.UseCompactInts(true)
	if err := enc.Encode(v); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// Unmarshal decodes exactly one msgpack value from data into v.
func Unmarshal(data []byte, v any) error {
	r := bytes.NewReader(data)
	dec := msgpack.NewDecoder(r)
	if err := dec.Decode(v); err != nil {
		return err
	}
	if r.Len() != 0 {
		return ErrTrailingData
	}
	return nil
}
