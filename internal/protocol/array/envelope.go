// Package array implements the envelope codec for typed, shaped numeric
// buffers.
//
// Wire layout is a msgpack array of three items:
//
//	[dtype: str, shape: [int...], data: bin]
//
// data is row-major (last axis fastest) and little-endian regardless of the
// host byte order.
package array

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"math"
	"slices"

	"github.com/danmuck/candlewire/internal/protocol/codec"
)

var (
	ErrMalformedEnvelope = errors.New("array: malformed envelope")
	ErrDTypeMismatch     = errors.New("array: dtype mismatch")
	ErrShapeMismatch     = errors.New("array: shape does not match element count")
)

// Envelope is one numeric buffer crossing the wire.
type Envelope struct {
	_msgpack struct{} `msgpack:",as_array"`

	DType DType  `msgpack:"dtype"`
	Shape []int  `msgpack:"shape"`
	Data  []byte `msgpack:"data"`
}

// New builds an envelope and validates the length invariant.
func New(dtype DType, shape []int, data []byte) (Envelope, error) {
	e := Envelope{DType: dtype, Shape: slices.Clone(shape), Data: bytes.Clone(data)}
	if err := e.Validate(); err != nil {
		return Envelope{}, err
	}
	return e, nil
}

// Validate checks len(Data) == product(Shape) * size(DType).
func (e Envelope) Validate() error {
	size, ok := e.DType.Size()
	if !ok {
		return fmt.Errorf("%w: unknown dtype %q", ErrMalformedEnvelope, e.DType)
	}
	n, err := elementCount(e.Shape)
	if err != nil {
		return err
	}
	if n > math.MaxInt/size {
		return fmt.Errorf("%w: shape %v overflows", ErrMalformedEnvelope, e.Shape)
	}
	if want := n * size; len(e.Data) != want {
		return fmt.Errorf("%w: %d bytes for %s%v, want %d", ErrMalformedEnvelope, len(e.Data), e.DType, e.Shape, want)
	}
	return nil
}

// Len returns the element count implied by Shape.
func (e Envelope) Len() int {
	n, err := elementCount(e.Shape)
	if err != nil {
		return 0
	}
	return n
}

func (e Envelope) NDim() int {
	return len(e.Shape)
}

// HasShape reports whether the envelope shape equals dims exactly.
func (e Envelope) HasShape(dims ...int) bool {
	return slices.Equal(e.Shape, dims)
}

func (e Envelope) Clone() Envelope {
	return Envelope{DType: e.DType, Shape: slices.Clone(e.Shape), Data: bytes.Clone(e.Data)}
}

// Equal compares dtype, shape and raw bytes.
func Equal(a, b Envelope) bool {
	return a.DType == b.DType && slices.Equal(a.Shape, b.Shape) && bytes.Equal(a.Data, b.Data)
}

// Encode validates e and serializes it.
func Encode(e Envelope) ([]byte, error) {
	if err := e.Validate(); err != nil {
		return nil, err
	}
	return codec.Marshal(e.Canonical())
}

// Decode parses an envelope and checks the length invariant before
// returning it. Any failure wraps ErrMalformedEnvelope.
func Decode(b []byte) (Envelope, error) {
	var e Envelope
	if err := codec.Unmarshal(b, &e); err != nil {
		return Envelope{}, fmt.Errorf("%w: %v", ErrMalformedEnvelope, err)
	}
	if err := e.Validate(); err != nil {
		return Envelope{}, err
	}
	return e, nil
}

// Canonical replaces nil slices so they serialize as an empty array and an
// empty bin instead of nil.
func (e Envelope) Canonical() Envelope {
	if e.Shape == nil {
		e.Shape = []int{}
	}
	if e.Data == nil {
		e.Data = []byte{}
	}
	return e
}

func elementCount(shape []int) (int, error) {
	n := 1
	for axis, d := range shape {
		if d < 0 {
			return 0, fmt.Errorf("%w: negative dimension %d on axis %d", ErrMalformedEnvelope, d, axis)
		}
		if d != 0 && n > math.MaxInt/d {
			return 0, fmt.Errorf("%w: shape %v overflows", ErrMalformedEnvelope, shape)
		}
		n *= d
	}
	return n, nil
}

// FromSlice packs values into an envelope. With no shape the result is 1-D.
func FromSlice[T Number](values []T, shape ...int) (Envelope, error) {
	if len(shape) == 0 {
		shape = []int{len(values)}
	}
	n, err := elementCount(shape)
	if err != nil {
		return Envelope{}, err
	}
	if n != len(values) {
		return Envelope{}, fmt.Errorf("%w: %d values for shape %v", ErrShapeMismatch, len(values), shape)
	}
	dtype := DTypeOf[T]()
	size, _ := dtype.Size()
	data := make([]byte, 0, n*size)
	if n > 0 {
		data, err = binary.Append(data, binary.LittleEndian, values)
		if err != nil {
			return Envelope{}, err
		}
	}
	return Envelope{DType: dtype, Shape: slices.Clone(shape), Data: data}, nil
}

// MustFromSlice is FromSlice for literals known to be well formed.
func MustFromSlice[T Number](values []T, shape ...int) Envelope {
	e, err := FromSlice(values, shape...)
	if err != nil {
		panic(err)
	}
	return e
}

// Values unpacks e into a flat row-major slice of T.
func Values[T Number](e Envelope) ([]T, error) {
	if err := e.Validate(); err != nil {
		return nil, err
	}
	if want := DTypeOf[T](); e.DType != want {
		return nil, fmt.Errorf("%w: have %s, want %s", ErrDTypeMismatch, e.DType, want)
	}
	out := make([]T, e.Len())
	if len(out) == 0 {
		return out, nil
	}
	if _, err := binary.Decode(e.Data, binary.LittleEndian, out); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedEnvelope, err)
	}
	return out, nil
}

// Bools unpacks a bool envelope. Any non-zero byte is true.
func (e Envelope) Bools() ([]bool, error) {
	if err := e.Validate(); err != nil {
		return nil, err
	}
	if e.DType != Bool {
		return nil, fmt.Errorf("%w: have %s, want %s", ErrDTypeMismatch, e.DType, Bool)
	}
	out := make([]bool, len(e.Data))
	for i, b := range e.Data {
		out[i] = b != 0
	}
	return out, nil
}

// FromBools packs a bool slice, one byte per element.
func FromBools(values []bool, shape ...int) (Envelope, error) {
	if len(shape) == 0 {
		shape = []int{len(values)}
	}
	n, err := elementCount(shape)
	if err != nil {
		return Envelope{}, err
	}
	if n != len(values) {
		return Envelope{}, fmt.Errorf("%w: %d values for shape %v", ErrShapeMismatch, len(values), shape)
	}
	data := make([]byte, n)
	for i, v := range values {
		if v {
			data[i] = 1
		}
	}
	return Envelope{DType: Bool, Shape: slices.Clone(shape), Data: data}, nil
}
