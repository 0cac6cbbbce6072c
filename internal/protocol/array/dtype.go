package array

// DType names a scalar element type on the wire. Names follow numpy so that
// envelopes produced by numpy clients decode without translation.
type DType string

const (
	Float64 DType = "float64"
	Float32 DType = "float32"
	Int8    DType = "int8"
	Int16   DType = "int16"
	Int32   DType = "int32"
	Int64   DType = "int64"
	Uint8   DType = "uint8"
	Uint16  DType = "uint16"
	Uint32  DType = "uint32"
	Uint64  DType = "uint64"
	Bool    DType = "bool"
)

var dtypeSizes = map[DType]int{
	Float64: 8,
	Float32: 4,
	Int8:    1,
	Int16:   2,
	Int32:   4,
	Int64:   8,
	Uint8:   1,
	Uint16:  2,
	Uint32:  4,
	Uint64:  8,
	Bool:    1,
}

// Size returns the element size in bytes and whether d is a known type.
func (d DType) Size() (int, bool) {
	n, ok := dtypeSizes[d]
	return n, ok
}

// Valid reports whether d is a supported element type.
func (d DType) Valid() bool {
	_, ok := dtypeSizes[d]
	return ok
}

func (d DType) String() string {
	return string(d)
}

// DTypes lists every supported element type.
func DTypes() []DType {
	return []DType{Float64, Float32, Int8, Int16, Int32, Int64, Uint8, Uint16, Uint32, Uint64, Bool}
}

// Number is the set of Go element types with a direct wire representation.
type Number interface {
	float32 | float64 | int8 | int16 | int32 | int64 | uint8 | uint16 | uint32 | uint64
}

// DTypeOf returns the wire element type for T.
func DTypeOf[T Number]() DType {
	var zero T
	switch any(zero).(type) {
	case float64:
		return Float64
	case float32:
		return Float32
	case int8:
		return Int8
	case int16:
		return Int16
	case int32:
		return Int32
	case int64:
		return Int64
	case uint8:
		return Uint8
	case uint16:
		return Uint16
	case uint32:
		return Uint32
	default:
		return Uint64
	}
}
