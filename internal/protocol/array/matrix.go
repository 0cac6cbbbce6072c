package array

import (
	"fmt"

	"gonum.org/v1/gonum/mat"
)

// FromMatrix copies m into a float64 envelope of shape [rows, cols] in
// row-major order. Strided views (slices of a larger Dense) are read
// element by element so the stride never reaches the wire.
func FromMatrix(m mat.Matrix) Envelope {
	r, c := m.Dims()
	values := make([]float64, 0, r*c)
	for i := 0; i < r; i++ {
		for j := 0; j < c; j++ {
			values = append(values, m.At(i, j))
		}
	}
	return MustFromSlice(values, r, c)
}

// FromVector copies v into a 1-D float64 envelope.
func FromVector(v mat.Vector) Envelope {
	n := v.Len()
	values := make([]float64, n)
	for i := range values {
		values[i] = v.AtVec(i)
	}
	return MustFromSlice(values, n)
}

// Dense returns a 2-D float64 envelope as a gonum matrix. A 1-D envelope
// becomes a column.
func (e Envelope) Dense() (*mat.Dense, error) {
	values, err := Values[float64](e)
	if err != nil {
		return nil, err
	}
	var r, c int
	switch e.NDim() {
	case 1:
		r, c = e.Shape[0], 1
	case 2:
		r, c = e.Shape[0], e.Shape[1]
	default:
		return nil, fmt.Errorf("%w: want 1 or 2 dimensions, have %v", ErrShapeMismatch, e.Shape)
	}
	if r == 0 || c == 0 {
		return nil, fmt.Errorf("%w: empty matrix %v", ErrShapeMismatch, e.Shape)
	}
	return mat.NewDense(r, c, values), nil
}

// VecDense returns a 1-D float64 envelope as a gonum vector.
func (e Envelope) VecDense() (*mat.VecDense, error) {
	values, err := Values[float64](e)
	if err != nil {
		return nil, err
	}
	if e.NDim() != 1 {
		return nil, fmt.Errorf("%w: want 1 dimension, have %v", ErrShapeMismatch, e.Shape)
	}
	if len(values) == 0 {
		return nil, fmt.Errorf("%w: empty vector", ErrShapeMismatch)
	}
	return mat.NewVecDense(len(values), values), nil
}
