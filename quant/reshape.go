package quant

import (
	"github.com/pkg/errors"
	"gonum.org/v1/gonum/mat"
)

// Reshape reinterprets the storage of m as a rows x cols
// matrix.
//
// The result shares m's storage, so writes to either are
// visible through both.
// The element counts must match and m must be stored
// contiguously (not a strided sub-view).
func Reshape(m *mat.Dense, rows, cols int) (*mat.Dense, error) {
	if rows <= 0 || cols <= 0 {
		return nil, errors.Errorf("cannot reshape to %dx%d", rows, cols)
	}
	data, err := Flat(m)
	if err != nil {
		return nil, err
	}
	if len(data) != rows*cols {
		r, c := m.Dims()
		return nil, errors.Errorf("cannot reshape %dx%d matrix to %dx%d", r, c, rows, cols)
	}
	return mat.NewDense(rows, cols, data), nil
}

// Flat returns m's elements in row-major order, sharing
// m's storage.
func Flat(m *mat.Dense) ([]float64, error) {
	raw := m.RawMatrix()
	if raw.Rows > 1 && raw.Stride != raw.Cols {
		return nil, errors.Errorf("matrix with stride %d and %d columns is not contiguous",
			raw.Stride, raw.Cols)
	}
	return raw.Data[:raw.Rows*raw.Cols], nil
}
