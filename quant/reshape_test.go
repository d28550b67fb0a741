package quant

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/mat"
)

func TestReshape(t *testing.T) {
	m := mat.NewDense(2, 3, []float64{1, 2, 3, 4, 5, 6})
	view, err := Reshape(m, 3, 2)
	require.NoError(t, err)
	r, c := view.Dims()
	assert.Equal(t, 3, r)
	assert.Equal(t, 2, c)
	assert.Equal(t, 3.0, view.At(1, 0))

	view.Set(2, 1, -1)
	assert.Equal(t, -1.0, m.At(1, 2), "views must share storage")

	flat, err := Reshape(m, 1, 6)
	require.NoError(t, err)
	assert.Equal(t, []float64{1, 2, 3, 4, 5, -1}, flat.RawRowView(0))
}

func TestReshapeErrors(t *testing.T) {
	m := mat.NewDense(2, 3, nil)
	_, err := Reshape(m, 4, 2)
	assert.Error(t, err)
	_, err = Reshape(m, 0, 6)
	assert.Error(t, err)

	sub := mat.NewDense(4, 4, nil).Slice(0, 2, 0, 2).(*mat.Dense)
	_, err = Reshape(sub, 1, 4)
	assert.Error(t, err)
}

func TestFlat(t *testing.T) {
	m := mat.NewDense(2, 2, []float64{1, 2, 3, 4})
	data, err := Flat(m)
	require.NoError(t, err)
	assert.Equal(t, []float64{1, 2, 3, 4}, data)
	data[3] = 7
	assert.Equal(t, 7.0, m.At(1, 1))

	// A single row of a wider matrix is still contiguous.
	row := mat.NewDense(3, 4, nil).Slice(1, 2, 0, 4).(*mat.Dense)
	data, err = Flat(row)
	require.NoError(t, err)
	assert.Len(t, data, 4)
}
