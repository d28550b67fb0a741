package imcomm

import (
	"github.com/pkg/errors"
	"github.com/unixpickle/gradcomm/quant"
	"gonum.org/v1/gonum/mat"
)

// Params configures the communication of one layer.
type Params struct {
	Type CommType

	// If both are non-zero, the gradient is viewed as a
	// ReshapeRows x ReshapeCols matrix before it is
	// communicated.
	ReshapeRows int
	ReshapeCols int

	// Used by ThreshQuantization.
	PosThresh float64
	NegThresh float64

	// Used by AdaptiveQuantization.
	Proportion float64

	// Error is the quantization residual carried between
	// rounds.
	// It is allocated by Setup for quantized types.
	Error *mat.Dense
}

// Reshaped reports whether the gradient is viewed with a
// different shape.
func (p *Params) Reshaped() bool {
	return p.ReshapeRows > 0
}

// Strategy creates the codec for a quantized type.
//
// One-bit quantization computes its means per row, so
// blockSize should be the column count of the (reshaped)
// gradient.
func (p *Params) Strategy(blockSize int) (quant.Strategy, error) {
	switch p.Type {
	case OneBitQuantization:
		return quant.OneBit{BlockSize: blockSize}, nil
	case ThreshQuantization:
		return quant.Threshold{Pos: p.PosThresh, Neg: p.NegThresh}, nil
	case AdaptiveQuantization:
		return quant.Adaptive{Proportion: p.Proportion}, nil
	}
	return nil, errors.Errorf("comm type %s does not quantize", p.Type)
}

// gradientView returns the gradient, reshaped if needed.
func (p *Params) gradientView(grad *mat.Dense) (*mat.Dense, error) {
	if !p.Reshaped() {
		return grad, nil
	}
	return quant.Reshape(grad, p.ReshapeRows, p.ReshapeCols)
}

func (p *Params) checkReshape(grad *mat.Dense) error {
	if p.ReshapeRows < 0 || p.ReshapeCols < 0 {
		return errors.Errorf("negative reshape dimensions %dx%d", p.ReshapeRows, p.ReshapeCols)
	}
	if (p.ReshapeRows > 0) != (p.ReshapeCols > 0) {
		return errors.Errorf("reshape dimensions %dx%d must both be set", p.ReshapeRows, p.ReshapeCols)
	}
	view, err := p.gradientView(grad)
	if err != nil {
		return err
	}
	_, err = quant.Flat(view)
	return err
}
