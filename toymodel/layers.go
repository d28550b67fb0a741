// Package toymodel is a minimal data-parallel model for
// exercising inter-model communication.
//
// Every learning layer is trained to minimize the squared
// distance between its weights and a per-replica target,
// so the replicas only agree on the weights if they share
// their gradients.
package toymodel

import (
	"github.com/unixpickle/gradcomm/imcomm"
	"gonum.org/v1/gonum/mat"
)

// Dense is a learning layer with a weight matrix trained
// by plain SGD.
type Dense struct {
	LayerID   imcomm.LayerID
	LayerName string

	Weights  *mat.Dense
	Gradient *mat.Dense

	// Target is the replica's local optimum.
	Target *mat.Dense

	LearningRate float64

	// Updates counts calls to Update.
	Updates int
}

// NewDense creates a layer with zero weights.
func NewDense(id imcomm.LayerID, name string, target *mat.Dense, lr float64) *Dense {
	rows, cols := target.Dims()
	return &Dense{
		LayerID:      id,
		LayerName:    name,
		Weights:      mat.NewDense(rows, cols, nil),
		Gradient:     mat.NewDense(rows, cols, nil),
		Target:       target,
		LearningRate: lr,
	}
}

func (d *Dense) ID() imcomm.LayerID {
	return d.LayerID
}

func (d *Dense) Name() string {
	return d.LayerName
}

func (d *Dense) Gradients() (*mat.Dense, bool) {
	return d.Gradient, true
}

// Backward computes the local gradient of
// 0.5*|Weights-Target|^2.
func (d *Dense) Backward() {
	d.Gradient.Sub(d.Weights, d.Target)
}

// Update takes an SGD step along the current gradient.
func (d *Dense) Update() error {
	var step mat.Dense
	step.Scale(d.LearningRate, d.Gradient)
	d.Weights.Sub(d.Weights, &step)
	d.Updates++
	return nil
}

// Norm is a layer without weights.
type Norm struct {
	LayerID   imcomm.LayerID
	LayerName string
}

func (n *Norm) ID() imcomm.LayerID {
	return n.LayerID
}

func (n *Norm) Name() string {
	return n.LayerName
}

func (n *Norm) Gradients() (*mat.Dense, bool) {
	return nil, false
}

func (n *Norm) Update() error {
	return nil
}
