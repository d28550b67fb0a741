package imcomm

import (
	"fmt"

	"github.com/unixpickle/gradcomm/collcomm"
	"github.com/unixpickle/gradcomm/quant"
	"gonum.org/v1/gonum/mat"
)

// LayerID is a stable handle for a layer, issued by the
// training loop.
type LayerID int

// ExecutionMode is the phase a model is running in.
type ExecutionMode int

const (
	Training ExecutionMode = iota
	Validation
	Testing
)

func (e ExecutionMode) String() string {
	switch e {
	case Training:
		return "training"
	case Validation:
		return "validation"
	case Testing:
		return "testing"
	}
	return fmt.Sprintf("ExecutionMode(%d)", int(e))
}

// A Layer is a unit of a model as seen by the Callback.
type Layer interface {
	ID() LayerID
	Name() string

	// Gradients returns the layer's local weight gradient.
	// The second result is false if the layer does not
	// learn, in which case the matrix is nil.
	//
	// Writes to the matrix must be visible to Update.
	Gradients() (*mat.Dense, bool)

	// Update applies the current gradient to the layer's
	// weights.
	Update() error
}

// A Model exposes the layers of one replica.
type Model interface {
	// Layers lists the layers in registration order,
	// which must be the same on every replica.
	Layers() []Layer

	Comm() Reducer
	ExecutionMode() ExecutionMode
	Step() int
}

// A Reducer sums matrices across replicas.
//
// It is implemented by *quant.Driver.
type Reducer interface {
	NumReplicas() int
	SumMatrix(m *mat.Dense, stats *collcomm.Stats) error
	SumQuantized(m, residual *mat.Dense, s quant.Strategy, stats *collcomm.Stats) error
}

// A Summarizer receives per-round metrics.
type Summarizer interface {
	ReduceScalar(name string, value float64, step int)
}
