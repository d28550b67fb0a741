package toymodel

import (
	"github.com/unixpickle/gradcomm/imcomm"
)

// Model is one replica of a toy network.
type Model struct {
	layers []imcomm.Layer
	comm   imcomm.Reducer
	mode   imcomm.ExecutionMode
	step   int
}

// NewModel creates a model in training mode.
func NewModel(comm imcomm.Reducer, layers ...imcomm.Layer) *Model {
	return &Model{layers: layers, comm: comm}
}

func (m *Model) Layers() []imcomm.Layer {
	return m.layers
}

func (m *Model) Comm() imcomm.Reducer {
	return m.comm
}

func (m *Model) ExecutionMode() imcomm.ExecutionMode {
	return m.mode
}

// SetExecutionMode switches between training and
// evaluation.
func (m *Model) SetExecutionMode(mode imcomm.ExecutionMode) {
	m.mode = mode
}

func (m *Model) Step() int {
	return m.step
}

// DenseLayers lists the learning layers.
func (m *Model) DenseLayers() []*Dense {
	var res []*Dense
	for _, l := range m.layers {
		if d, ok := l.(*Dense); ok {
			res = append(res, d)
		}
	}
	return res
}

// Backward computes every layer's local gradient.
func (m *Model) Backward() {
	for _, d := range m.DenseLayers() {
		d.Backward()
	}
}

// Update applies every layer's gradient and advances the
// step counter.
func (m *Model) Update() error {
	for _, l := range m.layers {
		if err := l.Update(); err != nil {
			return err
		}
	}
	m.step++
	return nil
}
