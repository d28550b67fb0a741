package imcomm

import (
	"github.com/pkg/errors"

	"github.com/unixpickle/gradcomm/collcomm"
	"github.com/unixpickle/gradcomm/quant"
	"gonum.org/v1/gonum/mat"
)

type fakeLayer struct {
	id   LayerID
	name string
	grad *mat.Dense

	// failUpdate makes Update return an error.
	failUpdate bool

	// Copies of the gradient at every Update call.
	updates []*mat.Dense
}

func (f *fakeLayer) ID() LayerID {
	return f.id
}

func (f *fakeLayer) Name() string {
	return f.name
}

func (f *fakeLayer) Gradients() (*mat.Dense, bool) {
	return f.grad, f.grad != nil
}

func (f *fakeLayer) Update() error {
	if f.grad == nil || f.failUpdate {
		return errors.Errorf("layer %s cannot update", f.name)
	}
	f.updates = append(f.updates, mat.DenseCopyOf(f.grad))
	return nil
}

type fakeCall struct {
	kind     string
	strategy quant.Strategy
	rows     int
	cols     int
}

// fakeReducer behaves as if every replica held the same
// matrices.
type fakeReducer struct {
	replicas int
	calls    []fakeCall
}

func (f *fakeReducer) NumReplicas() int {
	return f.replicas
}

func (f *fakeReducer) SumMatrix(m *mat.Dense, stats *collcomm.Stats) error {
	r, c := m.Dims()
	f.calls = append(f.calls, fakeCall{kind: "sum", rows: r, cols: c})
	m.Scale(float64(f.replicas), m)
	stats.AddTraffic(collcomm.Traffic{BytesSent: r * c * 8, BytesReceived: r * c * 8})
	return nil
}

func (f *fakeReducer) SumQuantized(m, residual *mat.Dense, s quant.Strategy,
	stats *collcomm.Stats) error {
	r, c := m.Dims()
	f.calls = append(f.calls, fakeCall{kind: "quantized", strategy: s, rows: r, cols: c})
	data, err := quant.Flat(m)
	if err != nil {
		return err
	}
	res, err := quant.Flat(residual)
	if err != nil {
		return err
	}
	p := s.Encode(data, res)
	p.Decode(data)
	m.Scale(float64(f.replicas), m)
	stats.RSBytesSent += p.Size()
	stats.RSBytesReceived += p.Size()
	stats.BytesSent += p.Size()
	stats.BytesReceived += p.Size()
	stats.QuantizedCount += p.Count()
	return nil
}

type fakeModel struct {
	layers []Layer
	comm   *fakeReducer
	mode   ExecutionMode
	step   int
}

func newFakeModel(replicas int, layers ...Layer) *fakeModel {
	return &fakeModel{
		layers: layers,
		comm:   &fakeReducer{replicas: replicas},
	}
}

func (f *fakeModel) Layers() []Layer {
	return f.layers
}

func (f *fakeModel) Comm() Reducer {
	return f.comm
}

func (f *fakeModel) ExecutionMode() ExecutionMode {
	return f.mode
}

func (f *fakeModel) Step() int {
	return f.step
}

func denseLayer(id LayerID, name string, rows, cols int, data ...float64) *fakeLayer {
	if data == nil {
		data = make([]float64, rows*cols)
	}
	return &fakeLayer{id: id, name: name, grad: mat.NewDense(rows, cols, data)}
}

func normLayer(id LayerID, name string) *fakeLayer {
	return &fakeLayer{id: id, name: name}
}
