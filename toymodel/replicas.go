package toymodel

import (
	"math"
	"math/rand"

	"github.com/pkg/errors"
	"github.com/unixpickle/gradcomm/collcomm"
	"github.com/unixpickle/gradcomm/collcomm/allreduce"
	"github.com/unixpickle/gradcomm/imcomm"
	"github.com/unixpickle/gradcomm/quant"
	"github.com/unixpickle/gradcomm/simulator"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
	"k8s.io/klog/v2"
)

// LayerSpec describes one layer of the toy network.
type LayerSpec struct {
	Name string
	Rows int
	Cols int

	// Norm creates a layer without weights.
	Norm bool
}

// Config describes a simulated data-parallel training
// run.
type Config struct {
	Replicas int
	Layers   []LayerSpec

	Epochs        int
	StepsPerEpoch int

	// LearningRate is divided by the number of replicas,
	// since the replicas' gradients are summed.
	LearningRate float64

	// Seed determines every replica's targets.
	Seed int64

	// NewNetwork creates the network connecting the
	// replicas.
	// If nil, a LinkNetwork with 1ms latency and 1GB/s
	// links is used.
	NewNetwork func(nodes []*simulator.Node) simulator.Network

	// Allreducer performs the exact sums of normal layers
	// and residual flushes.
	// If nil, the Driver's default is used.
	Allreducer allreduce.Allreducer

	// DefaultType is used for learning layers that
	// Configure leaves alone.
	DefaultType imcomm.CommType

	// Configure is called on every replica's Callback
	// before setup, if it is non-nil.
	// Calls for different replicas may run concurrently.
	Configure func(rank int, c *imcomm.Callback, m *Model)

	// Summarizer receives every replica's metrics.
	// It may be nil.
	Summarizer imcomm.Summarizer
}

// A Result summarizes a simulated training run.
type Result struct {
	// Models contains each replica's trained model.
	Models []*Model

	// Weights contains each replica's final weights, in
	// layer order.
	Weights [][]*mat.Dense

	// Time is the virtual time the run took.
	Time float64

	// BytesSent is the total traffic on the network.
	BytesSent float64
	Messages  int
}

// RunReplicas trains one Model per replica, connecting
// them with quant.Drivers over a simulated network.
func RunReplicas(cfg Config) (*Result, error) {
	if cfg.Replicas < 1 {
		return nil, errors.Errorf("invalid replica count: %d", cfg.Replicas)
	}
	loop := simulator.NewEventLoopSeeded(cfg.Seed)
	nodes := make([]*simulator.Node, cfg.Replicas)
	for i := range nodes {
		nodes[i] = simulator.NewNode()
	}
	var network simulator.Network = simulator.LinkNetwork{Latency: 1e-3, Rate: 1e9}
	if cfg.NewNetwork != nil {
		network = cfg.NewNetwork(nodes)
	}
	meter := simulator.NewMeter(network)

	res := &Result{
		Models:  make([]*Model, cfg.Replicas),
		Weights: make([][]*mat.Dense, cfg.Replicas),
	}
	errs := make([]error, cfg.Replicas)
	collcomm.SpawnComms(loop, meter, nodes, func(c *collcomm.Comms) {
		rank := c.Index()
		driver := quant.NewDriver(c)
		driver.Allreducer = cfg.Allreducer
		model := NewReplicaModel(cfg, rank, driver)
		callback := imcomm.New(cfg.DefaultType, cfg.Summarizer)
		if cfg.Configure != nil {
			cfg.Configure(rank, callback, model)
		}
		trainer := &Trainer{
			Model:         model,
			Hooks:         callback,
			Epochs:        cfg.Epochs,
			StepsPerEpoch: cfg.StepsPerEpoch,
		}
		if err := trainer.Run(); err != nil {
			errs[rank] = errors.WithMessagef(err, "replica %d", rank)
			return
		}
		res.Models[rank] = model
		for _, d := range model.DenseLayers() {
			res.Weights[rank] = append(res.Weights[rank], d.Weights)
		}
	})

	loopErr := loop.Run()
	for _, err := range errs {
		if err != nil {
			return nil, err
		}
	}
	if loopErr != nil {
		return nil, errors.Wrap(loopErr, "run replicas")
	}

	res.Time = loop.Time()
	res.BytesSent = meter.TotalBytes()
	res.Messages = meter.Messages()
	klog.V(1).Infof("trained %d replicas in %f virtual seconds (%d messages)",
		cfg.Replicas, res.Time, res.Messages)
	return res, nil
}

// NewReplicaModel builds the model for one replica.
//
// Targets are drawn from a source seeded by the seed and
// rank, so replicas disagree on their local optima.
func NewReplicaModel(cfg Config, rank int, comm imcomm.Reducer) *Model {
	rng := rand.New(rand.NewSource(cfg.Seed + int64(rank)*7919))
	lr := cfg.LearningRate / float64(cfg.Replicas)
	var layers []imcomm.Layer
	for i, spec := range cfg.Layers {
		id := imcomm.LayerID(i)
		if spec.Norm {
			layers = append(layers, &Norm{LayerID: id, LayerName: spec.Name})
			continue
		}
		target := mat.NewDense(spec.Rows, spec.Cols, nil)
		for r := 0; r < spec.Rows; r++ {
			for c := 0; c < spec.Cols; c++ {
				target.Set(r, c, rng.NormFloat64())
			}
		}
		layers = append(layers, NewDense(id, spec.Name, target, lr))
	}
	return NewModel(comm, layers...)
}

// MeanTarget computes the optimum of the summed objective
// for every learning layer: the mean of the replicas'
// targets.
func MeanTarget(cfg Config) []*mat.Dense {
	var means []*mat.Dense
	for rank := 0; rank < cfg.Replicas; rank++ {
		model := NewReplicaModel(cfg, rank, nil)
		for i, d := range model.DenseLayers() {
			if rank == 0 {
				rows, cols := d.Target.Dims()
				means = append(means, mat.NewDense(rows, cols, nil))
			}
			means[i].Add(means[i], d.Target)
		}
	}
	for _, m := range means {
		m.Scale(1/float64(cfg.Replicas), m)
	}
	return means
}

// MaxDistance gets the largest element-wise difference
// between two lists of matrices.
func MaxDistance(a, b []*mat.Dense) float64 {
	var res float64
	for i := range a {
		res = max(res, floats.Distance(a[i].RawMatrix().Data, b[i].RawMatrix().Data, math.Inf(1)))
	}
	return res
}
