package toymodel

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/unixpickle/gradcomm/collcomm/allreduce"
	"github.com/unixpickle/gradcomm/imcomm"
	"github.com/unixpickle/gradcomm/simulator"
	"github.com/unixpickle/gradcomm/summary"
	"gonum.org/v1/gonum/mat"
)

func testConfig(ct imcomm.CommType) Config {
	return Config{
		Replicas: 3,
		Layers: []LayerSpec{
			{Name: "fc1", Rows: 4, Cols: 4},
			{Name: "norm1", Norm: true},
			{Name: "fc2", Rows: 2, Cols: 8},
		},
		Epochs:        3,
		StepsPerEpoch: 40,
		LearningRate:  0.1,
		Seed:          42,
		DefaultType:   ct,
	}
}

func requireReplicasAgree(t *testing.T, res *Result) {
	for rank := 1; rank < len(res.Weights); rank++ {
		require.Len(t, res.Weights[rank], len(res.Weights[0]))
		for i, w := range res.Weights[rank] {
			require.True(t, mat.Equal(res.Weights[0][i], w), "replica %d disagrees on layer %d", rank, i)
		}
	}
}

func TestNormalTraining(t *testing.T) {
	for _, name := range allreduce.Names() {
		t.Run(name, func(t *testing.T) {
			r, err := allreduce.ByName(name)
			require.NoError(t, err)
			cfg := testConfig(imcomm.Normal)
			cfg.Allreducer = r
			testNormalTraining(t, cfg)
		})
	}
}

func testNormalTraining(t *testing.T, cfg Config) {
	res, err := RunReplicas(cfg)
	require.NoError(t, err)
	requireReplicasAgree(t, res)

	// Every step moves the weights a fraction lr of the
	// way to the mean target.
	steps := cfg.Epochs * cfg.StepsPerEpoch
	scale := 1 - math.Pow(1-cfg.LearningRate, float64(steps))
	expected := MeanTarget(cfg)
	for _, m := range expected {
		m.Scale(scale, m)
	}
	assert.Less(t, MaxDistance(expected, res.Weights[0]), 1e-9)
	assert.Positive(t, res.Time)
	assert.Positive(t, res.BytesSent)
}

func TestQuantizedTraining(t *testing.T) {
	tolerances := map[imcomm.CommType]float64{
		imcomm.OneBitQuantization:   0.5,
		imcomm.ThreshQuantization:   0.05,
		imcomm.AdaptiveQuantization: 0.5,
	}
	for ct, tol := range tolerances {
		t.Run(ct.String(), func(t *testing.T) {
			cfg := testConfig(ct)
			cfg.Configure = func(rank int, c *imcomm.Callback, m *Model) {
				for _, d := range m.DenseLayers() {
					switch ct {
					case imcomm.ThreshQuantization:
						c.SetLayerThreshold(d.ID(), 0.05, -0.05)
					case imcomm.AdaptiveQuantization:
						c.SetLayerAdaptive(d.ID(), 0.25)
					}
				}
			}
			res, err := RunReplicas(cfg)
			require.NoError(t, err)
			requireReplicasAgree(t, res)

			mean := MeanTarget(cfg)
			zero := make([]*mat.Dense, len(mean))
			for i, m := range mean {
				zero[i] = mat.NewDense(m.RawMatrix().Rows, m.RawMatrix().Cols, nil)
			}
			assert.Less(t, MaxDistance(mean, res.Weights[0]), tol)
			assert.Less(t, MaxDistance(mean, res.Weights[0]), MaxDistance(mean, zero))
		})
	}
}

func TestFlushUpdates(t *testing.T) {
	cfg := testConfig(imcomm.Normal)
	cfg.Replicas = 2
	cfg.Epochs = 2
	cfg.StepsPerEpoch = 5
	cfg.Configure = func(rank int, c *imcomm.Callback, m *Model) {
		c.SetLayerComm(0, imcomm.OneBitQuantization)
	}
	res, err := RunReplicas(cfg)
	require.NoError(t, err)
	require.Len(t, res.Models, 2)
	for _, m := range res.Models {
		dense := m.DenseLayers()
		assert.Equal(t, 12, dense[0].Updates, "quantized layers get one extra update per epoch")
		assert.Equal(t, 10, dense[1].Updates)
		assert.Equal(t, 10, m.Step())
	}
}

func TestSummaryAcrossReplicas(t *testing.T) {
	rec := summary.NewRecorder()
	cfg := testConfig(imcomm.AdaptiveQuantization)
	cfg.Replicas = 2
	cfg.Epochs = 1
	cfg.StepsPerEpoch = 4
	cfg.Summarizer = rec
	cfg.Configure = func(rank int, c *imcomm.Callback, m *Model) {
		c.SetLayerAdaptive(0, 0.5)
		c.SetLayerComm(2, imcomm.Normal)
	}
	_, err := RunReplicas(cfg)
	require.NoError(t, err)

	assert.Len(t, rec.Values("fc1/imcomm_quantized_count"), 8)
	for _, x := range rec.Values("fc1/imcomm_quantized_count") {
		// Each replica sends half of its elements.
		assert.Equal(t, 8.0, x)
	}
	assert.Equal(t, []float64{128}, uniq(rec.Values("fc2/imcomm_bytes_sent")))
	assert.Empty(t, rec.Values("norm1/imcomm_time"))
	assert.Empty(t, rec.Values("fc2/imcomm_quantized_count"))

	var total float64
	for _, name := range []string{"fc1/imcomm_rs_bytes_sent", "fc1/imcomm_ag_bytes_sent"} {
		total += rec.Sum(name)
	}
	assert.Equal(t, rec.Sum("fc1/imcomm_bytes_sent"), total)
}

func uniq(values []float64) []float64 {
	var res []float64
	seen := map[float64]bool{}
	for _, x := range values {
		if !seen[x] {
			seen[x] = true
			res = append(res, x)
		}
	}
	return res
}

func TestCompressionSavesBandwidth(t *testing.T) {
	run := func(ct imcomm.CommType) *Result {
		cfg := testConfig(ct)
		cfg.Layers = []LayerSpec{{Name: "fc", Rows: 32, Cols: 32}}
		cfg.Epochs = 1
		cfg.StepsPerEpoch = 10
		res, err := RunReplicas(cfg)
		require.NoError(t, err)
		return res
	}
	normal := run(imcomm.Normal)
	onebit := run(imcomm.OneBitQuantization)
	assert.Less(t, onebit.BytesSent*3, normal.BytesSent)
}

func TestSingleReplica(t *testing.T) {
	cfg := testConfig(imcomm.OneBitQuantization)
	cfg.Replicas = 1
	res, err := RunReplicas(cfg)
	require.NoError(t, err)
	assert.Zero(t, res.Messages)

	// Without communication, each layer moves towards the
	// replica's own target.
	assert.Less(t, MaxDistance(MeanTarget(cfg), res.Weights[0]), 1e-3)
}

func TestSetupFailure(t *testing.T) {
	cfg := testConfig(imcomm.Normal)
	cfg.Configure = func(rank int, c *imcomm.Callback, m *Model) {
		c.SetLayerThreshold(1, 0.5, -0.5)
	}
	_, err := RunReplicas(cfg)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "norm1")
}

func TestEvaluationMode(t *testing.T) {
	m := NewModel(nil, &Norm{LayerID: 0, LayerName: "norm"})
	m.SetExecutionMode(imcomm.Validation)
	assert.Equal(t, imcomm.Validation, m.ExecutionMode())
	assert.Empty(t, m.DenseLayers())
}

func TestSwitchedNetwork(t *testing.T) {
	cfg := testConfig(imcomm.ThreshQuantization)
	cfg.Epochs = 1
	cfg.StepsPerEpoch = 3
	cfg.NewNetwork = func(nodes []*simulator.Node) simulator.Network {
		switcher := simulator.NewGreedyDropSwitcher(len(nodes), 1e6)
		return simulator.NewSwitcherNetwork(switcher, nodes, 1e-3)
	}
	cfg.Configure = func(rank int, c *imcomm.Callback, m *Model) {
		c.SetLayerThreshold(0, 0.1, -0.1)
		c.SetLayerThreshold(2, 0.1, -0.1)
	}
	res, err := RunReplicas(cfg)
	require.NoError(t, err)
	requireReplicasAgree(t, res)
	assert.Positive(t, res.Messages)
}
