package imcomm

import (
	"time"

	"github.com/pkg/errors"
	"gonum.org/v1/gonum/mat"
)

// OnBackwardPropEnd sums the gradients of every
// communicating layer across replicas, in layer order.
//
// It does nothing when there is a single replica or the
// model is not training.
func (c *Callback) OnBackwardPropEnd(m Model) error {
	comm := m.Comm()
	if !c.active(m) {
		return nil
	}
	if !c.ready {
		return errors.New("imcomm: backward prop hook called before setup or after a configuration change")
	}
	defer c.stats.Reset()
	for _, layer := range m.Layers() {
		params, ok := c.params.Get(layer.ID())
		if !ok {
			return errors.Errorf("imcomm: layer %s was not set up", layer.Name())
		}
		if params.Type == None {
			continue
		}
		grad, err := gradientView(layer, params)
		if err != nil {
			return err
		}

		start := time.Now()
		switch params.Type {
		case Normal:
			err = comm.SumMatrix(grad, &c.stats)
		case OneBitQuantization, ThreshQuantization, AdaptiveQuantization:
			_, cols := grad.Dims()
			s, sErr := params.Strategy(cols)
			if sErr != nil {
				return errors.WithMessagef(sErr, "imcomm: layer %s", layer.Name())
			}
			if err := checkResidual(layer, params); err != nil {
				return err
			}
			err = comm.SumQuantized(grad, params.Error, s, &c.stats)
		default:
			return errors.Errorf("imcomm: unknown comm type %s for layer %s", params.Type, layer.Name())
		}
		if err != nil {
			return errors.WithMessagef(err, "imcomm: layer %s", layer.Name())
		}
		c.summarize(m, layer, params, grad, time.Since(start))
	}
	return nil
}

// OnEpochEnd applies the residual of every quantized
// layer, so that no quantization error is left behind at
// the end of an epoch.
//
// The residuals are summed exactly across replicas,
// passed to each layer's Update as its gradient, and then
// zeroed.
func (c *Callback) OnEpochEnd(m Model) error {
	comm := m.Comm()
	if !c.active(m) {
		return nil
	}
	if !c.ready {
		return errors.New("imcomm: epoch end hook called before setup or after a configuration change")
	}
	defer c.stats.Reset()
	for _, layer := range m.Layers() {
		params, ok := c.params.Get(layer.ID())
		if !ok || !params.Type.DoesQuantization() {
			continue
		}
		if err := checkResidual(layer, params); err != nil {
			return err
		}
		if err := comm.SumMatrix(params.Error, &c.stats); err != nil {
			return errors.WithMessagef(err, "imcomm: flush layer %s", layer.Name())
		}
		grad, err := gradientView(layer, params)
		if err != nil {
			return err
		}
		grad.Copy(params.Error)
		if err := layer.Update(); err != nil {
			return errors.WithMessagef(err, "imcomm: update layer %s", layer.Name())
		}
		params.Error.Zero()
	}
	return nil
}

func (c *Callback) active(m Model) bool {
	return m.Comm().NumReplicas() > 1 && m.ExecutionMode() == Training
}

// checkResidual catches quantized layers whose residual
// was never allocated, e.g. when Params were changed in
// place after Setup.
func checkResidual(layer Layer, params *Params) error {
	if params.Error == nil {
		return errors.Errorf("imcomm: layer %s uses %s but has no residual; call Setup after changing it",
			layer.Name(), params.Type)
	}
	return nil
}

func gradientView(layer Layer, params *Params) (*mat.Dense, error) {
	grad, ok := layer.Gradients()
	if !ok {
		return nil, errors.Errorf("imcomm: layer %s has no gradients", layer.Name())
	}
	view, err := params.gradientView(grad)
	if err != nil {
		return nil, errors.WithMessagef(err, "imcomm: layer %s", layer.Name())
	}
	return view, nil
}

// summarize reports the cost of one layer's
// communication and resets the counters.
func (c *Callback) summarize(m Model, layer Layer, params *Params, grad *mat.Dense,
	elapsed time.Duration) {
	defer c.stats.Reset()
	if c.summarizer == nil {
		return
	}
	step := m.Step()
	prefix := layer.Name() + "/imcomm_"
	report := func(name string, value float64) {
		c.summarizer.ReduceScalar(prefix+name, value, step)
	}

	report("time", elapsed.Seconds())
	if !params.Type.DoesQuantization() {
		// Estimated from the element count, the same way
		// for both directions.
		rows, cols := grad.Dims()
		bytes := float64(rows * cols * 8)
		report("bytes_sent", bytes)
		report("bytes_received", bytes)
		return
	}

	s := &c.stats
	report("bytes_sent", float64(s.BytesSent))
	report("bytes_received", float64(s.BytesReceived))
	report("rs_bytes_sent", float64(s.RSBytesSent))
	report("ag_bytes_sent", float64(s.AGBytesSent))
	report("rs_bytes_received", float64(s.RSBytesReceived))
	report("ag_bytes_received", float64(s.AGBytesReceived))
	report("ar_send_trans_time", s.SendTransformTime.Seconds())
	report("ar_recv_trans_time", s.RecvTransformTime.Seconds())
	report("ar_recv_apply_trans_time", s.RecvApplyTransformTime.Seconds())
	if params.Type == AdaptiveQuantization {
		report("quantized_count", float64(s.QuantizedCount))
	}
}
