// Package imcomm shares gradient updates between the
// replicas of a data-parallel model, optionally
// compressing them with error-feedback quantization.
package imcomm

import (
	"github.com/pkg/errors"
	"github.com/unixpickle/essentials"
	"github.com/unixpickle/gradcomm/collcomm"
	orderedmap "github.com/wk8/go-ordered-map/v2"
	"gonum.org/v1/gonum/mat"
	"k8s.io/klog/v2"
)

// A Callback performs inter-model communication at the
// end of every backward pass.
//
// Layers are configured with the setters before Setup.
// Layers without an explicit configuration get the
// default type if they learn, or None otherwise.
//
// A Callback belongs to one replica and must only be used
// from the Goroutine driving that replica.
type Callback struct {
	defaultType CommType
	summarizer  Summarizer

	params *orderedmap.OrderedMap[LayerID, *Params]
	stats  collcomm.Stats
	ready  bool
}

// New creates a Callback that uses defaultType for every
// learning layer that is not configured explicitly.
//
// The summarizer may be nil.
func New(defaultType CommType, summarizer Summarizer) *Callback {
	return &Callback{
		defaultType: defaultType,
		summarizer:  summarizer,
		params:      orderedmap.New[LayerID, *Params](),
	}
}

// NewForLayers creates a Callback that uses ct for the
// listed layers and None for all others.
func NewForLayers(ct CommType, layers []LayerID, summarizer Summarizer) *Callback {
	c := New(None, summarizer)
	for _, id := range layers {
		c.SetLayerComm(id, ct)
	}
	return c
}

// SetLayerComm configures a layer with a type and no
// extra parameters, replacing any earlier configuration.
func (c *Callback) SetLayerComm(id LayerID, ct CommType) {
	c.setLayer(id, &Params{Type: ct})
}

// SetLayerAdaptive configures a layer for adaptive
// quantization, sending the given proportion of elements
// every round.
func (c *Callback) SetLayerAdaptive(id LayerID, proportion float64) {
	c.setLayer(id, &Params{Type: AdaptiveQuantization, Proportion: proportion})
}

// SetLayerThreshold configures a layer for threshold
// quantization.
func (c *Callback) SetLayerThreshold(id LayerID, pos, neg float64) {
	c.setLayer(id, &Params{Type: ThreshQuantization, PosThresh: pos, NegThresh: neg})
}

// SetLayerReshape views a layer's gradient as a rows x
// cols matrix during communication.
//
// The layer's type is kept; a layer without a
// configuration gets the default type.
func (c *Callback) SetLayerReshape(id LayerID, rows, cols int) {
	p, ok := c.params.Get(id)
	if !ok {
		p = &Params{Type: c.defaultType}
		c.params.Set(id, p)
	}
	p.ReshapeRows = rows
	p.ReshapeCols = cols
	c.ready = false
}

// setLayer replaces a layer's configuration. Setup must
// run again before the hooks, since residuals are only
// allocated there.
func (c *Callback) setLayer(id LayerID, p *Params) {
	c.params.Set(id, p)
	c.ready = false
}

// Params gets the configuration of a layer.
func (c *Callback) Params(id LayerID) (*Params, bool) {
	return c.params.Get(id)
}

// Policies lists every configured layer, sorted by ID.
func (c *Callback) Policies() ([]LayerID, []*Params) {
	ids := make([]LayerID, 0, c.params.Len())
	params := make([]*Params, 0, c.params.Len())
	for pair := c.params.Oldest(); pair != nil; pair = pair.Next() {
		ids = append(ids, pair.Key)
		params = append(params, pair.Value)
	}
	essentials.VoodooSort(ids, func(i, j int) bool {
		return ids[i] < ids[j]
	}, params)
	return ids, params
}

// Setup assigns defaults to unconfigured layers, checks
// every configuration against the model, and allocates
// zeroed residuals for quantized layers.
//
// It must be called before the hooks.
func (c *Callback) Setup(m Model) error {
	seen := map[LayerID]bool{}
	for _, layer := range m.Layers() {
		seen[layer.ID()] = true
		grad, learning := layer.Gradients()
		params, ok := c.params.Get(layer.ID())
		if !ok {
			params = &Params{Type: None}
			if learning {
				params.Type = c.defaultType
			}
			c.params.Set(layer.ID(), params)
		}
		if err := setupLayer(params, grad, learning); err != nil {
			return errors.WithMessagef(err, "imcomm: setup layer %s", layer.Name())
		}
		if params.Type != None {
			klog.V(1).Infof("imcomm: layer %s uses %s", layer.Name(), params.Type)
		}
	}
	for pair := c.params.Oldest(); pair != nil; pair = pair.Next() {
		if !seen[pair.Key] {
			klog.Warningf("imcomm: layer %d is configured but not part of the model", pair.Key)
		}
	}
	c.stats.Reset()
	c.ready = true
	return nil
}

func setupLayer(p *Params, grad *mat.Dense, learning bool) error {
	if !p.Type.Valid() {
		return errors.Errorf("unknown comm type %s", p.Type)
	}
	if p.Type == None {
		return nil
	}
	if !learning {
		return errors.Errorf("inter-model gradient communication (%s) on a layer without gradients", p.Type)
	}
	if err := p.checkReshape(grad); err != nil {
		return err
	}
	if !p.Type.DoesQuantization() {
		return nil
	}
	rows, cols := grad.Dims()
	if p.Reshaped() {
		rows, cols = p.ReshapeRows, p.ReshapeCols
	}
	s, err := p.Strategy(cols)
	if err != nil {
		return err
	}
	if err := s.Validate(); err != nil {
		return err
	}
	p.Error = mat.NewDense(rows, cols, nil)
	return nil
}
