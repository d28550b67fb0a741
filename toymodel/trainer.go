package toymodel

import (
	"github.com/pkg/errors"
	"github.com/unixpickle/gradcomm/imcomm"
)

// Hooks are called by a Trainer around each step.
//
// *imcomm.Callback implements Hooks.
type Hooks interface {
	Setup(m imcomm.Model) error
	OnBackwardPropEnd(m imcomm.Model) error
	OnEpochEnd(m imcomm.Model) error
}

// A Trainer runs a fixed number of epochs on a Model.
type Trainer struct {
	Model *Model
	Hooks Hooks

	Epochs        int
	StepsPerEpoch int
}

// Run sets up the hooks and trains the model.
func (t *Trainer) Run() error {
	if err := t.Hooks.Setup(t.Model); err != nil {
		return err
	}
	for epoch := 0; epoch < t.Epochs; epoch++ {
		for i := 0; i < t.StepsPerEpoch; i++ {
			t.Model.Backward()
			if err := t.Hooks.OnBackwardPropEnd(t.Model); err != nil {
				return errors.WithMessagef(err, "epoch %d step %d", epoch, t.Model.Step())
			}
			if err := t.Model.Update(); err != nil {
				return errors.WithMessagef(err, "epoch %d step %d", epoch, t.Model.Step())
			}
		}
		if err := t.Hooks.OnEpochEnd(t.Model); err != nil {
			return errors.WithMessagef(err, "end of epoch %d", epoch)
		}
	}
	return nil
}
