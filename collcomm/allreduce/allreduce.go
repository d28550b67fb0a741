// Package allreduce implements algorithms for summing or
// maxing vectors across many different connected Nodes.
package allreduce

import (
	"strings"

	"github.com/pkg/errors"
	"github.com/unixpickle/gradcomm/collcomm"
)

// Allreducer is an algorithm that can apply a ReduceFn to
// vectors that are distributed across nodes.
//
// Every node must call Allreduce with vectors of the same
// length, and every node receives the same result.
// Each call starts a new operation on c, so the same
// Comms may be reused for any number of calls as long as
// all nodes make them in the same order.
type Allreducer interface {
	Allreduce(c *collcomm.Comms, data []float64, fn collcomm.ReduceFn) []float64
}

// Names lists the algorithms accepted by ByName, in
// the order they were added.
func Names() []string {
	return []string{"naive", "tree", "stream", "ring"}
}

// ByName creates an Allreducer with default settings from
// its name in Names, ignoring case.
func ByName(name string) (Allreducer, error) {
	switch strings.ToLower(name) {
	case "naive":
		return NaiveAllreducer{}, nil
	case "tree":
		return TreeAllreducer{}, nil
	case "stream":
		return StreamAllreducer{}, nil
	case "ring":
		return RingAllreducer{}, nil
	}
	return nil, errors.Errorf("unknown allreducer %q (expected one of %s)", name,
		strings.Join(Names(), ", "))
}
