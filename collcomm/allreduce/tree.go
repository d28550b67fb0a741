package allreduce

import (
	"github.com/unixpickle/gradcomm/collcomm"
	"github.com/unixpickle/gradcomm/simulator"
)

// A TreeAllreducer arranges the Ports in a binary tree
// and performs a reduction by going up the tree to a
// root node, and then back down the tree to the leaves.
type TreeAllreducer struct{}

// Allreduce calls fn on vectors along a tree and returns
// the resulting reduced vector.
func (t TreeAllreducer) Allreduce(c *collcomm.Comms, data []float64,
	fn collcomm.ReduceFn) []float64 {
	c.StartOp()
	parent, children := positionInTree(c)

	// Children are reduced in tree order rather than
	// arrival order, keeping the floating-point sum the
	// same on every run.
	messages := make([][]float64, len(children)+1)
	messages[0] = data
	for range children {
		msg, src := c.RecvVector()
		for i, child := range children {
			if child == src {
				messages[i+1] = msg
			}
		}
	}

	finalVector := fn(c.Handle, messages...)
	if parent != nil {
		c.Send(parent, collcomm.Vector(finalVector))
		finalVector, _ = c.RecvVector()
	}

	for _, child := range children {
		c.Send(child, collcomm.Vector(finalVector))
	}

	return finalVector
}

// positionInTree returns the child Ports and parent node
// for a host in the reduction tree.
//
// There may be no children.
// There may be no parent (for the root node).
func positionInTree(c *collcomm.Comms) (parent *simulator.Port, children []*simulator.Port) {
	idx := c.Index()
	for depth := uint(0); true; depth++ {
		rowSize := 1 << depth
		rowStart := rowSize - 1
		if idx >= rowStart+rowSize {
			continue
		}
		rowIdx := idx - rowStart
		if depth > 0 {
			parent = c.Ports[rowIdx/2+(rowSize/2-1)]
		}
		firstChild := rowIdx*2 + (rowSize*2 - 1)
		for i := 0; i < 2; i++ {
			if firstChild+i < len(c.Ports) {
				children = append(children, c.Ports[firstChild+i])
			}
		}
		return
	}
	panic("unreachable")
}
