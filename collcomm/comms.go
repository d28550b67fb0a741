package collcomm

import (
	"fmt"

	"github.com/unixpickle/essentials"
	"github.com/unixpickle/gradcomm/simulator"
)

// A Payload is anything that can be sent between nodes
// during a collective operation.
type Payload interface {
	// Size returns the number of bytes the payload
	// occupies on the wire.
	Size() int
}

// A Vector is a dense payload of 64-bit floats.
type Vector []float64

// Size returns 8 bytes per element.
func (v Vector) Size() int {
	return len(v) * 8
}

// Traffic counts the bytes a node moved across the
// network.
type Traffic struct {
	BytesSent     int
	BytesReceived int
}

// Sub returns the traffic accumulated since an earlier
// snapshot.
func (t Traffic) Sub(earlier Traffic) Traffic {
	return Traffic{
		BytesSent:     t.BytesSent - earlier.BytesSent,
		BytesReceived: t.BytesReceived - earlier.BytesReceived,
	}
}

// envelope tags a payload with the collective it belongs
// to.
type envelope struct {
	op      int
	payload Payload
}

// Comms manages a set of connections between a bunch of
// nodes.
//
// Each node keeps one long-lived Comms object.
// Every collective operation must begin with StartOp(),
// and every node must run the same collectives in the
// same order: messages are tagged with the operation's
// sequence number so that consecutive operations can
// share the same ports.
type Comms struct {
	// Handle is the node's main Goroutine's handle on the
	// event loop.
	Handle *simulator.Handle

	// Port is the current node's port.
	Port *simulator.Port

	// Ports contains ports to all the nodes in the
	// network, including the current node.
	Ports []*simulator.Port

	// Network is the network connecting the nodes.
	Network simulator.Network

	// Traffic is the running total of bytes moved by
	// this node.
	Traffic Traffic

	op      int
	backlog []*simulator.Message
}

// SpawnComms creates Comms objects for every node in a
// network and calls f for each node in its own Goroutine.
func SpawnComms(loop *simulator.EventLoop, network simulator.Network, nodes []*simulator.Node,
	f func(c *Comms)) {
	ports := make([]*simulator.Port, len(nodes))
	for i, node := range nodes {
		ports[i] = node.Port(loop)
	}
	for i := range nodes {
		port := ports[i]
		loop.Go(func(h *simulator.Handle) {
			f(&Comms{
				Handle:  h,
				Port:    port,
				Ports:   ports,
				Network: network,
			})
		})
	}
}

// Size gets the number of nodes.
func (c *Comms) Size() int {
	return len(c.Ports)
}

// StartOp begins a new collective operation and returns
// its sequence number.
//
// Messages from earlier operations must all have been
// received by the time StartOp is called.
func (c *Comms) StartOp() int {
	for _, msg := range c.backlog {
		if msg.Message.(*envelope).op <= c.op {
			panic(fmt.Sprintf("unreceived message from operation %d", c.op))
		}
	}
	c.op++
	return c.op
}

// Op gets the sequence number of the current operation.
func (c *Comms) Op() int {
	return c.op
}

// Bcast sends a payload to every other node.
func (c *Comms) Bcast(p Payload) {
	messages := make([]*simulator.Message, 0, len(c.Ports)-1)
	for _, port := range c.Ports {
		if port == c.Port {
			continue
		}
		messages = append(messages, c.message(port, p))
	}
	c.Network.Send(c.Handle, messages...)
}

// Send schedules a payload to be sent to the destination.
func (c *Comms) Send(dst *simulator.Port, p Payload) {
	c.Network.Send(c.Handle, c.message(dst, p))
}

// SendAll sends a different payload to every port in
// one batch.
// Entries of payloads for the current node or nil
// entries are skipped.
func (c *Comms) SendAll(payloads []Payload) {
	if len(payloads) != len(c.Ports) {
		panic("expected one payload per node")
	}
	messages := make([]*simulator.Message, 0, len(c.Ports)-1)
	for i, p := range payloads {
		if c.Ports[i] == c.Port || p == nil {
			continue
		}
		messages = append(messages, c.message(c.Ports[i], p))
	}
	c.Network.Send(c.Handle, messages...)
}

// Recv receives the next payload of the current
// operation.
//
// Payloads that belong to later operations are held back
// until those operations start.
func (c *Comms) Recv() (Payload, *simulator.Port) {
	for i, msg := range c.backlog {
		if msg.Message.(*envelope).op == c.op {
			essentials.OrderedDelete(&c.backlog, i)
			return c.accept(msg)
		}
	}
	for {
		msg := c.Port.Recv(c.Handle)
		env := msg.Message.(*envelope)
		if env.op == c.op {
			return c.accept(msg)
		} else if env.op < c.op {
			panic(fmt.Sprintf("stale message from operation %d during operation %d", env.op, c.op))
		}
		c.backlog = append(c.backlog, msg)
	}
}

// RecvVector is like Recv, but it expects a Vector.
func (c *Comms) RecvVector() (Vector, *simulator.Port) {
	p, src := c.Recv()
	return p.(Vector), src
}

// Index returns the current node's index in the list of
// nodes.
func (c *Comms) Index() int {
	return c.IndexOf(c.Port)
}

// IndexOf returns any node's index.
func (c *Comms) IndexOf(p *simulator.Port) int {
	for i, port := range c.Ports {
		if port == p {
			return i
		}
	}
	panic("unreachable")
}

func (c *Comms) message(dst *simulator.Port, p Payload) *simulator.Message {
	size := p.Size()
	c.Traffic.BytesSent += size
	return &simulator.Message{
		Source:  c.Port,
		Dest:    dst,
		Message: &envelope{op: c.op, payload: p},
		Size:    float64(size),
	}
}

func (c *Comms) accept(msg *simulator.Message) (Payload, *simulator.Port) {
	env := msg.Message.(*envelope)
	c.Traffic.BytesReceived += env.payload.Size()
	return env.payload, msg.Source
}
