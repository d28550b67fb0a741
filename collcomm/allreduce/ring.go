package allreduce

import "github.com/unixpickle/gradcomm/collcomm"

// A RingAllreducer splits the vector into one shard per
// node and passes shards around a ring in two phases.
//
// During the reduce-scatter phase, every node ends up
// with one fully reduced shard.
// During the all-gather phase, the reduced shards are
// passed around the ring until every node has all of
// them.
//
// Each node sends and receives roughly 2*(N-1)/N times
// the vector size, independently of the number of nodes.
type RingAllreducer struct{}

// Allreduce runs the two ring phases and returns the
// reduced vector.
func (r RingAllreducer) Allreduce(c *collcomm.Comms, data []float64,
	fn collcomm.ReduceFn) []float64 {
	c.StartOp()
	n := c.Size()
	if n == 1 || len(data) == 0 {
		return append([]float64{}, data...)
	}

	shards := collcomm.EvenPartition(len(data), n)
	chunks := make([][]float64, n)
	for i, s := range shards {
		chunks[i] = append([]float64{}, data[s.Start:s.End]...)
	}

	idx := c.Index()
	next := c.Ports[(idx+1)%n]
	inbox := &ringInbox{comms: c, packets: map[int]*ringPacket{}}

	for step := 0; step < n-1; step++ {
		sendIdx := mod(idx-step, n)
		c.Send(next, &ringPacket{step: step, data: chunks[sendIdx]})
		recvIdx := mod(idx-step-1, n)
		packet := inbox.Recv(step)
		chunks[recvIdx] = fn(c.Handle, packet.data, chunks[recvIdx])
	}

	for step := 0; step < n-1; step++ {
		sendIdx := mod(idx+1-step, n)
		c.Send(next, &ringPacket{step: n - 1 + step, data: chunks[sendIdx]})
		recvIdx := mod(idx-step, n)
		chunks[recvIdx] = inbox.Recv(n - 1 + step).data
	}

	res := make([]float64, 0, len(data))
	for _, chunk := range chunks {
		res = append(res, chunk...)
	}
	return res
}

type ringPacket struct {
	step int
	data []float64
}

// Size counts the payload plus a 4-byte step number.
func (r *ringPacket) Size() int {
	return len(r.data)*8 + 4
}

// ringInbox reorders packets from the previous node,
// since the network may deliver later steps first.
type ringInbox struct {
	comms   *collcomm.Comms
	packets map[int]*ringPacket
}

func (r *ringInbox) Recv(step int) *ringPacket {
	for {
		if packet, ok := r.packets[step]; ok {
			delete(r.packets, step)
			return packet
		}
		p, _ := r.comms.Recv()
		packet := p.(*ringPacket)
		r.packets[packet.step] = packet
	}
}

func mod(x, n int) int {
	return ((x % n) + n) % n
}
