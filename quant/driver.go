package quant

import (
	"time"

	"github.com/pkg/errors"
	"github.com/unixpickle/gradcomm/collcomm"
	"github.com/unixpickle/gradcomm/collcomm/allreduce"
	"gonum.org/v1/gonum/mat"
	"k8s.io/klog/v2"
)

// A Driver performs cross-replica reductions of gradient
// matrices on behalf of one replica.
//
// Every replica must issue the same sequence of calls
// with matrices of the same shapes; a replica that skips
// or reorders a call stalls all the others.
// A Driver must only be used from its replica's
// Goroutine.
type Driver struct {
	Comms *collcomm.Comms

	// Allreducer is used for exact sums.
	// If nil, RingAllreducer is used.
	Allreducer allreduce.Allreducer

	// ReduceFn is used by Allreducer.
	// If nil, collcomm.Sum is used.
	ReduceFn collcomm.ReduceFn
}

// NewDriver creates a Driver with the default exact
// reduction algorithm.
func NewDriver(c *collcomm.Comms) *Driver {
	return &Driver{Comms: c}
}

// NumReplicas gets the number of cooperating replicas.
func (d *Driver) NumReplicas() int {
	return d.Comms.Size()
}

// Rank gets this replica's index.
func (d *Driver) Rank() int {
	return d.Comms.Index()
}

// SumMatrix replaces m with the exact element-wise sum
// of m across all replicas.
func (d *Driver) SumMatrix(m *mat.Dense, stats *collcomm.Stats) error {
	data, err := Flat(m)
	if err != nil {
		return errors.WithMessage(err, "exact sum")
	}
	before := d.Comms.Traffic
	res := d.allreducer().Allreduce(d.Comms, data, d.reduceFn())
	copy(data, res)
	stats.AddTraffic(d.Comms.Traffic.Sub(before))
	return nil
}

// SumQuantized replaces m with an approximation of the
// sum of m+residual across all replicas, using s to
// compress the data sent over the network.
//
// The buffer is split into one shard per replica.
// In the reduce-scatter stage, each replica encodes every
// shard and sends it to the shard's owner, who adds up
// the decoded contributions.
// In the all-gather stage, each owner encodes its reduced
// shard and broadcasts it.
// The errors of both encodings are kept in residual, so
// that the total of all replicas' residuals plus the
// result equals the total of their inputs.
func (d *Driver) SumQuantized(m, residual *mat.Dense, s Strategy, stats *collcomm.Stats) error {
	if err := s.Validate(); err != nil {
		return err
	}
	data, err := Flat(m)
	if err != nil {
		return errors.WithMessage(err, "quantized sum")
	}
	res, err := Flat(residual)
	if err != nil {
		return errors.WithMessage(err, "quantized sum residual")
	}
	if len(data) != len(res) {
		r1, c1 := m.Dims()
		r2, c2 := residual.Dims()
		return errors.Errorf("quantized sum: gradient is %dx%d but residual is %dx%d", r1, c1, r2, c2)
	}
	n := d.NumReplicas()
	if n == 1 || len(data) == 0 {
		return nil
	}

	before := d.Comms.Traffic
	shards := collcomm.EvenPartition(len(data), n)
	rank := d.Rank()
	reduced := d.reduceScatter(shards, data, res, s, stats)
	d.allGather(shards, data, reduced, stats)
	stats.AddTraffic(d.Comms.Traffic.Sub(before))

	if klog.V(2).Enabled() {
		klog.Infof("rank %d: %s quantized sum of %d elements: rs sent/received %d/%d bytes, ag sent/received %d/%d bytes",
			rank, s.Kind(), len(data), stats.RSBytesSent, stats.RSBytesReceived,
			stats.AGBytesSent, stats.AGBytesReceived)
	}
	return nil
}

// reduceScatter runs the first stage and returns the
// encoded reduction of this replica's shard, or nil if
// the shard is empty.
func (d *Driver) reduceScatter(shards []collcomm.Shard, data, res []float64, s Strategy,
	stats *collcomm.Stats) Payload {
	c := d.Comms
	c.StartOp()
	rank := c.Index()

	start := time.Now()
	enc := newShardEncoder(s, shards, data, res)
	outgoing := make([]collcomm.Payload, len(shards))
	var own Payload
	for i, sh := range shards {
		if sh.Len() == 0 {
			continue
		}
		p := enc.Encode(i, data[sh.Start:sh.End], res[sh.Start:sh.End])
		stats.QuantizedCount += p.Count()
		if i == rank {
			own = p
		} else {
			outgoing[i] = p
			stats.RSBytesSent += p.Size()
		}
	}
	stats.SendTransformTime += time.Since(start)
	c.SendAll(outgoing)

	ownShard := shards[rank]
	if ownShard.Len() == 0 {
		return nil
	}

	contributions := make([]Payload, len(shards))
	contributions[rank] = own
	for i := 0; i < len(shards)-1; i++ {
		p, src := c.Recv()
		contributions[c.IndexOf(src)] = p.(Payload)
		stats.RSBytesReceived += p.Size()
	}

	// Contributions are added in rank order so that the
	// result doesn't depend on arrival order.
	start = time.Now()
	sum := make([]float64, ownShard.Len())
	for _, p := range contributions {
		p.AddTo(sum)
	}
	stats.RecvApplyTransformTime += time.Since(start)

	start = time.Now()
	reduced := enc.Reencode(sum, res[ownShard.Start:ownShard.End], contributions)
	stats.SendTransformTime += time.Since(start)
	return reduced
}

// allGather runs the second stage, decoding every
// owner's shard into data.
func (d *Driver) allGather(shards []collcomm.Shard, data []float64, reduced Payload,
	stats *collcomm.Stats) {
	c := d.Comms
	c.StartOp()
	rank := c.Index()

	var owners int
	for i, sh := range shards {
		if i != rank && sh.Len() > 0 {
			owners++
		}
	}

	if reduced != nil {
		c.Bcast(reduced)
		stats.AGBytesSent += reduced.Size() * (len(shards) - 1)
		start := time.Now()
		own := shards[rank]
		reduced.Decode(data[own.Start:own.End])
		stats.RecvTransformTime += time.Since(start)
	}

	for i := 0; i < owners; i++ {
		p, src := c.Recv()
		sh := shards[c.IndexOf(src)]
		stats.AGBytesReceived += p.Size()
		start := time.Now()
		p.(Payload).Decode(data[sh.Start:sh.End])
		stats.RecvTransformTime += time.Since(start)
	}
}

// shardEncoder encodes the shards of one buffer.
//
// Adaptive selection picks the top elements of the whole
// buffer, not of every shard separately, so a shard whose
// share would round to zero still sends its largest
// elements once they grow big enough.
type shardEncoder struct {
	s Strategy

	// counts is the number of selected elements in every
	// shard, for Adaptive only.
	counts []int
}

func newShardEncoder(s Strategy, shards []collcomm.Shard, data, res []float64) *shardEncoder {
	e := &shardEncoder{s: s}
	a, ok := s.(Adaptive)
	if !ok {
		return e
	}
	comp := compensate(data, res)
	e.counts = make([]int, len(shards))
	shard := 0
	for _, idx := range topMagnitudes(comp, a.SelectCount(len(comp))) {
		for int(idx) >= shards[shard].End {
			shard++
		}
		e.counts[shard]++
	}
	return e
}

// Encode encodes one shard of the buffer.
//
// The top elements of the whole buffer restricted to a
// shard are the shard's own top elements, so each shard
// can be encoded on its own.
func (e *shardEncoder) Encode(shard int, values, residual []float64) Payload {
	if e.counts != nil {
		return e.s.(Adaptive).EncodeCount(values, residual, e.counts[shard])
	}
	return e.s.Encode(values, residual)
}

// Reencode encodes an owner's reduced shard.
//
// For Adaptive, as many elements are sent as there were
// distinct positions among the contributions.
func (e *shardEncoder) Reencode(sum, residual []float64, contributions []Payload) Payload {
	if e.counts == nil {
		return e.s.Encode(sum, residual)
	}
	seen := map[int]bool{}
	for _, p := range contributions {
		p.(*SparsePayload).Entries(func(index int, value float64) {
			seen[index] = true
		})
	}
	return e.s.(Adaptive).EncodeCount(sum, residual, len(seen))
}

func (d *Driver) allreducer() allreduce.Allreducer {
	if d.Allreducer == nil {
		return allreduce.RingAllreducer{}
	}
	return d.Allreducer
}

func (d *Driver) reduceFn() collcomm.ReduceFn {
	if d.ReduceFn == nil {
		return collcomm.Sum
	}
	return d.ReduceFn
}
