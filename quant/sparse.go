package quant

import (
	"math"
	"slices"

	"github.com/emirpasic/gods/v2/trees/binaryheap"
)

// Threshold sends elements above Pos or below Neg at
// full precision, keeping everything in between in the
// residual.
type Threshold struct {
	Pos float64
	Neg float64
}

func (t Threshold) Kind() Kind {
	return KindThreshold
}

func (t Threshold) Validate() error {
	if math.IsNaN(t.Pos) || math.IsNaN(t.Neg) {
		return errInvalid(t, "thresholds must not be NaN")
	}
	if t.Pos < 0 {
		return errInvalid(t, "positive threshold %v is negative", t.Pos)
	}
	if t.Neg > 0 {
		return errInvalid(t, "negative threshold %v is positive", t.Neg)
	}
	return nil
}

func (t Threshold) sealed() {}

// Encode sends the elements of values+residual that fall
// outside of [Neg, Pos].
func (t Threshold) Encode(values, residual []float64) Payload {
	comp := compensate(values, residual)
	p := &SparsePayload{n: len(comp)}
	for i, x := range comp {
		if x > t.Pos || x < t.Neg {
			p.indices = append(p.indices, uint32(i))
			p.values = append(p.values, x)
			residual[i] = 0
		} else {
			residual[i] = x
		}
	}
	return p
}

// Adaptive sends the Proportion of elements with the
// largest magnitude at full precision.
//
// Exactly round(Proportion*n) elements are sent.
// Elements of equal magnitude are ranked by position,
// lowest index first, so every node selects the same
// elements from the same input.
type Adaptive struct {
	Proportion float64
}

func (a Adaptive) Kind() Kind {
	return KindAdaptive
}

func (a Adaptive) Validate() error {
	if !(a.Proportion > 0 && a.Proportion <= 1) {
		return errInvalid(a, "proportion %v is not in (0, 1]", a.Proportion)
	}
	return nil
}

func (a Adaptive) sealed() {}

// SelectCount gets the number of elements kept out of n.
func (a Adaptive) SelectCount(n int) int {
	k := int(math.Round(a.Proportion * float64(n)))
	return max(0, min(k, n))
}

// Encode sends the top elements of values+residual.
func (a Adaptive) Encode(values, residual []float64) Payload {
	return a.EncodeCount(values, residual, a.SelectCount(len(values)))
}

// EncodeCount is like Encode, but it sends exactly k
// elements (clamped to the buffer length).
func (a Adaptive) EncodeCount(values, residual []float64, k int) Payload {
	comp := compensate(values, residual)
	p := &SparsePayload{n: len(comp)}
	k = max(0, min(k, len(comp)))
	if k > 0 {
		p.indices = topMagnitudes(comp, k)
		p.values = make([]float64, len(p.indices))
		for i, idx := range p.indices {
			p.values[i] = comp[idx]
		}
	}
	copy(residual, comp)
	for _, idx := range p.indices {
		residual[idx] = 0
	}
	return p
}

type rankedElement struct {
	magnitude float64
	index     int
}

// weaker orders elements so that the least important one
// sits at the top of a min-heap.
func weaker(x, y rankedElement) int {
	if x.magnitude != y.magnitude {
		if x.magnitude < y.magnitude {
			return -1
		}
		return 1
	}
	// Later positions lose ties.
	if x.index > y.index {
		return -1
	} else if x.index < y.index {
		return 1
	}
	return 0
}

// topMagnitudes returns the sorted indices of the k
// elements of largest magnitude.
func topMagnitudes(values []float64, k int) []uint32 {
	if k <= 0 {
		return nil
	}
	heap := binaryheap.NewWith[rankedElement](weaker)
	for i, x := range values {
		elem := rankedElement{magnitude: math.Abs(x), index: i}
		if heap.Size() < k {
			heap.Push(elem)
			continue
		}
		if top, _ := heap.Peek(); weaker(top, elem) < 0 {
			heap.Pop()
			heap.Push(elem)
		}
	}
	indices := make([]uint32, 0, k)
	for _, elem := range heap.Values() {
		indices = append(indices, uint32(elem.index))
	}
	slices.Sort(indices)
	return indices
}

// SparsePayload lists transmitted elements by position.
// Every element not listed decodes to zero.
type SparsePayload struct {
	n       int
	indices []uint32
	values  []float64
}

// NewSparsePayload creates a payload for a buffer of n
// elements from parallel index and value lists.
func NewSparsePayload(n int, indices []uint32, values []float64) *SparsePayload {
	if len(indices) != len(values) {
		panic("mismatching index and value counts")
	}
	return &SparsePayload{n: n, indices: indices, values: values}
}

// Size counts a 4-byte entry count plus a 4-byte index
// and an 8-byte value per entry.
func (s *SparsePayload) Size() int {
	return 4 + len(s.indices)*12
}

func (s *SparsePayload) Len() int {
	return s.n
}

func (s *SparsePayload) Count() int {
	return len(s.indices)
}

// Entries calls f for every transmitted element in
// position order.
func (s *SparsePayload) Entries(f func(index int, value float64)) {
	for i, idx := range s.indices {
		f(int(idx), s.values[i])
	}
}

func (s *SparsePayload) Decode(dst []float64) {
	checkDecodeLen(s, dst)
	clear(dst)
	s.AddTo(dst)
}

func (s *SparsePayload) AddTo(dst []float64) {
	checkDecodeLen(s, dst)
	for i, idx := range s.indices {
		dst[idx] += s.values[i]
	}
}
