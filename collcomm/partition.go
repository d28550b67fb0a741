package collcomm

// A Shard is a half-open range [Start, End) of a flat
// buffer owned by one node.
type Shard struct {
	Start int
	End   int
}

// Len gets the number of elements in the shard.
func (s Shard) Len() int {
	return s.End - s.Start
}

// EvenPartition splits n elements into parts contiguous
// shards.
// The first n%parts shards hold one extra element, and
// shards may be empty when n < parts.
func EvenPartition(n, parts int) []Shard {
	if parts <= 0 {
		panic("number of parts must be positive")
	}
	shards := make([]Shard, parts)
	base, extra := n/parts, n%parts
	var start int
	for i := range shards {
		size := base
		if i < extra {
			size++
		}
		shards[i] = Shard{Start: start, End: start + size}
		start += size
	}
	return shards
}
