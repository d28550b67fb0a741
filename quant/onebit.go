package quant

// OneBit quantizes each element to its sign.
//
// Within each block of BlockSize consecutive elements,
// non-negative elements are reconstructed as the mean of
// the block's non-negative elements, and negative ones as
// the mean of its negative elements.
// A BlockSize of 0 treats the whole buffer as one block.
type OneBit struct {
	BlockSize int
}

func (o OneBit) Kind() Kind {
	return KindOneBit
}

func (o OneBit) Validate() error {
	if o.BlockSize < 0 {
		return errInvalid(o, "block size %d is negative", o.BlockSize)
	}
	return nil
}

func (o OneBit) sealed() {}

// Encode packs the signs of values+residual.
func (o OneBit) Encode(values, residual []float64) Payload {
	comp := compensate(values, residual)
	p := &OneBitPayload{
		n:         len(comp),
		blockSize: o.blockSize(len(comp)),
		bits:      make([]uint64, (len(comp)+63)/64),
	}
	for start := 0; start < len(comp); start += p.blockSize {
		end := min(start+p.blockSize, len(comp))
		var posSum, negSum float64
		var posCount, negCount int
		for i, x := range comp[start:end] {
			if x >= 0 {
				posSum += x
				posCount++
				idx := start + i
				p.bits[idx/64] |= 1 << uint(idx%64)
			} else {
				negSum += x
				negCount++
			}
		}
		var posMean, negMean float64
		if posCount > 0 {
			posMean = posSum / float64(posCount)
		}
		if negCount > 0 {
			negMean = negSum / float64(negCount)
		}
		p.means = append(p.means, posMean, negMean)
	}
	for i, x := range comp {
		residual[i] = x - p.at(i)
	}
	return p
}

func (o OneBit) blockSize(n int) int {
	if o.BlockSize == 0 || o.BlockSize > n {
		return max(n, 1)
	}
	return o.BlockSize
}

// OneBitPayload is the output of OneBit.Encode.
type OneBitPayload struct {
	n         int
	blockSize int

	// Two entries per block: the non-negative mean
	// followed by the negative mean.
	means []float64

	// One bit per element, set for non-negative values.
	bits []uint64
}

// Size counts 16 bytes per block for the means plus the
// packed sign bits.
func (o *OneBitPayload) Size() int {
	return len(o.means)*8 + len(o.bits)*8
}

func (o *OneBitPayload) Len() int {
	return o.n
}

// Count is the number of elements, since every element
// is sent as one bit.
func (o *OneBitPayload) Count() int {
	return o.n
}

func (o *OneBitPayload) Decode(dst []float64) {
	checkDecodeLen(o, dst)
	for i := range dst {
		dst[i] = o.at(i)
	}
}

func (o *OneBitPayload) AddTo(dst []float64) {
	checkDecodeLen(o, dst)
	for i := range dst {
		dst[i] += o.at(i)
	}
}

// Sign reports whether element i was non-negative.
func (o *OneBitPayload) Sign(i int) bool {
	return o.bits[i/64]&(1<<uint(i%64)) != 0
}

func (o *OneBitPayload) at(i int) float64 {
	block := i / o.blockSize
	if o.Sign(i) {
		return o.means[2*block]
	}
	return o.means[2*block+1]
}
