package quant

import (
	"math"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func allStrategies() []Strategy {
	return []Strategy{
		OneBit{},
		OneBit{BlockSize: 7},
		Threshold{Pos: 0.5, Neg: -0.5},
		Threshold{Pos: 0, Neg: -1.5},
		Adaptive{Proportion: 0.1},
		Adaptive{Proportion: 1},
	}
}

func randomVector(rng *rand.Rand, n int) []float64 {
	res := make([]float64, n)
	for i := range res {
		res[i] = rng.NormFloat64()
	}
	return res
}

// TestConservation checks that decode(encode(G+R)) plus
// the new residual equals G+R for every codec.
func TestConservation(t *testing.T) {
	rng := rand.New(rand.NewSource(1))
	for _, s := range allStrategies() {
		for _, n := range []int{0, 1, 63, 64, 65, 500} {
			values := randomVector(rng, n)
			residual := randomVector(rng, n)
			expected := make([]float64, n)
			for i := range expected {
				expected[i] = values[i] + residual[i]
			}
			valuesCopy := append([]float64{}, values...)

			p := s.Encode(values, residual)
			require.Equal(t, n, p.Len())
			require.Equal(t, valuesCopy, values, "%s modified its input", s.Kind())

			decoded := make([]float64, n)
			p.Decode(decoded)
			for i := range decoded {
				require.InDelta(t, expected[i], decoded[i]+residual[i], 1e-12,
					"%s n=%d element %d", s.Kind(), n, i)
			}
		}
	}
}

// TestErrorFeedback checks that repeatedly encoding the
// same input sends the full amount in the long run.
func TestErrorFeedback(t *testing.T) {
	rng := rand.New(rand.NewSource(2))
	values := randomVector(rng, 50)
	for _, s := range allStrategies() {
		residual := make([]float64, len(values))
		total := make([]float64, len(values))
		const rounds = 1000
		for r := 0; r < rounds; r++ {
			s.Encode(values, residual).AddTo(total)
		}
		for i, x := range values {
			// Everything not yet sent is in the residual.
			require.InDelta(t, x*rounds, total[i]+residual[i], 1e-6)
			assert.InDelta(t, x, total[i]/rounds, 0.25, "%s element %d", s.Kind(), i)
		}
	}
}

func TestOneBit(t *testing.T) {
	values := []float64{1, 3, -2, -4, 0.5, -0.5}
	residual := make([]float64, len(values))
	p := OneBit{BlockSize: 4}.Encode(values, residual).(*OneBitPayload)

	decoded := make([]float64, len(values))
	p.Decode(decoded)
	assert.Equal(t, []float64{2, 2, -3, -3, 0.5, -0.5}, decoded)
	assert.Equal(t, []float64{-1, 1, 1, -1, 0, 0}, residual)
	assert.Equal(t, len(values), p.Count())
	assert.True(t, p.Sign(0))
	assert.False(t, p.Sign(2))

	// Two blocks of means plus one word of bits.
	assert.Equal(t, 2*16+8, p.Size())
}

// TestOneBitWholeBuffer checks that a zero block size
// uses a single block spanning every element.
func TestOneBitWholeBuffer(t *testing.T) {
	s := OneBit{}
	require.NoError(t, s.Validate())

	values := []float64{1, 3, -2, -4, 0.5, -0.5}
	p := s.Encode(values, make([]float64, len(values)))
	decoded := make([]float64, len(values))
	p.Decode(decoded)
	pos, neg := 4.5/3, -6.5/3
	assert.InDeltaSlice(t, []float64{pos, pos, neg, neg, pos, neg}, decoded, 1e-12)
	assert.Equal(t, 16+8, p.Size())
}

func TestOneBitCompression(t *testing.T) {
	values := make([]float64, 64*100)
	p := OneBit{BlockSize: 64}.Encode(values, make([]float64, len(values)))
	assert.Equal(t, 100*16+100*8, p.Size())
	assert.Less(t, p.Size()*20, len(values)*8)
}

func TestThreshold(t *testing.T) {
	values := []float64{1.0, -0.3, 0.05, -0.7, 0.5, -0.5}
	residual := []float64{0, -0.3, 0, 0, 0.1, 0}
	p := Threshold{Pos: 0.5, Neg: -0.5}.Encode(values, residual).(*SparsePayload)

	var indices []int
	var sent []float64
	p.Entries(func(index int, value float64) {
		indices = append(indices, index)
		sent = append(sent, value)
	})
	assert.Equal(t, []int{0, 1, 3, 4}, indices)
	assert.InDeltaSlice(t, []float64{1.0, -0.6, -0.7, 0.6}, sent, 1e-12)

	// Elements within the band are only in the residual.
	assert.InDeltaSlice(t, []float64{0, 0, 0.05, 0, 0, -0.5}, residual, 1e-12)
	assert.Equal(t, 4+4*12, p.Size())
	assert.Equal(t, 4, p.Count())
}

// TestThresholdExact checks that out-of-band elements are
// transmitted bit for bit.
func TestThresholdExact(t *testing.T) {
	rng := rand.New(rand.NewSource(3))
	values := randomVector(rng, 1000)
	residual := make([]float64, len(values))
	s := Threshold{Pos: 1, Neg: -0.5}
	p := s.Encode(values, residual)
	decoded := make([]float64, len(values))
	p.Decode(decoded)
	for i, x := range values {
		if x > s.Pos || x < s.Neg {
			require.Equal(t, math.Float64bits(x), math.Float64bits(decoded[i]))
			require.Zero(t, residual[i])
		} else {
			require.Zero(t, decoded[i])
			require.Equal(t, x, residual[i])
		}
	}
}

func TestAdaptive(t *testing.T) {
	rng := rand.New(rand.NewSource(4))
	for _, proportion := range []float64{0.01, 0.1, 0.25, 0.5, 1} {
		values := randomVector(rng, 997)
		residual := make([]float64, len(values))
		s := Adaptive{Proportion: proportion}
		p := s.Encode(values, residual)
		require.Equal(t, int(math.Round(proportion*997)), p.Count())

		decoded := make([]float64, len(values))
		p.Decode(decoded)
		minSent := math.Inf(1)
		maxKept := 0.0
		for i, x := range values {
			if decoded[i] != 0 {
				minSent = math.Min(minSent, math.Abs(x))
			} else {
				maxKept = math.Max(maxKept, math.Abs(x))
			}
		}
		require.GreaterOrEqual(t, minSent, maxKept)
	}
}

func TestAdaptiveEncodeCount(t *testing.T) {
	values := []float64{3, -4, 1, 2}
	for _, c := range []struct {
		k        int
		sent     int
		residual []float64
	}{
		{k: -1, sent: 0, residual: []float64{3, -4, 1, 2}},
		{k: 0, sent: 0, residual: []float64{3, -4, 1, 2}},
		{k: 2, sent: 2, residual: []float64{0, 0, 1, 2}},
		{k: 9, sent: 4, residual: []float64{0, 0, 0, 0}},
	} {
		residual := make([]float64, len(values))
		p := Adaptive{Proportion: 0.5}.EncodeCount(values, residual, c.k)
		assert.Equal(t, c.sent, p.Count(), "k=%d", c.k)
		assert.Equal(t, c.residual, residual, "k=%d", c.k)
	}
}

func TestAdaptiveTies(t *testing.T) {
	values := []float64{0.5, -1, 1, 0.5, -1, 0.5}
	residual := make([]float64, len(values))
	p := Adaptive{Proportion: 0.5}.Encode(values, residual).(*SparsePayload)
	var indices []int
	p.Entries(func(index int, value float64) {
		indices = append(indices, index)
	})
	assert.Equal(t, []int{1, 2, 4}, indices)
	assert.Equal(t, []float64{0.5, 0, 0, 0.5, 0, 0.5}, residual)

	p = Adaptive{Proportion: 4.0 / 6.0}.Encode(values, make([]float64, len(values))).(*SparsePayload)
	indices = nil
	p.Entries(func(index int, value float64) {
		indices = append(indices, index)
	})
	assert.Equal(t, []int{0, 1, 2, 4}, indices)
}

func TestAdaptiveSelectCount(t *testing.T) {
	assert.Equal(t, 0, Adaptive{Proportion: 0.01}.SelectCount(10))
	assert.Equal(t, 1, Adaptive{Proportion: 0.05}.SelectCount(10))
	assert.Equal(t, 3, Adaptive{Proportion: 0.25}.SelectCount(10))
	assert.Equal(t, 10, Adaptive{Proportion: 1}.SelectCount(10))
}

func TestValidate(t *testing.T) {
	for _, s := range allStrategies() {
		assert.NoError(t, s.Validate())
	}
	for _, s := range []Strategy{
		OneBit{BlockSize: -1},
		Threshold{Pos: -0.1, Neg: -0.5},
		Threshold{Pos: 0.1, Neg: 0.5},
		Threshold{Pos: math.NaN(), Neg: -1},
		Adaptive{},
		Adaptive{Proportion: 1.5},
		Adaptive{Proportion: math.NaN()},
	} {
		assert.Error(t, s.Validate(), "%#v", s)
	}
}
