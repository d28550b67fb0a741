// Package quant implements lossy gradient codecs with
// error feedback and a quantized all-reduce built on top
// of them.
package quant

import (
	"fmt"

	"github.com/pkg/errors"
	"github.com/unixpickle/gradcomm/collcomm"
)

// Kind identifies a Strategy variant.
type Kind int

const (
	KindOneBit Kind = iota
	KindThreshold
	KindAdaptive
)

func (k Kind) String() string {
	switch k {
	case KindOneBit:
		return "onebit"
	case KindThreshold:
		return "threshold"
	case KindAdaptive:
		return "adaptive"
	}
	return fmt.Sprintf("Kind(%d)", int(k))
}

// A Strategy is a lossy codec with error feedback.
//
// The implementations are OneBit, Threshold and Adaptive;
// no other types may implement Strategy.
type Strategy interface {
	// Kind identifies the variant.
	Kind() Kind

	// Validate checks the codec's parameters.
	Validate() error

	// Encode quantizes values+residual.
	//
	// The quantization error is written back into
	// residual, so that decoding the payload and adding
	// the new residual yields values+residual (the old
	// residual) element-wise.
	// values is not modified.
	Encode(values, residual []float64) Payload

	sealed()
}

// A Payload is the compact, encoded form of a buffer.
type Payload interface {
	collcomm.Payload

	// Len gets the number of elements in the decoded
	// buffer.
	Len() int

	// Count gets the number of elements that were
	// transmitted with their own value or sign.
	Count() int

	// Decode overwrites dst with the reconstruction.
	Decode(dst []float64)

	// AddTo adds the reconstruction to dst.
	AddTo(dst []float64)
}

// compensate returns values+residual as a new slice.
func compensate(values, residual []float64) []float64 {
	if len(values) != len(residual) {
		panic(fmt.Sprintf("values have %d elements but residual has %d", len(values), len(residual)))
	}
	res := make([]float64, len(values))
	for i, x := range values {
		res[i] = x + residual[i]
	}
	return res
}

func checkDecodeLen(p Payload, dst []float64) {
	if len(dst) != p.Len() {
		panic(fmt.Sprintf("payload holds %d elements but destination has %d", p.Len(), len(dst)))
	}
}

// errInvalid wraps a parameter validation failure.
func errInvalid(s Strategy, format string, args ...any) error {
	return errors.Errorf("invalid %s quantization: "+format, append([]any{s.Kind()}, args...)...)
}
