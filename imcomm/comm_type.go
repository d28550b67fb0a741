package imcomm

import (
	"fmt"
	"strings"

	"github.com/pkg/errors"
)

// CommType determines how a layer's gradient is shared
// between replicas.
type CommType int

const (
	// None skips inter-model communication for a layer.
	None CommType = iota

	// Normal sums gradients exactly.
	Normal

	OneBitQuantization
	ThreshQuantization
	AdaptiveQuantization

	numCommTypes
)

var commTypeNames = [numCommTypes]string{
	"none",
	"normal",
	"onebit_quantization",
	"thresh_quantization",
	"adaptive_quantization",
}

// ParseCommType converts a name such as "onebit_quantization"
// into a CommType.
func ParseCommType(s string) (CommType, error) {
	name := strings.ToLower(strings.TrimSpace(s))
	for i, n := range commTypeNames {
		if n == name {
			return CommType(i), nil
		}
	}
	return None, errors.Errorf("unknown comm type: %q", s)
}

func (c CommType) String() string {
	if !c.Valid() {
		return fmt.Sprintf("CommType(%d)", int(c))
	}
	return commTypeNames[c]
}

// Valid checks that c is one of the defined types.
func (c CommType) Valid() bool {
	return c >= 0 && c < numCommTypes
}

// DoesQuantization reports whether c compresses gradients
// and therefore needs a residual.
func (c CommType) DoesQuantization() bool {
	switch c {
	case OneBitQuantization, ThreshQuantization, AdaptiveQuantization:
		return true
	}
	return false
}
