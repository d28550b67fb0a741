package summary

import (
	"strconv"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"k8s.io/klog/v2"
)

// A Logger writes every value to the log.
type Logger struct {
	// Prefix is prepended to every line, e.g. to
	// identify a replica.
	Prefix string

	// Verbosity is the klog level the values are logged
	// at.
	Verbosity klog.Level
}

func (l *Logger) ReduceScalar(name string, value float64, step int) {
	klog.V(l.Verbosity).Infof("%sstep %d: %s = %s", l.Prefix, step, name, FormatValue(name, value))
}

// FormatValue renders a metric for humans, guessing its
// unit from the name.
func FormatValue(name string, value float64) string {
	switch {
	case strings.Contains(name, "bytes") && value >= 0:
		return humanize.Bytes(uint64(value))
	case strings.HasSuffix(name, "time"):
		return time.Duration(value * float64(time.Second)).String()
	case strings.HasSuffix(name, "count"):
		return humanize.Comma(int64(value))
	}
	return strconv.FormatFloat(value, 'g', -1, 64)
}
