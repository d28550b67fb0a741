package collcomm

import "time"

// Stats accumulates the cost of the reductions performed
// during one round of communication.
//
// A Stats object is owned by the caller of a reduction,
// passed in by reference, and reset by the caller once it
// has been consumed.
type Stats struct {
	BytesSent     int
	BytesReceived int

	// Reduce-scatter stage of a quantized reduction.
	RSBytesSent     int
	RSBytesReceived int

	// All-gather stage of a quantized reduction.
	AGBytesSent     int
	AGBytesReceived int

	// SendTransformTime is spent encoding outgoing data.
	SendTransformTime time.Duration

	// RecvTransformTime is spent decoding incoming data
	// into the result.
	RecvTransformTime time.Duration

	// RecvApplyTransformTime is spent decoding incoming
	// data and accumulating it into partial sums.
	RecvApplyTransformTime time.Duration

	// QuantizedCount is the number of elements carried by
	// quantized payloads.
	QuantizedCount int
}

// AddTraffic records bytes moved outside of a staged
// reduction.
func (s *Stats) AddTraffic(t Traffic) {
	s.BytesSent += t.BytesSent
	s.BytesReceived += t.BytesReceived
}

// Add accumulates other into s.
func (s *Stats) Add(other *Stats) {
	s.BytesSent += other.BytesSent
	s.BytesReceived += other.BytesReceived
	s.RSBytesSent += other.RSBytesSent
	s.RSBytesReceived += other.RSBytesReceived
	s.AGBytesSent += other.AGBytesSent
	s.AGBytesReceived += other.AGBytesReceived
	s.SendTransformTime += other.SendTransformTime
	s.RecvTransformTime += other.RecvTransformTime
	s.RecvApplyTransformTime += other.RecvApplyTransformTime
	s.QuantizedCount += other.QuantizedCount
}

// Reset zeroes every counter.
func (s *Stats) Reset() {
	*s = Stats{}
}
