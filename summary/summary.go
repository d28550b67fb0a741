// Package summary provides sinks for per-round scalar
// metrics.
package summary

import (
	"sort"
	"sync"
)

// A Sink receives named scalars tagged with a step.
type Sink interface {
	ReduceScalar(name string, value float64, step int)
}

// A Point is one recorded value.
type Point struct {
	Step  int
	Value float64
}

// A Recorder keeps every reported value in memory.
//
// It is safe to share a Recorder between replicas.
type Recorder struct {
	lock   sync.Mutex
	points map[string][]Point
}

// NewRecorder creates an empty Recorder.
func NewRecorder() *Recorder {
	return &Recorder{points: map[string][]Point{}}
}

// ReduceScalar records the value.
func (r *Recorder) ReduceScalar(name string, value float64, step int) {
	r.lock.Lock()
	defer r.lock.Unlock()
	r.points[name] = append(r.points[name], Point{Step: step, Value: value})
}

// Points gets the values reported under a name, in the
// order they arrived.
func (r *Recorder) Points(name string) []Point {
	r.lock.Lock()
	defer r.lock.Unlock()
	return append([]Point{}, r.points[name]...)
}

// Values is like Points, but without the steps.
func (r *Recorder) Values(name string) []float64 {
	points := r.Points(name)
	res := make([]float64, len(points))
	for i, p := range points {
		res[i] = p.Value
	}
	return res
}

// Last gets the most recent value for a name.
func (r *Recorder) Last(name string) (float64, bool) {
	r.lock.Lock()
	defer r.lock.Unlock()
	points := r.points[name]
	if len(points) == 0 {
		return 0, false
	}
	return points[len(points)-1].Value, true
}

// Sum adds up every value reported under a name.
func (r *Recorder) Sum(name string) float64 {
	var sum float64
	for _, x := range r.Values(name) {
		sum += x
	}
	return sum
}

// Names lists the reported names in sorted order.
func (r *Recorder) Names() []string {
	r.lock.Lock()
	defer r.lock.Unlock()
	names := make([]string, 0, len(r.points))
	for name := range r.points {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Reset forgets every value.
func (r *Recorder) Reset() {
	r.lock.Lock()
	defer r.lock.Unlock()
	r.points = map[string][]Point{}
}

// Multi forwards every value to several sinks.
type Multi []Sink

func (m Multi) ReduceScalar(name string, value float64, step int) {
	for _, s := range m {
		s.ReduceScalar(name, value, step)
	}
}
