package simulator

import (
	"errors"
	"fmt"
	"math"
	"math/rand"
	"sync"

	"github.com/unixpickle/essentials"
)

// An EventStream is a uni-directional channel of events
// that are passed through an EventLoop.
//
// A stream belongs to the EventLoop that created it.
type EventStream struct {
	loop    *EventLoop
	pending []any
}

// An Event is a message received on some EventStream.
type Event struct {
	Message any
	Stream  *EventStream
}

// A Timer is a single delivery that will happen at some
// point in the (virtual) future.
type Timer struct {
	time  float64
	event *Event
}

// Time gets the virtual time at which the timer fires.
//
// While the loop's clock is below Time(), the timer has
// not fired.
func (t *Timer) Time() float64 {
	return t.time
}

// A Handle is a Goroutine's access point to an EventLoop.
// Handles must not be shared between Goroutines.
type Handle struct {
	*EventLoop

	// Set only while the Goroutine is blocked in Poll.
	pollStreams []*EventStream
	pollChan    chan<- *Event
}

// Poll blocks until an event arrives on one of the
// streams.
//
// Events that are already pending are returned in the
// order the streams are listed.
func (h *Handle) Poll(streams ...*EventStream) *Event {
	ch := make(chan *Event, 1)
	h.modifyHandles(func() {
		if h.pollStreams != nil {
			panic("Handle is shared between Goroutines")
		}
		for _, stream := range streams {
			if len(stream.pending) > 0 {
				msg := stream.pending[0]
				essentials.OrderedDelete(&stream.pending, 0)
				ch <- &Event{Message: msg, Stream: stream}
				return
			}
		}
		h.pollStreams = streams
		h.pollChan = ch
	})
	return <-ch
}

// Schedule arranges for msg to be delivered on stream
// after delay units of virtual time.
func (h *Handle) Schedule(stream *EventStream, msg any, delay float64) *Timer {
	if stream.loop != h.EventLoop {
		panic("EventStream is not associated with the correct EventLoop")
	}
	var timer *Timer
	h.modify(func() {
		timer = &Timer{
			time:  h.time + delay,
			event: &Event{Message: msg, Stream: stream},
		}
		if math.IsInf(timer.time, 0) || math.IsNaN(timer.time) {
			panic(fmt.Sprintf("invalid deadline: %f", timer.time))
		}
		h.timers = append(h.timers, timer)
	})
	return timer
}

// Cancel removes a pending timer.
// Timers that already fired are left alone.
func (h *Handle) Cancel(t *Timer) {
	h.modify(func() {
		for i, timer := range h.timers {
			if timer == t {
				essentials.UnorderedDelete(&h.timers, i)
				return
			}
		}
	})
}

// Sleep blocks for delay units of virtual time.
func (h *Handle) Sleep(delay float64) {
	stream := h.Stream()
	h.Schedule(stream, nil, delay)
	h.Poll(stream)
}

// An EventLoop schedules the events of a simulated
// distributed system on a virtual clock.
//
// Every Goroutine that touches the loop must be started
// with EventLoop.Go().
// Virtual time only moves forward once all of those
// Goroutines are blocked in Poll, so real computation
// takes no virtual time unless it is charged with Sleep.
type EventLoop struct {
	lock    sync.Mutex
	timers  []*Timer
	handles []*Handle
	rng     *rand.Rand

	time float64

	running  bool
	notifyCh chan struct{}
}

// NewEventLoop creates an event loop whose clock starts
// at 0.
//
// Simultaneous events are ordered randomly using the
// global random source.
func NewEventLoop() *EventLoop {
	return &EventLoop{notifyCh: make(chan struct{}, 1)}
}

// NewEventLoopSeeded is like NewEventLoop, but ties
// between simultaneous events are broken with a private
// random source, making runs reproducible.
func NewEventLoopSeeded(seed int64) *EventLoop {
	loop := NewEventLoop()
	loop.rng = rand.New(rand.NewSource(seed))
	return loop
}

// Stream creates a new EventStream.
func (e *EventLoop) Stream() *EventStream {
	return &EventStream{loop: e}
}

// Go runs f in a new Goroutine with its own Handle.
func (e *EventLoop) Go(f func(h *Handle)) {
	h := &Handle{EventLoop: e}
	e.lock.Lock()
	e.handles = append(e.handles, h)
	e.lock.Unlock()
	go func() {
		f(h)
		e.modifyHandles(func() {
			for i, handle := range e.handles {
				if handle == h {
					essentials.UnorderedDelete(&e.handles, i)
					return
				}
			}
			panic("cannot free handle that does not exist")
		})
	}()
}

// Run drives the loop until every Goroutine started with
// Go has returned.
//
// Run must not be called concurrently.
// It returns an error if all remaining Goroutines are
// blocked and no timers are left.
func (e *EventLoop) Run() error {
	e.lock.Lock()
	if e.running {
		e.lock.Unlock()
		panic("EventLoop is already running.")
	}
	e.running = true
	e.lock.Unlock()

	defer func() {
		e.lock.Lock()
		e.running = false
		e.lock.Unlock()
	}()

	// Kick the loop in case every Goroutine already
	// finished before Run was called.
	select {
	case e.notifyCh <- struct{}{}:
	default:
	}

	for range e.notifyCh {
		if shouldContinue, err := e.step(); !shouldContinue {
			return err
		}
	}

	panic("unreachable")
}

// MustRun is like Run, but it panics on deadlock.
func (e *EventLoop) MustRun() {
	if err := e.Run(); err != nil {
		panic(err)
	}
}

// Time gets the current virtual time.
func (e *EventLoop) Time() float64 {
	e.lock.Lock()
	defer e.lock.Unlock()
	return e.time
}

// modify runs f with the loop locked.
//
// f may change timers, but not the polling state of any
// handle; use modifyHandles for that.
func (e *EventLoop) modify(f func()) {
	e.lock.Lock()
	defer e.lock.Unlock()
	f()
}

// modifyHandles is like modify, but it also wakes up the
// loop since scheduling may have changed.
func (e *EventLoop) modifyHandles(f func()) {
	e.lock.Lock()
	defer func() {
		e.lock.Unlock()
		select {
		case e.notifyCh <- struct{}{}:
		default:
		}
	}()
	f()
}

func (e *EventLoop) perm(n int) []int {
	if e.rng != nil {
		return e.rng.Perm(n)
	}
	return rand.Perm(n)
}

// step fires the next timer, if every Goroutine is
// blocked.
//
// The first result is false once the loop is done, in
// which case the second result reports a deadlock.
func (e *EventLoop) step() (bool, error) {
	e.lock.Lock()
	defer e.lock.Unlock()

	if len(e.handles) == 0 {
		return false, nil
	}

	for _, h := range e.handles {
		if len(h.pollStreams) == 0 {
			// Some Goroutine is still running in real time.
			return true, nil
		}
	}

	for len(e.timers) > 0 {
		// Visit timers in random order so equal deadlines
		// fire in a nondeterministic order.
		indices := e.perm(len(e.timers))

		minTimerIdx := indices[0]
		for _, i := range indices[1:] {
			if e.timers[i].time < e.timers[minTimerIdx].time {
				minTimerIdx = i
			}
		}
		timer := e.timers[minTimerIdx]

		essentials.UnorderedDelete(&e.timers, minTimerIdx)
		e.time = math.Max(e.time, timer.time)
		if e.deliver(timer.event) {
			return true, nil
		}
	}

	return false, errors.New("deadlock: all Handles are polling")
}

func (e *EventLoop) deliver(event *Event) bool {
	for _, i := range e.perm(len(e.handles)) {
		h := e.handles[i]
		for _, stream := range h.pollStreams {
			if stream == event.Stream {
				h.pollChan <- event
				h.pollChan = nil
				h.pollStreams = nil
				return true
			}
		}
	}
	event.Stream.pending = append(event.Stream.pending, event.Message)
	return false
}
