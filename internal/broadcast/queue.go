// internal/broadcast/queue.go
package broadcast

import (
	"log/slog"
	"sync"
	"sync/atomic"
)

// Sink receives drained events.
type Sink interface {
	Publish(event string, payload any)
}

// Func adapts a plain function to the Sink shape; tests use it to capture
// events.
type Func func(event string, payload any)

// Publish calls the wrapped function.
func (f Func) Publish(event string, payload any) {
	f(event, payload)
}

// Event pairs an event name with its payload on the queue.
type Event struct {
	Name    string `json:"event"`
	Payload any    `json:"payload"`
}

// Queue decouples state mutation from delivery: Publish enqueues and
// returns immediately, a single drain goroutine forwards to the sink, so
// same-name events keep their emission order. Under backpressure the
// newest event is dropped and counted rather than blocking the publisher.
type Queue struct {
	ch      chan Event
	done    chan struct{}
	wg      sync.WaitGroup
	once    sync.Once
	dropped atomic.Uint64

	sink Sink
	log  *slog.Logger
}

// NewQueue starts a queue draining into sink. size bounds the in-flight
// events.
func NewQueue(sink Sink, size int, log *slog.Logger) *Queue {
	if log == nil {
		log = slog.Default()
	}
	if size <= 0 {
		size = 1024
	}
	q := &Queue{
		ch:   make(chan Event, size),
		done: make(chan struct{}),
		sink: sink,
		log:  log,
	}
	q.wg.Add(1)
	go q.drain()
	return q
}

// Publish enqueues fire-and-forget. A full queue drops the event and warns;
// the caller is never blocked or failed.
func (q *Queue) Publish(event string, payload any) {
	select {
	case <-q.done:
		return
	default:
	}
	select {
	case q.ch <- Event{Name: event, Payload: payload}:
	default:
		n := q.dropped.Add(1)
		q.log.Warn("broadcast queue full, event dropped", "event", event, "totalDropped", n)
	}
}

func (q *Queue) drain() {
	defer q.wg.Done()
	for {
		select {
		case e := <-q.ch:
			q.sink.Publish(e.Name, e.Payload)
		case <-q.done:
			// flush whatever is already queued, then stop
			for {
				select {
				case e := <-q.ch:
					q.sink.Publish(e.Name, e.Payload)
				default:
					return
				}
			}
		}
	}
}

// Depth reports the number of queued, undelivered events.
func (q *Queue) Depth() int {
	return len(q.ch)
}

// Dropped reports how many events were discarded under backpressure.
func (q *Queue) Dropped() uint64 {
	return q.dropped.Load()
}

// Close flushes queued events and stops the drain goroutine.
func (q *Queue) Close() {
	q.once.Do(func() { close(q.done) })
	q.wg.Wait()
}
