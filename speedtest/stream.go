package speedtest

import (
	"sync"

	"github.com/emirpasic/gods/queues/linkedlistqueue"

	"github.com/jmorganca/speedtest/api"
)

// Stream delivers the events of one session in order. The producer never
// blocks: events queue without bound until the consumer receives them. The
// channel returned by Events is closed exactly once, after the terminal
// event has been delivered.
//
// Each stream owns a goroutine that lives until the consumer has received
// the terminal event or called Close. A consumer that stops reading early
// must call Close.
type Stream struct {
	mu     sync.Mutex
	queue  *linkedlistqueue.Queue
	closed bool

	notify   chan struct{}
	detached chan struct{}
	detach   sync.Once

	out chan api.Event
}

func newStream() *Stream {
	s := &Stream{
		queue:    linkedlistqueue.New(),
		notify:   make(chan struct{}, 1),
		detached: make(chan struct{}),
		out:      make(chan api.Event),
	}
	go s.pump()
	return s
}

// Events returns the receive side of the stream.
func (s *Stream) Events() <-chan api.Event {
	return s.out
}

// Close detaches the consumer. Undelivered events are dropped and the
// events channel is closed. It does not cancel the session.
func (s *Stream) Close() {
	s.detach.Do(func() { close(s.detached) })
}

// send queues ev unless the stream has already been closed by a terminal
// event.
func (s *Stream) send(ev api.Event) bool {
	return s.enqueue(ev, false)
}

// finish queues the terminal event and seals the stream in one step, so no
// event can be queued behind it.
func (s *Stream) finish(ev api.Event) bool {
	return s.enqueue(ev, true)
}

func (s *Stream) enqueue(ev api.Event, last bool) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return false
	}

	s.queue.Enqueue(ev)
	s.closed = last

	select {
	case s.notify <- struct{}{}:
	default:
	}

	return true
}

func (s *Stream) pump() {
	defer close(s.out)

	for {
		s.mu.Lock()
		v, ok := s.queue.Dequeue()
		closed := s.closed
		s.mu.Unlock()

		if ok {
			select {
			case s.out <- v.(api.Event):
			case <-s.detached:
				return
			}
			continue
		}

		if closed {
			return
		}

		select {
		case <-s.notify:
		case <-s.detached:
			return
		}
	}
}
