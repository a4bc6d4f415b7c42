package transport

import "sync"

// Transport is the per-session handle released when a session ends.
type Transport interface {
	Close() error
}

// Stream is the default Transport: a buffered queue of server-to-client
// messages drained by a long-lived GET stream.
type Stream struct {
	events chan []byte
	done   chan struct{}
	once   sync.Once
}

// DefaultStreamBuffer is the number of messages a Stream queues.
const DefaultStreamBuffer = 64

// NewStream returns an open Stream with the given buffer size.
func NewStream(buffer int) *Stream {
	if buffer <= 0 {
		buffer = DefaultStreamBuffer
	}
	return &Stream{
		events: make(chan []byte, buffer),
		done:   make(chan struct{}),
	}
}

// Send queues msg. It reports false when the stream is closed or full;
// messages are dropped rather than blocking the sender.
func (s *Stream) Send(msg []byte) bool {
	select {
	case <-s.done:
		return false
	default:
	}
	select {
	case s.events <- msg:
		return true
	default:
		return false
	}
}

// Events returns the message queue.
func (s *Stream) Events() <-chan []byte { return s.events }

// Done is closed when the stream is closed.
func (s *Stream) Done() <-chan struct{} { return s.done }

// Close ends the stream. It is safe to call more than once.
func (s *Stream) Close() error {
	s.once.Do(func() { close(s.done) })
	return nil
}
