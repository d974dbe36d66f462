// Package session provides connected-player session tracking and room
// presence management for the game core.
package session

import (
	"fmt"
	"sync"
)

// EventSink routes serialized events to a Go channel, bridging the game
// core to whatever transport owns the connection.
type EventSink struct {
	sessionID string
	events    chan []byte
	mu        sync.Mutex
	closed    bool
}

// NewEventSink creates an EventSink for the given session ID.
//
// Precondition: sessionID must be non-empty.
// Postcondition: Returns an EventSink with an open events channel.
func NewEventSink(sessionID string, bufferSize int) *EventSink {
	if bufferSize <= 0 {
		bufferSize = 64
	}
	return &EventSink{
		sessionID: sessionID,
		events:    make(chan []byte, bufferSize),
	}
}

// SessionID returns the owning session's identifier.
func (s *EventSink) SessionID() string {
	return s.sessionID
}

// Push enqueues data for delivery.
//
// Postcondition: Data is enqueued to the events channel, or an error if the
// sink is closed or its buffer is full. Push never blocks.
func (s *EventSink) Push(data []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return fmt.Errorf("sink %s is closed", s.sessionID)
	}
	select {
	case s.events <- data:
		return nil
	default:
		return fmt.Errorf("sink %s event buffer full", s.sessionID)
	}
}

// Events returns the read-only events channel. The transport goroutine
// reads from this channel to send messages down the connection.
func (s *EventSink) Events() <-chan []byte {
	return s.events
}

// Close marks the sink as closed and closes the events channel.
// Safe to call more than once.
//
// Postcondition: Further Push calls return an error.
func (s *EventSink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.closed {
		s.closed = true
		close(s.events)
	}
	return nil
}

// IsClosed reports whether the sink has been closed.
func (s *EventSink) IsClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}
