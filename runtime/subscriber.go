package runtime

import (
	"chat-broadcast/domain"
	"chat-broadcast/errors"
	"sync"
)

// Subscriber is one live consumer of the broadcast. It owns a bounded
// queue that the dispatcher fills and the transport drains.
//
// Offer and Close share a mutex so that once Close returns, no message can
// be pushed anymore and the queue channel is closed exactly once.
type Subscriber struct {
	id     string
	mu     sync.Mutex
	cursor domain.Seq
	events chan domain.Message
	done   chan struct{}
	closed bool
	err    error
}

func NewSubscriber(id string, startSeq domain.Seq, queueCapacity int) *Subscriber {
	return &Subscriber{
		id:     id,
		cursor: startSeq,
		events: make(chan domain.Message, queueCapacity),
		done:   make(chan struct{}),
	}
}

func (s *Subscriber) ID() string { return s.id }

// Cursor is the sequence number of the last message queued for delivery.
func (s *Subscriber) Cursor() domain.Seq {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cursor
}

// Offer queues message without blocking.
// Messages at or below the cursor were already queued and are skipped.
// A message that does not directly follow the cursor would leave a hole
// and is refused with a replay gap.
func (s *Subscriber) Offer(message domain.Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return errors.ErrSubscriberClosed
	}
	if message.Seq <= s.cursor {
		return nil
	}
	if message.Seq != s.cursor+1 {
		return &errors.ReplayGapError{Floor: message.Seq, Requested: s.cursor}
	}
	select {
	case s.events <- message:
		s.cursor = message.Seq
		return nil
	default:
		return errors.ErrSubscriberOverflow
	}
}

// Close ends the stream. reason is nil for a regular leave. Queued messages
// can still be drained from Events before the channel reports closed.
func (s *Subscriber) Close(reason error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.closed = true
	s.err = reason
	close(s.events)
	close(s.done)
}

func (s *Subscriber) Events() <-chan domain.Message { return s.events }

func (s *Subscriber) Done() <-chan struct{} { return s.done }

// Err is the end-of-stream reason, nil while open or after a regular leave.
func (s *Subscriber) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

func (s *Subscriber) Len() int { return len(s.events) }

func (s *Subscriber) Cap() int { return cap(s.events) }
