package runtime

import (
	"chat-broadcast/contract"
	"chat-broadcast/domain"
	"chat-broadcast/errors"
	"sync"
)

// Registry is the single authority on who is currently listening.
// Handles are closed outside the lock: closing only touches the
// subscriber's own mutex.
type Registry struct {
	mu            sync.RWMutex
	subscribers   map[string]*Subscriber
	queueCapacity int
}

func NewRegistry(queueCapacity int) *Registry {
	return &Registry{
		subscribers:   make(map[string]*Subscriber),
		queueCapacity: queueCapacity,
	}
}

// Register installs a subscriber starting after startSeq.
// Registering an id again replaces the previous handle, which is closed
// with errors.ErrSubscriberReplaced.
func (r *Registry) Register(subscriberID string, startSeq domain.Seq) contract.ISubscriber {
	subscriber := NewSubscriber(subscriberID, startSeq, r.queueCapacity)

	r.mu.Lock()
	previous, replaced := r.subscribers[subscriberID]
	r.subscribers[subscriberID] = subscriber
	r.mu.Unlock()

	if replaced {
		previous.Close(errors.ErrSubscriberReplaced)
	}
	return subscriber
}

// Unregister removes a subscriber and ends its stream without a reason.
// Unknown ids are ignored, so calling it twice is harmless.
func (r *Registry) Unregister(subscriberID string) {
	r.mu.Lock()
	subscriber, ok := r.subscribers[subscriberID]
	delete(r.subscribers, subscriberID)
	r.mu.Unlock()

	if ok {
		subscriber.Close(nil)
	}
}

// Evict removes subscriber only if it is still the registered handle for
// its id, then closes it with reason. It reports whether the registry
// entry was removed.
func (r *Registry) Evict(subscriber contract.ISubscriber, reason error) bool {
	r.mu.Lock()
	current, ok := r.subscribers[subscriber.ID()]
	removed := ok && contract.ISubscriber(current) == subscriber
	if removed {
		delete(r.subscribers, subscriber.ID())
	}
	r.mu.Unlock()

	subscriber.Close(reason)
	return removed
}

// ListActive returns a snapshot of the registered subscribers.
func (r *Registry) ListActive() []contract.ISubscriber {
	r.mu.RLock()
	defer r.mu.RUnlock()
	res := make([]contract.ISubscriber, 0, len(r.subscribers))
	for _, subscriber := range r.subscribers {
		res = append(res, subscriber)
	}
	return res
}

func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.subscribers)
}
