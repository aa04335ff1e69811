package workers

import (
	"chat-broadcast/contract"
	"chat-broadcast/errors"
	"chat-broadcast/observability"
	"context"
	stderrors "errors"
	"log/slog"
	"time"
)

// Dispatcher pushes new log entries to every registered subscriber.
//
// Delivery is driven by each subscriber's cursor: a round reads the log
// from the cursor and offers the messages in sequence order, so the order
// in which concurrent appends returned never matters. Offers never block,
// a subscriber that cannot keep up is dropped and has to resync from the log.
type Dispatcher struct {
	log        *slog.Logger
	messageLog contract.IMessageLog
	registry   contract.IRegistry
	metrics    *observability.Metrics
	wake       chan struct{}
	interval   time.Duration
	onStatus   func(running bool)
}

func NewDispatcher(log *slog.Logger, messageLog contract.IMessageLog, registry contract.IRegistry,
	metrics *observability.Metrics, interval time.Duration) *Dispatcher {
	return &Dispatcher{
		log:        log,
		messageLog: messageLog,
		registry:   registry,
		metrics:    metrics,
		wake:       make(chan struct{}, 1),
		interval:   interval,
	}
}

// Notify schedules a delivery round. Calls made while a round is pending
// collapse into that round.
func (d *Dispatcher) Notify() {
	select {
	case d.wake <- struct{}{}:
	default:
	}
}

// OnStatusChange registers fn to be told when Run starts and when it
// returns, including by panic. It must be called before Run.
func (d *Dispatcher) OnStatusChange(fn func(running bool)) {
	d.onStatus = fn
}

func (d *Dispatcher) setStatus(running bool) {
	if d.onStatus != nil {
		d.onStatus(running)
	}
}

// Run delivers on every wake-up, and on a periodic tick so that a lost
// wake-up can only delay delivery.
func (d *Dispatcher) Run(ctx context.Context) error {
	d.setStatus(true)
	defer d.setStatus(false)
	ticker := time.NewTicker(d.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			d.log.Debug("Context done, stopping dispatcher")
			return nil
		case <-d.wake:
			d.Dispatch()
		case <-ticker.C:
			d.Dispatch()
		}
	}
}

// Dispatch runs one delivery round and returns the number of messages queued.
// The registry is consulted on every round, never cached.
func (d *Dispatcher) Dispatch() int {
	delivered := 0
	for _, subscriber := range d.registry.ListActive() {
		delivered += d.deliver(subscriber)
	}
	if delivered > 0 {
		d.metrics.MessagesDelivered.Add(float64(delivered))
	}
	return delivered
}

// deliver offers a subscriber everything after its cursor. It reads at
// most one message more than the queue can take, which is enough to detect
// an overflow without copying the whole backlog.
func (d *Dispatcher) deliver(subscriber contract.ISubscriber) int {
	cursor := subscriber.Cursor()
	if cursor >= d.messageLog.LastSeq() {
		return 0
	}
	free := subscriber.Cap() - subscriber.Len()
	messages, err := d.messageLog.Read(cursor, free+1)
	if err != nil {
		d.drop(subscriber, err)
		return 0
	}

	delivered := 0
	for _, message := range messages {
		err := subscriber.Offer(message)
		switch {
		case err == nil:
			delivered++
		case stderrors.Is(err, errors.ErrSubscriberClosed):
			// Left while we were delivering.
			return delivered
		default:
			d.drop(subscriber, err)
			return delivered
		}
	}
	return delivered
}

// drop removes a subscriber from live delivery. The end-of-stream reason is
// always a SubscriberOverflowError, the cause is only logged.
func (d *Dispatcher) drop(subscriber contract.ISubscriber, cause error) {
	lastSeq := d.messageLog.LastSeq()
	cursor := subscriber.Cursor()
	reason := &errors.SubscriberOverflowError{
		SubscriberID: subscriber.ID(),
		Lag:          lastSeq - min(cursor, lastSeq),
	}
	if !d.registry.Evict(subscriber, reason) {
		return
	}
	d.metrics.SubscribersDropped.WithLabelValues(errors.Kind(cause)).Inc()
	d.log.Warn("Subscriber dropped from live delivery",
		"subscriber_id", subscriber.ID(),
		"cursor", cursor,
		"last_seq", lastSeq,
		"kind", errors.Kind(cause),
		"error", cause)
}
