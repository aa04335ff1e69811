package workers

import (
	"chat-broadcast/contract"
	"chat-broadcast/observability"
	"context"
	"log/slog"
	"time"
)

// QueueDepthWorker periodically samples the outbound queue of every
// subscriber. Reading len and cap of a channel is non-blocking, so sampling
// never interferes with delivery.
type QueueDepthWorker struct {
	log            *slog.Logger
	registry       contract.IRegistry
	metrics        *observability.Metrics
	metricInterval time.Duration
}

func NewQueueDepthWorker(log *slog.Logger, registry contract.IRegistry,
	metrics *observability.Metrics, metricInterval time.Duration) *QueueDepthWorker {
	return &QueueDepthWorker{
		log:            log,
		registry:       registry,
		metrics:        metrics,
		metricInterval: metricInterval,
	}
}

func (w QueueDepthWorker) Run(ctx context.Context) error {
	ticker := time.NewTicker(w.metricInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			w.log.Debug("Context done, stopping queue depth sampling")
			return nil
		case <-ticker.C:
			w.Sample()
		}
	}
}

// Sample records one observation per subscriber and returns the deepest queue.
func (w QueueDepthWorker) Sample() int {
	subscribers := w.registry.ListActive()
	deepest := 0
	for _, subscriber := range subscribers {
		length, capacity := subscriber.Len(), subscriber.Cap()
		deepest = max(deepest, length)
		if capacity > 0 {
			w.metrics.QueueFillRatio.Observe(float64(length) / float64(capacity))
		}
	}
	w.metrics.ActiveSubscribers.Set(float64(len(subscribers)))
	w.metrics.MaxQueueDepth.Set(float64(deepest))
	return deepest
}
