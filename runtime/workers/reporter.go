package workers

import (
	"chat-broadcast/contract"
	"context"
	"log/slog"
	"time"
)

// ReporterWorker periodically logs a snapshot of the log and the registry.
type ReporterWorker struct {
	log        *slog.Logger
	messageLog contract.IMessageLog
	registry   contract.IRegistry
	interval   time.Duration
}

func NewReporterWorker(log *slog.Logger, messageLog contract.IMessageLog,
	registry contract.IRegistry, interval time.Duration) *ReporterWorker {
	return &ReporterWorker{log: log, messageLog: messageLog, registry: registry, interval: interval}
}

// Run reports until context cancellation, with a last report on the way out.
func (w *ReporterWorker) Run(ctx context.Context) error {
	startTime := time.Now()
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			w.report(startTime)
			return nil
		case <-ticker.C:
			w.report(startTime)
		}
	}
}

func (w *ReporterWorker) report(startTime time.Time) {
	lastSeq := w.messageLog.LastSeq()
	floor := w.messageLog.Floor()
	w.log.Info("Broadcast stats",
		"uptime", time.Since(startTime).Round(time.Second).String(),
		"last_seq", lastSeq,
		"floor", floor,
		"retained", lastSeq+1-floor,
		"capacity", w.messageLog.Capacity(),
		"subscribers", len(w.registry.ListActive()))
}
