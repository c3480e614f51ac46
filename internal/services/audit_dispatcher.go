package services

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/jcalloway/bastion/internal/models"
)

const notifyTimeout = 10 * time.Second

// AuditDispatcher delivers alert notifications off the request path. Enqueue
// never blocks: when the buffer is full the notification is dropped and
// logged, since the alert row itself is already durable.
type AuditDispatcher struct {
	notifier AlertNotifier
	queue    chan *models.SuspiciousActivityAlert
	logger   *slog.Logger

	wg        sync.WaitGroup
	closeOnce sync.Once
}

// NewAuditDispatcher creates a dispatcher and starts its worker goroutine.
func NewAuditDispatcher(notifier AlertNotifier, buffer int, logger *slog.Logger) *AuditDispatcher {
	if buffer <= 0 {
		buffer = 256
	}

	d := &AuditDispatcher{
		notifier: notifier,
		queue:    make(chan *models.SuspiciousActivityAlert, buffer),
		logger:   logger,
	}

	d.wg.Add(1)
	go d.run()

	return d
}

func (d *AuditDispatcher) run() {
	defer d.wg.Done()

	for alert := range d.queue {
		ctx, cancel := context.WithTimeout(context.Background(), notifyTimeout)
		if err := d.notifier.Notify(ctx, alert); err != nil {
			d.logger.Error("failed to deliver alert notification",
				slog.String("alert_id", alert.ID.String()),
				slog.Any("error", err))
		}
		cancel()
	}
}

// Enqueue hands an alert to the worker without blocking the caller.
func (d *AuditDispatcher) Enqueue(alert *models.SuspiciousActivityAlert) {
	select {
	case d.queue <- alert:
	default:
		d.logger.Warn("alert notification queue full, dropping notification",
			slog.String("alert_id", alert.ID.String()))
	}
}

// Close stops accepting alerts and waits for queued notifications to drain.
func (d *AuditDispatcher) Close() {
	d.closeOnce.Do(func() {
		close(d.queue)
	})
	d.wg.Wait()
}
