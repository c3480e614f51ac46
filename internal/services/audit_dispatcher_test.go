package services

import (
	"context"
	"log/slog"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"

	"github.com/jcalloway/bastion/internal/models"
)

type captureNotifier struct {
	mu     sync.Mutex
	alerts []*models.SuspiciousActivityAlert
	block  chan struct{}
}

func (n *captureNotifier) Notify(ctx context.Context, alert *models.SuspiciousActivityAlert) error {
	if n.block != nil {
		<-n.block
	}
	n.mu.Lock()
	defer n.mu.Unlock()
	n.alerts = append(n.alerts, alert)
	return nil
}

func (n *captureNotifier) delivered() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.alerts)
}

func TestAuditDispatcher_DeliversQueuedAlerts(t *testing.T) {
	notifier := &captureNotifier{}
	dispatcher := NewAuditDispatcher(notifier, 8, slog.Default())

	for i := 0; i < 5; i++ {
		dispatcher.Enqueue(&models.SuspiciousActivityAlert{ID: uuid.New(), Severity: models.AlertSeverityCritical})
	}

	// Close drains the queue before returning
	dispatcher.Close()
	assert.Equal(t, 5, notifier.delivered())
}

func TestAuditDispatcher_EnqueueNeverBlocks(t *testing.T) {
	notifier := &captureNotifier{block: make(chan struct{})}
	dispatcher := NewAuditDispatcher(notifier, 1, slog.Default())

	// Worker is parked on the first alert; the buffer holds one more and the
	// rest must be dropped without blocking this goroutine.
	for i := 0; i < 10; i++ {
		dispatcher.Enqueue(&models.SuspiciousActivityAlert{ID: uuid.New()})
	}

	close(notifier.block)
	dispatcher.Close()
	assert.LessOrEqual(t, notifier.delivered(), 2)
}

func TestAuditDispatcher_CloseIsIdempotent(t *testing.T) {
	dispatcher := NewAuditDispatcher(NoopAlertNotifier{}, 4, slog.Default())

	assert.NotPanics(t, func() {
		dispatcher.Close()
		dispatcher.Close()
	})
}
