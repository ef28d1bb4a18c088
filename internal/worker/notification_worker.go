package worker

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/spec-kit/breakdown-service/internal/notify"
	"github.com/spec-kit/breakdown-service/internal/observability"
	"github.com/spec-kit/breakdown-service/internal/service"
)

const sendTimeout = 30 * time.Second

// NotificationWorker drains queued assignment notifications into the mailer.
type NotificationWorker struct {
	queue   <-chan service.Notification
	mailer  notify.Mailer
	logger  *zap.Logger
	metrics *observability.Metrics
	workers int
}

// NewNotificationWorker creates a worker pool of the given size.
func NewNotificationWorker(queue <-chan service.Notification, mailer notify.Mailer, workers int, logger *zap.Logger, metrics *observability.Metrics) *NotificationWorker {
	if workers <= 0 {
		workers = 1
	}
	return &NotificationWorker{
		queue:   queue,
		mailer:  mailer,
		logger:  logger,
		metrics: metrics,
		workers: workers,
	}
}

// Run blocks until the queue is closed and drained, or ctx is cancelled.
func (w *NotificationWorker) Run(ctx context.Context) {
	var wg sync.WaitGroup
	for i := 0; i < w.workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			w.loop(ctx)
		}()
	}
	wg.Wait()
}

func (w *NotificationWorker) loop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case n, ok := <-w.queue:
			if !ok {
				return
			}
			w.deliver(ctx, n)
		}
	}
}

// deliver never returns an error; failures end here.
func (w *NotificationWorker) deliver(ctx context.Context, n service.Notification) {
	sendCtx, cancel := context.WithTimeout(ctx, sendTimeout)
	defer cancel()

	msg := notify.AssignmentMessage(n.Contact, n.Summary)
	if err := w.mailer.Send(sendCtx, msg); err != nil {
		w.metrics.RecordNotification("failed")
		w.logger.Warn("assignment email failed",
			zap.String("ticket_id", n.Summary.TicketID),
			zap.String("contact", n.Contact),
			zap.Error(err))
		return
	}
	w.metrics.RecordNotification("sent")
	w.logger.Info("assignment email sent",
		zap.String("ticket_id", n.Summary.TicketID),
		zap.Duration("queued_for", time.Since(n.EnqueuedAt)))
}
