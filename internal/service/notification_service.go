package service

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/spec-kit/breakdown-service/internal/config"
	"github.com/spec-kit/breakdown-service/internal/domain"
	"github.com/spec-kit/breakdown-service/internal/observability"
)

var (
	// ErrQueueFull is returned when a notification is dropped for lack of space.
	ErrQueueFull = errors.New("notification queue full")
	// ErrNotifierClosed is returned after Close.
	ErrNotifierClosed = errors.New("notifier closed")
)

// Notifier is the fire-and-forget assignment notification surface.
type Notifier interface {
	NotifyAssignment(ctx context.Context, contact string, summary domain.AssignmentSummary) error
}

// Notification is one queued assignment email.
type Notification struct {
	Contact    string
	Summary    domain.AssignmentSummary
	EnqueuedAt time.Time
}

// NotificationService queues notifications for the worker without ever blocking the caller.
type NotificationService struct {
	mu      sync.RWMutex
	queue   chan Notification
	closed  bool
	logger  *zap.Logger
	metrics *observability.Metrics
}

// NewNotificationService creates the service.
func NewNotificationService(cfg config.NotificationConfig, logger *zap.Logger, metrics *observability.Metrics) *NotificationService {
	size := cfg.QueueSize
	if size <= 0 {
		size = 100
	}
	return &NotificationService{
		queue:   make(chan Notification, size),
		logger:  logger,
		metrics: metrics,
	}
}

// NotifyAssignment enqueues the notification, dropping it when the queue is full.
func (n *NotificationService) NotifyAssignment(_ context.Context, contact string, summary domain.AssignmentSummary) error {
	n.mu.RLock()
	defer n.mu.RUnlock()
	if n.closed {
		return ErrNotifierClosed
	}

	select {
	case n.queue <- Notification{Contact: contact, Summary: summary, EnqueuedAt: time.Now()}:
		n.metrics.RecordNotification("queued")
		return nil
	default:
		n.metrics.RecordNotification("dropped")
		n.logger.Warn("notification dropped",
			zap.String("ticket_id", summary.TicketID),
			zap.String("contact", contact))
		return ErrQueueFull
	}
}

// Queue exposes pending notifications to the worker.
func (n *NotificationService) Queue() <-chan Notification {
	return n.queue
}

// Close stops accepting notifications; the worker drains what is left.
func (n *NotificationService) Close() {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.closed {
		return
	}
	n.closed = true
	close(n.queue)
}

// AssignmentNotificationHook notifies the technician after each committed assignment.
func AssignmentNotificationHook(notifier Notifier, logger *zap.Logger) PostCommitHook {
	return func(ctx context.Context, commit Commit) error {
		if commit.Kind != CommitAssigned {
			return nil
		}
		contact := strings.TrimSpace(commit.Contact)
		if contact == "" {
			logger.Info("assignment notification skipped, no contact",
				zap.String("ticket_id", commit.Ticket.ID))
			return nil
		}
		return notifier.NotifyAssignment(ctx, contact, domain.SummarizeAssignment(&commit.Ticket))
	}
}
