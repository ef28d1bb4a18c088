package service

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/spec-kit/breakdown-service/internal/config"
	"github.com/spec-kit/breakdown-service/internal/domain"
	"github.com/spec-kit/breakdown-service/internal/observability"
)

func TestNotificationService_DropsWhenFull(t *testing.T) {
	metrics := observability.NewMetrics()
	svc := NewNotificationService(config.NotificationConfig{QueueSize: 1}, zaptest.NewLogger(t), metrics)
	ctx := context.Background()

	require.NoError(t, svc.NotifyAssignment(ctx, "a@example.com", domain.AssignmentSummary{TicketID: "b-1"}))
	assert.ErrorIs(t, svc.NotifyAssignment(ctx, "a@example.com", domain.AssignmentSummary{TicketID: "b-2"}), ErrQueueFull)

	snap := metrics.Snapshot()
	assert.Equal(t, int64(1), snap.Notifications["queued"])
	assert.Equal(t, int64(1), snap.Notifications["dropped"])

	n := <-svc.Queue()
	assert.Equal(t, "b-1", n.Summary.TicketID)
}

func TestNotificationService_Close(t *testing.T) {
	svc := NewNotificationService(config.NotificationConfig{}, zaptest.NewLogger(t), nil)
	svc.Close()
	svc.Close()

	err := svc.NotifyAssignment(context.Background(), "a@example.com", domain.AssignmentSummary{})
	assert.ErrorIs(t, err, ErrNotifierClosed)
	_, ok := <-svc.Queue()
	assert.False(t, ok)
}

func TestAssignmentNotificationHook(t *testing.T) {
	notifier := &recordingNotifier{}
	hook := AssignmentNotificationHook(notifier, zaptest.NewLogger(t))
	ctx := context.Background()
	ticket := domain.Ticket{ID: "b-1", Message: "Leak", AssignedTechnician: &domain.Assignee{ID: "t", Name: "Tess"}}

	require.NoError(t, hook(ctx, Commit{Kind: CommitStatusChanged, Ticket: ticket, Contact: "t@example.com"}))
	require.NoError(t, hook(ctx, Commit{Kind: CommitAssigned, Ticket: ticket, Contact: "  "}))
	assert.Empty(t, notifier.calls)

	require.NoError(t, hook(ctx, Commit{Kind: CommitAssigned, Ticket: ticket, Contact: "t@example.com"}))
	require.Len(t, notifier.calls, 1)
	assert.Equal(t, "Tess", notifier.calls[0].TechnicianName)
}
