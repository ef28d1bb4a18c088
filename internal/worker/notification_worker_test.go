package worker

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/spec-kit/breakdown-service/internal/config"
	"github.com/spec-kit/breakdown-service/internal/domain"
	"github.com/spec-kit/breakdown-service/internal/notify"
	"github.com/spec-kit/breakdown-service/internal/observability"
	"github.com/spec-kit/breakdown-service/internal/service"
)

type recordingMailer struct {
	mu   sync.Mutex
	sent []notify.Message
	fail bool
}

func (m *recordingMailer) Send(_ context.Context, msg notify.Message) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.fail {
		return errors.New("smtp down")
	}
	m.sent = append(m.sent, msg)
	return nil
}

func TestNotificationWorker_DeliversQueued(t *testing.T) {
	logger := zaptest.NewLogger(t)
	metrics := observability.NewMetrics()
	notifier := service.NewNotificationService(config.NotificationConfig{QueueSize: 4}, logger, metrics)
	mailer := &recordingMailer{}

	require.NoError(t, notifier.NotifyAssignment(context.Background(), "tess@example.com", domain.AssignmentSummary{
		TicketID:       "b-1",
		TechnicianName: "Tess",
		Priority:       domain.TicketPriorityLow,
	}))
	notifier.Close()

	done := make(chan struct{})
	go func() {
		NewNotificationWorker(notifier.Queue(), mailer, 2, logger, metrics).Run(context.Background())
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("worker did not stop after queue closed")
	}

	require.Len(t, mailer.sent, 1)
	assert.Equal(t, "tess@example.com", mailer.sent[0].To)
	assert.Equal(t, int64(1), metrics.Snapshot().Notifications["sent"])
}

func TestNotificationWorker_FailureIsCounted(t *testing.T) {
	logger := zaptest.NewLogger(t)
	metrics := observability.NewMetrics()
	notifier := service.NewNotificationService(config.NotificationConfig{QueueSize: 1}, logger, metrics)

	require.NoError(t, notifier.NotifyAssignment(context.Background(), "tess@example.com", domain.AssignmentSummary{TicketID: "b-1"}))
	notifier.Close()

	NewNotificationWorker(notifier.Queue(), &recordingMailer{fail: true}, 1, logger, metrics).Run(context.Background())
	assert.Equal(t, int64(1), metrics.Snapshot().Notifications["failed"])
}

func TestNotificationWorker_StopsOnCancel(t *testing.T) {
	logger := zaptest.NewLogger(t)
	notifier := service.NewNotificationService(config.NotificationConfig{QueueSize: 1}, logger, nil)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	NewNotificationWorker(notifier.Queue(), &recordingMailer{}, 3, logger, nil).Run(ctx)
}
