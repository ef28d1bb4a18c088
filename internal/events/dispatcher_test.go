package events

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/spec-kit/breakdown-service/internal/domain"
)

func TestInMemoryDispatcher_FiltersByType(t *testing.T) {
	d := NewInMemoryDispatcher(zaptest.NewLogger(t))
	ctx := context.Background()

	var all, assigned []EventType
	d.Subscribe(func(_ context.Context, e Event) error {
		all = append(all, e.Type)
		return nil
	})
	d.Subscribe(func(_ context.Context, e Event) error {
		assigned = append(assigned, e.Type)
		return nil
	}, EventTicketAssigned)

	require.NoError(t, d.Publish(ctx, Event{Type: EventTicketCreated, TicketID: "t1"}))
	require.NoError(t, d.Publish(ctx, Event{Type: EventTicketAssigned, TicketID: "t1"}))

	assert.Equal(t, []EventType{EventTicketCreated, EventTicketAssigned}, all)
	assert.Equal(t, []EventType{EventTicketAssigned}, assigned)
}

func TestInMemoryDispatcher_HandlerErrorDoesNotStopOthers(t *testing.T) {
	d := NewInMemoryDispatcher(zaptest.NewLogger(t))
	called := false
	d.Subscribe(func(context.Context, Event) error { return errors.New("boom") })
	d.Subscribe(func(context.Context, Event) error {
		called = true
		return nil
	})

	require.NoError(t, d.Publish(context.Background(), Event{Type: EventUpdateAppended}))
	assert.True(t, called)
}

func TestInMemoryDispatcher_UnsubscribeAndClose(t *testing.T) {
	d := NewInMemoryDispatcher(zaptest.NewLogger(t))
	count := 0
	unsubscribe := d.Subscribe(func(context.Context, Event) error {
		count++
		return nil
	})

	require.NoError(t, d.Publish(context.Background(), Event{Type: EventTicketCreated}))
	unsubscribe()
	unsubscribe()
	require.NoError(t, d.Publish(context.Background(), Event{Type: EventTicketCreated}))
	assert.Equal(t, 1, count)

	require.NoError(t, d.Close())
	assert.ErrorIs(t, d.Publish(context.Background(), Event{Type: EventTicketCreated}), ErrClosed)
	d.Subscribe(func(context.Context, Event) error { return nil })()
}

func TestDecodeEvent_TypedPayload(t *testing.T) {
	original := Event{
		ID:        "e1",
		Type:      EventTicketStatusChanged,
		TicketID:  "t1",
		Actor:     Actor{ID: "m1", Role: domain.RoleManager},
		Timestamp: time.Date(2024, 5, 1, 9, 0, 0, 0, time.UTC),
		Payload: TicketStatusChangedPayload{
			OldStatus: domain.TicketStatusPending,
			NewStatus: domain.TicketStatusApproved,
		},
	}
	data, err := json.Marshal(original)
	require.NoError(t, err)

	decoded, err := decodeEvent(data)
	require.NoError(t, err)
	assert.Equal(t, original, decoded)
}

func setupTestRedis(t *testing.T) *redis.Client {
	client := redis.NewClient(&redis.Options{
		Addr: "localhost:6379",
		DB:   15,
	})

	ctx := context.Background()
	if err := client.Ping(ctx).Err(); err != nil {
		t.Skipf("Redis not available: %v", err)
	}

	t.Cleanup(func() {
		client.Close()
	})
	return client
}

func TestRedisDispatcher_RelaysEvents(t *testing.T) {
	client := setupTestRedis(t)
	channel := "breakdowns:test:" + time.Now().Format("150405.000000")
	d := NewRedisDispatcher(client, channel, zaptest.NewLogger(t))

	var (
		mu       sync.Mutex
		received []Event
	)
	d.Subscribe(func(_ context.Context, e Event) error {
		mu.Lock()
		defer mu.Unlock()
		received = append(received, e)
		return nil
	})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = d.Run(ctx)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})

	// Run confirms the subscription asynchronously; publish until it is live.
	require.Eventually(t, func() bool {
		_ = d.Publish(context.Background(), Event{
			Type:     EventTicketAssigned,
			TicketID: "t1",
			Payload:  TicketAssignedPayload{TechnicianID: "tech", TechnicianName: "Tess"},
		})
		mu.Lock()
		defer mu.Unlock()
		return len(received) > 0
	}, 5*time.Second, 50*time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, EventTicketAssigned, received[0].Type)
	assert.Equal(t, TicketAssignedPayload{TechnicianID: "tech", TechnicianName: "Tess"}, received[0].Payload)
}
