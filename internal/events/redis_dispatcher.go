package events

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// DefaultChangeChannel is the Redis channel carrying breakdown change events.
const DefaultChangeChannel = "breakdowns:changes"

// RedisDispatcher relays events through Redis Pub/Sub so that every instance
// refreshes its attached views. Delivery to local handlers happens in Run.
type RedisDispatcher struct {
	client  *redis.Client
	channel string
	logger  *zap.Logger
	local   *inMemoryDispatcher
}

// NewRedisDispatcher creates a relay on the given channel.
func NewRedisDispatcher(client *redis.Client, channel string, logger *zap.Logger) *RedisDispatcher {
	if channel == "" {
		channel = DefaultChangeChannel
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RedisDispatcher{
		client:  client,
		channel: channel,
		logger:  logger,
		local:   newInMemoryDispatcher(logger),
	}
}

// Publish sends the event to Redis. If Redis rejects it the event is still
// delivered to this instance's handlers and the error is returned.
func (d *RedisDispatcher) Publish(ctx context.Context, event Event) error {
	stamp(&event)
	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}

	if err := d.client.Publish(ctx, d.channel, data).Err(); err != nil {
		d.logger.Error("failed to publish change event",
			zap.String("event_type", string(event.Type)),
			zap.String("ticket_id", event.TicketID),
			zap.Error(err))
		_ = d.local.deliver(ctx, event)
		return fmt.Errorf("failed to publish event: %w", err)
	}
	return nil
}

// Subscribe registers a local handler.
func (d *RedisDispatcher) Subscribe(handler EventHandler, types ...EventType) func() {
	return d.local.Subscribe(handler, types...)
}

// Close stops local delivery. The Redis client is owned by the caller.
func (d *RedisDispatcher) Close() error {
	return d.local.Close()
}

// Run subscribes to the change channel and dispatches received events until ctx is done.
func (d *RedisDispatcher) Run(ctx context.Context) error {
	pubsub := d.client.Subscribe(ctx, d.channel)
	defer pubsub.Close()

	if _, err := pubsub.Receive(ctx); err != nil {
		return fmt.Errorf("failed to subscribe to channel: %w", err)
	}
	d.logger.Info("subscribed to change events", zap.String("channel", d.channel))

	ch := pubsub.Channel()
	for {
		select {
		case <-ctx.Done():
			d.logger.Info("change event subscriber stopped", zap.Error(ctx.Err()))
			return ctx.Err()
		case msg, ok := <-ch:
			if !ok {
				d.logger.Warn("change event channel closed")
				return nil
			}
			event, err := decodeEvent([]byte(msg.Payload))
			if err != nil {
				d.logger.Warn("failed to unmarshal change event",
					zap.String("payload", msg.Payload),
					zap.Error(err))
				continue
			}
			if err := d.local.deliver(ctx, event); err != nil {
				return nil
			}
		}
	}
}
