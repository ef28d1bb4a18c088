package events

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// ErrClosed is returned by Publish after the dispatcher has been closed.
var ErrClosed = errors.New("dispatcher closed")

// EventHandler handles a published event.
type EventHandler func(context.Context, Event) error

// Dispatcher interface allows event publication/subscription.
type Dispatcher interface {
	Publish(ctx context.Context, event Event) error
	// Subscribe registers handler for the given types, or for every type when none are given.
	// The returned function removes the handler and is safe to call more than once.
	Subscribe(handler EventHandler, types ...EventType) (unsubscribe func())
	Close() error
}

type listener struct {
	id      uint64
	types   map[EventType]struct{}
	handler EventHandler
}

func (l *listener) wants(t EventType) bool {
	if len(l.types) == 0 {
		return true
	}
	_, ok := l.types[t]
	return ok
}

// inMemoryDispatcher is a simple synchronous dispatcher.
type inMemoryDispatcher struct {
	mu        sync.RWMutex
	logger    *zap.Logger
	nextID    uint64
	listeners map[uint64]*listener
	closed    bool
}

// NewInMemoryDispatcher creates a dispatcher instance.
func NewInMemoryDispatcher(logger *zap.Logger) Dispatcher {
	return newInMemoryDispatcher(logger)
}

func newInMemoryDispatcher(logger *zap.Logger) *inMemoryDispatcher {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &inMemoryDispatcher{
		logger:    logger,
		listeners: make(map[uint64]*listener),
	}
}

// Publish synchronously invokes handlers for the given event.
func (d *inMemoryDispatcher) Publish(ctx context.Context, event Event) error {
	stamp(&event)
	return d.deliver(ctx, event)
}

func (d *inMemoryDispatcher) deliver(ctx context.Context, event Event) error {
	d.mu.RLock()
	if d.closed {
		d.mu.RUnlock()
		return ErrClosed
	}
	handlers := make([]EventHandler, 0, len(d.listeners))
	for _, l := range d.listeners {
		if l.wants(event.Type) {
			handlers = append(handlers, l.handler)
		}
	}
	d.mu.RUnlock()

	for _, handler := range handlers {
		if err := handler(ctx, event); err != nil {
			// continue processing other handlers despite errors
			d.logger.Warn("event handler failed",
				zap.String("event_type", string(event.Type)),
				zap.String("ticket_id", event.TicketID),
				zap.Error(err))
		}
	}
	return nil
}

// Subscribe registers a handler for the given event types.
func (d *inMemoryDispatcher) Subscribe(handler EventHandler, types ...EventType) func() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return func() {}
	}

	d.nextID++
	l := &listener{id: d.nextID, handler: handler}
	if len(types) > 0 {
		l.types = make(map[EventType]struct{}, len(types))
		for _, t := range types {
			l.types[t] = struct{}{}
		}
	}
	d.listeners[l.id] = l

	var once sync.Once
	return func() {
		once.Do(func() {
			d.mu.Lock()
			delete(d.listeners, l.id)
			d.mu.Unlock()
		})
	}
}

// Close drops every listener; later publishes fail with ErrClosed.
func (d *inMemoryDispatcher) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.closed = true
	d.listeners = make(map[uint64]*listener)
	return nil
}

func stamp(event *Event) {
	if event.ID == "" {
		event.ID = uuid.NewString()
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now().UTC()
	}
}
