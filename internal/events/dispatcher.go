package events

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// EventHandler handles a published event.
type EventHandler func(context.Context, Event) error

// Dispatcher interface allows event publication/subscription.
type Dispatcher interface {
	Publish(ctx context.Context, event Event)
	Subscribe(eventType EventType, handler EventHandler)
}

// Bus is a synchronous in-process dispatcher. Handlers for a type run in
// subscription order on the publisher's goroutine; a failing or panicking
// handler is logged and skipped. Delivery is best-effort and non-durable.
type Bus struct {
	mu        sync.RWMutex
	listeners map[EventType][]EventHandler
	logger    *zap.Logger
	failures  atomic.Int64
	dropped   atomic.Int64
}

// NewBus creates a bus instance.
func NewBus(logger *zap.Logger) *Bus {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Bus{
		listeners: make(map[EventType][]EventHandler),
		logger:    logger.Named("events"),
	}
}

// Publish invokes every handler subscribed to event.Type. It never fails.
func (b *Bus) Publish(ctx context.Context, event Event) {
	if event.ID == "" {
		event.ID = uuid.NewString()
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now().UTC()
	}

	b.mu.RLock()
	handlers := append([]EventHandler{}, b.listeners[event.Type]...)
	b.mu.RUnlock()

	if len(handlers) == 0 {
		b.dropped.Add(1)
		return
	}

	for i, handler := range handlers {
		if err := b.deliver(ctx, handler, event); err != nil {
			b.failures.Add(1)
			b.logger.Error("event handler failed",
				zap.String("event_type", string(event.Type)),
				zap.String("event_id", event.ID),
				zap.Int("handler_index", i),
				zap.Error(err))
		}
	}
}

func (b *Bus) deliver(ctx context.Context, handler EventHandler, event Event) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("handler panic: %v", r)
		}
	}()
	return handler(ctx, event)
}

// Subscribe registers a handler for the given event type.
func (b *Bus) Subscribe(eventType EventType, handler EventHandler) {
	if handler == nil {
		return
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.listeners[eventType] = append(b.listeners[eventType], handler)
}

// SubscribeAll registers handler for every known event type.
func (b *Bus) SubscribeAll(handler EventHandler) {
	for _, t := range AllEventTypes {
		b.Subscribe(t, handler)
	}
}

// HandlerFailures returns how many handler invocations failed.
func (b *Bus) HandlerFailures() int64 {
	return b.failures.Load()
}

// Dropped returns how many events were published with no subscribers.
func (b *Bus) Dropped() int64 {
	return b.dropped.Load()
}

var (
	defaultMu  sync.Mutex
	defaultBus *Bus
)

// Default returns the process-wide bus, constructing it on first use.
func Default() *Bus {
	defaultMu.Lock()
	defer defaultMu.Unlock()
	if defaultBus == nil {
		defaultBus = NewBus(nil)
	}
	return defaultBus
}

// Configure replaces the process-wide bus with a fresh one using logger.
// It is meant to be called once at startup before subscribers register.
func Configure(logger *zap.Logger) *Bus {
	defaultMu.Lock()
	defer defaultMu.Unlock()
	defaultBus = NewBus(logger)
	return defaultBus
}

// Reset discards the process-wide bus and all its subscriptions.
func Reset() {
	defaultMu.Lock()
	defer defaultMu.Unlock()
	defaultBus = nil
}
