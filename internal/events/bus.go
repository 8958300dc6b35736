// internal/events/bus.go
package events

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

const (
	// allEvents is the pseudo-type used by SubscribeAll.
	allEvents EventType = "*"

	defaultCloseTimeout = 5 * time.Second
)

var (
	ErrBusClosed  = errors.New("event bus is shutting down")
	ErrBusFull    = errors.New("event channel full")
	ErrNilEvent   = errors.New("nil event")
	errHandlerPan = errors.New("handler panic")
)

// Bus is an in-memory, best-effort notification bus. Publish never blocks:
// when the buffer is full the event is dropped. Events are dispatched in
// publish order by a single goroutine.
type Bus struct {
	mu         sync.RWMutex
	handlers   map[EventType]map[string]Handler
	logger     *zap.Logger
	ctx        context.Context
	cancel     context.CancelFunc
	wg         sync.WaitGroup
	eventChan  chan Event
	bufferSize int

	statsMu   sync.Mutex
	published uint64
	dropped   uint64
}

// NewBus creates a new event bus.
func NewBus(logger *zap.Logger, bufferSize int) *Bus {
	if bufferSize <= 0 {
		bufferSize = 1
	}
	ctx, cancel := context.WithCancel(context.Background())
	bus := &Bus{
		handlers:   make(map[EventType]map[string]Handler),
		logger:     logger.Named("event_bus"),
		ctx:        ctx,
		cancel:     cancel,
		eventChan:  make(chan Event, bufferSize),
		bufferSize: bufferSize,
	}

	bus.wg.Add(1)
	go bus.processEvents()

	return bus
}

// Subscribe registers a handler for a specific event type.
func (b *Bus) Subscribe(eventType EventType, handler Handler) Subscription {
	b.mu.Lock()
	defer b.mu.Unlock()

	id := uuid.New().String()

	if b.handlers[eventType] == nil {
		b.handlers[eventType] = make(map[string]Handler)
	}
	b.handlers[eventType][id] = handler

	b.logger.Debug("Handler subscribed",
		zap.String("event_type", string(eventType)),
		zap.String("subscription_id", id))

	return &subscription{
		id:       id,
		eventBus: b,
		typ:      eventType,
	}
}

// SubscribeFunc is a convenience method for subscribing with a function.
func (b *Bus) SubscribeFunc(eventType EventType, fn func(context.Context, Event) error) Subscription {
	return b.Subscribe(eventType, HandlerFunc(fn))
}

// SubscribeAll registers a handler that receives every event type.
func (b *Bus) SubscribeAll(handler Handler) Subscription {
	return b.Subscribe(allEvents, handler)
}

// Publish queues an event for asynchronous delivery.
func (b *Bus) Publish(event Event) error {
	if event == nil {
		return ErrNilEvent
	}
	select {
	case <-b.ctx.Done():
		return ErrBusClosed
	default:
	}

	select {
	case b.eventChan <- event:
		b.count(false)
		return nil
	default:
		b.count(true)
		b.logger.Warn("Event channel full, dropping event",
			zap.String("event_type", string(event.Type())))
		return ErrBusFull
	}
}

// PublishSync delivers an event to all matching handlers on the caller's goroutine.
func (b *Bus) PublishSync(ctx context.Context, event Event) error {
	if event == nil {
		return ErrNilEvent
	}

	b.mu.RLock()
	handlersCopy := make(map[string]Handler, len(b.handlers[event.Type()])+len(b.handlers[allEvents]))
	for id, h := range b.handlers[event.Type()] {
		handlersCopy[id] = h
	}
	for id, h := range b.handlers[allEvents] {
		handlersCopy[id] = h
	}
	b.mu.RUnlock()

	if len(handlersCopy) == 0 {
		return nil
	}

	var errs []error
	for id, handler := range handlersCopy {
		if err := b.invoke(ctx, id, handler, event); err != nil {
			b.logger.Error("Handler error",
				zap.String("event_type", string(event.Type())),
				zap.String("handler_id", id),
				zap.Error(err))
			errs = append(errs, err)
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("handlers failed: %w", errors.Join(errs...))
	}
	return nil
}

func (b *Bus) invoke(ctx context.Context, id string, handler Handler, event Event) (err error) {
	defer func() {
		if r := recover(); r != nil {
			b.logger.Error("Event handler panic",
				zap.String("event_type", string(event.Type())),
				zap.String("handler_id", id),
				zap.Any("panic", r))
			err = errHandlerPan
		}
	}()
	return handler.Handle(ctx, event)
}

// processEvents is the main event processing loop.
func (b *Bus) processEvents() {
	defer b.wg.Done()

	for {
		select {
		case <-b.ctx.Done():
			// Drain what was accepted before shutdown.
			for {
				select {
				case event := <-b.eventChan:
					_ = b.PublishSync(context.Background(), event)
				default:
					return
				}
			}
		case event := <-b.eventChan:
			_ = b.PublishSync(b.ctx, event)
		}
	}
}

// unsubscribe removes a handler subscription.
func (b *Bus) unsubscribe(id string, eventType EventType) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if handlers, ok := b.handlers[eventType]; ok {
		delete(handlers, id)
		if len(handlers) == 0 {
			delete(b.handlers, eventType)
		}
	}

	b.logger.Debug("Handler unsubscribed",
		zap.String("event_type", string(eventType)),
		zap.String("subscription_id", id))
}

func (b *Bus) count(dropped bool) {
	b.statsMu.Lock()
	defer b.statsMu.Unlock()
	if dropped {
		b.dropped++
		return
	}
	b.published++
}

// Shutdown stops accepting events and waits for queued ones to be delivered.
func (b *Bus) Shutdown(ctx context.Context) error {
	b.logger.Info("Shutting down event bus")
	b.cancel()

	done := make(chan struct{})
	go func() {
		b.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		b.logger.Info("Event bus shutdown complete")
		return nil
	case <-ctx.Done():
		b.logger.Warn("Event bus shutdown timeout")
		return ctx.Err()
	}
}

// Close implements io.Closer for the shutdown handler.
func (b *Bus) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), defaultCloseTimeout)
	defer cancel()
	return b.Shutdown(ctx)
}

// Stats returns statistics about the event bus.
func (b *Bus) Stats() map[string]interface{} {
	b.mu.RLock()
	handlerCounts := make(map[string]int, len(b.handlers))
	for eventType, handlers := range b.handlers {
		handlerCounts[string(eventType)] = len(handlers)
	}
	b.mu.RUnlock()

	b.statsMu.Lock()
	published, dropped := b.published, b.dropped
	b.statsMu.Unlock()

	return map[string]interface{}{
		"buffer_size":       b.bufferSize,
		"pending_events":    len(b.eventChan),
		"event_types":       len(handlerCounts),
		"handlers_per_type": handlerCounts,
		"published":         published,
		"dropped":           dropped,
	}
}
