package dispatcher

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/garyjia/docflow/internal/domain/event"
)

// ErrClosed is returned when publishing on a closed bus
var ErrClosed = errors.New("event bus is closed")

// Dispatcher is the in-process bus carrying document events from the engine
// to its subscribers.
type Dispatcher interface {
	// Subscribe registers handler for eventType, or AllEvents
	Subscribe(eventType event.Type, handler Handler)

	// SubscribeNamed is Subscribe with a name used in logs
	SubscribeNamed(eventType event.Type, name string, handler Handler)

	// Dispatch runs the handlers in subscription order and stops at the
	// first failure
	Dispatch(ctx context.Context, evt *event.Event) error

	// DispatchAsync runs every handler on its own goroutine. Handlers see a
	// context detached from the caller's cancellation.
	DispatchAsync(ctx context.Context, evt *event.Event)

	// Close refuses further events and waits for running handlers
	Close() error
}

// Logger interface for minimal logging dependency
type Logger interface {
	Info(msg string, keysAndValues ...interface{})
	Error(msg string, keysAndValues ...interface{})
}

type subscription struct {
	name    string
	handler Handler
}

type bus struct {
	mu     sync.RWMutex
	subs   map[event.Type][]subscription
	logger Logger

	// timeout bounds one asynchronous handler run, zero means none
	timeout time.Duration

	// lifecycle orders inflight.Add against the closed flag so Close never
	// waits while a new handler is being admitted
	lifecycle sync.RWMutex
	closed    bool
	inflight  sync.WaitGroup
}

// Option configures the bus
type Option func(*bus)

// WithLogger sets a logger for the bus
func WithLogger(logger Logger) Option {
	return func(b *bus) {
		b.logger = logger
	}
}

// WithHandlerTimeout bounds each asynchronous handler run
func WithHandlerTimeout(timeout time.Duration) Option {
	return func(b *bus) {
		b.timeout = timeout
	}
}

// NewDispatcher creates an empty event bus
func NewDispatcher(opts ...Option) Dispatcher {
	b := &bus{subs: make(map[event.Type][]subscription)}
	for _, opt := range opts {
		opt(b)
	}
	if b.logger == nil {
		b.logger = nopLogger{}
	}
	return b
}

func (b *bus) Subscribe(eventType event.Type, handler Handler) {
	b.mu.Lock()
	name := fmt.Sprintf("%s#%d", eventType, len(b.subs[eventType]))
	b.subs[eventType] = append(b.subs[eventType], subscription{name: name, handler: handler})
	b.mu.Unlock()

	b.logger.Info("Handler registered", "event_type", eventType, "handler_name", name)
}

func (b *bus) SubscribeNamed(eventType event.Type, name string, handler Handler) {
	b.mu.Lock()
	b.subs[eventType] = append(b.subs[eventType], subscription{name: name, handler: handler})
	b.mu.Unlock()

	b.logger.Info("Handler registered", "event_type", eventType, "handler_name", name)
}

func (b *bus) Dispatch(ctx context.Context, evt *event.Event) error {
	if b.isClosed() {
		return ErrClosed
	}

	for _, sub := range b.matching(evt.Type) {
		if err := b.run(ctx, evt, sub); err != nil {
			b.logger.Error("Handler error",
				"event_type", evt.Type,
				"event_id", evt.ID,
				"handler_name", sub.name,
				"error", err,
			)
			return fmt.Errorf("handler %s: %w", sub.name, err)
		}
	}
	return nil
}

func (b *bus) DispatchAsync(ctx context.Context, evt *event.Event) {
	b.lifecycle.RLock()
	if b.closed {
		b.lifecycle.RUnlock()
		b.logger.Error("Event dropped, bus is closed", "event_type", evt.Type, "event_id", evt.ID)
		return
	}
	subs := b.matching(evt.Type)
	b.inflight.Add(len(subs))
	b.lifecycle.RUnlock()

	detached := context.WithoutCancel(ctx)
	for _, sub := range subs {
		go func(sub subscription) {
			defer b.inflight.Done()

			hctx := detached
			if b.timeout > 0 {
				var cancel context.CancelFunc
				hctx, cancel = context.WithTimeout(detached, b.timeout)
				defer cancel()
			}

			if err := b.run(hctx, evt, sub); err != nil {
				b.logger.Error("Async handler error",
					"event_type", evt.Type,
					"event_id", evt.ID,
					"handler_name", sub.name,
					"error", err,
				)
			}
		}(sub)
	}
}

func (b *bus) Close() error {
	b.lifecycle.Lock()
	if b.closed {
		b.lifecycle.Unlock()
		return ErrClosed
	}
	b.closed = true
	b.lifecycle.Unlock()

	b.logger.Info("Closing event bus, waiting for handlers")
	b.inflight.Wait()
	return nil
}

func (b *bus) isClosed() bool {
	b.lifecycle.RLock()
	defer b.lifecycle.RUnlock()
	return b.closed
}

// matching returns the handlers for eventType followed by the wildcard ones
func (b *bus) matching(eventType event.Type) []subscription {
	b.mu.RLock()
	defer b.mu.RUnlock()

	out := append([]subscription{}, b.subs[eventType]...)
	if eventType != AllEvents {
		out = append(out, b.subs[AllEvents]...)
	}
	return out
}

func (b *bus) run(ctx context.Context, evt *event.Event, sub subscription) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("handler panic: %v", r)
			b.logger.Error("Handler panic recovered",
				"event_type", evt.Type,
				"event_id", evt.ID,
				"handler_name", sub.name,
				"panic", r,
			)
		}
	}()
	return sub.handler(ctx, evt)
}

type nopLogger struct{}

func (nopLogger) Info(string, ...interface{})  {}
func (nopLogger) Error(string, ...interface{}) {}
