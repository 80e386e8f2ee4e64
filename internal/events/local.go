package events

import (
	"context"
	"errors"
	"log/slog"
	"sync"

	"sitealert/internal/permanent"
)

// ErrBusFull is returned when the local bus buffer cannot take another event.
var ErrBusFull = errors.New("local event bus buffer full")

// ErrBusClosed is returned for publishes after Close.
var ErrBusClosed = errors.New("local event bus closed")

// LocalBus delivers events to in-process handlers on one background goroutine.
// Handlers run in publish order; a failing handler is logged and does not block others.
type LocalBus struct {
	logger *slog.Logger

	mu       sync.RWMutex
	handlers map[Kind][]Handler
	closed   bool

	queue chan Event
	done  chan struct{}
	once  sync.Once
}

// NewLocalBus starts bus worker with bounded buffer.
// Params: buffer size (min 1) and logger.
// Returns: running bus.
func NewLocalBus(buffer int, logger *slog.Logger) *LocalBus {
	if buffer < 1 {
		buffer = 1
	}
	bus := &LocalBus{
		logger:   logger,
		handlers: make(map[Kind][]Handler),
		queue:    make(chan Event, buffer),
		done:     make(chan struct{}),
	}
	go bus.run()
	return bus
}

// Subscribe registers handler for kind.
func (b *LocalBus) Subscribe(kind Kind, handler Handler) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.handlers[kind] = append(b.handlers[kind], handler)
}

// Publish enqueues event without waiting for handlers.
// Params: context and event.
// Returns: ErrBusFull, ErrBusClosed, or nil.
func (b *LocalBus) Publish(_ context.Context, event Event) error {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return ErrBusClosed
	}
	select {
	case b.queue <- event:
		return nil
	default:
		return ErrBusFull
	}
}

// Close stops accepting events and waits until queued ones are handled.
func (b *LocalBus) Close() error {
	b.once.Do(func() {
		b.mu.Lock()
		b.closed = true
		close(b.queue)
		b.mu.Unlock()
		<-b.done
	})
	return nil
}

func (b *LocalBus) run() {
	defer close(b.done)
	for event := range b.queue {
		b.mu.RLock()
		handlers := append([]Handler(nil), b.handlers[event.Kind]...)
		b.mu.RUnlock()
		for _, handler := range handlers {
			b.dispatch(handler, event)
		}
	}
}

func (b *LocalBus) dispatch(handler Handler, event Event) {
	defer func() {
		if recovered := recover(); recovered != nil && b.logger != nil {
			b.logger.Error("local event handler panicked", "kind", event.Kind, "event_id", event.ID, "panic", recovered)
		}
	}()
	if err := handler(context.Background(), event); err != nil && b.logger != nil {
		b.logger.Warn("local event handler failed",
			"kind", event.Kind,
			"event_id", event.ID,
			"permanent", permanent.Is(err),
			"error", err.Error(),
		)
	}
}
