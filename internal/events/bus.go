package events

import (
	"context"
	"log/slog"
	"sync"

	"qms/token-service/internal/metrics"
)

type Sink interface {
	Name() string
	Handle(ctx context.Context, event Event) error
}

// Bus fans events out to sinks from a single goroutine, so every sink sees
// events in publish order. Publish never blocks; a full buffer drops the event.
type Bus struct {
	mu      sync.Mutex
	closed  bool
	ch      chan Event
	done    chan struct{}
	sinks   []Sink
	logger  *slog.Logger
	metrics metrics.Recorder
}

func NewBus(buffer int, logger *slog.Logger, recorder metrics.Recorder, sinks ...Sink) *Bus {
	if buffer <= 0 {
		buffer = 256
	}
	if logger == nil {
		logger = slog.Default()
	}
	if recorder == nil {
		recorder = metrics.NewNop()
	}
	return &Bus{
		ch:      make(chan Event, buffer),
		done:    make(chan struct{}),
		sinks:   sinks,
		logger:  logger,
		metrics: recorder,
	}
}

func (b *Bus) Publish(event Event) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		b.metrics.ObserveEventDropped("bus")
		return
	}
	select {
	case b.ch <- event:
	default:
		b.metrics.ObserveEventDropped("bus")
		b.logger.Warn("event bus full, dropping event", "type", event.Type, "token_id", event.Token.TokenID)
	}
}

// Run delivers events until Close is called and the buffer is drained.
func (b *Bus) Run(ctx context.Context) {
	defer close(b.done)
	for event := range b.ch {
		for _, sink := range b.sinks {
			if err := sink.Handle(ctx, event); err != nil {
				b.metrics.ObserveEventDropped(sink.Name())
				b.logger.Warn("event sink error", "sink", sink.Name(), "type", event.Type, "token_id", event.Token.TokenID, "error", err)
			}
		}
	}
}

// Close stops accepting events and waits for Run to drain, or for ctx.
func (b *Bus) Close(ctx context.Context) error {
	b.mu.Lock()
	if !b.closed {
		b.closed = true
		close(b.ch)
	}
	b.mu.Unlock()
	select {
	case <-b.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
