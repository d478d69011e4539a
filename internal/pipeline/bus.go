package pipeline

import (
	"context"
	"fmt"

	"swapscope/internal/model"
)

// DefaultBusCapacity bounds the event buffer when no size is configured.
const DefaultBusCapacity = 50

// Bus is a bounded single-subscriber event channel. Publish blocks when
// the buffer is full, which is the pipeline's back-pressure mechanism.
type Bus struct {
	events chan model.Event
}

// NewBus creates a bus with the given buffer capacity.
func NewBus(capacity int) (*Bus, error) {
	if capacity <= 0 {
		return nil, fmt.Errorf("bus capacity must be positive, got %d", capacity)
	}
	return &Bus{events: make(chan model.Event, capacity)}, nil
}

// Publish enqueues an event, blocking while the buffer is full.
func (b *Bus) Publish(ctx context.Context, event model.Event) error {
	select {
	case b.events <- event:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Events returns the consumer side of the bus.
func (b *Bus) Events() <-chan model.Event {
	return b.events
}

// Close ends the stream. Only the producer side may call it.
func (b *Bus) Close() {
	close(b.events)
}
