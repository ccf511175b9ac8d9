package event

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/quickgig/rush/id"
)

// Sink is the publish boundary the engine components depend on. The
// real-time/notification layer sits behind it; publishing is best-effort
// and must never block or abort the state transition that triggered it.
type Sink interface {
	Publish(ctx context.Context, p Payload) error
}

// Bus is a Sink backed by an event Store. External consumers drain it
// with Subscribe/Ack.
type Bus struct {
	store Store
}

// Compile-time interface check.
var _ Sink = (*Bus)(nil)

// NewBus creates an event bus backed by the given store.
func NewBus(store Store) *Bus {
	return &Bus{store: store}
}

// Publish marshals the payload variant and persists it under its wire name.
func (b *Bus) Publish(ctx context.Context, p Payload) error {
	data, err := json.Marshal(p)
	if err != nil {
		return fmt.Errorf("event: marshal %q: %w", p.EventName(), err)
	}

	evt := &Event{
		ID:        id.NewEventID(),
		Name:      p.EventName(),
		Payload:   data,
		CreatedAt: time.Now().UTC(),
	}
	if err := b.store.PublishEvent(ctx, evt); err != nil {
		return fmt.Errorf("event: publish %q: %w", p.EventName(), err)
	}
	return nil
}

// Subscribe waits for an unacked event matching the given name.
// Blocks until available or timeout. Returns nil on timeout.
func (b *Bus) Subscribe(ctx context.Context, name string, timeout time.Duration) (*Event, error) {
	return b.store.SubscribeEvent(ctx, name, timeout)
}

// Ack acknowledges an event, marking it as consumed.
func (b *Bus) Ack(ctx context.Context, eventID id.EventID) error {
	return b.store.AckEvent(ctx, eventID)
}

// Store returns the underlying event store.
func (b *Bus) Store() Store { return b.store }
