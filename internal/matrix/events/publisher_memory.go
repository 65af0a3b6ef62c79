package events

import (
	"context"
	"sync"
)

// InMemoryPublisher records events; used when no broker is configured and in tests.
type InMemoryPublisher struct {
	mu     sync.RWMutex
	events []PositionPlaced
	err    error
}

func NewInMemory() *InMemoryPublisher {
	return &InMemoryPublisher{}
}

func (p *InMemoryPublisher) Publish(_ context.Context, event PositionPlaced) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.err != nil {
		return p.err
	}
	p.events = append(p.events, event)
	return nil
}

// FailWith makes every later Publish return err; nil restores delivery.
func (p *InMemoryPublisher) FailWith(err error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.err = err
}

// Events returns a copy of the recorded events in publish order.
func (p *InMemoryPublisher) Events() []PositionPlaced {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return append([]PositionPlaced(nil), p.events...)
}
