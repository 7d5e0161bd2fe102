package bus

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/ppiankov/swarmgate/internal/model"
)

// DefaultBuffer is the per-subscriber channel depth for the in-memory bus.
const DefaultBuffer = 1024

// Memory is the in-process Bus. Publish never blocks on a slow subscriber:
// a full buffer counts a drop against that subscriber instead of stalling
// the publisher, so the kill broadcast path stays bounded.
type Memory struct {
	mu     sync.RWMutex
	subs   map[int]*memSub
	nextID int
	buffer int
	closed bool

	// disabled simulates a dead transport for fault-injection tests.
	disabled atomic.Bool
}

type memSub struct {
	ch      chan model.Signal
	types   map[model.SignalType]bool // nil means all
	dropped atomic.Uint64
}

// NewMemory creates an in-memory bus with the default buffer depth.
func NewMemory() *Memory {
	return NewMemoryBuffered(DefaultBuffer)
}

// NewMemoryBuffered creates an in-memory bus with the given per-subscriber
// buffer depth.
func NewMemoryBuffered(buffer int) *Memory {
	if buffer <= 0 {
		buffer = DefaultBuffer
	}
	return &Memory{
		subs:   make(map[int]*memSub),
		buffer: buffer,
	}
}

// SetDisabled toggles a simulated transport outage. While disabled, Publish
// returns ErrSignalDeliveryGap and delivers nothing.
func (m *Memory) SetDisabled(v bool) {
	m.disabled.Store(v)
}

// Publish fans the signal out to every matching subscriber.
func (m *Memory) Publish(ctx context.Context, sig model.Signal) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if m.disabled.Load() {
		return fmt.Errorf("bus: transport disabled: %w", model.ErrSignalDeliveryGap)
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.closed {
		return fmt.Errorf("bus: closed")
	}

	var gaps int
	for _, sub := range m.subs {
		if sub.types != nil && !sub.types[sig.Type] {
			continue
		}
		select {
		case sub.ch <- sig:
		default:
			sub.dropped.Add(1)
			gaps++
		}
	}

	if gaps > 0 {
		return fmt.Errorf("bus: %d subscriber(s) overflowed: %w", gaps, model.ErrSignalDeliveryGap)
	}
	return nil
}

// Subscribe registers a new subscriber for the given types.
func (m *Memory) Subscribe(types ...model.SignalType) *Subscription {
	sub := &memSub{ch: make(chan model.Signal, m.buffer)}
	if len(types) > 0 {
		sub.types = make(map[model.SignalType]bool, len(types))
		for _, t := range types {
			sub.types[t] = true
		}
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		close(sub.ch)
		return &Subscription{C: sub.ch}
	}

	id := m.nextID
	m.nextID++
	m.subs[id] = sub

	return &Subscription{
		C: sub.ch,
		cancel: func() {
			m.mu.Lock()
			defer m.mu.Unlock()
			if s, ok := m.subs[id]; ok {
				delete(m.subs, id)
				close(s.ch)
			}
		},
		dropped: sub.dropped.Load,
	}
}

// Close shuts the bus down and closes all subscriber channels.
func (m *Memory) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return nil
	}
	m.closed = true
	for id, sub := range m.subs {
		delete(m.subs, id)
		close(sub.ch)
	}
	return nil
}
