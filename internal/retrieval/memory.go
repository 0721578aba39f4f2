package retrieval

import (
	"context"
	"sync"

	"github.com/roach88/lineage/internal/ir"
)

// Memory is an in-memory event store.
//
// Thread-safety: all methods are safe for concurrent use.
type Memory struct {
	mu     sync.RWMutex
	events map[ir.EventID]ir.Event
}

// NewMemory creates a store holding events.
func NewMemory(events ...ir.Event) *Memory {
	m := &Memory{events: make(map[ir.EventID]ir.Event, len(events))}
	m.Put(events...)
	return m
}

// Put adds events. Existing ids are left untouched.
func (m *Memory) Put(events ...ir.Event) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, ev := range events {
		if _, ok := m.events[ev.ID]; !ok {
			m.events[ev.ID] = ev
		}
	}
}

// Has reports whether id is stored.
func (m *Memory) Has(id ir.EventID) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.events[id]
	return ok
}

// Len returns the number of stored events.
func (m *Memory) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.events)
}

// FetchEvents implements causal.Retriever.
func (m *Memory) FetchEvents(ctx context.Context, ids []ir.EventID) (map[ir.EventID]ir.Event, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make(map[ir.EventID]ir.Event, len(ids))
	for _, id := range ids {
		if ev, ok := m.events[id]; ok {
			out[id] = ev
		}
	}
	return out, nil
}
