package testutil

import (
	"context"
	"fmt"
	"sync"

	"github.com/roach88/lineage/internal/ir"
)

// DAG builds a labelled event history for one entity and serves it as a
// batched retriever.
//
// Labels keep tests readable: d.Add("e1", "e0") creates an event whose only
// precursor is the event labelled e0. The payload is the label itself, so
// rebuilding the same DAG always yields the same ids.
//
// Thread-safety: all methods are safe for concurrent use.
type DAG struct {
	entity ir.EntityID

	mu      sync.Mutex
	order   []ir.EventID
	events  map[ir.EventID]ir.Event
	labels  map[string]ir.EventID
	names   map[ir.EventID]string
	hidden  map[ir.EventID]bool
	corrupt map[ir.EventID]ir.Event
	failErr error
	calls   int
	fetched int
}

// NewDAG creates an empty history for entity.
func NewDAG(entity ir.EntityID) *DAG {
	return &DAG{
		entity:  entity,
		events:  make(map[ir.EventID]ir.Event),
		labels:  make(map[string]ir.EventID),
		names:   make(map[ir.EventID]string),
		hidden:  make(map[ir.EventID]bool),
		corrupt: make(map[ir.EventID]ir.Event),
	}
}

// Entity returns the entity all events belong to.
func (d *DAG) Entity() ir.EntityID {
	return d.entity
}

// Add creates the event label with the given precursor labels.
// Panics if label is taken or a parent is unknown.
func (d *DAG) Add(label string, parents ...string) ir.Event {
	d.mu.Lock()
	defer d.mu.Unlock()

	if _, ok := d.labels[label]; ok {
		panic(fmt.Sprintf("testutil: duplicate label %q", label))
	}
	ids := make([]ir.EventID, len(parents))
	for i, p := range parents {
		ids[i] = d.mustID(p)
	}
	ev := ir.MustNewEvent(d.entity, []byte(label), ir.NewClock(ids...))
	d.events[ev.ID] = ev
	d.labels[label] = ev.ID
	d.names[ev.ID] = label
	d.order = append(d.order, ev.ID)
	return ev
}

// Chain appends n events in a line below from, labelled prefix1..prefixN.
// Returns the label of the last one, or from when n is 0.
func (d *DAG) Chain(prefix, from string, n int) string {
	last := from
	for i := 1; i <= n; i++ {
		label := fmt.Sprintf("%s%d", prefix, i)
		d.Add(label, last)
		last = label
	}
	return last
}

// ID returns the id of a labelled event.
func (d *DAG) ID(label string) ir.EventID {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.mustID(label)
}

// Event returns a labelled event.
func (d *DAG) Event(label string) ir.Event {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.events[d.mustID(label)]
}

// Clock builds a clock from labels.
func (d *DAG) Clock(labels ...string) ir.Clock {
	d.mu.Lock()
	defer d.mu.Unlock()
	ids := make([]ir.EventID, len(labels))
	for i, l := range labels {
		ids[i] = d.mustID(l)
	}
	return ir.NewClock(ids...)
}

// Label returns the label for id, or its short form if unknown.
func (d *DAG) Label(id ir.EventID) string {
	d.mu.Lock()
	defer d.mu.Unlock()
	if name, ok := d.names[id]; ok {
		return name
	}
	return id.Short()
}

// Labels maps ids to labels, preserving order.
func (d *DAG) Labels(ids []ir.EventID) []string {
	out := make([]string, len(ids))
	for i, id := range ids {
		out[i] = d.Label(id)
	}
	return out
}

// Events returns every event in creation order, hidden ones included.
func (d *DAG) Events() []ir.Event {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make([]ir.Event, len(d.order))
	for i, id := range d.order {
		out[i] = d.events[id]
	}
	return out
}

// Hide makes FetchEvents report label as not found.
func (d *DAG) Hide(label string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.hidden[d.mustID(label)] = true
}

// Corrupt makes FetchEvents return label with a tampered payload.
func (d *DAG) Corrupt(label string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	id := d.mustID(label)
	ev := d.events[id]
	ev.Payload = append([]byte("tampered:"), ev.Payload...)
	d.corrupt[id] = ev
}

// FailWith makes every subsequent fetch return err. nil restores normal
// behaviour.
func (d *DAG) FailWith(err error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.failErr = err
}

// FetchEvents serves events by id and counts the call.
func (d *DAG) FetchEvents(ctx context.Context, ids []ir.EventID) (map[ir.EventID]ir.Event, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	d.calls++
	if d.failErr != nil {
		return nil, d.failErr
	}

	out := make(map[ir.EventID]ir.Event, len(ids))
	for _, id := range ids {
		if d.hidden[id] {
			continue
		}
		if ev, ok := d.corrupt[id]; ok {
			out[id] = ev
			continue
		}
		if ev, ok := d.events[id]; ok {
			out[id] = ev
			d.fetched++
		}
	}
	return out, nil
}

// Calls returns how many FetchEvents calls were made.
func (d *DAG) Calls() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.calls
}

// Fetched returns how many events were served.
func (d *DAG) Fetched() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.fetched
}

// ResetCounts zeroes the call and fetch counters.
func (d *DAG) ResetCounts() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.calls = 0
	d.fetched = 0
}

func (d *DAG) mustID(label string) ir.EventID {
	id, ok := d.labels[label]
	if !ok {
		panic(fmt.Sprintf("testutil: unknown label %q", label))
	}
	return id
}
