package causal

import (
	"context"
	"fmt"

	"github.com/roach88/lineage/internal/ir"
)

// ResolveOrder returns events in the total order every replica computes
// independently: ascending full-history layer, ties broken by ascending
// event id bytes. Duplicate events are collapsed.
//
// All events must belong to one entity. Ancestors not among events are
// loaded through the retriever to compute layers.
func (c *Comparator) ResolveOrder(ctx context.Context, events []ir.Event) ([]ir.Event, error) {
	if len(events) == 0 {
		return []ir.Event{}, nil
	}
	ctx, span := tracer.Start(ctx, "Comparator.ResolveOrder")
	defer span.End()

	entity := events[0].EntityID
	byID := make(map[ir.EventID]ir.Event, len(events))
	ids := make([]ir.EventID, 0, len(events))
	for _, ev := range events {
		if ev.EntityID != entity {
			return nil, fmt.Errorf("resolve order: event %s belongs to entity %s, want %s", ev.ID.Short(), ev.EntityID, entity)
		}
		if err := ev.Verify(); err != nil {
			return nil, fmt.Errorf("resolve order: %w", err)
		}
		if _, dup := byID[ev.ID]; dup {
			continue
		}
		byID[ev.ID] = ev
		ids = append(ids, ev.ID)
	}

	acc := NewAccumulator(entity, c.retriever, c.layerLimit)
	for _, ev := range byID {
		acc.Add(ev)
	}
	layers, err := acc.Layers(ctx, ids)
	if err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("resolve order: %w", err)
	}
	layers.Sort(ids)

	out := make([]ir.Event, len(ids))
	for i, id := range ids {
		out[i] = byID[id]
	}
	return out, nil
}
