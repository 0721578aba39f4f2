package causal

import (
	"context"
	"fmt"
	"slices"

	"github.com/roach88/lineage/internal/ir"
)

// DefaultLayerLimit bounds how many events an Accumulator will load when
// computing full-history layers.
const DefaultLayerLimit = 100_000

// EventLayers maps event ids to their topological depth.
// Roots are layer 0; every other event is 1 + the maximum layer of its
// precursors.
type EventLayers map[ir.EventID]int

// Layer returns the layer of id and whether it is known.
func (l EventLayers) Layer(id ir.EventID) (int, bool) {
	layer, ok := l[id]
	return layer, ok
}

// Compare orders two ids by (layer asc, id bytes asc). Ids without a known
// layer sort after all known ones.
func (l EventLayers) Compare(a, b ir.EventID) int {
	la, okA := l[a]
	lb, okB := l[b]
	switch {
	case okA && !okB:
		return -1
	case !okA && okB:
		return 1
	case la != lb:
		return la - lb
	default:
		return a.Compare(b)
	}
}

// Sort orders ids in place by (layer asc, id bytes asc).
func (l EventLayers) Sort(ids []ir.EventID) {
	slices.SortFunc(ids, l.Compare)
}

// Accumulator memoizes the events visited during one traversal and the
// layers computed from them.
//
// An Accumulator is owned by a single comparison or materialization pass
// and is not safe for concurrent use.
type Accumulator struct {
	entity    ir.EntityID
	retriever Retriever
	limit     int
	events    map[ir.EventID]ir.Event
	layers    EventLayers // full-history layers only
}

// NewAccumulator creates an accumulator for one entity.
// retriever may be nil when only LocalLayers is needed.
// limit caps how many events Layers may hold; 0 means DefaultLayerLimit.
func NewAccumulator(entity ir.EntityID, retriever Retriever, limit int) *Accumulator {
	if limit <= 0 {
		limit = DefaultLayerLimit
	}
	return &Accumulator{
		entity:    entity,
		retriever: retriever,
		limit:     limit,
		events:    make(map[ir.EventID]ir.Event),
		layers:    make(EventLayers),
	}
}

// Add records visited events. Re-adding a known event is a no-op.
func (a *Accumulator) Add(events ...ir.Event) {
	for _, ev := range events {
		if _, ok := a.events[ev.ID]; !ok {
			a.events[ev.ID] = ev
		}
	}
}

// Event returns a visited event.
func (a *Accumulator) Event(id ir.EventID) (ir.Event, bool) {
	ev, ok := a.events[id]
	return ev, ok
}

// Len returns the number of visited events.
func (a *Accumulator) Len() int {
	return len(a.events)
}

// LocalLayers computes layers over the visited subgraph only: precursors
// that were never visited are ignored, so an event whose precursors are all
// unvisited is layer 0. The monotonic property holds within the subgraph.
func (a *Accumulator) LocalLayers() (EventLayers, error) {
	ids := make([]ir.EventID, 0, len(a.events))
	for id := range a.events {
		ids = append(ids, id)
	}
	slices.SortFunc(ids, ir.EventID.Compare)

	memo := make(EventLayers, len(ids))
	err := computeLayers(ids, memo, func(id ir.EventID) []ir.EventID {
		ev := a.events[id]
		var parents []ir.EventID
		for _, p := range ev.Precursors.IDs() {
			if _, ok := a.events[p]; ok {
				parents = append(parents, p)
			}
		}
		return parents
	})
	if err != nil {
		return nil, err
	}
	return memo, nil
}

// Layers computes full-history layers for ids, loading every missing
// ancestor through the retriever in batches. Results are memoized across
// calls on the same accumulator.
//
// Returns *RetrievalError if an ancestor cannot be obtained and
// *BudgetExhaustedError if the history exceeds the accumulator's limit.
func (a *Accumulator) Layers(ctx context.Context, ids []ir.EventID) (EventLayers, error) {
	if err := a.loadAncestry(ctx, ids); err != nil {
		return nil, err
	}

	err := computeLayers(ids, a.layers, func(id ir.EventID) []ir.EventID {
		return a.events[id].Precursors.IDs()
	})
	if err != nil {
		return nil, err
	}

	out := make(EventLayers, len(ids))
	for _, id := range ids {
		out[id] = a.layers[id]
	}
	return out, nil
}

// loadAncestry walks backward from ids level by level, fetching events not
// yet held. Events with a memoized layer stop the walk.
func (a *Accumulator) loadAncestry(ctx context.Context, ids []ir.EventID) error {
	seen := make(map[ir.EventID]struct{})
	need := slices.Clone(ids)

	for len(need) > 0 {
		var fetch, next []ir.EventID
		for _, id := range need {
			if _, ok := seen[id]; ok {
				continue
			}
			seen[id] = struct{}{}
			if _, ok := a.layers[id]; ok {
				continue
			}
			if ev, ok := a.events[id]; ok {
				next = append(next, ev.Precursors.IDs()...)
				continue
			}
			fetch = append(fetch, id)
		}

		if len(fetch) > 0 {
			if a.retriever == nil {
				return &RetrievalError{Entity: a.entity, Missing: fetch}
			}
			if len(a.events)+len(fetch) > a.limit {
				return &BudgetExhaustedError{Steps: len(a.events), Limit: a.limit}
			}
			got, err := fetchVerified(ctx, a.retriever, a.entity, fetch)
			if err != nil {
				return err
			}
			for _, id := range fetch {
				ev := got[id]
				a.Add(ev)
				next = append(next, ev.Precursors.IDs()...)
			}
		}
		need = next
	}
	return nil
}

// computeLayers fills memo for ids using an explicit stack, never recursion,
// so deep histories cannot exhaust the goroutine stack.
// parentsOf must return only ids that are resolvable (memoized or loaded).
func computeLayers(ids []ir.EventID, memo EventLayers, parentsOf func(ir.EventID) []ir.EventID) error {
	type frame struct {
		id       ir.EventID
		expanded bool
	}
	onPath := make(map[ir.EventID]struct{})

	for _, start := range ids {
		if _, ok := memo[start]; ok {
			continue
		}
		stack := []frame{{id: start}}
		for len(stack) > 0 {
			top := len(stack) - 1
			id := stack[top].id
			if _, ok := memo[id]; ok {
				stack = stack[:top]
				continue
			}

			if !stack[top].expanded {
				stack[top].expanded = true
				onPath[id] = struct{}{}
				for _, p := range parentsOf(id) {
					if _, ok := memo[p]; ok {
						continue
					}
					if _, cyc := onPath[p]; cyc {
						return fmt.Errorf("precursor cycle through event %s", p.Short())
					}
					stack = append(stack, frame{id: p})
				}
				continue
			}

			layer := 0
			for _, p := range parentsOf(id) {
				if l := memo[p] + 1; l > layer {
					layer = l
				}
			}
			memo[id] = layer
			delete(onPath, id)
			stack = stack[:top]
		}
	}
	return nil
}
