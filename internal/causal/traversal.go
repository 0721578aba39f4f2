package causal

import (
	"context"

	"github.com/roach88/lineage/internal/ir"
)

// side is one half of a bidirectional walk.
type side struct {
	// seen holds every id discovered by this side: its seeds plus every
	// precursor reached so far. All of it lies in this side's causal closure.
	seen map[ir.EventID]struct{}

	// front holds discovered ids not yet expanded.
	front *Frontier[ir.EventID]

	// pending holds this side's seeds that the other side has not reached.
	pending map[ir.EventID]struct{}

	// rounds counts expansions, for tie-breaking between equal frontiers.
	rounds int
}

func newSide(c ir.Clock) *side {
	ids := c.IDs()
	s := &side{
		seen:    make(map[ir.EventID]struct{}, len(ids)),
		front:   NewFrontier(ids...),
		pending: make(map[ir.EventID]struct{}, len(ids)),
	}
	for _, id := range ids {
		s.seen[id] = struct{}{}
		s.pending[id] = struct{}{}
	}
	return s
}

// traversal walks two clocks backward until one side's closure is shown to
// contain every seed of the other, or both sides run dry.
//
// A traversal is resumable: when it returns *BudgetExhaustedError its state
// is intact, and calling run again after raising the budget continues from
// where it stopped.
type traversal struct {
	job  *job
	a, b *side
}

func newTraversal(j *job, a, b ir.Clock) *traversal {
	t := &traversal{job: j, a: newSide(a), b: newSide(b)}
	for id := range t.a.pending {
		if _, shared := t.b.pending[id]; shared {
			delete(t.a.pending, id)
			delete(t.b.pending, id)
		}
	}
	return t
}

func (t *traversal) run(ctx context.Context) (Relation, error) {
	for {
		switch {
		case len(t.a.pending) == 0 && len(t.b.pending) == 0:
			return Equal, nil
		case len(t.b.pending) == 0:
			return Descends, nil
		case len(t.a.pending) == 0:
			return Precedes, nil
		case t.a.front.IsEmpty() && t.b.front.IsEmpty():
			return Concurrent, nil
		}

		advancing, other := t.pick()
		if err := t.expand(ctx, advancing, other); err != nil {
			return Indeterminate, err
		}
	}
}

// pick returns the side with fewer unexpanded ids. Equal frontiers
// alternate, starting with A, so a long history on one side cannot starve
// the other. An empty side is never picked.
func (t *traversal) pick() (advancing, other *side) {
	switch {
	case t.a.front.IsEmpty():
		return t.b, t.a
	case t.b.front.IsEmpty():
		return t.a, t.b
	case t.a.front.Len() != t.b.front.Len():
		if t.b.front.Len() < t.a.front.Len() {
			return t.b, t.a
		}
		return t.a, t.b
	case t.b.rounds < t.a.rounds:
		return t.b, t.a
	default:
		return t.a, t.b
	}
}

// expand consumes one round of s's frontier with a single batched fetch.
//
// Ids the other side has already discovered are common ancestors; they are
// dropped without a fetch or a charge, since nothing below a common node can
// change the verdict.
func (t *traversal) expand(ctx context.Context, s, other *side) error {
	budget := t.job.budget
	remaining := budget.Remaining()

	var common, batch []ir.EventID
	for _, id := range s.front.IDs() {
		if _, ok := other.seen[id]; ok {
			common = append(common, id)
			continue
		}
		if len(batch) < remaining {
			batch = append(batch, id)
		}
	}
	s.front.Remove(common...)

	if len(batch) == 0 {
		if s.front.IsEmpty() {
			return nil
		}
		return &BudgetExhaustedError{Steps: budget.Used(), Limit: budget.Limit()}
	}
	if err := budget.Spend(len(batch)); err != nil {
		return err
	}
	s.rounds++

	events, err := t.job.fetch(ctx, batch)
	if err != nil {
		return err
	}
	s.front.Remove(batch...)

	for _, id := range batch {
		for _, p := range events[id].Precursors.IDs() {
			delete(other.pending, p)
			if _, ok := s.seen[p]; ok {
				continue
			}
			s.seen[p] = struct{}{}
			s.front.Extend(p)
		}
	}
	return nil
}
