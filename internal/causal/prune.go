package causal

import (
	"context"

	"github.com/roach88/lineage/internal/ir"
)

// Prune removes clock members that are ancestors of other members, leaving
// only causal maxima. Well-formed clocks come back unchanged.
//
// Pruning compares members pairwise as singleton clocks under the same
// escalating budget as Compare. On failure the input clock is returned
// along with a *RetrievalError, a *BudgetExhaustedError, or the context
// error.
func (c *Comparator) Prune(ctx context.Context, entity ir.EntityID, clock ir.Clock) (ir.Clock, error) {
	if clock.Len() < 2 {
		return clock, nil
	}

	j := c.newJob(entity)
	var (
		slot *pruner
		out  ir.Clock
	)
	err := j.resolve(ctx, func(ctx context.Context) error {
		var err error
		out, err = j.prune(ctx, &slot, clock)
		return err
	})
	if err != nil {
		return clock, err
	}
	return out, nil
}

// prune runs (or resumes) the pruner held in slot for clock.
func (j *job) prune(ctx context.Context, slot **pruner, clock ir.Clock) (ir.Clock, error) {
	if clock.Len() < 2 {
		return clock, nil
	}
	if *slot == nil {
		*slot = &pruner{
			job:     j,
			clock:   clock,
			members: clock.IDs(),
			removed: make(map[ir.EventID]bool),
		}
	}
	p := *slot
	if !p.done {
		if err := p.run(ctx); err != nil {
			return ir.Clock{}, err
		}
	}
	return p.result, nil
}

// pruner checks every pair of clock members. Its position (i, j) and the
// in-flight pair traversal survive budget exhaustion so that a raised
// budget resumes the scan.
type pruner struct {
	job     *job
	clock   ir.Clock
	members []ir.EventID
	removed map[ir.EventID]bool
	i, j    int
	cur     *traversal

	done   bool
	result ir.Clock
}

func (p *pruner) run(ctx context.Context) error {
	n := len(p.members)
	for p.i < n {
		if p.j <= p.i {
			p.j = p.i + 1
		}
		mi := p.members[p.i]
		if p.j >= n || p.removed[mi] {
			p.i++
			p.j = 0
			continue
		}
		mj := p.members[p.j]
		if p.removed[mj] {
			p.j++
			continue
		}

		if p.cur == nil {
			p.cur = newTraversal(p.job, ir.NewClock(mi), ir.NewClock(mj))
		}
		rel, err := p.cur.run(ctx)
		if err != nil {
			return err
		}
		p.cur = nil

		switch rel {
		case Descends:
			p.removed[mj] = true
		case Precedes:
			p.removed[mi] = true
		}
		p.j++
	}

	p.finish()
	return nil
}

func (p *pruner) finish() {
	p.done = true
	var removed []ir.EventID
	for _, id := range p.members {
		if p.removed[id] {
			removed = append(removed, id)
		}
	}
	p.result = p.clock.Without(removed...)
	if len(removed) == 0 {
		return
	}

	p.job.pruned = append(p.job.pruned, removed...)
	clockPrunes.Add(float64(len(removed)))
	p.job.c.logger.Warn("pruned redundant clock members",
		"code", ErrCodeMalformedClock,
		"entity", p.job.entity,
		"clock", p.clock,
		"removed", shortIDs(removed))
}
