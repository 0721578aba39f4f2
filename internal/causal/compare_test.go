package causal

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"testing"

	promtest "github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/lineage/internal/ir"
	"github.com/roach88/lineage/internal/testutil"
)

var testEntity = ir.MustParseEntityID("01890a5d-ac96-774b-bcce-b302099a8057")

func quietComparator(r Retriever, opts ...Option) *Comparator {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return New(r, append([]Option{WithLogger(logger)}, opts...)...)
}

// forkDAG builds:
//
//	e0 ── e1 ── e2
//	 ├── e1a ─┐
//	 └── e1b ─┴─ m
func forkDAG() *testutil.DAG {
	d := testutil.NewDAG(testEntity)
	d.Add("e0")
	d.Add("e1", "e0")
	d.Add("e2", "e1")
	d.Add("e1a", "e0")
	d.Add("e1b", "e0")
	d.Add("m", "e1a", "e1b")
	return d
}

func TestCompare_Reflexive(t *testing.T) {
	ctx := context.Background()
	d := forkDAG()
	c := quietComparator(d)

	for _, clock := range []ir.Clock{
		{},
		d.Clock("e0"),
		d.Clock("e1a", "e1b"),
		d.Clock("m", "e2"),
	} {
		result, err := c.Compare(ctx, testEntity, clock, clock)
		require.NoError(t, err)
		assert.Equal(t, Equal, result.Relation, "clock %s", clock)
		assert.Empty(t, result.Trace)
	}
	assert.Zero(t, d.Calls(), "equal clocks must not touch the retriever")
}

func TestCompare_SingleStep(t *testing.T) {
	ctx := context.Background()
	d := forkDAG()
	c := quietComparator(d)

	result, err := c.Compare(ctx, testEntity, d.Clock("e1"), d.Clock("e0"))
	require.NoError(t, err)
	assert.Equal(t, Descends, result.Relation)
	assert.Equal(t, 1, result.Steps)
	assert.Equal(t, []Attempt{{Budget: DefaultBudget, Steps: 1, Outcome: OutcomeResolved}}, result.Trace)

	result, err = c.Compare(ctx, testEntity, d.Clock("e0"), d.Clock("e1"))
	require.NoError(t, err)
	assert.Equal(t, Precedes, result.Relation)
}

func TestCompare_ConcurrentSiblings(t *testing.T) {
	ctx := context.Background()
	d := forkDAG()
	c := quietComparator(d)

	result, err := c.Compare(ctx, testEntity, d.Clock("e1a"), d.Clock("e1b"))
	require.NoError(t, err)
	assert.Equal(t, Concurrent, result.Relation)
	assert.Nil(t, result.Reason)
	// The shared root is discovered by both sides and never fetched.
	assert.Equal(t, 2, result.Steps)
}

func TestCompare_EmptyClocks(t *testing.T) {
	ctx := context.Background()
	d := forkDAG()
	c := quietComparator(d)

	result, err := c.Compare(ctx, testEntity, d.Clock("e1"), ir.Clock{})
	require.NoError(t, err)
	assert.Equal(t, Descends, result.Relation)

	result, err = c.Compare(ctx, testEntity, ir.Clock{}, d.Clock("e1"))
	require.NoError(t, err)
	assert.Equal(t, Precedes, result.Relation)
	assert.Zero(t, d.Calls())
}

func TestCompare_MatchesClosureOracle(t *testing.T) {
	ctx := context.Background()
	d := forkDAG()
	c := quietComparator(d)

	clocks := map[string]ir.Clock{
		"e0":      d.Clock("e0"),
		"e1":      d.Clock("e1"),
		"e2":      d.Clock("e2"),
		"e1a":     d.Clock("e1a"),
		"e1b":     d.Clock("e1b"),
		"m":       d.Clock("m"),
		"e1a,e1b": d.Clock("e1a", "e1b"),
		"e2,m":    d.Clock("e2", "m"),
		"e1,e1a":  d.Clock("e1", "e1a"),
	}

	for nameA, a := range clocks {
		for nameB, b := range clocks {
			t.Run(nameA+"_vs_"+nameB, func(t *testing.T) {
				want := closureRelation(d, a, b)
				result, err := c.Compare(ctx, testEntity, a, b)
				require.NoError(t, err)
				assert.Equal(t, want, result.Relation)

				reverse, err := c.Compare(ctx, testEntity, b, a)
				require.NoError(t, err)
				assert.Equal(t, result.Relation.Inverse(), reverse.Relation, "antisymmetry")
			})
		}
	}
}

// closureRelation decides the relation from full ancestor sets.
func closureRelation(d *testutil.DAG, a, b ir.Clock) Relation {
	if a.Equal(b) {
		return Equal
	}
	closure := func(c ir.Clock) map[ir.EventID]bool {
		byID := make(map[ir.EventID]ir.Event)
		for _, ev := range d.Events() {
			byID[ev.ID] = ev
		}
		out := make(map[ir.EventID]bool)
		stack := c.IDs()
		for len(stack) > 0 {
			id := stack[len(stack)-1]
			stack = stack[:len(stack)-1]
			if out[id] {
				continue
			}
			out[id] = true
			stack = append(stack, byID[id].Precursors.IDs()...)
		}
		return out
	}
	covers := func(closure map[ir.EventID]bool, c ir.Clock) bool {
		for _, id := range c.IDs() {
			if !closure[id] {
				return false
			}
		}
		return true
	}
	ca, cb := closure(a), closure(b)
	switch {
	case covers(ca, b) && covers(cb, a):
		return Equal
	case covers(ca, b):
		return Descends
	case covers(cb, a):
		return Precedes
	default:
		return Concurrent
	}
}

func TestCompare_SharedHistoryIsNotWalked(t *testing.T) {
	ctx := context.Background()
	d := testutil.NewDAG(testEntity)
	d.Add("root")
	base := d.Chain("c", "root", 100)
	d.Add("a", base)
	d.Add("b", base)

	result, err := quietComparator(d).Compare(ctx, testEntity, d.Clock("a"), d.Clock("b"))
	require.NoError(t, err)
	assert.Equal(t, Concurrent, result.Relation)
	assert.Equal(t, 2, result.Steps)
}

func TestCompare_MissingPrecursorIsIndeterminate(t *testing.T) {
	ctx := context.Background()
	d := forkDAG()
	d.Add("ghost", "e0")
	d.Add("x", "ghost")
	d.Hide("ghost")

	result, err := quietComparator(d).Compare(ctx, testEntity, d.Clock("x"), d.Clock("e1"))
	require.NoError(t, err)
	assert.Equal(t, Indeterminate, result.Relation)
	require.True(t, IsRetrievalFailure(result.Reason))

	var re *RetrievalError
	require.ErrorAs(t, result.Reason, &re)
	assert.Equal(t, []ir.EventID{d.ID("ghost")}, re.Missing)
	require.Len(t, result.Trace, 1)
	assert.Equal(t, OutcomeRetrievalFailure, result.Trace[0].Outcome)
}

func TestCompare_CorruptEventIsIndeterminate(t *testing.T) {
	ctx := context.Background()
	d := forkDAG()
	d.Corrupt("e0")

	result, err := quietComparator(d).Compare(ctx, testEntity, d.Clock("e0"), d.Clock("e1"))
	require.NoError(t, err)
	assert.Equal(t, Indeterminate, result.Relation)

	var re *RetrievalError
	require.ErrorAs(t, result.Reason, &re)
	assert.Equal(t, []ir.EventID{d.ID("e0")}, re.Corrupt)
}

func TestCompare_ForeignEntityIsIndeterminate(t *testing.T) {
	ctx := context.Background()
	d := forkDAG()
	other := testutil.NewDAG(ir.MustParseEntityID("01890a5d-ac96-774b-bcce-b302099a8058"))
	other.Add("e0")

	merged := RetrieverFunc(func(ctx context.Context, ids []ir.EventID) (map[ir.EventID]ir.Event, error) {
		out, err := d.FetchEvents(ctx, ids)
		if err != nil {
			return nil, err
		}
		theirs, err := other.FetchEvents(ctx, ids)
		if err != nil {
			return nil, err
		}
		for id, ev := range theirs {
			out[id] = ev
		}
		return out, nil
	})

	result, err := quietComparator(merged).Compare(ctx, testEntity, other.Clock("e0"), d.Clock("e1"))
	require.NoError(t, err)
	assert.Equal(t, Indeterminate, result.Relation)
	assert.True(t, IsRetrievalFailure(result.Reason))
}

func TestCompare_RetrieverErrorIsIndeterminate(t *testing.T) {
	ctx := context.Background()
	d := forkDAG()
	boom := errors.New("disk on fire")
	d.FailWith(boom)

	result, err := quietComparator(d).Compare(ctx, testEntity, d.Clock("e2"), d.Clock("m"))
	require.NoError(t, err)
	assert.Equal(t, Indeterminate, result.Relation)
	assert.ErrorIs(t, result.Reason, boom)
}

func TestCompare_CancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	d := forkDAG()

	result, err := quietComparator(d).Compare(ctx, testEntity, d.Clock("e2"), d.Clock("m"))
	assert.ErrorIs(t, err, context.Canceled)
	assert.Nil(t, result)
}

func TestCompare_PrunesMalformedClock(t *testing.T) {
	ctx := context.Background()
	d := forkDAG()
	c := quietComparator(d)

	result, err := c.Compare(ctx, testEntity, d.Clock("e1a", "e0"), d.Clock("e1a"))
	require.NoError(t, err)
	assert.Equal(t, Equal, result.Relation)
	assert.Equal(t, []ir.EventID{d.ID("e0")}, result.Pruned)

	result, err = c.Compare(ctx, testEntity, d.Clock("e1a", "e0"), d.Clock("e1b"))
	require.NoError(t, err)
	assert.Equal(t, Concurrent, result.Relation)
	assert.Equal(t, []ir.EventID{d.ID("e0")}, result.Pruned)
}

func TestCompare_EscalationResolvesWithinCeiling(t *testing.T) {
	ctx := context.Background()
	d := testutil.NewDAG(testEntity)
	d.Add("root")
	head := d.Chain("c", "root", 25)
	c := quietComparator(d, WithBudget(10))

	result, err := c.Compare(ctx, testEntity, d.Clock(head), d.Clock("root"))
	require.NoError(t, err)
	assert.Equal(t, Descends, result.Relation)
	assert.Equal(t, []Attempt{
		{Budget: 10, Steps: 10, Outcome: OutcomeBudgetExhausted},
		{Budget: 20, Steps: 20, Outcome: OutcomeBudgetExhausted},
		{Budget: 40, Steps: 26, Outcome: OutcomeResolved},
	}, result.Trace)
	assert.Equal(t, 2, result.Escalations())
	// Escalation resumes: nothing is fetched twice.
	assert.Equal(t, 26, d.Fetched())
}

func TestCompare_EscalationPastCeilingIsIndeterminate(t *testing.T) {
	ctx := context.Background()
	d := testutil.NewDAG(testEntity)
	d.Add("root")
	head := d.Chain("c", "root", 50)
	c := quietComparator(d, WithBudget(10))

	result, err := c.Compare(ctx, testEntity, d.Clock(head), d.Clock("root"))
	require.NoError(t, err)
	assert.Equal(t, Indeterminate, result.Relation)
	assert.True(t, IsBudgetExhausted(result.Reason))
	require.Len(t, result.Trace, 3)
	assert.Equal(t, 40, result.Trace[2].Budget)
	assert.Equal(t, 40, result.Steps)
}

func TestCompare_EscalationDisabled(t *testing.T) {
	ctx := context.Background()
	d := testutil.NewDAG(testEntity)
	d.Add("root")
	head := d.Chain("c", "root", 25)
	c := quietComparator(d, WithBudget(10), WithMaxEscalation(1))

	result, err := c.Compare(ctx, testEntity, d.Clock("root"), d.Clock(head))
	require.NoError(t, err)
	assert.Equal(t, Indeterminate, result.Relation)
	assert.Len(t, result.Trace, 1)
}

func TestCompare_DefaultBudgetEscalation(t *testing.T) {
	ctx := context.Background()
	d := testutil.NewDAG(testEntity)
	d.Add("root")
	head := d.Chain("c", "root", 1500)
	c := quietComparator(d)

	result, err := c.Compare(ctx, testEntity, d.Clock("root"), d.Clock(head))
	require.NoError(t, err)
	assert.Equal(t, Precedes, result.Relation)
	require.Len(t, result.Trace, 2)
	assert.Equal(t, DefaultBudget, result.Trace[0].Budget)
	assert.Equal(t, 2*DefaultBudget, result.Trace[1].Budget)
}

func TestCompare_ConcurrentCallers(t *testing.T) {
	ctx := context.Background()
	d := forkDAG()
	c := quietComparator(d)

	pairs := [][2]ir.Clock{
		{d.Clock("e2"), d.Clock("m")},
		{d.Clock("m"), d.Clock("e1a")},
		{d.Clock("e0"), d.Clock("e2")},
		{d.Clock("e1a", "e1b"), d.Clock("m")},
	}
	want := make([]Relation, len(pairs))
	for i, p := range pairs {
		want[i] = closureRelation(d, p[0], p[1])
	}

	var wg sync.WaitGroup
	errs := make(chan error, 64)
	for g := 0; g < 16; g++ {
		wg.Add(1)
		go func(g int) {
			defer wg.Done()
			for i, p := range pairs {
				result, err := c.Compare(ctx, testEntity, p[0], p[1])
				if err != nil {
					errs <- err
					return
				}
				if result.Relation != want[i] {
					errs <- fmt.Errorf("goroutine %d pair %d: got %s, want %s", g, i, result.Relation, want[i])
					return
				}
			}
		}(g)
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		t.Error(err)
	}
}

func TestCompare_RecordsMetrics(t *testing.T) {
	ctx := context.Background()
	d := forkDAG()
	c := quietComparator(d)

	before := promtest.ToFloat64(compareTotal.WithLabelValues("concurrent"))
	_, err := c.Compare(ctx, testEntity, d.Clock("e1a"), d.Clock("e1b"))
	require.NoError(t, err)
	assert.Equal(t, before+1, promtest.ToFloat64(compareTotal.WithLabelValues("concurrent")))
}
