package causal

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/lineage/internal/ir"
	"github.com/roach88/lineage/internal/testutil"
)

func eventIDs(events []ir.Event) []ir.EventID {
	out := make([]ir.EventID, len(events))
	for i, ev := range events {
		out[i] = ev.ID
	}
	return out
}

func TestResolveOrder_ConcurrentSiblingsByID(t *testing.T) {
	ctx := context.Background()
	d := forkDAG()
	c := quietComparator(d)

	first, err := c.ResolveOrder(ctx, []ir.Event{d.Event("e1a"), d.Event("e1b")})
	require.NoError(t, err)
	second, err := c.ResolveOrder(ctx, []ir.Event{d.Event("e1b"), d.Event("e1a")})
	require.NoError(t, err)

	assert.Equal(t, eventIDs(first), eventIDs(second))
	require.Len(t, first, 2)
	assert.Negative(t, first[0].ID.Compare(first[1].ID))
}

func TestResolveOrder_LayerBeforeID(t *testing.T) {
	ctx := context.Background()
	d := forkDAG()
	c := quietComparator(d)

	ordered, err := c.ResolveOrder(ctx, []ir.Event{d.Event("m"), d.Event("e1b"), d.Event("e0"), d.Event("e2")})
	require.NoError(t, err)

	labels := d.Labels(eventIDs(ordered))
	assert.Equal(t, "e0", labels[0])
	assert.Equal(t, "e1b", labels[1])
	assert.ElementsMatch(t, []string{"m", "e2"}, labels[2:])
}

func TestResolveOrder_SameOnEveryReplica(t *testing.T) {
	ctx := context.Background()
	build := func() *testutil.DAG {
		d := forkDAG()
		d.Add("e1c", "e0")
		d.Add("e3", "e2")
		return d
	}
	labels := []string{"e1a", "e1b", "e1c", "e3", "m"}

	var want []ir.EventID
	for _, perm := range [][]int{{0, 1, 2, 3, 4}, {4, 3, 2, 1, 0}, {2, 4, 0, 3, 1}} {
		d := build()
		events := make([]ir.Event, len(perm))
		for i, p := range perm {
			events[i] = d.Event(labels[p])
		}
		ordered, err := quietComparator(d).ResolveOrder(ctx, events)
		require.NoError(t, err)
		if want == nil {
			want = eventIDs(ordered)
			continue
		}
		assert.Equal(t, want, eventIDs(ordered))
	}
}

func TestResolveOrder_CollapsesDuplicates(t *testing.T) {
	d := forkDAG()
	ordered, err := quietComparator(d).ResolveOrder(context.Background(),
		[]ir.Event{d.Event("e1a"), d.Event("e1a")})
	require.NoError(t, err)
	assert.Len(t, ordered, 1)
}

func TestResolveOrder_Empty(t *testing.T) {
	ordered, err := quietComparator(nil).ResolveOrder(context.Background(), nil)
	require.NoError(t, err)
	assert.Empty(t, ordered)
}

func TestResolveOrder_RejectsMixedEntities(t *testing.T) {
	d := forkDAG()
	other := testutil.NewDAG(ir.MustParseEntityID("01890a5d-ac96-774b-bcce-b302099a8058"))
	other.Add("e0")

	_, err := quietComparator(d).ResolveOrder(context.Background(),
		[]ir.Event{d.Event("e1a"), other.Event("e0")})
	assert.ErrorContains(t, err, "belongs to entity")
}

func TestResolveOrder_MissingAncestor(t *testing.T) {
	d := forkDAG()
	d.Hide("e0")
	_, err := quietComparator(d).ResolveOrder(context.Background(), []ir.Event{d.Event("e1a")})
	assert.True(t, IsRetrievalFailure(err))
}
