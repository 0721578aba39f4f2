package causal

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/lineage/internal/ir"
	"github.com/roach88/lineage/internal/testutil"
)

func TestLocalLayers_FullGraph(t *testing.T) {
	d := forkDAG()
	acc := NewAccumulator(testEntity, nil, 0)
	acc.Add(d.Events()...)

	layers, err := acc.LocalLayers()
	require.NoError(t, err)

	want := map[string]int{"e0": 0, "e1": 1, "e2": 2, "e1a": 1, "e1b": 1, "m": 2}
	for label, layer := range want {
		got, ok := layers.Layer(d.ID(label))
		require.True(t, ok, label)
		assert.Equal(t, layer, got, label)
	}
}

func TestLocalLayers_IgnoresUnvisitedPrecursors(t *testing.T) {
	d := forkDAG()
	acc := NewAccumulator(testEntity, nil, 0)
	acc.Add(d.Event("m"), d.Event("e1a"))

	layers, err := acc.LocalLayers()
	require.NoError(t, err)
	assert.Equal(t, 0, layers[d.ID("e1a")])
	assert.Equal(t, 1, layers[d.ID("m")])
}

func TestLayers_Monotonic(t *testing.T) {
	ctx := context.Background()
	d := forkDAG()
	d.Add("n", "m", "e2")
	acc := NewAccumulator(testEntity, d, 0)

	ids := make([]ir.EventID, 0)
	for _, ev := range d.Events() {
		ids = append(ids, ev.ID)
	}
	layers, err := acc.Layers(ctx, ids)
	require.NoError(t, err)

	for _, ev := range d.Events() {
		for _, p := range ev.Precursors.IDs() {
			assert.Greater(t, layers[ev.ID], layers[p], "%s above %s", d.Label(ev.ID), d.Label(p))
		}
	}
	assert.Equal(t, 3, layers[d.ID("n")])
}

func TestLayers_BatchesByLevelAndMemoizes(t *testing.T) {
	ctx := context.Background()
	d := forkDAG()
	acc := NewAccumulator(testEntity, d, 0)

	layers, err := acc.Layers(ctx, []ir.EventID{d.ID("m"), d.ID("e2")})
	require.NoError(t, err)
	assert.Equal(t, 2, layers[d.ID("m")])
	assert.Equal(t, 2, layers[d.ID("e2")])
	assert.Equal(t, 3, d.Calls(), "one fetch per level")
	assert.Equal(t, 6, acc.Len())

	d.ResetCounts()
	_, err = acc.Layers(ctx, []ir.EventID{d.ID("e1"), d.ID("m")})
	require.NoError(t, err)
	assert.Zero(t, d.Calls())
}

func TestLayers_Limit(t *testing.T) {
	d := forkDAG()
	acc := NewAccumulator(testEntity, d, 2)

	_, err := acc.Layers(context.Background(), []ir.EventID{d.ID("m")})
	assert.True(t, IsBudgetExhausted(err))
}

func TestLayers_MissingAncestor(t *testing.T) {
	d := forkDAG()
	d.Hide("e0")
	acc := NewAccumulator(testEntity, d, 0)

	_, err := acc.Layers(context.Background(), []ir.EventID{d.ID("e2")})
	var re *RetrievalError
	require.ErrorAs(t, err, &re)
	assert.Equal(t, []ir.EventID{d.ID("e0")}, re.Missing)
}

func TestLayers_DeepChainIsIterative(t *testing.T) {
	d := testutil.NewDAG(testEntity)
	d.Add("root")
	head := d.Chain("c", "root", 5000)
	acc := NewAccumulator(testEntity, d, 0)

	layers, err := acc.Layers(context.Background(), []ir.EventID{d.ID(head)})
	require.NoError(t, err)
	assert.Equal(t, 5000, layers[d.ID(head)])
}

func TestEventLayers_SortTieBreaksByID(t *testing.T) {
	d := forkDAG()
	layers := EventLayers{
		d.ID("e0"):  0,
		d.ID("e1a"): 1,
		d.ID("e1b"): 1,
		d.ID("e1"):  1,
	}
	ids := []ir.EventID{d.ID("e1b"), d.ID("e1"), d.ID("e0"), d.ID("e1a")}
	layers.Sort(ids)

	assert.Equal(t, d.ID("e0"), ids[0])
	for i := 1; i < len(ids)-1; i++ {
		assert.Negative(t, ids[i].Compare(ids[i+1]))
	}
}

func TestEventLayers_UnknownSortLast(t *testing.T) {
	d := forkDAG()
	layers := EventLayers{d.ID("m"): 2}
	ids := []ir.EventID{d.ID("e0"), d.ID("m")}
	layers.Sort(ids)
	assert.Equal(t, []ir.EventID{d.ID("m"), d.ID("e0")}, ids)
}
