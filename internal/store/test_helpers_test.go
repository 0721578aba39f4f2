package store

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/roach88/lineage/internal/ir"
	"github.com/roach88/lineage/internal/testutil"
)

var testEntity = ir.MustParseEntityID("01890a5d-ac96-774b-bcce-b302099a8057")

// createTestStore creates a fresh store in a temp directory.
func createTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

// forkDAG builds e0 with children e1a and e1b.
func forkDAG() *testutil.DAG {
	d := testutil.NewDAG(testEntity)
	d.Add("e0")
	d.Add("e1a", "e0")
	d.Add("e1b", "e0")
	return d
}

// commitLinear commits events with head = {last event}.
func commitLinear(t *testing.T, s *Store, events ...ir.Event) {
	t.Helper()
	ctx := context.Background()
	for _, ev := range events {
		prev, err := s.Head(ctx, ev.EntityID)
		require.NoError(t, err)
		seq, err := s.MaxSeq(ctx)
		require.NoError(t, err)
		require.NoError(t, s.CommitEvent(ctx, ev, seq+1, prev, ir.NewClock(ev.ID)))
	}
}
