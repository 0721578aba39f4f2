package retrieval

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/lineage/internal/causal"
	"github.com/roach88/lineage/internal/ir"
	"github.com/roach88/lineage/internal/testutil"
)

var testEntity = ir.MustParseEntityID("01890a5d-ac96-774b-bcce-b302099a8057")

func chainDAG() *testutil.DAG {
	d := testutil.NewDAG(testEntity)
	d.Add("e0")
	d.Add("e1", "e0")
	d.Add("e2", "e1")
	return d
}

func TestMemory_FetchReportsOnlyFound(t *testing.T) {
	d := chainDAG()
	m := NewMemory(d.Event("e0"), d.Event("e1"))

	got, err := m.FetchEvents(context.Background(), []ir.EventID{d.ID("e0"), d.ID("e2")})
	require.NoError(t, err)
	assert.Len(t, got, 1)
	assert.Equal(t, d.Event("e0").ID, got[d.ID("e0")].ID)
	assert.True(t, m.Has(d.ID("e1")))
	assert.Equal(t, 2, m.Len())
}

func TestMemory_CancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := NewMemory().FetchEvents(ctx, nil)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestMerged_UnionsSources(t *testing.T) {
	d := chainDAG()
	local := NewMemory(d.Event("e0"))
	peer := NewMemory(d.Event("e1"), d.Event("e0"))

	got, err := NewMerged(local, peer).FetchEvents(context.Background(),
		[]ir.EventID{d.ID("e0"), d.ID("e1"), d.ID("e2")})
	require.NoError(t, err)
	assert.Len(t, got, 2)
	assert.NotContains(t, got, d.ID("e2"))
}

func TestMerged_SourceErrorFailsBatch(t *testing.T) {
	d := chainDAG()
	boom := errors.New("peer reset")
	failing := causal.RetrieverFunc(func(context.Context, []ir.EventID) (map[ir.EventID]ir.Event, error) {
		return nil, boom
	})

	_, err := NewMerged(NewMemory(d.Events()...), failing).FetchEvents(context.Background(), []ir.EventID{d.ID("e0")})
	assert.ErrorIs(t, err, boom)
	assert.ErrorContains(t, err, "source 1")
}

func TestMerged_DrivesComparison(t *testing.T) {
	d := chainDAG()
	local := NewMemory(d.Event("e2"))
	peer := NewMemory(d.Event("e1"), d.Event("e0"))
	c := causal.New(NewMerged(local, peer))

	result, err := c.Compare(context.Background(), testEntity, d.Clock("e0"), d.Clock("e2"))
	require.NoError(t, err)
	assert.Equal(t, causal.Precedes, result.Relation)
}

func TestStaging_RejectsTamperedEvent(t *testing.T) {
	d := chainDAG()
	bad := d.Event("e1")
	bad.Payload = []byte("forged")

	s := NewStaging(NewMemory())
	err := s.Stage(d.Event("e0"), bad)
	assert.ErrorIs(t, err, ir.ErrIDMismatch)
	assert.Zero(t, s.Len(), "nothing staged on failure")
}

func TestStaging_ServesStagedAndCommitted(t *testing.T) {
	d := chainDAG()
	committed := NewMemory(d.Event("e0"))
	s := NewStaging(committed)
	require.NoError(t, s.Stage(d.Event("e1"), d.Event("e2")))

	got, err := s.FetchEvents(context.Background(), []ir.EventID{d.ID("e0"), d.ID("e1"), d.ID("e2")})
	require.NoError(t, err)
	assert.Len(t, got, 3)

	c := causal.New(s)
	result, err := c.Compare(context.Background(), testEntity, d.Clock("e2"), d.Clock("e0"))
	require.NoError(t, err)
	assert.Equal(t, causal.Descends, result.Relation)
}

func TestStaging_AdmitMovesEvent(t *testing.T) {
	d := chainDAG()
	committed := NewMemory()
	s := NewStaging(committed)
	require.NoError(t, s.Stage(d.Event("e0")))

	err := s.Admit(context.Background(), d.ID("e0"), func(_ context.Context, ev ir.Event) error {
		committed.Put(ev)
		return nil
	})
	require.NoError(t, err)
	assert.False(t, s.IsStaged(d.ID("e0")))
	assert.True(t, committed.Has(d.ID("e0")))
}

func TestStaging_AdmitFailureKeepsEvent(t *testing.T) {
	d := chainDAG()
	s := NewStaging(NewMemory())
	require.NoError(t, s.Stage(d.Event("e0")))
	boom := errors.New("disk full")

	err := s.Admit(context.Background(), d.ID("e0"), func(context.Context, ir.Event) error { return boom })
	assert.ErrorIs(t, err, boom)
	assert.True(t, s.IsStaged(d.ID("e0")))
}

func TestStaging_AdmitUnknown(t *testing.T) {
	d := chainDAG()
	s := NewStaging(NewMemory())
	err := s.Admit(context.Background(), d.ID("e0"), func(context.Context, ir.Event) error { return nil })
	assert.ErrorIs(t, err, ErrNotStaged)
}

func TestStaging_ConcurrentAdmitCommitsOnce(t *testing.T) {
	d := chainDAG()
	committed := NewMemory()
	s := NewStaging(committed)
	require.NoError(t, s.Stage(d.Event("e0")))

	var commits atomic.Int32
	release := make(chan struct{})
	commit := func(_ context.Context, ev ir.Event) error {
		commits.Add(1)
		<-release
		committed.Put(ev)
		return nil
	}

	const sessions = 8
	var wg sync.WaitGroup
	started := make(chan struct{}, sessions)
	errs := make([]error, sessions)
	for i := 0; i < sessions; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			started <- struct{}{}
			errs[i] = s.Admit(context.Background(), d.ID("e0"), commit)
		}(i)
	}
	for i := 0; i < sessions; i++ {
		<-started
	}
	close(release)
	wg.Wait()

	for _, err := range errs {
		if err != nil {
			assert.ErrorIs(t, err, ErrNotStaged, "late callers only see the event already moved")
		}
	}
	assert.Equal(t, int32(1), commits.Load())
	assert.True(t, committed.Has(d.ID("e0")))
}

func TestStaging_Discard(t *testing.T) {
	d := chainDAG()
	s := NewStaging(nil)
	require.NoError(t, s.Stage(d.Event("e0"), d.Event("e1")))
	s.Discard(d.ID("e0"), d.ID("e2"))
	assert.Equal(t, 1, s.Len())
	assert.False(t, s.IsStaged(d.ID("e0")))
}
