package engine

import (
	"context"
	"io"
	"log/slog"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/roach88/lineage/internal/ir"
	"github.com/roach88/lineage/internal/kvstore"
	"github.com/roach88/lineage/internal/store"
	"github.com/roach88/lineage/internal/testutil"
)

var testEntity = ir.MustParseEntityID("01890a5d-ac96-774b-bcce-b302099a8057")

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func sqliteBackend(t *testing.T) Backend {
	t.Helper()
	s, err := store.Open(filepath.Join(t.TempDir(), "lineage.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func badgerBackend(t *testing.T) Backend {
	t.Helper()
	s, err := kvstore.Open(kvstore.InMemoryConfig())
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

// backends lists every Backend implementation so behaviour tests run
// against both.
var backends = []struct {
	name string
	open func(*testing.T) Backend
}{
	{"sqlite", sqliteBackend},
	{"badger", badgerBackend},
}

func newTestEngine(t *testing.T, b Backend, opts ...Option) *Engine {
	t.Helper()
	opts = append([]Option{
		WithLogger(quietLogger()),
		WithSessionGenerator(testutil.NewFixedSessionGenerator("")),
	}, opts...)
	e, err := New(context.Background(), b, opts...)
	require.NoError(t, err)
	return e
}

// siblingsDAG builds:
//
//	e0 ─┬─ a1 ─┐
//	    └─ b1 ─┴─ m
func siblingsDAG() *testutil.DAG {
	d := testutil.NewDAG(testEntity)
	d.Add("e0")
	d.Add("a1", "e0")
	d.Add("b1", "e0")
	d.Add("m", "a1", "b1")
	return d
}

func applyAll(t *testing.T, e *Engine, d *testutil.DAG, labels ...string) {
	t.Helper()
	for _, l := range labels {
		_, err := e.Apply(context.Background(), "test", d.Event(l))
		require.NoError(t, err, "apply %s", l)
	}
}
