package harness

import (
	"context"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func loadShipped(t *testing.T, name string) *Scenario {
	t.Helper()
	scenario, err := LoadScenario(filepath.Join("testdata", "scenarios", name+".yaml"))
	require.NoError(t, err)
	return scenario
}

func TestScenarios_Golden(t *testing.T) {
	for _, name := range []string{
		"linear_chain",
		"concurrent_writers",
		"missing_precursor",
		"redelivery",
		"partial_history",
		"budget_exhausted",
	} {
		t.Run(name, func(t *testing.T) {
			scenario := loadShipped(t, name)
			result, err := RunWithGolden(t, scenario)
			require.NoError(t, err)
			assert.True(t, result.Pass, strings.Join(result.Errors, "\n"))
		})
	}
}

func TestRun_ConcurrentWritersConverge(t *testing.T) {
	result, err := Run(context.Background(), loadShipped(t, "concurrent_writers"))
	require.NoError(t, err)
	require.True(t, result.Pass, strings.Join(result.Errors, "\n"))

	// r1 saw the fork one side at a time; r2 got it in one batch.
	r1 := result.Applies("r1")
	require.Len(t, r1, 4)
	assert.Equal(t, "concurrent", r1[2].Relation)
	assert.Len(t, r1[2].Head, 2)

	r2 := result.Applies("r2")
	require.Len(t, r2, 4)
	assert.Equal(t, "e0", r2[0].Event, "roots apply first regardless of delivery order")
	assert.Equal(t, "m", r2[3].Event)
	assert.Equal(t, []string{"m"}, r2[3].Head)
}

func TestRun_FailingAssertionsAreReported(t *testing.T) {
	scenario, err := ParseScenario([]byte(`
name: wrong_expectations
description: "Every assertion here is false"
events:
  - label: e0
  - label: a1
    parents: [e0]
  - label: b1
    parents: [e0]
replicas:
  - name: r1
    batches: [[e0, a1, b1]]
  - name: r2
    backend: badger
    batches: [[e0, a1]]
assertions:
  - type: relation
    a: [a1]
    b: [b1]
    expect: descends
  - type: head
    replica: r1
    events: [a1]
  - type: history
    replica: r1
    events: [e0]
  - type: rejected
    replica: r1
    events: [b1]
  - type: converged
`))
	require.NoError(t, err)

	result, err := Run(context.Background(), scenario)
	require.NoError(t, err)

	assert.False(t, result.Pass)
	require.Len(t, result.Errors, 5)
	assert.Contains(t, result.Errors[0], "[a1] concurrent [b1]")
	assert.Contains(t, result.Errors[1], "r1 head [a1 b1]")
	assert.Contains(t, result.Errors[2], "Assertion failed: history")
	assert.Contains(t, result.Errors[3], "r1 rejected []")
	assert.Contains(t, result.Errors[4], "Assertion failed: converged")
}

func TestRun_RelationOnReplicaSeesOnlyItsEvents(t *testing.T) {
	scenario, err := ParseScenario([]byte(`
name: replica_view
description: "A replica missing history cannot decide what the full history can"
events:
  - label: e0
  - label: e1
    parents: [e0]
  - label: e2
    parents: [e1]
replicas:
  - name: r1
    batches: [[e0]]
assertions:
  - type: relation
    a: [e2]
    b: [e0]
    expect: descends
  - type: relation
    replica: r1
    a: [e2]
    b: [e0]
    expect: indeterminate
`))
	require.NoError(t, err)

	result, err := Run(context.Background(), scenario)
	require.NoError(t, err)
	assert.True(t, result.Pass, strings.Join(result.Errors, "\n"))
}

func TestRun_TraceEndsWithHistories(t *testing.T) {
	result, err := Run(context.Background(), loadShipped(t, "missing_precursor"))
	require.NoError(t, err)
	require.True(t, result.Pass, strings.Join(result.Errors, "\n"))

	n := len(result.Trace)
	require.GreaterOrEqual(t, n, 2)
	assert.Equal(t, TraceEvent{Type: TraceHistory, Replica: "r1", Events: []string{"e0", "e1", "e2"}}, result.Trace[n-2])
	assert.Equal(t, TraceHistory, result.Trace[n-1].Type)
	assert.Empty(t, result.Trace[n-1].Events)
}

func TestRun_CancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := Run(ctx, loadShipped(t, "linear_chain"))
	require.Error(t, err)
}
