package harness

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/lineage/internal/ir"
)

const minimalScenario = `
name: test_scenario
description: "Test scenario for validation"
events:
  - label: e0
  - label: e1
    parents: [e0]
replicas:
  - name: r1
    batches:
      - [e0, e1]
assertions:
  - type: head
    replica: r1
    events: [e1]
`

func TestLoadScenario_ValidFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test.yaml")
	require.NoError(t, os.WriteFile(path, []byte(minimalScenario), 0644))

	scenario, err := LoadScenario(path)
	require.NoError(t, err)

	assert.Equal(t, "test_scenario", scenario.Name)
	assert.Len(t, scenario.Events, 2)
	assert.Equal(t, []string{"e0"}, scenario.Events[1].Parents)
	require.Len(t, scenario.Replicas, 1)
	assert.Equal(t, [][]string{{"e0", "e1"}}, scenario.Replicas[0].Batches)
	assert.Equal(t, ir.MustParseEntityID(DefaultEntity), scenario.EntityID())
}

func TestLoadScenario_MissingFile(t *testing.T) {
	_, err := LoadScenario(filepath.Join(t.TempDir(), "nope.yaml"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to read scenario file")
}

func TestLoadScenario_ShippedScenarios(t *testing.T) {
	paths, err := filepath.Glob("testdata/scenarios/*.yaml")
	require.NoError(t, err)
	require.NotEmpty(t, paths)

	for _, path := range paths {
		_, err := LoadScenario(path)
		assert.NoError(t, err, path)
	}
}

func TestParseScenario_UnknownField(t *testing.T) {
	_, err := ParseScenario([]byte(minimalScenario + "assertion: []\n"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to parse YAML")
}

func TestParseScenario_Invalid(t *testing.T) {
	tests := []struct {
		name    string
		yaml    string
		wantErr string
	}{
		{
			name: "missing name",
			yaml: `
description: d
events: [{label: e0}]
replicas: [{name: r1, batches: [[e0]]}]
assertions: [{type: converged}]
`,
			wantErr: "name is required",
		},
		{
			name: "bad entity",
			yaml: `
name: n
description: d
entity: not-a-uuid
events: [{label: e0}]
replicas: [{name: r1, batches: [[e0]]}]
assertions: [{type: converged}]
`,
			wantErr: "entity",
		},
		{
			name: "parent declared later",
			yaml: `
name: n
description: d
events: [{label: e1, parents: [e0]}, {label: e0}]
replicas: [{name: r1, batches: [[e0]]}]
assertions: [{type: converged}]
`,
			wantErr: `parent "e0" must be declared earlier`,
		},
		{
			name: "duplicate label",
			yaml: `
name: n
description: d
events: [{label: e0}, {label: e0}]
replicas: [{name: r1, batches: [[e0]]}]
assertions: [{type: converged}]
`,
			wantErr: `duplicate label "e0"`,
		},
		{
			name: "unknown event in batch",
			yaml: `
name: n
description: d
events: [{label: e0}]
replicas: [{name: r1, batches: [[e0, e9]]}]
assertions: [{type: converged}]
`,
			wantErr: `replicas[0].batches[0]: unknown event "e9"`,
		},
		{
			name: "unknown backend",
			yaml: `
name: n
description: d
events: [{label: e0}]
replicas: [{name: r1, backend: postgres, batches: [[e0]]}]
assertions: [{type: converged}]
`,
			wantErr: `unknown backend "postgres"`,
		},
		{
			name: "duplicate replica",
			yaml: `
name: n
description: d
events: [{label: e0}]
replicas: [{name: r1, batches: [[e0]]}, {name: r1, batches: [[e0]]}]
assertions: [{type: converged}]
`,
			wantErr: `duplicate name "r1"`,
		},
		{
			name: "relation without expect",
			yaml: `
name: n
description: d
events: [{label: e0}]
replicas: [{name: r1, batches: [[e0]]}]
assertions: [{type: relation, a: [e0], b: [e0]}]
`,
			wantErr: "expect is required for relation",
		},
		{
			name: "hide with replica",
			yaml: `
name: n
description: d
events: [{label: e0}]
replicas: [{name: r1, batches: [[e0]]}]
assertions: [{type: relation, replica: r1, a: [e0], b: [e0], hide: [e0], expect: equal}]
`,
			wantErr: "hide cannot be combined with replica",
		},
		{
			name: "head without replica",
			yaml: `
name: n
description: d
events: [{label: e0}]
replicas: [{name: r1, batches: [[e0]]}]
assertions: [{type: head, events: [e0]}]
`,
			wantErr: "replica is required for head",
		},
		{
			name: "unknown replica",
			yaml: `
name: n
description: d
events: [{label: e0}]
replicas: [{name: r1, batches: [[e0]]}]
assertions: [{type: head, replica: r2, events: [e0]}]
`,
			wantErr: `unknown replica "r2"`,
		},
		{
			name: "unknown assertion type",
			yaml: `
name: n
description: d
events: [{label: e0}]
replicas: [{name: r1, batches: [[e0]]}]
assertions: [{type: final_state}]
`,
			wantErr: `unknown assertion type "final_state"`,
		},
		{
			name: "negative budget",
			yaml: `
name: n
description: d
compare: {budget: -1}
events: [{label: e0}]
replicas: [{name: r1, batches: [[e0]]}]
assertions: [{type: converged}]
`,
			wantErr: "must be non-negative",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseScenario([]byte(tt.yaml))
			require.Error(t, err)
			assert.Contains(t, err.Error(), "invalid scenario")
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}
