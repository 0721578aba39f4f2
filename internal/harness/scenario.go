package harness

import (
	"bytes"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/roach88/lineage/internal/ir"
)

// DefaultEntity is the entity scenarios run against when they name none.
const DefaultEntity = "01890a5d-ac96-774b-bcce-b302099a8057"

// Replica backends.
const (
	BackendSQLite = "sqlite"
	BackendBadger = "badger"
)

// Scenario defines a replication scenario: an event history, the replicas
// it is delivered to, and what must hold afterwards.
type Scenario struct {
	// Name uniquely identifies this scenario and names its golden file.
	Name string `yaml:"name"`

	// Description explains what this scenario validates.
	Description string `yaml:"description"`

	// Entity is the entity every event belongs to. Defaults to DefaultEntity.
	Entity string `yaml:"entity,omitempty"`

	// Session is the fixed session token used for every delivery.
	// If empty, testutil's default token is used.
	Session string `yaml:"session,omitempty"`

	// Compare overrides the comparator settings of every replica.
	Compare *CompareSettings `yaml:"compare,omitempty"`

	// Events is the full history, in creation order. Parents must be
	// declared before their children.
	Events []EventSpec `yaml:"events"`

	// Replicas receive batches of events.
	Replicas []ReplicaSpec `yaml:"replicas"`

	// Assertions validate relations, heads and orders after delivery.
	Assertions []Assertion `yaml:"assertions"`
}

// CompareSettings tunes the comparator budget.
type CompareSettings struct {
	Budget        int `yaml:"budget,omitempty"`
	MaxEscalation int `yaml:"max_escalation,omitempty"`
}

// EventSpec declares one event. Its payload is the label.
type EventSpec struct {
	Label   string   `yaml:"label"`
	Parents []string `yaml:"parents,omitempty"`
}

// ReplicaSpec is one independent replica.
type ReplicaSpec struct {
	Name string `yaml:"name"`

	// Backend is "sqlite" (default) or "badger". Both run in memory.
	Backend string `yaml:"backend,omitempty"`

	// Batches are delivered in order, each as one Ingest call.
	Batches [][]string `yaml:"batches"`
}

// Assertion validates the state after delivery.
type Assertion struct {
	// Type specifies the assertion type:
	// - "relation": Compare clock A to clock B and check the verdict
	// - "head": Check a replica's head
	// - "order": Check the deterministic order of a replica's head
	// - "history": Check the deterministic order of a replica's history
	// - "rejected": Check which events a replica rejected
	// - "converged": Check all replicas share heads and history
	Type string `yaml:"type"`

	// Replica names the replica (head, order, history, rejected). For
	// relation it is optional: without it the comparison runs against the
	// full scenario history.
	Replica string `yaml:"replica,omitempty"`

	// A and B are clocks as event labels (relation).
	A []string `yaml:"a,omitempty"`
	B []string `yaml:"b,omitempty"`

	// Hide lists events the retriever reports as missing (relation without
	// replica).
	Hide []string `yaml:"hide,omitempty"`

	// Expect is the expected relation name (relation).
	Expect string `yaml:"expect,omitempty"`

	// Events is the expected set or sequence of labels (head, order,
	// history, rejected).
	Events []string `yaml:"events,omitempty"`

	// Code is the expected ApplyError code of every rejected event.
	Code string `yaml:"code,omitempty"`
}

// Assertion type constants.
const (
	AssertRelation  = "relation"
	AssertHead      = "head"
	AssertOrder     = "order"
	AssertHistory   = "history"
	AssertRejected  = "rejected"
	AssertConverged = "converged"
)

// LoadScenario reads and parses a scenario YAML file.
// Returns an error if the file doesn't exist, is malformed,
// contains unknown fields (typos), or is inconsistent.
func LoadScenario(path string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read scenario file: %w", err)
	}
	return ParseScenario(data)
}

// ParseScenario parses scenario YAML with strict field validation.
func ParseScenario(data []byte) (*Scenario, error) {
	var scenario Scenario
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	if err := decoder.Decode(&scenario); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}

	if err := validateScenario(&scenario); err != nil {
		return nil, fmt.Errorf("invalid scenario: %w", err)
	}
	return &scenario, nil
}

// EntityID returns the scenario entity.
func (s *Scenario) EntityID() ir.EntityID {
	if s.Entity == "" {
		return ir.MustParseEntityID(DefaultEntity)
	}
	return ir.MustParseEntityID(s.Entity)
}

// validateScenario checks that required fields are present and that every
// label reference resolves.
func validateScenario(s *Scenario) error {
	if s.Name == "" {
		return fmt.Errorf("name is required")
	}
	if s.Description == "" {
		return fmt.Errorf("description is required")
	}
	if s.Entity != "" {
		if _, err := ir.ParseEntityID(s.Entity); err != nil {
			return fmt.Errorf("entity: %w", err)
		}
	}
	if s.Compare != nil && (s.Compare.Budget < 0 || s.Compare.MaxEscalation < 0) {
		return fmt.Errorf("compare: budget and max_escalation must be non-negative")
	}

	if len(s.Events) == 0 {
		return fmt.Errorf("events list is required and must be non-empty")
	}
	labels := make(map[string]bool, len(s.Events))
	for i, ev := range s.Events {
		if ev.Label == "" {
			return fmt.Errorf("events[%d]: label is required", i)
		}
		if labels[ev.Label] {
			return fmt.Errorf("events[%d]: duplicate label %q", i, ev.Label)
		}
		for _, p := range ev.Parents {
			if !labels[p] {
				return fmt.Errorf("events[%d]: parent %q must be declared earlier", i, p)
			}
		}
		labels[ev.Label] = true
	}

	if len(s.Replicas) == 0 {
		return fmt.Errorf("replicas list is required and must be non-empty")
	}
	replicas := make(map[string]bool, len(s.Replicas))
	for i, r := range s.Replicas {
		if r.Name == "" {
			return fmt.Errorf("replicas[%d]: name is required", i)
		}
		if replicas[r.Name] {
			return fmt.Errorf("replicas[%d]: duplicate name %q", i, r.Name)
		}
		replicas[r.Name] = true
		switch r.Backend {
		case "", BackendSQLite, BackendBadger:
		default:
			return fmt.Errorf("replicas[%d]: unknown backend %q", i, r.Backend)
		}
		if len(r.Batches) == 0 {
			return fmt.Errorf("replicas[%d]: batches list is required and must be non-empty", i)
		}
		for j, batch := range r.Batches {
			if err := checkLabels(labels, batch); err != nil {
				return fmt.Errorf("replicas[%d].batches[%d]: %w", i, j, err)
			}
		}
	}

	if len(s.Assertions) == 0 {
		return fmt.Errorf("assertions list is required and must be non-empty")
	}
	for i := range s.Assertions {
		if err := validateAssertion(i, &s.Assertions[i], labels, replicas); err != nil {
			return err
		}
	}
	return nil
}

// validateAssertion validates a single assertion based on its type.
func validateAssertion(index int, a *Assertion, labels, replicas map[string]bool) error {
	if a.Type == "" {
		return fmt.Errorf("assertions[%d]: type is required", index)
	}
	if a.Replica != "" && !replicas[a.Replica] {
		return fmt.Errorf("assertions[%d]: unknown replica %q", index, a.Replica)
	}

	switch a.Type {
	case AssertRelation:
		if len(a.A) == 0 && len(a.B) == 0 {
			return fmt.Errorf("assertions[%d]: a or b is required for relation", index)
		}
		if a.Expect == "" {
			return fmt.Errorf("assertions[%d]: expect is required for relation", index)
		}
		if a.Replica != "" && len(a.Hide) > 0 {
			return fmt.Errorf("assertions[%d]: hide cannot be combined with replica", index)
		}
		for _, group := range [][]string{a.A, a.B, a.Hide} {
			if err := checkLabels(labels, group); err != nil {
				return fmt.Errorf("assertions[%d]: %w", index, err)
			}
		}
	case AssertHead, AssertOrder, AssertHistory, AssertRejected:
		if a.Replica == "" {
			return fmt.Errorf("assertions[%d]: replica is required for %s", index, a.Type)
		}
		if err := checkLabels(labels, a.Events); err != nil {
			return fmt.Errorf("assertions[%d]: %w", index, err)
		}
	case AssertConverged:
	default:
		return fmt.Errorf("assertions[%d]: unknown assertion type %q", index, a.Type)
	}
	return nil
}

func checkLabels(known map[string]bool, labels []string) error {
	for _, l := range labels {
		if !known[l] {
			return fmt.Errorf("unknown event %q", l)
		}
	}
	return nil
}
