package harness

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"

	"github.com/roach88/lineage/internal/causal"
	"github.com/roach88/lineage/internal/engine"
	"github.com/roach88/lineage/internal/ir"
	"github.com/roach88/lineage/internal/kvstore"
	"github.com/roach88/lineage/internal/store"
	"github.com/roach88/lineage/internal/testutil"
)

// Harness is the scenario execution engine. It owns one in-memory engine
// per replica and the labelled history they exchange.
type Harness struct {
	scenario *Scenario
	dag      *testutil.DAG
	session  string
	options  []causal.Option
	logger   *slog.Logger

	engines map[string]*engine.Engine
	closers []io.Closer
}

// Run executes a scenario and returns the result.
//
// Execution flow:
//  1. Build the labelled history
//  2. Open a fresh in-memory backend and engine per replica
//  3. Deliver each replica's batches in order through Ingest
//  4. Record every apply outcome, then each replica's history
//  5. Evaluate assertions
//
// An error means the scenario could not run; assertion failures are
// reported in the Result.
func Run(ctx context.Context, scenario *Scenario) (*Result, error) {
	h, err := newHarness(ctx, scenario)
	if err != nil {
		return nil, err
	}
	defer h.Close()

	result := NewResult()
	for _, r := range scenario.Replicas {
		if err := h.deliver(ctx, r, result); err != nil {
			return nil, fmt.Errorf("replica %s: %w", r.Name, err)
		}
	}
	for _, r := range scenario.Replicas {
		if err := h.recordHistory(ctx, r.Name, result); err != nil {
			return nil, fmt.Errorf("replica %s: %w", r.Name, err)
		}
	}

	actx := &AssertionContext{
		Ctx:      ctx,
		Scenario: scenario,
		DAG:      h.dag,
		Engines:  h.engines,
		Options:  h.options,
	}
	for _, msg := range EvaluateAssertions(result, scenario.Assertions, actx) {
		result.AddError(msg)
	}
	return result, nil
}

func newHarness(ctx context.Context, scenario *Scenario) (*Harness, error) {
	h := &Harness{
		scenario: scenario,
		dag:      BuildDAG(scenario),
		session:  testutil.NewFixedSessionGenerator(scenario.Session).Generate(),
		options:  compareOptions(scenario),
		logger:   slog.New(slog.NewTextHandler(io.Discard, nil)),
		engines:  make(map[string]*engine.Engine, len(scenario.Replicas)),
	}

	for _, r := range scenario.Replicas {
		backend, closer, err := openBackend(r.Backend)
		if err != nil {
			h.Close()
			return nil, fmt.Errorf("replica %s: %w", r.Name, err)
		}
		h.closers = append(h.closers, closer)

		eng, err := engine.New(ctx, backend,
			engine.WithLogger(h.logger),
			engine.WithSessionGenerator(testutil.NewFixedSessionGenerator(scenario.Session)),
			engine.WithComparatorOptions(h.options...))
		if err != nil {
			h.Close()
			return nil, fmt.Errorf("replica %s: %w", r.Name, err)
		}
		h.engines[r.Name] = eng
	}
	return h, nil
}

// Close releases every replica backend.
func (h *Harness) Close() error {
	var errs []error
	for _, c := range h.closers {
		errs = append(errs, c.Close())
	}
	h.closers = nil
	return errors.Join(errs...)
}

// BuildDAG creates the scenario's labelled history.
func BuildDAG(s *Scenario) *testutil.DAG {
	dag := testutil.NewDAG(s.EntityID())
	for _, ev := range s.Events {
		dag.Add(ev.Label, ev.Parents...)
	}
	return dag
}

func compareOptions(s *Scenario) []causal.Option {
	if s.Compare == nil {
		return nil
	}
	return []causal.Option{
		causal.WithBudget(s.Compare.Budget),
		causal.WithMaxEscalation(s.Compare.MaxEscalation),
	}
}

type backend interface {
	engine.Backend
	io.Closer
}

func openBackend(kind string) (engine.Backend, io.Closer, error) {
	var (
		b   backend
		err error
	)
	switch kind {
	case "", BackendSQLite:
		b, err = store.Open(":memory:")
	case BackendBadger:
		b, err = kvstore.Open(kvstore.InMemoryConfig())
	default:
		return nil, nil, fmt.Errorf("unknown backend %q", kind)
	}
	if err != nil {
		return nil, nil, fmt.Errorf("open %s backend: %w", kind, err)
	}
	return b, b, nil
}

// deliver ingests each batch of r and traces the outcomes.
func (h *Harness) deliver(ctx context.Context, r ReplicaSpec, result *Result) error {
	eng := h.engines[r.Name]
	for i, batch := range r.Batches {
		events := make([]ir.Event, len(batch))
		for j, label := range batch {
			events[j] = h.dag.Event(label)
		}

		outcomes, err := eng.Ingest(ctx, h.session, events)
		if err != nil {
			return fmt.Errorf("batch %d: %w", i+1, err)
		}
		for _, out := range outcomes {
			result.Trace = append(result.Trace, h.traceOutcome(r.Name, i+1, out))
		}
	}
	return nil
}

func (h *Harness) traceOutcome(replica string, batch int, out engine.Outcome) TraceEvent {
	te := TraceEvent{
		Type:    TraceApply,
		Replica: replica,
		Batch:   batch,
		Event:   h.dag.Label(out.Event),
		Known:   out.Known,
		Head:    h.dag.Labels(out.Head.IDs()),
		Seq:     out.Seq,
	}
	if !out.Known {
		te.Relation = out.Relation.String()
	}
	var ae *engine.ApplyError
	if errors.As(out.Err, &ae) {
		te.Code = string(ae.Code)
	}
	return te
}

func (h *Harness) recordHistory(ctx context.Context, replica string, result *Result) error {
	history, err := h.engines[replica].History(ctx, h.dag.Entity())
	if err != nil {
		return fmt.Errorf("history: %w", err)
	}
	result.Trace = append(result.Trace, TraceEvent{
		Type:    TraceHistory,
		Replica: replica,
		Events:  eventLabels(h.dag, history),
	})
	return nil
}

func eventLabels(dag *testutil.DAG, events []ir.Event) []string {
	out := make([]string, len(events))
	for i, ev := range events {
		out[i] = dag.Label(ev.ID)
	}
	return out
}
