package harness

import (
	"context"
	"fmt"
	"slices"
	"strings"

	"github.com/roach88/lineage/internal/causal"
	"github.com/roach88/lineage/internal/engine"
	"github.com/roach88/lineage/internal/testutil"
)

// AssertionError is returned when an assertion fails.
// It includes detailed context to help debug the failure.
type AssertionError struct {
	Type     string       // Assertion type for categorization
	Expected string       // Human-readable expected outcome
	Actual   string       // Human-readable actual outcome
	Trace    []TraceEvent // Full trace for debugging context
}

// Error implements the error interface.
func (e *AssertionError) Error() string {
	var buf strings.Builder

	fmt.Fprintf(&buf, "Assertion failed: %s\n", e.Type)
	fmt.Fprintf(&buf, "  Expected: %s\n", e.Expected)
	fmt.Fprintf(&buf, "  Actual: %s\n", e.Actual)

	if len(e.Trace) > 0 {
		fmt.Fprintf(&buf, "\nFull trace:\n")
		for i, ev := range e.Trace {
			if ev.Type != TraceApply {
				continue
			}
			fmt.Fprintf(&buf, "  [%d] %s/%d %s %s head=%v", i+1, ev.Replica, ev.Batch, ev.Event, ev.Relation, ev.Head)
			if ev.Code != "" {
				fmt.Fprintf(&buf, " code=%s", ev.Code)
			}
			buf.WriteByte('\n')
		}
	}
	return buf.String()
}

// AssertionContext provides the replicas and history assertions run
// against.
type AssertionContext struct {
	Ctx      context.Context
	Scenario *Scenario
	DAG      *testutil.DAG
	Engines  map[string]*engine.Engine
	Options  []causal.Option
}

// EvaluateAssertions evaluates all assertions against the result.
// Returns a slice of error messages for failed assertions.
func EvaluateAssertions(result *Result, assertions []Assertion, actx *AssertionContext) []string {
	var errs []string

	for i, a := range assertions {
		var err error

		switch a.Type {
		case AssertRejected:
			err = assertRejected(result.Trace, a)
		case AssertRelation, AssertHead, AssertOrder, AssertHistory, AssertConverged:
			if actx == nil || actx.DAG == nil {
				err = fmt.Errorf("assertion[%d]: %s requires replica context", i, a.Type)
				break
			}
			switch a.Type {
			case AssertRelation:
				err = assertRelation(actx, a)
			case AssertHead:
				err = assertHead(actx, a)
			case AssertOrder:
				err = assertOrder(actx, a)
			case AssertHistory:
				err = assertHistory(actx, a)
			case AssertConverged:
				err = assertConverged(actx)
			}
		default:
			err = fmt.Errorf("assertion[%d]: unknown assertion type %q", i, a.Type)
		}

		if err != nil {
			if ae, ok := err.(*AssertionError); ok {
				ae.Trace = result.Trace
			}
			errs = append(errs, err.Error())
		}
	}
	return errs
}

// assertRelation compares clock A to clock B. With a replica the
// replica's comparator is used, so only events it holds are visible;
// otherwise a comparator over the full history (minus Hide) is used.
func assertRelation(actx *AssertionContext, a Assertion) error {
	var comparator *causal.Comparator
	if a.Replica != "" {
		eng, err := lookupEngine(actx, a.Replica)
		if err != nil {
			return err
		}
		comparator = eng.Comparator()
	} else {
		dag := actx.DAG
		if len(a.Hide) > 0 {
			dag = BuildDAG(actx.Scenario)
			for _, label := range a.Hide {
				dag.Hide(label)
			}
		}
		comparator = causal.New(dag, actx.Options...)
	}

	cmp, err := comparator.Compare(actx.Ctx, actx.DAG.Entity(), actx.DAG.Clock(a.A...), actx.DAG.Clock(a.B...))
	if err != nil {
		return fmt.Errorf("relation %v vs %v: %w", a.A, a.B, err)
	}
	if cmp.Relation.String() != a.Expect {
		return &AssertionError{
			Type:     AssertRelation,
			Expected: fmt.Sprintf("%v %s %v", a.A, a.Expect, a.B),
			Actual:   fmt.Sprintf("%v %s %v", a.A, cmp.Relation, a.B),
		}
	}
	return nil
}

// assertHead checks a replica's head as a set of labels.
func assertHead(actx *AssertionContext, a Assertion) error {
	eng, err := lookupEngine(actx, a.Replica)
	if err != nil {
		return err
	}
	head, err := eng.Head(actx.Ctx, actx.DAG.Entity())
	if err != nil {
		return fmt.Errorf("head of %s: %w", a.Replica, err)
	}
	if !sameSet(actx.DAG.Labels(head.IDs()), a.Events) {
		return &AssertionError{
			Type:     AssertHead,
			Expected: fmt.Sprintf("%s head %v", a.Replica, sorted(a.Events)),
			Actual:   fmt.Sprintf("%s head %v", a.Replica, sorted(actx.DAG.Labels(head.IDs()))),
		}
	}
	return nil
}

// assertOrder checks the deterministic order of a replica's head.
func assertOrder(actx *AssertionContext, a Assertion) error {
	eng, err := lookupEngine(actx, a.Replica)
	if err != nil {
		return err
	}
	events, err := eng.Order(actx.Ctx, actx.DAG.Entity())
	if err != nil {
		return fmt.Errorf("order of %s: %w", a.Replica, err)
	}
	return checkSequence(AssertOrder, a, eventLabels(actx.DAG, events))
}

// assertHistory checks the deterministic order of a replica's history.
func assertHistory(actx *AssertionContext, a Assertion) error {
	eng, err := lookupEngine(actx, a.Replica)
	if err != nil {
		return err
	}
	events, err := eng.History(actx.Ctx, actx.DAG.Entity())
	if err != nil {
		return fmt.Errorf("history of %s: %w", a.Replica, err)
	}
	return checkSequence(AssertHistory, a, eventLabels(actx.DAG, events))
}

func checkSequence(kind string, a Assertion, got []string) error {
	if slices.Equal(got, a.Events) {
		return nil
	}
	return &AssertionError{
		Type:     kind,
		Expected: fmt.Sprintf("%s %s %v", a.Replica, kind, a.Events),
		Actual:   fmt.Sprintf("%s %s %v", a.Replica, kind, got),
	}
}

// assertRejected checks the set of events a replica rejected, read from
// the trace. If Code is set every rejection must carry it.
func assertRejected(trace []TraceEvent, a Assertion) error {
	var got []string
	for _, ev := range trace {
		if ev.Type != TraceApply || ev.Replica != a.Replica || ev.Code == "" {
			continue
		}
		if a.Code != "" && ev.Code != a.Code {
			return &AssertionError{
				Type:     AssertRejected,
				Expected: fmt.Sprintf("%s rejected with %s", ev.Event, a.Code),
				Actual:   fmt.Sprintf("%s rejected with %s", ev.Event, ev.Code),
			}
		}
		if !slices.Contains(got, ev.Event) {
			got = append(got, ev.Event)
		}
	}
	if !sameSet(got, a.Events) {
		return &AssertionError{
			Type:     AssertRejected,
			Expected: fmt.Sprintf("%s rejected %v", a.Replica, sorted(a.Events)),
			Actual:   fmt.Sprintf("%s rejected %v", a.Replica, sorted(got)),
		}
	}
	return nil
}

// assertConverged requires every replica to hold the same head and the
// same deterministic history as the first.
func assertConverged(actx *AssertionContext) error {
	entity := actx.DAG.Entity()
	var (
		first             string
		wantHead, wantLog []string
	)
	for i, r := range actx.Scenario.Replicas {
		eng, err := lookupEngine(actx, r.Name)
		if err != nil {
			return err
		}
		head, err := eng.Head(actx.Ctx, entity)
		if err != nil {
			return fmt.Errorf("head of %s: %w", r.Name, err)
		}
		history, err := eng.History(actx.Ctx, entity)
		if err != nil {
			return fmt.Errorf("history of %s: %w", r.Name, err)
		}
		gotHead := actx.DAG.Labels(head.IDs())
		gotLog := eventLabels(actx.DAG, history)
		if i == 0 {
			first, wantHead, wantLog = r.Name, gotHead, gotLog
			continue
		}
		if !slices.Equal(gotHead, wantHead) {
			return &AssertionError{
				Type:     AssertConverged,
				Expected: fmt.Sprintf("%s head %v", r.Name, wantHead),
				Actual:   fmt.Sprintf("%s head %v (%s has %v)", r.Name, gotHead, first, wantHead),
			}
		}
		if !slices.Equal(gotLog, wantLog) {
			return &AssertionError{
				Type:     AssertConverged,
				Expected: fmt.Sprintf("%s history %v", r.Name, wantLog),
				Actual:   fmt.Sprintf("%s history %v (%s has %v)", r.Name, gotLog, first, wantLog),
			}
		}
	}
	return nil
}

func lookupEngine(actx *AssertionContext, replica string) (*engine.Engine, error) {
	eng, ok := actx.Engines[replica]
	if !ok {
		return nil, fmt.Errorf("unknown replica %q", replica)
	}
	return eng, nil
}

func sameSet(a, b []string) bool {
	return slices.Equal(sorted(a), sorted(b))
}

func sorted(ss []string) []string {
	out := slices.Clone(ss)
	slices.Sort(out)
	if out == nil {
		out = []string{}
	}
	return out
}
