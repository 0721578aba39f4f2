package causal

import (
	"context"
	"log/slog"
	"time"

	"github.com/roach88/lineage/internal/ir"
)

// Attempt outcomes recorded in a Comparison trace.
const (
	OutcomeResolved         = "resolved"
	OutcomeBudgetExhausted  = "budget_exhausted"
	OutcomeRetrievalFailure = "retrieval_failure"
)

// Attempt records one budget level of a comparison.
type Attempt struct {
	Budget  int    `json:"budget"`
	Steps   int    `json:"steps"`
	Outcome string `json:"outcome"`
}

// Comparison is the result of comparing two clocks.
type Comparison struct {
	Relation Relation `json:"relation"`

	// Reason is set when Relation is Indeterminate: a *RetrievalError or a
	// *BudgetExhaustedError.
	Reason error `json:"-"`

	// Trace has one entry per budget level tried. Empty for the Equal fast path.
	Trace []Attempt `json:"trace,omitempty"`

	// Pruned lists clock members removed because another member of the same
	// clock descends from them.
	Pruned []ir.EventID `json:"pruned,omitempty"`

	// Steps is the number of events fetched and expanded.
	Steps int `json:"steps"`

	// Visited is the number of distinct events retrieved.
	Visited int `json:"visited"`
}

// Escalations returns how many times the budget was raised.
func (c *Comparison) Escalations() int {
	if len(c.Trace) == 0 {
		return 0
	}
	return len(c.Trace) - 1
}

// Comparator classifies the causal relationship between clocks.
//
// A Comparator holds no per-comparison state and is safe for concurrent
// use; each call owns its own frontiers, accumulator and budget. The
// retriever must itself be safe for concurrent use.
type Comparator struct {
	retriever     Retriever
	budget        int
	maxEscalation int
	layerLimit    int
	logger        *slog.Logger
}

// Option configures a Comparator.
type Option func(*Comparator)

// WithBudget sets the base step budget. Values below 1 are ignored.
func WithBudget(steps int) Option {
	return func(c *Comparator) {
		if steps > 0 {
			c.budget = steps
		}
	}
}

// WithMaxEscalation caps escalation at k times the base budget.
// k of 1 disables escalation. Values below 1 are ignored.
func WithMaxEscalation(k int) Option {
	return func(c *Comparator) {
		if k > 0 {
			c.maxEscalation = k
		}
	}
}

// WithLayerLimit bounds how many events ResolveOrder may load.
func WithLayerLimit(events int) Option {
	return func(c *Comparator) {
		if events > 0 {
			c.layerLimit = events
		}
	}
}

// WithLogger sets the logger. Defaults to slog.Default().
func WithLogger(logger *slog.Logger) Option {
	return func(c *Comparator) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// New creates a Comparator over retriever.
func New(retriever Retriever, opts ...Option) *Comparator {
	c := &Comparator{
		retriever:     retriever,
		budget:        DefaultBudget,
		maxEscalation: DefaultMaxEscalation,
		layerLimit:    DefaultLayerLimit,
		logger:        slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Budget returns the base step budget.
func (c *Comparator) Budget() int {
	return c.budget
}

// Compare returns the relationship of clock a to clock b for entity.
//
// Failures to reach a verdict are reported as an Indeterminate Comparison,
// never as an error. The error return is reserved for ctx cancellation,
// after which no result is available.
func (c *Comparator) Compare(ctx context.Context, entity ir.EntityID, a, b ir.Clock) (*Comparison, error) {
	ctx, span := startCompareSpan(ctx, entity, a, b)
	defer span.End()
	start := time.Now()

	if a.Equal(b) {
		result := &Comparison{Relation: Equal}
		observeCompare(span, result, time.Since(start))
		return result, nil
	}

	j := c.newJob(entity)
	var rel Relation
	err := j.resolve(ctx, func(ctx context.Context) error {
		var err error
		rel, err = j.compare(ctx, a, b)
		return err
	})
	if err != nil && ctx.Err() != nil {
		span.RecordError(err)
		return nil, err
	}

	result := &Comparison{
		Relation: rel,
		Reason:   err,
		Trace:    j.trace,
		Pruned:   j.pruned,
		Steps:    j.budget.Used(),
		Visited:  j.acc.Len(),
	}
	if err != nil {
		result.Relation = Indeterminate
		c.logger.Warn("comparison indeterminate",
			"entity", entity,
			"a", a,
			"b", b,
			"steps", result.Steps,
			"reason", err)
	}
	observeCompare(span, result, time.Since(start))
	return result, nil
}

// job is the state of one Compare or Prune call.
type job struct {
	c      *Comparator
	entity ir.EntityID
	acc    *Accumulator
	budget *Budget
	trace  []Attempt
	pruned []ir.EventID

	// resumable compare state
	pruneA, pruneB *pruner
	main           *traversal
}

func (c *Comparator) newJob(entity ir.EntityID) *job {
	return &job{
		c:      c,
		entity: entity,
		acc:    NewAccumulator(entity, c.retriever, c.layerLimit),
		budget: NewBudget(c.budget),
	}
}

// resolve runs step until it succeeds or fails for a reason other than the
// budget, doubling the limit after each exhaustion up to the escalation cap.
// step must be resumable: it is called again with its earlier progress kept.
func (j *job) resolve(ctx context.Context, step func(context.Context) error) error {
	ceiling := j.c.budget * j.c.maxEscalation
	for {
		limit := j.budget.Limit()
		err := step(ctx)
		switch {
		case err == nil:
			j.record(limit, OutcomeResolved)
			return nil
		case ctx.Err() != nil:
			return err
		case IsBudgetExhausted(err):
			j.record(limit, OutcomeBudgetExhausted)
			next := limit * 2
			if next > ceiling {
				return err
			}
			j.c.logger.Debug("escalating comparison budget",
				"entity", j.entity,
				"from", limit,
				"to", next,
				"steps", j.budget.Used())
			compareEscalations.Inc()
			j.budget.Raise(next)
		case IsRetrievalFailure(err):
			j.record(limit, OutcomeRetrievalFailure)
			return err
		default:
			return err
		}
	}
}

func (j *job) record(limit int, outcome string) {
	j.trace = append(j.trace, Attempt{Budget: limit, Steps: j.budget.Used(), Outcome: outcome})
}

// compare prunes both clocks and then runs the main traversal, resuming
// whichever phase was interrupted by the budget.
func (j *job) compare(ctx context.Context, a, b ir.Clock) (Relation, error) {
	if j.main == nil {
		var err error
		if a, err = j.prune(ctx, &j.pruneA, a); err != nil {
			return Indeterminate, err
		}
		if b, err = j.prune(ctx, &j.pruneB, b); err != nil {
			return Indeterminate, err
		}
		if a.Equal(b) {
			return Equal, nil
		}
		j.main = newTraversal(j, a, b)
	}
	return j.main.run(ctx)
}

// fetch returns events for ids, reusing anything already retrieved by this
// job so that overlapping traversals do not refetch.
func (j *job) fetch(ctx context.Context, ids []ir.EventID) (map[ir.EventID]ir.Event, error) {
	out := make(map[ir.EventID]ir.Event, len(ids))
	var missing []ir.EventID
	for _, id := range ids {
		if ev, ok := j.acc.Event(id); ok {
			out[id] = ev
			continue
		}
		missing = append(missing, id)
	}
	if len(missing) == 0 {
		return out, nil
	}

	got, err := fetchVerified(ctx, j.c.retriever, j.entity, missing)
	if err != nil {
		return nil, err
	}
	for _, id := range missing {
		ev := got[id]
		j.acc.Add(ev)
		out[id] = ev
	}
	return out, nil
}
