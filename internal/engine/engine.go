package engine

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/roach88/lineage/internal/causal"
	"github.com/roach88/lineage/internal/ir"
	"github.com/roach88/lineage/internal/retrieval"
)

// Backend is the durable event store an Engine materializes into.
// internal/store (SQLite) and internal/kvstore (Badger) implement it.
type Backend interface {
	causal.Retriever

	// Head returns the entity's current head clock; empty if unknown.
	Head(ctx context.Context, entity ir.EntityID) (ir.Clock, error)

	// HasEvent reports whether id is committed.
	HasEvent(ctx context.Context, id ir.EventID) (bool, error)

	// CommitEvent stores ev with seq and moves the head from prev to next
	// atomically. It returns ir.ErrHeadConflict if the head is not prev.
	CommitEvent(ctx context.Context, ev ir.Event, seq int64, prev, next ir.Clock) error

	// EntityEvents returns an entity's events ordered by (seq, id).
	EntityEvents(ctx context.Context, entity ir.EntityID) ([]ir.StoredEvent, error)

	// Entities returns every entity that has a head.
	Entities(ctx context.Context) ([]ir.EntityID, error)

	// MaxSeq returns the highest committed seq, or 0.
	MaxSeq(ctx context.Context) (int64, error)

	// ScanEvents calls fn for every committed event in seq order.
	ScanEvents(ctx context.Context, fn func(ir.StoredEvent) error) error
}

// Outcome describes what Apply did with one event.
type Outcome struct {
	Event  ir.EventID  `json:"event"`
	Entity ir.EntityID `json:"entity"`

	// Relation is how {event} compared to the head before the apply.
	// Zero (Indeterminate) when Known is set.
	Relation causal.Relation `json:"relation"`

	// Known is set when the event was already committed; nothing changed.
	Known bool `json:"known,omitempty"`

	// Head is the entity head after the apply.
	Head ir.Clock `json:"head"`

	// Seq is the local sequence the event was committed with.
	Seq int64 `json:"seq,omitempty"`

	Comparison *causal.Comparison `json:"comparison,omitempty"`

	// Err is the *ApplyError for events Ingest rejected.
	Err error `json:"-"`
}

// Engine materializes local and remote events into a Backend.
//
// Every write (Create, Apply, Ingest, and the Run loop) is serialized
// through one lock, so head updates for a replica happen one at a time and
// in a deterministic order. Reads (Head, Order, History) do not take it.
//
// Thread-safety model:
//   - Enqueue(), NewSession(): safe from any goroutine
//   - Run(): must be called from exactly one goroutine
//   - Create/Apply/Ingest: safe from any goroutine; they queue on the
//     write lock alongside Run
type Engine struct {
	backend     Backend
	staging     *retrieval.Staging
	comparator  *causal.Comparator
	compareOpts []causal.Option
	clock       *Clock
	queue       *submissionQueue
	sessions    SessionGenerator
	logger      *slog.Logger

	mu sync.Mutex
}

// Option configures an Engine.
type Option func(*Engine)

// WithLogger sets the logger used by the engine and its comparator.
func WithLogger(logger *slog.Logger) Option {
	return func(e *Engine) {
		if logger != nil {
			e.logger = logger
		}
	}
}

// WithSessionGenerator replaces the default UUIDv7 session tokens.
func WithSessionGenerator(g SessionGenerator) Option {
	return func(e *Engine) {
		if g != nil {
			e.sessions = g
		}
	}
}

// WithComparatorOptions configures the comparator (budget, escalation,
// layer limit).
func WithComparatorOptions(opts ...causal.Option) Option {
	return func(e *Engine) {
		e.compareOpts = append(e.compareOpts, opts...)
	}
}

// WithClock sets the ingest clock. By default the clock resumes from the
// backend's MaxSeq.
func WithClock(c *Clock) Option {
	return func(e *Engine) {
		e.clock = c
	}
}

// New creates an Engine over backend.
func New(ctx context.Context, backend Backend, opts ...Option) (*Engine, error) {
	e := &Engine{
		backend:  backend,
		staging:  retrieval.NewStaging(backend),
		queue:    newSubmissionQueue(),
		sessions: UUIDv7Generator{},
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(e)
	}

	if e.clock == nil {
		seq, err := backend.MaxSeq(ctx)
		if err != nil {
			return nil, fmt.Errorf("read max seq: %w", err)
		}
		e.clock = NewClockAt(seq)
	}

	copts := append([]causal.Option{causal.WithLogger(e.logger)}, e.compareOpts...)
	e.comparator = causal.New(e.staging, copts...)
	return e, nil
}

// Comparator returns the engine's comparator. It sees staged and committed
// events.
func (e *Engine) Comparator() *causal.Comparator {
	return e.comparator
}

// Backend returns the engine's backend.
func (e *Engine) Backend() Backend {
	return e.backend
}

// Seq returns the last local sequence handed out.
func (e *Engine) Seq() int64 {
	return e.clock.Current()
}

// NewSession returns a fresh session token.
func (e *Engine) NewSession() string {
	return e.sessions.Generate()
}

// Head returns the entity's current head.
func (e *Engine) Head(ctx context.Context, entity ir.EntityID) (ir.Clock, error) {
	return e.backend.Head(ctx, entity)
}

// Create produces a local event whose precursors are the current head and
// makes it the new head.
func (e *Engine) Create(ctx context.Context, entity ir.EntityID, payload []byte) (ir.Event, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.create(ctx, e.sessions.Generate(), entity, payload)
}

func (e *Engine) create(ctx context.Context, session string, entity ir.EntityID, payload []byte) (ir.Event, error) {
	head, err := e.backend.Head(ctx, entity)
	if err != nil {
		return ir.Event{}, fmt.Errorf("read head of %s: %w", entity, err)
	}

	ev, err := ir.NewEvent(entity, payload, head)
	if err != nil {
		return ir.Event{}, fmt.Errorf("create event: %w", err)
	}

	seq := e.clock.Next()
	next := ir.NewClock(ev.ID)
	if err := e.backend.CommitEvent(ctx, ev, seq, head, next); err != nil {
		return ir.Event{}, fmt.Errorf("commit event %s: %w", ev.ID.Short(), err)
	}

	e.logger.Info("event created",
		"session", session,
		"entity", entity,
		"event", ev.ID.Short(),
		"seq", seq,
		"head", next)
	return ev, nil
}

// Apply materializes an event received from elsewhere.
//
// Applying a committed event is a no-op. Otherwise the event is compared
// against the entity head and committed:
//   - Descends: the head becomes {ev}
//   - Concurrent: ev joins the head, replacing its own precursors
//   - Precedes: ev is stored and the head is unchanged
//
// An Indeterminate comparison, a missing precursor, or a tampered event
// returns an *ApplyError and writes nothing. Other errors come from the
// backend or ctx.
func (e *Engine) Apply(ctx context.Context, session string, ev ir.Event) (Outcome, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.apply(ctx, session, ev)
}

func (e *Engine) apply(ctx context.Context, session string, ev ir.Event) (Outcome, error) {
	out := Outcome{Event: ev.ID, Entity: ev.EntityID}

	known, err := e.backend.HasEvent(ctx, ev.ID)
	if err != nil {
		return out, fmt.Errorf("check event %s: %w", ev.ID.Short(), err)
	}
	if known {
		e.staging.Discard(ev.ID)
		if out.Head, err = e.backend.Head(ctx, ev.EntityID); err != nil {
			return out, fmt.Errorf("read head of %s: %w", ev.EntityID, err)
		}
		out.Known = true
		e.logger.Debug("event already known",
			"session", session,
			"entity", ev.EntityID,
			"event", ev.ID.Short())
		return out, nil
	}

	if err := e.staging.Stage(ev); err != nil {
		return out, e.reject(&ApplyError{
			Code: ErrCodeInvalidEvent, Session: session, Entity: ev.EntityID, Event: ev.ID, Err: err,
		})
	}
	if err := e.checkPrecursors(ctx, session, ev); err != nil {
		e.staging.Discard(ev.ID)
		return out, err
	}

	head, err := e.backend.Head(ctx, ev.EntityID)
	if err != nil {
		e.staging.Discard(ev.ID)
		return out, fmt.Errorf("read head of %s: %w", ev.EntityID, err)
	}

	cmp, err := e.comparator.Compare(ctx, ev.EntityID, ir.NewClock(ev.ID), head)
	if err != nil {
		e.staging.Discard(ev.ID)
		return out, err
	}
	out.Relation = cmp.Relation
	out.Comparison = cmp

	next := head
	switch cmp.Relation {
	case causal.Descends:
		next = ir.NewClock(ev.ID)
	case causal.Concurrent:
		merged := head.Without(ev.Precursors.IDs()...).With(ev.ID)
		next, err = e.comparator.Prune(ctx, ev.EntityID, merged)
		if err != nil {
			if ctx.Err() != nil {
				e.staging.Discard(ev.ID)
				return out, err
			}
			e.logger.Warn("head prune failed, keeping unpruned head",
				"session", session,
				"entity", ev.EntityID,
				"head", merged,
				"error", err)
		}
	case causal.Indeterminate:
		return out, e.reject(&ApplyError{
			Code:       ErrCodeIndeterminate,
			Session:    session,
			Entity:     ev.EntityID,
			Event:      ev.ID,
			Comparison: cmp,
			Err:        cmp.Reason,
		})
	}

	var seq int64
	err = e.staging.Admit(ctx, ev.ID, func(ctx context.Context, staged ir.Event) error {
		seq = e.clock.Next()
		return e.backend.CommitEvent(ctx, staged, seq, head, next)
	})
	if err != nil {
		e.staging.Discard(ev.ID)
		return out, fmt.Errorf("apply event %s: %w", ev.ID.Short(), err)
	}

	out.Head = next
	out.Seq = seq
	e.logger.Info("event applied",
		"session", session,
		"entity", ev.EntityID,
		"event", ev.ID.Short(),
		"relation", cmp.Relation,
		"seq", seq,
		"head", next,
		"steps", cmp.Steps)
	return out, nil
}

// checkPrecursors requires every precursor to be committed or staged and to
// belong to the same entity.
func (e *Engine) checkPrecursors(ctx context.Context, session string, ev ir.Event) error {
	ids := ev.Precursors.IDs()
	if len(ids) == 0 {
		return nil
	}
	got, err := e.staging.FetchEvents(ctx, ids)
	if err != nil {
		return fmt.Errorf("fetch precursors of %s: %w", ev.ID.Short(), err)
	}

	var missing []ir.EventID
	for _, id := range ids {
		p, ok := got[id]
		if !ok {
			missing = append(missing, id)
			continue
		}
		if p.EntityID != ev.EntityID {
			return e.reject(&ApplyError{
				Code:    ErrCodeInvalidEvent,
				Session: session,
				Entity:  ev.EntityID,
				Event:   ev.ID,
				Err:     fmt.Errorf("precursor %s belongs to entity %s", id.Short(), p.EntityID),
			})
		}
	}
	if len(missing) > 0 {
		return e.reject(&ApplyError{
			Code:    ErrCodeMissingPrecursor,
			Session: session,
			Entity:  ev.EntityID,
			Event:   ev.ID,
			Err:     &causal.RetrievalError{Entity: ev.EntityID, Missing: missing},
		})
	}
	return nil
}

// reject discards the event from staging and logs an operator-visible
// warning.
func (e *Engine) reject(ae *ApplyError) error {
	e.staging.Discard(ae.Event)
	e.logger.Warn("event rejected",
		"code", ae.Code,
		"session", ae.Session,
		"entity", ae.Entity,
		"event", ae.Event.Short(),
		"reason", ae.Err)
	return ae
}

// Ingest applies a batch of events received in one sync session.
//
// The whole batch is staged first, so events may reference precursors that
// arrive in the same batch. Events are then applied in (layer, id) order
// computed over the batch alone, which is the same order on every replica
// that receives the same batch.
//
// Rejected events are reported through Outcome.Err and do not stop the
// batch; their descendants in the batch are rejected with
// ErrCodeMissingPrecursor. A non-nil error means the batch was aborted.
func (e *Engine) Ingest(ctx context.Context, session string, events []ir.Event) ([]Outcome, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.ingest(ctx, session, events)
}

func (e *Engine) ingest(ctx context.Context, session string, events []ir.Event) ([]Outcome, error) {
	if len(events) == 0 {
		return []Outcome{}, nil
	}
	if err := e.staging.Stage(events...); err != nil {
		return nil, fmt.Errorf("ingest: %w", err)
	}

	acc := causal.NewAccumulator(events[0].EntityID, nil, len(events))
	acc.Add(events...)
	ids := make([]ir.EventID, 0, acc.Len())
	for _, ev := range events {
		ids = append(ids, ev.ID)
	}
	ids = dedupe(ids)

	layers, err := acc.LocalLayers()
	if err != nil {
		e.staging.Discard(ids...)
		return nil, fmt.Errorf("ingest: %w", err)
	}
	layers.Sort(ids)

	outcomes := make([]Outcome, 0, len(ids))
	var applied, rejected int
	for i, id := range ids {
		ev, _ := acc.Event(id)
		out, err := e.apply(ctx, session, ev)
		if err != nil {
			if IsApplyError(err) {
				out.Err = err
				outcomes = append(outcomes, out)
				rejected++
				continue
			}
			e.staging.Discard(ids[i:]...)
			return outcomes, err
		}
		outcomes = append(outcomes, out)
		if !out.Known {
			applied++
		}
	}

	e.logger.Info("batch ingested",
		"session", session,
		"events", len(ids),
		"applied", applied,
		"rejected", rejected)
	return outcomes, nil
}

func dedupe(ids []ir.EventID) []ir.EventID {
	seen := make(map[ir.EventID]struct{}, len(ids))
	out := ids[:0]
	for _, id := range ids {
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}

// Order returns the events of the entity's current head in deterministic
// order: ascending full-history layer, then ascending id.
func (e *Engine) Order(ctx context.Context, entity ir.EntityID) ([]ir.Event, error) {
	head, err := e.backend.Head(ctx, entity)
	if err != nil {
		return nil, fmt.Errorf("read head of %s: %w", entity, err)
	}
	got, err := e.backend.FetchEvents(ctx, head.IDs())
	if err != nil {
		return nil, fmt.Errorf("fetch head events: %w", err)
	}
	events := make([]ir.Event, 0, len(got))
	for _, id := range head.IDs() {
		ev, ok := got[id]
		if !ok {
			return nil, &causal.RetrievalError{Entity: entity, Missing: []ir.EventID{id}}
		}
		events = append(events, ev)
	}
	return e.comparator.ResolveOrder(ctx, events)
}

// History returns every committed event of the entity in deterministic
// order. Unlike the backend's seq order it is identical on every replica
// holding the same events.
func (e *Engine) History(ctx context.Context, entity ir.EntityID) ([]ir.Event, error) {
	stored, err := e.backend.EntityEvents(ctx, entity)
	if err != nil {
		return nil, fmt.Errorf("read events of %s: %w", entity, err)
	}
	events := make([]ir.Event, len(stored))
	for i, se := range stored {
		events[i] = se.Event
	}
	return e.comparator.ResolveOrder(ctx, events)
}

// Enqueue submits work for the Run loop.
// Returns false if the engine has been stopped.
func (e *Engine) Enqueue(s Submission) bool {
	return e.queue.Enqueue(s)
}

// Run processes submissions in FIFO order until ctx is cancelled or Stop is
// called and the queue has drained.
//
// A failed submission is logged with its context and processing continues;
// the error is also delivered on the submission's Reply channel.
func (e *Engine) Run(ctx context.Context) error {
	e.logger.Info("engine starting", "seq", e.clock.Current())

	for {
		s, ok := e.queue.TryDequeue()
		if ok {
			e.process(ctx, s)
			continue
		}

		select {
		case <-ctx.Done():
			e.logger.Info("engine stopping: context cancelled")
			e.queue.Close()
			return ctx.Err()
		case <-e.queue.Wait():
			if e.queue.IsClosed() && e.queue.Len() == 0 {
				e.logger.Info("engine stopping: queue closed")
				return nil
			}
		}
	}
}

// Stop closes the queue. Run returns once queued submissions are processed.
func (e *Engine) Stop() {
	e.queue.Close()
}

func (e *Engine) process(ctx context.Context, s Submission) {
	if s.Session == "" {
		s.Session = e.sessions.Generate()
	}

	res := e.processSubmission(ctx, s)
	if res.Err != nil {
		e.logSubmissionError(s, res.Err)
	}
	if s.Reply == nil {
		return
	}
	select {
	case s.Reply <- res:
	case <-ctx.Done():
	}
}

func (e *Engine) processSubmission(ctx context.Context, s Submission) Result {
	e.mu.Lock()
	defer e.mu.Unlock()

	switch s.Type {
	case SubmitCreate:
		ev, err := e.create(ctx, s.Session, s.Entity, s.Payload)
		return Result{Created: ev, Err: err}
	case SubmitIngest:
		outs, err := e.ingest(ctx, s.Session, s.Events)
		return Result{Outcomes: outs, Err: err}
	default:
		return Result{Err: fmt.Errorf("unknown submission type: %d", s.Type)}
	}
}

// logSubmissionError records enough of the submission to replay it by hand.
func (e *Engine) logSubmissionError(s Submission, err error) {
	attrs := []any{
		"type", s.Type,
		"session", s.Session,
		"error", err,
	}
	switch s.Type {
	case SubmitCreate:
		attrs = append(attrs, "entity", s.Entity, "payload_bytes", len(s.Payload))
	case SubmitIngest:
		attrs = append(attrs, "events", len(s.Events))
	}
	e.logger.Error("submission failed", attrs...)
}
