// Package causal implements the event-graph comparison engine.
//
// Given two clocks for the same entity, Compare decides whether they are
// equal, whether one strictly descends from the other, or whether they are
// concurrent. ResolveOrder assigns a deterministic total order to a set of
// mutually concurrent events.
//
// ALGORITHM:
//
// Bidirectional bounded BFS. Two frontiers walk backward along precursor
// edges, one seeded from each clock. Each side records what it has seen.
// A side stops expanding an id the other side has already seen: everything
// below a common ancestor is common, and with well-formed clocks no clock
// member can sit below it. The walk ends when one side has reached every
// member of the other clock (Descends or Precedes), or when both frontiers
// drain without that happening (Concurrent).
//
// Clocks with redundant members (one member an ancestor of another) are
// pruned first by pairwise comparison of singleton clocks, which are
// trivially well-formed.
//
// BUDGET:
//
// Every fetched event costs one step. When a traversal runs out of steps
// the budget is doubled and the traversal RESUMES from its current state,
// up to the configured multiple of the default (4x). Past that the result is
// Indeterminate. Budget is counted in steps, never wall time, so the same
// inputs produce the same verdict on every host.
//
// Indeterminate is a first-class outcome, never coerced to an ordering.
// Its Reason distinguishes missing data (*RetrievalError) from cost
// (*BudgetExhaustedError).
//
// CONCURRENCY:
//
// A Comparator holds no per-comparison state. Each call owns its frontiers,
// seen-sets, and accumulator, so calls may run concurrently. The Retriever
// must be safe for concurrent use.
package causal
