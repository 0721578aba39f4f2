// Package engine materializes entity histories.
//
// The engine is the consumer of causal comparisons: it decides, for every
// local write and every event received from a peer, how the entity head
// moves, and commits the event and the new head together.
//
// Write path:
//  1. Events arrive through Create (local), Apply (one remote event) or
//     Ingest (a sync batch), directly or via Enqueue and the Run loop.
//  2. Remote events are staged and verified before anything is compared.
//  3. {event} is compared against the head; the verdict picks the new head.
//  4. Staging.Admit commits the event and moves the head in one backend
//     transaction, guarded by a compare-and-swap on the previous head.
//
// Writes are serialized, so heads move one event at a time. Replaying the
// committed events in seq order through a fresh engine reproduces every
// head; Verify relies on this.
//
// Events are stamped with a local sequence from Clock.Next(). The sequence
// is only a replay order for this replica. Wall-clock time is never used,
// and the order every replica agrees on comes from Order and History.
package engine
