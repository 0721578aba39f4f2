// Package store provides SQLite-backed durable storage for committed events
// and entity heads.
//
// The store holds two tables:
//   - events: append-only, content-addressed event records
//   - heads: the authoritative current Clock for each entity
//
// # Invariants
//
// Idempotent inserts
//   - events.id is the content address, inserts use ON CONFLICT DO NOTHING
//   - Writing the same event twice is a no-op
//
// Logical time only
//   - All ordering uses seq INTEGER (local ingest order), NEVER timestamps
//
// Deterministic query results
//   - Every multi-row query ends in ORDER BY seq ASC, id COLLATE BINARY ASC
//
// Head compare-and-swap
//   - CommitEvent moves a head only if it still equals the caller's prev clock
//   - Otherwise it fails with ir.ErrHeadConflict and writes nothing
//
// # Database Configuration
//
//   - WAL mode: Concurrent reads during writes
//   - synchronous=NORMAL: Balance durability/performance
//   - busy_timeout=5000: Wait for locks up to 5 seconds
//   - foreign_keys=ON: Enforce referential integrity
package store
