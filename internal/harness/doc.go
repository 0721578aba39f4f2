// Package harness runs replication scenarios against real engines.
//
// A scenario declares a labelled event history, delivers it to one or more
// in-memory replicas in batches, and asserts on the result. Every replica
// is an independent engine.Engine over its own backend, so a scenario
// exercises the same Ingest, Compare and Order paths production does.
//
// # Scenario Format
//
//	name: concurrent_writers
//	description: "Two writers fork from a root and a merge joins them"
//	session: sync-1
//	events:
//	  - label: e0
//	  - label: a1
//	    parents: [e0]
//	  - label: b1
//	    parents: [e0]
//	replicas:
//	  - name: r1
//	    backend: sqlite
//	    batches:
//	      - [e0, a1]
//	      - [b1]
//	  - name: r2
//	    backend: badger
//	    batches:
//	      - [b1, a1, e0]
//	assertions:
//	  - type: relation
//	    a: [a1]
//	    b: [b1]
//	    expect: concurrent
//	  - type: head
//	    replica: r1
//	    events: [a1, b1]
//	  - type: converged
//
// # Assertion Types
//
//   - relation: Compares clock a to clock b, on a replica or the full history
//   - head: Checks a replica's head as a set
//   - order: Checks the deterministic order of a replica's head
//   - history: Checks the deterministic order of a replica's whole history
//   - rejected: Checks which events a replica rejected, optionally by code
//   - converged: Checks every replica holds the same head and history
//
// # Deterministic Testing
//
// Event payloads are their labels, so ids are stable across runs. Sessions
// come from a fixed token and every replica starts at seq 0, so traces are
// byte-identical across runs and fit golden file comparison.
package harness
