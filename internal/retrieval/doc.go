// Package retrieval provides implementations of causal.Retriever.
//
// Memory is a map-backed store for tests and simulated peers. Merged fans a
// batch out to several sources at once. Staging holds events received from
// a peer but not yet admitted to permanent storage, and serves them through
// the same interface as committed events so a comparison can validate an
// inbound chain before anything is written.
package retrieval
