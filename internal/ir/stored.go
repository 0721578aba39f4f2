package ir

import "errors"

// ErrHeadConflict is returned by a backend commit when the entity's stored
// head is not the one the caller based its update on.
var ErrHeadConflict = errors.New("entity head changed concurrently")

// StoredEvent is a committed event with its local ingest sequence.
// Seq orders commits on this replica only; it is never part of identity
// and never compared across replicas.
type StoredEvent struct {
	Event
	Seq int64 `json:"seq"`
}
