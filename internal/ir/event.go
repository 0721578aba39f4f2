package ir

import (
	"errors"
	"fmt"
	"slices"
)

// ErrIDMismatch is returned by Verify when an event's contents do not hash
// to its recorded id.
var ErrIDMismatch = errors.New("event id does not match contents")

// Event is one immutable causal step in an entity's history.
//
// Events are created once by the originating node and never mutated.
// Precursors must only reference events that causally precede this one.
type Event struct {
	ID         EventID  `json:"id"`
	EntityID   EntityID `json:"entity_id"`
	Payload    []byte   `json:"payload"`
	Precursors Clock    `json:"precursors"`
}

// NewEvent builds an event and computes its id.
func NewEvent(entity EntityID, payload []byte, precursors Clock) (Event, error) {
	id, err := EventIDOf(entity, payload, precursors)
	if err != nil {
		return Event{}, err
	}
	return Event{
		ID:         id,
		EntityID:   entity,
		Payload:    slices.Clone(payload),
		Precursors: precursors,
	}, nil
}

// MustNewEvent is like NewEvent but panics on error.
func MustNewEvent(entity EntityID, payload []byte, precursors Clock) Event {
	ev, err := NewEvent(entity, payload, precursors)
	if err != nil {
		panic(err)
	}
	return ev
}

// IsRoot reports whether the event has no precursors.
func (e Event) IsRoot() bool {
	return e.Precursors.IsEmpty()
}

// Verify recomputes the content address and compares it to ID.
func (e Event) Verify() error {
	want, err := EventIDOf(e.EntityID, e.Payload, e.Precursors)
	if err != nil {
		return err
	}
	if want != e.ID {
		return fmt.Errorf("%w: recorded %s, computed %s", ErrIDMismatch, e.ID.Short(), want.Short())
	}
	return nil
}
