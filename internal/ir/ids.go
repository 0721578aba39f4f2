package ir

import (
	"bytes"
	"encoding/hex"
	"fmt"

	"github.com/google/uuid"
)

// EntityID is the stable identity of a mutable record.
// New entities get a UUIDv7 so ids sort roughly by creation.
type EntityID uuid.UUID

// NewEntityID generates a fresh entity id.
func NewEntityID() EntityID {
	return EntityID(uuid.Must(uuid.NewV7()))
}

// ParseEntityID parses the canonical UUID text form.
func ParseEntityID(s string) (EntityID, error) {
	u, err := uuid.Parse(s)
	if err != nil {
		return EntityID{}, fmt.Errorf("parse entity id %q: %w", s, err)
	}
	return EntityID(u), nil
}

// MustParseEntityID is like ParseEntityID but panics on error.
// Use only in tests or with known-valid input.
func MustParseEntityID(s string) EntityID {
	id, err := ParseEntityID(s)
	if err != nil {
		panic(err)
	}
	return id
}

func (id EntityID) String() string {
	return uuid.UUID(id).String()
}

// IsZero reports whether id is the zero value.
func (id EntityID) IsZero() bool {
	return id == EntityID{}
}

// MarshalText implements encoding.TextMarshaler.
func (id EntityID) MarshalText() ([]byte, error) {
	return []byte(id.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (id *EntityID) UnmarshalText(text []byte) error {
	parsed, err := ParseEntityID(string(text))
	if err != nil {
		return err
	}
	*id = parsed
	return nil
}

// EventIDSize is the digest length in bytes (SHA-256).
const EventIDSize = 32

// EventID is the content address of one event.
type EventID [EventIDSize]byte

// ParseEventID parses a 64-character lowercase or uppercase hex digest.
func ParseEventID(s string) (EventID, error) {
	var id EventID
	if len(s) != hex.EncodedLen(EventIDSize) {
		return id, fmt.Errorf("parse event id %q: want %d hex characters, got %d", s, hex.EncodedLen(EventIDSize), len(s))
	}
	if _, err := hex.Decode(id[:], []byte(s)); err != nil {
		return id, fmt.Errorf("parse event id %q: %w", s, err)
	}
	return id, nil
}

// MustParseEventID is like ParseEventID but panics on error.
func MustParseEventID(s string) EventID {
	id, err := ParseEventID(s)
	if err != nil {
		panic(err)
	}
	return id
}

func (id EventID) String() string {
	return hex.EncodeToString(id[:])
}

// Short returns the first 12 hex characters, for logs.
func (id EventID) Short() string {
	return id.String()[:12]
}

// Compare orders ids by their bytes. This is the tie-break order for
// concurrent events, so it must never change.
func (id EventID) Compare(other EventID) int {
	return bytes.Compare(id[:], other[:])
}

// MarshalText implements encoding.TextMarshaler.
func (id EventID) MarshalText() ([]byte, error) {
	return []byte(id.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (id *EventID) UnmarshalText(text []byte) error {
	parsed, err := ParseEventID(string(text))
	if err != nil {
		return err
	}
	*id = parsed
	return nil
}
