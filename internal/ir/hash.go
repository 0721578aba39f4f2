package ir

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
)

// DomainEvent is the domain prefix for event identity.
// The schema version suffix allows future algorithm migration.
const DomainEvent = "lineage/event/v" + SchemaVersion

// hashWithDomain computes SHA-256 with domain separation.
// Format: SHA256(domain + 0x00 + data)
// The null byte separator prevents domain/data boundary ambiguity.
func hashWithDomain(domain string, data []byte) [sha256.Size]byte {
	h := sha256.New()
	h.Write([]byte(domain))
	h.Write([]byte{0x00})
	h.Write(data)
	var sum [sha256.Size]byte
	h.Sum(sum[:0])
	return sum
}

// eventIdentity builds the object hashed for an event's id.
// Precursors come from a Clock and are therefore already sorted and
// deduplicated; payload bytes are hex encoded.
func eventIdentity(entity EntityID, payload []byte, precursors Clock) Object {
	return Object{
		"entity_id":  String(entity.String()),
		"payload":    String(hex.EncodeToString(payload)),
		"precursors": stringArray(precursors.Strings()),
	}
}

func stringArray(ss []string) Array {
	arr := make(Array, len(ss))
	for i, s := range ss {
		arr[i] = String(s)
	}
	return arr
}

// EventIDOf computes the content address of an event.
// Identical (entity, payload, precursor set) always yields the same id, which
// is what makes receiving the same event twice a no-op.
func EventIDOf(entity EntityID, payload []byte, precursors Clock) (EventID, error) {
	canonical, err := MarshalCanonical(eventIdentity(entity, payload, precursors))
	if err != nil {
		return EventID{}, fmt.Errorf("EventIDOf: failed to marshal: %w", err)
	}
	return EventID(hashWithDomain(DomainEvent, canonical)), nil
}

// MustEventIDOf is like EventIDOf but panics on error.
// Use only in tests or when inputs are known to be valid.
func MustEventIDOf(entity EntityID, payload []byte, precursors Clock) EventID {
	id, err := EventIDOf(entity, payload, precursors)
	if err != nil {
		panic(err)
	}
	return id
}
