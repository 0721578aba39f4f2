package kvstore

import (
	"encoding/binary"

	"github.com/roach88/lineage/internal/ir"
)

var (
	prefixEvent  = []byte("ev/")
	prefixSeq    = []byte("seq/")
	prefixEntity = []byte("ent/")
	prefixHead   = []byte("head/")
	keyMaxSeq    = []byte("meta/seq")
)

func join(parts ...[]byte) []byte {
	n := 0
	for _, p := range parts {
		n += len(p)
	}
	out := make([]byte, 0, n)
	for _, p := range parts {
		out = append(out, p...)
	}
	return out
}

func encodeSeq(seq int64) []byte {
	var b [8]byte
	binary.BigEndian.PutUint64(b[:], uint64(seq))
	return b[:]
}

func decodeSeq(b []byte) int64 {
	return int64(binary.BigEndian.Uint64(b))
}

func eventKey(id ir.EventID) []byte {
	return join(prefixEvent, id[:])
}

func seqKey(seq int64, id ir.EventID) []byte {
	return join(prefixSeq, encodeSeq(seq), id[:])
}

func entityPrefix(entity ir.EntityID) []byte {
	return join(prefixEntity, entity[:])
}

func entityKey(entity ir.EntityID, seq int64, id ir.EventID) []byte {
	return join(entityPrefix(entity), encodeSeq(seq), id[:])
}

func headKey(entity ir.EntityID) []byte {
	return join(prefixHead, entity[:])
}

// idSuffix extracts the trailing event id from an index key.
func idSuffix(key []byte) ir.EventID {
	var id ir.EventID
	copy(id[:], key[len(key)-ir.EventIDSize:])
	return id
}
