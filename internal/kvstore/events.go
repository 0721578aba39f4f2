package kvstore

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/dgraph-io/badger/v4"

	"github.com/roach88/lineage/internal/ir"
)

// CommitEvent atomically records ev and moves the entity head from prev to
// next. A known event is not rewritten. If the stored head is not prev, or
// a concurrent transaction touched it, ir.ErrHeadConflict is returned and
// nothing is written.
func (s *Store) CommitEvent(ctx context.Context, ev ir.Event, seq int64, prev, next ir.Clock) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	record, err := json.Marshal(ir.StoredEvent{Event: ev, Seq: seq})
	if err != nil {
		return fmt.Errorf("commit event: %w", err)
	}
	nextJSON, err := json.Marshal(next)
	if err != nil {
		return fmt.Errorf("commit event: %w", err)
	}

	err = s.db.Update(func(txn *badger.Txn) error {
		current, err := readHead(txn, ev.EntityID)
		if err != nil {
			return err
		}
		if !current.Equal(prev) {
			return fmt.Errorf("stored head %s, expected %s: %w", current, prev, ir.ErrHeadConflict)
		}

		known, err := exists(txn, eventKey(ev.ID))
		if err != nil {
			return err
		}
		if !known {
			if err := txn.Set(eventKey(ev.ID), record); err != nil {
				return err
			}
			if err := txn.Set(seqKey(seq, ev.ID), []byte{}); err != nil {
				return err
			}
			if err := txn.Set(entityKey(ev.EntityID, seq, ev.ID), []byte{}); err != nil {
				return err
			}
			if err := raiseMaxSeq(txn, seq); err != nil {
				return err
			}
		}

		if !next.Equal(current) {
			return txn.Set(headKey(ev.EntityID), nextJSON)
		}
		return nil
	})
	if errors.Is(err, badger.ErrConflict) {
		err = fmt.Errorf("%w: %w", ir.ErrHeadConflict, err)
	}
	if err != nil {
		return fmt.Errorf("commit event %s: %w", ev.ID.Short(), err)
	}
	return nil
}

// Head returns the current head clock for entity.
func (s *Store) Head(ctx context.Context, entity ir.EntityID) (ir.Clock, error) {
	var head ir.Clock
	err := s.db.View(func(txn *badger.Txn) error {
		var err error
		head, err = readHead(txn, entity)
		return err
	})
	if err != nil {
		return ir.Clock{}, fmt.Errorf("read head: %w", err)
	}
	return head, nil
}

// HasEvent reports whether id is committed.
func (s *Store) HasEvent(ctx context.Context, id ir.EventID) (bool, error) {
	var known bool
	err := s.db.View(func(txn *badger.Txn) error {
		var err error
		known, err = exists(txn, eventKey(id))
		return err
	})
	if err != nil {
		return false, fmt.Errorf("has event: %w", err)
	}
	return known, nil
}

// FetchEvents implements causal.Retriever over committed events.
func (s *Store) FetchEvents(ctx context.Context, ids []ir.EventID) (map[ir.EventID]ir.Event, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	out := make(map[ir.EventID]ir.Event, len(ids))
	err := s.db.View(func(txn *badger.Txn) error {
		for _, id := range ids {
			ev, ok, err := readEvent(txn, id)
			if err != nil {
				return err
			}
			if ok {
				out[id] = ev.Event
			}
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("fetch events: %w", err)
	}
	return out, nil
}

// EntityEvents returns every committed event for entity ordered by
// (seq, id). Returns an empty slice (not nil) for an unknown entity.
func (s *Store) EntityEvents(ctx context.Context, entity ir.EntityID) ([]ir.StoredEvent, error) {
	events := []ir.StoredEvent{}
	err := s.db.View(func(txn *badger.Txn) error {
		return scanIndex(txn, entityPrefix(entity), func(id ir.EventID) error {
			ev, ok, err := readEvent(txn, id)
			if err != nil {
				return err
			}
			if !ok {
				return fmt.Errorf("index references missing event %s", id.Short())
			}
			events = append(events, ev)
			return nil
		})
	})
	if err != nil {
		return nil, fmt.Errorf("entity events: %w", err)
	}
	return events, nil
}

// ScanEvents streams every committed event in ingest order.
func (s *Store) ScanEvents(ctx context.Context, fn func(ir.StoredEvent) error) error {
	return s.db.View(func(txn *badger.Txn) error {
		return scanIndex(txn, prefixSeq, func(id ir.EventID) error {
			if err := ctx.Err(); err != nil {
				return err
			}
			ev, ok, err := readEvent(txn, id)
			if err != nil {
				return err
			}
			if !ok {
				return fmt.Errorf("scan events: index references missing event %s", id.Short())
			}
			return fn(ev)
		})
	})
}

// Entities returns every entity with a head, in id byte order.
func (s *Store) Entities(ctx context.Context) ([]ir.EntityID, error) {
	entities := []ir.EntityID{}
	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		opts.Prefix = prefixHead
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Rewind(); it.Valid(); it.Next() {
			key := it.Item().Key()
			var id ir.EntityID
			copy(id[:], key[len(prefixHead):])
			entities = append(entities, id)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("entities: %w", err)
	}
	return entities, nil
}

// MaxSeq returns the highest committed seq, or 0 for an empty store.
func (s *Store) MaxSeq(ctx context.Context) (int64, error) {
	var seq int64
	err := s.db.View(func(txn *badger.Txn) error {
		var err error
		seq, err = readMaxSeq(txn)
		return err
	})
	if err != nil {
		return 0, fmt.Errorf("max seq: %w", err)
	}
	return seq, nil
}

func exists(txn *badger.Txn, key []byte) (bool, error) {
	_, err := txn.Get(key)
	if errors.Is(err, badger.ErrKeyNotFound) {
		return false, nil
	}
	return err == nil, err
}

func readEvent(txn *badger.Txn, id ir.EventID) (ir.StoredEvent, bool, error) {
	item, err := txn.Get(eventKey(id))
	if errors.Is(err, badger.ErrKeyNotFound) {
		return ir.StoredEvent{}, false, nil
	}
	if err != nil {
		return ir.StoredEvent{}, false, err
	}
	var ev ir.StoredEvent
	err = item.Value(func(val []byte) error {
		return json.Unmarshal(val, &ev)
	})
	if err != nil {
		return ir.StoredEvent{}, false, fmt.Errorf("decode event %s: %w", id.Short(), err)
	}
	if ev.Payload == nil {
		ev.Payload = []byte{}
	}
	return ev, true, nil
}

func readHead(txn *badger.Txn, entity ir.EntityID) (ir.Clock, error) {
	item, err := txn.Get(headKey(entity))
	if errors.Is(err, badger.ErrKeyNotFound) {
		return ir.Clock{}, nil
	}
	if err != nil {
		return ir.Clock{}, err
	}
	var head ir.Clock
	err = item.Value(func(val []byte) error {
		return json.Unmarshal(val, &head)
	})
	return head, err
}

func readMaxSeq(txn *badger.Txn) (int64, error) {
	item, err := txn.Get(keyMaxSeq)
	if errors.Is(err, badger.ErrKeyNotFound) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	var seq int64
	err = item.Value(func(val []byte) error {
		seq = decodeSeq(val)
		return nil
	})
	return seq, err
}

func raiseMaxSeq(txn *badger.Txn, seq int64) error {
	current, err := readMaxSeq(txn)
	if err != nil {
		return err
	}
	if seq <= current {
		return nil
	}
	return txn.Set(keyMaxSeq, encodeSeq(seq))
}

// scanIndex calls fn with the event id suffix of every key under prefix,
// in key order.
func scanIndex(txn *badger.Txn, prefix []byte, fn func(ir.EventID) error) error {
	opts := badger.DefaultIteratorOptions
	opts.PrefetchValues = false
	opts.Prefix = prefix
	it := txn.NewIterator(opts)
	defer it.Close()

	for it.Rewind(); it.Valid(); it.Next() {
		key := it.Item().Key()
		if !bytes.HasPrefix(key, prefix) {
			break
		}
		if err := fn(idSuffix(key)); err != nil {
			return err
		}
	}
	return nil
}
