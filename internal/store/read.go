package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/roach88/lineage/internal/ir"
)

// maxBatch keeps IN (...) lists under SQLite's bound-parameter limit.
const maxBatch = 500

// Head returns the current head clock for entity.
// An entity with no history has the empty clock.
func (s *Store) Head(ctx context.Context, entity ir.EntityID) (ir.Clock, error) {
	return readHead(ctx, s.db, entity)
}

// HasEvent reports whether id is committed.
func (s *Store) HasEvent(ctx context.Context, id ir.EventID) (bool, error) {
	var one int
	err := s.db.QueryRowContext(ctx, `SELECT 1 FROM events WHERE id = ?`, id.String()).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("has event: %w", err)
	}
	return true, nil
}

// FetchEvents implements causal.Retriever over committed events.
// Ids not in the store are absent from the result.
func (s *Store) FetchEvents(ctx context.Context, ids []ir.EventID) (map[ir.EventID]ir.Event, error) {
	out := make(map[ir.EventID]ir.Event, len(ids))
	for start := 0; start < len(ids); start += maxBatch {
		end := min(start+maxBatch, len(ids))
		if err := s.fetchBatch(ctx, ids[start:end], out); err != nil {
			return nil, err
		}
	}
	return out, nil
}

func (s *Store) fetchBatch(ctx context.Context, ids []ir.EventID, out map[ir.EventID]ir.Event) error {
	args := make([]any, len(ids))
	for i, id := range ids {
		args[i] = id.String()
	}
	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(ids)), ",")

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, entity_id, payload, precursors, seq
		FROM events
		WHERE id IN (`+placeholders+`)
	`, args...)
	if err != nil {
		return fmt.Errorf("fetch events: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		ev, err := scanEvent(rows)
		if err != nil {
			return err
		}
		out[ev.ID] = ev.Event
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("iterate events: %w", err)
	}
	return nil
}

// EntityEvents returns every committed event for entity in ingest order.
// Results are ordered deterministically: ORDER BY seq ASC, id COLLATE BINARY ASC.
//
// Returns an empty slice (not nil) for an unknown entity.
func (s *Store) EntityEvents(ctx context.Context, entity ir.EntityID) ([]ir.StoredEvent, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, entity_id, payload, precursors, seq
		FROM events
		WHERE entity_id = ?
		ORDER BY seq ASC, id COLLATE BINARY ASC
	`, entity.String())
	if err != nil {
		return nil, fmt.Errorf("query entity events: %w", err)
	}
	defer rows.Close()

	events := []ir.StoredEvent{}
	for rows.Next() {
		ev, err := scanEvent(rows)
		if err != nil {
			return nil, err
		}
		events = append(events, ev)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate entity events: %w", err)
	}
	return events, nil
}

// Entities returns every entity with a head, in id order.
func (s *Store) Entities(ctx context.Context) ([]ir.EntityID, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT entity_id FROM heads ORDER BY entity_id COLLATE BINARY ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("query entities: %w", err)
	}
	defer rows.Close()

	entities := []ir.EntityID{}
	for rows.Next() {
		var raw string
		if err := rows.Scan(&raw); err != nil {
			return nil, fmt.Errorf("scan entity: %w", err)
		}
		id, err := ir.ParseEntityID(raw)
		if err != nil {
			return nil, err
		}
		entities = append(entities, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate entities: %w", err)
	}
	return entities, nil
}

// MaxSeq returns the highest committed seq, or 0 for an empty store.
func (s *Store) MaxSeq(ctx context.Context) (int64, error) {
	var seq int64
	if err := s.db.QueryRowContext(ctx, `SELECT COALESCE(MAX(seq), 0) FROM events`).Scan(&seq); err != nil {
		return 0, fmt.Errorf("max seq: %w", err)
	}
	return seq, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanEvent(row rowScanner) (ir.StoredEvent, error) {
	var (
		id, entity, precursors string
		payload                []byte
		seq                    int64
	)
	if err := row.Scan(&id, &entity, &payload, &precursors, &seq); err != nil {
		return ir.StoredEvent{}, fmt.Errorf("scan event: %w", err)
	}

	var ev ir.StoredEvent
	var err error
	if ev.ID, err = ir.ParseEventID(id); err != nil {
		return ir.StoredEvent{}, fmt.Errorf("scan event: %w", err)
	}
	if ev.EntityID, err = ir.ParseEntityID(entity); err != nil {
		return ir.StoredEvent{}, fmt.Errorf("scan event %s: %w", ev.ID.Short(), err)
	}
	if ev.Precursors, err = unmarshalClock(precursors); err != nil {
		return ir.StoredEvent{}, fmt.Errorf("scan event %s: %w", ev.ID.Short(), err)
	}
	if payload == nil {
		payload = []byte{}
	}
	ev.Payload = payload
	ev.Seq = seq
	return ev, nil
}
