package store

import (
	"context"
	"fmt"

	"github.com/roach88/lineage/internal/ir"
)

// ScanEvents streams every committed event, across all entities, in ingest
// order. It stops at the first error returned by fn.
//
// Used by integrity verification to replay history without loading the
// whole store into memory. fn must not call back into the store: the
// single connection is held until the scan ends.
func (s *Store) ScanEvents(ctx context.Context, fn func(ir.StoredEvent) error) error {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, entity_id, payload, precursors, seq
		FROM events
		ORDER BY seq ASC, id COLLATE BINARY ASC
	`)
	if err != nil {
		return fmt.Errorf("scan events: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		ev, err := scanEvent(rows)
		if err != nil {
			return err
		}
		if err := fn(ev); err != nil {
			return err
		}
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("iterate events: %w", err)
	}
	return nil
}
