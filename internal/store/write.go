package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/roach88/lineage/internal/ir"
)

// CommitEvent atomically records ev and moves the entity head from prev to
// next.
//
// The event insert uses ON CONFLICT(id) DO NOTHING, so committing a known
// event only moves the head. If the stored head is not prev the transaction
// is rolled back and ir.ErrHeadConflict is returned.
func (s *Store) CommitEvent(ctx context.Context, ev ir.Event, seq int64, prev, next ir.Clock) error {
	precursors, err := marshalClock(ev.Precursors)
	if err != nil {
		return fmt.Errorf("commit event: %w", err)
	}
	nextJSON, err := marshalClock(next)
	if err != nil {
		return fmt.Errorf("commit event: %w", err)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("commit event: begin tx: %w", err)
	}
	defer tx.Rollback() // No-op if committed

	current, err := readHead(ctx, tx, ev.EntityID)
	if err != nil {
		return fmt.Errorf("commit event: %w", err)
	}
	if !current.Equal(prev) {
		return fmt.Errorf("commit event %s: stored head %s, expected %s: %w",
			ev.ID.Short(), current, prev, ir.ErrHeadConflict)
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO events (id, entity_id, payload, precursors, seq)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(id) DO NOTHING
	`,
		ev.ID.String(),
		ev.EntityID.String(),
		ev.Payload,
		precursors,
		seq,
	)
	if err != nil {
		return fmt.Errorf("commit event: insert: %w", err)
	}

	if !next.Equal(current) {
		_, err = tx.ExecContext(ctx, `
			INSERT INTO heads (entity_id, clock, seq)
			VALUES (?, ?, ?)
			ON CONFLICT(entity_id) DO UPDATE SET clock = excluded.clock, seq = excluded.seq
		`,
			ev.EntityID.String(),
			nextJSON,
			seq,
		)
		if err != nil {
			return fmt.Errorf("commit event: update head: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit event: commit tx: %w", err)
	}
	return nil
}

// querier is satisfied by both *sql.DB and *sql.Tx.
type querier interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// readHead returns the stored head, or the empty clock for an entity with
// no history.
func readHead(ctx context.Context, q querier, entity ir.EntityID) (ir.Clock, error) {
	var clock string
	err := q.QueryRowContext(ctx, `SELECT clock FROM heads WHERE entity_id = ?`, entity.String()).Scan(&clock)
	if errors.Is(err, sql.ErrNoRows) {
		return ir.Clock{}, nil
	}
	if err != nil {
		return ir.Clock{}, fmt.Errorf("read head: %w", err)
	}
	return unmarshalClock(clock)
}
