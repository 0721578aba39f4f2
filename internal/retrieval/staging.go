package retrieval

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"golang.org/x/sync/singleflight"

	"github.com/roach88/lineage/internal/causal"
	"github.com/roach88/lineage/internal/ir"
)

// ErrNotStaged is returned by Admit when the event is not in the staging
// area, typically because a concurrent Admit already moved it.
var ErrNotStaged = errors.New("event is not staged")

// CommitFunc writes one validated event to permanent storage.
type CommitFunc func(ctx context.Context, ev ir.Event) error

// Staging holds received-but-unvalidated events in front of committed
// storage. FetchEvents resolves staged events first and falls through to
// the committed store for the rest, so comparisons see both uniformly.
//
// Thread-safety: all methods are safe for concurrent use. Concurrent
// Admit calls for the same event run the commit once.
type Staging struct {
	committed causal.Retriever

	mu     sync.RWMutex
	staged map[ir.EventID]ir.Event

	admits singleflight.Group
}

// NewStaging creates a staging area over committed.
func NewStaging(committed causal.Retriever) *Staging {
	return &Staging{
		committed: committed,
		staged:    make(map[ir.EventID]ir.Event),
	}
}

// Stage adds events after checking each one's content hash. Nothing is
// staged if any event fails.
func (s *Staging) Stage(events ...ir.Event) error {
	for _, ev := range events {
		if err := ev.Verify(); err != nil {
			return fmt.Errorf("stage event %s: %w", ev.ID.Short(), err)
		}
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, ev := range events {
		s.staged[ev.ID] = ev
	}
	return nil
}

// IsStaged reports whether id is waiting in the staging area.
func (s *Staging) IsStaged(id ir.EventID) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.staged[id]
	return ok
}

// Len returns the number of staged events.
func (s *Staging) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.staged)
}

// Discard drops staged events. Unknown ids are ignored.
func (s *Staging) Discard(ids ...ir.EventID) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, id := range ids {
		delete(s.staged, id)
	}
}

// FetchEvents implements causal.Retriever.
func (s *Staging) FetchEvents(ctx context.Context, ids []ir.EventID) (map[ir.EventID]ir.Event, error) {
	out := make(map[ir.EventID]ir.Event, len(ids))
	var rest []ir.EventID

	s.mu.RLock()
	for _, id := range ids {
		if ev, ok := s.staged[id]; ok {
			out[id] = ev
			continue
		}
		rest = append(rest, id)
	}
	s.mu.RUnlock()

	if len(rest) == 0 || s.committed == nil {
		return out, nil
	}
	got, err := s.committed.FetchEvents(ctx, rest)
	if err != nil {
		return nil, err
	}
	for id, ev := range got {
		out[id] = ev
	}
	return out, nil
}

// Admit moves a staged event into permanent storage through commit and
// removes it from staging once commit succeeds. If commit fails the event
// stays staged.
//
// Concurrent calls for the same id share one commit and its result.
func (s *Staging) Admit(ctx context.Context, id ir.EventID, commit CommitFunc) error {
	_, err, _ := s.admits.Do(id.String(), func() (any, error) {
		s.mu.RLock()
		ev, ok := s.staged[id]
		s.mu.RUnlock()
		if !ok {
			return nil, fmt.Errorf("admit %s: %w", id.Short(), ErrNotStaged)
		}

		if err := commit(ctx, ev); err != nil {
			return nil, fmt.Errorf("admit %s: %w", id.Short(), err)
		}

		s.mu.Lock()
		delete(s.staged, id)
		s.mu.Unlock()
		return nil, nil
	})
	return err
}
