package retrieval

import (
	"context"
	"fmt"

	"golang.org/x/sync/errgroup"

	"github.com/roach88/lineage/internal/causal"
	"github.com/roach88/lineage/internal/ir"
)

// Merged queries several sources concurrently and unions the results.
// When two sources return the same id, the earlier source wins.
// Any source error fails the whole batch, since a missing answer from one
// source cannot be told apart from "not found".
type Merged struct {
	sources []causal.Retriever
}

// NewMerged creates a merged view over sources, in priority order.
func NewMerged(sources ...causal.Retriever) *Merged {
	return &Merged{sources: sources}
}

// FetchEvents implements causal.Retriever.
func (m *Merged) FetchEvents(ctx context.Context, ids []ir.EventID) (map[ir.EventID]ir.Event, error) {
	results := make([]map[ir.EventID]ir.Event, len(m.sources))

	g, gctx := errgroup.WithContext(ctx)
	for i, src := range m.sources {
		g.Go(func() error {
			got, err := src.FetchEvents(gctx, ids)
			if err != nil {
				return fmt.Errorf("source %d: %w", i, err)
			}
			results[i] = got
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	out := make(map[ir.EventID]ir.Event, len(ids))
	for _, got := range results {
		for id, ev := range got {
			if _, ok := out[id]; !ok {
				out[id] = ev
			}
		}
	}
	return out, nil
}
