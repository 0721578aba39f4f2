package causal

import (
	"context"

	"github.com/roach88/lineage/internal/ir"
)

// Retriever fetches events by id in batches.
//
// Contract:
//   - Every requested id that exists is present in the returned map.
//   - An id absent from the map is a definitive "not found".
//   - A non-nil error means the batch result is unknown; the map is ignored.
//
// Implementations may be backed by local storage, a staging area, a remote
// peer, or a merged view of several. Retrieval retries are the
// implementation's concern; the comparison engine never retries.
type Retriever interface {
	FetchEvents(ctx context.Context, ids []ir.EventID) (map[ir.EventID]ir.Event, error)
}

// RetrieverFunc adapts a function to the Retriever interface.
type RetrieverFunc func(ctx context.Context, ids []ir.EventID) (map[ir.EventID]ir.Event, error)

// FetchEvents implements Retriever.
func (f RetrieverFunc) FetchEvents(ctx context.Context, ids []ir.EventID) (map[ir.EventID]ir.Event, error) {
	return f(ctx, ids)
}

// fetchVerified fetches ids and checks every returned event: it must be the
// one requested, belong to entity, and hash to its id.
// Context cancellation is returned as is; every other failure becomes a
// *RetrievalError.
func fetchVerified(ctx context.Context, r Retriever, entity ir.EntityID, ids []ir.EventID) (map[ir.EventID]ir.Event, error) {
	got, err := r.FetchEvents(ctx, ids)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		return nil, &RetrievalError{Entity: entity, Err: err}
	}

	var missing, corrupt []ir.EventID
	for _, id := range ids {
		ev, ok := got[id]
		if !ok {
			missing = append(missing, id)
			continue
		}
		if ev.ID != id || ev.EntityID != entity || ev.Verify() != nil {
			corrupt = append(corrupt, id)
		}
	}
	switch {
	case len(missing) > 0:
		return nil, &RetrievalError{Entity: entity, Missing: missing}
	case len(corrupt) > 0:
		return nil, &RetrievalError{Entity: entity, Corrupt: corrupt}
	}
	return got, nil
}
