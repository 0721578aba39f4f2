package causal

// Frontier is the working set of one side of a backward traversal: an
// insertion-ordered set of ids. It shrinks as ids are consumed and grows as
// newly discovered precursors are added. Insertion order makes the visit
// order, and therefore step accounting, reproducible.
type Frontier[ID comparable] struct {
	order   []ID
	members map[ID]struct{}
}

// NewFrontier creates a frontier seeded with ids. Duplicates are ignored.
func NewFrontier[ID comparable](ids ...ID) *Frontier[ID] {
	f := &Frontier[ID]{members: make(map[ID]struct{}, len(ids))}
	f.Extend(ids...)
	return f
}

// Len returns the number of ids in the frontier.
func (f *Frontier[ID]) Len() int {
	return len(f.members)
}

// IsEmpty reports whether the frontier is exhausted.
func (f *Frontier[ID]) IsEmpty() bool {
	return len(f.members) == 0
}

// Contains reports whether id is in the frontier.
func (f *Frontier[ID]) Contains(id ID) bool {
	_, ok := f.members[id]
	return ok
}

// Extend appends ids not already present. Returns how many were added.
func (f *Frontier[ID]) Extend(ids ...ID) int {
	added := 0
	for _, id := range ids {
		if _, ok := f.members[id]; ok {
			continue
		}
		f.members[id] = struct{}{}
		f.order = append(f.order, id)
		added++
	}
	return added
}

// Remove deletes ids from the frontier. Returns how many were present.
func (f *Frontier[ID]) Remove(ids ...ID) int {
	removed := 0
	for _, id := range ids {
		if _, ok := f.members[id]; ok {
			delete(f.members, id)
			removed++
		}
	}
	if removed > 0 {
		f.compact()
	}
	return removed
}

// IDs returns the members in insertion order.
func (f *Frontier[ID]) IDs() []ID {
	out := make([]ID, len(f.order))
	copy(out, f.order)
	return out
}

func (f *Frontier[ID]) compact() {
	kept := f.order[:0]
	for _, id := range f.order {
		if _, ok := f.members[id]; ok {
			kept = append(kept, id)
		}
	}
	clear(f.order[len(kept):])
	f.order = kept
}
