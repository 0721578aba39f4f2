package ir

import (
	"encoding/json"
	"slices"
	"strings"
)

// Clock is a set of event ids denoting the concurrent heads of an entity's
// history. The zero value is the empty clock (an entity with no history).
//
// A Clock is immutable: every operation returns a new value. Members are
// kept sorted by byte order and deduplicated, so two clocks with the same
// members are identical regardless of how they were built.
type Clock struct {
	ids []EventID
}

// NewClock builds a clock from ids in any order, dropping duplicates.
func NewClock(ids ...EventID) Clock {
	if len(ids) == 0 {
		return Clock{}
	}
	sorted := slices.Clone(ids)
	slices.SortFunc(sorted, EventID.Compare)
	return Clock{ids: slices.Compact(sorted)}
}

// ParseClock parses a comma-separated list of hex event ids.
// An empty string is the empty clock.
func ParseClock(s string) (Clock, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return Clock{}, nil
	}
	parts := strings.Split(s, ",")
	ids := make([]EventID, 0, len(parts))
	for _, p := range parts {
		id, err := ParseEventID(strings.TrimSpace(p))
		if err != nil {
			return Clock{}, err
		}
		ids = append(ids, id)
	}
	return NewClock(ids...), nil
}

// Len returns the number of members.
func (c Clock) Len() int {
	return len(c.ids)
}

// IsEmpty reports whether the clock has no members.
func (c Clock) IsEmpty() bool {
	return len(c.ids) == 0
}

// IDs returns a copy of the members in ascending byte order.
func (c Clock) IDs() []EventID {
	return slices.Clone(c.ids)
}

// Contains reports whether id is a member.
func (c Clock) Contains(id EventID) bool {
	_, found := slices.BinarySearchFunc(c.ids, id, EventID.Compare)
	return found
}

// Equal reports whether both clocks have exactly the same members.
func (c Clock) Equal(other Clock) bool {
	return slices.Equal(c.ids, other.ids)
}

// Union returns a clock containing the members of both.
func (c Clock) Union(other Clock) Clock {
	return NewClock(append(c.IDs(), other.ids...)...)
}

// With returns a clock with id added.
func (c Clock) With(id EventID) Clock {
	return NewClock(append(c.IDs(), id)...)
}

// Without returns a clock with the given ids removed.
func (c Clock) Without(ids ...EventID) Clock {
	out := make([]EventID, 0, len(c.ids))
	for _, id := range c.ids {
		if !slices.Contains(ids, id) {
			out = append(out, id)
		}
	}
	return Clock{ids: out}
}

// String renders the clock as a bracketed list of short ids.
func (c Clock) String() string {
	parts := make([]string, len(c.ids))
	for i, id := range c.ids {
		parts[i] = id.Short()
	}
	return "[" + strings.Join(parts, " ") + "]"
}

// Strings returns the full hex form of every member.
func (c Clock) Strings() []string {
	out := make([]string, len(c.ids))
	for i, id := range c.ids {
		out[i] = id.String()
	}
	return out
}

// MarshalJSON encodes the clock as a sorted array of hex ids.
func (c Clock) MarshalJSON() ([]byte, error) {
	return json.Marshal(c.Strings())
}

// UnmarshalJSON decodes an array of hex ids.
func (c *Clock) UnmarshalJSON(data []byte) error {
	var ids []EventID
	if err := json.Unmarshal(data, &ids); err != nil {
		return err
	}
	*c = NewClock(ids...)
	return nil
}
