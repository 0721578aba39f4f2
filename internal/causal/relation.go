package causal

import "fmt"

// Relation is the causal relationship of clock A to clock B.
type Relation int

const (
	// Indeterminate means no verdict could be reached: the budget ran out at
	// the maximum escalation, or history could not be retrieved. It is the
	// zero value so an unset Relation is never mistaken for a verdict.
	Indeterminate Relation = iota

	// Equal means both clocks have the same members.
	Equal

	// Descends means A strictly follows B: every member of B is in A's
	// causal closure.
	Descends

	// Precedes means A strictly comes before B.
	Precedes

	// Concurrent means neither clock's closure covers the other.
	Concurrent
)

var relationNames = map[Relation]string{
	Indeterminate: "indeterminate",
	Equal:         "equal",
	Descends:      "descends",
	Precedes:      "precedes",
	Concurrent:    "concurrent",
}

func (r Relation) String() string {
	if name, ok := relationNames[r]; ok {
		return name
	}
	return fmt.Sprintf("Relation(%d)", int(r))
}

// Inverse returns the relation of B to A.
func (r Relation) Inverse() Relation {
	switch r {
	case Descends:
		return Precedes
	case Precedes:
		return Descends
	default:
		return r
	}
}

// IsDecided reports whether r is a verdict rather than Indeterminate.
func (r Relation) IsDecided() bool {
	return r != Indeterminate
}

// ParseRelation parses the lowercase name produced by String.
func ParseRelation(s string) (Relation, error) {
	for r, name := range relationNames {
		if name == s {
			return r, nil
		}
	}
	return Indeterminate, fmt.Errorf("unknown relation %q", s)
}

// MarshalText implements encoding.TextMarshaler.
func (r Relation) MarshalText() ([]byte, error) {
	return []byte(r.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (r *Relation) UnmarshalText(text []byte) error {
	parsed, err := ParseRelation(string(text))
	if err != nil {
		return err
	}
	*r = parsed
	return nil
}
