package causal

import "fmt"

// DefaultBudget is the default number of traversal steps per comparison.
// Most comparisons between two online replicas resolve in a handful of
// steps because frontiers are narrow.
const DefaultBudget = 1000

// DefaultMaxEscalation caps escalation at this multiple of the base budget.
// With doubling from DefaultBudget the limits are 1000, 2000, 4000.
const DefaultMaxEscalation = 4

// Budget tracks traversal steps against a limit.
//
// One Budget belongs to one comparison. It is charged once per fetched
// event. Raise lifts the limit without resetting the count, which is what
// lets an escalated traversal resume rather than restart.
type Budget struct {
	limit int
	used  int
}

// NewBudget creates a budget with the given step limit.
func NewBudget(limit int) *Budget {
	return &Budget{limit: limit}
}

// Spend charges n steps.
// Returns BudgetExhaustedError if the charge would pass the limit; in that
// case nothing is charged.
func (b *Budget) Spend(n int) error {
	if b.used+n > b.limit {
		return &BudgetExhaustedError{Steps: b.used, Limit: b.limit}
	}
	b.used += n
	return nil
}

// Remaining returns how many steps may still be spent.
func (b *Budget) Remaining() int {
	if b.used >= b.limit {
		return 0
	}
	return b.limit - b.used
}

// Raise sets a new, larger limit. Smaller values are ignored.
func (b *Budget) Raise(limit int) {
	if limit > b.limit {
		b.limit = limit
	}
}

// Used returns the steps spent so far.
func (b *Budget) Used() int {
	return b.used
}

// Limit returns the current limit.
func (b *Budget) Limit() int {
	return b.limit
}

func (b *Budget) String() string {
	return fmt.Sprintf("%d/%d steps", b.used, b.limit)
}
