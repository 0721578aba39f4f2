package causal

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBudget_SpendUntilExhausted(t *testing.T) {
	b := NewBudget(3)

	require.NoError(t, b.Spend(2))
	assert.Equal(t, 1, b.Remaining())

	err := b.Spend(2)
	var be *BudgetExhaustedError
	require.ErrorAs(t, err, &be)
	assert.Equal(t, 2, be.Steps)
	assert.Equal(t, 3, be.Limit)
	assert.Equal(t, 2, b.Used(), "failed spend charges nothing")

	require.NoError(t, b.Spend(1))
	assert.Zero(t, b.Remaining())
}

func TestBudget_RaiseKeepsUsage(t *testing.T) {
	b := NewBudget(2)
	require.NoError(t, b.Spend(2))

	b.Raise(4)
	assert.Equal(t, 4, b.Limit())
	assert.Equal(t, 2, b.Used())
	assert.Equal(t, 2, b.Remaining())

	b.Raise(1)
	assert.Equal(t, 4, b.Limit(), "raise never lowers")
	assert.Equal(t, "2/4 steps", b.String())
}

func TestBudgetExhaustedError_Code(t *testing.T) {
	err := &BudgetExhaustedError{Steps: 10, Limit: 10}
	assert.Equal(t, ErrCodeBudgetExhausted, err.Code())
	assert.Contains(t, err.Error(), "BUDGET_EXHAUSTED")
	assert.True(t, IsBudgetExhausted(err))
	assert.False(t, IsRetrievalFailure(err))
}
