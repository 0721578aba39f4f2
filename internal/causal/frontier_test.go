package causal

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestFrontier_InsertionOrderAndDedup(t *testing.T) {
	f := NewFrontier("c", "a", "c", "b")

	assert.Equal(t, 3, f.Len())
	assert.Equal(t, []string{"c", "a", "b"}, f.IDs())
	assert.Equal(t, 1, f.Extend("a", "d"))
	assert.Equal(t, []string{"c", "a", "b", "d"}, f.IDs())
}

func TestFrontier_Remove(t *testing.T) {
	f := NewFrontier("a", "b", "c")

	assert.Equal(t, 2, f.Remove("a", "c", "zz"))
	assert.Equal(t, []string{"b"}, f.IDs())
	assert.True(t, f.Contains("b"))
	assert.False(t, f.Contains("a"))

	f.Remove("b")
	assert.True(t, f.IsEmpty())
	assert.Empty(t, f.IDs())
}

func TestFrontier_ReaddAfterRemove(t *testing.T) {
	f := NewFrontier(1, 2)
	f.Remove(1)
	f.Extend(1)
	assert.Equal(t, []int{2, 1}, f.IDs())
}

func TestFrontier_IDsIsACopy(t *testing.T) {
	f := NewFrontier("a")
	ids := f.IDs()
	ids[0] = "mutated"
	assert.Equal(t, []string{"a"}, f.IDs())
}
