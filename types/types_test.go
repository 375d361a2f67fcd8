package types

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSet(t *testing.T) {
	// Sets are created empty.
	s := MakeSet[int](10)
	assert.Len(t, s, 0)

	s.Insert(7, 3)
	assert.True(t, s.Has(3))
	assert.False(t, s.Has(5))

	s2 := SetWith(5, 7)
	assert.Equal(t, []int{3}, SortedElements(s.Sub(s2)))
	assert.Equal(t, []int{5}, SortedElements(s2.Sub(s)))
	assert.Equal(t, []int{3, 7}, SortedElements(s))
	assert.Empty(t, SortedElements(MakeSet[string]()))
}
