package gc

import (
	"testing"

	"github.com/stretchr/testify/require"
	"trilox/internal/value"
)

func TestAllocStringInterns(t *testing.T) {
	c := New()
	a := c.AllocString("hello")
	b := c.AllocString("hello")
	require.Same(t, a.Object, b.Object)
}

func TestCollectSweepsUnreachable(t *testing.T) {
	c := New()
	kept := c.AllocArray([]value.Value{value.NewNumber(1)})

	// Allocate a second array, then collect with roots containing only
	// `kept`: the unrooted array must be unreachable and swept.
	_ = c.AllocArray([]value.Value{value.NewNumber(2)})

	c.Collect(func(mark func(value.Value)) {
		mark(kept)
	})

	require.True(t, kept.Object.Header().Marked == false) // cleared after sweep
	// The object list now holds only `kept`: the second array was unlinked.
	require.True(t, c.objects == kept.Object)
	require.Nil(t, kept.Object.Header().Next)
}

func TestCollectKeepsTransitivelyReachable(t *testing.T) {
	c := New()
	inner := c.AllocString("nested")
	outer := c.AllocArray([]value.Value{inner})

	var sawInner bool
	c.Collect(func(mark func(value.Value)) {
		mark(outer)
	})
	outerArr := outer.Object.(*value.ObjArray)
	for _, v := range outerArr.Values {
		if v.IsString() && v.StringValue() == "nested" {
			sawInner = true
		}
	}
	require.True(t, sawInner)
	// The nested string was marked through the array, so the weak interning
	// sweep kept it: interning the same text again returns the same object.
	require.Same(t, inner.Object, c.AllocString("nested").Object)
}
