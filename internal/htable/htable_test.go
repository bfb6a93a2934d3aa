package htable

import (
	"testing"

	"github.com/stretchr/testify/require"
	"trilox/internal/value"
)

func str(s string) *value.ObjString {
	return &value.ObjString{Chars: s, Hash: value.HashString(s)}
}

func TestSetGetRoundtrip(t *testing.T) {
	tbl := New()
	k := str("x")
	isNew := tbl.Set(k, value.NewNumber(42))
	require.True(t, isNew)

	got, ok := tbl.Get(k)
	require.True(t, ok)
	require.Equal(t, 42.0, got.Num)
}

func TestDeleteThenReuseTombstoneDoesNotDoubleCount(t *testing.T) {
	tbl := New()
	a, b := str("a"), str("b")
	tbl.Set(a, value.NewNumber(1))
	tbl.Set(b, value.NewNumber(2))
	require.Equal(t, 2, tbl.Count())

	require.True(t, tbl.Delete(a))
	_, ok := tbl.Get(a)
	require.False(t, ok)

	// b must still be reachable: probing through a's tombstone must continue.
	got, ok := tbl.Get(b)
	require.True(t, ok)
	require.Equal(t, 2.0, got.Num)

	// Re-inserting a lands in its tombstone, which count already includes.
	require.True(t, tbl.Set(a, value.NewNumber(3)))
	require.Equal(t, 2, tbl.Count())
}

func TestFindStringInterning(t *testing.T) {
	tbl := New()
	k := str("hello")
	tbl.Set(k, value.NewNumber(1))

	found := tbl.FindString("hello", value.HashString("hello"))
	require.Same(t, k, found)

	require.Nil(t, tbl.FindString("nope", value.HashString("nope")))
}

func TestNthEntryOrderIsSlotOrder(t *testing.T) {
	tbl := New()
	for _, s := range []string{"one", "two", "three", "four", "five"} {
		tbl.Set(str(s), value.NewNumber(1))
	}

	var slotOrder []string
	tbl.Each(func(k *value.ObjString, _ value.Value) {
		slotOrder = append(slotOrder, k.Chars)
	})

	seen := map[string]bool{}
	var nthOrder []string
	for i := 0; i < tbl.Count(); i++ {
		k, _, ok := tbl.NthEntry(i)
		require.True(t, ok)
		seen[k.Chars] = true
		nthOrder = append(nthOrder, k.Chars)
	}
	require.Len(t, seen, 5)
	require.Equal(t, slotOrder, nthOrder)
}

func TestRemoveWhiteDeletesUnmarked(t *testing.T) {
	tbl := New()
	live, dead := str("live"), str("dead")
	tbl.Set(live, value.NewNumber(1))
	tbl.Set(dead, value.NewNumber(2))

	tbl.RemoveWhite(func(k *value.ObjString) bool { return k == live })

	_, ok := tbl.Get(live)
	require.True(t, ok)
	_, ok = tbl.Get(dead)
	require.False(t, ok)
}

func TestGrowsPastLoadFactor(t *testing.T) {
	tbl := New()
	for i := 0; i < 100; i++ {
		tbl.Set(str(string(rune('a'+i%26))+string(rune(i))), value.NewNumber(float64(i)))
	}
	require.Equal(t, 100, tbl.Count())
}
