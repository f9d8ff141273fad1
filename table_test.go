package rill

import (
	"testing"

	"github.com/google/go-cmp/cmp"
	fuzz "github.com/google/gofuzz"
	"github.com/stretchr/testify/require"
)

// strCmp lets go-cmp compare the *Str handles nested inside Value's
// unexported ptr field by content instead of by struct identity,
// matching RawEquals' own interned-handle semantics.
var strCmp = cmp.Comparer(func(a, b *Str) bool {
	if a == nil || b == nil {
		return a == b
	}
	return a.String() == b.String()
})

var tableCmpOpts = []cmp.Option{
	cmp.AllowUnexported(Table{}, hnode{}, Value{}, gcHeader{}),
	strCmp,
}

func TestTableArrayHashMigration(t *testing.T) {
	tbl := NewTable(0, 0)
	require.NoError(t, tbl.Set(NewValueNumber(1), NewValueNumber(10)))
	require.NoError(t, tbl.Set(NewValueNumber(2), NewValueNumber(20)))
	require.NoError(t, tbl.Set(NewValueNumber(100), NewValueNumber(100)))

	require.Equal(t, float64(10), tbl.Get(NewValueNumber(1)).AsNumber())
	require.Equal(t, float64(100), tbl.Get(NewValueNumber(100)).AsNumber())

	require.NoError(t, tbl.Set(NewValueNumber(3), NewValueNumber(30)))
	require.Equal(t, float64(30), tbl.Get(NewValueNumber(3)).AsNumber())
}

// TestTableFuzzMigrationInvariant checks §8.2: after any sequence of
// insertions/deletions, get(t,k) is the same value whether k currently
// lives in the array part or the hash part.
func TestTableFuzzMigrationInvariant(t *testing.T) {
	f := fuzz.New().NilChance(0).NumElements(1, 64)
	tbl := NewTable(0, 0)
	shadow := map[int]float64{}

	var keys []int
	f.Fuzz(&keys)

	for i, k := range keys {
		key := (k % 50) + 1
		val := float64(i)
		require.NoError(t, tbl.Set(NewValueNumber(float64(key)), NewValueNumber(val)))
		shadow[key] = val
	}

	for k, want := range shadow {
		got := tbl.Get(NewValueNumber(float64(k)))
		require.Equal(t, want, got.AsNumber(), "key %d", k)
	}
}

func TestTableBorder(t *testing.T) {
	tbl := NewTable(0, 0)
	require.Equal(t, 0, tbl.Len())

	require.NoError(t, tbl.Set(NewValueNumber(1), NewValueNumber(1)))
	require.NoError(t, tbl.Set(NewValueNumber(2), NewValueNumber(2)))
	require.NoError(t, tbl.Set(NewValueNumber(3), NewValueNumber(3)))
	n := tbl.Len()
	require.Equal(t, 3, n)
	require.False(t, tbl.Get(NewValueNumber(float64(n))).IsNil())
	require.True(t, tbl.Get(NewValueNumber(float64(n+1))).IsNil())
}

// TestTableDeepStructuralEqualityViaGoCmp checks a structural diff of
// two tables built the same way comes back empty (google/go-cmp), the
// deep-equality check RawEquals deliberately does not provide since it
// is handle identity, not content equality, for tables.
func TestTableDeepStructuralEqualityViaGoCmp(t *testing.T) {
	g := newGlobalState(NewConfig())
	t1 := NewTable(0, 0)
	t2 := NewTable(0, 0)
	require.NoError(t, t1.Set(NewValueNumber(1), NewValueString(g.intern("a"))))
	require.NoError(t, t1.Set(NewValueNumber(2), NewValueNumber(2)))
	require.NoError(t, t2.Set(NewValueNumber(1), NewValueString(g.intern("a"))))
	require.NoError(t, t2.Set(NewValueNumber(2), NewValueNumber(2)))

	require.Empty(t, cmp.Diff(t1, t2, tableCmpOpts...))
}

func TestTableDeepStructuralDiffDetectsMutation(t *testing.T) {
	g := newGlobalState(NewConfig())
	t1 := NewTable(0, 0)
	t2 := NewTable(0, 0)
	require.NoError(t, t1.Set(NewValueNumber(1), NewValueString(g.intern("a"))))
	require.NoError(t, t2.Set(NewValueNumber(1), NewValueString(g.intern("b"))))

	require.NotEmpty(t, cmp.Diff(t1, t2, tableCmpOpts...))
}

func TestTableRawEqualsIdentity(t *testing.T) {
	t1 := NewTable(0, 0)
	t2 := NewTable(0, 0)
	require.True(t, RawEquals(NewValueTable(t1), NewValueTable(t1)))
	require.False(t, RawEquals(NewValueTable(t1), NewValueTable(t2)))
}

func TestTableNextIteratesAllEntries(t *testing.T) {
	g := newGlobalState(NewConfig())
	tbl := NewTable(0, 0)
	require.NoError(t, tbl.Set(NewValueNumber(1), NewValueString(g.intern("a"))))
	require.NoError(t, tbl.Set(NewValueString(g.intern("k")), NewValueNumber(1)))

	seen := 0
	var k Value
	for {
		nk, _, ok := tbl.Next(k)
		if !ok {
			break
		}
		seen++
		k = nk
	}
	require.Equal(t, 2, seen)
}
