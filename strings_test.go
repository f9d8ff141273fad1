package rill

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestInternShortStringsReturnSamePointer(t *testing.T) {
	st := newStringTable()
	a := st.intern([]byte("hello"))
	b := st.intern([]byte("hello"))
	require.Same(t, a, b)
	require.NotSame(t, a, st.intern([]byte("world")))
}

func TestInternLongStringsReturnSamePointerWithinLRUWindow(t *testing.T) {
	st := newStringTable()
	long := strings.Repeat("x", shortStringLimit+1)
	a := st.intern([]byte(long))
	b := st.intern([]byte(long))
	require.Same(t, a, b)
}

func TestInternPreservesContent(t *testing.T) {
	st := newStringTable()
	s := st.intern([]byte("payload"))
	require.Equal(t, "payload", s.String())
	require.Equal(t, 7, s.Len())
	require.Equal(t, []byte("payload"), s.Bytes())
}

func TestInternHashStableAndDeterministic(t *testing.T) {
	st := newStringTable()
	s1 := st.intern([]byte("abcdef"))
	s2 := newStringTable().intern([]byte("abcdef"))
	require.Equal(t, s1.hash, s2.hash, "content hash must not depend on table instance")
}

func TestGlobalStateInternIsolatedPerInstance(t *testing.T) {
	g1 := newGlobalState(NewConfig())
	g2 := newGlobalState(NewConfig())
	s1 := g1.intern("shared")
	s2 := g2.intern("shared")
	require.Equal(t, s1.String(), s2.String())
	require.NotSame(t, s1, s2, "each GlobalState owns an independent string table")
}

func TestNewStrUsesProcessWideDefaultTable(t *testing.T) {
	a := NewStr("standalone")
	b := NewStr("standalone")
	require.Same(t, a, b)
}
