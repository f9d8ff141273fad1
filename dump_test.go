package rill

import (
	"testing"

	"github.com/stretchr/testify/require"
)

// compileSrc is the same parse-then-compile shortcut run() in
// vm_test.go uses, kept separate so dump tests don't depend on the
// end-to-end VM helper.
func compileSrc(t *testing.T, src string) *Prototype {
	t.Helper()
	block, err := Parse("dump-test", src)
	require.NoError(t, err)
	proto, err := Compile("dump-test", block)
	require.NoError(t, err)
	return proto
}

func TestDumpUndumpRoundTrip(t *testing.T) {
	proto := compileSrc(t, `local t = {1,2,3,name="rill"}; return t.name, t[2]`)

	data, err := Dump(proto, DumpOptions{})
	require.NoError(t, err)

	g := newGlobalState(NewConfig())
	got, err := Undump(g, data)
	require.NoError(t, err)

	require.Equal(t, len(proto.Code), len(got.Code))
	require.Equal(t, proto.Code, got.Code)
	require.Equal(t, proto.NumParams, got.NumParams)
	require.Equal(t, proto.MaxStackSize, got.MaxStackSize)
	require.Equal(t, len(proto.Consts), len(got.Consts))
}

func TestDumpUndumpCompressedRoundTrip(t *testing.T) {
	proto := compileSrc(t, `local s = "a string long enough to be worth compressing twice over"; return s`)

	data, err := Dump(proto, DumpOptions{Compress: true})
	require.NoError(t, err)

	g := newGlobalState(NewConfig())
	got, err := Undump(g, data)
	require.NoError(t, err)
	require.Equal(t, proto.Code, got.Code)
}

// TestUndumpInternsThroughOwningGlobalState is spec §8.5's invariant
// carried over into the dump/undump path: a string constant loaded
// from bytecode must be rawequal-identical to the same content
// produced at runtime by the loading VM, not by some other VM's
// string table.
func TestUndumpInternsThroughOwningGlobalState(t *testing.T) {
	proto := compileSrc(t, `return "hello"`)
	data, err := Dump(proto, DumpOptions{})
	require.NoError(t, err)

	g := newGlobalState(NewConfig())
	got, err := Undump(g, data)
	require.NoError(t, err)

	require.Equal(t, KindString, got.Consts[0].Kind())
	fromRuntime := NewValueString(g.intern("hello"))
	require.True(t, RawEquals(got.Consts[0], fromRuntime))
}

// TestUndumpPerGlobalStateCacheIsolation checks that loading the same
// bytecode bytes into two distinct VMs never lets one VM observe the
// other's interned string identity (the protoCache is keyed by the
// owning GlobalState as well as content hash).
func TestUndumpPerGlobalStateCacheIsolation(t *testing.T) {
	proto := compileSrc(t, `return "shared"`)
	data, err := Dump(proto, DumpOptions{})
	require.NoError(t, err)

	g1 := newGlobalState(NewConfig())
	g2 := newGlobalState(NewConfig())

	p1, err := Undump(g1, data)
	require.NoError(t, err)
	p2, err := Undump(g2, data)
	require.NoError(t, err)

	require.True(t, RawEquals(p1.Consts[0], NewValueString(g1.intern("shared"))))
	require.True(t, RawEquals(p2.Consts[0], NewValueString(g2.intern("shared"))))
	require.False(t, RawEquals(p1.Consts[0], p2.Consts[0]))
}

func TestUndumpRejectsBadMagic(t *testing.T) {
	g := newGlobalState(NewConfig())
	_, err := Undump(g, []byte("not a rill chunk at all"))
	require.Error(t, err)
}

func TestUndumpRejectsTruncated(t *testing.T) {
	g := newGlobalState(NewConfig())
	_, err := Undump(g, []byte("RI"))
	require.Error(t, err)
}
