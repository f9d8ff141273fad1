package rill

import (
	"testing"

	"github.com/stretchr/testify/require"
)

// TestUpvalueFindReturnsSameCellForSameSlot is §4.4's "at most one
// open upvalue per (thread, slot)" invariant, exercised directly
// instead of through the compiler.
func TestUpvalueFindReturnsSameCellForSameSlot(t *testing.T) {
	th := &Thread{stack: make([]Value, 4)}
	th.stack[1] = NewValueNumber(10)

	u1 := th.findUpval(1)
	u2 := th.findUpval(1)
	require.Same(t, u1, u2)

	u1.set(NewValueNumber(20))
	require.Equal(t, float64(20), u2.get().AsNumber())
}

// TestUpvalueCloseDetachesFromStack checks §4.4's close(L, level):
// after closing, mutating the cell must no longer touch the stack
// slot it used to alias, and the thread's open list must no longer
// reference it.
func TestUpvalueCloseDetachesFromStack(t *testing.T) {
	th := &Thread{stack: make([]Value, 4)}
	th.stack[2] = NewValueNumber(5)

	u := th.findUpval(2)
	require.False(t, u.closed())

	th.closeUpvalues(0)
	require.True(t, u.closed())
	require.Nil(t, th.openHead)

	u.set(NewValueNumber(99))
	require.Equal(t, float64(5), th.stack[2].AsNumber(), "closing must have copied the live value, not left the slot aliased")
	require.Equal(t, float64(99), u.get().AsNumber())
}

// TestCloseUpvaluesRespectsLevel checks that only upvalues at or
// above the given stack level are closed, leaving lower ones open.
func TestCloseUpvaluesRespectsLevel(t *testing.T) {
	th := &Thread{stack: make([]Value, 5)}
	th.stack[1] = NewValueNumber(1)
	th.stack[3] = NewValueNumber(3)

	low := th.findUpval(1)
	high := th.findUpval(3)

	th.closeUpvalues(2)

	require.False(t, low.closed())
	require.True(t, high.closed())
}

// TestClosureSharesUpvalueAcrossTwoClosures is §8.4's upvalue-sharing
// invariant, built directly from the same *Upvalue cell rather than
// through compiled CLOSURE instructions.
func TestClosureSharesUpvalueAcrossTwoClosures(t *testing.T) {
	th := &Thread{stack: make([]Value, 2)}
	th.stack[0] = NewValueNumber(0)
	shared := th.findUpval(0)

	inc := NewHostClosure(func(vm *VM, ld *LoadedArgs) (int, error) {
		shared.set(NewValueNumber(shared.get().AsNumber() + 1))
		return 0, nil
	}, nil, nil)
	inc.Ups = []*Upvalue{shared}

	get := NewHostClosure(func(vm *VM, ld *LoadedArgs) (int, error) {
		return 0, nil
	}, nil, nil)
	get.Ups = []*Upvalue{shared}

	_, err := inc.Host(nil, nil)
	require.NoError(t, err)
	_, err = inc.Host(nil, nil)
	require.NoError(t, err)

	require.Equal(t, float64(2), get.Ups[0].get().AsNumber())
}

func TestGCChildrenTraceUpvaluesAndEnv(t *testing.T) {
	env := NewTable(0, 0)
	th := &Thread{stack: make([]Value, 1)}
	th.stack[0] = NewValueNumber(7)
	up := th.findUpval(0)

	cl := &Closure{Ups: []*Upvalue{up}, Env: env}
	children := cl.gcChildren()
	require.Len(t, children, 2)

	upChildren := up.gcChildren()
	require.Equal(t, []any{nil}, upChildren, "boxed number has no gc pointer child")
}

func TestUserdataGCChildrenNilWithoutMeta(t *testing.T) {
	u := NewUserdata("payload")
	require.Nil(t, u.gcChildren())

	meta := NewTable(0, 0)
	u.Meta = meta
	require.Equal(t, []any{meta}, u.gcChildren())
}
