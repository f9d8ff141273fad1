package rill

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func newAPIThread(g *GlobalState) *Thread {
	th := &Thread{global: g, stack: make([]Value, 0, 8)}
	th.frames.push(CallFrame{Base: 0})
	return th
}

func TestStackPushTopAt(t *testing.T) {
	g := newGlobalState(NewConfig())
	th := newAPIThread(g)

	th.PushNumber(1)
	th.PushNumber(2)
	th.PushString(g, "three")

	require.Equal(t, 3, th.Top())
	require.Equal(t, float64(1), th.At(1).AsNumber())
	require.Equal(t, float64(2), th.At(2).AsNumber())
	require.Equal(t, "three", th.At(-1).AsStr().String())
	require.Equal(t, float64(2), th.At(-2).AsNumber())
}

func TestStackPop(t *testing.T) {
	g := newGlobalState(NewConfig())
	th := newAPIThread(g)
	th.PushNumber(1)
	th.PushNumber(2)
	th.PushNumber(3)

	vals := th.Pop(2)
	require.Equal(t, []Value{NewValueNumber(2), NewValueNumber(3)}, vals)
	require.Equal(t, 1, th.Top())
}

func TestStackRemove(t *testing.T) {
	g := newGlobalState(NewConfig())
	th := newAPIThread(g)
	th.PushNumber(1)
	th.PushNumber(2)
	th.PushNumber(3)

	th.Remove(2)
	require.Equal(t, 2, th.Top())
	require.Equal(t, float64(1), th.At(1).AsNumber())
	require.Equal(t, float64(3), th.At(2).AsNumber())
}

func TestStackInsert(t *testing.T) {
	g := newGlobalState(NewConfig())
	th := newAPIThread(g)
	th.PushNumber(1)
	th.PushNumber(2)
	th.PushNumber(3)

	th.Insert(1)
	require.Equal(t, float64(3), th.At(1).AsNumber())
	require.Equal(t, float64(1), th.At(2).AsNumber())
	require.Equal(t, float64(2), th.At(3).AsNumber())
}

func TestStackReplace(t *testing.T) {
	g := newGlobalState(NewConfig())
	th := newAPIThread(g)
	th.PushNumber(1)
	th.PushNumber(2)
	th.PushNumber(99)

	th.Replace(1)
	require.Equal(t, 2, th.Top())
	require.Equal(t, float64(99), th.At(1).AsNumber())
}

func TestStackGetSetField(t *testing.T) {
	vm := NewVM(NewConfig())
	th := newAPIThread(vm.global)
	tbl := NewTable(0, 0)
	th.Push(NewValueTable(tbl))

	th.PushNumber(42)
	require.NoError(t, th.SetField(vm, 1, "answer"))

	require.NoError(t, th.GetField(vm, 1, "answer"))
	require.Equal(t, float64(42), th.At(-1).AsNumber())
}

func TestStackGetSetTable(t *testing.T) {
	vm := NewVM(NewConfig())
	th := newAPIThread(vm.global)
	tbl := NewTable(0, 0)
	th.Push(NewValueTable(tbl))

	th.PushString(vm.global, "k")
	th.PushNumber(7)
	require.NoError(t, th.SetTable(vm, 1))

	th.PushString(vm.global, "k")
	require.NoError(t, th.GetTable(vm, 1))
	require.Equal(t, float64(7), th.At(-1).AsNumber())
}

func TestStackNextIteratesPairs(t *testing.T) {
	vm := NewVM(NewConfig())
	th := newAPIThread(vm.global)
	tbl := NewTable(0, 0)
	require.NoError(t, tbl.Set(NewValueNumber(1), NewValueNumber(10)))
	th.Push(NewValueTable(tbl))

	th.PushNil()
	more, err := th.Next(1)
	require.NoError(t, err)
	require.True(t, more)
	require.Equal(t, float64(1), th.At(-2).AsNumber())
	require.Equal(t, float64(10), th.At(-1).AsNumber())
}

func TestStackLengthOfStringAndTable(t *testing.T) {
	vm := NewVM(NewConfig())
	th := newAPIThread(vm.global)

	th.PushString(vm.global, "hello")
	n, err := th.Length(vm, 1)
	require.NoError(t, err)
	require.Equal(t, 5, n)

	tbl := NewTable(0, 0)
	require.NoError(t, tbl.Set(NewValueNumber(1), NewValueNumber(1)))
	require.NoError(t, tbl.Set(NewValueNumber(2), NewValueNumber(1)))
	th.Push(NewValueTable(tbl))
	n, err = th.Length(vm, 2)
	require.NoError(t, err)
	require.Equal(t, 2, n)
}

func TestStackSetGetMetatable(t *testing.T) {
	th := newAPIThread(newGlobalState(NewConfig()))
	tbl := NewTable(0, 0)
	th.Push(NewValueTable(tbl))

	meta := NewTable(0, 0)
	th.Push(NewValueTable(meta))
	th.SetMetatable(1)

	mt, ok := th.GetMetatable(1)
	require.True(t, ok)
	require.Same(t, meta, mt.AsTable())
}

func TestStackCallThroughAPI(t *testing.T) {
	vm := NewVM(NewConfig())
	th := newAPIThread(vm.global)

	fn := NewHostClosure(func(vm *VM, ld *LoadedArgs) (int, error) {
		args := loadedArgs(ld)
		return pushResults(ld, NewValueNumber(args[0].AsNumber()*2)), nil
	}, nil, nil)

	th.Push(NewValueClosure(fn))
	th.PushNumber(21)
	require.NoError(t, th.Call(vm, 1, 1))
	require.Equal(t, float64(42), th.At(-1).AsNumber())
}
