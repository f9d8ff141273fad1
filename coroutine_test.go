package rill

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestResumeDeadCoroutineErrors(t *testing.T) {
	vm := NewVM(NewConfig())
	OpenLibs(vm, vm.Globals())

	block, err := Parse("test", `return 1`)
	require.NoError(t, err)
	proto, err := Compile("test", block)
	require.NoError(t, err)
	cl := NewScriptClosure(proto, vm.Globals())
	co := newThread(vm.global, cl)

	_, ok, err := Resume(vm, co, nil)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, ThreadDead, co.status)

	_, ok, err = Resume(vm, co, nil)
	require.False(t, ok)
	require.Error(t, err)
}

func TestResumeRunningCoroutineErrors(t *testing.T) {
	vm := NewVM(NewConfig())
	co := newThread(vm.global, nil)
	co.status = ThreadRunning

	_, ok, err := Resume(vm, co, nil)
	require.False(t, ok)
	require.Error(t, err)
}

func TestYieldOutsideCoroutineErrors(t *testing.T) {
	vm := NewVM(NewConfig())
	_, err := Yield(vm, nil)
	require.Error(t, err)
}

func TestThreadStatusString(t *testing.T) {
	require.Equal(t, "initial", ThreadInitial.String())
	require.Equal(t, "running", ThreadRunning.String())
	require.Equal(t, "suspended", ThreadSuspended.String())
	require.Equal(t, "normal", ThreadNormal.String())
	require.Equal(t, "dead", ThreadDead.String())
}

// TestCoroutineSuspendsBetweenYields exercises the resume/yield
// handshake end to end, the same scenario as vm_test.go's "E" but
// asserting the thread's status transitions along the way too.
func TestCoroutineSuspendsBetweenYields(t *testing.T) {
	vm := NewVM(NewConfig())
	OpenLibs(vm, vm.Globals())

	block, err := Parse("test", `coroutine.yield(1); coroutine.yield(2); return 3`)
	require.NoError(t, err)
	proto, err := Compile("test", block)
	require.NoError(t, err)
	cl := NewScriptClosure(proto, vm.Globals())
	co := newThread(vm.global, cl)

	rets, ok, err := Resume(vm, co, nil)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, ThreadSuspended, co.status)
	require.Equal(t, float64(1), rets[0].AsNumber())

	rets, ok, err = Resume(vm, co, nil)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, ThreadSuspended, co.status)
	require.Equal(t, float64(2), rets[0].AsNumber())

	rets, ok, err = Resume(vm, co, nil)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, ThreadDead, co.status)
	require.Equal(t, float64(3), rets[0].AsNumber())
}
