package rill

import (
	"testing"

	"github.com/stretchr/testify/require"
)

// run compiles and executes src on a fresh VM, the end-to-end helper the
// teacher's vm_test.go uses (parse -> compile -> run) generalized from PEG
// grammars to Rill chunks.
func run(t *testing.T, src string) []Value {
	t.Helper()
	block, err := Parse("test", src)
	require.NoError(t, err)
	proto, err := Compile("test", block)
	require.NoError(t, err)
	vm := NewVM(NewConfig())
	OpenLibs(vm, vm.Globals())
	rets, err := vm.Run(proto)
	require.NoError(t, err)
	return rets
}

func TestVMScenarios(t *testing.T) {
	t.Run("A arithmetic and comparison", func(t *testing.T) {
		rets := run(t, `return (1+2)*3 < 10, 2^10`)
		require.Len(t, rets, 2)
		require.Equal(t, true, rets[0].AsBool())
		require.Equal(t, float64(1024), rets[1].AsNumber())
	})

	t.Run("B table as both array and record", func(t *testing.T) {
		rets := run(t, `local t={10,20,30,name="x"}; return t[2], t.name, #t`)
		require.Len(t, rets, 3)
		require.Equal(t, float64(20), rets[0].AsNumber())
		require.Equal(t, "x", rets[1].AsStr().String())
		require.Equal(t, float64(3), rets[2].AsNumber())
	})

	t.Run("C closures share upvalue", func(t *testing.T) {
		rets := run(t, `
			local function mk() local n=0; return function() n=n+1; return n end, function() return n end end
			local inc, get = mk(); inc(); inc(); return get()
		`)
		require.Len(t, rets, 1)
		require.Equal(t, float64(2), rets[0].AsNumber())
	})

	t.Run("D pcall catches and reports", func(t *testing.T) {
		rets := run(t, `local ok,err = pcall(function() error("boom") end); return ok, err:sub(-4)`)
		require.Len(t, rets, 2)
		require.Equal(t, false, rets[0].AsBool())
	})

	t.Run("E coroutine producer consumer", func(t *testing.T) {
		rets := run(t, `
			local co=coroutine.create(function(x) coroutine.yield(x+1); coroutine.yield(x+2); return x+3 end)
			local _,a=coroutine.resume(co,10); local _,b=coroutine.resume(co); local _,c=coroutine.resume(co)
			return a,b,c
		`)
		require.Len(t, rets, 3)
		require.Equal(t, float64(11), rets[0].AsNumber())
		require.Equal(t, float64(12), rets[1].AsNumber())
		require.Equal(t, float64(13), rets[2].AsNumber())
	})

	t.Run("F generic for over ipairs", func(t *testing.T) {
		rets := run(t, `local t={[1]="a",[2]="b",[3]="c"}; local s=""; for _,v in ipairs(t) do s=s..v end; return s`)
		require.Len(t, rets, 1)
		require.Equal(t, "abc", rets[0].AsStr().String())
	})
}

func TestConstantFolding(t *testing.T) {
	block, err := Parse("test", `return 1+2*3`)
	require.NoError(t, err)
	proto, err := Compile("test", block)
	require.NoError(t, err)

	foundArith := false
	for _, ins := range proto.Code {
		switch DecodeOp(ins) {
		case OpAdd, OpSub, OpMul, OpDiv, OpMod, OpPow:
			foundArith = true
		}
	}
	require.False(t, foundArith, "constant-foldable arithmetic must not reach the VM as an opcode")
}

func TestProtectedUnwindRestoresStack(t *testing.T) {
	vm := NewVM(NewConfig())
	env := vm.Globals()
	OpenLibs(vm, env)

	block, err := Parse("test", `local t={}; error("x")`)
	require.NoError(t, err)
	proto, err := Compile("test", block)
	require.NoError(t, err)

	cl := NewScriptClosure(proto, env)
	before := len(vm.global.mainThread.stack)
	_, caught := Protect(vm.global.mainThread, func() ([]Value, error) {
		return vm.callClosure(vm.global.mainThread, cl, nil, -1)
	})
	require.NotNil(t, caught)
	require.Equal(t, before, len(vm.global.mainThread.stack))
}
