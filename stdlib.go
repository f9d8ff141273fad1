package rill

import "fmt"

// stdlib.go wires the base library (component B's natural home):
// print/type/tostring/tonumber, raw table access, pcall/error/assert,
// metatable control, and coroutine.* — every one a HostFunc closure
// installed into a fresh VM's globals table by OpenLibs, the way a
// teacher-style interpreter seeds its initial environment before
// running any user chunk.
func OpenLibs(vm *VM, env *Table) {
	reg := func(name string, fn HostFunc) {
		env.Set(NewValueString(vm.global.intern(name)), NewValueClosure(NewHostClosure(fn, nil, env)))
	}

	reg("print", biPrint)
	reg("type", biType)
	reg("tostring", biToString)
	reg("tonumber", biToNumber)
	reg("pairs", biPairs)
	reg("ipairs", biIPairs)
	reg("next", biNext)
	reg("inspect", biInspect)

	nextClosure := NewValueClosure(NewHostClosure(biNext, nil, env))
	iterClosure := NewValueClosure(NewHostClosure(biIPairsIter, nil, env))
	vm.global.registry.Set(NewValueString(vm.global.intern("__next_builtin")), nextClosure)
	vm.global.registry.Set(NewValueString(vm.global.intern("__ipairs_iter")), iterClosure)
	reg("rawget", biRawGet)
	reg("rawset", biRawSet)
	reg("rawequal", biRawEqual)
	reg("setmetatable", biSetMetatable)
	reg("getmetatable", biGetMetatable)
	reg("pcall", biPCall)
	reg("xpcall", biXPCall)
	reg("error", biError)
	reg("assert", biAssert)
	reg("select", biSelect)
	reg("unpack", biUnpack)

	co := NewTable(0, 4)
	coReg := func(name string, fn HostFunc) {
		co.Set(NewValueString(vm.global.intern(name)), NewValueClosure(NewHostClosure(fn, nil, env)))
	}
	coReg("create", biCoCreate)
	coReg("resume", biCoResume)
	coReg("yield", biCoYield)
	coReg("status", biCoStatus)
	env.Set(NewValueString(vm.global.intern("coroutine")), NewValueTable(co))

	OpenString(vm, env)
	OpenTable(vm, env)
}

func loadedArgs(ld *LoadedArgs) []Value {
	return ld.Thread.stack[ld.Base:]
}

func pushResults(ld *LoadedArgs, vals ...Value) int {
	ld.Thread.stack = append(ld.Thread.stack, vals...)
	return len(vals)
}

func arg(args []Value, i int) Value {
	if i < len(args) {
		return args[i]
	}
	return Nil()
}

func biPrint(vm *VM, ld *LoadedArgs) (int, error) {
	args := loadedArgs(ld)
	for i, v := range args {
		if i > 0 {
			fmt.Print("\t")
		}
		fmt.Print(toStringMeta(vm, ld.Thread, v))
	}
	fmt.Println()
	return 0, nil
}

// toStringMeta consults __tostring before falling back to the raw
// rendering (spec §4.5's metamethod table includes __tostring for
// display purposes even though the VM's own CONCAT never calls it).
func toStringMeta(vm *VM, th *Thread, v Value) string {
	if mt := metatableOf(vm.global, v); mt != nil {
		if fn := mt.Get(NewValueString(vm.global.intern("__tostring"))); fn.Kind() == KindFunction {
			if rets, err := vm.call(th, fn, []Value{v}, 1); err == nil && len(rets) > 0 {
				return ToStringNoMeta(rets[0])
			}
		}
	}
	return ToStringNoMeta(v)
}

// biInspect renders its argument as an indented tree (valueprinter.go)
// rather than the flat rendering tostring gives tables, closures, and
// threads.
func biInspect(vm *VM, ld *LoadedArgs) (int, error) {
	return pushResults(ld, NewValueString(vm.global.intern(PrettyValue(arg(loadedArgs(ld), 0))))), nil
}

func biType(vm *VM, ld *LoadedArgs) (int, error) {
	return pushResults(ld, NewValueString(vm.global.intern(arg(loadedArgs(ld), 0).Kind().String()))), nil
}

func biToString(vm *VM, ld *LoadedArgs) (int, error) {
	return pushResults(ld, NewValueString(vm.global.intern(toStringMeta(vm, ld.Thread, arg(loadedArgs(ld), 0))))), nil
}

func biToNumber(vm *VM, ld *LoadedArgs) (int, error) {
	v := arg(loadedArgs(ld), 0)
	if v.Kind() == KindNumber {
		return pushResults(ld, v), nil
	}
	if v.Kind() == KindString {
		if n, err := vm.toNumber(ld.Thread, v); err == nil {
			return pushResults(ld, NewValueNumber(n)), nil
		}
	}
	return pushResults(ld, Nil()), nil
}

func biRawGet(vm *VM, ld *LoadedArgs) (int, error) {
	args := loadedArgs(ld)
	t := arg(args, 0).AsTable()
	if t == nil {
		return 0, newRuntimeError(Position{}, "rawget: not a table")
	}
	return pushResults(ld, t.Get(arg(args, 1))), nil
}

func biRawSet(vm *VM, ld *LoadedArgs) (int, error) {
	args := loadedArgs(ld)
	t := arg(args, 0).AsTable()
	if t == nil {
		return 0, newRuntimeError(Position{}, "rawset: not a table")
	}
	if err := t.Set(arg(args, 1), arg(args, 2)); err != nil {
		return 0, err
	}
	return pushResults(ld, arg(args, 0)), nil
}

func biRawEqual(vm *VM, ld *LoadedArgs) (int, error) {
	args := loadedArgs(ld)
	return pushResults(ld, NewValueBool(RawEquals(arg(args, 0), arg(args, 1)))), nil
}

func biSetMetatable(vm *VM, ld *LoadedArgs) (int, error) {
	args := loadedArgs(ld)
	t := arg(args, 0).AsTable()
	if t == nil {
		return 0, newRuntimeError(Position{}, "setmetatable: not a table")
	}
	mt := arg(args, 1)
	if mt.IsNil() {
		t.Meta = nil
	} else {
		t.Meta = mt.AsTable()
	}
	return pushResults(ld, arg(args, 0)), nil
}

func biGetMetatable(vm *VM, ld *LoadedArgs) (int, error) {
	mt := metatableOf(vm.global, arg(loadedArgs(ld), 0))
	if mt == nil {
		return pushResults(ld, Nil()), nil
	}
	return pushResults(ld, NewValueTable(mt)), nil
}

func biPairs(vm *VM, ld *LoadedArgs) (int, error) {
	args := loadedArgs(ld)
	nextFn := ld.Thread.global.registry.Get(NewValueString(vm.global.intern("__next_builtin")))
	return pushResults(ld, nextFn, arg(args, 0), Nil()), nil
}

func biIPairs(vm *VM, ld *LoadedArgs) (int, error) {
	args := loadedArgs(ld)
	iterFn := ld.Thread.global.registry.Get(NewValueString(vm.global.intern("__ipairs_iter")))
	return pushResults(ld, iterFn, arg(args, 0), NewValueNumber(0)), nil
}

// biIPairsIter is ipairs' stateless iterator: given (t, i), returns
// i+1 and t[i+1], or nothing once the array run ends.
func biIPairsIter(vm *VM, ld *LoadedArgs) (int, error) {
	args := loadedArgs(ld)
	t := arg(args, 0).AsTable()
	if t == nil {
		return 0, newRuntimeError(Position{}, "ipairs: not a table")
	}
	i := int(arg(args, 1).AsNumber()) + 1
	v := t.Get(NewValueNumber(float64(i)))
	if v.IsNil() {
		return pushResults(ld, Nil()), nil
	}
	return pushResults(ld, NewValueNumber(float64(i)), v), nil
}

func biNext(vm *VM, ld *LoadedArgs) (int, error) {
	args := loadedArgs(ld)
	t := arg(args, 0).AsTable()
	if t == nil {
		return 0, newRuntimeError(Position{}, "next: not a table")
	}
	k, v, ok := t.Next(arg(args, 1))
	if !ok {
		return pushResults(ld, Nil()), nil
	}
	return pushResults(ld, k, v), nil
}

func biPCall(vm *VM, ld *LoadedArgs) (int, error) {
	args := loadedArgs(ld)
	fn := arg(args, 0)
	callArgs := append([]Value(nil), args[min(1, len(args)):]...)
	rets, caught := Protect(ld.Thread, func() ([]Value, error) {
		return vm.call(ld.Thread, fn, callArgs, -1)
	})
	if caught != nil {
		return pushResults(ld, NewValueBool(false), caught.Value), nil
	}
	return pushResults(ld, append([]Value{NewValueBool(true)}, rets...)...), nil
}

func biXPCall(vm *VM, ld *LoadedArgs) (int, error) {
	args := loadedArgs(ld)
	fn := arg(args, 0)
	handler := arg(args, 1)
	callArgs := append([]Value(nil), args[min(2, len(args)):]...)
	rets, caught := Protect(ld.Thread, func() ([]Value, error) {
		return vm.call(ld.Thread, fn, callArgs, -1)
	})
	if caught != nil {
		hrets, err := vm.call(ld.Thread, handler, []Value{caught.Value}, 1)
		if err != nil {
			return pushResults(ld, NewValueBool(false), Nil()), nil
		}
		return pushResults(ld, append([]Value{NewValueBool(false)}, hrets...)...), nil
	}
	return pushResults(ld, append([]Value{NewValueBool(true)}, rets...)...), nil
}

func biError(vm *VM, ld *LoadedArgs) (int, error) {
	v := arg(loadedArgs(ld), 0)
	Throw(&Error{Kind: ErrRuntime, Value: v, Msg: ToStringNoMeta(v)})
	return 0, nil
}

func biAssert(vm *VM, ld *LoadedArgs) (int, error) {
	args := loadedArgs(ld)
	if !arg(args, 0).Truthy() {
		msg := arg(args, 1)
		if msg.IsNil() {
			msg = NewValueString(vm.global.intern("assertion failed!"))
		}
		Throw(&Error{Kind: ErrRuntime, Value: msg, Msg: ToStringNoMeta(msg)})
	}
	return pushResults(ld, args...), nil
}

func biSelect(vm *VM, ld *LoadedArgs) (int, error) {
	args := loadedArgs(ld)
	sel := arg(args, 0)
	if sel.Kind() == KindString && sel.AsStr().String() == "#" {
		return pushResults(ld, NewValueNumber(float64(len(args)-1))), nil
	}
	n := int(sel.AsNumber())
	if n < 1 || n >= len(args) {
		return 0, nil
	}
	return pushResults(ld, args[n:]...), nil
}

func biUnpack(vm *VM, ld *LoadedArgs) (int, error) {
	args := loadedArgs(ld)
	t := arg(args, 0).AsTable()
	if t == nil {
		return 0, newRuntimeError(Position{}, "unpack: not a table")
	}
	n := t.Len()
	vals := make([]Value, n)
	for i := 0; i < n; i++ {
		vals[i] = t.Get(NewValueNumber(float64(i + 1)))
	}
	return pushResults(ld, vals...), nil
}

func min(a, b int) int {
	if a < b {
		return a
	}
	return b
}

// ---- coroutine.* ----

func biCoCreate(vm *VM, ld *LoadedArgs) (int, error) {
	fn := arg(loadedArgs(ld), 0)
	co := newThread(vm.global, fn.AsClosure())
	return pushResults(ld, NewValueThread(co)), nil
}

func biCoResume(vm *VM, ld *LoadedArgs) (int, error) {
	args := loadedArgs(ld)
	co := arg(args, 0).AsThread()
	if co == nil {
		return 0, newRuntimeError(Position{}, "resume: not a coroutine")
	}
	rets, ok, err := Resume(vm, co, append([]Value(nil), args[min(1, len(args)):]...))
	if err != nil {
		return pushResults(ld, NewValueBool(false), NewValueString(vm.global.intern(err.Error()))), nil
	}
	return pushResults(ld, append([]Value{NewValueBool(ok)}, rets...)...), nil
}

func biCoYield(vm *VM, ld *LoadedArgs) (int, error) {
	rets, err := Yield(vm, loadedArgs(ld))
	if err != nil {
		return 0, err
	}
	return pushResults(ld, rets...), nil
}

func biCoStatus(vm *VM, ld *LoadedArgs) (int, error) {
	co := arg(loadedArgs(ld), 0).AsThread()
	if co == nil {
		return 0, newRuntimeError(Position{}, "status: not a coroutine")
	}
	return pushResults(ld, NewValueString(vm.global.intern(co.status.String()))), nil
}
