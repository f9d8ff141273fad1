package rill

// stackapi.go is the host-facing API (component M): an index-addressed
// view of a thread's value stack, the same shape host code written
// against the C API of the languages this design comes from expects,
// translated into Go method calls on *Thread instead of a `lua_State*`
// plus free functions.
//
// Indices follow the usual convention: positive indices count from the
// bottom of the current call frame's register window (1-based from the
// host's point of view); negative indices count from the top; a
// handful of pseudo-indices address VM-wide state that isn't part of
// any stack.
const (
	RegistryIndex = -1_000_000
	GlobalsIndex  = -1_000_001
)

// absIndex resolves a host-facing index to an absolute offset into
// th.stack, relative to the current frame's base.
func (t *Thread) absIndex(idx int) int {
	f := t.frames.top()
	if f == nil {
		return -1
	}
	top := len(t.stack) - f.Base
	if idx > 0 {
		return f.Base + idx - 1
	}
	if idx < 0 {
		return f.Base + top + idx
	}
	return -1
}

// Top reports how many values are on the current frame's portion of
// the stack.
func (t *Thread) Top() int {
	f := t.frames.top()
	if f == nil {
		return 0
	}
	return len(t.stack) - f.Base
}

// Push appends a value to the top of the current frame's stack.
func (t *Thread) Push(v Value) { t.stack = append(t.stack, v) }

func (t *Thread) PushNil()        { t.Push(Nil()) }
func (t *Thread) PushBool(b bool) { t.Push(NewValueBool(b)) }
func (t *Thread) PushNumber(n float64) { t.Push(NewValueNumber(n)) }
func (t *Thread) PushString(g *GlobalState, s string) { t.Push(NewValueString(g.intern(s))) }

// At returns the value at idx without removing it, or nil if idx is
// out of range.
func (t *Thread) At(idx int) Value {
	switch idx {
	case RegistryIndex:
		return NewValueTable(t.global.registry)
	case GlobalsIndex:
		return NewValueTable(t.global.Globals())
	}
	i := t.absIndex(idx)
	if i < 0 || i >= len(t.stack) {
		return Nil()
	}
	return t.stack[i]
}

// Pop removes and returns the top n values (in push order).
func (t *Thread) Pop(n int) []Value {
	if n > len(t.stack) {
		n = len(t.stack)
	}
	vals := append([]Value(nil), t.stack[len(t.stack)-n:]...)
	t.stack = t.stack[:len(t.stack)-n]
	return vals
}

// Remove deletes the value at idx, shifting everything above it down.
func (t *Thread) Remove(idx int) {
	i := t.absIndex(idx)
	if i < 0 || i >= len(t.stack) {
		return
	}
	t.stack = append(t.stack[:i], t.stack[i+1:]...)
}

// Insert moves the top value to idx, shifting everything at or above
// idx up by one.
func (t *Thread) Insert(idx int) {
	i := t.absIndex(idx)
	if i < 0 || i > len(t.stack)-1 {
		return
	}
	v := t.stack[len(t.stack)-1]
	t.stack = t.stack[:len(t.stack)-1]
	t.stack = append(t.stack, Nil())
	copy(t.stack[i+1:], t.stack[i:])
	t.stack[i] = v
}

// Replace pops the top value and stores it at idx.
func (t *Thread) Replace(idx int) {
	v := t.stack[len(t.stack)-1]
	t.stack = t.stack[:len(t.stack)-1]
	i := t.absIndex(idx)
	if i >= 0 && i < len(t.stack) {
		t.stack[i] = v
	}
}

// ---- table access through the API ----

func (t *Thread) GetField(vm *VM, idx int, key string) error {
	obj := t.At(idx)
	v, err := vm.index(t, obj, NewValueString(vm.global.intern(key)))
	if err != nil {
		return err
	}
	t.Push(v)
	return nil
}

func (t *Thread) SetField(vm *VM, idx int, key string) error {
	val := t.stack[len(t.stack)-1]
	t.stack = t.stack[:len(t.stack)-1]
	obj := t.At(idx)
	return vm.newindex(t, obj, NewValueString(vm.global.intern(key)), val)
}

func (t *Thread) GetTable(vm *VM, idx int) error {
	key := t.stack[len(t.stack)-1]
	t.stack = t.stack[:len(t.stack)-1]
	obj := t.At(idx)
	v, err := vm.index(t, obj, key)
	if err != nil {
		return err
	}
	t.Push(v)
	return nil
}

func (t *Thread) SetTable(vm *VM, idx int) error {
	val := t.stack[len(t.stack)-1]
	key := t.stack[len(t.stack)-2]
	t.stack = t.stack[:len(t.stack)-2]
	obj := t.At(idx)
	return vm.newindex(t, obj, key, val)
}

// Next advances table iteration for the API's `pairs`-style loop (spec
// §3's `next`): pops a key, pushes the next key/value pair, and
// reports whether iteration continued.
func (t *Thread) Next(idx int) (bool, error) {
	key := t.stack[len(t.stack)-1]
	t.stack = t.stack[:len(t.stack)-1]
	tbl := t.At(idx).AsTable()
	if tbl == nil {
		return false, newRuntimeError(Position{}, "attempt to iterate a non-table value")
	}
	k, v, ok := tbl.Next(key)
	if !ok {
		return false, nil
	}
	t.Push(k)
	t.Push(v)
	return true, nil
}

// ---- metatables ----

func (t *Thread) GetMetatable(idx int) (Value, bool) {
	mt := metatableOf(t.global, t.At(idx))
	if mt == nil {
		return Nil(), false
	}
	return NewValueTable(mt), true
}

func (t *Thread) SetMetatable(idx int) {
	mt := t.stack[len(t.stack)-1]
	t.stack = t.stack[:len(t.stack)-1]
	obj := t.At(idx)
	switch obj.Kind() {
	case KindTable:
		if mt.IsNil() {
			obj.AsTable().Meta = nil
		} else {
			obj.AsTable().Meta = mt.AsTable()
		}
	case KindUserdata:
		if mt.IsNil() {
			obj.AsUserdata().Meta = nil
		} else {
			obj.AsUserdata().Meta = mt.AsTable()
		}
	}
}

// ---- calling through the API ----

// Call invokes the function nargs below the top of the stack with
// nargs arguments already pushed above it, replacing all of that with
// nresults return values (nresults<0 keeps every result).
func (t *Thread) Call(vm *VM, nargs, nresults int) error {
	fnIdx := len(t.stack) - nargs - 1
	fn := t.stack[fnIdx]
	args := append([]Value(nil), t.stack[fnIdx+1:]...)
	t.stack = t.stack[:fnIdx]

	want := nresults
	if nresults < 0 {
		want = -1
	}
	rets, err := vm.call(t, fn, args, want)
	if err != nil {
		return err
	}
	if nresults >= 0 {
		for len(rets) < nresults {
			rets = append(rets, Nil())
		}
		rets = rets[:nresults]
	}
	t.stack = append(t.stack, rets...)
	return nil
}

// PCall is Call wrapped in Protect, the host-facing analog of pcall.
func (t *Thread) PCall(vm *VM, nargs, nresults int) *Error {
	_, caught := Protect(t, func() ([]Value, error) {
		return nil, t.Call(vm, nargs, nresults)
	})
	return caught
}

// Length implements the host-facing `#` operator, consulting
// `__len` when present.
func (t *Thread) Length(vm *VM, idx int) (int, error) {
	v := t.At(idx)
	if mt := metatableOf(vm.global, v); mt != nil {
		if fn := mt.Get(NewValueString(vm.global.intern("__len"))); fn.Kind() == KindFunction {
			rets, err := vm.call(t, fn, []Value{v}, 1)
			if err != nil {
				return 0, err
			}
			if len(rets) > 0 {
				return int(rets[0].AsNumber()), nil
			}
			return 0, nil
		}
	}
	switch v.Kind() {
	case KindString:
		return v.AsStr().Len(), nil
	case KindTable:
		return v.AsTable().Len(), nil
	}
	return 0, newRuntimeError(Position{}, "attempt to get length of a %s value", v.Kind())
}
