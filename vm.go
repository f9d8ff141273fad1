package rill

import (
	"fmt"
	"math"
	"strconv"
)

// VM is one execution context (spec §3/§5: "the VM instance is
// explicit; it is not a singleton"). It owns a GlobalState and the
// currently running Thread; host applications may create as many VMs
// as they like with no shared state between them.
type VM struct {
	global  *GlobalState
	current *Thread
}

func NewVM(cfg *Config) *VM {
	if cfg == nil {
		cfg = NewConfig()
	}
	g := newGlobalState(cfg)
	main := newThread(g, nil)
	main.status = ThreadRunning
	g.mainThread = main
	return &VM{global: g, current: main}
}

func (vm *VM) Global() *GlobalState { return vm.global }
func (vm *VM) MainThread() *Thread  { return vm.global.mainThread }

// Globals and Intern forward to the GlobalState so callers that only
// hold a *VM (the common case for embedders and HostFuncs) don't need
// to thread GlobalState through as well.
func (vm *VM) Globals() *Table    { return vm.global.Globals() }
func (vm *VM) Intern(s string) *Str { return vm.global.intern(s) }

// Run compiles-and-runs a root prototype on the main thread against
// this VM's one shared globals table, returning whatever it returns
// (spec's Flow: I -> F -> J). Running several prototypes in sequence
// against the same VM — as the REPL does, one per line — sees each
// earlier chunk's global assignments.
func (vm *VM) Run(proto *Prototype) ([]Value, error) {
	cl := NewScriptClosure(proto, vm.global.Globals())
	return vm.callClosure(vm.global.mainThread, cl, nil, -1)
}

// callClosure is the fetch-decode-execute loop (component J). Each Go
// call corresponds to one activation; nested script/host calls
// recurse through this same function, letting Go's own call stack
// back VM re-entrancy the way spec §5's "host functions may re-enter
// the VM via the host stack API" expects.
func (vm *VM) callClosure(th *Thread, cl *Closure, args []Value, wantRets int) ([]Value, error) {
	if !cl.IsScript() {
		return vm.callHost(th, cl, args)
	}

	proto := cl.Proto
	if th.frames.len() == 0 {
		// outermost call on this thread: the compiler interned the string
		// constants through NewStr's process-wide table, so rebind them
		// (and those of every nested prototype) to this VM's own table,
		// making them handle-equal to strings built at run time
		var adopt func(p *Prototype)
		adopt = func(p *Prototype) {
			for i, k := range p.Consts {
				if k.Kind() == KindString {
					p.Consts[i] = NewValueString(th.global.intern(k.AsStr().String()))
				}
			}
			for _, child := range p.Protos {
				adopt(child)
			}
		}
		adopt(proto)
	}
	base := len(th.stack)

	nparams := proto.NumParams
	for i := 0; i < nparams; i++ {
		if i < len(args) {
			th.stack = append(th.stack, args[i])
		} else {
			th.stack = append(th.stack, Nil())
		}
	}
	varargBase, varargLen := 0, 0
	if proto.IsVararg && len(args) > nparams {
		varargBase = len(th.stack)
		th.stack = append(th.stack, args[nparams:]...)
		varargLen = len(args) - nparams
	}
	for len(th.stack) < base+proto.MaxStackSize {
		th.stack = append(th.stack, Nil())
	}

	th.frames.push(CallFrame{
		Closure: cl, Base: base, Top: base + proto.MaxStackSize,
		WantRets: wantRets, VarargBase: varargBase, VarargLen: varargLen,
	})
	defer th.frames.pop()

	return vm.exec(th)
}

func (vm *VM) callHost(th *Thread, cl *Closure, args []Value) ([]Value, error) {
	base := len(th.stack)
	th.stack = append(th.stack, args...)
	n, err := cl.Host(vm, &LoadedArgs{Thread: th, Base: base})
	if err != nil {
		return nil, err
	}
	results := append([]Value(nil), th.stack[len(th.stack)-n:]...)
	th.stack = th.stack[:base]
	return results, nil
}

// R returns a register relative to frame f's base.
func reg(th *Thread, f *CallFrame, i int) Value   { return th.stack[f.Base+i] }
func setReg(th *Thread, f *CallFrame, i int, v Value) { th.stack[f.Base+i] = v }

func (vm *VM) rk(th *Thread, f *CallFrame, cl *Closure, rk int) Value {
	if IsK(rk) {
		return cl.Proto.Consts[ValueK(rk)]
	}
	return reg(th, f, rk)
}

// exec runs instructions from the top frame's saved pc until a
// RETURN (or an error) pops it back to the caller.
func (vm *VM) exec(th *Thread) ([]Value, error) {
	f := th.frames.top()
	cl := f.Closure
	proto := cl.Proto
	pc := 0

	for {
		if pc >= len(proto.Code) {
			return nil, nil
		}
		ins := proto.Code[pc]
		op := DecodeOp(ins)
		a := DecodeA(ins)

		switch op {
		case OpMove:
			setReg(th, f, a, reg(th, f, DecodeB(ins)))

		case OpLoadK:
			setReg(th, f, a, proto.Consts[DecodeBx(ins)])

		case OpLoadBool:
			setReg(th, f, a, NewValueBool(DecodeB(ins) != 0))
			if DecodeC(ins) != 0 {
				pc++
			}

		case OpLoadNil:
			b := DecodeB(ins)
			for i := a; i <= b; i++ {
				setReg(th, f, i, Nil())
			}

		case OpGetUpval:
			setReg(th, f, a, cl.Ups[DecodeB(ins)].get())

		case OpSetUpval:
			cl.Ups[DecodeB(ins)].set(reg(th, f, a))

		case OpGetGlobal:
			key := proto.Consts[DecodeBx(ins)]
			v, err := vm.index(th, NewValueTable(cl.Env), key)
			if err != nil {
				return nil, err
			}
			setReg(th, f, a, v)

		case OpSetGlobal:
			key := proto.Consts[DecodeBx(ins)]
			if err := vm.newindex(th, NewValueTable(cl.Env), key, reg(th, f, a)); err != nil {
				return nil, err
			}

		case OpGetTable:
			obj := reg(th, f, DecodeB(ins))
			key := vm.rk(th, f, cl, DecodeC(ins))
			v, err := vm.index(th, obj, key)
			if err != nil {
				return nil, err
			}
			setReg(th, f, a, v)

		case OpSetTable:
			obj := reg(th, f, a)
			key := vm.rk(th, f, cl, DecodeB(ins))
			val := vm.rk(th, f, cl, DecodeC(ins))
			if err := vm.newindex(th, obj, key, val); err != nil {
				return nil, err
			}

		case OpNewTable:
			setReg(th, f, a, NewValueTable(NewTable(DecodeB(ins), DecodeC(ins))))

		case OpSelf:
			obj := reg(th, f, DecodeB(ins))
			key := vm.rk(th, f, cl, DecodeC(ins))
			setReg(th, f, a+1, obj)
			v, err := vm.index(th, obj, key)
			if err != nil {
				return nil, err
			}
			setReg(th, f, a, v)

		case OpAdd, OpSub, OpMul, OpDiv, OpMod, OpPow:
			l := vm.rk(th, f, cl, DecodeB(ins))
			r := vm.rk(th, f, cl, DecodeC(ins))
			v, err := vm.arith(th, op, l, r)
			if err != nil {
				return nil, err
			}
			setReg(th, f, a, v)

		case OpUnm:
			v := reg(th, f, DecodeB(ins))
			n, err := vm.toNumber(th, v)
			if err != nil {
				return nil, err
			}
			setReg(th, f, a, NewValueNumber(-n))

		case OpNot:
			setReg(th, f, a, NewValueBool(!reg(th, f, DecodeB(ins)).Truthy()))

		case OpLen:
			v := reg(th, f, DecodeB(ins))
			switch v.Kind() {
			case KindString:
				setReg(th, f, a, NewValueNumber(float64(v.AsStr().Len())))
			case KindTable:
				setReg(th, f, a, NewValueNumber(float64(v.AsTable().Len())))
			default:
				return nil, newRuntimeError(Position{}, "attempt to get length of a %s value", v.Kind())
			}

		case OpConcat:
			b, c := DecodeB(ins), DecodeC(ins)
			s := ""
			for i := c; i >= b; i-- {
				s = ToStringNoMeta(reg(th, f, i)) + s
			}
			setReg(th, f, a, NewValueString(vm.global.intern(s)))

		case OpJmp:
			pc += DecodeSBx(ins)

		case OpEq, OpLt, OpLe:
			l := vm.rk(th, f, cl, DecodeB(ins))
			r := vm.rk(th, f, cl, DecodeC(ins))
			res, err := vm.compare(th, op, l, r)
			if err != nil {
				return nil, err
			}
			if boolToInt(res) != a {
				pc++
			}

		case OpTest:
			if boolToInt(reg(th, f, a).Truthy()) != DecodeC(ins) {
				pc++
			}

		case OpTestSet:
			v := reg(th, f, DecodeB(ins))
			if boolToInt(v.Truthy()) == DecodeC(ins) {
				setReg(th, f, a, v)
			} else {
				pc++
			}

		case OpCall:
			b, c := DecodeB(ins), DecodeC(ins)
			fn := reg(th, f, a)
			var callArgs []Value
			if b == 0 {
				callArgs = append([]Value(nil), th.stack[f.Base+a+1:]...)
			} else {
				callArgs = append([]Value(nil), th.stack[f.Base+a+1:f.Base+a+b]...)
			}
			want := c - 1
			rets, err := vm.call(th, fn, callArgs, want)
			if err != nil {
				return nil, err
			}
			vm.storeResults(th, f, a, rets, c)

		case OpTailCall:
			fn := reg(th, f, a)
			b := DecodeB(ins)
			var callArgs []Value
			if b == 0 {
				callArgs = append([]Value(nil), th.stack[f.Base+a+1:]...)
			} else {
				callArgs = append([]Value(nil), th.stack[f.Base+a+1:f.Base+a+b]...)
			}
			th.closeUpvalues(f.Base)
			f.TailCalls++
			return vm.call(th, fn, callArgs, -1)

		case OpReturn:
			b := DecodeB(ins)
			th.closeUpvalues(f.Base)
			var rets []Value
			if b == 0 {
				rets = append([]Value(nil), th.stack[f.Base+a:]...)
			} else {
				rets = append([]Value(nil), th.stack[f.Base+a:f.Base+a+b-1]...)
			}
			return rets, nil

		case OpClosure:
			bx := DecodeBx(ins)
			childProto := proto.Protos[bx]
			newCl := NewScriptClosure(childProto, cl.Env)
			for i := range childProto.Upvals {
				pc++
				pseudo := proto.Code[pc]
				pop := DecodeOp(pseudo)
				if pop == OpMove {
					slot := f.Base + DecodeB(pseudo)
					newCl.Ups[i] = th.findUpval(slot)
				} else {
					newCl.Ups[i] = cl.Ups[DecodeB(pseudo)]
				}
			}
			setReg(th, f, a, NewValueClosure(newCl))

		case OpClose:
			th.closeUpvalues(f.Base + a)

		case OpVararg:
			b := DecodeB(ins)
			avail := f.VarargLen
			n := b - 1
			if b == 0 {
				n = avail
			}
			for i := 0; i < n; i++ {
				if i < avail {
					setReg(th, f, a+i, th.stack[f.Base+f.VarargBase-f.Base+i])
				} else {
					setReg(th, f, a+i, Nil())
				}
			}

		case OpForPrep:
			sbx := DecodeSBx(ins)
			init, err := vm.toNumber(th, reg(th, f, a))
			if err != nil {
				return nil, newRuntimeError(Position{}, "'for' initial value must be a number")
			}
			limit, err := vm.toNumber(th, reg(th, f, a+1))
			if err != nil {
				return nil, newRuntimeError(Position{}, "'for' limit must be a number")
			}
			step, err := vm.toNumber(th, reg(th, f, a+2))
			if err != nil {
				return nil, newRuntimeError(Position{}, "'for' step must be a number")
			}
			setReg(th, f, a, NewValueNumber(init-step))
			setReg(th, f, a+1, NewValueNumber(limit))
			setReg(th, f, a+2, NewValueNumber(step))
			pc += sbx

		case OpForLoop:
			sbx := DecodeSBx(ins)
			v := reg(th, f, a).AsNumber()
			step := reg(th, f, a+2).AsNumber()
			limit := reg(th, f, a+1).AsNumber()
			v += step
			cont := (step >= 0 && v <= limit) || (step < 0 && v >= limit)
			if cont {
				setReg(th, f, a, NewValueNumber(v))
				setReg(th, f, a+3, NewValueNumber(v))
				pc += sbx
			}

		case OpTForLoop:
			c := DecodeC(ins)
			iter := reg(th, f, a)
			state := reg(th, f, a+1)
			control := reg(th, f, a+2)
			rets, err := vm.call(th, iter, []Value{state, control}, c)
			if err != nil {
				return nil, err
			}
			for i := 0; i < c; i++ {
				if i < len(rets) {
					setReg(th, f, a+3+i, rets[i])
				} else {
					setReg(th, f, a+3+i, Nil())
				}
			}
			if len(rets) > 0 && !rets[0].IsNil() {
				setReg(th, f, a+2, rets[0])
				pc++ // the trailing JMP, taken: back to the loop top
				pc += DecodeSBx(proto.Code[pc])
			} else {
				pc++ // skip the trailing JMP: the loop is over
			}

		case OpSetList:
			t := reg(th, f, a).AsTable()
			b := DecodeB(ins)
			n := b
			if b == 0 {
				n = len(th.stack) - (f.Base + a + 1)
			}
			for i := 1; i <= n; i++ {
				_ = t.Set(NewValueNumber(float64(i)), reg(th, f, a+i))
			}
			for len(th.stack) < f.Top {
				th.stack = append(th.stack, Nil())
			}

		default:
			return nil, newRuntimeError(Position{}, "unknown opcode %d", op)
		}

		pc++
		vm.global.mem.track(0)
		if vm.global.mem.gcThreshold > 0 {
			vm.global.gc.step(vm)
		}
	}
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func (vm *VM) storeResults(th *Thread, f *CallFrame, a int, rets []Value, c int) {
	// an earlier open result count may have cut the stack below this
	// frame's register window
	for len(th.stack) < f.Top {
		th.stack = append(th.stack, Nil())
	}
	want := c - 1
	if c == 0 {
		want = len(rets)
		for len(th.stack) < f.Base+a+want {
			th.stack = append(th.stack, Nil())
		}
	}
	for i := 0; i < want; i++ {
		if i < len(rets) {
			setReg(th, f, a+i, rets[i])
		} else {
			setReg(th, f, a+i, Nil())
		}
	}
	if c == 0 {
		// open result count: the stack top now marks the last result,
		// which is where RETURN, CALL and SETLIST with B=0 stop reading
		th.stack = th.stack[:f.Base+a+want]
	}
}

// call dispatches CALL/TAILCALL's target: a script/host closure, or a
// __call metamethod fallback (spec §4.5).
func (vm *VM) call(th *Thread, fn Value, args []Value, wantRets int) ([]Value, error) {
	if fn.Kind() != KindFunction {
		mt := metatableOf(vm.global, fn)
		if mt != nil {
			callMeta := mt.Get(NewValueString(vm.global.intern("__call")))
			if callMeta.Kind() == KindFunction {
				return vm.call(th, callMeta, append([]Value{fn}, args...), wantRets)
			}
		}
		return nil, newRuntimeError(Position{}, "attempt to call a %s value", fn.Kind())
	}
	return vm.callClosure(th, fn.AsClosure(), args, wantRets)
}

// ---- metamethod-mediated operations (spec §4.5) ----

func (vm *VM) index(th *Thread, obj, key Value) (Value, error) {
	limit := vm.global.Config.IndexChainLimit
	for i := 0; i < limit; i++ {
		if obj.Kind() == KindTable {
			v := obj.AsTable().Get(key)
			if !v.IsNil() {
				return v, nil
			}
			mt := obj.AsTable().Meta
			if mt == nil {
				return Nil(), nil
			}
			idx := mt.Get(NewValueString(vm.global.intern("__index")))
			if idx.IsNil() {
				return Nil(), nil
			}
			if idx.Kind() == KindFunction {
				rets, err := vm.call(th, idx, []Value{obj, key}, 1)
				if err != nil {
					return Nil(), err
				}
				if len(rets) > 0 {
					return rets[0], nil
				}
				return Nil(), nil
			}
			obj = idx
			continue
		}
		mt := metatableOf(vm.global, obj)
		if mt == nil {
			return Nil(), newRuntimeError(Position{}, "attempt to index a %s value", obj.Kind())
		}
		idx := mt.Get(NewValueString(vm.global.intern("__index")))
		if idx.Kind() == KindFunction {
			rets, err := vm.call(th, idx, []Value{obj, key}, 1)
			if err != nil {
				return Nil(), err
			}
			if len(rets) > 0 {
				return rets[0], nil
			}
			return Nil(), nil
		}
		obj = idx
	}
	return Nil(), newRuntimeError(Position{}, "'__index' chain too long; possible loop")
}

func (vm *VM) newindex(th *Thread, obj, key, val Value) error {
	limit := vm.global.Config.IndexChainLimit
	for i := 0; i < limit; i++ {
		if obj.Kind() == KindTable {
			t := obj.AsTable()
			if !t.Get(key).IsNil() || t.Meta == nil {
				return t.Set(key, val)
			}
			ni := t.Meta.Get(NewValueString(vm.global.intern("__newindex")))
			if ni.IsNil() {
				return t.Set(key, val)
			}
			if ni.Kind() == KindFunction {
				_, err := vm.call(th, ni, []Value{obj, key, val}, 0)
				return err
			}
			obj = ni
			continue
		}
		mt := metatableOf(vm.global, obj)
		if mt == nil {
			return newRuntimeError(Position{}, "attempt to index a %s value", obj.Kind())
		}
		ni := mt.Get(NewValueString(vm.global.intern("__newindex")))
		if ni.Kind() == KindFunction {
			_, err := vm.call(th, ni, []Value{obj, key, val}, 0)
			return err
		}
		obj = ni
	}
	return newRuntimeError(Position{}, "'__newindex' chain too long; possible loop")
}

func (vm *VM) toNumber(th *Thread, v Value) (float64, error) {
	switch v.Kind() {
	case KindNumber:
		return v.AsNumber(), nil
	case KindString:
		n, err := strconv.ParseFloat(v.AsStr().String(), 64)
		if err == nil {
			return n, nil
		}
	}
	return 0, newRuntimeError(Position{}, "attempt to perform arithmetic on a %s value", v.Kind())
}

var arithMetaName = map[OpCode]string{
	OpAdd: "__add", OpSub: "__sub", OpMul: "__mul", OpDiv: "__div", OpMod: "__mod", OpPow: "__pow",
}

func (vm *VM) arith(th *Thread, op OpCode, l, r Value) (Value, error) {
	ln, lerr := vm.toNumber(th, l)
	rn, rerr := vm.toNumber(th, r)
	if lerr == nil && rerr == nil {
		switch op {
		case OpAdd:
			return NewValueNumber(ln + rn), nil
		case OpSub:
			return NewValueNumber(ln - rn), nil
		case OpMul:
			return NewValueNumber(ln * rn), nil
		case OpDiv:
			return NewValueNumber(ln / rn), nil
		case OpMod:
			return NewValueNumber(ln - math.Floor(ln/rn)*rn), nil
		case OpPow:
			return NewValueNumber(math.Pow(ln, rn)), nil
		}
	}
	name := arithMetaName[op]
	if fn, ok := vm.lookupBinMeta(l, r, name); ok {
		rets, err := vm.call(th, fn, []Value{l, r}, 1)
		if err != nil {
			return Nil(), err
		}
		if len(rets) > 0 {
			return rets[0], nil
		}
		return Nil(), nil
	}
	bad := l
	if lerr == nil {
		bad = r
	}
	return Nil(), newRuntimeError(Position{}, "attempt to perform arithmetic on a %s value", bad.Kind())
}

func (vm *VM) lookupBinMeta(l, r Value, name string) (Value, bool) {
	if mt := metatableOf(vm.global, l); mt != nil {
		if fn := mt.Get(NewValueString(vm.global.intern(name))); fn.Kind() == KindFunction {
			return fn, true
		}
	}
	if mt := metatableOf(vm.global, r); mt != nil {
		if fn := mt.Get(NewValueString(vm.global.intern(name))); fn.Kind() == KindFunction {
			return fn, true
		}
	}
	return Nil(), false
}

// compare implements EQ/LT/LE's metamethod fallback (spec §4.5):
// __eq only fires on raw-identity-false, same-type operands; __le
// falls back to `not (b < a)` via __lt when __le is absent.
func (vm *VM) compare(th *Thread, op OpCode, l, r Value) (bool, error) {
	switch op {
	case OpEq:
		if RawEquals(l, r) {
			return true, nil
		}
		if l.Kind() != r.Kind() || (l.Kind() != KindTable && l.Kind() != KindUserdata) {
			return false, nil
		}
		if fn, ok := vm.lookupBinMeta(l, r, "__eq"); ok {
			rets, err := vm.call(th, fn, []Value{l, r}, 1)
			if err != nil {
				return false, err
			}
			return len(rets) > 0 && rets[0].Truthy(), nil
		}
		return false, nil
	case OpLt:
		if l.Kind() == KindNumber && r.Kind() == KindNumber {
			return l.AsNumber() < r.AsNumber(), nil
		}
		if l.Kind() == KindString && r.Kind() == KindString {
			return l.AsStr().String() < r.AsStr().String(), nil
		}
		if fn, ok := vm.lookupBinMeta(l, r, "__lt"); ok {
			rets, err := vm.call(th, fn, []Value{l, r}, 1)
			if err != nil {
				return false, err
			}
			return len(rets) > 0 && rets[0].Truthy(), nil
		}
		return false, newRuntimeError(Position{}, "attempt to compare two %s values", l.Kind())
	case OpLe:
		if l.Kind() == KindNumber && r.Kind() == KindNumber {
			return l.AsNumber() <= r.AsNumber(), nil
		}
		if l.Kind() == KindString && r.Kind() == KindString {
			return l.AsStr().String() <= r.AsStr().String(), nil
		}
		if fn, ok := vm.lookupBinMeta(l, r, "__le"); ok {
			rets, err := vm.call(th, fn, []Value{l, r}, 1)
			if err != nil {
				return false, err
			}
			return len(rets) > 0 && rets[0].Truthy(), nil
		}
		lt, ok := vm.lookupBinMeta(r, l, "__lt")
		if ok {
			rets, err := vm.call(th, lt, []Value{r, l}, 1)
			if err != nil {
				return false, err
			}
			return !(len(rets) > 0 && rets[0].Truthy()), nil
		}
		return false, newRuntimeError(Position{}, "attempt to compare two %s values", l.Kind())
	}
	return false, fmt.Errorf("unreachable")
}
