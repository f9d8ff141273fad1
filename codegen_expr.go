package rill

import "math"

// resolveName looks a name up as local, then enclosing-function
// local/upvalue (creating a forwarding upvalue chain as needed), then
// falls back to global (spec §4.2's LOCAL/UPVAL/GLOBAL tags).
func (fs *funcState) resolveName(name string) expDesc {
	for i := len(fs.locals) - 1; i >= 0; i-- {
		if fs.locals[i].name == name {
			return newExp(expLocal, fs.locals[i].reg)
		}
	}
	if idx, ok := fs.findUpvalIndex(name); ok {
		return newExp(expUpval, idx)
	}
	return newExp(expGlobal, fs.stringConst(name))
}

// findUpvalIndex returns the index of an existing or newly created
// upvalue descriptor capturing name from an enclosing function,
// walking outward as many levels as needed.
func (fs *funcState) findUpvalIndex(name string) (int, bool) {
	for i, u := range fs.proto.Upvals {
		if u.Name == name {
			return i, true
		}
	}
	if fs.parent == nil {
		return 0, false
	}
	for i := len(fs.parent.locals) - 1; i >= 0; i-- {
		if fs.parent.locals[i].name == name {
			idx := len(fs.proto.Upvals)
			fs.proto.Upvals = append(fs.proto.Upvals, UpvalDesc{Name: name, InStack: true, Index: fs.parent.locals[i].reg})
			return idx, true
		}
	}
	if pidx, ok := fs.parent.findUpvalIndex(name); ok {
		idx := len(fs.proto.Upvals)
		fs.proto.Upvals = append(fs.proto.Upvals, UpvalDesc{Name: name, InStack: false, Index: pidx})
		return idx, true
	}
	return 0, false
}

// ---- materialization: exp2*, spec §4.2 ----

func (fs *funcState) dischargeToReg(e *expDesc, reg int) error {
	switch e.kind {
	case expNil:
		fs.emitABC(OpLoadNil, reg, reg, 0)
	case expTrue:
		fs.emitABC(OpLoadBool, reg, 1, 0)
	case expFalse:
		fs.emitABC(OpLoadBool, reg, 0, 0)
	case expK:
		fs.emitABx(OpLoadK, reg, e.info)
	case expKNum:
		fs.emitABx(OpLoadK, reg, fs.numberConst(e.num))
	case expLocal:
		if e.info != reg {
			fs.emitABC(OpMove, reg, e.info, 0)
		}
	case expUpval:
		fs.emitABC(OpGetUpval, reg, e.info, 0)
	case expGlobal:
		fs.emitABx(OpGetGlobal, reg, e.info)
	case expIndexed:
		fs.emitABC(OpGetTable, reg, e.aux, e.info)
	case expRelocable:
		fs.patchInstructionA(e.info, reg)
	case expCall:
		// a CALL leaves its single result in its own A register
		if a := DecodeA(fs.proto.Code[e.info]); a != reg {
			fs.emitABC(OpMove, reg, a, 0)
		}
	case expVararg:
		fs.patchInstructionA(e.info, reg)
	case expNonReloc:
		if e.info != reg {
			fs.emitABC(OpMove, reg, e.info, 0)
		}
	case expJmp:
		// e.info is a JMP that fires exactly when the comparison held;
		// turn that control-flow fact into a concrete boolean (spec
		// §4.2: a comparison used as a value, not as a branch).
		loadFalse := fs.emitABC(OpLoadBool, reg, 0, 1)
		_ = loadFalse
		fs.fixJump(e.info, fs.pc())
		fs.emitABC(OpLoadBool, reg, 1, 0)
	case expVoid:
		// nothing to load
	}
	e.kind = expNonReloc
	e.info = reg
	return nil
}

func (fs *funcState) patchInstructionA(pc, a int) {
	ins := fs.proto.Code[pc]
	op := DecodeOp(ins)
	meta := opMetaTable[op]
	switch meta.mode {
	case ModeABC:
		fs.proto.Code[pc] = EncodeABC(op, a, DecodeB(ins), DecodeC(ins))
	case ModeABx:
		fs.proto.Code[pc] = EncodeABx(op, a, DecodeBx(ins))
	case ModeAsBx:
		fs.proto.Code[pc] = EncodeAsBx(op, a, DecodeSBx(ins))
	}
}

// exp2nextreg reserves a fresh register and materializes e into it.
func (fs *funcState) exp2nextreg(e expDesc) (int, error) {
	if err := fs.expToVal(&e); err != nil {
		return 0, err
	}
	fs.freeExp(e)
	reg, err := fs.reserveRegs(1)
	if err != nil {
		return 0, err
	}
	if err := fs.exp2regNoAlloc(&e, reg); err != nil {
		return 0, err
	}
	return reg, nil
}

func (fs *funcState) exp2regNoAlloc(e *expDesc, reg int) error {
	if err := fs.dischargeToReg(e, reg); err != nil {
		return err
	}
	if e.hasJumps() {
		tJmp, fJmp := noJump, noJump
		if testable(*e) {
			// already boolean-shaped; nothing extra needed
		}
		fs.concatJumps(&tJmp, e.t)
		fs.concatJumps(&fJmp, e.f)
		_ = fs.patchList(tJmp)
		_ = fs.patchList(fJmp)
		e.t, e.f = noJump, noJump
	}
	return nil
}

func testable(e expDesc) bool { return e.kind == expJmp }

// exp2anyreg materializes into any register, reusing the current one
// for a NONRELOC expression with no pending jumps.
func (fs *funcState) exp2anyreg(e expDesc) (int, error) {
	if err := fs.expToVal(&e); err != nil {
		return 0, err
	}
	if e.kind == expNonReloc && !e.hasJumps() {
		return e.info, nil
	}
	if e.kind == expLocal && !e.hasJumps() {
		return e.info, nil
	}
	return fs.exp2nextreg(e)
}

// exp2RK yields a register or constant index for an RK operand,
// interning K/KNUM descriptors directly instead of loading them.
func (fs *funcState) exp2RK(e expDesc) (int, error) {
	switch e.kind {
	case expNil:
		return RKFromK(fs.nilConst()), nil
	case expTrue:
		return RKFromK(fs.boolConst(true)), nil
	case expFalse:
		return RKFromK(fs.boolConst(false)), nil
	case expKNum:
		return RKFromK(fs.numberConst(e.num)), nil
	case expK:
		if e.info <= maxArgRK {
			return RKFromK(e.info), nil
		}
	}
	r, err := fs.exp2anyreg(e)
	if err != nil {
		return 0, err
	}
	return r, nil
}

// expToVal forces materialization when jump lists are pending.
func (fs *funcState) expToVal(e *expDesc) error {
	if e.hasJumps() {
		_, err := fs.exp2anyreg(*e)
		if err != nil {
			return err
		}
	}
	return nil
}

// ---- binary/unary operators, with constant folding (spec §4.2) ----

func foldableNum(e expDesc) (float64, bool) {
	if e.kind == expKNum {
		return e.num, true
	}
	return 0, false
}

func (fs *funcState) genBinOp(op string, lhs, rhs expDesc) (expDesc, error) {
	if ln, lok := foldableNum(lhs); lok {
		if rn, rok := foldableNum(rhs); rok {
			if folded, ok := foldArith(op, ln, rn); ok {
				return expDesc{kind: expKNum, num: folded, t: noJump, f: noJump}, nil
			}
		}
	}

	switch op {
	case "and":
		return fs.genAnd(lhs, rhs)
	case "or":
		return fs.genOr(lhs, rhs)
	case "==", "~=", "<", ">", "<=", ">=":
		return fs.genCompare(op, lhs, rhs)
	case "..":
		return fs.genConcat(lhs, rhs)
	}

	opcode := map[string]OpCode{"+": OpAdd, "-": OpSub, "*": OpMul, "/": OpDiv, "%": OpMod, "^": OpPow}[op]
	b, err := fs.exp2RK(lhs)
	if err != nil {
		return expDesc{}, err
	}
	c, err := fs.exp2RK(rhs)
	if err != nil {
		return expDesc{}, err
	}
	fs.freeExp(rhs)
	fs.freeExp(lhs)
	pc := fs.emitABC(opcode, 0, b, c)
	return expDesc{kind: expRelocable, info: pc, t: noJump, f: noJump}, nil
}

// foldArith evaluates a constant arithmetic expression at compile
// time. Folding is skipped (not just for "/" and "%") whenever the
// result is NaN (spec §4.2, §8.6): the unfolded path must still raise
// or produce that same NaN through the runtime opcode rather than
// have the compiler bake in a bogus constant.
func foldArith(op string, a, b float64) (float64, bool) {
	var r float64
	switch op {
	case "+":
		r = a + b
	case "-":
		r = a - b
	case "*":
		r = a * b
	case "/":
		if b == 0 {
			return 0, false
		}
		r = a / b
	case "%":
		if b == 0 {
			return 0, false
		}
		r = a - floorf(a/b)*b
	case "^":
		r = powf(a, b)
	default:
		return 0, false
	}
	if math.IsNaN(r) {
		return 0, false
	}
	return r, true
}

func (fs *funcState) genUnOp(op string, e expDesc) (expDesc, error) {
	if op == "-" {
		if n, ok := foldableNum(e); ok {
			return expDesc{kind: expKNum, num: -n, t: noJump, f: noJump}, nil
		}
	}
	r, err := fs.exp2anyreg(e)
	if err != nil {
		return expDesc{}, err
	}
	fs.freeReg(r)
	opcode := map[string]OpCode{"-": OpUnm, "not": OpNot, "#": OpLen}[op]
	pc := fs.emitABC(opcode, 0, r, 0)
	return expDesc{kind: expRelocable, info: pc, t: noJump, f: noJump}, nil
}

// genAnd/genOr implement Kirchhoff-style jump-list short-circuiting
// (spec §4.2): while parsing the left operand a jump-if-false/true
// test is emitted and chained into f/t; after the right operand the
// lists concatenate so the final descriptor covers the whole
// expression.
func (fs *funcState) genAnd(lhs, rhs expDesc) (expDesc, error) {
	r, err := fs.exp2anyreg(lhs)
	if err != nil {
		return expDesc{}, err
	}
	testPc := fs.emitABC(OpTest, r, 0, 0)
	jmpPc := fs.emitJmp()
	fs.concatJumps(&lhs.f, jmpPc)
	_ = testPc
	fs.freeReg(r)
	result, err := fs.exp2anyreg(rhs)
	if err != nil {
		return expDesc{}, err
	}
	out := newExp(expNonReloc, result)
	out.f = lhs.f
	return out, nil
}

func (fs *funcState) genOr(lhs, rhs expDesc) (expDesc, error) {
	r, err := fs.exp2anyreg(lhs)
	if err != nil {
		return expDesc{}, err
	}
	fs.emitABC(OpTest, r, 0, 1)
	jmpPc := fs.emitJmp()
	fs.concatJumps(&lhs.t, jmpPc)
	fs.freeReg(r)
	result, err := fs.exp2anyreg(rhs)
	if err != nil {
		return expDesc{}, err
	}
	out := newExp(expNonReloc, result)
	out.t = lhs.t
	return out, nil
}

// genCompare always emits COMPARE; JMP (spec §4.2): `>`/`>=` swap
// operands into LT/LE with A=1; `~=` is EQ with A=0.
func (fs *funcState) genCompare(op string, lhs, rhs expDesc) (expDesc, error) {
	swap := false
	a := 1
	opcode := OpEq
	switch op {
	case "==":
		opcode, a = OpEq, 1
	case "~=":
		opcode, a = OpEq, 0
	case "<":
		opcode, a = OpLt, 1
	case "<=":
		opcode, a = OpLe, 1
	case ">":
		opcode, a, swap = OpLt, 1, true
	case ">=":
		opcode, a, swap = OpLe, 1, true
	}
	if swap {
		lhs, rhs = rhs, lhs
	}
	b, err := fs.exp2RK(lhs)
	if err != nil {
		return expDesc{}, err
	}
	c, err := fs.exp2RK(rhs)
	if err != nil {
		return expDesc{}, err
	}
	fs.freeExp(rhs)
	fs.freeExp(lhs)
	fs.emitABC(opcode, a, b, c)
	jmpPc := fs.emitJmp()
	out := newExp(expJmp, jmpPc)
	return out, nil
}

// genConcat emits one two-operand CONCAT per `..`: both operands are
// loaded into consecutive fresh registers and joined. A run such as
// a..b..c is not merged into a single CONCAT over a longer register
// range, so each join builds its own intermediate string.
func (fs *funcState) genConcat(lhs, rhs expDesc) (expDesc, error) {
	lr, err := fs.exp2nextreg(lhs)
	if err != nil {
		return expDesc{}, err
	}
	rr, err := fs.exp2nextreg(rhs)
	if err != nil {
		return expDesc{}, err
	}
	fs.freeReg(rr)
	fs.freeReg(lr)
	pc := fs.emitABC(OpConcat, 0, lr, rr)
	return expDesc{kind: expRelocable, info: pc, t: noJump, f: noJump}, nil
}

func floorf(f float64) float64  { return math.Floor(f) }
func powf(a, b float64) float64 { return math.Pow(a, b) }
