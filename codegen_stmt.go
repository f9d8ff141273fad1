package rill

// genBlock compiles a sequence of statements in order. It opens no
// scope and emits no CLOSE itself; scope entry and exit, including
// closing upvalues, are done by its callers through enterBlock and
// leaveBlock.
func (fs *funcState) genBlock(b *Block) error {
	for _, stmt := range b.Stmts {
		if err := fs.genStmt(stmt); err != nil {
			return err
		}
	}
	return nil
}

func (fs *funcState) genStmt(n Node) error {
	switch s := n.(type) {
	case *Block:
		fs.enterBlock(false)
		if err := fs.genBlock(s); err != nil {
			return err
		}
		fs.leaveBlock()
		return nil
	case *LocalStmt:
		return fs.genLocal(s)
	case *AssignStmt:
		return fs.genAssign(s)
	case *CallStmt:
		_, err := fs.genExpr(s.Call)
		fs.freereg = fs.nactive
		return err
	case *IfStmt:
		return fs.genIf(s, noJump)
	case *WhileStmt:
		return fs.genWhile(s)
	case *RepeatStmt:
		return fs.genRepeat(s)
	case *NumForStmt:
		return fs.genNumFor(s)
	case *GenForStmt:
		return fs.genGenFor(s)
	case *FuncStmt:
		return fs.genFuncStmt(s)
	case *LocalFuncStmt:
		return fs.genLocalFunc(s)
	case *ReturnStmt:
		return fs.genReturn(s)
	case *BreakStmt:
		return fs.genBreak(s)
	default:
		return newSyntaxError(Position{Chunk: fs.g.chunk}, "unsupported statement")
	}
}

func (fs *funcState) genLocal(s *LocalStmt) error {
	base := fs.freereg
	if err := fs.genExprListTo(s.Exprs, len(s.Names), base); err != nil {
		return err
	}
	for i, name := range s.Names {
		fs.locals = append(fs.locals, localVar{name: name, reg: base + i})
	}
	fs.nactive = len(fs.locals)
	fs.freereg = fs.nactive
	return nil
}

func (fs *funcState) genLocalFunc(s *LocalFuncStmt) error {
	reg := fs.nactive
	fs.locals = append(fs.locals, localVar{name: s.Name, reg: reg})
	fs.nactive = len(fs.locals)
	if _, err := fs.reserveRegs(1); err != nil {
		return err
	}
	e, err := fs.genFuncBody(s.Fn)
	if err != nil {
		return err
	}
	return fs.exp2regNoAlloc(&e, reg)
}

// genExprListTo evaluates exprs and lands exactly want values
// starting at dest, padding with nil or truncating as needed. The
// last expression, if it is a CALL or VARARG, is adjusted to fill the
// remaining slots (spec §4.2's multi-assignment handling).
func (fs *funcState) genExprListTo(exprs []Node, want, dest int) error {
	if len(exprs) == 0 {
		if want > 0 {
			fs.emitABC(OpLoadNil, dest, dest+want-1, 0)
			if dest+want > fs.freereg {
				fs.freereg = dest + want
			}
		}
		return nil
	}
	for i, expr := range exprs {
		last := i == len(exprs)-1
		if !last {
			e, err := fs.genExpr(expr)
			if err != nil {
				return err
			}
			r, err := fs.exp2nextreg(e)
			if err != nil {
				return err
			}
			_ = r
			continue
		}
		remaining := want - i
		if remaining < 0 {
			remaining = 0
		}
		e, err := fs.genExpr(expr)
		if err != nil {
			return err
		}
		if (e.kind == expCall || e.kind == expVararg) && remaining != 1 {
			fs.setMultret(&e, remaining)
			fs.freereg = dest + want
			continue
		}
		if _, err := fs.exp2nextreg(e); err != nil {
			return err
		}
	}
	if fs.freereg < dest+want {
		n := dest + want - fs.freereg
		fs.emitABC(OpLoadNil, fs.freereg, fs.freereg+n-1, 0)
		fs.freereg = dest + want
	}
	return nil
}

// setMultret adjusts a CALL/VARARG instruction's result-count operand
// in place, implementing "argCount=0 means to stack top" for the
// open-ended multi-result case.
func (fs *funcState) setMultret(e *expDesc, n int) {
	ins := fs.proto.Code[e.info]
	op := DecodeOp(ins)
	a, b := DecodeA(ins), DecodeB(ins)
	want := n + 1
	if n < 0 {
		want = 0
	}
	if op == OpCall {
		fs.proto.Code[e.info] = EncodeABC(OpCall, a, b, want)
	} else {
		fs.proto.Code[e.info] = EncodeABC(OpVararg, a, want, 0)
	}
}

func (fs *funcState) genAssign(s *AssignStmt) error {
	if len(s.Targets) == 1 && len(s.Exprs) == 1 {
		e, err := fs.genExpr(s.Exprs[0])
		if err != nil {
			return err
		}
		return fs.assignTo(s.Targets[0], e)
	}

	base := fs.freereg
	if err := fs.genExprListTo(s.Exprs, len(s.Targets), base); err != nil {
		return err
	}
	// store right-to-left to preserve the documented evaluation order
	for i := len(s.Targets) - 1; i >= 0; i-- {
		e := newExp(expNonReloc, base+i)
		if err := fs.assignTo(s.Targets[i], e); err != nil {
			return err
		}
	}
	fs.freereg = fs.nactive
	return nil
}

func (fs *funcState) assignTo(target Node, val expDesc) error {
	switch t := target.(type) {
	case *NameExpr:
		dst := fs.resolveName(t.Name)
		switch dst.kind {
		case expLocal:
			return fs.exp2regNoAlloc(&val, dst.info)
		case expUpval:
			r, err := fs.exp2anyreg(val)
			if err != nil {
				return err
			}
			fs.emitABC(OpSetUpval, r, dst.info, 0)
			fs.freeReg(r)
			return nil
		case expGlobal:
			r, err := fs.exp2anyreg(val)
			if err != nil {
				return err
			}
			fs.emitABx(OpSetGlobal, r, dst.info)
			fs.freeReg(r)
			return nil
		}
	case *IndexExpr:
		obj, err := fs.genExpr(t.Obj)
		if err != nil {
			return err
		}
		objReg, err := fs.exp2anyreg(obj)
		if err != nil {
			return err
		}
		key, err := fs.genExpr(t.Key)
		if err != nil {
			return err
		}
		keyRK, err := fs.exp2RK(key)
		if err != nil {
			return err
		}
		valRK, err := fs.exp2RK(val)
		if err != nil {
			return err
		}
		fs.emitABC(OpSetTable, objReg, keyRK, valRK)
		fs.freeReg(objReg)
		return nil
	}
	return newSyntaxError(Position{Chunk: fs.g.chunk}, "cannot assign to this expression")
}

func (fs *funcState) genIf(s *IfStmt, exitList int) error {
	cond, err := fs.genExpr(s.Cond)
	if err != nil {
		return err
	}
	jmp, err := fs.genTestJump(cond, false)
	if err != nil {
		return err
	}
	fs.enterBlock(false)
	if err := fs.genBlock(s.Then); err != nil {
		return err
	}
	fs.leaveBlock()

	if s.Else != nil {
		endJmp := fs.emitJmp()
		exitList = fs.concatJumpInt(exitList, endJmp)
		if err := fs.patchList(jmp); err != nil {
			return err
		}
		switch els := s.Else.(type) {
		case *IfStmt:
			return fs.genIf(els, exitList)
		case *Block:
			fs.enterBlock(false)
			if err := fs.genBlock(els); err != nil {
				return err
			}
			fs.leaveBlock()
		}
	} else {
		exitList = fs.concatJumpInt(exitList, jmp)
	}
	return fs.patchList(exitList)
}

func (fs *funcState) concatJumpInt(list, add int) int {
	fs.concatJumps(&list, add)
	return list
}

// genTestJump emits TEST R(cond) 0 sense; JMP and returns the JMP pc,
// forcing cond into a register first.
func (fs *funcState) genTestJump(cond expDesc, sense bool) (int, error) {
	if cond.kind == expJmp {
		if !sense {
			// the comparison's JMP fires when it held; flip the
			// comparison's A so the JMP fires when it failed instead
			cmpPc := cond.info - 1
			ins := fs.proto.Code[cmpPc]
			fs.proto.Code[cmpPc] = EncodeABC(DecodeOp(ins), 1-DecodeA(ins), DecodeB(ins), DecodeC(ins))
			return cond.info, nil
		}
	}
	r, err := fs.exp2anyreg(cond)
	if err != nil {
		return 0, err
	}
	c := 0
	if sense {
		c = 1
	}
	fs.emitABC(OpTest, r, 0, c)
	return fs.emitJmp(), nil
}

func (fs *funcState) genWhile(s *WhileStmt) error {
	top := fs.pc()
	cond, err := fs.genExpr(s.Cond)
	if err != nil {
		return err
	}
	exitJmp, err := fs.genTestJump(cond, false)
	if err != nil {
		return err
	}
	fs.enterBlock(true)
	if err := fs.genBlock(s.Body); err != nil {
		return err
	}
	b := fs.leaveBlock()
	backJmp := fs.emitJmp()
	fs.fixJump(backJmp, top)
	if err := fs.patchList(exitJmp); err != nil {
		return err
	}
	return fs.patchList(b.breakList)
}

func (fs *funcState) genRepeat(s *RepeatStmt) error {
	top := fs.pc()
	fs.enterBlock(true)
	if err := fs.genBlock(s.Body); err != nil {
		return err
	}
	cond, err := fs.genExpr(s.Cond)
	if err != nil {
		return err
	}
	b := fs.leaveBlock()
	if b.hasUpval {
		fs.emitABC(OpClose, b.firstLocal, 0, 0)
	}
	contJmp, err := fs.genTestJump(cond, false)
	if err != nil {
		return err
	}
	fs.fixJump(contJmp, top)
	return fs.patchList(b.breakList)
}

func (fs *funcState) genBreak(s *BreakStmt) error {
	for i := len(fs.blocks) - 1; i >= 0; i-- {
		if fs.blocks[i].isLoop {
			jmp := fs.emitJmp()
			fs.concatJumps(&fs.blocks[i].breakList, jmp)
			return nil
		}
	}
	return newSyntaxError(s.Pos, "break outside a loop")
}

// genNumFor lowers `for i=start,stop,step` into FORPREP/FORLOOP with
// three hidden slots plus the visible loop variable (spec §4.2).
func (fs *funcState) genNumFor(s *NumForStmt) error {
	base := fs.nactive
	if err := fs.genExprListTo([]Node{s.Start, s.Stop, nonNilOr(s.Step)}, 3, base); err != nil {
		return err
	}
	fs.locals = append(fs.locals,
		localVar{name: "(for state)", reg: base},
		localVar{name: "(for state)", reg: base + 1},
		localVar{name: "(for state)", reg: base + 2},
		localVar{name: s.Var, reg: base + 3})
	fs.nactive = len(fs.locals)
	if fs.freereg < base+4 {
		fs.freereg = base + 4
	}

	prepPc := fs.emitAsBx(OpForPrep, base, 0)
	fs.enterBlock(true)
	if err := fs.genBlock(s.Body); err != nil {
		return err
	}
	b := fs.leaveBlock()
	loopPc := fs.emitAsBx(OpForLoop, base, 0)
	fs.fixJump(prepPc, fs.pc()-1)
	fs.fixJump(loopPc, prepPc+1)
	return fs.patchList(b.breakList)
}

func nonNilOr(n Node) Node {
	if n == nil {
		return &NumberExpr{Value: 1}
	}
	return n
}

// genGenFor lowers `for names in exprs do` into the hidden
// (iterator,state,control) triple plus TFORLOOP (spec §4.2).
func (fs *funcState) genGenFor(s *GenForStmt) error {
	base := fs.nactive
	if err := fs.genExprListTo(s.Exprs, 3, base); err != nil {
		return err
	}
	fs.locals = append(fs.locals,
		localVar{name: "(for state)", reg: base},
		localVar{name: "(for state)", reg: base + 1},
		localVar{name: "(for state)", reg: base + 2})
	for i, v := range s.Vars {
		fs.locals = append(fs.locals, localVar{name: v, reg: base + 3 + i})
	}
	fs.nactive = len(fs.locals)
	want := base + 3 + len(s.Vars)
	if fs.freereg < want {
		fs.freereg = want
	}

	prepJmp := fs.emitJmp() // first iteration starts at TFORLOOP
	top := fs.pc()
	fs.enterBlock(true)
	if err := fs.genBlock(s.Body); err != nil {
		return err
	}
	b := fs.leaveBlock()
	fs.fixJump(prepJmp, fs.pc())
	fs.emitABC(OpTForLoop, base, 0, len(s.Vars))
	backJmp := fs.emitJmp()
	fs.fixJump(backJmp, top)
	return fs.patchList(b.breakList)
}

func (fs *funcState) genFuncStmt(s *FuncStmt) error {
	target := Node(&NameExpr{Name: s.Name[0]})
	for _, seg := range s.Name[1:] {
		target = &IndexExpr{Obj: target, Key: &StringExpr{Value: seg}}
	}
	e, err := fs.genFuncBody(s.Fn)
	if err != nil {
		return err
	}
	return fs.assignTo(target, e)
}

// genFuncBody compiles a nested FuncExpr into a child funcState,
// registers the resulting Prototype, and emits CLOSURE followed by
// one pseudo-instruction per captured upvalue (MOVE for a local
// capture, GETUPVAL for a forwarded upvalue), consumed by the VM's
// CLOSURE handler (spec §4.2's closure-creation codegen).
func (fs *funcState) genFuncBody(fn *FuncExpr) (expDesc, error) {
	child := newFuncState(fs.g, fs)
	child.proto.NumParams = len(fn.Params)
	child.proto.IsVararg = fn.Vararg
	for _, p := range fn.Params {
		child.locals = append(child.locals, localVar{name: p, reg: len(child.locals)})
	}
	child.nactive = len(child.locals)
	child.freereg = child.nactive

	if err := child.genBlock(fn.Body); err != nil {
		return expDesc{}, err
	}
	child.emitReturn(nil, 0)

	protoIdx := len(fs.proto.Protos)
	fs.proto.Protos = append(fs.proto.Protos, child.proto)
	pc := fs.emitABx(OpClosure, 0, protoIdx)
	for _, u := range child.proto.Upvals {
		if u.InStack {
			fs.emitABC(OpMove, 0, u.Index, 0)
		} else {
			fs.emitABC(OpGetUpval, 0, u.Index, 0)
		}
	}
	return expDesc{kind: expRelocable, info: pc, t: noJump, f: noJump}, nil
}

func (fs *funcState) genReturn(s *ReturnStmt) error {
	base := fs.nactive
	if len(s.Exprs) == 0 {
		fs.emitReturn(nil, 0)
		return nil
	}
	last := s.Exprs[len(s.Exprs)-1]
	if call, ok := last.(*CallExpr); ok && len(s.Exprs) == 1 {
		e, err := fs.genExpr(call)
		if err != nil {
			return err
		}
		if e.kind == expCall {
			fs.setMultret(&e, -1)
			fs.emitReturnOpen(base)
			return nil
		}
		if _, err := fs.exp2nextreg(e); err != nil {
			return err
		}
		fs.emitReturn(nil, 1)
		return nil
	}

	if err := fs.genExprListTo(s.Exprs, len(s.Exprs), base); err != nil {
		return err
	}
	fs.emitReturnFixed(base, len(s.Exprs))
	return nil
}

func (fs *funcState) emitReturn(_ []Node, n int) {
	fs.emitABC(OpReturn, fs.nactive, n+1, 0)
}

func (fs *funcState) emitReturnFixed(base, n int) {
	fs.emitABC(OpReturn, base, n+1, 0)
}

func (fs *funcState) emitReturnOpen(base int) {
	fs.emitABC(OpReturn, base, 0, 0)
}
