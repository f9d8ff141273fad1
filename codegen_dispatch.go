package rill

// genExpr dispatches an AST expression node to its descriptor
// (component I's entry point from the frontend's AST into the
// expression-lowering machinery in codegen_expr.go).
func (fs *funcState) genExpr(n Node) (expDesc, error) {
	switch e := n.(type) {
	case *NilExpr:
		return newExp(expNil, 0), nil
	case *TrueExpr:
		return newExp(expTrue, 0), nil
	case *FalseExpr:
		return newExp(expFalse, 0), nil
	case *NumberExpr:
		return expDesc{kind: expKNum, num: e.Value, t: noJump, f: noJump}, nil
	case *StringExpr:
		return newExp(expK, fs.stringConst(e.Value)), nil
	case *VarargExpr:
		pc := fs.emitABC(OpVararg, 0, 1, 0)
		return expDesc{kind: expVararg, info: pc, t: noJump, f: noJump}, nil
	case *NameExpr:
		return fs.resolveName(e.Name), nil
	case *IndexExpr:
		obj, err := fs.genExpr(e.Obj)
		if err != nil {
			return expDesc{}, err
		}
		objReg, err := fs.exp2anyreg(obj)
		if err != nil {
			return expDesc{}, err
		}
		key, err := fs.genExpr(e.Key)
		if err != nil {
			return expDesc{}, err
		}
		keyRK, err := fs.exp2RK(key)
		if err != nil {
			return expDesc{}, err
		}
		return expDesc{kind: expIndexed, info: keyRK, aux: objReg, t: noJump, f: noJump}, nil
	case *BinExpr:
		lhs, err := fs.genExpr(e.Lhs)
		if err != nil {
			return expDesc{}, err
		}
		if e.Op == "and" {
			r, err := fs.exp2anyreg(lhs)
			if err != nil {
				return expDesc{}, err
			}
			lhs = newExp(expNonReloc, r)
		}
		rhs, err := fs.genExpr(e.Rhs)
		if err != nil {
			return expDesc{}, err
		}
		return fs.genBinOp(e.Op, lhs, rhs)
	case *UnExpr:
		rhs, err := fs.genExpr(e.Rhs)
		if err != nil {
			return expDesc{}, err
		}
		return fs.genUnOp(e.Op, rhs)
	case *TableExpr:
		return fs.genTable(e)
	case *FuncExpr:
		return fs.genFuncBody(e)
	case *CallExpr:
		return fs.genCall(e)
	default:
		return expDesc{}, newSyntaxError(Position{Chunk: fs.g.chunk}, "unsupported expression")
	}
}

// genTable lowers a table constructor: positional entries are staged
// into consecutive registers and flushed with SETLIST batches, keyed
// entries each get one SETTABLE (spec §4.1's SETLIST, §4.2 generally).
func (fs *funcState) genTable(e *TableExpr) (expDesc, error) {
	tReg, err := fs.reserveRegs(1)
	if err != nil {
		return expDesc{}, err
	}
	pc := fs.emitABC(OpNewTable, tReg, len(e.AKeys), len(e.HKeys))

	const batch = 50
	pending := 0
	flush := func(lastIsMultret bool) {
		if pending == 0 {
			return
		}
		c := pending
		if lastIsMultret {
			c = 0
		}
		fs.emitABC(OpSetList, tReg, c, 0)
		fs.freereg = tReg + 1
		pending = 0
	}

	for i, val := range e.AKeys {
		isLast := i == len(e.AKeys)-1
		v, err := fs.genExpr(val)
		if err != nil {
			return expDesc{}, err
		}
		if isLast {
			if call, ok := val.(*CallExpr); ok {
				_ = call
				if v.kind == expCall || v.kind == expVararg {
					fs.setMultret(&v, -1)
					pending++
					flush(true)
					continue
				}
			}
		}
		if _, err := fs.exp2nextreg(v); err != nil {
			return expDesc{}, err
		}
		pending++
		if pending >= batch {
			flush(false)
		}
	}
	flush(false)

	for i, key := range e.HKeys {
		k, err := fs.genExpr(key)
		if err != nil {
			return expDesc{}, err
		}
		kRK, err := fs.exp2RK(k)
		if err != nil {
			return expDesc{}, err
		}
		v, err := fs.genExpr(e.HVals[i])
		if err != nil {
			return expDesc{}, err
		}
		vRK, err := fs.exp2RK(v)
		if err != nil {
			return expDesc{}, err
		}
		fs.emitABC(OpSetTable, tReg, kRK, vRK)
	}

	_ = pc
	return newExp(expNonReloc, tReg), nil
}

// genCall lowers a function/method call. Arguments are laid out as a
// contiguous [func, self?, args...] region (spec §4.5); the last
// argument, if itself an open CALL/VARARG, is expanded to stack top.
func (fs *funcState) genCall(e *CallExpr) (expDesc, error) {
	var fnReg int
	var err error

	if e.Method != "" {
		obj, err := fs.genExpr(e.Fn)
		if err != nil {
			return expDesc{}, err
		}
		objReg, err := fs.exp2anyreg(obj)
		if err != nil {
			return expDesc{}, err
		}
		base, err := fs.reserveRegs(2)
		if err != nil {
			return expDesc{}, err
		}
		fs.emitABC(OpSelf, base, objReg, RKFromK(fs.stringConst(e.Method)))
		fnReg = base
		fs.freereg = base + 2
	} else {
		fn, err := fs.genExpr(e.Fn)
		if err != nil {
			return expDesc{}, err
		}
		fnReg, err = fs.exp2nextreg(fn)
		if err != nil {
			return expDesc{}, err
		}
	}

	nargs := len(e.Args)
	openArgs := false
	for i, arg := range e.Args {
		v, err := fs.genExpr(arg)
		if err != nil {
			return expDesc{}, err
		}
		if i == len(e.Args)-1 && (v.kind == expCall || v.kind == expVararg) {
			fs.setMultret(&v, -1)
			openArgs = true
			fs.freereg = fnReg + 1 + nargs
			continue
		}
		if _, err := fs.exp2nextreg(v); err != nil {
			return expDesc{}, err
		}
	}

	argCount := nargs + 1
	if e.Method != "" {
		argCount++
	}
	if openArgs {
		argCount = 0
	}
	pc := fs.emitABC(OpCall, fnReg, argCount, 2)
	fs.freereg = fnReg + 1
	_ = err
	return expDesc{kind: expCall, info: pc, t: noJump, f: noJump}, nil
}
