package rill

import "fmt"

const noJump = -1
const maxRegisters = 250

// expKind is the expression descriptor tag set from spec §4.2.
type expKind int

const (
	expVoid expKind = iota
	expNil
	expTrue
	expFalse
	expK      // constant pool index
	expKNum   // numeric literal, not yet interned
	expLocal  // register
	expUpval  // upvalue index
	expGlobal // constant-pool index naming a global
	expIndexed
	expJmp      // value is the outcome of the last comparison
	expRelocable // pc of an instruction whose A is not yet fixed
	expNonReloc  // already sitting in a concrete register
	expCall
	expVararg
)

// expDesc is a partially built expression (spec §4.2): the tag, its
// payload, and the two deferred jump lists threaded through the sBx
// field of not-yet-patched JMP instructions.
type expDesc struct {
	kind expKind

	info  int // register / upvalue index / pc / const index, depending on kind
	aux   int // t-register for expIndexed
	num   float64

	t int // jump-if-true list head
	f int // jump-if-false list head
}

func newExp(kind expKind, info int) expDesc {
	return expDesc{kind: kind, info: info, t: noJump, f: noJump}
}

func (e expDesc) hasJumps() bool { return e.t != e.f }

// localVar tracks one active local variable's name and register.
type localVar struct {
	name string
	reg  int

	// captured is true once some nested closure has captured this
	// local as an upvalue; findUpval consults this to share cells.
	captured *Upvalue
}

// funcState is the code generator's per-function scratch state
// (component I, spec §4.2): register allocator, constant pool side
// table, and jump-patch bookkeeping, exactly mirroring the PEG
// compiler's single-pass, one-FuncState-per-prototype design transposed
// from PEG grammars to expression/statement trees.
type funcState struct {
	parent *funcState
	g      *codegenState

	proto *Prototype

	freereg int
	nactive int // count of active locals (bottom nactive registers)
	locals  []localVar

	constMap map[any]int

	lastTarget int
	pendingTo  int // jump list pending patch to "here"

	blocks []*blockState
}

// blockState tracks loop/scope nesting for break-list patching and
// upvalue closing at block exit.
type blockState struct {
	isLoop     bool
	breakList  int
	firstLocal int
	hasUpval   bool
}

type codegenState struct {
	chunk string
}

// Compile lowers a parsed Block into a root Prototype (component I's
// public entry point; F is its output type).
func Compile(chunk string, block *Block) (*Prototype, error) {
	g := &codegenState{chunk: chunk}
	fs := newFuncState(g, nil)
	fs.proto.IsVararg = true
	fs.proto.Source = chunk

	if err := fs.genBlock(block); err != nil {
		return nil, err
	}
	fs.emitReturn(nil, 0)
	return fs.proto, nil
}

func newFuncState(g *codegenState, parent *funcState) *funcState {
	fs := &funcState{
		parent:   parent,
		g:        g,
		proto:    &Prototype{Debug: &DebugInfo{}},
		constMap: map[any]int{},
		lastTarget: -1,
	}
	fs.enterBlock(false)
	return fs
}

func (fs *funcState) enterBlock(isLoop bool) {
	fs.blocks = append(fs.blocks, &blockState{isLoop: isLoop, breakList: noJump, firstLocal: fs.nactive})
}

func (fs *funcState) leaveBlock() *blockState {
	b := fs.blocks[len(fs.blocks)-1]
	fs.blocks = fs.blocks[:len(fs.blocks)-1]
	fs.nactive = b.firstLocal
	fs.locals = fs.locals[:b.firstLocal]
	return b
}

func (fs *funcState) curBlock() *blockState { return fs.blocks[len(fs.blocks)-1] }

// ---- register allocator ----

func (fs *funcState) reserveRegs(n int) (int, error) {
	base := fs.freereg
	fs.freereg += n
	if fs.freereg > maxRegisters {
		return 0, newSyntaxError(Position{Chunk: fs.g.chunk}, "function or expression too complex")
	}
	if fs.freereg > fs.proto.MaxStackSize {
		fs.proto.MaxStackSize = fs.freereg
	}
	return base, nil
}

func (fs *funcState) freeReg(r int) {
	if r >= fs.nactive && r == fs.freereg-1 {
		fs.freereg--
	}
}

func (fs *funcState) freeExp(e expDesc) {
	switch e.kind {
	case expNonReloc:
		fs.freeReg(e.info)
	case expCall:
		fs.freeReg(DecodeA(fs.proto.Code[e.info]))
	case expIndexed:
		if !IsK(e.info) {
			fs.freeReg(e.info)
		}
		fs.freeReg(e.aux)
	}
}

// ---- constant pool ----

func (fs *funcState) addConst(key any, v Value) int {
	if idx, ok := fs.constMap[key]; ok {
		return idx
	}
	idx := len(fs.proto.Consts)
	fs.proto.Consts = append(fs.proto.Consts, v)
	fs.constMap[key] = idx
	return idx
}

func (fs *funcState) numberConst(n float64) int {
	return fs.addConst(n, NewValueNumber(n))
}

func (fs *funcState) stringConst(s string) int {
	return fs.addConst("s:"+s, NewValueString(NewStr(s)))
}

func (fs *funcState) nilConst() int {
	return fs.addConst(struct{}{}, Nil())
}

func (fs *funcState) boolConst(b bool) int {
	return fs.addConst(b, NewValueBool(b))
}

// ---- instruction emission ----

func (fs *funcState) emit(i uint32) int {
	fs.proto.Code = append(fs.proto.Code, i)
	if fs.proto.Debug != nil {
		fs.proto.Debug.Lines = append(fs.proto.Debug.Lines, 0)
	}
	return len(fs.proto.Code) - 1
}

func (fs *funcState) emitABC(op OpCode, a, b, c int) int { return fs.emit(EncodeABC(op, a, b, c)) }
func (fs *funcState) emitABx(op OpCode, a, bx int) int   { return fs.emit(EncodeABx(op, a, bx)) }

func (fs *funcState) emitAsBx(op OpCode, a, sbx int) int {
	pc := fs.emit(EncodeAsBx(op, a, 0))
	fs.patchSBx(pc, sbx)
	return pc
}

func (fs *funcState) patchSBx(pc, sbx int) {
	ins := fs.proto.Code[pc]
	op := DecodeOp(ins)
	a := DecodeA(ins)
	fs.proto.Code[pc] = EncodeAsBx(op, a, sbx)
}

func (fs *funcState) pc() int { return len(fs.proto.Code) }

func (fs *funcState) emitJmp() int {
	pc := fs.emitAsBx(OpJmp, 0, noJump)
	return pc
}

// ---- jump list management (threaded through sBx, spec §4.2/§9) ----

func (fs *funcState) getJump(pc int) int {
	offset := DecodeSBx(fs.proto.Code[pc])
	if offset == noJump {
		return noJump
	}
	return pc + 1 + offset
}

func (fs *funcState) fixJump(pc, dest int) {
	offset := dest - (pc + 1)
	fs.patchSBx(pc, offset)
}

func (fs *funcState) concatJumps(l1 *int, l2 int) {
	if l2 == noJump {
		return
	}
	if *l1 == noJump {
		*l1 = l2
		return
	}
	list := *l1
	for {
		next := fs.getJump(list)
		if next == noJump {
			break
		}
		list = next
	}
	fs.fixJump(list, l2)
}

func (fs *funcState) patchListAux(list, target int) {
	for list != noJump {
		next := fs.getJump(list)
		fs.fixJump(list, target)
		list = next
	}
}

func (fs *funcState) patchList(list int) error {
	if list == noJump {
		return nil
	}
	if (fs.pc() - (list + 1)) > maxArgSBx {
		return newSyntaxError(Position{Chunk: fs.g.chunk}, "control structure too long")
	}
	fs.patchListAux(list, fs.pc())
	return nil
}

func (fs *funcState) patchToTarget(list, target int) error {
	if target-(list+1) > maxArgSBx || target-(list+1) < -maxArgSBx-1 {
		return newSyntaxError(Position{Chunk: fs.g.chunk}, "control structure too long")
	}
	fs.patchListAux(list, target)
	return nil
}

var _ = fmt.Sprintf
