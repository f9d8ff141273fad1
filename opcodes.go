package rill

import "fmt"

// OpCode is the 6-bit instruction discriminant (component H, spec §4.1).
type OpCode byte

const (
	OpMove OpCode = iota
	OpLoadK
	OpLoadBool
	OpLoadNil
	OpGetUpval
	OpSetUpval
	OpGetGlobal
	OpSetGlobal
	OpGetTable
	OpSetTable
	OpNewTable
	OpSelf
	OpAdd
	OpSub
	OpMul
	OpDiv
	OpMod
	OpPow
	OpUnm
	OpNot
	OpLen
	OpConcat
	OpJmp
	OpEq
	OpLt
	OpLe
	OpTest
	OpTestSet
	OpCall
	OpTailCall
	OpReturn
	OpClosure
	OpClose
	OpVararg
	OpForLoop
	OpForPrep
	OpTForLoop
	OpSetList
	opCodeCount
)

var opNames = [...]string{
	OpMove: "MOVE", OpLoadK: "LOADK", OpLoadBool: "LOADBOOL", OpLoadNil: "LOADNIL",
	OpGetUpval: "GETUPVAL", OpSetUpval: "SETUPVAL",
	OpGetGlobal: "GETGLOBAL", OpSetGlobal: "SETGLOBAL",
	OpGetTable: "GETTABLE", OpSetTable: "SETTABLE",
	OpNewTable: "NEWTABLE", OpSelf: "SELF",
	OpAdd: "ADD", OpSub: "SUB", OpMul: "MUL", OpDiv: "DIV", OpMod: "MOD", OpPow: "POW",
	OpUnm: "UNM", OpNot: "NOT", OpLen: "LEN", OpConcat: "CONCAT",
	OpJmp: "JMP", OpEq: "EQ", OpLt: "LT", OpLe: "LE",
	OpTest: "TEST", OpTestSet: "TESTSET",
	OpCall: "CALL", OpTailCall: "TAILCALL", OpReturn: "RETURN",
	OpClosure: "CLOSURE", OpClose: "CLOSE", OpVararg: "VARARG",
	OpForLoop: "FORLOOP", OpForPrep: "FORPREP", OpTForLoop: "TFORLOOP", OpSetList: "SETLIST",
}

func (op OpCode) String() string {
	if int(op) < len(opNames) {
		return opNames[op]
	}
	return "?"
}

// OpMode is the operand encoding an instruction uses (spec §4.1's
// three layouts sharing an 8-bit A field).
type OpMode byte

const (
	ModeABC OpMode = iota
	ModeABx
	ModeAsBx
)

// OperandKind classifies how the B/C fields of an ABC instruction are
// interpreted: used for verification, disassembly, and the code
// generator's operand preparation (spec §4.1).
type OperandKind byte

const (
	OpArgN OperandKind = iota // unused
	OpArgU                    // raw unsigned value
	OpArgR                    // register index
	OpArgK                    // RK operand: register or constant
)

type opMeta struct {
	mode     OpMode
	testFlag bool // may skip the following instruction
	setsA    bool
	bMode    OperandKind
	cMode    OperandKind
}

var opMetaTable = [opCodeCount]opMeta{
	OpMove:      {ModeABC, false, true, OpArgR, OpArgN},
	OpLoadK:     {ModeABx, false, true, OpArgN, OpArgN},
	OpLoadBool:  {ModeABC, false, true, OpArgU, OpArgU},
	OpLoadNil:   {ModeABC, false, true, OpArgR, OpArgN},
	OpGetUpval:  {ModeABC, false, true, OpArgU, OpArgN},
	OpSetUpval:  {ModeABC, false, false, OpArgU, OpArgN},
	OpGetGlobal: {ModeABx, false, true, OpArgN, OpArgN},
	OpSetGlobal: {ModeABx, false, false, OpArgN, OpArgN},
	OpGetTable:  {ModeABC, false, true, OpArgR, OpArgK},
	OpSetTable:  {ModeABC, false, false, OpArgK, OpArgK},
	OpNewTable:  {ModeABC, false, true, OpArgU, OpArgU},
	OpSelf:      {ModeABC, false, true, OpArgR, OpArgK},
	OpAdd:       {ModeABC, false, true, OpArgK, OpArgK},
	OpSub:       {ModeABC, false, true, OpArgK, OpArgK},
	OpMul:       {ModeABC, false, true, OpArgK, OpArgK},
	OpDiv:       {ModeABC, false, true, OpArgK, OpArgK},
	OpMod:       {ModeABC, false, true, OpArgK, OpArgK},
	OpPow:       {ModeABC, false, true, OpArgK, OpArgK},
	OpUnm:       {ModeABC, false, true, OpArgR, OpArgN},
	OpNot:       {ModeABC, false, true, OpArgR, OpArgN},
	OpLen:       {ModeABC, false, true, OpArgR, OpArgN},
	OpConcat:    {ModeABC, false, true, OpArgR, OpArgR},
	OpJmp:       {ModeAsBx, false, false, OpArgN, OpArgN},
	OpEq:        {ModeABC, true, false, OpArgK, OpArgK},
	OpLt:        {ModeABC, true, false, OpArgK, OpArgK},
	OpLe:        {ModeABC, true, false, OpArgK, OpArgK},
	OpTest:      {ModeABC, true, false, OpArgN, OpArgU},
	OpTestSet:   {ModeABC, true, true, OpArgR, OpArgU},
	OpCall:      {ModeABC, false, true, OpArgU, OpArgU},
	OpTailCall:  {ModeABC, false, true, OpArgU, OpArgU},
	OpReturn:    {ModeABC, false, false, OpArgU, OpArgN},
	OpClosure:   {ModeABx, false, true, OpArgN, OpArgN},
	OpClose:     {ModeABC, false, false, OpArgN, OpArgN},
	OpVararg:    {ModeABC, false, true, OpArgU, OpArgN},
	OpForLoop:   {ModeAsBx, false, true, OpArgN, OpArgN},
	OpForPrep:   {ModeAsBx, false, true, OpArgN, OpArgN},
	OpTForLoop:  {ModeABC, false, false, OpArgN, OpArgU},
	OpSetList:   {ModeABC, false, false, OpArgU, OpArgU},
}

// Instruction field widths, packed into one uint32 (spec §4.1):
//   op(6) A(8) B(9) C(9)          -- ABC
//   op(6) A(8) Bx(18)             -- ABx
//   op(6) A(8) sBx(18, biased)    -- AsBx
const (
	sizeOp  = 6
	sizeA   = 8
	sizeB   = 9
	sizeC   = 9
	sizeBx  = sizeB + sizeC

	posOp = 0
	posA  = posOp + sizeOp
	posC  = posA + sizeA
	posB  = posC + sizeC
	posBx = posC

	maxArgBx  = 1<<sizeBx - 1
	maxArgSBx = maxArgBx >> 1

	bitRK = 1 << (sizeB - 1) // top bit of a 9-bit B/C field: constant marker
	maxArgRK = bitRK - 1

	maxArgA = 1<<sizeA - 1
	maxArgC = 1<<sizeC - 1
)

func mask(bits uint) uint32 { return 1<<bits - 1 }

func EncodeABC(op OpCode, a, b, c int) uint32 {
	return uint32(op) | uint32(a)<<posA | uint32(b)<<posB | uint32(c)<<posC
}

func EncodeABx(op OpCode, a, bx int) uint32 {
	return uint32(op) | uint32(a)<<posA | uint32(bx)<<posBx
}

func EncodeAsBx(op OpCode, a, sbx int) uint32 {
	return uint32(op) | uint32(a)<<posA | uint32(sbx+maxArgSBx)<<posBx
}

func DecodeOp(i uint32) OpCode { return OpCode(i & mask(sizeOp)) }
func DecodeA(i uint32) int     { return int((i >> posA) & mask(sizeA)) }
func DecodeB(i uint32) int     { return int((i >> posB) & mask(sizeB)) }
func DecodeC(i uint32) int     { return int((i >> posC) & mask(sizeC)) }
func DecodeBx(i uint32) int    { return int((i >> posBx) & mask(sizeBx)) }
func DecodeSBx(i uint32) int   { return DecodeBx(i) - maxArgSBx }

// IsK reports whether an RK-encoded B/C operand names a constant
// pool index rather than a register, and ValueK extracts that index.
func IsK(rk int) bool   { return rk&bitRK != 0 }
func ValueK(rk int) int { return rk &^ bitRK }
func RKFromK(k int) int { return k | bitRK }

// Disassemble renders a prototype's code the way vm_program.go's
// PrettyString does (one line per instruction, operand
// columns), generalized from PEG assembly to Rill's ABC/ABx/AsBx
// encoding. The output is plain text, and rillc's listing prints it
// as is, without color.
func Disassemble(p *Prototype) string {
	var out string
	for pc, ins := range p.Code {
		op := DecodeOp(ins)
		meta := opMetaTable[op]
		switch meta.mode {
		case ModeABC:
			out += fmt.Sprintf("%4d  %-10s %d %d %d\n", pc, op, DecodeA(ins), DecodeB(ins), DecodeC(ins))
		case ModeABx:
			out += fmt.Sprintf("%4d  %-10s %d %d\n", pc, op, DecodeA(ins), DecodeBx(ins))
		case ModeAsBx:
			out += fmt.Sprintf("%4d  %-10s %d %d\n", pc, op, DecodeA(ins), DecodeSBx(ins))
		}
	}
	return out
}
