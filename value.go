package rill

import (
	"fmt"
	"math"
	"reflect"
)

// Kind is the discriminant of the Value tagged union (component A).
// Rill rejects a polymorphic Value hierarchy on purpose: a closed tag
// set dispatches faster and is trivial to exhaustively switch over.
type Kind uint8

const (
	KindNil Kind = iota
	KindBool
	KindNumber
	KindString
	KindTable
	KindFunction
	KindUserdata
	KindThread
)

func (k Kind) String() string {
	switch k {
	case KindNil:
		return "nil"
	case KindBool:
		return "boolean"
	case KindNumber:
		return "number"
	case KindString:
		return "string"
	case KindTable:
		return "table"
	case KindFunction:
		return "function"
	case KindUserdata:
		return "userdata"
	case KindThread:
		return "thread"
	default:
		return "unknown"
	}
}

// Value is a fixed-size tagged union. Booleans and numbers live
// inline; every other kind stores a handle to a GC-managed object.
// Handle identity (not struct identity) is what equality/hashing use
// for tables, closures, userdata and threads, and strings rely on
// interning to make handle identity coincide with content equality.
type Value struct {
	kind Kind
	num  float64
	boo  bool
	ptr  any // *Str | *Table | *Closure | *Userdata | *Thread
}

var valueNil = Value{kind: KindNil}

func Nil() Value { return valueNil }

func NewValueBool(b bool) Value { return Value{kind: KindBool, boo: b} }

func NewValueNumber(n float64) Value { return Value{kind: KindNumber, num: n} }

func NewValueString(s *Str) Value { return Value{kind: KindString, ptr: s} }

func NewValueTable(t *Table) Value { return Value{kind: KindTable, ptr: t} }

func NewValueClosure(c *Closure) Value { return Value{kind: KindFunction, ptr: c} }

func NewValueUserdata(u *Userdata) Value { return Value{kind: KindUserdata, ptr: u} }

func NewValueThread(t *Thread) Value { return Value{kind: KindThread, ptr: t} }

func (v Value) Kind() Kind { return v.kind }

func (v Value) IsNil() bool { return v.kind == KindNil }

// Truthy implements the only two falsy values: nil and false.
func (v Value) Truthy() bool {
	return !(v.kind == KindNil || (v.kind == KindBool && !v.boo))
}

func (v Value) AsBool() bool { return v.boo }

func (v Value) AsNumber() float64 { return v.num }

func (v Value) AsStr() *Str { s, _ := v.ptr.(*Str); return s }

func (v Value) AsTable() *Table { t, _ := v.ptr.(*Table); return t }

func (v Value) AsClosure() *Closure { c, _ := v.ptr.(*Closure); return c }

func (v Value) AsUserdata() *Userdata { u, _ := v.ptr.(*Userdata); return u }

func (v Value) AsThread() *Thread { t, _ := v.ptr.(*Thread); return t }

// IsNumberInt reports whether v is a number with no fractional part;
// used by the table's array-part fast path and rehash's integer-key
// count. Key comparison does not consult it (§9 Open Question).
func (v Value) IsNumberInt() bool {
	return v.kind == KindNumber && v.num == math.Trunc(v.num) && !math.IsInf(v.num, 0)
}

// metatableOf returns the value-level or type-level metatable, or nil.
func metatableOf(g *GlobalState, v Value) *Table {
	switch v.kind {
	case KindTable:
		return v.AsTable().Meta
	case KindUserdata:
		return v.AsUserdata().Meta
	default:
		return g.typeMetatables[v.kind]
	}
}

// RawEquals implements identity/value equality with no metamethod
// consultation (§3, §8.1): nil=nil; booleans by value; numbers by
// IEEE equality (NaN != NaN, +0 == -0); strings by interned handle
// identity; everything else by handle identity.
func RawEquals(a, b Value) bool {
	if a.kind != b.kind {
		return false
	}
	switch a.kind {
	case KindNil:
		return true
	case KindBool:
		return a.boo == b.boo
	case KindNumber:
		return a.num == b.num
	default:
		return a.ptr == b.ptr
	}
}

// HashValue produces a hash consistent with RawEquals: equal values
// always hash equal. Strings use their cached intern-time hash;
// numbers fold +0/-0 together and hash by bit pattern otherwise;
// booleans and handles use small, obvious schemes.
func HashValue(v Value) uint64 {
	switch v.kind {
	case KindNil:
		return 0
	case KindBool:
		if v.boo {
			return 1
		}
		return 2
	case KindNumber:
		n := v.num
		if n == 0 {
			n = 0 // collapse -0 into +0
		}
		return math.Float64bits(n)
	case KindString:
		return v.AsStr().hash
	default:
		return hashPointer(v.ptr)
	}
}

func hashPointer(p any) uint64 {
	return uint64(reflect.ValueOf(p).Pointer())
}

// ToStringNoMeta stringifies a value without consulting __tostring;
// used by error formatting and disassembly, where metamethod dispatch
// would be surprising or unsafe (errors.go, CLI).
func ToStringNoMeta(v Value) string {
	switch v.kind {
	case KindNil:
		return "nil"
	case KindBool:
		if v.boo {
			return "true"
		}
		return "false"
	case KindNumber:
		return formatNumber(v.num)
	case KindString:
		return v.AsStr().String()
	case KindTable:
		return fmt.Sprintf("table: %p", v.AsTable())
	case KindFunction:
		return fmt.Sprintf("function: %p", v.AsClosure())
	case KindUserdata:
		return fmt.Sprintf("userdata: %p", v.AsUserdata())
	case KindThread:
		return fmt.Sprintf("thread: %s", v.AsThread().ID)
	default:
		return "?"
	}
}

func formatNumber(n float64) string {
	if math.IsInf(n, 1) {
		return "inf"
	}
	if math.IsInf(n, -1) {
		return "-inf"
	}
	if math.IsNaN(n) {
		return "nan"
	}
	if n == math.Trunc(n) && math.Abs(n) < 1e15 {
		return fmt.Sprintf("%.1f", n)
	}
	return fmt.Sprintf("%.14g", n)
}
