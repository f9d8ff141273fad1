package rill

import (
	"strings"

	"github.com/dlclark/regexp2"
)

// OpenString installs the string.* table. Pattern matching is backed
// by dlclark/regexp2 rather than a hand-rolled pattern matcher: it
// supports .NET-style regex, which is a superset expressive enough for
// every pattern this library exposes, the same tradeoff the retrieved
// corpus makes wherever it needs backtracking regex semantics Go's own
// RE2-based `regexp` package won't give it.
func OpenString(vm *VM, env *Table) {
	str := NewTable(0, 8)
	reg := func(name string, fn HostFunc) {
		str.Set(NewValueString(vm.global.intern(name)), NewValueClosure(NewHostClosure(fn, nil, env)))
	}
	reg("len", strLen)
	reg("sub", strSub)
	reg("upper", strUpper)
	reg("lower", strLower)
	reg("rep", strRep)
	reg("reverse", strReverse)
	reg("byte", strByte)
	reg("char", strChar)
	reg("find", strFind)
	reg("match", strMatch)
	reg("gsub", strGsub)
	env.Set(NewValueString(vm.global.intern("string")), NewValueTable(str))

	// Every string shares this one metatable with __index pointing at
	// the string table itself, so `s:sub(1,2)` (SELF opcode) resolves
	// method calls the same way a table method call would.
	strMeta := NewTable(0, 1)
	strMeta.Set(NewValueString(vm.global.intern("__index")), NewValueTable(str))
	vm.global.SetTypeMetatable(KindString, strMeta)
}

func strArg(args []Value, i int) string {
	v := arg(args, i)
	if v.Kind() == KindString {
		return v.AsStr().String()
	}
	return ToStringNoMeta(v)
}

func strLen(vm *VM, ld *LoadedArgs) (int, error) {
	return pushResults(ld, NewValueNumber(float64(len(strArg(loadedArgs(ld), 0))))), nil
}

// normIndex converts a 1-based, possibly-negative string index into a
// 0-based byte offset clamped to [0, n].
func normIndex(i, n int) int {
	if i < 0 {
		i = n + i + 1
	}
	if i < 1 {
		i = 1
	}
	if i > n+1 {
		i = n + 1
	}
	return i - 1
}

func strSub(vm *VM, ld *LoadedArgs) (int, error) {
	args := loadedArgs(ld)
	s := strArg(args, 0)
	n := len(s)
	i := n
	if len(args) > 1 {
		i = int(arg(args, 1).AsNumber())
	} else {
		i = 1
	}
	j := -1
	if len(args) > 2 {
		j = int(arg(args, 2).AsNumber())
	}
	start := normIndex(i, n)
	end := normIndex(j, n) + 1
	if end > n {
		end = n
	}
	if start >= end {
		return pushResults(ld, NewValueString(vm.global.intern(""))), nil
	}
	return pushResults(ld, NewValueString(vm.global.intern(s[start:end]))), nil
}

func strUpper(vm *VM, ld *LoadedArgs) (int, error) {
	return pushResults(ld, NewValueString(vm.global.intern(strings.ToUpper(strArg(loadedArgs(ld), 0))))), nil
}

func strLower(vm *VM, ld *LoadedArgs) (int, error) {
	return pushResults(ld, NewValueString(vm.global.intern(strings.ToLower(strArg(loadedArgs(ld), 0))))), nil
}

func strRep(vm *VM, ld *LoadedArgs) (int, error) {
	args := loadedArgs(ld)
	s := strArg(args, 0)
	n := int(arg(args, 1).AsNumber())
	if n <= 0 {
		return pushResults(ld, NewValueString(vm.global.intern(""))), nil
	}
	return pushResults(ld, NewValueString(vm.global.intern(strings.Repeat(s, n)))), nil
}

func strReverse(vm *VM, ld *LoadedArgs) (int, error) {
	s := []byte(strArg(loadedArgs(ld), 0))
	for i, j := 0, len(s)-1; i < j; i, j = i+1, j-1 {
		s[i], s[j] = s[j], s[i]
	}
	return pushResults(ld, NewValueString(vm.global.intern(string(s)))), nil
}

func strByte(vm *VM, ld *LoadedArgs) (int, error) {
	args := loadedArgs(ld)
	s := strArg(args, 0)
	i := 1
	if len(args) > 1 {
		i = int(arg(args, 1).AsNumber())
	}
	idx := normIndex(i, len(s))
	if idx < 0 || idx >= len(s) {
		return 0, nil
	}
	return pushResults(ld, NewValueNumber(float64(s[idx]))), nil
}

func strChar(vm *VM, ld *LoadedArgs) (int, error) {
	args := loadedArgs(ld)
	b := make([]byte, len(args))
	for i, v := range args {
		b[i] = byte(v.AsNumber())
	}
	return pushResults(ld, NewValueString(vm.global.intern(string(b)))), nil
}

func strFind(vm *VM, ld *LoadedArgs) (int, error) {
	args := loadedArgs(ld)
	s := strArg(args, 0)
	pat := strArg(args, 1)
	re, err := regexp2.Compile(pat, 0)
	if err != nil {
		return 0, newRuntimeError(Position{}, "find: bad pattern: %s", err)
	}
	m, err := re.FindStringMatch(s)
	if err != nil || m == nil {
		return pushResults(ld, Nil()), nil
	}
	start := m.Index
	end := m.Index + m.Length
	rets := []Value{NewValueNumber(float64(start + 1)), NewValueNumber(float64(end))}
	for _, g := range m.Groups()[1:] {
		rets = append(rets, NewValueString(vm.global.intern(g.String())))
	}
	return pushResults(ld, rets...), nil
}

func strMatch(vm *VM, ld *LoadedArgs) (int, error) {
	args := loadedArgs(ld)
	s := strArg(args, 0)
	pat := strArg(args, 1)
	re, err := regexp2.Compile(pat, 0)
	if err != nil {
		return 0, newRuntimeError(Position{}, "match: bad pattern: %s", err)
	}
	m, err := re.FindStringMatch(s)
	if err != nil || m == nil {
		return pushResults(ld, Nil()), nil
	}
	if groups := m.Groups(); len(groups) > 1 {
		rets := make([]Value, 0, len(groups)-1)
		for _, g := range groups[1:] {
			rets = append(rets, NewValueString(vm.global.intern(g.String())))
		}
		return pushResults(ld, rets...), nil
	}
	return pushResults(ld, NewValueString(vm.global.intern(m.String()))), nil
}

func strGsub(vm *VM, ld *LoadedArgs) (int, error) {
	args := loadedArgs(ld)
	s := strArg(args, 0)
	pat := strArg(args, 1)
	repl := strArg(args, 2)
	re, err := regexp2.Compile(pat, 0)
	if err != nil {
		return 0, newRuntimeError(Position{}, "gsub: bad pattern: %s", err)
	}
	out, err := re.Replace(s, repl, -1, -1)
	if err != nil {
		return 0, newRuntimeError(Position{}, "gsub: %s", err)
	}
	return pushResults(ld, NewValueString(vm.global.intern(out)), NewValueNumber(0)), nil
}
