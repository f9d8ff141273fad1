package rill

import "sort"

// OpenTable installs the table.* library: insert/remove/concat/sort,
// grounded directly on the Table primitives in table.go (component C).
func OpenTable(vm *VM, env *Table) {
	tbl := NewTable(0, 4)
	reg := func(name string, fn HostFunc) {
		tbl.Set(NewValueString(vm.global.intern(name)), NewValueClosure(NewHostClosure(fn, nil, env)))
	}
	reg("insert", tblInsert)
	reg("remove", tblRemove)
	reg("concat", tblConcat)
	reg("sort", tblSort)
	env.Set(NewValueString(vm.global.intern("table")), NewValueTable(tbl))
}

func tblInsert(vm *VM, ld *LoadedArgs) (int, error) {
	args := loadedArgs(ld)
	t := arg(args, 0).AsTable()
	if t == nil {
		return 0, newRuntimeError(Position{}, "insert: not a table")
	}
	n := t.Len()
	if len(args) == 2 {
		return 0, t.Set(NewValueNumber(float64(n+1)), arg(args, 1))
	}
	pos := int(arg(args, 1).AsNumber())
	v := arg(args, 2)
	for i := n + 1; i > pos; i-- {
		if err := t.Set(NewValueNumber(float64(i)), t.Get(NewValueNumber(float64(i-1)))); err != nil {
			return 0, err
		}
	}
	return 0, t.Set(NewValueNumber(float64(pos)), v)
}

func tblRemove(vm *VM, ld *LoadedArgs) (int, error) {
	args := loadedArgs(ld)
	t := arg(args, 0).AsTable()
	if t == nil {
		return 0, newRuntimeError(Position{}, "remove: not a table")
	}
	n := t.Len()
	if n == 0 {
		return pushResults(ld, Nil()), nil
	}
	pos := n
	if len(args) > 1 {
		pos = int(arg(args, 1).AsNumber())
	}
	removed := t.Get(NewValueNumber(float64(pos)))
	for i := pos; i < n; i++ {
		if err := t.Set(NewValueNumber(float64(i)), t.Get(NewValueNumber(float64(i+1)))); err != nil {
			return 0, err
		}
	}
	if err := t.Set(NewValueNumber(float64(n)), Nil()); err != nil {
		return 0, err
	}
	return pushResults(ld, removed), nil
}

func tblConcat(vm *VM, ld *LoadedArgs) (int, error) {
	args := loadedArgs(ld)
	t := arg(args, 0).AsTable()
	if t == nil {
		return 0, newRuntimeError(Position{}, "concat: not a table")
	}
	sep := ""
	if len(args) > 1 {
		sep = strArg(args, 1)
	}
	n := t.Len()
	i, j := 1, n
	if len(args) > 2 {
		i = int(arg(args, 2).AsNumber())
	}
	if len(args) > 3 {
		j = int(arg(args, 3).AsNumber())
	}
	out := ""
	for k := i; k <= j; k++ {
		if k > i {
			out += sep
		}
		out += ToStringNoMeta(t.Get(NewValueNumber(float64(k))))
	}
	return pushResults(ld, NewValueString(vm.global.intern(out))), nil
}

func tblSort(vm *VM, ld *LoadedArgs) (int, error) {
	args := loadedArgs(ld)
	t := arg(args, 0).AsTable()
	if t == nil {
		return 0, newRuntimeError(Position{}, "sort: not a table")
	}
	var cmp Value
	if len(args) > 1 {
		cmp = args[1]
	}
	n := t.Len()
	vals := make([]Value, n)
	for i := 0; i < n; i++ {
		vals[i] = t.Get(NewValueNumber(float64(i + 1)))
	}

	var sortErr error
	sort.SliceStable(vals, func(a, b int) bool {
		if sortErr != nil {
			return false
		}
		if cmp.Kind() == KindFunction {
			rets, err := vm.call(ld.Thread, cmp, []Value{vals[a], vals[b]}, 1)
			if err != nil {
				sortErr = err
				return false
			}
			return len(rets) > 0 && rets[0].Truthy()
		}
		less, err := vm.compare(ld.Thread, OpLt, vals[a], vals[b])
		if err != nil {
			sortErr = err
			return false
		}
		return less
	})
	if sortErr != nil {
		return 0, sortErr
	}
	for i, v := range vals {
		if err := t.Set(NewValueNumber(float64(i+1)), v); err != nil {
			return 0, err
		}
	}
	return 0, nil
}
