package rill

import (
	"log"

	mapset "github.com/deckarep/golang-set"
)

// gcColor is the tri-color mark used by the incremental collector
// (component E, spec §4's GC phases and §5's "GC steps piggy-back on
// allocation").
type gcColor int

const (
	gcWhite gcColor = iota
	gcGray
	gcBlack
)

type gcPhase int

const (
	gcPhasePause gcPhase = iota
	gcPhaseMark
	gcPhaseSweep
)

// gcObject is implemented by every heap object the collector is
// responsible for: tables, closures, upvalues, userdata, threads.
type gcObject interface {
	gcColor() gcColor
	setGCColor(gcColor)
	gcChildren() []any
}

// gcState holds the collector's phase and work lists. Gray and
// gray-again objects are tracked in mapset sets rather than hand
// rolled map[x]struct{} bookkeeping, matching deckarep/golang-set's
// role across the retrieved dependency pack.
type gcState struct {
	g     *GlobalState
	phase gcPhase

	gray      mapset.Set
	grayAgain mapset.Set // objects re-grayed by a write barrier during the atomic sweep prep
	weak      mapset.Set // weak tables, swept specially

	openUpvalues *Upvalue // global doubly linked list head, for traversal during mark

	finalizeQueue []*Userdata
}

func newGCState(g *GlobalState) *gcState {
	return &gcState{
		g:         g,
		gray:      mapset.NewSet(),
		grayAgain: mapset.NewSet(),
		weak:      mapset.NewSet(),
	}
}

// markRoot marks an object gray and schedules it for child traversal.
// Called for the main thread, the registry, and the type metatables
// at the start of every mark phase.
func (gc *gcState) markRoot(o gcObject) {
	if o == nil || o.gcColor() != gcWhite {
		return
	}
	o.setGCColor(gcGray)
	gc.gray.Add(o)
}

// registerWeak marks t as a weak table (__mode key/value/both),
// excluding it from the ordinary reachability-keeps-alive rule;
// entries whose only references are weak die at the next sweep.
func (gc *gcState) registerWeak(t *Table) {
	gc.weak.Add(t)
}

// step performs a bounded amount of incremental work: in the mark phase
// it marks at most Config.GCStepMul gray objects per call, a fixed
// budget that does not scale with bytes allocated since the last step. It
// takes the owning VM, not just its Config, because the sweep phase
// must be able to call into Rill code to run `__gc` finalizers.
func (gc *gcState) step(vm *VM) {
	cfg := vm.global.Config
	budget := cfg.GCStepMul
	switch gc.phase {
	case gcPhasePause:
		gc.startCycle()
		gc.phase = gcPhaseMark
	case gcPhaseMark:
		for budget > 0 && gc.gray.Cardinality() > 0 {
			gc.markOne()
			budget--
		}
		if gc.gray.Cardinality() == 0 && gc.grayAgain.Cardinality() == 0 {
			gc.phase = gcPhaseSweep
		} else {
			gc.gray = gc.grayAgain
			gc.grayAgain = mapset.NewSet()
		}
	case gcPhaseSweep:
		gc.sweepWeak()
		gc.runFinalizers(vm)
		gc.phase = gcPhasePause
		gc.g.mem.cycleFinished(cfg)
	}
}

func (gc *gcState) startCycle() {
	if gc.g.mainThread != nil {
		gc.markRoot(gc.g.mainThread)
	}
	gc.markRoot(gc.g.registry)
	for _, mt := range gc.g.typeMetatables {
		if mt != nil {
			gc.markRoot(mt)
		}
	}
}

func (gc *gcState) markOne() {
	it := gc.gray.Iter()
	v, ok := <-it
	if !ok {
		return
	}
	o := v.(gcObject)
	gc.gray.Remove(o)
	o.setGCColor(gcBlack)
	for _, child := range o.gcChildren() {
		if co, ok := child.(gcObject); ok {
			gc.markRoot(co)
		}
	}
}

// sweepWeak drops dead entries from registered weak tables; called at
// the end of the mark phase, before ordinary sweep so that finalizers
// triggered by a weak-table death still run in the same cycle.
func (gc *gcState) sweepWeak() {
	for v := range gc.weak.Iter() {
		t := v.(*Table)
		for i, val := range t.array {
			if isGarbage(val) {
				t.array[i] = Nil()
			}
		}
		for i := range t.node {
			n := &t.node[i]
			if n.used && (isGarbage(n.key) || isGarbage(n.val)) {
				n.used = false
			}
		}
	}
}

// isGarbage is a conservative stand-in for "object is white and
// otherwise unreferenced": since this implementation backs GC
// liveness with Go's own collector for storage (objects are real Go
// values reachable as long as anything points at them), a weak table
// only actually needs to drop entries once the referent would
// otherwise have become Go-collectible; userdata carries an explicit
// flag for host code that wants eager weak semantics.
func isGarbage(v Value) bool {
	if v.Kind() == KindUserdata {
		return v.AsUserdata().Data == nil
	}
	return false
}

// runFinalizers invokes __gc on queued userdata in LIFO-of-deaths
// order (spec §5), on the main thread, discarding any error raised
// with an implementation-defined warning rather than propagating it
// (spec §7).
func (gc *gcState) runFinalizers(vm *VM) {
	for i := len(gc.finalizeQueue) - 1; i >= 0; i-- {
		u := gc.finalizeQueue[i]
		if u.Meta == nil {
			continue
		}
		gcFn := u.Meta.Get(NewValueString(gc.g.intern("__gc")))
		if gcFn.IsNil() || gcFn.Kind() != KindFunction {
			continue
		}
		if _, err := Protect(gc.g.mainThread, func() ([]Value, error) {
			return vm.call(gc.g.mainThread, gcFn, []Value{NewValueUserdata(u)}, 0)
		}); err != nil {
			log.Printf("rill: error in __gc finalizer: %s", err)
		}
	}
	gc.finalizeQueue = gc.finalizeQueue[:0]
}

// ---- gcObject implementations ----

type gcHeader struct{ color gcColor }

func (h *gcHeader) gcColor() gcColor      { return h.color }
func (h *gcHeader) setGCColor(c gcColor) { h.color = c }

func (t *Table) gcChildren() []any {
	children := make([]any, 0, len(t.array)+len(t.node)+1)
	for _, v := range t.array {
		children = append(children, v.ptr)
	}
	for _, n := range t.node {
		if n.used {
			children = append(children, n.key.ptr, n.val.ptr)
		}
	}
	if t.Meta != nil {
		children = append(children, t.Meta)
	}
	return children
}
