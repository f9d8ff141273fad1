package rill

import (
	"github.com/google/uuid"
)

// ThreadStatus enumerates a coroutine's lifecycle states (spec §3).
type ThreadStatus int

const (
	ThreadInitial ThreadStatus = iota
	ThreadRunning
	ThreadSuspended
	ThreadNormal
	ThreadDead
)

func (s ThreadStatus) String() string {
	switch s {
	case ThreadInitial:
		return "initial"
	case ThreadRunning:
		return "running"
	case ThreadSuspended:
		return "suspended"
	case ThreadNormal:
		return "normal"
	default:
		return "dead"
	}
}

// Thread is a coroutine: an independent value stack and call-frame
// stack sharing one GlobalState (component K). Rill implements
// coroutines as a stackful design using one goroutine per thread and
// unbuffered channels for the resume/yield handshake — the allowance
// spec §9 makes explicitly ("a stackful implementation ... is
// acceptable"), and the natural fit for Go's own stackful goroutines
// instead of a CPS-transformed loop.
type Thread struct {
	gcHeader

	ID     string
	global *GlobalState
	status ThreadStatus

	stack  []Value
	frames frames

	openHead *Upvalue // this thread's open-upvalue list, sorted by descending slot

	resumeCh chan []Value
	yieldCh  chan yieldMsg

	body             *Closure
	err              error
	goroutineStarted bool
}

type yieldMsg struct {
	values []Value
	done   bool
	err    error
}

func newThread(g *GlobalState, body *Closure) *Thread {
	return &Thread{
		ID:       uuid.NewString(),
		global:   g,
		status:   ThreadInitial,
		stack:    make([]Value, 0, 64),
		body:     body,
		resumeCh: make(chan []Value),
		yieldCh:  make(chan yieldMsg),
	}
}

// unlinkOpenUpvalue removes u from this thread's open-upvalue list.
func (t *Thread) unlinkOpenUpvalue(u *Upvalue) {
	if u.openPrev != nil {
		u.openPrev.openNext = u.openNext
	} else if t.openHead == u {
		t.openHead = u.openNext
	}
	if u.openNext != nil {
		u.openNext.openPrev = u.openPrev
	}
	u.openNext, u.openPrev = nil, nil
}

// findUpval returns the existing open upvalue for slot, or creates
// one, preserving the invariant that at most one open upvalue exists
// per (thread, slot) (§4.4).
func (t *Thread) findUpval(slot int) *Upvalue {
	for u := t.openHead; u != nil; u = u.openNext {
		if u.slot == slot {
			return u
		}
		if u.slot < slot {
			break
		}
	}
	u := &Upvalue{thread: t, slot: slot}
	// insert sorted by descending slot
	var prev *Upvalue
	cur := t.openHead
	for cur != nil && cur.slot > slot {
		prev = cur
		cur = cur.openNext
	}
	u.openNext = cur
	u.openPrev = prev
	if cur != nil {
		cur.openPrev = u
	}
	if prev != nil {
		prev.openNext = u
	} else {
		t.openHead = u
	}
	return u
}

// closeUpvalues closes every open upvalue at or above level, the
// operation the CLOSE opcode, function return, and coroutine
// suspension all invoke (§4.4).
func (t *Thread) closeUpvalues(level int) {
	for t.openHead != nil && t.openHead.slot >= level {
		u := t.openHead
		t.openHead = u.openNext
		u.close()
	}
}

func (t *Thread) gcChildren() []any {
	children := make([]any, 0, len(t.stack))
	for _, v := range t.stack {
		children = append(children, v.ptr)
	}
	return children
}

// Resume implements coroutine.resume (§4.6): transfers control to the
// thread's goroutine, blocking the caller until the thread yields,
// returns, or errors.
func Resume(vm *VM, co *Thread, args []Value) (results []Value, ok bool, err error) {
	if co.status == ThreadDead {
		return nil, false, newRuntimeError(Position{}, "cannot resume dead coroutine")
	}
	if co.status == ThreadRunning || co.status == ThreadNormal {
		return nil, false, newRuntimeError(Position{}, "cannot resume non-suspended coroutine")
	}

	prev := vm.current
	if prev != nil {
		prev.status = ThreadNormal
	}
	co.status = ThreadRunning
	vm.current = co

	if !co.started() {
		co.start(vm)
	}

	co.resumeCh <- args
	msg := <-co.yieldCh

	vm.current = prev
	if prev != nil {
		prev.status = ThreadRunning
	}

	if msg.err != nil {
		co.status = ThreadDead
		return nil, false, msg.err
	}
	if msg.done {
		co.status = ThreadDead
	} else {
		co.status = ThreadSuspended
	}
	return msg.values, true, nil
}

func (t *Thread) started() bool { return t.goroutineStarted }

// start launches the coroutine body on its own goroutine. The body
// blocks on resumeCh before doing any work, so the first Resume's
// arguments become the body's call arguments.
func (t *Thread) start(vm *VM) {
	t.goroutineStarted = true
	go func() {
		args := <-t.resumeCh
		rets, err := vm.callClosure(t, t.body, args, -1)
		t.yieldCh <- yieldMsg{values: rets, done: true, err: err}
	}()
}

// Yield implements coroutine.yield (§4.6): valid only while running on
// a coroutine (not the main thread), since only a coroutine's
// goroutine can block on the channel handshake without stalling the
// whole VM.
func Yield(vm *VM, values []Value) ([]Value, error) {
	co := vm.current
	if co == nil || co == vm.global.mainThread {
		return nil, newRuntimeError(Position{}, "attempt to yield from outside a coroutine")
	}
	co.yieldCh <- yieldMsg{values: values}
	return <-co.resumeCh, nil
}
