package rill

// throwPanic is the payload the VM panics with to unwind to the
// nearest Protect boundary — Go's panic/recover standing in for the
// setjmp/longjmp pair spec §9 names as the classical mechanism
// ("Implementations without setjmp-style primitives MUST use a
// checked-result return type ... or an equivalent non-local
// transfer").
type throwPanic struct {
	err *Error
}

// Throw raises err, unwinding to the nearest enclosing Protect call
// on this goroutine (spec §4.6/§7's "Throw"). Outside of any Protect,
// the panic reaches the VM's top-level runner, which treats it as an
// uncaught error.
func Throw(err *Error) {
	panic(throwPanic{err: err})
}

// Protect runs fn under a recover boundary implementing pcall's
// contract (§4.6): on success, returns fn's results and a nil error;
// on a Throw, restores the thread's stack top and frame depth to
// their pre-call values and returns the caught error instead of
// letting it propagate further.
func Protect(th *Thread, fn func() ([]Value, error)) (results []Value, caught *Error) {
	savedTop := len(th.stack)
	savedFrames := th.frames.len()

	defer func() {
		if r := recover(); r != nil {
			tp, ok := r.(throwPanic)
			if !ok {
				panic(r) // not ours: a real bug, let it surface
			}
			th.closeUpvalues(savedTop)
			if len(th.stack) > savedTop {
				th.stack = th.stack[:savedTop]
			}
			for th.frames.len() > savedFrames {
				th.frames.pop()
			}
			caught = tp.err
			results = nil
		}
	}()

	rets, err := fn()
	if err != nil {
		if e, ok := err.(*Error); ok {
			Throw(e)
		}
		Throw(newRuntimeError(Position{}, "%s", err.Error()))
	}
	return rets, nil
}
