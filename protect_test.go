package rill

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestProtectReturnsResultsOnSuccess(t *testing.T) {
	th := &Thread{stack: make([]Value, 0, 8)}
	rets, caught := Protect(th, func() ([]Value, error) {
		return []Value{NewValueNumber(42)}, nil
	})
	require.Nil(t, caught)
	require.Len(t, rets, 1)
	require.Equal(t, float64(42), rets[0].AsNumber())
}

func TestProtectCatchesThrow(t *testing.T) {
	th := &Thread{stack: make([]Value, 0, 8)}
	rets, caught := Protect(th, func() ([]Value, error) {
		Throw(newRuntimeError(Position{}, "boom"))
		return nil, nil
	})
	require.Nil(t, rets)
	require.NotNil(t, caught)
	require.Contains(t, caught.Error(), "boom")
}

func TestProtectWrapsPlainGoError(t *testing.T) {
	th := &Thread{stack: make([]Value, 0, 8)}
	_, caught := Protect(th, func() ([]Value, error) {
		return nil, errors.New("plain")
	})
	require.NotNil(t, caught)
	require.Contains(t, caught.Error(), "plain")
}

func TestProtectRestoresStackAndFrameDepth(t *testing.T) {
	th := &Thread{stack: make([]Value, 0, 8)}
	th.stack = append(th.stack, NewValueNumber(1), NewValueNumber(2))
	th.frames.push(CallFrame{})
	savedTop, savedFrames := len(th.stack), th.frames.len()

	_, caught := Protect(th, func() ([]Value, error) {
		th.stack = append(th.stack, NewValueNumber(3), NewValueNumber(4), NewValueNumber(5))
		th.frames.push(CallFrame{})
		th.frames.push(CallFrame{})
		Throw(newRuntimeError(Position{}, "unwind me"))
		return nil, nil
	})

	require.NotNil(t, caught)
	require.Equal(t, savedTop, len(th.stack))
	require.Equal(t, savedFrames, th.frames.len())
}

// TestProtectClosesOpenUpvaluesOnUnwind checks that an upvalue opened
// above the saved stack top is closed (not left dangling) when a
// Throw unwinds past it (§4.4/§4.6 interaction).
func TestProtectClosesOpenUpvaluesOnUnwind(t *testing.T) {
	th := &Thread{stack: make([]Value, 1)}
	th.stack[0] = NewValueNumber(1)
	savedTop := 1

	var up *Upvalue
	_, caught := Protect(th, func() ([]Value, error) {
		th.stack = append(th.stack, NewValueNumber(99))
		up = th.findUpval(1)
		Throw(newRuntimeError(Position{}, "x"))
		return nil, nil
	})

	require.NotNil(t, caught)
	require.True(t, up.closed())
	require.Equal(t, float64(99), up.get().AsNumber())
	require.Equal(t, savedTop, len(th.stack))
}

func TestProtectRepanicsOnForeignPanic(t *testing.T) {
	th := &Thread{stack: make([]Value, 0, 8)}
	require.Panics(t, func() {
		Protect(th, func() ([]Value, error) {
			panic("not a throwPanic")
		})
	})
}
