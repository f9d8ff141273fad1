package rill

import (
	"fmt"

	stackpkg "github.com/go-stack/stack"
)

// ErrorKind classifies a Rill error the way §7 describes: syntax
// errors never reach the VM, runtime errors are raised
// and caught by protected calls, memory/handler/gc errors are rarer
// escape hatches, and file errors come from the loader.
type ErrorKind int

const (
	ErrSyntax ErrorKind = iota
	ErrRuntime
	ErrMemory
	ErrHandler
	ErrGC
	ErrFile
)

func (k ErrorKind) String() string {
	switch k {
	case ErrSyntax:
		return "syntax"
	case ErrRuntime:
		return "runtime"
	case ErrMemory:
		return "memory"
	case ErrHandler:
		return "handler"
	case ErrGC:
		return "gc"
	case ErrFile:
		return "file"
	default:
		return "unknown"
	}
}

// Position locates an error within a chunk. Cursor is a byte offset;
// Line is 1-based when known.
type Position struct {
	Chunk  string
	Line   int
	Cursor int
}

func (p Position) String() string {
	if p.Chunk == "" {
		return ""
	}
	if p.Line <= 0 {
		return p.Chunk
	}
	return fmt.Sprintf("%s:%d", p.Chunk, p.Line)
}

// Error is the error type the runtime raises. Value holds the raw
// error object (often a string, but any Value is legal per §7); Msg
// is used for formatting when no error Value was supplied.
type Error struct {
	Kind      ErrorKind
	Msg       string
	Pos       Position
	Value     Value
	Traceback string
}

func (e *Error) Error() string {
	prefix := e.Pos.String()
	msg := e.Msg
	if msg == "" && !e.Value.IsNil() {
		msg = ToStringNoMeta(e.Value)
	}
	if prefix == "" {
		return msg
	}
	return prefix + ": " + msg
}

// newRuntimeError builds a RUNTIME error and captures a host-side
// traceback via go-stack, the only stack-capture library anywhere in
// the retrieved dependency corpus.
func newRuntimeError(pos Position, format string, args ...any) *Error {
	msg := fmt.Sprintf(format, args...)
	return &Error{
		Kind:      ErrRuntime,
		Msg:       msg,
		Pos:       pos,
		Value:     NewValueString(NewStr(msg)),
		Traceback: stackpkg.Trace().TrimBelow(stackpkg.Caller(1)).String(),
	}
}

func newSyntaxError(pos Position, format string, args ...any) *Error {
	return &Error{Kind: ErrSyntax, Msg: fmt.Sprintf(format, args...), Pos: pos}
}

func newFileError(format string, args ...any) *Error {
	return &Error{Kind: ErrFile, Msg: fmt.Sprintf(format, args...)}
}
