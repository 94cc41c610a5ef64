// Package vm - error handling with stack traces.
package vm

import (
	"fmt"
	"strings"
)

// StackFrame captures one call frame's identity at the moment a
// RuntimeError was raised. The VM builds the slice outermost first,
// matching its own frame stack order — the innermost frame is last.
type StackFrame struct {
	FunctionName string // "script" for the top-level frame
	Line         int    // source line the frame was executing
}

// RuntimeError is a Lox runtime error (spec.md §6's "Runtime errors"
// kind): a type error, undefined-variable access, or arity mismatch
// discovered while executing already-compiled bytecode, reported with
// the call stack active at the point of failure.
type RuntimeError struct {
	Message    string
	StackTrace []StackFrame
}

func (e *RuntimeError) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s\n[line %d] in %s", e.Message, e.line(), e.StackTrace[len(e.StackTrace)-1].FunctionName)
	for i := len(e.StackTrace) - 2; i >= 0; i-- {
		frame := e.StackTrace[i]
		fmt.Fprintf(&b, "\n[line %d] in %s", frame.Line, frame.FunctionName)
	}
	return b.String()
}

func (e *RuntimeError) line() int {
	if len(e.StackTrace) == 0 {
		return 0
	}
	return e.StackTrace[len(e.StackTrace)-1].Line
}

func newRuntimeError(message string, stack []StackFrame) *RuntimeError {
	return &RuntimeError{Message: message, StackTrace: stack}
}
