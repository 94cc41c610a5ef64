// Package vm - arithmetic and comparison primitives.
//
// These mirror the teacher's primitive dispatch: small, individually
// named helpers the main dispatch loop calls into for each binary
// opcode, each returning a runtime error instead of panicking on a
// type mismatch.
package vm

import "github.com/kristofer/loxvm/pkg/object"

// add implements OP_ADD: (Number, Number) -> Number, (String, String) ->
// a newly allocated String, anything else is a runtime error.
func (vm *VM) add(a, b object.Value) (object.Value, error) {
	switch {
	case a.IsNumber() && b.IsNumber():
		return object.NumberValue(a.Number + b.Number), nil
	case a.IsString() && b.IsString():
		s := vm.allocateString(a.AsString() + b.AsString())
		return object.ObjValue(s), nil
	default:
		return object.Value{}, vm.runtimeError("operands must be two numbers or two strings")
	}
}

func (vm *VM) subtract(a, b object.Value) (object.Value, error) {
	if !a.IsNumber() || !b.IsNumber() {
		return object.Value{}, vm.runtimeError("operands must be numbers")
	}
	return object.NumberValue(a.Number - b.Number), nil
}

func (vm *VM) multiply(a, b object.Value) (object.Value, error) {
	if !a.IsNumber() || !b.IsNumber() {
		return object.Value{}, vm.runtimeError("operands must be numbers")
	}
	return object.NumberValue(a.Number * b.Number), nil
}

// divide follows IEEE-754 float semantics for a zero divisor rather
// than raising a runtime error: x/0 is +/-Inf, 0/0 is NaN.
func (vm *VM) divide(a, b object.Value) (object.Value, error) {
	if !a.IsNumber() || !b.IsNumber() {
		return object.Value{}, vm.runtimeError("operands must be numbers")
	}
	return object.NumberValue(a.Number / b.Number), nil
}

func (vm *VM) less(a, b object.Value) (object.Value, error) {
	if !a.IsNumber() || !b.IsNumber() {
		return object.Value{}, vm.runtimeError("operands must be numbers")
	}
	return object.BoolValue(a.Number < b.Number), nil
}

func (vm *VM) greater(a, b object.Value) (object.Value, error) {
	if !a.IsNumber() || !b.IsNumber() {
		return object.Value{}, vm.runtimeError("operands must be numbers")
	}
	return object.BoolValue(a.Number > b.Number), nil
}

func negate(v object.Value) (object.Value, bool) {
	if !v.IsNumber() {
		return object.Value{}, false
	}
	return object.NumberValue(-v.Number), true
}
