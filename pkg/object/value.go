// Package object defines the Lox runtime value representation: the
// small tagged Value union held on the VM stack and in chunk constant
// pools, and the heap object variants a Value of kind Obj can point to.
package object

import (
	"fmt"
	"math"
	"strconv"
)

// ValueType tags the variant carried by a Value.
type ValueType int

const (
	TypeNil ValueType = iota
	TypeBool
	TypeNumber
	TypeObj
)

// Value is a small, copyable tagged union: Nil, Bool, Number, or a
// handle to a heap Object. Values are stored by value on the VM stack
// and in chunk constant pools.
type Value struct {
	Type   ValueType
	Bool   bool
	Number float64
	Object Object
}

// NilValue, BoolValue, NumberValue, and ObjValue construct a Value of
// the corresponding variant.
func NilValue() Value              { return Value{Type: TypeNil} }
func BoolValue(b bool) Value       { return Value{Type: TypeBool, Bool: b} }
func NumberValue(n float64) Value  { return Value{Type: TypeNumber, Number: n} }
func ObjValue(o Object) Value      { return Value{Type: TypeObj, Object: o} }

func (v Value) IsNil() bool    { return v.Type == TypeNil }
func (v Value) IsBool() bool   { return v.Type == TypeBool }
func (v Value) IsNumber() bool { return v.Type == TypeNumber }
func (v Value) IsObj() bool    { return v.Type == TypeObj }

// IsString reports whether v holds a heap String.
func (v Value) IsString() bool {
	if !v.IsObj() {
		return false
	}
	_, ok := v.Object.(*String)
	return ok
}

// AsString returns the Go string content of a String value. Callers
// must check IsString first; this does not check the variant.
func (v Value) AsString() string {
	return v.Object.(*String).Chars
}

// IsFalsey reports Lox truthiness: nil and false are falsey, every
// other value (including 0 and "") is truthy.
func (v Value) IsFalsey() bool {
	return v.IsNil() || (v.IsBool() && !v.Bool)
}

// Equals implements Lox's `==`: numbers by float equality, strings by
// content, nil/bool by value, and any other pairing of object variants
// by identity (false across differing concrete types).
func (v Value) Equals(other Value) bool {
	if v.Type != other.Type {
		return false
	}
	switch v.Type {
	case TypeNil:
		return true
	case TypeBool:
		return v.Bool == other.Bool
	case TypeNumber:
		return v.Number == other.Number
	case TypeObj:
		vs, vIsString := v.Object.(*String)
		os, oIsString := other.Object.(*String)
		if vIsString && oIsString {
			return vs.Chars == os.Chars
		}
		return v.Object == other.Object
	default:
		return false
	}
}

// String renders v the way `print` does: nil, true/false, a minimal
// decimal form for numbers, raw string content, or a type-tagged
// rendering of a heap object (<fn name>, <class Name>, <instance Name>).
func (v Value) String() string {
	switch v.Type {
	case TypeNil:
		return "nil"
	case TypeBool:
		if v.Bool {
			return "true"
		}
		return "false"
	case TypeNumber:
		return formatNumber(v.Number)
	case TypeObj:
		return v.Object.String()
	default:
		return "<invalid value>"
	}
}

// formatNumber renders a float64 the way Lox's number literals print:
// integral values with no trailing ".0", everything else as the
// shortest decimal that round-trips.
func formatNumber(n float64) string {
	if math.IsInf(n, 1) {
		return "inf"
	}
	if math.IsInf(n, -1) {
		return "-inf"
	}
	if math.IsNaN(n) {
		return "NaN"
	}
	if n == math.Trunc(n) && math.Abs(n) < 1e15 {
		return strconv.FormatFloat(n, 'f', -1, 64)
	}
	return strconv.FormatFloat(n, 'g', -1, 64)
}

// GoString supports %#v / debug dumps of constant pools.
func (v Value) GoString() string {
	return fmt.Sprintf("Value{%s}", v.String())
}
