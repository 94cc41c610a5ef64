package object

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestFalsey(t *testing.T) {
	cases := []struct {
		v      Value
		falsey bool
	}{
		{NilValue(), true},
		{BoolValue(false), true},
		{BoolValue(true), false},
		{NumberValue(0), false},
		{ObjValue(NewString("")), false},
	}
	for _, c := range cases {
		assert.Equal(t, c.falsey, c.v.IsFalsey(), "IsFalsey() for %v", c.v)
	}
}

func TestEqualsAcrossVariants(t *testing.T) {
	assert.True(t, NumberValue(1).Equals(NumberValue(1)), "equal numbers should compare equal")
	assert.False(t, NumberValue(1).Equals(BoolValue(true)), "cross-type comparison must be false, never an error")
	assert.True(t, ObjValue(NewString("abc")).Equals(ObjValue(NewString("abc"))), "strings should compare by content")
	assert.False(t, ObjValue(NewString("abc")).Equals(ObjValue(NewString("abd"))), "differing string contents should not be equal")

	a, b := NewInstance(NewClass("A")), NewInstance(NewClass("A"))
	assert.False(t, ObjValue(a).Equals(ObjValue(b)), "distinct instances should not be equal")
	assert.True(t, ObjValue(a).Equals(ObjValue(a)), "an instance should equal itself")
}

func TestNumberFormatting(t *testing.T) {
	cases := map[float64]string{
		7:   "7",
		1.5: "1.5",
		-3:  "-3",
		0:   "0",
	}
	for n, want := range cases {
		assert.Equal(t, want, NumberValue(n).String())
	}
}

func TestObjectRenderings(t *testing.T) {
	fn := NewFunction()
	fn.Name = NewString("greet")
	assert.Equal(t, "<fn greet>", ObjValue(NewClosure(fn)).String())

	class := NewClass("Counter")
	assert.Equal(t, "<class Counter>", ObjValue(class).String())

	inst := NewInstance(class)
	assert.Equal(t, "<instance Counter>", ObjValue(inst).String())
}
