package compiler

import (
	"fmt"
	"strings"
	"testing"

	"github.com/kristofer/loxvm/pkg/bytecode"
	"github.com/kristofer/loxvm/pkg/object"
)

func compileOK(t *testing.T, src string) *bytecode.Chunk {
	t.Helper()
	fn, err := Compile(src)
	if err != nil {
		t.Fatalf("unexpected compile error: %v", err)
	}
	return fn.Chunk
}

func compileErr(t *testing.T, src string) error {
	t.Helper()
	_, err := Compile(src)
	if err == nil {
		t.Fatalf("expected a compile error, got none")
	}
	return err
}

func TestArithmeticEmitsExpectedOpcodes(t *testing.T) {
	chunk := compileOK(t, "1 + 2 * 3;")
	ops := opsOf(chunk)
	want := []bytecode.OpCode{
		bytecode.OpConstant, bytecode.OpConstant, bytecode.OpConstant,
		bytecode.OpMultiply, bytecode.OpAdd, bytecode.OpPop,
		bytecode.OpNil, bytecode.OpReturn,
	}
	assertOps(t, ops, want)
}

func TestVarDeclarationAndGlobalAccess(t *testing.T) {
	chunk := compileOK(t, `var a = 1; print a;`)
	ops := opsOf(chunk)
	want := []bytecode.OpCode{
		bytecode.OpConstant, bytecode.OpDefineGlobal,
		bytecode.OpGetGlobal, bytecode.OpPrint,
		bytecode.OpNil, bytecode.OpReturn,
	}
	assertOps(t, ops, want)
}

func TestLocalInOwnInitializerIsAnError(t *testing.T) {
	err := compileErr(t, `{ var a = a; }`)
	if !strings.Contains(err.Error(), "own initializer") {
		t.Fatalf("expected own-initializer error, got: %v", err)
	}
}

func TestDuplicateLocalInSameScopeIsAnError(t *testing.T) {
	err := compileErr(t, `{ var a = 1; var a = 2; }`)
	if !strings.Contains(err.Error(), "already a variable") {
		t.Fatalf("expected duplicate-local error, got: %v", err)
	}
}

func TestShadowingInNestedScopeIsAllowed(t *testing.T) {
	compileOK(t, `var a = 1; { var a = 2; print a; }`)
}

func TestReturnAtTopLevelIsAnError(t *testing.T) {
	err := compileErr(t, `return 1;`)
	if !strings.Contains(err.Error(), "top-level") {
		t.Fatalf("expected top-level return error, got: %v", err)
	}
}

func TestReturnValueFromInitializerIsAnError(t *testing.T) {
	err := compileErr(t, `class A { init() { return 1; } }`)
	if !strings.Contains(err.Error(), "initializer") {
		t.Fatalf("expected initializer-return error, got: %v", err)
	}
}

func TestThisOutsideClassIsAnError(t *testing.T) {
	err := compileErr(t, `print this;`)
	if !strings.Contains(err.Error(), "'this'") {
		t.Fatalf("expected this-outside-class error, got: %v", err)
	}
}

func TestSuperWithoutSuperclassIsAnError(t *testing.T) {
	err := compileErr(t, `class A { m() { super.m(); } }`)
	if !strings.Contains(err.Error(), "'super'") {
		t.Fatalf("expected super error, got: %v", err)
	}
}

func TestClassInheritingFromItselfIsAnError(t *testing.T) {
	err := compileErr(t, `class A < A {}`)
	if !strings.Contains(err.Error(), "itself") {
		t.Fatalf("expected self-inheritance error, got: %v", err)
	}
}

func TestClosureCapturesEnclosingLocal(t *testing.T) {
	chunk := compileOK(t, `
		fun outer() {
			var x = 1;
			fun inner() { return x; }
			return inner;
		}
	`)
	outer := functionConstant(chunk)
	if outer == nil {
		t.Fatalf("expected outer's function in the script's constant pool")
	}
	found := false
	for _, op := range opsOf(outer.Chunk) {
		if op == bytecode.OpClosure {
			found = true
		}
	}
	if !found {
		t.Fatalf("expected OP_CLOSURE in outer's chunk")
	}
	if inner := functionConstant(outer.Chunk); inner == nil || inner.UpvalueCount != 1 {
		t.Fatalf("expected inner to capture exactly one upvalue, got %v", inner)
	}
}

// functionConstant returns the first function template in chunk's
// constant pool, or nil if there is none.
func functionConstant(chunk *bytecode.Chunk) *object.Function {
	for _, k := range chunk.Constants {
		if v, ok := k.(object.Value); ok {
			if fn, ok := v.Object.(*object.Function); ok {
				return fn
			}
		}
	}
	return nil
}

func TestMethodCallCompilesToInvoke(t *testing.T) {
	chunk := compileOK(t, `
		class A { m() { return 1; } }
		var a = A();
		print a.m();
	`)
	found := false
	for _, op := range opsOf(chunk) {
		if op == bytecode.OpInvoke {
			found = true
		}
	}
	if !found {
		t.Fatalf("expected OP_INVOKE for a.m()")
	}
}

func TestTooManyLocalsIsAnError(t *testing.T) {
	var b strings.Builder
	b.WriteString("{\n")
	for i := 0; i < 257; i++ {
		b.WriteString("var v")
		b.WriteString(itoa(i))
		b.WriteString(" = 0;\n")
	}
	b.WriteString("}\n")
	err := compileErr(t, b.String())
	if !strings.Contains(err.Error(), "too many local variables") {
		t.Fatalf("expected too-many-locals error, got: %v", err)
	}
}

func itoa(n int) string {
	if n == 0 {
		return "0"
	}
	digits := []byte{}
	for n > 0 {
		digits = append([]byte{byte('0' + n%10)}, digits...)
		n /= 10
	}
	return string(digits)
}

func opsOf(chunk *bytecode.Chunk) []bytecode.OpCode {
	var ops []bytecode.OpCode
	i := 0
	for i < len(chunk.Code) {
		op := bytecode.OpCode(chunk.Code[i])
		ops = append(ops, op)
		i += operandWidth(op) + 1
	}
	return ops
}

// operandWidth returns how many operand bytes follow op, enough to
// walk the instruction stream for these tests (OP_CLOSURE's variable
// trailer is not decoded here since tests only check op presence up to
// that point).
func operandWidth(op bytecode.OpCode) int {
	switch op {
	case bytecode.OpConstant, bytecode.OpGetLocal, bytecode.OpSetLocal,
		bytecode.OpGetGlobal, bytecode.OpSetGlobal, bytecode.OpDefineGlobal,
		bytecode.OpGetUpvalue, bytecode.OpSetUpvalue, bytecode.OpCall,
		bytecode.OpClass, bytecode.OpMethod, bytecode.OpGetProperty,
		bytecode.OpSetProperty, bytecode.OpGetSuper, bytecode.OpClosure:
		return 1
	case bytecode.OpJump, bytecode.OpJumpIfFalse, bytecode.OpLoop:
		return 2
	case bytecode.OpInvoke, bytecode.OpSuperInvoke:
		return 2
	default:
		return 0
	}
}

func assertOps(t *testing.T, got, want []bytecode.OpCode) {
	t.Helper()
	if len(got) < len(want) {
		t.Fatalf("got %v, want prefix %v", got, want)
	}
	for i, op := range want {
		if got[i] != op {
			t.Fatalf("op %d: got %s, want %s (full: %v)", i, got[i], op, got)
		}
	}
}

// params builds a comma-separated list of n distinct names, for
// exercising the 255-parameter boundary below.
func params(n int) string {
	var b strings.Builder
	for i := 0; i < n; i++ {
		if i > 0 {
			b.WriteByte(',')
		}
		fmt.Fprintf(&b, "p%d", i)
	}
	return b.String()
}

func TestTooManyParametersIsAnError(t *testing.T) {
	src := fmt.Sprintf("fun f(%s) { return 0; }", params(256))
	err := compileErr(t, src)
	if !strings.Contains(err.Error(), "255 parameters") {
		t.Fatalf("expected too-many-parameters error, got: %v", err)
	}
}

func TestExactly255ParametersIsAllowed(t *testing.T) {
	src := fmt.Sprintf("fun f(%s) { return p0; }", params(255))
	compileOK(t, src)
}

// The arguments are nil literals: a global name per argument would add
// one constant each and overflow the 256-entry pool before the argument
// cap is reached.
func TestTooManyArgumentsIsAnError(t *testing.T) {
	src := fmt.Sprintf("fun f() {} f(%s);", strings.TrimSuffix(strings.Repeat("nil,", 256), ","))
	err := compileErr(t, src)
	if !strings.Contains(err.Error(), "255 arguments") {
		t.Fatalf("expected too-many-arguments error, got: %v", err)
	}
}

// TestAddUpvalueCapIsEnforced drives addUpvalue directly rather than
// through a compiled program: a single function can declare at most
// 255 addressable locals (maxLocals reserves slot 0), so feeding 256
// distinct captures to one function's upvalue list from Lox source
// takes locals spread over several enclosing functions.
func TestAddUpvalueCapIsEnforced(t *testing.T) {
	c := &Compiler{}
	c.fs = newFuncState(nil, FuncFunction, "inner")
	for i := 0; i < maxUpvalues; i++ {
		idx := c.addUpvalue(c.fs, byte(i), true)
		if idx != i {
			t.Fatalf("upvalue %d: got index %d", i, idx)
		}
		if c.hadError {
			t.Fatalf("unexpected error adding upvalue %d", i)
		}
	}
	c.addUpvalue(c.fs, byte(maxUpvalues), true)
	if !c.hadError {
		t.Fatalf("expected an error capturing the %dth upvalue", maxUpvalues+1)
	}
	if !strings.Contains(c.errs.Error(), "too many closure variables") {
		t.Fatalf("expected too-many-closure-variables error, got: %v", c.errs)
	}
}

// TestJumpPatchRejectsOffsetsPastUint16 drives emitJump/patchJump
// directly: padding a chunk to a 16-bit jump offset boundary via
// compiled Lox source would take tens of thousands of statements.
func TestJumpPatchRejectsOffsetsPastUint16(t *testing.T) {
	c := &Compiler{}
	c.fs = newFuncState(nil, FuncScript, "")
	offset := c.emitJump(bytecode.OpJump)
	for i := 0; i < 0x10000; i++ {
		c.emitByte(0)
	}
	c.patchJump(offset)
	if !c.hadError {
		t.Fatalf("expected a too-much-code-to-jump-over error")
	}
	if !strings.Contains(c.errs.Error(), "too much code") {
		t.Fatalf("expected too-much-code error, got: %v", c.errs)
	}
}
