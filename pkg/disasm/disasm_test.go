package disasm

import (
	"strings"
	"testing"

	"github.com/kristofer/loxvm/pkg/compiler"
	"github.com/kristofer/loxvm/pkg/object"
)

func TestDisassembleListsOpcodesAndConstants(t *testing.T) {
	fn, err := compiler.Compile(`var a = 1 + 2; print a;`)
	if err != nil {
		t.Fatalf("compile error: %v", err)
	}
	out := Disassemble(fn.Chunk, "test")
	for _, want := range []string{"== test ==", "OP_CONSTANT", "OP_DEFINE_GLOBAL", "OP_PRINT", "== constants =="} {
		if !strings.Contains(out, want) {
			t.Fatalf("expected output to contain %q, got:\n%s", want, out)
		}
	}
}

func TestDisassembleClosureShowsUpvalueDescriptors(t *testing.T) {
	fn, err := compiler.Compile(`
		fun outer() {
			var x = 1;
			fun inner() { return x; }
			return inner;
		}
	`)
	if err != nil {
		t.Fatalf("compile error: %v", err)
	}
	// inner's OP_CLOSURE, and its descriptor for x, live in outer's chunk.
	var outer *object.Function
	for _, k := range fn.Chunk.Constants {
		if v, ok := k.(object.Value); ok {
			if f, ok := v.Object.(*object.Function); ok {
				outer = f
			}
		}
	}
	if outer == nil {
		t.Fatalf("expected outer's function in the script's constant pool")
	}
	out := Disassemble(outer.Chunk, "outer")
	if !strings.Contains(out, "OP_CLOSURE") {
		t.Fatalf("expected OP_CLOSURE in output:\n%s", out)
	}
	if !strings.Contains(out, "local 1") {
		t.Fatalf("expected a 'local 1' upvalue descriptor in output:\n%s", out)
	}
}
