package vm

import (
	"strings"
	"testing"

	"github.com/kristofer/loxvm/pkg/compiler"
)

func run(t *testing.T, src string) string {
	t.Helper()
	fn, err := compiler.Compile(src)
	if err != nil {
		t.Fatalf("compile error: %v", err)
	}
	var out strings.Builder
	machine := New(WithOutput(&out))
	if err := machine.Interpret(fn); err != nil {
		t.Fatalf("runtime error: %v", err)
	}
	return out.String()
}

func runErr(t *testing.T, src string) error {
	t.Helper()
	fn, err := compiler.Compile(src)
	if err != nil {
		t.Fatalf("compile error: %v", err)
	}
	var out strings.Builder
	machine := New(WithOutput(&out))
	return machine.Interpret(fn)
}

func TestArithmeticAndPrint(t *testing.T) {
	got := run(t, `print 1 + 2 * 3;`)
	if got != "7\n" {
		t.Fatalf("got %q", got)
	}
}

func TestStringConcatenation(t *testing.T) {
	got := run(t, `print "foo" + "bar";`)
	if got != "foobar\n" {
		t.Fatalf("got %q", got)
	}
}

func TestGlobalsAndAssignment(t *testing.T) {
	got := run(t, `var a = 1; a = a + 1; print a;`)
	if got != "2\n" {
		t.Fatalf("got %q", got)
	}
}

func TestIfElse(t *testing.T) {
	got := run(t, `if (1 < 2) print "yes"; else print "no";`)
	if got != "yes\n" {
		t.Fatalf("got %q", got)
	}
}

func TestWhileLoop(t *testing.T) {
	got := run(t, `
		var i = 0;
		var sum = 0;
		while (i < 5) {
			sum = sum + i;
			i = i + 1;
		}
		print sum;
	`)
	if got != "10\n" {
		t.Fatalf("got %q", got)
	}
}

func TestForLoop(t *testing.T) {
	got := run(t, `
		var sum = 0;
		for (var i = 0; i < 5; i = i + 1) sum = sum + i;
		print sum;
	`)
	if got != "10\n" {
		t.Fatalf("got %q", got)
	}
}

func TestFunctionCallAndReturn(t *testing.T) {
	got := run(t, `
		fun add(a, b) { return a + b; }
		print add(2, 3);
	`)
	if got != "5\n" {
		t.Fatalf("got %q", got)
	}
}

func TestClosureCapturesByReference(t *testing.T) {
	got := run(t, `
		fun makeCounter() {
			var i = 0;
			fun count() {
				i = i + 1;
				return i;
			}
			return count;
		}
		var counter = makeCounter();
		print counter();
		print counter();
		print counter();
	`)
	if got != "1\n2\n3\n" {
		t.Fatalf("got %q", got)
	}
}

func TestClassesAndMethods(t *testing.T) {
	got := run(t, `
		class Counter {
			init(start) { this.value = start; }
			increment() { this.value = this.value + 1; return this.value; }
		}
		var c = Counter(10);
		print c.increment();
		print c.increment();
	`)
	if got != "11\n12\n" {
		t.Fatalf("got %q", got)
	}
}

func TestInheritanceAndSuper(t *testing.T) {
	got := run(t, `
		class Animal {
			speak() { return "..."; }
			describe() { return "I say " + this.speak(); }
		}
		class Dog < Animal {
			speak() { return "woof"; }
			describe() { return super.describe() + "!"; }
		}
		print Dog().describe();
	`)
	if got != "I say woof!\n" {
		t.Fatalf("got %q", got)
	}
}

func TestArityMismatchIsRuntimeError(t *testing.T) {
	err := runErr(t, `
		fun add(a, b) { return a + b; }
		add(1);
	`)
	if err == nil || !strings.Contains(err.Error(), "expected 2 arguments") {
		t.Fatalf("expected arity error, got %v", err)
	}
}

func TestUndefinedVariableIsRuntimeError(t *testing.T) {
	err := runErr(t, `print nope;`)
	if err == nil || !strings.Contains(err.Error(), "undefined variable") {
		t.Fatalf("expected undefined variable error, got %v", err)
	}
}

func TestTypeMismatchIsRuntimeError(t *testing.T) {
	err := runErr(t, `print 1 + "a";`)
	if err == nil || !strings.Contains(err.Error(), "numbers or two strings") {
		t.Fatalf("expected type mismatch error, got %v", err)
	}
}

func TestDivisionByZeroFollowsIEEE754(t *testing.T) {
	got := run(t, `print 1 / 0; print -1 / 0; print 0 / 0;`)
	if got != "inf\n-inf\nNaN\n" {
		t.Fatalf("got %q", got)
	}
}

func TestEqualityAcrossTypesIsFalse(t *testing.T) {
	got := run(t, `print 1 == "1"; print nil == false;`)
	if got != "false\nfalse\n" {
		t.Fatalf("got %q", got)
	}
}

func TestStressGCKeepsProgramCorrect(t *testing.T) {
	fn, err := compiler.Compile(`
		fun makeCounter() {
			var i = 0;
			fun count() { i = i + 1; return i; }
			return count;
		}
		var c = makeCounter();
		var total = 0;
		for (var n = 0; n < 50; n = n + 1) {
			total = total + c();
		}
		print total;
	`)
	if err != nil {
		t.Fatalf("compile error: %v", err)
	}
	var out strings.Builder
	machine := New(WithOutput(&out), WithStressGC())
	if err := machine.Interpret(fn); err != nil {
		t.Fatalf("runtime error under stress GC: %v", err)
	}
	if out.String() != "1275\n" {
		t.Fatalf("got %q", out.String())
	}
}
