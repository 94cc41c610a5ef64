package bytecode

import "testing"

func TestAddConstantReturnsSequentialIndices(t *testing.T) {
	c := NewChunk()
	for i := 0; i < MaxConstants; i++ {
		idx, err := c.AddConstant(float64(i))
		if err != nil {
			t.Fatalf("unexpected error at constant %d: %v", i, err)
		}
		if idx != i {
			t.Fatalf("AddConstant(%d) = %d, want %d", i, idx, i)
		}
	}
}

func TestAddConstantRejectsOverflow(t *testing.T) {
	c := NewChunk()
	for i := 0; i < MaxConstants; i++ {
		if _, err := c.AddConstant(i); err != nil {
			t.Fatalf("unexpected error filling pool: %v", err)
		}
	}
	if _, err := c.AddConstant("one too many"); err == nil {
		t.Fatal("expected an error adding the 257th constant")
	}
}

func TestWriteTracksLines(t *testing.T) {
	c := NewChunk()
	c.WriteOp(OpConstant, 1)
	c.Write(0, 1)
	c.WriteOp(OpReturn, 2)

	if len(c.Code) != 3 || len(c.Lines) != 3 {
		t.Fatalf("code/lines length mismatch: %d code, %d lines", len(c.Code), len(c.Lines))
	}
	if c.LineAt(0) != 1 || c.LineAt(1) != 1 || c.LineAt(2) != 2 {
		t.Fatalf("unexpected line records: %v", c.Lines)
	}
	if c.LineAt(99) != 0 {
		t.Fatal("LineAt out of range should return 0")
	}
}

func TestOpCodeStringKnownAndUnknown(t *testing.T) {
	if OpAdd.String() != "OP_ADD" {
		t.Fatalf("OpAdd.String() = %q", OpAdd.String())
	}
	if OpCode(250).String() != "OP_UNKNOWN" {
		t.Fatalf("unknown opcode should stringify as OP_UNKNOWN, got %q", OpCode(250).String())
	}
}
