// Package disasm renders a compiled chunk as human-readable text: one
// line per instruction, decoded operands, and the constant pool.
//
// This is the non-interactive half of the teacher's old debugger: the
// instruction listing and operand formatting survive, stripped of the
// breakpoint/step/REPL machinery that depended on the Smalltalk VM's
// message-send opcodes. There is no interactive prompt here — just a
// pure function from a chunk to a string, meant for `lox disasm` and
// for tests that want to assert on emitted bytecode shape.
package disasm

import (
	"fmt"
	"strings"

	"github.com/kr/pretty"

	"github.com/kristofer/loxvm/pkg/bytecode"
	"github.com/kristofer/loxvm/pkg/object"
)

// Disassemble renders every instruction in chunk under the given name,
// one line per instruction, followed by the constant pool.
func Disassemble(chunk *bytecode.Chunk, name string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "== %s ==\n", name)

	offset := 0
	for offset < len(chunk.Code) {
		offset = disassembleInstruction(&b, chunk, offset)
	}

	if len(chunk.Constants) > 0 {
		b.WriteString("== constants ==\n")
		for i, c := range chunk.Constants {
			fmt.Fprintf(&b, "%4d %s\n", i, formatConstant(c))
		}
	}
	return b.String()
}

// formatConstant renders a constant-pool entry. A function constant gets
// its one-line String() followed by a pretty.Formatter dump of its shape
// (arity, upvalue count); every other Value renders as its String().
func formatConstant(c interface{}) string {
	v, ok := c.(object.Value)
	if !ok {
		return fmt.Sprintf("%v", c)
	}
	switch obj := v.Object.(type) {
	case *object.Function:
		return fmt.Sprintf("%s %# v", obj.String(), pretty.Formatter(struct {
			Arity        int
			UpvalueCount int
		}{obj.Arity, obj.UpvalueCount}))
	default:
		return v.String()
	}
}

func disassembleInstruction(b *strings.Builder, chunk *bytecode.Chunk, offset int) int {
	fmt.Fprintf(b, "%04d ", offset)
	if offset > 0 && chunk.LineAt(offset) == chunk.LineAt(offset-1) {
		b.WriteString("   | ")
	} else {
		fmt.Fprintf(b, "%4d ", chunk.LineAt(offset))
	}

	op := bytecode.OpCode(chunk.Code[offset])
	switch op {
	case bytecode.OpConstant, bytecode.OpGetLocal, bytecode.OpSetLocal,
		bytecode.OpGetGlobal, bytecode.OpSetGlobal, bytecode.OpDefineGlobal,
		bytecode.OpGetUpvalue, bytecode.OpSetUpvalue, bytecode.OpCall,
		bytecode.OpClass, bytecode.OpMethod, bytecode.OpGetProperty,
		bytecode.OpSetProperty, bytecode.OpGetSuper:
		return byteInstruction(b, chunk, op, offset)
	case bytecode.OpInvoke, bytecode.OpSuperInvoke:
		return invokeInstruction(b, chunk, op, offset)
	case bytecode.OpJump, bytecode.OpJumpIfFalse:
		return jumpInstruction(b, chunk, op, offset, 1)
	case bytecode.OpLoop:
		return jumpInstruction(b, chunk, op, offset, -1)
	case bytecode.OpClosure:
		return closureInstruction(b, chunk, offset)
	default:
		fmt.Fprintf(b, "%s\n", op)
		return offset + 1
	}
}

func byteInstruction(b *strings.Builder, chunk *bytecode.Chunk, op bytecode.OpCode, offset int) int {
	operand := chunk.Code[offset+1]
	fmt.Fprintf(b, "%-16s %4d", op, operand)
	if isNameIndexOp(op) && int(operand) < len(chunk.Constants) {
		fmt.Fprintf(b, " '%s'", formatConstant(chunk.Constants[operand]))
	}
	b.WriteByte('\n')
	return offset + 2
}

func isNameIndexOp(op bytecode.OpCode) bool {
	switch op {
	case bytecode.OpConstant, bytecode.OpGetGlobal, bytecode.OpSetGlobal,
		bytecode.OpDefineGlobal, bytecode.OpClass, bytecode.OpMethod,
		bytecode.OpGetProperty, bytecode.OpSetProperty, bytecode.OpGetSuper:
		return true
	default:
		return false
	}
}

func invokeInstruction(b *strings.Builder, chunk *bytecode.Chunk, op bytecode.OpCode, offset int) int {
	nameIdx := chunk.Code[offset+1]
	argCount := chunk.Code[offset+2]
	name := "?"
	if int(nameIdx) < len(chunk.Constants) {
		name = formatConstant(chunk.Constants[nameIdx])
	}
	fmt.Fprintf(b, "%-16s (%d args) '%s'\n", op, argCount, name)
	return offset + 3
}

func jumpInstruction(b *strings.Builder, chunk *bytecode.Chunk, op bytecode.OpCode, offset, sign int) int {
	jump := int(chunk.Code[offset+1])<<8 | int(chunk.Code[offset+2])
	fmt.Fprintf(b, "%-16s %4d -> %d\n", op, offset, offset+3+sign*jump)
	return offset + 3
}

func closureInstruction(b *strings.Builder, chunk *bytecode.Chunk, offset int) int {
	constIdx := chunk.Code[offset+1]
	fmt.Fprintf(b, "%-16s %4d '%s'\n", bytecode.OpClosure, constIdx, formatConstant(chunk.Constants[constIdx]))
	offset += 2

	if fnVal, ok := chunk.Constants[constIdx].(object.Value); ok {
		if fn, ok := fnVal.Object.(*object.Function); ok {
			for i := 0; i < fn.UpvalueCount; i++ {
				isLocal := chunk.Code[offset]
				index := chunk.Code[offset+1]
				kind := "upvalue"
				if isLocal != 0 {
					kind = "local"
				}
				fmt.Fprintf(b, "%04d      |                     %s %d\n", offset, kind, index)
				offset += 2
			}
		}
	}
	return offset
}
