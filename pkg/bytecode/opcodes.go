// Package bytecode defines the bytecode format and opcodes for the Lox
// virtual machine.
//
// The bytecode is the low-level intermediate representation that the
// compiler emits and the VM executes. It consists of a sequence of
// single-byte instructions, each followed by zero to three inline
// operand bytes (OP_CLOSURE additionally carries a variable-length
// upvalue-descriptor trailer), plus a constant pool for literal values.
//
// Architecture:
//
// The bytecode is stack-based:
//   1. Values are pushed onto and popped from a runtime value stack
//   2. Operations consume operands from the stack and push results back
//   3. Locals live in stack slots relative to the current call frame
//   4. Globals live in a VM-side name -> Value map
//
// Example compilation:
//
//   Source:  1 + 2 * 3;
//
//   Bytecode:
//     CONSTANT 0      ; push constants[0] == 1
//     CONSTANT 1      ; push constants[1] == 2
//     CONSTANT 2      ; push constants[2] == 3
//     MULTIPLY
//     ADD
//     POP
//
// Design Philosophy:
//
// The instruction set balances simplicity with compactness:
//   - Opcodes are a single byte, operands are 0-3 inline bytes (plus
//     OP_CLOSURE's two bytes per captured upvalue)
//   - The constant pool keeps literals out of the instruction stream
//   - Jump instructions carry a 16-bit operand patched after the fact
package bytecode

// OpCode identifies a single bytecode instruction.
type OpCode byte

// The Lox instruction set. The comment on each opcode gives its inline
// operand layout and net stack effect.
const (
	// OpConstant pushes constants[idx] onto the stack. Operand: 1-byte index.
	OpConstant OpCode = iota

	// OpNil, OpTrue, OpFalse push the corresponding literal. No operand.
	OpNil
	OpTrue
	OpFalse

	// OpPop discards the top of stack. No operand.
	OpPop

	// OpGetLocal/OpSetLocal read/write the stack slot at fp+slot.
	// Operand: 1-byte slot.
	OpGetLocal
	OpSetLocal

	// OpGetGlobal/OpSetGlobal/OpDefineGlobal access the VM's globals map.
	// Operand: 1-byte constant-pool index of the name string.
	OpGetGlobal
	OpSetGlobal
	OpDefineGlobal

	// OpGetUpvalue/OpSetUpvalue read/write the current closure's upvalue.
	// Operand: 1-byte upvalue index.
	OpGetUpvalue
	OpSetUpvalue

	// OpEqual, OpGreater, OpLess: binary comparison. No operand.
	OpEqual
	OpGreater
	OpLess

	// OpAdd, OpSubtract, OpMultiply, OpDivide: binary arithmetic.
	// OpAdd also concatenates two strings. No operand.
	OpAdd
	OpSubtract
	OpMultiply
	OpDivide

	// OpNot, OpNegate: unary operators. No operand.
	OpNot
	OpNegate

	// OpPrint pops and prints the top of stack. No operand.
	OpPrint

	// OpJump unconditionally advances ip by a 16-bit offset.
	// Operand: 2 bytes, big-endian.
	OpJump

	// OpJumpIfFalse advances ip by a 16-bit offset if the top of stack
	// (left in place) is falsey. Operand: 2 bytes, big-endian.
	OpJumpIfFalse

	// OpLoop subtracts a 16-bit offset from ip. Operand: 2 bytes, big-endian.
	OpLoop

	// OpCall invokes the value at stack index sp-1-argc, just below its
	// argc arguments. Operand: 1-byte argc.
	OpCall

	// OpClosure constructs a closure from a function constant and captures
	// its upvalues. Operand: 1-byte function constant index, followed by
	// upvalueCount pairs of (isLocal byte, index byte).
	OpClosure

	// OpCloseUpvalue closes the upvalue referring to the top stack slot,
	// then pops it. No operand.
	OpCloseUpvalue

	// OpReturn pops the result, unwinds the current frame, and pushes the
	// result back for the caller. No operand.
	OpReturn

	// OpClass creates an empty class. Operand: 1-byte name constant index.
	OpClass

	// OpMethod pops a closure and attaches it to the class below it on the
	// stack under the given name. Operand: 1-byte name constant index.
	OpMethod

	// OpGetProperty/OpSetProperty access an instance field, or (get only)
	// bind a method. Operand: 1-byte name constant index.
	OpGetProperty
	OpSetProperty

	// OpInvoke fuses OpGetProperty + OpCall, skipping the bound-method
	// allocation when the property resolves to a method.
	// Operand: 1-byte name constant index, 1-byte argc.
	OpInvoke

	// OpInherit copies the methods of the superclass (second from the top)
	// into the subclass on top of the stack, then pops the subclass,
	// leaving the superclass in place. No operand.
	OpInherit

	// OpGetSuper binds a method from the superclass to the current `this`.
	// Operand: 1-byte name constant index.
	OpGetSuper

	// OpSuperInvoke fuses a superclass method lookup with a call.
	// Operand: 1-byte name constant index, 1-byte argc.
	OpSuperInvoke
)

// opNames gives a human-readable mnemonic for each opcode, used by the
// disassembler.
var opNames = [...]string{
	OpConstant:      "OP_CONSTANT",
	OpNil:           "OP_NIL",
	OpTrue:          "OP_TRUE",
	OpFalse:         "OP_FALSE",
	OpPop:           "OP_POP",
	OpGetLocal:      "OP_GET_LOCAL",
	OpSetLocal:      "OP_SET_LOCAL",
	OpGetGlobal:     "OP_GET_GLOBAL",
	OpSetGlobal:     "OP_SET_GLOBAL",
	OpDefineGlobal:  "OP_DEFINE_GLOBAL",
	OpGetUpvalue:    "OP_GET_UPVALUE",
	OpSetUpvalue:    "OP_SET_UPVALUE",
	OpEqual:         "OP_EQUAL",
	OpGreater:       "OP_GREATER",
	OpLess:          "OP_LESS",
	OpAdd:           "OP_ADD",
	OpSubtract:      "OP_SUBTRACT",
	OpMultiply:      "OP_MULTIPLY",
	OpDivide:        "OP_DIVIDE",
	OpNot:           "OP_NOT",
	OpNegate:        "OP_NEGATE",
	OpPrint:         "OP_PRINT",
	OpJump:          "OP_JUMP",
	OpJumpIfFalse:   "OP_JUMP_IF_FALSE",
	OpLoop:          "OP_LOOP",
	OpCall:          "OP_CALL",
	OpClosure:       "OP_CLOSURE",
	OpCloseUpvalue:  "OP_CLOSE_UPVALUE",
	OpReturn:        "OP_RETURN",
	OpClass:         "OP_CLASS",
	OpMethod:        "OP_METHOD",
	OpGetProperty:   "OP_GET_PROPERTY",
	OpSetProperty:   "OP_SET_PROPERTY",
	OpInvoke:        "OP_INVOKE",
	OpInherit:       "OP_INHERIT",
	OpGetSuper:      "OP_GET_SUPER",
	OpSuperInvoke:   "OP_SUPER_INVOKE",
}

// String returns the opcode's mnemonic, or "OP_UNKNOWN" for a value
// outside the defined instruction set.
func (op OpCode) String() string {
	if int(op) < len(opNames) && opNames[op] != "" {
		return opNames[op]
	}
	return "OP_UNKNOWN"
}
