// Package vm implements the stack-based virtual machine that executes
// compiled Lox bytecode: a fetch-decode loop over call frames, a value
// stack, a globals table, and the mark-sweep collector in gc.go.
package vm

import (
	"fmt"
	"io"
	"os"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"

	"github.com/kristofer/loxvm/pkg/bytecode"
	"github.com/kristofer/loxvm/pkg/object"
)

const (
	// DefaultStackSize is the value stack's capacity in slots: spec.md's
	// documented default of 64 x 256.
	DefaultStackSize = 64 * 256

	// framesMax is the frame stack's fixed capacity, per spec.md's
	// documented default of 64 — unlike the value stack and the GC
	// threshold, the spec does not promise this one is configurable.
	framesMax = 64
)

// CallFrame is one activation on the VM's call stack: the closure
// being executed, its instruction pointer, and the base stack slot
// (fp) its locals are addressed relative to — slot fp holds the
// callee itself (the closure, or `this` for a method body).
type CallFrame struct {
	closure *object.Closure
	ip      int
	fp      int
}

// VM holds all state for one program's execution: the value stack,
// active call frames, globals, open upvalues awaiting closure, and the
// GC's bookkeeping.
type VM struct {
	stack    []object.Value
	stackTop int

	frames []CallFrame

	globals map[string]object.Value

	openUpvalues []*object.Upvalue

	objects        []object.Object
	grayStack      []object.Object
	bytesAllocated int
	nextGC         int
	stressGC       bool

	stackSize int

	out io.Writer
	log zerolog.Logger
}

// Option configures a VM at construction time.
type Option func(*VM)

// WithOutput redirects `print` output away from os.Stdout (tests use
// this to capture program output).
func WithOutput(w io.Writer) Option {
	return func(vm *VM) { vm.out = w }
}

// WithLogger attaches a zerolog logger the VM uses for GC and
// diagnostic tracing; the zero value logs nothing.
func WithLogger(l zerolog.Logger) Option {
	return func(vm *VM) { vm.log = l }
}

// WithStressGC forces a collection on every single allocation, for
// exercising the collector against small programs in tests.
func WithStressGC() Option {
	return func(vm *VM) { vm.stressGC = true }
}

// WithStackSize overrides the value stack's capacity, in slots. Passing
// n <= 0 leaves DefaultStackSize in effect.
func WithStackSize(n int) Option {
	return func(vm *VM) {
		if n > 0 {
			vm.stackSize = n
		}
	}
}

// WithGCThreshold overrides the number of bytes the allocator may hand
// out before the first collection cycle runs. Passing n <= 0 leaves
// gcInitialThreshold in effect.
func WithGCThreshold(n int) Option {
	return func(vm *VM) {
		if n > 0 {
			vm.nextGC = n
		}
	}
}

// New creates a VM ready to Interpret one or more compiled scripts.
// Globals persist across calls to Interpret on the same VM; the value
// stack and call frames do not.
func New(opts ...Option) *VM {
	vm := &VM{
		globals:   make(map[string]object.Value),
		out:       os.Stdout,
		nextGC:    gcInitialThreshold,
		log:       zerolog.Nop(),
		stackSize: DefaultStackSize,
	}
	for _, opt := range opts {
		opt(vm)
	}
	vm.stack = make([]object.Value, vm.stackSize)
	return vm
}

// Interpret runs a compiled script function to completion. script is
// wrapped in a Closure with no upvalues and pushed as the outermost
// call frame, mirroring how every other callable executes.
func (vm *VM) Interpret(script *object.Function) error {
	vm.stackTop = 0
	vm.frames = vm.frames[:0]
	vm.openUpvalues = nil

	closure := vm.allocateClosure(script)
	vm.push(object.ObjValue(closure))
	vm.callClosure(closure, 0)

	return vm.run()
}

func (vm *VM) push(v object.Value) {
	vm.stack[vm.stackTop] = v
	vm.stackTop++
}

func (vm *VM) pop() object.Value {
	vm.stackTop--
	return vm.stack[vm.stackTop]
}

func (vm *VM) peek(distance int) object.Value {
	return vm.stack[vm.stackTop-1-distance]
}

func (vm *VM) frame() *CallFrame {
	return &vm.frames[len(vm.frames)-1]
}

// run is the main fetch-decode loop. Each iteration reads one opcode
// from the current frame's chunk, dispatches, and may read further
// operand bytes; OP_RETURN on the outermost frame ends the loop.
func (vm *VM) run() error {
	for {
		frame := vm.frame()
		chunk := frame.closure.Function.Chunk
		op := bytecode.OpCode(chunk.Code[frame.ip])
		frame.ip++

		switch op {
		case bytecode.OpConstant:
			idx := vm.readByte()
			vm.push(constantAt(chunk, idx))

		case bytecode.OpNil:
			vm.push(object.NilValue())
		case bytecode.OpTrue:
			vm.push(object.BoolValue(true))
		case bytecode.OpFalse:
			vm.push(object.BoolValue(false))

		case bytecode.OpPop:
			vm.pop()

		case bytecode.OpGetLocal:
			slot := vm.readByte()
			vm.push(vm.stack[frame.fp+int(slot)])

		case bytecode.OpSetLocal:
			slot := vm.readByte()
			vm.stack[frame.fp+int(slot)] = vm.peek(0)

		case bytecode.OpGetGlobal:
			name := constantAt(chunk, vm.readByte()).AsString()
			v, ok := vm.globals[name]
			if !ok {
				return vm.runtimeError(fmt.Sprintf("undefined variable '%s'", name))
			}
			vm.push(v)

		case bytecode.OpDefineGlobal:
			name := constantAt(chunk, vm.readByte()).AsString()
			vm.globals[name] = vm.peek(0)
			vm.pop()

		case bytecode.OpSetGlobal:
			name := constantAt(chunk, vm.readByte()).AsString()
			if _, ok := vm.globals[name]; !ok {
				return vm.runtimeError(fmt.Sprintf("undefined variable '%s'", name))
			}
			vm.globals[name] = vm.peek(0)

		case bytecode.OpGetUpvalue:
			slot := vm.readByte()
			vm.push(vm.upvalueValue(frame.closure.Upvalues[slot]))

		case bytecode.OpSetUpvalue:
			slot := vm.readByte()
			vm.setUpvalueValue(frame.closure.Upvalues[slot], vm.peek(0))

		case bytecode.OpEqual:
			b, a := vm.pop(), vm.pop()
			vm.push(object.BoolValue(a.Equals(b)))

		case bytecode.OpGreater:
			if err := vm.binaryOp(vm.greater); err != nil {
				return err
			}
		case bytecode.OpLess:
			if err := vm.binaryOp(vm.less); err != nil {
				return err
			}

		case bytecode.OpAdd:
			if err := vm.binaryOp(vm.add); err != nil {
				return err
			}
		case bytecode.OpSubtract:
			if err := vm.binaryOp(vm.subtract); err != nil {
				return err
			}
		case bytecode.OpMultiply:
			if err := vm.binaryOp(vm.multiply); err != nil {
				return err
			}
		case bytecode.OpDivide:
			if err := vm.binaryOp(vm.divide); err != nil {
				return err
			}

		case bytecode.OpNot:
			vm.push(object.BoolValue(vm.pop().IsFalsey()))

		case bytecode.OpNegate:
			n, ok := negate(vm.peek(0))
			if !ok {
				return vm.runtimeError("operand must be a number")
			}
			vm.pop()
			vm.push(n)

		case bytecode.OpPrint:
			fmt.Fprintln(vm.out, vm.pop().String())

		case bytecode.OpJump:
			offset := vm.readShort()
			frame.ip += int(offset)

		case bytecode.OpJumpIfFalse:
			offset := vm.readShort()
			if vm.peek(0).IsFalsey() {
				frame.ip += int(offset)
			}

		case bytecode.OpLoop:
			offset := vm.readShort()
			frame.ip -= int(offset)

		case bytecode.OpCall:
			argCount := int(vm.readByte())
			if err := vm.callValue(vm.peek(argCount), argCount); err != nil {
				return err
			}

		case bytecode.OpClosure:
			fnVal := constantAt(chunk, vm.readByte())
			fn := fnVal.Object.(*object.Function)
			closure := vm.allocateClosure(fn)
			// Pushed before its upvalues are filled in so a GC triggered
			// while capturing them still finds the closure through the
			// stack root.
			vm.push(object.ObjValue(closure))
			for i := 0; i < fn.UpvalueCount; i++ {
				isLocal := vm.readByte()
				index := vm.readByte()
				if isLocal != 0 {
					closure.Upvalues[i] = vm.captureUpvalue(frame.fp + int(index))
				} else {
					closure.Upvalues[i] = frame.closure.Upvalues[index]
				}
			}

		case bytecode.OpCloseUpvalue:
			vm.closeUpvalues(vm.stackTop - 1)
			vm.pop()

		case bytecode.OpReturn:
			result := vm.pop()
			calleeFP := frame.fp
			vm.closeUpvalues(calleeFP)
			vm.frames = vm.frames[:len(vm.frames)-1]
			if len(vm.frames) == 0 {
				return nil
			}
			vm.stackTop = calleeFP
			vm.push(result)

		case bytecode.OpClass:
			name := constantAt(chunk, vm.readByte()).AsString()
			vm.push(object.ObjValue(vm.allocateClass(name)))

		case bytecode.OpMethod:
			name := constantAt(chunk, vm.readByte()).AsString()
			method := vm.peek(0)
			class := vm.peek(1).Object.(*object.Class)
			class.Methods[name] = method
			vm.pop()

		case bytecode.OpGetProperty:
			if err := vm.getProperty(chunk, vm.readByte()); err != nil {
				return err
			}

		case bytecode.OpSetProperty:
			if err := vm.setProperty(chunk, vm.readByte()); err != nil {
				return err
			}

		case bytecode.OpInvoke:
			name := constantAt(chunk, vm.readByte()).AsString()
			argCount := int(vm.readByte())
			if err := vm.invoke(name, argCount); err != nil {
				return err
			}

		case bytecode.OpInherit:
			superVal := vm.peek(1)
			super, ok := superVal.Object.(*object.Class)
			if !ok {
				return vm.runtimeError("superclass must be a class")
			}
			sub := vm.peek(0).Object.(*object.Class)
			for name, m := range super.Methods {
				sub.Methods[name] = m
			}
			vm.pop()

		case bytecode.OpGetSuper:
			name := constantAt(chunk, vm.readByte()).AsString()
			super := vm.pop().Object.(*object.Class)
			receiver := vm.pop()
			if err := vm.bindMethod(super, name, receiver); err != nil {
				return err
			}

		case bytecode.OpSuperInvoke:
			name := constantAt(chunk, vm.readByte()).AsString()
			argCount := int(vm.readByte())
			super := vm.pop().Object.(*object.Class)
			if err := vm.invokeFromClass(super, name, argCount); err != nil {
				return err
			}

		default:
			return vm.runtimeError(fmt.Sprintf("unknown opcode %d", op))
		}
	}
}

func (vm *VM) readByte() byte {
	frame := vm.frame()
	b := frame.closure.Function.Chunk.Code[frame.ip]
	frame.ip++
	return b
}

func (vm *VM) readShort() uint16 {
	frame := vm.frame()
	code := frame.closure.Function.Chunk.Code
	hi, lo := code[frame.ip], code[frame.ip+1]
	frame.ip += 2
	return uint16(hi)<<8 | uint16(lo)
}

func constantAt(chunk *bytecode.Chunk, idx byte) object.Value {
	return chunk.Constants[idx].(object.Value)
}

func (vm *VM) binaryOp(op func(a, b object.Value) (object.Value, error)) error {
	b, a := vm.pop(), vm.pop()
	result, err := op(a, b)
	if err != nil {
		return err
	}
	vm.push(result)
	return nil
}

// callValue dispatches OP_CALL's callee: a Closure pushes a new frame,
// a Class constructs an Instance (running `init` if present), and a
// BoundMethod rebinds `this` and calls through to its Closure.
// Anything else is a runtime error.
func (vm *VM) callValue(callee object.Value, argCount int) error {
	if !callee.IsObj() {
		return vm.runtimeError("can only call functions and classes")
	}
	switch obj := callee.Object.(type) {
	case *object.Closure:
		return vm.callClosure(obj, argCount)
	case *object.Class:
		instance := vm.allocateInstance(obj)
		vm.stack[vm.stackTop-1-argCount] = object.ObjValue(instance)
		if init, ok := obj.Methods["init"]; ok {
			return vm.callClosure(init.Object.(*object.Closure), argCount)
		}
		if argCount != 0 {
			return vm.runtimeError(fmt.Sprintf("expected 0 arguments but got %d", argCount))
		}
		return nil
	case *object.BoundMethod:
		vm.stack[vm.stackTop-1-argCount] = obj.Receiver
		return vm.callClosure(obj.Method, argCount)
	default:
		return vm.runtimeError("can only call functions and classes")
	}
}

func (vm *VM) callClosure(closure *object.Closure, argCount int) error {
	if argCount != closure.Function.Arity {
		return vm.runtimeError(fmt.Sprintf(
			"expected %d arguments but got %d", closure.Function.Arity, argCount))
	}
	if len(vm.frames) >= framesMax {
		return vm.runtimeError("stack overflow")
	}
	vm.frames = append(vm.frames, CallFrame{
		closure: closure,
		fp:      vm.stackTop - argCount - 1,
	})
	return nil
}

// getProperty reads a.name: a field wins if present, otherwise a
// matching method is bound into a BoundMethod.
func (vm *VM) getProperty(chunk *bytecode.Chunk, nameIdx byte) error {
	receiver := vm.peek(0)
	instance, ok := receiver.Object.(*object.Instance)
	if !ok {
		return vm.runtimeError("only instances have properties")
	}
	name := constantAt(chunk, nameIdx).AsString()
	if v, ok := instance.Fields[name]; ok {
		vm.pop()
		vm.push(v)
		return nil
	}
	vm.pop()
	return vm.bindMethod(instance.Class, name, receiver)
}

func (vm *VM) setProperty(chunk *bytecode.Chunk, nameIdx byte) error {
	instance, ok := vm.peek(1).Object.(*object.Instance)
	if !ok {
		return vm.runtimeError("only instances have fields")
	}
	name := constantAt(chunk, nameIdx).AsString()
	value := vm.pop()
	instance.Fields[name] = value
	vm.pop()
	vm.push(value)
	return nil
}

func (vm *VM) bindMethod(class *object.Class, name string, receiver object.Value) error {
	method, ok := class.Methods[name]
	if !ok {
		return vm.runtimeError(fmt.Sprintf("undefined property '%s'", name))
	}
	bound := vm.allocateBoundMethod(receiver, method.Object.(*object.Closure))
	vm.push(object.ObjValue(bound))
	return nil
}

// invoke fuses property lookup and call: a field holding a callable
// value still goes through the ordinary callValue path, matching
// clox-style semantics where OP_INVOKE is purely a call-site fast path
// and not a change in what's callable.
func (vm *VM) invoke(name string, argCount int) error {
	receiver := vm.peek(argCount)
	instance, ok := receiver.Object.(*object.Instance)
	if !ok {
		return vm.runtimeError("only instances have methods")
	}
	if field, ok := instance.Fields[name]; ok {
		vm.stack[vm.stackTop-1-argCount] = field
		return vm.callValue(field, argCount)
	}
	return vm.invokeFromClass(instance.Class, name, argCount)
}

func (vm *VM) invokeFromClass(class *object.Class, name string, argCount int) error {
	method, ok := class.Methods[name]
	if !ok {
		return vm.runtimeError(fmt.Sprintf("undefined property '%s'", name))
	}
	return vm.callClosure(method.Object.(*object.Closure), argCount)
}

// captureUpvalue returns the open upvalue for stack slot, reusing an
// existing one if a previous closure already captured the same slot.
// openUpvalues is kept sorted by ascending slot, with at most one entry
// per slot; the lookup is a linear scan.
func (vm *VM) captureUpvalue(slot int) *object.Upvalue {
	i := 0
	for i < len(vm.openUpvalues) && vm.openUpvalues[i].Location < slot {
		i++
	}
	if i < len(vm.openUpvalues) && vm.openUpvalues[i].Location == slot {
		return vm.openUpvalues[i]
	}
	uv := vm.allocateUpvalue(slot)
	vm.openUpvalues = append(vm.openUpvalues, nil)
	copy(vm.openUpvalues[i+1:], vm.openUpvalues[i:])
	vm.openUpvalues[i] = uv
	return uv
}

// closeUpvalues migrates every open upvalue at or above slot into its
// own Closed value, detaching it from the stack it's about to be
// popped off of.
func (vm *VM) closeUpvalues(slot int) {
	kept := vm.openUpvalues[:0]
	for _, uv := range vm.openUpvalues {
		if uv.Location >= slot {
			uv.Closed = vm.stack[uv.Location]
			uv.IsClosed = true
		} else {
			kept = append(kept, uv)
		}
	}
	vm.openUpvalues = kept
}

func (vm *VM) upvalueValue(uv *object.Upvalue) object.Value {
	if uv.IsClosed {
		return uv.Closed
	}
	return vm.stack[uv.Location]
}

func (vm *VM) setUpvalueValue(uv *object.Upvalue, v object.Value) {
	if uv.IsClosed {
		uv.Closed = v
	} else {
		vm.stack[uv.Location] = v
	}
}

// runtimeError builds a RuntimeError carrying the call stack active at
// the point of failure, outermost frame first and innermost last.
func (vm *VM) runtimeError(message string) error {
	stack := make([]StackFrame, len(vm.frames))
	for i, f := range vm.frames {
		name := "script"
		if f.closure.Function.Name != nil {
			name = f.closure.Function.Name.Chars
		}
		line := 0
		if f.ip-1 >= 0 && f.ip-1 < len(f.closure.Function.Chunk.Lines) {
			line = f.closure.Function.Chunk.LineAt(f.ip - 1)
		}
		stack[i] = StackFrame{FunctionName: name, Line: line}
	}
	return errors.WithStack(newRuntimeError(message, stack))
}
