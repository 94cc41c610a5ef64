package object

import (
	"fmt"

	"github.com/kristofer/loxvm/pkg/bytecode"
)

// ObjType tags the concrete variant of a heap Object.
type ObjType int

const (
	ObjString ObjType = iota
	ObjFunction
	ObjClosure
	ObjUpvalue
	ObjClass
	ObjInstance
	ObjBoundMethod
)

// Object is satisfied by every heap-allocated variant. The GC marks and
// sweeps through this interface rather than a concrete type, and the
// heap keeps every live Object in one slice for the sweep phase to walk.
type Object interface {
	ObjType() ObjType
	String() string
	Marked() bool
	SetMarked(bool)
	Size() int
	SetSize(int)
}

// header is embedded by every concrete Object and carries the single
// mark bit the collector needs, plus the estimated byte size the
// allocator recorded for it so a sweep can subtract it back out of
// bytesAllocated. Re-marking an already-marked object is a no-op at the
// call site (see vm/gc.go), which is what lets the mark phase tolerate
// cycles.
type header struct {
	marked bool
	size   int
}

func (h *header) Marked() bool     { return h.marked }
func (h *header) SetMarked(m bool) { h.marked = m }
func (h *header) Size() int        { return h.size }
func (h *header) SetSize(n int)    { h.size = n }

// String is an immutable heap character sequence.
type String struct {
	header
	Chars string
}

func NewString(s string) *String { return &String{Chars: s} }

func (s *String) ObjType() ObjType { return ObjString }
func (s *String) String() string   { return s.Chars }

// Function is the compile-time template for a callable: its arity,
// chunk, optional name, and the shape (not the contents) of the
// upvalues its closures must capture. A Function is never called
// directly — it is always wrapped in a Closure first.
type Function struct {
	header
	Arity        int
	UpvalueCount int
	Chunk        *bytecode.Chunk
	Name         *String // nil for the top-level script
}

func NewFunction() *Function {
	return &Function{Chunk: bytecode.NewChunk()}
}

func (f *Function) ObjType() ObjType { return ObjFunction }

func (f *Function) String() string {
	if f.Name == nil {
		return "<script>"
	}
	return fmt.Sprintf("<fn %s>", f.Name.Chars)
}

// Upvalue is an indirection onto a captured variable: open (pointing at
// a stack slot) while the owning local is still live, closed (holding
// the migrated Value) once it isn't.
type Upvalue struct {
	header
	Location int // valid while open: index into the VM value stack
	Closed   Value
	IsClosed bool
}

func NewUpvalue(location int) *Upvalue {
	return &Upvalue{Location: location}
}

func (u *Upvalue) ObjType() ObjType { return ObjUpvalue }
func (u *Upvalue) String() string   { return "<upvalue>" }

// Closure pairs a Function template with the upvalues captured at its
// construction site.
type Closure struct {
	header
	Function *Function
	Upvalues []*Upvalue
}

func NewClosure(fn *Function) *Closure {
	return &Closure{Function: fn, Upvalues: make([]*Upvalue, fn.UpvalueCount)}
}

func (c *Closure) ObjType() ObjType { return ObjClosure }
func (c *Closure) String() string   { return c.Function.String() }

// Class maps method names to the Value (always an ObjClosure Value)
// implementing them. Single inheritance is realized by OP_INHERIT
// copying the superclass's method map into the subclass when the class
// declaration executes, before the subclass's own methods are attached.
type Class struct {
	header
	Name    string
	Methods map[string]Value
}

func NewClass(name string) *Class {
	return &Class{Name: name, Methods: make(map[string]Value)}
}

func (c *Class) ObjType() ObjType { return ObjClass }
func (c *Class) String() string   { return fmt.Sprintf("<class %s>", c.Name) }

// Instance is a live object of some Class, holding its own field map.
type Instance struct {
	header
	Class  *Class
	Fields map[string]Value
}

func NewInstance(class *Class) *Instance {
	return &Instance{Class: class, Fields: make(map[string]Value)}
}

func (i *Instance) ObjType() ObjType { return ObjInstance }
func (i *Instance) String() string   { return fmt.Sprintf("<instance %s>", i.Class.Name) }

// BoundMethod pairs a receiver with the closure resolved for a message
// sent to it. Produced by property access (`obj.method`) and super
// access (`super.method`) when the resolved property is a method
// rather than a field.
type BoundMethod struct {
	header
	Receiver Value
	Method   *Closure
}

func NewBoundMethod(receiver Value, method *Closure) *BoundMethod {
	return &BoundMethod{Receiver: receiver, Method: method}
}

func (b *BoundMethod) ObjType() ObjType { return ObjBoundMethod }
func (b *BoundMethod) String() string   { return b.Method.String() }
