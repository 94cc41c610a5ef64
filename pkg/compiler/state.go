package compiler

import "github.com/kristofer/loxvm/pkg/object"

// FunctionType distinguishes the kind of function body currently being
// compiled, which changes how `return` and the implicit return at the
// end of the body are handled.
type FunctionType int

const (
	FuncScript FunctionType = iota
	FuncFunction
	FuncMethod
	FuncInitializer
)

// maxLocals bounds the number of locals (including slot 0) a single
// function may declare; a local's stack slot is encoded as one byte.
const maxLocals = 256

// maxUpvalues bounds a function's captured-variable list; an upvalue
// index is encoded as one byte, and OP_CLOSURE additionally needs the
// count itself to fit the spec's 255 cap.
const maxUpvalues = 255

// local is one entry in a funcState's locals list. depth is -1 between
// the point a local is declared and the point its initializer finishes
// compiling ("declared, not yet initialized") — resolving a local in
// that window is a compile error.
type local struct {
	name       string
	depth      int
	isCaptured bool
}

// upvalueRef records how a function's Nth upvalue is captured: either
// directly off the immediately enclosing function's locals (isLocal),
// or forwarded from that enclosing function's own upvalue list.
type upvalueRef struct {
	index   byte
	isLocal bool
}

// funcState is the compiler's context for one function body: its own
// locals/upvalues/scope depth and the object.Function template being
// built. Compiling a nested function pushes a new funcState and
// restores the enclosing one when the body finishes.
type funcState struct {
	enclosing  *funcState
	function   *object.Function
	funcType   FunctionType
	locals     []local
	upvalues   []upvalueRef
	scopeDepth int
}

func newFuncState(enclosing *funcState, funcType FunctionType, name string) *funcState {
	fs := &funcState{
		enclosing: enclosing,
		function:  object.NewFunction(),
		funcType:  funcType,
	}
	if name != "" {
		fs.function.Name = object.NewString(name)
	}
	// Slot 0 is reserved: "this" in methods/initializers, unnamed
	// (unreachable by name) in plain functions and the script body.
	slotName := ""
	if funcType == FuncMethod || funcType == FuncInitializer {
		slotName = "this"
	}
	fs.locals = append(fs.locals, local{name: slotName, depth: 0})
	return fs
}

// classState tracks the class body currently being compiled, so that
// `this`/`super` can be validated and `super` resolved as the
// implicitly-scoped local the class declaration wraps around its body.
type classState struct {
	enclosing     *classState
	hasSuperclass bool
}
