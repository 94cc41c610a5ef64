// Package compiler implements the one-pass Pratt compiler that turns a
// Lox token stream directly into bytecode: one recursive-descent pass
// over the grammar, with expression precedence climbing handled by a
// table of prefix/infix parse functions (see rules.go). There is no
// intermediate AST — each construct emits its bytecode as it is
// recognized, the same way the scopes, functions, and classes it
// compiles are resolved as contexts are entered and left.
package compiler

import (
	"strconv"

	"github.com/kristofer/loxvm/pkg/bytecode"
	"github.com/kristofer/loxvm/pkg/lexer"
	"github.com/kristofer/loxvm/pkg/object"
)

// Compiler holds the parser/emitter state for one compilation: the
// token cursor, the stack of function contexts (innermost is c.fs),
// and the stack of class contexts (innermost is c.class).
type Compiler struct {
	lex *lexer.Lexer

	current  lexer.Token
	previous lexer.Token

	hadError  bool
	panicking bool
	errs      Errors

	fs    *funcState
	class *classState
}

// Compile compiles a complete Lox program into the top-level script
// function. On a compile error it returns the accumulated Errors;
// compilation continues (synchronizing to the next statement) after
// each error so more than one diagnostic can be reported per run.
func Compile(source string) (*object.Function, error) {
	c := &Compiler{lex: lexer.New(source)}
	c.fs = newFuncState(nil, FuncScript, "")

	c.advance()
	for !c.match(lexer.TokenEOF) {
		c.declaration()
	}

	fn := c.endFunction()
	if c.hadError {
		return nil, c.errs
	}
	return fn.Function, nil
}

// --- token stream plumbing -------------------------------------------------

func (c *Compiler) advance() {
	c.previous = c.current
	for {
		c.current = c.lex.NextToken()
		if c.current.Type != lexer.TokenError {
			break
		}
		c.errorAtCurrent(c.current.Literal)
	}
}

func (c *Compiler) check(t lexer.TokenType) bool {
	return c.current.Type == t
}

func (c *Compiler) match(t lexer.TokenType) bool {
	if !c.check(t) {
		return false
	}
	c.advance()
	return true
}

func (c *Compiler) consume(t lexer.TokenType, message string) {
	if c.current.Type == t {
		c.advance()
		return
	}
	c.errorAtCurrent(message)
}

func (c *Compiler) errorAtCurrent(message string) {
	c.errorAt(c.current, message)
}

func (c *Compiler) error(message string) {
	c.errorAt(c.previous, message)
}

func (c *Compiler) errorAt(tok lexer.Token, message string) {
	if c.panicking {
		return
	}
	c.panicking = true
	c.hadError = true
	c.errs = append(c.errs, &CompileError{Line: tok.Line, Message: message})
}

// synchronize skips tokens until it finds what looks like a statement
// boundary, so one syntax error doesn't cascade into a wall of
// follow-on errors.
func (c *Compiler) synchronize() {
	c.panicking = false
	for c.current.Type != lexer.TokenEOF {
		if c.previous.Type == lexer.TokenSemicolon {
			return
		}
		switch c.current.Type {
		case lexer.TokenClass, lexer.TokenFun, lexer.TokenVar, lexer.TokenFor,
			lexer.TokenIf, lexer.TokenWhile, lexer.TokenPrint, lexer.TokenReturn:
			return
		}
		c.advance()
	}
}

// --- bytecode emission ------------------------------------------------------

func (c *Compiler) chunk() *bytecode.Chunk {
	return c.fs.function.Chunk
}

func (c *Compiler) emitByte(b byte) {
	c.chunk().Write(b, c.previous.Line)
}

func (c *Compiler) emitOp(op bytecode.OpCode) {
	c.chunk().WriteOp(op, c.previous.Line)
}

func (c *Compiler) emitOps(op1, op2 bytecode.OpCode) {
	c.emitOp(op1)
	c.emitOp(op2)
}

func (c *Compiler) emitOpByte(op bytecode.OpCode, operand byte) {
	c.emitOp(op)
	c.emitByte(operand)
}

// emitConstant adds v to the current chunk's constant pool and emits
// OP_CONSTANT for it, reporting "too many constants" as a compile
// error (the spec's 256-entry constant pool boundary).
func (c *Compiler) emitConstant(v object.Value) {
	idx, err := c.chunk().AddConstant(v)
	if err != nil {
		c.error(err.Error())
		return
	}
	c.emitOpByte(bytecode.OpConstant, byte(idx))
}

// emitJump emits a jump opcode with a placeholder 16-bit operand and
// returns the offset of the operand's first byte, for a later patchJump.
func (c *Compiler) emitJump(op bytecode.OpCode) int {
	c.emitOp(op)
	c.emitByte(0xff)
	c.emitByte(0xff)
	return len(c.chunk().Code) - 2
}

// patchJump backfills the 16-bit offset at the given placeholder with
// the distance from just past it to the current end of the chunk.
func (c *Compiler) patchJump(offset int) {
	jump := len(c.chunk().Code) - offset - 2
	if jump > 0xFFFF {
		c.error("too much code to jump over")
		return
	}
	c.chunk().Code[offset] = byte(jump >> 8)
	c.chunk().Code[offset+1] = byte(jump & 0xFF)
}

// emitLoop emits OP_LOOP with the backward distance to loopStart.
func (c *Compiler) emitLoop(loopStart int) {
	c.emitOp(bytecode.OpLoop)
	offset := len(c.chunk().Code) - loopStart + 2
	if offset > 0xFFFF {
		c.error("loop body too large")
		return
	}
	c.emitByte(byte(offset >> 8))
	c.emitByte(byte(offset & 0xFF))
}

// emitReturn emits the implicit return for the end of a function body:
// initializers implicitly return `this` (slot 0), everything else nil.
func (c *Compiler) emitReturn() {
	if c.fs.funcType == FuncInitializer {
		c.emitOpByte(bytecode.OpGetLocal, 0)
	} else {
		c.emitOp(bytecode.OpNil)
	}
	c.emitOp(bytecode.OpReturn)
}

// --- scopes, locals, and upvalues -------------------------------------------

func (c *Compiler) beginScope() {
	c.fs.scopeDepth++
}

// endScope pops the current scope's locals, emitting OP_CLOSE_UPVALUE
// for any that were captured by a nested closure instead of a plain
// OP_POP, so the heap-migrated copy survives past this frame.
func (c *Compiler) endScope() {
	c.fs.scopeDepth--
	locals := c.fs.locals
	for len(locals) > 0 && locals[len(locals)-1].depth > c.fs.scopeDepth {
		if locals[len(locals)-1].isCaptured {
			c.emitOp(bytecode.OpCloseUpvalue)
		} else {
			c.emitOp(bytecode.OpPop)
		}
		locals = locals[:len(locals)-1]
	}
	c.fs.locals = locals
}

// identifierConstant interns name as a string constant and returns its
// pool index, used for global names and property/method selectors.
func (c *Compiler) identifierConstant(name string) byte {
	idx, err := c.chunk().AddConstant(object.ObjValue(object.NewString(name)))
	if err != nil {
		c.error(err.Error())
		return 0
	}
	return byte(idx)
}

// declareVariable registers the identifier just consumed (c.previous)
// as a new local in the current scope. Globals are not declared here —
// they are resolved dynamically by name at runtime.
func (c *Compiler) declareVariable() {
	if c.fs.scopeDepth == 0 {
		return
	}
	name := c.previous.Literal
	for i := len(c.fs.locals) - 1; i >= 0; i-- {
		l := c.fs.locals[i]
		if l.depth != -1 && l.depth < c.fs.scopeDepth {
			break
		}
		if l.name == name {
			c.error("already a variable with this name in this scope")
		}
	}
	c.addLocal(name)
}

func (c *Compiler) addLocal(name string) {
	if len(c.fs.locals) >= maxLocals {
		c.error("too many local variables in function")
		return
	}
	c.fs.locals = append(c.fs.locals, local{name: name, depth: -1})
}

// markInitialized sets the most recently declared local's depth to the
// current scope, making it resolvable. A no-op at global scope, where
// OP_DEFINE_GLOBAL is what makes the name visible instead.
func (c *Compiler) markInitialized() {
	if c.fs.scopeDepth == 0 {
		return
	}
	c.fs.locals[len(c.fs.locals)-1].depth = c.fs.scopeDepth
}

// parseVariable consumes an identifier, declares it as a local if
// we're inside a scope, and otherwise returns the constant-pool index
// of its name for a later OP_DEFINE_GLOBAL.
func (c *Compiler) parseVariable(errMsg string) byte {
	c.consume(lexer.TokenIdentifier, errMsg)
	c.declareVariable()
	if c.fs.scopeDepth > 0 {
		return 0
	}
	return c.identifierConstant(c.previous.Literal)
}

func (c *Compiler) defineVariable(global byte) {
	if c.fs.scopeDepth > 0 {
		c.markInitialized()
		return
	}
	c.emitOpByte(bytecode.OpDefineGlobal, global)
}

// resolveLocal searches fs's locals from innermost to outermost for
// name, returning its slot. A local whose depth is still -1 is being
// read from within its own initializer, which is a compile error.
func (c *Compiler) resolveLocal(fs *funcState, name string) (int, bool) {
	for i := len(fs.locals) - 1; i >= 0; i-- {
		if fs.locals[i].name == name {
			if fs.locals[i].depth == -1 {
				c.error("can't read local variable in its own initializer")
			}
			return i, true
		}
	}
	return -1, false
}

// resolveUpvalue implements the ascent described in spec.md §4.2: the
// innermost enclosing function holding name as a local marks it
// captured and contributes a local upvalue; every function further out
// forwards it as a non-local upvalue referring to its inner neighbor's
// upvalue table. Expressed as Go recursion whose depth is bounded by
// static function nesting, not call depth.
func (c *Compiler) resolveUpvalue(fs *funcState, name string) (int, bool) {
	if fs.enclosing == nil {
		return -1, false
	}
	if slot, ok := c.resolveLocal(fs.enclosing, name); ok {
		fs.enclosing.locals[slot].isCaptured = true
		return c.addUpvalue(fs, byte(slot), true), true
	}
	if idx, ok := c.resolveUpvalue(fs.enclosing, name); ok {
		return c.addUpvalue(fs, byte(idx), false), true
	}
	return -1, false
}

// addUpvalue dedupes: an existing (isLocal, index) pair is reused
// rather than re-added.
func (c *Compiler) addUpvalue(fs *funcState, index byte, isLocal bool) int {
	for i, uv := range fs.upvalues {
		if uv.index == index && uv.isLocal == isLocal {
			return i
		}
	}
	if len(fs.upvalues) >= maxUpvalues {
		c.error("too many closure variables in function")
		return 0
	}
	fs.upvalues = append(fs.upvalues, upvalueRef{index: index, isLocal: isLocal})
	fs.function.UpvalueCount = len(fs.upvalues)
	return len(fs.upvalues) - 1
}

// --- declarations and statements --------------------------------------------

func (c *Compiler) declaration() {
	switch {
	case c.match(lexer.TokenClass):
		c.classDeclaration()
	case c.match(lexer.TokenFun):
		c.funDeclaration()
	case c.match(lexer.TokenVar):
		c.varDeclaration()
	default:
		c.statement()
	}
	if c.panicking {
		c.synchronize()
	}
}

func (c *Compiler) varDeclaration() {
	global := c.parseVariable("expect variable name")
	if c.match(lexer.TokenEqual) {
		c.expression()
	} else {
		c.emitOp(bytecode.OpNil)
	}
	c.consume(lexer.TokenSemicolon, "expect ';' after variable declaration")
	c.defineVariable(global)
}

func (c *Compiler) funDeclaration() {
	global := c.parseVariable("expect function name")
	c.markInitialized()
	c.function(FuncFunction)
	c.defineVariable(global)
}

func (c *Compiler) statement() {
	switch {
	case c.match(lexer.TokenPrint):
		c.printStatement()
	case c.match(lexer.TokenIf):
		c.ifStatement()
	case c.match(lexer.TokenReturn):
		c.returnStatement()
	case c.match(lexer.TokenWhile):
		c.whileStatement()
	case c.match(lexer.TokenFor):
		c.forStatement()
	case c.match(lexer.TokenLBrace):
		c.beginScope()
		c.block()
		c.endScope()
	default:
		c.expressionStatement()
	}
}

func (c *Compiler) block() {
	for !c.check(lexer.TokenRBrace) && !c.check(lexer.TokenEOF) {
		c.declaration()
	}
	c.consume(lexer.TokenRBrace, "expect '}' after block")
}

func (c *Compiler) printStatement() {
	c.expression()
	c.consume(lexer.TokenSemicolon, "expect ';' after value")
	c.emitOp(bytecode.OpPrint)
}

func (c *Compiler) expressionStatement() {
	c.expression()
	c.consume(lexer.TokenSemicolon, "expect ';' after expression")
	c.emitOp(bytecode.OpPop)
}

func (c *Compiler) returnStatement() {
	if c.fs.funcType == FuncScript {
		c.error("can't return from top-level code")
	}
	if c.match(lexer.TokenSemicolon) {
		c.emitReturn()
		return
	}
	if c.fs.funcType == FuncInitializer {
		c.error("can't return a value from an initializer")
	}
	c.expression()
	c.consume(lexer.TokenSemicolon, "expect ';' after return value")
	c.emitOp(bytecode.OpReturn)
}

func (c *Compiler) ifStatement() {
	c.consume(lexer.TokenLParen, "expect '(' after 'if'")
	c.expression()
	c.consume(lexer.TokenRParen, "expect ')' after condition")

	thenJump := c.emitJump(bytecode.OpJumpIfFalse)
	c.emitOp(bytecode.OpPop)
	c.statement()

	elseJump := c.emitJump(bytecode.OpJump)
	c.patchJump(thenJump)
	c.emitOp(bytecode.OpPop)

	if c.match(lexer.TokenElse) {
		c.statement()
	}
	c.patchJump(elseJump)
}

func (c *Compiler) whileStatement() {
	loopStart := len(c.chunk().Code)
	c.consume(lexer.TokenLParen, "expect '(' after 'while'")
	c.expression()
	c.consume(lexer.TokenRParen, "expect ')' after condition")

	exitJump := c.emitJump(bytecode.OpJumpIfFalse)
	c.emitOp(bytecode.OpPop)
	c.statement()
	c.emitLoop(loopStart)

	c.patchJump(exitJump)
	c.emitOp(bytecode.OpPop)
}

// forStatement desugars `for (init; cond; incr) body` to a while loop
// wrapped in its own scope: there is no dedicated loop opcode.
func (c *Compiler) forStatement() {
	c.beginScope()
	c.consume(lexer.TokenLParen, "expect '(' after 'for'")

	switch {
	case c.match(lexer.TokenSemicolon):
		// no initializer
	case c.match(lexer.TokenVar):
		c.varDeclaration()
	default:
		c.expressionStatement()
	}

	loopStart := len(c.chunk().Code)
	exitJump := -1
	if !c.match(lexer.TokenSemicolon) {
		c.expression()
		c.consume(lexer.TokenSemicolon, "expect ';' after loop condition")
		exitJump = c.emitJump(bytecode.OpJumpIfFalse)
		c.emitOp(bytecode.OpPop)
	}

	if !c.match(lexer.TokenRParen) {
		bodyJump := c.emitJump(bytecode.OpJump)
		incrementStart := len(c.chunk().Code)
		c.expression()
		c.emitOp(bytecode.OpPop)
		c.consume(lexer.TokenRParen, "expect ')' after for clauses")

		c.emitLoop(loopStart)
		loopStart = incrementStart
		c.patchJump(bodyJump)
	}

	c.statement()
	c.emitLoop(loopStart)

	if exitJump != -1 {
		c.patchJump(exitJump)
		c.emitOp(bytecode.OpPop)
	}
	c.endScope()
}

// --- functions ---------------------------------------------------------------

// function compiles a function/method body into its own funcState,
// then — back in the enclosing compiler — emits OP_CLOSURE for it
// followed by one (isLocal, index) descriptor pair per captured
// upvalue, per spec.md §4.2/§4.3.
func (c *Compiler) function(funcType FunctionType) {
	name := c.previous.Literal
	c.fs = newFuncState(c.fs, funcType, name)
	c.beginScope()

	c.consume(lexer.TokenLParen, "expect '(' after function name")
	if !c.check(lexer.TokenRParen) {
		for {
			if c.fs.function.Arity >= 255 {
				c.errorAtCurrent("can't have more than 255 parameters")
			}
			c.fs.function.Arity++
			paramConst := c.parseVariable("expect parameter name")
			c.defineVariable(paramConst)
			if !c.match(lexer.TokenComma) {
				break
			}
		}
	}
	c.consume(lexer.TokenRParen, "expect ')' after parameters")
	c.consume(lexer.TokenLBrace, "expect '{' before function body")
	c.block()

	fn := c.endFunction()

	idx, err := c.chunk().AddConstant(object.ObjValue(fn.Function))
	if err != nil {
		c.error(err.Error())
		return
	}
	c.emitOpByte(bytecode.OpClosure, byte(idx))
	for _, uv := range fn.compilerUpvalues {
		if uv.isLocal {
			c.emitByte(1)
		} else {
			c.emitByte(0)
		}
		c.emitByte(uv.index)
	}
}

// endFunction finalizes the current funcState (emitting the implicit
// trailing return) and restores the enclosing one as current.
func (c *Compiler) endFunction() *compiledFunction {
	c.emitReturn()
	fn := &compiledFunction{Function: c.fs.function, compilerUpvalues: c.fs.upvalues}
	if c.fs.enclosing != nil {
		c.fs = c.fs.enclosing
	}
	return fn
}

// compiledFunction carries the finished object.Function back to the
// enclosing compiler alongside the upvalue descriptor list the VM's
// OP_CLOSURE handler needs at the call site — the object.Function
// itself only records the count, not which slots to capture.
type compiledFunction struct {
	*object.Function
	compilerUpvalues []upvalueRef
}

// --- classes ------------------------------------------------------------------

func (c *Compiler) classDeclaration() {
	c.consume(lexer.TokenIdentifier, "expect class name")
	className := c.previous
	nameConst := c.identifierConstant(className.Literal)
	c.declareVariable()

	c.emitOpByte(bytecode.OpClass, nameConst)
	c.defineVariable(nameConst)

	c.class = &classState{enclosing: c.class}
	defer func() { c.class = c.class.enclosing }()

	if c.match(lexer.TokenLess) {
		c.consume(lexer.TokenIdentifier, "expect superclass name")
		c.namedVariableRead(c.previous.Literal)

		if c.previous.Literal == className.Literal {
			c.error("a class can't inherit from itself")
		}

		c.beginScope()
		c.addLocal("super")
		c.markInitialized()

		c.namedVariableRead(className.Literal)
		c.emitOp(bytecode.OpInherit)
		c.class.hasSuperclass = true
	}

	c.namedVariableRead(className.Literal)
	c.consume(lexer.TokenLBrace, "expect '{' before class body")
	for !c.check(lexer.TokenRBrace) && !c.check(lexer.TokenEOF) {
		c.method()
	}
	c.consume(lexer.TokenRBrace, "expect '}' after class body")
	c.emitOp(bytecode.OpPop)

	if c.class.hasSuperclass {
		c.endScope()
	}
}

func (c *Compiler) method() {
	c.consume(lexer.TokenIdentifier, "expect method name")
	name := c.previous.Literal
	nameConst := c.identifierConstant(name)

	funcType := FuncMethod
	if name == "init" {
		funcType = FuncInitializer
	}
	c.function(funcType)
	c.emitOpByte(bytecode.OpMethod, nameConst)
}

// namedVariableRead pushes the value of an already-resolved name (used
// internally by the class-declaration machinery, which always reads,
// never assigns).
func (c *Compiler) namedVariableRead(name string) {
	getOp, slot := c.resolveVariable(name)
	c.emitOpByte(getOp, byte(slot))
}

// resolveVariable finds name as a local, then an upvalue, then falls
// back to treating it as a global, returning the opcode to read it and
// the byte operand (slot/upvalue index, or name-constant index).
func (c *Compiler) resolveVariable(name string) (bytecode.OpCode, int) {
	if slot, ok := c.resolveLocal(c.fs, name); ok {
		return bytecode.OpGetLocal, slot
	}
	if idx, ok := c.resolveUpvalue(c.fs, name); ok {
		return bytecode.OpGetUpvalue, idx
	}
	return bytecode.OpGetGlobal, int(c.identifierConstant(name))
}

// parseFloat converts a number literal's text (a TokenNumber's Literal)
// to the float64 value of a Lox number constant.
func parseFloat(lit string) float64 {
	n, _ := strconv.ParseFloat(lit, 64)
	return n
}
