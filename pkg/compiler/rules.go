package compiler

import (
	"github.com/kristofer/loxvm/pkg/bytecode"
	"github.com/kristofer/loxvm/pkg/lexer"
	"github.com/kristofer/loxvm/pkg/object"
)

// Precedence orders binding strength from loosest to tightest, per
// spec.md §4.2's precedence-climbing table.
type Precedence int

const (
	PrecNone       Precedence = iota
	PrecAssignment            // =
	PrecOr                    // or
	PrecAnd                   // and
	PrecEquality              // == !=
	PrecComparison            // < > <= >=
	PrecTerm                  // + -
	PrecFactor                // * /
	PrecUnary                 // ! -
	PrecCall                  // . ()
	PrecPrimary
)

type parseFn func(c *Compiler, canAssign bool)

type parseRule struct {
	prefix     parseFn
	infix      parseFn
	precedence Precedence
}

// rules maps each token type to its prefix/infix parse functions and
// infix binding precedence. A nil prefix means the token can't start
// an expression; a nil infix means it doesn't continue one.
var rules map[lexer.TokenType]parseRule

func init() {
	rules = map[lexer.TokenType]parseRule{
		lexer.TokenLParen:     {prefix: grouping, infix: call, precedence: PrecCall},
		lexer.TokenDot:        {infix: dot, precedence: PrecCall},
		lexer.TokenMinus:      {prefix: unary, infix: binary, precedence: PrecTerm},
		lexer.TokenPlus:       {infix: binary, precedence: PrecTerm},
		lexer.TokenSlash:      {infix: binary, precedence: PrecFactor},
		lexer.TokenStar:       {infix: binary, precedence: PrecFactor},
		lexer.TokenBang:       {prefix: unary},
		lexer.TokenBangEq:     {infix: binary, precedence: PrecEquality},
		lexer.TokenEqualEq:    {infix: binary, precedence: PrecEquality},
		lexer.TokenGreater:    {infix: binary, precedence: PrecComparison},
		lexer.TokenGreaterEq:  {infix: binary, precedence: PrecComparison},
		lexer.TokenLess:       {infix: binary, precedence: PrecComparison},
		lexer.TokenLessEq:     {infix: binary, precedence: PrecComparison},
		lexer.TokenIdentifier: {prefix: variable},
		lexer.TokenString:     {prefix: stringLiteral},
		lexer.TokenNumber:     {prefix: numberLiteral},
		lexer.TokenAnd:        {infix: and_, precedence: PrecAnd},
		lexer.TokenOr:         {infix: or_, precedence: PrecOr},
		lexer.TokenFalse:      {prefix: literal},
		lexer.TokenTrue:       {prefix: literal},
		lexer.TokenNil:        {prefix: literal},
		lexer.TokenThis:       {prefix: this_},
		lexer.TokenSuper:      {prefix: super_},
	}
}

func (c *Compiler) getRule(t lexer.TokenType) parseRule {
	return rules[t]
}

// expression parses a full expression at PrecAssignment, the loosest
// level above a bare sequence of statements.
func (c *Compiler) expression() {
	c.parsePrecedence(PrecAssignment)
}

// parsePrecedence is the Pratt driver: it consumes a prefix expression,
// then keeps consuming infix operators whose precedence is at or above
// the requested floor.
func (c *Compiler) parsePrecedence(prec Precedence) {
	c.advance()
	prefixRule := c.getRule(c.previous.Type).prefix
	if prefixRule == nil {
		c.error("expect expression")
		return
	}
	canAssign := prec <= PrecAssignment
	prefixRule(c, canAssign)

	for prec <= c.getRule(c.current.Type).precedence {
		c.advance()
		infixRule := c.getRule(c.previous.Type).infix
		infixRule(c, canAssign)
	}

	if canAssign && c.match(lexer.TokenEqual) {
		c.error("invalid assignment target")
	}
}

func numberLiteral(c *Compiler, _ bool) {
	c.emitConstant(object.NumberValue(parseFloat(c.previous.Literal)))
}

func stringLiteral(c *Compiler, _ bool) {
	c.emitConstant(object.ObjValue(object.NewString(c.previous.Literal)))
}

func literal(c *Compiler, _ bool) {
	switch c.previous.Type {
	case lexer.TokenFalse:
		c.emitOp(bytecode.OpFalse)
	case lexer.TokenTrue:
		c.emitOp(bytecode.OpTrue)
	case lexer.TokenNil:
		c.emitOp(bytecode.OpNil)
	}
}

func grouping(c *Compiler, _ bool) {
	c.expression()
	c.consume(lexer.TokenRParen, "expect ')' after expression")
}

func unary(c *Compiler, _ bool) {
	opType := c.previous.Type
	c.parsePrecedence(PrecUnary)
	switch opType {
	case lexer.TokenMinus:
		c.emitOp(bytecode.OpNegate)
	case lexer.TokenBang:
		c.emitOp(bytecode.OpNot)
	}
}

func binary(c *Compiler, _ bool) {
	opType := c.previous.Type
	rule := c.getRule(opType)
	c.parsePrecedence(rule.precedence + 1)

	switch opType {
	case lexer.TokenPlus:
		c.emitOp(bytecode.OpAdd)
	case lexer.TokenMinus:
		c.emitOp(bytecode.OpSubtract)
	case lexer.TokenStar:
		c.emitOp(bytecode.OpMultiply)
	case lexer.TokenSlash:
		c.emitOp(bytecode.OpDivide)
	case lexer.TokenEqualEq:
		c.emitOp(bytecode.OpEqual)
	case lexer.TokenBangEq:
		c.emitOps(bytecode.OpEqual, bytecode.OpNot)
	case lexer.TokenGreater:
		c.emitOp(bytecode.OpGreater)
	case lexer.TokenGreaterEq:
		c.emitOps(bytecode.OpLess, bytecode.OpNot)
	case lexer.TokenLess:
		c.emitOp(bytecode.OpLess)
	case lexer.TokenLessEq:
		c.emitOps(bytecode.OpGreater, bytecode.OpNot)
	}
}

// and_ short-circuits: if the left operand is falsey, skip the right
// operand entirely and leave the falsey value as the result.
func and_(c *Compiler, _ bool) {
	endJump := c.emitJump(bytecode.OpJumpIfFalse)
	c.emitOp(bytecode.OpPop)
	c.parsePrecedence(PrecAnd)
	c.patchJump(endJump)
}

// or_ short-circuits the opposite way: a truthy left operand skips the
// right operand.
func or_(c *Compiler, _ bool) {
	elseJump := c.emitJump(bytecode.OpJumpIfFalse)
	endJump := c.emitJump(bytecode.OpJump)

	c.patchJump(elseJump)
	c.emitOp(bytecode.OpPop)

	c.parsePrecedence(PrecOr)
	c.patchJump(endJump)
}

// variable compiles an identifier reference, which may turn out to be
// an assignment target (`name = expr`) if canAssign and an '=' follows.
func variable(c *Compiler, canAssign bool) {
	namedVariable(c, c.previous.Literal, canAssign)
}

func namedVariable(c *Compiler, name string, canAssign bool) {
	var getOp, setOp bytecode.OpCode
	var slot int
	if s, ok := c.resolveLocal(c.fs, name); ok {
		getOp, setOp, slot = bytecode.OpGetLocal, bytecode.OpSetLocal, s
	} else if s, ok := c.resolveUpvalue(c.fs, name); ok {
		getOp, setOp, slot = bytecode.OpGetUpvalue, bytecode.OpSetUpvalue, s
	} else {
		slot = int(c.identifierConstant(name))
		getOp, setOp = bytecode.OpGetGlobal, bytecode.OpSetGlobal
	}

	if canAssign && c.match(lexer.TokenEqual) {
		c.expression()
		c.emitOpByte(setOp, byte(slot))
	} else {
		c.emitOpByte(getOp, byte(slot))
	}
}

// call compiles a trailing `(args...)` as OP_CALL over whatever callee
// expression already produced a value. A call written directly on a
// property access (`a.m(...)`) never reaches here: dot consumes its
// argument list and emits the fused OP_INVOKE instead.
func call(c *Compiler, _ bool) {
	argCount := c.argumentList()
	c.emitOpByte(bytecode.OpCall, argCount)
}

func (c *Compiler) argumentList() byte {
	var count int
	if !c.check(lexer.TokenRParen) {
		for {
			c.expression()
			if count == 255 {
				c.error("can't have more than 255 arguments")
			}
			count++
			if !c.match(lexer.TokenComma) {
				break
			}
		}
	}
	c.consume(lexer.TokenRParen, "expect ')' after arguments")
	return byte(count)
}

// dot compiles `.name`, `.name = expr`, and the call-fused
// `.name(args...)` as OP_INVOKE, matching spec.md §4.4's method-call
// fusion.
func dot(c *Compiler, canAssign bool) {
	c.consume(lexer.TokenIdentifier, "expect property name after '.'")
	nameConst := c.identifierConstant(c.previous.Literal)

	switch {
	case canAssign && c.match(lexer.TokenEqual):
		c.expression()
		c.emitOpByte(bytecode.OpSetProperty, nameConst)
	case c.match(lexer.TokenLParen):
		argCount := c.argumentList()
		c.emitOpByte(bytecode.OpInvoke, nameConst)
		c.emitByte(argCount)
	default:
		c.emitOpByte(bytecode.OpGetProperty, nameConst)
	}
}

func this_(c *Compiler, _ bool) {
	if c.class == nil {
		c.error("can't use 'this' outside of a class")
		return
	}
	variable(c, false)
}

// super_ compiles `super.method` and the call-fused
// `super.method(args...)` as OP_SUPER_INVOKE. `super` and `this` are
// read as the implicit upvalues/locals the enclosing class declaration
// set up.
func super_(c *Compiler, _ bool) {
	if c.class == nil {
		c.error("can't use 'super' outside of a class")
	} else if !c.class.hasSuperclass {
		c.error("can't use 'super' in a class with no superclass")
	}

	c.consume(lexer.TokenDot, "expect '.' after 'super'")
	c.consume(lexer.TokenIdentifier, "expect superclass method name")
	nameConst := c.identifierConstant(c.previous.Literal)

	namedVariable(c, "this", false)
	if c.match(lexer.TokenLParen) {
		argCount := c.argumentList()
		namedVariable(c, "super", false)
		c.emitOpByte(bytecode.OpSuperInvoke, nameConst)
		c.emitByte(argCount)
	} else {
		namedVariable(c, "super", false)
		c.emitOpByte(bytecode.OpGetSuper, nameConst)
	}
}
