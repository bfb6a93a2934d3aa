// Package compiler implements the single-pass Pratt parser fused with
// bytecode emission: there is no intermediate AST. Parsing a subexpression
// and emitting its bytecode happen in the same recursive-descent call.
package compiler

import (
	"fmt"

	"trilox/internal/chunk"
	"trilox/internal/htable"
	"trilox/internal/lexer"
	"trilox/internal/token"
	"trilox/internal/value"
)

const (
	maxLocals       = 256
	maxLoopNesting  = 64
	internalDefault = "___internal_switch_default"
	loopCounterName = "counter"
)

type precedence int

const (
	precNone precedence = iota
	precAssignment
	precOr
	precAnd
	precEquality
	precComparison
	precModulo
	precAddSub
	precMultDiv
	precExponential
	precUnary
	precCall
	precPrimary
)

type parseFn func(c *Compiler, canAssign bool)

type parseRule struct {
	prefix     parseFn
	infix      parseFn
	precedence precedence
}

var rules map[token.TokenType]parseRule

func init() {
	rules = map[token.TokenType]parseRule{
		token.LEFT_PAREN:  {(*Compiler).grouping, (*Compiler).call, precCall},
		token.LEFT_SQUARE: {(*Compiler).array, (*Compiler).accessArray, precCall},
		token.TABLE_OPEN:  {(*Compiler).hashTable, (*Compiler).tableCalcAccess, precCall},
		token.MINUS:       {(*Compiler).unary, (*Compiler).binary, precAddSub},
		token.PLUS:        {nil, (*Compiler).binary, precAddSub},
		token.TIMES:       {nil, (*Compiler).binary, precMultDiv},
		token.DIVIDE:      {nil, (*Compiler).binary, precMultDiv},
		token.MODULO:      {nil, (*Compiler).binary, precModulo},
		token.EXPONENTIAL: {nil, (*Compiler).binary, precExponential},
		token.FALSE_LIT:   {(*Compiler).logicLit, nil, precNone},
		token.UNKNOWN_LIT: {(*Compiler).logicLit, nil, precNone},
		token.TRUE_LIT:    {(*Compiler).logicLit, nil, precNone},
		token.NIL:         {(*Compiler).nilLit, nil, precNone},
		token.COMPARE:     {nil, (*Compiler).binary, precComparison},
		token.LESS_THAN:   {nil, (*Compiler).binary, precComparison},
		token.LT_EQUAL:    {nil, (*Compiler).binary, precComparison},
		token.GREAT_THAN:  {nil, (*Compiler).binary, precComparison},
		token.GT_EQUAL:    {nil, (*Compiler).binary, precComparison},
		token.EQUAL:       {nil, (*Compiler).binary, precComparison},
		token.NOT_EQUAL:   {nil, (*Compiler).binary, precComparison},
		token.AND:         {nil, (*Compiler).binary, precAnd},
		token.OR:          {nil, (*Compiler).binary, precOr},
		token.XOR:         {nil, (*Compiler).binary, precOr},
		token.NOT:         {(*Compiler).unary, nil, precUnary},
		token.ATOM:        {(*Compiler).atom, nil, precPrimary},
		token.IDENTIFIER:  {(*Compiler).variable, nil, precNone},
		token.STRING:      {(*Compiler).stringLit, nil, precNone},
		token.NUMBER:      {(*Compiler).number, nil, precNone},
	}
}

func getRule(t token.TokenType) parseRule {
	if r, ok := rules[t]; ok {
		return r
	}
	return parseRule{precedence: precNone}
}

// CompileError aggregates every syntax error found during a compile pass,
// one "[line N] Error at 'lexeme': msg" line each (" at end" at end of
// input, no location for a scanner error token).
type CompileError struct {
	Messages []string
}

func (e *CompileError) Error() string {
	s := ""
	for i, m := range e.Messages {
		if i > 0 {
			s += "\n"
		}
		s += m
	}
	return s
}

type parserState struct {
	lex       *lexer.Lexer
	fileName  string
	current   token.Token
	previous  token.Token
	prevNext  token.Token
	hadError  bool
	panicMode bool
	errors    []string
}

type local struct {
	name       string
	depth      int
	isCaptured bool
}

type upvalueRef struct {
	index   byte
	isLocal bool
}

type funcType int

const (
	typeFunction funcType = iota
	typeScript
)

// Compiler is one activation of the fused parser/emitter, one per function
// body currently being compiled (plus one for the top-level script). The
// enclosing chain mirrors the lexical nesting of function literals.
type Compiler struct {
	enclosing     *Compiler
	p             *parserState
	fn            *value.ObjFunction
	chunk         *chunk.Chunk
	kind          funcType
	arity         int
	locals        []local
	upvaluesSlice []upvalueRef
	scopeDepth    int
	loopStarts    []int
	loopDepths    []int // scopeDepth at the point each active loop began
}

func newCompiler(enclosing *Compiler, p *parserState, kind funcType, name string) *Compiler {
	fn := &value.ObjFunction{Name: name}
	ch := chunk.New(p.fileName)
	fn.Chunk = ch
	c := &Compiler{enclosing: enclosing, p: p, fn: fn, chunk: ch, kind: kind}
	// Slot 0 is reserved for the implicit receiver/function-self slot.
	c.locals = append(c.locals, local{name: "", depth: 0})
	return c
}

// Compile compiles source into a top-level *value.ObjFunction ready for the
// VM to wrap in a closure and call with zero arguments. filename is used
// only for diagnostics and chunk labeling.
func Compile(source, filename string) (*value.ObjFunction, error) {
	p := &parserState{lex: lexer.New(source), fileName: filename}
	c := newCompiler(nil, p, typeScript, "")

	advance(p)
	match(p, token.PROGRAM)
	for !match(p, token.EOF) {
		if check(p, token.END_DECL) {
			advance(p)
			continue
		}
		c.declaration()
	}

	c.emitImplicitReturn()
	fn := c.end()
	if p.hadError {
		return nil, &CompileError{Messages: p.errors}
	}
	return fn, nil
}

// ---- token stream plumbing ----

func advance(p *parserState) {
	p.prevNext = p.previous
	p.previous = p.current
	for {
		p.current = p.lex.NextToken()
		if p.current.Type != token.ERROR {
			return
		}
		errorAtCurrent(p, p.current.Literal)
	}
}

func check(p *parserState, t token.TokenType) bool { return p.current.Type == t }

func match(p *parserState, t token.TokenType) bool {
	if !check(p, t) {
		return false
	}
	advance(p)
	return true
}

func consume(p *parserState, t token.TokenType, msg string) {
	if p.current.Type == t {
		advance(p)
		return
	}
	errorAtCurrent(p, msg)
}

func checkNewLine(p *parserState) bool {
	return p.previous.Line != p.current.Line || p.current.Type == token.EOF
}

func errorAt(p *parserState, tok token.Token, msg string) {
	if p.panicMode {
		return
	}
	p.panicMode = true
	p.hadError = true
	where := ""
	switch tok.Type {
	case token.EOF:
		where = " at end"
	case token.ERROR:
	default:
		where = fmt.Sprintf(" at '%s'", tok.Literal)
	}
	p.errors = append(p.errors, fmt.Sprintf("[line %d] Error%s: %s", tok.Line, where, msg))
}

func errorAtCurrent(p *parserState, msg string) { errorAt(p, p.current, msg) }
func errorAtPrev(p *parserState, msg string)    { errorAt(p, p.previous, msg) }

func (c *Compiler) synchronize() {
	c.p.panicMode = false
	for c.p.current.Type != token.EOF {
		if checkNewLine(c.p) {
			return
		}
		switch c.p.current.Type {
		case token.PROGRAM, token.END_DECL, token.FUNCTION, token.ATOM,
			token.VAR, token.STATE_DECL, token.IF, token.WHILE, token.FOR:
			return
		}
		advance(c.p)
	}
}

// ---- emission helpers ----

func (c *Compiler) emitByte(b byte) {
	c.chunk.Write(b, c.p.previous.Line)
}

func (c *Compiler) emitOp(op chunk.OpCode) {
	c.chunk.WriteOp(op, c.p.previous.Line)
}

func (c *Compiler) emitBytePair(op chunk.OpCode, b byte) {
	c.emitOp(op)
	c.emitByte(b)
}

func (c *Compiler) emitByteLong(op chunk.OpCode, v int) {
	c.emitOp(op)
	c.emitByte(byte(v >> 8))
	c.emitByte(byte(v))
}

func (c *Compiler) emitJump(op chunk.OpCode) int {
	c.emitOp(op)
	c.emitByte(0xff)
	c.emitByte(0xff)
	return len(c.chunk.Code) - 2
}

func (c *Compiler) patchJump(offset int) {
	jump := len(c.chunk.Code) - offset - 2
	if jump > 0xffff {
		errorAtPrev(c.p, "Jump target too large.")
	}
	c.chunk.Code[offset] = byte(jump >> 8)
	c.chunk.Code[offset+1] = byte(jump)
}

func (c *Compiler) emitLoop(loopStart int) {
	c.emitOp(chunk.OP_LOOP)
	offset := len(c.chunk.Code) - loopStart + 2
	if offset > 0xffff {
		errorAtPrev(c.p, "Loop body too large.")
	}
	c.emitByte(byte(offset >> 8))
	c.emitByte(byte(offset))
}

func (c *Compiler) makeConstant(v value.Value) int {
	return c.chunk.AddConstant(v)
}

func (c *Compiler) emitConstant(v value.Value) {
	idx := c.makeConstant(v)
	if idx > 0xff {
		c.emitByteLong(chunk.OP_CONSTANT_16, idx)
	} else {
		c.emitBytePair(chunk.OP_CONSTANT, byte(idx))
	}
}

func (c *Compiler) emitCustomConstant(v value.Value, op, op16 chunk.OpCode) {
	idx := c.makeConstant(v)
	if idx > 0xff {
		c.emitByteLong(op16, idx)
	} else {
		c.emitBytePair(op, byte(idx))
	}
}

func (c *Compiler) emitVariableLength(idx int, op, op16 chunk.OpCode) {
	if idx > 0xff {
		c.emitByteLong(op16, idx)
	} else {
		c.emitBytePair(op, byte(idx))
	}
}

func (c *Compiler) identifierConstant(name string) int {
	return c.makeConstant(internString(name))
}

// internString builds a constant-pool string value. It is not the VM's
// interned runtime copy (the collector owns interning); the compiler only
// needs a stable Chars/Hash pair for OP_*_GLOBAL operands and identifier
// keys, which the VM re-resolves through its own string table on load.
func internString(s string) value.Value {
	return value.NewObject(&value.ObjString{Chars: s, Hash: value.HashString(s)})
}

// ---- locals / upvalues / scopes ----

func (c *Compiler) addLocal(name string) {
	if len(c.locals) >= maxLocals {
		errorAtPrev(c.p, "Too many local variables in function.")
		return
	}
	c.locals = append(c.locals, local{name: name, depth: -1})
}

func (c *Compiler) resolveLocal(name string) int {
	for i := len(c.locals) - 1; i >= 0; i-- {
		if c.locals[i].name == name {
			if c.locals[i].depth == -1 {
				errorAtPrev(c.p, "Can't read local variable in its own initializer.")
			}
			return i
		}
	}
	return -1
}

func (c *Compiler) addUpvalue(index byte, isLocal bool) int {
	for i, uv := range c.upvaluesSlice {
		if uv.index == index && uv.isLocal == isLocal {
			return i
		}
	}
	c.upvaluesSlice = append(c.upvaluesSlice, upvalueRef{index: index, isLocal: isLocal})
	c.fn.UpvalueCount = len(c.upvaluesSlice)
	return len(c.upvaluesSlice) - 1
}

func (c *Compiler) resolveUpvalue(name string) int {
	if c.enclosing == nil {
		return -1
	}
	if l := c.enclosing.resolveLocal(name); l != -1 {
		c.enclosing.locals[l].isCaptured = true
		return c.addUpvalue(byte(l), true)
	}
	if u := c.enclosing.resolveUpvalue(name); u != -1 {
		return c.addUpvalue(byte(u), false)
	}
	return -1
}

func (c *Compiler) declareVariable() {
	if c.scopeDepth == 0 {
		return
	}
	name := c.p.previous.Literal
	for i := len(c.locals) - 1; i >= 0; i-- {
		if c.locals[i].depth != -1 && c.locals[i].depth < c.scopeDepth {
			break
		}
		if c.locals[i].name == name {
			errorAtPrev(c.p, "Already a variable with this name in this scope.")
		}
	}
	c.addLocal(name)
}

func (c *Compiler) parseVariable(errMsg string) int {
	consume(c.p, token.IDENTIFIER, errMsg)
	c.declareVariable()
	if c.scopeDepth > 0 {
		return 0
	}
	return c.identifierConstant(c.p.previous.Literal)
}

func (c *Compiler) markInitialized() {
	if c.scopeDepth == 0 {
		return
	}
	c.locals[len(c.locals)-1].depth = c.scopeDepth
}

func (c *Compiler) defineVariable(global int) {
	if c.scopeDepth > 0 {
		c.markInitialized()
		return
	}
	c.emitVariableLength(global, chunk.OP_DEFINE_GLOBAL, chunk.OP_DEFINE_GLOBAL_16)
}

func (c *Compiler) beginScope() { c.scopeDepth++ }

func (c *Compiler) endScope() {
	c.scopeDepth--
	for len(c.locals) > 0 && c.locals[len(c.locals)-1].depth > c.scopeDepth {
		if c.locals[len(c.locals)-1].isCaptured {
			c.emitOp(chunk.OP_CLOSE_UPVALUE)
		} else {
			c.emitOp(chunk.OP_POP)
		}
		c.locals = c.locals[:len(c.locals)-1]
	}
}

// popLocalsSince emits the pop/close sequence for every local declared at a
// scope depth deeper than target, without removing them from the
// compiler's local list. continueStatement uses this to avoid leaking
// loop-body-local stack slots across the back-edge, fixing a gap left open
// in the original implementation.
func (c *Compiler) popLocalsSince(target int) {
	for i := len(c.locals) - 1; i >= 0 && c.locals[i].depth > target; i-- {
		if c.locals[i].isCaptured {
			c.emitOp(chunk.OP_CLOSE_UPVALUE)
		} else {
			c.emitOp(chunk.OP_POP)
		}
	}
}

// ---- statements ----

func (c *Compiler) declaration() {
	switch {
	case match(c.p, token.FUNCTION):
		c.functionDeclaration()
	case match(c.p, token.VAR):
		c.varDeclaration()
	default:
		c.statement()
	}
	if c.p.panicMode {
		c.synchronize()
	}
}

func (c *Compiler) statement() {
	switch {
	case match(c.p, token.LEFT_BRACE):
		c.beginScope()
		c.block()
		c.endScope()
	case match(c.p, token.IF):
		c.ifStatement()
	case match(c.p, token.WHILE):
		c.whileStatement()
	case match(c.p, token.EACH):
		c.eachStatement()
	case match(c.p, token.CONTINUE):
		c.continueStatement()
	case match(c.p, token.CONSIDER):
		c.considerStatement()
	case match(c.p, token.SWITCH):
		c.switchStatement()
	default:
		c.expressionStatement()
	}
}

func (c *Compiler) checkEndStatement() {
	if checkNewLine(c.p) {
		return
	}
	if match(c.p, token.SEMICOLON) {
		return
	}
	if check(c.p, token.COMMA) || check(c.p, token.RIGHT_PAREN) ||
		check(c.p, token.END_DECL) || check(c.p, token.RIGHT_BRACE) {
		return
	}
	errorAtCurrent(c.p, "Expected end of expression.")
}

func (c *Compiler) expressionStatement() {
	c.expression()
	c.checkEndStatement()
	c.emitOp(chunk.OP_POP)
}

func (c *Compiler) block() {
	for !check(c.p, token.RIGHT_BRACE) && !check(c.p, token.EOF) {
		c.declaration()
	}
	consume(c.p, token.RIGHT_BRACE, "Expect '}' after block.")
}

func (c *Compiler) varDeclaration() {
	global := c.parseVariable("Expect variable name.")
	if match(c.p, token.ASSIGN) {
		c.expression()
	} else {
		c.emitOp(chunk.OP_NIL)
	}
	c.checkEndStatement()
	c.defineVariable(global)
}

// ifStatement implements both the two-arm form (true/unknown branches taken
// implicitly after the condition, separated by commas) and the ternary
// keyword form, distinguished by whether a literal true:/unknown:/false:
// keyword immediately follows 'do'.
func (c *Compiler) ifStatement() {
	c.expression()
	consume(c.p, token.DO, "Expect 'do' after condition.")

	if c.p.current.Type == token.TRUE_LIT || c.p.current.Type == token.UNKNOWN_LIT || c.p.current.Type == token.FALSE_LIT {
		c.ternaryIfArms()
		return
	}

	unknownJump := c.emitJump(chunk.OP_JUMP_IF_UNKNOWN)
	falseJump := c.emitJump(chunk.OP_JUMP_IF_FALSE)

	c.emitOp(chunk.OP_POP)
	c.statement()
	endTrue := c.emitJump(chunk.OP_JUMP)

	c.patchJump(unknownJump)
	c.emitOp(chunk.OP_POP)
	if match(c.p, token.COMMA) {
		if !check(c.p, token.COMMA) {
			c.statement()
		}
	}
	endUnknown := c.emitJump(chunk.OP_JUMP)

	c.patchJump(falseJump)
	c.emitOp(chunk.OP_POP)
	if match(c.p, token.COMMA) {
		c.statement()
	}

	c.patchJump(endTrue)
	c.patchJump(endUnknown)
}

func (c *Compiler) ternaryIfArms() {
	trueJump := c.emitJump(chunk.OP_JUMP_IF_TRUE)
	unknownJump := c.emitJump(chunk.OP_JUMP_IF_UNKNOWN)
	falseJump := c.emitJump(chunk.OP_JUMP_IF_FALSE)

	var endTrue, endUnknown, endFalse int

	for i := 0; i < 3; i++ {
		switch c.p.current.Type {
		case token.TRUE_LIT:
			advance(c.p)
			consume(c.p, token.COLON, "Expected ':' after logical block opener.")
			c.patchJump(trueJump)
			c.emitOp(chunk.OP_POP)
			c.bodyUntilEnd()
			endTrue = c.emitJump(chunk.OP_JUMP)
		case token.UNKNOWN_LIT:
			advance(c.p)
			consume(c.p, token.COLON, "Expected ':' after logical block opener.")
			c.patchJump(unknownJump)
			c.emitOp(chunk.OP_POP)
			c.bodyUntilEnd()
			endUnknown = c.emitJump(chunk.OP_JUMP)
		case token.FALSE_LIT:
			advance(c.p)
			consume(c.p, token.COLON, "Expected ':' after logical block opener.")
			c.patchJump(falseJump)
			c.emitOp(chunk.OP_POP)
			c.bodyUntilEnd()
			endFalse = c.emitJump(chunk.OP_JUMP)
		default:
			i = 3
		}
	}

	if endTrue != 0 {
		c.patchJump(endTrue)
	} else {
		c.patchJump(trueJump)
	}
	if endUnknown != 0 {
		c.patchJump(endUnknown)
	} else {
		c.patchJump(unknownJump)
	}
	if endFalse != 0 {
		c.patchJump(endFalse)
	} else {
		c.patchJump(falseJump)
	}
}

func (c *Compiler) pushLoop(start int) {
	c.loopStarts = append(c.loopStarts, start)
	c.loopDepths = append(c.loopDepths, c.scopeDepth)
}

func (c *Compiler) popLoop() {
	c.loopStarts = c.loopStarts[:len(c.loopStarts)-1]
	c.loopDepths = c.loopDepths[:len(c.loopDepths)-1]
}

func (c *Compiler) whileStatement() {
	if len(c.loopStarts) >= maxLoopNesting {
		errorAtCurrent(c.p, "Too many nested loops.")
	}
	loopStart := len(c.chunk.Code)
	c.pushLoop(loopStart)

	c.expression()
	consume(c.p, token.DO, "Expect 'do' after condition.")

	exitJump := c.emitJump(chunk.OP_JUMP_IF_FALSE)
	unknownJump := c.emitJump(chunk.OP_JUMP_IF_UNKNOWN)
	c.emitOp(chunk.OP_POP)

	c.declaration()
	c.emitLoop(loopStart)

	c.patchJump(unknownJump)
	if match(c.p, token.COMMA) {
		c.declaration()
	}

	c.patchJump(exitJump)
	c.emitOp(chunk.OP_POP)
	c.popLoop()
}

func (c *Compiler) eachStatement() {
	c.beginScope()

	consume(c.p, token.IDENTIFIER, "Expect loop variable name after 'each'.")
	loopVarName := c.p.previous.Literal

	c.addLocal(loopCounterName)
	c.markInitialized()
	c.addLocal(loopVarName)
	c.markInitialized()
	loopCounter := c.resolveLocal(loopCounterName)
	loopVar := c.resolveLocal(loopVarName)

	c.emitOp(chunk.OP_PUSH_1)
	c.emitOp(chunk.OP_PUSH_1)

	consume(c.p, token.IN, "Expect 'in' after loop variable.")
	c.expression()
	consume(c.p, token.DO, "Expect 'do' after loop expression.")

	loopStart := len(c.chunk.Code)
	c.pushLoop(loopStart)

	c.emitOp(chunk.OP_GET_ARRAY_COUNT)
	c.emitBytePair(chunk.OP_GET_LOCAL, byte(loopCounter))
	c.emitOp(chunk.OP_KP_GT_EQUAL)

	exitJump := c.emitJump(chunk.OP_JUMP_IF_FALSE)
	c.emitOp(chunk.OP_POP)

	c.emitBytePair(chunk.OP_GET_LOCAL, byte(loopCounter))
	c.emitOp(chunk.OP_GET_ARRAY_LOOP)
	c.emitBytePair(chunk.OP_SET_LOCAL, byte(loopVar))
	c.emitOp(chunk.OP_POP)

	c.declaration()

	c.emitOp(chunk.OP_PUSH_1)
	c.emitBytePair(chunk.OP_GET_LOCAL, byte(loopCounter))
	c.emitOp(chunk.OP_ADD)
	c.emitBytePair(chunk.OP_SET_LOCAL, byte(loopCounter))
	c.emitOp(chunk.OP_POP)

	c.emitLoop(loopStart)

	c.patchJump(exitJump)
	c.emitOp(chunk.OP_POP)
	c.emitOp(chunk.OP_POP) // array + comparison result

	c.popLoop()
	c.endScope()
}

func (c *Compiler) continueStatement() {
	if len(c.loopStarts) < 1 {
		errorAtCurrent(c.p, "Tried to use 'continue' outside of a loop.")
		return
	}

	loopDepth := c.loopDepths[len(c.loopDepths)-1]
	c.popLocalsSince(loopDepth)

	if counter := c.resolveLocal(loopCounterName); counter != -1 {
		c.emitBytePair(chunk.OP_GET_LOCAL, byte(counter))
		c.emitOp(chunk.OP_PUSH_1)
		c.emitOp(chunk.OP_ADD)
		c.emitBytePair(chunk.OP_SET_LOCAL, byte(counter))
		c.emitOp(chunk.OP_POP)
	}

	loopStart := c.loopStarts[len(c.loopStarts)-1]
	jump := len(c.chunk.Code) - loopStart + 3
	if jump > 0xffff {
		errorAtCurrent(c.p, "Loop body too large.")
	}
	c.emitOp(chunk.OP_LOOP)
	c.emitByte(byte(jump >> 8))
	c.emitByte(byte(jump))
}

func (c *Compiler) considerStatement() {
	var endJumps []int
	for match(c.p, token.WHEN) {
		c.expression()
		consume(c.p, token.DO, "Expect 'do' after when condition.")
		falseJump := c.emitJump(chunk.OP_JUMP_IF_NOT_TRUE)
		c.emitOp(chunk.OP_POP)
		c.statement()
		endJumps = append(endJumps, c.emitJump(chunk.OP_JUMP))
		c.patchJump(falseJump)
		c.emitOp(chunk.OP_POP)
	}

	if match(c.p, token.ELSE) {
		consume(c.p, token.DO, "Expect 'do' after else.")
		c.statement()
	}

	for _, j := range endJumps {
		c.patchJump(j)
	}
}

func (c *Compiler) switchStatement() {
	c.expression()
	consume(c.p, token.DO, "Expect 'do' after switch input.")

	jumpTable := htable.New()
	tableIdx := c.chunk.AddJumpTable(jumpTable)
	if tableIdx > 0xff {
		errorAtCurrent(c.p, "Too many switch statements in function.")
	}
	c.emitBytePair(chunk.OP_JUMP_TABLE_JUMP, byte(tableIdx))

	switchStart := len(c.chunk.Code)
	var endJumps []int

	for match(c.p, token.CASE) {
		consume(c.p, token.STRING, "Expect string for case condition.")
		label := c.p.previous.Literal
		label = label[1 : len(label)-1]
		keyStr := &value.ObjString{Chars: label, Hash: value.HashString(label)}
		isNew := jumpTable.Set(keyStr, value.NewNumber(float64(len(c.chunk.Code)-switchStart)))
		if !isNew {
			errorAtCurrent(c.p, "Duplicate case condition inside switch statement.")
		}
		consume(c.p, token.DO, "Expect 'do' after case condition.")
		c.emitOp(chunk.OP_POP)
		c.statement()
		endJumps = append(endJumps, c.emitJump(chunk.OP_JUMP))
	}
	if len(endJumps) == 0 {
		errorAtCurrent(c.p, "No cases inside switch statement.")
	}

	defaultKey := &value.ObjString{Chars: internalDefault, Hash: value.HashString(internalDefault)}
	if match(c.p, token.DEFAULT) {
		consume(c.p, token.DO, "Expect 'do' after default case.")
		jumpTable.Set(defaultKey, value.NewNumber(float64(len(c.chunk.Code)-switchStart)))
		c.emitOp(chunk.OP_POP)
		c.statement()
	} else {
		jumpTable.Set(defaultKey, value.NewNumber(float64(len(c.chunk.Code)-switchStart)))
	}

	for _, j := range endJumps {
		c.patchJump(j)
	}
}

// ---- expressions ----

func (c *Compiler) expression() {
	c.parsePrecedence(precAssignment)
}

func (c *Compiler) parsePrecedence(prec precedence) {
	advance(c.p)
	prefix := getRule(c.p.previous.Type).prefix
	if prefix == nil {
		errorAtPrev(c.p, "Expect expression.")
		return
	}

	canAssign := prec <= precAssignment
	prefix(c, canAssign)

	for prec <= getRule(c.p.current.Type).precedence {
		advance(c.p)
		infix := getRule(c.p.previous.Type).infix
		infix(c, canAssign)
	}

	if canAssign && match(c.p, token.ASSIGN) {
		errorAtPrev(c.p, "Invalid assignment target.")
	}
}

func (c *Compiler) grouping(canAssign bool) {
	c.expression()
	consume(c.p, token.RIGHT_PAREN, "Expect ')' after expression.")
}

func (c *Compiler) nilLit(canAssign bool) { c.emitOp(chunk.OP_NIL) }

func (c *Compiler) logicLit(canAssign bool) {
	switch c.p.previous.Type {
	case token.FALSE_LIT:
		c.emitOp(chunk.OP_FALSE)
	case token.UNKNOWN_LIT:
		c.emitOp(chunk.OP_UNKNOWN)
	case token.TRUE_LIT:
		c.emitOp(chunk.OP_TRUE)
	}
}

func (c *Compiler) number(canAssign bool) {
	var v float64
	fmt.Sscanf(c.p.previous.Literal, "%g", &v)
	if v == 1.0 {
		c.emitOp(chunk.OP_PUSH_1)
	} else {
		c.emitConstant(value.NewNumber(v))
	}
}

func (c *Compiler) stringLit(canAssign bool) {
	lit := c.p.previous.Literal
	c.emitConstant(internString(lit[1 : len(lit)-1]))
}

func (c *Compiler) namedVariable(name string, canAssign bool) {
	var getOp, setOp chunk.OpCode
	arg := c.resolveLocal(name)
	if arg != -1 {
		getOp, setOp = chunk.OP_GET_LOCAL, chunk.OP_SET_LOCAL
	} else if arg = c.resolveUpvalue(name); arg != -1 {
		getOp, setOp = chunk.OP_GET_UPVALUE, chunk.OP_SET_UPVALUE
	} else {
		arg = c.identifierConstant(name)
		if arg > 0xff {
			getOp, setOp = chunk.OP_GET_GLOBAL_16, chunk.OP_SET_GLOBAL_16
		} else {
			getOp, setOp = chunk.OP_GET_GLOBAL, chunk.OP_SET_GLOBAL
		}
	}

	if canAssign && match(c.p, token.ASSIGN) {
		c.expression()
		c.emitVariableLength(arg, setOp, setOp)
	} else {
		c.emitVariableLength(arg, getOp, getOp)
	}
}

func (c *Compiler) variable(canAssign bool) {
	c.namedVariable(c.p.previous.Literal, canAssign)
}

func (c *Compiler) unary(canAssign bool) {
	opType := c.p.previous.Type
	c.parsePrecedence(precUnary)
	switch opType {
	case token.MINUS:
		c.emitOp(chunk.OP_NEGATE)
	case token.NOT:
		c.emitOp(chunk.OP_KP_NOT)
	}
}

// binary parses the RHS at precedence+1 for every operator except the
// right-associative exponential operator, which parses its RHS at the
// *same* precedence so that `2 ^ 3 ^ 2` groups as `2 ^ (3 ^ 2)`. The
// grounded C scanner/compiler applies precedence+1 uniformly, which makes
// '^' left-associative there; trilox's grammar calls for right-associative
// exponentiation, so this is a deliberate deviation.
func (c *Compiler) binary(canAssign bool) {
	opType := c.p.previous.Type
	rule := getRule(opType)
	if opType == token.EXPONENTIAL {
		c.parsePrecedence(rule.precedence)
	} else {
		c.parsePrecedence(rule.precedence + 1)
	}

	switch opType {
	case token.PLUS:
		c.emitOp(chunk.OP_ADD)
	case token.MINUS:
		c.emitOp(chunk.OP_SUBTRACT)
	case token.TIMES:
		c.emitOp(chunk.OP_MULTIPLY)
	case token.DIVIDE:
		c.emitOp(chunk.OP_DIVIDE)
	case token.MODULO:
		c.emitOp(chunk.OP_MODULO)
	case token.EXPONENTIAL:
		c.emitOp(chunk.OP_EXPONENTIAL)
	case token.COMPARE:
		c.emitOp(chunk.OP_COMPARE)
	case token.LESS_THAN:
		c.emitOp(chunk.OP_KP_LESS_THAN)
	case token.LT_EQUAL:
		c.emitOp(chunk.OP_KP_LT_EQUAL)
	case token.GREAT_THAN:
		c.emitOp(chunk.OP_KP_GREAT_THAN)
	case token.GT_EQUAL:
		c.emitOp(chunk.OP_KP_GT_EQUAL)
	case token.EQUAL:
		c.emitOp(chunk.OP_KP_EQUAL)
	case token.NOT_EQUAL:
		c.emitOp(chunk.OP_KP_NOT_EQUAL)
	case token.AND:
		c.emitOp(chunk.OP_KP_AND)
	case token.OR:
		c.emitOp(chunk.OP_KP_OR)
	case token.XOR:
		c.emitOp(chunk.OP_KP_XOR)
	}
}

func (c *Compiler) argumentList() byte {
	var argCount byte
	if !check(c.p, token.RIGHT_PAREN) {
		for {
			c.expression()
			argCount++
			if !match(c.p, token.COMMA) {
				break
			}
		}
	}
	consume(c.p, token.RIGHT_PAREN, "Expect ')' after arguments.")
	return argCount
}

func (c *Compiler) call(canAssign bool) {
	argCount := c.argumentList()
	c.emitBytePair(chunk.OP_CALL, argCount)
}

func (c *Compiler) array(canAssign bool) {
	c.emitConstant(value.NewObject(&value.ObjArray{}))
	var count int
	for !check(c.p, token.RIGHT_SQUARE) && !check(c.p, token.EOF) {
		c.expression()
		match(c.p, token.COMMA)
		count++
		if count > 0xff {
			errorAtCurrent(c.p, "Arrays must be less than 256 items.")
		}
	}
	consume(c.p, token.RIGHT_SQUARE, "Expect ']' at end of array literal.")
	c.emitBytePair(chunk.OP_COLLECT, byte(count))
}

func (c *Compiler) accessArray(canAssign bool) {
	if c.p.prevNext.Type == token.RIGHT_SQUARE {
		errorAtCurrent(c.p, "Tried to access an array while declaring it.")
	}
	c.expression()
	consume(c.p, token.RIGHT_SQUARE, "Expect ']' after array index.")

	if canAssign && match(c.p, token.ASSIGN) {
		c.expression()
		c.emitOp(chunk.OP_SET_ARRAY)
		c.checkEndStatement()
	} else {
		c.emitOp(chunk.OP_GET_ARRAY)
	}
}

func (c *Compiler) hashTable(canAssign bool) {
	c.emitConstant(value.NewObject(&value.ObjTable{Table: htable.New()}))
	for !check(c.p, token.RIGHT_SQUARE) && !check(c.p, token.EOF) {
		consume(c.p, token.IDENTIFIER, "Expect identifier before ':' in table literal.")
		ident := c.identifierConstant(c.p.previous.Literal)
		consume(c.p, token.COLON, "Expect ':' after identifier in table literal.")
		c.expression()
		if !check(c.p, token.RIGHT_SQUARE) {
			consume(c.p, token.COMMA, "Expect ',' between table entries.")
		}
		c.emitVariableLength(ident, chunk.OP_TABLE_SET, chunk.OP_TABLE_SET_16)
	}
	consume(c.p, token.RIGHT_SQUARE, "Expect ']' after table literal.")
}

func (c *Compiler) tableCalcAccess(canAssign bool) {
	if c.p.prevNext.Type == token.RIGHT_SQUARE {
		errorAtCurrent(c.p, "Tried to access a table while declaring it.")
	}
	c.expression()
	consume(c.p, token.RIGHT_SQUARE, "Expect ']' after table access.")

	if canAssign && match(c.p, token.ASSIGN) {
		c.expression()
		c.emitOp(chunk.OP_TABLE_CLC_SET)
		c.checkEndStatement()
	} else {
		c.emitOp(chunk.OP_TABLE_CLC_GET)
	}
}

// ---- functions / atoms ----

// emitImplicitReturn emits the fall-through `nil` return every body gets
// when nothing more specific was emitted first.
func (c *Compiler) emitImplicitReturn() {
	c.emitOp(chunk.OP_NIL)
	c.emitOp(chunk.OP_RETURN)
}

// end finalizes the function being compiled. It does not emit a return
// itself — every caller (the top-level script, function, atom) emits
// whichever return its own body requires first.
func (c *Compiler) end() *value.ObjFunction {
	c.fn.Arity = c.arity
	return c.fn
}

func (c *Compiler) emitClosure(fn *value.ObjFunction, upvalues []upvalueRef) {
	c.emitCustomConstant(value.NewObject(fn), chunk.OP_CLOSURE, chunk.OP_CLOSURE_16)
	for _, uv := range upvalues {
		if uv.isLocal {
			c.emitByte(1)
		} else {
			c.emitByte(0)
		}
		c.emitByte(uv.index)
	}
}

// function compiles a nested function body: `function name(params) ... end`.
// The name token has already been consumed by the caller.
func (c *Compiler) function(kind funcType) {
	sub := newCompiler(c, c.p, kind, c.p.previous.Literal)
	sub.beginScope()

	consume(c.p, token.LEFT_PAREN, "Expect '(' after function name.")
	if !check(c.p, token.RIGHT_PAREN) {
		for {
			sub.arity++
			if sub.arity > 255 {
				errorAtCurrent(c.p, "Too many parameters.")
			}
			param := sub.parseVariable("Expect parameter name.")
			sub.defineVariable(param)
			if !match(c.p, token.COMMA) {
				break
			}
		}
	}
	consume(c.p, token.RIGHT_PAREN, "Expect ')' after parameters.")

	sub.bodyUntilEnd()

	// A plain function is nil-returning by default, but an optional
	// trailing `(expr)` right after the closing `end` lets it return a
	// computed value too, matching original_source/source/compiler.c's
	// function(): `if (match(LEFT_PAREN)) { expression(); ...; OP_RETURN }
	// else emitReturn()`.
	if match(c.p, token.LEFT_PAREN) {
		sub.expression()
		consume(c.p, token.RIGHT_PAREN, "Expect ')' after return expression.")
		sub.emitOp(chunk.OP_RETURN)
	} else {
		sub.emitImplicitReturn()
	}

	fn := sub.end()
	c.emitClosure(fn, sub.upvaluesSlice)
}

// bodyUntilEnd compiles statements until a terminating 'end' keyword, the
// body-terminator used by function/atom declarations (distinct from the
// '}' terminator used by plain blocks).
func (c *Compiler) bodyUntilEnd() {
	for !check(c.p, token.END_DECL) && !check(c.p, token.EOF) {
		c.declaration()
	}
	consume(c.p, token.END_DECL, "Expect 'end' after function body.")
}

func (c *Compiler) functionDeclaration() {
	consume(c.p, token.IDENTIFIER, "Expect function name.")
	global := 0
	if c.scopeDepth == 0 {
		global = c.identifierConstant(c.p.previous.Literal)
	} else {
		c.declareVariable()
	}
	c.markInitialized()
	c.function(typeFunction)
	c.defineVariable(global)
}

// atom compiles the function-literal shorthand `atom(params) (expr)`,
// sugar over a plain function whose body is a single returned expression.
// Restored from the feature set the distilled grammar otherwise drops.
func (c *Compiler) atom(canAssign bool) {
	sub := newCompiler(c, c.p, typeFunction, "")
	sub.beginScope()

	consume(c.p, token.LEFT_PAREN, "Expect '(' after atom.")
	if !check(c.p, token.RIGHT_PAREN) {
		for {
			sub.arity++
			param := sub.parseVariable("Expect parameter name.")
			sub.defineVariable(param)
			if !match(c.p, token.COMMA) {
				break
			}
		}
	}
	consume(c.p, token.RIGHT_PAREN, "Expect ')' after atom parameters.")

	consume(c.p, token.LEFT_PAREN, "Expect '(' in atom body.")
	sub.expression()
	consume(c.p, token.RIGHT_PAREN, "Expect ')' in atom body.")
	sub.emitOp(chunk.OP_RETURN)

	fn := sub.end()
	c.emitClosure(fn, sub.upvaluesSlice)
}
