// Package chunk implements the compiled-code container: a flat byte-code
// stream, the constant pool it indexes into, a parallel line table for
// error reporting, and the jump-table array used by switch statements.
package chunk

import (
	"fmt"

	"trilox/internal/value"
)

type OpCode byte

const (
	OP_NIL OpCode = iota
	OP_CONSTANT
	OP_CONSTANT_16
	OP_PUSH_1
	OP_COLLECT
	OP_TABLE_SET
	OP_TABLE_SET_16
	OP_POP
	OP_FALSE
	OP_UNKNOWN
	OP_TRUE
	OP_NEGATE
	OP_KP_NOT
	OP_KP_AND
	OP_KP_OR
	OP_KP_XOR
	OP_COMPARE
	OP_KP_LESS_THAN
	OP_KP_LT_EQUAL
	OP_KP_GREAT_THAN
	OP_KP_GT_EQUAL
	OP_KP_EQUAL
	OP_KP_NOT_EQUAL
	OP_ADD
	OP_SUBTRACT
	OP_MULTIPLY
	OP_DIVIDE
	OP_MODULO
	OP_EXPONENTIAL
	OP_DEFINE_GLOBAL
	OP_DEFINE_GLOBAL_16
	OP_SET_GLOBAL
	OP_GET_GLOBAL
	OP_SET_GLOBAL_16
	OP_GET_GLOBAL_16
	OP_SET_LOCAL
	OP_GET_LOCAL
	OP_SET_UPVALUE
	OP_GET_UPVALUE
	OP_CLOSE_UPVALUE
	OP_SET_ARRAY
	OP_GET_ARRAY
	OP_GET_ARRAY_LOOP
	OP_GET_ARRAY_COUNT
	OP_TABLE_CLC_SET
	OP_TABLE_CLC_GET
	OP_JUMP
	OP_JUMP_IF_FALSE
	OP_JUMP_IF_UNKNOWN
	OP_JUMP_IF_TRUE
	OP_JUMP_IF_NOT_TRUE
	OP_JUMP_TABLE_JUMP
	OP_LOOP
	OP_CALL
	OP_CLOSURE
	OP_CLOSURE_16
	OP_RETURN
)

var opNames = map[OpCode]string{
	OP_NIL:               "OP_NIL",
	OP_CONSTANT:          "OP_CONSTANT",
	OP_CONSTANT_16:       "OP_CONSTANT_16",
	OP_PUSH_1:            "OP_PUSH_1",
	OP_COLLECT:           "OP_COLLECT",
	OP_TABLE_SET:         "OP_TABLE_SET",
	OP_TABLE_SET_16:      "OP_TABLE_SET_16",
	OP_POP:               "OP_POP",
	OP_FALSE:             "OP_FALSE",
	OP_UNKNOWN:           "OP_UNKNOWN",
	OP_TRUE:              "OP_TRUE",
	OP_NEGATE:            "OP_NEGATE",
	OP_KP_NOT:            "OP_KP_NOT",
	OP_KP_AND:            "OP_KP_AND",
	OP_KP_OR:             "OP_KP_OR",
	OP_KP_XOR:            "OP_KP_XOR",
	OP_COMPARE:           "OP_COMPARE",
	OP_KP_LESS_THAN:      "OP_KP_LESS_THAN",
	OP_KP_LT_EQUAL:       "OP_KP_LT_EQUAL",
	OP_KP_GREAT_THAN:     "OP_KP_GREAT_THAN",
	OP_KP_GT_EQUAL:       "OP_KP_GT_EQUAL",
	OP_KP_EQUAL:          "OP_KP_EQUAL",
	OP_KP_NOT_EQUAL:      "OP_KP_NOT_EQUAL",
	OP_ADD:               "OP_ADD",
	OP_SUBTRACT:          "OP_SUBTRACT",
	OP_MULTIPLY:          "OP_MULTIPLY",
	OP_DIVIDE:            "OP_DIVIDE",
	OP_MODULO:            "OP_MODULO",
	OP_EXPONENTIAL:       "OP_EXPONENTIAL",
	OP_DEFINE_GLOBAL:     "OP_DEFINE_GLOBAL",
	OP_DEFINE_GLOBAL_16:  "OP_DEFINE_GLOBAL_16",
	OP_SET_GLOBAL:        "OP_SET_GLOBAL",
	OP_GET_GLOBAL:        "OP_GET_GLOBAL",
	OP_SET_GLOBAL_16:     "OP_SET_GLOBAL_16",
	OP_GET_GLOBAL_16:     "OP_GET_GLOBAL_16",
	OP_SET_LOCAL:         "OP_SET_LOCAL",
	OP_GET_LOCAL:         "OP_GET_LOCAL",
	OP_SET_UPVALUE:       "OP_SET_UPVALUE",
	OP_GET_UPVALUE:       "OP_GET_UPVALUE",
	OP_CLOSE_UPVALUE:     "OP_CLOSE_UPVALUE",
	OP_SET_ARRAY:         "OP_SET_ARRAY",
	OP_GET_ARRAY:         "OP_GET_ARRAY",
	OP_GET_ARRAY_LOOP:    "OP_GET_ARRAY_LOOP",
	OP_GET_ARRAY_COUNT:   "OP_GET_ARRAY_COUNT",
	OP_TABLE_CLC_SET:     "OP_TABLE_CLC_SET",
	OP_TABLE_CLC_GET:     "OP_TABLE_CLC_GET",
	OP_JUMP:              "OP_JUMP",
	OP_JUMP_IF_FALSE:     "OP_JUMP_IF_FALSE",
	OP_JUMP_IF_UNKNOWN:   "OP_JUMP_IF_UNKNOWN",
	OP_JUMP_IF_TRUE:      "OP_JUMP_IF_TRUE",
	OP_JUMP_IF_NOT_TRUE:  "OP_JUMP_IF_NOT_TRUE",
	OP_JUMP_TABLE_JUMP:   "OP_JUMP_TABLE_JUMP",
	OP_LOOP:              "OP_LOOP",
	OP_CALL:              "OP_CALL",
	OP_CLOSURE:           "OP_CLOSURE",
	OP_CLOSURE_16:        "OP_CLOSURE_16",
	OP_RETURN:            "OP_RETURN",
}

func (op OpCode) String() string {
	if s, ok := opNames[op]; ok {
		return s
	}
	return fmt.Sprintf("OP_UNKNOWN(%d)", byte(op))
}

// Chunk is the compiled-code container owned by a *value.ObjFunction.
type Chunk struct {
	Code       []byte
	Constants  []value.Value
	Lines      []int
	FileName   string
	JumpTables []value.StringTable
}

func New(fileName string) *Chunk {
	return &Chunk{FileName: fileName}
}

func (c *Chunk) Write(b byte, line int) {
	c.Code = append(c.Code, b)
	c.Lines = append(c.Lines, line)
}

func (c *Chunk) WriteOp(op OpCode, line int) {
	c.Write(byte(op), line)
}

// GetConstants implements value.ChunkConstants so the GC can trace a
// function's constant pool without importing this package back.
func (c *Chunk) GetConstants() []value.Value {
	return c.Constants
}

// AddConstant appends v to the constant pool and returns its index.
func (c *Chunk) AddConstant(v value.Value) int {
	c.Constants = append(c.Constants, v)
	return len(c.Constants) - 1
}

// AddJumpTable allocates a fresh jump table (used by switch statements) and
// returns its index in JumpTables.
func (c *Chunk) AddJumpTable(t value.StringTable) int {
	c.JumpTables = append(c.JumpTables, t)
	return len(c.JumpTables) - 1
}

func (c *Chunk) GetJumpTable(n int) value.StringTable {
	return c.JumpTables[n]
}

// DisassembleAll prints every instruction in the chunk, prefixed by name.
// The exact output format is intentionally left unspecified by the core
// spec; this implementation exists so cmd/trilox's -disassembly flag has
// something to drive.
func (c *Chunk) DisassembleAll(name string) {
	fmt.Printf("== %s ==\n", name)
	offset := 0
	for offset < len(c.Code) {
		offset = c.DisassembleInstruction(offset)
	}
}

// NextOffset returns the offset of the instruction following the one at
// offset, without printing anything. Used by callers (the compiler tests)
// that need to walk the instruction stream quietly.
func (c *Chunk) NextOffset(offset int) int {
	op := OpCode(c.Code[offset])
	switch op {
	case OP_CLOSURE:
		idx := c.Code[offset+1]
		return offset + 2 + c.closureUpvalueBytes(int(idx))
	case OP_CLOSURE_16:
		idx := int(c.Code[offset+1])<<8 | int(c.Code[offset+2])
		return offset + 3 + c.closureUpvalueBytes(idx)
	case OP_CONSTANT, OP_DEFINE_GLOBAL, OP_SET_GLOBAL, OP_GET_GLOBAL,
		OP_SET_LOCAL, OP_GET_LOCAL, OP_SET_UPVALUE, OP_GET_UPVALUE, OP_CALL,
		OP_COLLECT, OP_TABLE_SET, OP_JUMP_TABLE_JUMP:
		return offset + 2
	case OP_CONSTANT_16, OP_DEFINE_GLOBAL_16, OP_SET_GLOBAL_16, OP_GET_GLOBAL_16,
		OP_TABLE_SET_16:
		return offset + 3
	case OP_JUMP, OP_JUMP_IF_FALSE, OP_JUMP_IF_UNKNOWN, OP_JUMP_IF_TRUE, OP_JUMP_IF_NOT_TRUE, OP_LOOP:
		return offset + 3
	default:
		return offset + 1
	}
}

// closureUpvalueBytes returns the number of upvalue-descriptor bytes (2 per
// upvalue: isLocal, index) trailing a CLOSURE[_16] instruction, read from
// the target function's UpvalueCount.
func (c *Chunk) closureUpvalueBytes(constIdx int) int {
	fn := c.Constants[constIdx].AsFunction()
	return 2 * fn.UpvalueCount
}

func (c *Chunk) DisassembleInstruction(offset int) int {
	fmt.Printf("%04d ", offset)
	if offset > 0 && c.Lines[offset] == c.Lines[offset-1] {
		fmt.Printf("   | ")
	} else {
		fmt.Printf("%4d ", c.Lines[offset])
	}

	op := OpCode(c.Code[offset])
	switch op {
	case OP_CONSTANT, OP_DEFINE_GLOBAL, OP_SET_GLOBAL, OP_GET_GLOBAL:
		return c.constantInstruction(op, offset)
	case OP_CONSTANT_16, OP_DEFINE_GLOBAL_16, OP_SET_GLOBAL_16, OP_GET_GLOBAL_16:
		return c.constantInstruction16(op, offset)
	case OP_SET_LOCAL, OP_GET_LOCAL, OP_SET_UPVALUE, OP_GET_UPVALUE, OP_CALL,
		OP_COLLECT, OP_TABLE_SET, OP_JUMP_TABLE_JUMP:
		return c.byteInstruction(op, offset)
	case OP_TABLE_SET_16:
		return c.shortInstruction(op, offset)
	case OP_CLOSURE:
		return c.closureInstruction(op, offset, int(c.Code[offset+1]), offset+2)
	case OP_CLOSURE_16:
		idx := int(c.Code[offset+1])<<8 | int(c.Code[offset+2])
		return c.closureInstruction(op, offset, idx, offset+3)
	case OP_JUMP, OP_JUMP_IF_FALSE, OP_JUMP_IF_UNKNOWN, OP_JUMP_IF_TRUE, OP_JUMP_IF_NOT_TRUE:
		return c.jumpInstruction(op, 1, offset)
	case OP_LOOP:
		return c.jumpInstruction(op, -1, offset)
	default:
		fmt.Printf("%s\n", op)
		return offset + 1
	}
}

func (c *Chunk) constantInstruction(op OpCode, offset int) int {
	idx := c.Code[offset+1]
	fmt.Printf("%-20s %4d '%s'\n", op, idx, c.Constants[idx].String())
	return offset + 2
}

func (c *Chunk) constantInstruction16(op OpCode, offset int) int {
	idx := int(c.Code[offset+1])<<8 | int(c.Code[offset+2])
	fmt.Printf("%-20s %4d '%s'\n", op, idx, c.Constants[idx].String())
	return offset + 3
}

func (c *Chunk) byteInstruction(op OpCode, offset int) int {
	slot := c.Code[offset+1]
	fmt.Printf("%-20s %4d\n", op, slot)
	return offset + 2
}

func (c *Chunk) shortInstruction(op OpCode, offset int) int {
	slot := int(c.Code[offset+1])<<8 | int(c.Code[offset+2])
	fmt.Printf("%-20s %4d\n", op, slot)
	return offset + 3
}

// closureInstruction prints the CLOSURE[_16] instruction itself, then one
// line per trailing (isLocal, index) upvalue-descriptor pair, matching
// clox's disassembleInstruction handling of OP_CLOSURE.
func (c *Chunk) closureInstruction(op OpCode, offset, constIdx, next int) int {
	fmt.Printf("%-20s %4d '%s'\n", op, constIdx, c.Constants[constIdx].String())
	fn := c.Constants[constIdx].AsFunction()
	for i := 0; i < fn.UpvalueCount; i++ {
		isLocal := c.Code[next]
		idx := c.Code[next+1]
		kind := "upvalue"
		if isLocal != 0 {
			kind = "local"
		}
		fmt.Printf("%04d      |                     %s %d\n", next, kind, idx)
		next += 2
	}
	return next
}

func (c *Chunk) jumpInstruction(op OpCode, sign, offset int) int {
	jump := int(c.Code[offset+1])<<8 | int(c.Code[offset+2])
	target := offset + 3 + sign*jump
	fmt.Printf("%-20s %4d -> %d\n", op, offset, target)
	return offset + 3
}
