package compiler

import (
	"testing"

	"github.com/stretchr/testify/require"
	"trilox/internal/chunk"
)

func compileOK(t *testing.T, src string) *chunk.Chunk {
	t.Helper()
	fn, err := Compile(src, "<test>")
	require.NoError(t, err)
	require.NotNil(t, fn)
	ch, ok := fn.Chunk.(*chunk.Chunk)
	require.True(t, ok)
	return ch
}

func containsOp(ch *chunk.Chunk, op chunk.OpCode) bool {
	offset := 0
	for offset < len(ch.Code) {
		if chunk.OpCode(ch.Code[offset]) == op {
			return true
		}
		offset = ch.NextOffset(offset)
	}
	return false
}

func TestCompileArithmeticEmitsExpectedOps(t *testing.T) {
	ch := compileOK(t, "var x = 1 + 2")
	require.True(t, containsOp(ch, chunk.OP_ADD))
	require.True(t, containsOp(ch, chunk.OP_DEFINE_GLOBAL))
}

func TestCompileExponentialIsRightAssociative(t *testing.T) {
	// 2 ^ 3 ^ 2 must group as 2 ^ (3 ^ 2): the inner binary() call for the
	// second '^' must have already emitted OP_EXPONENTIAL once before the
	// outer one does, and the chunk must contain exactly two occurrences.
	ch := compileOK(t, "var x = 2 ^ 3 ^ 2")
	count := 0
	var expOffsets []int
	offset := 0
	for offset < len(ch.Code) {
		if chunk.OpCode(ch.Code[offset]) == chunk.OP_EXPONENTIAL {
			count++
			expOffsets = append(expOffsets, offset)
		}
		offset = ch.NextOffset(offset)
	}
	require.Equal(t, 2, count)
	// Right grouping emits both operators back to back after all three
	// operands; left grouping would put a constant load between them.
	require.Equal(t, expOffsets[0]+1, expOffsets[1])
}

func TestCompileKleeneLogicLiterals(t *testing.T) {
	ch := compileOK(t, "var x = true and unknown")
	require.True(t, containsOp(ch, chunk.OP_TRUE))
	require.True(t, containsOp(ch, chunk.OP_UNKNOWN))
	require.True(t, containsOp(ch, chunk.OP_KP_AND))
}

func TestCompileIfTwoArmForm(t *testing.T) {
	ch := compileOK(t, `
var flag = true
if flag do
  1
, 2
`)
	require.True(t, containsOp(ch, chunk.OP_JUMP_IF_UNKNOWN))
	require.True(t, containsOp(ch, chunk.OP_JUMP_IF_FALSE))
}

func TestCompileWhileLoop(t *testing.T) {
	ch := compileOK(t, `
var i = 0
while i < 10 do
  i = i + 1
`)
	require.True(t, containsOp(ch, chunk.OP_LOOP))
}

func TestCompileFunctionDeclarationEmitsClosure(t *testing.T) {
	ch := compileOK(t, `
function add(a, b)
  a + b
end
`)
	require.True(t, containsOp(ch, chunk.OP_CLOSURE))
}

func TestCompileSwitchStatementBuildsJumpTable(t *testing.T) {
	ch := compileOK(t, `
switch "a" do
case "a" do
  1
case "b" do
  2
default do
  3
`)
	require.Len(t, ch.JumpTables, 1)
	require.True(t, containsOp(ch, chunk.OP_JUMP_TABLE_JUMP))
}

func TestCompileUndefinedVariableStillCompilesAsGlobalRef(t *testing.T) {
	ch := compileOK(t, "x")
	require.True(t, containsOp(ch, chunk.OP_GET_GLOBAL))
}

func TestCompileErrorReportsLineNumber(t *testing.T) {
	_, err := Compile("var = 1", "<test>")
	require.Error(t, err)
	require.Contains(t, err.Error(), "[line 1]")
}
