package chunk

import (
	"testing"

	"github.com/stretchr/testify/require"
	"trilox/internal/value"
)

func TestWriteAndAddConstant(t *testing.T) {
	c := New("test")
	idx := c.AddConstant(value.NewNumber(3))
	c.WriteOp(OP_CONSTANT, 1)
	c.Write(byte(idx), 1)
	c.WriteOp(OP_RETURN, 1)

	require.Equal(t, []byte{byte(OP_CONSTANT), byte(idx), byte(OP_RETURN)}, c.Code)
	require.Equal(t, []int{1, 1, 1}, c.Lines)
	require.Equal(t, 3.0, c.Constants[idx].Num)
}

func TestAddJumpTable(t *testing.T) {
	c := New("test")
	idx := c.AddJumpTable(nil)
	require.Equal(t, 0, idx)
	require.Len(t, c.JumpTables, 1)
}

func TestOpCodeStringUnknown(t *testing.T) {
	require.Equal(t, "OP_NIL", OP_NIL.String())
	unknown := OpCode(255)
	require.Contains(t, unknown.String(), "UNKNOWN")
}
