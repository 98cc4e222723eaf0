package validate

import (
	"testing"

	"github.com/stretchr/testify/require"

	"hlsbv/internal/ir"
	"hlsbv/internal/passes"
)

var u8 = ir.IntType(8, false)

func TestCheckIRAcceptsOptimizedProgram(t *testing.T) {
	prog := ir.NewProgram()
	b := ir.NewFuncBuilder(prog, "f", &u8)
	x := b.Param("x", u8)
	sh := b.Binary("sh", u8, ir.Lshift, x, ir.ConstInt(2, u8))
	s := b.Binary("s", u8, ir.Plus, sh, ir.ConstInt(8, u8))
	m := b.Binary("m", u8, ir.BitAnd, s, ir.ConstInt(0x3C, u8))
	e := b.Binary("e", ir.BoolType(), ir.ExtractBit, m, ir.ConstInt(3, u8))
	b.Return(b.Cond("r", u8, e, m, ir.ConstInt(1, u8)))
	b.Func().Root = true

	require.NoError(t, CheckIR(prog))
	_, err := passes.NewPipeline(nil, passes.DefaultOptions()).Run(prog)
	require.NoError(t, err)
	require.NoError(t, CheckIR(prog))
}

func TestCheckIRReportsBrokenBodies(t *testing.T) {
	prog := ir.NewProgram()
	other := ir.NewFuncBuilder(prog, "g", &u8)
	stray := other.Param("y", u8)
	other.Return(stray)

	b := ir.NewFuncBuilder(prog, "f", &u8)
	x := b.Param("x", u8)
	x.BitValues = "UUUUUUUUU"
	v := b.Binary("v", u8, ir.Plus, x, stray)
	b.Emit(&ir.Assign{Dest: v, Expr: &ir.UnaryExpr{Op: ir.Copy, X: x}})
	b.Return(v)
	b.Emit(&ir.Jump{})

	err := CheckIR(prog)
	require.Error(t, err)
	msg := err.Error()
	require.Contains(t, msg, "f: parameter value x: bitstring")
	require.Contains(t, msg, "reads undefined y")
	require.Contains(t, msg, "v is defined more than once")
	require.Contains(t, msg, "is not last")
}
