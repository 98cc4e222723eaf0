package passes

import (
	"bytes"
	"strings"
	"testing"

	"github.com/holiman/uint256"
	"github.com/stretchr/testify/require"

	"hlsbv/internal/diag"
	"hlsbv/internal/eval"
	"hlsbv/internal/ir"
)

var u8 = ir.IntType(8, false)

type name string

func (n name) String() string { return string(n) }

func TestBudget(t *testing.T) {
	var buf bytes.Buffer
	b := NewBudget(2, diag.NewReporter(&buf, "text"))
	for i := 0; i < 2; i++ {
		require.True(t, b.ApplyNewTransformation())
		b.RegisterTransformation("BitValueOpt", name("f: r"))
	}
	require.False(t, b.ApplyNewTransformation())
	require.True(t, b.Exhausted())
	require.Equal(t, 2, b.Count())
	require.Contains(t, buf.String(), "BitValueOpt #2: f: r")

	unlimited := NewBudget(-1, nil)
	for i := 0; i < 100; i++ {
		unlimited.RegisterTransformation("BitValueOpt", name("g"))
	}
	require.True(t, unlimited.ApplyNewTransformation())
}

func TestEliminateDeadCode(t *testing.T) {
	prog := ir.NewProgram()
	b := ir.NewFuncBuilder(prog, "f", &u8)
	x := b.Param("x", u8)
	a := b.Binary("a", u8, ir.Plus, x, ir.ConstInt(1, u8))
	b.Binary("c", u8, ir.Mult, a, a)
	keep := b.Binary("k", u8, ir.BitAnd, x, ir.ConstInt(3, u8))
	b.Return(keep)
	fn := b.Func()

	require.Equal(t, 2, EliminateDeadCode(fn))
	require.Len(t, fn.Blocks[0].Stmts, 2)
	require.Equal(t, 1, fn.BBVersion)
	require.Zero(t, EliminateDeadCode(fn))
	require.Equal(t, 1, fn.BBVersion)
}

// callProgram builds
//
//	func f(x uint8) uint8 { return ((x << 2) + 8) & 0x3C }
//	func top(a uint8) uint8 { return f(a) + f(5) }
func callProgram() (*ir.Program, *ir.Function) {
	prog := ir.NewProgram()
	fb := ir.NewFuncBuilder(prog, "f", &u8)
	x := fb.Param("x", u8)
	sh := fb.Binary("sh", u8, ir.Lshift, x, ir.ConstInt(2, u8))
	s := fb.Binary("s", u8, ir.Plus, sh, ir.ConstInt(8, u8))
	fb.Return(fb.Binary("m", u8, ir.BitAnd, s, ir.ConstInt(0x3C, u8)))
	f := fb.Func()

	tb := ir.NewFuncBuilder(prog, "top", &u8)
	a := tb.Param("a", u8)
	y := tb.Call("y", f, a)
	z := tb.Call("z", f, ir.ConstInt(5, u8))
	tb.Return(tb.Binary("r", u8, ir.Plus, y, z))
	top := tb.Func()
	top.Root = true
	return prog, top
}

func outputs(t *testing.T, fn *ir.Function) []uint64 {
	t.Helper()
	out := make([]uint64, 0, 256)
	for v := uint64(0); v < 256; v++ {
		got, err := eval.New().Call(fn, uint256.NewInt(v))
		require.NoError(t, err)
		out = append(out, got.Uint64())
	}
	return out
}

func TestPipelinePreservesBehaviourAcrossCalls(t *testing.T) {
	prog, top := callProgram()
	want := outputs(t, top)

	var buf bytes.Buffer
	p := NewPipeline(diag.NewReporter(&buf, "text"), DefaultOptions())
	require.Equal(t, "bit-value", p.Name())
	st, err := p.Run(prog)
	require.NoError(t, err)
	require.Positive(t, st.Iterations)
	require.Positive(t, st.Transformations)
	require.Equal(t, want, outputs(t, top))
	require.True(t, strings.Contains(buf.String(), "iteration 1"))
}

func TestPipelineRespectsTransformationLimit(t *testing.T) {
	prog, top := callProgram()
	want := outputs(t, top)

	opts := DefaultOptions()
	opts.MaxTransformations = 1
	st, err := NewPipeline(nil, opts).Run(prog)
	require.NoError(t, err)
	require.Equal(t, 1, st.Transformations)
	require.False(t, st.Converged)
	require.Equal(t, want, outputs(t, top))
}

func TestPipelineWithoutIPA(t *testing.T) {
	prog, top := callProgram()
	want := outputs(t, top)

	opts := DefaultOptions()
	opts.EnableIPA = false
	opts.Jobs = 1
	st, err := NewPipeline(nil, opts).Run(prog)
	require.NoError(t, err)
	require.Zero(t, st.SignatureChanges)
	require.Equal(t, want, outputs(t, top))
}

func TestPipelineFoldsConstantCall(t *testing.T) {
	prog := ir.NewProgram()
	fb := ir.NewFuncBuilder(prog, "f", &u8)
	x := fb.Param("x", u8)
	fb.Return(fb.Binary("r", u8, ir.BitAnd, x, ir.ConstInt(0xF0, u8)))
	f := fb.Func()

	tb := ir.NewFuncBuilder(prog, "top", &u8)
	tb.Return(tb.Call("y", f, ir.ConstInt(5, u8)))
	top := tb.Func()
	top.Root = true

	st, err := NewPipeline(nil, DefaultOptions()).Run(prog)
	require.NoError(t, err)
	require.True(t, st.Converged)
	ret := top.Blocks[0].Terminator().(*ir.Return)
	c, ok := ret.Result.(*ir.Const)
	require.True(t, ok)
	require.True(t, c.IsZero())
	require.Empty(t, top.Blocks[0].Stmts[:len(top.Blocks[0].Stmts)-1])
}

func TestPipelineRejectsNilProgram(t *testing.T) {
	_, err := NewPipeline(nil, DefaultOptions()).Run(nil)
	require.Error(t, err)
}
