package bvopt

import (
	"fmt"
	"strings"
	"testing"

	"github.com/holiman/uint256"
	"github.com/stretchr/testify/require"

	"hlsbv/internal/bitvalue"
	"hlsbv/internal/eval"
	"hlsbv/internal/ir"
)

var (
	u8    = ir.IntType(8, false)
	i8    = ir.IntType(8, true)
	boolT = ir.BoolType()
)

type countingBudget struct {
	max     int
	applied []string
}

func (b *countingBudget) ApplyNewTransformation() bool { return len(b.applied) < b.max }

func (b *countingBudget) RegisterTransformation(pass string, target fmt.Stringer) {
	b.applied = append(b.applied, pass+": "+target.String())
}

// results evaluates fn on every input tuple.
func results(t *testing.T, fn *ir.Function, inputs [][]uint64) []uint64 {
	t.Helper()
	out := make([]uint64, len(inputs))
	for i, in := range inputs {
		args := make([]*uint256.Int, len(in))
		for j, v := range in {
			args[j] = uint256.NewInt(v)
		}
		got, err := eval.New().Call(fn, args...)
		require.NoError(t, err, "inputs %v", in)
		out[i] = got.Uint64()
	}
	return out
}

func bytes(step int) [][]uint64 {
	var in [][]uint64
	for v := 0; v < 256; v += step {
		in = append(in, []uint64{uint64(v)})
	}
	return in
}

func dump(fn *ir.Function) string {
	var sb strings.Builder
	ir.DumpFunction(fn, &sb)
	return sb.String()
}

func returned(fn *ir.Function) ir.Operand {
	for _, b := range fn.Blocks {
		if r, ok := b.Terminator().(*ir.Return); ok {
			return r.Result
		}
	}
	return nil
}

func TestConstantIsForwarded(t *testing.T) {
	prog := ir.NewProgram()
	b := ir.NewFuncBuilder(prog, "f", &u8)
	x := b.Param("x", u8)
	a := b.Binary("a", u8, ir.BitAnd, x, ir.ConstInt(0, u8))
	a.BitValues = "0"
	r := b.Binary("r", u8, ir.Plus, a, x)
	b.Return(r)
	fn := b.Func()

	st, err := Optimize(fn, nil, Options{})
	require.NoError(t, err)
	require.True(t, st.Modified)
	require.True(t, st.RestartDeadCode)
	// a is forwarded into r, which then reduces to x.
	require.Equal(t, 2, st.Edits)
	require.Same(t, x, returned(fn))
	require.Equal(t, 1, fn.BBVersion)
}

func TestUnusedConstantOnlyRequestsDeadCode(t *testing.T) {
	prog := ir.NewProgram()
	b := ir.NewFuncBuilder(prog, "f", &u8)
	x := b.Param("x", u8)
	a := b.Binary("a", u8, ir.BitAnd, x, ir.ConstInt(0, u8))
	a.BitValues = "0"
	b.Return(x)

	st, err := Optimize(b.Func(), nil, Options{})
	require.NoError(t, err)
	require.False(t, st.Modified)
	require.True(t, st.RestartDeadCode)
	require.Zero(t, st.Edits)
}

func TestBudgetStopsRewriting(t *testing.T) {
	prog := ir.NewProgram()
	b := ir.NewFuncBuilder(prog, "f", &u8)
	x := b.Param("x", u8)
	a := b.Binary("a", u8, ir.BitAnd, x, ir.ConstInt(0, u8))
	a.BitValues = "0"
	r := b.Binary("r", u8, ir.Plus, a, x)
	b.Return(r)
	fn := b.Func()
	want := results(t, fn, bytes(17))

	budget := &countingBudget{max: 1}
	st, err := Optimize(fn, budget, Options{})
	require.NoError(t, err)
	require.Equal(t, 1, st.Edits)
	require.Len(t, budget.applied, 1)
	require.Contains(t, budget.applied[0], "BitValueOpt: f:")
	require.Same(t, r, returned(fn))
	require.Equal(t, want, results(t, fn, bytes(17)))

	st, err = Optimize(fn, &countingBudget{max: 0}, Options{})
	require.NoError(t, err)
	require.False(t, st.Modified)
}

func TestParameterConstantPropagation(t *testing.T) {
	prog := ir.NewProgram()
	b := ir.NewFuncBuilder(prog, "f", &u8)
	x := b.Param("x", u8)
	y := b.Param("y", u8)
	x.BitValues = "101"
	r := b.Binary("r", u8, ir.Mult, x, y)
	b.Return(r)
	fn := b.Func()

	_, err := Optimize(fn, nil, Options{})
	require.NoError(t, err)
	def := fn.Blocks[0].Stmts[0].(*ir.Assign)
	c, ok := def.Expr.(*ir.BinaryExpr).X.(*ir.Const)
	require.True(t, ok)
	require.Equal(t, int64(5), c.Int64())
}

func TestSumWithTrailingZerosIsNarrowed(t *testing.T) {
	prog := ir.NewProgram()
	b := ir.NewFuncBuilder(prog, "f", &u8)
	x := b.Param("x", u8)
	y := b.Param("y", u8)
	a := b.Binary("a", u8, ir.Lshift, x, ir.ConstInt(2, u8))
	a.BitValues = "UUUUUU00"
	c := b.Binary("c", u8, ir.Lshift, y, ir.ConstInt(2, u8))
	c.BitValues = "UUUUUU00"
	s := b.Binary("s", u8, ir.Plus, a, c)
	s.BitValues = "UUUUUU00"
	b.Return(s)
	fn := b.Func()

	var inputs [][]uint64
	for i := 0; i < 256; i += 11 {
		for j := 0; j < 256; j += 13 {
			inputs = append(inputs, []uint64{uint64(i), uint64(j)})
		}
	}
	want := results(t, fn, inputs)

	st, err := Optimize(fn, nil, Options{})
	require.NoError(t, err)
	require.Equal(t, 1, st.Edits)
	u, ok := fn.Blocks[0].Stmts[6].(*ir.Assign).Expr.(*ir.UnaryExpr)
	require.True(t, ok, dump(fn))
	require.Equal(t, ir.Copy, u.Op)
	require.Equal(t, want, results(t, fn, inputs))
}

func TestComparisonDropsSharedTrailingBits(t *testing.T) {
	prog := ir.NewProgram()
	b := ir.NewFuncBuilder(prog, "f", &boolT)
	x := b.Param("x", u8)
	a := b.Binary("a", u8, ir.Lshift, x, ir.ConstInt(2, u8))
	a.BitValues = "UUUUUU00"
	lt := b.Binary("lt", boolT, ir.Lt, a, ir.ConstInt(8, u8))
	b.Return(lt)
	fn := b.Func()
	want := results(t, fn, bytes(1))

	st, err := Optimize(fn, nil, Options{})
	require.NoError(t, err)
	require.Equal(t, 1, st.Edits)
	cmp := fn.Blocks[0].Stmts[2].(*ir.Assign).Expr.(*ir.BinaryExpr)
	require.Equal(t, ir.Lt, cmp.Op)
	require.Equal(t, int64(2), cmp.Y.(*ir.Const).Int64())
	require.Equal(t, want, results(t, fn, bytes(1)))
}

func TestCondOfOneAndZeroBecomesConvert(t *testing.T) {
	prog := ir.NewProgram()
	b := ir.NewFuncBuilder(prog, "f", &u8)
	c := b.Param("c", boolT)
	r := b.Cond("r", u8, c, ir.ConstInt(1, u8), ir.ConstInt(0, u8))
	b.Return(r)
	fn := b.Func()

	_, err := Optimize(fn, nil, Options{})
	require.NoError(t, err)
	u := fn.Blocks[0].Stmts[0].(*ir.Assign).Expr.(*ir.UnaryExpr)
	require.Equal(t, ir.Convert, u.Op)
	require.Same(t, c, u.X)
}

func TestExtractBitOfShiftFolds(t *testing.T) {
	prog := ir.NewProgram()
	b := ir.NewFuncBuilder(prog, "f", &boolT)
	x := b.Param("x", u8)
	s := b.Binary("s", u8, ir.Lshift, x, ir.ConstInt(3, u8))
	e := b.Binary("e", boolT, ir.ExtractBit, s, ir.ConstInt(1, u8))
	b.Return(e)
	fn := b.Func()

	st, err := Optimize(fn, nil, Options{})
	require.NoError(t, err)
	require.True(t, st.RestartDeadCode)
	c, ok := returned(fn).(*ir.Const)
	require.True(t, ok)
	require.True(t, c.IsZero())
}

func TestExtractBitOfSumIsUnrolled(t *testing.T) {
	for pos := 0; pos < 4; pos++ {
		t.Run(fmt.Sprintf("bit%d", pos), func(t *testing.T) {
			prog := ir.NewProgram()
			b := ir.NewFuncBuilder(prog, "f", &boolT)
			x := b.Param("x", u8)
			s := b.Binary("s", u8, ir.Plus, x, ir.ConstInt(5, u8))
			e := b.Binary("e", boolT, ir.ExtractBit, s, ir.ConstInt(int64(pos), u8))
			b.Return(e)
			fn := b.Func()
			want := results(t, fn, bytes(1))

			st, err := Optimize(fn, nil, Options{})
			require.NoError(t, err)
			require.Equal(t, 1, st.Edits)
			require.Equal(t, want, results(t, fn, bytes(1)))
		})
	}
}

func TestExtractBitOfShiftedConstantUsesTable(t *testing.T) {
	prog := ir.NewProgram()
	b := ir.NewFuncBuilder(prog, "f", &boolT)
	v := b.Param("v", u8)
	v.BitValues = "UUU"
	r := b.Binary("r", u8, ir.Rshift, ir.ConstInt(0xB4, u8), v)
	e := b.Binary("e", boolT, ir.ExtractBit, r, ir.ConstInt(1, u8))
	b.Return(e)
	fn := b.Func()
	var inputs [][]uint64
	for i := uint64(0); i < 8; i++ {
		inputs = append(inputs, []uint64{i})
	}
	want := results(t, fn, inputs)

	_, err := Optimize(fn, nil, Options{})
	require.NoError(t, err)
	var lut *ir.LutExpr
	for _, s := range fn.Blocks[0].Stmts {
		if as, ok := s.(*ir.Assign); ok && as.Dest == e {
			lut, _ = as.Expr.(*ir.LutExpr)
		}
	}
	require.NotNil(t, lut, dump(fn))
	require.Len(t, lut.Inputs, 3)
	require.Equal(t, want, results(t, fn, inputs))

	_, err = Optimize(fn, nil, Options{MaxLUTSize: 2})
	require.NoError(t, err)
}

func TestExtractBitAtVariablePositionIsUnsupported(t *testing.T) {
	prog := ir.NewProgram()
	b := ir.NewFuncBuilder(prog, "f", &boolT)
	x := b.Param("x", u8)
	p := b.Param("p", u8)
	b.Return(b.Binary("e", boolT, ir.ExtractBit, x, p))

	_, err := Optimize(b.Func(), nil, Options{})
	require.ErrorIs(t, err, ir.ErrUnsupported)
}

func TestConstrainSSA(t *testing.T) {
	prog := ir.NewProgram()
	fn := prog.NewFunction("f", nil)

	v := fn.NewValue("v", i8)
	v.BitValues = "0UU"
	constrainSSA(v)
	require.NotNil(t, v.Range)
	require.Equal(t, uint64(0xFC), v.Range.Min.Uint64())
	require.Equal(t, uint64(3), v.Range.Max.Uint64())

	w := fn.NewValue("w", u8)
	w.BitValues = "UUU"
	constrainSSA(w)
	require.Equal(t, uint64(0), w.Range.Min.Uint64())
	require.Equal(t, uint64(7), w.Range.Max.Uint64())

	// A narrower existing range survives.
	w.Range.Max = uint256.NewInt(2)
	constrainSSA(w)
	require.Equal(t, uint64(2), w.Range.Max.Uint64())

	full := fn.NewValue("full", u8)
	full.BitValues = "UUUUUUUU"
	constrainSSA(full)
	require.Nil(t, full.Range)
}

func TestAnalyzedFunctionKeepsBehaviour(t *testing.T) {
	prog := ir.NewProgram()
	b := ir.NewFuncBuilder(prog, "f", &u8)
	x := b.Param("x", u8)
	a := b.Binary("a", u8, ir.Lshift, x, ir.ConstInt(2, u8))
	s := b.Binary("s", u8, ir.Plus, a, ir.ConstInt(8, u8))
	m := b.Binary("m", u8, ir.BitAnd, s, ir.ConstInt(0x3C, u8))
	e := b.Binary("e", boolT, ir.ExtractBit, m, ir.ConstInt(1, u8))
	r := b.Cond("r", u8, e, m, ir.ConstInt(4, u8))
	b.Return(r)
	fn := b.Func()
	want := results(t, fn, bytes(1))

	for i := 0; i < 4; i++ {
		_, err := bitvalue.Analyze(fn, bitvalue.Options{})
		require.NoError(t, err)
		st, err := Optimize(fn, nil, Options{})
		require.NoError(t, err)
		require.Equal(t, want, results(t, fn, bytes(1)), dump(fn))
		if !st.Modified {
			break
		}
	}
}
