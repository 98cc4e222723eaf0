package bitvalue

import (
	"errors"
	"testing"

	"github.com/davecgh/go-spew/spew"
	"github.com/stretchr/testify/require"

	"hlsbv/internal/bitlattice"
	"hlsbv/internal/ir"
)

var (
	u8    = ir.IntType(8, false)
	i8    = ir.IntType(8, true)
	boolT = ir.BoolType()
)

func TestUpdateCurrentAndMix(t *testing.T) {
	tab := NewTable()
	tab.SetBest(7, bitlattice.NewU(8), u8)

	require.False(t, tab.UpdateCurrent(nil, 7))
	require.True(t, tab.UpdateCurrent(bitlattice.MustParse("00001111"), 7))
	cur, ok := tab.Current(7)
	require.True(t, ok)
	require.Equal(t, "1111", cur.String())
	require.False(t, tab.UpdateCurrent(bitlattice.MustParse("1111"), 7))

	require.True(t, tab.Mix())
	require.Equal(t, "1111", tab.Best(7).String())
	require.False(t, tab.Mix())
}

func TestUpdateCurrentMergesWithBest(t *testing.T) {
	tab := NewTable()
	tab.SetBest(1, bitlattice.MustParse("1U0"), i8)
	require.True(t, tab.UpdateCurrent(bitlattice.MustParse("1UU"), 1))
	cur, _ := tab.Current(1)
	require.Equal(t, "1U0", cur.String())
}

func TestMissingFactPanics(t *testing.T) {
	tab := NewTable()
	require.PanicsWithError(t, "id 42: bitvalue: missing fact", func() { tab.Best(42) })
}

func TestSnapshotIsIndependent(t *testing.T) {
	tab := NewTable()
	tab.SetBest(1, bitlattice.NewU(2), u8)
	tab.SetBest(2, bitlattice.MustParse("0"), u8)
	snap := tab.Snapshot()
	tab.SetBest(1, bitlattice.MustParse("1U"), u8)

	require.Equal(t, "UU", snap.Best(1).String())
	require.Equal(t, "1U", tab.Best(1).String())
	require.Equal(t, []int{1}, tab.Diff(snap))
	require.Equal(t, []int{1, 2}, tab.IDs())

	tab.Reset()
	require.Zero(t, tab.Len())
	require.Equal(t, 2, snap.Len())
}

func TestClearCurrentKeepsSelectedIDs(t *testing.T) {
	tab := NewTable()
	tab.SetBest(1, bitlattice.MustParse("01"), u8)
	tab.SetBest(2, bitlattice.MustParse("10"), u8)
	tab.SetCurrent(2, bitlattice.MustParse("1"))
	tab.ClearCurrent(func(id int) bool { return id == 1 })

	cur, ok := tab.Current(1)
	require.True(t, ok)
	require.Equal(t, "01", cur.String())
	_, ok = tab.Current(2)
	require.False(t, ok)
}

// concretize lists the concrete bits a lattice bit may stand for.
func concretize(b bitlattice.Bit) []int {
	switch b {
	case b0:
		return []int{0}
	case b1:
		return []int{1}
	}
	return []int{0, 1}
}

func TestAdderTablesAreSound(t *testing.T) {
	bits := []bitlattice.Bit{b0, b1, bU}
	for _, x := range bits {
		for _, y := range bits {
			for _, c := range bits {
				plus := plusTable[x][y][c]
				minus := minusTable[x][y][c]
				for _, xv := range concretize(x) {
					for _, yv := range concretize(y) {
						for _, cv := range concretize(c) {
							sum := xv + yv + cv
							requireCovers(t, plus.bit, sum&1, "plus bit %s%s%s", x, y, c)
							requireCovers(t, plus.carry, sum>>1, "plus carry %s%s%s", x, y, c)
							diff := xv - yv - cv
							borrow := 0
							if diff < 0 {
								borrow = 1
							}
							requireCovers(t, minus.bit, diff&1, "minus bit %s%s%s", x, y, c)
							requireCovers(t, minus.carry, borrow, "minus borrow %s%s%s", x, y, c)
						}
					}
				}
			}
		}
	}
}

func requireCovers(t *testing.T, got bitlattice.Bit, want int, msg string, args ...interface{}) {
	t.Helper()
	if got == bU {
		return
	}
	require.Equal(t, bitlattice.FromBool(want == 1), got, append([]interface{}{msg}, args...)...)
}

func TestAnalyzeMaskPropagatesKnownZeros(t *testing.T) {
	prog := ir.NewProgram()
	b := ir.NewFuncBuilder(prog, "mask", &u8)
	x := b.Param("x", u8)
	y := b.Binary("y", u8, ir.BitAnd, x, ir.ConstInt(0xF0, u8))
	b.Return(y)
	fn := b.Func()

	res, err := Analyze(fn, Options{})
	require.NoError(t, err)
	require.True(t, res.Changed)
	require.Equal(t, "UUUU0000", y.BitValues)
	require.Equal(t, 1, fn.BitValueVersion)
	// The low bits of x never reach the result.
	require.Equal(t, "UUUUXXXX", res.Table.Best(x.ID).String())
	require.Empty(t, fn.Params[0].BitValues)

	again, err := Analyze(fn, Options{})
	require.NoError(t, err)
	require.False(t, again.Changed, spew.Sdump(again.Table.IDs()))
	require.Equal(t, 1, fn.BitValueVersion)
	require.Equal(t, "UUUU0000", y.BitValues)
}

func TestAnalyzeFoldsConstantArithmetic(t *testing.T) {
	prog := ir.NewProgram()
	b := ir.NewFuncBuilder(prog, "seven", &u8)
	sum := b.Binary("sum", u8, ir.Plus, ir.ConstInt(3, u8), ir.ConstInt(4, u8))
	b.Return(sum)

	_, err := Analyze(b.Func(), Options{})
	require.NoError(t, err)
	require.Equal(t, "111", sum.BitValues)
}

func TestAnalyzeExtractBitOfShiftIsZero(t *testing.T) {
	prog := ir.NewProgram()
	b := ir.NewFuncBuilder(prog, "low", &boolT)
	x := b.Param("x", u8)
	y := b.Binary("y", u8, ir.Lshift, x, ir.ConstInt(3, u8))
	z := b.Binary("z", boolT, ir.ExtractBit, y, ir.ConstInt(1, u8))
	b.Return(z)

	res, err := Analyze(b.Func(), Options{})
	require.NoError(t, err)
	require.Equal(t, "0", z.BitValues)
	require.Equal(t, "X0X", y.BitValues)
	require.Equal(t, "X", res.Table.Best(x.ID).String())
}

func TestAnalyzePhiMergesIncomingConstants(t *testing.T) {
	prog := ir.NewProgram()
	b := ir.NewFuncBuilder(prog, "pick", &u8)
	c := b.Param("c", boolT)
	then, els, join := b.NewBlock(), b.NewBlock(), b.NewBlock()
	b.If(c, then, els)
	b.SetBlock(then)
	b.Jump(join)
	b.SetBlock(els)
	b.Jump(join)
	b.SetBlock(join)
	p := b.Phi("p", u8, ir.ConstInt(4, u8), ir.ConstInt(6, u8))
	b.Return(p)

	_, err := Analyze(b.Func(), Options{})
	require.NoError(t, err)
	require.Equal(t, "1U0", p.BitValues)
}

func TestAnalyzeLoopConverges(t *testing.T) {
	prog := ir.NewProgram()
	b := ir.NewFuncBuilder(prog, "count", &u8)
	loop, exit := b.NewBlock(), b.NewBlock()
	b.Jump(loop)

	b.SetBlock(loop)
	fn := b.Func()
	next := fn.NewValue("next", u8)
	i := b.Phi("i", u8, ir.ConstInt(0, u8), next)
	m := b.Binary("m", u8, ir.BitAnd, i, ir.ConstInt(0x0F, u8))
	cond := b.Binary("cond", boolT, ir.Lt, i, ir.ConstInt(10, u8))
	b.Emit(&ir.Assign{Dest: next, Expr: &ir.BinaryExpr{Op: ir.Plus, X: i, Y: ir.ConstInt(1, u8)}})
	b.If(cond, loop, exit)

	b.SetBlock(exit)
	b.Return(m)

	_, err := Analyze(fn, Options{})
	require.NoError(t, err)
	require.Equal(t, "UUUU", m.BitValues)
}

func TestAnalyzeRejectsMalformedSignature(t *testing.T) {
	prog := ir.NewProgram()
	b := ir.NewFuncBuilder(prog, "bad", &u8)
	x := b.Param("x", u8)
	b.Return(x)
	b.Func().Params[0].BitValues = "01z"

	_, err := Analyze(b.Func(), Options{})
	require.Error(t, err)
	require.True(t, errors.Is(err, bitlattice.ErrInvalidBitstring))
}

func TestAnalyzeSignedShiftChainKeepsSignBit(t *testing.T) {
	prog := ir.NewProgram()
	b := ir.NewFuncBuilder(prog, "sign", &i8)
	y := b.Param("y", i8)
	r := b.Binary("r", i8, ir.Rshift, y, ir.ConstInt(4, u8))
	r2 := b.Binary("r2", i8, ir.Rshift, r, ir.ConstInt(4, u8))
	b.Return(r2)

	res, err := Analyze(b.Func(), Options{})
	require.NoError(t, err)
	// Only the sign of y reaches r2, and it is not known.
	require.Equal(t, bU, res.Table.Best(y.ID).Front(), res.Table.Best(y.ID).String())
	require.Equal(t, bU, res.Table.Best(r.ID).Front(), res.Table.Best(r.ID).String())
	require.Contains(t, r2.BitValues, "U")
}

func TestAnalyzeSignedRequirementsAboveWidth(t *testing.T) {
	prog := ir.NewProgram()
	b := ir.NewFuncBuilder(prog, "high", &boolT)
	x := b.Param("x", i8)
	s := b.Binary("s", i8, ir.Plus, x, ir.ConstInt(3, i8))
	e := b.Binary("e", boolT, ir.ExtractBit, s, ir.ConstInt(8, u8))
	b.Return(e)

	res, err := Analyze(b.Func(), Options{})
	require.NoError(t, err)
	require.Equal(t, bU, res.Table.Best(s.ID).Front(), res.Table.Best(s.ID).String())
	require.Equal(t, "U", e.BitValues)

	i16 := ir.IntType(16, true)
	b = ir.NewFuncBuilder(prog, "wide", &boolT)
	x = b.Param("x", i8)
	s = b.Binary("s", i8, ir.Plus, x, ir.ConstInt(3, i8))
	c := b.Unary("c", i16, ir.Convert, s)
	e = b.Binary("e", boolT, ir.ExtractBit, c, ir.ConstInt(14, u8))
	b.Return(e)

	res, err = Analyze(b.Func(), Options{})
	require.NoError(t, err)
	// Bit 14 of the widened value is a copy of the sign of s.
	require.Equal(t, bU, res.Table.Best(s.ID).Front(), res.Table.Best(s.ID).String())
	require.Equal(t, "U", e.BitValues)
}
