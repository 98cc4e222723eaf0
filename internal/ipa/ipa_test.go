package ipa

import (
	"fmt"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/require"

	"hlsbv/internal/bitvalue"
	"hlsbv/internal/callgraph"
	"hlsbv/internal/ir"
)

var u8 = ir.IntType(8, false)

// maskProgram builds
//
//	func f(x uint8) uint8 { return x & 0xF0 }
//	func top() uint8      { return f(5) }
func maskProgram() (prog *ir.Program, f, top *ir.Function, r, y *ir.Value) {
	prog = ir.NewProgram()
	fb := ir.NewFuncBuilder(prog, "f", &u8)
	x := fb.Param("x", u8)
	r = fb.Binary("r", u8, ir.BitAnd, x, ir.ConstInt(0xF0, u8))
	fb.Return(r)
	f = fb.Func()

	tb := ir.NewFuncBuilder(prog, "top", &u8)
	y = tb.Call("y", f, ir.ConstInt(5, u8))
	tb.Return(y)
	top = tb.Func()
	top.Root = true
	return prog, f, top, r, y
}

func analyze(t *testing.T, fns ...*ir.Function) {
	t.Helper()
	for _, fn := range fns {
		_, err := bitvalue.Analyze(fn, bitvalue.Options{})
		require.NoError(t, err, fn.Name)
	}
}

func TestRunCarriesFactsAcrossCalls(t *testing.T) {
	prog, f, top, r, y := maskProgram()
	analyze(t, f, top)
	require.Equal(t, "UUUU0000", r.BitValues)
	require.Empty(t, y.BitValues)

	g := callgraph.Build(prog)
	res, err := Run(prog, g, Options{})
	require.NoError(t, err)
	require.True(t, res.Changed)
	if diff := cmp.Diff([]string{"f", "top"}, fnNames(res.Restart)); diff != "" {
		t.Fatalf("restart mismatch (-want +got):\n%s", diff)
	}
	require.Equal(t, "UUUU0000", f.BitValues)
	require.Equal(t, "0XXXX", f.Params[0].BitValues)
	require.Empty(t, top.BitValues)

	analyze(t, top, f)
	// The low nibble of the call result is known at the call site and the
	// constant argument folds the callee body.
	require.Equal(t, "UUUU0000", y.BitValues)
	require.Equal(t, "0", r.BitValues)
}

func TestRunSkipsProgramsWithIndirectCalls(t *testing.T) {
	prog := ir.NewProgram()
	b := ir.NewFuncBuilder(prog, "top", &u8)
	v := b.CallIndirect("v", &u8, "fp")
	b.Return(v)
	b.Func().Root = true

	res, err := Run(prog, callgraph.Build(prog), Options{})
	require.NoError(t, err)
	require.False(t, res.Changed)
	require.Empty(t, b.Func().BitValues)
}

func TestDriverRunsOnlyWhenVersionsMove(t *testing.T) {
	prog, f, top, _, _ := maskProgram()
	analyze(t, f, top)
	g := callgraph.Build(prog)

	d := NewDriver()
	require.True(t, d.HasToRun(g))
	_, err := d.Run(prog, g, Options{})
	require.NoError(t, err)
	require.False(t, d.HasToRun(g))

	f.BBVersion++
	require.True(t, d.HasToRun(g))
}

type denyAll struct{ asked int }

func (d *denyAll) ApplyNewTransformation() bool { d.asked++; return false }

func (d *denyAll) RegisterTransformation(string, fmt.Stringer) {}

func TestRunRespectsBudget(t *testing.T) {
	prog, f, top, _, _ := maskProgram()
	analyze(t, f, top)

	budget := &denyAll{}
	res, err := Run(prog, callgraph.Build(prog), Options{Budget: budget})
	require.NoError(t, err)
	require.False(t, res.Changed)
	require.Equal(t, 1, budget.asked)
	require.Empty(t, f.BitValues)
	require.Empty(t, f.Params[0].BitValues)
}

type recordAll struct{ registered []string }

func (r *recordAll) ApplyNewTransformation() bool { return true }

func (r *recordAll) RegisterTransformation(pass string, target fmt.Stringer) {
	r.registered = append(r.registered, pass+" "+target.String())
}

func TestRunChargesOnlyMovedFacts(t *testing.T) {
	prog, f, top, _, _ := maskProgram()
	analyze(t, f, top)
	budget := &recordAll{}
	_, err := Run(prog, callgraph.Build(prog), Options{Budget: budget})
	require.NoError(t, err)
	require.Len(t, budget.registered, 2, budget.registered)

	// A root passing its parameter through has nothing to refine.
	prog = ir.NewProgram()
	b := ir.NewFuncBuilder(prog, "id", &u8)
	x := b.Param("x", u8)
	b.Return(x)
	b.Func().Root = true
	analyze(t, b.Func())

	budget = &recordAll{}
	_, err = Run(prog, callgraph.Build(prog), Options{Budget: budget})
	require.NoError(t, err)
	require.Empty(t, budget.registered)
}

func fnNames(fns []*ir.Function) []string {
	out := make([]string, 0, len(fns))
	for _, fn := range fns {
		out = append(out, fn.Name)
	}
	return out
}
