package ir

import (
	"bytes"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
)

func TestIndexDefsAndUses(t *testing.T) {
	prog := NewProgram()
	u8 := IntType(8, false)
	b := NewFuncBuilder(prog, "f", &u8)
	x := b.Param("x", u8)
	sum := b.Binary("sum", u8, Plus, x, x)
	masked := b.Binary("masked", u8, BitAnd, sum, ConstInt(0xF0, u8))
	b.Return(masked)

	ix := NewIndex(b.Func())
	if ix.Def(x) != nil {
		t.Fatalf("parameters have no defining statement")
	}
	if _, ok := ix.Def(sum).(*Assign); !ok {
		t.Fatalf("sum must be defined by an assignment")
	}
	if got := len(ix.Uses(x)); got != 1 {
		t.Fatalf("x is read by one statement, got %d", got)
	}
	if _, ok := ix.Uses(masked)[0].Stmt.(*Return); !ok {
		t.Fatalf("masked must be used by the return")
	}
	names := make([]string, 0)
	for _, v := range ix.Values() {
		names = append(names, v.Name)
	}
	if diff := cmp.Diff([]string{"x", "sum", "masked"}, names); diff != "" {
		t.Fatalf("values mismatch (-want +got):\n%s", diff)
	}
}

func TestReplaceAllUsesAndSplice(t *testing.T) {
	prog := NewProgram()
	i16 := IntType(16, true)
	b := NewFuncBuilder(prog, "g", &i16)
	x := b.Param("x", i16)
	y := b.Binary("y", i16, Minus, x, ConstInt(1, i16))
	z := b.Binary("z", i16, Mult, y, y)
	b.Return(z)
	fn := b.Func()

	if n := fn.ReplaceAllUses(y, ConstInt(-3, i16)); n != 2 {
		t.Fatalf("expected two replaced slots, got %d", n)
	}
	if fn.CountUses(y) != 0 {
		t.Fatalf("y still used")
	}
	entry := fn.Blocks[0]
	extra := &Assign{Dest: fn.NewTemp("extra", i16), Expr: &UnaryExpr{Op: Copy, X: x}}
	pos := entry.Position(entry.Stmts[1])
	entry.Splice(pos, extra, entry.Stmts[pos])
	if len(entry.Stmts) != 4 || entry.Stmts[1] != extra {
		t.Fatalf("splice did not insert before the statement")
	}
	var buf bytes.Buffer
	DumpFunction(fn, &buf)
	if !strings.Contains(buf.String(), "z i16 = -3:i16 * -3:i16") {
		t.Fatalf("unexpected dump:\n%s", buf.String())
	}
}
