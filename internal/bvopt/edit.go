package bvopt

import (
	"fmt"
	"strings"

	"github.com/holiman/uint256"

	"hlsbv/internal/bitlattice"
	"hlsbv/internal/ir"
)

// edit is the rewrite of one assignment. Rules only build edits; nothing in
// the function changes until apply runs, so a denied budget leaves the body
// exactly as it was.
type edit struct {
	rule string
	// before and after are spliced around the statement.
	before []ir.Stmt
	after  []ir.Stmt
	// expr replaces the right-hand side when set.
	expr ir.Expr
	// dest renames the statement's destination when set; the old
	// destination is then expected to be defined by a statement in after.
	dest *ir.Value
	// forward replaces every read of the statement's destination.
	forward ir.Operand
	keep    bool
}

// structural reports whether the edit changes the statement itself, as
// opposed to only redirecting the uses of its result.
func (e *edit) structural() bool {
	return len(e.before) > 0 || len(e.after) > 0 || e.expr != nil || e.dest != nil || e.keep
}

// builder accumulates the statements of an edit and allocates the values
// they define.
type builder struct {
	fn *ir.Function
	e  *edit
}

func newBuilder(fn *ir.Function, rule string) *builder {
	return &builder{fn: fn, e: &edit{rule: rule}}
}

// emit appends name = x to the statements inserted before the rewritten one
// and returns the new value. bits, when not empty, becomes the value's
// bitstring and drives its range.
func (b *builder) emit(prefix string, t ir.Type, x ir.Expr, bits string) *ir.Value {
	v := b.fn.NewTemp(prefix, t)
	v.BitValues = bits
	constrainSSA(v)
	b.e.before = append(b.e.before, &ir.Assign{Dest: v, Expr: x})
	return v
}

// shiftRight narrows op by k trailing bits. Literals are shifted in place;
// values get a new rshift statement whose bitstring drops the k trailing
// positions.
func (b *builder) shiftRight(op ir.Operand, k int) ir.Operand {
	switch o := op.(type) {
	case *ir.Const:
		return shiftConst(o, k)
	case *ir.Value:
		return b.emit("rsh", o.Type, &ir.BinaryExpr{Op: ir.Rshift, X: o, Y: shiftAmount(k, o.Type)}, dropTrailing(o.BitValues, k, o.Type.Signed))
	}
	return op
}

// narrowResult moves the statement's expression onto a fresh value of
// bitstring bits and redefines the original destination as that value
// shifted left by k.
func (b *builder) narrowResult(s *ir.Assign, x ir.Expr, k int) {
	dest := s.Dest
	narrow := b.fn.NewTemp("nrw", dest.Type)
	narrow.BitValues = shiftedOut(dest.BitValues, k, dest.Type)
	constrainSSA(narrow)
	b.e.dest = narrow
	b.e.expr = x
	b.e.after = append(b.e.after, &ir.Assign{
		Dest: dest,
		Expr: &ir.BinaryExpr{Op: ir.Lshift, X: narrow, Y: shiftAmount(k, dest.Type)},
		Pos:  s.Pos,
	})
}

func (b *builder) done() *edit { return b.e }

// forwardTo builds an edit redirecting every use of the destination.
func forwardTo(rule string, op ir.Operand) *edit {
	return &edit{rule: rule, forward: op}
}

// replaceExpr builds an edit swapping the right-hand side.
func replaceExpr(rule string, x ir.Expr) *edit {
	return &edit{rule: rule, expr: x}
}

// apply commits e on s inside b and returns the number of operand slots
// that were redirected.
func (e *edit) apply(fn *ir.Function, b *ir.Block, s *ir.Assign) (int, error) {
	i := b.Position(s)
	if i < 0 {
		return 0, fmt.Errorf("%s: statement defining %s is not in block %d: %w", fn.Name, s.Dest, b.Index, ir.ErrUnsupported)
	}
	old := s.Dest
	if e.expr != nil {
		s.Expr = e.expr
	}
	if e.dest != nil {
		s.Dest = e.dest
	}
	if e.keep {
		s.Keep = true
	}
	if len(e.before) > 0 || len(e.after) > 0 {
		stmts := make([]ir.Stmt, 0, len(e.before)+1+len(e.after))
		stmts = append(stmts, e.before...)
		stmts = append(stmts, s)
		stmts = append(stmts, e.after...)
		b.Splice(i, stmts...)
	}
	if e.forward == nil {
		return 0, nil
	}
	return fn.ReplaceAllUses(old, e.forward), nil
}

// constrainSSA attaches to v the numeric range implied by a bitstring
// shorter than its type. An existing narrower range is kept.
func constrainSSA(v *ir.Value) {
	n := len(v.BitValues)
	w := width(v.Type)
	if n == 0 || n >= w || v.Type.Bool {
		return
	}
	var lo, hi *uint256.Int
	if v.Type.Signed {
		half := new(uint256.Int).Lsh(uint256.NewInt(1), uint(n-1))
		hi = new(uint256.Int).Sub(half, uint256.NewInt(1))
		lo = new(uint256.Int).Neg(half)
	} else {
		lo = new(uint256.Int)
		hi = bitlattice.Mask(n)
	}
	if v.Range != nil && span(v.Range, v.Type).Lt(new(uint256.Int).Sub(hi, lo)) {
		return
	}
	m := bitlattice.Mask(w)
	v.Range = &ir.Range{
		Min: new(uint256.Int).And(lo, m),
		Max: new(uint256.Int).And(hi, m),
	}
}

func span(r *ir.Range, t ir.Type) *uint256.Int {
	lo, hi := r.Min, r.Max
	if t.Signed {
		lo = bitlattice.SignedValue(lo, t.Width)
		hi = bitlattice.SignedValue(hi, t.Width)
	}
	return new(uint256.Int).Sub(hi, lo)
}

// dropTrailing removes the k least significant positions of bits. When
// nothing is left the value is its sign, or zero when unsigned.
func dropTrailing(bits string, k int, signed bool) string {
	if bits == "" {
		return ""
	}
	if len(bits) > k {
		return bits[:len(bits)-k]
	}
	if signed {
		return bits[:1]
	}
	return "0"
}

// shiftedOut returns the bitstring of a value v such that v<<k has bitstring
// bits. The k most significant positions of v are lost by the shift and
// stay unknown.
func shiftedOut(bits string, k int, t ir.Type) string {
	w := width(t)
	if bits == "" || k >= w {
		return ""
	}
	bs, err := bitlattice.Parse(bits)
	if err != nil {
		return ""
	}
	full := bitlattice.SignExtend(bs, t.Signed && !t.Bool, w).String()
	return strings.Repeat("U", k) + full[:w-k]
}

// shiftedIn returns the bitstring of v<<k where bits is the bitstring of
// the value v<<k is meant to replace, keeping its positions above k.
func shiftedIn(bits string, k int, t ir.Type) string {
	w := width(t)
	if bits == "" || k >= w {
		return ""
	}
	bs, err := bitlattice.Parse(bits)
	if err != nil {
		return ""
	}
	full := bitlattice.SignExtend(bs, t.Signed && !t.Bool, w).String()
	out, err := bitlattice.Parse(full[:w-k] + strings.Repeat("0", k))
	if err != nil {
		return ""
	}
	return bitlattice.SignReduce(out, t.Signed && !t.Bool).String()
}

func shiftAmount(k int, t ir.Type) *ir.Const {
	if t.Bool {
		t = ir.IntType(32, false)
	}
	return ir.ConstInt(int64(k), ir.IntType(t.Width, false))
}

// shiftConst shifts a literal right by k, arithmetically when signed.
func shiftConst(c *ir.Const, k int) *ir.Const {
	v := c.Val
	if c.Type.Signed {
		v = bitlattice.SignedValue(v, c.Type.Width)
		return ir.NewConst(new(uint256.Int).SRsh(v, uint(k)), c.Type)
	}
	return ir.NewConst(new(uint256.Int).Rsh(v, uint(k)), c.Type)
}

func width(t ir.Type) int {
	if t.Bool {
		return 1
	}
	return t.Width
}
