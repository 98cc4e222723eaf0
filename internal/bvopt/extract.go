package bvopt

import (
	"fmt"
	"math/bits"

	"hlsbv/internal/ir"
)

// extractBit pushes a single-bit extraction through the statement defining
// its operand.
func (o *optimizer) extractBit(s *ir.Assign, e *ir.BinaryExpr) (*edit, error) {
	pc, ok := e.Y.(*ir.Const)
	if !ok {
		return nil, fmt.Errorf("extract_bit at variable position %s: %w", e.Y, ir.ErrUnsupported)
	}
	pos := bitPosition(pc)
	if c, ok := e.X.(*ir.Const); ok {
		return forwardTo("extract_const", ir.ConstBool(constBit(c, pos))), nil
	}
	x, ok := e.X.(*ir.Value)
	if !ok {
		return nil, nil
	}
	if x.Type.Bool {
		if pos == 0 {
			return forwardTo("extract_bool", x), nil
		}
		return forwardTo("extract_bool", ir.ConstBool(false)), nil
	}
	if size := effSize(x); pos >= size {
		if x.Type.Signed {
			return replaceExpr("extract_sign", &ir.BinaryExpr{Op: ir.ExtractBit, X: x, Y: position(size - 1)}), nil
		}
		return forwardTo("extract_zero", ir.ConstBool(false)), nil
	}
	def, ok := o.ix.Def(x).(*ir.Assign)
	if !ok {
		return nil, nil
	}
	switch d := def.Expr.(type) {
	case *ir.UnaryExpr:
		return o.extractUnary(d, pos), nil
	case *ir.BinaryExpr:
		return o.extractBinary(d, pos), nil
	case *ir.ConcatExpr:
		if pos < d.Offset {
			return o.extractOf("extract_concat", d.Lo, pos), nil
		}
		return o.extractOf("extract_concat", d.Hi, pos), nil
	case *ir.CondExpr:
		b := newBuilder(o.fn, "extract_cond")
		then := b.bit(d.Then, pos)
		els := b.bit(d.Else, pos)
		b.e.expr = &ir.CondExpr{Cond: d.Cond, Then: then, Else: els}
		return b.done(), nil
	}
	return nil, nil
}

func (o *optimizer) extractUnary(d *ir.UnaryExpr, pos int) *edit {
	switch d.Op {
	case ir.Copy, ir.Convert:
		return o.extractOf("extract_convert", d.X, pos)
	case ir.BitNot:
		b := newBuilder(o.fn, "extract_not")
		t := b.bit(d.X, pos)
		b.e.expr = &ir.UnaryExpr{Op: ir.TruthNot, X: t}
		return b.done()
	}
	return nil
}

func (o *optimizer) extractBinary(d *ir.BinaryExpr, pos int) *edit {
	switch d.Op {
	case ir.BitAnd, ir.BitOr, ir.BitXor:
		if m, ok := d.Y.(*ir.Const); ok && d.Op == ir.BitAnd {
			if !constBit(m, pos) {
				return forwardTo("extract_mask", ir.ConstBool(false))
			}
			return o.extractOf("extract_mask", d.X, pos)
		}
		if m, ok := d.X.(*ir.Const); ok && d.Op == ir.BitAnd {
			if !constBit(m, pos) {
				return forwardTo("extract_mask", ir.ConstBool(false))
			}
			return o.extractOf("extract_mask", d.Y, pos)
		}
		b := newBuilder(o.fn, "extract_bitwise")
		x := b.bit(d.X, pos)
		y := b.bit(d.Y, pos)
		b.e.expr = &ir.BinaryExpr{Op: truthOf(d.Op), X: x, Y: y}
		return b.done()
	case ir.Lshift:
		s, ok := shiftBy(d.Y)
		if !ok {
			return nil
		}
		if pos < s {
			return forwardTo("extract_lshift", ir.ConstBool(false))
		}
		return o.extractOf("extract_lshift", d.X, pos-s)
	case ir.Rshift:
		if c, ok := d.X.(*ir.Const); ok {
			return o.extractShiftedConst(c, d.Y, pos)
		}
		s, ok := shiftBy(d.Y)
		if !ok {
			return nil
		}
		return o.extractOf("extract_rshift", d.X, pos+s)
	case ir.Plus:
		if c, ok := d.Y.(*ir.Const); ok {
			return o.extractSum(d.X, c, pos)
		}
		if c, ok := d.X.(*ir.Const); ok {
			return o.extractSum(d.Y, c, pos)
		}
	}
	return nil
}

// extractShiftedConst turns bit pos of C >> v into a lookup table indexed by
// the low bits of v.
func (o *optimizer) extractShiftedConst(c *ir.Const, amount ir.Operand, pos int) *edit {
	v, ok := amount.(*ir.Value)
	if !ok {
		return nil
	}
	l := bits.Len(uint(width(c.Type) - 1))
	if l == 0 || l > o.opts.MaxLUTSize || l > 6 || !fitsUnsigned(v, l) {
		return nil
	}
	b := newBuilder(o.fn, "extract_lut")
	inputs := make([]ir.Operand, l)
	for i := range inputs {
		inputs[i] = b.bit(v, i)
	}
	var table uint64
	for idx := 0; idx < 1<<l; idx++ {
		if constBit(c, pos+idx) {
			table |= 1 << uint(idx)
		}
	}
	b.e.expr = &ir.LutExpr{Table: table, Inputs: inputs}
	return b.done()
}

// extractSum unrolls the ripple carry chain of x + c up to bit pos.
func (o *optimizer) extractSum(x ir.Operand, c *ir.Const, pos int) *edit {
	if pos+1 > o.opts.MaxLUTSize {
		return nil
	}
	b := newBuilder(o.fn, "extract_plus")
	var carry ir.Operand = ir.ConstBool(false)
	for i := 0; ; i++ {
		a := b.bit(x, i)
		ci := constBit(c, i)
		var sum ir.Expr
		if ci {
			sum = &ir.UnaryExpr{Op: ir.TruthNot, X: b.truth(ir.TruthXor, a, carry)}
		} else {
			sum = &ir.BinaryExpr{Op: ir.TruthXor, X: a, Y: carry}
		}
		if i == pos {
			b.e.expr = sum
			return b.done()
		}
		if ci {
			carry = b.truth(ir.TruthOr, a, carry)
		} else {
			carry = b.truth(ir.TruthAnd, a, carry)
		}
	}
}

// extractOf builds the edit making the statement read bit pos of op.
func (o *optimizer) extractOf(rule string, op ir.Operand, pos int) *edit {
	switch x := op.(type) {
	case *ir.Const:
		return forwardTo(rule, ir.ConstBool(constBit(x, pos)))
	case *ir.Value:
		if x.Type.Bool {
			if pos == 0 {
				return forwardTo(rule, x)
			}
			return forwardTo(rule, ir.ConstBool(false))
		}
		if pos >= width(x.Type) {
			if !x.Type.Signed {
				return forwardTo(rule, ir.ConstBool(false))
			}
			pos = width(x.Type) - 1
		}
		return replaceExpr(rule, &ir.BinaryExpr{Op: ir.ExtractBit, X: x, Y: position(pos)})
	}
	return nil
}

// bit returns an operand holding bit pos of op, emitting the extraction when
// op is not a literal.
func (b *builder) bit(op ir.Operand, pos int) ir.Operand {
	switch x := op.(type) {
	case *ir.Const:
		return ir.ConstBool(constBit(x, pos))
	case *ir.Value:
		if x.Type.Bool {
			if pos == 0 {
				return x
			}
			return ir.ConstBool(false)
		}
		if pos >= width(x.Type) {
			if !x.Type.Signed {
				return ir.ConstBool(false)
			}
			pos = width(x.Type) - 1
		}
		return b.emit("bit", ir.BoolType(), &ir.BinaryExpr{Op: ir.ExtractBit, X: x, Y: position(pos)}, "")
	}
	return op
}

// truth emits x op y over bools, folding literal operands.
func (b *builder) truth(op ir.BinaryOp, x, y ir.Operand) ir.Operand {
	if xc, ok := x.(*ir.Const); ok {
		if yc, ok := y.(*ir.Const); ok {
			return ir.ConstBool(evalTruth(op, !xc.IsZero(), !yc.IsZero()))
		}
		x, y = y, x
	}
	if c, ok := y.(*ir.Const); ok {
		switch {
		case op == ir.TruthAnd && c.IsZero():
			return ir.ConstBool(false)
		case op == ir.TruthOr && !c.IsZero():
			return ir.ConstBool(true)
		case op == ir.TruthXor && !c.IsZero():
			return b.emit("not", ir.BoolType(), &ir.UnaryExpr{Op: ir.TruthNot, X: x}, "")
		}
		return x
	}
	return b.emit("t", ir.BoolType(), &ir.BinaryExpr{Op: op, X: x, Y: y}, "")
}

func evalTruth(op ir.BinaryOp, x, y bool) bool {
	switch op {
	case ir.TruthAnd:
		return x && y
	case ir.TruthOr:
		return x || y
	}
	return x != y
}

func truthOf(op ir.BinaryOp) ir.BinaryOp {
	switch op {
	case ir.BitAnd:
		return ir.TruthAnd
	case ir.BitOr:
		return ir.TruthOr
	}
	return ir.TruthXor
}

// shiftBy returns a literal shift amount.
func shiftBy(op ir.Operand) (int, bool) {
	c, ok := op.(*ir.Const)
	if !ok || !c.Val.IsUint64() || c.Val.Uint64() >= 1<<16 {
		return 0, false
	}
	return int(c.Val.Uint64()), true
}

// fitsUnsigned reports whether v is known to be below 1<<n.
func fitsUnsigned(v *ir.Value, n int) bool {
	if v.Type.Signed {
		return v.BitValues != "" && v.BitValues[0] == '0' && len(v.BitValues) <= n+1
	}
	return effSize(v) <= n
}

func bitPosition(c *ir.Const) int {
	if !c.Val.IsUint64() || c.Val.Uint64() >= 1<<16 {
		return 1 << 16
	}
	return int(c.Val.Uint64())
}
