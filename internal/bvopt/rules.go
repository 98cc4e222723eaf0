package bvopt

import (
	"strings"

	"github.com/holiman/uint256"

	"hlsbv/internal/bitlattice"
	"hlsbv/internal/ir"
)

// rewrite picks the edit for s, or nil when no rule matches.
func (o *optimizer) rewrite(s *ir.Assign) (*edit, error) {
	c, ok, err := constantOf(s.Dest)
	if err != nil {
		return nil, err
	}
	if ok {
		if u, isCopy := s.Expr.(*ir.UnaryExpr); isCopy && u.Op == ir.Copy {
			if lit, isLit := u.X.(*ir.Const); isLit && lit.Type == s.Dest.Type {
				c = lit
			}
		}
		return forwardTo("constant", c), nil
	}
	switch e := s.Expr.(type) {
	case *ir.UnaryExpr:
		return o.unary(s, e), nil
	case *ir.BinaryExpr:
		return o.binary(s, e)
	case *ir.CondExpr:
		return o.cond(s, e), nil
	}
	return nil, nil
}

func (o *optimizer) unary(s *ir.Assign, e *ir.UnaryExpr) *edit {
	dest := s.Dest
	switch e.Op {
	case ir.Copy:
		if c, ok := e.X.(*ir.Const); ok {
			if c.Type == dest.Type {
				return forwardTo("copy", c)
			}
			return nil
		}
		x, ok := e.X.(*ir.Value)
		if !ok || x.Type != dest.Type {
			return nil
		}
		bits := dest.BitValues
		if bits != "" && bits[0] == '0' && len(bits) < width(dest.Type) && !dest.Type.Bool {
			mask := ir.NewConst(bitlattice.Mask(len(bits)-1), dest.Type)
			return &edit{rule: "copy_mask", expr: &ir.BinaryExpr{Op: ir.BitAnd, X: x, Y: mask}, keep: true}
		}
		return forwardTo("copy", x)
	case ir.Convert:
		if !dest.Type.Bool {
			return nil
		}
		if e.X.OperandType().Bool {
			return forwardTo("convert_bool", e.X)
		}
		if _, ok := e.X.(*ir.Value); ok {
			return replaceExpr("convert_bool", &ir.BinaryExpr{Op: ir.ExtractBit, X: e.X, Y: position(0)})
		}
	case ir.TruthNot:
		if c, ok := e.X.(*ir.Const); ok {
			return forwardTo("truth_not", ir.ConstBool(c.IsZero()))
		}
	}
	return nil
}

func (o *optimizer) binary(s *ir.Assign, e *ir.BinaryExpr) (*edit, error) {
	switch e.Op {
	case ir.Mult, ir.WidenMult:
		return o.mult(s, e), nil
	case ir.Plus, ir.Minus:
		return o.plusMinus(s, e), nil
	case ir.Eq, ir.Ne:
		return o.eqNe(s, e), nil
	case ir.Lt, ir.Le, ir.Gt, ir.Ge:
		return o.relational(e), nil
	case ir.BitAnd, ir.BitXor:
		return o.bitwise(s, e), nil
	case ir.BitOr:
		if isZeroConst(e.X) && e.Y.OperandType() == s.Dest.Type {
			return forwardTo("bit_ior", e.Y), nil
		}
		if isZeroConst(e.Y) && e.X.OperandType() == s.Dest.Type {
			return forwardTo("bit_ior", e.X), nil
		}
	case ir.TruthAnd, ir.TruthOr, ir.TruthXor:
		return truth(e), nil
	case ir.ExtractBit:
		return o.extractBit(s, e)
	}
	return nil, nil
}

func (o *optimizer) mult(s *ir.Assign, e *ir.BinaryExpr) *edit {
	dest := s.Dest
	out := resize(effSize(dest))
	in0, in1 := effSize(e.X), effSize(e.Y)
	in := maxInt(resize(in0), resize(in1))
	switch {
	case e.Op == ir.Mult && 2*in == out:
		return replaceExpr("widen_mult", &ir.BinaryExpr{Op: ir.WidenMult, X: e.X, Y: e.Y})
	case e.Op == ir.WidenMult && in == out:
		return replaceExpr("mult", &ir.BinaryExpr{Op: ir.Mult, X: e.X, Y: e.Y})
	}
	if e.Op == ir.Mult && !dest.Type.Signed && (isOneBit(e.X) || isOneBit(e.Y)) {
		sel, other := e.Y, e.X
		if !isOneBit(e.Y) {
			sel, other = e.X, e.Y
		}
		b := newBuilder(o.fn, "mult_one_bit")
		nz := b.emit("nz", ir.BoolType(), &ir.BinaryExpr{Op: ir.Ne, X: sel, Y: ir.ConstInt(0, sel.OperandType())}, "")
		b.e.expr = &ir.CondExpr{Cond: nz, Then: other, Else: ir.ConstInt(0, dest.Type)}
		return b.done()
	}
	k0, k1 := trailingZeros(e.X), trailingZeros(e.Y)
	if k0 == 0 && k1 == 0 {
		return nil
	}
	b := newBuilder(o.fn, "mult_trailing_zeros")
	var x, y ir.Operand
	total := k0 + k1
	if sameValue(e.X, e.Y) {
		x = b.shiftRight(e.X, k0)
		y = x
		total = 2 * k0
	} else {
		x, y = e.X, e.Y
		if k0 > 0 {
			x = b.shiftRight(e.X, k0)
		}
		if k1 > 0 {
			y = b.shiftRight(e.Y, k1)
		}
	}
	if total >= width(dest.Type) {
		return nil
	}
	b.narrowResult(s, &ir.BinaryExpr{Op: e.Op, X: x, Y: y}, total)
	return b.done()
}

func (o *optimizer) plusMinus(s *ir.Assign, e *ir.BinaryExpr) *edit {
	dest := s.Dest
	plus := e.Op == ir.Plus
	if sameValue(e.X, e.Y) {
		if plus {
			return replaceExpr("plus_self", &ir.BinaryExpr{Op: ir.Lshift, X: e.X, Y: shiftAmount(1, dest.Type)})
		}
		return replaceExpr("minus_self", &ir.UnaryExpr{Op: ir.Copy, X: ir.ConstInt(0, dest.Type)})
	}
	k0, null0 := 0, false
	if plus {
		k0, null0 = trailingZeros(e.X), isNull(e.X)
	}
	k1, null1 := trailingZeros(e.Y), isNull(e.Y)
	switch {
	case null0 && e.Y.OperandType() == dest.Type:
		return forwardTo("plus_null", e.Y)
	case null1 && e.X.OperandType() == dest.Type:
		return forwardTo("plus_minus_null", e.X)
	case k0 > 0 || k1 > 0:
		return o.narrowSum(s, e, k0, k1)
	case !plus && isZeroConst(e.X):
		return replaceExpr("negate", &ir.UnaryExpr{Op: ir.Negate, X: e.Y})
	}
	return nil
}

// narrowSum rewrites x op y where one operand has k trailing zeros as
// ((x>>k) op (y>>k)) << k concatenated with the low k bits of the other
// operand, which pass through unchanged.
func (o *optimizer) narrowSum(s *ir.Assign, e *ir.BinaryExpr, k0, k1 int) *edit {
	dest := s.Dest
	plus := e.Op == ir.Plus
	k := k1
	low := e.X
	if k0 > k1 {
		k, low = k0, e.Y
	}
	if k >= width(dest.Type) {
		return nil
	}
	b := newBuilder(o.fn, "plus_minus_trailing_zeros")
	x, xNull := b.narrowOperand(e.X, k)
	y, yNull := b.narrowOperand(e.Y, k)
	xNull = xNull && plus
	var hi ir.Expr
	switch {
	case xNull && yNull:
		hi = &ir.UnaryExpr{Op: ir.Copy, X: ir.ConstInt(0, dest.Type)}
	case xNull:
		hi = &ir.UnaryExpr{Op: ir.Copy, X: y}
	case yNull:
		hi = &ir.UnaryExpr{Op: ir.Copy, X: x}
	default:
		hi = &ir.BinaryExpr{Op: e.Op, X: x, Y: y}
	}
	sum := b.emit("sum", dest.Type, hi, shiftedOut(dest.BitValues, k, dest.Type))
	shl := b.emit("shl", dest.Type, &ir.BinaryExpr{Op: ir.Lshift, X: sum, Y: shiftAmount(k, dest.Type)}, shiftedIn(dest.BitValues, k, dest.Type))
	if !lowBitsNeeded(dest.BitValues, k) {
		b.e.expr = &ir.UnaryExpr{Op: ir.Copy, X: shl}
		return b.done()
	}
	if c, ok := low.(*ir.Const); ok {
		low = ir.NewConst(new(uint256.Int).And(c.Val, bitlattice.Mask(k)), c.Type)
	}
	b.e.expr = &ir.ConcatExpr{Hi: shl, Lo: low, Offset: k}
	return b.done()
}

// narrowOperand shifts op right by k and reports whether what is left is
// known to be zero.
func (b *builder) narrowOperand(op ir.Operand, k int) (ir.Operand, bool) {
	switch o := op.(type) {
	case *ir.Const:
		c := shiftConst(o, k)
		return c, c.IsZero()
	case *ir.Value:
		if o.BitValues != "" && dropTrailing(o.BitValues, k, o.Type.Signed) == "0" {
			return o, true
		}
	}
	return b.shiftRight(op, k), false
}

// lowBitsNeeded reports whether any of the k least significant positions of
// bits may be one.
func lowBitsNeeded(bits string, k int) bool {
	if bits == "" {
		return true
	}
	for i := len(bits) - 1; i >= 0 && len(bits)-1-i < k; i-- {
		if bits[i] == '1' || bits[i] == 'U' {
			return true
		}
	}
	return len(bits) < k && bits[0] != '0' && bits[0] != 'X'
}

func (o *optimizer) eqNe(s *ir.Assign, e *ir.BinaryExpr) *edit {
	if sameValue(e.X, e.Y) {
		return forwardTo("eq_ne_self", ir.ConstBool(e.Op == ir.Eq))
	}
	if e.Op == ir.Ne && isZeroConst(e.Y) {
		if e.X.OperandType().Bool {
			return forwardTo("ne_zero", e.X)
		}
		if x, ok := e.X.(*ir.Value); ok && isOneBit(x) {
			b := newBuilder(o.fn, "ne_zero")
			low := b.emit("low", x.Type, &ir.BinaryExpr{Op: ir.BitAnd, X: x, Y: ir.ConstInt(1, x.Type)}, oneBitString(x.Type))
			b.e.expr = &ir.UnaryExpr{Op: ir.Convert, X: low}
			return b.done()
		}
	}
	return o.relational(e)
}

// relational drops the trailing positions on which both operands of a
// comparison agree.
func (o *optimizer) relational(e *ir.BinaryExpr) *edit {
	s0, s1, ok := alignedBits(e.X, e.Y)
	if !ok {
		return nil
	}
	k := 0
	for i, j := len(s0)-1, len(s1)-1; i >= 0 && j >= 0; i, j = i-1, j-1 {
		a, c := s0[i], s1[j]
		if (a == c && (a == '0' || a == '1')) || a == 'X' || c == 'X' {
			k++
			continue
		}
		break
	}
	if k == 0 || !narrowable(e.X, k) || !narrowable(e.Y, k) {
		return nil
	}
	b := newBuilder(o.fn, "rel_trailing")
	x := b.shiftRight(e.X, k)
	y := b.shiftRight(e.Y, k)
	b.e.expr = &ir.BinaryExpr{Op: e.Op, X: x, Y: y}
	return b.done()
}

// bitwise narrows and/xor over the trailing positions where the result does
// not depend on the operands.
func (o *optimizer) bitwise(s *ir.Assign, e *ir.BinaryExpr) *edit {
	s0, s1, ok := alignedBits(e.X, e.Y)
	if !ok {
		return nil
	}
	k := 0
	for i, j := len(s0)-1, len(s1)-1; i >= 0 && j >= 0; i, j = i-1, j-1 {
		a, c := s0[i], s1[j]
		if (e.Op == ir.BitAnd && (a == '0' || c == '0')) || a == 'X' || c == 'X' {
			k++
			continue
		}
		break
	}
	if k == 0 || k >= width(s.Dest.Type) {
		return nil
	}
	b := newBuilder(o.fn, "bit_trailing")
	x := b.shiftRight(e.X, k)
	y := b.shiftRight(e.Y, k)
	b.narrowResult(s, &ir.BinaryExpr{Op: e.Op, X: x, Y: y}, k)
	return b.done()
}

func (o *optimizer) cond(s *ir.Assign, e *ir.CondExpr) *edit {
	dest := s.Dest
	if c, ok := e.Cond.(*ir.Value); ok && !c.Type.Bool {
		if def, ok := o.ix.Def(c).(*ir.Assign); ok {
			if u, ok := def.Expr.(*ir.UnaryExpr); ok && (u.Op == ir.Convert || u.Op == ir.Copy) && u.X.OperandType().Bool {
				return replaceExpr("cond_bool", &ir.CondExpr{Cond: u.X, Then: e.Then, Else: e.Else})
			}
		}
	}
	if sameValue(e.Then, e.Else) && e.Then.OperandType() == dest.Type {
		return forwardTo("cond_same", e.Then)
	}
	if c, ok := e.Cond.(*ir.Const); ok {
		arm := e.Then
		if c.IsZero() {
			arm = e.Else
		}
		if arm.OperandType() == dest.Type {
			return forwardTo("cond_const", arm)
		}
		return nil
	}
	if e.Cond.OperandType().Bool && !dest.Type.Bool {
		switch {
		case isConstValue(e.Then, 1) && isConstValue(e.Else, 0):
			return replaceExpr("cond_to_convert", &ir.UnaryExpr{Op: ir.Convert, X: e.Cond})
		case isConstValue(e.Then, 0) && isConstValue(e.Else, 1):
			b := newBuilder(o.fn, "cond_to_not")
			not := b.emit("not", ir.BoolType(), &ir.UnaryExpr{Op: ir.TruthNot, X: e.Cond}, "")
			b.e.expr = &ir.UnaryExpr{Op: ir.Convert, X: not}
			return b.done()
		}
	}
	k := trailingCondZeros(e.Then, e.Else)
	if k == 0 || k >= width(dest.Type) {
		return nil
	}
	b := newBuilder(o.fn, "cond_trailing")
	then := b.shiftRight(e.Then, k)
	els := b.shiftRight(e.Else, k)
	b.narrowResult(s, &ir.CondExpr{Cond: e.Cond, Then: then, Else: els}, k)
	return b.done()
}

// trailingCondZeros counts the trailing positions where both arms are zero
// or don't care, leaving at least one position of the shorter arm.
func trailingCondZeros(then, els ir.Operand) int {
	s0, s1 := bitsOf(then), bitsOf(els)
	precision := maxInt(len(s0), len(s1))
	if c, ok := then.(*ir.Const); ok {
		s0 = constBinary(c, maxInt(precision, width(c.Type)))
	}
	if c, ok := els.(*ir.Const); ok {
		s1 = constBinary(c, maxInt(precision, width(c.Type)))
	}
	n := minInt(len(s0), len(s1))
	k := 0
	for i := 0; i < n-1; i++ {
		a, c := s0[len(s0)-1-i], s1[len(s1)-1-i]
		if (a == '0' || a == 'X') && (c == '0' || c == 'X') {
			k++
			continue
		}
		break
	}
	return k
}

func truth(e *ir.BinaryExpr) *edit {
	if c, ok := e.X.(*ir.Const); ok {
		return truthWithConst(e.Op, c, e.Y)
	}
	if c, ok := e.Y.(*ir.Const); ok {
		return truthWithConst(e.Op, c, e.X)
	}
	if sameValue(e.X, e.Y) {
		if e.Op == ir.TruthXor {
			return forwardTo("truth_self", ir.ConstBool(false))
		}
		return forwardTo("truth_self", e.X)
	}
	return nil
}

func truthWithConst(op ir.BinaryOp, c *ir.Const, other ir.Operand) *edit {
	zero := c.IsZero()
	switch op {
	case ir.TruthAnd:
		if zero {
			return forwardTo("truth_and", ir.ConstBool(false))
		}
		return forwardTo("truth_and", other)
	case ir.TruthOr:
		if zero {
			return forwardTo("truth_or", other)
		}
		return forwardTo("truth_or", ir.ConstBool(true))
	}
	if zero {
		return forwardTo("truth_xor", other)
	}
	return replaceExpr("truth_xor", &ir.UnaryExpr{Op: ir.TruthNot, X: other})
}

// constantOf returns the literal described by the bitstring of v when no
// position is unknown. Don't-care positions read as zero.
func constantOf(v *ir.Value) (*ir.Const, bool, error) {
	if v.BitValues == "" || strings.ContainsRune(v.BitValues, 'U') {
		return nil, false, nil
	}
	bs, err := bitlattice.Parse(v.BitValues)
	if err != nil {
		return nil, false, err
	}
	w := width(v.Type)
	return ir.NewConst(bitlattice.ToInteger(bs, w, v.Type.Signed && !v.Type.Bool), v.Type), true, nil
}

// alignedBits returns the bitstrings compared by the trailing scans. At
// least one operand must carry a bitstring; a literal is rendered over the
// same precision.
func alignedBits(x, y ir.Operand) (string, string, bool) {
	s0, s1 := bitsOf(x), bitsOf(y)
	var precision int
	if s0 != "" && s1 != "" {
		precision = minInt(len(s0), len(s1))
	} else {
		precision = maxInt(len(s0), len(s1))
	}
	if precision == 0 {
		return "", "", false
	}
	if c, ok := x.(*ir.Const); ok {
		s0 = constBinary(c, precision)
	}
	if c, ok := y.(*ir.Const); ok {
		s1 = constBinary(c, precision)
	}
	if s0 == "" || s1 == "" {
		return "", "", false
	}
	return s0, s1, true
}

// narrowable reports whether op keeps at least one meaningful position
// after dropping k trailing ones.
func narrowable(op ir.Operand, k int) bool {
	if k >= width(op.OperandType()) {
		return false
	}
	if v, ok := op.(*ir.Value); ok && v.BitValues != "" {
		return k < len(v.BitValues)
	}
	return true
}

func bitsOf(op ir.Operand) string {
	if v, ok := op.(*ir.Value); ok {
		return v.BitValues
	}
	return ""
}

// constBinary renders the n least significant bits of c, MSB first.
func constBinary(c *ir.Const, n int) string {
	v := c.Val
	if c.Type.Signed {
		v = bitlattice.SignedValue(v, c.Type.Width)
	}
	var sb strings.Builder
	for i := n - 1; i >= 0; i-- {
		if bitAt(v, i) {
			sb.WriteByte('1')
		} else {
			sb.WriteByte('0')
		}
	}
	return sb.String()
}

func bitAt(v *uint256.Int, i int) bool {
	if i >= bitlattice.MaxWidth {
		i = bitlattice.MaxWidth - 1
	}
	return new(uint256.Int).Rsh(v, uint(i)).Uint64()&1 == 1
}

// constBit returns bit i of c extended by its signedness.
func constBit(c *ir.Const, i int) bool {
	v := c.Val
	if c.Type.Signed {
		v = bitlattice.SignedValue(v, c.Type.Width)
	} else if i >= width(c.Type) {
		return false
	}
	return bitAt(v, i)
}

// effSize is the number of significant bits of op: the bitstring length for
// values carrying one, the type width otherwise.
func effSize(op ir.Operand) int {
	w := width(op.OperandType())
	if v, ok := op.(*ir.Value); ok && v.BitValues != "" && len(v.BitValues) < w {
		return len(v.BitValues)
	}
	return w
}

// trailingZeros counts the trailing positions of op that are zero or don't
// care.
func trailingZeros(op ir.Operand) int {
	switch o := op.(type) {
	case *ir.Value:
		k := 0
		for i := len(o.BitValues) - 1; i >= 0; i-- {
			if o.BitValues[i] != '0' && o.BitValues[i] != 'X' {
				break
			}
			k++
		}
		if k >= len(o.BitValues) {
			return 0
		}
		return k
	case *ir.Const:
		if o.IsZero() {
			return 0
		}
		k := 0
		for !bitAt(o.Val, k) {
			k++
		}
		return k
	}
	return 0
}

func isNull(op ir.Operand) bool {
	switch o := op.(type) {
	case *ir.Value:
		return o.BitValues == "0"
	case *ir.Const:
		return o.IsZero()
	}
	return false
}

func isZeroConst(op ir.Operand) bool {
	c, ok := op.(*ir.Const)
	return ok && c.IsZero()
}

func isConstValue(op ir.Operand, v uint64) bool {
	c, ok := op.(*ir.Const)
	return ok && c.Val.IsUint64() && c.Val.Uint64() == v
}

// isOneBit reports whether an unsigned value is known to be 0 or 1.
func isOneBit(op ir.Operand) bool {
	v, ok := op.(*ir.Value)
	if !ok || v.Type.Signed {
		return false
	}
	return v.Type.Bool || len(v.BitValues) == 1
}

func oneBitString(t ir.Type) string {
	if t.Signed {
		return "0U"
	}
	return "U"
}

func sameValue(a, b ir.Operand) bool {
	switch x := a.(type) {
	case *ir.Value:
		return a == b
	case *ir.Const:
		y, ok := b.(*ir.Const)
		return ok && x.Type == y.Type && x.Val.Eq(y.Val)
	}
	return false
}

func position(k int) *ir.Const {
	return ir.ConstInt(int64(k), ir.IntType(32, false))
}

// resize rounds a width up to the next hardware word size.
func resize(n int) int {
	if n <= 1 {
		return 1
	}
	w := 8
	for w < n {
		w *= 2
	}
	return w
}

func maxInt(a, b int) int {
	if a > b {
		return a
	}
	return b
}

func minInt(a, b int) int {
	if a < b {
		return a
	}
	return b
}
