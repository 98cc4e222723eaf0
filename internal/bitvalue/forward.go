package bitvalue

import (
	"fmt"

	"hlsbv/internal/bitlattice"
	"hlsbv/internal/ir"
)

// constBits is the reduced bitstring of a literal.
func constBits(c *ir.Const) bitlattice.Bitstring {
	bs := bitlattice.FromConstant(c.Val, typeSize(c.Type), c.Type.Signed)
	return bitlattice.SignReduce(bs, c.Type.Signed)
}

// operand returns what the running sweep knows about op: the current value
// of an SSA operand, or all U when the sweep has not reached it yet.
func (a *analyzer) operand(op ir.Operand) bitlattice.Bitstring {
	switch o := op.(type) {
	case *ir.Const:
		return constBits(o)
	case *ir.Value:
		if bs, ok := a.tab.Current(o.ID); ok {
			return bs
		}
		return bitlattice.NewU(typeSize(o.Type))
	}
	panic(fmt.Sprintf("bitvalue: unexpected operand %T", op))
}

// bestOf returns the converged value of op.
func (a *analyzer) bestOf(op ir.Operand) bitlattice.Bitstring {
	switch o := op.(type) {
	case *ir.Const:
		return constBits(o)
	case *ir.Value:
		if f, ok := a.tab.Lookup(o.ID); ok {
			return f.Bits
		}
		return bitlattice.NewU(typeSize(o.Type))
	}
	panic(fmt.Sprintf("bitvalue: unexpected operand %T", op))
}

func signed(op ir.Operand) bool { return op.OperandType().Signed }

func isBool(op ir.Operand) bool { return op.OperandType().Bool }

// alignPair sign extends the shorter of x and y, each by its own
// signedness.
func alignPair(x, y bitlattice.Bitstring, xs, ys bool) (bitlattice.Bitstring, bitlattice.Bitstring) {
	switch {
	case len(x) > len(y):
		y = bitlattice.SignExtend(y, ys, len(x))
	case len(y) > len(x):
		x = bitlattice.SignExtend(x, xs, len(y))
	}
	return x, y
}

// padUnsignedX turns a lone X of an unsigned integer into 0X so that the
// implicit extension does not spread the don't care.
func padUnsignedX(bs bitlattice.Bitstring, op ir.Operand) bitlattice.Bitstring {
	if len(bs) == 1 && bs[0] == bX && !isBool(op) && !signed(op) {
		return bitlattice.Bitstring{b0, bX}
	}
	return bs
}

// truthValue folds a bitstring into one bit: ONE when any bit is ONE, U when
// a U precedes it, ZERO otherwise.
func truthValue(bs bitlattice.Bitstring) bitlattice.Bit {
	res := b0
	for _, b := range bs {
		if b == b1 {
			return b1
		}
		if b == bU {
			res = bU
		}
	}
	return res
}

// fromLSB builds an MSB-first string from bits produced LSB first.
func fromLSB(rev []bitlattice.Bit) bitlattice.Bitstring {
	out := make(bitlattice.Bitstring, len(rev))
	for i, b := range rev {
		out[len(rev)-1-i] = b
	}
	return out
}

// forward computes the value of s.Dest from the operands' current values.
// A nil result carries no information.
func (a *analyzer) forward(s *ir.Assign) (bitlattice.Bitstring, error) {
	out := s.Dest.Type
	outSize := typeSize(out)
	switch e := s.Expr.(type) {
	case *ir.UnaryExpr:
		return a.forwardUnary(e, out), nil
	case *ir.BinaryExpr:
		return a.forwardBinary(e, out), nil
	case *ir.ConcatExpr:
		hi, lo := alignPair(a.operand(e.Hi), a.operand(e.Lo), signed(e.Hi), signed(e.Lo))
		rev := make([]bitlattice.Bit, 0, len(hi))
		for i := 0; i < len(hi); i++ {
			if i < e.Offset {
				rev = append(rev, lo.At(i))
			} else {
				rev = append(rev, hi.At(i))
			}
		}
		return fromLSB(rev), nil
	case *ir.CondExpr:
		switch truthValue(a.operand(e.Cond)) {
		case b0:
			return a.operand(e.Else), nil
		case b1:
			return a.operand(e.Then), nil
		}
		then, els := alignPair(a.operand(e.Then), a.operand(e.Else), signed(e.Then), signed(e.Else))
		return bitlattice.Sup(then, els, outSize, out.Signed, out.Bool), nil
	case *ir.LutExpr:
		return bitlattice.NewU(1), nil
	case *ir.CallExpr:
		if e.Indirect || e.Callee == nil || e.Callee.BitValues == "" {
			return bitlattice.NewU(outSize), nil
		}
		bs, err := bitlattice.Parse(e.Callee.BitValues)
		if err != nil {
			return nil, fmt.Errorf("callee %s: %w", e.Callee.Name, err)
		}
		return bs, nil
	}
	return nil, fmt.Errorf("%s: %T: %w", s.Dest.Name, s.Expr, ErrUnsupported)
}

func (a *analyzer) forwardUnary(e *ir.UnaryExpr, out ir.Type) bitlattice.Bitstring {
	outSize := typeSize(out)
	arg := a.operand(e.X)
	switch e.Op {
	case ir.Copy:
		return arg
	case ir.Convert:
		res := arg
		right := e.X.OperandType()
		keepNarrow := out.Signed && outSize == 1 && right.Bool
		if out.Signed != right.Signed && !keepNarrow && len(res) < outSize {
			res = bitlattice.SignExtend(res, right.Signed, outSize)
		}
		return bitlattice.Truncate(res, outSize)
	case ir.Negate:
		if !out.Signed && len(arg) < outSize {
			arg = bitlattice.SignExtend(arg, false, outSize)
		}
		return negate(arg, outSize, out.Signed)
	case ir.Abs:
		switch arg.Front() {
		case b0:
			return arg
		case b1:
			return negate(arg, typeSize(e.X.OperandType()), true)
		default:
			neg := negate(arg, typeSize(e.X.OperandType()), true)
			return bitlattice.Sup(arg, neg, outSize, out.Signed, out.Bool)
		}
	case ir.BitNot:
		arg = padUnsignedX(arg, e.X)
		if len(arg) < outSize {
			arg = bitlattice.SignExtend(arg, signed(e.X), outSize)
		}
		rev := make([]bitlattice.Bit, 0, outSize)
		for i := 0; i < outSize && i < len(arg); i++ {
			rev = append(rev, xorTable[arg.At(i)][b1])
		}
		return fromLSB(rev)
	case ir.TruthNot:
		return bitlattice.Bitstring{xorTable[truthValue(arg)][b1]}
	}
	return nil
}

// negate computes 0 - arg over at most size bits. A signed result gets one
// more bit from the sign position when it is shorter than size.
func negate(arg bitlattice.Bitstring, size int, signedOut bool) bitlattice.Bitstring {
	borrow := b0
	rev := make([]bitlattice.Bit, 0, len(arg)+1)
	for i := 0; i < size && i < len(arg); i++ {
		cell := minusTable[b0][arg.At(i)][borrow]
		rev = append(rev, cell.bit)
		borrow = cell.carry
	}
	if signedOut && len(rev) < size {
		rev = append(rev, minusTable[b0][arg.Front()][borrow].bit)
	}
	return fromLSB(rev)
}

func (a *analyzer) forwardBinary(e *ir.BinaryExpr, out ir.Type) bitlattice.Bitstring {
	outSize := typeSize(out)
	switch e.Op {
	case ir.Plus:
		x, y := alignPair(a.operand(e.X), a.operand(e.Y), signed(e.X), signed(e.Y))
		return ripple(&plusTable, x, y, outSize, out.Signed)
	case ir.Minus:
		x, y := alignPair(a.operand(e.X), a.operand(e.Y), signed(e.X), signed(e.Y))
		return ripple(&minusTable, x, y, outSize, out.Signed)
	case ir.Mult, ir.WidenMult:
		return multiply(a.operand(e.X), a.operand(e.Y), signed(e.X), signed(e.Y), outSize)
	case ir.Div:
		n := len(a.operand(e.X))
		if signed(e.X) {
			n++
		}
		return bitlattice.NewU(minInt(n, outSize))
	case ir.Mod:
		n := minInt(len(a.operand(e.X)), len(a.operand(e.Y)))
		if signed(e.X) {
			n++
		}
		return bitlattice.NewU(minInt(n, outSize))
	case ir.BitAnd, ir.BitOr, ir.BitXor:
		x, y := a.operand(e.X), a.operand(e.Y)
		table := &andTable
		if e.Op != ir.BitAnd {
			x, y = padUnsignedX(x, e.X), padUnsignedX(y, e.Y)
			table = &orTable
			if e.Op == ir.BitXor {
				table = &xorTable
			}
		}
		if len(x) < outSize {
			x = bitlattice.SignExtend(x, signed(e.X), outSize)
		}
		if len(y) < outSize {
			y = bitlattice.SignExtend(y, signed(e.Y), outSize)
		}
		rev := make([]bitlattice.Bit, 0, outSize)
		for i := 0; i < outSize && i < len(x) && i < len(y); i++ {
			rev = append(rev, table[x.At(i)][y.At(i)])
		}
		return fromLSB(rev)
	case ir.TruthAnd:
		return bitlattice.Bitstring{andTable[truthValue(a.operand(e.X))][truthValue(a.operand(e.Y))]}
	case ir.TruthOr:
		return bitlattice.Bitstring{orTable[truthValue(a.operand(e.X))][truthValue(a.operand(e.Y))]}
	case ir.TruthXor:
		return bitlattice.Bitstring{xorTable[truthValue(a.operand(e.X))][truthValue(a.operand(e.Y))]}
	case ir.Rshift:
		arg := a.operand(e.X)
		c, ok := e.Y.(*ir.Const)
		if !ok {
			return bitlattice.NewU(len(arg))
		}
		k := c.Int64()
		if k < 0 {
			return bitlattice.Bitstring{bX}
		}
		if int64(len(arg)) <= k {
			if signed(e.X) {
				return bitlattice.Bitstring{arg.Front()}
			}
			return bitlattice.Bitstring{b0}
		}
		return arg[:len(arg)-int(k)].Clone()
	case ir.Lshift:
		arg := a.operand(e.X)
		c, ok := e.Y.(*ir.Const)
		if !ok {
			amount := a.operand(e.Y)
			if len(amount) >= 31 {
				return bitlattice.NewU(outSize)
			}
			reach := 1 << len(amount)
			if outSize < reach || outSize < reach+len(arg) {
				return bitlattice.NewU(outSize)
			}
			return bitlattice.NewU(len(arg) + reach)
		}
		k := c.Int64()
		if k < 0 {
			return bitlattice.Bitstring{bX}
		}
		if int64(outSize) <= k {
			return bitlattice.Bitstring{b0}
		}
		res := bitlattice.Truncate(arg, typeSize(e.X.OperandType()))
		for i := int64(0); i < k; i++ {
			res = append(res, b0)
			if len(res) > outSize {
				res = res[1:]
			}
		}
		return res
	case ir.Lrotate, ir.Rrotate:
		c, ok := e.Y.(*ir.Const)
		if !ok {
			return bitlattice.NewU(outSize)
		}
		arg := a.operand(e.X)
		if outSize > len(arg) {
			arg = bitlattice.SignExtend(arg, signed(e.X), outSize)
		}
		return rotate(arg, int(c.Int64()), e.Op == ir.Lrotate)
	case ir.ExtractBit:
		arg := a.operand(e.X)
		k := e.Y.(*ir.Const).Int64()
		if int64(len(arg)) <= k {
			if signed(e.X) {
				return bitlattice.Bitstring{arg.Front()}
			}
			return bitlattice.Bitstring{b0}
		}
		return bitlattice.Bitstring{arg.At(int(k))}
	case ir.Eq, ir.Ne:
		x, y := alignPair(a.operand(e.X), a.operand(e.Y), signed(e.X), signed(e.Y))
		equal := b1
		for i := range x {
			if x[i] == bU || y[i] == bU {
				return bitlattice.Bitstring{bU}
			}
			if (x[i] == b0 && y[i] == b1) || (x[i] == b1 && y[i] == b0) {
				equal = b0
				break
			}
		}
		if e.Op == ir.Ne {
			return bitlattice.Bitstring{xorTable[equal][b1]}
		}
		return bitlattice.Bitstring{equal}
	case ir.Lt, ir.Le, ir.Gt, ir.Ge:
		x, y := alignPair(a.operand(e.X), a.operand(e.Y), signed(e.X), signed(e.Y))
		return bitlattice.Bitstring{compare(e.Op, x, y, signed(e.X) || signed(e.Y))}
	case ir.Min, ir.Max:
		x, y := alignPair(a.operand(e.X), a.operand(e.Y), signed(e.X), signed(e.Y))
		return bitlattice.Sup(x, y, outSize, out.Signed, out.Bool)
	}
	return nil
}

// ripple runs x and y, already aligned, through a full adder or
// subtractor table. A signed result shorter than size takes one more cell
// from the sign bits; an unsigned result is filled with the carry chain of
// zero operands.
func ripple(table *[4][4][4]carryBit, x, y bitlattice.Bitstring, size int, signedOut bool) bitlattice.Bitstring {
	carry := b0
	rev := make([]bitlattice.Bit, 0, size)
	for i := 0; i < size && i < len(x); i++ {
		cell := table[x.At(i)][y.At(i)][carry]
		rev = append(rev, cell.bit)
		carry = cell.carry
	}
	if signedOut {
		if len(rev) < size {
			rev = append(rev, table[x.Front()][y.Front()][carry].bit)
		}
	} else {
		for len(rev) < size {
			cell := table[b0][b0][carry]
			rev = append(rev, cell.bit)
			carry = cell.carry
		}
	}
	return fromLSB(rev)
}

// multiply is a shift-and-add multiplier over len(x)+len(y) bits, capped at
// the result width.
func multiply(x, y bitlattice.Bitstring, xs, ys bool, outSize int) bitlattice.Bitstring {
	size := minInt(len(x)+len(y), outSize)
	x = fitTo(x, xs, size)
	y = fitTo(y, ys, size)
	acc := bitlattice.Fill(size, b0)
	for pos := 0; pos < size; pos++ {
		multiplier := y.At(pos)
		carry := b0
		for i := 0; i < size; i++ {
			partial := b0
			if i >= pos {
				partial = andTable[x.At(i-pos)][multiplier]
			}
			idx := size - 1 - i
			cell := plusTable[acc[idx]][partial][carry]
			acc[idx] = cell.bit
			carry = cell.carry
		}
	}
	return acc
}

func fitTo(bs bitlattice.Bitstring, signed bool, n int) bitlattice.Bitstring {
	if len(bs) < n {
		return bitlattice.SignExtend(bs, signed, n)
	}
	return bitlattice.Truncate(bs, n)
}

func rotate(bs bitlattice.Bitstring, k int, left bool) bitlattice.Bitstring {
	n := len(bs)
	k %= n
	if k < 0 {
		k += n
	}
	out := make(bitlattice.Bitstring, n)
	for i := range bs {
		if left {
			out[i] = bs[(i+k)%n]
		} else {
			out[(i+k)%n] = bs[i]
		}
	}
	return out
}

// compare scans x and y from the MSB. The first concrete disagreement
// decides, with the sign position inverted for signed operands; a U met
// first makes the result unknown.
func compare(op ir.BinaryOp, x, y bitlattice.Bitstring, signedCmp bool) bitlattice.Bit {
	for i := range x {
		if x[i] == bU || y[i] == bU {
			return bU
		}
		if x[i].IsConcrete() && y[i].IsConcrete() && x[i] != y[i] {
			greater := x[i] == b1
			if i == 0 && signedCmp {
				greater = !greater
			}
			if op == ir.Gt || op == ir.Ge {
				return bitlattice.FromBool(greater)
			}
			return bitlattice.FromBool(!greater)
		}
	}
	return bitlattice.FromBool(op == ir.Ge || op == ir.Le)
}

func minInt(a, b int) int {
	if a < b {
		return a
	}
	return b
}
