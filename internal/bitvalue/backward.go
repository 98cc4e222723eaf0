package bitvalue

import (
	"fmt"

	"hlsbv/internal/bitlattice"
	"hlsbv/internal/ir"
)

// backward runs the requirement worklist: every defined value is
// recomputed from the requirements of its uses, and a value that changed
// pushes the definitions of the operands it is computed from. Parameters
// are visited once the worklist drains.
func (a *analyzer) backward() error {
	var work []*ir.Value
	pending := make(map[*ir.Value]bool)
	push := func(v *ir.Value) {
		if v == nil || pending[v] {
			return
		}
		pending[v] = true
		work = append(work, v)
	}
	blocks := a.fn.Blocks
	for bi := len(blocks) - 1; bi >= 0; bi-- {
		stmts := blocks[bi].Stmts
		for si := len(stmts) - 1; si >= 0; si-- {
			push(ir.Dest(stmts[si]))
		}
	}
	for len(work) > 0 {
		v := work[0]
		work = work[1:]
		pending[v] = false
		changed, err := a.backwardValue(v)
		if err != nil {
			return err
		}
		if !changed {
			continue
		}
		site, ok := a.ix.DefSite(v)
		if !ok {
			continue
		}
		for _, op := range ir.Operands(site.Stmt) {
			if w, ok := op.(*ir.Value); ok {
				if _, defined := a.ix.DefSite(w); defined {
					push(w)
				}
			}
		}
	}
	for _, p := range a.fn.Params {
		if _, err := a.backwardValue(p.Value); err != nil {
			return err
		}
	}
	return nil
}

func (a *analyzer) backwardValue(v *ir.Value) (bool, error) {
	a.tab.seedCurrent(v.ID)
	cur, _ := a.tab.Current(v.ID)
	if bitlattice.IsStrictConstant(cur) {
		return false, nil
	}
	res, err := a.requirement(v)
	if err != nil {
		return false, err
	}
	return a.tab.UpdateCurrent(res, v.ID), nil
}

// requirement combines with Sup what every use of v needs from it. Any use
// that cannot tell falls back to the best value of v.
func (a *analyzer) requirement(v *ir.Value) (bitlattice.Bitstring, error) {
	size, sgn, isB := typeSize(v.Type), v.Type.Signed, v.Type.Bool
	best := a.tab.Best(v.ID)
	res := bitlattice.NewX(1)
	for _, site := range a.ix.Uses(v) {
		var fanout bitlattice.Bitstring
		switch st := site.Stmt.(type) {
		case *ir.Assign:
			if call, ok := st.Expr.(*ir.CallExpr); ok {
				fanout = a.argumentRequirement(call, v)
				break
			}
			var err error
			fanout, err = a.backwardTransfer(st, v)
			if err != nil {
				return nil, err
			}
		case *ir.Phi:
			fanout = a.tab.Best(st.Dest.ID)
		case *ir.Return:
			if bs, ok := a.tab.Current(a.fn.ID); ok {
				fanout = bs
			}
		}
		if len(fanout) == 0 {
			return best, nil
		}
		res = bitlattice.Sup(res, fanout, size, sgn, isB)
	}
	return res, nil
}

// argumentRequirement maps v, passed as an actual argument, onto the
// stored bitstrings of the matching formal parameters.
func (a *analyzer) argumentRequirement(call *ir.CallExpr, v *ir.Value) bitlattice.Bitstring {
	if call.Indirect || call.Callee == nil {
		return nil
	}
	var res bitlattice.Bitstring
	for i, arg := range call.Args {
		if arg != ir.Operand(v) || i >= len(call.Callee.Params) {
			continue
		}
		p := call.Callee.Params[i]
		tmp, err := bitlattice.Parse(p.BitValues)
		if err != nil {
			tmp = bitlattice.NewU(typeSize(p.Type))
		}
		if res == nil {
			res = tmp
		} else {
			res = bitlattice.Sup(res, tmp, typeSize(v.Type), v.Type.Signed, v.Type.Bool)
		}
	}
	return res
}

// backwardTransfer returns what s needs from its operand v given the
// current requirement on s.Dest. Nil means the statement cannot tell.
func (a *analyzer) backwardTransfer(s *ir.Assign, v *ir.Value) (bitlattice.Bitstring, error) {
	if s.Dest == nil {
		return nil, nil
	}
	out, ok := a.tab.Current(s.Dest.ID)
	if !ok {
		return nil, nil
	}
	if len(out) == 1 && out[0] == bX {
		return out, nil
	}
	destSigned := s.Dest.Type.Signed
	switch e := s.Expr.(type) {
	case *ir.UnaryExpr:
		switch e.Op {
		case ir.Copy:
			return out, nil
		case ir.Negate:
			return guardedPrefix(a.tab.Best(v.ID), len(out)), nil
		case ir.TruthNot:
			return bitlattice.Truncate(a.tab.Best(v.ID), 1), nil
		case ir.BitNot:
			arg := a.tab.Best(v.ID)
			arg, se := alignToOutput(arg, out, v.Type.Signed, destSigned)
			return maskDontCare(arg, se, nil, nil), nil
		case ir.Convert:
			return a.convertRequirement(s, v, out), nil
		case ir.Abs:
			return nil, nil
		}
	case *ir.BinaryExpr:
		return a.binaryRequirement(s, e, v, out)
	case *ir.ConcatExpr:
		return concatRequirement(e, v, out, destSigned), nil
	case *ir.CondExpr:
		if e.Cond == ir.Operand(v) {
			return nil, nil
		}
		arm := a.tab.Best(v.ID)
		rev := make([]bitlattice.Bit, 0, len(out))
		for i := 0; i < len(out) && i < len(arm); i++ {
			if out.At(i) == bX {
				rev = append(rev, bX)
			} else {
				rev = append(rev, arm.At(i))
			}
		}
		res := fromLSB(rev)
		if res[0] == bX && len(arm) < len(out) {
			res[0] = arm.Front()
		}
		return res, nil
	case *ir.LutExpr:
		return nil, nil
	default:
		return nil, fmt.Errorf("%s: %T: %w", s.Dest.Name, s.Expr, ErrUnsupported)
	}
	return nil, nil
}

func (a *analyzer) binaryRequirement(s *ir.Assign, e *ir.BinaryExpr, v *ir.Value, out bitlattice.Bitstring) (bitlattice.Bitstring, error) {
	destSigned := s.Dest.Type.Signed
	other := e.Y
	if e.X != ir.Operand(v) {
		other = e.X
	}
	switch e.Op {
	case ir.Plus, ir.Minus, ir.Mult, ir.WidenMult:
		return guardedPrefix(a.tab.Best(v.ID), len(out)), nil
	case ir.TruthAnd, ir.TruthOr:
		return bitlattice.Truncate(a.tab.Best(v.ID), 1), nil
	case ir.BitAnd, ir.BitOr, ir.BitXor:
		arg, se := alignToOutput(a.tab.Best(v.ID), out, v.Type.Signed, destSigned)
		otherBits := a.bestOf(other)
		arg, otherBits = alignPair(arg, otherBits, v.Type.Signed, signed(other))
		switch e.Op {
		case ir.BitAnd:
			return maskDontCare(arg, se, otherBits, func(own, peer bitlattice.Bit) bool {
				return peer == b0 && own != b0
			}), nil
		case ir.BitOr:
			return maskDontCare(arg, se, otherBits, func(own, peer bitlattice.Bit) bool {
				return own != b1 && peer == b1
			}), nil
		}
		return maskDontCare(arg, se, nil, nil), nil
	case ir.Lshift, ir.Rshift, ir.Lrotate, ir.Rrotate:
		if e.Y == ir.Operand(v) {
			return a.shiftAmountRequirement(s, v), nil
		}
		c, ok := e.Y.(*ir.Const)
		if !ok || e.Op == ir.Lrotate || e.Op == ir.Rrotate {
			return nil, nil
		}
		k := c.Int64()
		if k < 0 {
			return bitlattice.Bitstring{bX}, nil
		}
		if e.Op == ir.Rshift {
			size := typeSize(v.Type)
			res := out.Clone()
			for i := int64(0); i < k && i < int64(size); i++ {
				res = append(res, bX)
			}
			return truncateRequirement(res, size, v.Type), nil
		}
		if k >= int64(len(out)) {
			return bitlattice.Bitstring{bX}, nil
		}
		res := out[:len(out)-int(k)].Clone()
		return bitlattice.SignExtend(res, v.Type.Signed, len(out)), nil
	case ir.ExtractBit:
		if e.Y == ir.Operand(v) {
			return nil, fmt.Errorf("%s: extract_bit position must be a literal: %w", s.Dest.Name, ErrUnsupported)
		}
		k := e.Y.(*ir.Const).Int64()
		size := typeSize(v.Type)
		res := out.Clone()
		for i := int64(0); i < k && i < int64(size); i++ {
			res = append(res, bX)
		}
		if len(res) < size {
			res = append(bitlattice.NewX(size-len(res)), res...)
		}
		return truncateRequirement(res, size, v.Type), nil
	}
	return nil, nil
}

// truncateRequirement keeps the low size bits of an operand requirement.
// Bits above the width of a signed operand are copies of its sign bit, so
// their requirement folds into the sign position.
func truncateRequirement(res bitlattice.Bitstring, size int, t ir.Type) bitlattice.Bitstring {
	kept := bitlattice.Truncate(res, size)
	if len(res) <= size || !t.Signed || t.Bool {
		return kept
	}
	for _, b := range res[:len(res)-size] {
		kept[0] = bitlattice.SupBit(kept[0], b)
	}
	return kept
}

// guardedPrefix keeps the low n bits of bs and marks the dropped high part
// with a single X.
func guardedPrefix(bs bitlattice.Bitstring, n int) bitlattice.Bitstring {
	if len(bs) <= n {
		return bs.Clone()
	}
	res := make(bitlattice.Bitstring, 0, n+1)
	res = append(res, bX)
	return append(res, bs[len(bs)-n:]...)
}

// alignToOutput brings an operand and the output requirement to a common
// length, extending whichever is shorter by its own signedness.
func alignToOutput(arg, out bitlattice.Bitstring, argSigned, outSigned bool) (bitlattice.Bitstring, bitlattice.Bitstring) {
	if len(arg) < len(out) {
		arg = bitlattice.SignExtend(arg, argSigned, len(out))
	}
	if len(arg) > len(out) {
		out = bitlattice.SignExtend(out, outSigned, len(arg))
	}
	return arg, out
}

// maskDontCare copies arg, LSB first, turning into X every position the
// output does not need or where drop says the peer operand decides alone.
func maskDontCare(arg, out, peer bitlattice.Bitstring, drop func(own, peer bitlattice.Bit) bool) bitlattice.Bitstring {
	n := minInt(len(arg), len(out))
	rev := make([]bitlattice.Bit, 0, n)
	for i := 0; i < n; i++ {
		switch {
		case out.At(i) == bX:
			rev = append(rev, bX)
		case drop != nil && i < len(peer) && drop(arg.At(i), peer.At(i)):
			rev = append(rev, bX)
		default:
			rev = append(rev, arg.At(i))
		}
	}
	return fromLSB(rev)
}

// shiftAmountRequirement keeps the bits of a shift or rotate amount that
// can select a position inside the result; a signed amount also needs its
// sign to be zero.
func (a *analyzer) shiftAmountRequirement(s *ir.Assign, v *ir.Value) bitlattice.Bitstring {
	cur, ok := a.tab.Current(v.ID)
	if !ok {
		return nil
	}
	precision := typeSize(s.Dest.Type)
	log2 := 1
	for precision > 1<<log2 {
		log2++
	}
	res := cur.Clone()
	for i := 0; len(res) > i+log2; i++ {
		if v.Type.Signed && len(res) == i+log2+1 {
			res[i] = b0
		} else {
			res[i] = bX
		}
	}
	return res
}

func concatRequirement(e *ir.ConcatExpr, v *ir.Value, out bitlattice.Bitstring, destSigned bool) bitlattice.Bitstring {
	if e.Lo == ir.Operand(v) {
		n := minInt(e.Offset, len(out))
		res := out[len(out)-n:].Clone()
		if v.Type.Signed {
			res = append(bitlattice.Bitstring{bX}, res...)
		}
		if len(res) == 0 {
			return bitlattice.Bitstring{bX}
		}
		return res
	}
	size := typeSize(v.Type)
	se := out
	if size > len(out) {
		se = bitlattice.SignExtend(out, destSigned, size)
	}
	rev := make([]bitlattice.Bit, 0, len(se))
	for i := 0; i < len(se); i++ {
		if i < e.Offset {
			rev = append(rev, b0)
		} else {
			rev = append(rev, se.At(i))
		}
	}
	return fromLSB(rev)
}

func (a *analyzer) convertRequirement(s *ir.Assign, v *ir.Value, out bitlattice.Bitstring) bitlattice.Bitstring {
	left, right := s.Dest.Type, v.Type
	if right.Signed && !left.Signed {
		// Unsigned strings carry no implicit sign, so nothing flows back.
		return a.tab.Best(v.ID)
	}
	leftSize, rightSize := typeSize(left), typeSize(right)
	res := out
	if len(res) < leftSize {
		res = bitlattice.SignExtend(res, left.Signed, leftSize)
	} else {
		res = res.Clone()
	}
	switch {
	case leftSize < rightSize:
		res = append(bitlattice.Bitstring{bX}, res...)
	case leftSize > rightSize:
		res = truncateRequirement(res, rightSize, right)
	}
	return res
}
