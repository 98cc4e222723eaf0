// Package eval interprets ir programs on concrete integers. Values are
// carried as two's complement patterns of their type width in uint256
// words, so types up to 256 bits evaluate exactly.
package eval

import (
	"errors"
	"fmt"

	"github.com/holiman/uint256"

	"hlsbv/internal/bitlattice"
	"hlsbv/internal/ir"
)

var (
	ErrStepLimit    = errors.New("eval: step limit exceeded")
	ErrDivideByZero = errors.New("eval: integer divide by zero")
	ErrNoBody       = errors.New("eval: function has no body")
	ErrMalformed    = errors.New("eval: malformed control flow")
)

const defaultMaxSteps = 1 << 20

// Machine runs functions of one program. Steps are counted across nested
// calls.
type Machine struct {
	MaxSteps int
	steps    int
}

func New() *Machine {
	return &Machine{MaxSteps: defaultMaxSteps}
}

// Call runs fn on args, each interpreted as a pattern of the matching
// parameter type, and returns the pattern of the result or nil for a
// function without one.
func (m *Machine) Call(fn *ir.Function, args ...*uint256.Int) (*uint256.Int, error) {
	if !fn.HasBody() {
		return nil, fmt.Errorf("%s: %w", fn.Name, ErrNoBody)
	}
	if len(args) != len(fn.Params) {
		return nil, fmt.Errorf("%s: got %d arguments, want %d", fn.Name, len(args), len(fn.Params))
	}
	env := make(map[*ir.Value]*uint256.Int, len(fn.Params))
	for i, p := range fn.Params {
		env[p.Value] = truncate(args[i], p.Type)
	}
	f := &frame{m: m, fn: fn, env: env}
	return f.run()
}

type frame struct {
	m   *Machine
	fn  *ir.Function
	env map[*ir.Value]*uint256.Int
}

func (f *frame) run() (*uint256.Int, error) {
	var pred *ir.Block
	b := f.fn.Blocks[0]
	for {
		if err := f.enter(b, pred); err != nil {
			return nil, err
		}
		var next *ir.Block
		done := false
		var result *uint256.Int
		for _, s := range b.Stmts {
			f.m.steps++
			if f.m.MaxSteps > 0 && f.m.steps > f.m.MaxSteps {
				return nil, fmt.Errorf("%s: %w", f.fn.Name, ErrStepLimit)
			}
			switch st := s.(type) {
			case *ir.Phi:
				// evaluated on entry
			case *ir.Assign:
				v, err := f.assign(st)
				if err != nil {
					return nil, err
				}
				if st.Dest != nil {
					f.env[st.Dest] = v
				}
			case *ir.Return:
				done = true
				if st.Result != nil && f.fn.Result != nil {
					result = convert(f.operand(st.Result), st.Result.OperandType(), *f.fn.Result)
				}
			case *ir.If:
				if len(b.Succs) != 2 {
					return nil, fmt.Errorf("%s: block %d: %w", f.fn.Name, b.Index, ErrMalformed)
				}
				if !f.operand(st.Cond).IsZero() {
					next = b.Succs[0]
				} else {
					next = b.Succs[1]
				}
			case *ir.Jump:
				if len(b.Succs) != 1 {
					return nil, fmt.Errorf("%s: block %d: %w", f.fn.Name, b.Index, ErrMalformed)
				}
				next = b.Succs[0]
			}
		}
		if done {
			return result, nil
		}
		if next == nil {
			if len(b.Succs) != 1 {
				return nil, fmt.Errorf("%s: block %d falls off: %w", f.fn.Name, b.Index, ErrMalformed)
			}
			next = b.Succs[0]
		}
		pred, b = b, next
	}
}

// enter evaluates the phis of b for the edge coming from pred, all reading
// the values live before the edge.
func (f *frame) enter(b, pred *ir.Block) error {
	edge := -1
	for i, p := range b.Preds {
		if p == pred {
			edge = i
			break
		}
	}
	incoming := make(map[*ir.Value]*uint256.Int)
	for _, s := range b.Stmts {
		phi, ok := s.(*ir.Phi)
		if !ok {
			continue
		}
		if edge < 0 || edge >= len(phi.Edges) {
			return fmt.Errorf("%s: phi %s has no edge from the executed predecessor: %w", f.fn.Name, phi.Dest.Name, ErrMalformed)
		}
		op := phi.Edges[edge]
		incoming[phi.Dest] = convert(f.operand(op), op.OperandType(), phi.Dest.Type)
	}
	for v, x := range incoming {
		f.env[v] = x
	}
	return nil
}

func (f *frame) operand(op ir.Operand) *uint256.Int {
	switch o := op.(type) {
	case *ir.Const:
		return o.Val
	case *ir.Value:
		if v, ok := f.env[o]; ok {
			return v
		}
	}
	return new(uint256.Int)
}

// arg returns op converted to the type t.
func (f *frame) arg(op ir.Operand, t ir.Type) *uint256.Int {
	return convert(f.operand(op), op.OperandType(), t)
}

func (f *frame) assign(s *ir.Assign) (*uint256.Int, error) {
	var t ir.Type
	if s.Dest != nil {
		t = s.Dest.Type
	}
	switch e := s.Expr.(type) {
	case *ir.UnaryExpr:
		return unary(e.Op, f.operand(e.X), e.X.OperandType(), t), nil
	case *ir.BinaryExpr:
		return f.binary(e, t)
	case *ir.ConcatExpr:
		hi := f.arg(e.Hi, t)
		lo := new(uint256.Int).And(f.arg(e.Lo, t), bitlattice.Mask(e.Offset))
		return truncate(new(uint256.Int).Or(hi, lo), t), nil
	case *ir.CondExpr:
		if !f.operand(e.Cond).IsZero() {
			return f.arg(e.Then, t), nil
		}
		return f.arg(e.Else, t), nil
	case *ir.LutExpr:
		idx := uint(0)
		for i, in := range e.Inputs {
			if !f.operand(in).IsZero() {
				idx |= 1 << uint(i)
			}
		}
		return uint256.NewInt((e.Table >> idx) & 1), nil
	case *ir.CallExpr:
		if e.Indirect || e.Callee == nil {
			return nil, fmt.Errorf("%s: indirect call to %s: %w", f.fn.Name, e.Target, ir.ErrUnsupported)
		}
		args := make([]*uint256.Int, len(e.Args))
		for i, a := range e.Args {
			pt := a.OperandType()
			if i < len(e.Callee.Params) {
				pt = e.Callee.Params[i].Type
			}
			args[i] = f.arg(a, pt)
		}
		res, err := f.m.Call(e.Callee, args...)
		if err != nil {
			return nil, err
		}
		if res == nil {
			return new(uint256.Int), nil
		}
		return convert(res, *e.Callee.Result, t), nil
	}
	return nil, fmt.Errorf("%s: %T: %w", f.fn.Name, s.Expr, ir.ErrUnsupported)
}

func unary(op ir.UnaryOp, x *uint256.Int, from, to ir.Type) *uint256.Int {
	v := convert(x, from, to)
	switch op {
	case ir.Copy, ir.Convert:
		return v
	case ir.Negate:
		return truncate(new(uint256.Int).Neg(v), to)
	case ir.Abs:
		if from.Signed && bitlattice.SignedValue(x, width(from)).Sign() < 0 {
			return truncate(new(uint256.Int).Neg(v), to)
		}
		return v
	case ir.BitNot:
		return truncate(new(uint256.Int).Not(v), to)
	case ir.TruthNot:
		return boolInt(x.IsZero())
	}
	return v
}

func (f *frame) binary(e *ir.BinaryExpr, t ir.Type) (*uint256.Int, error) {
	xt, yt := e.X.OperandType(), e.Y.OperandType()
	x, y := f.operand(e.X), f.operand(e.Y)
	signed := xt.Signed
	switch e.Op {
	case ir.Plus:
		return truncate(new(uint256.Int).Add(convert(x, xt, t), convert(y, yt, t)), t), nil
	case ir.Minus:
		return truncate(new(uint256.Int).Sub(convert(x, xt, t), convert(y, yt, t)), t), nil
	case ir.Mult, ir.WidenMult:
		return truncate(new(uint256.Int).Mul(convert(x, xt, t), convert(y, yt, t)), t), nil
	case ir.Div, ir.Mod:
		if y.IsZero() {
			return nil, fmt.Errorf("%s: %w", f.fn.Name, ErrDivideByZero)
		}
		sx, sy := wide(x, xt), wide(y, yt)
		out := new(uint256.Int)
		switch {
		case e.Op == ir.Div && signed:
			out.SDiv(sx, sy)
		case e.Op == ir.Div:
			out.Div(sx, sy)
		case signed:
			out.SMod(sx, sy)
		default:
			out.Mod(sx, sy)
		}
		return truncate(out, t), nil
	case ir.BitAnd:
		return truncate(new(uint256.Int).And(convert(x, xt, t), convert(y, yt, t)), t), nil
	case ir.BitOr:
		return truncate(new(uint256.Int).Or(convert(x, xt, t), convert(y, yt, t)), t), nil
	case ir.BitXor:
		return truncate(new(uint256.Int).Xor(convert(x, xt, t), convert(y, yt, t)), t), nil
	case ir.TruthAnd:
		return boolInt(!x.IsZero() && !y.IsZero()), nil
	case ir.TruthOr:
		return boolInt(!x.IsZero() || !y.IsZero()), nil
	case ir.TruthXor:
		return boolInt(x.IsZero() != y.IsZero()), nil
	case ir.Lshift, ir.Rshift, ir.Lrotate, ir.Rrotate:
		return shift(e.Op, x, xt, y, yt, t), nil
	case ir.ExtractBit:
		k := y.Uint64()
		if !y.IsUint64() || k >= uint64(bitlattice.MaxWidth) {
			k = bitlattice.MaxWidth - 1
		}
		bit := new(uint256.Int).Rsh(wide(x, xt), uint(k))
		return uint256.NewInt(bit.Uint64() & 1), nil
	case ir.Eq, ir.Ne, ir.Lt, ir.Le, ir.Gt, ir.Ge:
		signed = signed || yt.Signed
		cmp := compare(wide(x, xt), wide(y, yt), signed)
		switch e.Op {
		case ir.Eq:
			return boolInt(cmp == 0), nil
		case ir.Ne:
			return boolInt(cmp != 0), nil
		case ir.Lt:
			return boolInt(cmp < 0), nil
		case ir.Le:
			return boolInt(cmp <= 0), nil
		case ir.Gt:
			return boolInt(cmp > 0), nil
		}
		return boolInt(cmp >= 0), nil
	case ir.Min, ir.Max:
		cmp := compare(wide(x, xt), wide(y, yt), signed || yt.Signed)
		pickX := cmp <= 0
		if e.Op == ir.Max {
			pickX = cmp >= 0
		}
		if pickX {
			return convert(x, xt, t), nil
		}
		return convert(y, yt, t), nil
	}
	return nil, fmt.Errorf("%s: %s: %w", f.fn.Name, e.Op, ir.ErrUnsupported)
}

func shift(op ir.BinaryOp, x *uint256.Int, xt ir.Type, y *uint256.Int, yt ir.Type, t ir.Type) *uint256.Int {
	w := width(t)
	amount := wide(y, yt)
	negative := yt.Signed && amount.Sign() < 0
	big := negative || !amount.IsUint64() || amount.Uint64() >= uint64(bitlattice.MaxWidth)
	k := uint(amount.Uint64())
	switch op {
	case ir.Lshift:
		if big {
			return new(uint256.Int)
		}
		return truncate(new(uint256.Int).Lsh(convert(x, xt, t), k), t)
	case ir.Rshift:
		if xt.Signed {
			v := wide(x, xt)
			if big {
				k = bitlattice.MaxWidth - 1
			}
			return truncate(new(uint256.Int).SRsh(v, k), t)
		}
		if big {
			return new(uint256.Int)
		}
		return truncate(new(uint256.Int).Rsh(truncate(x, xt), k), t)
	}
	v := convert(x, xt, t)
	r := uint(new(uint256.Int).Mod(amount, uint256.NewInt(uint64(w))).Uint64())
	if negative {
		r = uint(w) - uint(new(uint256.Int).Mod(new(uint256.Int).Neg(amount), uint256.NewInt(uint64(w))).Uint64())
		r %= uint(w)
	}
	if op == ir.Rrotate {
		r = (uint(w) - r) % uint(w)
	}
	if r == 0 {
		return v
	}
	left := new(uint256.Int).Lsh(v, r)
	right := new(uint256.Int).Rsh(v, uint(w)-r)
	return truncate(left.Or(left, right), t)
}

func compare(x, y *uint256.Int, signed bool) int {
	if signed {
		switch {
		case x.Slt(y):
			return -1
		case x.Sgt(y):
			return 1
		}
		return 0
	}
	return x.Cmp(y)
}

// wide returns the 256-bit value of a pattern of type t.
func wide(v *uint256.Int, t ir.Type) *uint256.Int {
	if t.Signed && !t.Bool {
		return bitlattice.SignedValue(v, t.Width)
	}
	return truncate(v, t)
}

// convert extends v by the signedness of from and truncates it to to.
func convert(v *uint256.Int, from, to ir.Type) *uint256.Int {
	return truncate(wide(v, from), to)
}

func truncate(v *uint256.Int, t ir.Type) *uint256.Int {
	return new(uint256.Int).And(v, bitlattice.Mask(width(t)))
}

func width(t ir.Type) int {
	if t.Bool {
		return 1
	}
	return t.Width
}

func boolInt(b bool) *uint256.Int {
	if b {
		return uint256.NewInt(1)
	}
	return new(uint256.Int)
}
