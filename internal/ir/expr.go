package ir

import "fmt"

// Expr is the right-hand side of an Assign.
type Expr interface {
	refs() []*Operand
	isExpr()
}

type UnaryOp int

const (
	// Copy forwards its operand unchanged.
	Copy UnaryOp = iota
	// Convert changes the type, sign extending by the source signedness and
	// truncating to the destination width.
	Convert
	Negate
	Abs
	BitNot
	TruthNot
)

type BinaryOp int

const (
	Plus BinaryOp = iota
	Minus
	Mult
	// WidenMult multiplies into a result wider than its operands.
	WidenMult
	Div
	Mod
	BitAnd
	BitOr
	BitXor
	TruthAnd
	TruthOr
	TruthXor
	Lshift
	Rshift
	Lrotate
	Rrotate
	Eq
	Ne
	Lt
	Le
	Gt
	Ge
	Min
	Max
	// ExtractBit yields bit Y (a constant position) of X as a bool.
	ExtractBit
)

// IsComparison reports whether op yields a bool from two integers.
func (op BinaryOp) IsComparison() bool {
	switch op {
	case Eq, Ne, Lt, Le, Gt, Ge:
		return true
	}
	return false
}

// IsShift reports whether op is a shift or a rotate.
func (op BinaryOp) IsShift() bool {
	switch op {
	case Lshift, Rshift, Lrotate, Rrotate:
		return true
	}
	return false
}

// IsTruth reports whether op is a logical operator over bools.
func (op BinaryOp) IsTruth() bool {
	switch op {
	case TruthAnd, TruthOr, TruthXor:
		return true
	}
	return false
}

// Commutative reports whether swapping the operands preserves the result.
func (op BinaryOp) Commutative() bool {
	switch op {
	case Plus, Mult, WidenMult, BitAnd, BitOr, BitXor, TruthAnd, TruthOr, TruthXor, Eq, Ne, Min, Max:
		return true
	}
	return false
}

type UnaryExpr struct {
	Op UnaryOp
	X  Operand
}

type BinaryExpr struct {
	Op   BinaryOp
	X, Y Operand
}

// ConcatExpr is Hi | (Lo & (1<<Offset - 1)) where Hi is known to be zero
// in its low Offset bits.
type ConcatExpr struct {
	Hi, Lo Operand
	Offset int
}

// CondExpr selects Then when Cond is non-zero and Else otherwise.
type CondExpr struct {
	Cond, Then, Else Operand
}

// LutExpr indexes a truth table with bool inputs; input i contributes bit i
// of the index.
type LutExpr struct {
	Table  uint64
	Inputs []Operand
}

// CallExpr invokes Callee directly, or an unknown target when Indirect.
type CallExpr struct {
	Callee   *Function
	Indirect bool
	Target   string
	Args     []Operand
}

func (e *UnaryExpr) refs() []*Operand  { return []*Operand{&e.X} }
func (e *BinaryExpr) refs() []*Operand { return []*Operand{&e.X, &e.Y} }
func (e *ConcatExpr) refs() []*Operand { return []*Operand{&e.Hi, &e.Lo} }
func (e *CondExpr) refs() []*Operand   { return []*Operand{&e.Cond, &e.Then, &e.Else} }
func (e *LutExpr) refs() []*Operand    { return sliceRefs(e.Inputs) }
func (e *CallExpr) refs() []*Operand   { return sliceRefs(e.Args) }

func (*UnaryExpr) isExpr()  {}
func (*BinaryExpr) isExpr() {}
func (*ConcatExpr) isExpr() {}
func (*CondExpr) isExpr()   {}
func (*LutExpr) isExpr()    {}
func (*CallExpr) isExpr()   {}

func sliceRefs(ops []Operand) []*Operand {
	out := make([]*Operand, len(ops))
	for i := range ops {
		out[i] = &ops[i]
	}
	return out
}

// ExprOperands lists the operands of e in slot order.
func ExprOperands(e Expr) []Operand {
	refs := e.refs()
	out := make([]Operand, 0, len(refs))
	for _, r := range refs {
		out = append(out, *r)
	}
	return out
}

func (op UnaryOp) String() string {
	switch op {
	case Copy:
		return "copy"
	case Convert:
		return "convert"
	case Negate:
		return "negate"
	case Abs:
		return "abs"
	case BitNot:
		return "bit_not"
	case TruthNot:
		return "truth_not"
	default:
		return fmt.Sprintf("unary(%d)", int(op))
	}
}

var binaryNames = map[BinaryOp]string{
	Plus:       "plus",
	Minus:      "minus",
	Mult:       "mult",
	WidenMult:  "widen_mult",
	Div:        "div",
	Mod:        "mod",
	BitAnd:     "bit_and",
	BitOr:      "bit_ior",
	BitXor:     "bit_xor",
	TruthAnd:   "truth_and",
	TruthOr:    "truth_or",
	TruthXor:   "truth_xor",
	Lshift:     "lshift",
	Rshift:     "rshift",
	Lrotate:    "lrotate",
	Rrotate:    "rrotate",
	Eq:         "eq",
	Ne:         "ne",
	Lt:         "lt",
	Le:         "le",
	Gt:         "gt",
	Ge:         "ge",
	Min:        "min",
	Max:        "max",
	ExtractBit: "extract_bit",
}

func (op BinaryOp) String() string {
	if name, ok := binaryNames[op]; ok {
		return name
	}
	return fmt.Sprintf("binary(%d)", int(op))
}
