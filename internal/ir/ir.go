package ir

import (
	"errors"
	"fmt"
	"go/token"

	"github.com/holiman/uint256"
)

// ErrUnsupported marks IR shapes that a consumer assumed could not occur.
var ErrUnsupported = errors.New("unsupported IR construct")

// Program is the whole-program IR: every lowered function plus the id
// allocator shared by values, parameters and functions.
type Program struct {
	Functions []*Function
	nextID    int
	byName    map[string]*Function
}

func NewProgram() *Program {
	return &Program{nextID: 1, byName: make(map[string]*Function)}
}

func (p *Program) newID() int {
	id := p.nextID
	p.nextID++
	return id
}

// Lookup returns the function with the given name, or nil.
func (p *Program) Lookup(name string) *Function {
	return p.byName[name]
}

// NewFunction registers an empty function. result is nil for functions
// without a return value.
func (p *Program) NewFunction(name string, result *Type) *Function {
	fn := &Function{
		ID:     p.newID(),
		Name:   name,
		Result: result,
		prog:   p,
	}
	p.Functions = append(p.Functions, fn)
	p.byName[name] = fn
	return fn
}

// Type is an integer type. Bool types are one bit wide.
type Type struct {
	Width  int
	Signed bool
	Bool   bool
}

func IntType(width int, signed bool) Type {
	return Type{Width: width, Signed: signed}
}

func BoolType() Type {
	return Type{Width: 1, Bool: true}
}

func (t Type) String() string {
	if t.Bool {
		return "bool"
	}
	if t.Signed {
		return fmt.Sprintf("i%d", t.Width)
	}
	return fmt.Sprintf("u%d", t.Width)
}

// Range is a numeric interval attached to a value. Bounds are two's
// complement patterns of the value's width.
type Range struct {
	Min *uint256.Int
	Max *uint256.Int
}

// Operand is either a *Value or a *Const.
type Operand interface {
	OperandType() Type
	String() string
	isOperand()
}

// Value is an SSA value: a statement result or a parameter's entry value.
type Value struct {
	ID        int
	Name      string
	Type      Type
	BitValues string
	Range     *Range
	// Param is set when the value is the entry version of a parameter.
	Param *Param
}

func (v *Value) OperandType() Type { return v.Type }
func (v *Value) String() string    { return v.Name }
func (*Value) isOperand()          {}

// Const is an integer literal; Val holds the two's complement pattern
// truncated to the type width.
type Const struct {
	Val  *uint256.Int
	Type Type
}

func (c *Const) OperandType() Type { return c.Type }
func (*Const) isOperand()          {}

func (c *Const) String() string {
	return FormatInt(c.Val, c.Type)
}

// IsZero reports whether the literal is 0.
func (c *Const) IsZero() bool { return c.Val.IsZero() }

// Int64 returns the literal interpreted according to its type, truncated to
// 64 bits.
func (c *Const) Int64() int64 {
	if c.Type.Signed {
		return int64(signExtend(c.Val, c.Type.Width).Uint64())
	}
	return int64(c.Val.Uint64())
}

// Param is a formal parameter. Its ID identifies the parameter declaration
// while Value is its SSA entry version.
type Param struct {
	ID        int
	Name      string
	Type      Type
	BitValues string
	Value     *Value
	Index     int
}

// Function is a lowered function body.
type Function struct {
	ID        int
	Name      string
	Params    []*Param
	Result    *Type
	BitValues string
	Blocks    []*Block

	// Root functions are entry points whose signature is fixed externally.
	Root bool
	// AddressTaken functions may be reached through indirect calls.
	AddressTaken bool

	BitValueVersion int
	BBVersion       int
	Pos             token.Pos

	prog *Program
}

func (fn *Function) Program() *Program { return fn.prog }

// HasBody reports whether the function has at least one block.
func (fn *Function) HasBody() bool { return len(fn.Blocks) > 0 }

// NewValue allocates a fresh SSA value owned by the function's program.
func (fn *Function) NewValue(name string, t Type) *Value {
	id := fn.prog.newID()
	if name == "" {
		name = fmt.Sprintf("v%d", id)
	}
	return &Value{ID: id, Name: name, Type: t}
}

// NewTemp allocates a value named after prefix and its id.
func (fn *Function) NewTemp(prefix string, t Type) *Value {
	id := fn.prog.newID()
	return &Value{ID: id, Name: fmt.Sprintf("%s_%d", prefix, id), Type: t}
}

// AddParam appends a formal parameter and its entry value.
func (fn *Function) AddParam(name string, t Type) *Param {
	p := &Param{ID: fn.prog.newID(), Name: name, Type: t, Index: len(fn.Params)}
	p.Value = &Value{ID: fn.prog.newID(), Name: name, Type: t, Param: p}
	fn.Params = append(fn.Params, p)
	return p
}

// NewBlock appends an empty block.
func (fn *Function) NewBlock() *Block {
	b := &Block{Index: len(fn.Blocks), Parent: fn}
	fn.Blocks = append(fn.Blocks, b)
	return b
}

// Block is a basic block. Phi edges follow the order of Preds; an If
// terminator jumps to Succs[0] when true and Succs[1] otherwise.
type Block struct {
	Index  int
	Stmts  []Stmt
	Preds  []*Block
	Succs  []*Block
	Parent *Function
}

// AddEdge links from to to.
func AddEdge(from, to *Block) {
	from.Succs = append(from.Succs, to)
	to.Preds = append(to.Preds, from)
}

// Stmt is a statement of a block.
type Stmt interface {
	// refs returns pointers to every operand slot.
	refs() []*Operand
	isStmt()
}

// Assign binds Dest to the result of Expr. Dest is nil for calls whose
// result is discarded.
type Assign struct {
	Dest *Value
	Expr Expr
	// Keep prevents later rewrites from dropping the statement.
	Keep bool
	Pos  token.Pos
}

// Phi merges one operand per predecessor.
type Phi struct {
	Dest  *Value
	Edges []Operand
}

type Return struct {
	Result Operand
}

type If struct {
	Cond Operand
}

type Jump struct{}

func (s *Assign) refs() []*Operand { return s.Expr.refs() }
func (s *Phi) refs() []*Operand {
	out := make([]*Operand, len(s.Edges))
	for i := range s.Edges {
		out[i] = &s.Edges[i]
	}
	return out
}
func (s *Return) refs() []*Operand {
	if s.Result == nil {
		return nil
	}
	return []*Operand{&s.Result}
}
func (s *If) refs() []*Operand { return []*Operand{&s.Cond} }
func (*Jump) refs() []*Operand { return nil }

func (*Assign) isStmt() {}
func (*Phi) isStmt()    {}
func (*Return) isStmt() {}
func (*If) isStmt()     {}
func (*Jump) isStmt()   {}

// Operands lists the operands read by s in slot order.
func Operands(s Stmt) []Operand {
	refs := s.refs()
	out := make([]Operand, 0, len(refs))
	for _, r := range refs {
		out = append(out, *r)
	}
	return out
}

// ReplaceOperand substitutes repl for every read of old in s and returns the
// number of slots changed.
func ReplaceOperand(s Stmt, old *Value, repl Operand) int {
	n := 0
	for _, r := range s.refs() {
		if v, ok := (*r).(*Value); ok && v == old {
			*r = repl
			n++
		}
	}
	return n
}

// Dest returns the value defined by s, or nil.
func Dest(s Stmt) *Value {
	switch st := s.(type) {
	case *Assign:
		return st.Dest
	case *Phi:
		return st.Dest
	}
	return nil
}

// NewConst builds a literal of type t from v, truncating to the width.
func NewConst(v *uint256.Int, t Type) *Const {
	val := new(uint256.Int).And(v, mask(t.Width))
	return &Const{Val: val, Type: t}
}

// ConstInt builds a literal from a host integer.
func ConstInt(v int64, t Type) *Const {
	var val *uint256.Int
	if v >= 0 {
		val = uint256.NewInt(uint64(v))
	} else {
		val = uint256.NewInt(uint64(-v))
		val.Neg(val)
	}
	return NewConst(val, t)
}

// ConstBool builds a bool literal.
func ConstBool(v bool) *Const {
	if v {
		return ConstInt(1, BoolType())
	}
	return ConstInt(0, BoolType())
}

func mask(width int) *uint256.Int {
	if width >= 256 {
		return new(uint256.Int).Not(new(uint256.Int))
	}
	one := uint256.NewInt(1)
	m := new(uint256.Int).Lsh(one, uint(width))
	return m.Sub(m, one)
}

func signExtend(v *uint256.Int, width int) *uint256.Int {
	out := new(uint256.Int).And(v, mask(width))
	if width <= 0 || width >= 256 {
		return out
	}
	if new(uint256.Int).Rsh(out, uint(width-1)).Uint64()&1 == 1 {
		out.Or(out, new(uint256.Int).Not(mask(width)))
	}
	return out
}

// FormatInt renders a two's complement pattern of type t in decimal.
func FormatInt(v *uint256.Int, t Type) string {
	if t.Bool {
		if v.IsZero() {
			return "false"
		}
		return "true"
	}
	if t.Signed {
		ext := signExtend(v, t.Width)
		if ext.Sign() < 0 {
			neg := new(uint256.Int).Neg(ext)
			return "-" + neg.ToBig().String()
		}
		return ext.ToBig().String()
	}
	return v.ToBig().String()
}
