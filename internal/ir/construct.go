package ir

// FuncBuilder appends statements to a function, one block at a time. It is
// used by the Go lowering and by hand-written fixtures.
type FuncBuilder struct {
	fn  *Function
	cur *Block
}

// NewFuncBuilder creates the function with an empty entry block.
func NewFuncBuilder(p *Program, name string, result *Type) *FuncBuilder {
	fn := p.NewFunction(name, result)
	b := &FuncBuilder{fn: fn}
	b.cur = fn.NewBlock()
	return b
}

func (b *FuncBuilder) Func() *Function { return b.fn }

// Param adds a formal parameter and returns its entry value.
func (b *FuncBuilder) Param(name string, t Type) *Value {
	return b.fn.AddParam(name, t).Value
}

// NewBlock creates a block without making it current.
func (b *FuncBuilder) NewBlock() *Block {
	return b.fn.NewBlock()
}

// SetBlock makes bb the insertion block.
func (b *FuncBuilder) SetBlock(bb *Block) {
	b.cur = bb
}

func (b *FuncBuilder) Current() *Block { return b.cur }

func (b *FuncBuilder) Emit(s Stmt) {
	b.cur.Stmts = append(b.cur.Stmts, s)
}

// Assign emits name = e and returns the new value.
func (b *FuncBuilder) Assign(name string, t Type, e Expr) *Value {
	v := b.fn.NewValue(name, t)
	b.Emit(&Assign{Dest: v, Expr: e})
	return v
}

func (b *FuncBuilder) Unary(name string, t Type, op UnaryOp, x Operand) *Value {
	return b.Assign(name, t, &UnaryExpr{Op: op, X: x})
}

func (b *FuncBuilder) Binary(name string, t Type, op BinaryOp, x, y Operand) *Value {
	return b.Assign(name, t, &BinaryExpr{Op: op, X: x, Y: y})
}

func (b *FuncBuilder) Cond(name string, t Type, c, then, els Operand) *Value {
	return b.Assign(name, t, &CondExpr{Cond: c, Then: then, Else: els})
}

// Call emits a direct call. The result is nil when callee returns nothing.
func (b *FuncBuilder) Call(name string, callee *Function, args ...Operand) *Value {
	expr := &CallExpr{Callee: callee, Target: callee.Name, Args: args}
	if callee.Result == nil {
		b.Emit(&Assign{Expr: expr})
		return nil
	}
	return b.Assign(name, *callee.Result, expr)
}

// CallIndirect emits a call through an unknown target.
func (b *FuncBuilder) CallIndirect(name string, result *Type, target string, args ...Operand) *Value {
	expr := &CallExpr{Indirect: true, Target: target, Args: args}
	if result == nil {
		b.Emit(&Assign{Expr: expr})
		return nil
	}
	return b.Assign(name, *result, expr)
}

// Phi emits a phi whose edges follow the current block's predecessors.
func (b *FuncBuilder) Phi(name string, t Type, edges ...Operand) *Value {
	v := b.fn.NewValue(name, t)
	b.Emit(&Phi{Dest: v, Edges: edges})
	return v
}

func (b *FuncBuilder) Return(op Operand) {
	b.Emit(&Return{Result: op})
}

// If ends the current block with a branch and links both successors.
func (b *FuncBuilder) If(cond Operand, then, els *Block) {
	b.Emit(&If{Cond: cond})
	AddEdge(b.cur, then)
	AddEdge(b.cur, els)
}

func (b *FuncBuilder) Jump(to *Block) {
	b.Emit(&Jump{})
	AddEdge(b.cur, to)
}
