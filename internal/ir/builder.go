package ir

import (
	"fmt"
	"go/constant"
	"go/token"
	"go/types"
	"sort"

	"github.com/holiman/uint256"
	"golang.org/x/tools/go/ssa"

	"hlsbv/internal/diag"
)

// BuildOptions tunes the lowering from go/ssa.
type BuildOptions struct {
	// Roots names additional entry functions besides main.
	Roots []string
}

// BuildProgram lowers the functions of the given packages into the integer
// IR. Only integer and bool scalars, structured control flow and calls are
// accepted; anything else is reported through reporter.
func BuildProgram(prog *ssa.Program, pkgs []*ssa.Package, reporter *diag.Reporter, opts BuildOptions) (*Program, error) {
	if prog == nil {
		return nil, fmt.Errorf("no SSA program provided")
	}
	b := &builder{
		reporter: reporter,
		out:      NewProgram(),
		funcs:    make(map[*ssa.Function]*Function),
		roots:    make(map[string]bool),
	}
	b.roots["main"] = true
	for _, r := range opts.Roots {
		b.roots[r] = true
	}

	var sources []*ssa.Function
	for _, pkg := range sortedPackages(pkgs) {
		for _, fn := range packageFunctions(pkg) {
			if b.declare(fn) != nil {
				sources = append(sources, fn)
			}
		}
	}
	if len(sources) == 0 {
		return nil, fmt.Errorf("no functions to lower")
	}
	for _, fn := range sources {
		b.lowerBody(fn)
	}
	if reporter.HasErrors() {
		return nil, fmt.Errorf("failed to lower program")
	}
	return b.out, nil
}

type builder struct {
	reporter *diag.Reporter
	out      *Program
	funcs    map[*ssa.Function]*Function
	roots    map[string]bool

	// per function state
	fn     *Function
	values map[ssa.Value]Operand
	blocks map[*ssa.BasicBlock]*Block
}

func sortedPackages(pkgs []*ssa.Package) []*ssa.Package {
	out := make([]*ssa.Package, 0, len(pkgs))
	for _, pkg := range pkgs {
		if pkg != nil && pkg.Pkg != nil {
			out = append(out, pkg)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].Pkg.Path() < out[j].Pkg.Path()
	})
	return out
}

func packageFunctions(pkg *ssa.Package) []*ssa.Function {
	names := make([]string, 0, len(pkg.Members))
	for name, member := range pkg.Members {
		if _, ok := member.(*ssa.Function); ok {
			names = append(names, name)
		}
	}
	sort.Strings(names)
	out := make([]*ssa.Function, 0, len(names))
	for _, name := range names {
		fn := pkg.Members[name].(*ssa.Function)
		if fn.Synthetic != "" || len(fn.Blocks) == 0 {
			continue
		}
		if name == "init" {
			continue
		}
		out = append(out, fn)
	}
	return out
}

// declare creates the IR signature of fn, reporting unsupported signatures.
func (b *builder) declare(fn *ssa.Function) *Function {
	if irFn, ok := b.funcs[fn]; ok {
		return irFn
	}
	sig := fn.Signature
	var result *Type
	switch sig.Results().Len() {
	case 0:
	case 1:
		t, ok := scalarType(sig.Results().At(0).Type())
		if !ok {
			b.reporter.Error(fn.Pos(), fmt.Sprintf("function %s returns unsupported type %s", fn.Name(), sig.Results().At(0).Type()))
			return nil
		}
		result = &t
	default:
		b.reporter.Error(fn.Pos(), fmt.Sprintf("function %s returns multiple values", fn.Name()))
		return nil
	}
	name := fn.Name()
	if fn.Pkg != nil && fn.Pkg.Pkg.Name() != "main" {
		name = fn.Pkg.Pkg.Name() + "." + name
	}
	irFn := b.out.NewFunction(b.uniqueFunctionName(name), result)
	irFn.Pos = fn.Pos()
	irFn.Root = b.roots[fn.Name()] || b.roots[name]
	for i := 0; i < sig.Params().Len(); i++ {
		param := sig.Params().At(i)
		t, ok := scalarType(param.Type())
		if !ok {
			b.reporter.Error(param.Pos(), fmt.Sprintf("parameter %s of %s has unsupported type %s", param.Name(), fn.Name(), param.Type()))
			return nil
		}
		irFn.AddParam(defaultName(param.Name(), fmt.Sprintf("p%d", i)), t)
	}
	b.funcs[fn] = irFn
	return irFn
}

func (b *builder) uniqueFunctionName(name string) string {
	if b.out.Lookup(name) == nil {
		return name
	}
	for i := 1; ; i++ {
		candidate := fmt.Sprintf("%s_%d", name, i)
		if b.out.Lookup(candidate) == nil {
			return candidate
		}
	}
}

func (b *builder) lowerBody(fn *ssa.Function) {
	irFn := b.funcs[fn]
	b.fn = irFn
	b.values = make(map[ssa.Value]Operand)
	b.blocks = make(map[*ssa.BasicBlock]*Block)
	for i, p := range fn.Params {
		if i < len(irFn.Params) {
			b.values[p] = irFn.Params[i].Value
		}
	}
	for _, block := range fn.Blocks {
		if block == nil {
			continue
		}
		b.blocks[block] = irFn.NewBlock()
	}
	for _, block := range fn.Blocks {
		b.translateBlock(block)
	}
	b.connectBlocks(fn.Blocks)
	b.orderBlocks(irFn)
}

func (b *builder) translateBlock(block *ssa.BasicBlock) {
	if block == nil {
		return
	}
	bb := b.blocks[block]
	for _, instr := range block.Instrs {
		switch v := instr.(type) {
		case *ssa.Phi:
			b.handlePhi(bb, v)
		case *ssa.If:
			bb.Stmts = append(bb.Stmts, &If{Cond: b.operand(v.Cond)})
		case *ssa.Jump:
			bb.Stmts = append(bb.Stmts, &Jump{})
		case *ssa.Return:
			b.handleReturn(bb, v)
		default:
			b.translateInstr(bb, instr)
		}
	}
}

func (b *builder) connectBlocks(blocks []*ssa.BasicBlock) {
	for _, block := range blocks {
		if block == nil {
			continue
		}
		src := b.blocks[block]
		for _, succ := range block.Succs {
			if dst := b.blocks[succ]; dst != nil {
				src.Succs = append(src.Succs, dst)
			}
		}
		for _, pred := range block.Preds {
			if p := b.blocks[pred]; p != nil {
				src.Preds = append(src.Preds, p)
			}
		}
	}
}

// orderBlocks sorts blocks in reverse postorder from the entry so that the
// forward analysis visits definitions before uses outside of loops.
func (b *builder) orderBlocks(fn *Function) {
	if len(fn.Blocks) == 0 {
		return
	}
	visited := make(map[*Block]bool)
	order := make([]*Block, 0, len(fn.Blocks))
	var visit func(*Block)
	visit = func(bb *Block) {
		if bb == nil || visited[bb] {
			return
		}
		visited[bb] = true
		for _, succ := range bb.Succs {
			visit(succ)
		}
		order = append(order, bb)
	}
	visit(fn.Blocks[0])
	for _, bb := range fn.Blocks {
		if !visited[bb] {
			visit(bb)
		}
	}
	for i, j := 0, len(order)-1; i < j; i, j = i+1, j-1 {
		order[i], order[j] = order[j], order[i]
	}
	for i, bb := range order {
		bb.Index = i
	}
	fn.Blocks = order
}

func (b *builder) handlePhi(bb *Block, phi *ssa.Phi) {
	t, ok := scalarType(phi.Type())
	if !ok {
		b.reporter.Error(phi.Pos(), fmt.Sprintf("phi of unsupported type %s", phi.Type()))
		return
	}
	dest := b.ensureValue(phi, t)
	edges := make([]Operand, 0, len(phi.Edges))
	for _, edge := range phi.Edges {
		edges = append(edges, b.operand(edge))
	}
	bb.Stmts = append(bb.Stmts, &Phi{Dest: dest, Edges: edges})
}

func (b *builder) handleReturn(bb *Block, ret *ssa.Return) {
	switch len(ret.Results) {
	case 0:
		bb.Stmts = append(bb.Stmts, &Return{})
	case 1:
		bb.Stmts = append(bb.Stmts, &Return{Result: b.operand(ret.Results[0])})
	default:
		b.reporter.Error(ret.Pos(), "multiple return values are not supported")
	}
}

func (b *builder) translateInstr(bb *Block, instr ssa.Instruction) {
	switch v := instr.(type) {
	case *ssa.BinOp:
		b.handleBinOp(bb, v)
	case *ssa.UnOp:
		b.handleUnOp(bb, v)
	case *ssa.Convert:
		b.emitValue(bb, v, &UnaryExpr{Op: Convert, X: b.operand(v.X)}, v.Pos())
	case *ssa.ChangeType:
		b.values[v] = b.operand(v.X)
	case *ssa.Call:
		b.handleCall(bb, v)
	case *ssa.DebugRef:
		// Skip debug markers.
	default:
		b.reporter.Error(instr.Pos(), fmt.Sprintf("instruction %T is not supported", instr))
	}
}

func (b *builder) handleBinOp(bb *Block, op *ssa.BinOp) {
	x := b.operand(op.X)
	y := b.operand(op.Y)
	if x == nil || y == nil {
		return
	}
	if op.Op == token.AND_NOT {
		xt, _ := scalarType(op.X.Type())
		inv := b.fn.NewTemp("not", xt)
		bb.Stmts = append(bb.Stmts, &Assign{Dest: inv, Expr: &UnaryExpr{Op: BitNot, X: y}, Pos: op.Pos()})
		b.emitValue(bb, op, &BinaryExpr{Op: BitAnd, X: x, Y: inv}, op.Pos())
		return
	}
	bin, ok := translateBinOp(op.Op, isBoolType(op.X.Type()))
	if !ok {
		b.reporter.Error(op.Pos(), fmt.Sprintf("unsupported binary op: %s", op.Op.String()))
		return
	}
	b.emitValue(bb, op, &BinaryExpr{Op: bin, X: x, Y: y}, op.Pos())
}

func (b *builder) handleUnOp(bb *Block, op *ssa.UnOp) {
	x := b.operand(op.X)
	if x == nil {
		return
	}
	var un UnaryOp
	switch op.Op {
	case token.SUB:
		un = Negate
	case token.XOR:
		un = BitNot
	case token.NOT:
		un = TruthNot
	default:
		b.reporter.Error(op.Pos(), fmt.Sprintf("unsupported unary op: %s", op.Op.String()))
		return
	}
	b.emitValue(bb, op, &UnaryExpr{Op: un, X: x}, op.Pos())
}

func (b *builder) handleCall(bb *Block, call *ssa.Call) {
	common := call.Common()
	args := make([]Operand, 0, len(common.Args))
	for _, a := range common.Args {
		op := b.operand(a)
		if op == nil {
			return
		}
		args = append(args, op)
	}
	if builtin, ok := common.Value.(*ssa.Builtin); ok {
		b.handleBuiltin(bb, call, builtin, args)
		return
	}
	expr := &CallExpr{Args: args}
	if callee := common.StaticCallee(); callee != nil && !common.IsInvoke() {
		irCallee := b.declare(callee)
		if irCallee == nil {
			return
		}
		expr.Callee = irCallee
		expr.Target = irCallee.Name
	} else {
		expr.Indirect = true
		expr.Target = common.Value.Name()
	}
	results := common.Signature().Results()
	if results.Len() == 0 {
		bb.Stmts = append(bb.Stmts, &Assign{Expr: expr, Pos: call.Pos()})
		return
	}
	b.emitValue(bb, call, expr, call.Pos())
}

func (b *builder) handleBuiltin(bb *Block, call *ssa.Call, builtin *ssa.Builtin, args []Operand) {
	var op BinaryOp
	switch builtin.Name() {
	case "min":
		op = Min
	case "max":
		op = Max
	default:
		b.reporter.Error(call.Pos(), fmt.Sprintf("builtin %s is not supported", builtin.Name()))
		return
	}
	if len(args) == 0 {
		return
	}
	t, ok := scalarType(call.Type())
	if !ok {
		b.reporter.Error(call.Pos(), fmt.Sprintf("builtin %s of unsupported type %s", builtin.Name(), call.Type()))
		return
	}
	acc := args[0]
	for i, arg := range args[1:] {
		if i == len(args)-2 {
			b.emitValue(bb, call, &BinaryExpr{Op: op, X: acc, Y: arg}, call.Pos())
			return
		}
		tmp := b.fn.NewTemp(builtin.Name(), t)
		bb.Stmts = append(bb.Stmts, &Assign{Dest: tmp, Expr: &BinaryExpr{Op: op, X: acc, Y: arg}, Pos: call.Pos()})
		acc = tmp
	}
	b.values[call] = acc
}

// emitValue appends dest = expr where dest is the IR value of v.
func (b *builder) emitValue(bb *Block, v ssa.Value, expr Expr, pos token.Pos) {
	t, ok := scalarType(v.Type())
	if !ok {
		b.reporter.Error(pos, fmt.Sprintf("value %s has unsupported type %s", v.Name(), v.Type()))
		return
	}
	dest := b.ensureValue(v, t)
	bb.Stmts = append(bb.Stmts, &Assign{Dest: dest, Expr: expr, Pos: pos})
}

// ensureValue returns the IR value for v, creating it on first reference so
// that phis can name values defined later in the function.
func (b *builder) ensureValue(v ssa.Value, t Type) *Value {
	if op, ok := b.values[v]; ok {
		if val, ok := op.(*Value); ok {
			val.Type = t
			return val
		}
	}
	val := b.fn.NewValue(v.Name(), t)
	b.values[v] = val
	return val
}

func (b *builder) operand(v ssa.Value) Operand {
	if op, ok := b.values[v]; ok {
		return op
	}
	switch val := v.(type) {
	case *ssa.Const:
		c, err := constOperand(val)
		if err != nil {
			b.reporter.Error(val.Pos(), err.Error())
			return nil
		}
		return c
	case *ssa.Function:
		if irFn := b.declare(val); irFn != nil {
			irFn.AddressTaken = true
		}
		b.reporter.Error(val.Pos(), fmt.Sprintf("function value %s cannot be used as an integer operand", val.Name()))
		return nil
	case *ssa.Global, *ssa.FreeVar:
		b.reporter.Error(val.Pos(), fmt.Sprintf("%s is not supported", val.Name()))
		return nil
	}
	t, ok := scalarType(v.Type())
	if !ok {
		b.reporter.Error(v.Pos(), fmt.Sprintf("value %s has unsupported type %s", v.Name(), v.Type()))
		return nil
	}
	return b.ensureValue(v, t)
}

func constOperand(c *ssa.Const) (*Const, error) {
	t, ok := scalarType(c.Type())
	if !ok {
		return nil, fmt.Errorf("constant %s has unsupported type %s", c.Name(), c.Type())
	}
	if c.Value == nil {
		return ConstInt(0, t), nil
	}
	switch c.Value.Kind() {
	case constant.Bool:
		return ConstBool(constant.BoolVal(c.Value)), nil
	case constant.Int:
		if i, ok := constant.Int64Val(c.Value); ok {
			return ConstInt(i, t), nil
		}
		if u, ok := constant.Uint64Val(c.Value); ok {
			return NewConst(uint256.NewInt(u), t), nil
		}
	}
	return nil, fmt.Errorf("constant %s cannot be represented", c.Value.ExactString())
}

func translateBinOp(tok token.Token, boolOperands bool) (BinaryOp, bool) {
	switch tok {
	case token.ADD:
		return Plus, true
	case token.SUB:
		return Minus, true
	case token.MUL:
		return Mult, true
	case token.QUO:
		return Div, true
	case token.REM:
		return Mod, true
	case token.AND:
		return BitAnd, true
	case token.OR:
		return BitOr, true
	case token.XOR:
		return BitXor, true
	case token.SHL:
		return Lshift, true
	case token.SHR:
		return Rshift, true
	case token.EQL:
		return Eq, true
	case token.NEQ:
		if boolOperands {
			return TruthXor, true
		}
		return Ne, true
	case token.LSS:
		return Lt, true
	case token.LEQ:
		return Le, true
	case token.GTR:
		return Gt, true
	case token.GEQ:
		return Ge, true
	default:
		return 0, false
	}
}

func isBoolType(t types.Type) bool {
	basic, ok := t.Underlying().(*types.Basic)
	return ok && basic.Info()&types.IsBoolean != 0
}

func isSignedType(t types.Type) bool {
	if t == nil {
		return true
	}
	if basic, ok := t.Underlying().(*types.Basic); ok {
		if basic.Info()&types.IsUnsigned != 0 {
			return false
		}
	}
	return true
}

// scalarType maps a Go type onto an IR integer type.
func scalarType(t types.Type) (Type, bool) {
	basic, ok := t.Underlying().(*types.Basic)
	if !ok {
		return Type{}, false
	}
	if basic.Info()&types.IsBoolean != 0 {
		return BoolType(), true
	}
	if basic.Info()&types.IsInteger == 0 {
		return Type{}, false
	}
	width, ok := widthForBasic(basic)
	if !ok {
		return Type{}, false
	}
	return IntType(width, isSignedType(basic)), true
}

func widthForBasic(b *types.Basic) (int, bool) {
	switch b.Kind() {
	case types.Int8, types.Uint8:
		return 8, true
	case types.Int16, types.Uint16:
		return 16, true
	case types.Int32, types.Int, types.Uint32, types.Uint, types.UntypedInt, types.UntypedRune:
		return 32, true
	case types.Int64, types.Uint64:
		return 64, true
	default:
		return 0, false
	}
}

func defaultName(candidate, fallback string) string {
	if candidate == "" || candidate == "_" {
		return fallback
	}
	return candidate
}
