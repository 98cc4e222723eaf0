// Package validate rejects Go sources outside the subset the bit-value
// pipeline lowers, and checks the structural invariants of lowered IR.
package validate

import (
	"fmt"
	"go/ast"
	"go/token"
	"go/types"

	"golang.org/x/tools/go/packages"
	"golang.org/x/tools/go/ssa"
	"golang.org/x/tools/go/ssa/ssautil"

	"hlsbv/internal/diag"
)

// CheckProgram validates that the SSA program only uses sequential scalar
// code. Constructs that merely weaken the analysis, such as calls through
// interfaces or function values, are reported as warnings.
func CheckProgram(prog *ssa.Program, pkgs []*ssa.Package, astPkgs []*packages.Package, reporter *diag.Reporter) error {
	if prog == nil {
		return fmt.Errorf("no SSA program provided for validation")
	}
	if reporter == nil {
		return fmt.Errorf("no reporter provided for validation")
	}

	c := &checker{
		reporter:   reporter,
		allowedPkg: make(map[*ssa.Package]struct{}),
		astPkgs:    astPkgs,
	}
	for _, pkg := range pkgs {
		if pkg != nil {
			c.allowedPkg[pkg] = struct{}{}
		}
	}
	c.run(prog)
	if c.errCount > 0 {
		return fmt.Errorf("validation failed with %d issue(s)", c.errCount)
	}
	return nil
}

type checker struct {
	reporter   *diag.Reporter
	errCount   int
	allowedPkg map[*ssa.Package]struct{}
	astPkgs    []*packages.Package
}

func (c *checker) run(prog *ssa.Program) {
	c.checkASTLoops()
	for fn := range ssautil.AllFunctions(prog) {
		if fn == nil || len(fn.Blocks) == 0 || fn.Pkg == nil || fn.Pkg.Pkg == nil {
			continue
		}
		if len(c.allowedPkg) > 0 {
			if _, ok := c.allowedPkg[fn.Pkg]; !ok {
				continue
			}
		}
		for _, block := range fn.Blocks {
			for _, instr := range block.Instrs {
				c.inspectInstruction(fn, instr)
			}
		}
	}
}

func (c *checker) inspectInstruction(fn *ssa.Function, instr ssa.Instruction) {
	switch inst := instr.(type) {
	case *ssa.Go:
		c.error(inst.Pos(), "goroutines are not supported; %s must be sequential", fn.Name())
	case *ssa.Defer, *ssa.RunDefers:
		c.error(instr.Pos(), "defer is not supported")
	case *ssa.MakeChan, *ssa.Send, *ssa.Select:
		c.error(instr.Pos(), "channels are not supported")
	case *ssa.MakeMap, *ssa.MapUpdate, *ssa.Lookup:
		c.error(instr.Pos(), "maps are not supported")
	case *ssa.Call:
		c.checkCall(fn, inst)
	}
}

func (c *checker) checkCall(current *ssa.Function, call *ssa.Call) {
	if call.Call.IsInvoke() {
		c.warning(call.Pos(), "interface method call in %s disables interprocedural bit-value propagation", current.Name())
		return
	}
	if _, ok := call.Call.Value.(*ssa.Builtin); ok {
		return
	}
	if call.Call.StaticCallee() == nil {
		c.warning(call.Pos(), "call through a function value in %s disables interprocedural bit-value propagation", current.Name())
	}
}

// checkASTLoops flags loops without a condition. They are accepted; the
// values they carry are only bounded by their type.
func (c *checker) checkASTLoops() {
	for _, pkg := range c.astPkgs {
		if pkg == nil {
			continue
		}
		for _, file := range pkg.Syntax {
			if file == nil {
				continue
			}
			ast.Inspect(file, func(n ast.Node) bool {
				switch s := n.(type) {
				case *ast.ForStmt:
					if s.Cond == nil {
						c.warning(s.For, "loop without a condition")
					}
				case *ast.RangeStmt:
					if !rangesOverInteger(pkg.TypesInfo, s.X) {
						c.error(s.For, "range loops are only supported over integers")
					}
				}
				return true
			})
		}
	}
}

func rangesOverInteger(info *types.Info, x ast.Expr) bool {
	if info == nil {
		return false
	}
	tv, ok := info.Types[x]
	if !ok {
		return false
	}
	b, ok := tv.Type.Underlying().(*types.Basic)
	return ok && b.Info()&types.IsInteger != 0
}

func (c *checker) error(pos token.Pos, format string, args ...any) {
	c.errCount++
	c.reporter.Error(pos, fmt.Sprintf(format, args...))
}

func (c *checker) warning(pos token.Pos, format string, args ...any) {
	c.reporter.Warning(pos, fmt.Sprintf(format, args...))
}
