// Package callgraph is a read-only view of the calls between the functions
// of an ir.Program.
package callgraph

import (
	"golang.org/x/exp/slices"

	"hlsbv/internal/ir"
)

// Site is one call statement.
type Site struct {
	Caller *ir.Function
	Block  *ir.Block
	Stmt   *ir.Assign
	Call   *ir.CallExpr
}

// Graph holds the call edges of a program computed once by Build. It does
// not follow later edits of the program.
type Graph struct {
	prog     *ir.Program
	roots    []*ir.Function
	isRoot   map[*ir.Function]bool
	reached  map[*ir.Function]bool
	order    []*ir.Function
	callers  map[*ir.Function][]Site
	callees  map[*ir.Function][]*ir.Function
	indirect []Site
}

// Build computes the graph of prog. Functions marked Root are the entry
// points; a program without any falls back to main, then to every function
// with a body.
func Build(prog *ir.Program) *Graph {
	g := &Graph{
		prog:    prog,
		isRoot:  make(map[*ir.Function]bool),
		reached: make(map[*ir.Function]bool),
		callers: make(map[*ir.Function][]Site),
		callees: make(map[*ir.Function][]*ir.Function),
	}
	for _, fn := range prog.Functions {
		if fn.Root {
			g.roots = append(g.roots, fn)
		}
	}
	if len(g.roots) == 0 {
		if m := prog.Lookup("main"); m != nil && m.HasBody() {
			g.roots = append(g.roots, m)
		}
	}
	if len(g.roots) == 0 {
		for _, fn := range prog.Functions {
			if fn.HasBody() {
				g.roots = append(g.roots, fn)
			}
		}
	}
	for _, fn := range g.roots {
		g.isRoot[fn] = true
	}

	var sites []Site
	for _, fn := range prog.Functions {
		for _, b := range fn.Blocks {
			for _, s := range b.Stmts {
				as, ok := s.(*ir.Assign)
				if !ok {
					continue
				}
				call, ok := as.Expr.(*ir.CallExpr)
				if !ok {
					continue
				}
				sites = append(sites, Site{Caller: fn, Block: b, Stmt: as, Call: call})
			}
		}
	}
	for _, s := range sites {
		if s.Call.Indirect || s.Call.Callee == nil {
			continue
		}
		if !slices.Contains(g.callees[s.Caller], s.Call.Callee) {
			g.callees[s.Caller] = append(g.callees[s.Caller], s.Call.Callee)
		}
	}

	visiting := make(map[*ir.Function]bool)
	var visit func(fn *ir.Function)
	visit = func(fn *ir.Function) {
		if g.reached[fn] || visiting[fn] {
			return
		}
		visiting[fn] = true
		for _, callee := range g.callees[fn] {
			visit(callee)
		}
		visiting[fn] = false
		g.reached[fn] = true
		g.order = append(g.order, fn)
	}
	for _, fn := range g.roots {
		visit(fn)
	}

	// Anything whose address escapes may be the target of an indirect call.
	for _, s := range sites {
		if g.reached[s.Caller] && (s.Call.Indirect || s.Call.Callee == nil) {
			for _, fn := range prog.Functions {
				if fn.AddressTaken && fn.HasBody() {
					visit(fn)
				}
			}
			break
		}
	}

	for _, s := range sites {
		if !g.reached[s.Caller] {
			continue
		}
		if s.Call.Indirect || s.Call.Callee == nil {
			g.indirect = append(g.indirect, s)
			continue
		}
		g.callers[s.Call.Callee] = append(g.callers[s.Call.Callee], s)
	}
	return g
}

// Roots returns the entry points.
func (g *Graph) Roots() []*ir.Function { return g.roots }

// IsRoot reports whether fn is an entry point.
func (g *Graph) IsRoot(fn *ir.Function) bool { return g.isRoot[fn] }

// Reached returns the functions with a body that a root can call, callees
// first.
func (g *Graph) Reached() []*ir.Function {
	out := make([]*ir.Function, 0, len(g.order))
	for _, fn := range g.order {
		if fn.HasBody() {
			out = append(out, fn)
		}
	}
	return out
}

// IsReached reports whether fn is reachable from a root.
func (g *Graph) IsReached(fn *ir.Function) bool { return g.reached[fn] }

// TopologicalOrder returns every reached function, callees before their
// callers. Recursive cycles are broken at the first function entered.
func (g *Graph) TopologicalOrder() []*ir.Function {
	return append([]*ir.Function(nil), g.order...)
}

// Callers returns the direct call sites of fn inside reached functions.
func (g *Graph) Callers(fn *ir.Function) []Site { return g.callers[fn] }

// Callees returns the functions fn calls directly.
func (g *Graph) Callees(fn *ir.Function) []*ir.Function { return g.callees[fn] }

// HasIndirectCalls reports whether a reached function calls through an
// unknown target.
func (g *Graph) HasIndirectCalls() bool { return len(g.indirect) > 0 }

// IndirectCalls lists the indirect call sites of reached functions.
func (g *Graph) IndirectCalls() []Site { return g.indirect }
