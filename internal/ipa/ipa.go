// Package ipa propagates bit values across call boundaries: from call-site
// results and return statements into function signatures, and from actual
// arguments into formal parameters.
package ipa

import (
	"errors"
	"fmt"

	"hlsbv/internal/bitlattice"
	"hlsbv/internal/bitvalue"
	"hlsbv/internal/callgraph"
	"hlsbv/internal/ir"
)

// ErrSignatureMismatch reports a call site or return statement whose
// signedness disagrees with the signature it flows into.
var ErrSignatureMismatch = errors.New("ipa: signedness mismatch")

// Budget gates and records every signature update.
type Budget interface {
	ApplyNewTransformation() bool
	RegisterTransformation(pass string, target fmt.Stringer)
}

// Options configures Run.
type Options struct {
	// Budget is optional.
	Budget Budget
}

// Result reports what a run wrote back.
type Result struct {
	Changed bool
	// Restart lists the functions whose bit values must be recomputed: the
	// ones whose signature changed and their direct callers.
	Restart []*ir.Function
}

const passName = "BitValueIPA"

// Driver remembers the function versions seen by its last run so that an
// unchanged program is not analyzed twice.
type Driver struct {
	lastBitValue map[*ir.Function]int
	lastBB       map[*ir.Function]int
}

func NewDriver() *Driver {
	return &Driver{}
}

// HasToRun reports whether a reached function changed since the last run.
func (d *Driver) HasToRun(g *callgraph.Graph) bool {
	if d.lastBitValue == nil {
		return true
	}
	reached := g.Reached()
	if len(reached) != len(d.lastBitValue) {
		return true
	}
	for _, fn := range reached {
		bv, ok := d.lastBitValue[fn]
		if !ok || bv != fn.BitValueVersion || d.lastBB[fn] != fn.BBVersion {
			return true
		}
	}
	return false
}

// Run executes one interprocedural round and records the resulting
// versions.
func (d *Driver) Run(prog *ir.Program, g *callgraph.Graph, opts Options) (Result, error) {
	res, err := Run(prog, g, opts)
	if err != nil {
		return res, err
	}
	d.lastBitValue = make(map[*ir.Function]int)
	d.lastBB = make(map[*ir.Function]int)
	for _, fn := range g.Reached() {
		d.lastBitValue[fn] = fn.BitValueVersion
		d.lastBB[fn] = fn.BBVersion
	}
	return res, nil
}

type propagator struct {
	g    *callgraph.Graph
	tab  *bitvalue.Table
	opts Options
}

// Run propagates once over the reached functions of g, callees first, and
// writes improved signatures back to prog. Nothing happens when a reached
// function calls through an unknown target.
func Run(prog *ir.Program, g *callgraph.Graph, opts Options) (Result, error) {
	if g.HasIndirectCalls() {
		return Result{}, nil
	}
	p := &propagator{g: g, tab: bitvalue.NewTable(), opts: opts}
	reached := g.Reached()
	if err := p.initialize(reached); err != nil {
		return Result{}, err
	}
	before := p.tab.Snapshot()
	for _, fn := range reached {
		stop, err := p.propagate(fn)
		if err != nil {
			return Result{}, err
		}
		if stop {
			break
		}
	}
	return p.writeBack(before.Diff(p.tab)), nil
}

func (p *propagator) initialize(reached []*ir.Function) error {
	for _, fn := range reached {
		for _, param := range fn.Params {
			bs, err := storedOrU(param.BitValues, param.Type)
			if err != nil {
				return fmt.Errorf("%s: parameter %s: %w", fn.Name, param.Name, err)
			}
			p.tab.SetBest(param.ID, bs, param.Type)
		}
		if fn.Result == nil {
			continue
		}
		bs, err := storedOrU(fn.BitValues, *fn.Result)
		if err != nil {
			return fmt.Errorf("%s: result: %w", fn.Name, err)
		}
		p.tab.SetBest(fn.ID, bs, *fn.Result)
	}
	return nil
}

func (p *propagator) allow() bool {
	return p.opts.Budget == nil || p.opts.Budget.ApplyNewTransformation()
}

// register charges the budget for a fact the run actually moved.
func (p *propagator) register(target fmt.Stringer) {
	if p.opts.Budget != nil {
		p.opts.Budget.RegisterTransformation(passName, target)
	}
}

// merge folds res into the best value of id through a fresh current table.
func (p *propagator) merge(res bitlattice.Bitstring, id int) {
	p.tab.ClearCurrent(func(k int) bool { return k == id })
	p.tab.UpdateCurrent(res, id)
	p.tab.Mix()
	p.tab.ClearCurrent(nil)
}

// propagate handles one function. It returns true when the budget is
// exhausted and the run must stop.
func (p *propagator) propagate(fn *ir.Function) (bool, error) {
	root := p.g.IsRoot(fn)
	if p.tab.HasBest(fn.ID) {
		rt := *fn.Result
		prev := p.tab.Best(fn.ID).Clone()
		// The signature of a root is fixed by whoever calls it from outside,
		// so nothing flows back from its call sites.
		budgeted := !root && !fn.AddressTaken
		if budgeted {
			if !p.allow() {
				return true, nil
			}
			res, err := p.callResults(fn, rt)
			if err != nil {
				return false, err
			}
			p.merge(res, fn.ID)
		}
		res, err := p.returnedValues(fn, rt)
		if err != nil {
			return false, err
		}
		p.merge(res, fn.ID)
		if budgeted && !p.tab.Best(fn.ID).Equal(prev) {
			p.register(signatureTarget{fn: fn})
		}
	}
	for _, param := range fn.Params {
		if !p.allow() {
			return true, nil
		}
		prev := p.tab.Best(param.ID).Clone()
		p.merge(p.entryRequirement(param), param.ID)
		if !root {
			res, err := p.actualArguments(fn, param)
			if err != nil {
				return false, err
			}
			p.merge(res, param.ID)
		}
		if !p.tab.Best(param.ID).Equal(prev) {
			p.register(signatureTarget{fn: fn, param: param})
		}
	}
	return false, nil
}

// callResults combines what every call site stored for the returned value.
func (p *propagator) callResults(fn *ir.Function, rt ir.Type) (bitlattice.Bitstring, error) {
	res := bitlattice.NewX(1)
	size := width(rt)
	for _, site := range p.g.Callers(fn) {
		dest := site.Stmt.Dest
		if dest == nil {
			return p.tab.Best(fn.ID), nil
		}
		if dest.Type.Signed != rt.Signed {
			return nil, fmt.Errorf("%s calls %s into %s: %w", site.Caller.Name, fn.Name, dest.Name, ErrSignatureMismatch)
		}
		fanout, err := storedOrU(dest.BitValues, dest.Type)
		if err != nil {
			return nil, fmt.Errorf("%s: %s: %w", site.Caller.Name, dest.Name, err)
		}
		res = bitlattice.Sup(res, fanout, size, rt.Signed, rt.Bool)
	}
	return res, nil
}

// returnedValues combines every operand returned by fn.
func (p *propagator) returnedValues(fn *ir.Function, rt ir.Type) (bitlattice.Bitstring, error) {
	res := bitlattice.NewX(1)
	size := width(rt)
	for _, b := range fn.Blocks {
		for _, s := range b.Stmts {
			ret, ok := s.(*ir.Return)
			if !ok {
				continue
			}
			var tmp bitlattice.Bitstring
			switch op := ret.Result.(type) {
			case *ir.Value:
				if op.Type.Signed != rt.Signed {
					return nil, fmt.Errorf("%s returns %s: %w", fn.Name, op.Name, ErrSignatureMismatch)
				}
				bs, err := storedOrU(op.BitValues, op.Type)
				if err != nil {
					return nil, fmt.Errorf("%s: %s: %w", fn.Name, op.Name, err)
				}
				tmp = bs
			case *ir.Const:
				tmp = bitlattice.FromConstant(op.Val, width(op.Type), rt.Signed)
			default:
				return bitlattice.Sup(res, bitlattice.NewU(size), size, rt.Signed, rt.Bool), nil
			}
			res = bitlattice.Sup(res, tmp, size, rt.Signed, rt.Bool)
		}
	}
	return res, nil
}

// entryRequirement is what the body stored for the entry value of param.
func (p *propagator) entryRequirement(param *ir.Param) bitlattice.Bitstring {
	bs, err := storedOrU(param.Value.BitValues, param.Value.Type)
	if err != nil {
		return p.tab.Best(param.ID)
	}
	return bitlattice.Sup(bitlattice.NewX(1), bs, width(param.Type), param.Type.Signed, param.Type.Bool)
}

// actualArguments combines the arguments every call site passes for param.
func (p *propagator) actualArguments(fn *ir.Function, param *ir.Param) (bitlattice.Bitstring, error) {
	res := bitlattice.NewX(1)
	size := width(param.Type)
	for _, site := range p.g.Callers(fn) {
		if param.Index >= len(site.Call.Args) {
			return nil, fmt.Errorf("%s calls %s with %d arguments: %w", site.Caller.Name, fn.Name, len(site.Call.Args), ir.ErrUnsupported)
		}
		var tmp bitlattice.Bitstring
		switch op := site.Call.Args[param.Index].(type) {
		case *ir.Value:
			if op.Type.Signed != param.Type.Signed {
				return nil, fmt.Errorf("%s passes %s to %s.%s: %w", site.Caller.Name, op.Name, fn.Name, param.Name, ErrSignatureMismatch)
			}
			bs, err := storedOrU(op.BitValues, op.Type)
			if err != nil {
				return nil, fmt.Errorf("%s: %s: %w", site.Caller.Name, op.Name, err)
			}
			tmp = bs
		case *ir.Const:
			tmp = bitlattice.FromConstant(op.Val, width(op.Type), param.Type.Signed)
		default:
			tmp = bitlattice.NewU(size)
		}
		res = bitlattice.Sup(res, tmp, size, param.Type.Signed, param.Type.Bool)
	}
	return res, nil
}

// writeBack stores the best value of every id the run moved on its
// declaration. A changed function or parameter restarts its function and
// the callers of that function.
func (p *propagator) writeBack(ids []int) Result {
	changed := make(map[int]bool, len(ids))
	for _, id := range ids {
		changed[id] = true
	}
	var res Result
	restart := make(map[*ir.Function]bool)
	mark := func(fn *ir.Function) {
		if !restart[fn] {
			restart[fn] = true
			res.Restart = append(res.Restart, fn)
		}
		for _, site := range p.g.Callers(fn) {
			if !restart[site.Caller] {
				restart[site.Caller] = true
				res.Restart = append(res.Restart, site.Caller)
			}
		}
	}
	for _, fn := range p.g.Reached() {
		if changed[fn.ID] {
			if store(&fn.BitValues, p.tab.Best(fn.ID), width(*fn.Result)) {
				mark(fn)
			}
		}
		for _, param := range fn.Params {
			if changed[param.ID] && store(&param.BitValues, p.tab.Best(param.ID), width(param.Type)) {
				mark(fn)
			}
		}
	}
	for _, fn := range res.Restart {
		fn.BitValueVersion++
	}
	res.Changed = len(res.Restart) > 0
	return res
}

// store writes bs into *dst and reports whether that is news: a previously
// empty slot only counts when bs says more than all U.
func store(dst *string, bs bitlattice.Bitstring, size int) bool {
	next := bs.String()
	old := *dst
	*dst = next
	if old == "" {
		return next != bitlattice.NewU(size).String()
	}
	return old != next
}

func storedOrU(stored string, t ir.Type) (bitlattice.Bitstring, error) {
	if stored == "" {
		return bitlattice.NewU(width(t)), nil
	}
	return bitlattice.Parse(stored)
}

func width(t ir.Type) int {
	if t.Bool {
		return 1
	}
	return t.Width
}

// signatureTarget names a function signature or one of its parameters for
// the budget log.
type signatureTarget struct {
	fn    *ir.Function
	param *ir.Param
}

func (t signatureTarget) String() string {
	if t.param != nil {
		return t.fn.Name + "." + t.param.Name
	}
	return t.fn.Name
}
