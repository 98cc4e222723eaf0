package bitvalue

import (
	"errors"
	"fmt"

	"hlsbv/internal/bitlattice"
	"hlsbv/internal/ir"
)

// ErrNoConvergence reports a forward sweep that did not settle within
// Options.MaxRounds rounds.
var ErrNoConvergence = errors.New("bitvalue: forward sweep did not converge")

const defaultMaxRounds = 256

// Options tunes one analysis run.
type Options struct {
	// MaxRounds bounds the rounds of each forward phase. Zero selects the
	// default.
	MaxRounds int
}

// Result is the outcome of Analyze.
type Result struct {
	// Changed is set when a stored bitstring of the function was updated.
	Changed bool
	Table   *Table
}

type analyzer struct {
	fn   *ir.Function
	tab  *Table
	ix   *ir.Index
	args map[int]bool
	opts Options
}

// Analyze runs the intraprocedural fixpoint over fn and writes the
// improved bitstrings back to its SSA values, parameter entry values
// included. Parameter and function signatures are read but left to the
// interprocedural driver.
func Analyze(fn *ir.Function, opts Options) (*Result, error) {
	if opts.MaxRounds <= 0 {
		opts.MaxRounds = defaultMaxRounds
	}
	a := &analyzer{
		fn:   fn,
		tab:  NewTable(),
		ix:   ir.NewIndex(fn),
		args: make(map[int]bool),
		opts: opts,
	}
	if !fn.HasBody() {
		return &Result{Table: a.tab}, nil
	}
	if err := a.initialize(); err != nil {
		return nil, err
	}
	if err := a.backward(); err != nil {
		return nil, err
	}
	a.tab.Mix()
	for {
		a.clearCurrent()
		if err := a.forwardSweep(); err != nil {
			return nil, err
		}
		a.tab.Mix()
		if err := a.backward(); err != nil {
			return nil, err
		}
		if !a.tab.Mix() {
			break
		}
	}
	changed := a.updateIR()
	if changed {
		fn.BitValueVersion++
	}
	return &Result{Changed: changed, Table: a.tab}, nil
}

func (a *analyzer) initialize() error {
	for _, p := range a.fn.Params {
		bs, err := storedOrU(p.BitValues, typeSize(p.Type))
		if err != nil {
			return fmt.Errorf("%s: parameter %s: %w", a.fn.Name, p.Name, err)
		}
		a.tab.SetBest(p.Value.ID, bs, p.Type)
		a.args[p.Value.ID] = true
	}
	if a.fn.Result != nil {
		bs, err := storedOrU(a.fn.BitValues, typeSize(*a.fn.Result))
		if err != nil {
			return fmt.Errorf("%s: result: %w", a.fn.Name, err)
		}
		a.tab.SetBest(a.fn.ID, bs, *a.fn.Result)
	}
	for _, b := range a.fn.Blocks {
		for _, s := range b.Stmts {
			switch st := s.(type) {
			case *ir.Assign:
				if st.Dest == nil {
					continue
				}
				bs, err := initialBits(st)
				if err != nil {
					return fmt.Errorf("%s: %s: %w", a.fn.Name, st.Dest.Name, err)
				}
				a.tab.SetBest(st.Dest.ID, bs, st.Dest.Type)
			case *ir.Phi:
				a.tab.SetBest(st.Dest.ID, bitlattice.NewU(typeSize(st.Dest.Type)), st.Dest.Type)
			}
		}
	}
	// Values read but never defined keep U for the whole run.
	for _, v := range a.ix.Values() {
		if !a.tab.HasBest(v.ID) {
			a.tab.SetBest(v.ID, bitlattice.NewU(typeSize(v.Type)), v.Type)
			a.args[v.ID] = true
		}
	}
	return nil
}

func initialBits(s *ir.Assign) (bitlattice.Bitstring, error) {
	size := typeSize(s.Dest.Type)
	switch e := s.Expr.(type) {
	case *ir.CallExpr:
		if e.Indirect || e.Callee == nil {
			return bitlattice.NewU(size), nil
		}
		return storedOrU(e.Callee.BitValues, size)
	case *ir.LutExpr:
		return bitlattice.NewU(1), nil
	case *ir.BinaryExpr:
		if e.Op == ir.ExtractBit {
			return bitlattice.NewU(1), nil
		}
	}
	return bitlattice.NewU(size), nil
}

func storedOrU(stored string, size int) (bitlattice.Bitstring, error) {
	if stored == "" {
		return bitlattice.NewU(size), nil
	}
	return bitlattice.Parse(stored)
}

// clearCurrent restarts current from the parameter entry values, the
// undefined values and the function result.
func (a *analyzer) clearCurrent() {
	a.tab.ClearCurrent(func(id int) bool {
		return a.args[id] || id == a.fn.ID
	})
}

// forwardSweep propagates values in block order. The first phase only
// evaluates statements whose operands are all known, which lets loop
// headers start from their entry edge; the second phase visits everything.
func (a *analyzer) forwardSweep() error {
	for _, first := range []bool{true, false} {
		rounds := 0
		for {
			changed, err := a.forwardRound(first)
			if err != nil {
				return err
			}
			if !changed {
				break
			}
			rounds++
			if rounds >= a.opts.MaxRounds {
				return fmt.Errorf("%s: %w", a.fn.Name, ErrNoConvergence)
			}
		}
	}
	return nil
}

func (a *analyzer) forwardRound(first bool) (bool, error) {
	changed := false
	for _, b := range a.fn.Blocks {
		for _, s := range b.Stmts {
			switch st := s.(type) {
			case *ir.Assign:
				if st.Dest == nil {
					continue
				}
				if first && !a.operandsKnown(st) {
					continue
				}
				a.tab.seedCurrent(st.Dest.ID)
				res, err := a.forward(st)
				if err != nil {
					return false, fmt.Errorf("%s: %w", a.fn.Name, err)
				}
				if a.tab.UpdateCurrent(res, st.Dest.ID) {
					changed = true
				}
			case *ir.Phi:
				if a.forwardPhi(st, first) {
					changed = true
				}
			}
		}
	}
	return changed, nil
}

func (a *analyzer) operandsKnown(s ir.Stmt) bool {
	for _, op := range ir.Operands(s) {
		if v, ok := op.(*ir.Value); ok {
			if _, known := a.tab.Current(v.ID); !known {
				return false
			}
		}
	}
	return true
}

// forwardPhi merges the incoming values with Sup. During the first phase
// edges not computed yet are ignored.
func (a *analyzer) forwardPhi(p *ir.Phi, first bool) bool {
	out := p.Dest.Type
	res := bitlattice.NewX(1)
	contributed := false
	for _, edge := range p.Edges {
		if edge == ir.Operand(p.Dest) {
			continue
		}
		if v, ok := edge.(*ir.Value); ok {
			if _, known := a.tab.Current(v.ID); !known {
				if first {
					continue
				}
				a.tab.seedCurrent(v.ID)
			}
		}
		res = bitlattice.Sup(res, a.operand(edge), typeSize(out), out.Signed, out.Bool)
		contributed = true
	}
	if !contributed {
		return false
	}
	if _, ok := a.tab.Current(p.Dest.ID); !ok && first {
		a.tab.SetCurrent(p.Dest.ID, bitlattice.SignReduce(res, out.Signed))
		return true
	}
	a.tab.seedCurrent(p.Dest.ID)
	return a.tab.UpdateCurrent(res, p.Dest.ID)
}

// updateIR stores every refined bitstring on its SSA value. A stored string
// is replaced when it was empty, when the new one is shorter, or when the
// new one only turns U positions into known bits.
func (a *analyzer) updateIR() bool {
	changed := false
	for _, v := range a.ix.Values() {
		if a.args[v.ID] && v.Param == nil {
			continue
		}
		bs := a.tab.Best(v.ID)
		if bitlattice.IsAllU(bs) && len(bs) == typeSize(v.Type) {
			continue
		}
		next := bs.String()
		if refines(v.BitValues, next) {
			v.BitValues = next
			changed = true
		}
	}
	return changed
}

func refines(old, next string) bool {
	if old == next {
		return false
	}
	if old == "" || len(next) < len(old) {
		return true
	}
	if len(next) != len(old) {
		return false
	}
	for i := range next {
		if old[i] != 'U' && old[i] != next[i] {
			return false
		}
	}
	return true
}
