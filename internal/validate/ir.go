package validate

import (
	"errors"
	"fmt"

	"hlsbv/internal/bitlattice"
	"hlsbv/internal/ir"
)

// CheckIR verifies the structural invariants of every function body in
// prog: single definitions, defined operands, well placed terminators and
// phis, and stored bitstrings that parse and fit their type. All problems
// are joined into the returned error.
func CheckIR(prog *ir.Program) error {
	var errs []error
	for _, fn := range prog.Functions {
		errs = append(errs, checkFunction(fn)...)
	}
	return errors.Join(errs...)
}

func checkFunction(fn *ir.Function) []error {
	var errs []error
	fail := func(format string, args ...any) {
		errs = append(errs, fmt.Errorf("%s: %s", fn.Name, fmt.Sprintf(format, args...)))
	}
	if fn.Result != nil {
		if err := checkBits(fn.BitValues, *fn.Result); err != nil {
			fail("result: %v", err)
		}
	}
	defined := make(map[*ir.Value]bool)
	for _, p := range fn.Params {
		defined[p.Value] = true
		if err := checkBits(p.BitValues, p.Type); err != nil {
			fail("parameter %s: %v", p.Name, err)
		}
		if err := checkBits(p.Value.BitValues, p.Type); err != nil {
			fail("parameter value %s: %v", p.Name, err)
		}
	}
	for _, b := range fn.Blocks {
		for _, s := range b.Stmts {
			d := ir.Dest(s)
			if d == nil {
				continue
			}
			if defined[d] {
				fail("%s is defined more than once", d.Name)
			}
			defined[d] = true
			if err := checkBits(d.BitValues, d.Type); err != nil {
				fail("%s: %v", d.Name, err)
			}
		}
	}
	for _, b := range fn.Blocks {
		for i, s := range b.Stmts {
			for _, op := range ir.Operands(s) {
				if v, ok := op.(*ir.Value); ok && !defined[v] {
					fail("block %d: %s reads undefined %s", b.Index, ir.RenderStmt(s), v.Name)
				}
			}
			switch st := s.(type) {
			case *ir.Return, *ir.If, *ir.Jump:
				if i != len(b.Stmts)-1 {
					fail("block %d: terminator %s is not last", b.Index, ir.RenderStmt(s))
				}
			case *ir.Phi:
				if len(st.Edges) != len(b.Preds) {
					fail("block %d: phi %s has %d edges for %d predecessors", b.Index, st.Dest.Name, len(st.Edges), len(b.Preds))
				}
				for _, prev := range b.Stmts[:i] {
					if _, ok := prev.(*ir.Phi); !ok {
						fail("block %d: phi %s follows a non-phi statement", b.Index, st.Dest.Name)
						break
					}
				}
			case *ir.Assign:
				if x, ok := st.Expr.(*ir.BinaryExpr); ok && st.Dest != nil {
					if x.Op.IsComparison() || x.Op == ir.ExtractBit || x.Op.IsTruth() {
						if !st.Dest.Type.Bool {
							fail("block %d: %s yields a non-bool", b.Index, st.Dest.Name)
						}
					}
				}
			}
		}
		if b.Terminator() == nil {
			fail("block %d has no terminator", b.Index)
		}
	}
	return errs
}

func checkBits(s string, t ir.Type) error {
	if s == "" {
		return nil
	}
	bs, err := bitlattice.Parse(s)
	if err != nil {
		return err
	}
	w := t.Width
	if t.Bool {
		w = 1
	}
	if len(bs) > w {
		return fmt.Errorf("bitstring %q is wider than %s", s, t)
	}
	return nil
}
