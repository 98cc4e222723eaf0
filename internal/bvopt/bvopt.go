// Package bvopt rewrites a function body using the bitstrings computed by
// the bit-value analysis: values proven constant are replaced by literals,
// operations whose operands share known trailing bits are narrowed, and
// single-bit extractions are pushed through the expressions that define
// their operand.
package bvopt

import (
	"fmt"

	"hlsbv/internal/ir"
)

const passName = "BitValueOpt"

// DefaultMaxLUTSize bounds the operand width for which extract_bit of a sum
// is unrolled into a ripple adder.
const DefaultMaxLUTSize = 6

// Budget gates every rewrite. ApplyNewTransformation is asked before an edit
// is committed and RegisterTransformation is called once it is.
type Budget interface {
	ApplyNewTransformation() bool
	RegisterTransformation(pass string, target fmt.Stringer)
}

type Options struct {
	// MaxLUTSize bounds the unrolled adders and the lookup tables built for
	// bit extractions. Zero selects DefaultMaxLUTSize.
	MaxLUTSize int
}

// Status reports what a run did to the function.
type Status struct {
	Modified bool
	// RestartDeadCode is set when a rewrite left a statement without uses.
	RestartDeadCode bool
	// Edits counts the committed rewrites.
	Edits int
}

type optimizer struct {
	fn     *ir.Function
	ix     *ir.Index
	budget Budget
	opts   Options
	status Status
}

// Optimize walks every statement of fn once and applies the first rewrite
// that matches it. A budget that refuses an edit ends the run; the body is
// then left as it was after the last committed edit. budget may be nil.
func Optimize(fn *ir.Function, budget Budget, opts Options) (Status, error) {
	if opts.MaxLUTSize <= 0 {
		opts.MaxLUTSize = DefaultMaxLUTSize
	}
	o := &optimizer{fn: fn, budget: budget, opts: opts}
	if !fn.HasBody() {
		return o.status, nil
	}
	o.ix = ir.NewIndex(fn)
	if err := o.propagateParams(); err != nil {
		return o.status, err
	}
	for _, b := range fn.Blocks {
		stmts := append([]ir.Stmt(nil), b.Stmts...)
		for _, s := range stmts {
			as, ok := s.(*ir.Assign)
			if !ok || as.Dest == nil || as.Keep {
				continue
			}
			e, err := o.rewrite(as)
			if err != nil {
				return o.status, fmt.Errorf("%s: %s: %w", fn.Name, as.Dest.Name, err)
			}
			if e == nil {
				continue
			}
			stop, err := o.commit(b, as, e)
			if err != nil {
				return o.status, err
			}
			if stop {
				return o.finish(), nil
			}
		}
	}
	return o.finish(), nil
}

func (o *optimizer) finish() Status {
	if o.status.Modified {
		o.fn.BBVersion++
	}
	return o.status
}

// commit applies e to s. It reports true when the budget refused the edit.
func (o *optimizer) commit(b *ir.Block, s *ir.Assign, e *edit) (bool, error) {
	if !e.structural() && o.fn.CountUses(s.Dest) == 0 {
		o.status.RestartDeadCode = true
		return false, nil
	}
	if o.budget != nil && !o.budget.ApplyNewTransformation() {
		return true, nil
	}
	n, err := e.apply(o.fn, b, s)
	if err != nil {
		return false, err
	}
	if e.forward != nil && n > 0 {
		o.status.RestartDeadCode = true
	}
	o.status.Modified = true
	o.status.Edits++
	if o.budget != nil {
		o.budget.RegisterTransformation(passName, target{fn: o.fn, stmt: s, rule: e.rule})
	}
	o.ix = ir.NewIndex(o.fn)
	return false, nil
}

// propagateParams replaces the reads of a parameter whose entry value is
// proven constant.
func (o *optimizer) propagateParams() error {
	for _, p := range o.fn.Params {
		v := p.Value
		c, ok, err := constantOf(v)
		if err != nil {
			return fmt.Errorf("%s: parameter %s: %w", o.fn.Name, p.Name, err)
		}
		if !ok || o.fn.CountUses(v) == 0 {
			continue
		}
		if o.budget != nil && !o.budget.ApplyNewTransformation() {
			return nil
		}
		o.fn.ReplaceAllUses(v, c)
		o.status.Modified = true
		o.status.Edits++
		if o.budget != nil {
			o.budget.RegisterTransformation(passName, paramTarget{fn: o.fn, param: p})
		}
	}
	o.ix = ir.NewIndex(o.fn)
	return nil
}

// target names a rewritten statement for the budget log.
type target struct {
	fn   *ir.Function
	stmt *ir.Assign
	rule string
}

func (t target) String() string {
	return fmt.Sprintf("%s: %s (%s)", t.fn.Name, ir.RenderStmt(t.stmt), t.rule)
}

type paramTarget struct {
	fn    *ir.Function
	param *ir.Param
}

func (t paramTarget) String() string {
	return t.fn.Name + "." + t.param.Name
}
