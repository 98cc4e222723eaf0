// Package passes schedules the bit-value analysis, the interprocedural
// driver, the rewrite engine and dead code elimination over a program until
// none of them changes it any more.
package passes

import (
	"fmt"

	"golang.org/x/sync/errgroup"

	"hlsbv/internal/bitvalue"
	"hlsbv/internal/bvopt"
	"hlsbv/internal/callgraph"
	"hlsbv/internal/diag"
	"hlsbv/internal/ir"
	"hlsbv/internal/ipa"
)

const defaultMaxIterations = 32

// Options tunes a pipeline run.
type Options struct {
	MaxLUTSize int
	// MaxTransformations caps the committed transformations; negative means
	// no limit.
	MaxTransformations int
	// MaxIterations bounds the analyze/optimize rounds. Zero selects 32.
	MaxIterations int
	EnableIPA     bool
	// Jobs bounds the functions analyzed concurrently. Zero means no limit.
	Jobs int
}

// DefaultOptions returns the settings used when no configuration is given.
func DefaultOptions() Options {
	return Options{
		MaxLUTSize:         bvopt.DefaultMaxLUTSize,
		MaxTransformations: -1,
		MaxIterations:      defaultMaxIterations,
		EnableIPA:          true,
	}
}

// Stats summarizes a run.
type Stats struct {
	Iterations       int
	Edits            int
	Removed          int
	SignatureChanges int
	Transformations  int
	// Converged is false when the run stopped on the iteration limit or on
	// an exhausted budget.
	Converged bool
}

// Pipeline is the bit-value optimization pass over a whole program.
type Pipeline struct {
	reporter *diag.Reporter
	opts     Options
}

// NewPipeline constructs the pass. reporter is optional; when set it
// receives one note per iteration and per committed transformation.
func NewPipeline(reporter *diag.Reporter, opts Options) *Pipeline {
	if opts.MaxIterations <= 0 {
		opts.MaxIterations = defaultMaxIterations
	}
	if opts.MaxLUTSize <= 0 {
		opts.MaxLUTSize = bvopt.DefaultMaxLUTSize
	}
	return &Pipeline{reporter: reporter, opts: opts}
}

func (p *Pipeline) Name() string {
	return "bit-value"
}

// Run executes the pass over the functions reached from the program roots.
func (p *Pipeline) Run(prog *ir.Program) (Stats, error) {
	var st Stats
	if prog == nil {
		return st, fmt.Errorf("bit-value pipeline requires a non-nil program")
	}
	budget := NewBudget(p.opts.MaxTransformations, p.reporter)
	driver := ipa.NewDriver()
	for {
		if st.Iterations == p.opts.MaxIterations {
			if p.reporter != nil {
				p.reporter.Warningf("bit-value pipeline stopped after %d iterations", st.Iterations)
			}
			break
		}
		st.Iterations++
		changed, err := p.iterate(prog, driver, budget, &st)
		if err != nil {
			return st, err
		}
		if p.reporter != nil {
			p.reporter.Notef("iteration %d: %d edits, %d statements removed", st.Iterations, st.Edits, st.Removed)
		}
		if !changed {
			st.Converged = true
			break
		}
		if budget.Exhausted() {
			break
		}
	}
	st.Transformations = budget.Count()
	return st, nil
}

func (p *Pipeline) iterate(prog *ir.Program, driver *ipa.Driver, budget *Budget, st *Stats) (bool, error) {
	g := callgraph.Build(prog)
	reached := g.Reached()
	if err := p.analyze(reached); err != nil {
		return false, err
	}
	changed := false
	if p.opts.EnableIPA && driver.HasToRun(g) {
		res, err := driver.Run(prog, g, ipa.Options{Budget: budget})
		if err != nil {
			return false, err
		}
		if res.Changed {
			changed = true
			st.SignatureChanges++
			if err := p.analyze(res.Restart); err != nil {
				return false, err
			}
		}
	}
	for _, fn := range reached {
		if budget.Exhausted() {
			break
		}
		res, err := bvopt.Optimize(fn, budget, bvopt.Options{MaxLUTSize: p.opts.MaxLUTSize})
		if err != nil {
			return false, err
		}
		st.Edits += res.Edits
		if res.Modified {
			changed = true
		}
		if res.Modified || res.RestartDeadCode {
			if n := EliminateDeadCode(fn); n > 0 {
				st.Removed += n
				changed = true
			}
		}
	}
	return changed, nil
}

// analyze runs the intraprocedural fixpoint over fns concurrently. Each run
// only writes the values of its own function.
func (p *Pipeline) analyze(fns []*ir.Function) error {
	var g errgroup.Group
	if p.opts.Jobs > 0 {
		g.SetLimit(p.opts.Jobs)
	}
	for _, fn := range fns {
		fn := fn
		g.Go(func() error {
			if _, err := bitvalue.Analyze(fn, bitvalue.Options{}); err != nil {
				return fmt.Errorf("analyze %s: %w", fn.Name, err)
			}
			return nil
		})
	}
	return g.Wait()
}
