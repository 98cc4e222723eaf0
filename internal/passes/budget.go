package passes

import (
	"fmt"

	"hlsbv/internal/diag"
)

// Budget caps the number of transformations applied by one pipeline run.
// It is shared by the interprocedural driver and the rewrite engine.
type Budget struct {
	max      int
	count    int
	reporter *diag.Reporter
}

// NewBudget allows max transformations; a negative max means no limit.
// Every committed transformation is logged as a note when reporter is set.
func NewBudget(max int, reporter *diag.Reporter) *Budget {
	return &Budget{max: max, reporter: reporter}
}

func (b *Budget) ApplyNewTransformation() bool {
	return b.max < 0 || b.count < b.max
}

func (b *Budget) RegisterTransformation(pass string, target fmt.Stringer) {
	b.count++
	if b.reporter != nil {
		b.reporter.Notef("%s #%d: %s", pass, b.count, target)
	}
}

// Count returns the number of registered transformations.
func (b *Budget) Count() int { return b.count }

// Exhausted reports whether the next transformation would be refused.
func (b *Budget) Exhausted() bool { return !b.ApplyNewTransformation() }
