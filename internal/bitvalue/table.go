// Package bitvalue computes, for every SSA value of a function, the most
// precise bitstring the bit lattice can prove. Facts live in a Table: best
// holds the converged value of each id and current the value being computed
// by the running sweep.
package bitvalue

import (
	"errors"
	"fmt"

	"github.com/benbjohnson/immutable"
	"golang.org/x/exp/slices"

	"hlsbv/internal/bitlattice"
	"hlsbv/internal/ir"
)

var (
	// ErrUnsupported reports an expression kind without a transfer rule.
	ErrUnsupported = errors.New("bitvalue: unsupported expression")
	// ErrMissingFact reports a read of an id that was never seeded.
	ErrMissingFact = errors.New("bitvalue: missing fact")
)

// Fact is a stored bitstring together with the type that fixes its width and
// the implicit extension used to align it.
type Fact struct {
	Bits bitlattice.Bitstring
	Type ir.Type
}

func (f Fact) Signed() bool { return f.Type.Signed }

// Size is the declared width of the value the fact describes.
func (f Fact) Size() int { return typeSize(f.Type) }

// Table is the bitstring repository of one analysis run.
type Table struct {
	best    *immutable.SortedMap
	current map[int]bitlattice.Bitstring
}

func NewTable() *Table {
	return &Table{
		best:    immutable.NewSortedMap(&intComparer{}),
		current: make(map[int]bitlattice.Bitstring),
	}
}

// SetBest records bits as the converged value of id.
func (t *Table) SetBest(id int, bits bitlattice.Bitstring, typ ir.Type) {
	t.best = t.best.Set(id, Fact{Bits: bits.Clone(), Type: typ})
}

// Lookup returns the fact stored for id.
func (t *Table) Lookup(id int) (Fact, bool) {
	v, ok := t.best.Get(id)
	if !ok {
		return Fact{}, false
	}
	return v.(Fact), true
}

// Fact returns the fact stored for id and panics when id was never seeded.
func (t *Table) Fact(id int) Fact {
	f, ok := t.Lookup(id)
	if !ok {
		panic(fmt.Errorf("id %d: %w", id, ErrMissingFact))
	}
	return f
}

// Best returns the converged bitstring of id.
func (t *Table) Best(id int) bitlattice.Bitstring {
	return t.Fact(id).Bits
}

func (t *Table) HasBest(id int) bool {
	_, ok := t.best.Get(id)
	return ok
}

// Current returns the in-progress bitstring of id.
func (t *Table) Current(id int) (bitlattice.Bitstring, bool) {
	bs, ok := t.current[id]
	return bs, ok
}

func (t *Table) SetCurrent(id int, bits bitlattice.Bitstring) {
	t.current[id] = bits
}

// seedCurrent copies best into current unless current already holds id.
func (t *Table) seedCurrent(id int) {
	if _, ok := t.current[id]; !ok {
		t.current[id] = t.Best(id)
	}
}

// UpdateCurrent folds res into the current value of id. A strictly constant
// res replaces the current value outright; anything else is merged with
// best through Inf. It reports whether the current value changed. An empty
// res carries no information and changes nothing.
func (t *Table) UpdateCurrent(res bitlattice.Bitstring, id int) bool {
	if len(res) == 0 {
		return false
	}
	f := t.Fact(id)
	res = bitlattice.SignReduce(res, f.Signed())
	next := res
	if !bitlattice.IsStrictConstant(res) {
		next = bitlattice.Inf(res, f.Bits, f.Size(), f.Signed(), f.Type.Bool)
	}
	cur, ok := t.current[id]
	if ok && cur.Equal(next) {
		return false
	}
	t.current[id] = next
	return true
}

// Mix merges every current value into best and reports whether best moved.
func (t *Table) Mix() bool {
	updated := false
	for _, id := range t.IDs() {
		cur, ok := t.current[id]
		if !ok {
			continue
		}
		f := t.Fact(id)
		merged := bitlattice.Inf(cur, f.Bits, f.Size(), f.Signed(), f.Type.Bool)
		if !merged.Equal(f.Bits) {
			t.best = t.best.Set(id, Fact{Bits: merged, Type: f.Type})
			updated = true
		}
	}
	return updated
}

// ClearCurrent empties current, then seeds it from best for the ids keep
// accepts.
func (t *Table) ClearCurrent(keep func(id int) bool) {
	t.current = make(map[int]bitlattice.Bitstring)
	itr := t.best.Iterator()
	for {
		k, v := itr.Next()
		if k == nil {
			break
		}
		if keep != nil && keep(k.(int)) {
			t.current[k.(int)] = v.(Fact).Bits
		}
	}
}

// IDs lists every seeded id in increasing order.
func (t *Table) IDs() []int {
	out := make([]int, 0, t.best.Len())
	itr := t.best.Iterator()
	for {
		k, _ := itr.Next()
		if k == nil {
			break
		}
		out = append(out, k.(int))
	}
	return out
}

// Len is the number of seeded ids.
func (t *Table) Len() int { return t.best.Len() }

// Snapshot returns a table sharing best with t and holding no current
// values. Later updates to either table do not affect the other.
func (t *Table) Snapshot() *Table {
	return &Table{best: t.best, current: make(map[int]bitlattice.Bitstring)}
}

// Reset forgets every fact.
func (t *Table) Reset() {
	t.best = immutable.NewSortedMap(&intComparer{})
	t.current = make(map[int]bitlattice.Bitstring)
}

// Diff lists the ids whose best value differs between t and other, in
// increasing order.
func (t *Table) Diff(other *Table) []int {
	var out []int
	seen := make(map[int]bool)
	for _, id := range t.IDs() {
		seen[id] = true
		a := t.Fact(id)
		b, ok := other.Lookup(id)
		if !ok || !a.Bits.Equal(b.Bits) {
			out = append(out, id)
		}
	}
	for _, id := range other.IDs() {
		if !seen[id] {
			out = append(out, id)
		}
	}
	slices.Sort(out)
	return out
}

// intComparer orders int keys. Implements immutable.Comparer.
type intComparer struct{}

func (c *intComparer) Compare(a, b interface{}) int {
	if i, j := a.(int), b.(int); i < j {
		return -1
	} else if i > j {
		return 1
	}
	return 0
}

func typeSize(t ir.Type) int {
	if t.Bool {
		return 1
	}
	return t.Width
}
