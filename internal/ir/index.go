package ir

// Site locates a statement inside a function.
type Site struct {
	Block *Block
	Stmt  Stmt
}

// Index maps every value of a function to its definition and uses. It is a
// snapshot: rebuild it after editing the function.
type Index struct {
	fn   *Function
	defs map[*Value]Site
	uses map[*Value][]Site
}

func NewIndex(fn *Function) *Index {
	ix := &Index{
		fn:   fn,
		defs: make(map[*Value]Site),
		uses: make(map[*Value][]Site),
	}
	for _, b := range fn.Blocks {
		for _, s := range b.Stmts {
			if d := Dest(s); d != nil {
				ix.defs[d] = Site{Block: b, Stmt: s}
			}
			seen := make(map[*Value]bool)
			for _, op := range Operands(s) {
				v, ok := op.(*Value)
				if !ok || seen[v] {
					continue
				}
				seen[v] = true
				ix.uses[v] = append(ix.uses[v], Site{Block: b, Stmt: s})
			}
		}
	}
	return ix
}

// Def returns the statement defining v, or nil for parameters and
// undefined values.
func (ix *Index) Def(v *Value) Stmt {
	return ix.defs[v].Stmt
}

// DefSite is Def with the enclosing block.
func (ix *Index) DefSite(v *Value) (Site, bool) {
	s, ok := ix.defs[v]
	return s, ok
}

// Uses returns every statement reading v, once per statement.
func (ix *Index) Uses(v *Value) []Site {
	return ix.uses[v]
}

// Values returns every value defined or read in the function, parameters
// first, then in statement order.
func (ix *Index) Values() []*Value {
	var out []*Value
	seen := make(map[*Value]bool)
	add := func(v *Value) {
		if v != nil && !seen[v] {
			seen[v] = true
			out = append(out, v)
		}
	}
	for _, p := range ix.fn.Params {
		add(p.Value)
	}
	for _, b := range ix.fn.Blocks {
		for _, s := range b.Stmts {
			add(Dest(s))
			for _, op := range Operands(s) {
				if v, ok := op.(*Value); ok {
					add(v)
				}
			}
		}
	}
	return out
}

// ReplaceAllUses substitutes repl for every read of old in fn and returns
// the number of slots changed.
func (fn *Function) ReplaceAllUses(old *Value, repl Operand) int {
	n := 0
	for _, b := range fn.Blocks {
		for _, s := range b.Stmts {
			n += ReplaceOperand(s, old, repl)
		}
	}
	return n
}

// CountUses returns the number of statements reading v.
func (fn *Function) CountUses(v *Value) int {
	n := 0
	for _, b := range fn.Blocks {
		for _, s := range b.Stmts {
			for _, op := range Operands(s) {
				if op == Operand(v) {
					n++
					break
				}
			}
		}
	}
	return n
}

// Position returns the index of s inside b, or -1.
func (b *Block) Position(s Stmt) int {
	for i, st := range b.Stmts {
		if st == s {
			return i
		}
	}
	return -1
}

// Splice replaces the statement at index i with stmts.
func (b *Block) Splice(i int, stmts ...Stmt) {
	out := make([]Stmt, 0, len(b.Stmts)-1+len(stmts))
	out = append(out, b.Stmts[:i]...)
	out = append(out, stmts...)
	out = append(out, b.Stmts[i+1:]...)
	b.Stmts = out
}

// Terminator returns the last statement when it ends the block.
func (b *Block) Terminator() Stmt {
	if len(b.Stmts) == 0 {
		return nil
	}
	switch s := b.Stmts[len(b.Stmts)-1].(type) {
	case *Return, *If, *Jump:
		return s
	}
	return nil
}
