package passes

import "hlsbv/internal/ir"

// EliminateDeadCode removes the statements whose result is never read and
// returns how many were dropped. Function bodies have no side effects, so
// unused calls go as well.
func EliminateDeadCode(fn *ir.Function) int {
	removed := 0
	for {
		ix := ir.NewIndex(fn)
		n := 0
		for _, b := range fn.Blocks {
			kept := b.Stmts[:0]
			for _, s := range b.Stmts {
				if d := ir.Dest(s); d != nil && len(ix.Uses(d)) == 0 {
					n++
					continue
				}
				kept = append(kept, s)
			}
			for i := len(kept); i < len(b.Stmts); i++ {
				b.Stmts[i] = nil
			}
			b.Stmts = kept
		}
		if n == 0 {
			break
		}
		removed += n
	}
	if removed > 0 {
		fn.BBVersion++
	}
	return removed
}
