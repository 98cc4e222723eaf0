package frontend

import (
	"fmt"

	gopackages "golang.org/x/tools/go/packages"
	"golang.org/x/tools/go/ssa"
	"golang.org/x/tools/go/ssa/ssautil"

	"hlsbv/internal/diag"
)

// BuildSSA builds function bodies for the kernel package and its imports.
// Only the SSA packages of the kernel itself are returned, in load order;
// those are the ones lowered into the IR.
func BuildSSA(pkgs []*gopackages.Package, reporter *diag.Reporter) (*ssa.Program, []*ssa.Package, error) {
	if len(pkgs) == 0 {
		return nil, nil, fmt.Errorf("no kernel package to build")
	}
	prog, ssaPkgs := ssautil.Packages(pkgs, ssa.SanityCheckFunctions)
	var roots []*ssa.Package
	for i, pkg := range ssaPkgs {
		if pkg == nil {
			reporter.Errorf("kernel package %s has no SSA form", pkgs[i].PkgPath)
			continue
		}
		roots = append(roots, pkg)
	}
	if reporter.HasErrors() {
		return nil, nil, fmt.Errorf("ssa construction failed")
	}
	prog.Build()
	return prog, roots, nil
}
