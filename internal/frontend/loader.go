// Package frontend turns the Go sources of a scalar kernel into typed
// syntax and SSA for lowering into the bit-value IR.
package frontend

import (
	"fmt"
	"go/token"
	"os"
	"path/filepath"
	"strings"

	gopackages "golang.org/x/tools/go/packages"

	"hlsbv/internal/diag"
)

// loadMode asks for everything ssautil needs to build function bodies.
const loadMode = gopackages.NeedName |
	gopackages.NeedFiles |
	gopackages.NeedCompiledGoFiles |
	gopackages.NeedSyntax |
	gopackages.NeedTypes |
	gopackages.NeedTypesInfo |
	gopackages.NeedTypesSizes |
	gopackages.NeedImports |
	gopackages.NeedDeps

// LoadConfig names the kernel to analyze. All Sources must live in one
// directory, the package that holds the kernel functions.
type LoadConfig struct {
	Sources   []string
	BuildTags []string
}

// LoadPackages type-checks the kernel package for a 64-bit linux target,
// so that int and uintptr sizes do not depend on the host. Load and type
// errors go to reporter with their positions.
func LoadPackages(cfg LoadConfig, reporter *diag.Reporter) ([]*gopackages.Package, *token.FileSet, error) {
	dir, err := kernelDir(cfg.Sources)
	if err != nil {
		return nil, nil, err
	}

	fset := token.NewFileSet()
	loadCfg := &gopackages.Config{
		Mode: loadMode,
		Fset: fset,
		Dir:  dir,
		Env: append(os.Environ(),
			"GOOS=linux",
			"GOARCH=amd64",
			"GOCACHE="+buildCacheDir(),
		),
		BuildFlags: buildTagFlag(cfg.BuildTags),
	}

	pkgs, err := gopackages.Load(loadCfg, ".")
	if err != nil {
		return nil, nil, fmt.Errorf("load kernel package in %s: %w", dir, err)
	}
	if len(pkgs) == 0 {
		return nil, nil, fmt.Errorf("no Go package found in %s", dir)
	}

	reporter.SetFileSet(fset)

	var failed int
	gopackages.Visit(pkgs, nil, func(pkg *gopackages.Package) {
		for _, loadErr := range pkg.Errors {
			reporter.Errorf("%s: %s", loadErr.Pos, loadErr.Msg)
			failed++
		}
	})
	if failed > 0 {
		return nil, nil, fmt.Errorf("kernel package has %d load errors", failed)
	}
	return pkgs, fset, nil
}

// kernelDir returns the absolute directory shared by every source file.
func kernelDir(sources []string) (string, error) {
	if len(sources) == 0 {
		return "", fmt.Errorf("no source files were provided")
	}
	var dir string
	for _, src := range sources {
		abs, err := filepath.Abs(filepath.Dir(src))
		if err != nil {
			return "", err
		}
		switch {
		case dir == "":
			dir = abs
		case dir != abs:
			return "", fmt.Errorf("sources span %s and %s; a kernel must be a single package", dir, abs)
		}
	}
	return dir, nil
}

func buildTagFlag(tags []string) []string {
	var kept []string
	for _, tag := range tags {
		if tag = strings.TrimSpace(tag); tag != "" {
			kept = append(kept, tag)
		}
	}
	if len(kept) == 0 {
		return nil
	}
	return []string{"-tags=" + strings.Join(kept, ",")}
}

// buildCacheDir keeps the go command's build cache under the user cache
// directory, falling back to the temporary directory.
func buildCacheDir() string {
	base, err := os.UserCacheDir()
	if err != nil {
		base = os.TempDir()
	}
	dir := filepath.Join(base, "hlsbv", "go-build")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		dir = filepath.Join(os.TempDir(), "hlsbv-go-build")
		_ = os.MkdirAll(dir, 0o755)
	}
	return dir
}
