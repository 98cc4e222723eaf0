package validate

import (
	"bytes"
	"go/token"
	"io"
	"path/filepath"
	"strings"
	"testing"

	"golang.org/x/tools/go/packages"
	"golang.org/x/tools/go/ssa"

	"hlsbv/internal/diag"
	"hlsbv/internal/frontend"
)

func TestValidateAllowsScalarCode(t *testing.T) {
	diagStr, err := runValidation(t, "ok_scalar")
	if err != nil {
		t.Fatalf("expected success, got error %v with diagnostics %s", err, diagStr)
	}
	if diagStr != "" {
		t.Fatalf("expected no diagnostics, got %q", diagStr)
	}
}

func TestValidateRejectsGoroutines(t *testing.T) {
	diagStr, err := runValidation(t, "bad_goroutine_dynamic")
	if err == nil {
		t.Fatalf("expected goroutine to fail")
	}
	if !strings.Contains(diagStr, "goroutines are not supported") {
		t.Fatalf("expected goroutine diagnostic, got %q", diagStr)
	}
}

func TestValidateRejectsChannels(t *testing.T) {
	diagStr, err := runValidation(t, "bad_channel")
	if err == nil {
		t.Fatalf("expected channels to fail validation")
	}
	if !strings.Contains(diagStr, "channels are not supported") {
		t.Fatalf("expected channel diagnostic, got %q", diagStr)
	}
}

func TestValidateRejectsMaps(t *testing.T) {
	diagStr, err := runValidation(t, "bad_map")
	if err == nil {
		t.Fatalf("expected maps to fail validation")
	}
	if !strings.Contains(diagStr, "maps are not supported") {
		t.Fatalf("expected map diagnostic, got %q", diagStr)
	}
}

func TestValidateRejectsDefer(t *testing.T) {
	diagStr, err := runValidation(t, "bad_defer")
	if err == nil {
		t.Fatalf("expected defer to fail validation")
	}
	if !strings.Contains(diagStr, "defer is not supported") {
		t.Fatalf("expected defer diagnostic, got %q", diagStr)
	}
}

func TestValidateRejectsRangeOverSlice(t *testing.T) {
	diagStr, err := runValidation(t, "bad_range")
	if err == nil {
		t.Fatalf("expected range over a slice to fail validation")
	}
	if !strings.Contains(diagStr, "range loops are only supported over integers") {
		t.Fatalf("expected range diagnostic, got %q", diagStr)
	}
}

func TestValidateWarnsOnInterfaceCalls(t *testing.T) {
	diagStr, err := runValidation(t, "warn_invoke")
	if err != nil {
		t.Fatalf("expected warnings only, got error %v with diagnostics %s", err, diagStr)
	}
	if !strings.Contains(diagStr, "warning: ") || !strings.Contains(diagStr, "interface method call") {
		t.Fatalf("expected interface call warning, got %q", diagStr)
	}
}

func runValidation(t *testing.T, file string) (string, error) {
	t.Helper()
	prog, pkgs, astPkgs, fset := buildSSAProgram(t, file)
	var buf bytes.Buffer
	reporter := diag.NewReporter(&buf, "text")
	reporter.SetFileSet(fset)
	err := CheckProgram(prog, pkgs, astPkgs, reporter)
	return buf.String(), err
}

func buildSSAProgram(t *testing.T, file string) (*ssa.Program, []*ssa.Package, []*packages.Package, *token.FileSet) {
	t.Helper()
	cfg := frontend.LoadConfig{
		Sources: []string{filepath.Join("testdata", file, "main.go")},
	}
	loadReporter := diag.NewReporter(io.Discard, "text")
	pkgs, fset, err := frontend.LoadPackages(cfg, loadReporter)
	if err != nil {
		t.Fatalf("load packages: %v", err)
	}
	if loadReporter.HasErrors() {
		t.Fatalf("package loading reported errors")
	}
	prog, ssaPkgs, err := frontend.BuildSSA(pkgs, loadReporter)
	if err != nil {
		t.Fatalf("build SSA: %v", err)
	}
	if loadReporter.HasErrors() {
		t.Fatalf("ssa construction reported errors")
	}
	return prog, ssaPkgs, pkgs, fset
}
