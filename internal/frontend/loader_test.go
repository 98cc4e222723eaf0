package frontend

import (
	"io"
	"path/filepath"
	"strings"
	"testing"

	"hlsbv/internal/diag"
)

func TestKernelDirRequiresOnePackage(t *testing.T) {
	dir, err := kernelDir([]string{filepath.Join("a", "x.go"), filepath.Join("a", "y.go")})
	if err != nil {
		t.Fatalf("expected one directory, got %v", err)
	}
	if !filepath.IsAbs(dir) || filepath.Base(dir) != "a" {
		t.Fatalf("unexpected kernel directory %q", dir)
	}
	if _, err := kernelDir([]string{filepath.Join("a", "x.go"), filepath.Join("b", "y.go")}); err == nil || !strings.Contains(err.Error(), "single package") {
		t.Fatalf("expected sources in two directories to fail, got %v", err)
	}
	if _, err := kernelDir(nil); err == nil {
		t.Fatalf("expected missing sources to fail")
	}
}

func TestBuildTagFlag(t *testing.T) {
	if got := buildTagFlag([]string{" ", ""}); got != nil {
		t.Fatalf("expected no flag for blank tags, got %v", got)
	}
	got := buildTagFlag([]string{"hls", " sim "})
	if len(got) != 1 || got[0] != "-tags=hls,sim" {
		t.Fatalf("unexpected tag flag %v", got)
	}
}

func TestLoadPackagesRejectsMissingSources(t *testing.T) {
	reporter := diag.NewReporter(io.Discard, "text")
	if _, _, err := LoadPackages(LoadConfig{}, reporter); err == nil {
		t.Fatalf("expected an error without sources")
	}
}
