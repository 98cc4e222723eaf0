package diag

import (
	"bytes"
	"encoding/json"
	"go/token"
	"strings"
	"testing"
)

func TestTextReporterFormatsPositions(t *testing.T) {
	var buf bytes.Buffer
	r := NewReporter(&buf, "text")
	fset := token.NewFileSet()
	file := fset.AddFile("main.go", -1, 100)
	file.SetLines([]int{0, 10, 20})
	r.SetFileSet(fset)

	r.Error(file.Pos(12), "unsupported type")
	r.Warningf("%d unused values", 3)

	if !r.HasErrors() || r.ErrorCount() != 1 || r.WarningCount() != 1 {
		t.Fatalf("unexpected counters: errors=%d warnings=%d", r.ErrorCount(), r.WarningCount())
	}
	out := buf.String()
	if !strings.Contains(out, "main.go:2:3: error: unsupported type") {
		t.Fatalf("missing positioned error in %q", out)
	}
	if !strings.Contains(out, "warning: 3 unused values") {
		t.Fatalf("missing warning in %q", out)
	}
}

func TestJSONReporterEmitsOneObjectPerLine(t *testing.T) {
	var buf bytes.Buffer
	r := NewReporter(&buf, "json")
	r.Errorf("bad %s", "input")
	r.Notef("round %d", 2)

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != 2 {
		t.Fatalf("expected 2 lines, got %d: %q", len(lines), buf.String())
	}
	var first jsonDiagnostic
	if err := json.Unmarshal([]byte(lines[0]), &first); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if first.Severity != "error" || first.Message != "bad input" {
		t.Fatalf("unexpected diagnostic %+v", first)
	}
	if r.ErrorCount() != 1 {
		t.Fatalf("notes must not count as errors")
	}
	if got := len(r.Diagnostics()); got != 2 {
		t.Fatalf("expected 2 recorded diagnostics, got %d", got)
	}
}
