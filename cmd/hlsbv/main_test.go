package main

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"hlsbv/internal/ir"
)

func TestRunRejectsUnknownCommand(t *testing.T) {
	if err := run(nil); err == nil {
		t.Fatalf("expected missing command error")
	}
	if err := run([]string{"synth"}); err == nil || !strings.Contains(err.Error(), "unknown command") {
		t.Fatalf("expected unknown command error, got %v", err)
	}
}

func TestAnalyzeWritesBitValues(t *testing.T) {
	captureDiagnostics(t)
	out := filepath.Join(t.TempDir(), "mask.ir")
	args := []string{"-o", out, testdataPath(t, "mask")}
	if err := runAnalyze(args); err != nil {
		t.Fatalf("analyze failed: %v", err)
	}
	data, err := os.ReadFile(out)
	if err != nil {
		t.Fatalf("read output: %v", err)
	}
	text := string(data)
	if !strings.Contains(text, "func mask(") || !strings.Contains(text, "func parity(") {
		t.Fatalf("expected both functions in output, got:\n%s", text)
	}
}

func TestOptKeepsResults(t *testing.T) {
	captureDiagnostics(t)
	tmp := t.TempDir()
	expected := writeFile(t, tmp, "expected.txt", "20\n")

	for _, extra := range [][]string{nil, {"-opt"}, {"-opt", "-v"}} {
		out := filepath.Join(tmp, "out.txt")
		args := append([]string{"-func", "mask", "-args", "3", "-expect", expected, "-o", out}, extra...)
		args = append(args, testdataPath(t, "mask"))
		require.NoError(t, runEval(args), "args %v", extra)
		data, err := os.ReadFile(out)
		require.NoError(t, err)
		require.Equal(t, "20\n", string(data))
	}
}

func TestOptKeepsSignOfShiftedValue(t *testing.T) {
	captureDiagnostics(t)
	tmp := t.TempDir()
	for _, extra := range [][]string{nil, {"-opt"}} {
		out := filepath.Join(tmp, "sign.txt")
		args := append([]string{"-func", "sign", "-args", "-123", "-o", out}, extra...)
		args = append(args, testdataPath(t, "mask"))
		require.NoError(t, runEval(args), "args %v", extra)
		data, err := os.ReadFile(out)
		require.NoError(t, err)
		require.Equal(t, "-1\n", string(data), "args %v", extra)
	}
}

func TestRunDetectsMismatch(t *testing.T) {
	captureDiagnostics(t)
	bad := writeFile(t, t.TempDir(), "bad.txt", "21\n")
	args := []string{"-func", "mask", "-args", "3", "-expect", bad, "-o", filepath.Join(t.TempDir(), "out.txt"), testdataPath(t, "mask")}
	err := runEval(args)
	if err == nil || !strings.Contains(err.Error(), "output mismatch") {
		t.Fatalf("expected mismatch error, got %v", err)
	}
}

func TestOptEmitsIRAndNotes(t *testing.T) {
	diags := captureDiagnostics(t)
	out := filepath.Join(t.TempDir(), "opt.ir")
	args := []string{"-v", "-o", out, testdataPath(t, "mask")}
	if err := runOpt(args); err != nil {
		t.Fatalf("opt failed: %v\n%s", err, diags.String())
	}
	data, err := os.ReadFile(out)
	if err != nil {
		t.Fatalf("read output: %v", err)
	}
	if !strings.Contains(string(data), "func main(") {
		t.Fatalf("expected main in output, got:\n%s", data)
	}
	if !strings.Contains(diags.String(), "iteration 1") {
		t.Fatalf("expected iteration notes, got %q", diags.String())
	}
}

func TestOptEmitsSSA(t *testing.T) {
	captureDiagnostics(t)
	out := filepath.Join(t.TempDir(), "opt.ssa")
	if err := runOpt([]string{"-emit", "ssa", "-o", out, testdataPath(t, "mask")}); err != nil {
		t.Fatalf("opt failed: %v", err)
	}
	data, err := os.ReadFile(out)
	if err != nil {
		t.Fatalf("read output: %v", err)
	}
	if !strings.Contains(string(data), "func mask") {
		t.Fatalf("expected SSA listing, got:\n%s", data)
	}
	if err := runOpt([]string{"-emit", "verilog", testdataPath(t, "mask")}); err == nil {
		t.Fatalf("expected unknown emit format to fail")
	}
}

func TestLintRejectsChannels(t *testing.T) {
	diags := captureDiagnostics(t)
	if err := runLint([]string{testdataPath(t, "chan")}); err == nil {
		t.Fatalf("expected lint to fail")
	}
	if !strings.Contains(diags.String(), "channels are not supported") {
		t.Fatalf("expected channel diagnostic, got %q", diags.String())
	}
	if err := runLint([]string{testdataPath(t, "mask")}); err != nil {
		t.Fatalf("expected mask to pass lint: %v", err)
	}
}

func TestLoadConfigSearchesUpwards(t *testing.T) {
	tmp := t.TempDir()
	writeFile(t, tmp, "hlsbv.toml", "[bitvalue]\nmax_transformations = 3\n")
	src := writeFile(t, tmp, filepath.Join("pkg", "main.go"), "package main\n")

	cfg, err := loadConfig("", []string{src})
	require.NoError(t, err)
	require.Equal(t, 3, cfg.BitValue.MaxTransformations)
	require.True(t, cfg.BitValue.EnableIPA)

	bad := writeFile(t, tmp, "bad.toml", "[bitvalue]\nmax_lut_size = 40\n")
	_, err = loadConfig(bad, []string{src})
	require.Error(t, err)
}

func TestParseArgs(t *testing.T) {
	prog := ir.NewProgram()
	i8 := ir.IntType(8, true)
	b := ir.NewFuncBuilder(prog, "f", &i8)
	x := b.Param("x", i8)
	b.Param("y", ir.IntType(8, false))
	b.Return(x)
	fn := b.Func()

	got, err := parseArgs("-1, 0xff", fn)
	require.NoError(t, err)
	require.Len(t, got, 2)
	require.Equal(t, "-1", ir.FormatInt(got[0], i8))
	require.Equal(t, uint64(255), got[1].Uint64())

	_, err = parseArgs("1", fn)
	require.Error(t, err)
	_, err = parseArgs("1 two", fn)
	require.Error(t, err)
}

func captureDiagnostics(t *testing.T) *bytes.Buffer {
	t.Helper()
	var buf bytes.Buffer
	prev := diagOutput
	diagOutput = &buf
	t.Cleanup(func() { diagOutput = prev })
	return &buf
}

func repoRoot(t *testing.T) string {
	t.Helper()
	root, err := filepath.Abs(filepath.Join("..", ".."))
	if err != nil {
		t.Fatalf("determine repo root: %v", err)
	}
	return root
}

func testdataPath(t *testing.T, name string) string {
	t.Helper()
	path := filepath.Join(repoRoot(t), "cmd", "hlsbv", "testdata", name, "main.go")
	if _, err := os.Stat(path); err != nil {
		t.Fatalf("testdata %s: %v", name, err)
	}
	return path
}

func writeFile(t *testing.T, dir, name, body string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatalf("mkdir for %s: %v", path, err)
	}
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatalf("write file %s: %v", path, err)
	}
	return path
}
