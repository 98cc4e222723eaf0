package main

import (
	"flag"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/holiman/uint256"
	"golang.org/x/tools/go/packages"
	"golang.org/x/tools/go/ssa"

	"hlsbv/internal/bitvalue"
	"hlsbv/internal/callgraph"
	"hlsbv/internal/config"
	"hlsbv/internal/diag"
	"hlsbv/internal/eval"
	"hlsbv/internal/frontend"
	"hlsbv/internal/ipa"
	"hlsbv/internal/ir"
	"hlsbv/internal/passes"
	"hlsbv/internal/validate"
)

// diagOutput receives diagnostics; tests swap it for a buffer.
var diagOutput io.Writer = os.Stderr

func main() {
	if err := run(os.Args[1:]); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run(args []string) error {
	if len(args) == 0 {
		printGlobalUsage()
		return fmt.Errorf("missing command")
	}

	switch args[0] {
	case "analyze":
		return runAnalyze(args[1:])
	case "opt":
		return runOpt(args[1:])
	case "run":
		return runEval(args[1:])
	case "lint":
		return runLint(args[1:])
	default:
		printGlobalUsage()
		return fmt.Errorf("unknown command: %s", args[0])
	}
}

func printGlobalUsage() {
	fmt.Fprintf(os.Stderr, "hlsbv: bit-value analysis and optimization of integer Go code\n\n")
	fmt.Fprintf(os.Stderr, "Usage:\n")
	fmt.Fprintf(os.Stderr, "  hlsbv <command> [options] <file.go>...\n\n")
	fmt.Fprintf(os.Stderr, "Commands:\n")
	fmt.Fprintf(os.Stderr, "  analyze    Lower to IR and annotate every value with its bitstring\n")
	fmt.Fprintf(os.Stderr, "  opt        Run the bit-value optimization pipeline and print the IR\n")
	fmt.Fprintf(os.Stderr, "  run        Evaluate a function, optionally after optimization\n")
	fmt.Fprintf(os.Stderr, "  lint       Check that the sources stay in the supported subset\n")
}

// commonFlags are shared by every command that lowers a program.
type commonFlags struct {
	diagFormat *string
	configPath *string
	output     *string
	verbose    *bool
}

func addCommonFlags(fs *flag.FlagSet) commonFlags {
	return commonFlags{
		diagFormat: fs.String("diag-format", "text", "diagnostic output format (text|json)"),
		configPath: fs.String("config", "", "path to "+config.FileName+" (searched upwards from the first source when omitted)"),
		output:     fs.String("o", "", "output file path (stdout when omitted)"),
		verbose:    fs.Bool("v", false, "report every transformation as a note"),
	}
}

func runAnalyze(args []string) error {
	fs := flag.NewFlagSet("analyze", flag.ContinueOnError)
	fs.SetOutput(os.Stderr)
	common := addCommonFlags(fs)
	noIPA := fs.Bool("no-ipa", false, "skip interprocedural propagation")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if fs.NArg() == 0 {
		fs.Usage()
		return fmt.Errorf("analyze requires at least one Go source file")
	}

	cfg, err := loadConfig(*common.configPath, fs.Args())
	if err != nil {
		return err
	}
	result, err := prepareProgram(fs.Args(), *common.diagFormat)
	if err != nil {
		return err
	}
	prog, err := lowerProgram(result, cfg)
	if err != nil {
		return err
	}
	if err := analyzeProgram(prog, cfg.BitValue.EnableIPA && !*noIPA); err != nil {
		return err
	}
	return emitIRProgram(prog, *common.output)
}

// analyzeProgram alternates the intraprocedural fixpoint and the
// interprocedural driver until no signature moves.
func analyzeProgram(prog *ir.Program, withIPA bool) error {
	driver := ipa.NewDriver()
	for i := 0; i < 32; i++ {
		g := callgraph.Build(prog)
		for _, fn := range g.Reached() {
			if _, err := bitvalue.Analyze(fn, bitvalue.Options{}); err != nil {
				return fmt.Errorf("analyze %s: %w", fn.Name, err)
			}
		}
		if !withIPA || !driver.HasToRun(g) {
			return nil
		}
		res, err := driver.Run(prog, g, ipa.Options{})
		if err != nil {
			return err
		}
		if !res.Changed {
			return nil
		}
	}
	return nil
}

func runOpt(args []string) error {
	fs := flag.NewFlagSet("opt", flag.ContinueOnError)
	fs.SetOutput(os.Stderr)
	common := addCommonFlags(fs)
	emit := fs.String("emit", "ir", "output format (ssa|ir)")
	maxTransformations := fs.Int("max-transformations", -1, "stop after this many transformations (-1 for no limit)")
	noIPA := fs.Bool("no-ipa", false, "skip interprocedural propagation")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if fs.NArg() == 0 {
		fs.Usage()
		return fmt.Errorf("opt requires at least one Go source file")
	}

	cfg, err := loadConfig(*common.configPath, fs.Args())
	if err != nil {
		return err
	}
	fs.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "max-transformations":
			cfg.BitValue.MaxTransformations = *maxTransformations
		case "no-ipa":
			cfg.BitValue.EnableIPA = !*noIPA
		}
	})

	result, err := prepareProgram(fs.Args(), *common.diagFormat)
	if err != nil {
		return err
	}
	if *emit == "ssa" {
		return emitSSAProgram(result.ssaPkgs, *common.output)
	}
	if *emit != "ir" {
		return fmt.Errorf("unknown emit format: %s", *emit)
	}
	prog, err := lowerProgram(result, cfg)
	if err != nil {
		return err
	}
	if _, err := optimizeProgram(prog, cfg, result.reporter, *common.verbose); err != nil {
		return err
	}
	return emitIRProgram(prog, *common.output)
}

func optimizeProgram(prog *ir.Program, cfg config.Config, reporter *diag.Reporter, verbose bool) (passes.Stats, error) {
	var notes *diag.Reporter
	if verbose {
		notes = reporter
	}
	st, err := passes.NewPipeline(notes, cfg.PipelineOptions()).Run(prog)
	if err != nil {
		return st, err
	}
	if err := validate.CheckIR(prog); err != nil {
		return st, fmt.Errorf("optimized program is malformed: %w", err)
	}
	if verbose {
		reporter.Notef("%d iterations, %d transformations, %d statements removed", st.Iterations, st.Transformations, st.Removed)
	}
	return st, nil
}

func runEval(args []string) error {
	fs := flag.NewFlagSet("run", flag.ContinueOnError)
	fs.SetOutput(os.Stderr)
	common := addCommonFlags(fs)
	fnName := fs.String("func", "main", "function to evaluate")
	rawArgs := fs.String("args", "", "comma or space separated integer arguments")
	optimize := fs.Bool("opt", false, "optimize before evaluating")
	maxSteps := fs.Int("max-steps", 0, "abort after this many executed statements (0 for the default)")
	expectPath := fs.String("expect", "", "path to a file holding the expected output (optional)")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if fs.NArg() == 0 {
		fs.Usage()
		return fmt.Errorf("run requires at least one Go source file")
	}

	cfg, err := loadConfig(*common.configPath, fs.Args())
	if err != nil {
		return err
	}
	cfg.Roots = append(cfg.Roots, *fnName)
	result, err := prepareProgram(fs.Args(), *common.diagFormat)
	if err != nil {
		return err
	}
	prog, err := lowerProgram(result, cfg)
	if err != nil {
		return err
	}
	fn := prog.Lookup(*fnName)
	if fn == nil || !fn.HasBody() {
		return fmt.Errorf("function %s not found", *fnName)
	}
	if *optimize {
		if _, err := optimizeProgram(prog, cfg, result.reporter, *common.verbose); err != nil {
			return err
		}
	}
	values, err := parseArgs(*rawArgs, fn)
	if err != nil {
		return err
	}
	m := eval.New()
	if *maxSteps > 0 {
		m.MaxSteps = *maxSteps
	}
	got, err := m.Call(fn, values...)
	if err != nil {
		return err
	}
	out := formatResult(fn, got)
	if *expectPath != "" {
		if err := compareOutput(*expectPath, out); err != nil {
			return err
		}
	}
	return withOutputWriter(*common.output, func(w io.Writer) error {
		_, err := io.WriteString(w, out)
		return err
	})
}

func parseArgs(raw string, fn *ir.Function) ([]*uint256.Int, error) {
	fields := strings.FieldsFunc(raw, func(r rune) bool { return r == ',' || r == ' ' || r == '\t' })
	if len(fields) != len(fn.Params) {
		return nil, fmt.Errorf("%s takes %d arguments, got %d", fn.Name, len(fn.Params), len(fields))
	}
	out := make([]*uint256.Int, len(fields))
	for i, f := range fields {
		v, err := strconv.ParseInt(f, 0, 64)
		if err != nil {
			u, uerr := strconv.ParseUint(f, 0, 64)
			if uerr != nil {
				return nil, fmt.Errorf("argument %d: %w", i, err)
			}
			out[i] = ir.NewConst(uint256.NewInt(u), fn.Params[i].Type).Val
			continue
		}
		out[i] = ir.ConstInt(v, fn.Params[i].Type).Val
	}
	return out, nil
}

func formatResult(fn *ir.Function, v *uint256.Int) string {
	if fn.Result == nil || v == nil {
		return "\n"
	}
	return ir.FormatInt(v, *fn.Result) + "\n"
}

func compareOutput(expectPath, got string) error {
	want, err := os.ReadFile(expectPath)
	if err != nil {
		return err
	}
	if strings.TrimSpace(string(want)) != strings.TrimSpace(got) {
		return fmt.Errorf("output mismatch: want %q, got %q", strings.TrimSpace(string(want)), strings.TrimSpace(got))
	}
	return nil
}

func runLint(args []string) error {
	fs := flag.NewFlagSet("lint", flag.ContinueOnError)
	fs.SetOutput(os.Stderr)
	diagFormat := fs.String("diag-format", "text", "diagnostic output format (text|json)")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if fs.NArg() == 0 {
		fs.Usage()
		return fmt.Errorf("lint requires at least one Go source file")
	}
	result, err := prepareProgram(fs.Args(), *diagFormat)
	if err != nil {
		return err
	}
	return validateProgram(result)
}

type frontendResult struct {
	reporter *diag.Reporter
	program  *ssa.Program
	ssaPkgs  []*ssa.Package
	pkgs     []*packages.Package
}

func prepareProgram(sources []string, diagFormat string) (*frontendResult, error) {
	reporter := diag.NewReporter(diagOutput, diagFormat)
	cfg := frontend.LoadConfig{Sources: sources}
	pkgs, _, err := frontend.LoadPackages(cfg, reporter)
	if err != nil {
		return nil, err
	}
	if reporter.HasErrors() {
		return nil, fmt.Errorf("errors reported while loading packages")
	}
	prog, ssaPkgs, err := frontend.BuildSSA(pkgs, reporter)
	if err != nil {
		return nil, err
	}
	if reporter.HasErrors() {
		return nil, fmt.Errorf("errors reported during SSA construction")
	}
	return &frontendResult{
		reporter: reporter,
		program:  prog,
		ssaPkgs:  ssaPkgs,
		pkgs:     pkgs,
	}, nil
}

func validateProgram(result *frontendResult) error {
	if result == nil || result.program == nil {
		return fmt.Errorf("no program available for validation")
	}
	return validate.CheckProgram(result.program, result.ssaPkgs, result.pkgs, result.reporter)
}

func lowerProgram(result *frontendResult, cfg config.Config) (*ir.Program, error) {
	if err := validateProgram(result); err != nil {
		return nil, err
	}
	return ir.BuildProgram(result.program, result.ssaPkgs, result.reporter, ir.BuildOptions{Roots: cfg.Roots})
}

func loadConfig(path string, sources []string) (config.Config, error) {
	if path == "" && len(sources) > 0 {
		dir, err := filepath.Abs(filepath.Dir(sources[0]))
		if err == nil {
			if found, ok := config.Find(dir); ok {
				path = found
			}
		}
	}
	return config.Load(path)
}

func emitSSAProgram(pkgs []*ssa.Package, outputPath string) error {
	return withOutputWriter(outputPath, func(w io.Writer) error {
		pkgs := sortedSSAPackages(pkgs)
		if len(pkgs) == 0 {
			return fmt.Errorf("no SSA packages available to emit")
		}
		for i, pkg := range pkgs {
			if i > 0 {
				fmt.Fprintln(w)
			}
			if _, err := pkg.WriteTo(w); err != nil {
				return err
			}
			for _, fn := range packageFunctions(pkg) {
				fmt.Fprintln(w)
				if _, err := fn.WriteTo(w); err != nil {
					return err
				}
			}
		}
		return nil
	})
}

func emitIRProgram(prog *ir.Program, outputPath string) error {
	if prog == nil {
		return fmt.Errorf("no IR program available to emit")
	}
	return withOutputWriter(outputPath, func(w io.Writer) error {
		ir.Dump(prog, w)
		return nil
	})
}

func sortedSSAPackages(all []*ssa.Package) []*ssa.Package {
	pkgs := make([]*ssa.Package, 0, len(all))
	for _, pkg := range all {
		if pkg == nil {
			continue
		}
		pkgs = append(pkgs, pkg)
	}
	sort.Slice(pkgs, func(i, j int) bool {
		return packageSortKey(pkgs[i]) < packageSortKey(pkgs[j])
	})
	return pkgs
}

func packageSortKey(pkg *ssa.Package) string {
	if pkg.Pkg != nil {
		return pkg.Pkg.Path()
	}
	return pkg.String()
}

// packageFunctions lists the package-level functions with a body in name
// order.
func packageFunctions(pkg *ssa.Package) []*ssa.Function {
	names := make([]string, 0, len(pkg.Members))
	for name, member := range pkg.Members {
		if fn, ok := member.(*ssa.Function); ok && len(fn.Blocks) > 0 {
			names = append(names, name)
		}
	}
	sort.Strings(names)
	out := make([]*ssa.Function, 0, len(names))
	for _, name := range names {
		out = append(out, pkg.Members[name].(*ssa.Function))
	}
	return out
}

func withOutputWriter(path string, fn func(io.Writer) error) error {
	w, cleanup, err := outputWriter(path)
	if err != nil {
		return err
	}
	if cleanup == nil {
		return fn(w)
	}
	err = fn(w)
	if closeErr := cleanup(); err == nil && closeErr != nil {
		err = closeErr
	}
	return err
}

func outputWriter(path string) (io.Writer, func() error, error) {
	if path == "" || path == "-" {
		return os.Stdout, nil, nil
	}
	f, err := os.Create(path)
	if err != nil {
		return nil, nil, err
	}
	return f, f.Close, nil
}
