package diag

import (
	"encoding/json"
	"fmt"
	"go/token"
	"io"
	"sync"
)

// Severity classifies a diagnostic.
type Severity int

const (
	SeverityError Severity = iota
	SeverityWarning
	SeverityNote
)

func (s Severity) String() string {
	switch s {
	case SeverityError:
		return "error"
	case SeverityWarning:
		return "warning"
	case SeverityNote:
		return "note"
	default:
		return "unknown"
	}
}

// Diagnostic is a single message tied to an optional source position.
type Diagnostic struct {
	Severity Severity
	Pos      token.Position
	Message  string
}

// Reporter collects diagnostics and streams them to a writer in either
// plain text or one JSON object per line.
type Reporter struct {
	mu       sync.Mutex
	w        io.Writer
	json     bool
	fset     *token.FileSet
	errors   int
	warnings int
	diags    []Diagnostic
}

// NewReporter builds a reporter. format is "text" or "json"; anything else
// falls back to text.
func NewReporter(w io.Writer, format string) *Reporter {
	if w == nil {
		w = io.Discard
	}
	return &Reporter{w: w, json: format == "json"}
}

// SetFileSet installs the file set used to resolve token.Pos values.
func (r *Reporter) SetFileSet(fset *token.FileSet) {
	r.mu.Lock()
	r.fset = fset
	r.mu.Unlock()
}

func (r *Reporter) Error(pos token.Pos, msg string) {
	r.report(SeverityError, pos, msg)
}

// Errorf reports an error without a source position.
func (r *Reporter) Errorf(format string, args ...interface{}) {
	r.report(SeverityError, token.NoPos, fmt.Sprintf(format, args...))
}

func (r *Reporter) Warning(pos token.Pos, msg string) {
	r.report(SeverityWarning, pos, msg)
}

func (r *Reporter) Warningf(format string, args ...interface{}) {
	r.report(SeverityWarning, token.NoPos, fmt.Sprintf(format, args...))
}

// Notef reports an informational message, used for pipeline progress.
func (r *Reporter) Notef(format string, args ...interface{}) {
	r.report(SeverityNote, token.NoPos, fmt.Sprintf(format, args...))
}

func (r *Reporter) HasErrors() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.errors > 0
}

func (r *Reporter) ErrorCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.errors
}

func (r *Reporter) WarningCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.warnings
}

// Diagnostics returns a copy of everything reported so far.
func (r *Reporter) Diagnostics() []Diagnostic {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Diagnostic, len(r.diags))
	copy(out, r.diags)
	return out
}

func (r *Reporter) report(sev Severity, pos token.Pos, msg string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var position token.Position
	if pos.IsValid() && r.fset != nil {
		position = r.fset.Position(pos)
	}
	d := Diagnostic{Severity: sev, Pos: position, Message: msg}
	r.diags = append(r.diags, d)
	switch sev {
	case SeverityError:
		r.errors++
	case SeverityWarning:
		r.warnings++
	}
	if r.json {
		r.writeJSON(d)
		return
	}
	if position.IsValid() {
		fmt.Fprintf(r.w, "%s: %s: %s\n", position, sev, msg)
		return
	}
	fmt.Fprintf(r.w, "%s: %s\n", sev, msg)
}

type jsonDiagnostic struct {
	Severity string `json:"severity"`
	File     string `json:"file,omitempty"`
	Line     int    `json:"line,omitempty"`
	Column   int    `json:"column,omitempty"`
	Message  string `json:"message"`
}

func (r *Reporter) writeJSON(d Diagnostic) {
	enc := json.NewEncoder(r.w)
	_ = enc.Encode(jsonDiagnostic{
		Severity: d.Severity.String(),
		File:     d.Pos.Filename,
		Line:     d.Pos.Line,
		Column:   d.Pos.Column,
		Message:  d.Message,
	})
}
