package build

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

type (
	// Diagnostic is one compiler message located in a source file.
	Diagnostic struct {
		File    string `json:"file"`
		Line    int    `json:"line"`
		Col     int    `json:"col,omitempty"`
		Message string `json:"message"`
	}
	// Error is a compilation rejected by the compiler.
	Error struct {
		Diagnostics []Diagnostic
		Output      string //raw compiler output
	}
)

var located = regexp.MustCompile(`^(.+?):(\d+)(?::(\d+))?: (.+)$`)

func (d Diagnostic) String() string {
	if d.Col > 0 {
		return fmt.Sprintf("%s:%d:%d: %s", d.File, d.Line, d.Col, d.Message)
	}
	return fmt.Sprintf("%s:%d: %s", d.File, d.Line, d.Message)
}

func (e *Error) Error() string {
	if len(e.Diagnostics) == 0 {
		return "compile failed: " + strings.TrimSpace(e.Output)
	}
	s := make([]string, len(e.Diagnostics))
	for i, d := range e.Diagnostics {
		s[i] = d.String()
	}
	return "compile failed:\n" + strings.Join(s, "\n")
}

// ParseDiagnostics extracts the located messages of compiler output. Lines without a location,
// such as "too many errors", are skipped.
func ParseDiagnostics(out string) (v []Diagnostic) {
	for _, line := range strings.Split(out, "\n") {
		m := located.FindStringSubmatch(strings.TrimSpace(line))
		if m == nil {
			continue
		}
		d := Diagnostic{File: m[1], Message: m[4]}
		d.Line, _ = strconv.Atoi(m[2])
		if m[3] != "" {
			d.Col, _ = strconv.Atoi(m[3])
		}
		v = append(v, d)
	}
	return
}
