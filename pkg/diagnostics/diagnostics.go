// Package diagnostics defines the positioned error/warning values shared
// by the parser and the semantic analyzer, plus a small "did you mean"
// helper used when reporting an undeclared name.
package diagnostics

import (
	"fmt"
	"strings"

	"github.com/lithammer/fuzzysearch/fuzzy"

	"routc/pkg/token"
)

// Severity distinguishes a fatal diagnostic from an informational one.
type Severity int

const (
	SeverityError Severity = iota
	SeverityWarning
)

func (s Severity) String() string {
	if s == SeverityWarning {
		return "warning"
	}
	return "error"
}

// Diagnostic is a single positioned message. It implements error so a
// pipeline stage can return the first fatal diagnostic directly while
// still exposing the full list for reporting.
type Diagnostic struct {
	Pos      token.Position
	Message  string
	Severity Severity
}

func (d *Diagnostic) Error() string {
	return fmt.Sprintf("%d:%d: %s", d.Pos.Line, d.Pos.Column, d.Message)
}

// Errorf builds a fatal diagnostic at pos.
func Errorf(pos token.Position, format string, args ...any) *Diagnostic {
	return &Diagnostic{Pos: pos, Message: fmt.Sprintf(format, args...), Severity: SeverityError}
}

// Warningf builds a non-fatal diagnostic at pos.
func Warningf(pos token.Position, format string, args ...any) *Diagnostic {
	return &Diagnostic{Pos: pos, Message: fmt.Sprintf(format, args...), Severity: SeverityWarning}
}

// SuggestName ranks candidates against name by fuzzy edit distance and
// returns the closest one, or "" if candidates is empty. Used to append
// a "did you mean %q?" hint to undeclared-name diagnostics.
func SuggestName(name string, candidates []string) string {
	if len(candidates) == 0 {
		return ""
	}
	folded := strings.ToLower(name)
	best := candidates[0]
	bestDist := fuzzy.LevenshteinDistance(folded, strings.ToLower(best))
	for _, c := range candidates[1:] {
		if d := fuzzy.LevenshteinDistance(folded, strings.ToLower(c)); d < bestDist {
			best, bestDist = c, d
		}
	}
	return best
}

// WithSuggestion appends a "did you mean %q?" clause to message when
// suggestion is non-empty.
func WithSuggestion(message, suggestion string) string {
	if suggestion == "" {
		return message
	}
	return fmt.Sprintf("%s (did you mean %q?)", message, suggestion)
}
