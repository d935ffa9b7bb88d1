package main

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/nalgeon/be"

	"routc/pkg/analyzer"
	"routc/pkg/codegen"
	"routc/pkg/golden"
	"routc/pkg/lexer"
	"routc/pkg/optimizer"
	"routc/pkg/parser"
)

// TestFixturesCompileToExpectedWAT drives every testdata/*.md fixture
// through the full lex-parse-analyze-optimize-generate pipeline and
// checks each fixture's wat-expect lines appear in the resulting module.
func TestFixturesCompileToExpectedWAT(t *testing.T) {
	paths, err := filepath.Glob(filepath.Join("..", "..", "testdata", "*.md"))
	be.Err(t, err, nil)
	be.True(t, len(paths) > 0)

	for _, path := range paths {
		doc, err := os.ReadFile(path)
		be.Err(t, err, nil)

		cases, err := golden.ParseFile(filepath.Base(path), doc)
		be.Err(t, err, nil)

		for _, c := range cases {
			t.Run(filepath.Base(path)+"/"+c.Name, func(t *testing.T) {
				wat := compileToWAT(t, c.Source)
				for _, want := range c.WATContains {
					if !strings.Contains(wat, want) {
						t.Fatalf("generated WAT missing %q\n--- got ---\n%s", want, wat)
					}
				}
			})
		}
	}
}

func compileToWAT(t *testing.T, src string) string {
	t.Helper()
	p := parser.New(lexer.New(src))
	prog, perr := p.ParseProgram()
	be.Err(t, perr, nil)

	a := analyzer.New()
	_, aerr := a.Analyze(prog)
	be.Err(t, aerr, nil)

	optimized, _ := optimizer.New().Optimize(prog)

	wat, gerr := codegen.Generate(optimized, a.Context())
	be.Err(t, gerr, nil)
	return wat
}
