// Package golden mines test cases out of Markdown fixture files: each
// fixture pairs one fenced ```rout source block with one fenced
// ```wat-expect block listing substrings the generated WAT must
// contain, one per line. This keeps an end-to-end scenario readable as
// prose alongside the code and assertions it exercises, instead of
// splitting them across a .rout file and a separate expectations file.
package golden

import (
	"bytes"
	"fmt"
	"strings"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/ast"
	"github.com/yuin/goldmark/text"
)

// Case is one end-to-end scenario mined from a fixture document: a
// compiler input and the WAT substrings its output must contain.
type Case struct {
	Name        string
	Source      string
	WATContains []string
}

// ParseFile extracts every Case from a Markdown document's bytes. A
// case's Name is the heading text immediately preceding its ```rout
// block; a document may define several cases, each under its own
// heading.
func ParseFile(name string, doc []byte) ([]Case, error) {
	md := goldmark.New()
	root := md.Parser().Parse(text.NewReader(doc))

	var cases []Case
	var heading string
	var pendingSource string
	var haveSource bool

	var walkErr error
	err := ast.Walk(root, func(n ast.Node, entering bool) (ast.WalkStatus, error) {
		if !entering {
			return ast.WalkContinue, nil
		}
		switch node := n.(type) {
		case *ast.Heading:
			heading = extractText(node, doc)
		case *ast.FencedCodeBlock:
			lang := string(node.Language(doc))
			content := blockText(node, doc)
			switch lang {
			case "rout":
				pendingSource = content
				haveSource = true
			case "wat-expect":
				if !haveSource {
					walkErr = fmt.Errorf("%s: wat-expect block with no preceding rout block", name)
					return ast.WalkStop, nil
				}
				cases = append(cases, Case{
					Name:        heading,
					Source:      pendingSource,
					WATContains: splitNonEmptyLines(content),
				})
				haveSource = false
			}
		}
		return ast.WalkContinue, nil
	})
	if err != nil {
		return nil, err
	}
	if walkErr != nil {
		return nil, walkErr
	}
	if len(cases) == 0 {
		return nil, fmt.Errorf("%s: no rout/wat-expect case pairs found", name)
	}
	return cases, nil
}

// extractText collects the Value of every *ast.Text descendant of node.
// Headings have no direct text accessor; their text is spread across
// child text nodes instead.
func extractText(node ast.Node, source []byte) string {
	var buf bytes.Buffer
	ast.Walk(node, func(n ast.Node, entering bool) (ast.WalkStatus, error) {
		if entering {
			if t, ok := n.(*ast.Text); ok {
				buf.Write(t.Segment.Value(source))
			}
		}
		return ast.WalkContinue, nil
	})
	return buf.String()
}

func blockText(node *ast.FencedCodeBlock, source []byte) string {
	var sb strings.Builder
	for i := 0; i < node.Lines().Len(); i++ {
		line := node.Lines().At(i)
		sb.Write(line.Value(source))
	}
	return sb.String()
}

func splitNonEmptyLines(s string) []string {
	var out []string
	for _, line := range strings.Split(s, "\n") {
		line = strings.TrimSpace(line)
		if line != "" {
			out = append(out, line)
		}
	}
	return out
}
