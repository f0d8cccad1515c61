// Package speech turns narration text into what a voice should actually
// say.
package speech

import (
	"strings"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/ast"
	"github.com/yuin/goldmark/text"
)

var md = goldmark.New()

// Plain strips markdown markup from narration text: emphasis markers, link
// targets, images and code blocks go, their readable text stays. Block
// elements are joined with a single space. Text without markup comes back
// unchanged apart from whitespace normalisation.
func Plain(markdown string) string {
	if strings.TrimSpace(markdown) == "" {
		return ""
	}

	src := []byte(markdown)
	doc := md.Parser().Parse(text.NewReader(src))

	var buf strings.Builder
	walk(doc, src, &buf)

	return strings.Join(strings.Fields(buf.String()), " ")
}

func walk(node ast.Node, src []byte, buf *strings.Builder) {
	switch n := node.(type) {
	case *ast.CodeBlock, *ast.FencedCodeBlock, *ast.HTMLBlock, *ast.RawHTML, *ast.Image:
		return

	case *ast.Text:
		buf.Write(n.Segment.Value(src))
		if n.SoftLineBreak() || n.HardLineBreak() {
			buf.WriteByte(' ')
		}
		return

	case *ast.String:
		buf.Write(n.Value)
		return

	case *ast.CodeSpan:
		for c := n.FirstChild(); c != nil; c = c.NextSibling() {
			if t, ok := c.(*ast.Text); ok {
				buf.Write(t.Segment.Value(src))
			}
		}
		return

	case *ast.AutoLink:
		buf.Write(n.Label(src))
		return
	}

	for c := node.FirstChild(); c != nil; c = c.NextSibling() {
		walk(c, src, buf)
	}

	// block boundaries become word boundaries
	if node.Type() == ast.TypeBlock {
		buf.WriteByte(' ')
	}
}
