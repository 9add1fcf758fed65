package projectcontext

import (
	"strings"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/ast"
	"github.com/yuin/goldmark/text"
)

// RenderExcerpt parses raw markdown with goldmark and walks the resulting
// AST to collect plain text, stripping headings/emphasis/link syntax down
// to prose so AGENTS.md/CLOUD.md excerpts embed cleanly in an agent prompt
// preamble without leaking raw markdown control characters. Grounded on
// the teacher's use of goldmark for rendering markdown into its dashboard
// (internal/web/server.go imports yuin/goldmark); repurposed here from
// markdown-to-HTML rendering to markdown-to-plain-text extraction, since
// the consumer is a prompt string, not a browser.
func RenderExcerpt(raw string, maxChars int) string {
	src := []byte(raw)
	doc := goldmark.New().Parser().Parse(text.NewReader(src))

	var b strings.Builder
	_ = ast.Walk(doc, func(n ast.Node, entering bool) (ast.WalkStatus, error) {
		if !entering {
			return ast.WalkContinue, nil
		}
		switch n.Kind() {
		case ast.KindText:
			t := n.(*ast.Text)
			b.Write(t.Segment.Value(src))
			if t.SoftLineBreak() || t.HardLineBreak() {
				b.WriteString("\n")
			}
		case ast.KindCodeSpan:
			// Code span text arrives through its Text children.
		case ast.KindFencedCodeBlock, ast.KindCodeBlock:
			// Block code has no Text children; copy its lines verbatim.
			if b.Len() > 0 {
				b.WriteString("\n")
			}
			lines := n.Lines()
			for i := 0; i < lines.Len(); i++ {
				seg := lines.At(i)
				b.Write(seg.Value(src))
			}
		case ast.KindParagraph, ast.KindHeading:
			if b.Len() > 0 {
				b.WriteString("\n")
			}
		}
		if b.Len() >= maxChars {
			return ast.WalkStop, nil
		}
		return ast.WalkContinue, nil
	})

	out := strings.TrimSpace(b.String())
	if len(out) > maxChars {
		out = out[:maxChars]
	}
	return out
}
