package ui

import (
	"strings"
	"sync"

	"github.com/charmbracelet/glamour"
)

// Glamour parses its whole style tree on construction, so renderers are
// cached per wrap width. Widths are few in practice: the chat viewport
// plus the one-shot output width.
var renderers sync.Map // width -> *glamour.TermRenderer

func rendererFor(width int) (*glamour.TermRenderer, error) {
	if r, ok := renderers.Load(width); ok {
		return r.(*glamour.TermRenderer), nil
	}

	// Answers are printed into existing scrollback, so the document
	// carries no margins or prefix padding of its own.
	style := GlamourStyle()
	zero := uint(0)
	style.Document.Margin = &zero
	style.Document.BlockPrefix = ""
	style.Document.BlockSuffix = ""
	style.CodeBlock.Margin = &zero

	r, err := glamour.NewTermRenderer(
		glamour.WithStyles(style),
		glamour.WithWordWrap(width),
	)
	if err != nil {
		return nil, err
	}
	actual, _ := renderers.LoadOrStore(width, r)
	return actual.(*glamour.TermRenderer), nil
}

// RenderMarkdown renders an answer as styled terminal markdown wrapped at
// width. Rendering is best-effort: on any failure the raw text comes back
// unchanged, so an answer is never lost to a styling problem.
func RenderMarkdown(content string, width int) string {
	if content == "" {
		return ""
	}
	r, err := rendererFor(width)
	if err != nil {
		return content
	}
	out, err := r.Render(content)
	if err != nil {
		return content
	}
	return strings.TrimSpace(out)
}
