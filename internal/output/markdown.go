package output

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/glamour"
)

// markdownWrap is the word-wrap width for rendered markdown.
const markdownWrap = 100

// Markdown prints content as rendered markdown when the writer is styled,
// and as plain text otherwise. Rendering failures fall back to plain text.
func (w *Writer) Markdown(content string) {
	if !w.styled {
		_, _ = fmt.Fprintln(w.out, strings.TrimSpace(content))
		return
	}

	renderer, err := glamour.NewTermRenderer(
		glamour.WithAutoStyle(),
		glamour.WithWordWrap(markdownWrap),
	)
	if err != nil {
		_, _ = fmt.Fprintln(w.out, strings.TrimSpace(content))
		return
	}

	rendered, err := renderer.Render(content)
	if err != nil {
		_, _ = fmt.Fprintln(w.out, strings.TrimSpace(content))
		return
	}
	_, _ = fmt.Fprintln(w.out, strings.TrimSpace(rendered))
}
