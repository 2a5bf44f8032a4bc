package cli

import (
	"strings"

	"github.com/charmbracelet/glamour"
)

// markdownWidth is the word-wrap width for rendered assistant replies.
const markdownWidth = 80

// renderMarkdown renders an assistant reply for the terminal. The plain text
// is returned if rendering fails.
func renderMarkdown(text string) string {
	r, err := glamour.NewTermRenderer(
		glamour.WithAutoStyle(),
		glamour.WithWordWrap(markdownWidth),
	)
	if err != nil {
		return text
	}
	out, err := r.Render(text)
	if err != nil {
		return text
	}
	return strings.Trim(out, "\n")
}
