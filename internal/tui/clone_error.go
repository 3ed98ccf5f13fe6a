package tui

import (
	"strings"

	"github.com/barysiuk/agentpkg/internal/core"
)

// RenderCloneError formats a clone failure with the command that ran, git's
// output and the suggestions attached to the error.
func RenderCloneError(ce *core.CloneError) string {
	if ce == nil {
		return ""
	}
	var b strings.Builder

	b.WriteString("  ")
	b.WriteString(errorStyle.Render(ce.Kind.String()))
	b.WriteString("\n\n")

	b.WriteString(mutedStyle.Render("  Command:"))
	b.WriteString("\n    ")
	b.WriteString(normalItemStyle.Render(ce.Command))
	b.WriteString("\n\n")

	if ce.RawOutput != "" {
		b.WriteString(mutedStyle.Render("  Output:"))
		b.WriteString("\n")
		for _, line := range strings.Split(ce.RawOutput, "\n") {
			line = strings.TrimSpace(line)
			if line == "" {
				continue
			}
			b.WriteString("    ")
			b.WriteString(errorStyle.Render(line))
			b.WriteString("\n")
		}
		b.WriteString("\n")
	}

	if len(ce.Hints) > 0 {
		b.WriteString(mutedStyle.Render("  Suggestions:"))
		b.WriteString("\n")
		for _, hint := range ce.Hints {
			b.WriteString("    ")
			b.WriteString(hintBulletStyle.Render("*"))
			b.WriteString(" ")
			b.WriteString(normalItemStyle.Render(hint))
			b.WriteString("\n")
		}
	}
	return b.String()
}
