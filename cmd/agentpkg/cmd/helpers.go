package cmd

import (
	"time"

	"github.com/charmbracelet/x/ansi"
	"github.com/mattn/go-isatty"
)

// isTerminal reports whether fd is attached to a terminal.
func isTerminal(fd uintptr) bool {
	return isatty.IsTerminal(fd) || isatty.IsCygwinTerminal(fd)
}

// truncate shortens s to width display cells, marking the cut with "…".
func truncate(s string, width int) string {
	if width <= 0 || ansi.StringWidth(s) <= width {
		return s
	}
	return ansi.Truncate(s, width, "…")
}

// shortRef abbreviates a version reference for tables.
func shortRef(ref string) string {
	if len(ref) > 12 {
		return ref[:12]
	}
	return ref
}

// formatTime renders a record timestamp in local time.
func formatTime(t time.Time) string {
	if t.IsZero() {
		return "-"
	}
	return t.Local().Format("2006-01-02 15:04")
}
