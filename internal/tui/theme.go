package tui

import "github.com/charmbracelet/lipgloss"

// Color palette.
var (
	colorPrimary   = lipgloss.Color("#7C3AED") // Purple
	colorSecondary = lipgloss.Color("#A78BFA") // Light purple
	colorSuccess   = lipgloss.Color("#10B981") // Green
	colorDanger    = lipgloss.Color("#EF4444") // Red
	colorMuted     = lipgloss.Color("#6B7280") // Gray
	colorBorder    = lipgloss.Color("#374151") // Dark gray
	colorWarning   = lipgloss.Color("#F59E0B") // Amber
)

// Shared styles.
var (
	titleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("#FFFFFF")).
			Background(colorPrimary).
			Padding(0, 1)

	normalItemStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#D1D5DB"))

	mutedStyle = lipgloss.NewStyle().
			Foreground(colorMuted)

	doneStyle = lipgloss.NewStyle().
			Foreground(colorSuccess)

	errorStyle = lipgloss.NewStyle().
			Foreground(colorDanger)

	warningStyle = lipgloss.NewStyle().
			Foreground(colorWarning)

	refStyle = lipgloss.NewStyle().
			Foreground(colorSecondary)

	hintBulletStyle = lipgloss.NewStyle().
			Foreground(colorPrimary)

	spinnerStyle = lipgloss.NewStyle().
			Foreground(colorSecondary)

	sectionRuleStyle = lipgloss.NewStyle().
				Foreground(colorBorder)

	sectionHeaderStyle = lipgloss.NewStyle().
				Bold(true).
				Foreground(colorMuted)
)

// SectionHeader renders a label between short rules: "── LABEL ──".
func SectionHeader(label string) string {
	rule := sectionRuleStyle.Render("──")
	return rule + sectionHeaderStyle.Render(" "+label+" ") + rule
}

// Title renders the banner used at the top of command output.
func Title(s string) string { return titleStyle.Render(s) }

// Muted renders secondary text.
func Muted(s string) string { return mutedStyle.Render(s) }

// Ref renders a version reference.
func Ref(s string) string { return refStyle.Render(s) }

// Success renders a positive status.
func Success(s string) string { return doneStyle.Render(s) }

// Warning renders a cautionary status.
func Warning(s string) string { return warningStyle.Render(s) }
