package tui

import (
	"strings"

	"github.com/charmbracelet/lipgloss"
)

var (
	textStyleColor      = lipgloss.AdaptiveColor{Light: "#36EEE0", Dark: "#00FFFF"}
	mutedStyleColor     = lipgloss.AdaptiveColor{Light: "#666666", Dark: "#999999"}
	warningStyleColor   = lipgloss.AdaptiveColor{Light: "#FFA500", Dark: "#FFA500"}
	titleStyleColor     = lipgloss.AdaptiveColor{Light: "#071330", Dark: "#F652A0"}
	secondaryStyleColor = lipgloss.AdaptiveColor{Light: "#214358", Dark: "#AEB8C4"}
)

func Title(text string) string {
	return lipgloss.NewStyle().Bold(true).Foreground(titleStyleColor).Render(text)
}

func Bold(text string) string {
	return lipgloss.NewStyle().Bold(true).Foreground(textStyleColor).Render(text)
}

func Secondary(text string) string {
	return lipgloss.NewStyle().Foreground(secondaryStyleColor).Render(text)
}

func Muted(text string) string {
	return lipgloss.NewStyle().Foreground(mutedStyleColor).Render(text)
}

func Warning(text string) string {
	return lipgloss.NewStyle().Foreground(warningStyleColor).Render(text)
}

// KeyValues renders one "key  value" line per pair with the keys aligned.
func KeyValues(pairs ...[2]string) string {
	width := 0
	for _, p := range pairs {
		width = max(width, len(p[0]))
	}
	lines := make([]string, len(pairs))
	for i, p := range pairs {
		lines[i] = Secondary(PadRight(p[0], width, " ")) + "  " + p[1]
	}
	return strings.Join(lines, "\n")
}

func PadRight(str string, length int, pad string) string {
	if len(str) >= length {
		return str
	}
	return str + strings.Repeat(pad, length-len(str))
}

// MaxWidth truncates text to width runes, ending it with "..." when cut.
func MaxWidth(text string, width int) string {
	r := []rune(text)
	if len(r) > width && width > 3 {
		return string(r[:width-3]) + "..."
	}
	return text
}
