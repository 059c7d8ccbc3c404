package tui

import (
	"fmt"
	"io"

	"github.com/charmbracelet/lipgloss"
)

var (
	messageOKColor      = lipgloss.AdaptiveColor{Light: "#009900", Dark: "#00FF00"}
	messageOKStyle      = lipgloss.NewStyle().Foreground(messageOKColor)
	messageTextColor    = lipgloss.AdaptiveColor{Light: "#000000", Dark: "#FFFFFF"}
	messageTextStyle    = lipgloss.NewStyle().Foreground(messageTextColor)
	messageWarningColor = lipgloss.AdaptiveColor{Light: "#990000", Dark: "#FF0000"}
	messageWarningStyle = lipgloss.NewStyle().Foreground(messageWarningColor)
)

func ShowSuccess(w io.Writer, msg string, args ...any) {
	body := messageOKStyle.Render(" ✓ ") + messageTextStyle.Render(fmt.Sprintf(msg, args...))
	fmt.Fprintln(w, body)
}

func ShowWarning(w io.Writer, msg string, args ...any) {
	body := messageWarningStyle.Render(" ✕ ") + messageTextStyle.Render(fmt.Sprintf(msg, args...))
	fmt.Fprintln(w, body)
}

func ShowError(w io.Writer, msg string, args ...any) {
	body := messageWarningStyle.Render(" ⚠ ") + messageTextStyle.Render(fmt.Sprintf(msg, args...))
	fmt.Fprintln(w, body)
}
