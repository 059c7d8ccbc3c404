package tui

import (
	"github.com/charmbracelet/lipgloss"
)

var (
	bannerBorderColor = lipgloss.AdaptiveColor{Light: "#999999", Dark: "#AAAAAA"}
	bannerTitleColor  = lipgloss.AdaptiveColor{Light: "#00AAAA", Dark: "#00FFFF"}
	bannerMaxWidth    = 80
	bannerStyle       = lipgloss.NewStyle().
				Padding(0, 1).
				AlignVertical(lipgloss.Top).
				AlignHorizontal(lipgloss.Left).
				Border(lipgloss.RoundedBorder()).
				BorderForeground(bannerBorderColor)
	bannerBodyStyle  = lipgloss.NewStyle().MaxWidth(bannerMaxWidth)
	bannerTitleStyle = lipgloss.NewStyle().Bold(true).Foreground(bannerTitleColor)
)

// Banner renders body in a rounded box headed by title.
func Banner(title string, body string) string {
	return bannerStyle.Render(bannerTitleStyle.Render(title) + "\n\n" + bannerBodyStyle.Render(body))
}

func BannerBodyStyle() lipgloss.Style {
	return bannerBodyStyle
}
