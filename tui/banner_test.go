package tui

import (
	"testing"

	"github.com/charmbracelet/lipgloss"
	"github.com/stretchr/testify/assert"
)

func TestBannerBodyStyle(t *testing.T) {
	style := BannerBodyStyle()
	assert.IsType(t, lipgloss.Style{}, style)
	assert.Equal(t, bannerMaxWidth, style.GetMaxWidth())
}

func TestBanner(t *testing.T) {
	out := Banner("cache", KeyValues([2]string{"ttl", "5m"}, [2]string{"max entries", "1,000"}))
	assert.Contains(t, out, "cache")
	assert.Contains(t, out, "max entries")
	assert.Contains(t, out, "1,000")
	assert.Contains(t, out, "╭")
}
