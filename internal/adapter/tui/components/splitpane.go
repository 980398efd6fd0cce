package components

import (
	"strings"

	"github.com/charmbracelet/lipgloss"

	"pixelchat/internal/adapter/tui/theme"
)

// SplitPaneModel lays the chat and the pool pane side by side. The right pane
// is hidden on narrow terminals.
type SplitPaneModel struct {
	Visible bool
	Ratio   float64
	width   int
	height  int
}

// NewSplitPane creates a split with the left pane taking ratio of the width.
func NewSplitPane(ratio float64) SplitPaneModel {
	if ratio <= 0 || ratio >= 1 {
		ratio = 0.7
	}
	return SplitPaneModel{Ratio: ratio}
}

// SetSize updates the dimensions.
func (m *SplitPaneModel) SetSize(w, h int) {
	m.width = w
	m.height = h
	if w < theme.MinSplitWidth {
		m.Visible = false
	}
}

// Toggle shows or hides the right pane. It reports whether the pane is now
// visible.
func (m *SplitPaneModel) Toggle() bool {
	if m.width < theme.MinSplitWidth {
		return false
	}
	m.Visible = !m.Visible
	return m.Visible
}

// LeftWidth returns the chat width.
func (m SplitPaneModel) LeftWidth() int {
	if !m.Visible {
		return m.width
	}
	return int(float64(m.width-1) * m.Ratio)
}

// RightWidth returns the pool pane width.
func (m SplitPaneModel) RightWidth() int {
	if !m.Visible {
		return 0
	}
	return m.width - 1 - m.LeftWidth()
}

// Render joins both panes with a vertical divider.
func (m SplitPaneModel) Render(left, right string) string {
	if !m.Visible {
		return left
	}
	bar := lipgloss.NewStyle().Foreground(theme.ColorBorder).Render("│")
	col := strings.TrimSuffix(strings.Repeat(bar+"\n", max(m.height, 1)), "\n")
	return lipgloss.JoinHorizontal(lipgloss.Top, left, col, right)
}
