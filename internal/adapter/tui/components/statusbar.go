package components

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"

	"pixelchat/internal/adapter/tui/theme"
)

// KeyHint is one keybinding hint.
type KeyHint struct {
	Key  string
	Desc string
}

// StatusBarModel is the bottom line: hints on the left; mode, model, pool
// size and activity on the right.
type StatusBarModel struct {
	Hints     []KeyHint
	Mode      string
	ModelName string
	PoolCount int
	Editing   bool
	Extra     string
	width     int
}

// NewStatusBar creates an empty status bar.
func NewStatusBar() StatusBarModel {
	return StatusBarModel{}
}

// SetWidth updates the available width.
func (m *StatusBarModel) SetWidth(w int) {
	m.width = w
}

// View renders the status bar.
func (m StatusBarModel) View() string {
	var hints []string
	for _, h := range m.Hints {
		hints = append(hints, theme.StatusKey.Render(h.Key)+": "+h.Desc)
	}
	left := strings.Join(hints, "  "+theme.Dim.Render("|")+"  ")

	var parts []string
	switch m.Mode {
	case "create":
		parts = append(parts, theme.ModeCreate.Render("CREATE"))
	case "edit":
		parts = append(parts, theme.ModeEdit.Render("EDIT"))
	}
	if m.Editing {
		parts = append(parts, theme.TextWarning.Render("editing message"))
	}
	if m.PoolCount > 0 {
		parts = append(parts, theme.TextMuted.Render(fmt.Sprintf("%s %d", theme.SymbolImage, m.PoolCount)))
	}
	if m.ModelName != "" {
		parts = append(parts, theme.TextMuted.Render(m.ModelName))
	}
	if m.Extra != "" {
		parts = append(parts, theme.TextInfo.Render(m.Extra))
	}
	right := strings.Join(parts, " "+theme.SymbolBullet+" ")

	gap := max(m.width-lipgloss.Width(left)-lipgloss.Width(right), 1)
	return theme.StatusBar.Width(m.width).Render(left + strings.Repeat(" ", gap) + right)
}
