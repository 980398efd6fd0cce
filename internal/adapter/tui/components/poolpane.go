package components

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"

	"pixelchat/internal/adapter/tui/theme"
)

// PoolEntry is one image listed in the pool pane.
type PoolEntry struct {
	Name string
	Size int64
}

// PoolView is what the pool pane shows. Empty slices and blank fields are
// rendered as "none".
type PoolView struct {
	Main          *PoolEntry
	References    []PoolEntry
	Persistent    []PoolEntry
	LastGenerated string
}

// PoolPaneModel lists the images the next request may use.
type PoolPaneModel struct {
	Viewport viewport.Model
	view     PoolView
	ready    bool
	width    int
	height   int
}

// NewPoolPane creates an empty pool pane.
func NewPoolPane() PoolPaneModel {
	return PoolPaneModel{}
}

// SetSize sets the pane dimensions.
func (m *PoolPaneModel) SetSize(w, h int) {
	m.width = w
	m.height = h
	if !m.ready {
		m.Viewport = viewport.New(w, h)
		m.Viewport.MouseWheelEnabled = true
		m.ready = true
	} else {
		m.Viewport.Width = w
		m.Viewport.Height = h
	}
	m.refreshContent()
}

// SetPool replaces the displayed pool.
func (m *PoolPaneModel) SetPool(v PoolView) {
	m.view = v
	m.refreshContent()
}

// Update handles scrolling.
func (m PoolPaneModel) Update(msg tea.Msg) (PoolPaneModel, tea.Cmd) {
	if !m.ready {
		return m, nil
	}
	var cmd tea.Cmd
	m.Viewport, cmd = m.Viewport.Update(msg)
	return m, cmd
}

// View renders the pane.
func (m PoolPaneModel) View() string {
	if !m.ready {
		return ""
	}
	return theme.Bold.Render(" Images") + "\n" + m.Viewport.View()
}

// Render returns the pane body without the viewport, for tests and /pool.
func (v PoolView) Render(width int) string {
	nameW := max(width-14, 12)

	entry := func(e PoolEntry) string {
		name := e.Name
		if len(name) > nameW {
			name = name[:nameW-1] + theme.SymbolEllipsis
		}
		return fmt.Sprintf("  %s %s %s", theme.SymbolBullet, name, theme.TextMuted.Render(humanBytes(e.Size)))
	}
	none := "  " + theme.TextMuted.Render("none")

	var sb strings.Builder
	sb.WriteString(theme.TextAccent.Render("Main") + "\n")
	if v.Main != nil {
		sb.WriteString(entry(*v.Main) + "\n")
	} else {
		sb.WriteString(none + "\n")
	}

	sb.WriteString(theme.TextAccent.Render("Last generated") + "\n")
	if v.LastGenerated != "" {
		loc := v.LastGenerated
		if len(loc) > nameW {
			loc = loc[:nameW-1] + theme.SymbolEllipsis
		}
		sb.WriteString("  " + theme.SymbolImage + " " + loc + "\n")
	} else {
		sb.WriteString(none + "\n")
	}

	for _, group := range []struct {
		title   string
		entries []PoolEntry
	}{
		{fmt.Sprintf("References (%d)", len(v.References)), v.References},
		{fmt.Sprintf("Persistent (%d)", len(v.Persistent)), v.Persistent},
	} {
		sb.WriteString(theme.TextAccent.Render(group.title) + "\n")
		if len(group.entries) == 0 {
			sb.WriteString(none + "\n")
			continue
		}
		for _, e := range group.entries {
			sb.WriteString(entry(e) + "\n")
		}
	}
	return strings.TrimRight(sb.String(), "\n")
}

func (m *PoolPaneModel) refreshContent() {
	if !m.ready {
		return
	}
	m.Viewport.SetContent(m.view.Render(m.width))
}

func humanBytes(n int64) string {
	switch {
	case n <= 0:
		return ""
	case n < 1024:
		return fmt.Sprintf("%dB", n)
	case n < 1024*1024:
		return fmt.Sprintf("%.0fKB", float64(n)/1024)
	default:
		return fmt.Sprintf("%.1fMB", float64(n)/(1024*1024))
	}
}
