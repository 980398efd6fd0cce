package components

import (
	"strings"

	"github.com/charmbracelet/lipgloss"

	"pixelchat/internal/adapter/tui/theme"
)

// CommandDef describes a slash command for autocomplete and /help.
type CommandDef struct {
	Name        string // "/upload"
	Args        string // "<path>..."
	Description string
}

// Usage returns the command with its argument hint.
func (c CommandDef) Usage() string {
	if c.Args == "" {
		return c.Name
	}
	return c.Name + " " + c.Args
}

// AutocompleteModel is a filtered popup of slash commands.
type AutocompleteModel struct {
	Commands []CommandDef
	Filtered []CommandDef
	Selected int
	Visible  bool
	prefix   string
	maxShow  int
	width    int
}

// NewAutocomplete creates an autocomplete over commands.
func NewAutocomplete(commands []CommandDef) AutocompleteModel {
	return AutocompleteModel{
		Commands: commands,
		maxShow:  8,
	}
}

// SetWidth updates the popup width.
func (m *AutocompleteModel) SetWidth(w int) {
	m.width = w
}

// SetPrefix filters the commands by prefix.
func (m *AutocompleteModel) SetPrefix(prefix string) {
	m.prefix = strings.ToLower(prefix)
	m.Filtered = nil
	for _, cmd := range m.Commands {
		if strings.HasPrefix(cmd.Name, m.prefix) {
			m.Filtered = append(m.Filtered, cmd)
		}
	}
	m.Visible = len(m.Filtered) > 0 && m.prefix != ""
	if m.Selected >= len(m.Filtered) {
		m.Selected = 0
	}
}

// Hide closes the popup.
func (m *AutocompleteModel) Hide() {
	m.Visible = false
	m.Filtered = nil
	m.prefix = ""
	m.Selected = 0
}

// SelectNext moves the selection down, wrapping.
func (m *AutocompleteModel) SelectNext() {
	if len(m.Filtered) == 0 {
		return
	}
	m.Selected = (m.Selected + 1) % len(m.Filtered)
}

// SelectPrev moves the selection up, wrapping.
func (m *AutocompleteModel) SelectPrev() {
	if len(m.Filtered) == 0 {
		return
	}
	m.Selected--
	if m.Selected < 0 {
		m.Selected = len(m.Filtered) - 1
	}
}

// Accept returns the selected command name and closes the popup.
func (m *AutocompleteModel) Accept() string {
	if len(m.Filtered) == 0 {
		return ""
	}
	name := m.Filtered[m.Selected].Name
	m.Hide()
	return name
}

// View renders the popup.
func (m AutocompleteModel) View() string {
	if !m.Visible || len(m.Filtered) == 0 {
		return ""
	}

	popupWidth := max(m.width-4, 30)
	show := m.Filtered
	if len(show) > m.maxShow {
		show = show[:m.maxShow]
	}

	const usageW = 26
	var lines []string
	for i, cmd := range show {
		usage := cmd.Usage()
		if len(usage) < usageW {
			usage += strings.Repeat(" ", usageW-len(usage))
		}
		desc := cmd.Description
		if maxDesc := popupWidth - usageW - 4; maxDesc > 0 && len(desc) > maxDesc {
			desc = desc[:maxDesc-1] + theme.SymbolEllipsis
		}

		line := usage + " " + theme.TextMuted.Render(desc)
		if i == m.Selected {
			line = theme.TextAccent.Render(theme.SymbolArrowR+" ") + line
		} else {
			line = "  " + line
		}
		lines = append(lines, line)
	}

	return lipgloss.NewStyle().
		Border(lipgloss.RoundedBorder()).
		BorderForeground(theme.ColorBorderActive).
		Padding(0, 1).
		Render(strings.Join(lines, "\n"))
}
