package components

import (
	"strings"

	"github.com/charmbracelet/bubbles/textarea"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"pixelchat/internal/adapter/tui/theme"
)

// InputSubmitMsg is sent when the user presses Enter on non-empty input.
type InputSubmitMsg struct {
	Value string
}

// InputAreaModel is the prompt box with slash-command autocomplete.
type InputAreaModel struct {
	Textarea     textarea.Model
	Autocomplete AutocompleteModel
	Enabled      bool
	width        int
}

// NewInputArea creates an input area.
func NewInputArea() InputAreaModel {
	ta := textarea.New()
	ta.Placeholder = "Describe the image you want..."
	ta.Prompt = "> "
	ta.ShowLineNumbers = false
	ta.CharLimit = 8000
	ta.SetHeight(3)
	ta.FocusedStyle.CursorLine = lipgloss.NewStyle()
	ta.FocusedStyle.Prompt = theme.InputPrompt
	ta.FocusedStyle.Placeholder = theme.InputPlaceholder
	ta.Focus()

	return InputAreaModel{
		Textarea: ta,
		Enabled:  true,
	}
}

// SetWidth updates the textarea width.
func (m *InputAreaModel) SetWidth(w int) {
	m.width = w
	m.Textarea.SetWidth(w - 2)
	m.Autocomplete.SetWidth(w)
}

// SetPlaceholder changes the hint shown in an empty input.
func (m *InputAreaModel) SetPlaceholder(s string) {
	m.Textarea.Placeholder = s
}

// SetValue replaces the input text and moves the cursor to the end.
func (m *InputAreaModel) SetValue(s string) {
	m.Textarea.SetValue(s)
	m.Textarea.CursorEnd()
}

// SetEnabled enables or disables input.
func (m *InputAreaModel) SetEnabled(enabled bool) {
	m.Enabled = enabled
	if enabled {
		m.Textarea.Focus()
	} else {
		m.Textarea.Blur()
	}
}

// Value returns the current input text.
func (m InputAreaModel) Value() string {
	return m.Textarea.Value()
}

// ParseSlashCommand splits "/cmd rest of line" into the lower-cased command
// and the trimmed remainder.
func ParseSlashCommand(input string) (cmd, rest string, ok bool) {
	input = strings.TrimSpace(input)
	if !strings.HasPrefix(input, "/") {
		return "", "", false
	}
	cmd, rest, _ = strings.Cut(input, " ")
	return strings.ToLower(cmd), strings.TrimSpace(rest), true
}

// Update handles keys. Enter submits, Alt+Enter inserts a newline, and the
// autocomplete popup captures navigation keys while visible.
func (m InputAreaModel) Update(msg tea.Msg) (InputAreaModel, tea.Cmd) {
	if !m.Enabled {
		return m, nil
	}
	if _, ok := msg.(tea.MouseMsg); ok {
		return m, nil
	}

	if keyMsg, ok := msg.(tea.KeyMsg); ok {
		if m.Autocomplete.Visible {
			switch keyMsg.Type {
			case tea.KeyTab, tea.KeyDown:
				m.Autocomplete.SelectNext()
				return m, nil
			case tea.KeyShiftTab, tea.KeyUp:
				m.Autocomplete.SelectPrev()
				return m, nil
			case tea.KeyEnter:
				if accepted := m.Autocomplete.Accept(); accepted != "" {
					m.SetValue(accepted + " ")
				}
				return m, nil
			case tea.KeyEsc:
				m.Autocomplete.Hide()
				return m, nil
			}
		}

		if keyMsg.Type == tea.KeyEnter && !keyMsg.Alt {
			value := strings.TrimSpace(m.Textarea.Value())
			if value == "" {
				return m, nil
			}
			m.Textarea.Reset()
			m.Autocomplete.Hide()
			return m, func() tea.Msg {
				return InputSubmitMsg{Value: value}
			}
		}
	}

	var cmd tea.Cmd
	m.Textarea, cmd = m.Textarea.Update(msg)

	value := m.Textarea.Value()
	if strings.HasPrefix(value, "/") && !strings.Contains(value, " ") {
		m.Autocomplete.SetPrefix(value)
	} else {
		m.Autocomplete.Hide()
	}
	return m, cmd
}

// View renders the input with the autocomplete popup above it.
func (m InputAreaModel) View() string {
	if popup := m.Autocomplete.View(); popup != "" {
		return popup + "\n" + m.Textarea.View()
	}
	return m.Textarea.View()
}
