package components

import (
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
)

// ChatViewModel is a scrolling viewport over the message list. It follows new
// messages while the user is at the bottom and stops following once they
// scroll up.
type ChatViewModel struct {
	Viewport viewport.Model
	Messages MessageListModel
	ready    bool
	atBottom bool
}

// NewChatView creates a chat view. The viewport is built on the first SetSize.
func NewChatView() ChatViewModel {
	return ChatViewModel{
		Messages: NewMessageList(),
		atBottom: true,
	}
}

// SetMaxMessages caps how many messages are kept for display.
func (m *ChatViewModel) SetMaxMessages(max int) {
	m.Messages.SetMaxMessages(max)
}

// SetSize resizes the viewport and re-renders.
func (m *ChatViewModel) SetSize(w, h int) {
	m.Messages.SetWidth(w)
	if !m.ready {
		m.Viewport = viewport.New(w, h)
		m.Viewport.MouseWheelEnabled = true
		m.Viewport.MouseWheelDelta = 3
		m.ready = true
	} else {
		m.Viewport.Width = w
		m.Viewport.Height = h
	}
	m.refreshContent()
}

// AddMessage appends a message.
func (m *ChatViewModel) AddMessage(msg ChatMessage) {
	m.Messages.Add(msg)
	m.refreshContent()
	if m.atBottom {
		m.Viewport.GotoBottom()
	}
}

// UpdateLastMessage rewrites the newest message's content.
func (m *ChatViewModel) UpdateLastMessage(content string) {
	m.Messages.UpdateLast(content)
	m.refreshContent()
	if m.atBottom {
		m.Viewport.GotoBottom()
	}
}

// Replace swaps the whole history, keeping the scroll pinned to the bottom.
func (m *ChatViewModel) Replace(msgs []ChatMessage) {
	m.Messages.Clear()
	for _, msg := range msgs {
		m.Messages.Add(msg)
	}
	m.atBottom = true
	m.refreshContent()
	m.Viewport.GotoBottom()
}

// Clear removes all messages.
func (m *ChatViewModel) Clear() {
	m.Messages.Clear()
	m.refreshContent()
	m.atBottom = true
	m.Viewport.GotoTop()
}

// Len returns the number of displayed messages.
func (m ChatViewModel) Len() int {
	return len(m.Messages.Messages)
}

// Update scrolls the viewport.
func (m ChatViewModel) Update(msg tea.Msg) (ChatViewModel, tea.Cmd) {
	if !m.ready {
		return m, nil
	}
	var cmd tea.Cmd
	m.Viewport, cmd = m.Viewport.Update(msg)
	m.atBottom = m.Viewport.AtBottom()
	return m, cmd
}

// View renders the viewport.
func (m ChatViewModel) View() string {
	if !m.ready {
		return "  Initializing..."
	}
	return m.Viewport.View()
}

func (m *ChatViewModel) refreshContent() {
	if !m.ready {
		return
	}
	m.Viewport.SetContent(m.Messages.View())
}
