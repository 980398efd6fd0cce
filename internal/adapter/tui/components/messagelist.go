package components

import (
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/glamour"
	"github.com/charmbracelet/lipgloss"

	"pixelchat/internal/adapter/tui/theme"
)

// MessageRole identifies how a chat line is labelled.
type MessageRole string

const (
	RoleUser      MessageRole = "user"
	RoleAssistant MessageRole = "assistant"
	RoleSystem    MessageRole = "system"
	RoleNotice    MessageRole = "notice"
	RoleGuidance  MessageRole = "guidance"
	RoleError     MessageRole = "error"
)

// ImageLine is an image attached to a chat line.
type ImageLine struct {
	URL     string
	Caption string
	Output  bool
}

// ChatMessage is a single rendered entry in the chat history.
type ChatMessage struct {
	Role      MessageRole
	Content   string
	Rendered  string // cached glamour output
	Timestamp time.Time
	Number    int // 1-based user turn number, 0 for other roles
	Images    []ImageLine
}

// MessageListModel is an ordered list of chat messages with an optional cap.
type MessageListModel struct {
	Messages    []ChatMessage
	MaxMessages int
	trimCount   int
	width       int
	mdRenderer  *glamour.TermRenderer
}

// NewMessageList creates an empty message list.
func NewMessageList() MessageListModel {
	return MessageListModel{}
}

// SetWidth updates the rendering width and drops cached renders.
func (m *MessageListModel) SetWidth(w int) {
	if w == m.width {
		return
	}
	m.width = w
	m.mdRenderer = nil
	for i := range m.Messages {
		m.Messages[i].Rendered = ""
	}
}

// SetMaxMessages caps the list. 0 means unlimited.
func (m *MessageListModel) SetMaxMessages(max int) {
	m.MaxMessages = max
}

// TrimmedIndicator reports how many old messages were dropped.
func (m *MessageListModel) TrimmedIndicator() string {
	if m.trimCount == 0 {
		return ""
	}
	return fmt.Sprintf("(%d older messages trimmed)", m.trimCount)
}

// Add appends a message, dropping the oldest beyond MaxMessages.
func (m *MessageListModel) Add(msg ChatMessage) {
	if msg.Timestamp.IsZero() {
		msg.Timestamp = time.Now()
	}
	m.Messages = append(m.Messages, msg)
	if m.MaxMessages > 0 && len(m.Messages) > m.MaxMessages {
		excess := len(m.Messages) - m.MaxMessages
		m.Messages = m.Messages[excess:]
		m.trimCount += excess
	}
}

// Clear removes all messages.
func (m *MessageListModel) Clear() {
	m.Messages = nil
	m.trimCount = 0
}

// UpdateLast replaces the content of the last message.
func (m *MessageListModel) UpdateLast(content string) {
	if len(m.Messages) == 0 {
		return
	}
	m.Messages[len(m.Messages)-1].Content = content
	m.Messages[len(m.Messages)-1].Rendered = ""
}

// View renders all messages.
func (m *MessageListModel) View() string {
	if len(m.Messages) == 0 {
		return theme.TextMuted.Render("  Describe an image to create, or /upload one to edit. /help lists commands.")
	}

	contentWidth := ContentWidth(m.width)

	var sb strings.Builder
	if indicator := m.TrimmedIndicator(); indicator != "" {
		sb.WriteString(theme.TextMuted.Render("  "+indicator) + "\n\n")
	}
	for i := range m.Messages {
		msg := &m.Messages[i]
		if i > 0 {
			sb.WriteString("\n")
		}
		sb.WriteString(m.renderMessage(msg, contentWidth))
	}
	return sb.String()
}

func (m *MessageListModel) renderMessage(msg *ChatMessage, width int) string {
	label := roleLabel(msg.Role, msg.Number)
	header := label + " " + theme.Timestamp.Render(RelativeTime(msg.Timestamp))
	headerWidth := lipgloss.Width(header)

	var body string
	switch msg.Role {
	case RoleAssistant:
		if msg.Rendered == "" {
			msg.Rendered = m.renderMarkdown(msg.Content, width)
		}
		body = strings.TrimSpace(msg.Rendered)
	case RoleError:
		body = theme.TextError.Render(wrapText(msg.Content, width-2))
	case RoleNotice:
		body = theme.TextMuted.Render(wrapText(msg.Content, width-headerWidth-2))
	default:
		inlineW := width - headerWidth - 2
		if inlineW < 20 {
			inlineW = width - 2
		}
		body = wrapText(msg.Content, inlineW)
	}

	images := renderImages(msg.Images, width)

	var result string
	switch {
	case body == "":
		result = header
	case width-headerWidth-2 < 20:
		result = header + "\n  " + body
	default:
		lines := strings.SplitN(body, "\n", 2)
		result = header + "  " + strings.TrimSpace(lines[0])
		if len(lines) > 1 {
			result += "\n" + lines[1]
		}
	}
	if images != "" {
		result += "\n" + images
	}
	return result
}

// renderImages lists attached images one per line, truncating long locators.
func renderImages(images []ImageLine, width int) string {
	if len(images) == 0 {
		return ""
	}
	maxURL := width - 24
	if maxURL < 16 {
		maxURL = 16
	}
	var lines []string
	for _, img := range images {
		caption := img.Caption
		if caption == "" {
			caption = "image"
		}
		url := img.URL
		if strings.HasPrefix(url, "data:") {
			url = "inline data"
		} else if len(url) > maxURL {
			url = url[:maxURL-1] + theme.SymbolEllipsis
		}
		style := theme.Dim
		if img.Output {
			style = theme.ImageLine
		}
		lines = append(lines, "  "+style.Render(theme.SymbolImage+" "+caption)+" "+theme.TextMuted.Render(url))
	}
	return strings.Join(lines, "\n")
}

func roleLabel(role MessageRole, number int) string {
	switch role {
	case RoleUser:
		label := theme.SymbolUser
		if number > 0 {
			label = fmt.Sprintf("%s #%d", label, number)
		}
		return theme.UserLabel.Render(label)
	case RoleAssistant:
		return theme.BotLabel.Render(theme.SymbolBot)
	case RoleSystem:
		return theme.SystemLabel.Render("System")
	case RoleNotice:
		return theme.NoticeLabel.Render(theme.SymbolInfo)
	case RoleGuidance:
		return theme.NoticeLabel.Render(theme.SymbolWarning + " Tip")
	case RoleError:
		return theme.ErrorLabel.Render(theme.SymbolError + " Error")
	default:
		return theme.TextMuted.Render(string(role))
	}
}

func (m *MessageListModel) renderMarkdown(content string, width int) string {
	if m.mdRenderer == nil {
		r, err := glamour.NewTermRenderer(
			glamour.WithAutoStyle(),
			glamour.WithWordWrap(width),
		)
		if err != nil {
			return "  " + content
		}
		m.mdRenderer = r
	}
	rendered, err := m.mdRenderer.Render(content)
	if err != nil {
		return "  " + content
	}
	return rendered
}

// RelativeTime returns a short relative time.
func RelativeTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	d := time.Since(t)
	switch {
	case d < time.Minute:
		return "just now"
	case d < time.Hour:
		return fmt.Sprintf("%dm ago", int(d.Minutes()))
	case d < 24*time.Hour:
		return fmt.Sprintf("%dh ago", int(d.Hours()))
	default:
		return t.Format("Jan 2 15:04")
	}
}

// wrapText wraps s at width runes, indenting continuation lines by two spaces.
func wrapText(s string, width int) string {
	var out []string
	for _, para := range strings.Split(s, "\n") {
		out = append(out, wrapLine(para, width))
	}
	return strings.Join(out, "\n  ")
}

func wrapLine(s string, width int) string {
	runes := []rune(s)
	if width <= 0 || len(runes) <= width {
		return s
	}
	var lines []string
	for len(runes) > width {
		idx := -1
		for i := width - 1; i > 0; i-- {
			if runes[i] == ' ' {
				idx = i
				break
			}
		}
		if idx <= 0 {
			idx = width
		}
		lines = append(lines, string(runes[:idx]))
		runes = runes[idx:]
		for len(runes) > 0 && runes[0] == ' ' {
			runes = runes[1:]
		}
	}
	if len(runes) > 0 {
		lines = append(lines, string(runes))
	}
	return strings.Join(lines, "\n  ")
}

// ContentWidth clamps the terminal width to a readable text column.
func ContentWidth(termWidth int) int {
	w := termWidth - 4
	if w > theme.MaxContentWidth {
		w = theme.MaxContentWidth
	}
	if w < 40 {
		w = 40
	}
	return w
}

// Divider renders a horizontal rule.
func Divider(width int) string {
	return lipgloss.NewStyle().
		Foreground(theme.ColorBorder).
		Render(strings.Repeat("─", width))
}
