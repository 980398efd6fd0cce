// Package theme holds the colors, symbols and styles of the chat TUI.
// Colors are adaptive so they read on light and dark terminals; lipgloss
// drops them entirely when NO_COLOR is set.
package theme

import (
	"github.com/charmbracelet/lipgloss"
)

var (
	ColorSuccess = lipgloss.AdaptiveColor{Light: "#2e7d32", Dark: "#66bb6a"}
	ColorError   = lipgloss.AdaptiveColor{Light: "#c62828", Dark: "#ef5350"}
	ColorWarning = lipgloss.AdaptiveColor{Light: "#e65100", Dark: "#ffa726"}
	ColorInfo    = lipgloss.AdaptiveColor{Light: "#0277bd", Dark: "#4fc3f7"}
	ColorAccent  = lipgloss.AdaptiveColor{Light: "#f9a825", Dark: "#ffd54f"}
	ColorMuted   = lipgloss.AdaptiveColor{Light: "#757575", Dark: "#9e9e9e"}

	ColorBorder       = lipgloss.AdaptiveColor{Light: "#bdbdbd", Dark: "#616161"}
	ColorBorderActive = lipgloss.AdaptiveColor{Light: "#f9a825", Dark: "#ffd54f"}

	ColorBgAlt = lipgloss.AdaptiveColor{Light: "#f5f5f5", Dark: "#2d2d2d"}
	ColorFgDim = lipgloss.AdaptiveColor{Light: "#9e9e9e", Dark: "#757575"}
)

// Symbol variables are set by InitSymbols. They fall back to ASCII on
// terminals without UTF-8.
var (
	SymbolSuccess  = "✓"
	SymbolError    = "✗"
	SymbolWarning  = "⚠"
	SymbolInfo     = "●"
	SymbolArrowR   = "→"
	SymbolBullet   = "•"
	SymbolEllipsis = "…"
	SymbolImage    = "▣"
	SymbolUser     = "You"
	SymbolBot      = "Banana"
)

var (
	Bold = lipgloss.NewStyle().Bold(true)
	Dim  = lipgloss.NewStyle().Faint(true)

	TextError   = lipgloss.NewStyle().Foreground(ColorError).Bold(true)
	TextWarning = lipgloss.NewStyle().Foreground(ColorWarning).Bold(true)
	TextInfo    = lipgloss.NewStyle().Foreground(ColorInfo)
	TextAccent  = lipgloss.NewStyle().Foreground(ColorAccent)
	TextMuted   = lipgloss.NewStyle().Foreground(ColorMuted)
)

// Message role styles.
var (
	UserLabel = lipgloss.NewStyle().
			Foreground(ColorInfo).
			Bold(true)

	BotLabel = lipgloss.NewStyle().
			Foreground(ColorAccent).
			Bold(true)

	SystemLabel = lipgloss.NewStyle().
			Foreground(ColorMuted).
			Bold(true)

	NoticeLabel = lipgloss.NewStyle().
			Foreground(ColorWarning).
			Bold(true)

	ErrorLabel = lipgloss.NewStyle().
			Foreground(ColorError).
			Bold(true)

	Timestamp = lipgloss.NewStyle().
			Foreground(ColorFgDim).
			Faint(true)

	ImageLine = lipgloss.NewStyle().
			Foreground(ColorAccent)
)

var (
	StatusBar = lipgloss.NewStyle().
			Foreground(ColorFgDim).
			Background(ColorBgAlt).
			Padding(0, 1)

	StatusKey = lipgloss.NewStyle().
			Foreground(ColorInfo).
			Bold(true)

	ModeCreate = lipgloss.NewStyle().
			Foreground(ColorSuccess).
			Bold(true)

	ModeEdit = lipgloss.NewStyle().
			Foreground(ColorWarning).
			Bold(true)
)

var (
	InputPrompt = lipgloss.NewStyle().
			Foreground(ColorAccent).
			Bold(true)

	InputPlaceholder = lipgloss.NewStyle().
				Foreground(ColorFgDim)
)

// MaxContentWidth is the widest text column the message list renders.
const MaxContentWidth = 100

// MinSplitWidth is the narrowest terminal that shows the pool pane.
const MinSplitWidth = 90
