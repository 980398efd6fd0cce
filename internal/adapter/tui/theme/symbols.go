package theme

import (
	"os"
	"strings"
)

// SymbolSet is one complete set of UI glyphs.
type SymbolSet struct {
	Success  string
	Error    string
	Warning  string
	Info     string
	ArrowR   string
	Bullet   string
	Ellipsis string
	Image    string
}

var unicodeSymbols = SymbolSet{
	Success:  "✓",
	Error:    "✗",
	Warning:  "⚠",
	Info:     "●",
	ArrowR:   "→",
	Bullet:   "•",
	Ellipsis: "…",
	Image:    "▣",
}

var asciiSymbols = SymbolSet{
	Success:  "[OK]",
	Error:    "[ERR]",
	Warning:  "[!]",
	Info:     "[i]",
	ArrowR:   "->",
	Bullet:   "*",
	Ellipsis: "...",
	Image:    "[img]",
}

// DetectUnicodeSupport reports whether the terminal likely renders UTF-8.
// PIXELCHAT_ASCII_SYMBOLS=1 forces ASCII.
func DetectUnicodeSupport() bool {
	if v := os.Getenv("PIXELCHAT_ASCII_SYMBOLS"); v == "1" || strings.EqualFold(v, "true") {
		return false
	}
	if term := os.Getenv("TERM"); term == "dumb" || term == "linux" {
		return false
	}
	return true
}

// InitSymbols picks the glyph set for the current terminal.
func InitSymbols() {
	set := unicodeSymbols
	if !DetectUnicodeSupport() {
		set = asciiSymbols
	}

	SymbolSuccess = set.Success
	SymbolError = set.Error
	SymbolWarning = set.Warning
	SymbolInfo = set.Info
	SymbolArrowR = set.ArrowR
	SymbolBullet = set.Bullet
	SymbolEllipsis = set.Ellipsis
	SymbolImage = set.Image
}

func init() {
	InitSymbols()
}
