package chat

import "time"

// RevealSpeed controls how fast complete assistant replies are typed out.
type RevealSpeed int

const (
	RevealInstant RevealSpeed = iota
	RevealFast
	RevealNormal
)

// String returns the label shown by /speed.
func (s RevealSpeed) String() string {
	switch s {
	case RevealInstant:
		return "instant"
	case RevealFast:
		return "fast"
	case RevealNormal:
		return "normal"
	default:
		return "unknown"
	}
}

// RevealConfig is the chunk size and tick rate for one speed.
type RevealConfig struct {
	Speed     RevealSpeed
	ChunkSize int // runes per tick, 0 for instant
	TickRate  time.Duration
}

// RevealConfigFor returns the preset for s. Unknown speeds use normal.
func RevealConfigFor(s RevealSpeed) RevealConfig {
	switch s {
	case RevealInstant:
		return RevealConfig{Speed: RevealInstant}
	case RevealFast:
		return RevealConfig{Speed: RevealFast, ChunkSize: 32, TickRate: 16 * time.Millisecond}
	default:
		return RevealConfig{Speed: RevealNormal, ChunkSize: 8, TickRate: 16 * time.Millisecond}
	}
}

// NextRevealSpeed cycles normal, fast, instant.
func NextRevealSpeed(current RevealSpeed) RevealSpeed {
	switch current {
	case RevealNormal:
		return RevealFast
	case RevealFast:
		return RevealInstant
	default:
		return RevealNormal
	}
}
