// Package chat is the Bubble Tea front end of a chat session.
package chat

import (
	"pixelchat/internal/domain"
	"pixelchat/internal/usecase"
)

// AppendedMsg carries a message the session appended to the conversation.
type AppendedMsg struct {
	Message domain.Message
}

// ChunkMsg is a fragment of a streaming text reply. Gen ties it to the
// request that produced it.
type ChunkMsg struct {
	Text string
	Gen  uint64
}

// OpDoneMsg reports that a background session operation finished. Gen is
// zero for operations that did not block input.
type OpDoneMsg struct {
	Op      string
	Gen     uint64
	Err     error
	Note    string
	Rebuild bool
	Edit    *usecase.EditState
}

// RevealTickMsg advances the typed-out reveal of a reply.
type RevealTickMsg struct{}

// QuitMsg asks the program to exit.
type QuitMsg struct{}
