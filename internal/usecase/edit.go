package usecase

import (
	"strings"
	"sync"

	"pixelchat/internal/domain"
)

// EditState is a snapshot of the edit coordinator.
type EditState struct {
	Editing         bool   `json:"editing"`
	MessageID       string `json:"message_id,omitempty"`
	OriginalContent string `json:"original_content,omitempty"`
}

// MessageEditCoordinator tracks at most one pending edit of a user message.
// Starting a new edit while one is pending replaces it.
type MessageEditCoordinator struct {
	mu    sync.Mutex
	conv  *Conversation
	state EditState
}

// NewMessageEditCoordinator creates an idle coordinator over conv.
func NewMessageEditCoordinator(conv *Conversation) *MessageEditCoordinator {
	return &MessageEditCoordinator{conv: conv}
}

// Start enters Editing for the given user message.
func (e *MessageEditCoordinator) Start(id string) (EditState, error) {
	msg, ok := e.conv.Find(id)
	if !ok {
		return EditState{}, domain.NewDomainError("MessageEditCoordinator.Start", domain.ErrMessageNotFound, id)
	}
	if msg.Role != domain.RoleUser {
		return EditState{}, domain.NewDomainError("MessageEditCoordinator.Start", domain.ErrNotEditable, id)
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	e.state = EditState{Editing: true, MessageID: id, OriginalContent: msg.Content}
	return e.state, nil
}

// Cancel discards the pending edit. It reports whether an edit was pending.
func (e *MessageEditCoordinator) Cancel() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	was := e.state.Editing
	e.state = EditState{}
	return was
}

// State returns the current edit state.
func (e *MessageEditCoordinator) State() EditState {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state
}

// Confirm rewrites the pending message, truncates everything after it and
// returns to Idle. The caller re-runs the send pipeline with the returned
// text. Discarded messages are returned for locator cleanup.
func (e *MessageEditCoordinator) Confirm(newText string) (string, []domain.Message, error) {
	e.mu.Lock()
	state := e.state
	e.mu.Unlock()

	if !state.Editing {
		return "", nil, domain.NewDomainError("MessageEditCoordinator.Confirm", domain.ErrNoEditPending, "")
	}
	text := strings.TrimSpace(newText)
	if text == "" {
		return "", nil, domain.NewDomainError("MessageEditCoordinator.Confirm", domain.ErrMissingPrompt, state.MessageID)
	}

	removed, err := e.conv.TruncateAfter(state.MessageID, text)
	if err != nil {
		e.Cancel()
		return "", nil, err
	}

	e.mu.Lock()
	e.state = EditState{}
	e.mu.Unlock()
	return text, removed, nil
}
