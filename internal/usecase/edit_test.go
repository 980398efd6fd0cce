package usecase

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"pixelchat/internal/domain"
)

func TestEditCoordinatorLifecycle(t *testing.T) {
	conv := NewConversation()
	u := conv.Append(domain.RoleUser, "a cat", domain.KindText)
	conv.Append(domain.RoleAssistant, "", domain.KindImage)

	e := NewMessageEditCoordinator(conv)
	assert.False(t, e.State().Editing)

	st, err := e.Start(u.ID)
	require.NoError(t, err)
	assert.True(t, st.Editing)
	assert.Equal(t, "a cat", st.OriginalContent)

	text, removed, err := e.Confirm("a dog ")
	require.NoError(t, err)
	assert.Equal(t, "a dog", text)
	assert.Len(t, removed, 1)
	assert.False(t, e.State().Editing)

	msgs := conv.Messages()
	require.Len(t, msgs, 1)
	assert.Equal(t, "a dog", msgs[0].Content)
}

func TestEditCoordinatorCancelLeavesConversation(t *testing.T) {
	conv := NewConversation()
	u := conv.Append(domain.RoleUser, "a cat", domain.KindText)
	conv.Append(domain.RoleAssistant, "reply", domain.KindText)

	e := NewMessageEditCoordinator(conv)
	_, err := e.Start(u.ID)
	require.NoError(t, err)

	assert.True(t, e.Cancel())
	assert.False(t, e.Cancel())
	assert.Equal(t, 2, conv.Len())

	_, _, err = e.Confirm("x")
	assert.ErrorIs(t, err, domain.ErrNoEditPending)
}

func TestEditCoordinatorRejectsAssistantAndUnknown(t *testing.T) {
	conv := NewConversation()
	a := conv.Append(domain.RoleAssistant, "hi", domain.KindText)
	e := NewMessageEditCoordinator(conv)

	_, err := e.Start(a.ID)
	assert.ErrorIs(t, err, domain.ErrNotEditable)

	_, err = e.Start("nope")
	assert.ErrorIs(t, err, domain.ErrMessageNotFound)
}

func TestEditCoordinatorNewEditReplacesPending(t *testing.T) {
	conv := NewConversation()
	first := conv.Append(domain.RoleUser, "one", domain.KindText)
	second := conv.Append(domain.RoleUser, "two", domain.KindText)
	e := NewMessageEditCoordinator(conv)

	_, err := e.Start(first.ID)
	require.NoError(t, err)
	_, err = e.Start(second.ID)
	require.NoError(t, err)
	assert.Equal(t, second.ID, e.State().MessageID)

	_, _, err = e.Confirm("two edited")
	require.NoError(t, err)
	assert.Equal(t, "one", conv.Messages()[0].Content)
}

func TestEditCoordinatorEmptyConfirmKeepsEditing(t *testing.T) {
	conv := NewConversation()
	u := conv.Append(domain.RoleUser, "one", domain.KindText)
	e := NewMessageEditCoordinator(conv)
	_, _ = e.Start(u.ID)

	_, _, err := e.Confirm("  ")
	assert.ErrorIs(t, err, domain.ErrMissingPrompt)
	assert.True(t, e.State().Editing)
}
