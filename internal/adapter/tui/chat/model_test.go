package chat

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"pixelchat/internal/adapter/tui/components"
	"pixelchat/internal/domain"
	"pixelchat/internal/usecase"
)

type fakeSession struct {
	mu        sync.Mutex
	observer  func(domain.Message)
	messages  []domain.Message
	mode      domain.GenerationMode
	edit      usecase.EditState
	pool      usecase.PoolSnapshot
	sendFn    func(ctx context.Context, text string) (domain.GenerationOutcome, error)
	uploaded  []domain.ImageFile
	designate domain.UploadDesignation
	analyzed  *domain.ImageFile
	question  string
	cleared   []string
	resets    int
	busy      bool
}

func newFakeSession() *fakeSession {
	return &fakeSession{mode: domain.ModeCreate}
}

func (f *fakeSession) SetObserver(fn func(domain.Message)) { f.observer = fn }

func (f *fakeSession) Messages() []domain.Message {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]domain.Message(nil), f.messages...)
}

func (f *fakeSession) RetryAttempt() int                  { return 0 }
func (f *fakeSession) PoolSnapshot() usecase.PoolSnapshot { return f.pool }
func (f *fakeSession) Mode() domain.GenerationMode        { return f.mode }
func (f *fakeSession) EditState() usecase.EditState       { return f.edit }

func (f *fakeSession) SwitchMode(mode domain.GenerationMode) error {
	f.mode = mode
	return nil
}

func (f *fakeSession) Send(ctx context.Context, text string) (domain.GenerationOutcome, error) {
	if f.sendFn != nil {
		return f.sendFn(ctx, text)
	}
	return domain.GenerationOutcome{Succeeded: true}, nil
}

func (f *fakeSession) StartEdit(id string) (usecase.EditState, error) {
	for _, m := range f.messages {
		if m.ID == id {
			f.edit = usecase.EditState{Editing: true, MessageID: id, OriginalContent: m.Content}
			return f.edit, nil
		}
	}
	return usecase.EditState{}, domain.ErrMessageNotFound
}

func (f *fakeSession) CancelEdit() bool {
	was := f.edit.Editing
	f.edit = usecase.EditState{}
	return was
}

func (f *fakeSession) AnalyzeImage(_ context.Context, file *domain.ImageFile, question string) (string, error) {
	f.analyzed = file
	f.question = question
	return "a cat", nil
}

func (f *fakeSession) Ask(_ context.Context, _ string, onChunk func(string)) (string, error) {
	onChunk("Hel")
	onChunk("lo")
	return "Hello", nil
}

func (f *fakeSession) RegisterUpload(_ context.Context, files []domain.ImageFile, d domain.UploadDesignation) ([]usecase.UploadRejection, error) {
	if f.busy {
		return nil, domain.ErrRequestInFlight
	}
	f.uploaded = append(f.uploaded, files...)
	f.designate = d
	return nil, nil
}

func (f *fakeSession) clear(scope string) error {
	if f.busy {
		return domain.ErrRequestInFlight
	}
	f.cleared = append(f.cleared, scope)
	return nil
}

func (f *fakeSession) ClearTransient() error  { return f.clear("transient") }
func (f *fakeSession) ClearPersistent() error { return f.clear("persistent") }

func (f *fakeSession) Reset() error {
	f.resets++
	f.messages = nil
	return nil
}

func newTestModel(t *testing.T, s *fakeSession) (*Model, *[]tea.Msg) {
	t.Helper()
	var notified []tea.Msg
	m := NewModel(ModelDeps{
		Session: s,
		Notify:  func(msg tea.Msg) { notified = append(notified, msg) },
		ReadImage: func(path string) (domain.ImageFile, error) {
			if path == "missing.png" {
				return domain.ImageFile{}, errors.New("open missing.png: no such file or directory")
			}
			return domain.ImageFile{Name: filepath.Base(path), ContentType: "image/png", Size: 3, Data: []byte{1, 2, 3}}, nil
		},
		Logger: slog.New(slog.NewTextHandler(io.Discard, nil)),
	})
	m.Update(tea.WindowSizeMsg{Width: 120, Height: 40})
	m.revealCfg = RevealConfigFor(RevealInstant)
	return m, &notified
}

func submit(t *testing.T, m *Model, value string) tea.Cmd {
	t.Helper()
	_, cmd := m.Update(components.InputSubmitMsg{Value: value})
	return cmd
}

// run executes cmd and feeds its message back into the model.
func run(t *testing.T, m *Model, cmd tea.Cmd) tea.Msg {
	t.Helper()
	require.NotNil(t, cmd)
	msg := cmd()
	m.Update(msg)
	return msg
}

func lastMessage(m *Model) components.ChatMessage {
	msgs := m.chatView.Messages.Messages
	return msgs[len(msgs)-1]
}

func TestSendBlocksInputUntilDone(t *testing.T) {
	s := newFakeSession()
	m, _ := newTestModel(t, s)

	cmd := submit(t, m, "a red fox")
	assert.True(t, m.waiting)
	assert.False(t, m.input.Enabled)

	msg := run(t, m, cmd)
	done, ok := msg.(OpDoneMsg)
	require.True(t, ok)
	assert.Equal(t, "send", done.Op)
	assert.False(t, m.waiting)
	assert.True(t, m.input.Enabled)
}

func TestAppendedMessagesAreRendered(t *testing.T) {
	s := newFakeSession()
	m, _ := newTestModel(t, s)

	m.Update(AppendedMsg{Message: domain.Message{ID: "1", Role: domain.RoleUser, Content: "a fox", Kind: domain.KindText}})
	m.Update(AppendedMsg{Message: domain.Message{
		ID: "2", Role: domain.RoleAssistant, Content: "Here you go", Kind: domain.KindImage,
		Images: []domain.ImageRef{{URL: "https://cdn.example/fox.png", Kind: domain.ImageOutput, Caption: "Generated image"}},
	}})
	m.Update(AppendedMsg{Message: domain.Message{ID: "3", Role: domain.RoleAssistant, Content: "Retrying (2/3)...", Kind: domain.KindNotice}})

	msgs := m.chatView.Messages.Messages
	require.Len(t, msgs, 3)
	assert.Equal(t, components.RoleUser, msgs[0].Role)
	assert.Equal(t, 1, msgs[0].Number)
	assert.Equal(t, components.RoleAssistant, msgs[1].Role)
	require.Len(t, msgs[1].Images, 1)
	assert.True(t, msgs[1].Images[0].Output)
	assert.Equal(t, components.RoleNotice, msgs[2].Role)
}

func TestCanceledErrorIsQuiet(t *testing.T) {
	s := newFakeSession()
	s.sendFn = func(context.Context, string) (domain.GenerationOutcome, error) {
		return domain.GenerationOutcome{}, context.Canceled
	}
	m, _ := newTestModel(t, s)

	before := m.chatView.Len()
	run(t, m, submit(t, m, "x"))
	assert.Equal(t, before, m.chatView.Len())
}

func TestUnsurfacedErrorIsHumanized(t *testing.T) {
	s := newFakeSession()
	s.sendFn = func(context.Context, string) (domain.GenerationOutcome, error) {
		return domain.GenerationOutcome{}, domain.ErrRequestInFlight
	}
	m, _ := newTestModel(t, s)

	run(t, m, submit(t, m, "x"))
	last := lastMessage(m)
	assert.Equal(t, components.RoleError, last.Role)
	assert.Contains(t, last.Content, "Busy")
}

func TestCancelDropsStaleCompletion(t *testing.T) {
	s := newFakeSession()
	release := make(chan struct{})
	s.sendFn = func(ctx context.Context, _ string) (domain.GenerationOutcome, error) {
		<-release
		return domain.GenerationOutcome{}, ctx.Err()
	}
	m, _ := newTestModel(t, s)

	cmd := submit(t, m, "slow")
	m.Update(tea.KeyMsg{Type: tea.KeyCtrlC})
	assert.False(t, m.waiting)
	assert.Equal(t, "Request cancelled.", lastMessage(m).Content)

	close(release)
	count := m.chatView.Len()
	run(t, m, cmd)
	assert.Equal(t, count, m.chatView.Len())
}

func TestAskStreamsChunks(t *testing.T) {
	s := newFakeSession()
	m, notified := newTestModel(t, s)

	cmd := submit(t, m, "/ask hello there")
	run(t, m, cmd)
	require.Len(t, *notified, 2)

	// Replay the chunks as the program would, before a fresh request.
	m.waiting = true
	for _, msg := range *notified {
		m.Update(msg)
	}
	assert.Equal(t, "Hello", lastMessage(m).Content)

	m.Update(AppendedMsg{Message: domain.Message{ID: "r", Role: domain.RoleAssistant, Content: "Hello!", Kind: domain.KindText}})
	assert.Equal(t, "Hello!", lastMessage(m).Content)
	assert.False(t, m.live)
}

func TestStaleChunksIgnored(t *testing.T) {
	s := newFakeSession()
	m, _ := newTestModel(t, s)
	count := m.chatView.Len()

	m.Update(ChunkMsg{Text: "late", Gen: 99})
	assert.Equal(t, count, m.chatView.Len())
}

func TestUploadCommands(t *testing.T) {
	s := newFakeSession()
	m, _ := newTestModel(t, s)

	run(t, m, submit(t, m, `/upload cat.png "my dog.jpg"`))
	require.Len(t, s.uploaded, 2)
	assert.Equal(t, "my dog.jpg", s.uploaded[1].Name)
	assert.Equal(t, domain.DesignationPrimary, s.designate)
	assert.Contains(t, lastMessage(m).Content, "Added 2 image(s)")

	run(t, m, submit(t, m, "/ref style.png missing.png"))
	assert.Equal(t, domain.DesignationReference, s.designate)
	assert.Contains(t, lastMessage(m).Content, "Added 1 reference(s)")
	assert.Contains(t, lastMessage(m).Content, "no such file")
}

func TestUploadWithoutPaths(t *testing.T) {
	m, _ := newTestModel(t, newFakeSession())
	cmd := submit(t, m, "/upload")
	assert.Nil(t, cmd)
	assert.Contains(t, lastMessage(m).Content, "Usage: /upload")
}

func TestAnalyzePathAndQuestion(t *testing.T) {
	s := newFakeSession()
	m, _ := newTestModel(t, s)

	run(t, m, submit(t, m, "/analyze cat.png what breed is it?"))
	require.NotNil(t, s.analyzed)
	assert.Equal(t, "cat.png", s.analyzed.Name)
	assert.Equal(t, "what breed is it?", s.question)

	run(t, m, submit(t, m, "/analyze describe the lighting"))
	assert.Nil(t, s.analyzed)
	assert.Equal(t, "describe the lighting", s.question)
}

func TestModeCommand(t *testing.T) {
	s := newFakeSession()
	m, _ := newTestModel(t, s)

	submit(t, m, "/mode")
	assert.Equal(t, domain.ModeEdit, s.mode)
	assert.Equal(t, "edit", m.statusBar.Mode)

	submit(t, m, "/mode create")
	assert.Equal(t, domain.ModeCreate, s.mode)

	submit(t, m, "/mode paint")
	assert.Contains(t, lastMessage(m).Content, "unknown mode")
}

func TestEditFlow(t *testing.T) {
	s := newFakeSession()
	s.messages = []domain.Message{
		{ID: "u1", Role: domain.RoleUser, Content: "a cat"},
		{ID: "a1", Role: domain.RoleAssistant, Content: "done"},
		{ID: "u2", Role: domain.RoleUser, Content: "a dog"},
	}
	m, _ := newTestModel(t, s)
	m.rebuild()

	submit(t, m, "/edit 1")
	assert.Equal(t, "u1", s.edit.MessageID)
	assert.Equal(t, "a cat", m.input.Value())
	assert.True(t, m.statusBar.Editing)

	s.sendFn = func(context.Context, string) (domain.GenerationOutcome, error) {
		s.messages = s.messages[:1]
		s.messages[0].Content = "a tiger"
		s.edit = usecase.EditState{}
		return domain.GenerationOutcome{Succeeded: true}, nil
	}
	msg := run(t, m, submit(t, m, "a tiger"))
	assert.True(t, msg.(OpDoneMsg).Rebuild)
	require.Equal(t, 1, m.chatView.Len())
	assert.Equal(t, "a tiger", m.chatView.Messages.Messages[0].Content)
}

func TestEditOutOfRange(t *testing.T) {
	s := newFakeSession()
	s.messages = []domain.Message{{ID: "u1", Role: domain.RoleUser, Content: "a cat"}}
	m, _ := newTestModel(t, s)

	submit(t, m, "/edit 5")
	assert.False(t, s.edit.Editing)
	assert.Contains(t, lastMessage(m).Content, "between 1 and 1")
}

func TestCancelPendingEditWithEsc(t *testing.T) {
	s := newFakeSession()
	s.messages = []domain.Message{{ID: "u1", Role: domain.RoleUser, Content: "a cat"}}
	m, _ := newTestModel(t, s)

	submit(t, m, "/edit")
	require.True(t, s.edit.Editing)
	m.Update(tea.KeyMsg{Type: tea.KeyEsc})
	assert.False(t, s.edit.Editing)
	assert.Equal(t, "Edit cancelled.", lastMessage(m).Content)
}

func TestClearAndReset(t *testing.T) {
	s := newFakeSession()
	s.messages = []domain.Message{{ID: "u1", Role: domain.RoleUser, Content: "a cat"}}
	m, _ := newTestModel(t, s)

	submit(t, m, "/clear")
	submit(t, m, "/clear-persistent")
	assert.Equal(t, []string{"transient", "persistent"}, s.cleared)

	submit(t, m, "/reset")
	assert.Equal(t, 1, s.resets)
	assert.Equal(t, 1, m.chatView.Len())
	assert.Contains(t, lastMessage(m).Content, "New conversation")
}

func TestClearReportsBusySession(t *testing.T) {
	s := newFakeSession()
	s.busy = true
	m, _ := newTestModel(t, s)

	submit(t, m, "/clear")
	assert.Empty(t, s.cleared)
	assert.Equal(t, components.RoleError, lastMessage(m).Role)
	assert.Contains(t, lastMessage(m).Content, "Busy")
}

func TestCommandsRefusedWhileWaiting(t *testing.T) {
	s := newFakeSession()
	s.sendFn = func(context.Context, string) (domain.GenerationOutcome, error) {
		return domain.GenerationOutcome{}, nil
	}
	m, _ := newTestModel(t, s)

	submit(t, m, "busy")
	require.True(t, m.waiting)
	submit(t, m, "/reset")
	assert.Equal(t, 0, s.resets)
	assert.Contains(t, lastMessage(m).Content, "A request is running")
}

func TestRevealTypesOutReplies(t *testing.T) {
	s := newFakeSession()
	m, _ := newTestModel(t, s)
	m.revealCfg = RevealConfig{Speed: RevealFast, ChunkSize: 4, TickRate: time.Millisecond}

	cmd := m.handleAppended(domain.Message{ID: "x", Role: domain.RoleAssistant, Content: "abcdefghij", Kind: domain.KindText})
	require.NotNil(t, cmd)
	assert.Equal(t, "", lastMessage(m).Content)

	m.Update(RevealTickMsg{})
	assert.Equal(t, "abcd", lastMessage(m).Content)

	// A new message flushes the rest.
	m.Update(AppendedMsg{Message: domain.Message{ID: "y", Role: domain.RoleUser, Content: "next"}})
	assert.Equal(t, "abcdefghij", m.chatView.Messages.Messages[m.chatView.Len()-2].Content)
}

func TestUnknownCommand(t *testing.T) {
	m, _ := newTestModel(t, newFakeSession())
	submit(t, m, "/bogus")
	assert.Contains(t, lastMessage(m).Content, "Unknown command: /bogus")
}

func TestLoadImageFile(t *testing.T) {
	dir := t.TempDir()
	png := []byte("\x89PNG\r\n\x1a\n0000")
	path := filepath.Join(dir, "pic.png")
	require.NoError(t, os.WriteFile(path, png, 0o600))

	f, err := LoadImageFile(path)
	require.NoError(t, err)
	assert.Equal(t, "pic.png", f.Name)
	assert.Equal(t, "image/png", f.ContentType)
	assert.Equal(t, int64(len(png)), f.Size)

	noExt := filepath.Join(dir, "pic")
	require.NoError(t, os.WriteFile(noExt, png, 0o600))
	f, err = LoadImageFile(noExt)
	require.NoError(t, err)
	assert.Equal(t, "image/png", f.ContentType)

	_, err = LoadImageFile(dir)
	assert.Error(t, err)
	_, err = LoadImageFile(filepath.Join(dir, "nope.png"))
	assert.Error(t, err)
}

func TestSplitArgs(t *testing.T) {
	tests := []struct {
		in   string
		want []string
	}{
		{"", nil},
		{"a b", []string{"a", "b"}},
		{`"my file.png" b.png`, []string{"my file.png", "b.png"}},
		{"  spaced\tout  ", []string{"spaced", "out"}},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, splitArgs(tt.in), tt.in)
	}
}

func TestIsMouseEscapeLeak(t *testing.T) {
	assert.True(t, isMouseEscapeLeak("<65;38;21M"))
	assert.True(t, isMouseEscapeLeak("[M"))
	assert.True(t, isMouseEscapeLeak("[65;38;21M"))
	assert.False(t, isMouseEscapeLeak("hello"))
	assert.False(t, isMouseEscapeLeak("<ab;cdM"))
}

func TestNextRevealSpeed(t *testing.T) {
	assert.Equal(t, RevealFast, NextRevealSpeed(RevealNormal))
	assert.Equal(t, RevealInstant, NextRevealSpeed(RevealFast))
	assert.Equal(t, RevealNormal, NextRevealSpeed(RevealInstant))
}
