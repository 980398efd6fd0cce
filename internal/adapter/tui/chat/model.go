package chat

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"

	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"pixelchat/internal/adapter/tui/components"
	"pixelchat/internal/adapter/tui/theme"
	"pixelchat/internal/adapter/tui/uxerror"
	"pixelchat/internal/domain"
	"pixelchat/internal/usecase"
)

// Session is the part of *usecase.ChatSession the TUI drives.
type Session interface {
	SetObserver(fn func(domain.Message))
	Messages() []domain.Message
	RetryAttempt() int
	PoolSnapshot() usecase.PoolSnapshot
	Mode() domain.GenerationMode
	EditState() usecase.EditState
	SwitchMode(mode domain.GenerationMode) error
	Send(ctx context.Context, text string) (domain.GenerationOutcome, error)
	StartEdit(id string) (usecase.EditState, error)
	CancelEdit() bool
	AnalyzeImage(ctx context.Context, file *domain.ImageFile, question string) (string, error)
	Ask(ctx context.Context, text string, onChunk func(string)) (string, error)
	RegisterUpload(ctx context.Context, files []domain.ImageFile, designation domain.UploadDesignation) ([]usecase.UploadRejection, error)
	ClearTransient() error
	ClearPersistent() error
	Reset() error
}

// ModelDeps are the chat model's collaborators.
type ModelDeps struct {
	Session Session
	// Notify delivers messages produced off the update loop (streamed
	// chunks). Nil drops them.
	Notify    func(tea.Msg)
	ReadImage func(path string) (domain.ImageFile, error)
	Logger    *slog.Logger
	ModelName string
}

var commandDefs = []components.CommandDef{
	{Name: "/upload", Args: "<path>...", Description: "Set the main image (extra files become references)"},
	{Name: "/ref", Args: "<path>...", Description: "Add reference images"},
	{Name: "/mode", Args: "[create|edit]", Description: "Switch or toggle generation mode"},
	{Name: "/analyze", Args: "[path] [question]", Description: "Describe an image (main image if no path)"},
	{Name: "/ask", Args: "<text>", Description: "Text-only chat with the assistant"},
	{Name: "/edit", Args: "[n]", Description: "Edit your message #n (default: last)"},
	{Name: "/cancel", Description: "Cancel the running request or pending edit"},
	{Name: "/pool", Description: "List the images the next request can use"},
	{Name: "/clear", Description: "Drop main image, references and last result"},
	{Name: "/clear-persistent", Description: "Drop persistent references"},
	{Name: "/reset", Description: "Start a new conversation"},
	{Name: "/speed", Description: "Cycle reply reveal speed"},
	{Name: "/help", Description: "Show commands and keys"},
	{Name: "/quit", Description: "Exit"},
}

// Model is the root Bubble Tea model.
type Model struct {
	deps ModelDeps

	chatView  components.ChatViewModel
	poolPane  components.PoolPaneModel
	split     components.SplitPaneModel
	input     components.InputAreaModel
	statusBar components.StatusBarModel
	spinner   spinner.Model

	width    int
	height   int
	quitting bool

	// gen identifies the request that currently blocks input. Stale
	// completions and chunks carry an older gen and are dropped.
	waiting  bool
	gen      uint64
	cancelFn context.CancelFunc

	userTurns int

	live    bool
	liveBuf strings.Builder

	revealCfg RevealConfig
	revealing bool
	revealBuf []rune
	revealPos int
}

// NewModel creates the chat model.
func NewModel(deps ModelDeps) *Model {
	if deps.ReadImage == nil {
		deps.ReadImage = LoadImageFile
	}
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}

	s := spinner.New()
	s.Spinner = spinner.Dot
	s.Style = lipgloss.NewStyle().Foreground(theme.ColorAccent)

	chatView := components.NewChatView()
	chatView.SetMaxMessages(1000)

	input := components.NewInputArea()
	input.Autocomplete = components.NewAutocomplete(commandDefs)

	sb := components.NewStatusBar()
	sb.ModelName = deps.ModelName
	sb.Hints = defaultHints()

	m := &Model{
		deps:      deps,
		chatView:  chatView,
		poolPane:  components.NewPoolPane(),
		split:     components.NewSplitPane(0.7),
		input:     input,
		statusBar: sb,
		spinner:   s,
		revealCfg: RevealConfigFor(RevealNormal),
	}
	m.rebuild()
	return m
}

// Init starts the spinner.
func (m *Model) Init() tea.Cmd {
	return m.spinner.Tick
}

// Update handles all incoming messages.
func (m *Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	var cmds []tea.Cmd

	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		m.layout()
		return m, nil

	case tea.KeyMsg:
		return m.handleKey(msg)

	case components.InputSubmitMsg:
		return m.handleSubmit(msg.Value)

	case AppendedMsg:
		return m, m.handleAppended(msg.Message)

	case ChunkMsg:
		if msg.Gen == m.gen && m.waiting {
			m.handleChunk(msg.Text)
		}
		return m, nil

	case OpDoneMsg:
		return m, m.handleDone(msg)

	case RevealTickMsg:
		return m, m.handleRevealTick()

	case QuitMsg:
		m.quitting = true
		return m, tea.Quit

	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		if m.waiting {
			m.statusBar.Extra = m.activity()
		}
		return m, cmd
	}

	if !m.waiting {
		if _, isMouse := msg.(tea.MouseMsg); !isMouse {
			var cmd tea.Cmd
			m.input, cmd = m.input.Update(msg)
			cmds = append(cmds, cmd)
		}
	}

	var cmd tea.Cmd
	m.chatView, cmd = m.chatView.Update(msg)
	cmds = append(cmds, cmd)
	if m.split.Visible {
		m.poolPane, cmd = m.poolPane.Update(msg)
		cmds = append(cmds, cmd)
	}
	return m, tea.Batch(cmds...)
}

// View renders the UI.
func (m *Model) View() string {
	if m.quitting {
		return "Bye!\n"
	}
	if m.width == 0 {
		return "  Initializing..."
	}

	main := m.chatView.View()
	if m.split.Visible {
		main = m.split.Render(main, m.poolPane.View())
	}

	inputView := m.input.View()
	if m.waiting {
		inputView = lipgloss.NewStyle().Faint(true).Render("> working... (Ctrl+C to cancel)") +
			"\n" + m.spinner.View() + " " + m.statusBar.Extra
	}

	return lipgloss.JoinVertical(lipgloss.Left,
		main,
		components.Divider(m.width),
		inputView,
		m.statusBar.View(),
	)
}

func (m *Model) layout() {
	const inputH, statusH, dividerH = 3, 1, 1
	contentH := max(m.height-inputH-statusH-dividerH, 5)

	m.statusBar.SetWidth(m.width)
	m.split.SetSize(m.width, contentH)
	m.chatView.SetSize(m.split.LeftWidth(), contentH)
	m.input.SetWidth(m.width)
	if m.split.Visible {
		m.poolPane.SetSize(m.split.RightWidth(), contentH-1)
	}
}

// isMouseEscapeLeak detects mouse reports some terminals deliver as key
// input while cell motion tracking is on (SGR "<65;38;21M", X11 "[M",
// URXVT "[65;38;21M").
func isMouseEscapeLeak(s string) bool {
	digitsAndSemis := func(body string) bool {
		for _, r := range body {
			if r != ';' && (r < '0' || r > '9') {
				return false
			}
		}
		return true
	}
	if len(s) >= 5 && s[0] == '<' && (s[len(s)-1] == 'M' || s[len(s)-1] == 'm') {
		return digitsAndSemis(s[1 : len(s)-1])
	}
	if len(s) >= 2 && s[0] == '[' && (s[1] == 'M' || s[1] == 'm') {
		return true
	}
	if len(s) >= 5 && s[0] == '[' && s[len(s)-1] == 'M' {
		return digitsAndSemis(s[1 : len(s)-1])
	}
	return false
}

func (m *Model) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	if isMouseEscapeLeak(msg.String()) {
		return m, nil
	}

	switch msg.Type {
	case tea.KeyCtrlC:
		if m.waiting {
			m.cancelRequest()
			return m, nil
		}
		m.quitting = true
		return m, tea.Quit

	case tea.KeyCtrlT:
		if m.split.Toggle() {
			m.refreshPool()
		}
		m.layout()
		return m, nil

	case tea.KeyCtrlE:
		if !m.waiting {
			return m.handleSlashCommand("/mode", "")
		}
		return m, nil

	case tea.KeyEsc:
		if !m.waiting && !m.input.Autocomplete.Visible && m.deps.Session.EditState().Editing {
			return m.handleSlashCommand("/cancel", "")
		}

	case tea.KeyPgUp, tea.KeyPgDown:
		var cmd tea.Cmd
		m.chatView, cmd = m.chatView.Update(msg)
		return m, cmd
	}

	if m.waiting {
		var cmd tea.Cmd
		m.chatView, cmd = m.chatView.Update(msg)
		return m, cmd
	}
	var cmd tea.Cmd
	m.input, cmd = m.input.Update(msg)
	return m, cmd
}

func (m *Model) handleSubmit(value string) (tea.Model, tea.Cmd) {
	if cmd, rest, ok := components.ParseSlashCommand(value); ok {
		return m.handleSlashCommand(cmd, rest)
	}
	if m.waiting {
		return m, nil
	}

	editing := m.deps.Session.EditState().Editing
	session := m.deps.Session
	return m, m.startOp("send", func(ctx context.Context) OpDoneMsg {
		_, err := session.Send(ctx, value)
		return OpDoneMsg{Err: err, Rebuild: editing}
	})
}

// startOp blocks input and runs fn in the background.
func (m *Model) startOp(op string, fn func(ctx context.Context) OpDoneMsg) tea.Cmd {
	if m.cancelFn != nil {
		m.cancelFn()
	}
	m.gen++
	ctx, cancel := context.WithCancel(context.Background())
	m.cancelFn = cancel

	m.waiting = true
	m.live = false
	m.liveBuf.Reset()
	m.input.SetEnabled(false)
	m.statusBar.Extra = m.activity()
	m.deps.Logger.Debug("tui request started", "op", op, "gen", m.gen)
	return opCmd(ctx, op, m.gen, fn)
}

func (m *Model) activity() string {
	if attempt := m.deps.Session.RetryAttempt(); attempt > 1 {
		return fmt.Sprintf("Retrying (%d/%d)...", attempt, usecase.MaxGenerationAttempts)
	}
	return "Working..."
}

func (m *Model) finishWaiting() {
	if m.cancelFn != nil {
		m.cancelFn()
		m.cancelFn = nil
	}
	m.waiting = false
	m.live = false
	m.liveBuf.Reset()
	m.input.SetEnabled(true)
	m.statusBar.Extra = ""
}

// cancelRequest abandons the running request. Its completion is ignored.
func (m *Model) cancelRequest() {
	m.finishWaiting()
	m.gen++
	m.addSystem("Request cancelled.")
}

func (m *Model) handleAppended(msg domain.Message) tea.Cmd {
	m.flushReveal()

	number := 0
	if msg.Role == domain.RoleUser {
		m.userTurns++
		number = m.userTurns
	}
	cm := toChatMessage(msg, number)

	var cmd tea.Cmd
	switch {
	case m.live && cm.Role == components.RoleAssistant:
		m.chatView.UpdateLastMessage(cm.Content)
		m.live = false
		m.liveBuf.Reset()
	case cm.Role == components.RoleAssistant && len(cm.Images) == 0 && m.revealCfg.Speed != RevealInstant:
		m.revealBuf = []rune(cm.Content)
		m.revealPos = 0
		m.revealing = true
		cm.Content = ""
		m.chatView.AddMessage(cm)
		cmd = revealTickCmd(m.revealCfg.TickRate)
	default:
		m.chatView.AddMessage(cm)
	}
	m.refreshPool()
	return cmd
}

func (m *Model) handleChunk(text string) {
	m.flushReveal()
	if !m.live {
		m.chatView.AddMessage(components.ChatMessage{Role: components.RoleAssistant})
		m.live = true
	}
	m.liveBuf.WriteString(text)
	m.chatView.UpdateLastMessage(m.liveBuf.String())
}

func (m *Model) handleRevealTick() tea.Cmd {
	if !m.revealing {
		return nil
	}
	m.revealPos = min(m.revealPos+m.revealCfg.ChunkSize, len(m.revealBuf))
	m.chatView.UpdateLastMessage(string(m.revealBuf[:m.revealPos]))
	if m.revealPos >= len(m.revealBuf) {
		m.revealing = false
		return nil
	}
	return revealTickCmd(m.revealCfg.TickRate)
}

// flushReveal shows the rest of a reply being typed out.
func (m *Model) flushReveal() {
	if !m.revealing {
		return
	}
	m.chatView.UpdateLastMessage(string(m.revealBuf))
	m.revealing = false
}

func (m *Model) handleDone(msg OpDoneMsg) tea.Cmd {
	if msg.Gen != 0 {
		if msg.Gen != m.gen || !m.waiting {
			m.deps.Logger.Debug("tui dropped stale completion", "op", msg.Op, "gen", msg.Gen)
			return nil
		}
		m.finishWaiting()
	}

	if msg.Rebuild {
		m.flushReveal()
		m.rebuild()
	}
	if msg.Err != nil && !errors.Is(msg.Err, context.Canceled) && !usecase.IsSurfaced(msg.Err) {
		m.deps.Logger.Debug("tui operation failed", "op", msg.Op, "error", msg.Err)
		m.chatView.AddMessage(components.ChatMessage{
			Role:    components.RoleError,
			Content: uxerror.Humanize(msg.Err).Render(),
		})
	}
	if msg.Note != "" {
		m.addSystem(msg.Note)
	}
	m.refreshPool()
	return nil
}

func (m *Model) handleSlashCommand(cmd, rest string) (tea.Model, tea.Cmd) {
	session := m.deps.Session

	if m.waiting && cmd != "/cancel" && cmd != "/quit" && cmd != "/exit" && cmd != "/help" {
		m.addSystem("A request is running. Use /cancel or Ctrl+C first.")
		return m, nil
	}

	switch cmd {
	case "/help":
		m.addSystem(helpText())
		return m, nil

	case "/quit", "/exit":
		m.quitting = true
		return m, tea.Quit

	case "/mode":
		var mode domain.GenerationMode
		if rest == "" {
			mode = domain.ModeEdit
			if session.Mode() == domain.ModeEdit {
				mode = domain.ModeCreate
			}
		} else {
			parsed, err := domain.ParseGenerationMode(rest)
			if err != nil {
				m.addSystem(err.Error())
				return m, nil
			}
			mode = parsed
		}
		if err := session.SwitchMode(mode); err != nil {
			m.addError(err)
			return m, nil
		}
		m.refreshPool()
		m.addSystem("Mode: " + string(mode))
		return m, nil

	case "/upload", "/ref":
		paths := splitArgs(rest)
		if len(paths) == 0 {
			m.addSystem("Usage: " + cmd + " <path>...")
			return m, nil
		}
		designation := domain.DesignationPrimary
		if cmd == "/ref" {
			designation = domain.DesignationReference
		}
		return m, m.startOp("upload", m.uploadOp(paths, designation))

	case "/analyze":
		args := splitArgs(rest)
		var path, question string
		if len(args) > 0 && looksLikeImagePath(args[0]) {
			path = args[0]
			question = strings.TrimSpace(strings.Join(args[1:], " "))
		} else {
			question = rest
		}
		read := m.deps.ReadImage
		return m, m.startOp("analyze", func(ctx context.Context) OpDoneMsg {
			var file *domain.ImageFile
			if path != "" {
				f, err := read(path)
				if err != nil {
					return OpDoneMsg{Err: err}
				}
				file = &f
			}
			_, err := session.AnalyzeImage(ctx, file, question)
			return OpDoneMsg{Err: err}
		})

	case "/ask":
		if rest == "" {
			m.addSystem("Usage: /ask <text>")
			return m, nil
		}
		notify := m.deps.Notify
		gen := m.gen + 1
		return m, m.startOp("ask", func(ctx context.Context) OpDoneMsg {
			_, err := session.Ask(ctx, rest, func(chunk string) {
				if notify != nil {
					notify(ChunkMsg{Text: chunk, Gen: gen})
				}
			})
			return OpDoneMsg{Err: err}
		})

	case "/edit":
		return m.startEdit(rest)

	case "/cancel":
		switch {
		case m.waiting:
			m.cancelRequest()
		case session.CancelEdit():
			m.input.SetValue("")
			m.refreshPool()
			m.addSystem("Edit cancelled.")
		default:
			m.addSystem("Nothing to cancel.")
		}
		return m, nil

	case "/pool":
		m.addSystem(poolView(session.PoolSnapshot()).Render(components.ContentWidth(m.width)))
		return m, nil

	case "/clear":
		if err := session.ClearTransient(); err != nil {
			m.addError(err)
			return m, nil
		}
		m.refreshPool()
		m.addSystem(theme.SymbolSuccess + " Cleared main image, references and last result. Persistent references kept.")
		return m, nil

	case "/clear-persistent":
		if err := session.ClearPersistent(); err != nil {
			m.addError(err)
			return m, nil
		}
		m.refreshPool()
		m.addSystem(theme.SymbolSuccess + " Cleared persistent references.")
		return m, nil

	case "/reset":
		if err := session.Reset(); err != nil {
			m.addError(err)
			return m, nil
		}
		m.input.SetValue("")
		m.rebuild()
		m.addSystem(theme.SymbolSuccess + " New conversation.")
		return m, nil

	case "/speed":
		speed := NextRevealSpeed(m.revealCfg.Speed)
		m.revealCfg = RevealConfigFor(speed)
		m.addSystem("Reveal speed: " + speed.String())
		return m, nil

	default:
		m.addSystem(fmt.Sprintf("Unknown command: %s. Type /help for commands.", cmd))
		return m, nil
	}
}

func (m *Model) uploadOp(paths []string, designation domain.UploadDesignation) func(ctx context.Context) OpDoneMsg {
	session := m.deps.Session
	read := m.deps.ReadImage
	return func(ctx context.Context) OpDoneMsg {
		var (
			files    []domain.ImageFile
			problems []string
		)
		for _, p := range paths {
			f, err := read(p)
			if err != nil {
				problems = append(problems, uxerror.Humanize(err).Message)
				continue
			}
			files = append(files, f)
		}
		if len(files) == 0 {
			return OpDoneMsg{Note: strings.Join(problems, "\n")}
		}
		rejected, err := session.RegisterUpload(ctx, files, designation)
		if err != nil {
			return OpDoneMsg{Err: err}
		}
		accepted := len(files) - len(rejected)

		var note []string
		if accepted > 0 {
			kind := "reference"
			if designation == domain.DesignationPrimary {
				kind = "image"
			}
			note = append(note, fmt.Sprintf("%s Added %d %s(s).", theme.SymbolSuccess, accepted, kind))
		}
		note = append(note, problems...)
		return OpDoneMsg{Note: strings.Join(note, "\n")}
	}
}

// startEdit puts user turn n (or the last one) into editing and loads its
// text into the input.
func (m *Model) startEdit(arg string) (tea.Model, tea.Cmd) {
	var users []domain.Message
	for _, msg := range m.deps.Session.Messages() {
		if msg.Role == domain.RoleUser {
			users = append(users, msg)
		}
	}
	if len(users) == 0 {
		m.addSystem("No messages to edit yet.")
		return m, nil
	}

	n := len(users)
	if arg != "" {
		parsed, err := strconv.Atoi(strings.TrimPrefix(arg, "#"))
		if err != nil || parsed < 1 || parsed > len(users) {
			m.addSystem(fmt.Sprintf("Usage: /edit [n] with n between 1 and %d", len(users)))
			return m, nil
		}
		n = parsed
	}

	state, err := m.deps.Session.StartEdit(users[n-1].ID)
	if err != nil {
		m.addError(err)
		return m, nil
	}
	m.input.SetValue(state.OriginalContent)
	m.refreshPool()
	m.addSystem(fmt.Sprintf("Editing message #%d. Enter regenerates from it, Esc or /cancel aborts.", n))
	return m, nil
}

// rebuild redraws the chat view from the session's conversation.
func (m *Model) rebuild() {
	m.userTurns = 0
	var out []components.ChatMessage
	for _, msg := range m.deps.Session.Messages() {
		number := 0
		if msg.Role == domain.RoleUser {
			m.userTurns++
			number = m.userTurns
		}
		out = append(out, toChatMessage(msg, number))
	}
	m.chatView.Replace(out)
	m.refreshPool()
}

func (m *Model) refreshPool() {
	snap := m.deps.Session.PoolSnapshot()
	m.statusBar.Mode = string(m.deps.Session.Mode())
	m.statusBar.PoolCount = snap.Total()
	m.statusBar.Editing = m.deps.Session.EditState().Editing
	if m.split.Visible {
		m.poolPane.SetPool(poolView(snap))
	}
	placeholder := "Describe the image you want..."
	switch {
	case m.statusBar.Editing:
		placeholder = "Rewrite your message..."
	case m.statusBar.Mode == string(domain.ModeEdit):
		placeholder = "Describe the change to make..."
	}
	m.input.SetPlaceholder(placeholder)
}

func (m *Model) addSystem(text string) {
	m.chatView.AddMessage(components.ChatMessage{Role: components.RoleSystem, Content: text})
}

func (m *Model) addError(err error) {
	m.chatView.AddMessage(components.ChatMessage{Role: components.RoleError, Content: uxerror.Humanize(err).Render()})
}

func toChatMessage(msg domain.Message, number int) components.ChatMessage {
	cm := components.ChatMessage{
		Content:   msg.Content,
		Timestamp: msg.CreatedAt,
		Number:    number,
	}
	switch {
	case msg.Role == domain.RoleUser:
		cm.Role = components.RoleUser
	case msg.Kind == domain.KindError:
		cm.Role = components.RoleError
	case msg.Kind == domain.KindNotice:
		cm.Role = components.RoleNotice
	case msg.Kind == domain.KindGuidance:
		cm.Role = components.RoleGuidance
	case msg.Role == domain.RoleSystem:
		cm.Role = components.RoleSystem
	default:
		cm.Role = components.RoleAssistant
	}
	for _, img := range msg.Images {
		cm.Images = append(cm.Images, components.ImageLine{
			URL:     img.URL,
			Caption: img.Caption,
			Output:  img.Kind == domain.ImageOutput,
		})
	}
	return cm
}

func poolView(s usecase.PoolSnapshot) components.PoolView {
	entries := func(files []domain.ImageFile) []components.PoolEntry {
		out := make([]components.PoolEntry, 0, len(files))
		for _, f := range files {
			out = append(out, components.PoolEntry{Name: f.Name, Size: f.Size})
		}
		return out
	}
	v := components.PoolView{
		References: entries(s.References),
		Persistent: entries(s.Persistent),
	}
	if s.Main != nil {
		v.Main = &components.PoolEntry{Name: s.Main.Name, Size: s.Main.Size}
	}
	if s.LastGenerated != nil {
		v.LastGenerated = s.LastGenerated.Locator
	}
	return v
}

func helpText() string {
	var sb strings.Builder
	sb.WriteString("Commands:\n")
	for _, c := range commandDefs {
		sb.WriteString(fmt.Sprintf("  %-24s %s\n", c.Usage(), c.Description))
	}
	sb.WriteString(`
Keys:
  Enter      Send
  Alt+Enter  New line
  Ctrl+E     Toggle create/edit mode
  Ctrl+T     Toggle image pool pane
  Esc        Cancel a pending edit
  PgUp/PgDn  Scroll
  Ctrl+C     Cancel request, or quit`)
	return sb.String()
}

func defaultHints() []components.KeyHint {
	return []components.KeyHint{
		{Key: "Enter", Desc: "Send"},
		{Key: "Ctrl+E", Desc: "Mode"},
		{Key: "Ctrl+T", Desc: "Images"},
		{Key: "/help", Desc: "Help"},
		{Key: "Ctrl+C", Desc: "Quit"},
	}
}
