package chat

import (
	"context"
	"log/slog"
	"sync"

	tea "github.com/charmbracelet/bubbletea"

	"pixelchat/internal/domain"
)

// App runs the chat TUI over a session until the user quits or ctx ends.
type App struct {
	session   Session
	modelName string
	logger    *slog.Logger

	mu      sync.Mutex
	program *tea.Program
}

// NewApp creates the TUI application.
func NewApp(session Session, modelName string, logger *slog.Logger) *App {
	return &App{session: session, modelName: modelName, logger: logger}
}

// Run blocks until the program exits.
func (a *App) Run(ctx context.Context) error {
	model := NewModel(ModelDeps{
		Session:   a.session,
		Notify:    a.send,
		ReadImage: LoadImageFile,
		Logger:    a.logger,
		ModelName: a.modelName,
	})

	p := tea.NewProgram(model, tea.WithAltScreen(), tea.WithMouseCellMotion())
	a.mu.Lock()
	a.program = p
	a.mu.Unlock()

	a.session.SetObserver(func(msg domain.Message) {
		a.send(AppendedMsg{Message: msg})
	})
	defer a.session.SetObserver(nil)

	go func() {
		<-ctx.Done()
		a.send(QuitMsg{})
	}()

	_, err := p.Run()
	a.mu.Lock()
	a.program = nil
	a.mu.Unlock()
	return err
}

// Stop asks the program to quit.
func (a *App) Stop() {
	a.send(QuitMsg{})
}

// send delivers msg to the running program. It is a no-op before Run and
// after the program exits.
func (a *App) send(msg tea.Msg) {
	a.mu.Lock()
	p := a.program
	a.mu.Unlock()
	if p != nil {
		p.Send(msg)
	}
}
