// ABOUTME: TUI initialization and control
// ABOUTME: Wraps the bubbletea program and feeds it engine events
package ui

import (
	"sync"

	"github.com/Resonate-Protocol/soundboard-go/internal/engine"
	tea "github.com/charmbracelet/bubbletea"
)

// TUI manages the soundboard TUI
type TUI struct {
	name    string
	addr    string
	ctrl    Controller
	clients ClientSource

	program  *tea.Program
	quitChan chan struct{}

	mu       sync.Mutex
	unwatch  func()
	stopOnce sync.Once
	wg       sync.WaitGroup
}

// New creates a TUI for ctrl. clients may be nil when the server is disabled.
// Without options the program takes over the alternate screen.
func New(name, addr string, ctrl Controller, clients ClientSource, opts ...tea.ProgramOption) *TUI {
	if len(opts) == 0 {
		opts = []tea.ProgramOption{tea.WithAltScreen()}
	}
	t := &TUI{
		name:     name,
		addr:     addr,
		ctrl:     ctrl,
		clients:  clients,
		quitChan: make(chan struct{}, 1),
	}
	t.program = tea.NewProgram(NewModel(name, addr, ctrl, clients, t.quitChan), opts...)
	return t
}

// Start runs the TUI until the user quits or Stop is called
func (t *TUI) Start() error {
	events, unwatch := t.ctrl.Watch()
	t.mu.Lock()
	t.unwatch = unwatch
	t.mu.Unlock()

	t.wg.Add(1)
	go func() {
		defer t.wg.Done()
		t.pump(events)
	}()

	_, err := t.program.Run()
	t.Stop()
	unwatch()
	t.wg.Wait()
	return err
}

// pump turns engine events into model messages
func (t *TUI) pump(events <-chan engine.Event) {
	for ev := range events {
		if ev.Kind == engine.EventError {
			if ev.Err != nil {
				t.program.Send(errMsg{err: ev.Err})
			}
			continue
		}
		t.program.Send(takeSnapshot(t.ctrl))
	}
}

// Stop stops the TUI
func (t *TUI) Stop() {
	t.stopOnce.Do(func() {
		t.mu.Lock()
		unwatch := t.unwatch
		t.mu.Unlock()
		if unwatch != nil {
			unwatch()
		}
		t.program.Quit()
	})
}

// QuitChan returns the channel that signals when user wants to quit
func (t *TUI) QuitChan() <-chan struct{} {
	return t.quitChan
}
