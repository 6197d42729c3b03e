// ABOUTME: Bubbletea model for the soundboard TUI
// ABOUTME: Shows playing and queued clips and maps keys to engine commands
package ui

import (
	"fmt"
	"strings"
	"time"

	"github.com/Resonate-Protocol/soundboard-go/internal/engine"
	"github.com/Resonate-Protocol/soundboard-go/internal/server"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
)

// Controller is the engine surface the TUI reads and drives
type Controller interface {
	CurrentlyPlaying() []engine.PlayingClip
	Queued() []engine.SoundClip
	Watch() (<-chan engine.Event, func())
	StopPlaying(handle int) bool
	StopExclusive(ref *time.Time) int
	Reset()
}

// ClientSource lists connected remote clients
type ClientSource interface {
	Clients() []server.ClientInfo
}

var (
	titleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("205")).
			MarginBottom(1)
	headerStyle   = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("86"))
	valueStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("250"))
	sectionStyle  = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("220"))
	selectedStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("212"))
	errorStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("196"))
	helpStyle     = lipgloss.NewStyle().Faint(true)
)

// Model represents the TUI state
type Model struct {
	ctrl    Controller
	clients ClientSource
	quit    chan struct{}

	name      string
	addr      string
	startTime time.Time

	playing     []engine.PlayingClip
	queued      []engine.SoundClip
	clientInfos []server.ClientInfo
	lastErr     string

	cursor   int
	quitting bool

	width  int
	height int
}

type tickMsg time.Time

// snapshotMsg carries fresh registry contents
type snapshotMsg struct {
	playing []engine.PlayingClip
	queued  []engine.SoundClip
}

// errMsg carries a playback failure
type errMsg struct{ err error }

// NewModel creates a new TUI model. clients may be nil.
func NewModel(name, addr string, ctrl Controller, clients ClientSource, quit chan struct{}) Model {
	return Model{
		ctrl:      ctrl,
		clients:   clients,
		quit:      quit,
		name:      name,
		addr:      addr,
		startTime: time.Now(),
	}
}

func takeSnapshot(ctrl Controller) snapshotMsg {
	return snapshotMsg{playing: ctrl.CurrentlyPlaying(), queued: ctrl.Queued()}
}

func tickEvery() tea.Cmd {
	return tea.Tick(time.Second, func(t time.Time) tea.Msg {
		return tickMsg(t)
	})
}

// Init initializes the model
func (m Model) Init() tea.Cmd {
	ctrl := m.ctrl
	return tea.Batch(
		tickEvery(),
		func() tea.Msg { return takeSnapshot(ctrl) },
	)
}

// Update handles messages
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		return m.handleKey(msg)
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
	case tickMsg:
		if m.clients != nil {
			m.clientInfos = m.clients.Clients()
		}
		return m, tickEvery()
	case snapshotMsg:
		m.playing = msg.playing
		m.queued = msg.queued
		m.clampCursor()
	case errMsg:
		m.lastErr = msg.err.Error()
	}

	return m, nil
}

func (m *Model) clampCursor() {
	if m.cursor >= len(m.playing) {
		m.cursor = len(m.playing) - 1
	}
	if m.cursor < 0 {
		m.cursor = 0
	}
}

// selected returns the handle under the cursor
func (m Model) selected() (int, bool) {
	if m.cursor < 0 || m.cursor >= len(m.playing) {
		return 0, false
	}
	return m.playing[m.cursor].Handle, true
}

// handleKey handles keyboard input
func (m Model) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	ctrl := m.ctrl
	switch msg.String() {
	case "q", "ctrl+c":
		m.quitting = true
		select {
		case m.quit <- struct{}{}:
		default:
		}
		return m, tea.Quit
	case "up", "k":
		if m.cursor > 0 {
			m.cursor--
		}
	case "down", "j":
		if m.cursor < len(m.playing)-1 {
			m.cursor++
		}
	case "enter", "s":
		handle, ok := m.selected()
		if !ok {
			return m, nil
		}
		return m, func() tea.Msg {
			ctrl.StopPlaying(handle)
			return takeSnapshot(ctrl)
		}
	case "x":
		return m, func() tea.Msg {
			ctrl.StopExclusive(nil)
			return takeSnapshot(ctrl)
		}
	case "r":
		return m, func() tea.Msg {
			ctrl.Reset()
			return takeSnapshot(ctrl)
		}
	case "c":
		m.lastErr = ""
	}

	return m, nil
}

// View renders the TUI
func (m Model) View() string {
	if m.quitting {
		return "Shutting down soundboard...\n"
	}

	var b strings.Builder
	b.WriteString(titleStyle.Render("Soundboard"))
	b.WriteString("\n\n")
	b.WriteString(m.renderHeader())
	b.WriteString(m.renderPlaying())
	b.WriteString(m.renderQueue())
	b.WriteString(m.renderClients())

	if m.lastErr != "" {
		b.WriteString(errorStyle.Render("Error: " + truncate(m.lastErr, 70)))
		b.WriteString("\n\n")
	}

	b.WriteString(helpStyle.Render("↑/↓:Select  enter/s:Stop  x:Stop exclusive  r:Reset  c:Clear error  q:Quit"))
	return b.String()
}

func (m Model) renderHeader() string {
	var b strings.Builder
	b.WriteString(headerStyle.Render("Server: "))
	b.WriteString(valueStyle.Render(m.name))
	b.WriteString("\n")

	if m.addr != "" {
		b.WriteString(headerStyle.Render("Listening: "))
		b.WriteString(valueStyle.Render(m.addr))
		b.WriteString("\n")
	}

	b.WriteString(headerStyle.Render("Uptime: "))
	b.WriteString(valueStyle.Render(time.Since(m.startTime).Round(time.Second).String()))
	b.WriteString("\n\n")
	return b.String()
}

func (m Model) renderPlaying() string {
	var b strings.Builder
	b.WriteString(sectionStyle.Render(fmt.Sprintf("Now Playing (%d)", len(m.playing))))
	b.WriteString("\n")

	if len(m.playing) == 0 {
		b.WriteString(valueStyle.Render("  Nothing playing"))
		b.WriteString("\n\n")
		return b.String()
	}

	for i, p := range m.playing {
		line := fmt.Sprintf("%-28s %-20s [%s] %s/%s",
			truncate(p.Name, 28),
			truncate(p.OutputDevice, 20),
			renderBar(int(p.Progress()*100), 100, 10),
			formatSeconds(p.Position),
			formatSeconds(p.Length))
		if p.Loop {
			line += " ↻"
		}
		if p.Exclusive {
			line += " !"
		}
		if i == m.cursor {
			b.WriteString(selectedStyle.Render("> " + line))
		} else {
			b.WriteString("  " + valueStyle.Render(line))
		}
		b.WriteString("\n")
	}
	b.WriteString("\n")
	return b.String()
}

func (m Model) renderQueue() string {
	var b strings.Builder
	b.WriteString(sectionStyle.Render(fmt.Sprintf("Queue (%d)", len(m.queued))))
	b.WriteString("\n")

	if len(m.queued) == 0 {
		b.WriteString(valueStyle.Render("  Empty"))
		b.WriteString("\n\n")
		return b.String()
	}

	for i, c := range m.queued {
		b.WriteString(valueStyle.Render(fmt.Sprintf("  %d. %s", i+1, truncate(c.DisplayName(), 50))))
		b.WriteString("\n")
	}
	b.WriteString("\n")
	return b.String()
}

func (m Model) renderClients() string {
	if m.clients == nil {
		return ""
	}

	var b strings.Builder
	b.WriteString(sectionStyle.Render(fmt.Sprintf("Remote Clients (%d)", len(m.clientInfos))))
	b.WriteString("\n")

	if len(m.clientInfos) == 0 {
		b.WriteString(valueStyle.Render("  No clients connected"))
		b.WriteString("\n\n")
		return b.String()
	}

	for _, c := range m.clientInfos {
		b.WriteString(fmt.Sprintf("  • %s", c.Name))
		b.WriteString(valueStyle.Render(fmt.Sprintf(" (%s)", c.Addr)))
		b.WriteString("\n")
	}
	b.WriteString("\n")
	return b.String()
}

// Utility functions
func renderBar(value, max, width int) string {
	if max <= 0 {
		return strings.Repeat("░", width)
	}
	filled := (value * width) / max
	bar := ""
	for i := 0; i < width; i++ {
		if i < filled {
			bar += "█"
		} else {
			bar += "░"
		}
	}
	return bar
}

func truncate(s string, length int) string {
	if len(s) <= length {
		return s
	}
	return s[:length-3] + "..."
}

func formatSeconds(d time.Duration) string {
	return fmt.Sprintf("%.1fs", d.Seconds())
}
