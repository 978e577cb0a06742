// ABOUTME: Status display for the bridge server
// ABOUTME: Shows connected clients and tracked outputs using bubbletea
package bridge

import (
	"fmt"
	"strings"
	"sync"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
)

// StatusTUI manages the bridge status display
type StatusTUI struct {
	program  *tea.Program
	updates  chan Status
	quitChan chan struct{}

	mu      sync.Mutex
	stopped bool
}

// Status holds bridge state for the TUI
type Status struct {
	Name    string
	Port    int
	Clients []ClientInfo
	Outputs []OutputInfo
}

// OutputInfo is one output line of the status display
type OutputInfo struct {
	HardwareID string
	Name       string
	Volume     int
	Muted      bool
	Online     bool
}

type statusModel struct {
	status    Status
	startTime time.Time
	quitting  bool
	quitChan  chan struct{}
}

type tickMsg time.Time
type statusMsg Status

func (m statusModel) Init() tea.Cmd {
	return tickEvery()
}

func tickEvery() tea.Cmd {
	return tea.Tick(time.Second, func(t time.Time) tea.Msg {
		return tickMsg(t)
	})
}

func (m statusModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		if msg.String() == "q" || msg.String() == "ctrl+c" {
			m.quitting = true
			select {
			case m.quitChan <- struct{}{}:
			default:
			}
			return m, tea.Quit
		}

	case tickMsg:
		return m, tickEvery()

	case statusMsg:
		m.status = Status(msg)
	}

	return m, nil
}

func (m statusModel) View() string {
	if m.quitting {
		return "Shutting down bridge...\n"
	}

	titleStyle := lipgloss.NewStyle().
		Bold(true).
		Foreground(lipgloss.Color("205")).
		MarginBottom(1)

	headerStyle := lipgloss.NewStyle().
		Bold(true).
		Foreground(lipgloss.Color("86"))

	valueStyle := lipgloss.NewStyle().
		Foreground(lipgloss.Color("250"))

	sectionStyle := lipgloss.NewStyle().
		Bold(true).
		Foreground(lipgloss.Color("220"))

	var b strings.Builder

	b.WriteString(titleStyle.Render("Yocto AudioOut Bridge"))
	b.WriteString("\n\n")

	b.WriteString(headerStyle.Render("Bridge: "))
	b.WriteString(valueStyle.Render(m.status.Name))
	b.WriteString("\n")

	b.WriteString(headerStyle.Render("Port: "))
	b.WriteString(valueStyle.Render(fmt.Sprintf("%d", m.status.Port)))
	b.WriteString("\n")

	b.WriteString(headerStyle.Render("Uptime: "))
	b.WriteString(valueStyle.Render(time.Since(m.startTime).Round(time.Second).String()))
	b.WriteString("\n\n")

	b.WriteString(sectionStyle.Render(fmt.Sprintf("Outputs (%d)", len(m.status.Outputs))))
	b.WriteString("\n\n")
	if len(m.status.Outputs) == 0 {
		b.WriteString(valueStyle.Render("  No outputs found"))
		b.WriteString("\n")
	}
	for _, out := range m.status.Outputs {
		b.WriteString(fmt.Sprintf("  • %s", out.Name))
		b.WriteString(valueStyle.Render(" " + describeOutput(out)))
		b.WriteString("\n")
	}
	b.WriteString("\n")

	b.WriteString(sectionStyle.Render(fmt.Sprintf("Connected Clients (%d)", len(m.status.Clients))))
	b.WriteString("\n\n")
	if len(m.status.Clients) == 0 {
		b.WriteString(valueStyle.Render("  No clients connected"))
		b.WriteString("\n")
	}
	for _, c := range m.status.Clients {
		b.WriteString(fmt.Sprintf("  • %s", c.Name))
		b.WriteString(valueStyle.Render(fmt.Sprintf(" (%s)", c.ID)))
		b.WriteString("\n")
	}

	b.WriteString("\n")
	b.WriteString(lipgloss.NewStyle().Faint(true).Render("Press 'q' or Ctrl+C to quit"))

	return b.String()
}

func describeOutput(out OutputInfo) string {
	if !out.Online {
		return fmt.Sprintf("(%s, offline)", out.HardwareID)
	}
	mute := ""
	if out.Muted {
		mute = ", muted"
	}
	return fmt.Sprintf("(%s, %d%%%s)", out.HardwareID, out.Volume, mute)
}

// NewStatusTUI creates a new status display
func NewStatusTUI() *StatusTUI {
	return &StatusTUI{
		updates:  make(chan Status, 10),
		quitChan: make(chan struct{}, 1),
	}
}

// Start runs the TUI until the user quits
func (t *StatusTUI) Start(name string, port int) error {
	m := statusModel{
		status:    Status{Name: name, Port: port},
		startTime: time.Now(),
		quitChan:  t.quitChan,
	}

	program := tea.NewProgram(m, tea.WithAltScreen())
	t.mu.Lock()
	if t.stopped {
		t.mu.Unlock()
		return nil
	}
	t.program = program
	t.mu.Unlock()

	go func() {
		for status := range t.updates {
			program.Send(statusMsg(status))
		}
	}()

	_, err := program.Run()
	return err
}

// Update sends a status update to the TUI
func (t *StatusTUI) Update(status Status) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.stopped {
		return
	}
	select {
	case t.updates <- status:
	default:
		// Don't block if channel is full
	}
}

// Stop stops the TUI
func (t *StatusTUI) Stop() {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.stopped {
		return
	}
	t.stopped = true
	if t.program != nil {
		t.program.Quit()
	}
	close(t.updates)
}

// QuitChan returns the channel that signals when the user wants to quit
func (t *StatusTUI) QuitChan() <-chan struct{} {
	return t.quitChan
}
