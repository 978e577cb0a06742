// ABOUTME: Bubbletea model for the audio output controller
// ABOUTME: Tracks outputs from monitor events and turns keys into commands
package ui

import (
	"fmt"
	"strings"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/yoctolink/audioout/internal/monitor"
	"github.com/yoctolink/audioout/pkg/audioout"
)

// volumeStep is the change applied by one up/down key press
const volumeStep = 5

// Model represents the TUI state
type Model struct {
	outputs  []monitor.Event
	selected int

	// Last command outcome
	lastError string
	pending   int

	hubs      []string
	showDebug bool
	control   *Control

	width  int
	height int
}

// OutputMsg carries one monitor event into the TUI
type OutputMsg monitor.Event

// ResultMsg reports the outcome of a command
type ResultMsg struct {
	HardwareID string
	Err        error
}

// Init initializes the model
func (m Model) Init() tea.Cmd {
	return nil
}

// Update handles messages
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		return m.handleKey(msg)
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
	case OutputMsg:
		m.applyOutput(monitor.Event(msg))
	case ResultMsg:
		if m.pending > 0 {
			m.pending--
		}
		if msg.Err != nil {
			m.lastError = fmt.Sprintf("%s: %v", msg.HardwareID, msg.Err)
		} else {
			m.lastError = ""
		}
	}

	return m, nil
}

// View renders the TUI
func (m Model) View() string {
	if m.width == 0 {
		return "Loading..."
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

	selectedStyle := lipgloss.NewStyle().
		Bold(true).
		Foreground(lipgloss.Color("220"))

	offlineStyle := lipgloss.NewStyle().Faint(true)

	errorStyle := lipgloss.NewStyle().
		Foreground(lipgloss.Color("196"))

	var b strings.Builder

	b.WriteString(titleStyle.Render("Yocto AudioOut"))
	b.WriteString("\n\n")

	b.WriteString(headerStyle.Render("Hubs: "))
	b.WriteString(valueStyle.Render(strings.Join(m.hubs, ", ")))
	b.WriteString("\n\n")

	b.WriteString(headerStyle.Render(fmt.Sprintf("Outputs (%d)", len(m.outputs))))
	b.WriteString("\n\n")

	if len(m.outputs) == 0 {
		b.WriteString(valueStyle.Render("  No audio outputs found"))
		b.WriteString("\n")
	}

	for i, out := range m.outputs {
		line := renderOutput(out)
		switch {
		case i == m.selected:
			b.WriteString(selectedStyle.Render("> " + line))
		case !out.Online:
			b.WriteString(offlineStyle.Render("  " + line))
		default:
			b.WriteString(valueStyle.Render("  " + line))
		}
		b.WriteString("\n")

		if m.showDebug && i == m.selected {
			b.WriteString(valueStyle.Render(renderDetails(out)))
		}
	}

	b.WriteString("\n")
	if m.lastError != "" {
		b.WriteString(errorStyle.Render("Error: " + m.lastError))
		b.WriteString("\n")
	}
	b.WriteString(lipgloss.NewStyle().Faint(true).Render("↑/↓:Volume  m:Mute  tab:Next  d:Details  q:Quit"))

	return b.String()
}

// renderOutput renders one output line
func renderOutput(out monitor.Event) string {
	name := out.LogicalName
	if name == "" {
		name = out.HardwareID
	}
	if !out.Online {
		return fmt.Sprintf("%-24s offline", truncate(name, 24))
	}

	vol := "  ?"
	bar := renderBar(0, 100, 10)
	if out.State.Volume != audioout.VolumeInvalid {
		vol = fmt.Sprintf("%3d", out.State.Volume)
		bar = renderBar(out.State.Volume, 100, 10)
	}

	muteIcon := ""
	if out.State.Mute == audioout.MuteTrue {
		muteIcon = " 🔇"
	}

	return fmt.Sprintf("%-24s [%s] %s%%%s", truncate(name, 24), bar, vol, muteIcon)
}

// renderDetails renders the secondary attributes of an output
func renderDetails(out monitor.Event) string {
	signal := "n/a"
	if out.State.Signal != audioout.SignalInvalid {
		signal = fmt.Sprintf("%d", out.State.Signal)
	}
	silent := "n/a"
	if out.State.NoSignalFor != audioout.NoSignalForInvalid {
		silent = fmt.Sprintf("%ds", out.State.NoSignalFor)
	}

	return fmt.Sprintf("    id: %s  range: %s  signal: %s  silent for: %s\n",
		out.HardwareID, out.State.VolumeRange, signal, silent)
}

// handleKey handles keyboard input
func (m Model) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case "q", "ctrl+c":
		m.control.quit()
		return m, tea.Quit
	case "up", "+":
		m.changeVolume(volumeStep)
	case "down", "-":
		m.changeVolume(-volumeStep)
	case "m":
		m.toggleMute()
	case "tab", "right", "j":
		if len(m.outputs) > 0 {
			m.selected = (m.selected + 1) % len(m.outputs)
		}
	case "shift+tab", "left", "k":
		if len(m.outputs) > 0 {
			m.selected = (m.selected + len(m.outputs) - 1) % len(m.outputs)
		}
	case "d":
		m.showDebug = !m.showDebug
	}

	return m, nil
}

// current returns the selected output if it can be controlled
func (m *Model) current() (*monitor.Event, bool) {
	if m.selected < 0 || m.selected >= len(m.outputs) {
		return nil, false
	}
	out := &m.outputs[m.selected]
	return out, out.Online
}

func (m *Model) changeVolume(delta int) {
	out, ok := m.current()
	if !ok || out.State.Volume == audioout.VolumeInvalid {
		return
	}

	vol := out.State.Volume + delta
	if vol > 100 {
		vol = 100
	}
	if vol < 0 {
		vol = 0
	}
	if vol == out.State.Volume {
		return
	}

	out.State.Volume = vol
	if m.control.send(Command{HardwareID: out.HardwareID, Volume: &vol}) {
		m.pending++
	}
}

func (m *Model) toggleMute() {
	out, ok := m.current()
	if !ok || out.State.Mute == audioout.MuteInvalid {
		return
	}

	muted := !out.State.Mute.Bool()
	if muted {
		out.State.Mute = audioout.MuteTrue
	} else {
		out.State.Mute = audioout.MuteFalse
	}
	if m.control.send(Command{HardwareID: out.HardwareID, Mute: &muted}) {
		m.pending++
	}
}

// applyOutput inserts or replaces an output, keeping discovery order
func (m *Model) applyOutput(ev monitor.Event) {
	for i := range m.outputs {
		if m.outputs[i].HardwareID == ev.HardwareID {
			m.outputs[i] = ev
			return
		}
	}
	m.outputs = append(m.outputs, ev)
}

// Utility functions
func renderBar(value, max, width int) string {
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
