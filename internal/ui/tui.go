// ABOUTME: TUI initialization and control
// ABOUTME: Wraps the bubbletea program and its command channel
package ui

import (
	tea "github.com/charmbracelet/bubbletea"
	"github.com/yoctolink/audioout/internal/monitor"
)

// Command asks the caller to change one output
type Command struct {
	HardwareID string
	Volume     *int
	Mute       *bool
}

// Control holds channels for communication with the caller
type Control struct {
	Commands chan Command
	Quit     chan struct{}
}

// NewControl creates a new control handler
func NewControl() *Control {
	return &Control{
		Commands: make(chan Command, 10),
		Quit:     make(chan struct{}, 1),
	}
}

// send queues a command without blocking the UI
func (c *Control) send(cmd Command) bool {
	if c == nil {
		return false
	}
	select {
	case c.Commands <- cmd:
		return true
	default:
		return false
	}
}

func (c *Control) quit() {
	if c == nil {
		return
	}
	select {
	case c.Quit <- struct{}{}:
	default:
	}
}

// NewModel creates a new TUI model
func NewModel(ctrl *Control, hubs []string) Model {
	return Model{
		hubs:    hubs,
		control: ctrl,
	}
}

// TUI runs the controller interface
type TUI struct {
	program *tea.Program
	control *Control
}

// New creates the TUI program
func New(ctrl *Control, hubs []string) *TUI {
	return &TUI{
		program: tea.NewProgram(NewModel(ctrl, hubs), tea.WithAltScreen()),
		control: ctrl,
	}
}

// Run blocks until the user quits; events are forwarded until then
func (t *TUI) Run(events <-chan monitor.Event) error {
	done := make(chan struct{})
	defer close(done)

	go func() {
		for {
			select {
			case ev, ok := <-events:
				if !ok {
					return
				}
				t.program.Send(OutputMsg(ev))
			case <-done:
				return
			}
		}
	}()

	_, err := t.program.Run()
	return err
}

// Result reports a command outcome to the TUI
func (t *TUI) Result(hwid string, err error) {
	t.program.Send(ResultMsg{HardwareID: hwid, Err: err})
}

// Stop stops the TUI
func (t *TUI) Stop() {
	t.program.Quit()
}
