// ABOUTME: Polling worker that tracks every audio output online
// ABOUTME: Publishes an event whenever an output's state or presence changes
package monitor

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/yoctolink/audioout/pkg/audioout"
	"github.com/yoctolink/audioout/pkg/yapi"
)

// DefaultInterval between two polls
const DefaultInterval = 500 * time.Millisecond

// Config holds monitor configuration
type Config struct {
	Registry *yapi.Registry
	Interval time.Duration
	Logger   zerolog.Logger
}

// Event is the last known state of one output
type Event struct {
	HardwareID  string
	LogicalName string
	Online      bool
	State       audioout.State
}

// Monitor polls the registry and fans events out to subscribers
type Monitor struct {
	config Config
	log    zerolog.Logger

	pollMu sync.Mutex

	mu    sync.RWMutex
	last  map[string]Event
	order []string
	subs  map[chan Event]struct{}
}

// New creates a monitor
func New(config Config) *Monitor {
	if config.Interval == 0 {
		config.Interval = DefaultInterval
	}

	return &Monitor{
		config: config,
		log:    config.Logger,
		last:   make(map[string]Event),
		subs:   make(map[chan Event]struct{}),
	}
}

// Run polls until ctx is cancelled
func (m *Monitor) Run(ctx context.Context) error {
	ticker := time.NewTicker(m.config.Interval)
	defer ticker.Stop()

	m.Poll(ctx)
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			m.Poll(ctx)
		}
	}
}

// Poll enumerates the outputs once and publishes what changed. Outputs
// that disappeared keep their previous position after the present ones.
func (m *Monitor) Poll(ctx context.Context) {
	m.pollMu.Lock()
	defer m.pollMu.Unlock()

	outs := audioout.All(ctx, m.config.Registry)

	current := make(map[string]bool, len(outs))
	order := make([]string, 0, len(outs))
	var changed []Event

	for _, out := range outs {
		hwid := out.FunctionIdentifier()
		current[hwid] = true
		order = append(order, hwid)

		st, err := out.State(ctx)
		ev := Event{HardwareID: hwid, Online: err == nil, State: st}
		if err != nil {
			m.log.Debug().Err(err).Str("hwid", hwid).Msg("Poll failed")
			ev.State = m.previous(hwid).State
		}
		if name := out.LogicalName(); name != yapi.InvalidString {
			ev.LogicalName = name
		}

		if m.update(ev) {
			changed = append(changed, ev)
		}
	}

	m.mu.Lock()
	for _, hwid := range m.order {
		if current[hwid] {
			continue
		}
		order = append(order, hwid)
		if ev := m.last[hwid]; ev.Online {
			ev.Online = false
			m.last[hwid] = ev
			changed = append(changed, ev)
		}
	}
	m.order = order
	m.mu.Unlock()

	for _, ev := range changed {
		m.publish(ev)
	}
}

func (m *Monitor) previous(hwid string) Event {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if ev, ok := m.last[hwid]; ok {
		return ev
	}
	return Event{State: audioout.State{
		Volume:      audioout.VolumeInvalid,
		Mute:        audioout.MuteInvalid,
		VolumeRange: audioout.VolumeRangeInvalid,
		Signal:      audioout.SignalInvalid,
		NoSignalFor: audioout.NoSignalForInvalid,
	}}
}

// update stores ev and reports whether it differs from the last one
func (m *Monitor) update(ev Event) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	prev, ok := m.last[ev.HardwareID]
	m.last[ev.HardwareID] = ev
	return !ok || prev != ev
}

func (m *Monitor) publish(ev Event) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	for ch := range m.subs {
		select {
		case ch <- ev:
		default:
			m.log.Debug().Str("hwid", ev.HardwareID).Msg("Subscriber buffer full, dropping event")
		}
	}
}

// Subscribe returns a channel receiving every change
func (m *Monitor) Subscribe() <-chan Event {
	ch := make(chan Event, 32)

	m.mu.Lock()
	m.subs[ch] = struct{}{}
	m.mu.Unlock()

	return ch
}

// Unsubscribe stops delivery to ch and closes it
func (m *Monitor) Unsubscribe(ch <-chan Event) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for c := range m.subs {
		if c == ch {
			delete(m.subs, c)
			close(c)
			return
		}
	}
}

// Snapshot returns the last known state of every output seen so far
func (m *Monitor) Snapshot() []Event {
	m.mu.RLock()
	defer m.mu.RUnlock()

	events := make([]Event, 0, len(m.order))
	for _, hwid := range m.order {
		events = append(events, m.last[hwid])
	}
	return events
}
