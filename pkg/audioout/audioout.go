// ABOUTME: AudioOut handle with cached attributes and sentinel getters
// ABOUTME: Setters push one attribute to the device without touching the cache
package audioout

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/yoctolink/audioout/pkg/yapi"
)

// ClassName is the function class served by this package.
const ClassName = "AudioOut"

// Values returned by getters when the attribute is unknown.
const (
	VolumeInvalid      = yapi.InvalidUint
	VolumeRangeInvalid = yapi.InvalidString
	SignalInvalid      = yapi.InvalidInt
	NoSignalForInvalid = yapi.InvalidInt
)

// Mute is the tri-state mute attribute.
type Mute int

const (
	MuteFalse   Mute = 0
	MuteTrue    Mute = 1
	MuteInvalid Mute = -1
)

func (m Mute) String() string {
	switch m {
	case MuteFalse:
		return "off"
	case MuteTrue:
		return "on"
	default:
		return "invalid"
	}
}

// Bool reports whether the output is muted. MuteInvalid reads as false.
func (m Mute) Bool() bool {
	return m == MuteTrue
}

// ParseMute accepts on/off, true/false, yes/no and 1/0.
func ParseMute(s string) (Mute, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "1", "on", "true", "yes":
		return MuteTrue, nil
	case "0", "off", "false", "no":
		return MuteFalse, nil
	}
	return MuteInvalid, fmt.Errorf("invalid mute value %q", s)
}

// State is one consistent view of every AudioOut attribute.
type State struct {
	Volume      int
	Mute        Mute
	VolumeRange string
	Signal      int
	NoSignalFor int
}

// AudioOut is a handle on one audio output function.
type AudioOut struct {
	yapi.Function

	volume      int
	mute        Mute
	volumeRange string
	signal      int
	noSignalFor int
}

func newAudioOut(reg *yapi.Registry, id string) *AudioOut {
	a := &AudioOut{
		volume:      VolumeInvalid,
		mute:        MuteInvalid,
		volumeRange: VolumeRangeInvalid,
		signal:      SignalInvalid,
		noSignalFor: NoSignalForInvalid,
	}
	a.Init(reg, ClassName, id)
	return a
}

// ParseAttr implements yapi.Handle.
func (a *AudioOut) ParseAttr(attr yapi.Attr) bool {
	switch attr.Name {
	case yapi.AttrVolume:
		a.volume = attr.Int
	case yapi.AttrMute:
		a.mute = Mute(attr.Int)
	case yapi.AttrVolumeRange:
		a.volumeRange = attr.Str
	case yapi.AttrSignal:
		a.signal = attr.Int
	case yapi.AttrNoSignalFor:
		a.noSignalFor = attr.Int
	default:
		return false
	}
	return true
}

// refresh loads the handle once if its cache has expired.
func (a *AudioOut) refresh(ctx context.Context) error {
	if !a.Expired() {
		return nil
	}
	return a.Registry().Load(ctx, a, a.Registry().CacheValidity())
}

// Load fetches every attribute now, whatever the cache state.
func (a *AudioOut) Load(ctx context.Context) error {
	return a.Registry().Load(ctx, a, a.Registry().CacheValidity())
}

// State returns all attributes from one load, reloading if stale.
func (a *AudioOut) State(ctx context.Context) (State, error) {
	if err := a.refresh(ctx); err != nil {
		return State{}, err
	}
	return a.cached(), nil
}

func (a *AudioOut) cached() State {
	var s State
	a.View(func() {
		s = State{
			Volume:      a.volume,
			Mute:        a.mute,
			VolumeRange: a.volumeRange,
			Signal:      a.signal,
			NoSignalFor: a.noSignalFor,
		}
	})
	return s
}

// Volume returns the output volume in percent, or VolumeInvalid.
func (a *AudioOut) Volume() int {
	if a.refresh(context.Background()) != nil {
		return VolumeInvalid
	}
	return a.cached().Volume
}

// Mute returns the mute state, or MuteInvalid.
func (a *AudioOut) Mute() Mute {
	if a.refresh(context.Background()) != nil {
		return MuteInvalid
	}
	return a.cached().Mute
}

// VolumeRange returns the supported volume range. Its low end is the minimal
// audible value; use SetMute rather than SetVolume to silence the output.
func (a *AudioOut) VolumeRange() string {
	if a.refresh(context.Background()) != nil {
		return VolumeRangeInvalid
	}
	return a.cached().VolumeRange
}

// Signal returns the detected output current level, or SignalInvalid.
func (a *AudioOut) Signal() int {
	if a.refresh(context.Background()) != nil {
		return SignalInvalid
	}
	return a.cached().Signal
}

// NoSignalFor returns the seconds elapsed without a detected signal, or
// NoSignalForInvalid.
func (a *AudioOut) NoSignalFor() int {
	if a.refresh(context.Background()) != nil {
		return NoSignalForInvalid
	}
	return a.cached().NoSignalFor
}

// SetVolumeContext changes the output volume, in percent.
func (a *AudioOut) SetVolumeContext(ctx context.Context, percent int) error {
	return a.Registry().SetAttribute(ctx, a, "volume", strconv.Itoa(percent))
}

// SetMuteContext changes the mute state. The module's saveToFlash is needed
// to keep the setting across reboots.
func (a *AudioOut) SetMuteContext(ctx context.Context, muted bool) error {
	val := "0"
	if muted {
		val = "1"
	}
	return a.Registry().SetAttribute(ctx, a, "mute", val)
}

// SetVolume changes the output volume and returns yapi.Success or a negative
// status code.
func (a *AudioOut) SetVolume(percent int) yapi.Status {
	return yapi.StatusOf(a.SetVolumeContext(context.Background(), percent))
}

// SetMute changes the mute state and returns yapi.Success or a negative
// status code.
func (a *AudioOut) SetMute(muted bool) yapi.Status {
	return yapi.StatusOf(a.SetMuteContext(context.Background(), muted))
}

func (a *AudioOut) String() string {
	return ClassName + "(" + a.FunctionIdentifier() + ")"
}
