// ABOUTME: Tests for the AudioOut accessor
// ABOUTME: Sentinels, consistent loads, wire serialization and cache expiry
package audioout

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/yoctolink/audioout/internal/yapitest"
	"github.com/yoctolink/audioout/pkg/yapi"
)

func ampRecord(volume, mute int, rng string, signal, noSignal int) map[string]interface{} {
	return map[string]interface{}{
		"logicalName":     "amp",
		"advertisedValue": "40",
		"volume":          volume,
		"mute":            mute,
		"volumeRange":     rng,
		"signal":          signal,
		"noSignalFor":     noSignal,
		"firmwareExtra":   "ignored",
	}
}

func newTestRegistry(t *testing.T) (*yapi.Registry, *yapitest.Hub, *yapitest.ManualTicks) {
	t.Helper()

	ticks := yapitest.NewManualTicks(1)
	reg := yapi.New(yapi.Config{Ticks: ticks})

	hub := yapitest.NewHub("test")
	hub.AddModule("YMINIAMP-1", "kitchen")
	hub.AddModule("YMINIAMP-2", "")
	hub.AddFunction(ClassName, "YMINIAMP-1", "audioOut1", "left", ampRecord(40, 0, "30-100", 12, 0))
	hub.AddFunction(ClassName, "YMINIAMP-1", "audioOut2", "right", ampRecord(60, 1, "30-100", 0, 9))
	hub.AddFunction(ClassName, "YMINIAMP-2", "audioOut1", "left", ampRecord(10, 0, "0-100", 1, 0))
	reg.RegisterHub(hub)

	return reg, hub, ticks
}

func TestGettersReturnSentinelsBeforeLoad(t *testing.T) {
	reg, hub, _ := newTestRegistry(t)
	hub.Fail = errors.New("offline")

	out := FindAudioOut(reg, "YMINIAMP-1.audioOut1")

	if v := out.Volume(); v != VolumeInvalid {
		t.Errorf("expected VolumeInvalid, got %d", v)
	}
	if m := out.Mute(); m != MuteInvalid {
		t.Errorf("expected MuteInvalid, got %v", m)
	}
	if r := out.VolumeRange(); r != VolumeRangeInvalid {
		t.Errorf("expected VolumeRangeInvalid, got %q", r)
	}
	if s := out.Signal(); s != SignalInvalid {
		t.Errorf("expected SignalInvalid, got %d", s)
	}
	if n := out.NoSignalFor(); n != NoSignalForInvalid {
		t.Errorf("expected NoSignalForInvalid, got %d", n)
	}

	if _, err := out.State(context.Background()); err == nil {
		t.Error("expected State to report the load failure")
	}
}

func TestSentinelValues(t *testing.T) {
	if VolumeInvalid != -1 {
		t.Errorf("VolumeInvalid should be the unsigned sentinel -1, got %d", VolumeInvalid)
	}
	if SignalInvalid != -2147483648 || NoSignalForInvalid != -2147483648 {
		t.Error("signal sentinels should be the signed int sentinel")
	}
	if VolumeRangeInvalid != "!INVALID!" {
		t.Errorf("unexpected string sentinel %q", VolumeRangeInvalid)
	}
	if MuteFalse != 0 || MuteTrue != 1 || MuteInvalid != -1 {
		t.Error("unexpected mute constants")
	}
}

func TestUnknownIdentifierFailsOpen(t *testing.T) {
	reg, _, _ := newTestRegistry(t)

	out := FindAudioOut(reg, "nowhere")
	if out.Volume() != VolumeInvalid {
		t.Error("unresolvable handle should return VolumeInvalid")
	}
	if out.SetVolume(10) != yapi.DeviceNotFound {
		t.Error("unresolvable handle should fail to set with DeviceNotFound")
	}
}

func TestLoadPopulatesAllFields(t *testing.T) {
	reg, _, _ := newTestRegistry(t)
	out := FindAudioOut(reg, "YMINIAMP-1.audioOut2")

	st, err := out.State(context.Background())
	if err != nil {
		t.Fatalf("state failed: %v", err)
	}

	want := State{Volume: 60, Mute: MuteTrue, VolumeRange: "30-100", Signal: 0, NoSignalFor: 9}
	if st != want {
		t.Errorf("expected %+v, got %+v", want, st)
	}

	// Served from cache, so the getters agree with the single load.
	if out.Volume() != 60 || out.Mute() != MuteTrue || out.VolumeRange() != "30-100" ||
		out.Signal() != 0 || out.NoSignalFor() != 9 {
		t.Error("getters disagree with the loaded record")
	}
	if out.LogicalName() != "amp" || out.AdvertisedValue() != "40" {
		t.Error("base attributes should be parsed by the base handler")
	}
}

func TestLoadIsNeverPartial(t *testing.T) {
	reg, hub, _ := newTestRegistry(t)
	out := FindAudioOut(reg, "YMINIAMP-1.audioOut1")

	var wg sync.WaitGroup
	stop := make(chan struct{})

	wg.Add(1)
	go func() {
		defer wg.Done()
		for i := 0; i < 200; i++ {
			if i%2 == 0 {
				hub.SetRecord("YMINIAMP-1.audioOut1", ampRecord(1, 1, "a", 1, 1))
			} else {
				hub.SetRecord("YMINIAMP-1.audioOut1", ampRecord(2, 0, "b", 2, 2))
			}
			if err := out.Load(context.Background()); err != nil {
				t.Errorf("load failed: %v", err)
				break
			}
		}
		close(stop)
	}()

	for {
		select {
		case <-stop:
			wg.Wait()
			return
		default:
		}
		st := out.cached()
		if st.Volume == VolumeInvalid {
			continue
		}
		one := State{Volume: 1, Mute: MuteTrue, VolumeRange: "a", Signal: 1, NoSignalFor: 1}
		two := State{Volume: 2, Mute: MuteFalse, VolumeRange: "b", Signal: 2, NoSignalFor: 2}
		if st != one && st != two {
			t.Fatalf("observed a partial update: %+v", st)
		}
	}
}

func TestExpiredCacheTriggersExactlyOneLoad(t *testing.T) {
	reg, hub, ticks := newTestRegistry(t)
	out := FindAudioOut(reg, "YMINIAMP-1.audioOut1")

	if out.Volume() != 40 {
		t.Fatalf("expected volume 40, got %d", out.Volume())
	}
	if hub.Loads() != 1 {
		t.Fatalf("expected 1 load, got %d", hub.Loads())
	}

	// Still fresh: served from cache.
	out.Mute()
	out.Signal()
	if hub.Loads() != 1 {
		t.Errorf("fresh cache should not reload, got %d loads", hub.Loads())
	}

	hub.SetRecord("YMINIAMP-1.audioOut1", ampRecord(75, 0, "30-100", 12, 0))
	ticks.Advance(reg.CacheValidity().Milliseconds())

	if out.Volume() != 75 {
		t.Errorf("expected reloaded volume 75, got %d", out.Volume())
	}
	if hub.Loads() != 2 {
		t.Errorf("expected exactly one extra load after expiry, got %d loads", hub.Loads())
	}
}

func TestFailedReloadKeepsValuesButReturnsSentinel(t *testing.T) {
	reg, hub, ticks := newTestRegistry(t)
	out := FindAudioOut(reg, "YMINIAMP-1.audioOut1")

	if out.Volume() != 40 {
		t.Fatalf("expected volume 40, got %d", out.Volume())
	}

	ticks.Advance(1000)
	hub.Fail = errors.New("unplugged")
	reg.InvalidateInventory()

	if out.Volume() != VolumeInvalid {
		t.Error("a stale handle whose reload fails must return the sentinel")
	}
	if out.cached().Volume != 40 {
		t.Error("failed load must not clear previously loaded values")
	}
}

func TestSetVolumeSerialization(t *testing.T) {
	reg, hub, _ := newTestRegistry(t)
	out := FindAudioOut(reg, "kitchen.right")

	if status := out.SetVolume(50); status != yapi.Success {
		t.Fatalf("expected success, got %v", status)
	}
	if status := out.SetMute(true); status != yapi.Success {
		t.Fatalf("expected success, got %v", status)
	}
	if status := out.SetMute(false); status != yapi.Success {
		t.Fatalf("expected success, got %v", status)
	}

	want := []yapitest.SetCall{
		{HardwareID: "YMINIAMP-1.audioOut2", Attr: "volume", Value: "50"},
		{HardwareID: "YMINIAMP-1.audioOut2", Attr: "mute", Value: "1"},
		{HardwareID: "YMINIAMP-1.audioOut2", Attr: "mute", Value: "0"},
	}
	sets := hub.Sets()
	if len(sets) != len(want) {
		t.Fatalf("expected %d sets, got %d", len(want), len(sets))
	}
	for i := range want {
		if sets[i] != want[i] {
			t.Errorf("set %d: expected %+v, got %+v", i, want[i], sets[i])
		}
	}
}

func TestSetDoesNotTouchCache(t *testing.T) {
	reg, hub, _ := newTestRegistry(t)
	out := FindAudioOut(reg, "YMINIAMP-1.audioOut1")

	if out.Volume() != 40 {
		t.Fatalf("expected volume 40, got %d", out.Volume())
	}
	expiration := out.CacheExpiration()

	if out.SetVolume(90) != yapi.Success {
		t.Fatal("set failed")
	}

	if out.Volume() != 40 {
		t.Error("cached volume must not change until the next load")
	}
	if out.CacheExpiration() != expiration {
		t.Error("set must not move the cache expiration")
	}
	if hub.Loads() != 1 {
		t.Errorf("set must not trigger a load, got %d loads", hub.Loads())
	}
}

func TestSetFailureReturnsNegativeStatus(t *testing.T) {
	reg, hub, _ := newTestRegistry(t)
	out := FindAudioOut(reg, "YMINIAMP-1.audioOut1")

	// Resolve once so the inventory is cached, then fail the write itself.
	if !out.IsOnline(context.Background()) {
		t.Fatal("expected output to be online")
	}
	hub.Fail = &yapi.Error{Code: yapi.DeviceBusy}

	status := out.SetVolume(20)
	if status != yapi.DeviceBusy {
		t.Errorf("expected DeviceBusy, got %v", status)
	}
	if !status.IsErr() {
		t.Error("failure status must be negative")
	}

	if err := out.SetMuteContext(context.Background(), true); !errors.Is(err, &yapi.Error{Code: yapi.DeviceBusy}) {
		t.Errorf("expected DeviceBusy error, got %v", err)
	}
}

func TestParseMute(t *testing.T) {
	tests := []struct {
		in      string
		want    Mute
		wantErr bool
	}{
		{"on", MuteTrue, false},
		{"TRUE", MuteTrue, false},
		{"1", MuteTrue, false},
		{"off", MuteFalse, false},
		{" no ", MuteFalse, false},
		{"0", MuteFalse, false},
		{"maybe", MuteInvalid, true},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseMute(tt.in)
			if (err != nil) != tt.wantErr {
				t.Fatalf("unexpected error state: %v", err)
			}
			if got != tt.want {
				t.Errorf("expected %v, got %v", tt.want, got)
			}
		})
	}

	if MuteTrue.String() != "on" || MuteFalse.String() != "off" || MuteInvalid.String() != "invalid" {
		t.Error("unexpected Mute names")
	}
	if !MuteTrue.Bool() || MuteInvalid.Bool() {
		t.Error("unexpected Mute.Bool results")
	}
}
