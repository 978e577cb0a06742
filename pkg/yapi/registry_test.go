// ABOUTME: Tests for the registry handle cache, resolution and enumeration
// ABOUTME: Uses the in-memory hub and manual ticks from yapitest
package yapi_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/yoctolink/audioout/internal/yapitest"
	"github.com/yoctolink/audioout/pkg/yapi"
)

// testHandle records every attribute it is given.
type testHandle struct {
	yapi.Function
	seen map[string]yapi.Attr
}

func newTestHandle(reg *yapi.Registry, id string) *testHandle {
	h := &testHandle{seen: make(map[string]yapi.Attr)}
	h.Init(reg, "Test", id)
	return h
}

func (h *testHandle) ParseAttr(a yapi.Attr) bool {
	if a.Name != yapi.AttrUnknown {
		return false
	}
	h.seen[a.Key] = a
	return true
}

func newRegistry(t *testing.T) (*yapi.Registry, *yapitest.Hub, *yapitest.ManualTicks) {
	t.Helper()

	ticks := yapitest.NewManualTicks(1000)
	reg := yapi.New(yapi.Config{Ticks: ticks})

	hub := yapitest.NewHub("hub1")
	hub.AddModule("DEV-A", "living")
	hub.AddModule("DEV-B", "kitchen")
	hub.AddFunction("Test", "DEV-A", "test1", "main", map[string]interface{}{"logicalName": "main", "color": "red"})
	hub.AddFunction("Test", "DEV-A", "test2", "", nil)
	hub.AddFunction("Test", "DEV-B", "test1", "main", nil)
	hub.AddFunction("Test", "DEV-B", "test2", "test1", nil)
	reg.RegisterHub(hub)

	return reg, hub, ticks
}

func TestLoadOrStoreReturnsSameHandle(t *testing.T) {
	reg, _, _ := newRegistry(t)

	created := 0
	create := func() yapi.Handle {
		created++
		return newTestHandle(reg, "main")
	}

	h1 := reg.LoadOrStore("Test", "main", create)
	h2 := reg.LoadOrStore("Test", "main", create)

	if h1 != h2 {
		t.Error("expected the cached handle on second lookup")
	}
	if created != 1 {
		t.Errorf("expected one construction, got %d", created)
	}

	if _, ok := reg.FindCached("Test", "other"); ok {
		t.Error("unexpected cache hit for unknown id")
	}
	if _, ok := reg.FindCached("Other", "main"); ok {
		t.Error("cache must be keyed by class as well as id")
	}
}

func TestAddToCache(t *testing.T) {
	reg, _, _ := newRegistry(t)

	h := newTestHandle(reg, "x")
	reg.AddToCache("Test", "x", h)

	got, ok := reg.FindCached("Test", "x")
	if !ok || got != h {
		t.Error("expected FindCached to return the added handle")
	}
}

func TestResolve(t *testing.T) {
	reg, _, _ := newRegistry(t)
	ctx := context.Background()

	tests := []struct {
		id   string
		want string
	}{
		{"DEV-A.test1", "DEV-A.test1"},      // serial.funcId
		{"main", "DEV-A.test1"},             // logical name, first match wins
		{"DEV-B.main", "DEV-B.test1"},       // serial.funcLogicalName
		{"kitchen.test2", "DEV-B.test2"},    // moduleLogicalName.funcId
		{"kitchen.main", "DEV-B.test1"},     // moduleLogicalName.funcLogicalName
		{"DEV-B.test1", "DEV-B.test1"},      // hardware name before logical name
		{"test1", "DEV-B.test2"},            // logical name only, no dot
	}

	for _, tt := range tests {
		t.Run(tt.id, func(t *testing.T) {
			info, err := reg.Resolve(ctx, "Test", tt.id)
			if err != nil {
				t.Fatalf("resolve failed: %v", err)
			}
			if info.HardwareID() != tt.want {
				t.Errorf("expected %s, got %s", tt.want, info.HardwareID())
			}
		})
	}
}

func TestResolveNotFound(t *testing.T) {
	reg, _, _ := newRegistry(t)

	for _, id := range []string{"nothing", "DEV-A.nothing", "", ".", "DEV-A."} {
		_, err := reg.Resolve(context.Background(), "Test", id)
		if !errors.Is(err, yapi.ErrDeviceNotFound) {
			t.Errorf("%q: expected device not found, got %v", id, err)
		}
	}
}

func TestResolveWithoutHub(t *testing.T) {
	reg := yapi.New(yapi.Config{})

	_, err := reg.Resolve(context.Background(), "Test", "x")
	if !errors.Is(err, yapi.ErrNotInitialized) {
		t.Errorf("expected not initialized, got %v", err)
	}
}

func TestLoadAppliesRecord(t *testing.T) {
	reg, hub, ticks := newRegistry(t)
	h := newTestHandle(reg, "DEV-A.test1")

	if h.LogicalName() != yapi.InvalidString {
		t.Errorf("expected invalid logical name before load, got %q", h.LogicalName())
	}
	if !h.Expired() {
		t.Error("expected a new handle to be expired")
	}

	if err := reg.Load(context.Background(), h, 100*time.Millisecond); err != nil {
		t.Fatalf("load failed: %v", err)
	}

	if hub.Loads() != 1 {
		t.Errorf("expected 1 load, got %d", hub.Loads())
	}
	if h.LogicalName() != "main" {
		t.Errorf("base handler should set logical name, got %q", h.LogicalName())
	}
	if h.seen["color"].Str != "red" {
		t.Errorf("expected unknown attribute to reach the handle, got %+v", h.seen["color"])
	}
	if h.CacheExpiration() != 1100 {
		t.Errorf("expected expiration 1100, got %d", h.CacheExpiration())
	}
	if h.Expired() {
		t.Error("handle should be fresh right after load")
	}

	ticks.Advance(100)
	if !h.Expired() {
		t.Error("handle should expire when ticks reach the deadline")
	}
}

func TestLoadFailureKeepsState(t *testing.T) {
	reg, hub, _ := newRegistry(t)
	h := newTestHandle(reg, "DEV-A.test1")

	hub.Fail = &yapi.Error{Code: yapi.IOError, Op: "test"}
	if err := reg.Load(context.Background(), h, time.Second); err == nil {
		t.Fatal("expected load to fail")
	}

	if h.CacheExpiration() != 0 {
		t.Errorf("expiration must not move on failure, got %d", h.CacheExpiration())
	}
	if h.LogicalName() != yapi.InvalidString {
		t.Errorf("values must not change on failure, got %q", h.LogicalName())
	}
}

func TestSetAttribute(t *testing.T) {
	reg, hub, _ := newRegistry(t)
	h := newTestHandle(reg, "kitchen.main")

	if err := reg.SetAttribute(context.Background(), h, "color", "blue"); err != nil {
		t.Fatalf("set failed: %v", err)
	}

	sets := hub.Sets()
	if len(sets) != 1 {
		t.Fatalf("expected 1 set, got %d", len(sets))
	}
	want := yapitest.SetCall{HardwareID: "DEV-B.test1", Attr: "color", Value: "blue"}
	if sets[0] != want {
		t.Errorf("expected %+v, got %+v", want, sets[0])
	}
}

func TestEnumeration(t *testing.T) {
	reg, _, _ := newRegistry(t)
	ctx := context.Background()

	funcs, err := reg.FunctionsByClass(ctx, "Test")
	if err != nil {
		t.Fatalf("enumeration failed: %v", err)
	}
	if len(funcs) != 4 {
		t.Fatalf("expected 4 functions, got %d", len(funcs))
	}

	var order []string
	h := newTestHandle(reg, funcs[0].HardwareID())
	order = append(order, funcs[0].HardwareID())
	for {
		next, err := reg.NextHardwareID(ctx, h)
		if err != nil {
			t.Fatalf("next failed: %v", err)
		}
		if next == "" {
			break
		}
		order = append(order, next)
		h = newTestHandle(reg, next)
	}

	want := []string{"DEV-A.test1", "DEV-A.test2", "DEV-B.test1", "DEV-B.test2"}
	if len(order) != len(want) {
		t.Fatalf("expected %v, got %v", want, order)
	}
	for i := range want {
		if order[i] != want[i] {
			t.Errorf("position %d: expected %s, got %s", i, want[i], order[i])
		}
	}
}

func TestEnumerationEmptyClass(t *testing.T) {
	reg, _, _ := newRegistry(t)

	funcs, err := reg.FunctionsByClass(context.Background(), "Missing")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(funcs) != 0 {
		t.Errorf("expected no functions, got %d", len(funcs))
	}
}

func TestInventoryIsCached(t *testing.T) {
	reg, hub, ticks := newRegistry(t)
	ctx := context.Background()

	reg.FunctionsByClass(ctx, "Test")
	reg.FunctionsByClass(ctx, "Test")
	if hub.Inventories() != 1 {
		t.Errorf("expected 1 inventory fetch, got %d", hub.Inventories())
	}

	ticks.Advance(yapi.DefaultInventoryValidity.Milliseconds())
	reg.FunctionsByClass(ctx, "Test")
	if hub.Inventories() != 2 {
		t.Errorf("expected refetch after validity, got %d", hub.Inventories())
	}

	reg.InvalidateInventory()
	reg.FunctionsByClass(ctx, "Test")
	if hub.Inventories() != 3 {
		t.Errorf("expected refetch after invalidation, got %d", hub.Inventories())
	}
}

func TestMultipleHubs(t *testing.T) {
	reg, first, _ := newRegistry(t)

	second := yapitest.NewHub("hub2")
	second.AddModule("DEV-C", "")
	second.AddFunction("Test", "DEV-C", "test1", "main", nil)
	reg.RegisterHub(second)

	funcs, err := reg.FunctionsByClass(context.Background(), "Test")
	if err != nil {
		t.Fatalf("enumeration failed: %v", err)
	}
	if len(funcs) != 5 || funcs[4].Serial != "DEV-C" {
		t.Fatalf("expected second hub functions last, got %+v", funcs)
	}

	// An unreachable hub is skipped while others still answer.
	first.Fail = errors.New("down")
	reg.InvalidateInventory()
	funcs, err = reg.FunctionsByClass(context.Background(), "Test")
	if err != nil {
		t.Fatalf("expected partial enumeration, got %v", err)
	}
	if len(funcs) != 1 {
		t.Errorf("expected 1 function from the remaining hub, got %d", len(funcs))
	}

	second.Fail = errors.New("down")
	reg.InvalidateInventory()
	if _, err := reg.FunctionsByClass(context.Background(), "Test"); err == nil {
		t.Error("expected an error when every hub is down")
	}
}

func TestSameDeviceOnTwoHubs(t *testing.T) {
	reg, _, _ := newRegistry(t)
	ctx := context.Background()

	// The same VirtualHub reached under a second address.
	mirror := yapitest.NewHub("mirror")
	mirror.AddModule("DEV-A", "living")
	mirror.AddModule("DEV-B", "kitchen")
	mirror.AddFunction("Test", "DEV-A", "test1", "main", nil)
	mirror.AddFunction("Test", "DEV-A", "test2", "", nil)
	mirror.AddFunction("Test", "DEV-B", "test1", "main", nil)
	mirror.AddFunction("Test", "DEV-B", "test2", "test1", nil)
	reg.RegisterHub(mirror)

	funcs, err := reg.FunctionsByClass(ctx, "Test")
	if err != nil {
		t.Fatalf("enumeration failed: %v", err)
	}
	if len(funcs) != 4 {
		t.Fatalf("expected 4 distinct functions, got %d", len(funcs))
	}

	var seq []string
	seen := make(map[string]bool)
	id := funcs[0].HardwareID()
	for steps := 0; id != "" && steps < 10; steps++ {
		if seen[id] {
			t.Fatalf("enumeration revisited %s after %v", id, seq)
		}
		seen[id] = true
		seq = append(seq, id)

		next, err := reg.NextHardwareID(ctx, newTestHandle(reg, id))
		if err != nil {
			t.Fatalf("next after %s failed: %v", id, err)
		}
		id = next
	}
	want := []string{"DEV-A.test1", "DEV-A.test2", "DEV-B.test1", "DEV-B.test2"}
	if len(seq) != len(want) {
		t.Fatalf("expected %v, got %v", want, seq)
	}
	for i := range want {
		if seq[i] != want[i] {
			t.Errorf("step %d: expected %s, got %s", i, want[i], seq[i])
		}
	}
}

func TestUnreachableHubIsBackedOff(t *testing.T) {
	reg, hub, ticks := newRegistry(t)
	ctx := context.Background()

	dead := yapitest.NewHub("dead")
	dead.Fail = errors.New("no route to host")
	dead.Delay = 200 * time.Millisecond
	reg.RegisterHub(dead)

	if _, err := reg.Resolve(ctx, "Test", "DEV-A.test1"); err != nil {
		t.Fatalf("resolve failed: %v", err)
	}

	start := time.Now()
	for i := 0; i < 5; i++ {
		if _, err := reg.Resolve(ctx, "Test", "DEV-A.test1"); err != nil {
			t.Fatalf("resolve failed: %v", err)
		}
	}
	if elapsed := time.Since(start); elapsed > 150*time.Millisecond {
		t.Errorf("lookups waited on the unreachable hub: %v", elapsed)
	}
	if dead.Inventories() != 1 {
		t.Errorf("expected 1 attempt on the unreachable hub, got %d", dead.Inventories())
	}
	if hub.Inventories() != 1 {
		t.Errorf("expected 1 inventory fetch on the live hub, got %d", hub.Inventories())
	}

	ticks.Advance(yapi.DefaultInventoryValidity.Milliseconds())
	reg.Resolve(ctx, "Test", "DEV-A.test1")
	if dead.Inventories() != 2 {
		t.Errorf("expected a retry once the backoff expired, got %d", dead.Inventories())
	}
}

func TestHandleHelpers(t *testing.T) {
	reg, _, _ := newRegistry(t)
	ctx := context.Background()

	h := newTestHandle(reg, "kitchen.test2")
	if h.ClassName() != "Test" || h.FunctionIdentifier() != "kitchen.test2" {
		t.Errorf("unexpected identity %s/%s", h.ClassName(), h.FunctionIdentifier())
	}
	if h.Registry() != reg {
		t.Error("handle should reference its registry")
	}

	hwid, err := h.HardwareID(ctx)
	if err != nil || hwid != "DEV-B.test2" {
		t.Errorf("expected DEV-B.test2, got %q (%v)", hwid, err)
	}
	if !h.IsOnline(ctx) {
		t.Error("expected handle to be online")
	}
	if newTestHandle(reg, "ghost").IsOnline(ctx) {
		t.Error("expected unknown handle to be offline")
	}
}
