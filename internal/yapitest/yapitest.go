// ABOUTME: Test doubles for the yapi registry
// ABOUTME: In-memory hub transport and a manually advanced tick source
package yapitest

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/yoctolink/audioout/pkg/yapi"
)

// ManualTicks is a TickSource advanced by the test.
type ManualTicks struct {
	now atomic.Int64
}

// NewManualTicks starts the clock at start milliseconds.
func NewManualTicks(start int64) *ManualTicks {
	t := &ManualTicks{}
	t.now.Store(start)
	return t
}

// TickCount implements yapi.TickSource.
func (t *ManualTicks) TickCount() int64 {
	return t.now.Load()
}

// Advance moves the clock forward by ms milliseconds.
func (t *ManualTicks) Advance(ms int64) {
	t.now.Add(ms)
}

// SetCall records one SetAttribute request.
type SetCall struct {
	HardwareID string
	Attr       string
	Value      string
}

// Hub is an in-memory yapi.Transport.
type Hub struct {
	mu        sync.Mutex
	name      string
	modules   []yapi.ModuleInfo
	functions map[string][]yapi.FunctionInfo
	records   map[string]map[string]interface{}

	// Fail makes every call return this error when set.
	Fail error

	// Delay stalls every inventory request, like a hub that does not answer.
	Delay time.Duration

	loads       int
	inventories int
	sets        []SetCall
}

// NewHub creates an empty fake hub.
func NewHub(name string) *Hub {
	return &Hub{
		name:      name,
		functions: make(map[string][]yapi.FunctionInfo),
		records:   make(map[string]map[string]interface{}),
	}
}

// AddModule adds a white-pages entry.
func (h *Hub) AddModule(serial, logicalName string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.modules = append(h.modules, yapi.ModuleInfo{Serial: serial, LogicalName: logicalName, Index: len(h.modules)})
}

// AddFunction adds a yellow-pages entry and its attribute record.
func (h *Hub) AddFunction(class, serial, funcID, logicalName string, record map[string]interface{}) {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.functions[class] = append(h.functions[class], yapi.FunctionInfo{
		Class:        class,
		Serial:       serial,
		FunctionID:   funcID,
		FunctionName: logicalName,
		Index:        len(h.functions[class]),
	})
	if record == nil {
		record = map[string]interface{}{}
	}
	h.records[serial+"."+funcID] = record
}

// SetRecord replaces the attribute record served for a hardware id.
func (h *Hub) SetRecord(hwid string, record map[string]interface{}) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.records[hwid] = record
}

// RemoveFunctions drops every function of a class.
func (h *Hub) RemoveFunctions(class string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.functions, class)
}

// Loads returns how many function records were fetched.
func (h *Hub) Loads() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.loads
}

// Inventories returns how many inventories were fetched.
func (h *Hub) Inventories() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.inventories
}

// Sets returns the recorded SetAttribute calls.
func (h *Hub) Sets() []SetCall {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]SetCall(nil), h.sets...)
}

// Name implements yapi.Transport.
func (h *Hub) Name() string {
	return h.name
}

// Inventory implements yapi.Transport.
func (h *Hub) Inventory(ctx context.Context) (*yapi.Inventory, error) {
	if h.Delay > 0 {
		select {
		case <-time.After(h.Delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	h.inventories++
	if h.Fail != nil {
		return nil, h.Fail
	}

	inv := &yapi.Inventory{
		Modules:   append([]yapi.ModuleInfo(nil), h.modules...),
		Functions: make(map[string][]yapi.FunctionInfo, len(h.functions)),
	}
	for class, fs := range h.functions {
		inv.Functions[class] = append([]yapi.FunctionInfo(nil), fs...)
	}
	return inv, nil
}

// FunctionRecord implements yapi.Transport.
func (h *Hub) FunctionRecord(ctx context.Context, module yapi.ModuleInfo, funcID string) (yapi.Record, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.loads++
	if h.Fail != nil {
		return nil, h.Fail
	}

	src, ok := h.records[module.Serial+"."+funcID]
	if !ok {
		return nil, &yapi.Error{Code: yapi.DeviceNotFound, Op: "load", Msg: fmt.Sprintf("no record for %s.%s", module.Serial, funcID)}
	}

	rec := make(yapi.Record, len(src))
	for k, v := range src {
		raw, err := json.Marshal(v)
		if err != nil {
			return nil, err
		}
		rec[k] = raw
	}
	return rec, nil
}

// SetAttribute implements yapi.Transport.
func (h *Hub) SetAttribute(ctx context.Context, module yapi.ModuleInfo, funcID, attr, value string) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.Fail != nil {
		return h.Fail
	}
	h.sets = append(h.sets, SetCall{HardwareID: module.Serial + "." + funcID, Attr: attr, Value: value})
	return nil
}
