// ABOUTME: Transport abstraction between the registry and a hub
// ABOUTME: Defines inventory types shared by every transport
package yapi

import "context"

// Transport serves inventories and function records for one hub.
type Transport interface {
	// Name identifies the hub in logs and errors.
	Name() string

	// Inventory lists the modules and functions currently online.
	Inventory(ctx context.Context) (*Inventory, error)

	// FunctionRecord fetches every attribute of one function.
	FunctionRecord(ctx context.Context, module ModuleInfo, funcID string) (Record, error)

	// SetAttribute writes one attribute of one function.
	SetAttribute(ctx context.Context, module ModuleInfo, funcID, attr, value string) error
}

// ModuleInfo is a white-pages entry.
type ModuleInfo struct {
	Serial      string `json:"serialNumber"`
	LogicalName string `json:"logicalName"`
	ProductName string `json:"productName"`
	ProductID   int    `json:"productId"`
	NetworkURL  string `json:"networkUrl"`
	Beacon      int    `json:"beaconState"`
	Index       int    `json:"index"`
}

// FunctionInfo is a yellow-pages entry.
type FunctionInfo struct {
	Class         string
	Serial        string
	FunctionID    string
	FunctionName  string
	FunctionValue string
	Index         int
}

// HardwareID returns "serial.functionId".
func (f FunctionInfo) HardwareID() string {
	return f.Serial + "." + f.FunctionID
}

// Inventory is the white and yellow pages of a hub.
type Inventory struct {
	Modules   []ModuleInfo
	Functions map[string][]FunctionInfo // by class name, hub order
}

// Module returns the white-pages entry for a serial number.
func (inv *Inventory) Module(serial string) (ModuleInfo, bool) {
	for _, m := range inv.Modules {
		if m.Serial == serial {
			return m, true
		}
	}
	return ModuleInfo{}, false
}
