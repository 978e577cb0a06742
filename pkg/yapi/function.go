// ABOUTME: Base state shared by every function handle
// ABOUTME: Holds identity, cache expiration and base attributes
package yapi

import (
	"context"
	"sync"
)

// Handle is implemented by typed accessors that embed Function.
type Handle interface {
	// Base returns the embedded Function.
	Base() *Function

	// ParseAttr applies one attribute and reports whether it was recognized.
	// It runs with the handle lock held by the registry.
	ParseAttr(a Attr) bool
}

// Function is the identity and cache state of one function handle.
type Function struct {
	mu sync.RWMutex

	reg        *Registry
	className  string
	identifier string

	cacheExpiration int64

	logicalName     string
	advertisedValue string
}

// Init binds f to a registry. Typed constructors call it once.
func (f *Function) Init(reg *Registry, className, identifier string) {
	f.reg = reg
	f.className = className
	f.identifier = identifier
	f.logicalName = InvalidString
	f.advertisedValue = InvalidString
}

// Base returns f.
func (f *Function) Base() *Function {
	return f
}

// Registry returns the registry the handle belongs to.
func (f *Function) Registry() *Registry {
	return f.reg
}

// ClassName returns the function class, e.g. "AudioOut".
func (f *Function) ClassName() string {
	return f.className
}

// FunctionIdentifier returns the identifier the handle was found with.
func (f *Function) FunctionIdentifier() string {
	return f.identifier
}

// CacheExpiration returns the tick count at which cached values go stale.
func (f *Function) CacheExpiration() int64 {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.cacheExpiration
}

// Expired reports whether cached values must be reloaded.
func (f *Function) Expired() bool {
	return f.CacheExpiration() <= f.reg.TickCount()
}

// View runs fn with the handle read lock held.
func (f *Function) View(fn func()) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	fn()
}

// LogicalName returns the cached logical name of the function.
func (f *Function) LogicalName() string {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.logicalName
}

// AdvertisedValue returns the cached advertised value.
func (f *Function) AdvertisedValue() string {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.advertisedValue
}

// HardwareID resolves the handle to "serial.functionId".
func (f *Function) HardwareID(ctx context.Context) (string, error) {
	info, err := f.reg.Resolve(ctx, f.className, f.identifier)
	if err != nil {
		return "", err
	}
	return info.HardwareID(), nil
}

// IsOnline reports whether the function currently resolves on a hub.
func (f *Function) IsOnline(ctx context.Context) bool {
	_, err := f.reg.Resolve(ctx, f.className, f.identifier)
	return err == nil
}

// parseBaseAttr handles attributes common to every function class.
func (f *Function) parseBaseAttr(a Attr) {
	switch a.Name {
	case AttrLogicalName:
		f.logicalName = a.Str
	case AttrAdvertisedValue:
		f.advertisedValue = a.Str
	}
}

func (f *Function) apply(h Handle, attrs []Attr, expiration int64) {
	f.mu.Lock()
	defer f.mu.Unlock()

	for _, a := range attrs {
		if !h.ParseAttr(a) {
			f.parseBaseAttr(a)
		}
	}
	f.cacheExpiration = expiration
}
