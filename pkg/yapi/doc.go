// ABOUTME: Function registry for Yoctopuce hubs
// ABOUTME: Handle cache, attribute load/set, enumeration and hub transport
// Package yapi is the runtime behind the typed function accessors.
//
// A Registry owns the handle cache, the monotonic tick source used for cache
// expiry, and the hubs that serve function records. Accessor packages such
// as audioout embed Function in their handle types and delegate all fetching
// and enumeration to the registry.
//
// Example:
//
//	reg := yapi.New(yapi.Config{})
//	hub, err := yapi.NewHub(yapi.HubConfig{URL: "127.0.0.1:4444"})
//	reg.RegisterHub(hub)
//	funcs, err := reg.FunctionsByClass(ctx, "AudioOut")
package yapi
