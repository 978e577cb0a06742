// ABOUTME: Lookup and enumeration of AudioOut handles
// ABOUTME: Find goes through the registry cache, First/Next walk the yellow pages
package audioout

import (
	"context"

	"github.com/yoctolink/audioout/pkg/yapi"
)

// FindAudioOut returns the handle for an identifier, creating and caching it
// on first use. Accepted forms are FunctionLogicalName, Serial.FunctionId,
// Serial.FunctionLogicalName, ModuleLogicalName.FunctionId and
// ModuleLogicalName.FunctionLogicalName.
//
// The device does not have to be online. When a logical name is ambiguous the
// first function found is used, hardware names being searched before logical
// names.
func FindAudioOut(reg *yapi.Registry, id string) *AudioOut {
	h := reg.LoadOrStore(ClassName, id, func() yapi.Handle {
		return newAudioOut(reg, id)
	})
	return h.(*AudioOut)
}

// FirstAudioOut returns the first audio output online, or nil.
func FirstAudioOut(reg *yapi.Registry) *AudioOut {
	return firstAudioOut(context.Background(), reg)
}

func firstAudioOut(ctx context.Context, reg *yapi.Registry) *AudioOut {
	funcs, err := reg.FunctionsByClass(ctx, ClassName)
	if err != nil || len(funcs) == 0 {
		return nil
	}
	return FindAudioOut(reg, funcs[0].Serial+"."+funcs[0].FunctionID)
}

// NextAudioOut continues an enumeration started with FirstAudioOut. It returns
// nil when there are no more audio outputs.
func (a *AudioOut) NextAudioOut() *AudioOut {
	return a.nextAudioOut(context.Background())
}

func (a *AudioOut) nextAudioOut(ctx context.Context) *AudioOut {
	hwid, err := a.Registry().NextHardwareID(ctx, a)
	if err != nil || hwid == "" {
		return nil
	}
	return FindAudioOut(a.Registry(), hwid)
}

// All enumerates every audio output online. A hardware id is never returned
// twice, even if the hub inventory changes during the walk.
func All(ctx context.Context, reg *yapi.Registry) []*AudioOut {
	var (
		outs []*AudioOut
		seen = make(map[string]bool)
	)
	for a := firstAudioOut(ctx, reg); a != nil; a = a.nextAudioOut(ctx) {
		id := a.FunctionIdentifier()
		if seen[id] {
			break
		}
		seen[id] = true
		outs = append(outs, a)
	}
	return outs
}
