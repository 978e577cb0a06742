// ABOUTME: Registry owning the handle cache, hubs and inventory snapshots
// ABOUTME: Implements load, set, enumeration and identifier resolution
package yapi

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

const (
	// DefaultCacheValidity is how long a loaded record is served from cache.
	DefaultCacheValidity = 5 * time.Millisecond

	// DefaultInventoryValidity is how long a hub inventory is reused.
	DefaultInventoryValidity = time.Second
)

// Config holds registry configuration
type Config struct {
	// CacheValidity for getter-triggered loads (default: DefaultCacheValidity)
	CacheValidity time.Duration

	// InventoryValidity for hub white/yellow pages (default: DefaultInventoryValidity)
	InventoryValidity time.Duration

	// Ticks overrides the monotonic clock (tests)
	Ticks TickSource

	Logger zerolog.Logger
}

type cacheKey struct {
	class string
	id    string
}

// hubState caches one hub's inventory. A failed fetch is remembered until
// expires so an unreachable hub is not retried on every lookup.
type hubState struct {
	transport Transport

	mu      sync.Mutex
	inv     *Inventory
	err     error
	expires int64
	fetch   chan struct{} // closed when the running refresh ends
}

// located is a function entry together with the hub that serves it.
type located struct {
	info   FunctionInfo
	module ModuleInfo
	hub    Transport
}

// Registry is the process-side collaborator of every function handle.
// It is safe for concurrent use.
type Registry struct {
	config Config
	ticks  TickSource
	log    zerolog.Logger

	cacheMu sync.Mutex
	cache   map[cacheKey]Handle

	hubsMu sync.Mutex
	hubs   []*hubState
}

// New creates a registry with no hubs.
func New(config Config) *Registry {
	if config.CacheValidity == 0 {
		config.CacheValidity = DefaultCacheValidity
	}
	if config.InventoryValidity == 0 {
		config.InventoryValidity = DefaultInventoryValidity
	}
	ticks := config.Ticks
	if ticks == nil {
		ticks = NewMonotonicTicks()
	}

	return &Registry{
		config: config,
		ticks:  ticks,
		log:    config.Logger,
		cache:  make(map[cacheKey]Handle),
	}
}

// RegisterHub adds a hub. Inventories are merged in registration order.
func (r *Registry) RegisterHub(t Transport) {
	r.hubsMu.Lock()
	defer r.hubsMu.Unlock()

	r.hubs = append(r.hubs, &hubState{transport: t})
	r.log.Info().Str("hub", t.Name()).Msg("Hub registered")
}

// TickCount returns the registry clock in milliseconds.
func (r *Registry) TickCount() int64 {
	return r.ticks.TickCount()
}

// CacheValidity returns the default validity used by getters.
func (r *Registry) CacheValidity() time.Duration {
	return r.config.CacheValidity
}

// FindCached returns the handle registered for (class, id).
func (r *Registry) FindCached(class, id string) (Handle, bool) {
	r.cacheMu.Lock()
	defer r.cacheMu.Unlock()

	h, ok := r.cache[cacheKey{class, id}]
	return h, ok
}

// AddToCache registers h for (class, id), replacing any previous handle.
func (r *Registry) AddToCache(class, id string, h Handle) {
	r.cacheMu.Lock()
	defer r.cacheMu.Unlock()

	r.cache[cacheKey{class, id}] = h
}

// LoadOrStore returns the cached handle for (class, id) or registers the one
// built by create. The lookup and insert happen under one lock.
func (r *Registry) LoadOrStore(class, id string, create func() Handle) Handle {
	r.cacheMu.Lock()
	defer r.cacheMu.Unlock()

	key := cacheKey{class, id}
	if h, ok := r.cache[key]; ok {
		return h
	}
	h := create()
	r.cache[key] = h
	return h
}

// Load fetches the function record of h and applies it in one step.
// On failure the handle keeps its previous values and expiration.
func (r *Registry) Load(ctx context.Context, h Handle, validity time.Duration) error {
	f := h.Base()
	op := "load " + f.className + " " + f.identifier

	loc, err := r.locate(ctx, f.className, f.identifier)
	if err != nil {
		r.log.Debug().Err(err).Str("id", f.identifier).Msg("Load failed")
		return err
	}

	rec, err := loc.hub.FunctionRecord(ctx, loc.module, loc.info.FunctionID)
	if err != nil {
		r.log.Debug().Err(err).Str("hwid", loc.info.HardwareID()).Msg("Load failed")
		return err
	}

	attrs, err := rec.Attrs()
	if err != nil {
		return &Error{Code: IOError, Op: op, Msg: "bad function record", Err: err}
	}

	f.apply(h, attrs, r.TickCount()+validity.Milliseconds())
	r.log.Debug().Str("hwid", loc.info.HardwareID()).Int("attrs", len(attrs)).Msg("Function loaded")
	return nil
}

// SetAttribute writes one attribute of the function behind h.
func (r *Registry) SetAttribute(ctx context.Context, h Handle, name, value string) error {
	f := h.Base()

	loc, err := r.locate(ctx, f.className, f.identifier)
	if err != nil {
		return err
	}
	return loc.hub.SetAttribute(ctx, loc.module, loc.info.FunctionID, name, value)
}

// FunctionsByClass lists online functions of a class in enumeration order.
func (r *Registry) FunctionsByClass(ctx context.Context, class string) ([]FunctionInfo, error) {
	list, err := r.functions(ctx, class)
	if err != nil {
		return nil, err
	}

	infos := make([]FunctionInfo, len(list))
	for i, l := range list {
		infos[i] = l.info
	}
	return infos, nil
}

// NextHardwareID returns the hardware id following h in enumeration order,
// or "" when h is the last one.
func (r *Registry) NextHardwareID(ctx context.Context, h Handle) (string, error) {
	f := h.Base()

	list, err := r.functions(ctx, f.className)
	if err != nil {
		return "", err
	}
	cur, err := resolveIn(list, f.className, f.identifier)
	if err != nil {
		return "", err
	}

	for i, l := range list {
		if l.info.HardwareID() == cur.info.HardwareID() {
			if i+1 < len(list) {
				return list[i+1].info.HardwareID(), nil
			}
			break
		}
	}
	return "", nil
}

// Resolve maps an identifier to the function it designates right now.
func (r *Registry) Resolve(ctx context.Context, class, id string) (FunctionInfo, error) {
	loc, err := r.locate(ctx, class, id)
	if err != nil {
		return FunctionInfo{}, err
	}
	return loc.info, nil
}

func (r *Registry) locate(ctx context.Context, class, id string) (located, error) {
	list, err := r.functions(ctx, class)
	if err != nil {
		return located{}, err
	}
	return resolveIn(list, class, id)
}

// resolveIn searches hardware names first, then logical names. The first
// match in enumeration order wins and ambiguity is not reported.
func resolveIn(list []located, class, id string) (located, error) {
	for _, l := range list {
		if l.info.HardwareID() == id {
			return l, nil
		}
	}

	dot := strings.Index(id, ".")
	if dot < 0 {
		if id != "" {
			for _, l := range list {
				if l.info.FunctionName == id {
					return l, nil
				}
			}
		}
		return located{}, newError(DeviceNotFound, "resolve", "no %s named %q", class, id)
	}

	dev, fn := id[:dot], id[dot+1:]
	if dev != "" && fn != "" {
		for _, l := range list {
			if l.info.Serial == dev && l.info.FunctionName == fn {
				return l, nil
			}
		}
		for _, l := range list {
			if l.module.LogicalName == dev && l.info.FunctionID == fn {
				return l, nil
			}
		}
		for _, l := range list {
			if l.module.LogicalName == dev && l.info.FunctionName == fn {
				return l, nil
			}
		}
	}
	return located{}, newError(DeviceNotFound, "resolve", "no %s matches %q", class, id)
}

// functions merges the class entries of every reachable hub. Hubs are
// refreshed concurrently and a hardware id served by several hubs is kept
// from the first one in registration order.
func (r *Registry) functions(ctx context.Context, class string) ([]located, error) {
	r.hubsMu.Lock()
	hubs := append([]*hubState(nil), r.hubs...)
	r.hubsMu.Unlock()

	if len(hubs) == 0 {
		return nil, newError(NotInitialized, "enumerate", "no hub registered")
	}

	invs := make([]*Inventory, len(hubs))
	errs := make([]error, len(hubs))
	var wg sync.WaitGroup
	for i, hs := range hubs {
		wg.Add(1)
		go func(i int, hs *hubState) {
			defer wg.Done()
			invs[i], errs[i] = r.inventory(ctx, hs)
		}(i, hs)
	}
	wg.Wait()

	var (
		list    []located
		lastErr error
		online  int
	)
	seen := make(map[string]bool)
	for i, hs := range hubs {
		if errs[i] != nil {
			lastErr = errs[i]
			continue
		}
		online++

		inv := invs[i]
		for _, fi := range inv.Functions[class] {
			hwid := fi.HardwareID()
			if seen[hwid] {
				continue
			}
			seen[hwid] = true

			mod, ok := inv.Module(fi.Serial)
			if !ok {
				mod = ModuleInfo{Serial: fi.Serial}
			}
			list = append(list, located{info: fi, module: mod, hub: hs.transport})
		}
	}

	if online == 0 {
		return nil, lastErr
	}
	return list, nil
}

// inventory returns the hub inventory, refetching it once expired. While
// another caller refreshes the hub the previous outcome is served; callers
// only wait when the hub was never fetched.
func (r *Registry) inventory(ctx context.Context, hs *hubState) (*Inventory, error) {
	hs.mu.Lock()
	if hs.expires > r.TickCount() {
		inv, err := hs.inv, hs.err
		hs.mu.Unlock()
		return inv, err
	}

	if wait := hs.fetch; wait != nil {
		inv, err := hs.inv, hs.err
		hs.mu.Unlock()
		if inv != nil || err != nil {
			return inv, err
		}
		select {
		case <-wait:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
		hs.mu.Lock()
		defer hs.mu.Unlock()
		if hs.inv == nil && hs.err == nil {
			return nil, newError(IOError, "inventory", "hub %s not fetched", hs.transport.Name())
		}
		return hs.inv, hs.err
	}

	done := make(chan struct{})
	hs.fetch = done
	hs.mu.Unlock()

	inv, err := hs.transport.Inventory(ctx)

	hs.mu.Lock()
	defer hs.mu.Unlock()
	hs.fetch = nil
	close(done)

	if err != nil && ctx.Err() != nil {
		// The caller gave up; the hub itself may be fine.
		return nil, err
	}
	hs.expires = r.TickCount() + r.config.InventoryValidity.Milliseconds()
	if err != nil {
		r.log.Warn().Err(err).Str("hub", hs.transport.Name()).Msg("Hub unreachable")
		hs.inv, hs.err = nil, err
		return nil, err
	}
	hs.inv, hs.err = inv, nil
	return inv, nil
}

// InvalidateInventory forces the next lookup to refetch every hub inventory.
func (r *Registry) InvalidateInventory() {
	r.hubsMu.Lock()
	defer r.hubsMu.Unlock()

	for _, hs := range r.hubs {
		hs.mu.Lock()
		hs.expires = 0
		hs.mu.Unlock()
	}
}
