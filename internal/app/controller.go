// ABOUTME: Controller application orchestration
// ABOUTME: Builds the registry from config and runs list, set, TUI and headless modes
package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"text/tabwriter"
	"time"

	"github.com/rs/zerolog"
	"github.com/yoctolink/audioout/internal/client"
	"github.com/yoctolink/audioout/internal/config"
	"github.com/yoctolink/audioout/internal/discovery"
	"github.com/yoctolink/audioout/internal/monitor"
	"github.com/yoctolink/audioout/internal/protocol"
	"github.com/yoctolink/audioout/internal/ui"
	"github.com/yoctolink/audioout/internal/version"
	"github.com/yoctolink/audioout/pkg/audioout"
	"github.com/yoctolink/audioout/pkg/yapi"
)

// Config holds controller configuration
type Config struct {
	Settings *config.Config

	// Hubs overrides Settings.Hubs when non-empty
	Hubs []string

	// Discover adds hubs found by mDNS
	Discover bool

	// Transports are registered in addition to the configured hubs
	Transports []yapi.Transport

	Logger zerolog.Logger
}

// Controller drives audio outputs through a local registry
type Controller struct {
	config   Config
	settings *config.Config
	log      zerolog.Logger
	registry *yapi.Registry

	hubsMu sync.Mutex
	hubs   []string
}

// New creates a controller and registers its hubs
func New(cfg Config) (*Controller, error) {
	settings := cfg.Settings
	if settings == nil {
		settings = config.Default()
	}

	reg, hubs, err := NewRegistry(settings, cfg.Hubs, cfg.Discover, cfg.Logger)
	if err != nil && len(cfg.Transports) == 0 {
		return nil, err
	}
	for _, t := range cfg.Transports {
		reg.RegisterHub(t)
		hubs = append(hubs, t.Name())
	}

	return &Controller{
		config:   cfg,
		settings: settings,
		log:      cfg.Logger,
		registry: reg,
		hubs:     hubs,
	}, nil
}

// NewRegistry builds a registry over the configured and discovered hubs.
// The registry is returned even when no hub could be registered.
func NewRegistry(settings *config.Config, override []string, discover bool, log zerolog.Logger) (*yapi.Registry, []string, error) {
	reg := yapi.New(yapi.Config{
		CacheValidity:     settings.CacheValidity(),
		InventoryValidity: settings.InventoryValidity(),
		Logger:            log,
	})

	addrs := settings.Hubs
	if len(override) > 0 {
		addrs = override
	}
	if discover {
		found, err := discoverHubs(settings, log)
		if err != nil {
			log.Warn().Err(err).Msg("Hub discovery failed")
		}
		addrs = append(append([]string(nil), addrs...), found...)
	}

	var (
		hubs []string
		errs []error
	)
	seen := make(map[string]bool)
	for _, addr := range addrs {
		hub, err := yapi.NewHub(yapi.HubConfig{
			URL:       addr,
			Timeout:   settings.RequestTimeout(),
			UserAgent: version.UserAgent(),
			Logger:    log,
		})
		if err != nil {
			errs = append(errs, fmt.Errorf("hub %s: %w", addr, err))
			continue
		}
		if seen[hub.Name()] {
			continue
		}
		seen[hub.Name()] = true
		reg.RegisterHub(hub)
		hubs = append(hubs, hub.Name())
		log.Debug().Str("hub", hub.Name()).Msg("Hub registered")
	}

	if len(hubs) == 0 {
		errs = append(errs, &yapi.Error{Code: yapi.NotInitialized, Op: "registry", Msg: "no usable hub"})
		return reg, nil, errors.Join(errs...)
	}
	for _, err := range errs {
		log.Warn().Err(err).Msg("Skipping hub")
	}
	return reg, hubs, nil
}

// discoverHubs runs one mDNS query for hubs
func discoverHubs(settings *config.Config, log zerolog.Logger) ([]string, error) {
	mgr := discovery.NewManager(discoveryConfig(settings, log))
	defer mgr.Stop()

	found, err := mgr.Discover()
	addrs := make([]string, 0, len(found))
	for _, h := range found {
		log.Info().Str("name", h.Name).Str("addr", h.Addr()).Msg("Discovered hub")
		addrs = append(addrs, h.Addr())
	}
	return addrs, err
}

func discoveryConfig(settings *config.Config, log zerolog.Logger) discovery.Config {
	return discovery.Config{
		Service:      settings.Discovery.Service,
		Domain:       settings.Discovery.Domain,
		Timeout:      settings.DiscoveryTimeout(),
		NamePrefixes: settings.Discovery.NamePrefixes,
		Logger:       log,
	}
}

// watchHubs registers hubs announced after startup until ctx ends
func (c *Controller) watchHubs(ctx context.Context) {
	mgr := discovery.NewManager(discoveryConfig(c.settings, c.log))
	defer mgr.Stop()

	if err := mgr.Browse(); err != nil {
		c.log.Warn().Err(err).Msg("Hub browsing failed")
		return
	}
	for {
		select {
		case h := <-mgr.Hubs():
			if err := c.AddHub(h.Addr()); err != nil {
				c.log.Warn().Err(err).Str("addr", h.Addr()).Msg("Skipping discovered hub")
			}
		case <-ctx.Done():
			return
		}
	}
}

// AddHub registers one more hub unless it is already known
func (c *Controller) AddHub(addr string) error {
	hub, err := yapi.NewHub(yapi.HubConfig{
		URL:       addr,
		Timeout:   c.settings.RequestTimeout(),
		UserAgent: version.UserAgent(),
		Logger:    c.log,
	})
	if err != nil {
		return err
	}

	c.hubsMu.Lock()
	defer c.hubsMu.Unlock()
	for _, name := range c.hubs {
		if name == hub.Name() {
			return nil
		}
	}
	c.registry.RegisterHub(hub)
	c.hubs = append(c.hubs, hub.Name())
	return nil
}

// Registry returns the controller's registry
func (c *Controller) Registry() *yapi.Registry {
	return c.registry
}

// Hubs returns the registered hub names
func (c *Controller) Hubs() []string {
	c.hubsMu.Lock()
	defer c.hubsMu.Unlock()
	return append([]string(nil), c.hubs...)
}

// List writes one line per audio output
func (c *Controller) List(ctx context.Context, w io.Writer) error {
	outs := audioout.All(ctx, c.registry)
	if len(outs) == 0 {
		if _, err := c.registry.FunctionsByClass(ctx, audioout.ClassName); err != nil {
			return fmt.Errorf("failed to enumerate outputs: %w", err)
		}
	}

	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tNAME\tVOLUME\tMUTE\tRANGE\tSIGNAL\tNO SIGNAL FOR")
	for _, out := range outs {
		hwid, err := out.HardwareID(ctx)
		if err != nil {
			hwid = out.FunctionIdentifier()
		}
		st, err := out.State(ctx)
		if err != nil {
			c.log.Debug().Err(err).Str("id", hwid).Msg("Output unreachable")
			fmt.Fprintf(tw, "%s\t\toffline\t\t\t\t\n", hwid)
			continue
		}
		fmt.Fprintf(tw, "%s\t%s\t%d%%\t%s\t%s\t%d\t%ds\n",
			hwid, out.LogicalName(), st.Volume, st.Mute, st.VolumeRange, st.Signal, st.NoSignalFor)
	}
	return tw.Flush()
}

// Get writes the attributes of one output
func (c *Controller) Get(ctx context.Context, id string, w io.Writer) error {
	out := audioout.FindAudioOut(c.registry, id)
	st, err := out.State(ctx)
	if err != nil {
		return fmt.Errorf("failed to read %s: %w", id, err)
	}
	hwid, _ := out.HardwareID(ctx)

	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintf(tw, "id\t%s\n", hwid)
	fmt.Fprintf(tw, "logicalName\t%s\n", out.LogicalName())
	fmt.Fprintf(tw, "volume\t%d\n", st.Volume)
	fmt.Fprintf(tw, "mute\t%s\n", st.Mute)
	fmt.Fprintf(tw, "volumeRange\t%s\n", st.VolumeRange)
	fmt.Fprintf(tw, "signal\t%d\n", st.Signal)
	fmt.Fprintf(tw, "noSignalFor\t%d\n", st.NoSignalFor)
	return tw.Flush()
}

// Apply pushes a volume and/or mute change to one output
func (c *Controller) Apply(ctx context.Context, id string, volume *int, mute *bool) error {
	if volume == nil && mute == nil {
		return &yapi.Error{Code: yapi.InvalidArgument, Op: "apply", Msg: "nothing to set"}
	}

	out := audioout.FindAudioOut(c.registry, id)
	if volume != nil {
		if *volume < 0 || *volume > 100 {
			return &yapi.Error{Code: yapi.InvalidArgument, Op: "apply", Msg: fmt.Sprintf("volume %d out of range", *volume)}
		}
		if err := out.SetVolumeContext(ctx, *volume); err != nil {
			return fmt.Errorf("failed to set volume on %s: %w", id, err)
		}
		c.log.Info().Str("id", id).Int("volume", *volume).Msg("Volume set")
	}
	if mute != nil {
		if err := out.SetMuteContext(ctx, *mute); err != nil {
			return fmt.Errorf("failed to set mute on %s: %w", id, err)
		}
		c.log.Info().Str("id", id).Bool("mute", *mute).Msg("Mute set")
	}
	return nil
}

// RunTUI runs the interactive controller until the user quits or ctx ends
func (c *Controller) RunTUI(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	mon := c.newMonitor()
	events := mon.Subscribe()
	defer mon.Unsubscribe(events)
	go mon.Run(ctx)

	if c.config.Discover {
		go c.watchHubs(ctx)
	}

	ctrl := ui.NewControl()
	tui := ui.New(ctrl, c.Hubs())

	go func() {
		for {
			select {
			case cmd := <-ctrl.Commands:
				err := c.Apply(ctx, cmd.HardwareID, cmd.Volume, cmd.Mute)
				if err != nil {
					c.log.Warn().Err(err).Msg("Command failed")
				}
				tui.Result(cmd.HardwareID, err)
			case <-ctrl.Quit:
				cancel()
				return
			case <-ctx.Done():
				tui.Stop()
				return
			}
		}
	}()

	return tui.Run(events)
}

// RunHeadless logs every output change until ctx ends
func (c *Controller) RunHeadless(ctx context.Context) error {
	mon := c.newMonitor()
	events := mon.Subscribe()
	defer mon.Unsubscribe(events)

	if c.config.Discover {
		go c.watchHubs(ctx)
	}

	done := make(chan error, 1)
	go func() { done <- mon.Run(ctx) }()

	for {
		select {
		case ev := <-events:
			if !ev.Online {
				c.log.Info().Str("id", ev.HardwareID).Msg("Output offline")
				continue
			}
			c.log.Info().
				Str("id", ev.HardwareID).
				Str("name", ev.LogicalName).
				Int("volume", ev.State.Volume).
				Stringer("mute", ev.State.Mute).
				Int("signal", ev.State.Signal).
				Int("no_signal_for", ev.State.NoSignalFor).
				Msg("Output state")
		case err := <-done:
			if errors.Is(err, context.Canceled) {
				return nil
			}
			return err
		}
	}
}

func (c *Controller) newMonitor() *monitor.Monitor {
	return monitor.New(monitor.Config{
		Registry: c.registry,
		Interval: c.settings.PollInterval(),
		Logger:   c.log,
	})
}

// ListRemote writes the outputs known to a bridge
func ListRemote(bridgeAddr string, w io.Writer, log zerolog.Logger) error {
	cl, err := dialBridge(bridgeAddr, log)
	if err != nil {
		return err
	}
	defer cl.Close()

	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tNAME\tVOLUME\tMUTE\tRANGE\tSIGNAL\tNO SIGNAL FOR")
	for _, out := range cl.Outputs() {
		if !out.Online {
			fmt.Fprintf(tw, "%s\t%s\toffline\t\t\t\t\n", out.HardwareID, out.LogicalName)
			continue
		}
		fmt.Fprintf(tw, "%s\t%s\t%d%%\t%s\t%s\t%d\t%ds\n",
			out.HardwareID, out.LogicalName, out.Volume, audioout.Mute(out.Mute),
			out.VolumeRange, out.Signal, out.NoSignalFor)
	}
	return tw.Flush()
}

// WatchRemote logs every state change a bridge broadcasts until ctx ends
// or the bridge goes away.
func WatchRemote(ctx context.Context, bridgeAddr string, log zerolog.Logger) error {
	cl, err := dialBridge(bridgeAddr, log)
	if err != nil {
		return err
	}
	defer cl.Close()

	log.Info().Str("bridge", cl.Server().Name).Int("outputs", len(cl.Outputs())).Msg("Watching bridge")
	for {
		select {
		case st := <-cl.States:
			if !st.Online {
				log.Info().Str("id", st.HardwareID).Msg("Output offline")
				continue
			}
			log.Info().
				Str("id", st.HardwareID).
				Str("name", st.LogicalName).
				Int("volume", st.Volume).
				Stringer("mute", audioout.Mute(st.Mute)).
				Int("signal", st.Signal).
				Int("no_signal_for", st.NoSignalFor).
				Msg("Output state")
		case <-cl.Done():
			return fmt.Errorf("bridge %s closed the connection", bridgeAddr)
		case <-ctx.Done():
			return nil
		}
	}
}

// ApplyRemote sends a volume and/or mute change through a bridge
func ApplyRemote(ctx context.Context, bridgeAddr, id string, volume *int, mute *bool, log zerolog.Logger) error {
	cl, err := dialBridge(bridgeAddr, log)
	if err != nil {
		return err
	}
	defer cl.Close()

	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	res, err := cl.Set(ctx, protocol.SetCommand{ID: id, Volume: volume, Mute: mute})
	if err != nil {
		return fmt.Errorf("bridge request failed: %w", err)
	}
	if yapi.Status(res.Status).IsErr() {
		return &yapi.Error{Code: yapi.Status(res.Status), Op: "bridge", Msg: res.Error}
	}
	return nil
}

func dialBridge(addr string, log zerolog.Logger) (*client.Client, error) {
	cl := client.NewClient(client.Config{
		BridgeAddr: addr,
		Name:       version.Product,
		Logger:     log,
	})
	if err := cl.Connect(); err != nil {
		return nil, fmt.Errorf("failed to connect to bridge %s: %w", addr, err)
	}
	return cl, nil
}
