// ABOUTME: Entry point for the AudioOut WebSocket bridge
// ABOUTME: Parses CLI flags and serves hub outputs to remote clients
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/yoctolink/audioout/internal/app"
	"github.com/yoctolink/audioout/internal/bridge"
	"github.com/yoctolink/audioout/internal/config"
	"github.com/yoctolink/audioout/internal/logging"
)

// hubList collects repeated -hub flags
type hubList []string

func (h *hubList) String() string {
	return strings.Join(*h, ",")
}

func (h *hubList) Set(v string) error {
	*h = append(*h, v)
	return nil
}

var (
	hubs       hubList
	configPath = flag.String("config", "", "Config file path (default: platform config dir)")
	port       = flag.Int("port", 0, "WebSocket server port (default from config: 8940)")
	name       = flag.String("name", "", "Bridge friendly name (default: hostname-audioout-bridge)")
	noMDNS     = flag.Bool("no-mdns", false, "Disable mDNS advertisement")
	discover   = flag.Bool("discover", false, "Add hubs found by mDNS")
	noTUI      = flag.Bool("no-tui", false, "Disable TUI, use streaming logs instead")
	logFile    = flag.String("log-file", "", "Log file path (default: platform log dir)")
	logLevel   = flag.String("log-level", "", "Log level (debug, info, warn, error)")
)

func main() {
	flag.Var(&hubs, "hub", "Hub address host[:port] (repeatable, overrides config)")
	flag.Parse()

	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "audioout-bridge: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	settings, err := config.Load(*configPath)
	if err != nil {
		return err
	}
	if *port != 0 {
		settings.Bridge.Port = *port
	}
	if *name != "" {
		settings.Bridge.Name = *name
	}
	if *noMDNS {
		settings.Bridge.EnableMDNS = false
	}
	if *logLevel != "" {
		settings.LogLevel = *logLevel
	}
	if *logFile != "" {
		settings.LogFile = *logFile
	}
	if settings.LogFile == "" {
		settings.LogFile = config.LogPath("audioout-bridge.log")
	}

	bridgeName := settings.Bridge.Name
	if bridgeName == "" {
		hostname, err := os.Hostname()
		if err != nil {
			hostname = "unknown"
		}
		bridgeName = fmt.Sprintf("%s-audioout-bridge", hostname)
	}

	log, closer, err := logging.New(logging.Options{
		Level:   settings.LogLevel,
		File:    settings.LogFile,
		Console: *noTUI,
	})
	if err != nil {
		return err
	}
	defer closer.Close()

	reg, hubNames, err := app.NewRegistry(settings, hubs, *discover, log)
	if err != nil {
		return err
	}
	log.Info().Strs("hubs", hubNames).Msg("Hubs registered")

	srv, err := bridge.NewServer(bridge.Config{
		Port:         settings.Bridge.Port,
		Name:         bridgeName,
		Registry:     reg,
		PollInterval: settings.PollInterval(),
		EnableMDNS:   settings.Bridge.EnableMDNS,
		Logger:       log,
	})
	if err != nil {
		return err
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	// SIGHUP rescans the hubs right away, e.g. after plugging in an amp.
	hupChan := make(chan os.Signal, 1)
	signal.Notify(hupChan, syscall.SIGHUP)
	go func() {
		for range hupChan {
			log.Info().Msg("Rescanning hubs")
			srv.Refresh(context.Background())
		}
	}()

	var tui *bridge.StatusTUI
	if !*noTUI {
		tui = bridge.NewStatusTUI()
		go func() {
			if err := tui.Start(bridgeName, settings.Bridge.Port); err != nil {
				log.Error().Err(err).Msg("TUI error")
			}
		}()
		go statusLoop(srv, tui)
	} else {
		log.Info().Str("name", bridgeName).Int("port", settings.Bridge.Port).Msg("Press Ctrl-C to stop")
	}

	go func() {
		var quit <-chan struct{}
		if tui != nil {
			quit = tui.QuitChan()
		}
		select {
		case sig := <-sigChan:
			log.Info().Str("signal", sig.String()).Msg("Shutting down gracefully")
		case <-quit:
			log.Info().Msg("Quit requested from TUI")
		}
		srv.Stop()
	}()

	err = srv.Start()
	if tui != nil {
		tui.Stop()
	}
	if err != nil {
		return err
	}

	log.Info().Msg("Bridge stopped")
	return nil
}

// statusLoop refreshes the TUI once per second
func statusLoop(srv *bridge.Server, tui *bridge.StatusTUI) {
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()

	for range ticker.C {
		tui.Update(srv.Status())
	}
}
