// ABOUTME: Entry point for the Yocto AudioOut controller
// ABOUTME: Parses CLI flags and runs list, get, set, TUI or streaming modes
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/rs/zerolog"
	"github.com/yoctolink/audioout/internal/app"
	"github.com/yoctolink/audioout/internal/config"
	"github.com/yoctolink/audioout/internal/logging"
	"github.com/yoctolink/audioout/internal/version"
	"github.com/yoctolink/audioout/pkg/audioout"
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
	hubs        hubList
	configPath  = flag.String("config", "", "Config file path (default: platform config dir)")
	discover    = flag.Bool("discover", false, "Add hubs found by mDNS")
	bridgeAddr  = flag.String("bridge", "", "Control outputs through a bridge at host:port instead of hubs")
	list        = flag.Bool("list", false, "List audio outputs and exit")
	id          = flag.String("id", "", "Output to read or change (logical name, serial.function, ...)")
	volume      = flag.Int("volume", -1, "Set volume in percent (0-100)")
	mute        = flag.String("mute", "", "Set mute (on/off)")
	noTUI       = flag.Bool("no-tui", false, "Disable TUI, use streaming logs instead")
	logFile     = flag.String("log-file", "", "Log file path (default: platform log dir)")
	logLevel    = flag.String("log-level", "", "Log level (debug, info, warn, error)")
	writeConfig = flag.Bool("write-config", false, "Save the effective settings to the config file and exit")
	showVersion = flag.Bool("version", false, "Print version and exit")
)

func main() {
	flag.Var(&hubs, "hub", "Hub address host[:port] (repeatable, overrides config)")
	flag.Parse()

	if *showVersion {
		fmt.Printf("%s %s (%s)\n", version.Product, version.Version, version.Manufacturer)
		return
	}

	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "audioout: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	settings, err := config.Load(*configPath)
	if err != nil {
		return err
	}
	if *logLevel != "" {
		settings.LogLevel = *logLevel
	}
	if *logFile != "" {
		settings.LogFile = *logFile
	}
	if len(hubs) > 0 {
		settings.Hubs = append([]string(nil), hubs...)
	}
	if *writeConfig {
		if err := settings.Save(*configPath); err != nil {
			return fmt.Errorf("failed to save config: %w", err)
		}
		fmt.Println("Config saved")
		return nil
	}
	if settings.LogFile == "" {
		settings.LogFile = config.LogPath("audioout.log")
	}

	// The TUI owns the terminal, so interactive mode logs to the file only.
	interactive := *bridgeAddr == "" && !*list && *id == "" && !*noTUI
	log, closer, err := logging.New(logging.Options{
		Level:   settings.LogLevel,
		File:    settings.LogFile,
		Console: !interactive,
	})
	if err != nil {
		return err
	}
	defer closer.Close()

	volumeArg, muteArg, err := commandArgs()
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if *bridgeAddr != "" {
		return runRemote(ctx, volumeArg, muteArg, log)
	}

	ctrl, err := app.New(app.Config{
		Settings: settings,
		Hubs:     hubs,
		Discover: *discover,
		Logger:   log,
	})
	if err != nil {
		return err
	}

	switch {
	case *list:
		return ctrl.List(ctx, os.Stdout)
	case *id != "" && (volumeArg != nil || muteArg != nil):
		return ctrl.Apply(ctx, *id, volumeArg, muteArg)
	case *id != "":
		return ctrl.Get(ctx, *id, os.Stdout)
	case *noTUI:
		log.Info().Strs("hubs", ctrl.Hubs()).Msg("Streaming output changes, press Ctrl-C to stop")
		return ctrl.RunHeadless(ctx)
	default:
		return ctrl.RunTUI(ctx)
	}
}

func runRemote(ctx context.Context, volumeArg *int, muteArg *bool, log zerolog.Logger) error {
	switch {
	case *id != "" && (volumeArg != nil || muteArg != nil):
		return app.ApplyRemote(ctx, *bridgeAddr, *id, volumeArg, muteArg, log)
	case *noTUI && !*list && *id == "":
		return app.WatchRemote(ctx, *bridgeAddr, log)
	case *list || *id == "":
		return app.ListRemote(*bridgeAddr, os.Stdout, log)
	default:
		return fmt.Errorf("-bridge supports -list and -id with -volume/-mute")
	}
}

// commandArgs converts the set flags; nil means not requested
func commandArgs() (*int, *bool, error) {
	var (
		volumeArg *int
		muteArg   *bool
	)
	if *volume >= 0 {
		if *volume > 100 {
			return nil, nil, fmt.Errorf("volume must be between 0 and 100, got %d", *volume)
		}
		volumeArg = volume
	}
	if *mute != "" {
		m, err := audioout.ParseMute(*mute)
		if err != nil {
			return nil, nil, err
		}
		muted := m.Bool()
		muteArg = &muted
	}
	if (volumeArg != nil || muteArg != nil) && *id == "" {
		return nil, nil, fmt.Errorf("-volume and -mute need -id")
	}
	return volumeArg, muteArg, nil
}
