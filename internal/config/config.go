// ABOUTME: JSON configuration with XDG paths and defaults
// ABOUTME: Shared by the audioout CLI and the bridge server
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"time"
)

type Config struct {
	Hubs                []string        `json:"hubs"`
	CacheValidityMs     int             `json:"cache_validity_ms"`
	InventoryValidityMs int             `json:"inventory_validity_ms"`
	PollIntervalMs      int             `json:"poll_interval_ms"`
	RequestTimeoutMs    int             `json:"request_timeout_ms"`
	LogLevel            string          `json:"log_level"`
	LogFile             string          `json:"log_file"`
	Discovery           DiscoveryConfig `json:"discovery"`
	Bridge              BridgeConfig    `json:"bridge"`
}

type DiscoveryConfig struct {
	Service      string   `json:"service"`
	Domain       string   `json:"domain"`
	TimeoutS     int      `json:"timeout_s"`
	NamePrefixes []string `json:"name_prefixes"` // hub instance names to keep
}

type BridgeConfig struct {
	Port       int    `json:"port"`
	Name       string `json:"name"`
	EnableMDNS bool   `json:"enable_mdns"`
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		Hubs:                []string{"127.0.0.1:4444"},
		CacheValidityMs:     5,
		InventoryValidityMs: 1000,
		PollIntervalMs:      500,
		RequestTimeoutMs:    5000,
		LogLevel:            "info",
		Discovery: DiscoveryConfig{
			Service:      "_http._tcp",
			Domain:       "local",
			TimeoutS:     3,
			NamePrefixes: []string{"VIRTHUB", "YHUB"},
		},
		Bridge: BridgeConfig{
			Port:       8940,
			EnableMDNS: true,
		},
	}
}

// Load reads the config at path over the defaults. An empty path means
// Path(); a missing file is not an error.
func Load(path string) (*Config, error) {
	if path == "" {
		path = Path()
	}

	cfg := Default()
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return nil, fmt.Errorf("failed to read config: %w", err)
	}
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate rejects values the registry and bridge cannot use.
func (c *Config) Validate() error {
	if c.CacheValidityMs < 0 || c.InventoryValidityMs < 0 || c.PollIntervalMs < 0 || c.RequestTimeoutMs < 0 {
		return fmt.Errorf("durations must not be negative")
	}
	if c.Bridge.Port < 0 || c.Bridge.Port > 65535 {
		return fmt.Errorf("invalid bridge port %d", c.Bridge.Port)
	}
	return nil
}

// Save writes the config to path, or Path() when empty.
func (c *Config) Save(path string) error {
	if path == "" {
		path = Path()
	}

	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return err
	}

	data, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return err
	}

	return os.WriteFile(path, data, 0644)
}

func (c *Config) CacheValidity() time.Duration {
	return time.Duration(c.CacheValidityMs) * time.Millisecond
}

func (c *Config) InventoryValidity() time.Duration {
	return time.Duration(c.InventoryValidityMs) * time.Millisecond
}

func (c *Config) PollInterval() time.Duration {
	return time.Duration(c.PollIntervalMs) * time.Millisecond
}

func (c *Config) RequestTimeout() time.Duration {
	return time.Duration(c.RequestTimeoutMs) * time.Millisecond
}

func (c *Config) DiscoveryTimeout() time.Duration {
	return time.Duration(c.Discovery.TimeoutS) * time.Second
}

// Path returns the platform-specific config file path
func Path() string {
	var base string

	switch runtime.GOOS {
	case "darwin":
		base = os.Getenv("HOME") + "/Library/Application Support"
	case "windows":
		base = os.Getenv("APPDATA")
	default:
		if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
			base = xdg
		} else {
			base = os.Getenv("HOME") + "/.config"
		}
	}

	return filepath.Join(base, "yocto-audioout", "config.json")
}

// LogPath returns the platform-specific default log file path
func LogPath(name string) string {
	var base string

	switch runtime.GOOS {
	case "darwin":
		base = os.Getenv("HOME") + "/Library/Logs"
	case "windows":
		base = os.Getenv("LOCALAPPDATA")
	default:
		if xdg := os.Getenv("XDG_STATE_HOME"); xdg != "" {
			base = xdg
		} else {
			base = os.Getenv("HOME") + "/.local/state"
		}
	}

	return filepath.Join(base, "yocto-audioout", name+".log")
}
