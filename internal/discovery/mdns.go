// ABOUTME: mDNS discovery of Yoctopuce hubs and advertisement of the bridge
// ABOUTME: Browsing filters service instances by hub name prefix
package discovery

import (
	"context"
	"fmt"
	"net"
	"strings"
	"sync"
	"time"

	"github.com/hashicorp/mdns"
	"github.com/rs/zerolog"
)

const (
	// BridgeService is the service type the bridge advertises.
	BridgeService = "_yocto-audioout._tcp"

	// BridgePath is the WebSocket path announced in the TXT record.
	BridgePath = "/audioout"
)

// Config holds discovery configuration
type Config struct {
	// ServiceName and Port describe the bridge for Advertise
	ServiceName string
	Port        int

	// Service browsed for hubs (default: _http._tcp)
	Service string
	Domain  string

	// Timeout of one browse query (default: 3s)
	Timeout time.Duration

	// NamePrefixes keeps instances whose name starts with one of them;
	// empty keeps everything
	NamePrefixes []string

	Logger zerolog.Logger
}

// Manager handles mDNS operations
type Manager struct {
	config Config
	log    zerolog.Logger
	ctx    context.Context
	cancel context.CancelFunc
	hubs   chan *HubInfo

	mu   sync.Mutex
	seen map[string]bool
}

// HubInfo describes a discovered hub
type HubInfo struct {
	Name string
	Host string
	Port int
}

// Addr returns host:port for yapi.HubConfig.
func (h HubInfo) Addr() string {
	return net.JoinHostPort(h.Host, fmt.Sprint(h.Port))
}

// NewManager creates a discovery manager
func NewManager(config Config) *Manager {
	if config.Service == "" {
		config.Service = "_http._tcp"
	}
	if config.Domain == "" {
		config.Domain = "local"
	}
	if config.Timeout == 0 {
		config.Timeout = 3 * time.Second
	}

	ctx, cancel := context.WithCancel(context.Background())

	return &Manager{
		config: config,
		log:    config.Logger,
		ctx:    ctx,
		cancel: cancel,
		hubs:   make(chan *HubInfo, 10),
		seen:   make(map[string]bool),
	}
}

// Advertise announces the bridge via mDNS until Stop is called
func (m *Manager) Advertise() error {
	ips, err := getLocalIPs()
	if err != nil {
		return fmt.Errorf("failed to get local IPs: %w", err)
	}

	service, err := mdns.NewMDNSService(
		m.config.ServiceName,
		BridgeService,
		"",
		"",
		m.config.Port,
		ips,
		[]string{"path=" + BridgePath},
	)
	if err != nil {
		return fmt.Errorf("failed to create service: %w", err)
	}

	server, err := mdns.NewServer(&mdns.Config{Zone: service})
	if err != nil {
		return fmt.Errorf("failed to create mdns server: %w", err)
	}

	m.log.Info().Str("name", m.config.ServiceName).Int("port", m.config.Port).Msg("Advertising bridge via mDNS")

	go func() {
		<-m.ctx.Done()
		server.Shutdown()
	}()

	return nil
}

// Browse searches for hubs until Stop is called
func (m *Manager) Browse() error {
	go m.browseLoop()
	return nil
}

// browseLoop continuously browses for hubs
func (m *Manager) browseLoop() {
	for {
		select {
		case <-m.ctx.Done():
			return
		default:
		}

		if err := m.query(func(h *HubInfo) {
			if !m.markSeen(h) {
				return
			}
			m.log.Info().Str("name", h.Name).Str("addr", h.Addr()).Msg("Discovered hub")
			select {
			case m.hubs <- h:
			case <-m.ctx.Done():
			}
		}); err != nil {
			m.log.Warn().Err(err).Msg("mDNS query failed")
			select {
			case <-time.After(m.config.Timeout):
			case <-m.ctx.Done():
				return
			}
		}
	}
}

// query runs one mDNS query and reports accepted hubs to found
func (m *Manager) query(found func(*HubInfo)) error {
	entries := make(chan *mdns.ServiceEntry, 10)
	done := make(chan struct{})

	go func() {
		defer close(done)
		for entry := range entries {
			if h := m.accept(entry); h != nil {
				found(h)
			}
		}
	}()

	params := &mdns.QueryParam{
		Service:     m.config.Service,
		Domain:      m.config.Domain,
		Timeout:     m.config.Timeout,
		Entries:     entries,
		DisableIPv6: true,
	}

	err := mdns.Query(params)
	close(entries)
	<-done
	return err
}

// accept converts an entry to a HubInfo if it looks like a hub
func (m *Manager) accept(entry *mdns.ServiceEntry) *HubInfo {
	addr := entry.AddrV4
	if addr == nil {
		addr = entry.Addr
	}
	if addr == nil || entry.Port == 0 {
		return nil
	}

	name := instanceName(entry.Name)
	if !matchesPrefix(name, m.config.NamePrefixes) {
		return nil
	}

	return &HubInfo{Name: name, Host: addr.String(), Port: entry.Port}
}

func (m *Manager) markSeen(h *HubInfo) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	key := h.Addr()
	if m.seen[key] {
		return false
	}
	m.seen[key] = true
	return true
}

// Hubs returns the channel of discovered hubs, each reported once
func (m *Manager) Hubs() <-chan *HubInfo {
	return m.hubs
}

// Discover runs a single query and returns every hub that answered
func (m *Manager) Discover() ([]HubInfo, error) {
	var (
		mu   sync.Mutex
		hubs []HubInfo
		seen = make(map[string]bool)
	)
	err := m.query(func(h *HubInfo) {
		mu.Lock()
		defer mu.Unlock()
		if !seen[h.Addr()] {
			seen[h.Addr()] = true
			hubs = append(hubs, *h)
		}
	})
	return hubs, err
}

// Stop stops the discovery manager
func (m *Manager) Stop() {
	m.cancel()
}

// instanceName strips the service and domain from an mDNS entry name
func instanceName(full string) string {
	if i := strings.Index(full, "._"); i > 0 {
		full = full[:i]
	}
	return strings.ReplaceAll(full, `\ `, " ")
}

func matchesPrefix(name string, prefixes []string) bool {
	if len(prefixes) == 0 {
		return true
	}
	upper := strings.ToUpper(name)
	for _, p := range prefixes {
		if strings.HasPrefix(upper, strings.ToUpper(p)) {
			return true
		}
	}
	return false
}

// getLocalIPs returns local IP addresses
func getLocalIPs() ([]net.IP, error) {
	var ips []net.IP

	ifaces, err := net.Interfaces()
	if err != nil {
		return nil, err
	}

	for _, iface := range ifaces {
		if iface.Flags&net.FlagUp == 0 || iface.Flags&net.FlagLoopback != 0 {
			continue
		}

		addrs, err := iface.Addrs()
		if err != nil {
			continue
		}

		for _, addr := range addrs {
			if ipnet, ok := addr.(*net.IPNet); ok && !ipnet.IP.IsLoopback() {
				if ipnet.IP.To4() != nil {
					ips = append(ips, ipnet.IP)
				}
			}
		}
	}

	return ips, nil
}
