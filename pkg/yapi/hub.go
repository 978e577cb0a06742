// ABOUTME: HTTP transport for VirtualHub and YoctoHub JSON APIs
// ABOUTME: Reads api.json white/yellow pages and per-function records
package yapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

const (
	// DefaultHubPort is the port VirtualHub listens on.
	DefaultHubPort = 4444

	// DefaultRequestTimeout bounds one hub round-trip.
	DefaultRequestTimeout = 5 * time.Second
)

// HubConfig configures a network hub transport.
type HubConfig struct {
	// URL of the hub: "host", "host:port" or "http://host:port/path"
	URL string

	// Client overrides the HTTP client (default: one with Timeout)
	Client *http.Client

	// Timeout per request (default: DefaultRequestTimeout)
	Timeout time.Duration

	// UserAgent sent with every request when set
	UserAgent string

	Logger zerolog.Logger
}

// Hub talks to one hub over HTTP.
type Hub struct {
	base      *url.URL
	client    *http.Client
	userAgent string
	log       zerolog.Logger
}

// NewHub creates a hub transport. No request is made until first use.
func NewHub(config HubConfig) (*Hub, error) {
	base, err := normalizeHubURL(config.URL)
	if err != nil {
		return nil, err
	}

	if config.Timeout == 0 {
		config.Timeout = DefaultRequestTimeout
	}
	client := config.Client
	if client == nil {
		client = &http.Client{Timeout: config.Timeout}
	}

	return &Hub{
		base:      base,
		client:    client,
		userAgent: config.UserAgent,
		log:       config.Logger.With().Str("hub", base.Host).Logger(),
	}, nil
}

func normalizeHubURL(raw string) (*url.URL, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, newError(InvalidArgument, "register hub", "empty hub URL")
	}
	if strings.EqualFold(raw, "usb") {
		return nil, newError(NotSupported, "register hub", "direct USB access is not available, use a VirtualHub")
	}
	if !strings.Contains(raw, "://") {
		raw = "http://" + raw
	}

	u, err := url.Parse(raw)
	if err != nil {
		return nil, &Error{Code: InvalidArgument, Op: "register hub", Msg: "bad hub URL", Err: err}
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, newError(NotSupported, "register hub", "unsupported scheme %q", u.Scheme)
	}
	if u.Port() == "" {
		u.Host = net.JoinHostPort(u.Hostname(), fmt.Sprint(DefaultHubPort))
	}
	u.Path = strings.TrimSuffix(u.Path, "/")
	return u, nil
}

// Name returns host:port of the hub.
func (h *Hub) Name() string {
	return h.base.Host
}

// apiJSON mirrors the subset of api.json the registry needs.
type apiJSON struct {
	Services struct {
		WhitePages  []ModuleInfo                `json:"whitePages"`
		YellowPages map[string][]yellowPageJSON `json:"yellowPages"`
	} `json:"services"`
}

type yellowPageJSON struct {
	HardwareID      string `json:"hardwareId"`
	LogicalName     string `json:"logicalName"`
	AdvertisedValue string `json:"advertisedValue"`
	Index           int    `json:"index"`
}

// Inventory fetches api.json and flattens its white and yellow pages.
func (h *Hub) Inventory(ctx context.Context) (*Inventory, error) {
	var api apiJSON
	if err := h.getJSON(ctx, "inventory", "/api.json", &api); err != nil {
		return nil, err
	}

	inv := &Inventory{
		Modules:   api.Services.WhitePages,
		Functions: make(map[string][]FunctionInfo, len(api.Services.YellowPages)),
	}
	for class, entries := range api.Services.YellowPages {
		for _, e := range entries {
			dot := strings.Index(e.HardwareID, ".")
			if dot <= 0 {
				h.log.Debug().Str("hwid", e.HardwareID).Msg("Skipping malformed yellow page")
				continue
			}
			inv.Functions[class] = append(inv.Functions[class], FunctionInfo{
				Class:         class,
				Serial:        e.HardwareID[:dot],
				FunctionID:    e.HardwareID[dot+1:],
				FunctionName:  e.LogicalName,
				FunctionValue: e.AdvertisedValue,
				Index:         e.Index,
			})
		}
	}

	h.log.Debug().Int("modules", len(inv.Modules)).Msg("Inventory loaded")
	return inv, nil
}

// FunctionRecord fetches <module api>/<funcID>.json.
func (h *Hub) FunctionRecord(ctx context.Context, module ModuleInfo, funcID string) (Record, error) {
	var rec Record
	if err := h.getJSON(ctx, "load "+module.Serial+"."+funcID, moduleAPIPath(module)+"/"+funcID+".json", &rec); err != nil {
		return nil, err
	}
	return rec, nil
}

// SetAttribute requests <module api>/<funcID>?<attr>=<value>.
func (h *Hub) SetAttribute(ctx context.Context, module ModuleInfo, funcID, attr, value string) error {
	op := "set " + module.Serial + "." + funcID + "." + attr
	path := moduleAPIPath(module) + "/" + funcID + "?" + url.QueryEscape(attr) + "=" + url.QueryEscape(value)

	resp, err := h.get(ctx, op, path)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)

	h.log.Debug().Str("attr", attr).Str("value", value).Str("hwid", module.Serial+"."+funcID).Msg("Attribute set")
	return nil
}

func moduleAPIPath(module ModuleInfo) string {
	if module.NetworkURL != "" {
		return strings.TrimSuffix(module.NetworkURL, "/")
	}
	return "/bySerial/" + url.PathEscape(module.Serial) + "/api"
}

func (h *Hub) getJSON(ctx context.Context, op, path string, v interface{}) error {
	resp, err := h.get(ctx, op, path)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if err := json.NewDecoder(resp.Body).Decode(v); err != nil {
		return &Error{Code: IOError, Op: op, Msg: "invalid JSON from hub", Err: err}
	}
	return nil
}

func (h *Hub) get(ctx context.Context, op, path string) (*http.Response, error) {
	target := h.base.String() + path
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return nil, &Error{Code: InvalidArgument, Op: op, Err: err}
	}
	if h.userAgent != "" {
		req.Header.Set("User-Agent", h.userAgent)
	}

	h.log.Debug().Str("url", target).Msg("Hub request")
	resp, err := h.client.Do(req)
	if err != nil {
		return nil, &Error{Code: transportStatus(err), Op: op, Err: err}
	}

	if resp.StatusCode != http.StatusOK {
		resp.Body.Close()
		return nil, newError(httpStatus(resp.StatusCode), op, "HTTP %d", resp.StatusCode)
	}
	return resp, nil
}

func transportStatus(err error) Status {
	if errors.Is(err, context.DeadlineExceeded) {
		return Timeout
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return Timeout
	}
	return IOError
}

func httpStatus(code int) Status {
	switch code {
	case http.StatusUnauthorized, http.StatusForbidden:
		return Unauthorized
	case http.StatusNotFound:
		return DeviceNotFound
	case http.StatusServiceUnavailable:
		return DeviceBusy
	default:
		return IOError
	}
}
