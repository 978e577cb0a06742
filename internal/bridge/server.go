// ABOUTME: WebSocket bridge exposing audio outputs to remote clients
// ABOUTME: Pushes monitor changes and applies volume/mute commands
package bridge

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/yoctolink/audioout/internal/discovery"
	"github.com/yoctolink/audioout/internal/monitor"
	"github.com/yoctolink/audioout/internal/protocol"
	"github.com/yoctolink/audioout/pkg/audioout"
	"github.com/yoctolink/audioout/pkg/yapi"
)

const (
	helloTimeout  = 5 * time.Second
	writeDeadline = 10 * time.Second
	pingInterval  = 30 * time.Second
)

// Config configures a bridge server
type Config struct {
	// Port to listen on (default: 8940)
	Port int

	// Name of the bridge for identification
	Name string

	// Registry serving the outputs (required)
	Registry *yapi.Registry

	// PollInterval of the internal monitor
	PollInterval time.Duration

	// EnableMDNS advertises the bridge on the local network
	EnableMDNS bool

	Logger zerolog.Logger
}

// Server is the bridge between hubs and WebSocket clients
type Server struct {
	config   Config
	serverID string
	log      zerolog.Logger

	upgrader   websocket.Upgrader
	httpServer *http.Server
	mux        *http.ServeMux

	registry *yapi.Registry
	monitor  *monitor.Monitor

	clients   map[string]*client
	clientsMu sync.RWMutex

	mdnsManager *discovery.Manager

	ctx      context.Context
	cancel   context.CancelFunc
	stopOnce sync.Once
	wg       sync.WaitGroup
}

// client is one connected WebSocket peer
type client struct {
	ID   string
	Name string
	Conn *websocket.Conn

	sendChan chan interface{}
	closed   bool
	mu       sync.Mutex
}

// ClientInfo represents information about a connected client
type ClientInfo struct {
	ID   string
	Name string
}

// NewServer creates a bridge server
func NewServer(config Config) (*Server, error) {
	if config.Port == 0 {
		config.Port = 8940
	}
	if config.Name == "" {
		config.Name = "Yocto AudioOut Bridge"
	}
	if config.Registry == nil {
		return nil, fmt.Errorf("registry is required")
	}

	ctx, cancel := context.WithCancel(context.Background())
	mux := http.NewServeMux()

	s := &Server{
		config:   config,
		serverID: uuid.New().String(),
		log:      config.Logger,
		mux:      mux,
		registry: config.Registry,
		monitor: monitor.New(monitor.Config{
			Registry: config.Registry,
			Interval: config.PollInterval,
			Logger:   config.Logger,
		}),
		upgrader: websocket.Upgrader{
			// Local network deployments accept every origin.
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		clients: make(map[string]*client),
		ctx:     ctx,
		cancel:  cancel,
	}
	mux.HandleFunc(discovery.BridgePath, s.handleWebSocket)

	return s, nil
}

// Handler returns the HTTP handler serving the WebSocket endpoint
func (s *Server) Handler() http.Handler {
	return s.mux
}

// Start runs the bridge until Stop is called
func (s *Server) Start() error {
	s.log.Info().Str("name", s.config.Name).Str("id", s.serverID).Msg("Bridge starting")

	if s.config.EnableMDNS {
		s.mdnsManager = discovery.NewManager(discovery.Config{
			ServiceName: s.config.Name,
			Port:        s.config.Port,
			Logger:      s.log,
		})
		if err := s.mdnsManager.Advertise(); err != nil {
			s.log.Warn().Err(err).Msg("Failed to start mDNS advertisement")
		}
	}

	s.startBackground()

	addr := fmt.Sprintf(":%d", s.config.Port)
	s.httpServer = &http.Server{Addr: addr, Handler: s.mux}
	s.log.Info().Str("addr", addr).Str("path", discovery.BridgePath).Msg("WebSocket server listening")

	errChan := make(chan error, 1)
	go func() {
		if err := s.httpServer.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			errChan <- err
		}
	}()

	select {
	case <-s.ctx.Done():
		s.log.Info().Msg("Bridge shutting down")
	case err := <-errChan:
		s.Stop()
		s.wg.Wait()
		return fmt.Errorf("http server: %w", err)
	}

	if s.mdnsManager != nil {
		s.mdnsManager.Stop()
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := s.httpServer.Shutdown(ctx); err != nil {
		s.log.Warn().Err(err).Msg("HTTP server shutdown error")
	}

	s.closeClients()
	s.wg.Wait()
	s.log.Info().Msg("Bridge stopped cleanly")
	return nil
}

// startBackground runs the monitor and the broadcaster
func (s *Server) startBackground() {
	events := s.monitor.Subscribe()

	s.wg.Add(2)
	go func() {
		defer s.wg.Done()
		s.monitor.Run(s.ctx)
	}()
	go func() {
		defer s.wg.Done()
		defer s.monitor.Unsubscribe(events)
		for {
			select {
			case ev := <-events:
				s.broadcast(protocol.TypeState, outputState(ev))
			case <-s.ctx.Done():
				return
			}
		}
	}()
}

// Stop stops the server
func (s *Server) Stop() {
	s.stopOnce.Do(s.cancel)
}

// Clients returns information about all connected clients
func (s *Server) Clients() []ClientInfo {
	s.clientsMu.RLock()
	defer s.clientsMu.RUnlock()

	clients := make([]ClientInfo, 0, len(s.clients))
	for _, c := range s.clients {
		clients = append(clients, ClientInfo{ID: c.ID, Name: c.Name})
	}
	return clients
}

// Refresh drops the cached hub inventories and polls every output once,
// outside the monitor's schedule. Changes reach clients as state messages.
func (s *Server) Refresh(ctx context.Context) {
	s.registry.InvalidateInventory()
	s.monitor.Poll(ctx)
}

// Status returns the current bridge state for display
func (s *Server) Status() Status {
	status := Status{
		Name:    s.config.Name,
		Port:    s.config.Port,
		Clients: s.Clients(),
	}
	for _, ev := range s.monitor.Snapshot() {
		name := ev.LogicalName
		if name == "" {
			name = ev.HardwareID
		}
		status.Outputs = append(status.Outputs, OutputInfo{
			HardwareID: ev.HardwareID,
			Name:       name,
			Volume:     ev.State.Volume,
			Muted:      ev.State.Mute == audioout.MuteTrue,
			Online:     ev.Online,
		})
	}
	return status
}

// handleWebSocket performs the handshake and serves one client
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Warn().Err(err).Msg("WebSocket upgrade failed")
		return
	}
	defer conn.Close()

	conn.SetReadDeadline(time.Now().Add(helloTimeout))
	_, data, err := conn.ReadMessage()
	if err != nil {
		s.log.Debug().Err(err).Msg("No client hello")
		return
	}
	conn.SetReadDeadline(time.Time{})

	env, err := protocol.ParseEnvelope(data)
	if err != nil || env.Type != protocol.TypeClientHello {
		s.log.Warn().Str("type", env.Type).Msg("Expected client/hello")
		return
	}
	var hello protocol.ClientHello
	if err := env.Decode(&hello); err != nil {
		s.log.Warn().Err(err).Msg("Invalid client hello")
		return
	}
	if hello.ClientID == "" {
		hello.ClientID = uuid.New().String()
	}

	c := &client{
		ID:       hello.ClientID,
		Name:     hello.Name,
		Conn:     conn,
		sendChan: make(chan interface{}, 100),
	}

	s.clientsMu.Lock()
	if _, exists := s.clients[c.ID]; exists {
		s.clientsMu.Unlock()
		s.log.Warn().Str("client", c.ID).Msg("Client already connected, rejecting duplicate")
		return
	}
	s.clients[c.ID] = c
	s.clientsMu.Unlock()

	s.log.Info().Str("client", c.ID).Str("name", c.Name).Msg("Client connected")
	defer func() {
		s.removeClient(c)
		s.log.Info().Str("client", c.ID).Msg("Client disconnected")
	}()

	s.sendMessage(c, protocol.TypeServerHello, protocol.ServerHello{
		ServerID: s.serverID,
		ClientID: c.ID,
		Name:     s.config.Name,
		Version:  protocol.Version,
	})
	s.sendMessage(c, protocol.TypeList, s.outputList())

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.clientWriter(c)
	}()

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				s.log.Debug().Err(err).Str("client", c.ID).Msg("WebSocket read error")
			}
			return
		}
		if !s.handleClientMessage(c, data) {
			return
		}
	}
}

// clientWriter sends queued messages and keepalive pings
func (s *Server) clientWriter(c *client) {
	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()

	for {
		select {
		case msg, ok := <-c.sendChan:
			if !ok {
				return
			}
			data, err := json.Marshal(msg)
			if err != nil {
				continue
			}
			c.Conn.SetWriteDeadline(time.Now().Add(writeDeadline))
			if err := c.Conn.WriteMessage(websocket.TextMessage, data); err != nil {
				return
			}

		case <-ticker.C:
			if err := c.Conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeDeadline)); err != nil {
				return
			}
		}
	}
}

// handleClientMessage processes one message; false ends the session
func (s *Server) handleClientMessage(c *client, data []byte) bool {
	env, err := protocol.ParseEnvelope(data)
	if err != nil {
		s.log.Debug().Err(err).Str("client", c.ID).Msg("Bad message")
		return true
	}

	switch env.Type {
	case protocol.TypeSet:
		var cmd protocol.SetCommand
		if err := env.Decode(&cmd); err != nil {
			s.sendMessage(c, protocol.TypeResult, protocol.SetResult{Status: int(yapi.InvalidArgument), Error: err.Error()})
			return true
		}
		s.sendMessage(c, protocol.TypeResult, s.applySet(cmd))
	case protocol.TypeClientGoodbye:
		var goodbye protocol.ClientGoodbye
		env.Decode(&goodbye)
		s.log.Info().Str("client", c.ID).Str("reason", goodbye.Reason).Msg("Client goodbye")
		return false
	default:
		s.log.Debug().Str("type", env.Type).Msg("Unknown message type")
	}
	return true
}

// applySet pushes a command to the device and reports the status
func (s *Server) applySet(cmd protocol.SetCommand) protocol.SetResult {
	res := protocol.SetResult{ID: cmd.ID, Seq: cmd.Seq}
	fail := func(err error) protocol.SetResult {
		res.Status = int(yapi.StatusOf(err))
		res.Error = err.Error()
		return res
	}

	if cmd.ID == "" {
		return fail(&yapi.Error{Code: yapi.InvalidArgument, Msg: "missing output id"})
	}
	if cmd.Volume == nil && cmd.Mute == nil {
		return fail(&yapi.Error{Code: yapi.InvalidArgument, Msg: "nothing to set"})
	}

	ctx, cancel := context.WithTimeout(s.ctx, writeDeadline)
	defer cancel()

	out := audioout.FindAudioOut(s.registry, cmd.ID)
	if cmd.Volume != nil {
		if *cmd.Volume < 0 || *cmd.Volume > 100 {
			return fail(&yapi.Error{Code: yapi.InvalidArgument, Msg: fmt.Sprintf("volume %d out of range", *cmd.Volume)})
		}
		if err := out.SetVolumeContext(ctx, *cmd.Volume); err != nil {
			return fail(err)
		}
	}
	if cmd.Mute != nil {
		if err := out.SetMuteContext(ctx, *cmd.Mute); err != nil {
			return fail(err)
		}
	}

	s.log.Info().Str("id", cmd.ID).Msg("Output updated")
	return res
}

// outputList builds the snapshot sent after the handshake
func (s *Server) outputList() protocol.OutputList {
	events := s.monitor.Snapshot()
	list := protocol.OutputList{Outputs: make([]protocol.OutputState, 0, len(events))}
	for _, ev := range events {
		list.Outputs = append(list.Outputs, outputState(ev))
	}
	return list
}

func outputState(ev monitor.Event) protocol.OutputState {
	return protocol.OutputState{
		HardwareID:  ev.HardwareID,
		LogicalName: ev.LogicalName,
		Online:      ev.Online,
		Volume:      ev.State.Volume,
		Mute:        int(ev.State.Mute),
		VolumeRange: ev.State.VolumeRange,
		Signal:      ev.State.Signal,
		NoSignalFor: ev.State.NoSignalFor,
	}
}

// broadcast queues a message for every client
func (s *Server) broadcast(msgType string, payload interface{}) {
	s.clientsMu.RLock()
	defer s.clientsMu.RUnlock()

	for _, c := range s.clients {
		if err := s.sendMessage(c, msgType, payload); err != nil {
			s.log.Debug().Err(err).Str("client", c.ID).Msg("Dropping message")
		}
	}
}

// sendMessage queues a JSON message for one client
func (s *Server) sendMessage(c *client, msgType string, payload interface{}) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return fmt.Errorf("client closed")
	}

	select {
	case c.sendChan <- protocol.Message{Type: msgType, Payload: payload}:
		return nil
	default:
		return fmt.Errorf("client send buffer full")
	}
}

// removeClient unregisters a client and stops its writer
func (s *Server) removeClient(c *client) {
	s.clientsMu.Lock()
	delete(s.clients, c.ID)
	s.clientsMu.Unlock()

	c.mu.Lock()
	if !c.closed {
		c.closed = true
		close(c.sendChan)
	}
	c.mu.Unlock()
}

// closeClients closes every connection so their handlers return
func (s *Server) closeClients() {
	s.clientsMu.RLock()
	defer s.clientsMu.RUnlock()

	for _, c := range s.clients {
		c.Conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseGoingAway, "bridge stopping"),
			time.Now().Add(time.Second))
		c.Conn.Close()
	}
}
