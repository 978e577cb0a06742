// ABOUTME: WebSocket client for the audio output bridge
// ABOUTME: Handles connection, handshake, state tracking and set commands
package client

import (
	"context"
	"fmt"
	"net/url"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/yoctolink/audioout/internal/discovery"
	"github.com/yoctolink/audioout/internal/protocol"
)

// Config holds client configuration
type Config struct {
	// BridgeAddr is host:port of the bridge
	BridgeAddr string
	ClientID   string
	Name       string
	Logger     zerolog.Logger
}

// Client is a connection to one bridge
type Client struct {
	config Config
	log    zerolog.Logger
	conn   *websocket.Conn
	mu     sync.RWMutex
	setMu  sync.Mutex
	seq    uint64 // last command sequence, guarded by setMu

	// States receives every audioout/state message; full buffers drop
	States  chan protocol.OutputState
	results chan protocol.SetResult

	hello   protocol.ServerHello
	outputs map[string]protocol.OutputState
	order   []string

	connected bool
	ctx       context.Context
	cancel    context.CancelFunc
}

// NewClient creates a new bridge client
func NewClient(config Config) *Client {
	ctx, cancel := context.WithCancel(context.Background())

	return &Client{
		config:  config,
		log:     config.Logger,
		States:  make(chan protocol.OutputState, 32),
		results: make(chan protocol.SetResult, 10),
		outputs: make(map[string]protocol.OutputState),
		ctx:     ctx,
		cancel:  cancel,
	}
}

// Connect establishes the WebSocket connection and performs the handshake
func (c *Client) Connect() error {
	u := url.URL{Scheme: "ws", Host: c.config.BridgeAddr, Path: discovery.BridgePath}
	c.log.Debug().Str("url", u.String()).Msg("Connecting to bridge")

	conn, _, err := websocket.DefaultDialer.Dial(u.String(), nil)
	if err != nil {
		return fmt.Errorf("dial failed: %w", err)
	}

	c.mu.Lock()
	c.conn = conn
	c.connected = true
	c.mu.Unlock()

	if err := c.handshake(); err != nil {
		c.Close()
		return fmt.Errorf("handshake failed: %w", err)
	}

	go c.readMessages()

	return nil
}

// handshake exchanges hellos and waits for the initial output list
func (c *Client) handshake() error {
	hello := protocol.ClientHello{
		ClientID: c.config.ClientID,
		Name:     c.config.Name,
	}
	if err := c.send(protocol.TypeClientHello, hello); err != nil {
		return fmt.Errorf("failed to send client/hello: %w", err)
	}

	c.conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	defer c.conn.SetReadDeadline(time.Time{})

	for gotHello, gotList := false, false; !gotHello || !gotList; {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			return fmt.Errorf("failed to read handshake: %w", err)
		}
		env, err := protocol.ParseEnvelope(data)
		if err != nil {
			return fmt.Errorf("failed to parse handshake: %w", err)
		}

		switch env.Type {
		case protocol.TypeServerHello:
			if err := env.Decode(&c.hello); err != nil {
				return fmt.Errorf("failed to parse server/hello: %w", err)
			}
			gotHello = true
		case protocol.TypeList:
			if !gotHello {
				return fmt.Errorf("expected server/hello, got %s", env.Type)
			}
			var list protocol.OutputList
			if err := env.Decode(&list); err != nil {
				return fmt.Errorf("failed to parse output list: %w", err)
			}
			for _, out := range list.Outputs {
				c.track(out)
			}
			gotList = true
		default:
			if !gotHello {
				return fmt.Errorf("expected server/hello, got %s", env.Type)
			}
		}
	}

	c.log.Info().Str("bridge", c.hello.Name).Int("outputs", len(c.order)).Msg("Handshake complete")
	return nil
}

// send writes one JSON message
func (c *Client) send(msgType string, payload interface{}) error {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if !c.connected {
		return fmt.Errorf("not connected")
	}

	return c.conn.WriteJSON(protocol.Message{Type: msgType, Payload: payload})
}

// readMessages reads and routes incoming messages
func (c *Client) readMessages() {
	defer c.Close()

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			select {
			case <-c.ctx.Done():
			default:
				c.log.Debug().Err(err).Msg("Read error")
			}
			return
		}
		c.handleMessage(data)
	}
}

// handleMessage routes one JSON message
func (c *Client) handleMessage(data []byte) {
	env, err := protocol.ParseEnvelope(data)
	if err != nil {
		c.log.Debug().Err(err).Msg("Failed to parse message")
		return
	}

	switch env.Type {
	case protocol.TypeState:
		var state protocol.OutputState
		if err := env.Decode(&state); err != nil {
			return
		}
		c.track(state)
		select {
		case c.States <- state:
		default:
		}

	case protocol.TypeResult:
		var res protocol.SetResult
		if err := env.Decode(&res); err != nil {
			return
		}
		select {
		case c.results <- res:
		case <-c.ctx.Done():
		}

	default:
		c.log.Debug().Str("type", env.Type).Msg("Unknown message type")
	}
}

func (c *Client) track(state protocol.OutputState) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, ok := c.outputs[state.HardwareID]; !ok {
		c.order = append(c.order, state.HardwareID)
	}
	c.outputs[state.HardwareID] = state
}

// Outputs returns the last known state of every output in bridge order
func (c *Client) Outputs() []protocol.OutputState {
	c.mu.RLock()
	defer c.mu.RUnlock()

	out := make([]protocol.OutputState, 0, len(c.order))
	for _, id := range c.order {
		out = append(out, c.outputs[id])
	}
	return out
}

// Server returns the bridge's hello
func (c *Client) Server() protocol.ServerHello {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.hello
}

// Set sends a command and waits for its result. Commands are serialized
// and tagged with a sequence number; results of earlier commands that
// arrive late are discarded.
func (c *Client) Set(ctx context.Context, cmd protocol.SetCommand) (protocol.SetResult, error) {
	c.setMu.Lock()
	defer c.setMu.Unlock()

	c.seq++
	cmd.Seq = c.seq
	if err := c.send(protocol.TypeSet, cmd); err != nil {
		return protocol.SetResult{}, err
	}

	for {
		select {
		case res := <-c.results:
			if res.Seq != cmd.Seq {
				c.log.Debug().Uint64("seq", res.Seq).Str("id", res.ID).Msg("Dropping stale result")
				continue
			}
			return res, nil
		case <-ctx.Done():
			return protocol.SetResult{}, ctx.Err()
		case <-c.ctx.Done():
			return protocol.SetResult{}, fmt.Errorf("connection closed")
		}
	}
}

// Done is closed once the connection is gone
func (c *Client) Done() <-chan struct{} {
	return c.ctx.Done()
}

// Close says goodbye and closes the connection
func (c *Client) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.connected {
		c.conn.WriteJSON(protocol.Message{
			Type:    protocol.TypeClientGoodbye,
			Payload: protocol.ClientGoodbye{Reason: "closing"},
		})
		c.connected = false
		c.cancel()
		c.conn.Close()
		c.log.Debug().Msg("Connection closed")
	}
}

// IsConnected returns connection status
func (c *Client) IsConnected() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.connected
}
