// ABOUTME: Bridge protocol message type definitions
// ABOUTME: JSON envelope plus the hello, state and command payloads
package protocol

import (
	"encoding/json"
	"fmt"
)

// Version of the bridge protocol
const Version = 1

// Message types
const (
	TypeClientHello   = "client/hello"
	TypeClientGoodbye = "client/goodbye"
	TypeServerHello   = "server/hello"
	TypeList          = "audioout/list"
	TypeState         = "audioout/state"
	TypeSet           = "audioout/set"
	TypeResult        = "audioout/result"
)

// Message is the top-level wrapper for all outgoing messages
type Message struct {
	Type    string      `json:"type"`
	Payload interface{} `json:"payload"`
}

// Envelope is an incoming message with its payload left undecoded
type Envelope struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

// ParseEnvelope decodes the wrapper of an incoming message
func ParseEnvelope(data []byte) (Envelope, error) {
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return Envelope{}, fmt.Errorf("invalid message: %w", err)
	}
	if env.Type == "" {
		return Envelope{}, fmt.Errorf("message without type")
	}
	return env, nil
}

// Decode unmarshals the payload into v
func (e Envelope) Decode(v interface{}) error {
	if len(e.Payload) == 0 {
		return fmt.Errorf("%s: missing payload", e.Type)
	}
	if err := json.Unmarshal(e.Payload, v); err != nil {
		return fmt.Errorf("%s: invalid payload: %w", e.Type, err)
	}
	return nil
}

// ClientHello is sent by clients to initiate the handshake
type ClientHello struct {
	ClientID string `json:"client_id,omitempty"` // assigned by the server when empty
	Name     string `json:"name"`
}

// ServerHello is the server's response to client/hello
type ServerHello struct {
	ServerID string `json:"server_id"`
	ClientID string `json:"client_id"`
	Name     string `json:"name"`
	Version  int    `json:"version"`
}

// ClientGoodbye announces a graceful disconnect
type ClientGoodbye struct {
	Reason string `json:"reason"`
}

// OutputState is the last known state of one audio output
type OutputState struct {
	HardwareID  string `json:"hardware_id"`
	LogicalName string `json:"logical_name"`
	Online      bool   `json:"online"`
	Volume      int    `json:"volume"`
	Mute        int    `json:"mute"` // 0, 1 or -1 when unknown
	VolumeRange string `json:"volume_range"`
	Signal      int    `json:"signal"`
	NoSignalFor int    `json:"no_signal_for"`
}

// OutputList is the full snapshot sent after the handshake
type OutputList struct {
	Outputs []OutputState `json:"outputs"`
}

// SetCommand changes one or both attributes of an output
type SetCommand struct {
	ID     string `json:"id"` // any identifier accepted by FindAudioOut
	Seq    uint64 `json:"seq,omitempty"`
	Volume *int   `json:"volume,omitempty"`
	Mute   *bool  `json:"mute,omitempty"`
}

// SetResult answers a SetCommand
type SetResult struct {
	ID     string `json:"id"`
	Seq    uint64 `json:"seq,omitempty"` // copied from the command
	Status int    `json:"status"` // 0 on success, negative status code otherwise
	Error  string `json:"error,omitempty"`
}
