// ABOUTME: Tests for the bridge WebSocket client
// ABOUTME: Tests handshake, output tracking, set commands and close
package client

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/yoctolink/audioout/internal/bridge"
	"github.com/yoctolink/audioout/internal/protocol"
	"github.com/yoctolink/audioout/internal/yapitest"
	"github.com/yoctolink/audioout/pkg/audioout"
	"github.com/yoctolink/audioout/pkg/yapi"
)

func startBridge(t *testing.T) (string, *yapitest.Hub) {
	t.Helper()

	reg := yapi.New(yapi.Config{Ticks: yapitest.NewManualTicks(1)})
	hub := yapitest.NewHub("test")
	hub.AddModule("YMINIAMP-1", "kitchen")
	hub.AddFunction(audioout.ClassName, "YMINIAMP-1", "audioOut1", "left", map[string]interface{}{
		"logicalName": "left",
		"volume":      40,
		"mute":        1,
		"volumeRange": "30-100",
		"signal":      2,
		"noSignalFor": 0,
	})
	reg.RegisterHub(hub)

	srv, err := bridge.NewServer(bridge.Config{Name: "Test Bridge", Registry: reg})
	if err != nil {
		t.Fatalf("failed to create bridge: %v", err)
	}
	t.Cleanup(srv.Stop)

	srv.Refresh(context.Background())

	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)

	return strings.TrimPrefix(ts.URL, "http://"), hub
}

func TestNewClient(t *testing.T) {
	config := Config{
		BridgeAddr: "localhost:8940",
		ClientID:   "test-client",
		Name:       "Test Controller",
	}

	client := NewClient(config)
	if client == nil {
		t.Fatal("expected client to be created")
	}

	if client.config.BridgeAddr != "localhost:8940" {
		t.Errorf("expected bridge addr localhost:8940, got %s", client.config.BridgeAddr)
	}
	if client.IsConnected() {
		t.Error("client should not be connected before Connect")
	}
}

func TestConnectFailsWithoutBridge(t *testing.T) {
	client := NewClient(Config{BridgeAddr: "127.0.0.1:1"})
	if err := client.Connect(); err == nil {
		t.Fatal("expected dial error")
	}
}

func TestHandshakeAndSet(t *testing.T) {
	addr, hub := startBridge(t)

	client := NewClient(Config{BridgeAddr: addr, ClientID: "ctl-1", Name: "tester"})
	if err := client.Connect(); err != nil {
		t.Fatalf("connect failed: %v", err)
	}
	defer client.Close()

	if !client.IsConnected() {
		t.Error("expected connected after handshake")
	}
	if hello := client.Server(); hello.Name != "Test Bridge" || hello.ClientID != "ctl-1" {
		t.Errorf("unexpected server hello %+v", hello)
	}

	outputs := client.Outputs()
	if len(outputs) != 1 {
		t.Fatalf("expected 1 output from the initial list, got %d", len(outputs))
	}
	if outputs[0].LogicalName != "left" || outputs[0].Volume != 40 || outputs[0].Mute != int(audioout.MuteTrue) {
		t.Errorf("unexpected output %+v", outputs[0])
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	vol := 65
	res, err := client.Set(ctx, protocol.SetCommand{ID: "YMINIAMP-1.audioOut1", Volume: &vol})
	if err != nil {
		t.Fatalf("set failed: %v", err)
	}
	if res.Status != int(yapi.Success) {
		t.Errorf("expected success, got %+v", res)
	}

	sets := hub.Sets()
	if len(sets) != 1 || sets[0].Attr != "volume" || sets[0].Value != "65" {
		t.Errorf("unexpected device calls %+v", sets)
	}
}

func TestSetReportsDeviceErrors(t *testing.T) {
	addr, _ := startBridge(t)

	client := NewClient(Config{BridgeAddr: addr, Name: "tester"})
	if err := client.Connect(); err != nil {
		t.Fatalf("connect failed: %v", err)
	}
	defer client.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	muted := false
	res, err := client.Set(ctx, protocol.SetCommand{ID: "nowhere", Mute: &muted})
	if err != nil {
		t.Fatalf("set failed: %v", err)
	}
	if res.Status != int(yapi.DeviceNotFound) {
		t.Errorf("expected DeviceNotFound, got %+v", res)
	}
}

func TestSetAfterClose(t *testing.T) {
	addr, _ := startBridge(t)

	client := NewClient(Config{BridgeAddr: addr, Name: "tester"})
	if err := client.Connect(); err != nil {
		t.Fatalf("connect failed: %v", err)
	}
	client.Close()

	if _, err := client.Set(context.Background(), protocol.SetCommand{ID: "left"}); err == nil {
		t.Error("expected error after close")
	}
}

// fakeBridge completes the handshake with an empty output list and hands
// the connection to serve.
func fakeBridge(t *testing.T, serve func(conn *websocket.Conn)) string {
	t.Helper()

	upgrader := websocket.Upgrader{}
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()

		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
		conn.WriteJSON(protocol.Message{Type: protocol.TypeServerHello, Payload: protocol.ServerHello{Name: "fake"}})
		conn.WriteJSON(protocol.Message{Type: protocol.TypeList, Payload: protocol.OutputList{}})
		serve(conn)
	}))
	t.Cleanup(ts.Close)

	return strings.TrimPrefix(ts.URL, "http://")
}

func TestStatesReceivesBroadcasts(t *testing.T) {
	addr := fakeBridge(t, func(conn *websocket.Conn) {
		conn.WriteJSON(protocol.Message{Type: protocol.TypeState, Payload: protocol.OutputState{
			HardwareID: "YMINIAMP-1.audioOut1",
			Online:     true,
			Volume:     80,
		}})
		conn.ReadMessage()
	})

	client := NewClient(Config{BridgeAddr: addr, Name: "tester"})
	if err := client.Connect(); err != nil {
		t.Fatalf("connect failed: %v", err)
	}
	defer client.Close()

	select {
	case st := <-client.States:
		if st.HardwareID != "YMINIAMP-1.audioOut1" || st.Volume != 80 {
			t.Errorf("unexpected state %+v", st)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("expected a state broadcast")
	}

	if out := client.Outputs(); len(out) != 1 || out[0].Volume != 80 {
		t.Errorf("tracked outputs not updated: %+v", out)
	}
}

// answerInPairs replies to set commands only once two are pending.
func answerInPairs(conn *websocket.Conn) {
	var pending []protocol.SetCommand
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return
		}
		env, err := protocol.ParseEnvelope(data)
		if err != nil || env.Type != protocol.TypeSet {
			continue
		}
		var cmd protocol.SetCommand
		env.Decode(&cmd)
		pending = append(pending, cmd)
		if len(pending) < 2 {
			continue
		}
		for _, p := range pending {
			conn.WriteJSON(protocol.Message{Type: protocol.TypeResult, Payload: protocol.SetResult{ID: p.ID, Seq: p.Seq}})
		}
		pending = nil
	}
}

func TestLateResultIsNotReturnedToNextSet(t *testing.T) {
	client := NewClient(Config{BridgeAddr: fakeBridge(t, answerInPairs), Name: "tester"})
	if err := client.Connect(); err != nil {
		t.Fatalf("connect failed: %v", err)
	}
	defer client.Close()

	vol := 10
	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	_, err := client.Set(ctx, protocol.SetCommand{ID: "first", Volume: &vol})
	cancel()
	if err == nil {
		t.Fatal("expected the first set to time out")
	}

	ctx, cancel = context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	res, err := client.Set(ctx, protocol.SetCommand{ID: "second", Volume: &vol})
	if err != nil {
		t.Fatalf("second set failed: %v", err)
	}
	if res.ID != "second" {
		t.Errorf("expected the result of the second command, got %+v", res)
	}
}
