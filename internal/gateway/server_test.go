package gateway

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/fize-ai/soloqueue/internal/approval"
	"github.com/fize-ai/soloqueue/internal/bus"
	"github.com/fize-ai/soloqueue/pkg/protocol"
)

type wsFrame struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

func newTestServer(t *testing.T) (*Server, *bus.MessageBus, *approval.Bridge, *httptest.Server) {
	t.Helper()
	events := bus.NewMessageBus()
	bridge := approval.NewBridge(events)
	srv := NewServer("unused", nil, events, bridge)

	httpSrv := httptest.NewServer(http.HandlerFunc(srv.handleWebSocket))
	t.Cleanup(httpSrv.Close)

	// Broadcast wiring normally done by Start.
	events.Subscribe("gateway", srv.broadcast)
	t.Cleanup(func() { events.Unsubscribe("gateway") })

	return srv, events, bridge, httpSrv
}

func dial(t *testing.T, httpSrv *httptest.Server) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(httpSrv.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

func TestClientConnect_FlipsBridgeState(t *testing.T) {
	srv, _, bridge, httpSrv := newTestServer(t)

	if bridge.Connected() {
		t.Fatal("bridge connected before any client")
	}

	conn := dial(t, httpSrv)

	waitFor(t, func() bool { return bridge.Connected() }, "bridge connect")
	if srv.clientCount() != 1 {
		t.Errorf("client count = %d", srv.clientCount())
	}

	conn.Close()
	waitFor(t, func() bool { return !bridge.Connected() }, "bridge disconnect")
}

func TestBroadcast_ReachesClient(t *testing.T) {
	_, events, bridge, httpSrv := newTestServer(t)
	conn := dial(t, httpSrv)
	waitFor(t, func() bool { return bridge.Connected() }, "connect")

	events.Broadcast(bus.Event{
		Name:    protocol.EventStream,
		Payload: protocol.StreamPayload{AgentID: "a", StreamType: protocol.StreamAnswer, Content: "hi"},
	})

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, data, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	var frame wsFrame
	if err := json.Unmarshal(data, &frame); err != nil {
		t.Fatal(err)
	}
	if frame.Type != protocol.EventStream {
		t.Errorf("frame type = %q", frame.Type)
	}
	var payload protocol.StreamPayload
	if err := json.Unmarshal(frame.Payload, &payload); err != nil {
		t.Fatal(err)
	}
	if payload.Content != "hi" || payload.AgentID != "a" {
		t.Errorf("payload = %+v", payload)
	}
}

func TestWriteActionRoundTripThroughGateway(t *testing.T) {
	_, _, bridge, httpSrv := newTestServer(t)
	conn := dial(t, httpSrv)
	waitFor(t, func() bool { return bridge.Connected() }, "connect")

	// The UI side: read the request, approve it.
	go func() {
		conn.SetReadDeadline(time.Now().Add(5 * time.Second))
		for {
			_, data, err := conn.ReadMessage()
			if err != nil {
				return
			}
			var frame wsFrame
			if json.Unmarshal(data, &frame) != nil || frame.Type != protocol.EventWriteActionRequest {
				continue
			}
			var req protocol.WriteActionRequest
			if json.Unmarshal(frame.Payload, &req) != nil {
				continue
			}
			resp, _ := json.Marshal(map[string]any{
				"type": protocol.EventWriteActionResponse,
				"payload": protocol.WriteActionResponse{
					ID: req.ID, Approved: true, Timestamp: time.Now().Format(time.RFC3339),
				},
			})
			conn.WriteMessage(websocket.TextMessage, resp)
			return
		}
	}()

	if !bridge.RequestApproval("create", "notes.txt", "writer") {
		t.Error("approval round trip through the gateway failed")
	}
}

func TestCheckOrigin(t *testing.T) {
	srv := NewServer("x", []string{"https://app.example.com"}, bus.NewMessageBus(), nil)

	req := func(origin string) *http.Request {
		r := httptest.NewRequest(http.MethodGet, "/ws", nil)
		if origin != "" {
			r.Header.Set("Origin", origin)
		}
		return r
	}

	if !srv.checkOrigin(req("")) {
		t.Error("empty origin (non-browser) rejected")
	}
	if !srv.checkOrigin(req("https://app.example.com")) {
		t.Error("allowed origin rejected")
	}
	if srv.checkOrigin(req("https://evil.example.com")) {
		t.Error("disallowed origin accepted")
	}

	open := NewServer("x", nil, bus.NewMessageBus(), nil)
	if !open.checkOrigin(req("https://anything")) {
		t.Error("no-config server should allow all origins")
	}
}

func waitFor(t *testing.T, cond func() bool, what string) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}
