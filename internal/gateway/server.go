package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/fize-ai/soloqueue/internal/approval"
	"github.com/fize-ai/soloqueue/internal/bus"
	"github.com/fize-ai/soloqueue/pkg/protocol"
)

// Server is the websocket UI channel: it fans engine events out to
// connected clients and routes inbound write_action_response frames to
// the approval bridge. The HTTP surface is deliberately thin — the
// engine itself has no web API.
type Server struct {
	addr           string
	allowedOrigins []string
	events         bus.EventPublisher
	bridge         *approval.Bridge

	upgrader websocket.Upgrader
	mu       sync.RWMutex
	clients  map[string]*client

	httpServer *http.Server
}

type client struct {
	id   string
	conn *websocket.Conn
	send chan bus.Event
}

func NewServer(addr string, allowedOrigins []string, events bus.EventPublisher, bridge *approval.Bridge) *Server {
	s := &Server{
		addr:           addr,
		allowedOrigins: allowedOrigins,
		events:         events,
		bridge:         bridge,
		clients:        make(map[string]*client),
	}
	s.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     s.checkOrigin,
	}
	return s
}

func (s *Server) checkOrigin(r *http.Request) bool {
	if len(s.allowedOrigins) == 0 {
		return true
	}
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true // non-browser clients
	}
	for _, a := range s.allowedOrigins {
		if origin == a || a == "*" {
			return true
		}
	}
	slog.Warn("security.cors_rejected", "origin", origin)
	return false
}

// Start serves until ctx is cancelled.
func (s *Server) Start(ctx context.Context) error {
	mux := http.NewServeMux()
	mux.HandleFunc("/ws", s.handleWebSocket)
	mux.HandleFunc("/health", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprintf(w, `{"status":"ok","clients":%d}`, s.clientCount())
	})

	s.events.Subscribe("gateway", s.broadcast)
	defer s.events.Unsubscribe("gateway")

	s.httpServer = &http.Server{Addr: s.addr, Handler: mux}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("gateway listening", "addr", s.addr)
		if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return s.httpServer.Shutdown(shutdownCtx)
	}
}

func (s *Server) clientCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.clients)
}

func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		slog.Error("websocket upgrade failed", "error", err)
		return
	}

	c := &client{
		id:   uuid.NewString()[:8],
		conn: conn,
		send: make(chan bus.Event, 64),
	}

	s.mu.Lock()
	s.clients[c.id] = c
	first := len(s.clients) == 1
	s.mu.Unlock()

	if first && s.bridge != nil {
		s.bridge.SetConnected(true)
	}
	slog.Info("ui client connected", "client", c.id)

	go s.writePump(c)
	s.readPump(c)
}

// broadcast queues an event onto every client's write pump. Slow
// clients drop events rather than blocking the engine.
func (s *Server) broadcast(event bus.Event) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, c := range s.clients {
		select {
		case c.send <- event:
		default:
			slog.Debug("dropping event for slow client", "client", c.id, "event", event.Name)
		}
	}
}

func (s *Server) writePump(c *client) {
	for event := range c.send {
		data, err := json.Marshal(map[string]any{
			"type":    event.Name,
			"payload": event.Payload,
		})
		if err != nil {
			continue
		}
		if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
			return
		}
	}
}

func (s *Server) readPump(c *client) {
	defer s.disconnect(c)

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			return
		}

		var frame struct {
			Type    string          `json:"type"`
			Payload json.RawMessage `json:"payload"`
		}
		if err := json.Unmarshal(data, &frame); err != nil {
			slog.Debug("unreadable ws frame", "client", c.id, "error", err)
			continue
		}

		switch frame.Type {
		case protocol.EventWriteActionResponse:
			var resp protocol.WriteActionResponse
			if err := json.Unmarshal(frame.Payload, &resp); err != nil {
				slog.Warn("malformed write_action_response", "client", c.id, "error", err)
				continue
			}
			if s.bridge != nil {
				s.bridge.SubmitResponse(resp.ID, resp.Approved)
			}
		default:
			slog.Debug("ignoring inbound event", "client", c.id, "type", frame.Type)
		}
	}
}

func (s *Server) disconnect(c *client) {
	s.mu.Lock()
	delete(s.clients, c.id)
	empty := len(s.clients) == 0
	s.mu.Unlock()

	close(c.send)
	c.conn.Close()

	if empty && s.bridge != nil {
		s.bridge.SetConnected(false)
	}
	slog.Info("ui client disconnected", "client", c.id)
}
