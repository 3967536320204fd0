package approval

import (
	"context"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/fize-ai/soloqueue/internal/bus"
	"github.com/fize-ai/soloqueue/pkg/protocol"
)

// Timeouts for the UI handshake. The synchronous path waits slightly
// longer than the async wait so the inner timeout always fires first.
const (
	uiWaitTimeout     = 30 * time.Second
	syncExtraMargin   = 5 * time.Second
	responseSlotDepth = 1
)

// Backend is the approval surface write-gated tools call.
type Backend interface {
	RequestApproval(operation, details, agentID string) bool
}

// Bridge routes write-action approvals to a connected UI channel, or
// denies them outright when no UI is attached. Safe to call from tool
// goroutines: state is mutated only under the bridge's lock, and the
// caller blocks on a per-request completion slot.
type Bridge struct {
	events bus.EventPublisher

	mu        sync.Mutex
	connected bool
	pending   map[string]chan bool // request id → completion slot

	// uiWait is the async await window; overridable in tests.
	uiWait time.Duration
}

func NewBridge(events bus.EventPublisher) *Bridge {
	return &Bridge{
		events:  events,
		pending: make(map[string]chan bool),
		uiWait:  uiWaitTimeout,
	}
}

// SetConnected flips the UI connection state. Only when disconnected
// does the synchronous path deny immediately.
func (b *Bridge) SetConnected(on bool) {
	b.mu.Lock()
	b.connected = on
	b.mu.Unlock()
	slog.Debug("approval bridge connection changed", "connected", on)
}

// Connected reports whether a UI channel is attached.
func (b *Bridge) Connected() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.connected
}

// RequestApproval synchronously asks the user to approve a write action.
// Callable from any worker goroutine; blocks until the UI answers, the
// inner wait times out (deny), or the outer margin expires (deny).
func (b *Bridge) RequestApproval(operation, details, agentID string) bool {
	if !b.Connected() {
		slog.Warn("approval denied: UI not connected", "operation", operation, "details", details)
		return false
	}

	ctx, cancel := context.WithTimeout(context.Background(), b.uiWait+syncExtraMargin)
	defer cancel()

	done := make(chan bool, responseSlotDepth)
	go func() {
		done <- b.RequestApprovalAsync(ctx, operation, details, "", agentID)
	}()

	select {
	case approved := <-done:
		return approved
	case <-ctx.Done():
		slog.Warn("approval timed out (outer margin)", "operation", operation)
		return false
	}
}

// RequestApprovalAsync creates a completion slot, emits a
// write_action_request event on the UI channel, and awaits the response
// up to the wait window. The slot is removed on every exit path. Send
// failure or timeout denies.
func (b *Bridge) RequestApprovalAsync(ctx context.Context, operation, details, requestID, agentID string) bool {
	if requestID == "" {
		requestID = uuid.NewString()
	}
	if agentID == "" {
		agentID = "unknown"
	}

	b.mu.Lock()
	if !b.connected {
		b.mu.Unlock()
		slog.Warn("approval denied: UI not connected", "operation", operation)
		return false
	}
	slot := make(chan bool, responseSlotDepth)
	b.pending[requestID] = slot
	b.mu.Unlock()

	defer func() {
		b.mu.Lock()
		delete(b.pending, requestID)
		b.mu.Unlock()
	}()

	b.events.Broadcast(bus.Event{
		Name: protocol.EventWriteActionRequest,
		Payload: protocol.WriteActionRequest{
			ID:        requestID,
			AgentID:   agentID,
			FilePath:  details,
			Operation: normalizeOperation(operation),
			Timestamp: time.Now().Format(time.RFC3339),
		},
	})

	slog.Info("waiting for write-action approval",
		"operation", operation, "details", details, "agent", agentID)

	timer := time.NewTimer(b.uiWait)
	defer timer.Stop()

	select {
	case approved := <-slot:
		return approved
	case <-timer.C:
		slog.Warn("approval timed out", "request", requestID)
		return false
	case <-ctx.Done():
		slog.Warn("approval cancelled", "request", requestID)
		return false
	}
}

// SubmitResponse fulfils the matching pending slot with the user's
// decision. Returns whether a live request matched (false for stale or
// already-answered ids).
func (b *Bridge) SubmitResponse(requestID string, approved bool) bool {
	b.mu.Lock()
	slot, ok := b.pending[requestID]
	if ok {
		delete(b.pending, requestID)
	}
	b.mu.Unlock()

	if !ok {
		slog.Warn("response for unknown or completed request", "request", requestID)
		return false
	}

	slot <- approved
	slog.Info("write-action response received", "request", requestID, "approved", approved)
	return true
}

// normalizeOperation maps free-form operation names onto the wire
// vocabulary (create/update/delete).
func normalizeOperation(operation string) string {
	op := strings.ToLower(operation)
	switch {
	case strings.Contains(op, "update"), strings.Contains(op, "modify"):
		return protocol.OpUpdate
	case strings.Contains(op, "delete"), strings.Contains(op, "remove"):
		return protocol.OpDelete
	default:
		return protocol.OpCreate
	}
}
