// Package hub is the room broadcaster: it maps room ids to live connections
// and fans frames out to them.
package hub

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"

	"mentormatrix/internal/websocket"
	"mentormatrix/pkg/types"
)

// Hub fans events out to rooms. Membership lives in the registry; the hub
// only decides who receives a frame.
// ARCHITECTURAL DISCOVERY: fan-out holds one lock end to end, so two
// broadcasts into the same room reach every member in the same order
type Hub struct {
	registry *websocket.Registry
	logger   *slog.Logger

	sendMu  sync.Mutex
	mu      sync.RWMutex
	stopped bool
}

// NewHub creates a new hub
func NewHub(registry *websocket.Registry, logger *slog.Logger) *Hub {
	if logger == nil {
		logger = slog.Default()
	}
	return &Hub{registry: registry, logger: logger.With("component", "hub")}
}

// Join adds connID to roomID. Joining twice is the same as joining once.
func (h *Hub) Join(connID, roomID string) error {
	if h.isStopped() {
		return ErrHubStopped
	}
	return h.registry.AddToRoom(connID, roomID)
}

// Leave removes connID from roomID. Leaving a room one is not in is fine.
func (h *Hub) Leave(connID, roomID string) {
	h.registry.RemoveFromRoom(connID, roomID)
}

// Broadcast delivers event to every member of roomID except exclude and
// returns how many members accepted the frame. An empty room is a no-op.
func (h *Hub) Broadcast(roomID, event string, payload interface{}, exclude string) (int, error) {
	if h.isStopped() {
		return 0, nil
	}
	frame, err := Encode(event, payload)
	if err != nil {
		return 0, err
	}

	h.sendMu.Lock()
	defer h.sendMu.Unlock()

	delivered := 0
	for _, conn := range h.registry.RoomMembers(roomID) {
		if conn.ID() == exclude {
			continue
		}
		if err := conn.Send(frame); err != nil {
			h.logger.Debug("dropped room frame", "room", roomID, "event", event, "conn_id", conn.ID(), "error", err)
			continue
		}
		delivered++
	}
	return delivered, nil
}

// BroadcastAll delivers event to every live connection except exclude.
func (h *Hub) BroadcastAll(event string, payload interface{}, exclude string) (int, error) {
	if h.isStopped() {
		return 0, nil
	}
	frame, err := Encode(event, payload)
	if err != nil {
		return 0, err
	}

	h.sendMu.Lock()
	defer h.sendMu.Unlock()

	delivered := 0
	for _, conn := range h.registry.Connections() {
		if conn.ID() == exclude {
			continue
		}
		if conn.Send(frame) == nil {
			delivered++
		}
	}
	return delivered, nil
}

// Send delivers event to a single connection.
func (h *Hub) Send(connID, event string, payload interface{}) error {
	conn, ok := h.registry.Get(connID)
	if !ok {
		return websocket.ErrUnknownConnection
	}
	frame, err := Encode(event, payload)
	if err != nil {
		return err
	}
	return conn.Send(frame)
}

// Shutdown stops further broadcasts and closes every live connection.
func (h *Hub) Shutdown() {
	h.mu.Lock()
	if h.stopped {
		h.mu.Unlock()
		return
	}
	h.stopped = true
	h.mu.Unlock()

	conns := h.registry.Connections()
	h.logger.Info("closing connections", "count", len(conns))
	for _, conn := range conns {
		_ = conn.Close()
	}
}

func (h *Hub) isStopped() bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.stopped
}

// Encode renders the outbound envelope for event.
func Encode(event string, payload interface{}) ([]byte, error) {
	frame, err := json.Marshal(types.OutboundFrame{Event: event, Data: payload})
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrEncodeFrame, event, err)
	}
	return frame, nil
}
