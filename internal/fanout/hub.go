// Package fanout broadcasts scheduler lifecycle events to websocket
// subscribers grouped into rooms. Delivery is best effort: a dead or slow
// subscriber is dropped, never waited on.
package fanout

import (
	"log/slog"
	"strings"
	"sync"

	"github.com/postpilot/postpilot-go/internal/core"
	"github.com/postpilot/postpilot-go/internal/data"
	"github.com/postpilot/postpilot-go/internal/domain/model"
)

// DefaultRoom receives job and scheduler events when a socket names no room.
const DefaultRoom = "scheduler"

// AutomationRoom receives automation.* progress events.
const AutomationRoom = "automation"

// subscription records where one socket is attached and, optionally, which
// account it is scoped to.
type subscription struct {
	room      string
	accountID *string
}

// HubOptions holds the dependencies for creating a Hub.
type HubOptions struct {
	// Optional: Logger defaults to slog.Default().
	Logger *slog.Logger
	// Optional: TimeProvider stamps pong replies; defaults to the real clock.
	TimeProvider data.TimeProvider
}

// Hub is the connection registry. One mutex guards both maps; sends happen
// outside the lock on a snapshot, and failed sockets are disconnected after
// the iteration completes.
type Hub struct {
	logger       *slog.Logger
	timeProvider data.TimeProvider

	mu          sync.Mutex
	connections map[Socket]subscription
	rooms       map[string]map[Socket]struct{}
}

var _ core.EventPublisher = (*Hub)(nil)

// NewHub creates an empty Hub.
func NewHub(opts HubOptions) *Hub {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	timeProvider := opts.TimeProvider
	if timeProvider == nil {
		timeProvider = &data.RealTimeProvider{}
	}

	return &Hub{
		logger:       logger.With("component", "fanout_hub"),
		timeProvider: timeProvider,
		connections:  make(map[Socket]subscription),
		rooms:        make(map[string]map[Socket]struct{}),
	}
}

// Connect subscribes a socket to a room, optionally scoped to one account.
// Reconnecting an already-subscribed socket moves it to the new room.
func (h *Hub) Connect(socket Socket, room string, accountID *string) {
	if socket == nil {
		return
	}
	if room == "" {
		room = DefaultRoom
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	if prev, ok := h.connections[socket]; ok {
		h.removeFromRoom(socket, prev.room)
	}

	h.connections[socket] = subscription{room: room, accountID: accountID}
	if h.rooms[room] == nil {
		h.rooms[room] = make(map[Socket]struct{})
	}
	h.rooms[room][socket] = struct{}{}
}

// Disconnect removes a socket. Unknown sockets are ignored.
func (h *Hub) Disconnect(socket Socket) {
	h.mu.Lock()
	defer h.mu.Unlock()

	sub, ok := h.connections[socket]
	if !ok {
		return
	}
	delete(h.connections, socket)
	h.removeFromRoom(socket, sub.room)
}

// removeFromRoom drops a socket from a room's set. Callers hold h.mu.
func (h *Hub) removeFromRoom(socket Socket, room string) {
	members, ok := h.rooms[room]
	if !ok {
		return
	}
	delete(members, socket)
	if len(members) == 0 {
		delete(h.rooms, room)
	}
}

// ConnectionCount returns how many sockets are subscribed.
func (h *Hub) ConnectionCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.connections)
}

// RoomCount returns how many sockets a room holds.
func (h *Hub) RoomCount(room string) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.rooms[room])
}

// Publish implements core.EventPublisher. Status announcements reach every
// room; automation progress goes to the automation room; job lifecycle
// events go to the scheduler room.
func (h *Hub) Publish(event model.Event) {
	switch {
	case event.Type == model.EventSchedulerStatus:
		h.Broadcast(event)
	case strings.HasPrefix(event.Type, "automation."):
		h.BroadcastToRoom(AutomationRoom, event)
	default:
		h.BroadcastToRoom(DefaultRoom, event)
	}
}

// BroadcastToRoom delivers an event to the room's subscribers, honouring
// account scoping. Sockets whose send fails are disconnected afterwards.
func (h *Hub) BroadcastToRoom(room string, event model.Event) {
	h.deliver(h.roomTargets(room, event.AccountID), event)
}

// Broadcast delivers an event to every subscriber in every room.
func (h *Hub) Broadcast(event model.Event) {
	h.deliver(h.allTargets(event.AccountID), event)
}

// roomTargets snapshots the sockets in one room that should see an event
// with the given account scope.
func (h *Hub) roomTargets(room string, accountID *string) []Socket {
	h.mu.Lock()
	defer h.mu.Unlock()

	members := h.rooms[room]
	targets := make([]Socket, 0, len(members))
	for socket := range members {
		if h.wantsAccount(socket, accountID) {
			targets = append(targets, socket)
		}
	}
	return targets
}

// allTargets snapshots every socket that should see an event with the
// given account scope.
func (h *Hub) allTargets(accountID *string) []Socket {
	h.mu.Lock()
	defer h.mu.Unlock()

	targets := make([]Socket, 0, len(h.connections))
	for socket := range h.connections {
		if h.wantsAccount(socket, accountID) {
			targets = append(targets, socket)
		}
	}
	return targets
}

// wantsAccount reports whether a socket's scope admits an event. Unscoped
// sockets see everything; scoped sockets see unscoped events and events
// for their account. Callers hold h.mu.
func (h *Hub) wantsAccount(socket Socket, accountID *string) bool {
	sub, ok := h.connections[socket]
	if !ok {
		return false
	}
	if sub.accountID == nil || accountID == nil {
		return true
	}
	return *sub.accountID == *accountID
}

// deliver sends the event to each target and disconnects the ones whose
// send failed. Disconnection happens after the loop so delivery order is
// never disturbed by map mutation.
func (h *Hub) deliver(targets []Socket, event model.Event) {
	var failed []Socket
	for _, socket := range targets {
		if err := socket.Send(event); err != nil {
			failed = append(failed, socket)
		}
	}

	for _, socket := range failed {
		h.Disconnect(socket)
		h.logger.Debug("dropped unreachable subscriber", "event_type", event.Type)
	}
}

// Serve registers a socket and pumps its inbound messages until the peer
// goes away. Inbound ping gets an inline pong; everything else is ignored.
// Intended to run on the connection's handler goroutine.
func (h *Hub) Serve(socket Socket, room string, accountID *string) {
	h.Connect(socket, room, accountID)
	defer h.Disconnect(socket)

	for {
		msg, err := socket.Receive()
		if err != nil {
			return
		}
		if strings.EqualFold(msg.Type, "ping") {
			pong := model.NewEvent("pong", nil, h.timeProvider.Now())
			if err := socket.Send(pong); err != nil {
				return
			}
		}
	}
}
