package hub

import (
	"maps"
	"slices"

	"github.com/orchestra-mcp/nexus/src/types"
)

// Registration and the read-only views below take h.mu directly; they are
// safe to call from any goroutine, including handlers running on Run.

// RegisterHandler routes inbound messages with the given event name to
// handler. A later registration for the same event replaces the earlier one.
func (h *Hub) RegisterHandler(event string, handler types.MessageHandler) {
	h.mu.Lock()
	h.handlers[event] = handler
	h.mu.Unlock()
}

// OnConnection adds a callback run on the hub goroutine after a client is
// registered and subscribed to its personal channel.
func (h *Hub) OnConnection(cb func(types.ClientInfo)) {
	h.mu.Lock()
	h.onConnect = append(h.onConnect, cb)
	h.mu.Unlock()
}

// OnDisconnection adds a callback run on the hub goroutine after a client
// has been removed from every channel.
func (h *Hub) OnDisconnection(cb func(types.ClientInfo)) {
	h.mu.Lock()
	h.onDisconn = append(h.onDisconn, cb)
	h.mu.Unlock()
}

// ConnectedClients returns the connected client ids in sorted order.
func (h *Hub) ConnectedClients() []string {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return slices.Sorted(maps.Keys(h.clients))
}

// ClientInfo returns a snapshot of a connected client, or nil.
func (h *Hub) ClientInfo(clientID string) *types.ClientInfo {
	h.mu.RLock()
	c := h.clients[clientID]
	h.mu.RUnlock()
	if c == nil {
		return nil
	}
	info := c.Info()
	return &info
}

// UserClient returns the client currently registered for userID. After a
// reconnect this is the newest connection.
func (h *Hub) UserClient(userID string) (string, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	id, ok := h.users[userID]
	return id, ok
}

// OnlineUsers returns the user ids with a live connection on this instance,
// sorted.
func (h *Hub) OnlineUsers() []string {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return slices.Sorted(maps.Keys(h.users))
}

// Channels maps each channel with at least one subscriber to its
// subscriber count.
func (h *Hub) Channels() map[string]int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	counts := make(map[string]int, len(h.channels))
	for name, subs := range h.channels {
		if len(subs) > 0 {
			counts[name] = len(subs)
		}
	}
	return counts
}

func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}
