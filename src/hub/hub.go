package hub

import (
	"slices"
	"sync"
	"time"

	"github.com/orchestra-mcp/nexus/src/types"
	"github.com/rs/zerolog"
)

// MessageBridge publishes messages to other server instances.
// Defined here to avoid circular imports with the bridge package.
type MessageBridge interface {
	Publish(msg types.Message) error
	Available() bool
}

// Hub manages all WebSocket client connections, the user registry and
// channel subscriptions. Registration, dispatch and fan-out all run on the
// single Run goroutine.
type Hub struct {
	clients  map[string]*Client
	users    map[string]string          // userID -> clientID, last connect wins
	channels map[string]map[string]bool // channel -> set of clientIDs

	register   chan *Client
	unregister chan *Client
	incoming   chan types.Message
	broadcast  chan broadcastMsg
	localCast  chan broadcastMsg // messages from bridge, no re-publish
	bridgeOut  chan types.Message // drained by bridgeLoop, off the event loop

	handlers  map[string]types.MessageHandler
	onConnect []func(types.ClientInfo)
	onDisconn []func(types.ClientInfo)

	sendBuffer   int
	pingInterval time.Duration

	bridge MessageBridge
	mu     sync.RWMutex
	logger zerolog.Logger
	done   chan struct{}
	once   sync.Once
}

type broadcastMsg struct {
	channel string
	msg     types.Message
	except  string
}

// Option tunes a Hub.
type Option func(*Hub)

// WithSendBuffer sets the per-client outbound buffer size.
func WithSendBuffer(n int) Option {
	return func(h *Hub) {
		if n > 0 {
			h.sendBuffer = n
		}
	}
}

// WithPingInterval enables keepalive pings on connections that support them.
func WithPingInterval(d time.Duration) Option {
	return func(h *Hub) { h.pingInterval = d }
}

// New creates a new Hub instance.
func New(logger zerolog.Logger, opts ...Option) *Hub {
	h := &Hub{
		clients:    make(map[string]*Client),
		users:      make(map[string]string),
		channels:   make(map[string]map[string]bool),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		incoming:   make(chan types.Message, 256),
		broadcast:  make(chan broadcastMsg, 256),
		localCast:  make(chan broadcastMsg, 256),
		bridgeOut:  make(chan types.Message, 256),
		handlers:   make(map[string]types.MessageHandler),
		sendBuffer: 256,
		logger:     logger,
		done:       make(chan struct{}),
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// SetBridge attaches a cross-instance message bridge to the hub.
// When set, published messages are also forwarded to other instances.
func (h *Hub) SetBridge(b MessageBridge) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.bridge = b
}

// BroadcastToLocal delivers a message from the bridge to local subscribers only.
// It does not re-publish to Redis, preventing infinite loops.
func (h *Hub) BroadcastToLocal(msg types.Message) {
	select {
	case h.localCast <- broadcastMsg{channel: msg.Channel, msg: msg}:
	case <-h.done:
	}
}

// Run starts the hub event loop. Call in a goroutine, once.
//
// Handlers and connection callbacks run on this goroutine. They must not
// block on the loop's own channels, which is why they publish with Emit.
func (h *Hub) Run() {
	go h.bridgeLoop()
	for {
		select {
		case client := <-h.register:
			h.addClient(client)
		case client := <-h.unregister:
			h.removeClient(client)
		case msg := <-h.incoming:
			h.handleMessage(msg)
		case bm := <-h.broadcast:
			h.deliver(bm)
		case bm := <-h.localCast:
			h.broadcastToChannel(bm)
		case <-h.done:
			return
		}
	}
}

// Stop halts the hub event loop. Safe to call more than once.
func (h *Hub) Stop() {
	h.once.Do(func() { close(h.done) })
}

// Done is closed when the hub stops.
func (h *Hub) Done() <-chan struct{} { return h.done }

// Register queues a client for registration.
func (h *Hub) Register(c *Client) {
	select {
	case h.register <- c:
	case <-h.done:
	}
}

// Unregister queues a client for removal.
func (h *Hub) Unregister(c *Client) {
	select {
	case h.unregister <- c:
	case <-h.done:
	}
}

func (h *Hub) addClient(c *Client) {
	h.mu.Lock()
	h.clients[c.ID] = c
	if c.UserID != "" {
		// A reconnect replaces the previous handle without notifying it.
		if prev, ok := h.users[c.UserID]; ok && prev != c.ID {
			h.logger.Debug().
				Str("user_id", c.UserID).
				Str("previous_client_id", prev).
				Msg("user registry entry replaced")
		}
		h.users[c.UserID] = c.ID
		h.subscribeLocked(types.UserChannel(c.UserID), c)
	}
	h.mu.Unlock()

	h.logger.Info().Str("client_id", c.ID).Str("user_id", c.UserID).Msg("client registered")

	h.mu.RLock()
	callbacks := slices.Clone(h.onConnect)
	h.mu.RUnlock()
	info := c.Info()
	for _, cb := range callbacks {
		cb(info)
	}
}

func (h *Hub) removeClient(c *Client) {
	h.mu.Lock()
	if _, ok := h.clients[c.ID]; !ok {
		h.mu.Unlock()
		return
	}
	delete(h.clients, c.ID)
	callbacks := slices.Clone(h.onDisconn)
	if c.UserID != "" && h.users[c.UserID] == c.ID {
		delete(h.users, c.UserID)
	}

	// Remove from all channel subscriptions.
	for ch, subs := range h.channels {
		delete(subs, c.ID)
		if len(subs) == 0 {
			delete(h.channels, ch)
		}
	}
	h.mu.Unlock()

	info := c.Info()
	c.Close()
	h.logger.Info().Str("client_id", c.ID).Str("user_id", c.UserID).Msg("client unregistered")

	for _, cb := range callbacks {
		cb(info)
	}
}

func (h *Hub) subscribeLocked(channel string, c *Client) {
	if h.channels[channel] == nil {
		h.channels[channel] = make(map[string]bool)
	}
	h.channels[channel][c.ID] = true
	c.AddChannel(channel)
}
