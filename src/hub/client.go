package hub

import (
	"sync"
	"time"

	"github.com/orchestra-mcp/nexus/src/types"
)

// Pinger is implemented by connections that support transport-level
// keepalive frames.
type Pinger interface {
	Ping() error
}

// Client wraps a WebSocket connection and manages message flow.
type Client struct {
	ID          string
	UserID      string
	conn        types.Conn
	hub         *Hub
	Send        chan types.Message
	connectedAt time.Time
	userAgent   string
	channels    map[string]bool
	mu          sync.RWMutex
	done        chan struct{}
	closed      bool
}

// NewClient creates a new WebSocket client wrapper. userID may be empty for
// anonymous connections.
func NewClient(id, userID string, conn types.Conn, h *Hub) *Client {
	return &Client{
		ID:          id,
		UserID:      userID,
		conn:        conn,
		hub:         h,
		Send:        make(chan types.Message, h.sendBuffer),
		connectedAt: time.Now(),
		channels:    make(map[string]bool),
		done:        make(chan struct{}),
	}
}

// SetUserAgent records the handshake user agent for diagnostics.
func (c *Client) SetUserAgent(ua string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.userAgent = ua
}

// Info returns metadata about this client.
func (c *Client) Info() types.ClientInfo {
	c.mu.RLock()
	defer c.mu.RUnlock()

	channels := make([]string, 0, len(c.channels))
	for ch := range c.channels {
		channels = append(channels, ch)
	}
	return types.ClientInfo{
		ID:          c.ID,
		UserID:      c.UserID,
		ConnectedAt: c.connectedAt,
		Channels:    channels,
		UserAgent:   c.userAgent,
	}
}

// AddChannel adds a channel subscription.
func (c *Client) AddChannel(channel string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.channels[channel] = true
}

// RemoveChannel removes a channel subscription.
func (c *Client) RemoveChannel(channel string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.channels, channel)
}

// ReadPump reads messages from the WebSocket and routes them to the hub.
// It returns when the connection fails or the hub stops.
func (c *Client) ReadPump() {
	defer func() {
		c.hub.Unregister(c)
		c.conn.Close()
	}()

	for {
		var msg types.Message
		if err := c.conn.ReadJSON(&msg); err != nil {
			return
		}
		msg.ClientID = c.ID
		msg.Timestamp = time.Now()
		select {
		case c.hub.incoming <- msg:
		case <-c.hub.done:
			return
		}
	}
}

// WritePump writes messages from the send channel to the WebSocket and
// emits keepalive pings when the connection supports them.
func (c *Client) WritePump() {
	defer c.conn.Close()

	var tick <-chan time.Time
	pinger, canPing := c.conn.(Pinger)
	if canPing && c.hub.pingInterval > 0 {
		ticker := time.NewTicker(c.hub.pingInterval)
		defer ticker.Stop()
		tick = ticker.C
	}

	for {
		select {
		case msg, ok := <-c.Send:
			if !ok {
				return
			}
			if err := c.conn.WriteJSON(msg); err != nil {
				return
			}
		case <-tick:
			if err := pinger.Ping(); err != nil {
				return
			}
		case <-c.done:
			return
		}
	}
}

// trySend queues msg without blocking. It reports false when the client is
// closed or its buffer is full.
func (c *Client) trySend(msg types.Message) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.closed {
		return false
	}
	select {
	case c.Send <- msg:
		return true
	default:
		return false
	}
}

// Close signals the client to stop its pumps.
func (c *Client) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.closed {
		c.closed = true
		close(c.done)
		close(c.Send)
	}
}
