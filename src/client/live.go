package client

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"strings"
	"sync"

	"github.com/fasthttp/websocket"
	"github.com/orchestra-mcp/nexus/src/types"
)

// Live is a websocket subscription to the server's event stream.
type Live struct {
	conn *websocket.Conn
	mu   sync.Mutex
}

// LiveOption configures Dial.
type LiveOption func(*liveConfig)

type liveConfig struct {
	dialer  websocket.Dialer
	session string
}

// WithNetDial replaces the websocket dialer's network connection.
func WithNetDial(dial func(network, addr string) (net.Conn, error)) LiveOption {
	return func(c *liveConfig) { c.dialer.NetDial = dial }
}

// WithSessionCookie sends the session cookie with the handshake so the
// server can identify the user without a userId parameter.
func WithSessionCookie(token string) LiveOption {
	return func(c *liveConfig) { c.session = token }
}

// WebSocketURL derives the websocket endpoint from an http(s) base URL.
func WebSocketURL(baseURL, userID string) (string, error) {
	u, err := url.Parse(baseURL)
	if err != nil {
		return "", fmt.Errorf("parse base url: %w", err)
	}
	switch strings.ToLower(u.Scheme) {
	case "https":
		u.Scheme = "wss"
	default:
		u.Scheme = "ws"
	}
	u.Path = strings.TrimSuffix(u.Path, "/") + "/ws"
	if userID != "" {
		u.RawQuery = url.Values{"userId": {userID}}.Encode()
	}
	return u.String(), nil
}

// Dial opens the live connection.
func Dial(ctx context.Context, wsURL string, opts ...LiveOption) (*Live, error) {
	cfg := liveConfig{dialer: *websocket.DefaultDialer}
	for _, o := range opts {
		o(&cfg)
	}
	var header http.Header
	if cfg.session != "" {
		header = http.Header{"Cookie": {"session=" + cfg.session}}
	}
	conn, _, err := cfg.dialer.DialContext(ctx, wsURL, header)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", wsURL, err)
	}
	return &Live{conn: conn}, nil
}

// Send writes a typed event.
func (l *Live) Send(event string, p types.Payload) error {
	msg, err := types.NewMessage("", event, p)
	if err != nil {
		return err
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.conn.WriteJSON(msg)
}

// JoinRoom subscribes to a room's notifications.
func (l *Live) JoinRoom(roomID string) error {
	return l.Send(types.EventRoomJoin, types.RoomPayload{RoomID: roomID})
}

// LeaveRoom unsubscribes from a room.
func (l *Live) LeaveRoom(roomID string) error {
	return l.Send(types.EventRoomLeave, types.RoomPayload{RoomID: roomID})
}

// MoveNode shares a node position with the other connections.
func (l *Live) MoveNode(nodeID string, pos [3]float64) error {
	return l.Send(types.EventNodeMove, types.NodePosition{NodeID: nodeID, Position: pos[:]})
}

// AnnounceActivity relays an activity to the other connections.
func (l *Live) AnnounceActivity(a types.Activity) error {
	return l.Send(types.EventActivityNew, a)
}

// Run reads events and hands them to handle until the connection fails or
// ctx is done.
func (l *Live) Run(ctx context.Context, handle func(types.Message)) error {
	stop := context.AfterFunc(ctx, func() { _ = l.conn.Close() })
	defer stop()

	for {
		var msg types.Message
		if err := l.conn.ReadJSON(&msg); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return err
		}
		handle(msg)
	}
}

// Close closes the connection.
func (l *Live) Close() error {
	return l.conn.Close()
}
