package api

import (
	"encoding/json"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/fasthttp/websocket"
	"github.com/google/uuid"
	"github.com/orchestra-mcp/nexus/src/hub"
	"github.com/valyala/fasthttp"
)

// WebSocketHandler returns a raw fasthttp handler for websocket upgrades.
// Fiber v3 does not expose *fasthttp.RequestCtx, so Handler mounts it in
// front of the app at the socket path.
func (s *Server) WebSocketHandler() fasthttp.RequestHandler {
	sc := s.cfg.Socket
	upgrader := websocket.FastHTTPUpgrader{
		ReadBufferSize:  sc.ReadBufferSize,
		WriteBufferSize: sc.WriteBufferSize,
		CheckOrigin:     s.checkOrigin,
	}
	h := s.rt.Hub()

	return func(ctx *fasthttp.RequestCtx) {
		upgrade := string(ctx.Request.Header.Peek("Upgrade"))
		if !strings.EqualFold(upgrade, "websocket") {
			ctx.SetStatusCode(fasthttp.StatusUpgradeRequired)
			ctx.SetContentType("application/json")
			ctx.SetBodyString(`{"error":"WebSocket upgrade required"}`)
			return
		}
		if sc.MaxConnections > 0 && h.ClientCount() >= sc.MaxConnections {
			ctx.SetStatusCode(fasthttp.StatusServiceUnavailable)
			ctx.SetContentType("application/json")
			ctx.SetBodyString(`{"error":"Too many connections"}`)
			return
		}

		clientID := uuid.New().String()
		userID := s.handshakeUser(ctx)
		userAgent := string(ctx.UserAgent())

		err := upgrader.Upgrade(ctx, func(conn *websocket.Conn) {
			client := hub.NewClient(clientID, userID, newFasthttpConn(conn, sc.WriteDeadline(), sc.PingEvery()), h)
			client.SetUserAgent(userAgent)
			h.Register(client)
			go client.WritePump()
			client.ReadPump()
		})
		if err != nil {
			s.logger.Error().Err(err).Msg("websocket upgrade failed")
		}
	}
}

// handshakeUser takes the user id from ?userId=, falling back to the session
// cookie. An empty result means an anonymous connection.
func (s *Server) handshakeUser(ctx *fasthttp.RequestCtx) string {
	if id := string(ctx.QueryArgs().Peek("userId")); id != "" {
		return id
	}
	token := string(ctx.Request.Header.Cookie(s.cfg.Session.CookieName))
	if token == "" {
		return ""
	}
	c, cancel := s.ctx()
	defer cancel()
	user, err := s.auth.Validate(c, token)
	if err != nil {
		return ""
	}
	return user.ID
}

func (s *Server) checkOrigin(ctx *fasthttp.RequestCtx) bool {
	origin := string(ctx.Request.Header.Peek("Origin"))
	if origin == "" {
		return true
	}
	return slices.Contains(s.cfg.HTTP.AllowOrigins, origin) || slices.Contains(s.cfg.HTTP.AllowOrigins, "*")
}

// fasthttpConn wraps fasthttp/websocket.Conn to satisfy types.Conn and
// hub.Pinger.
type fasthttpConn struct {
	conn         *websocket.Conn
	writeTimeout time.Duration
	mu           sync.Mutex
}

func newFasthttpConn(conn *websocket.Conn, writeTimeout, pingEvery time.Duration) *fasthttpConn {
	if pingEvery > 0 {
		// A peer that misses two pings is considered gone.
		wait := 2 * pingEvery
		_ = conn.SetReadDeadline(time.Now().Add(wait))
		conn.SetPongHandler(func(string) error {
			return conn.SetReadDeadline(time.Now().Add(wait))
		})
	}
	return &fasthttpConn{conn: conn, writeTimeout: writeTimeout}
}

func (f *fasthttpConn) WriteJSON(v any) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.writeTimeout > 0 {
		_ = f.conn.SetWriteDeadline(time.Now().Add(f.writeTimeout))
	}
	return f.conn.WriteJSON(v)
}

// ReadJSON skips frames that are not valid JSON instead of failing the
// connection.
func (f *fasthttpConn) ReadJSON(v any) error {
	for {
		_, data, err := f.conn.ReadMessage()
		if err != nil {
			return err
		}
		if !json.Valid(data) {
			continue
		}
		if err := json.Unmarshal(data, v); err == nil {
			return nil
		}
	}
}

func (f *fasthttpConn) Close() error { return f.conn.Close() }

func (f *fasthttpConn) Ping() error {
	timeout := f.writeTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return f.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(timeout))
}
