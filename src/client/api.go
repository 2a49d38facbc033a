// Package client is a Go client for the Nexus API: a REST client, a cache
// reconciler with optimistic mutations, and a live websocket subscription.
package client

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"strconv"
	"sync"
	"time"

	"github.com/orchestra-mcp/nexus/src/types"
	"github.com/valyala/fasthttp"
)

// APIError is a non-2xx response.
type APIError struct {
	Status  int
	Message string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("api: %d %s", e.Status, e.Message)
}

// API is a REST client. It keeps the session cookie issued at login.
type API struct {
	base       string
	hc         *fasthttp.Client
	timeout    time.Duration
	cookieName string

	mu      sync.RWMutex
	session string
}

// APIOption configures an API client.
type APIOption func(*API)

// WithDial replaces the network dialer, e.g. with an in-memory listener.
func WithDial(dial func(addr string) (net.Conn, error)) APIOption {
	return func(a *API) { a.hc.Dial = dial }
}

// WithRequestTimeout bounds requests whose context has no deadline.
func WithRequestTimeout(d time.Duration) APIOption {
	return func(a *API) { a.timeout = d }
}

// WithSession starts the client with an existing session token.
func WithSession(token string) APIOption {
	return func(a *API) { a.session = token }
}

// NewAPI creates a client for the server at baseURL, e.g.
// "http://localhost:3001".
func NewAPI(baseURL string, opts ...APIOption) *API {
	a := &API{
		base:       baseURL,
		hc:         &fasthttp.Client{Name: "nexus-client"},
		timeout:    10 * time.Second,
		cookieName: "session",
	}
	for _, o := range opts {
		o(a)
	}
	return a
}

// BaseURL returns the server address the client talks to.
func (a *API) BaseURL() string { return a.base }

// Session returns the current session token, empty when logged out.
func (a *API) Session() string {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.session
}

func (a *API) do(ctx context.Context, method, path string, body, out any) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	req := fasthttp.AcquireRequest()
	resp := fasthttp.AcquireResponse()
	defer fasthttp.ReleaseRequest(req)
	defer fasthttp.ReleaseResponse(resp)

	req.SetRequestURI(a.base + path)
	req.Header.SetMethod(method)
	req.Header.Set("Accept", "application/json")
	if token := a.Session(); token != "" {
		req.Header.SetCookie(a.cookieName, token)
	}
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode %s %s: %w", method, path, err)
		}
		req.Header.SetContentType("application/json")
		req.SetBodyRaw(b)
	}

	deadline, ok := ctx.Deadline()
	if !ok {
		deadline = time.Now().Add(a.timeout)
	}
	if err := a.hc.DoDeadline(req, resp, deadline); err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	a.captureSession(resp)

	status := resp.StatusCode()
	if status >= 400 {
		var e struct {
			Error string `json:"error"`
		}
		_ = json.Unmarshal(resp.Body(), &e)
		if e.Error == "" {
			e.Error = fasthttp.StatusMessage(status)
		}
		return &APIError{Status: status, Message: e.Error}
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(resp.Body(), out); err != nil {
		return fmt.Errorf("decode %s %s: %w", method, path, err)
	}
	return nil
}

func (a *API) captureSession(resp *fasthttp.Response) {
	c := fasthttp.AcquireCookie()
	defer fasthttp.ReleaseCookie(c)
	c.SetKey(a.cookieName)
	if !resp.Header.Cookie(c) {
		return
	}
	a.mu.Lock()
	a.session = string(c.Value())
	a.mu.Unlock()
}

// Login signs in through the mock Google flow.
func (a *API) Login(ctx context.Context, email, name string) (types.User, error) {
	var out struct {
		User types.User `json:"user"`
	}
	err := a.do(ctx, fasthttp.MethodPost, "/api/auth/google", map[string]string{"email": email, "name": name}, &out)
	return out.User, err
}

// Me returns the signed-in user.
func (a *API) Me(ctx context.Context) (types.User, error) {
	var out struct {
		User types.User `json:"user"`
	}
	err := a.do(ctx, fasthttp.MethodGet, "/api/auth/me", nil, &out)
	return out.User, err
}

// Logout ends the session.
func (a *API) Logout(ctx context.Context) error {
	if err := a.do(ctx, fasthttp.MethodPost, "/api/auth/logout", nil, nil); err != nil {
		return err
	}
	a.mu.Lock()
	a.session = ""
	a.mu.Unlock()
	return nil
}

// Nodes lists the knowledge graph.
func (a *API) Nodes(ctx context.Context) ([]types.KnowledgeNode, error) {
	var out struct {
		Nodes []types.KnowledgeNode `json:"nodes"`
	}
	err := a.do(ctx, fasthttp.MethodGet, "/api/nodes", nil, &out)
	return out.Nodes, err
}

// UpdateNodeStatus sets a node's status.
func (a *API) UpdateNodeStatus(ctx context.Context, id, status string) error {
	return a.do(ctx, fasthttp.MethodPatch, "/api/nodes/"+id+"/status", map[string]string{"status": status}, nil)
}

// Rooms lists rooms, largest first.
func (a *API) Rooms(ctx context.Context) ([]types.GoalRoom, error) {
	var out struct {
		Rooms []types.GoalRoom `json:"rooms"`
	}
	err := a.do(ctx, fasthttp.MethodGet, "/api/rooms", nil, &out)
	return out.Rooms, err
}

// JoinRoom increments a room's member count.
func (a *API) JoinRoom(ctx context.Context, id string) (types.GoalRoom, error) {
	var out struct {
		Room types.GoalRoom `json:"room"`
	}
	err := a.do(ctx, fasthttp.MethodPost, "/api/rooms/"+id+"/join", nil, &out)
	return out.Room, err
}

// LeaveRoom decrements a room's member count.
func (a *API) LeaveRoom(ctx context.Context, id string) error {
	return a.do(ctx, fasthttp.MethodPost, "/api/rooms/"+id+"/leave", nil, nil)
}

// Activities returns the newest activities.
func (a *API) Activities(ctx context.Context, limit int) ([]types.Activity, error) {
	var out struct {
		Activities []types.Activity `json:"activities"`
	}
	path := "/api/activities"
	if limit > 0 {
		path += "?limit=" + strconv.Itoa(limit)
	}
	err := a.do(ctx, fasthttp.MethodGet, path, nil, &out)
	return out.Activities, err
}

// CreateActivity posts an activity as the signed-in user.
func (a *API) CreateActivity(ctx context.Context, action, roomID, roomName string) (types.Activity, error) {
	var out struct {
		Activity types.Activity `json:"activity"`
	}
	body := map[string]string{"action": action}
	if roomID != "" {
		body["roomId"] = roomID
	}
	if roomName != "" {
		body["roomName"] = roomName
	}
	err := a.do(ctx, fasthttp.MethodPost, "/api/activities", body, &out)
	return out.Activity, err
}
