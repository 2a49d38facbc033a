package realtime_test

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/orchestra-mcp/nexus/src/hub"
	"github.com/orchestra-mcp/nexus/src/presence"
	"github.com/orchestra-mcp/nexus/src/realtime"
	"github.com/orchestra-mcp/nexus/src/types"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type mockConn struct {
	mu       sync.Mutex
	written  []types.Message
	readCh   chan types.Message
	closed   bool
	closedCh chan struct{}
}

func newMockConn() *mockConn {
	return &mockConn{
		readCh:   make(chan types.Message, 16),
		closedCh: make(chan struct{}),
	}
}

func (m *mockConn) WriteJSON(v any) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if msg, ok := v.(types.Message); ok {
		m.written = append(m.written, msg)
	}
	return nil
}

func (m *mockConn) ReadJSON(v any) error {
	select {
	case msg := <-m.readCh:
		if ptr, ok := v.(*types.Message); ok {
			*ptr = msg
		}
		return nil
	case <-m.closedCh:
		return errClosed
	}
}

func (m *mockConn) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.closed {
		m.closed = true
		close(m.closedCh)
	}
	return nil
}

func (m *mockConn) events(event string) []types.Message {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []types.Message
	for _, msg := range m.written {
		if msg.Event == event {
			out = append(out, msg)
		}
	}
	return out
}

type closedError struct{}

func (closedError) Error() string { return "connection closed" }

var errClosed = closedError{}

type fakeNodes struct {
	mu    sync.Mutex
	moves map[string][3]float64
}

func (f *fakeNodes) UpdateNodePosition(_ context.Context, id string, pos [3]float64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.moves == nil {
		f.moves = map[string][3]float64{}
	}
	f.moves[id] = pos
	return nil
}

func (f *fakeNodes) get(id string) ([3]float64, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	p, ok := f.moves[id]
	return p, ok
}

func newService(t *testing.T, opts ...realtime.Option) (*realtime.Service, *hub.Hub, presence.Store) {
	t.Helper()
	return newServiceWith(t, presence.NewMemory(), opts...)
}

func newServiceWith(t *testing.T, p presence.Store, opts ...realtime.Option) (*realtime.Service, *hub.Hub, presence.Store) {
	t.Helper()
	h := hub.New(zerolog.Nop())
	svc := realtime.New(h, p, zerolog.Nop(), opts...)
	go h.Run()
	t.Cleanup(h.Stop)
	return svc, h, p
}

// connect registers a client and starts both pumps.
func connect(t *testing.T, h *hub.Hub, id, userID string) (*hub.Client, *mockConn) {
	t.Helper()
	conn := newMockConn()
	c := hub.NewClient(id, userID, conn, h)
	h.Register(c)
	go c.WritePump()
	go c.ReadPump()
	require.Eventually(t, func() bool { return h.ClientInfo(id) != nil }, time.Second, 5*time.Millisecond)
	return c, conn
}

func send(t *testing.T, conn *mockConn, event string, p types.Payload) {
	t.Helper()
	msg, err := types.NewMessage("", event, p)
	require.NoError(t, err)
	conn.readCh <- msg
}

func sendRaw(conn *mockConn, event, data string) {
	conn.readCh <- types.Message{Event: event, Data: json.RawMessage(data)}
}

func eventually(t *testing.T, cond func() bool) {
	t.Helper()
	require.Eventually(t, cond, time.Second, 5*time.Millisecond)
}

func onlineUsers(t *testing.T, svc *realtime.Service) []string {
	t.Helper()
	online, err := svc.OnlineUsers(context.Background())
	require.NoError(t, err)
	return online
}

// gatedPresence holds every Set until the gate is closed.
type gatedPresence struct {
	*presence.Memory
	gate chan struct{}
}

func (g *gatedPresence) Set(ctx context.Context, e presence.Entry) error {
	select {
	case <-g.gate:
	case <-ctx.Done():
		return ctx.Err()
	}
	return g.Memory.Set(ctx, e)
}

func TestActivityFanOutSkipsSender(t *testing.T) {
	_, h, _ := newService(t)

	conns := make([]*mockConn, 0, 4)
	for _, id := range []string{"c1", "c2", "c3", "c4"} {
		_, conn := connect(t, h, id, "user-"+id)
		conns = append(conns, conn)
	}

	send(t, conns[0], types.EventActivityNew, types.Activity{
		ID: "1-abcdefg", UserID: "user-c1", UserName: "One", Action: "shared notes",
	})

	for _, conn := range conns[1:] {
		eventually(t, func() bool { return len(conn.events(types.EventActivityFeedUpdate)) == 1 })
	}
	time.Sleep(30 * time.Millisecond)
	assert.Empty(t, conns[0].events(types.EventActivityFeedUpdate), "sender must not receive its own activity")

	got, err := types.Decode[types.Activity](conns[1].events(types.EventActivityFeedUpdate)[0])
	require.NoError(t, err)
	assert.Equal(t, "shared notes", got.Action)
}

func TestMalformedActivityIsDropped(t *testing.T) {
	_, h, _ := newService(t)
	_, sender := connect(t, h, "s", "u-s")
	_, other := connect(t, h, "o", "u-o")

	sendRaw(sender, types.EventActivityNew, `{"action":"missing id and user"}`)
	sendRaw(sender, types.EventActivityNew, `not json`)
	send(t, sender, types.EventActivityNew, types.Activity{ID: "ok", UserID: "u-s", Action: "valid"})

	eventually(t, func() bool { return len(other.events(types.EventActivityFeedUpdate)) == 1 })
	time.Sleep(30 * time.Millisecond)
	assert.Len(t, other.events(types.EventActivityFeedUpdate), 1)
}

func TestRoomRejoinNotifiesOncePerJoin(t *testing.T) {
	_, h, _ := newService(t)
	_, a := connect(t, h, "a", "user-a")
	_, b := connect(t, h, "b", "user-b")

	send(t, a, types.EventRoomJoin, types.RoomPayload{RoomID: "jee-physics"})
	eventually(t, func() bool { return h.Channels()[types.RoomChannel("jee-physics")] == 1 })

	send(t, b, types.EventRoomJoin, types.RoomPayload{RoomID: "jee-physics"})
	send(t, b, types.EventRoomJoin, types.RoomPayload{RoomID: "jee-physics"})

	eventually(t, func() bool { return len(a.events(types.EventRoomUserJoined)) == 2 })
	assert.Equal(t, 2, h.Channels()[types.RoomChannel("jee-physics")], "one membership per connection")
	assert.Empty(t, b.events(types.EventRoomUserJoined), "joiner is not notified of itself")

	p, err := types.Decode[types.RoomPayload](a.events(types.EventRoomUserJoined)[0])
	require.NoError(t, err)
	assert.Equal(t, types.RoomPayload{RoomID: "jee-physics", UserID: "user-b"}, p)
}

func TestRoomLeave(t *testing.T) {
	_, h, _ := newService(t)
	_, a := connect(t, h, "a", "user-a")
	_, b := connect(t, h, "b", "user-b")

	send(t, a, types.EventRoomJoin, types.RoomPayload{RoomID: "r1"})
	send(t, b, types.EventRoomJoin, types.RoomPayload{RoomID: "r1"})
	eventually(t, func() bool { return h.Channels()[types.RoomChannel("r1")] == 2 })

	send(t, b, types.EventRoomLeave, types.RoomPayload{RoomID: "r1"})
	eventually(t, func() bool { return len(a.events(types.EventRoomUserLeft)) == 1 })
	assert.Equal(t, 1, h.Channels()[types.RoomChannel("r1")])
}

func TestPresenceOnlineAndOffline(t *testing.T) {
	svc, h, _ := newService(t)
	_, watcher := connect(t, h, "w", "watcher")
	client, _ := connect(t, h, "x", "user-x")

	eventually(t, func() bool { return len(watcher.events(types.EventPresenceOnline)) == 1 })
	p, err := types.Decode[types.PresencePayload](watcher.events(types.EventPresenceOnline)[0])
	require.NoError(t, err)
	assert.Equal(t, "user-x", p.UserID)

	eventually(t, func() bool { return len(onlineUsers(t, svc)) == 2 })
	assert.Equal(t, []string{"user-x", "watcher"}, onlineUsers(t, svc))

	h.Unregister(client)
	eventually(t, func() bool { return len(watcher.events(types.EventPresenceOffline)) == 1 })
	eventually(t, func() bool { return len(onlineUsers(t, svc)) == 1 })
	assert.Equal(t, []string{"watcher"}, onlineUsers(t, svc))
}

func TestSlowPresenceDoesNotStallHub(t *testing.T) {
	gate := make(chan struct{})
	svc, h, _ := newServiceWith(t, &gatedPresence{Memory: presence.NewMemory(), gate: gate}, realtime.WithTimeout(5*time.Second))

	_, first := connect(t, h, "first", "user-1")
	// The first presence write is still blocked; the hub keeps serving.
	_, second := connect(t, h, "second", "user-2")
	eventually(t, func() bool { return len(first.events(types.EventPresenceOnline)) == 1 })

	send(t, second, types.EventActivityNew, types.Activity{ID: "1-slowpre", UserID: "user-2", Action: "posted"})
	eventually(t, func() bool { return len(first.events(types.EventActivityFeedUpdate)) == 1 })
	assert.Empty(t, onlineUsers(t, svc))

	close(gate)
	eventually(t, func() bool { return len(onlineUsers(t, svc)) == 2 })
}

func TestStaleDisconnectKeepsPresence(t *testing.T) {
	svc, h, _ := newService(t)
	old, _ := connect(t, h, "old", "user-r")
	connect(t, h, "new", "user-r")

	h.Unregister(old)
	eventually(t, func() bool { return h.ClientInfo("old") == nil })

	// Writes apply in order, so a second client's entry proves the
	// stale remove has already run.
	connect(t, h, "marker", "user-z")
	eventually(t, func() bool { return len(onlineUsers(t, svc)) == 2 })
	assert.Equal(t, []string{"user-r", "user-z"}, onlineUsers(t, svc))
	id, ok := h.UserClient("user-r")
	require.True(t, ok)
	assert.Equal(t, "new", id)
}

func TestPublishActivityExcludesAuthor(t *testing.T) {
	svc, h, _ := newService(t)
	_, author := connect(t, h, "author-conn", "author")
	_, other := connect(t, h, "other-conn", "other")

	require.NoError(t, svc.PublishActivity(types.Activity{
		ID: "1-aaaaaaa", UserID: "author", UserName: "Au", Action: "posted", RoomName: "JEE Physics",
	}))

	eventually(t, func() bool { return len(other.events(types.EventActivityFeedUpdate)) == 1 })
	time.Sleep(30 * time.Millisecond)
	assert.Empty(t, author.events(types.EventActivityFeedUpdate))
}

func TestPublishActivityByOfflineAuthorReachesEveryone(t *testing.T) {
	svc, h, _ := newService(t)
	_, a := connect(t, h, "a", "user-a")
	_, anon := connect(t, h, "anon", "")

	require.NoError(t, svc.PublishActivity(types.Activity{
		ID: "1-bbbbbbb", UserID: "offline-user", Action: "completed quiz", RoomName: "NEET Biology",
	}))

	for _, conn := range []*mockConn{a, anon} {
		eventually(t, func() bool { return len(conn.events(types.EventActivityFeedUpdate)) == 1 })
	}
	got, err := types.Decode[types.Activity](a.events(types.EventActivityFeedUpdate)[0])
	require.NoError(t, err)
	assert.Equal(t, "completed quiz", got.Action)
	assert.Equal(t, "NEET Biology", got.RoomName)
}

func TestNodeMoveBroadcastAndPersist(t *testing.T) {
	nodes := &fakeNodes{}
	_, h, _ := newService(t, realtime.WithNodePersistence(nodes))
	_, mover := connect(t, h, "m", "user-m")
	_, viewer := connect(t, h, "v", "user-v")

	send(t, mover, types.EventNodeMove, types.NodePosition{NodeID: "physics", Position: []float64{1, 2, 3}})
	sendRaw(mover, types.EventNodeMove, `{"nodeId":"math","position":[1,2]}`)

	eventually(t, func() bool { return len(viewer.events(types.EventNodeMoved)) == 1 })
	eventually(t, func() bool { _, ok := nodes.get("physics"); return ok })
	pos, ok := nodes.get("physics")
	require.True(t, ok)
	assert.Equal(t, [3]float64{1, 2, 3}, pos)

	time.Sleep(30 * time.Millisecond)
	assert.Len(t, viewer.events(types.EventNodeMoved), 1, "short position is dropped")
	assert.Empty(t, mover.events(types.EventNodeMoved))
	_, ok = nodes.get("math")
	assert.False(t, ok)
}
