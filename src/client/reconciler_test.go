package client_test

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"slices"
	"sync"
	"testing"
	"time"

	"github.com/orchestra-mcp/nexus/src/client"
	"github.com/orchestra-mcp/nexus/src/types"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeBackend is an in-memory server. Writes can be made to fail or to
// block until released.
type fakeBackend struct {
	mu         sync.Mutex
	nodes      []types.KnowledgeNode
	rooms      []types.GoalRoom
	activities []types.Activity

	writeErr  error
	writeGate chan struct{}
	// feedFetched and feedGate, when set, pause Activities after it has
	// read the server list.
	feedFetched chan struct{}
	feedGate    chan struct{}
}

func newFakeBackend() *fakeBackend {
	return &fakeBackend{
		nodes: []types.KnowledgeNode{
			{ID: "physics", Status: "green", Connections: []string{}},
			{ID: "polity", Status: "red", Connections: []string{}},
		},
		rooms: []types.GoalRoom{
			{ID: "jee-physics", MemberCount: 10},
			{ID: "empty", MemberCount: 0},
		},
	}
}

func (f *fakeBackend) Nodes(context.Context) ([]types.KnowledgeNode, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return slices.Clone(f.nodes), nil
}

func (f *fakeBackend) Rooms(context.Context) ([]types.GoalRoom, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return slices.Clone(f.rooms), nil
}

func (f *fakeBackend) Activities(_ context.Context, limit int) ([]types.Activity, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := slices.Clone(f.activities)
	fetched, gate := f.feedFetched, f.feedGate
	f.mu.Unlock()
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	if gate != nil {
		fetched <- struct{}{}
		<-gate
	}
	f.mu.Lock()
	return out, nil
}

func (f *fakeBackend) write(ctx context.Context) error {
	if f.writeGate != nil {
		select {
		case <-f.writeGate:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return f.writeErr
}

func (f *fakeBackend) JoinRoom(ctx context.Context, id string) (types.GoalRoom, error) {
	if err := f.write(ctx); err != nil {
		return types.GoalRoom{}, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	for i := range f.rooms {
		if f.rooms[i].ID == id {
			f.rooms[i].MemberCount++
			return f.rooms[i], nil
		}
	}
	return types.GoalRoom{}, &client.APIError{Status: 404, Message: "Room not found"}
}

func (f *fakeBackend) LeaveRoom(ctx context.Context, id string) error {
	if err := f.write(ctx); err != nil {
		return err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	for i := range f.rooms {
		if f.rooms[i].ID == id {
			f.rooms[i].MemberCount = max(0, f.rooms[i].MemberCount-1)
			return nil
		}
	}
	return &client.APIError{Status: 404, Message: "Room not found"}
}

func (f *fakeBackend) UpdateNodeStatus(ctx context.Context, id, status string) error {
	if err := f.write(ctx); err != nil {
		return err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	for i := range f.nodes {
		if f.nodes[i].ID == id {
			f.nodes[i].Status = status
			return nil
		}
	}
	return &client.APIError{Status: 404, Message: "Node not found"}
}

func roomCount(t *testing.T, r *client.Reconciler, id string) int {
	t.Helper()
	rooms, ok := r.Rooms.Get()
	require.True(t, ok)
	for _, g := range rooms {
		if g.ID == id {
			return g.MemberCount
		}
	}
	t.Fatalf("room %s not cached", id)
	return 0
}

func loaded(t *testing.T, b client.Backend, opts ...client.ReconcilerOption) *client.Reconciler {
	t.Helper()
	r := client.NewReconciler(b, zerolog.Nop(), opts...)
	require.NoError(t, r.Load(context.Background()))
	return r
}

func TestJoinRoomSuccess(t *testing.T) {
	b := newFakeBackend()
	r := loaded(t, b)

	require.NoError(t, r.JoinRoom(context.Background(), "jee-physics"))
	assert.Equal(t, 11, roomCount(t, r, "jee-physics"))
}

func TestJoinRoomIsOptimistic(t *testing.T) {
	b := newFakeBackend()
	b.writeGate = make(chan struct{})
	r := loaded(t, b)

	done := make(chan error, 1)
	go func() { done <- r.JoinRoom(context.Background(), "jee-physics") }()

	require.Eventually(t, func() bool { return roomCount(t, r, "jee-physics") == 11 }, time.Second, 5*time.Millisecond,
		"count is bumped before the write completes")
	close(b.writeGate)
	require.NoError(t, <-done)
	assert.Equal(t, 11, roomCount(t, r, "jee-physics"))
}

func TestFailedJoinRollsBack(t *testing.T) {
	b := newFakeBackend()
	b.writeErr = &client.APIError{Status: 500, Message: "Internal server error"}

	var reported []error
	r := loaded(t, b, client.OnError(func(err error) { reported = append(reported, err) }))

	err := r.JoinRoom(context.Background(), "jee-physics")
	require.Error(t, err)
	var apiErr *client.APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, 500, apiErr.Status)

	assert.Equal(t, 10, roomCount(t, r, "jee-physics"), "rolled-back join leaves the count unchanged")
	assert.Len(t, reported, 1)
}

func TestFailedJoinRefetchesServerState(t *testing.T) {
	b := newFakeBackend()
	b.writeErr = errors.New("network down")
	r := client.NewReconciler(b, zerolog.Nop())
	r.Rooms.Set([]types.GoalRoom{{ID: "jee-physics", MemberCount: 3}})

	// The server says 10; the snapshot said 3. The refetch wins at the end.
	require.Error(t, r.JoinRoom(context.Background(), "jee-physics"))
	assert.Equal(t, 10, roomCount(t, r, "jee-physics"))
}

func TestLeaveRoomNeverBelowZero(t *testing.T) {
	b := newFakeBackend()
	b.writeGate = make(chan struct{})
	r := loaded(t, b)

	done := make(chan error, 1)
	go func() { done <- r.LeaveRoom(context.Background(), "empty") }()
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, 0, roomCount(t, r, "empty"))
	close(b.writeGate)
	require.NoError(t, <-done)
	assert.Equal(t, 0, roomCount(t, r, "empty"))
}

func TestUpdateNodeStatusRollsBackOnNotFound(t *testing.T) {
	b := newFakeBackend()
	r := loaded(t, b)

	require.NoError(t, r.UpdateNodeStatus(context.Background(), "polity", "yellow"))
	nodes, _ := r.Nodes.Get()
	assert.Equal(t, "yellow", nodes[1].Status)

	err := r.UpdateNodeStatus(context.Background(), "ghost", "green")
	var apiErr *client.APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, 404, apiErr.Status)
}

func activityMsg(t *testing.T, a types.Activity) types.Message {
	t.Helper()
	msg, err := types.NewMessage(types.ChannelAll, types.EventActivityFeedUpdate, a)
	require.NoError(t, err)
	return msg
}

func TestHandleFeedUpdate(t *testing.T) {
	r := loaded(t, newFakeBackend())

	a := types.Activity{ID: "1-aaaaaaa", UserID: "u", Action: "joined", Timestamp: time.Now()}
	require.NoError(t, r.HandleEvent(activityMsg(t, a)))
	require.NoError(t, r.HandleEvent(activityMsg(t, a)))

	list, _ := r.Activities.Get()
	require.Len(t, list, 1, "duplicate ids are skipped")
	assert.Equal(t, "joined", list[0].Action)

	for i := range client.MaxFeed + 10 {
		require.NoError(t, r.HandleEvent(activityMsg(t, types.Activity{
			ID: fmt.Sprintf("x-%d", i), UserID: "u", Action: "a",
		})))
	}
	list, _ = r.Activities.Get()
	assert.Len(t, list, client.MaxFeed)
	assert.Equal(t, fmt.Sprintf("x-%d", client.MaxFeed+9), list[0].ID, "newest first")
}

func TestHandleMalformedEvent(t *testing.T) {
	var reported int
	r := loaded(t, newFakeBackend(), client.OnError(func(error) { reported++ }))

	bad := types.Message{Event: types.EventActivityFeedUpdate, Data: json.RawMessage(`{"action":"no id"}`)}
	err := r.HandleEvent(bad)
	assert.ErrorIs(t, err, types.ErrInvalidPayload)
	assert.Equal(t, 1, reported)

	list, _ := r.Activities.Get()
	assert.Empty(t, list)

	moved := types.Message{Event: types.EventNodeMoved, Data: json.RawMessage(`{"nodeId":"physics","position":[1]}`)}
	assert.ErrorIs(t, r.HandleEvent(moved), types.ErrInvalidPayload)
}

func TestHandleNodeMoved(t *testing.T) {
	r := loaded(t, newFakeBackend())
	msg, err := types.NewMessage(types.ChannelAll, types.EventNodeMoved,
		types.NodePosition{NodeID: "physics", Position: []float64{4, 5, 6}})
	require.NoError(t, err)

	require.NoError(t, r.HandleEvent(msg))
	nodes, _ := r.Nodes.Get()
	assert.Equal(t, [3]float64{4, 5, 6}, nodes[0].Position)
	assert.Equal(t, [3]float64{}, nodes[1].Position)
}

func TestPollMergesByID(t *testing.T) {
	b := newFakeBackend()
	now := time.Now()
	b.activities = []types.Activity{{ID: "server-1", UserID: "u", Action: "a", Timestamp: now.Add(-time.Minute)}}
	r := loaded(t, b)

	// A live event the server list does not include yet.
	require.NoError(t, r.HandleEvent(activityMsg(t, types.Activity{ID: "live-1", UserID: "u", Action: "b", Timestamp: now})))

	b.mu.Lock()
	b.activities = append([]types.Activity{{ID: "server-2", UserID: "u", Action: "c", Timestamp: now.Add(-30 * time.Second)}}, b.activities...)
	b.mu.Unlock()

	require.NoError(t, r.PollOnce(context.Background()))
	list, _ := r.Activities.Get()
	ids := make([]string, 0, len(list))
	for _, a := range list {
		ids = append(ids, a.ID)
	}
	assert.Equal(t, []string{"live-1", "server-2", "server-1"}, ids)
}

func TestPollKeepsEventsArrivingDuringFetch(t *testing.T) {
	b := newFakeBackend()
	now := time.Now()
	b.activities = []types.Activity{{ID: "server-1", UserID: "u", Action: "a", Timestamp: now.Add(-time.Minute)}}
	r := loaded(t, b)

	b.mu.Lock()
	b.feedFetched, b.feedGate = make(chan struct{}), make(chan struct{})
	b.mu.Unlock()

	done := make(chan error, 1)
	go func() { done <- r.PollOnce(context.Background()) }()
	<-b.feedFetched

	// Lands after the server list was read but before it is merged.
	require.NoError(t, r.HandleEvent(activityMsg(t, types.Activity{ID: "live-1", UserID: "u", Action: "b", Timestamp: now})))
	close(b.feedGate)
	require.NoError(t, <-done)

	list, _ := r.Activities.Get()
	ids := make([]string, 0, len(list))
	for _, a := range list {
		ids = append(ids, a.ID)
	}
	assert.Equal(t, []string{"live-1", "server-1"}, ids)
}

func TestPollBeforeLoadFillsFeed(t *testing.T) {
	b := newFakeBackend()
	b.activities = []types.Activity{{ID: "server-1", UserID: "u", Action: "a", Timestamp: time.Now()}}
	r := client.NewReconciler(b, zerolog.Nop())

	require.NoError(t, r.PollOnce(context.Background()))
	list, ok := r.Activities.Get()
	require.True(t, ok)
	require.Len(t, list, 1)
	assert.Equal(t, "server-1", list[0].ID)
}

func TestPollRunsUntilCancelled(t *testing.T) {
	b := newFakeBackend()
	r := loaded(t, b)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		r.Poll(ctx, 5*time.Millisecond)
		close(done)
	}()

	b.mu.Lock()
	b.activities = []types.Activity{{ID: "late", UserID: "u", Action: "a", Timestamp: time.Now()}}
	b.mu.Unlock()

	require.Eventually(t, func() bool {
		list, _ := r.Activities.Get()
		return len(list) == 1
	}, time.Second, 5*time.Millisecond)
	cancel()
	<-done
}
