package client

import (
	"context"
	"fmt"
	"slices"
	"sort"
	"time"

	"github.com/orchestra-mcp/nexus/src/types"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
)

// MaxFeed caps the cached activity feed.
const MaxFeed = 50

// Backend is the subset of the API the reconciler reads and writes.
type Backend interface {
	Nodes(ctx context.Context) ([]types.KnowledgeNode, error)
	Rooms(ctx context.Context) ([]types.GoalRoom, error)
	Activities(ctx context.Context, limit int) ([]types.Activity, error)
	JoinRoom(ctx context.Context, id string) (types.GoalRoom, error)
	LeaveRoom(ctx context.Context, id string) error
	UpdateNodeStatus(ctx context.Context, id, status string) error
}

// Reconciler keeps the nodes, rooms and activities caches in line with the
// server: optimistic mutations, live event merges and a background poll.
type Reconciler struct {
	Nodes      *Query[[]types.KnowledgeNode]
	Rooms      *Query[[]types.GoalRoom]
	Activities *Query[[]types.Activity]

	backend   Backend
	feedLimit int
	onError   func(error)
	logger    zerolog.Logger
}

// ReconcilerOption configures a Reconciler.
type ReconcilerOption func(*Reconciler)

// WithFeedLimit sets the ?limit= used when fetching activities.
func WithFeedLimit(n int) ReconcilerOption {
	return func(r *Reconciler) { r.feedLimit = n }
}

// OnError registers a hook for failures the caller should surface to the
// user, such as a rolled-back mutation.
func OnError(fn func(error)) ReconcilerOption {
	return func(r *Reconciler) { r.onError = fn }
}

// NewReconciler creates empty caches backed by b.
func NewReconciler(b Backend, logger zerolog.Logger, opts ...ReconcilerOption) *Reconciler {
	r := &Reconciler{
		backend:   b,
		feedLimit: 20,
		logger:    logger.With().Str("component", "reconciler").Logger(),
	}
	for _, o := range opts {
		o(r)
	}
	r.Nodes = NewQuery[[]types.KnowledgeNode](b.Nodes)
	r.Rooms = NewQuery[[]types.GoalRoom](b.Rooms)
	r.Activities = NewQuery[[]types.Activity](func(ctx context.Context) ([]types.Activity, error) {
		return b.Activities(ctx, r.feedLimit)
	})
	return r
}

// Load fetches all three caches concurrently.
func (r *Reconciler) Load(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return r.Nodes.Refetch(gctx) })
	g.Go(func() error { return r.Rooms.Refetch(gctx) })
	g.Go(func() error { return r.Activities.Refetch(gctx) })
	return g.Wait()
}

// JoinRoom optimistically bumps the member count, then writes.
func (r *Reconciler) JoinRoom(ctx context.Context, roomID string) error {
	err := Mutate(ctx, r.Rooms,
		func(rooms []types.GoalRoom) []types.GoalRoom {
			return mapRoom(rooms, roomID, func(g *types.GoalRoom) { g.MemberCount++ })
		},
		func(ctx context.Context) error {
			_, err := r.backend.JoinRoom(ctx, roomID)
			return err
		})
	return r.report(err, "join room %s", roomID)
}

// LeaveRoom optimistically drops the member count, never below zero.
func (r *Reconciler) LeaveRoom(ctx context.Context, roomID string) error {
	err := Mutate(ctx, r.Rooms,
		func(rooms []types.GoalRoom) []types.GoalRoom {
			return mapRoom(rooms, roomID, func(g *types.GoalRoom) { g.MemberCount = max(0, g.MemberCount-1) })
		},
		func(ctx context.Context) error { return r.backend.LeaveRoom(ctx, roomID) })
	return r.report(err, "leave room %s", roomID)
}

// UpdateNodeStatus optimistically sets a node's status, then writes.
func (r *Reconciler) UpdateNodeStatus(ctx context.Context, nodeID, status string) error {
	err := Mutate(ctx, r.Nodes,
		func(nodes []types.KnowledgeNode) []types.KnowledgeNode {
			return mapNode(nodes, nodeID, func(n *types.KnowledgeNode) { n.Status = status })
		},
		func(ctx context.Context) error { return r.backend.UpdateNodeStatus(ctx, nodeID, status) })
	return r.report(err, "update node %s", nodeID)
}

// HandleEvent merges a broadcast into the caches. Merges have no snapshot
// or rollback. A malformed event is reported and leaves the caches as they
// were.
func (r *Reconciler) HandleEvent(msg types.Message) error {
	switch msg.Event {
	case types.EventActivityFeedUpdate:
		a, err := types.Decode[types.Activity](msg)
		if err != nil {
			return r.report(err, "merge %s", msg.Event)
		}
		r.Activities.Update(func(list []types.Activity) []types.Activity {
			return prependActivity(list, a)
		})
	case types.EventNodeMoved:
		p, err := types.Decode[types.NodePosition](msg)
		if err != nil {
			return r.report(err, "merge %s", msg.Event)
		}
		pos := [3]float64{p.Position[0], p.Position[1], p.Position[2]}
		r.Nodes.Update(func(nodes []types.KnowledgeNode) []types.KnowledgeNode {
			return mapNode(nodes, p.NodeID, func(n *types.KnowledgeNode) { n.Position = pos })
		})
	default:
		r.logger.Debug().Str("event", msg.Event).Msg("event ignored")
	}
	return nil
}

// PollOnce fetches the feed and merges it by id.
func (r *Reconciler) PollOnce(ctx context.Context) error {
	fresh, err := r.backend.Activities(ctx, r.feedLimit)
	if err != nil {
		return r.report(err, "poll activities")
	}
	merge := func(cached []types.Activity) []types.Activity { return mergeActivities(cached, fresh) }
	if !r.Activities.Update(merge) {
		r.Activities.Set(merge(nil))
	}
	return nil
}

// Poll runs PollOnce every interval until ctx is done. It keeps going
// whether or not the live connection is healthy.
func (r *Reconciler) Poll(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			_ = r.PollOnce(ctx)
		}
	}
}

func (r *Reconciler) report(err error, format string, args ...any) error {
	if err == nil {
		return nil
	}
	err = fmt.Errorf(format+": %w", append(args, err)...)
	r.logger.Warn().Err(err).Msg("sync failed")
	if r.onError != nil {
		r.onError(err)
	}
	return err
}

func mapRoom(rooms []types.GoalRoom, id string, fn func(*types.GoalRoom)) []types.GoalRoom {
	out := slices.Clone(rooms)
	for i := range out {
		if out[i].ID == id {
			fn(&out[i])
		}
	}
	return out
}

func mapNode(nodes []types.KnowledgeNode, id string, fn func(*types.KnowledgeNode)) []types.KnowledgeNode {
	out := slices.Clone(nodes)
	for i := range out {
		if out[i].ID == id {
			fn(&out[i])
		}
	}
	return out
}

func prependActivity(list []types.Activity, a types.Activity) []types.Activity {
	if slices.ContainsFunc(list, func(x types.Activity) bool { return x.ID == a.ID }) {
		return list
	}
	out := make([]types.Activity, 0, min(len(list)+1, MaxFeed))
	out = append(out, a)
	out = append(out, list...)
	if len(out) > MaxFeed {
		out = out[:MaxFeed]
	}
	return out
}

// mergeActivities unions cached and fresh by id, newest first, capped.
func mergeActivities(cached, fresh []types.Activity) []types.Activity {
	seen := make(map[string]bool, len(cached)+len(fresh))
	out := make([]types.Activity, 0, len(cached)+len(fresh))
	for _, list := range [][]types.Activity{fresh, cached} {
		for _, a := range list {
			if seen[a.ID] {
				continue
			}
			seen[a.ID] = true
			out = append(out, a)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Timestamp.After(out[j].Timestamp) })
	if len(out) > MaxFeed {
		out = out[:MaxFeed]
	}
	return out
}
