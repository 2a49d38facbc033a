// Package realtime wires presence, room membership and the event
// broadcaster onto the hub.
package realtime

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/orchestra-mcp/nexus/src/hub"
	"github.com/orchestra-mcp/nexus/src/presence"
	"github.com/orchestra-mcp/nexus/src/types"
	"github.com/rs/zerolog"
)

// NodeStore persists node positions received over node:move.
type NodeStore interface {
	UpdateNodePosition(ctx context.Context, id string, pos [3]float64) error
}

// Service provides the high-level realtime API over a hub.
type Service struct {
	hub        *hub.Hub
	presence   presence.Store
	nodes      NodeStore
	instanceID string
	timeout    time.Duration
	writes     *worker
	logger     zerolog.Logger
}

// Option configures a Service.
type Option func(*Service)

// WithInstanceID tags presence entries with the owning server instance.
func WithInstanceID(id string) Option {
	return func(s *Service) { s.instanceID = id }
}

// WithNodePersistence stores node:move positions in addition to
// broadcasting them.
func WithNodePersistence(ns NodeStore) Option {
	return func(s *Service) { s.nodes = ns }
}

// WithTimeout bounds each presence and store write.
func WithTimeout(d time.Duration) Option {
	return func(s *Service) {
		if d > 0 {
			s.timeout = d
		}
	}
}

// New creates a realtime service and registers its callbacks and event
// handlers on h.
func New(h *hub.Hub, p presence.Store, logger zerolog.Logger, opts ...Option) *Service {
	s := &Service{
		hub:      h,
		presence: p,
		timeout:  2 * time.Second,
		writes:   newWorker(),
		logger:   logger.With().Str("component", "realtime").Logger(),
	}
	for _, o := range opts {
		o(s)
	}

	go s.writes.run(h.Done())

	h.OnConnection(s.handleConnect)
	h.OnDisconnection(s.handleDisconnect)
	s.RegisterHandler(types.EventRoomJoin, s.handleRoomJoin)
	s.RegisterHandler(types.EventRoomLeave, s.handleRoomLeave)
	s.RegisterHandler(types.EventActivityNew, s.handleActivityNew)
	s.RegisterHandler(types.EventNodeMove, s.handleNodeMove)
	return s
}

// Hub returns the underlying hub.
func (s *Service) Hub() *hub.Hub { return s.hub }

// RegisterHandler registers a message handler for an event.
func (s *Service) RegisterHandler(event string, handler types.MessageHandler) {
	s.hub.RegisterHandler(event, handler)
	s.logger.Debug().Str("event", event).Msg("handler registered")
}

// Subscribe adds a client to a channel.
func (s *Service) Subscribe(channel, clientID string) error {
	if ok := s.hub.Subscribe(channel, clientID); !ok {
		return fmt.Errorf("client %s not found", clientID)
	}
	s.logger.Debug().
		Str("client_id", clientID).
		Str("channel", channel).
		Msg("subscribed")
	return nil
}

// Unsubscribe removes a client from a channel.
func (s *Service) Unsubscribe(channel, clientID string) error {
	if ok := s.hub.Unsubscribe(channel, clientID); !ok {
		return fmt.Errorf("channel %s or client %s not found", channel, clientID)
	}
	s.logger.Debug().
		Str("client_id", clientID).
		Str("channel", channel).
		Msg("unsubscribed")
	return nil
}

// PublishActivity announces a REST-created activity to every connection
// except the author's own live one.
func (s *Service) PublishActivity(a types.Activity) error {
	msg, err := types.NewMessage(types.ChannelAll, types.EventActivityFeedUpdate, a)
	if err != nil {
		return err
	}
	except, _ := s.hub.UserClient(a.UserID)
	s.hub.PublishExcept(types.ChannelAll, msg, except)
	return nil
}

// OnlineUsers lists user ids with a live connection on any instance.
func (s *Service) OnlineUsers(ctx context.Context) ([]string, error) {
	entries, err := s.presence.Online(ctx)
	if err != nil {
		return nil, fmt.Errorf("online users: %w", err)
	}
	ids := make([]string, 0, len(entries))
	for _, e := range entries {
		ids = append(ids, e.UserID)
	}
	return ids, nil
}

// ConnectedClients returns ids of the connections on this instance.
func (s *Service) ConnectedClients() []string { return s.hub.ConnectedClients() }

// Channels returns active channels with subscriber counts.
func (s *Service) Channels() map[string]int { return s.hub.Channels() }

// ClientCount returns the number of connections on this instance.
func (s *Service) ClientCount() int { return s.hub.ClientCount() }

func (s *Service) ctx() (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), s.timeout)
}

// handleConnect and handleDisconnect run on the hub goroutine. Presence
// writes go through s.writes so a slow store never stalls the loop; the
// queue keeps a user's set and remove in order.
func (s *Service) handleConnect(info types.ClientInfo) {
	if info.UserID == "" {
		return
	}
	entry := presence.Entry{
		UserID:     info.UserID,
		InstanceID: s.instanceID,
		ClientID:   info.ID,
		Since:      info.ConnectedAt,
	}
	s.writes.submit(func() {
		ctx, cancel := s.ctx()
		defer cancel()
		if err := s.presence.Set(ctx, entry); err != nil {
			s.logger.Error().Err(err).Str("user_id", entry.UserID).Msg("set presence")
		}
	})
	s.announce(types.EventPresenceOnline, info)
}

func (s *Service) handleDisconnect(info types.ClientInfo) {
	if info.UserID == "" {
		return
	}
	s.writes.submit(func() {
		ctx, cancel := s.ctx()
		defer cancel()
		removed, err := s.presence.Remove(ctx, info.UserID, info.ID)
		if err != nil {
			s.logger.Error().Err(err).Str("user_id", info.UserID).Msg("remove presence")
		}
		if !removed && err == nil {
			s.logger.Debug().Str("user_id", info.UserID).Str("client_id", info.ID).Msg("presence held by a newer connection")
		}
	})
	s.announce(types.EventPresenceOffline, info)
}

func (s *Service) announce(event string, info types.ClientInfo) {
	msg, err := types.NewMessage(types.ChannelAll, event, types.PresencePayload{UserID: info.UserID})
	if err != nil {
		s.logger.Error().Err(err).Msg("encode presence")
		return
	}
	s.hub.Emit(types.ChannelAll, msg, info.ID)
}

func (s *Service) handleRoomJoin(client types.ClientInfo, msg types.Message) error {
	p, err := types.Decode[types.RoomPayload](msg)
	if err != nil {
		return s.drop(client, msg, err)
	}
	channel := types.RoomChannel(p.RoomID)
	if err := s.Subscribe(channel, client.ID); err != nil {
		return err
	}
	if client.UserID == "" {
		return nil
	}
	return s.notifyRoom(channel, types.EventRoomUserJoined, p.RoomID, client)
}

func (s *Service) handleRoomLeave(client types.ClientInfo, msg types.Message) error {
	p, err := types.Decode[types.RoomPayload](msg)
	if err != nil {
		return s.drop(client, msg, err)
	}
	channel := types.RoomChannel(p.RoomID)
	// Leaving a room never joined still notifies, matching join.
	_ = s.hub.Unsubscribe(channel, client.ID)
	if client.UserID == "" {
		return nil
	}
	return s.notifyRoom(channel, types.EventRoomUserLeft, p.RoomID, client)
}

func (s *Service) notifyRoom(channel, event, roomID string, client types.ClientInfo) error {
	out, err := types.NewMessage(channel, event, types.RoomPayload{RoomID: roomID, UserID: client.UserID})
	if err != nil {
		return err
	}
	s.hub.Emit(channel, out, client.ID)
	return nil
}

func (s *Service) handleActivityNew(client types.ClientInfo, msg types.Message) error {
	a, err := types.Decode[types.Activity](msg)
	if err != nil {
		return s.drop(client, msg, err)
	}
	out, err := types.NewMessage(types.ChannelAll, types.EventActivityFeedUpdate, a)
	if err != nil {
		return err
	}
	s.hub.Emit(types.ChannelAll, out, client.ID)
	return nil
}

func (s *Service) handleNodeMove(client types.ClientInfo, msg types.Message) error {
	p, err := types.Decode[types.NodePosition](msg)
	if err != nil {
		return s.drop(client, msg, err)
	}

	if s.nodes != nil {
		id, pos := p.NodeID, [3]float64{p.Position[0], p.Position[1], p.Position[2]}
		s.writes.submit(func() {
			ctx, cancel := s.ctx()
			defer cancel()
			if err := s.nodes.UpdateNodePosition(ctx, id, pos); err != nil {
				s.logger.Warn().Err(err).Str("node_id", id).Msg("persist node position")
			}
		})
	}

	out, err := types.NewMessage(types.ChannelAll, types.EventNodeMoved, p)
	if err != nil {
		return err
	}
	s.hub.Emit(types.ChannelAll, out, client.ID)
	return nil
}

// drop logs a malformed event. It is never rebroadcast.
func (s *Service) drop(client types.ClientInfo, msg types.Message, err error) error {
	if errors.Is(err, types.ErrInvalidPayload) {
		s.logger.Warn().
			Err(err).
			Str("client_id", client.ID).
			Str("event", msg.Event).
			Msg("dropping malformed event")
		return nil
	}
	return err
}
