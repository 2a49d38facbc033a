package types

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
)

// Event names carried in Message.Event.
const (
	EventPresenceOnline  = "presence:online"
	EventPresenceOffline = "presence:offline"

	EventRoomJoin       = "room:join"
	EventRoomLeave      = "room:leave"
	EventRoomUserJoined = "room:user_joined"
	EventRoomUserLeft   = "room:user_left"

	EventActivityNew        = "activity:new"
	EventActivityFeedUpdate = "activity:feed_update"

	EventNodeMove  = "node:move"
	EventNodeMoved = "node:moved"
)

// ErrInvalidPayload wraps every decode or validation failure of an event body.
var ErrInvalidPayload = errors.New("invalid event payload")

var validate = validator.New(validator.WithRequiredStructEnabled())

// Payload is implemented by every typed event body.
type Payload interface {
	payload()
}

// PresencePayload announces a user going online or offline.
type PresencePayload struct {
	UserID string `json:"userId" validate:"required"`
}

// RoomPayload is used for room:join / room:leave and their notifications.
type RoomPayload struct {
	RoomID string `json:"roomId" validate:"required"`
	UserID string `json:"userId,omitempty"`
}

// Activity is a feed entry. Immutable once created.
type Activity struct {
	ID        string    `json:"id" validate:"required"`
	UserID    string    `json:"userId" validate:"required"`
	UserName  string    `json:"userName"`
	Action    string    `json:"action" validate:"required"`
	RoomID    string    `json:"roomId,omitempty"`
	RoomName  string    `json:"roomName,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// NodePosition moves a knowledge node in the shared graph.
type NodePosition struct {
	NodeID   string    `json:"nodeId" validate:"required"`
	Position []float64 `json:"position" validate:"len=3"`
}

func (PresencePayload) payload() {}
func (RoomPayload) payload()     {}
func (Activity) payload()        {}
func (NodePosition) payload()    {}

// NewMessage encodes a typed payload into a message envelope.
func NewMessage(channel, event string, p Payload) (Message, error) {
	data, err := json.Marshal(p)
	if err != nil {
		return Message{}, fmt.Errorf("encode %s: %w", event, err)
	}
	return Message{
		Channel:   channel,
		Event:     event,
		Data:      data,
		Timestamp: time.Now(),
	}, nil
}

// Decode unmarshals msg.Data into T and validates it.
func Decode[T Payload](msg Message) (T, error) {
	var out T
	if len(msg.Data) == 0 {
		return out, fmt.Errorf("%w: %s has no data", ErrInvalidPayload, msg.Event)
	}
	if err := json.Unmarshal(msg.Data, &out); err != nil {
		return out, fmt.Errorf("%w: %s: %v", ErrInvalidPayload, msg.Event, err)
	}
	if err := validate.Struct(out); err != nil {
		return out, fmt.Errorf("%w: %s: %v", ErrInvalidPayload, msg.Event, err)
	}
	return out, nil
}

// DecodeEvent resolves the payload type from the event name.
func DecodeEvent(msg Message) (Payload, error) {
	switch msg.Event {
	case EventPresenceOnline, EventPresenceOffline:
		return Decode[PresencePayload](msg)
	case EventRoomJoin, EventRoomLeave, EventRoomUserJoined, EventRoomUserLeft:
		return Decode[RoomPayload](msg)
	case EventActivityNew, EventActivityFeedUpdate:
		return Decode[Activity](msg)
	case EventNodeMove, EventNodeMoved:
		return Decode[NodePosition](msg)
	default:
		return nil, fmt.Errorf("%w: unknown event %q", ErrInvalidPayload, msg.Event)
	}
}
