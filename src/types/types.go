package types

import (
	"encoding/json"
	"time"
)

// ChannelAll addresses every connected client regardless of subscriptions.
const ChannelAll = "*"

// Message is a WebSocket message. Data carries the JSON encoding of one of
// the typed payloads in events.go, selected by Event.
type Message struct {
	Channel   string          `json:"channel"`
	Event     string          `json:"event"`
	Data      json.RawMessage `json:"data,omitempty"`
	ClientID  string          `json:"client_id,omitempty"`
	Timestamp time.Time       `json:"timestamp"`
}

// MessageHandler handles an incoming message for one event name.
type MessageHandler func(client ClientInfo, msg Message) error

// ClientInfo holds metadata about a connected WebSocket client.
type ClientInfo struct {
	ID          string    `json:"id"`
	UserID      string    `json:"user_id,omitempty"`
	ConnectedAt time.Time `json:"connected_at"`
	Channels    []string  `json:"channels"`
	UserAgent   string    `json:"user_agent,omitempty"`
}

// Conn abstracts a WebSocket connection for testability.
type Conn interface {
	WriteJSON(v any) error
	ReadJSON(v any) error
	Close() error
}

// UserChannel is the personal channel a user's connection is subscribed to.
func UserChannel(userID string) string { return "user:" + userID }

// RoomChannel is the channel joined through room:join.
func RoomChannel(roomID string) string { return "room:" + roomID }
