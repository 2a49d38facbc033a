// Package bridge relays hub broadcasts between nexus instances so that a
// client connected to one instance sees activity and node moves published
// on another.
package bridge

import (
	"context"

	"github.com/orchestra-mcp/nexus/src/types"
)

// Bridge carries broadcasts to and from the other instances.
type Bridge interface {
	// Publish hands a locally fanned-out message to the other instances.
	Publish(msg types.Message) error

	// Start connects and begins relaying remote messages to the local hub.
	Start(ctx context.Context) error

	// Stop disconnects. Messages published afterwards are dropped.
	Stop() error

	// Available reports whether Publish currently reaches other instances.
	Available() bool

	// InstanceID names this instance in relayed envelopes.
	InstanceID() string

	// Stats reports traffic counters since construction.
	Stats() Stats
}

// Stats counts bridge traffic.
type Stats struct {
	Published uint64 `json:"published"`
	Relayed   uint64 `json:"relayed"`
	Dropped   uint64 `json:"dropped"`
}

// LocalTarget is the hub side of the bridge: relayed messages are delivered
// to local connections only and never published again.
type LocalTarget interface {
	BroadcastToLocal(msg types.Message)
}

// checkRelayed rejects relayed messages whose payload does not match their
// event.
func checkRelayed(msg types.Message) error {
	_, err := types.DecodeEvent(msg)
	return err
}
