package bridge

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/orchestra-mcp/nexus/src/types"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

// publishTimeout bounds a single PUBLISH. Publish is called from the hub's
// event loop, which must not stall on a slow Redis.
const publishTimeout = 2 * time.Second

// envelope tags a relayed message with the instance that published it.
type envelope struct {
	Origin  string        `json:"instance_id"`
	Message types.Message `json:"message"`
}

// RedisBridge relays broadcasts over a Redis pub/sub topic shared by every
// instance configured with the same prefix.
type RedisBridge struct {
	client     *redis.Client
	ownsClient bool
	topic      string
	instanceID string
	target     LocalTarget
	logger     zerolog.Logger

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
	active atomic.Bool

	published atomic.Uint64
	relayed   atomic.Uint64
	dropped   atomic.Uint64
}

var _ Bridge = (*RedisBridge)(nil)

// NewRedisBridge creates a bridge with its own Redis client, closed on Stop.
func NewRedisBridge(cfg *RedisConfig, target LocalTarget, logger zerolog.Logger) *RedisBridge {
	b := NewRedisBridgeWithClient(cfg.NewClient(), cfg.Prefix, target, logger)
	b.ownsClient = true
	return b
}

// NewRedisBridgeWithClient creates a bridge on a client shared with other
// components, such as the presence store. The caller closes client.
func NewRedisBridgeWithClient(client *redis.Client, prefix string, target LocalTarget, logger zerolog.Logger) *RedisBridge {
	ctx, cancel := context.WithCancel(context.Background())
	id := uuid.NewString()
	return &RedisBridge{
		client:     client,
		topic:      prefix + "broadcast",
		instanceID: id,
		target:     target,
		logger:     logger.With().Str("component", "redis-bridge").Str("instance_id", id).Logger(),
		ctx:        ctx,
		cancel:     cancel,
	}
}

// InstanceID identifies this server in relayed envelopes and presence entries.
func (b *RedisBridge) InstanceID() string { return b.instanceID }

// Start pings Redis and waits for the subscription to be confirmed. ctx
// bounds only the connection attempt; relaying runs until Stop.
func (b *RedisBridge) Start(ctx context.Context) error {
	if err := b.client.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("redis ping: %w", err)
	}

	sub := b.client.Subscribe(b.ctx, b.topic)
	if _, err := sub.Receive(ctx); err != nil {
		_ = sub.Close()
		return fmt.Errorf("subscribe %s: %w", b.topic, err)
	}

	b.active.Store(true)
	b.wg.Add(1)
	go b.listen(sub)

	b.logger.Info().Str("topic", b.topic).Msg("redis bridge started")
	return nil
}

// Publish sends msg to every other instance. Before Start or after Stop the
// message is counted as dropped and nil is returned.
func (b *RedisBridge) Publish(msg types.Message) error {
	if !b.active.Load() {
		b.dropped.Add(1)
		return nil
	}
	data, err := json.Marshal(envelope{Origin: b.instanceID, Message: msg})
	if err != nil {
		return fmt.Errorf("encode %s: %w", msg.Event, err)
	}

	ctx, cancel := context.WithTimeout(b.ctx, publishTimeout)
	defer cancel()
	if err := b.client.Publish(ctx, b.topic, data).Err(); err != nil {
		b.dropped.Add(1)
		return fmt.Errorf("publish %s: %w", msg.Event, err)
	}
	b.published.Add(1)
	return nil
}

// Stop ends relaying and waits for the listener to exit. The Redis client is
// closed only when the bridge created it.
func (b *RedisBridge) Stop() error {
	b.active.Store(false)
	b.cancel()
	b.wg.Wait()

	b.logger.Info().Interface("stats", b.Stats()).Msg("redis bridge stopped")
	if b.ownsClient {
		return b.client.Close()
	}
	return nil
}

// Available reports whether the bridge is started and not stopped.
func (b *RedisBridge) Available() bool { return b.active.Load() }

// Stats returns a snapshot of the message counters.
func (b *RedisBridge) Stats() Stats {
	return Stats{
		Published: b.published.Load(),
		Relayed:   b.relayed.Load(),
		Dropped:   b.dropped.Load(),
	}
}

func (b *RedisBridge) listen(sub *redis.PubSub) {
	defer b.wg.Done()
	defer sub.Close()

	ch := sub.Channel()
	for {
		select {
		case m, ok := <-ch:
			if !ok {
				return
			}
			b.relay([]byte(m.Payload))
		case <-b.ctx.Done():
			return
		}
	}
}

// relay delivers a remote envelope to local connections. Own envelopes and
// malformed payloads are skipped.
func (b *RedisBridge) relay(raw []byte) {
	var env envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		b.dropped.Add(1)
		b.logger.Warn().Err(err).Msg("undecodable relay envelope")
		return
	}
	if env.Origin == b.instanceID {
		return
	}
	if err := checkRelayed(env.Message); err != nil {
		b.dropped.Add(1)
		b.logger.Warn().Err(err).Str("from", env.Origin).Msg("relayed message dropped")
		return
	}

	b.relayed.Add(1)
	b.logger.Debug().
		Str("from", env.Origin).
		Str("event", env.Message.Event).
		Str("channel", env.Message.Channel).
		Msg("relay")
	b.target.BroadcastToLocal(env.Message)
}
