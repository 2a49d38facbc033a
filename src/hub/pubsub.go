package hub

import (
	"github.com/orchestra-mcp/nexus/src/types"
)

func (h *Hub) handleMessage(msg types.Message) {
	h.mu.RLock()
	handler, ok := h.handlers[msg.Event]
	client, known := h.clients[msg.ClientID]
	h.mu.RUnlock()

	if !ok {
		h.logger.Debug().Str("event", msg.Event).Msg("no handler")
		return
	}
	if !known {
		h.logger.Debug().Str("client_id", msg.ClientID).Msg("message from unregistered client")
		return
	}
	if err := handler(client.Info(), msg); err != nil {
		h.logger.Error().Err(err).Str("event", msg.Event).Str("client_id", msg.ClientID).Msg("handler error")
	}
}

// recipients resolves the client set for a broadcast, minus the excluded id.
func (h *Hub) recipients(channel, except string) []*Client {
	h.mu.RLock()
	defer h.mu.RUnlock()

	if channel == types.ChannelAll {
		out := make([]*Client, 0, len(h.clients))
		for id, c := range h.clients {
			if id != except {
				out = append(out, c)
			}
		}
		return out
	}

	subs, ok := h.channels[channel]
	if !ok {
		return nil
	}
	out := make([]*Client, 0, len(subs))
	for id := range subs {
		if id == except {
			continue
		}
		if c, exists := h.clients[id]; exists {
			out = append(out, c)
		}
	}
	return out
}

func (h *Hub) broadcastToChannel(bm broadcastMsg) {
	for _, client := range h.recipients(bm.channel, bm.except) {
		if !client.trySend(bm.msg) {
			h.logger.Warn().Str("client_id", client.ID).Msg("send buffer full, dropping")
		}
	}
}

// deliver fans a broadcast out locally and queues it for the bridge.
func (h *Hub) deliver(bm broadcastMsg) {
	h.publishToBridge(bm.msg)
	h.broadcastToChannel(bm)
}

// publishToBridge queues a message for bridgeLoop when a bridge is attached.
// A full queue drops the message rather than stall fan-out.
func (h *Hub) publishToBridge(msg types.Message) {
	h.mu.RLock()
	b := h.bridge
	h.mu.RUnlock()

	if b == nil || !b.Available() {
		return
	}
	select {
	case h.bridgeOut <- msg:
	default:
		h.logger.Warn().Str("event", msg.Event).Msg("bridge queue full, dropping")
	}
}

// bridgeLoop publishes queued messages to the bridge until the hub stops.
func (h *Hub) bridgeLoop() {
	for {
		select {
		case msg := <-h.bridgeOut:
			h.mu.RLock()
			b := h.bridge
			h.mu.RUnlock()
			if b == nil {
				continue
			}
			if err := b.Publish(msg); err != nil {
				h.logger.Error().Err(err).Str("event", msg.Event).Msg("bridge publish failed")
			}
		case <-h.done:
			return
		}
	}
}

// Publish sends a message to all subscribers of a channel. Use
// types.ChannelAll to reach every connection.
func (h *Hub) Publish(channel string, msg types.Message) {
	h.PublishExcept(channel, msg, "")
}

// Emit delivers a message immediately on the calling goroutine instead of
// queueing it for the event loop. Message handlers and connection callbacks
// run on the loop and must use Emit: queueing from there blocks forever
// once the broadcast queue is full.
func (h *Hub) Emit(channel string, msg types.Message, exceptClientID string) {
	msg.Channel = channel
	h.deliver(broadcastMsg{channel: channel, msg: msg, except: exceptClientID})
}

// PublishExcept is Publish with one client id left out, typically the sender.
// It queues for the event loop, so call it from outside handlers.
func (h *Hub) PublishExcept(channel string, msg types.Message, exceptClientID string) {
	msg.Channel = channel
	select {
	case h.broadcast <- broadcastMsg{channel: channel, msg: msg, except: exceptClientID}:
	case <-h.done:
	}
}

// Subscribe adds a client to a channel. Subscribing twice is a no-op.
func (h *Hub) Subscribe(channel, clientID string) bool {
	h.mu.Lock()
	defer h.mu.Unlock()

	c, ok := h.clients[clientID]
	if !ok {
		return false
	}
	h.subscribeLocked(channel, c)
	return true
}

// Unsubscribe removes a client from a channel.
func (h *Hub) Unsubscribe(channel, clientID string) bool {
	h.mu.Lock()
	defer h.mu.Unlock()

	subs, ok := h.channels[channel]
	if !ok {
		return false
	}
	delete(subs, clientID)
	if len(subs) == 0 {
		delete(h.channels, channel)
	}
	if c, ok := h.clients[clientID]; ok {
		c.RemoveChannel(channel)
	}
	return true
}

// SendToClient sends a message directly to a specific client.
func (h *Hub) SendToClient(clientID string, msg types.Message) bool {
	h.mu.RLock()
	client, ok := h.clients[clientID]
	h.mu.RUnlock()
	if !ok {
		return false
	}
	return client.trySend(msg)
}

// SendToUser sends a message to the live connection registered for userID.
func (h *Hub) SendToUser(userID string, msg types.Message) bool {
	clientID, ok := h.UserClient(userID)
	if !ok {
		return false
	}
	return h.SendToClient(clientID, msg)
}
