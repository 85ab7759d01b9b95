package hub

import (
	"context"
	"encoding/json"
	"time"

	"github.com/golang/glog"

	"github.com/vishnu-mouli-102408/sync-scribe/internal/domain"
)

// Relay kinds
const (
	RelayKindBroadcast = "broadcast"
	RelayKindPresence  = "presence"
)

// RelayMessage is exchanged between hub nodes serving the same topics.
type RelayMessage struct {
	Node  string                     `json:"node"`
	Topic string                     `json:"topic"`
	Kind  string                     `json:"kind"`
	Frame json.RawMessage            `json:"frame,omitempty"` // encoded broadcast frame
	State map[string]domain.Presence `json:"state,omitempty"` // node-local presence
}

// Relay connects hubs on different nodes. Messages published by a node are
// also delivered back to it; the hub filters its own node id.
type Relay interface {
	Publish(ctx context.Context, msg RelayMessage) error
	Messages() <-chan RelayMessage
	Close() error
}

func (h *Hub) handleRelay(msg RelayMessage) {
	if msg.Node == h.nodeID {
		return
	}

	switch msg.Kind {
	case RelayKindBroadcast:
		h.deliverTopic(msg.Topic, msg.Frame, "")

	case RelayKindPresence:
		h.mu.Lock()
		if h.topics[msg.Topic] == nil {
			// No local subscribers care about this topic.
			h.mu.Unlock()
			return
		}
		if h.remote[msg.Topic] == nil {
			h.remote[msg.Topic] = make(map[string]*remoteState)
		}
		prev := h.remote[msg.Topic][msg.Node]
		h.remote[msg.Topic][msg.Node] = &remoteState{state: msg.State, seen: time.Now()}
		h.mu.Unlock()

		if prev == nil || !samePresence(prev.state, msg.State) {
			h.pushSnapshot(msg.Topic)
		}

	default:
		glog.Warningf("hub: unknown relay message kind %q from %s", msg.Kind, msg.Node)
	}
}

// publishLocalPresence reports this node's presence for a topic to peers.
func (h *Hub) publishLocalPresence(topic string) {
	if h.opts.Relay == nil {
		return
	}
	h.mu.RLock()
	state := h.localPresenceLocked(topic)
	h.mu.RUnlock()

	h.enqueueRelay(RelayMessage{
		Node:  h.nodeID,
		Topic: topic,
		Kind:  RelayKindPresence,
		State: state,
	})
}

func (h *Hub) enqueueRelay(msg RelayMessage) {
	select {
	case h.relayOut <- msg:
	default:
		glog.Warningf("hub: relay queue full, dropping %s for %s", msg.Kind, msg.Topic)
	}
}

// relayWriter publishes queued relay messages in order.
func (h *Hub) relayWriter(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case msg := <-h.relayOut:
			pubCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
			if err := h.opts.Relay.Publish(pubCtx, msg); err != nil {
				glog.Warningf("hub: relay publish failed for %s: %v", msg.Topic, err)
			}
			cancel()
		}
	}
}

func samePresence(a, b map[string]domain.Presence) bool {
	if len(a) != len(b) {
		return false
	}
	for k, pa := range a {
		pb, ok := b[k]
		if !ok || pa.LastSeen != pb.LastSeen || pa.User != pb.User {
			return false
		}
		if (pa.Cursor == nil) != (pb.Cursor == nil) {
			return false
		}
		if pa.Cursor != nil && *pa.Cursor != *pb.Cursor {
			return false
		}
	}
	return true
}
