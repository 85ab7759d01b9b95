// Package hub provides topic-addressed publish/subscribe with presence
// tracking for realtime document sessions.
package hub

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/golang/glog"
	"github.com/oklog/ulid/v2"

	"github.com/vishnu-mouli-102408/sync-scribe/internal/domain"
	"github.com/vishnu-mouli-102408/sync-scribe/internal/protocol"
)

// ErrHubClosed is returned when the hub's Run loop has stopped.
var ErrHubClosed = errors.New("hub closed")

// Subscriber is one subscription to a topic. Frames for the subscriber are
// JSON encoded protocol messages delivered on Send; the hub closes Send when
// the subscriber is unregistered.
type Subscriber struct {
	ID    string
	Topic string
	Key   string // presence key
	Self  bool   // receive own broadcasts
	Send  chan []byte
}

// Options configures a Hub.
type Options struct {
	// SnapshotInterval is the reconciliation cycle: every interval each
	// topic's subscribers receive a fresh presence snapshot. Zero disables
	// periodic snapshots.
	SnapshotInterval time.Duration

	// SendBuffer is the per-subscriber frame buffer.
	SendBuffer int

	// Relay fans broadcasts and presence out to other hub nodes.
	Relay Relay
}

type tracked struct {
	presence domain.Presence
	seq      uint64
}

type remoteState struct {
	state map[string]domain.Presence
	seen  time.Time
}

type trackRequest struct {
	sub      *Subscriber
	presence domain.Presence
}

type broadcastRequest struct {
	sub   *Subscriber
	frame protocol.BroadcastFrame
}

// Hub manages all topic subscriptions of one node.
type Hub struct {
	nodeID string
	opts   Options

	// Subscribers indexed by subscriber ID
	subscribers map[string]*Subscriber

	// Topics maps topic to set of subscriber IDs
	topics map[string]map[string]bool

	// Presence tracked by local subscribers, per topic and subscriber ID
	presence map[string]map[string]tracked

	// Presence reported by other nodes, per topic and node ID
	remote map[string]map[string]*remoteState

	seq uint64

	register   chan *Subscriber
	unregister chan *Subscriber
	track      chan *trackRequest
	broadcast  chan *broadcastRequest
	relayOut   chan RelayMessage
	done       chan struct{}

	mu sync.RWMutex
}

// New creates a new Hub.
func New(opts Options) *Hub {
	if opts.SendBuffer <= 0 {
		opts.SendBuffer = 256
	}
	return &Hub{
		nodeID:      ulid.Make().String(),
		opts:        opts,
		subscribers: make(map[string]*Subscriber),
		topics:      make(map[string]map[string]bool),
		presence:    make(map[string]map[string]tracked),
		remote:      make(map[string]map[string]*remoteState),
		register:    make(chan *Subscriber),
		unregister:  make(chan *Subscriber),
		track:       make(chan *trackRequest),
		broadcast:   make(chan *broadcastRequest, 256),
		relayOut:    make(chan RelayMessage, 256),
		done:        make(chan struct{}),
	}
}

// NodeID identifies this hub among relay peers.
func (h *Hub) NodeID() string {
	return h.nodeID
}

// Run starts the hub's main loop. It returns when ctx is cancelled; all
// subscribers are then unregistered.
func (h *Hub) Run(ctx context.Context) {
	var tick <-chan time.Time
	if h.opts.SnapshotInterval > 0 {
		ticker := time.NewTicker(h.opts.SnapshotInterval)
		defer ticker.Stop()
		tick = ticker.C
	}

	var relayIn <-chan RelayMessage
	if h.opts.Relay != nil {
		relayIn = h.opts.Relay.Messages()
		go h.relayWriter(ctx)
	}

	defer h.shutdown()

	for {
		select {
		case <-ctx.Done():
			return

		case sub := <-h.register:
			h.addSubscriber(sub)

		case sub := <-h.unregister:
			h.removeSubscriber(sub)

		case req := <-h.track:
			h.setPresence(req.sub, req.presence)

		case req := <-h.broadcast:
			h.fanOut(req)

		case msg, ok := <-relayIn:
			if !ok {
				relayIn = nil
				continue
			}
			h.handleRelay(msg)

		case now := <-tick:
			h.reconcile(now)
		}
	}
}

// NewSubscriber creates a subscriber for a topic. It is not registered.
func (h *Hub) NewSubscriber(topic, key string, self bool) *Subscriber {
	return &Subscriber{
		ID:    ulid.Make().String(),
		Topic: topic,
		Key:   key,
		Self:  self,
		Send:  make(chan []byte, h.opts.SendBuffer),
	}
}

// Register subscribes sub to its topic. The subscriber receives the topic's
// current presence snapshot first.
func (h *Hub) Register(ctx context.Context, sub *Subscriber) error {
	select {
	case h.register <- sub:
		return nil
	case <-h.done:
		return ErrHubClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Unregister removes sub from its topic and drops its presence. Safe to call
// more than once.
func (h *Hub) Unregister(sub *Subscriber) {
	select {
	case h.unregister <- sub:
	case <-h.done:
	}
}

// Track sets the subscriber's presence record and pushes a snapshot to every
// subscriber of the topic.
func (h *Hub) Track(ctx context.Context, sub *Subscriber, p domain.Presence) error {
	select {
	case h.track <- &trackRequest{sub: sub, presence: p}:
		return nil
	case <-h.done:
		return ErrHubClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Broadcast delivers an application event to the topic. The sender only
// receives it back when it subscribed with Self.
func (h *Hub) Broadcast(ctx context.Context, sub *Subscriber, event string, payload json.RawMessage) error {
	frame := protocol.BroadcastFrame{
		BaseMessage: protocol.BaseMessage{
			Type:  protocol.TypeBroadcast,
			Ts:    time.Now().UnixMilli(),
			Topic: sub.Topic,
		},
		Event:   event,
		Payload: payload,
		Sender:  sub.Key,
	}
	select {
	case h.broadcast <- &broadcastRequest{sub: sub, frame: frame}:
		return nil
	case <-h.done:
		return ErrHubClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

// GetSubscriberCount returns the number of active subscribers.
func (h *Hub) GetSubscriberCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subscribers)
}

// GetTopicCount returns the number of topics with local subscribers.
func (h *Hub) GetTopicCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.topics)
}

// HasSubscribers checks if a topic has any local subscribers.
func (h *Hub) HasSubscribers(topic string) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.topics[topic]) > 0
}

// PresenceState returns the merged presence snapshot of a topic.
func (h *Hub) PresenceState(topic string) map[string]domain.Presence {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.snapshotLocked(topic)
}

func (h *Hub) addSubscriber(sub *Subscriber) {
	h.mu.Lock()
	if _, exists := h.subscribers[sub.ID]; exists {
		h.mu.Unlock()
		return
	}
	h.subscribers[sub.ID] = sub
	if h.topics[sub.Topic] == nil {
		h.topics[sub.Topic] = make(map[string]bool)
	}
	h.topics[sub.Topic][sub.ID] = true
	data := h.snapshotFrameLocked(sub.Topic)
	h.mu.Unlock()

	glog.V(1).Infof("hub: subscriber registered: %s (topic: %s, key: %s)", sub.ID, sub.Topic, sub.Key)
	h.deliver(sub, data)
}

func (h *Hub) removeSubscriber(sub *Subscriber) {
	h.mu.Lock()
	if _, ok := h.subscribers[sub.ID]; !ok {
		h.mu.Unlock()
		return
	}
	delete(h.subscribers, sub.ID)
	if ids := h.topics[sub.Topic]; ids != nil {
		delete(ids, sub.ID)
		if len(ids) == 0 {
			delete(h.topics, sub.Topic)
		}
	}
	_, hadPresence := h.presence[sub.Topic][sub.ID]
	if hadPresence {
		delete(h.presence[sub.Topic], sub.ID)
		if len(h.presence[sub.Topic]) == 0 {
			delete(h.presence, sub.Topic)
		}
	}
	if h.topics[sub.Topic] == nil {
		delete(h.remote, sub.Topic)
	}
	close(sub.Send)
	h.mu.Unlock()

	glog.V(1).Infof("hub: subscriber unregistered: %s (topic: %s)", sub.ID, sub.Topic)
	if hadPresence {
		h.pushSnapshot(sub.Topic)
		h.publishLocalPresence(sub.Topic)
	}
}

func (h *Hub) setPresence(sub *Subscriber, p domain.Presence) {
	h.mu.Lock()
	if _, ok := h.subscribers[sub.ID]; !ok {
		h.mu.Unlock()
		return
	}
	if h.presence[sub.Topic] == nil {
		h.presence[sub.Topic] = make(map[string]tracked)
	}
	h.seq++
	h.presence[sub.Topic][sub.ID] = tracked{presence: p, seq: h.seq}
	h.mu.Unlock()

	h.pushSnapshot(sub.Topic)
	h.publishLocalPresence(sub.Topic)
}

func (h *Hub) fanOut(req *broadcastRequest) {
	h.mu.RLock()
	_, live := h.subscribers[req.sub.ID]
	h.mu.RUnlock()
	if !live {
		return
	}

	data, err := json.Marshal(req.frame)
	if err != nil {
		glog.Errorf("hub: failed to encode broadcast on %s: %v", req.sub.Topic, err)
		return
	}
	h.deliverTopic(req.sub.Topic, data, req.sub.ID)

	if h.opts.Relay != nil {
		h.enqueueRelay(RelayMessage{
			Node:  h.nodeID,
			Topic: req.sub.Topic,
			Kind:  RelayKindBroadcast,
			Frame: data,
		})
	}
}

// reconcile pushes a fresh snapshot to every topic and expires presence of
// relay peers that stopped reporting.
func (h *Hub) reconcile(now time.Time) {
	h.mu.Lock()
	topics := make([]string, 0, len(h.topics))
	for topic := range h.topics {
		topics = append(topics, topic)
	}
	ttl := 3 * h.opts.SnapshotInterval
	for topic, nodes := range h.remote {
		for node, rs := range nodes {
			if now.Sub(rs.seen) > ttl {
				glog.Infof("hub: expiring presence of node %s on %s", node, topic)
				delete(nodes, node)
			}
		}
		if len(nodes) == 0 {
			delete(h.remote, topic)
		}
	}
	h.mu.Unlock()

	for _, topic := range topics {
		h.pushSnapshot(topic)
		h.publishLocalPresence(topic)
	}
}

func (h *Hub) snapshotLocked(topic string) map[string]domain.Presence {
	state := make(map[string]domain.Presence)
	for _, rs := range h.remote[topic] {
		for key, p := range rs.state {
			state[key] = p
		}
	}

	// Several local subscribers may share a key; the most recent track wins.
	seqs := make(map[string]uint64)
	for id, tr := range h.presence[topic] {
		sub := h.subscribers[id]
		if sub == nil {
			continue
		}
		if tr.seq >= seqs[sub.Key] {
			seqs[sub.Key] = tr.seq
			state[sub.Key] = tr.presence
		}
	}
	return state
}

func (h *Hub) localPresenceLocked(topic string) map[string]domain.Presence {
	state := make(map[string]domain.Presence)
	seqs := make(map[string]uint64)
	for id, tr := range h.presence[topic] {
		sub := h.subscribers[id]
		if sub == nil {
			continue
		}
		if tr.seq >= seqs[sub.Key] {
			seqs[sub.Key] = tr.seq
			state[sub.Key] = tr.presence
		}
	}
	return state
}

func (h *Hub) snapshotFrameLocked(topic string) []byte {
	msg := protocol.PresenceStateMessage{
		BaseMessage: protocol.BaseMessage{
			Type:  protocol.TypePresenceState,
			Ts:    time.Now().UnixMilli(),
			Topic: topic,
		},
		State: h.snapshotLocked(topic),
	}
	data, err := json.Marshal(msg)
	if err != nil {
		glog.Errorf("hub: failed to encode presence state for %s: %v", topic, err)
		return nil
	}
	return data
}

func (h *Hub) pushSnapshot(topic string) {
	h.mu.RLock()
	data := h.snapshotFrameLocked(topic)
	h.mu.RUnlock()
	h.deliverTopic(topic, data, "")
}

// deliverTopic sends data to every subscriber of topic. The subscriber with
// ID except is skipped unless it asked for its own broadcasts.
func (h *Hub) deliverTopic(topic string, data []byte, except string) {
	if data == nil {
		return
	}
	h.mu.RLock()
	targets := make([]*Subscriber, 0, len(h.topics[topic]))
	for id := range h.topics[topic] {
		sub, ok := h.subscribers[id]
		if !ok {
			continue
		}
		if id == except && !sub.Self {
			continue
		}
		targets = append(targets, sub)
	}
	h.mu.RUnlock()

	for _, sub := range targets {
		h.deliver(sub, data)
	}
}

func (h *Hub) deliver(sub *Subscriber, data []byte) {
	if data == nil {
		return
	}
	h.mu.RLock()
	defer h.mu.RUnlock()
	if _, ok := h.subscribers[sub.ID]; !ok {
		return
	}
	select {
	case sub.Send <- data:
	default:
		// Buffer full, drop the subscriber
		glog.Warningf("hub: subscriber %s buffer full, unregistering", sub.ID)
		go h.Unregister(sub)
	}
}

func (h *Hub) shutdown() {
	close(h.done)
	h.mu.Lock()
	defer h.mu.Unlock()
	for id, sub := range h.subscribers {
		close(sub.Send)
		delete(h.subscribers, id)
	}
	h.topics = make(map[string]map[string]bool)
	h.presence = make(map[string]map[string]tracked)
	h.remote = make(map[string]map[string]*remoteState)
}
