package hub

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vishnu-mouli-102408/sync-scribe/internal/domain"
	"github.com/vishnu-mouli-102408/sync-scribe/internal/protocol"
)

const testTopic = "document:doc-1"

func startHub(t *testing.T, opts Options) *Hub {
	t.Helper()
	h := New(opts)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		h.Run(ctx)
		close(done)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})
	return h
}

type frame struct {
	Type   string                     `json:"type"`
	Event  string                     `json:"event"`
	Sender string                     `json:"sender"`
	State  map[string]domain.Presence `json:"state"`
	Raw    []byte                     `json:"-"`
}

func next(t *testing.T, sub *Subscriber) frame {
	t.Helper()
	select {
	case data, ok := <-sub.Send:
		require.True(t, ok, "send channel closed")
		var f frame
		require.NoError(t, json.Unmarshal(data, &f))
		f.Raw = data
		return f
	case <-time.After(time.Second):
		t.Fatalf("no frame for %s", sub.ID)
		return frame{}
	}
}

// nextOfType skips frames until one of the given type arrives.
func nextOfType(t *testing.T, sub *Subscriber, typ string) frame {
	t.Helper()
	for {
		f := next(t, sub)
		if f.Type == typ {
			return f
		}
	}
}

func assertNoFrame(t *testing.T, sub *Subscriber, typ string) {
	t.Helper()
	deadline := time.After(100 * time.Millisecond)
	for {
		select {
		case data := <-sub.Send:
			var f frame
			require.NoError(t, json.Unmarshal(data, &f))
			assert.NotEqual(t, typ, f.Type, "unexpected %s frame", typ)
		case <-deadline:
			return
		}
	}
}

func presenceOf(id string) domain.Presence {
	return domain.Presence{
		User:     domain.PresenceUser{ID: id, Email: id + "@example.com", Username: id},
		LastSeen: time.Now().UnixMilli(),
	}
}

func TestRegisterDeliversSnapshotFirst(t *testing.T) {
	h := startHub(t, Options{})
	ctx := context.Background()

	alice := h.NewSubscriber(testTopic, "alice", false)
	require.NoError(t, h.Register(ctx, alice))

	f := next(t, alice)
	assert.Equal(t, protocol.TypePresenceState, f.Type)
	assert.Empty(t, f.State)

	require.Eventually(t, func() bool { return h.HasSubscribers(testTopic) }, time.Second, 5*time.Millisecond)
	assert.Equal(t, 1, h.GetSubscriberCount())
	assert.Equal(t, 1, h.GetTopicCount())
}

func TestTrackPushesSnapshotToTopic(t *testing.T) {
	h := startHub(t, Options{})
	ctx := context.Background()

	alice := h.NewSubscriber(testTopic, "alice", false)
	bob := h.NewSubscriber(testTopic, "bob", false)
	other := h.NewSubscriber("document:doc-2", "carol", false)
	for _, sub := range []*Subscriber{alice, bob, other} {
		require.NoError(t, h.Register(ctx, sub))
		next(t, sub)
	}

	require.NoError(t, h.Track(ctx, alice, presenceOf("alice")))

	for _, sub := range []*Subscriber{alice, bob} {
		f := nextOfType(t, sub, protocol.TypePresenceState)
		require.Contains(t, f.State, "alice")
		assert.Equal(t, "alice@example.com", f.State["alice"].User.Email)
	}
	assertNoFrame(t, other, protocol.TypePresenceState)

	require.NoError(t, h.Track(ctx, bob, presenceOf("bob")))
	f := nextOfType(t, alice, protocol.TypePresenceState)
	assert.Len(t, f.State, 2)
	assert.Len(t, h.PresenceState(testTopic), 2)
}

func TestUnregisterRemovesPresence(t *testing.T) {
	h := startHub(t, Options{})
	ctx := context.Background()

	alice := h.NewSubscriber(testTopic, "alice", false)
	bob := h.NewSubscriber(testTopic, "bob", false)
	require.NoError(t, h.Register(ctx, alice))
	require.NoError(t, h.Register(ctx, bob))
	require.NoError(t, h.Track(ctx, alice, presenceOf("alice")))
	require.NoError(t, h.Track(ctx, bob, presenceOf("bob")))

	require.Eventually(t, func() bool { return len(h.PresenceState(testTopic)) == 2 }, time.Second, 5*time.Millisecond)

	h.Unregister(bob)
	h.Unregister(bob)

	require.Eventually(t, func() bool {
		_, ok := h.PresenceState(testTopic)["bob"]
		return !ok
	}, time.Second, 5*time.Millisecond)

	// Bob's channel is closed once drained.
	for range bob.Send {
	}

	var last frame
	require.Eventually(t, func() bool {
		select {
		case data := <-alice.Send:
			last = frame{}
			_ = json.Unmarshal(data, &last)
		default:
		}
		return last.Type == protocol.TypePresenceState && len(last.State) == 1
	}, time.Second, 5*time.Millisecond)
	assert.Contains(t, last.State, "alice")
	assert.Equal(t, 1, h.GetSubscriberCount())
}

func TestBroadcastSkipsSenderUnlessSelf(t *testing.T) {
	h := startHub(t, Options{})
	ctx := context.Background()

	alice := h.NewSubscriber(testTopic, "alice", false)
	bob := h.NewSubscriber(testTopic, "bob", false)
	echo := h.NewSubscriber(testTopic, "eve", true)
	for _, sub := range []*Subscriber{alice, bob, echo} {
		require.NoError(t, h.Register(ctx, sub))
		next(t, sub)
	}

	payload := json.RawMessage(`{"userId":"alice","content":"hi"}`)
	require.NoError(t, h.Broadcast(ctx, alice, "content_change", payload))

	f := nextOfType(t, bob, protocol.TypeBroadcast)
	assert.Equal(t, "content_change", f.Event)
	assert.Equal(t, "alice", f.Sender)
	assertNoFrame(t, alice, protocol.TypeBroadcast)

	require.NoError(t, h.Broadcast(ctx, echo, "content_change", payload))
	f = nextOfType(t, echo, protocol.TypeBroadcast)
	assert.Equal(t, "eve", f.Sender)
}

func TestBroadcastFromUnregisteredSubscriberIsDropped(t *testing.T) {
	h := startHub(t, Options{})
	ctx := context.Background()

	bob := h.NewSubscriber(testTopic, "bob", false)
	require.NoError(t, h.Register(ctx, bob))
	next(t, bob)

	stranger := h.NewSubscriber(testTopic, "mallory", false)
	require.NoError(t, h.Broadcast(ctx, stranger, "content_change", json.RawMessage(`{}`)))
	assertNoFrame(t, bob, protocol.TypeBroadcast)
}

func TestPeriodicSnapshot(t *testing.T) {
	h := startHub(t, Options{SnapshotInterval: 20 * time.Millisecond})
	ctx := context.Background()

	alice := h.NewSubscriber(testTopic, "alice", false)
	require.NoError(t, h.Register(ctx, alice))
	next(t, alice)

	f := next(t, alice)
	assert.Equal(t, protocol.TypePresenceState, f.Type)
}

func TestFullBufferUnregistersSubscriber(t *testing.T) {
	h := startHub(t, Options{SendBuffer: 1})
	ctx := context.Background()

	alice := h.NewSubscriber(testTopic, "alice", false)
	slow := h.NewSubscriber(testTopic, "slow", false)
	require.NoError(t, h.Register(ctx, alice))
	require.NoError(t, h.Register(ctx, slow))

	// slow never drains: its snapshot fills the buffer.
	for i := 0; i < 3; i++ {
		require.NoError(t, h.Broadcast(ctx, alice, "content_change", json.RawMessage(`{}`)))
	}

	require.Eventually(t, func() bool { return h.GetSubscriberCount() == 1 }, time.Second, 5*time.Millisecond)
}

func TestHubClosedAfterRunReturns(t *testing.T) {
	h := New(Options{})
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		h.Run(ctx)
		close(done)
	}()

	sub := h.NewSubscriber(testTopic, "alice", false)
	require.NoError(t, h.Register(context.Background(), sub))
	cancel()
	<-done

	_, ok := <-sub.Send
	for ok {
		_, ok = <-sub.Send
	}
	assert.ErrorIs(t, h.Register(context.Background(), h.NewSubscriber(testTopic, "bob", false)), ErrHubClosed)
	assert.ErrorIs(t, h.Track(context.Background(), sub, presenceOf("alice")), ErrHubClosed)
}

// memoryBus links relays in-process, delivering every message to every
// relay including the publisher.
type memoryBus struct {
	mu     sync.Mutex
	relays []*memoryRelay
}

type memoryRelay struct {
	bus *memoryBus
	out chan RelayMessage
}

func (b *memoryBus) relay() *memoryRelay {
	r := &memoryRelay{bus: b, out: make(chan RelayMessage, 256)}
	b.mu.Lock()
	b.relays = append(b.relays, r)
	b.mu.Unlock()
	return r
}

func (r *memoryRelay) Publish(ctx context.Context, msg RelayMessage) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	r.bus.mu.Lock()
	defer r.bus.mu.Unlock()
	for _, peer := range r.bus.relays {
		var copied RelayMessage
		if err := json.Unmarshal(data, &copied); err != nil {
			return err
		}
		peer.out <- copied
	}
	return nil
}

func (r *memoryRelay) Messages() <-chan RelayMessage { return r.out }

func (r *memoryRelay) Close() error { return nil }

func TestRelayLinksHubs(t *testing.T) {
	bus := &memoryBus{}
	opts := func() Options {
		return Options{SnapshotInterval: 50 * time.Millisecond, Relay: bus.relay()}
	}
	node1 := startHub(t, opts())
	node2 := startHub(t, opts())
	require.NotEqual(t, node1.NodeID(), node2.NodeID())
	ctx := context.Background()

	alice := node1.NewSubscriber(testTopic, "alice", false)
	bob := node2.NewSubscriber(testTopic, "bob", false)
	require.NoError(t, node1.Register(ctx, alice))
	require.NoError(t, node2.Register(ctx, bob))
	require.Eventually(t, func() bool {
		return node1.HasSubscribers(testTopic) && node2.HasSubscribers(testTopic)
	}, time.Second, 5*time.Millisecond)

	require.NoError(t, node1.Track(ctx, alice, presenceOf("alice")))
	require.NoError(t, node2.Track(ctx, bob, presenceOf("bob")))

	require.Eventually(t, func() bool {
		return len(node1.PresenceState(testTopic)) == 2 && len(node2.PresenceState(testTopic)) == 2
	}, 2*time.Second, 10*time.Millisecond)

	require.NoError(t, node1.Broadcast(ctx, alice, "content_change", json.RawMessage(`{"userId":"alice","content":"x"}`)))
	f := nextOfType(t, bob, protocol.TypeBroadcast)
	assert.Equal(t, "alice", f.Sender)

	node1.Unregister(alice)
	require.Eventually(t, func() bool {
		_, ok := node2.PresenceState(testTopic)["alice"]
		return !ok
	}, 2*time.Second, 10*time.Millisecond)
}
