package content

import (
	"sync"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vishnu-mouli-102408/sync-scribe/internal/protocol"
)

type outbox struct {
	mu   sync.Mutex
	sent []protocol.ContentChange
}

func (o *outbox) publish(msg protocol.ContentChange) {
	o.mu.Lock()
	o.sent = append(o.sent, msg)
	o.mu.Unlock()
}

func (o *outbox) messages() []protocol.ContentChange {
	o.mu.Lock()
	defer o.mu.Unlock()
	return append([]protocol.ContentChange(nil), o.sent...)
}

func (o *outbox) count() int {
	return len(o.messages())
}

func newTestSynchronizer(t *testing.T, refresh func(string)) (*Synchronizer, *clock.Mock, *outbox) {
	t.Helper()
	mock := clock.NewMock()
	out := &outbox{}
	s := New(Config{
		SelfID:   "alice",
		Initial:  "",
		Debounce: 100 * time.Millisecond,
		Clock:    mock,
		Publish:  out.publish,
		Refresh:  refresh,
	})
	t.Cleanup(s.Close)
	return s, mock, out
}

// settle gives timer callbacks started by the mock clock a chance to run.
func settle() {
	time.Sleep(20 * time.Millisecond)
}

func TestDebounceCoalescesBurst(t *testing.T) {
	s, mock, out := newTestSynchronizer(t, nil)

	for i, text := range []string{"H", "He", "Hel", "Hell", "Hello"} {
		s.OnLocalEdit(text)
		if i < 4 {
			mock.Add(20 * time.Millisecond)
		}
	}
	settle()
	assert.Equal(t, 0, out.count(), "nothing sent inside the idle window")

	mock.Add(100 * time.Millisecond)
	require.Eventually(t, func() bool { return out.count() == 1 }, time.Second, 5*time.Millisecond)

	settle()
	msgs := out.messages()
	require.Len(t, msgs, 1)
	assert.Equal(t, protocol.ContentChange{AuthorID: "alice", Content: "Hello"}, msgs[0])
	assert.Equal(t, "Hello", s.Content())
	assert.False(t, s.Pending())
}

func TestOwnEchoIsIgnored(t *testing.T) {
	refreshed := 0
	s, mock, out := newTestSynchronizer(t, func(string) { refreshed++ })

	s.OnLocalEdit("draft")
	mock.Add(100 * time.Millisecond)
	require.Eventually(t, func() bool { return out.count() == 1 }, time.Second, 5*time.Millisecond)

	// The transport hands our own broadcast back.
	s.OnRemoteMessage(out.messages()[0])
	mock.Add(time.Second)
	settle()

	assert.Equal(t, "draft", s.Content())
	assert.Equal(t, 0, refreshed)
	assert.Equal(t, EchoIdle, s.EchoState())
	assert.Equal(t, 1, out.count())
}

func TestRemoteChangeIsNotRebroadcast(t *testing.T) {
	var s *Synchronizer
	// The editing surface reports the redraw as an edit, as a rich text
	// editor's change handler does.
	s, mock, out := newTestSynchronizer(t, func(c string) { s.OnLocalEdit(c) })

	s.OnRemoteMessage(protocol.ContentChange{AuthorID: "bob", Content: "from bob"})
	assert.Equal(t, "from bob", s.Content())
	assert.Equal(t, EchoAwaitingSuppression, s.EchoState())
	assert.True(t, s.Pending())

	mock.Add(100 * time.Millisecond)
	require.Eventually(t, func() bool { return s.EchoState() == EchoIdle }, time.Second, 5*time.Millisecond)
	settle()
	assert.Equal(t, 0, out.count())

	// The next genuine edit goes out.
	s.OnLocalEdit("from bob, and alice")
	mock.Add(100 * time.Millisecond)
	require.Eventually(t, func() bool { return out.count() == 1 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, "from bob, and alice", out.messages()[0].Content)
}

func TestSuppressionConsumesNextFiringEvenWithoutEcho(t *testing.T) {
	s, mock, out := newTestSynchronizer(t, nil)

	s.OnRemoteMessage(protocol.ContentChange{AuthorID: "bob", Content: "v1"})
	assert.False(t, s.Pending(), "applying remote content arms no timer")

	s.OnLocalEdit("v1 edited")
	mock.Add(100 * time.Millisecond)
	require.Eventually(t, func() bool { return s.EchoState() == EchoIdle }, time.Second, 5*time.Millisecond)
	settle()
	assert.Equal(t, 0, out.count())
	assert.Equal(t, "v1 edited", s.Content())
}

func TestRemoteWinsOverPendingLocalEdit(t *testing.T) {
	s, mock, out := newTestSynchronizer(t, nil)

	s.OnLocalEdit("mine")
	s.OnRemoteMessage(protocol.ContentChange{AuthorID: "bob", Content: "theirs"})
	mock.Add(100 * time.Millisecond)
	settle()

	assert.Equal(t, "theirs", s.Content())
	assert.Equal(t, 0, out.count())
}

func TestCloseCancelsPendingBroadcast(t *testing.T) {
	s, mock, out := newTestSynchronizer(t, nil)

	s.OnLocalEdit("unsent")
	assert.True(t, s.Pending())
	s.Close()
	assert.False(t, s.Pending())

	mock.Add(time.Second)
	settle()
	assert.Equal(t, 0, out.count())

	s.OnLocalEdit("after close")
	s.OnRemoteMessage(protocol.ContentChange{AuthorID: "bob", Content: "late"})
	mock.Add(time.Second)
	settle()
	assert.Equal(t, 0, out.count())
	assert.Equal(t, "unsent", s.Content())
}

func TestEchoStateString(t *testing.T) {
	assert.Equal(t, "idle", EchoIdle.String())
	assert.Equal(t, "awaiting_echo_suppression", EchoAwaitingSuppression.String())
}
