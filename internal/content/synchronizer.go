// Package content keeps the local copy of a document's content in step with
// the other participants of a session.
package content

import (
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/golang/glog"

	"github.com/vishnu-mouli-102408/sync-scribe/internal/protocol"
)

// DefaultDebounce is the idle window used to coalesce local edits.
const DefaultDebounce = 100 * time.Millisecond

// EchoState tracks whether the next debounced local edit is an echo of a
// remote change and must not be broadcast.
type EchoState int

const (
	EchoIdle EchoState = iota
	EchoAwaitingSuppression
)

func (s EchoState) String() string {
	switch s {
	case EchoIdle:
		return "idle"
	case EchoAwaitingSuppression:
		return "awaiting_echo_suppression"
	default:
		return "unknown"
	}
}

// Publisher sends an outbound content snapshot.
type Publisher func(msg protocol.ContentChange)

// Config configures a Synchronizer.
type Config struct {
	SelfID   string
	Initial  string
	Debounce time.Duration
	Clock    clock.Clock

	// Publish is called from the debounce timer with the latest content.
	Publish Publisher

	// Refresh is called after remote content replaced the local copy, so the
	// editing surface can redraw. It may call OnLocalEdit synchronously.
	Refresh func(content string)
}

// Synchronizer owns the locally visible content of one session.
type Synchronizer struct {
	mu       sync.Mutex
	selfID   string
	content  string
	echo     EchoState
	debounce time.Duration
	clock    clock.Clock
	timer    *clock.Timer
	gen      uint64
	closed   bool
	publish  Publisher
	refresh  func(string)
}

// New creates a Synchronizer.
func New(cfg Config) *Synchronizer {
	if cfg.Debounce <= 0 {
		cfg.Debounce = DefaultDebounce
	}
	if cfg.Clock == nil {
		cfg.Clock = clock.New()
	}
	return &Synchronizer{
		selfID:   cfg.SelfID,
		content:  cfg.Initial,
		debounce: cfg.Debounce,
		clock:    cfg.Clock,
		publish:  cfg.Publish,
		refresh:  cfg.Refresh,
	}
}

// OnLocalEdit records a local edit and (re)arms the debounce timer. Only the
// content present when the timer fires is broadcast.
func (s *Synchronizer) OnLocalEdit(newContent string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}

	s.content = newContent
	if s.timer != nil {
		s.timer.Stop()
	}
	s.gen++
	gen := s.gen
	s.timer = s.clock.AfterFunc(s.debounce, func() { s.fire(gen) })
}

// fire runs the debounced local-edit handler. A pending echo suppression is
// consumed here whether or not this firing was caused by the remote change.
func (s *Synchronizer) fire(gen uint64) {
	s.mu.Lock()
	if s.closed || gen != s.gen {
		s.mu.Unlock()
		return
	}
	s.timer = nil
	if s.echo == EchoAwaitingSuppression {
		s.echo = EchoIdle
		s.mu.Unlock()
		glog.V(2).Infof("content: suppressed echo broadcast for %s", s.selfID)
		return
	}
	msg := protocol.ContentChange{AuthorID: s.selfID, Content: s.content}
	publish := s.publish
	s.mu.Unlock()

	if publish != nil {
		publish(msg)
	}
}

// OnRemoteMessage applies a content change received from the topic. Changes
// authored by the local user are ignored.
func (s *Synchronizer) OnRemoteMessage(msg protocol.ContentChange) {
	if msg.AuthorID == s.selfID {
		glog.V(2).Infof("content: ignored own echo for %s", s.selfID)
		return
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.echo = EchoAwaitingSuppression
	s.content = msg.Content
	refresh := s.refresh
	s.mu.Unlock()

	if refresh != nil {
		refresh(msg.Content)
	}
}

// Content returns the locally visible content.
func (s *Synchronizer) Content() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.content
}

// EchoState returns the current echo suppression state.
func (s *Synchronizer) EchoState() EchoState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.echo
}

// Pending reports whether a debounced broadcast is armed.
func (s *Synchronizer) Pending() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.timer != nil
}

// Close cancels any pending broadcast. Further edits are kept out of the
// channel.
func (s *Synchronizer) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	s.gen++
	if s.timer != nil {
		s.timer.Stop()
		s.timer = nil
	}
}
