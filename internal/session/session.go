// Package session runs one client's live editing session on a document:
// it subscribes to the document's topic, keeps the presence register and the
// content synchronizer fed, and saves through the persistence gateway.
package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/golang/glog"

	"github.com/vishnu-mouli-102408/sync-scribe/internal/content"
	"github.com/vishnu-mouli-102408/sync-scribe/internal/domain"
	"github.com/vishnu-mouli-102408/sync-scribe/internal/presence"
	"github.com/vishnu-mouli-102408/sync-scribe/internal/protocol"
	"github.com/vishnu-mouli-102408/sync-scribe/internal/realtime"
)

var (
	ErrSessionClosed = errors.New("session closed")
	ErrSessionExists = errors.New("session already open for document")
	ErrOffline       = errors.New("session has no live channel")
)

// DefaultSubscribeTimeout bounds the wait for a subscription.
const DefaultSubscribeTimeout = 10 * time.Second

const sendTimeout = 5 * time.Second

// Gateway is the durable document store as seen by a session.
type Gateway interface {
	Load(ctx context.Context, documentID, userID string) (*domain.ContentState, error)
	Save(ctx context.Context, documentID, userID, content string) (*domain.ContentState, error)
}

// State of a session.
type State int

const (
	StateIdle State = iota
	StateSubscribing
	StateActive
	StateDegraded
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateSubscribing:
		return "subscribing"
	case StateActive:
		return "active"
	case StateDegraded:
		return "degraded"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// Config configures a Manager.
type Config struct {
	Debounce         time.Duration
	SubscribeTimeout time.Duration
	Clock            clock.Clock
}

// Options carries the editing surface's callbacks for one session. They are
// called without session locks held.
type Options struct {
	// OnContent is called after remote content replaced the local copy.
	OnContent func(content string)
	// OnPresence is called with the participant view after every change.
	OnPresence func(view map[string]domain.Presence)
}

// Manager opens sessions for one viewing client.
type Manager struct {
	adapter realtime.Adapter
	gateway Gateway
	cfg     Config

	mu       sync.Mutex
	sessions map[string]*Session
	// opening holds documents whose Open has not finished loading.
	opening map[string]bool
}

// NewManager creates a Manager.
func NewManager(adapter realtime.Adapter, gateway Gateway, cfg Config) *Manager {
	if cfg.Debounce <= 0 {
		cfg.Debounce = content.DefaultDebounce
	}
	if cfg.SubscribeTimeout <= 0 {
		cfg.SubscribeTimeout = DefaultSubscribeTimeout
	}
	if cfg.Clock == nil {
		cfg.Clock = clock.New()
	}
	return &Manager{
		adapter:  adapter,
		gateway:  gateway,
		cfg:      cfg,
		sessions: make(map[string]*Session),
		opening:  make(map[string]bool),
	}
}

// Session is a live editing session on one document.
type Session struct {
	manager    *Manager
	documentID string
	self       domain.PresenceUser
	opts       Options

	register    *presence.Register
	contentSync *content.Synchronizer

	mu      sync.Mutex
	state   State
	channel realtime.Channel
	version int
}

// Open loads the document and joins its live topic. Load errors, including
// domain.ErrAccessDenied and domain.ErrNotFound, abort the open. Transport
// errors do not: the session is returned in StateDegraded and can still be
// edited and saved. The session is visible through Session once loaded; if
// it is closed before Open returns, Open returns ErrSessionClosed.
func (m *Manager) Open(ctx context.Context, documentID string, self domain.PresenceUser, opts Options) (*Session, error) {
	m.mu.Lock()
	if _, exists := m.sessions[documentID]; exists || m.opening[documentID] {
		m.mu.Unlock()
		return nil, fmt.Errorf("%s: %w", documentID, ErrSessionExists)
	}
	m.opening[documentID] = true
	m.mu.Unlock()

	initial, err := m.gateway.Load(ctx, documentID, self.ID)
	if err != nil {
		m.mu.Lock()
		delete(m.opening, documentID)
		m.mu.Unlock()
		return nil, fmt.Errorf("failed to load document: %w", err)
	}

	s := &Session{
		manager:    m,
		documentID: documentID,
		self:       self,
		opts:       opts,
		register:   presence.NewRegister(),
		state:      StateIdle,
		version:    initial.Version,
	}
	s.contentSync = content.New(content.Config{
		SelfID:   self.ID,
		Initial:  initial.Content,
		Debounce: m.cfg.Debounce,
		Clock:    m.cfg.Clock,
		Publish:  s.publishContent,
		Refresh:  s.refresh,
	})

	m.mu.Lock()
	delete(m.opening, documentID)
	m.sessions[documentID] = s
	m.mu.Unlock()

	if err := s.subscribe(ctx); err != nil {
		return nil, err
	}
	return s, nil
}

// Close closes s.
func (m *Manager) Close(s *Session) {
	s.Close()
}

// Session returns the open session for a document, or nil.
func (m *Manager) Session(documentID string) *Session {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.sessions[documentID]
}

func (m *Manager) forget(s *Session) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.sessions[s.documentID] == s {
		delete(m.sessions, s.documentID)
	}
}

// subscribe joins the topic. Transport failures degrade the session; it
// only fails when the session was closed meanwhile, in which case the
// channel is left again.
func (s *Session) subscribe(ctx context.Context) error {
	topic := protocol.Topic(s.documentID)
	ch := s.manager.adapter.Channel(topic, realtime.ChannelOptions{PresenceKey: s.self.ID})

	s.mu.Lock()
	if s.state != StateIdle {
		s.mu.Unlock()
		return ErrSessionClosed
	}
	s.state = StateSubscribing
	s.channel = ch
	s.mu.Unlock()

	subCtx, cancel := context.WithTimeout(ctx, s.manager.cfg.SubscribeTimeout)
	defer cancel()

	err := ch.Subscribe(subCtx, realtime.Handlers{
		OnSync:    s.onSync,
		OnMessage: s.onMessage,
	})
	if err != nil {
		if s.isClosed() {
			return ErrSessionClosed
		}
		s.degrade("subscribe", err)
		return nil
	}
	if s.isClosed() {
		s.leave(ch)
		return ErrSessionClosed
	}

	if err := ch.Track(subCtx, s.selfPresence(nil)); err != nil {
		if s.isClosed() {
			s.leave(ch)
			return ErrSessionClosed
		}
		s.degrade("track", err)
		return nil
	}

	s.mu.Lock()
	if s.state == StateSubscribing {
		s.state = StateActive
	}
	closed := s.state == StateClosed
	s.mu.Unlock()
	if closed {
		s.leave(ch)
		return ErrSessionClosed
	}
	glog.V(1).Infof("session: %s joined %s", s.self.ID, topic)
	return nil
}

// leave unsubscribes from ch, logging failures.
func (s *Session) leave(ch realtime.Channel) {
	if err := ch.Unsubscribe(); err != nil {
		glog.Warningf("session: unsubscribe from %s failed: %v", s.documentID, err)
	}
}

// degrade drops the live channel after a transport failure.
func (s *Session) degrade(op string, err error) {
	s.mu.Lock()
	if s.state == StateClosed || s.state == StateDegraded {
		s.mu.Unlock()
		return
	}
	s.state = StateDegraded
	ch := s.channel
	s.channel = nil
	s.mu.Unlock()

	glog.Warningf("session: %s on %s failed, continuing without live sync: %v", op, s.documentID, err)
	if ch != nil {
		s.leave(ch)
	}
}

func (s *Session) selfPresence(cursor *domain.Cursor) domain.Presence {
	return domain.Presence{
		User:     s.self,
		Cursor:   cursor,
		LastSeen: s.manager.cfg.Clock.Now().UnixMilli(),
	}
}

// liveChannel returns the channel when the session is active.
func (s *Session) liveChannel() (realtime.Channel, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	switch s.state {
	case StateClosed:
		return nil, ErrSessionClosed
	case StateActive:
		return s.channel, nil
	default:
		return nil, ErrOffline
	}
}

func (s *Session) isClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state == StateClosed
}

func (s *Session) onSync(state map[string]domain.Presence) {
	if s.isClosed() {
		return
	}
	s.register.ApplySnapshot(state)
	s.notifyPresence()
}

func (s *Session) onMessage(msg protocol.Message) {
	if s.isClosed() {
		return
	}
	switch m := msg.(type) {
	case protocol.ContentChange:
		s.contentSync.OnRemoteMessage(m)
		return
	case protocol.PresenceJoin:
		s.register.ApplyJoin(m.Key, m.Presence)
	case protocol.PresenceUpdate:
		s.register.ApplyUpdate(m.Key, m.Presence)
	case protocol.PresenceLeave:
		s.register.ApplyLeave(m.Key)
	default:
		glog.Warningf("session: unhandled message %T", msg)
		return
	}
	s.notifyPresence()
}

func (s *Session) notifyPresence() {
	if s.opts.OnPresence != nil {
		s.opts.OnPresence(s.register.CurrentView())
	}
}

func (s *Session) refresh(c string) {
	if s.opts.OnContent != nil {
		s.opts.OnContent(c)
	}
}

// publishContent sends a debounced local edit to the topic.
func (s *Session) publishContent(msg protocol.ContentChange) {
	ch, err := s.liveChannel()
	if err != nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), sendTimeout)
	defer cancel()
	if err := ch.Send(ctx, msg); err != nil {
		s.degrade("send", err)
	}
}

// DocumentID returns the session's document.
func (s *Session) DocumentID() string {
	return s.documentID
}

// State returns the session state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Edit records a local edit. It is broadcast once edits pause for the
// debounce window.
func (s *Session) Edit(newContent string) {
	s.contentSync.OnLocalEdit(newContent)
}

// Content returns the locally visible content.
func (s *Session) Content() string {
	return s.contentSync.Content()
}

// Participants returns the current presence view keyed by user id.
func (s *Session) Participants() map[string]domain.Presence {
	return s.register.CurrentView()
}

// Version returns the durable version last loaded or saved.
func (s *Session) Version() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.version
}

// MoveCursor re-tracks the local presence with a new cursor and announces
// the update to the other participants.
func (s *Session) MoveCursor(ctx context.Context, cursor *domain.Cursor) error {
	ch, err := s.liveChannel()
	if err != nil {
		return err
	}
	if cursor != nil {
		c := *cursor
		cursor = &c
	}
	p := s.selfPresence(cursor)
	if err := ch.Track(ctx, p); err != nil {
		s.degrade("track", err)
		return err
	}
	s.register.ApplyUpdate(s.self.ID, p)
	if err := ch.Send(ctx, protocol.PresenceUpdate{Key: s.self.ID, Presence: p}); err != nil {
		s.degrade("send", err)
		return err
	}
	s.notifyPresence()
	return nil
}

// Save writes the current content through the gateway. Results arriving
// after Close are discarded and ErrSessionClosed is returned.
func (s *Session) Save(ctx context.Context) (*domain.ContentState, error) {
	if s.isClosed() {
		return nil, ErrSessionClosed
	}
	state, err := s.manager.gateway.Save(ctx, s.documentID, s.self.ID, s.contentSync.Content())
	if err != nil {
		return nil, fmt.Errorf("failed to save document: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == StateClosed {
		return nil, ErrSessionClosed
	}
	s.version = state.Version
	return state, nil
}

// Close cancels any pending broadcast and leaves the topic. It is final.
func (s *Session) Close() {
	s.mu.Lock()
	if s.state == StateClosed {
		s.mu.Unlock()
		return
	}
	s.state = StateClosed
	ch := s.channel
	s.channel = nil
	s.mu.Unlock()

	s.contentSync.Close()
	if ch != nil {
		s.leave(ch)
	}
	s.manager.forget(s)
	glog.V(1).Infof("session: %s left %s", s.self.ID, s.documentID)
}
