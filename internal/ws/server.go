// Package ws provides the realtime WebSocket endpoint in front of the hub.
package ws

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/golang/glog"
	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"

	"github.com/vishnu-mouli-102408/sync-scribe/internal/auth"
	"github.com/vishnu-mouli-102408/sync-scribe/internal/config"
	"github.com/vishnu-mouli-102408/sync-scribe/internal/domain"
	"github.com/vishnu-mouli-102408/sync-scribe/internal/hub"
	"github.com/vishnu-mouli-102408/sync-scribe/internal/protocol"
)

// Authorizer decides whether a user may join a document's topic.
type Authorizer interface {
	CanView(ctx context.Context, documentID, userID string) error
}

// Server handles WebSocket connections.
type Server struct {
	cfg      *config.Config
	hub      *hub.Hub
	authz    Authorizer
	upgrader websocket.Upgrader
}

// NewServer creates a new WebSocket server.
func NewServer(cfg *config.Config, h *hub.Hub, authz Authorizer) *Server {
	return &Server{
		cfg:   cfg,
		hub:   h,
		authz: authz,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(r *http.Request) bool {
				return true
			},
		},
	}
}

// conn is one client connection. It joins at most one topic.
type conn struct {
	ws   *websocket.Conn
	user *domain.User

	mu         sync.Mutex
	sub        *hub.Subscriber
	registered bool
	closed     bool

	// out carries frames that do not come from the hub.
	out chan []byte
	// ready is closed once sub is set.
	ready chan struct{}
}

// HandleWebSocket handles WebSocket upgrade and connection lifecycle.
func (s *Server) HandleWebSocket(c echo.Context) error {
	user := auth.UserFromContext(c)
	if user == nil {
		return c.JSON(http.StatusUnauthorized, map[string]string{"error": "unauthenticated"})
	}

	ws, err := s.upgrader.Upgrade(c.Response(), c.Request(), nil)
	if err != nil {
		glog.Warningf("ws: failed to upgrade: %v", err)
		return err
	}

	ws.SetReadLimit(s.cfg.MaxMessageSize)
	cn := &conn{ws: ws, user: user, out: make(chan []byte, 16), ready: make(chan struct{})}

	go s.writePump(cn)
	go s.readPump(cn)

	return nil
}

// readPump reads frames from the WebSocket connection.
func (s *Server) readPump(cn *conn) {
	defer s.release(cn)

	cn.ws.SetReadDeadline(time.Now().Add(s.cfg.ReadTimeout))
	cn.ws.SetPongHandler(func(string) error {
		cn.ws.SetReadDeadline(time.Now().Add(s.cfg.ReadTimeout))
		return nil
	})

	for {
		_, message, err := cn.ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseAbnormalClosure) {
				glog.Warningf("ws: read error for %s: %v", cn.user.ID, err)
			}
			return
		}
		if !s.handleMessage(cn, message) {
			return
		}
	}
}

// writePump writes frames to the WebSocket connection: first the
// connection's own frames, then the subscriber's once it is subscribed.
func (s *Server) writePump(cn *conn) {
	ticker := time.NewTicker(s.cfg.PingInterval)
	defer func() {
		ticker.Stop()
		cn.ws.Close()
	}()

	var send <-chan []byte
	out := cn.out
	ready := cn.ready
	for {
		select {
		case <-ready:
			ready = nil
			cn.mu.Lock()
			send = cn.sub.Send
			cn.mu.Unlock()

		case message, ok := <-out:
			if !ok {
				out = nil
				cn.mu.Lock()
				subscribed := cn.sub != nil
				cn.mu.Unlock()
				if !subscribed {
					s.writeClose(cn)
					return
				}
				continue
			}
			if !s.write(cn, message) {
				return
			}

		case message, ok := <-send:
			if !ok {
				// Hub closed the channel
				s.writeClose(cn)
				return
			}
			if !s.write(cn, message) {
				return
			}

		case <-ticker.C:
			cn.ws.SetWriteDeadline(time.Now().Add(s.cfg.WriteTimeout))
			if err := cn.ws.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (s *Server) write(cn *conn, message []byte) bool {
	cn.ws.SetWriteDeadline(time.Now().Add(s.cfg.WriteTimeout))
	if err := cn.ws.WriteMessage(websocket.TextMessage, message); err != nil {
		glog.Warningf("ws: failed to write to %s: %v", cn.user.ID, err)
		return false
	}
	return true
}

func (s *Server) writeClose(cn *conn) {
	cn.ws.SetWriteDeadline(time.Now().Add(s.cfg.WriteTimeout))
	cn.ws.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
}

// release leaves the topic and stops the write pump.
func (s *Server) release(cn *conn) {
	cn.mu.Lock()
	if cn.closed {
		cn.mu.Unlock()
		return
	}
	cn.closed = true
	sub, registered := cn.sub, cn.registered
	close(cn.out)
	cn.mu.Unlock()

	switch {
	case registered:
		s.hub.Unregister(sub)
	case sub != nil:
		close(sub.Send)
	}
}

// handleMessage dispatches one inbound frame. It returns false when the
// connection should be closed.
func (s *Server) handleMessage(cn *conn, data []byte) bool {
	var base protocol.BaseMessage
	if err := json.Unmarshal(data, &base); err != nil {
		s.sendError(cn, "", protocol.ErrorCodeInvalidMessage, "invalid JSON message")
		return true
	}

	switch base.Type {
	case protocol.TypeSubscribe:
		s.handleSubscribe(cn, data)
	case protocol.TypeTrack:
		s.handleTrack(cn, data)
	case protocol.TypeBroadcast:
		s.handleBroadcast(cn, data)
	case protocol.TypeUnsubscribe:
		return false
	default:
		s.sendError(cn, base.Ref, protocol.ErrorCodeInvalidMessage, "unknown message type: "+base.Type)
	}
	return true
}

func (s *Server) handleSubscribe(cn *conn, data []byte) {
	var msg protocol.SubscribeMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		s.sendError(cn, "", protocol.ErrorCodeInvalidMessage, "invalid subscribe message")
		return
	}

	cn.mu.Lock()
	already := cn.sub != nil
	cn.mu.Unlock()
	if already {
		s.sendError(cn, msg.Ref, protocol.ErrorCodeInvalidMessage, "already subscribed")
		return
	}

	documentID, ok := protocol.DocumentIDFromTopic(msg.Topic)
	if !ok {
		s.sendError(cn, msg.Ref, protocol.ErrorCodeInvalidMessage, "invalid topic: "+msg.Topic)
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := s.authz.CanView(ctx, documentID, cn.user.ID); err != nil {
		code := protocol.ErrorCodeInternalError
		switch {
		case errors.Is(err, domain.ErrAccessDenied), errors.Is(err, domain.ErrNotFound):
			code = protocol.ErrorCodeForbidden
		default:
			glog.Errorf("ws: access check failed for %s on %s: %v", cn.user.ID, documentID, err)
		}
		s.sendError(cn, msg.Ref, code, err.Error())
		return
	}

	// The presence key is always the authenticated user.
	sub := s.hub.NewSubscriber(msg.Topic, cn.user.ID, msg.Self)

	cn.mu.Lock()
	if cn.closed {
		cn.mu.Unlock()
		close(sub.Send)
		return
	}
	cn.sub = sub
	close(cn.ready)
	cn.mu.Unlock()

	if err := s.hub.Register(ctx, sub); err != nil {
		glog.Errorf("ws: failed to register %s on %s: %v", cn.user.ID, msg.Topic, err)
		s.sendError(cn, msg.Ref, protocol.ErrorCodeInternalError, "subscribe failed")
		return
	}
	cn.mu.Lock()
	cn.registered = true
	cn.mu.Unlock()

	ack, err := json.Marshal(protocol.SubscribedMessage{
		BaseMessage: protocol.BaseMessage{
			Type:  protocol.TypeSubscribed,
			Ts:    time.Now().UnixMilli(),
			Ref:   msg.Ref,
			Topic: msg.Topic,
		},
		SubscriberID: sub.ID,
	})
	if err != nil {
		glog.Errorf("ws: failed to encode subscribed ack: %v", err)
		return
	}
	s.enqueue(cn, ack)

	glog.Infof("ws: %s subscribed to %s", cn.user.ID, msg.Topic)
}

func (s *Server) handleTrack(cn *conn, data []byte) {
	var msg protocol.TrackMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		s.sendError(cn, "", protocol.ErrorCodeInvalidMessage, "invalid track message")
		return
	}
	sub := s.subscriber(cn)
	if sub == nil {
		s.sendError(cn, msg.Ref, protocol.ErrorCodeSubscriptionNeeded, "must subscribe first")
		return
	}

	p := msg.Presence
	p.User.ID = cn.user.ID
	if p.LastSeen == 0 {
		p.LastSeen = time.Now().UnixMilli()
	}
	if err := s.hub.Track(context.Background(), sub, p); err != nil {
		glog.Warningf("ws: track failed for %s: %v", cn.user.ID, err)
	}
}

func (s *Server) handleBroadcast(cn *conn, data []byte) {
	var msg protocol.BroadcastFrame
	if err := json.Unmarshal(data, &msg); err != nil {
		s.sendError(cn, "", protocol.ErrorCodeInvalidMessage, "invalid broadcast message")
		return
	}
	sub := s.subscriber(cn)
	if sub == nil {
		s.sendError(cn, msg.Ref, protocol.ErrorCodeSubscriptionNeeded, "must subscribe first")
		return
	}
	if msg.Event == "" {
		s.sendError(cn, msg.Ref, protocol.ErrorCodeInvalidMessage, "event is required")
		return
	}
	decoded, err := protocol.DecodeBroadcast(msg.Event, msg.Payload)
	if err != nil {
		s.sendError(cn, msg.Ref, protocol.ErrorCodeInvalidMessage, err.Error())
		return
	}
	if !speaksFor(decoded, cn.user.ID) {
		glog.Warningf("ws: %s sent a %s for another participant", cn.user.ID, msg.Event)
		s.sendError(cn, msg.Ref, protocol.ErrorCodeForbidden, "broadcast must be authored by the sender")
		return
	}
	if err := s.hub.Broadcast(context.Background(), sub, msg.Event, msg.Payload); err != nil {
		glog.Warningf("ws: broadcast failed for %s: %v", cn.user.ID, err)
	}
}

// speaksFor reports whether every identity msg names is userID.
func speaksFor(msg protocol.Message, userID string) bool {
	switch m := msg.(type) {
	case protocol.ContentChange:
		return m.AuthorID == userID
	case protocol.PresenceJoin:
		return m.Key == userID && m.Presence.User.ID == userID
	case protocol.PresenceUpdate:
		return m.Key == userID && m.Presence.User.ID == userID
	case protocol.PresenceLeave:
		return m.Key == userID
	default:
		return false
	}
}

// subscriber returns the connection's registered subscriber, or nil.
func (s *Server) subscriber(cn *conn) *hub.Subscriber {
	cn.mu.Lock()
	defer cn.mu.Unlock()
	if !cn.registered {
		return nil
	}
	return cn.sub
}

// sendError sends an error frame to the connection.
func (s *Server) sendError(cn *conn, ref, code, message string) {
	data, err := json.Marshal(protocol.ErrorMessage{
		BaseMessage: protocol.BaseMessage{
			Type: protocol.TypeError,
			Ts:   time.Now().UnixMilli(),
			Ref:  ref,
		},
		Code:    code,
		Message: message,
	})
	if err != nil {
		return
	}
	s.enqueue(cn, data)
}

// enqueue queues a frame that does not come from the hub.
func (s *Server) enqueue(cn *conn, data []byte) {
	cn.mu.Lock()
	defer cn.mu.Unlock()
	if cn.closed {
		return
	}
	select {
	case cn.out <- data:
	default:
		glog.Warningf("ws: dropping frame for %s", cn.user.ID)
	}
}
