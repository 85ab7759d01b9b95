package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/golang/glog"
	"github.com/gorilla/websocket"
	"github.com/oklog/ulid/v2"

	"github.com/vishnu-mouli-102408/sync-scribe/internal/domain"
	"github.com/vishnu-mouli-102408/sync-scribe/internal/protocol"
)

const writeTimeout = 10 * time.Second

// WebSocketAdapter opens one server connection per channel.
type WebSocketAdapter struct {
	// URL of the server's /ws endpoint, ws:// or wss://.
	URL string
	// Header is sent with the upgrade request, e.g. Authorization.
	Header http.Header
	Dialer *websocket.Dialer
}

// NewWebSocketAdapter creates an adapter that authenticates with a bearer
// token. An empty token sends no Authorization header.
func NewWebSocketAdapter(wsURL, token string) *WebSocketAdapter {
	header := http.Header{}
	if token != "" {
		header.Set("Authorization", "Bearer "+token)
	}
	return &WebSocketAdapter{URL: wsURL, Header: header, Dialer: websocket.DefaultDialer}
}

// WebSocketURL converts an http(s) base URL to the server's /ws endpoint.
func WebSocketURL(baseURL string) (string, error) {
	u, err := url.Parse(baseURL)
	if err != nil {
		return "", err
	}
	switch u.Scheme {
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	case "ws", "wss":
	default:
		return "", fmt.Errorf("unsupported scheme %q", u.Scheme)
	}
	u.Path = "/ws"
	return u.String(), nil
}

// Channel implements Adapter.
func (a *WebSocketAdapter) Channel(topic string, opts ChannelOptions) Channel {
	return &wsChannel{adapter: a, topic: topic, opts: opts}
}

type wsChannel struct {
	adapter *WebSocketAdapter
	topic   string
	opts    ChannelOptions

	mu     sync.Mutex // guards conn writes and state
	conn   *websocket.Conn
	closed bool
}

func (c *wsChannel) Subscribe(ctx context.Context, h Handlers) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return ErrClosed
	}
	if c.conn != nil {
		c.mu.Unlock()
		return nil
	}
	c.mu.Unlock()

	dialer := c.adapter.Dialer
	if dialer == nil {
		dialer = websocket.DefaultDialer
	}
	conn, resp, err := dialer.DialContext(ctx, c.adapter.URL, c.adapter.Header)
	if err != nil {
		if resp != nil {
			return fmt.Errorf("dial %s: %w (status %d)", c.adapter.URL, err, resp.StatusCode)
		}
		return fmt.Errorf("dial %s: %w", c.adapter.URL, err)
	}

	ref := ulid.Make().String()
	early, err := c.handshake(ctx, conn, ref)
	if err != nil {
		conn.Close()
		return err
	}

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		conn.Close()
		return ErrClosed
	}
	c.conn = conn
	c.mu.Unlock()

	for _, data := range early {
		dispatch(c.topic, data, h)
	}
	go c.readLoop(conn, h)
	return nil
}

// handshake sends the subscribe frame and waits for its acknowledgement.
// Topic frames that arrive before the acknowledgement are returned in order.
func (c *wsChannel) handshake(ctx context.Context, conn *websocket.Conn, ref string) ([][]byte, error) {
	sub := protocol.SubscribeMessage{
		BaseMessage: protocol.BaseMessage{
			Type:  protocol.TypeSubscribe,
			Ts:    time.Now().UnixMilli(),
			Ref:   ref,
			Topic: c.topic,
		},
		Key:  c.opts.PresenceKey,
		Self: c.opts.Self,
	}
	conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	if err := conn.WriteJSON(sub); err != nil {
		return nil, fmt.Errorf("send subscribe: %w", err)
	}

	if deadline, ok := ctx.Deadline(); ok {
		conn.SetReadDeadline(deadline)
	}
	stop := context.AfterFunc(ctx, func() {
		conn.SetReadDeadline(time.Now())
	})
	defer stop()

	var early [][]byte
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			return nil, fmt.Errorf("await subscribed: %w", err)
		}
		var base protocol.BaseMessage
		if err := json.Unmarshal(data, &base); err != nil {
			continue
		}
		switch base.Type {
		case protocol.TypeSubscribed:
			if base.Ref == ref {
				conn.SetReadDeadline(time.Time{})
				return early, nil
			}
		case protocol.TypeError:
			var msg protocol.ErrorMessage
			if err := json.Unmarshal(data, &msg); err != nil {
				return nil, fmt.Errorf("invalid error frame: %w", err)
			}
			if msg.Ref == ref || msg.Ref == "" {
				return nil, &RemoteError{Code: msg.Code, Message: msg.Message}
			}
		case protocol.TypePresenceState, protocol.TypeBroadcast:
			early = append(early, data)
		}
	}
}

func (c *wsChannel) readLoop(conn *websocket.Conn, h Handlers) {
	defer conn.Close()
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			c.mu.Lock()
			closed := c.closed
			c.mu.Unlock()
			if !closed && websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				glog.Warningf("realtime: connection for %s lost: %v", c.topic, err)
			}
			return
		}
		dispatch(c.topic, data, h)
	}
}

func (c *wsChannel) write(v interface{}) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return ErrClosed
	}
	if c.conn == nil {
		return ErrNotSubscribed
	}
	c.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	return c.conn.WriteJSON(v)
}

func (c *wsChannel) Track(ctx context.Context, p domain.Presence) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return c.write(protocol.TrackMessage{
		BaseMessage: protocol.BaseMessage{
			Type:  protocol.TypeTrack,
			Ts:    time.Now().UnixMilli(),
			Topic: c.topic,
		},
		Presence: p,
	})
}

func (c *wsChannel) Send(ctx context.Context, msg protocol.Message) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	event, payload, err := protocol.EncodeBroadcast(msg)
	if err != nil {
		return err
	}
	return c.write(protocol.BroadcastFrame{
		BaseMessage: protocol.BaseMessage{
			Type:  protocol.TypeBroadcast,
			Ts:    time.Now().UnixMilli(),
			Topic: c.topic,
		},
		Event:   event,
		Payload: payload,
	})
}

func (c *wsChannel) Unsubscribe() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil
	}
	c.closed = true
	if c.conn == nil {
		return nil
	}

	c.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	err := c.conn.WriteJSON(protocol.UnsubscribeMessage{
		BaseMessage: protocol.BaseMessage{
			Type:  protocol.TypeUnsubscribe,
			Ts:    time.Now().UnixMilli(),
			Topic: c.topic,
		},
	})
	closeErr := c.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
	if err == nil && closeErr != nil && !errors.Is(closeErr, websocket.ErrCloseSent) {
		err = closeErr
	}
	// The read loop closes the connection once the server answers.
	conn := c.conn
	time.AfterFunc(writeTimeout, func() { conn.Close() })
	return err
}
