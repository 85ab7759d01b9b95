// Package realtime is the client side of the topic transport: a Channel
// subscribes to one topic, tracks a presence record on it and exchanges
// broadcast messages with the other subscribers.
package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/golang/glog"

	"github.com/vishnu-mouli-102408/sync-scribe/internal/domain"
	"github.com/vishnu-mouli-102408/sync-scribe/internal/protocol"
)

var (
	ErrNotSubscribed = errors.New("channel not subscribed")
	ErrClosed        = errors.New("channel closed")
)

// RemoteError is an error frame returned by the server.
type RemoteError struct {
	Code    string
	Message string
}

func (e *RemoteError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Is maps forbidden frames to domain.ErrAccessDenied.
func (e *RemoteError) Is(target error) bool {
	return target == domain.ErrAccessDenied && e.Code == protocol.ErrorCodeForbidden
}

// ChannelOptions configures a subscription.
type ChannelOptions struct {
	PresenceKey string // normally the user id
	Self        bool   // receive own broadcasts
}

// Handlers receive channel events. They are called from the channel's
// receive goroutine, one at a time.
type Handlers struct {
	// OnSync receives every full presence snapshot.
	OnSync func(state map[string]domain.Presence)
	// OnMessage receives decoded broadcast messages.
	OnMessage func(msg protocol.Message)
}

// Adapter creates channels.
type Adapter interface {
	Channel(topic string, opts ChannelOptions) Channel
}

// Channel is one topic subscription. Subscribe may be called once;
// Unsubscribe is the leave signal and is final.
type Channel interface {
	Subscribe(ctx context.Context, h Handlers) error
	Track(ctx context.Context, p domain.Presence) error
	Send(ctx context.Context, msg protocol.Message) error
	Unsubscribe() error
}

// dispatch decodes one server frame and hands it to the handlers.
func dispatch(topic string, data []byte, h Handlers) {
	var base protocol.BaseMessage
	if err := json.Unmarshal(data, &base); err != nil {
		glog.Warningf("realtime: invalid frame on %s: %v", topic, err)
		return
	}

	switch base.Type {
	case protocol.TypePresenceState:
		var msg protocol.PresenceStateMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			glog.Warningf("realtime: invalid presence_state on %s: %v", topic, err)
			return
		}
		if h.OnSync != nil {
			h.OnSync(msg.State)
		}

	case protocol.TypeBroadcast:
		var frame protocol.BroadcastFrame
		if err := json.Unmarshal(data, &frame); err != nil {
			glog.Warningf("realtime: invalid broadcast on %s: %v", topic, err)
			return
		}
		msg, err := protocol.DecodeBroadcast(frame.Event, frame.Payload)
		if err != nil {
			glog.V(1).Infof("realtime: ignoring broadcast on %s: %v", topic, err)
			return
		}
		if h.OnMessage != nil {
			h.OnMessage(msg)
		}

	case protocol.TypeError:
		var msg protocol.ErrorMessage
		if err := json.Unmarshal(data, &msg); err == nil {
			glog.Warningf("realtime: server error on %s: %s: %s", topic, msg.Code, msg.Message)
		}

	case protocol.TypeSubscribed:
		// Handled by Subscribe.

	default:
		glog.V(1).Infof("realtime: unknown frame type %q on %s", base.Type, topic)
	}
}
