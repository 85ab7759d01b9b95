// Package protocol defines the realtime WebSocket protocol between clients
// and the topic hub, and the application broadcast messages carried on it.
package protocol

import (
	"encoding/json"
	"strings"

	"github.com/vishnu-mouli-102408/sync-scribe/internal/domain"
)

// TopicPrefix is the topic namespace for document sessions.
const TopicPrefix = "document:"

// Topic returns the topic name for a document.
func Topic(documentID string) string {
	return TopicPrefix + documentID
}

// DocumentIDFromTopic extracts the document id from a topic name.
func DocumentIDFromTopic(topic string) (string, bool) {
	if !strings.HasPrefix(topic, TopicPrefix) {
		return "", false
	}
	id := strings.TrimPrefix(topic, TopicPrefix)
	return id, id != ""
}

// Frame types from client to hub
const (
	TypeSubscribe   = "subscribe"
	TypeUnsubscribe = "unsubscribe"
	TypeTrack       = "track"
	TypeBroadcast   = "broadcast"
)

// Frame types from hub to client
const (
	TypeSubscribed    = "subscribed"
	TypePresenceState = "presence_state"
	TypeError         = "error"
)

// BaseMessage contains common fields for all frames.
type BaseMessage struct {
	Type  string `json:"type"`
	Ts    int64  `json:"ts"`
	Ref   string `json:"ref,omitempty"`
	Topic string `json:"topic,omitempty"`
}

// SubscribeMessage is sent by a client to join a topic.
type SubscribeMessage struct {
	BaseMessage
	Key  string `json:"key,omitempty"`  // presence key, normally the user id
	Self bool   `json:"self,omitempty"` // receive own broadcasts
}

// SubscribedMessage confirms a subscription.
type SubscribedMessage struct {
	BaseMessage
	SubscriberID string `json:"subscriber_id"`
}

// TrackMessage sets the sender's presence record on its topic.
type TrackMessage struct {
	BaseMessage
	Presence domain.Presence `json:"presence"`
}

// BroadcastFrame carries an application event to every subscriber of a topic.
type BroadcastFrame struct {
	BaseMessage
	Event   string          `json:"event"`
	Payload json.RawMessage `json:"payload"`
	Sender  string          `json:"sender,omitempty"`
}

// PresenceStateMessage is the authoritative presence snapshot of a topic.
type PresenceStateMessage struct {
	BaseMessage
	State map[string]domain.Presence `json:"state"`
}

// UnsubscribeMessage leaves the topic.
type UnsubscribeMessage struct {
	BaseMessage
}

// ErrorMessage is sent by the hub when a frame cannot be served.
type ErrorMessage struct {
	BaseMessage
	Code    string `json:"code"`
	Message string `json:"message"`
}

// Error codes
const (
	ErrorCodeInvalidMessage     = "invalid_message"
	ErrorCodeUnauthorized       = "unauthorized"
	ErrorCodeForbidden          = "forbidden"
	ErrorCodeSubscriptionNeeded = "subscription_required"
	ErrorCodeInternalError      = "internal_error"
)
