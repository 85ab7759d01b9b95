package protocol

import (
	"encoding/json"
	"fmt"

	"github.com/vishnu-mouli-102408/sync-scribe/internal/domain"
)

// Broadcast event names.
const (
	EventContentChange = "content_change"
	EventPresence      = "presence"
)

// Presence event kinds on the application presence channel.
const (
	PresenceTypeJoin   = "join"
	PresenceTypeLeave  = "leave"
	PresenceTypeUpdate = "update"
)

// Message is one of ContentChange, PresenceJoin, PresenceLeave or
// PresenceUpdate. The set is closed.
type Message interface {
	isMessage()
}

// ContentChange carries the full content snapshot of a local edit.
type ContentChange struct {
	AuthorID string `json:"userId"`
	Content  string `json:"content"`
}

// PresenceJoin announces a participant.
type PresenceJoin struct {
	Key      string          `json:"key"`
	Presence domain.Presence `json:"presence"`
}

// PresenceLeave removes a participant.
type PresenceLeave struct {
	Key string `json:"key"`
}

// PresenceUpdate replaces a participant's record, typically for a cursor move.
type PresenceUpdate struct {
	Key      string          `json:"key"`
	Presence domain.Presence `json:"presence"`
}

func (ContentChange) isMessage()  {}
func (PresenceJoin) isMessage()   {}
func (PresenceLeave) isMessage()  {}
func (PresenceUpdate) isMessage() {}

type presencePayload struct {
	Type     string           `json:"type"`
	Key      string           `json:"key"`
	Presence *domain.Presence `json:"presence,omitempty"`
}

// EncodeBroadcast returns the event name and payload for a message.
func EncodeBroadcast(msg Message) (string, json.RawMessage, error) {
	var (
		event string
		body  interface{}
	)
	switch m := msg.(type) {
	case ContentChange:
		event, body = EventContentChange, m
	case PresenceJoin:
		p := m.Presence
		event, body = EventPresence, presencePayload{Type: PresenceTypeJoin, Key: m.Key, Presence: &p}
	case PresenceLeave:
		event, body = EventPresence, presencePayload{Type: PresenceTypeLeave, Key: m.Key}
	case PresenceUpdate:
		p := m.Presence
		event, body = EventPresence, presencePayload{Type: PresenceTypeUpdate, Key: m.Key, Presence: &p}
	default:
		return "", nil, fmt.Errorf("unsupported broadcast message %T", msg)
	}

	payload, err := json.Marshal(body)
	if err != nil {
		return "", nil, err
	}
	return event, payload, nil
}

// DecodeBroadcast parses an event payload into its message variant.
func DecodeBroadcast(event string, payload json.RawMessage) (Message, error) {
	switch event {
	case EventContentChange:
		var m ContentChange
		if err := json.Unmarshal(payload, &m); err != nil {
			return nil, fmt.Errorf("invalid %s payload: %w", event, err)
		}
		return m, nil

	case EventPresence:
		var p presencePayload
		if err := json.Unmarshal(payload, &p); err != nil {
			return nil, fmt.Errorf("invalid %s payload: %w", event, err)
		}
		if p.Key == "" {
			return nil, fmt.Errorf("presence event without key")
		}
		switch p.Type {
		case PresenceTypeLeave:
			return PresenceLeave{Key: p.Key}, nil
		case PresenceTypeJoin, PresenceTypeUpdate:
			if p.Presence == nil {
				return nil, fmt.Errorf("presence %s without record", p.Type)
			}
			if p.Type == PresenceTypeJoin {
				return PresenceJoin{Key: p.Key, Presence: *p.Presence}, nil
			}
			return PresenceUpdate{Key: p.Key, Presence: *p.Presence}, nil
		default:
			return nil, fmt.Errorf("unknown presence type: %q", p.Type)
		}

	default:
		return nil, fmt.Errorf("unknown broadcast event: %q", event)
	}
}
