package protocol

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vishnu-mouli-102408/sync-scribe/internal/domain"
)

func TestContentChangeWireShape(t *testing.T) {
	event, payload, err := EncodeBroadcast(ContentChange{AuthorID: "u1", Content: "Hello"})
	require.NoError(t, err)
	assert.Equal(t, EventContentChange, event)
	assert.JSONEq(t, `{"userId":"u1","content":"Hello"}`, string(payload))
}

func TestPresenceEventsShareOneChannel(t *testing.T) {
	p := domain.Presence{
		User:     domain.PresenceUser{ID: "u1", Email: "a@x.io", Username: "a"},
		Cursor:   &domain.Cursor{X: 10, Y: 20},
		LastSeen: 1700000000000,
	}

	event, payload, err := EncodeBroadcast(PresenceUpdate{Key: "u1", Presence: p})
	require.NoError(t, err)
	assert.Equal(t, EventPresence, event)

	var raw map[string]interface{}
	require.NoError(t, json.Unmarshal(payload, &raw))
	assert.Equal(t, "update", raw["type"])
	assert.Equal(t, "u1", raw["key"])

	msg, err := DecodeBroadcast(event, payload)
	require.NoError(t, err)
	upd, ok := msg.(PresenceUpdate)
	require.True(t, ok, "expected PresenceUpdate, got %T", msg)
	require.NotNil(t, upd.Presence.Cursor)
	assert.Equal(t, 10.0, upd.Presence.Cursor.X)

	event, payload, err = EncodeBroadcast(PresenceLeave{Key: "u1"})
	require.NoError(t, err)
	assert.JSONEq(t, `{"type":"leave","key":"u1"}`, string(payload))
	msg, err = DecodeBroadcast(event, payload)
	require.NoError(t, err)
	assert.Equal(t, PresenceLeave{Key: "u1"}, msg)
}

func TestDecodeBroadcastRejectsUnknown(t *testing.T) {
	_, err := DecodeBroadcast("cursor_move", json.RawMessage(`{}`))
	assert.Error(t, err)

	_, err = DecodeBroadcast(EventPresence, json.RawMessage(`{"type":"wave","key":"u1"}`))
	assert.Error(t, err)

	_, err = DecodeBroadcast(EventPresence, json.RawMessage(`{"type":"join","key":"u1"}`))
	assert.Error(t, err, "join without a record")

	_, err = DecodeBroadcast(EventPresence, json.RawMessage(`{"type":"leave"}`))
	assert.Error(t, err, "leave without a key")
}

func TestTopic(t *testing.T) {
	assert.Equal(t, "document:d1", Topic("d1"))

	id, ok := DocumentIDFromTopic("document:d1")
	assert.True(t, ok)
	assert.Equal(t, "d1", id)

	_, ok = DocumentIDFromTopic("room:d1")
	assert.False(t, ok)
	_, ok = DocumentIDFromTopic("document:")
	assert.False(t, ok)
}
