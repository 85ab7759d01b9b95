package main

import (
	"testing"

	"github.com/docopt/docopt-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vishnu-mouli-102408/sync-scribe/internal/domain"
)

func TestParticipants(t *testing.T) {
	view := map[string]domain.Presence{
		"bob":   {User: domain.PresenceUser{ID: "bob", Username: "bob"}},
		"alice": {User: domain.PresenceUser{ID: "alice", Username: "alice"}, Cursor: &domain.Cursor{X: 3, Y: 4.5}},
	}
	got := participants(view)
	assert.Equal(t, "alice "+domain.ColorFor("alice")+" @3,4.5 | bob "+domain.ColorFor("bob"), got)
}

func TestResolveDevIdentity(t *testing.T) {
	opts, err := docopt.ParseArgs(usage, []string{"list", "--user=u1", "--email=ann@example.com"}, CollabCtlVersion)
	require.NoError(t, err)

	id, err := resolveIdentity(opts)
	require.NoError(t, err)
	assert.Equal(t, "u1", id.user.ID)
	assert.Equal(t, "ann", id.user.Username)
	assert.Empty(t, id.token)

	apiURL, _ := opts.String("--api_url")
	assert.Equal(t, "http://localhost:8080", apiURL)
}

func TestResolveIdentityRequiresCredentials(t *testing.T) {
	t.Setenv("COLLAB_JWT", "")
	opts, err := docopt.ParseArgs(usage, []string{"list"}, CollabCtlVersion)
	require.NoError(t, err)

	_, err = resolveIdentity(opts)
	assert.Error(t, err)
}
