package policy

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultPolicy(t *testing.T) {
	ctx := context.Background()
	engine, err := NewEngine(ctx, DefaultPolicy)
	require.NoError(t, err)

	doc := Input{OwnerID: "owner", SharedWith: []string{"friend"}}
	cases := []struct {
		user   string
		action string
		want   bool
	}{
		{"owner", ActionRead, true},
		{"owner", ActionWrite, true},
		{"owner", ActionDelete, true},
		{"owner", ActionShare, true},
		{"friend", ActionRead, true},
		{"friend", ActionWrite, true},
		{"friend", ActionDelete, false},
		{"friend", ActionShare, false},
		{"stranger", ActionRead, false},
		{"stranger", ActionWrite, false},
	}
	for _, tc := range cases {
		in := doc
		in.UserID = tc.user
		in.Action = tc.action
		got, err := engine.Allowed(ctx, in)
		require.NoError(t, err)
		assert.Equal(t, tc.want, got, "%s %s", tc.user, tc.action)
	}
}

func TestNilSharesDeny(t *testing.T) {
	ctx := context.Background()
	engine, err := NewEngine(ctx, DefaultPolicy)
	require.NoError(t, err)

	decision, err := engine.Evaluate(ctx, Input{Action: ActionRead, UserID: "u", OwnerID: "o"})
	require.NoError(t, err)
	assert.Equal(t, DecisionDeny, decision)
}

func TestInvalidPolicy(t *testing.T) {
	_, err := NewEngine(context.Background(), "package broken\n decision = {")
	assert.Error(t, err)
}
