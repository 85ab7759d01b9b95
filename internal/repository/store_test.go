package store

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vishnu-mouli-102408/sync-scribe/internal/domain"
)

func TestOpenSelectsSQLite(t *testing.T) {
	s, err := Open(context.Background(), ":memory:")
	require.NoError(t, err)
	defer s.Close()
	assert.IsType(t, &SQLiteStore{}, s)
}

// TestPostgresStore runs against TEST_POSTGRES_URL when it is set.
func TestPostgresStore(t *testing.T) {
	url := os.Getenv("TEST_POSTGRES_URL")
	if url == "" {
		t.Skip("TEST_POSTGRES_URL not set")
	}
	ctx := context.Background()

	s, err := Open(ctx, url)
	require.NoError(t, err)
	defer s.Close()
	require.IsType(t, &PostgresStore{}, s)

	suffix := uuid.NewString()
	owner := &domain.User{ID: "owner-" + suffix, Email: "owner-" + suffix + "@example.com", Username: "owner"}
	friend := &domain.User{ID: "friend-" + suffix, Email: "friend-" + suffix + "@example.com", Username: "friend"}
	for _, u := range []*domain.User{owner, friend} {
		_, err := s.UpsertUser(ctx, u)
		require.NoError(t, err)
	}

	now := time.Now().UTC()
	doc := &domain.Document{ID: "doc-" + suffix, OwnerID: owner.ID, Version: 1, CreatedAt: now, UpdatedAt: now}
	require.NoError(t, s.CreateDocument(ctx, doc))

	updated, err := s.UpdateDocumentContent(ctx, doc.ID, "hello", friend.ID)
	require.NoError(t, err)
	require.NotNil(t, updated)
	assert.Equal(t, 2, updated.Version)
	assert.Equal(t, friend.ID, updated.LastEditedBy)

	missing, err := s.UpdateDocumentContent(ctx, "nope-"+suffix, "x", owner.ID)
	require.NoError(t, err)
	assert.Nil(t, missing)

	require.NoError(t, s.PutShare(ctx, &domain.Share{ID: uuid.NewString(), DocumentID: doc.ID, UserID: friend.ID, CreatedAt: now}))
	require.NoError(t, s.PutShare(ctx, &domain.Share{ID: uuid.NewString(), DocumentID: doc.ID, UserID: friend.ID, CreatedAt: now}))
	shares, err := s.ListShares(ctx, doc.ID)
	require.NoError(t, err)
	require.Len(t, shares, 1)
	require.NotNil(t, shares[0].User)
	assert.Equal(t, friend.Email, shares[0].User.Email)

	docs, err := s.ListDocumentsForUser(ctx, friend.ID)
	require.NoError(t, err)
	require.Len(t, docs, 1)

	removed, err := s.DeleteShare(ctx, doc.ID, friend.ID)
	require.NoError(t, err)
	assert.True(t, removed)

	deleted, err := s.DeleteDocument(ctx, doc.ID)
	require.NoError(t, err)
	assert.True(t, deleted)
	got, err := s.GetDocument(ctx, doc.ID)
	require.NoError(t, err)
	assert.Nil(t, got)
}
