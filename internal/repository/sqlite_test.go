package store

import (
	"context"
	"testing"
	"time"

	"github.com/vishnu-mouli-102408/sync-scribe/internal/domain"
)

func newTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	store, err := NewSQLiteStore(":memory:")
	if err != nil {
		t.Fatalf("failed to create store: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	return store
}

func seedUsers(t *testing.T, store *SQLiteStore, ids ...string) {
	t.Helper()
	for _, id := range ids {
		if _, err := store.UpsertUser(context.Background(), &domain.User{ID: id, Email: id + "@example.com", Username: id}); err != nil {
			t.Fatalf("UpsertUser(%s) failed: %v", id, err)
		}
	}
}

func TestSQLiteStoreUsers(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)

	u, err := store.UpsertUser(ctx, &domain.User{ID: "u1", Email: "ann@example.com", Username: "ann"})
	if err != nil {
		t.Fatalf("UpsertUser failed: %v", err)
	}
	if u.ID != "u1" || u.CreatedAt.IsZero() {
		t.Fatalf("unexpected user: %+v", u)
	}

	u, err = store.UpsertUser(ctx, &domain.User{ID: "u1", Email: "ann@example.org", Username: "annie"})
	if err != nil {
		t.Fatalf("UpsertUser (update) failed: %v", err)
	}
	if u.Email != "ann@example.org" || u.Username != "annie" {
		t.Fatalf("expected refreshed user, got %+v", u)
	}

	byEmail, err := store.GetUserByEmail(ctx, "ann@example.org")
	if err != nil {
		t.Fatalf("GetUserByEmail failed: %v", err)
	}
	if byEmail == nil || byEmail.ID != "u1" {
		t.Fatalf("unexpected user by email: %+v", byEmail)
	}

	missing, err := store.GetUser(ctx, "nobody")
	if err != nil {
		t.Fatalf("GetUser failed: %v", err)
	}
	if missing != nil {
		t.Fatalf("expected nil for missing user, got %+v", missing)
	}
}

func TestSQLiteStoreDocumentLifecycle(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	seedUsers(t, store, "owner", "friend")

	now := time.Now().UTC()
	doc := &domain.Document{ID: "d1", OwnerID: "owner", Content: "draft", Version: 1, CreatedAt: now, UpdatedAt: now}
	if err := store.CreateDocument(ctx, doc); err != nil {
		t.Fatalf("CreateDocument failed: %v", err)
	}

	got, err := store.GetDocument(ctx, "d1")
	if err != nil {
		t.Fatalf("GetDocument failed: %v", err)
	}
	if got == nil || got.Content != "draft" || got.Version != 1 || got.LastEditedBy != "" {
		t.Fatalf("unexpected document: %+v", got)
	}

	updated, err := store.UpdateDocumentContent(ctx, "d1", "second", "friend")
	if err != nil {
		t.Fatalf("UpdateDocumentContent failed: %v", err)
	}
	if updated.Version != 2 || updated.LastEditedBy != "friend" || updated.Content != "second" {
		t.Fatalf("unexpected update result: %+v", updated)
	}

	updated, err = store.UpdateDocumentContent(ctx, "d1", "third", "owner")
	if err != nil {
		t.Fatalf("UpdateDocumentContent failed: %v", err)
	}
	if updated.Version != 3 || updated.LastEditedBy != "owner" {
		t.Fatalf("expected version 3 by owner, got %+v", updated)
	}

	none, err := store.UpdateDocumentContent(ctx, "missing", "x", "owner")
	if err != nil || none != nil {
		t.Fatalf("expected nil, nil for missing document, got %+v, %v", none, err)
	}

	deleted, err := store.DeleteDocument(ctx, "d1")
	if err != nil || !deleted {
		t.Fatalf("DeleteDocument: deleted=%v err=%v", deleted, err)
	}
	got, err = store.GetDocument(ctx, "d1")
	if err != nil || got != nil {
		t.Fatalf("expected document gone, got %+v, %v", got, err)
	}
	deleted, _ = store.DeleteDocument(ctx, "d1")
	if deleted {
		t.Fatalf("expected second delete to report nothing deleted")
	}
}

func TestSQLiteStoreShares(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	seedUsers(t, store, "owner", "friend", "other")

	now := time.Now().UTC()
	for _, d := range []*domain.Document{
		{ID: "d1", OwnerID: "owner", Version: 1, CreatedAt: now, UpdatedAt: now},
		{ID: "d2", OwnerID: "other", Version: 1, CreatedAt: now, UpdatedAt: now.Add(time.Second)},
	} {
		if err := store.CreateDocument(ctx, d); err != nil {
			t.Fatalf("CreateDocument failed: %v", err)
		}
	}

	share := &domain.Share{ID: "s1", DocumentID: "d1", UserID: "friend", CreatedAt: now}
	if err := store.PutShare(ctx, share); err != nil {
		t.Fatalf("PutShare failed: %v", err)
	}
	// Re-sharing is an upsert.
	if err := store.PutShare(ctx, &domain.Share{ID: "s2", DocumentID: "d1", UserID: "friend", CreatedAt: now}); err != nil {
		t.Fatalf("PutShare (again) failed: %v", err)
	}

	shares, err := store.ListShares(ctx, "d1")
	if err != nil {
		t.Fatalf("ListShares failed: %v", err)
	}
	if len(shares) != 1 || shares[0].ID != "s1" || shares[0].User == nil || shares[0].User.Email != "friend@example.com" {
		t.Fatalf("unexpected shares: %+v", shares)
	}

	doc, err := store.GetDocument(ctx, "d1")
	if err != nil {
		t.Fatalf("GetDocument failed: %v", err)
	}
	if ids := doc.SharedWith(); len(ids) != 1 || ids[0] != "friend" {
		t.Fatalf("unexpected shared with: %v", ids)
	}

	docs, err := store.ListDocumentsForUser(ctx, "friend")
	if err != nil {
		t.Fatalf("ListDocumentsForUser failed: %v", err)
	}
	if len(docs) != 1 || docs[0].ID != "d1" {
		t.Fatalf("expected shared document only, got %+v", docs)
	}

	if err := store.PutShare(ctx, &domain.Share{ID: "s3", DocumentID: "d2", UserID: "owner", CreatedAt: now}); err != nil {
		t.Fatalf("PutShare failed: %v", err)
	}
	docs, err = store.ListDocumentsForUser(ctx, "owner")
	if err != nil {
		t.Fatalf("ListDocumentsForUser failed: %v", err)
	}
	if len(docs) != 2 || docs[0].ID != "d2" {
		t.Fatalf("expected owned and shared documents newest first, got %+v", docs)
	}

	removed, err := store.DeleteShare(ctx, "d1", "friend")
	if err != nil || !removed {
		t.Fatalf("DeleteShare: removed=%v err=%v", removed, err)
	}
	docs, _ = store.ListDocumentsForUser(ctx, "friend")
	if len(docs) != 0 {
		t.Fatalf("expected no documents after unshare, got %+v", docs)
	}
}
