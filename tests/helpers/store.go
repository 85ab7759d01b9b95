package helpers

import (
	"context"
	"testing"

	"github.com/vishnu-mouli-102408/sync-scribe/internal/domain"
	"github.com/vishnu-mouli-102408/sync-scribe/internal/policy"
	"github.com/vishnu-mouli-102408/sync-scribe/internal/repository"
)

func NewTestSQLiteStore(t *testing.T) *store.SQLiteStore {
	t.Helper()

	s, err := store.NewSQLiteStore(":memory:")
	if err != nil {
		t.Fatalf("failed to create sqlite store: %v", err)
	}

	t.Cleanup(func() {
		_ = s.Close()
	})

	return s
}

func NewTestPolicyEngine(t *testing.T) *policy.Engine {
	t.Helper()

	engine, err := policy.NewEngine(context.Background(), policy.DefaultPolicy)
	if err != nil {
		t.Fatalf("NewEngine failed: %v", err)
	}
	return engine
}

// SeedUsers stores users named by id, with email id@example.com.
func SeedUsers(t *testing.T, s store.Store, ids ...string) {
	t.Helper()

	for _, id := range ids {
		u := &domain.User{ID: id, Email: id + "@example.com", Username: id}
		if _, err := s.UpsertUser(context.Background(), u); err != nil {
			t.Fatalf("UpsertUser(%s) failed: %v", id, err)
		}
	}
}
