// Package store persists users, documents and shares.
package store

import (
	"context"
	"fmt"
	"strings"

	"github.com/vishnu-mouli-102408/sync-scribe/internal/domain"
)

// Store defines the interface for durable document storage. Get methods
// return nil, nil when the record does not exist.
type Store interface {
	// User operations
	UpsertUser(ctx context.Context, user *domain.User) (*domain.User, error)
	GetUser(ctx context.Context, userID string) (*domain.User, error)
	GetUserByEmail(ctx context.Context, email string) (*domain.User, error)

	// Document operations
	CreateDocument(ctx context.Context, doc *domain.Document) error
	GetDocument(ctx context.Context, documentID string) (*domain.Document, error)
	ListDocumentsForUser(ctx context.Context, userID string) ([]domain.Document, error)
	UpdateDocumentContent(ctx context.Context, documentID, content, editorID string) (*domain.Document, error)
	DeleteDocument(ctx context.Context, documentID string) (bool, error)

	// Share operations
	PutShare(ctx context.Context, share *domain.Share) error
	ListShares(ctx context.Context, documentID string) ([]domain.Share, error)
	DeleteShare(ctx context.Context, documentID, userID string) (bool, error)

	Close() error
}

// Open opens the store named by dsn: a postgres:// or postgresql:// URL
// selects Postgres, anything else is a SQLite DSN.
func Open(ctx context.Context, dsn string) (Store, error) {
	if strings.HasPrefix(dsn, "postgres://") || strings.HasPrefix(dsn, "postgresql://") {
		return NewPostgresStore(ctx, dsn)
	}
	s, err := NewSQLiteStore(dsn)
	if err != nil {
		return nil, fmt.Errorf("sqlite: %w", err)
	}
	return s, nil
}
