package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/vishnu-mouli-102408/sync-scribe/internal/domain"
)

// PostgresStore implements Store using a pgx connection pool.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore connects to Postgres and migrates the schema.
func NewPostgresStore(ctx context.Context, url string) (*PostgresStore, error) {
	pool, err := pgxpool.New(ctx, url)
	if err != nil {
		return nil, fmt.Errorf("unable to create connection pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("unable to reach database: %w", err)
	}

	store := &PostgresStore{pool: pool}
	if err := store.migrate(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}
	return store, nil
}

func (s *PostgresStore) migrate(ctx context.Context) error {
	migrations := []string{
		`CREATE TABLE IF NOT EXISTS users (
			id TEXT PRIMARY KEY,
			email TEXT NOT NULL UNIQUE,
			username TEXT NOT NULL,
			created_at TIMESTAMPTZ NOT NULL DEFAULT now()
		)`,
		`CREATE TABLE IF NOT EXISTS documents (
			id TEXT PRIMARY KEY,
			owner_id TEXT NOT NULL REFERENCES users(id),
			content TEXT NOT NULL DEFAULT '',
			version INTEGER NOT NULL DEFAULT 1,
			last_edited_by TEXT,
			created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
			updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
		)`,
		`CREATE INDEX IF NOT EXISTS idx_documents_owner ON documents(owner_id, updated_at)`,
		`CREATE TABLE IF NOT EXISTS document_shares (
			id TEXT PRIMARY KEY,
			document_id TEXT NOT NULL REFERENCES documents(id) ON DELETE CASCADE,
			user_id TEXT NOT NULL REFERENCES users(id),
			created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
			UNIQUE (document_id, user_id)
		)`,
		`CREATE INDEX IF NOT EXISTS idx_document_shares_user ON document_shares(user_id)`,
	}
	for _, m := range migrations {
		if _, err := s.pool.Exec(ctx, m); err != nil {
			return err
		}
	}
	return nil
}

// Close closes the pool.
func (s *PostgresStore) Close() error {
	s.pool.Close()
	return nil
}

// UpsertUser inserts the user or refreshes its email and username.
func (s *PostgresStore) UpsertUser(ctx context.Context, user *domain.User) (*domain.User, error) {
	createdAt := user.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}
	var u domain.User
	err := s.pool.QueryRow(ctx,
		`INSERT INTO users (id, email, username, created_at) VALUES ($1, $2, $3, $4)
		 ON CONFLICT (id) DO UPDATE SET email = EXCLUDED.email, username = EXCLUDED.username
		 RETURNING id, email, username, created_at`,
		user.ID, user.Email, user.Username, createdAt).Scan(&u.ID, &u.Email, &u.Username, &u.CreatedAt)
	if err != nil {
		return nil, err
	}
	return &u, nil
}

// GetUser retrieves a user by ID.
func (s *PostgresStore) GetUser(ctx context.Context, userID string) (*domain.User, error) {
	return scanPgUser(s.pool.QueryRow(ctx,
		`SELECT id, email, username, created_at FROM users WHERE id = $1`, userID))
}

// GetUserByEmail retrieves a user by email.
func (s *PostgresStore) GetUserByEmail(ctx context.Context, email string) (*domain.User, error) {
	return scanPgUser(s.pool.QueryRow(ctx,
		`SELECT id, email, username, created_at FROM users WHERE email = $1`, email))
}

func scanPgUser(row pgx.Row) (*domain.User, error) {
	var u domain.User
	err := row.Scan(&u.ID, &u.Email, &u.Username, &u.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &u, nil
}

// CreateDocument creates a new document.
func (s *PostgresStore) CreateDocument(ctx context.Context, doc *domain.Document) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO documents (id, owner_id, content, version, last_edited_by, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, NULLIF($5, ''), $6, $7)`,
		doc.ID, doc.OwnerID, doc.Content, doc.Version, doc.LastEditedBy, doc.CreatedAt, doc.UpdatedAt)
	return err
}

const pgDocumentColumns = `id, owner_id, content, version, COALESCE(last_edited_by, ''), created_at, updated_at`

func scanPgDocument(row pgx.Row) (*domain.Document, error) {
	var doc domain.Document
	if err := row.Scan(&doc.ID, &doc.OwnerID, &doc.Content, &doc.Version, &doc.LastEditedBy, &doc.CreatedAt, &doc.UpdatedAt); err != nil {
		return nil, err
	}
	return &doc, nil
}

// GetDocument retrieves a document with its shares.
func (s *PostgresStore) GetDocument(ctx context.Context, documentID string) (*domain.Document, error) {
	doc, err := scanPgDocument(s.pool.QueryRow(ctx,
		`SELECT `+pgDocumentColumns+` FROM documents WHERE id = $1`, documentID))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	shares, err := s.ListShares(ctx, documentID)
	if err != nil {
		return nil, err
	}
	doc.Shares = shares
	return doc, nil
}

// ListDocumentsForUser lists documents the user owns or has been shared,
// most recently updated first.
func (s *PostgresStore) ListDocumentsForUser(ctx context.Context, userID string) ([]domain.Document, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+pgDocumentColumns+` FROM documents
		 WHERE owner_id = $1 OR id IN (SELECT document_id FROM document_shares WHERE user_id = $1)
		 ORDER BY updated_at DESC`,
		userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var docs []domain.Document
	for rows.Next() {
		doc, err := scanPgDocument(rows)
		if err != nil {
			return nil, err
		}
		docs = append(docs, *doc)
	}
	return docs, rows.Err()
}

// UpdateDocumentContent replaces the content, bumps the version by one and
// records the editor. It returns nil, nil if the document does not exist.
func (s *PostgresStore) UpdateDocumentContent(ctx context.Context, documentID, content, editorID string) (*domain.Document, error) {
	doc, err := scanPgDocument(s.pool.QueryRow(ctx,
		`UPDATE documents SET content = $1, version = version + 1, last_edited_by = $2, updated_at = now()
		 WHERE id = $3
		 RETURNING `+pgDocumentColumns,
		content, editorID, documentID))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return doc, nil
}

// DeleteDocument deletes a document; shares cascade.
func (s *PostgresStore) DeleteDocument(ctx context.Context, documentID string) (bool, error) {
	tag, err := s.pool.Exec(ctx, `DELETE FROM documents WHERE id = $1`, documentID)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() > 0, nil
}

// PutShare shares a document with a user. Sharing again is a no-op.
func (s *PostgresStore) PutShare(ctx context.Context, share *domain.Share) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO document_shares (id, document_id, user_id, created_at) VALUES ($1, $2, $3, $4)
		 ON CONFLICT (document_id, user_id) DO NOTHING`,
		share.ID, share.DocumentID, share.UserID, share.CreatedAt)
	return err
}

// ListShares lists a document's shares with the users they grant.
func (s *PostgresStore) ListShares(ctx context.Context, documentID string) ([]domain.Share, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT s.id, s.document_id, s.user_id, s.created_at, u.email, u.username, u.created_at
		 FROM document_shares s JOIN users u ON u.id = s.user_id
		 WHERE s.document_id = $1
		 ORDER BY s.created_at ASC`,
		documentID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var shares []domain.Share
	for rows.Next() {
		var sh domain.Share
		u := &domain.User{}
		if err := rows.Scan(&sh.ID, &sh.DocumentID, &sh.UserID, &sh.CreatedAt, &u.Email, &u.Username, &u.CreatedAt); err != nil {
			return nil, err
		}
		u.ID = sh.UserID
		sh.User = u
		shares = append(shares, sh)
	}
	return shares, rows.Err()
}

// DeleteShare revokes a user's share of a document.
func (s *PostgresStore) DeleteShare(ctx context.Context, documentID, userID string) (bool, error) {
	tag, err := s.pool.Exec(ctx,
		`DELETE FROM document_shares WHERE document_id = $1 AND user_id = $2`, documentID, userID)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() > 0, nil
}
