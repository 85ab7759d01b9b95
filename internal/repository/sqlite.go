package store

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/vishnu-mouli-102408/sync-scribe/internal/domain"
)

// SQLiteStore implements Store using SQLite.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore creates a new SQLite store.
func NewSQLiteStore(dsn string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// For in-memory SQLite, multiple connections create separate databases.
	// Keep a single connection to avoid schema/data disappearing across goroutines.
	if dsn == ":memory:" || strings.Contains(dsn, "mode=memory") {
		db.SetMaxOpenConns(1)
		db.SetMaxIdleConns(1)
	}

	// Enable foreign keys
	if _, err := db.Exec("PRAGMA foreign_keys = ON"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to enable foreign keys: %w", err)
	}

	store := &SQLiteStore{db: db}
	if err := store.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}

	return store, nil
}

// migrate runs database migrations.
func (s *SQLiteStore) migrate() error {
	migrations := []string{
		`CREATE TABLE IF NOT EXISTS users (
			id TEXT PRIMARY KEY,
			email TEXT NOT NULL UNIQUE,
			username TEXT NOT NULL,
			created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
		)`,
		`CREATE TABLE IF NOT EXISTS documents (
			id TEXT PRIMARY KEY,
			owner_id TEXT NOT NULL,
			content TEXT NOT NULL DEFAULT '',
			version INTEGER NOT NULL DEFAULT 1,
			last_edited_by TEXT,
			created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
			updated_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
			FOREIGN KEY (owner_id) REFERENCES users(id)
		)`,
		`CREATE INDEX IF NOT EXISTS idx_documents_owner ON documents(owner_id, updated_at)`,
		`CREATE TABLE IF NOT EXISTS document_shares (
			id TEXT PRIMARY KEY,
			document_id TEXT NOT NULL,
			user_id TEXT NOT NULL,
			created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
			UNIQUE (document_id, user_id),
			FOREIGN KEY (document_id) REFERENCES documents(id) ON DELETE CASCADE,
			FOREIGN KEY (user_id) REFERENCES users(id)
		)`,
		`CREATE INDEX IF NOT EXISTS idx_document_shares_user ON document_shares(user_id)`,
	}

	for _, m := range migrations {
		if _, err := s.db.Exec(m); err != nil {
			return err
		}
	}
	return nil
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// UpsertUser inserts the user or refreshes its email and username.
func (s *SQLiteStore) UpsertUser(ctx context.Context, user *domain.User) (*domain.User, error) {
	createdAt := user.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO users (id, email, username, created_at) VALUES (?, ?, ?, ?)
		 ON CONFLICT(id) DO UPDATE SET email = excluded.email, username = excluded.username`,
		user.ID, user.Email, user.Username, createdAt)
	if err != nil {
		return nil, err
	}
	return s.GetUser(ctx, user.ID)
}

// GetUser retrieves a user by ID.
func (s *SQLiteStore) GetUser(ctx context.Context, userID string) (*domain.User, error) {
	return s.scanUser(s.db.QueryRowContext(ctx,
		`SELECT id, email, username, created_at FROM users WHERE id = ?`, userID))
}

// GetUserByEmail retrieves a user by email.
func (s *SQLiteStore) GetUserByEmail(ctx context.Context, email string) (*domain.User, error) {
	return s.scanUser(s.db.QueryRowContext(ctx,
		`SELECT id, email, username, created_at FROM users WHERE email = ?`, email))
}

func (s *SQLiteStore) scanUser(row *sql.Row) (*domain.User, error) {
	var u domain.User
	err := row.Scan(&u.ID, &u.Email, &u.Username, &u.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &u, nil
}

// CreateDocument creates a new document.
func (s *SQLiteStore) CreateDocument(ctx context.Context, doc *domain.Document) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO documents (id, owner_id, content, version, last_edited_by, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		doc.ID, doc.OwnerID, doc.Content, doc.Version, nullString(doc.LastEditedBy), doc.CreatedAt, doc.UpdatedAt)
	return err
}

const sqliteDocumentColumns = `id, owner_id, content, version, last_edited_by, created_at, updated_at`

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanDocument(row rowScanner) (*domain.Document, error) {
	var doc domain.Document
	var lastEditedBy sql.NullString
	if err := row.Scan(&doc.ID, &doc.OwnerID, &doc.Content, &doc.Version, &lastEditedBy, &doc.CreatedAt, &doc.UpdatedAt); err != nil {
		return nil, err
	}
	doc.LastEditedBy = lastEditedBy.String
	return &doc, nil
}

// GetDocument retrieves a document with its shares.
func (s *SQLiteStore) GetDocument(ctx context.Context, documentID string) (*domain.Document, error) {
	doc, err := scanDocument(s.db.QueryRowContext(ctx,
		`SELECT `+sqliteDocumentColumns+` FROM documents WHERE id = ?`, documentID))
	if err == sql.ErrNoRows {
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
func (s *SQLiteStore) ListDocumentsForUser(ctx context.Context, userID string) ([]domain.Document, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+sqliteDocumentColumns+` FROM documents
		 WHERE owner_id = ? OR id IN (SELECT document_id FROM document_shares WHERE user_id = ?)
		 ORDER BY updated_at DESC`,
		userID, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var docs []domain.Document
	for rows.Next() {
		doc, err := scanDocument(rows)
		if err != nil {
			return nil, err
		}
		docs = append(docs, *doc)
	}
	return docs, rows.Err()
}

// UpdateDocumentContent replaces the content, bumps the version by one and
// records the editor. It returns nil, nil if the document does not exist.
func (s *SQLiteStore) UpdateDocumentContent(ctx context.Context, documentID, content, editorID string) (*domain.Document, error) {
	doc, err := scanDocument(s.db.QueryRowContext(ctx,
		`UPDATE documents SET content = ?, version = version + 1, last_edited_by = ?, updated_at = ?
		 WHERE id = ?
		 RETURNING `+sqliteDocumentColumns,
		content, editorID, time.Now().UTC(), documentID))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return doc, nil
}

// DeleteDocument deletes a document and its shares.
func (s *SQLiteStore) DeleteDocument(ctx context.Context, documentID string) (bool, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return false, err
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM document_shares WHERE document_id = ?`, documentID); err != nil {
		return false, err
	}
	res, err := tx.ExecContext(ctx, `DELETE FROM documents WHERE id = ?`, documentID)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, tx.Commit()
}

// PutShare shares a document with a user. Sharing again is a no-op.
func (s *SQLiteStore) PutShare(ctx context.Context, share *domain.Share) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO document_shares (id, document_id, user_id, created_at) VALUES (?, ?, ?, ?)
		 ON CONFLICT(document_id, user_id) DO NOTHING`,
		share.ID, share.DocumentID, share.UserID, share.CreatedAt)
	return err
}

// ListShares lists a document's shares with the users they grant.
func (s *SQLiteStore) ListShares(ctx context.Context, documentID string) ([]domain.Share, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT s.id, s.document_id, s.user_id, s.created_at, u.email, u.username, u.created_at
		 FROM document_shares s JOIN users u ON u.id = s.user_id
		 WHERE s.document_id = ?
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
func (s *SQLiteStore) DeleteShare(ctx context.Context, documentID, userID string) (bool, error) {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM document_shares WHERE document_id = ? AND user_id = ?`, documentID, userID)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n > 0, err
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
