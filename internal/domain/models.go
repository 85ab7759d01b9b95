// Package domain defines the core domain models for sync-scribe.
package domain

import (
	"strings"
	"time"
)

// User is a verified identity known to the document store.
type User struct {
	ID        string    `json:"id"`
	Email     string    `json:"email"`
	Username  string    `json:"username"`
	CreatedAt time.Time `json:"created_at"`
}

// UsernameFromEmail returns the local part of an email address.
func UsernameFromEmail(email string) string {
	if i := strings.Index(email, "@"); i >= 0 {
		return email[:i]
	}
	return email
}

// Document is the durable copy of a shared document.
type Document struct {
	ID           string    `json:"id"`
	OwnerID      string    `json:"owner_id"`
	Content      string    `json:"content"`
	Version      int       `json:"version"`
	LastEditedBy string    `json:"last_edited_by,omitempty"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
	Shares       []Share   `json:"shares,omitempty"`
}

// State returns the content state carried by the document.
func (d *Document) State() *ContentState {
	return &ContentState{
		Content:      d.Content,
		Version:      d.Version,
		LastEditedBy: d.LastEditedBy,
	}
}

// SharedWith returns the ids of users the document is shared with.
func (d *Document) SharedWith() []string {
	ids := make([]string, 0, len(d.Shares))
	for _, s := range d.Shares {
		ids = append(ids, s.UserID)
	}
	return ids
}

// Share grants a user access to a document they do not own.
type Share struct {
	ID         string    `json:"id"`
	DocumentID string    `json:"document_id"`
	UserID     string    `json:"user_id"`
	CreatedAt  time.Time `json:"created_at"`
	User       *User     `json:"user,omitempty"`
}

// ContentState is the locally visible or durable content of a document.
// Version increments by one on every durable save and is never used to
// reject a concurrent save.
type ContentState struct {
	Content      string `json:"content"`
	Version      int    `json:"version"`
	LastEditedBy string `json:"last_edited_by,omitempty"`
}

// CreateDocumentRequest is the body of POST /v1/documents.
type CreateDocumentRequest struct {
	Content string `json:"content"`
}

// UpdateDocumentRequest is the body of PUT /v1/documents/:id.
type UpdateDocumentRequest struct {
	Content *string `json:"content"`
}

// ShareDocumentRequest is the body of POST /v1/documents/:id/shares.
type ShareDocumentRequest struct {
	Email string `json:"email"`
}
