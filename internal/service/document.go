package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/golang/glog"
	"github.com/google/uuid"

	"github.com/vishnu-mouli-102408/sync-scribe/internal/domain"
	"github.com/vishnu-mouli-102408/sync-scribe/internal/policy"
)

// CreateDocument creates a document owned by ownerID.
func (s *Service) CreateDocument(ctx context.Context, ownerID, content string) (*domain.Document, error) {
	now := time.Now().UTC()
	doc := &domain.Document{
		ID:        uuid.New().String(),
		OwnerID:   ownerID,
		Content:   content,
		Version:   1,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := s.store.CreateDocument(ctx, doc); err != nil {
		return nil, fmt.Errorf("failed to create document: %w", err)
	}
	glog.Infof("document %s created by %s", doc.ID, ownerID)
	return doc, nil
}

// ListDocuments lists the documents userID owns or has been shared.
func (s *Service) ListDocuments(ctx context.Context, userID string) ([]domain.Document, error) {
	docs, err := s.store.ListDocumentsForUser(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to list documents: %w", err)
	}
	if docs == nil {
		docs = []domain.Document{}
	}
	return docs, nil
}

// GetDocument returns a document the user may read.
func (s *Service) GetDocument(ctx context.Context, documentID, userID string) (*domain.Document, error) {
	return s.authorize(ctx, documentID, userID, policy.ActionRead)
}

// UpdateDocument saves new content. The version increases by one and the
// caller is recorded as the last editor; concurrent saves are not rejected.
func (s *Service) UpdateDocument(ctx context.Context, documentID, userID, content string) (*domain.Document, error) {
	if _, err := s.authorize(ctx, documentID, userID, policy.ActionWrite); err != nil {
		return nil, err
	}
	doc, err := s.store.UpdateDocumentContent(ctx, documentID, content, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to update document: %w", err)
	}
	if doc == nil {
		return nil, fmt.Errorf("document %s: %w", documentID, domain.ErrNotFound)
	}
	glog.V(1).Infof("document %s saved by %s (version %d)", documentID, userID, doc.Version)
	return doc, nil
}

// DeleteDocument deletes a document. Only the owner may delete.
func (s *Service) DeleteDocument(ctx context.Context, documentID, userID string) error {
	if _, err := s.authorize(ctx, documentID, userID, policy.ActionDelete); err != nil {
		return err
	}
	deleted, err := s.store.DeleteDocument(ctx, documentID)
	if err != nil {
		return fmt.Errorf("failed to delete document: %w", err)
	}
	if !deleted {
		return fmt.Errorf("document %s: %w", documentID, domain.ErrNotFound)
	}
	glog.Infof("document %s deleted by %s", documentID, userID)
	return nil
}

// ShareDocument shares a document with the user registered under email.
// Only the owner may share; sharing twice is a no-op.
func (s *Service) ShareDocument(ctx context.Context, documentID, userID, email string) (*domain.Share, error) {
	email = strings.TrimSpace(email)
	if email == "" {
		return nil, fmt.Errorf("%w: email is required", domain.ErrInvalidInput)
	}
	doc, err := s.authorize(ctx, documentID, userID, policy.ActionShare)
	if err != nil {
		return nil, err
	}

	target, err := s.store.GetUserByEmail(ctx, email)
	if err != nil {
		return nil, fmt.Errorf("failed to look up user: %w", err)
	}
	if target == nil {
		return nil, fmt.Errorf("user %s: %w", email, domain.ErrNotFound)
	}
	if target.ID == doc.OwnerID {
		return nil, fmt.Errorf("%w: cannot share a document with its owner", domain.ErrInvalidInput)
	}

	share := &domain.Share{
		ID:         uuid.New().String(),
		DocumentID: documentID,
		UserID:     target.ID,
		CreatedAt:  time.Now().UTC(),
	}
	if err := s.store.PutShare(ctx, share); err != nil {
		return nil, fmt.Errorf("failed to share document: %w", err)
	}

	// Return the stored row, which keeps its id on a repeated share.
	shares, err := s.store.ListShares(ctx, documentID)
	if err != nil {
		return nil, fmt.Errorf("failed to list shares: %w", err)
	}
	for i := range shares {
		if shares[i].UserID == target.ID {
			return &shares[i], nil
		}
	}
	share.User = target
	return share, nil
}

// ListShares lists a document's shares. Anyone who may read the document
// may see who it is shared with.
func (s *Service) ListShares(ctx context.Context, documentID, userID string) ([]domain.Share, error) {
	doc, err := s.authorize(ctx, documentID, userID, policy.ActionRead)
	if err != nil {
		return nil, err
	}
	if doc.Shares == nil {
		return []domain.Share{}, nil
	}
	return doc.Shares, nil
}

// RemoveShare revokes targetUserID's access. Only the owner may unshare.
func (s *Service) RemoveShare(ctx context.Context, documentID, userID, targetUserID string) error {
	if _, err := s.authorize(ctx, documentID, userID, policy.ActionShare); err != nil {
		return err
	}
	removed, err := s.store.DeleteShare(ctx, documentID, targetUserID)
	if err != nil {
		return fmt.Errorf("failed to remove share: %w", err)
	}
	if !removed {
		return fmt.Errorf("share for %s: %w", targetUserID, domain.ErrNotFound)
	}
	return nil
}

// CanView reports whether userID may join the document's live session.
func (s *Service) CanView(ctx context.Context, documentID, userID string) error {
	_, err := s.authorize(ctx, documentID, userID, policy.ActionRead)
	return err
}
