package service

import (
	"context"
	"fmt"

	"github.com/vishnu-mouli-102408/sync-scribe/internal/domain"
	"github.com/vishnu-mouli-102408/sync-scribe/internal/policy"
	"github.com/vishnu-mouli-102408/sync-scribe/internal/repository"
)

type Service struct {
	store        store.Store
	policyEngine *policy.Engine
}

func New(store store.Store, policyEngine *policy.Engine) *Service {
	return &Service{
		store:        store,
		policyEngine: policyEngine,
	}
}

// EnsureUser records the verified identity so it can be shared with by
// email.
func (s *Service) EnsureUser(ctx context.Context, u *domain.User) (*domain.User, error) {
	if u.ID == "" || u.Email == "" {
		return nil, fmt.Errorf("%w: user id and email are required", domain.ErrInvalidInput)
	}
	if u.Username == "" {
		u.Username = domain.UsernameFromEmail(u.Email)
	}
	stored, err := s.store.UpsertUser(ctx, u)
	if err != nil {
		return nil, fmt.Errorf("failed to upsert user: %w", err)
	}
	return stored, nil
}

// authorize loads a document and checks action for userID against it.
func (s *Service) authorize(ctx context.Context, documentID, userID, action string) (*domain.Document, error) {
	doc, err := s.store.GetDocument(ctx, documentID)
	if err != nil {
		return nil, fmt.Errorf("failed to get document: %w", err)
	}
	if doc == nil {
		return nil, fmt.Errorf("document %s: %w", documentID, domain.ErrNotFound)
	}

	allowed, err := s.policyEngine.Allowed(ctx, policy.Input{
		Action:     action,
		UserID:     userID,
		OwnerID:    doc.OwnerID,
		SharedWith: doc.SharedWith(),
	})
	if err != nil {
		return nil, err
	}
	if !allowed {
		return nil, fmt.Errorf("%s document %s: %w", action, documentID, domain.ErrAccessDenied)
	}
	return doc, nil
}
