package service

import (
	"context"

	"github.com/vishnu-mouli-102408/sync-scribe/internal/domain"
)

// Load returns the durable content state for an editing session.
func (s *Service) Load(ctx context.Context, documentID, userID string) (*domain.ContentState, error) {
	doc, err := s.GetDocument(ctx, documentID, userID)
	if err != nil {
		return nil, err
	}
	return doc.State(), nil
}

// Save persists content from an editing session. It never broadcasts.
func (s *Service) Save(ctx context.Context, documentID, userID, content string) (*domain.ContentState, error) {
	doc, err := s.UpdateDocument(ctx, documentID, userID, content)
	if err != nil {
		return nil, err
	}
	return doc.State(), nil
}
