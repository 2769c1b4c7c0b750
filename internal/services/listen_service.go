// Package services implements the application use cases between the HTTP
// layer and the repositories.
//
// This file covers the consumer-facing slice of the entity store: batch listen ingestion
// with upsert counts, listen listing, and resolving the catalog-verified
// track behind a raw listen.
package services

import (
	"context"

	"gorm.io/gorm"

	"github.com/tbourn/go-scrobble-backend/internal/domain"
	"github.com/tbourn/go-scrobble-backend/internal/repo"
)

// ListenService exposes the store operations the HTTP layer consumes.
type ListenService struct {
	DB *gorm.DB
}

// NewListenService constructs a ListenService.
func NewListenService(db *gorm.DB) *ListenService {
	return &ListenService{DB: db}
}

// StoreListens persists a batch of raw play events for the user and returns
// what changed. The user must exist.
func (s *ListenService) StoreListens(ctx context.Context, userID uint, listens []repo.RawListenInput) (repo.StoreCounts, error) {
	if _, err := repo.GetUser(ctx, s.DB, userID); err != nil {
		return repo.StoreCounts{}, err
	}
	return repo.StoreListens(ctx, s.DB, userID, listens)
}

// GetTrackFromRawListenID resolves the canonical track a raw listen was
// linked to, if the catalog match has happened.
func (s *ListenService) GetTrackFromRawListenID(ctx context.Context, rawListenID uint) (*domain.Track, error) {
	return repo.GetTrackByRawListenID(ctx, s.DB, rawListenID)
}

// ListListens returns one page of a user's canonical listens plus the total
// count for pagination.
func (s *ListenService) ListListens(ctx context.Context, userID uint, offset, limit int) ([]domain.Listen, int64, error) {
	total, err := repo.CountListens(ctx, s.DB, userID)
	if err != nil {
		return nil, 0, err
	}
	if total == 0 {
		return []domain.Listen{}, 0, nil
	}
	items, err := repo.ListListensPage(ctx, s.DB, userID, offset, limit)
	return items, total, err
}
