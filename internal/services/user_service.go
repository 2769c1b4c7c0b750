// Package services defines the business logic over the entity store: user
// registration through history account verification, and the listen store
// contract consumed by the HTTP layer. Services return the domain error
// taxonomy; translation into HTTP status codes happens in handlers.
package services

import (
	"context"
	"errors"
	"strings"

	"gorm.io/gorm"

	"github.com/tbourn/go-scrobble-backend/internal/domain"
	"github.com/tbourn/go-scrobble-backend/internal/history"
	"github.com/tbourn/go-scrobble-backend/internal/repo"
)

// HistoryVerifier is the slice of the history client needed to verify an
// account before creating a user.
type HistoryVerifier interface {
	GetAccountInfo(ctx context.Context, username string) (*history.AccountInfo, error)
}

// UserService creates and fetches users. A user only comes into existence
// on first successful verification of their history username.
type UserService struct {
	DB      *gorm.DB
	History HistoryVerifier
}

// NewUserService constructs a UserService.
func NewUserService(db *gorm.DB, verifier HistoryVerifier) *UserService {
	return &UserService{DB: db, History: verifier}
}

// Register verifies username against the history service and creates the
// user with their history account. Registering an already-known username is
// idempotent: it returns the existing user with refreshed account counters
// and created=false.
func (s *UserService) Register(ctx context.Context, name, username string) (*domain.User, bool, error) {
	username = strings.TrimSpace(username)
	if username == "" {
		return nil, false, domain.ErrBadRequest
	}
	if name = strings.TrimSpace(name); name == "" {
		name = username
	}

	info, err := s.History.GetAccountInfo(ctx, username)
	if err != nil {
		return nil, false, err
	}

	if existing, err := repo.GetUserByUsername(ctx, s.DB, username); err == nil {
		if err := s.refreshAccount(ctx, existing, info); err != nil {
			return nil, false, err
		}
		return existing, false, nil
	} else if !errors.Is(err, domain.ErrUserNotFound) {
		return nil, false, err
	}

	user := &domain.User{Name: name}
	account := &domain.HistoryAccount{
		Username:     info.Username,
		URL:          info.URL,
		RegisteredAt: info.RegisteredAt,
		PlayCount:    info.PlayCount,
		TrackCount:   info.TrackCount,
	}
	if err := repo.CreateUserWithAccount(ctx, s.DB, user, account); err != nil {
		return nil, false, err
	}
	return user, true, nil
}

// Get fetches a user with their history account.
func (s *UserService) Get(ctx context.Context, id uint) (*domain.User, error) {
	return repo.GetUser(ctx, s.DB, id)
}

// refreshAccount re-verification path: update the reported counters on the
// existing account.
func (s *UserService) refreshAccount(ctx context.Context, user *domain.User, info *history.AccountInfo) error {
	if user.HistoryAccount == nil {
		return domain.ErrAccountNotFound
	}
	return s.DB.WithContext(ctx).Model(user.HistoryAccount).Updates(map[string]any{
		"play_count":  info.PlayCount,
		"track_count": info.TrackCount,
		"url":         info.URL,
	}).Error
}
