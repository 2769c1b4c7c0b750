// Package repo implements the data persistence layer for domain entities,
// built on GORM. This file covers users and their history accounts.
//
// This file implements user persistence plus the claim protocol the update
// scheduler relies on: a single transaction that selects the one eligible
// user (oldest update first, never-updated users before everyone else) and
// flips the updating flag before the lock is released. On Postgres the
// select takes row locks with SKIP LOCKED; on every dialect the flag flip is
// a compare-and-swap so at most one claimer wins a given user.
package repo

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/tbourn/go-scrobble-backend/internal/domain"
)

// CreateUserWithAccount inserts a user together with its verified history
// account in one transaction.
func CreateUserWithAccount(ctx context.Context, db *gorm.DB, user *domain.User, account *domain.HistoryAccount) error {
	return db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(user).Error; err != nil {
			return err
		}
		account.UserID = user.ID
		if err := tx.Create(account).Error; err != nil {
			return err
		}
		user.HistoryAccount = account
		return nil
	})
}

// GetUser fetches a user and its history account by id.
func GetUser(ctx context.Context, db *gorm.DB, id uint) (*domain.User, error) {
	var u domain.User
	err := db.WithContext(ctx).Preload("HistoryAccount").First(&u, id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, domain.ErrUserNotFound
	}
	if err != nil {
		return nil, err
	}
	return &u, nil
}

// GetUserByUsername fetches the user owning the given history username.
func GetUserByUsername(ctx context.Context, db *gorm.DB, username string) (*domain.User, error) {
	var acc domain.HistoryAccount
	err := db.WithContext(ctx).Where("username = ?", username).First(&acc).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, domain.ErrUserNotFound
	}
	if err != nil {
		return nil, err
	}
	return GetUser(ctx, db, acc.UserID)
}

// ClaimNextUser atomically selects and marks the next user due for a history
// import. Eligible users are those not currently updating, ordered by
// LastUpdatedListeningHistoryAt ascending with nulls first, so new users are
// served before stale ones and rotation stays fair.
//
// Returns domain.ErrNoEligibleUser when every user is busy or none exist.
// When a concurrent claimer wins the selected row the claim retries with the
// next candidate rather than giving up, so N concurrent claims against M
// eligible users hand out min(N, M) distinct users.
func ClaimNextUser(ctx context.Context, db *gorm.DB) (*domain.User, error) {
	for {
		var user domain.User
		err := db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
			q := tx.Where("is_updating_listening_history = ?", false).
				Order("last_updated_listening_history_at ASC NULLS FIRST")
			if supportsSkipLocked(tx) {
				q = q.Clauses(clause.Locking{Strength: "UPDATE", Options: "SKIP LOCKED"})
			}
			if err := q.First(&user).Error; err != nil {
				if errors.Is(err, gorm.ErrRecordNotFound) {
					return domain.ErrNoEligibleUser
				}
				return err
			}

			// CAS guard: only the transaction that flips the flag owns the claim.
			res := tx.Model(&domain.User{}).
				Where("id = ? AND is_updating_listening_history = ?", user.ID, false).
				Update("is_updating_listening_history", true)
			if res.Error != nil {
				return res.Error
			}
			if res.RowsAffected == 0 {
				return errClaimLost
			}
			user.IsUpdatingListeningHistory = true
			return nil
		})
		if errors.Is(err, errClaimLost) {
			continue
		}
		if err != nil {
			return nil, err
		}
		return &user, nil
	}
}

// errClaimLost signals that another claimer flipped the flag between our
// select and our update; the claim loop moves on to the next candidate.
var errClaimLost = errors.New("claim lost to concurrent claimer")

// CountUpdatingUsers returns how many users have an import in flight.
func CountUpdatingUsers(ctx context.Context, db *gorm.DB) (int64, error) {
	var n int64
	err := db.WithContext(ctx).Model(&domain.User{}).
		Where("is_updating_listening_history = ?", true).Count(&n).Error
	return n, err
}

// FinishUserUpdate clears the updating flag and stamps the last-updated
// time. Called by the store layer after the final listen batch persists,
// not by the scheduler, so overlapping ticks see the user as busy for the
// whole import.
func FinishUserUpdate(ctx context.Context, db *gorm.DB, userID uint, at time.Time) error {
	return db.WithContext(ctx).Model(&domain.User{}).
		Where("id = ?", userID).
		Updates(map[string]any{
			"is_updating_listening_history":     false,
			"last_updated_listening_history_at": at,
		}).Error
}

// ReleaseUser clears the updating flag without stamping the last-updated
// time, used when an import fails before any listens persist so the user
// keeps their place at the front of the rotation.
func ReleaseUser(ctx context.Context, db *gorm.DB, userID uint) error {
	return db.WithContext(ctx).Model(&domain.User{}).
		Where("id = ?", userID).
		Update("is_updating_listening_history", false).Error
}

// ResetUpdatingFlags force-clears the updating flag on all users. Idempotent
// recovery for startup and for the scheduler's stuck-job heuristic; a
// spuriously cleared flag only risks a duplicate-but-idempotent import.
func ResetUpdatingFlags(ctx context.Context, db *gorm.DB) error {
	return db.WithContext(ctx).Model(&domain.User{}).
		Where("is_updating_listening_history = ?", true).
		Update("is_updating_listening_history", false).Error
}
