// Package repo implements the data persistence layer for domain entities,
// built on GORM. This file covers the catalog search job queue.
//
// The queue decouples "this track needs a catalog identity" from the moment
// the catalog service is asked. Jobs are enqueued insert-or-ignore on the
// (track_name, artist_name) natural key, claimed oldest-first under the same
// skip-locked/CAS protocol as user claims, and marked terminal exactly once.
package repo

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/tbourn/go-scrobble-backend/internal/domain"
)

// enqueueSearchJob inserts a pending job for the pair unless one already
// exists, terminal or not. Called inside the StoreListens transaction.
func enqueueSearchJob(tx *gorm.DB, trackName, artistName string) error {
	job := domain.CatalogSearchJob{
		TrackName:  trackName,
		ArtistName: artistName,
	}
	return tx.Clauses(clause.OnConflict{DoNothing: true}).Create(&job).Error
}

// EnqueueSearchJob inserts a pending catalog search job for the pair unless
// one exists. Exposed for the operational re-enqueue path.
func EnqueueSearchJob(ctx context.Context, db *gorm.DB, trackName, artistName string) error {
	return enqueueSearchJob(db.WithContext(ctx), trackName, artistName)
}

// ClaimNextSearchJob atomically selects and marks the oldest pending job.
// Pending means searched_at is null and no worker holds the claim flag.
// Returns domain.ErrNoPendingJobs when the queue is drained.
//
// Like ClaimNextUser, a lost compare-and-swap retries with the next
// candidate, so concurrent claimers always walk away with distinct jobs.
func ClaimNextSearchJob(ctx context.Context, db *gorm.DB) (*domain.CatalogSearchJob, error) {
	for {
		var job domain.CatalogSearchJob
		err := db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
			q := tx.Where("searched_at IS NULL AND is_being_searched = ?", false).
				Order("created_at ASC, id ASC")
			if supportsSkipLocked(tx) {
				q = q.Clauses(clause.Locking{Strength: "UPDATE", Options: "SKIP LOCKED"})
			}
			if err := q.First(&job).Error; err != nil {
				if errors.Is(err, gorm.ErrRecordNotFound) {
					return domain.ErrNoPendingJobs
				}
				return err
			}

			res := tx.Model(&domain.CatalogSearchJob{}).
				Where("id = ? AND is_being_searched = ?", job.ID, false).
				Update("is_being_searched", true)
			if res.Error != nil {
				return res.Error
			}
			if res.RowsAffected == 0 {
				return errClaimLost
			}
			job.IsBeingSearched = true
			return nil
		})
		if errors.Is(err, errClaimLost) {
			continue
		}
		if err != nil {
			return nil, err
		}
		return &job, nil
	}
}

// CompleteSearchJob marks a job terminal: searched now, claim released, and
// linked to the resolved track (nil when the catalog had no match).
func CompleteSearchJob(ctx context.Context, db *gorm.DB, jobID uint, trackID *uint, at time.Time) error {
	return db.WithContext(ctx).Model(&domain.CatalogSearchJob{}).
		Where("id = ?", jobID).
		Updates(map[string]any{
			"searched_at":       at,
			"is_being_searched": false,
			"track_id":          trackID,
		}).Error
}

// ReleaseSearchJob clears the claim flag on one job without marking it
// searched, so an unexpected execution failure leaves the job pending.
func ReleaseSearchJob(ctx context.Context, db *gorm.DB, jobID uint) error {
	return db.WithContext(ctx).Model(&domain.CatalogSearchJob{}).
		Where("id = ?", jobID).
		Update("is_being_searched", false).Error
}

// ResetSearchingFlags force-clears the claim flag on all jobs. Idempotent
// startup/stuck-state recovery, the queue-side analogue of
// ResetUpdatingFlags.
func ResetSearchingFlags(ctx context.Context, db *gorm.DB) error {
	return db.WithContext(ctx).Model(&domain.CatalogSearchJob{}).
		Where("is_being_searched = ?", true).
		Update("is_being_searched", false).Error
}

// CountPendingSearchJobs returns how many jobs still await a catalog lookup.
func CountPendingSearchJobs(ctx context.Context, db *gorm.DB) (int64, error) {
	var n int64
	err := db.WithContext(ctx).Model(&domain.CatalogSearchJob{}).
		Where("searched_at IS NULL").Count(&n).Error
	return n, err
}

// LinkListensToTrack points every raw listen and canonical listen sharing
// the (trackName, artistName) pair at the resolved track. The link is total:
// one statement per table, no per-row iteration, so a resolved job never
// leaves half the pair's listens behind. Returns the raw listen count.
func LinkListensToTrack(ctx context.Context, db *gorm.DB, trackName, artistName string, trackID uint, at time.Time) (int64, error) {
	var linked int64
	err := db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Model(&domain.RawListen{}).
			Where("track_name = ? AND artist_name = ?", trackName, artistName).
			Updates(map[string]any{
				"track_id":          trackID,
				"analyzed_at":       at,
				"is_being_analyzed": false,
			})
		if res.Error != nil {
			return res.Error
		}
		linked = res.RowsAffected

		return tx.Model(&domain.Listen{}).
			Where("raw_listen_id IN (?)",
				tx.Session(&gorm.Session{NewDB: true}).
					Model(&domain.RawListen{}).
					Select("id").
					Where("track_name = ? AND artist_name = ?", trackName, artistName),
			).
			Update("track_id", trackID).Error
	})
	return linked, err
}
