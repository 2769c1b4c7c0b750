// Package repo implements the data persistence layer for domain entities,
// built on GORM. This file covers listen ingestion and the canonical entity
// store.
//
// StoreListens is the write path the importer feeds: one transaction per
// batch that upserts the canonical artist/album/track rows by natural key,
// records the raw events idempotently, creates canonical listens, and
// enqueues catalog search jobs for unseen (track, artist) pairs. Duplicate
// natural keys are expected races and resolve via insert-or-ignore.
package repo

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/tbourn/go-scrobble-backend/internal/domain"
)

// RawListenInput is one play event as handed over by the history importer.
type RawListenInput struct {
	TrackName  string
	ArtistName string
	AlbumName  string
	TrackMBID  string
	ArtistMBID string
	AlbumMBID  string
	ImageURL   string
	ListenedAt time.Time
}

// StoreCounts reports what one StoreListens batch changed. Upserted counts
// only include newly created rows; refreshes of existing rows are silent.
type StoreCounts struct {
	ArtistsUpserted int `json:"artists_upserted"`
	AlbumsUpserted  int `json:"albums_upserted"`
	TracksUpserted  int `json:"tracks_upserted"`
	ListensInserted int `json:"listens_inserted"`
}

// StoreListens persists one batch of raw play events for a user. The whole
// batch commits or rolls back as a unit. Re-storing an already-recorded raw
// event is a no-op: the raw listen, its canonical listen, and its search job
// are all keyed naturally, so counts simply come back lower.
func StoreListens(ctx context.Context, db *gorm.DB, userID uint, inputs []RawListenInput) (StoreCounts, error) {
	var counts StoreCounts
	err := db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		for i := range inputs {
			in := &inputs[i]

			artist, created, err := upsertArtist(tx, in.ArtistName, in.ArtistMBID)
			if err != nil {
				return err
			}
			if created {
				counts.ArtistsUpserted++
			}

			var albumID *uint
			if in.AlbumName != "" {
				album, created, err := upsertAlbum(tx, in.AlbumName, in.AlbumMBID, artist)
				if err != nil {
					return err
				}
				if created {
					counts.AlbumsUpserted++
				}
				albumID = &album.ID
			}

			track, created, err := upsertTrack(tx, in.TrackName, in.TrackMBID, in.ImageURL, artist, albumID)
			if err != nil {
				return err
			}
			if created {
				counts.TracksUpserted++
			}

			raw := domain.RawListen{
				UserID:     userID,
				TrackName:  in.TrackName,
				ArtistName: in.ArtistName,
				AlbumName:  in.AlbumName,
				ListenedAt: in.ListenedAt.UTC(),
			}
			res := tx.Clauses(clause.OnConflict{DoNothing: true}).Create(&raw)
			if res.Error != nil {
				return res.Error
			}
			if res.RowsAffected == 0 {
				// Same event stored before; nothing downstream to do.
				continue
			}

			listen := domain.Listen{
				UserID:      userID,
				TrackID:     track.ID,
				ListenedAt:  in.ListenedAt.UTC(),
				RawListenID: &raw.ID,
			}
			if err := tx.Create(&listen).Error; err != nil {
				return err
			}
			counts.ListensInserted++

			if err := enqueueSearchJob(tx, in.TrackName, in.ArtistName); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return StoreCounts{}, err
	}
	return counts, nil
}

// upsertArtist returns the canonical artist row for (name, mbid), creating
// it when absent. The bool reports whether a row was created.
func upsertArtist(tx *gorm.DB, name, mbid string) (*domain.Artist, bool, error) {
	key := domain.EntityKey(mbid, name)
	var a domain.Artist
	err := tx.Where("natural_key = ?", key).First(&a).Error
	if err == nil {
		return &a, false, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, false, err
	}

	a = domain.Artist{Name: name, MBID: mbid, NaturalKey: key}
	res := tx.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "natural_key"}},
		DoNothing: true,
	}).Create(&a)
	if res.Error != nil {
		return nil, false, res.Error
	}
	if res.RowsAffected == 0 {
		// Lost the insert race; the row exists now.
		if err := tx.Where("natural_key = ?", key).First(&a).Error; err != nil {
			return nil, false, err
		}
		return &a, false, nil
	}
	return &a, true, nil
}

// upsertAlbum returns the canonical album row, scoped under its artist when
// keyed by name.
func upsertAlbum(tx *gorm.DB, name, mbid string, artist *domain.Artist) (*domain.Album, bool, error) {
	key := domain.ScopedEntityKey(mbid, name, artist.Name)
	var al domain.Album
	err := tx.Where("natural_key = ?", key).First(&al).Error
	if err == nil {
		return &al, false, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, false, err
	}

	al = domain.Album{Name: name, MBID: mbid, ArtistID: &artist.ID, NaturalKey: key}
	res := tx.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "natural_key"}},
		DoNothing: true,
	}).Create(&al)
	if res.Error != nil {
		return nil, false, res.Error
	}
	if res.RowsAffected == 0 {
		if err := tx.Where("natural_key = ?", key).First(&al).Error; err != nil {
			return nil, false, err
		}
		return &al, false, nil
	}
	return &al, true, nil
}

// upsertTrack returns the canonical track row, scoped under its artist when
// keyed by name. The feed's image is recorded on creation only; the catalog
// match later overwrites it with authoritative artwork.
func upsertTrack(tx *gorm.DB, name, mbid, imageURL string, artist *domain.Artist, albumID *uint) (*domain.Track, bool, error) {
	key := domain.ScopedEntityKey(mbid, name, artist.Name)
	var t domain.Track
	err := tx.Where("natural_key = ?", key).First(&t).Error
	if err == nil {
		return &t, false, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, false, err
	}

	t = domain.Track{Name: name, MBID: mbid, ImageURL: imageURL, ArtistID: &artist.ID, AlbumID: albumID, NaturalKey: key}
	res := tx.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "natural_key"}},
		DoNothing: true,
	}).Create(&t)
	if res.Error != nil {
		return nil, false, res.Error
	}
	if res.RowsAffected == 0 {
		if err := tx.Where("natural_key = ?", key).First(&t).Error; err != nil {
			return nil, false, err
		}
		return &t, false, nil
	}
	return &t, true, nil
}

// LatestRawListenTime returns the newest recorded listen time for a user,
// or nil when the user has no raw listens yet. The importer derives its
// resume point from this.
func LatestRawListenTime(ctx context.Context, db *gorm.DB, userID uint) (*time.Time, error) {
	var raw domain.RawListen
	err := db.WithContext(ctx).
		Where("user_id = ?", userID).
		Order("listened_at DESC").
		First(&raw).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	t := raw.ListenedAt
	return &t, nil
}

// GetTrackByRawListenID resolves the canonical, catalog-linked track behind
// a raw listen. Returns domain.ErrListenNotFound when the raw listen does
// not exist and domain.ErrTrackNotFound when it has not been linked yet.
func GetTrackByRawListenID(ctx context.Context, db *gorm.DB, rawListenID uint) (*domain.Track, error) {
	var raw domain.RawListen
	err := db.WithContext(ctx).First(&raw, rawListenID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, domain.ErrListenNotFound
	}
	if err != nil {
		return nil, err
	}
	if raw.TrackID == nil {
		return nil, domain.ErrTrackNotFound
	}

	var track domain.Track
	err = db.WithContext(ctx).Preload("Artists").First(&track, *raw.TrackID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, domain.ErrTrackNotFound
	}
	if err != nil {
		return nil, err
	}
	return &track, nil
}

// CountListens returns the total canonical listens for a user.
func CountListens(ctx context.Context, db *gorm.DB, userID uint) (int64, error) {
	var n int64
	err := db.WithContext(ctx).Model(&domain.Listen{}).
		Where("user_id = ?", userID).Count(&n).Error
	return n, err
}

// ListListensPage returns a page of a user's canonical listens, newest
// first, deterministically tie-broken by id.
func ListListensPage(ctx context.Context, db *gorm.DB, userID uint, offset, limit int) ([]domain.Listen, error) {
	var out []domain.Listen
	err := db.WithContext(ctx).
		Where("user_id = ?", userID).
		Order("listened_at DESC, id DESC").
		Offset(offset).
		Limit(limit).
		Find(&out).Error
	return out, err
}
