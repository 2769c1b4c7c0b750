// Package repo implements the data persistence layer for domain entities,
// built on GORM. This file covers catalog-resolved tracks.
//
// This file implements the write path of the catalog-match worker: adopting
// or creating the canonical track for a catalog search result, idempotently
// keyed by catalog id, plus the queries the audio-feature enrichment worker
// runs over resolved tracks.
package repo

import (
	"context"
	"errors"

	"gorm.io/gorm"

	"github.com/tbourn/go-scrobble-backend/internal/domain"
)

// CatalogArtistInput is one artist as returned by the catalog service.
type CatalogArtistInput struct {
	CatalogID string
	Name      string
	ImageURL  string
}

// CatalogTrackInput is a catalog search result together with the raw
// (TrackName, ArtistName) pair the job searched for. The pair lets the
// resolver adopt the name-keyed canonical row created at ingest time instead
// of spawning a parallel track.
type CatalogTrackInput struct {
	CatalogID  string
	Name       string
	ImageURL   string
	DurationMS int
	Artists    []CatalogArtistInput

	TrackName  string
	ArtistName string
}

// ResolveCatalogTrack returns the canonical track for a catalog search
// result, creating or enriching rows as needed. Idempotent: a track with the
// same catalog id is returned as-is, never duplicated, and artists are
// deduplicated by catalog id.
func ResolveCatalogTrack(ctx context.Context, db *gorm.DB, in CatalogTrackInput) (*domain.Track, error) {
	var out *domain.Track
	err := db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var track domain.Track
		err := tx.Where("catalog_id = ?", in.CatalogID).First(&track).Error
		if err == nil {
			out = &track
			return nil
		}
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			return err
		}

		// Prefer the canonical row the ingest path created for this pair.
		var primaryArtist *domain.Artist
		if in.ArtistName != "" {
			primaryArtist = &domain.Artist{}
			if err := tx.Where("natural_key = ?", domain.EntityKey("", in.ArtistName)).
				First(primaryArtist).Error; err != nil {
				if !errors.Is(err, gorm.ErrRecordNotFound) {
					return err
				}
				primaryArtist = nil
			}
		}

		nameKey := domain.ScopedEntityKey("", in.TrackName, in.ArtistName)
		err = tx.Where("natural_key = ?", nameKey).First(&track).Error
		switch {
		case err == nil:
			// Adopt: attach the catalog identity to the existing row.
		case errors.Is(err, gorm.ErrRecordNotFound):
			track = domain.Track{
				Name:       in.Name,
				NaturalKey: domain.EntityKey(in.CatalogID, in.Name),
			}
			if primaryArtist != nil {
				track.ArtistID = &primaryArtist.ID
			}
			if err := tx.Create(&track).Error; err != nil {
				return err
			}
		default:
			return err
		}

		track.CatalogID = in.CatalogID
		track.ImageURL = in.ImageURL
		track.DurationMS = in.DurationMS
		if err := tx.Model(&track).Updates(map[string]any{
			"catalog_id":  in.CatalogID,
			"image_url":   in.ImageURL,
			"duration_ms": in.DurationMS,
		}).Error; err != nil {
			return err
		}

		artists := make([]domain.Artist, 0, len(in.Artists))
		for _, a := range in.Artists {
			row, _, err := upsertCatalogArtist(tx, a)
			if err != nil {
				return err
			}
			artists = append(artists, *row)
		}
		if len(artists) > 0 {
			if err := tx.Model(&track).Association("Artists").Append(&artists); err != nil {
				return err
			}
		}

		out = &track
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// upsertCatalogArtist creates or returns the artist keyed by its catalog id,
// refreshing the catalog metadata on existing rows.
func upsertCatalogArtist(tx *gorm.DB, in CatalogArtistInput) (*domain.Artist, bool, error) {
	key := domain.EntityKey(in.CatalogID, in.Name)
	var a domain.Artist
	err := tx.Where("natural_key = ? OR catalog_id = ?", key, in.CatalogID).First(&a).Error
	if err == nil {
		if a.CatalogID == "" || a.ImageURL != in.ImageURL {
			a.CatalogID = in.CatalogID
			a.ImageURL = in.ImageURL
			if err := tx.Model(&a).Updates(map[string]any{
				"catalog_id": in.CatalogID,
				"image_url":  in.ImageURL,
			}).Error; err != nil {
				return nil, false, err
			}
		}
		return &a, false, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, false, err
	}

	// The ingest path may have created this artist keyed by name; adopt it.
	if err := tx.Where("natural_key = ?", domain.EntityKey("", in.Name)).First(&a).Error; err == nil {
		a.CatalogID = in.CatalogID
		a.ImageURL = in.ImageURL
		if err := tx.Model(&a).Updates(map[string]any{
			"catalog_id": in.CatalogID,
			"image_url":  in.ImageURL,
		}).Error; err != nil {
			return nil, false, err
		}
		return &a, false, nil
	} else if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, false, err
	}

	a = domain.Artist{
		Name:       in.Name,
		CatalogID:  in.CatalogID,
		ImageURL:   in.ImageURL,
		NaturalKey: key,
	}
	if err := tx.Create(&a).Error; err != nil {
		return nil, false, err
	}
	return &a, true, nil
}

// GetTrack fetches a track with its artists by id.
func GetTrack(ctx context.Context, db *gorm.DB, id uint) (*domain.Track, error) {
	var t domain.Track
	err := db.WithContext(ctx).Preload("Artists").First(&t, id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, domain.ErrTrackNotFound
	}
	if err != nil {
		return nil, err
	}
	return &t, nil
}

// TracksMissingFeatures returns up to limit resolved tracks that have a
// catalog identity but no audio features yet, oldest first. Feed for the
// enrichment worker.
func TracksMissingFeatures(ctx context.Context, db *gorm.DB, limit int) ([]domain.Track, error) {
	var out []domain.Track
	err := db.WithContext(ctx).
		Where("catalog_id <> '' AND has_audio_features = ?", false).
		Order("id ASC").
		Limit(limit).
		Find(&out).Error
	return out, err
}

// AudioFeaturesInput carries one track's audio features from the catalog
// service, addressed by catalog id.
type AudioFeaturesInput struct {
	CatalogID    string
	Tempo        float64
	Energy       float64
	Danceability float64
	Valence      float64
}

// MarkFeaturesUnavailable records that the catalog has no audio analysis for
// the given catalog ids. The tracks keep zero-valued features but leave the
// missing-features backlog, so one analysis-less batch cannot block the
// tracks behind it forever.
func MarkFeaturesUnavailable(ctx context.Context, db *gorm.DB, catalogIDs []string) error {
	if len(catalogIDs) == 0 {
		return nil
	}
	return db.WithContext(ctx).Model(&domain.Track{}).
		Where("catalog_id IN ?", catalogIDs).
		Update("has_audio_features", true).Error
}

// SaveAudioFeatures stores fetched audio features on their tracks.
func SaveAudioFeatures(ctx context.Context, db *gorm.DB, features []AudioFeaturesInput) error {
	return db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		for _, f := range features {
			if f.CatalogID == "" {
				continue
			}
			if err := tx.Model(&domain.Track{}).
				Where("catalog_id = ?", f.CatalogID).
				Updates(map[string]any{
					"has_audio_features": true,
					"tempo":              f.Tempo,
					"energy":             f.Energy,
					"danceability":       f.Danceability,
					"valence":            f.Valence,
				}).Error; err != nil {
				return err
			}
		}
		return nil
	})
}
