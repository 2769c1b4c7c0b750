// Package matcher resolves ingested tracks against the catalog service.
//
// This file implements the audio feature enrichment worker, the third job
// family: tracks that gained a catalog identity but have no
// audio features yet are batched through the catalog's audio-features
// endpoint. Same backoff discipline as the match worker.
package matcher

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog"
	"gorm.io/gorm"

	"github.com/tbourn/go-scrobble-backend/internal/catalog"
	"github.com/tbourn/go-scrobble-backend/internal/domain"
	"github.com/tbourn/go-scrobble-backend/internal/observability"
	"github.com/tbourn/go-scrobble-backend/internal/repo"
)

// FeaturesClient is the slice of the catalog client the enricher needs.
type FeaturesClient interface {
	GetAudioFeatures(ctx context.Context, ids []string) ([]catalog.AudioFeatures, error)
}

// FeatureEnricher backfills audio features onto resolved tracks.
type FeatureEnricher struct {
	db        *gorm.DB
	client    FeaturesClient
	batchSize int
	backoff   time.Duration
	idle      time.Duration
	log       zerolog.Logger
}

// NewFeatureEnricher constructs an enricher fetching up to batchSize tracks
// per tick.
func NewFeatureEnricher(db *gorm.DB, client FeaturesClient, batchSize int, backoff, idle time.Duration, log zerolog.Logger) *FeatureEnricher {
	if batchSize < 1 {
		batchSize = 1
	}
	if batchSize > 100 {
		batchSize = 100
	}
	return &FeatureEnricher{
		db:        db,
		client:    client,
		batchSize: batchSize,
		backoff:   backoff,
		idle:      idle,
		log:       log.With().Str("component", "feature_enricher").Logger(),
	}
}

// Tick enriches one batch of tracks. Pauses on empty backlog or rate limit.
func (e *FeatureEnricher) Tick(ctx context.Context) (time.Duration, error) {
	tracks, err := repo.TracksMissingFeatures(ctx, e.db, e.batchSize)
	if err != nil {
		return 0, err
	}
	if len(tracks) == 0 {
		return e.idle, nil
	}

	ids := make([]string, 0, len(tracks))
	for _, t := range tracks {
		ids = append(ids, t.CatalogID)
	}

	features, err := e.client.GetAudioFeatures(ctx, ids)
	var rl *domain.RateLimitError
	if errors.As(err, &rl) {
		pause := e.backoff
		if rl.RetryAfter != nil {
			pause = *rl.RetryAfter
		}
		observability.CatalogRateLimits.Inc()
		e.log.Warn().Dur("pause", pause).Msg("catalog rate limited, pausing enrichment")
		return pause, nil
	}
	if err != nil {
		return 0, err
	}

	returned := make(map[string]struct{}, len(features))
	inputs := make([]repo.AudioFeaturesInput, 0, len(features))
	for _, f := range features {
		returned[f.ID] = struct{}{}
		inputs = append(inputs, repo.AudioFeaturesInput{
			CatalogID:    f.ID,
			Tempo:        f.Tempo,
			Energy:       f.Energy,
			Danceability: f.Danceability,
			Valence:      f.Valence,
		})
	}
	if err := repo.SaveAudioFeatures(ctx, e.db, inputs); err != nil {
		return 0, err
	}

	// The catalog returns null for tracks it has no analysis for. Mark them
	// attempted so the backlog window moves past them.
	unavailable := make([]string, 0)
	for _, id := range ids {
		if _, ok := returned[id]; !ok {
			unavailable = append(unavailable, id)
		}
	}
	if len(unavailable) > 0 {
		if err := repo.MarkFeaturesUnavailable(ctx, e.db, unavailable); err != nil {
			return 0, err
		}
		e.log.Info().Int("tracks", len(unavailable)).Msg("no audio analysis available")
	}

	observability.TracksEnriched.Add(float64(len(inputs)))
	e.log.Info().Int("tracks", len(inputs)).Msg("audio features stored")
	return 0, nil
}
