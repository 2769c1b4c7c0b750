// Package matcher implements the catalog-match worker: it drains the
// catalog search job queue one job per tick, resolves each (track, artist)
// pair against the catalog service, and back-links every listen sharing the
// pair to the resolved track.
//
// Rate limits never fail a job. On a 429 the worker retains the claimed job
// in memory and asks its trigger to pause (the Retry-After hint when given,
// a configured default otherwise); the next tick re-attempts the retained
// job without re-claiming, so the claim flag keeps excluding other workers
// for the whole episode. Crash recovery is the startup ResetSearchingFlags
// sweep.
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

// CatalogClient is the slice of the catalog service client the worker needs.
type CatalogClient interface {
	SearchTrack(ctx context.Context, trackName, artistName string) (*catalog.Track, error)
}

// Matcher executes catalog search jobs. Single-threaded per instance; run
// more instances for more throughput, the claim protocol keeps them off
// each other's jobs.
type Matcher struct {
	db      *gorm.DB
	client  CatalogClient
	backoff time.Duration // pause on 429 without a Retry-After hint
	idle    time.Duration // pause when the queue is empty
	log     zerolog.Logger

	// current is the claimed job retained across a rate-limit pause.
	current *domain.CatalogSearchJob

	now func() time.Time
}

// New constructs a Matcher.
func New(db *gorm.DB, client CatalogClient, backoff, idle time.Duration, log zerolog.Logger) *Matcher {
	return &Matcher{
		db:      db,
		client:  client,
		backoff: backoff,
		idle:    idle,
		log:     log.With().Str("component", "matcher").Logger(),
		now:     time.Now,
	}
}

// Tick processes one job. The returned pause is non-zero when the trigger
// should back off: queue empty (idle delay) or catalog rate limit
// (Retry-After or the default backoff).
func (m *Matcher) Tick(ctx context.Context) (time.Duration, error) {
	job := m.current
	if job == nil {
		var err error
		job, err = repo.ClaimNextSearchJob(ctx, m.db)
		if errors.Is(err, domain.ErrNoPendingJobs) {
			return m.idle, nil
		}
		if err != nil {
			return 0, err
		}
	}

	match, err := m.client.SearchTrack(ctx, job.TrackName, job.ArtistName)

	var rl *domain.RateLimitError
	switch {
	case errors.As(err, &rl):
		// Keep the claim and the job; re-attempt after the pause.
		m.current = job
		pause := m.backoff
		if rl.RetryAfter != nil {
			pause = *rl.RetryAfter
		}
		observability.CatalogRateLimits.Inc()
		m.log.Warn().Dur("pause", pause).Uint("job_id", job.ID).Msg("catalog rate limited, pausing")
		return pause, nil

	case errors.Is(err, domain.ErrTrackNotFound):
		// Terminal no-match: searched, no track, never retried automatically.
		m.current = nil
		if err := repo.CompleteSearchJob(ctx, m.db, job.ID, nil, m.now().UTC()); err != nil {
			m.release(ctx, job.ID)
			return 0, err
		}
		observability.JobsCompleted.WithLabelValues("no_match").Inc()
		m.log.Info().Uint("job_id", job.ID).Str("track", job.TrackName).Msg("no catalog match")
		return 0, nil

	case err != nil:
		// Unexpected failure: release the claim so the job stays pending.
		m.current = nil
		m.release(ctx, job.ID)
		return 0, err
	}

	track, err := m.resolve(ctx, job, match)
	if err != nil {
		m.current = nil
		m.release(ctx, job.ID)
		return 0, err
	}

	m.current = nil
	if err := repo.CompleteSearchJob(ctx, m.db, job.ID, &track.ID, m.now().UTC()); err != nil {
		m.release(ctx, job.ID)
		return 0, err
	}
	observability.JobsCompleted.WithLabelValues("matched").Inc()
	return 0, nil
}

// release returns the job to pending. Cleanup runs on a detached context so
// a canceled tick cannot leave the claim flag held until the next restart's
// ResetSearchingFlags sweep.
func (m *Matcher) release(ctx context.Context, jobID uint) {
	if err := repo.ReleaseSearchJob(context.WithoutCancel(ctx), m.db, jobID); err != nil {
		m.log.Error().Err(err).Uint("job_id", jobID).Msg("releasing job failed")
	}
}

// resolve upserts the matched track and bulk-links the pair's listens.
func (m *Matcher) resolve(ctx context.Context, job *domain.CatalogSearchJob, match *catalog.Track) (*domain.Track, error) {
	in := repo.CatalogTrackInput{
		CatalogID:  match.ID,
		Name:       match.Name,
		ImageURL:   match.ImageURL(),
		DurationMS: match.DurationMS,
		TrackName:  job.TrackName,
		ArtistName: job.ArtistName,
	}
	for _, a := range match.Artists {
		in.Artists = append(in.Artists, repo.CatalogArtistInput{CatalogID: a.ID, Name: a.Name})
	}

	track, err := repo.ResolveCatalogTrack(ctx, m.db, in)
	if err != nil {
		return nil, err
	}

	linked, err := repo.LinkListensToTrack(ctx, m.db, job.TrackName, job.ArtistName, track.ID, m.now().UTC())
	if err != nil {
		return nil, err
	}
	m.log.Info().
		Uint("job_id", job.ID).
		Uint("track_id", track.ID).
		Str("catalog_id", track.CatalogID).
		Int64("linked", linked).
		Msg("catalog match resolved")
	return track, nil
}
