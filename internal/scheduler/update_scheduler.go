// Package scheduler drives the periodic background workers.
//
// This file implements the user update scheduler: one tick advances history import for at most one user under a concurrency
// ceiling. The claim (select eligible user, flip the updating flag) happens
// atomically in the repo layer; this file owns the ceiling check, the
// stuck-job recovery heuristic, and handing the claimed user to the
// importer. All counters are scheduler state, constructor-injected, so
// multiple instances (tests) never interfere.
package scheduler

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog"
	"gorm.io/gorm"

	"github.com/tbourn/go-scrobble-backend/internal/domain"
	"github.com/tbourn/go-scrobble-backend/internal/importer"
	"github.com/tbourn/go-scrobble-backend/internal/observability"
	"github.com/tbourn/go-scrobble-backend/internal/repo"
)

// UpdateScheduler claims one user per tick and runs their history import.
type UpdateScheduler struct {
	db            *gorm.DB
	importer      *importer.Importer
	maxConcurrent int
	maxWaits      int
	log           zerolog.Logger

	// waits counts consecutive at-ceiling ticks. Reaching maxWaits means
	// the in-flight import is presumed stuck and all updating flags are
	// force-cleared: liveness over safety, since a spuriously cleared flag
	// only risks a duplicate-but-idempotent import.
	waits int

	now func() time.Time
}

// NewUpdateScheduler constructs a scheduler. maxConcurrent is the import
// concurrency ceiling (1 in production); maxWaits the consecutive at-ceiling
// ticks tolerated before force-clearing flags (5 in production).
func NewUpdateScheduler(db *gorm.DB, imp *importer.Importer, maxConcurrent, maxWaits int, log zerolog.Logger) *UpdateScheduler {
	return &UpdateScheduler{
		db:            db,
		importer:      imp,
		maxConcurrent: maxConcurrent,
		maxWaits:      maxWaits,
		log:           log.With().Str("component", "update_scheduler").Logger(),
		now:           time.Now,
	}
}

// Tick advances import for at most one user and returns the number of new
// listens the history service announced for them. A tick that finds no
// eligible user, or waits out the concurrency ceiling, returns 0 with no
// error.
//
// The returned count is a promise, not a completion: listen batches persist
// asynchronously and the store layer clears the user's updating flag only
// after the final batch, so overlapping ticks see the user as busy for the
// full duration of the import.
func (s *UpdateScheduler) Tick(ctx context.Context) (int64, error) {
	updating, err := repo.CountUpdatingUsers(ctx, s.db)
	if err != nil {
		return 0, err
	}
	if updating >= int64(s.maxConcurrent) {
		s.waits++
		if s.waits < s.maxWaits {
			s.log.Debug().Int("waits", s.waits).Msg("at concurrency ceiling, waiting")
			return 0, nil
		}
		s.log.Warn().Int("waits", s.waits).Msg("import presumed stuck, force-clearing updating flags")
		if err := repo.ResetUpdatingFlags(ctx, s.db); err != nil {
			return 0, err
		}
		s.waits = 0
	}

	user, err := repo.ClaimNextUser(ctx, s.db)
	if errors.Is(err, domain.ErrNoEligibleUser) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	s.waits = 0

	run, err := s.importer.Start(ctx, user)
	if err != nil {
		// Claim released so the user stays first in the rotation.
		if relErr := repo.ReleaseUser(ctx, s.db, user.ID); relErr != nil {
			s.log.Error().Err(relErr).Uint("user_id", user.ID).Msg("releasing claim failed")
		}
		return 0, err
	}

	go s.persist(ctx, user.ID, run)
	return run.Total, nil
}

// persist drains the run's batches into the store, then closes out the
// user's claim: last-updated stamp on success, plain release on failure.
func (s *UpdateScheduler) persist(ctx context.Context, userID uint, run *importer.Run) {
	var stored int64
	failed := false
	for batch := range run.Batches {
		if batch.Err != nil {
			s.log.Error().Err(batch.Err).Uint("user_id", userID).Msg("import run failed")
			failed = true
			break
		}
		counts, err := repo.StoreListens(ctx, s.db, userID, batch.Listens)
		if err != nil {
			s.log.Error().Err(err).Uint("user_id", userID).Int("page", batch.Page).Msg("storing listen batch failed")
			failed = true
			break
		}
		stored += int64(counts.ListensInserted)
		observability.ListensStored.Add(float64(counts.ListensInserted))
	}

	if failed {
		if err := repo.ReleaseUser(ctx, s.db, userID); err != nil {
			s.log.Error().Err(err).Uint("user_id", userID).Msg("releasing claim failed")
		}
		return
	}

	if err := repo.FinishUserUpdate(ctx, s.db, userID, s.now().UTC()); err != nil {
		s.log.Error().Err(err).Uint("user_id", userID).Msg("finishing update failed")
		return
	}
	observability.ImportsCompleted.Inc()
	s.log.Info().Uint("user_id", userID).Int64("listens", stored).Msg("import finished")
}
