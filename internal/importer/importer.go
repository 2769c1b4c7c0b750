// Package importer implements the per-user incremental history import: an
// asynchronous, finite producer that walks the history service's
// newest-first pagination backwards so listens are emitted oldest page
// first, preserving chronological order downstream.
//
// A run has exactly three observable phases: the announced total (known as
// soon as Start returns), zero or more page batches received from the Batches
// channel, and the channel closing once all pages are fetched. Consumers
// persist each batch themselves; because delivery is channel-based, batch
// ordering is guaranteed even though the producer keeps fetching while a
// batch is being stored.
package importer

import (
	"context"
	"time"

	"github.com/rs/zerolog"
	"gorm.io/gorm"

	"github.com/tbourn/go-scrobble-backend/internal/domain"
	"github.com/tbourn/go-scrobble-backend/internal/history"
	"github.com/tbourn/go-scrobble-backend/internal/repo"
)

// HistoryClient is the slice of the history service client a run needs.
type HistoryClient interface {
	GetRecentTracks(ctx context.Context, username string, page, pageSize int, since *time.Time) (*history.RecentTracksPage, error)
}

// Batch is one fetched page of raw listens, converted to store inputs.
// A non-nil Err is terminal: it is the last value before the channel closes
// and the run must be considered failed.
type Batch struct {
	Page    int
	Listens []repo.RawListenInput
	Err     error
}

// Run is one in-flight import. Total is the new-listen count the history
// service announced up front; Batches yields one value per page, oldest
// page first, and closes when the import ends.
type Run struct {
	Total   int64
	Pages   int
	Batches <-chan Batch
}

// Importer builds import runs for users with a verified history account.
type Importer struct {
	db       *gorm.DB
	client   HistoryClient
	pageSize int
	log      zerolog.Logger
}

// New constructs an Importer. pageSize is the fixed page size used for
// every history request (200 in production).
func New(db *gorm.DB, client HistoryClient, pageSize int, log zerolog.Logger) *Importer {
	return &Importer{
		db:       db,
		client:   client,
		pageSize: pageSize,
		log:      log.With().Str("component", "importer").Logger(),
	}
}

// Start begins an import for the user and returns once the total new-listen
// count is known. The caller must drain Batches; the producer goroutine
// stops on the first error or after the final page.
//
// Resume semantics: when the user already has raw listens, only listens
// strictly newer than the most recent recorded one are fetched (one second
// past it, since the history service's since-parameter is inclusive).
// Otherwise the full history is imported.
func (imp *Importer) Start(ctx context.Context, user *domain.User) (*Run, error) {
	if user.HistoryAccount == nil {
		return nil, domain.ErrAccountNotFound
	}
	username := user.HistoryAccount.Username

	since, err := imp.resumePoint(ctx, user.ID)
	if err != nil {
		return nil, err
	}

	first, err := imp.client.GetRecentTracks(ctx, username, 1, imp.pageSize, since)
	if err != nil {
		return nil, err
	}

	out := make(chan Batch)
	run := &Run{
		Total:   first.TotalCount,
		Pages:   first.TotalPages,
		Batches: out,
	}

	imp.log.Info().
		Uint("user_id", user.ID).
		Str("username", username).
		Int64("total", run.Total).
		Int("pages", run.Pages).
		Msg("import started")

	go imp.produce(ctx, username, since, run.Pages, out)
	return run, nil
}

// produce walks pages from last to first, emitting one batch per page.
func (imp *Importer) produce(ctx context.Context, username string, since *time.Time, totalPages int, out chan<- Batch) {
	defer close(out)

	for page := totalPages; page >= 1; page-- {
		res, err := imp.client.GetRecentTracks(ctx, username, page, imp.pageSize, since)
		if err != nil {
			imp.log.Error().Err(err).Int("page", page).Msg("import failed")
			select {
			case out <- Batch{Page: page, Err: err}:
			case <-ctx.Done():
			}
			return
		}

		batch := Batch{Page: page, Listens: convert(res.Tracks)}
		select {
		case out <- batch:
		case <-ctx.Done():
			return
		}
	}
}

// resumePoint returns one second past the newest recorded listen, or nil
// for a full-history import.
func (imp *Importer) resumePoint(ctx context.Context, userID uint) (*time.Time, error) {
	latest, err := repo.LatestRawListenTime(ctx, imp.db, userID)
	if err != nil {
		return nil, err
	}
	if latest == nil {
		return nil, nil
	}
	t := latest.Add(time.Second)
	return &t, nil
}

// convert maps history tracks to store inputs, dropping the now-playing
// pseudo-entry and anything without a timestamp.
func convert(tracks []history.RecentTrack) []repo.RawListenInput {
	out := make([]repo.RawListenInput, 0, len(tracks))
	for _, t := range tracks {
		if t.NowPlaying || t.ListenedAt.IsZero() {
			continue
		}
		out = append(out, repo.RawListenInput{
			TrackName:  t.TrackName,
			ArtistName: t.ArtistName,
			AlbumName:  t.AlbumName,
			TrackMBID:  t.TrackMBID,
			ArtistMBID: t.ArtistMBID,
			AlbumMBID:  t.AlbumMBID,
			ImageURL:   t.ImageURL,
			ListenedAt: t.ListenedAt,
		})
	}
	return out
}
