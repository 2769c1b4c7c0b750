package matcher

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	sqlite "github.com/glebarez/sqlite"
	"github.com/rs/zerolog"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/tbourn/go-scrobble-backend/internal/catalog"
	"github.com/tbourn/go-scrobble-backend/internal/domain"
	"github.com/tbourn/go-scrobble-backend/internal/repo"
)

func newMatcherDB(t *testing.T) *gorm.DB {
	t.Helper()

	dsn := filepath.Join(t.TempDir(), fmt.Sprintf("matcher_test_%d.db", time.Now().UnixNano()))
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		t.Fatalf("raw db: %v", err)
	}
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })

	if err := repo.AutoMigrate(db); err != nil {
		t.Fatalf("automigrate: %v", err)
	}
	return db
}

// fakeCatalog returns queued responses in order, one per SearchTrack call.
type fakeCatalog struct {
	responses []searchResponse
	calls     int
}

type searchResponse struct {
	track *catalog.Track
	err   error
}

func (f *fakeCatalog) SearchTrack(ctx context.Context, trackName, artistName string) (*catalog.Track, error) {
	if f.calls >= len(f.responses) {
		return nil, fmt.Errorf("unexpected SearchTrack call %d", f.calls)
	}
	r := f.responses[f.calls]
	f.calls++
	return r.track, r.err
}

func catalogTrack(id, name string) *catalog.Track {
	return &catalog.Track{
		ID:         id,
		Name:       name,
		DurationMS: 200000,
		Artists:    []catalog.Artist{{ID: id + "-artist", Name: "Radiohead"}},
	}
}

func seedPair(t *testing.T, db *gorm.DB, track, artist string) {
	t.Helper()
	u := &domain.User{Name: "m"}
	if err := repo.CreateUserWithAccount(context.Background(), db, u, &domain.HistoryAccount{Username: fmt.Sprintf("m_%d_fm", time.Now().UnixNano())}); err != nil {
		t.Fatalf("create user: %v", err)
	}
	if _, err := repo.StoreListens(context.Background(), db, u.ID, []repo.RawListenInput{
		{TrackName: track, ArtistName: artist, ListenedAt: time.Date(2026, 7, 1, 8, 0, 0, 0, time.UTC)},
	}); err != nil {
		t.Fatalf("seed listens: %v", err)
	}
}

func loadOnlyJob(t *testing.T, db *gorm.DB) domain.CatalogSearchJob {
	t.Helper()
	var job domain.CatalogSearchJob
	if err := db.First(&job).Error; err != nil {
		t.Fatalf("load job: %v", err)
	}
	return job
}

func TestTick_IdleWhenQueueEmpty(t *testing.T) {
	db := newMatcherDB(t)
	m := New(db, &fakeCatalog{}, 5*time.Minute, time.Minute, zerolog.Nop())

	pause, err := m.Tick(context.Background())
	if err != nil {
		t.Fatalf("Tick: %v", err)
	}
	if pause != time.Minute {
		t.Fatalf("pause = %v, want the idle delay", pause)
	}
}

func TestTick_MatchResolvesAndLinks(t *testing.T) {
	db := newMatcherDB(t)
	ctx := context.Background()
	seedPair(t, db, "Let Down", "Radiohead")

	fake := &fakeCatalog{responses: []searchResponse{{track: catalogTrack("cat-1", "Let Down")}}}
	m := New(db, fake, 5*time.Minute, time.Minute, zerolog.Nop())

	pause, err := m.Tick(ctx)
	if err != nil {
		t.Fatalf("Tick: %v", err)
	}
	if pause != 0 {
		t.Fatalf("pause = %v, want 0 after a completed job", pause)
	}

	job := loadOnlyJob(t, db)
	if job.SearchedAt == nil || job.IsBeingSearched || job.TrackID == nil {
		t.Fatalf("job not terminal with track: %+v", job)
	}

	track, err := repo.GetTrack(ctx, db, *job.TrackID)
	if err != nil {
		t.Fatalf("GetTrack: %v", err)
	}
	if track.CatalogID != "cat-1" {
		t.Fatalf("catalog id not attached: %+v", track)
	}

	var unlinked int64
	if err := db.Model(&domain.RawListen{}).Where("track_id IS NULL").Count(&unlinked).Error; err != nil {
		t.Fatalf("count raw: %v", err)
	}
	if unlinked != 0 {
		t.Fatalf("%d raw listens left unlinked after match", unlinked)
	}
}

func TestTick_RateLimitRetainsJobAcrossPause(t *testing.T) {
	db := newMatcherDB(t)
	ctx := context.Background()
	seedPair(t, db, "No Surprises", "Radiohead")

	retryAfter := 120 * time.Second
	fake := &fakeCatalog{responses: []searchResponse{
		{err: &domain.RateLimitError{Service: "catalog", RetryAfter: &retryAfter}},
		{track: catalogTrack("cat-2", "No Surprises")},
	}}
	m := New(db, fake, 5*time.Minute, time.Minute, zerolog.Nop())

	pause, err := m.Tick(ctx)
	if err != nil {
		t.Fatalf("rate-limited tick must not error: %v", err)
	}
	if pause != retryAfter {
		t.Fatalf("pause = %v, want the Retry-After hint %v", pause, retryAfter)
	}

	// The job survives the pause untouched: still claimed, never searched.
	job := loadOnlyJob(t, db)
	if job.SearchedAt != nil {
		t.Fatalf("rate limit must not mark the job searched: %+v", job)
	}
	if !job.IsBeingSearched {
		t.Fatalf("claim flag dropped during pause: %+v", job)
	}

	// Next tick re-attempts the retained job without re-claiming.
	pause, err = m.Tick(ctx)
	if err != nil {
		t.Fatalf("retry tick: %v", err)
	}
	if pause != 0 {
		t.Fatalf("pause after retry = %v, want 0", pause)
	}
	job = loadOnlyJob(t, db)
	if job.SearchedAt == nil || job.TrackID == nil {
		t.Fatalf("retried job not completed: %+v", job)
	}
	if fake.calls != 2 {
		t.Fatalf("SearchTrack called %d times, want 2", fake.calls)
	}
}

func TestTick_RateLimitWithoutHintUsesBackoff(t *testing.T) {
	db := newMatcherDB(t)
	seedPair(t, db, "Lotus Flower", "Radiohead")

	fake := &fakeCatalog{responses: []searchResponse{
		{err: &domain.RateLimitError{Service: "catalog"}},
	}}
	backoff := 5 * time.Minute
	m := New(db, fake, backoff, time.Minute, zerolog.Nop())

	pause, err := m.Tick(context.Background())
	if err != nil {
		t.Fatalf("Tick: %v", err)
	}
	if pause != backoff {
		t.Fatalf("pause = %v, want the default backoff %v", pause, backoff)
	}
}

func TestTick_NoMatchIsTerminal(t *testing.T) {
	db := newMatcherDB(t)
	seedPair(t, db, "Obscure B-Side", "Nobody Band")

	fake := &fakeCatalog{responses: []searchResponse{{err: domain.ErrTrackNotFound}}}
	m := New(db, fake, 5*time.Minute, time.Minute, zerolog.Nop())

	pause, err := m.Tick(context.Background())
	if err != nil {
		t.Fatalf("Tick: %v", err)
	}
	if pause != 0 {
		t.Fatalf("pause = %v, want 0", pause)
	}

	job := loadOnlyJob(t, db)
	if job.SearchedAt == nil || job.IsBeingSearched {
		t.Fatalf("no-match job not terminal: %+v", job)
	}
	if job.TrackID != nil {
		t.Fatalf("no-match job must carry no track: %+v", job)
	}
}

// cancelingCatalog cancels the tick's context before answering, simulating a
// shutdown racing the job's completion write.
type cancelingCatalog struct {
	cancel context.CancelFunc
	err    error
}

func (c *cancelingCatalog) SearchTrack(ctx context.Context, trackName, artistName string) (*catalog.Track, error) {
	c.cancel()
	return nil, c.err
}

func TestTick_CompletionFailureReleasesJob(t *testing.T) {
	db := newMatcherDB(t)
	seedPair(t, db, "Fake Plastic Trees", "Radiohead")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	m := New(db, &cancelingCatalog{cancel: cancel, err: domain.ErrTrackNotFound}, 5*time.Minute, time.Minute, zerolog.Nop())

	if _, err := m.Tick(ctx); err == nil {
		t.Fatalf("expected the completion write to fail under a canceled context")
	}

	// The claim must not survive the failed completion; the job is pending
	// again without waiting for a restart sweep.
	job := loadOnlyJob(t, db)
	if job.IsBeingSearched || job.SearchedAt != nil {
		t.Fatalf("job stuck after failed completion: %+v", job)
	}

	// A fresh worker can claim and finish it.
	fake := &fakeCatalog{responses: []searchResponse{{err: domain.ErrTrackNotFound}}}
	m2 := New(db, fake, 5*time.Minute, time.Minute, zerolog.Nop())
	if _, err := m2.Tick(context.Background()); err != nil {
		t.Fatalf("reclaim tick: %v", err)
	}
	job = loadOnlyJob(t, db)
	if job.SearchedAt == nil || job.IsBeingSearched {
		t.Fatalf("reclaimed job not terminal: %+v", job)
	}
}

func TestTick_UnexpectedErrorReleasesJob(t *testing.T) {
	db := newMatcherDB(t)
	ctx := context.Background()
	seedPair(t, db, "Glitchy", "Radiohead")

	boom := errors.New("catalog exploded")
	fake := &fakeCatalog{responses: []searchResponse{{err: boom}}}
	m := New(db, fake, 5*time.Minute, time.Minute, zerolog.Nop())

	if _, err := m.Tick(ctx); !errors.Is(err, boom) {
		t.Fatalf("Tick err = %v, want the transport error", err)
	}

	// The job went back to pending, claimable by anyone.
	job := loadOnlyJob(t, db)
	if job.SearchedAt != nil || job.IsBeingSearched {
		t.Fatalf("failed job not released: %+v", job)
	}
}
