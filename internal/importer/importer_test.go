package importer

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"testing"
	"time"

	sqlite "github.com/glebarez/sqlite"
	"github.com/rs/zerolog"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/tbourn/go-scrobble-backend/internal/domain"
	"github.com/tbourn/go-scrobble-backend/internal/history"
	"github.com/tbourn/go-scrobble-backend/internal/repo"
)

func newImporterDB(t *testing.T) *gorm.DB {
	t.Helper()

	dsn := filepath.Join(t.TempDir(), fmt.Sprintf("importer_test_%d.db", time.Now().UnixNano()))
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

func newImportUser(t *testing.T, db *gorm.DB, username string) *domain.User {
	t.Helper()
	u := &domain.User{Name: username}
	if err := repo.CreateUserWithAccount(context.Background(), db, u, &domain.HistoryAccount{Username: username}); err != nil {
		t.Fatalf("create user: %v", err)
	}
	return u
}

// fakeHistory serves canned pages and records every request it sees.
type fakeHistory struct {
	mu    sync.Mutex
	pages map[int]*history.RecentTracksPage
	errOn map[int]error
	calls []fakeCall
}

type fakeCall struct {
	page  int
	since *time.Time
}

func (f *fakeHistory) GetRecentTracks(ctx context.Context, username string, page, pageSize int, since *time.Time) (*history.RecentTracksPage, error) {
	f.mu.Lock()
	f.calls = append(f.calls, fakeCall{page: page, since: since})
	f.mu.Unlock()
	if err := f.errOn[page]; err != nil {
		return nil, err
	}
	p, ok := f.pages[page]
	if !ok {
		return nil, fmt.Errorf("no canned page %d", page)
	}
	return p, nil
}

func played(name string, at time.Time) history.RecentTrack {
	return history.RecentTrack{TrackName: name, ArtistName: "Artist", ListenedAt: at}
}

func TestStart_NoAccount(t *testing.T) {
	db := newImporterDB(t)
	imp := New(db, &fakeHistory{}, 200, zerolog.Nop())

	_, err := imp.Start(context.Background(), &domain.User{Name: "bare"})
	if !errors.Is(err, domain.ErrAccountNotFound) {
		t.Fatalf("expected ErrAccountNotFound, got %v", err)
	}
}

func TestStart_EmitsOldestPageFirstAndCloses(t *testing.T) {
	db := newImporterDB(t)
	u := newImportUser(t, db, "pager")

	base := time.Date(2026, 6, 1, 8, 0, 0, 0, time.UTC)
	fake := &fakeHistory{pages: map[int]*history.RecentTracksPage{
		// Page 1 is the newest slice and carries a now-playing pseudo-entry.
		1: {
			Tracks: []history.RecentTrack{
				{TrackName: "Spinning Now", ArtistName: "Artist", NowPlaying: true},
				played("Newest", base.Add(2*time.Hour)),
			},
			Page: 1, TotalPages: 2, TotalCount: 3,
		},
		2: {
			Tracks:     []history.RecentTrack{played("Middle", base.Add(time.Hour)), played("Oldest", base)},
			Page:       2,
			TotalPages: 2,
			TotalCount: 3,
		},
	}}

	imp := New(db, fake, 200, zerolog.Nop())
	run, err := imp.Start(context.Background(), u)
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	if run.Total != 3 || run.Pages != 2 {
		t.Fatalf("run announced total=%d pages=%d, want 3/2", run.Total, run.Pages)
	}

	var batches []Batch
	for b := range run.Batches {
		if b.Err != nil {
			t.Fatalf("unexpected batch error: %v", b.Err)
		}
		batches = append(batches, b)
	}

	if len(batches) != 2 {
		t.Fatalf("got %d batches, want 2", len(batches))
	}
	if batches[0].Page != 2 || batches[1].Page != 1 {
		t.Fatalf("pages emitted %d,%d; want oldest page (2) first", batches[0].Page, batches[1].Page)
	}
	if len(batches[0].Listens) != 2 || batches[0].Listens[1].TrackName != "Oldest" {
		t.Fatalf("unexpected first batch: %+v", batches[0].Listens)
	}
	// The now-playing entry never reaches the store.
	if len(batches[1].Listens) != 1 || batches[1].Listens[0].TrackName != "Newest" {
		t.Fatalf("now-playing entry not dropped: %+v", batches[1].Listens)
	}
}

func TestStart_ResumesPastNewestStoredListen(t *testing.T) {
	db := newImporterDB(t)
	ctx := context.Background()
	u := newImportUser(t, db, "resumer")

	newest := time.Date(2026, 6, 2, 10, 0, 0, 0, time.UTC)
	if _, err := repo.StoreListens(ctx, db, u.ID, []repo.RawListenInput{
		{TrackName: "Stored", ArtistName: "Artist", ListenedAt: newest},
	}); err != nil {
		t.Fatalf("seed listens: %v", err)
	}

	fake := &fakeHistory{pages: map[int]*history.RecentTracksPage{
		1: {Page: 1, TotalPages: 1, TotalCount: 0},
	}}
	imp := New(db, fake, 200, zerolog.Nop())

	run, err := imp.Start(ctx, u)
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	for range run.Batches {
	}

	fake.mu.Lock()
	defer fake.mu.Unlock()
	if len(fake.calls) == 0 {
		t.Fatalf("no history calls recorded")
	}
	want := newest.Add(time.Second)
	for i, call := range fake.calls {
		if call.since == nil || !call.since.Equal(want) {
			t.Fatalf("call %d since = %v, want %v", i, call.since, want)
		}
	}
}

func TestStart_FullHistoryWhenNoListens(t *testing.T) {
	db := newImporterDB(t)
	u := newImportUser(t, db, "fresh")

	fake := &fakeHistory{pages: map[int]*history.RecentTracksPage{
		1: {Page: 1, TotalPages: 1, TotalCount: 0},
	}}
	imp := New(db, fake, 200, zerolog.Nop())

	run, err := imp.Start(context.Background(), u)
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	for range run.Batches {
	}

	fake.mu.Lock()
	defer fake.mu.Unlock()
	if fake.calls[0].since != nil {
		t.Fatalf("fresh user should import full history, got since=%v", fake.calls[0].since)
	}
}

func TestProduce_ErrorIsTerminal(t *testing.T) {
	db := newImporterDB(t)
	u := newImportUser(t, db, "failing")

	boom := errors.New("history down")
	fake := &fakeHistory{
		pages: map[int]*history.RecentTracksPage{
			1: {Page: 1, TotalPages: 3, TotalCount: 10},
			3: {Page: 3, TotalPages: 3, TotalCount: 10},
		},
		errOn: map[int]error{2: boom},
	}
	imp := New(db, fake, 200, zerolog.Nop())

	run, err := imp.Start(context.Background(), u)
	if err != nil {
		t.Fatalf("Start: %v", err)
	}

	var last Batch
	count := 0
	for b := range run.Batches {
		last = b
		count++
	}
	if count != 2 {
		t.Fatalf("got %d batches, want page 3 then the error", count)
	}
	if !errors.Is(last.Err, boom) {
		t.Fatalf("last batch err = %v, want the transport error", last.Err)
	}
}
