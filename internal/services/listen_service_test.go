package services

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/tbourn/go-scrobble-backend/internal/domain"
	"github.com/tbourn/go-scrobble-backend/internal/history"
	"github.com/tbourn/go-scrobble-backend/internal/repo"
)

func registerTestUser(t *testing.T, svc *UserService, username string) *domain.User {
	t.Helper()
	u, _, err := svc.Register(context.Background(), username, username)
	if err != nil {
		t.Fatalf("register %s: %v", username, err)
	}
	return u
}

func TestStoreListens_UnknownUser(t *testing.T) {
	db := newServicesDB(t)
	svc := NewListenService(db)

	_, err := svc.StoreListens(context.Background(), 404, []repo.RawListenInput{
		{TrackName: "A", ArtistName: "X", ListenedAt: time.Now().UTC()},
	})
	if !errors.Is(err, domain.ErrUserNotFound) {
		t.Fatalf("err = %v, want ErrUserNotFound", err)
	}
}

func TestStoreListens_PersistsBatch(t *testing.T) {
	db := newServicesDB(t)
	users := NewUserService(db, &fakeVerifier{info: &history.AccountInfo{Username: "store_fm"}})
	u := registerTestUser(t, users, "store_fm")
	svc := NewListenService(db)
	ctx := context.Background()

	at := time.Date(2026, 8, 10, 9, 0, 0, 0, time.UTC)
	counts, err := svc.StoreListens(ctx, u.ID, []repo.RawListenInput{
		{TrackName: "Daydreaming", ArtistName: "Radiohead", ListenedAt: at},
	})
	if err != nil {
		t.Fatalf("StoreListens: %v", err)
	}
	if counts.ListensInserted != 1 {
		t.Fatalf("counts = %+v", counts)
	}

	items, total, err := svc.ListListens(ctx, u.ID, 0, 10)
	if err != nil {
		t.Fatalf("ListListens: %v", err)
	}
	if total != 1 || len(items) != 1 {
		t.Fatalf("total=%d items=%d, want 1/1", total, len(items))
	}
}

func TestListListens_EmptyStore(t *testing.T) {
	db := newServicesDB(t)
	users := NewUserService(db, &fakeVerifier{info: &history.AccountInfo{Username: "empty_fm"}})
	u := registerTestUser(t, users, "empty_fm")
	svc := NewListenService(db)

	items, total, err := svc.ListListens(context.Background(), u.ID, 0, 10)
	if err != nil {
		t.Fatalf("ListListens: %v", err)
	}
	if total != 0 || len(items) != 0 {
		t.Fatalf("total=%d items=%d, want 0/0", total, len(items))
	}
}

func TestGetTrackFromRawListenID_Pending(t *testing.T) {
	db := newServicesDB(t)
	users := NewUserService(db, &fakeVerifier{info: &history.AccountInfo{Username: "pend_fm"}})
	u := registerTestUser(t, users, "pend_fm")
	svc := NewListenService(db)
	ctx := context.Background()

	if _, err := svc.StoreListens(ctx, u.ID, []repo.RawListenInput{
		{TrackName: "True Love Waits", ArtistName: "Radiohead", ListenedAt: time.Date(2026, 8, 11, 9, 0, 0, 0, time.UTC)},
	}); err != nil {
		t.Fatalf("StoreListens: %v", err)
	}

	var raw domain.RawListen
	if err := db.First(&raw).Error; err != nil {
		t.Fatalf("load raw: %v", err)
	}
	if _, err := svc.GetTrackFromRawListenID(ctx, raw.ID); !errors.Is(err, domain.ErrTrackNotFound) {
		t.Fatalf("err = %v, want ErrTrackNotFound before matching", err)
	}
}
