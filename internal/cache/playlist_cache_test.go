package cache

import (
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/tbourn/go-scrobble-backend/internal/domain"
)

func mkTracks(n int) []domain.Track {
	out := make([]domain.Track, n)
	for i := range out {
		out[i] = domain.Track{Name: fmt.Sprintf("t%d", i)}
	}
	return out
}

func TestNew_InvalidCapacity(t *testing.T) {
	for _, capacity := range []int{0, -1} {
		if _, err := New(capacity, time.Hour); !errors.Is(err, ErrInvalidCapacity) {
			t.Fatalf("New(%d) err = %v, want ErrInvalidCapacity", capacity, err)
		}
	}
}

func TestNew_ZeroTTLDefaults(t *testing.T) {
	c, err := New(10, 0)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if c.ttl != DefaultTTL {
		t.Fatalf("ttl = %v, want DefaultTTL", c.ttl)
	}
}

func TestKey_PairOrderIndependentLookup(t *testing.T) {
	c, err := New(100, time.Hour)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	primary, _ := Key(1, 2, "tempo")
	c.Set(primary, mkTracks(3))

	// Look up the same pair in the opposite order.
	flipped, alt := Key(2, 1, "tempo")
	got, ok := c.Get(flipped, alt)
	if !ok || len(got) != 3 {
		t.Fatalf("reverse-order lookup missed: ok=%v len=%d", ok, len(got))
	}

	// A different preference is a different playlist.
	otherPref, otherAlt := Key(1, 2, "energy")
	if _, ok := c.Get(otherPref, otherAlt); ok {
		t.Fatalf("preference must partition the cache")
	}
}

func TestSet_OversizedPlaylistRejected(t *testing.T) {
	c, err := New(3, time.Hour)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	c.Set("big", mkTracks(4))
	if _, ok := c.Get("big", ""); ok {
		t.Fatalf("oversized playlist should not have been cached")
	}
	if c.Used() != 0 || c.Len() != 0 {
		t.Fatalf("oversized set changed state: used=%d len=%d", c.Used(), c.Len())
	}
}

func TestSet_EvictsLeastRecentlyUsed(t *testing.T) {
	c, err := New(3, time.Hour)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	c.Set("a", mkTracks(1))
	c.Set("b", mkTracks(1))
	c.Set("c", mkTracks(1))

	// Touch "a" so "b" is the coldest.
	if _, ok := c.Get("a", ""); !ok {
		t.Fatalf("warm-up read missed")
	}

	c.Set("d", mkTracks(1))

	if _, ok := c.Get("b", ""); ok {
		t.Fatalf("expected the least recently used entry to be evicted")
	}
	for _, key := range []string{"a", "c", "d"} {
		if _, ok := c.Get(key, ""); !ok {
			t.Fatalf("entry %q unexpectedly evicted", key)
		}
	}
}

func TestSet_WeightedEviction(t *testing.T) {
	c, err := New(10, time.Hour)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	c.Set("heavy", mkTracks(6))
	c.Set("light", mkTracks(3))

	// 9 used; a 5-track entry must push out the cold 6-track one.
	c.Set("incoming", mkTracks(5))

	if _, ok := c.Get("heavy", ""); ok {
		t.Fatalf("heavy cold entry should have been evicted")
	}
	if _, ok := c.Get("light", ""); !ok {
		t.Fatalf("light entry evicted unnecessarily")
	}
	if _, ok := c.Get("incoming", ""); !ok {
		t.Fatalf("incoming entry missing")
	}
	if c.Used() != 8 {
		t.Fatalf("used = %d, want 8", c.Used())
	}
}

func TestSet_ReplacesExistingKey(t *testing.T) {
	c, err := New(10, time.Hour)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	c.Set("pair", mkTracks(4))
	c.Set("pair", mkTracks(2))

	got, ok := c.Get("pair", "")
	if !ok || len(got) != 2 {
		t.Fatalf("replacement not visible: ok=%v len=%d", ok, len(got))
	}
	if c.Used() != 2 || c.Len() != 1 {
		t.Fatalf("replace leaked weight: used=%d len=%d", c.Used(), c.Len())
	}
}

func TestGet_ExpiredEntryDropped(t *testing.T) {
	c, err := New(10, time.Hour)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	clock := time.Date(2026, 9, 1, 12, 0, 0, 0, time.UTC)
	c.now = func() time.Time { return clock }

	c.Set("stale", mkTracks(3))

	clock = clock.Add(30 * time.Minute)
	if _, ok := c.Get("stale", ""); !ok {
		t.Fatalf("entry expired before its TTL")
	}

	clock = clock.Add(31 * time.Minute)
	if _, ok := c.Get("stale", ""); ok {
		t.Fatalf("expired entry served")
	}
	if c.Used() != 0 || c.Len() != 0 {
		t.Fatalf("expired entry not purged: used=%d len=%d", c.Used(), c.Len())
	}
}
