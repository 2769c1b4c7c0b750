// Package history implements the typed client for the external listening
// history service. The service speaks a Last.fm-shaped JSON API: account
// info plus paginated recent tracks, newest first.
//
// Transport behavior owned by this client, so callers never special-case it:
//   - transient 5xx responses are retried up to 3 times with a short pause
//   - 429 surfaces as *domain.RateLimitError carrying the Retry-After hint
//   - 404 on account info surfaces as domain.ErrAccountNotFound
package history

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/rs/zerolog"

	"github.com/tbourn/go-scrobble-backend/internal/domain"
)

// maxAttempts bounds the internal retry loop for transient 5xx failures.
const maxAttempts = 3

// retryPause is the delay between transient-failure attempts.
const retryPause = 500 * time.Millisecond

// Client talks to the history service. Zero-value is not usable; construct
// with New.
type Client struct {
	baseURL string
	apiKey  string
	http    *http.Client
	log     zerolog.Logger
}

// New constructs a history client.
func New(baseURL, apiKey string, timeout time.Duration, log zerolog.Logger) *Client {
	return &Client{
		baseURL: baseURL,
		apiKey:  apiKey,
		http:    &http.Client{Timeout: timeout},
		log:     log.With().Str("component", "history_client").Logger(),
	}
}

// AccountInfo is the history service's view of a user account.
type AccountInfo struct {
	Username     string
	URL          string
	RegisteredAt time.Time
	PlayCount    int64
	TrackCount   int64
}

// RecentTrack is one play event from the recent-tracks feed.
type RecentTrack struct {
	TrackName  string
	ArtistName string
	AlbumName  string
	TrackMBID  string
	ArtistMBID string
	AlbumMBID  string
	ImageURL   string
	ListenedAt time.Time
	// NowPlaying marks the in-progress scrobble the service prepends to
	// page 1; it has no timestamp and is skipped by the importer.
	NowPlaying bool
}

// RecentTracksPage is one page of the newest-first recent-tracks feed plus
// the pagination attributes the importer needs for its page countdown.
type RecentTracksPage struct {
	Tracks     []RecentTrack
	Page       int
	TotalPages int
	TotalCount int64
}

// wire formats: the service encodes numbers and timestamps as strings.

type accountInfoResponse struct {
	User struct {
		Name       string `json:"name"`
		URL        string `json:"url"`
		PlayCount  string `json:"playcount"`
		TrackCount string `json:"track_count"`
		Registered struct {
			UnixTime string `json:"unixtime"`
		} `json:"registered"`
	} `json:"user"`
}

type wireArtist struct {
	Name string `json:"#text"`
	MBID string `json:"mbid"`
}

type wireAlbum struct {
	Name string `json:"#text"`
	MBID string `json:"mbid"`
}

type wireImage struct {
	Size string `json:"size"`
	URL  string `json:"#text"`
}

type wireTrack struct {
	Name   string      `json:"name"`
	MBID   string      `json:"mbid"`
	Artist wireArtist  `json:"artist"`
	Album  wireAlbum   `json:"album"`
	Images []wireImage `json:"image"`
	Date   *struct {
		UTS string `json:"uts"`
	} `json:"date"`
	Attr *struct {
		NowPlaying string `json:"nowplaying"`
	} `json:"@attr"`
}

type recentTracksResponse struct {
	RecentTracks struct {
		Track []wireTrack `json:"track"`
		Attr  struct {
			Page       string `json:"page"`
			TotalPages string `json:"totalPages"`
			Total      string `json:"total"`
		} `json:"@attr"`
	} `json:"recenttracks"`
}

// GetAccountInfo fetches account metadata for a username. Returns
// domain.ErrAccountNotFound when the service does not know the user.
func (c *Client) GetAccountInfo(ctx context.Context, username string) (*AccountInfo, error) {
	q := url.Values{}
	q.Set("method", "user.getinfo")
	q.Set("user", username)

	var out accountInfoResponse
	if err := c.get(ctx, q, &out); err != nil {
		return nil, err
	}

	info := &AccountInfo{
		Username:   out.User.Name,
		URL:        out.User.URL,
		PlayCount:  atoi64(out.User.PlayCount),
		TrackCount: atoi64(out.User.TrackCount),
	}
	if uts := atoi64(out.User.Registered.UnixTime); uts > 0 {
		info.RegisteredAt = time.Unix(uts, 0).UTC()
	}
	return info, nil
}

// GetRecentTracks fetches one page of the user's play history. Pages are
// newest-first; since (optional) restricts results to listens strictly
// after the given instant.
func (c *Client) GetRecentTracks(ctx context.Context, username string, page, pageSize int, since *time.Time) (*RecentTracksPage, error) {
	q := url.Values{}
	q.Set("method", "user.getrecenttracks")
	q.Set("user", username)
	q.Set("page", strconv.Itoa(page))
	q.Set("limit", strconv.Itoa(pageSize))
	if since != nil {
		q.Set("from", strconv.FormatInt(since.Unix(), 10))
	}

	var out recentTracksResponse
	if err := c.get(ctx, q, &out); err != nil {
		return nil, err
	}

	res := &RecentTracksPage{
		Page:       int(atoi64(out.RecentTracks.Attr.Page)),
		TotalPages: int(atoi64(out.RecentTracks.Attr.TotalPages)),
		TotalCount: atoi64(out.RecentTracks.Attr.Total),
	}
	for _, t := range out.RecentTracks.Track {
		rt := RecentTrack{
			TrackName:  t.Name,
			TrackMBID:  t.MBID,
			ArtistName: t.Artist.Name,
			ArtistMBID: t.Artist.MBID,
			AlbumName:  t.Album.Name,
			AlbumMBID:  t.Album.MBID,
			ImageURL:   largestImage(t.Images),
			NowPlaying: t.Attr != nil && t.Attr.NowPlaying == "true",
		}
		if t.Date != nil {
			rt.ListenedAt = time.Unix(atoi64(t.Date.UTS), 0).UTC()
		}
		res.Tracks = append(res.Tracks, rt)
	}
	return res, nil
}

// get performs one API call with the shared query plumbing and the
// transient-retry policy.
func (c *Client) get(ctx context.Context, q url.Values, out any) error {
	q.Set("api_key", c.apiKey)
	q.Set("format", "json")
	endpoint := c.baseURL + "?" + q.Encode()

	var lastErr error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		if attempt > 1 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(retryPause):
			}
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
		if err != nil {
			return err
		}
		resp, err := c.http.Do(req)
		if err != nil {
			lastErr = err
			continue
		}

		switch {
		case resp.StatusCode == http.StatusOK:
			err = json.NewDecoder(resp.Body).Decode(out)
			resp.Body.Close()
			return err
		case resp.StatusCode == http.StatusNotFound:
			resp.Body.Close()
			return domain.ErrAccountNotFound
		case resp.StatusCode == http.StatusTooManyRequests:
			retryAfter := parseRetryAfter(resp.Header)
			resp.Body.Close()
			return &domain.RateLimitError{Service: "history", RetryAfter: retryAfter}
		case resp.StatusCode >= 500:
			resp.Body.Close()
			lastErr = fmt.Errorf("history service returned %d", resp.StatusCode)
			c.log.Warn().Int("status", resp.StatusCode).Int("attempt", attempt).Msg("transient history failure")
			continue
		default:
			resp.Body.Close()
			return fmt.Errorf("history service returned %d", resp.StatusCode)
		}
	}
	return fmt.Errorf("history service unavailable after %d attempts: %w", maxAttempts, lastErr)
}

// parseRetryAfter reads a seconds-valued Retry-After header, nil when absent
// or unparsable.
func parseRetryAfter(h http.Header) *time.Duration {
	v := h.Get("Retry-After")
	if v == "" {
		return nil
	}
	secs, err := strconv.Atoi(v)
	if err != nil || secs < 0 {
		return nil
	}
	d := time.Duration(secs) * time.Second
	return &d
}

// largestImage picks the biggest artwork variant the service offered.
func largestImage(imgs []wireImage) string {
	order := map[string]int{"small": 1, "medium": 2, "large": 3, "extralarge": 4}
	best, bestRank := "", 0
	for _, img := range imgs {
		if img.URL == "" {
			continue
		}
		if r := order[img.Size]; r >= bestRank {
			best, bestRank = img.URL, r
		}
	}
	return best
}

// atoi64 parses the service's stringly-typed integers, zero on failure.
func atoi64(s string) int64 {
	n, _ := strconv.ParseInt(s, 10, 64)
	return n
}
