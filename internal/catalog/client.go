// Package catalog implements the typed client for the external music
// catalog service, which resolves (track, artist) name pairs to canonical
// tracks with stable identifiers and audio features. The API is
// Spotify-shaped JSON over bearer-token HTTP.
//
// The client paces itself with a token bucket so routine operation stays
// under the service's limits; a 429 that slips through anyway surfaces as
// *domain.RateLimitError with the Retry-After hint so the worker trigger
// can pause instead of hammering.
package catalog

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"github.com/tbourn/go-scrobble-backend/internal/domain"
)

// Client talks to the catalog service. Construct with New.
type Client struct {
	baseURL string
	token   string
	http    *http.Client
	limiter *rate.Limiter
	log     zerolog.Logger
}

// New constructs a catalog client with client-side pacing of rps requests
// per second (burst b).
func New(baseURL, token string, timeout time.Duration, rps float64, burst int, log zerolog.Logger) *Client {
	if rps <= 0 {
		rps = 1
	}
	if burst < 1 {
		burst = 1
	}
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		token:   token,
		http:    &http.Client{Timeout: timeout},
		limiter: rate.NewLimiter(rate.Limit(rps), burst),
		log:     log.With().Str("component", "catalog_client").Logger(),
	}
}

// Artist is a catalog artist reference on a track.
type Artist struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// Track is a resolved catalog track.
type Track struct {
	ID         string   `json:"id"`
	Name       string   `json:"name"`
	DurationMS int      `json:"duration_ms"`
	Artists    []Artist `json:"artists"`
	Album      struct {
		Name   string `json:"name"`
		Images []struct {
			URL    string `json:"url"`
			Width  int    `json:"width"`
			Height int    `json:"height"`
		} `json:"images"`
	} `json:"album"`
}

// ImageURL returns the largest album artwork, empty when none.
func (t *Track) ImageURL() string {
	best, area := "", -1
	for _, img := range t.Album.Images {
		if a := img.Width * img.Height; a > area {
			best, area = img.URL, a
		}
	}
	return best
}

// AudioFeatures are the catalog's audio analysis values for one track.
type AudioFeatures struct {
	ID           string  `json:"id"`
	Tempo        float64 `json:"tempo"`
	Energy       float64 `json:"energy"`
	Danceability float64 `json:"danceability"`
	Valence      float64 `json:"valence"`
}

type searchResponse struct {
	Tracks struct {
		Items []Track `json:"items"`
	} `json:"tracks"`
}

type audioFeaturesResponse struct {
	AudioFeatures []*AudioFeatures `json:"audio_features"`
}

// SearchTrack resolves a (track, artist) name pair to the best catalog
// match. Returns domain.ErrTrackNotFound when the catalog has no result.
func (c *Client) SearchTrack(ctx context.Context, trackName, artistName string) (*Track, error) {
	q := url.Values{}
	q.Set("q", fmt.Sprintf("track:%s artist:%s", trackName, artistName))
	q.Set("type", "track")
	q.Set("limit", "1")

	var out searchResponse
	if err := c.get(ctx, "/search?"+q.Encode(), &out); err != nil {
		return nil, err
	}
	if len(out.Tracks.Items) == 0 {
		return nil, domain.ErrTrackNotFound
	}
	return &out.Tracks.Items[0], nil
}

// GetAudioFeatures fetches audio features for up to 100 catalog track ids.
// Entries the catalog has no analysis for are omitted from the result.
func (c *Client) GetAudioFeatures(ctx context.Context, ids []string) ([]AudioFeatures, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	if len(ids) > 100 {
		return nil, fmt.Errorf("%w: at most 100 ids per audio-features call", domain.ErrBadRequest)
	}

	var out audioFeaturesResponse
	if err := c.get(ctx, "/audio-features?ids="+url.QueryEscape(strings.Join(ids, ",")), &out); err != nil {
		return nil, err
	}

	features := make([]AudioFeatures, 0, len(out.AudioFeatures))
	for _, f := range out.AudioFeatures {
		if f != nil {
			features = append(features, *f)
		}
	}
	return features, nil
}

// get performs one paced, authenticated API call.
func (c *Client) get(ctx context.Context, path string, out any) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+c.token)

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusOK:
		return json.NewDecoder(resp.Body).Decode(out)
	case resp.StatusCode == http.StatusNotFound:
		return domain.ErrTrackNotFound
	case resp.StatusCode == http.StatusTooManyRequests:
		retryAfter := parseRetryAfter(resp.Header)
		c.log.Warn().Msg("catalog rate limited")
		return &domain.RateLimitError{Service: "catalog", RetryAfter: retryAfter}
	default:
		return fmt.Errorf("catalog service returned %d", resp.StatusCode)
	}
}

// parseRetryAfter reads a seconds-valued Retry-After header, nil when
// absent or unparsable.
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
