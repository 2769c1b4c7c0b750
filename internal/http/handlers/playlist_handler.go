// Playlist HTTP handlers.
//
// Playlists are computed outside this service and parked in the in-memory
// cache; these endpoints are the boundary for that round trip:
//   - PUT /playlists/{a}/{b}   (store a computed playlist for a user pair)
//   - GET /playlists/{a}/{b}   (fetch, order of the pair does not matter)
package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/tbourn/go-scrobble-backend/internal/domain"
)

// PlaylistStoreRequest is the JSON payload for storing a computed playlist.
type PlaylistStoreRequest struct {
	Tracks []domain.Track `json:"tracks" binding:"required,min=1"`
}

// PlaylistResponse wraps a cached playlist.
type PlaylistResponse struct {
	Tracks []domain.Track `json:"tracks"`
}

// playlistKeys parses both user ids and the optional preference query param,
// returning the primary and alternate cache keys.
func (h *Handlers) playlistKeys(c *gin.Context) (primary, alt string, okParams bool) {
	userA, okA := idParam(c, "a")
	if !okA {
		return "", "", false
	}
	userB, okB := idParam(c, "b")
	if !okB {
		return "", "", false
	}
	primary, alt = h.cacheKey(userA, userB, c.Query("preference"))
	return primary, alt, true
}

// StorePlaylist caches a computed playlist for a user pair. An oversized
// playlist is silently not cached; the request still succeeds.
func (h *Handlers) StorePlaylist(c *gin.Context) {
	primary, _, okParams := h.playlistKeys(c)
	if !okParams {
		return
	}
	var req PlaylistStoreRequest
	if err := c.ShouldBindJSON(&req); err != nil || len(req.Tracks) == 0 {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "tracks required")
		return
	}
	h.playlists.Set(primary, req.Tracks)
	c.Status(http.StatusNoContent)
}

// GetPlaylist fetches a cached playlist for a user pair, trying both pair
// orders. Misses and expired entries return 404.
func (h *Handlers) GetPlaylist(c *gin.Context) {
	primary, alt, okParams := h.playlistKeys(c)
	if !okParams {
		return
	}
	tracks, found := h.playlists.Get(primary, alt)
	if !found {
		fail(c, http.StatusNotFound, ErrCodeNotFound, "no cached playlist for pair")
		return
	}
	ok(c, http.StatusOK, PlaylistResponse{Tracks: tracks})
}
