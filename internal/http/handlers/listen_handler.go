// Listen HTTP handlers.
//
// This file exposes REST endpoints for the listen store:
//   - POST   /users/{id}/listens       (batch store with upsert counts)
//   - GET    /users/{id}/listens       (list, paginated, newest first)
//   - GET    /raw-listens/{id}/track   (resolve matched canonical track)
package handlers

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/tbourn/go-scrobble-backend/internal/domain"
	"github.com/tbourn/go-scrobble-backend/internal/repo"
	"github.com/tbourn/go-scrobble-backend/internal/utils"
)

//
// DTOs
//

// ListenInput is one raw play event in a StoreListensRequest.
type ListenInput struct {
	TrackName  string    `json:"track_name" binding:"required"`
	ArtistName string    `json:"artist_name" binding:"required"`
	AlbumName  string    `json:"album_name"`
	TrackMBID  string    `json:"track_mbid"`
	ArtistMBID string    `json:"artist_mbid"`
	AlbumMBID  string    `json:"album_mbid"`
	ImageURL   string    `json:"image_url"`
	ListenedAt time.Time `json:"listened_at" binding:"required"`
}

// StoreListensRequest is the JSON payload for storing a batch of listens.
type StoreListensRequest struct {
	Listens []ListenInput `json:"listens" binding:"required,min=1,dive"`
}

// Pagination carries pagination metadata for list responses.
type Pagination struct {
	Page       int   `json:"page"`
	PageSize   int   `json:"page_size"`
	Total      int64 `json:"total"`
	TotalPages int   `json:"total_pages"`
	HasNext    bool  `json:"has_next"`
}

// ListListensResponse wraps a page of listens and pagination information.
type ListListensResponse struct {
	Listens    []domain.Listen `json:"listens"`
	Pagination Pagination      `json:"pagination"`
}

//
// Handlers
//

// StoreListens persists a batch of raw play events for the user and returns
// the upsert counts. Duplicate events are absorbed, not errors.
func (h *Handlers) StoreListens(c *gin.Context) {
	userID, okParam := idParam(c, "id")
	if !okParam {
		return
	}

	var req StoreListensRequest
	if err := c.ShouldBindJSON(&req); err != nil || len(req.Listens) == 0 {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "listens required")
		return
	}

	inputs := make([]repo.RawListenInput, 0, len(req.Listens))
	for _, l := range req.Listens {
		inputs = append(inputs, repo.RawListenInput{
			TrackName:  l.TrackName,
			ArtistName: l.ArtistName,
			AlbumName:  l.AlbumName,
			TrackMBID:  l.TrackMBID,
			ArtistMBID: l.ArtistMBID,
			AlbumMBID:  l.AlbumMBID,
			ImageURL:   l.ImageURL,
			ListenedAt: l.ListenedAt,
		})
	}

	counts, err := h.listenSvc.StoreListens(c.Request.Context(), userID, inputs)
	if err != nil {
		failDomain(c, err, ErrCodeStoreFailed)
		return
	}
	ok(c, http.StatusOK, counts)
}

// ListListens returns one page of the user's canonical listens, newest first.
func (h *Handlers) ListListens(c *gin.Context) {
	userID, okParam := idParam(c, "id")
	if !okParam {
		return
	}

	const maxPageSize = 100
	page := utils.AtoiDefault(c.Query("page"), 1)
	pageSize := utils.AtoiDefault(c.Query("page_size"), 20)
	offset, limit := utils.PageBounds(page, pageSize, maxPageSize)

	items, total, err := h.listenSvc.ListListens(c.Request.Context(), userID, offset, limit)
	if err != nil {
		failDomain(c, err, ErrCodeListFailed)
		return
	}

	totalPages := int((total + int64(limit) - 1) / int64(limit))
	if page < 1 {
		page = 1
	}
	resp := ListListensResponse{
		Listens: items,
		Pagination: Pagination{
			Page:       page,
			PageSize:   limit,
			Total:      total,
			TotalPages: totalPages,
			HasNext:    page < totalPages,
		},
	}
	ok(c, http.StatusOK, resp)
}

// GetTrackForRawListen resolves the canonical track a raw listen was linked
// to. Returns 404 while the catalog match is still pending.
func (h *Handlers) GetTrackForRawListen(c *gin.Context) {
	rawID, okParam := idParam(c, "id")
	if !okParam {
		return
	}
	track, err := h.listenSvc.GetTrackFromRawListenID(c.Request.Context(), rawID)
	if err != nil {
		failDomain(c, err, ErrCodeInternal)
		return
	}
	ok(c, http.StatusOK, track)
}
