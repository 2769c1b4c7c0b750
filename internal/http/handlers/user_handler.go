// User HTTP handlers.
//
// This file exposes REST endpoints for user resources:
//   - POST   /users        (register: verify history account, create user)
//   - GET    /users/{id}   (fetch)
//
// Handlers are transport-thin: they validate input, call application services,
// and translate domain errors into HTTP responses.
package handlers

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/tbourn/go-scrobble-backend/internal/cache"
	"github.com/tbourn/go-scrobble-backend/internal/domain"
	"github.com/tbourn/go-scrobble-backend/internal/repo"
)

//
// Service contracts (context-aware)
//

// UserService defines user lifecycle operations consumed by HTTP handlers.
//
// Implementations should be safe for concurrent use and must honor the
// provided context for cancellation and timeouts.
type UserService interface {
	// Register verifies the history username and creates the user. The bool
	// reports whether a new user was created or an existing one returned.
	Register(ctx context.Context, name, username string) (*domain.User, bool, error)
	// Get fetches a user with their history account.
	Get(ctx context.Context, id uint) (*domain.User, error)
}

// ListenService defines the listen store operations consumed by HTTP handlers.
type ListenService interface {
	// StoreListens persists a batch of raw play events for the user.
	StoreListens(ctx context.Context, userID uint, listens []repo.RawListenInput) (repo.StoreCounts, error)
	// GetTrackFromRawListenID resolves the matched canonical track, if any.
	GetTrackFromRawListenID(ctx context.Context, rawListenID uint) (*domain.Track, error)
	// ListListens returns one page of canonical listens plus the total count.
	ListListens(ctx context.Context, userID uint, offset, limit int) ([]domain.Listen, int64, error)
}

//
// Handler wiring
//

// Handlers groups the HTTP endpoints for users, listens, and playlists. It
// depends on abstract service interfaces to keep transport concerns separate
// from business logic.
type Handlers struct {
	userSvc   UserService
	listenSvc ListenService
	playlists *cache.PlaylistCache
}

// New constructs a Handlers instance bound to the given services.
func New(userSvc UserService, listenSvc ListenService, playlists *cache.PlaylistCache) *Handlers {
	return &Handlers{userSvc: userSvc, listenSvc: listenSvc, playlists: playlists}
}

// cacheKey builds the primary and alternate playlist cache keys for a user
// pair and preference.
func (h *Handlers) cacheKey(userA, userB uint, preference string) (primary, alt string) {
	return cache.Key(userA, userB, preference)
}

//
// Helpers
//

// idParam parses a positive uint path parameter, failing the request with a
// 400 when it is missing or malformed. The bool result reports success.
func idParam(c *gin.Context, name string) (uint, bool) {
	raw := c.Param(name)
	n, err := strconv.ParseUint(raw, 10, 32)
	if err != nil || n == 0 {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, name+" must be a positive integer")
		return 0, false
	}
	return uint(n), true
}

// failDomain translates the domain error taxonomy into HTTP responses:
// NotFound → 404, BadRequest → 400, TooManyRequests → 429 (with Retry-After
// when the upstream reported one), anything else → 500.
func failDomain(c *gin.Context, err error, fallbackCode string) {
	switch {
	case errors.Is(err, domain.ErrUserNotFound),
		errors.Is(err, domain.ErrAccountNotFound),
		errors.Is(err, domain.ErrTrackNotFound),
		errors.Is(err, domain.ErrListenNotFound),
		errors.Is(err, domain.ErrJobNotFound):
		fail(c, http.StatusNotFound, ErrCodeNotFound, err.Error())
	case errors.Is(err, domain.ErrBadRequest):
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, err.Error())
	case errors.Is(err, domain.ErrTooManyRequests):
		var rle *domain.RateLimitError
		if errors.As(err, &rle) && rle.RetryAfter != nil {
			c.Header("Retry-After", strconv.Itoa(int(rle.RetryAfter.Seconds())))
		}
		fail(c, http.StatusTooManyRequests, ErrCodeRateLimited, err.Error())
	default:
		fail(c, http.StatusInternalServerError, fallbackCode, err.Error())
	}
}

//
// DTOs
//

// RegisterUserRequest is the JSON payload for registering a user.
type RegisterUserRequest struct {
	// Name optionally sets the display name; the username is used when empty.
	Name string `json:"name"`
	// Username is the history-service account to verify.
	Username string `json:"username" binding:"required,min=1,max=255"`
}

//
// Handlers
//

// RegisterUser verifies the history account and creates the user. A repeat
// registration of the same username returns the existing user with 200.
func (h *Handlers) RegisterUser(c *gin.Context) {
	var req RegisterUserRequest
	if err := c.ShouldBindJSON(&req); err != nil || strings.TrimSpace(req.Username) == "" {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "username required")
		return
	}

	user, created, err := h.userSvc.Register(c.Request.Context(), req.Name, req.Username)
	if err != nil {
		failDomain(c, err, ErrCodeVerifyFailed)
		return
	}
	status := http.StatusOK
	if created {
		status = http.StatusCreated
	}
	ok(c, status, user)
}

// GetUser fetches a user with their history account.
func (h *Handlers) GetUser(c *gin.Context) {
	id, okParam := idParam(c, "id")
	if !okParam {
		return
	}
	user, err := h.userSvc.Get(c.Request.Context(), id)
	if err != nil {
		failDomain(c, err, ErrCodeInternal)
		return
	}
	ok(c, http.StatusOK, user)
}
