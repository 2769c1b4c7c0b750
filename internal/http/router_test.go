package httpapi

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	sqlite "github.com/glebarez/sqlite"
	"github.com/rs/zerolog"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/tbourn/go-scrobble-backend/internal/cache"
	"github.com/tbourn/go-scrobble-backend/internal/config"
	"github.com/tbourn/go-scrobble-backend/internal/history"
	"github.com/tbourn/go-scrobble-backend/internal/http/handlers"
	"github.com/tbourn/go-scrobble-backend/internal/repo"
)

const routerAccountJSON = `{
  "user": {
    "name": "alice_fm",
    "url": "https://history.example/user/alice_fm",
    "playcount": "10",
    "track_count": "5",
    "registered": {"unixtime": "1577836800"}
  }
}`

// newAPIRouter assembles the full engine the way main does, backed by a
// throwaway SQLite database and a stubbed history service.
func newAPIRouter(t *testing.T, historyHandler http.HandlerFunc) *gin.Engine {
	t.Helper()
	gin.SetMode(gin.TestMode)

	dsn := filepath.Join(t.TempDir(), fmt.Sprintf("router_test_%d.db", time.Now().UnixNano()))
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

	if historyHandler == nil {
		historyHandler = func(w http.ResponseWriter, r *http.Request) {
			fmt.Fprint(w, routerAccountJSON)
		}
	}
	srv := httptest.NewServer(historyHandler)
	t.Cleanup(srv.Close)
	hist := history.New(srv.URL, "test-key", 5*time.Second, zerolog.Nop())

	playlists, err := cache.New(1000, time.Hour)
	if err != nil {
		t.Fatalf("cache: %v", err)
	}

	cfg := config.Config{
		APIBasePath: "/api/v1",
		RateRPS:     1000,
		RateBurst:   1000,
	}
	cfg.OTEL.ServiceName = "router-test"

	r := gin.New()
	RegisterRoutes(r, db, hist, playlists, cfg)
	return r
}

func TestRouter_Health(t *testing.T) {
	r := newAPIRouter(t, nil)

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/health", nil))
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}
}

func TestRouter_UnknownRouteEnvelope(t *testing.T) {
	r := newAPIRouter(t, nil)

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/nope", nil))
	if w.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", w.Code)
	}
	var resp handlers.ErrorResponse
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.Code != handlers.ErrCodeNotFound {
		t.Fatalf("code = %q, want %q", resp.Code, handlers.ErrCodeNotFound)
	}
	if w.Header().Get("X-Request-ID") == "" {
		t.Fatalf("missing correlation header")
	}
}

func TestRouter_MethodNotAllowed(t *testing.T) {
	r := newAPIRouter(t, nil)

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodDelete, "/api/v1/users", nil))
	if w.Code != http.StatusMethodNotAllowed {
		t.Fatalf("status = %d, want 405", w.Code)
	}
}

func TestRouter_MetricsExposed(t *testing.T) {
	r := newAPIRouter(t, nil)

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}
	if !strings.Contains(w.Body.String(), "http_requests_inflight") {
		t.Fatalf("metrics body missing instrumented series")
	}
}

func TestRouter_RegisterUserEndToEnd(t *testing.T) {
	r := newAPIRouter(t, nil)

	body := strings.NewReader(`{"name":"Alice","username":"alice_fm"}`)
	req := httptest.NewRequest(http.MethodPost, "/api/v1/users", body)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	if w.Code != http.StatusCreated {
		t.Fatalf("status = %d, want 201; body=%s", w.Code, w.Body)
	}

	// The registration must be readable back through the API.
	w2 := httptest.NewRecorder()
	r.ServeHTTP(w2, httptest.NewRequest(http.MethodGet, "/api/v1/users/1", nil))
	if w2.Code != http.StatusOK {
		t.Fatalf("GET user status = %d, want 200; body=%s", w2.Code, w2.Body)
	}
}
