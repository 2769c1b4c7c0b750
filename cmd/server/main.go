// Command server runs the listening-history backend: the HTTP API, the
// per-user import scheduler, the catalog-match worker, and the audio-feature
// enrichment worker, all sharing one entity store.
package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
	"github.com/rs/zerolog/log"

	"github.com/tbourn/go-scrobble-backend/internal/cache"
	"github.com/tbourn/go-scrobble-backend/internal/catalog"
	"github.com/tbourn/go-scrobble-backend/internal/config"
	"github.com/tbourn/go-scrobble-backend/internal/history"
	httpapi "github.com/tbourn/go-scrobble-backend/internal/http"
	"github.com/tbourn/go-scrobble-backend/internal/importer"
	"github.com/tbourn/go-scrobble-backend/internal/matcher"
	"github.com/tbourn/go-scrobble-backend/internal/observability"
	"github.com/tbourn/go-scrobble-backend/internal/repo"
	"github.com/tbourn/go-scrobble-backend/internal/scheduler"
	"github.com/tbourn/go-scrobble-backend/internal/sysutil"
)

const version = "1.0.0"

func main() {
	// .env is optional; real deployments use the process environment.
	_ = godotenv.Load()

	cfg := config.MustLoad()
	sysutil.InitLogger(cfg.LogLevel, cfg.LogPretty)
	gin.SetMode(cfg.GinMode)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	shutdownOTel, err := observability.SetupOTel(ctx, cfg.OTEL, version)
	if err != nil {
		log.Fatal().Err(err).Msg("otel setup failed")
	}
	defer func() {
		c, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownOTel(c); err != nil {
			log.Warn().Err(err).Msg("otel shutdown")
		}
	}()

	db, err := repo.Open(cfg.DatabaseURL, cfg.DBPath)
	if err != nil {
		log.Fatal().Err(err).Msg("database open failed")
	}
	if err := repo.AutoMigrate(db); err != nil {
		log.Fatal().Err(err).Msg("database migration failed")
	}

	// Crash recovery: clear in-progress flags left behind by a previous
	// process so users and jobs become claimable again.
	if err := repo.ResetUpdatingFlags(ctx, db); err != nil {
		log.Fatal().Err(err).Msg("resetting user update flags failed")
	}
	if err := repo.ResetSearchingFlags(ctx, db); err != nil {
		log.Fatal().Err(err).Msg("resetting search job flags failed")
	}

	histClient := history.New(cfg.History.BaseURL, cfg.History.APIKey, cfg.History.Timeout, log.With().Str("component", "history").Logger())
	catClient := catalog.New(cfg.Catalog.BaseURL, cfg.Catalog.Token, cfg.Catalog.Timeout, cfg.Catalog.RPS, cfg.Catalog.Burst, log.With().Str("component", "catalog").Logger())

	imp := importer.New(db, histClient, cfg.History.PageSize, log.With().Str("component", "importer").Logger())
	sched := scheduler.NewUpdateScheduler(db, imp, cfg.Workers.MaxConcurrentImports, cfg.Workers.MaxStuckWaits, log.With().Str("component", "scheduler").Logger())
	match := matcher.New(db, catClient, cfg.Workers.MatchBackoff, cfg.Workers.IdleBackoff, log.With().Str("component", "matcher").Logger())
	enrich := matcher.NewFeatureEnricher(db, catClient, cfg.Workers.EnrichBatchSize, cfg.Workers.MatchBackoff, cfg.Workers.IdleBackoff, log.With().Str("component", "enricher").Logger())

	playlists, err := cache.New(cfg.Cache.CapacityTracks, cfg.Cache.TTL)
	if err != nil {
		log.Fatal().Err(err).Msg("playlist cache setup failed")
	}

	triggers := []*scheduler.Trigger{
		scheduler.NewTrigger("import", cfg.Workers.ImportInterval, func(ctx context.Context) (time.Duration, error) {
			_, err := sched.Tick(ctx)
			return 0, err
		}, log.Logger),
		scheduler.NewTrigger("match", cfg.Workers.MatchInterval, match.Tick, log.Logger),
		scheduler.NewTrigger("enrich", cfg.Workers.EnrichInterval, enrich.Tick, log.Logger),
	}
	for _, t := range triggers {
		t.Start(ctx)
	}

	engine := gin.New()
	httpapi.RegisterRoutes(engine, db, histClient, playlists, cfg)

	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           engine,
		ReadTimeout:       cfg.ReadTimeout,
		ReadHeaderTimeout: cfg.ReadHeaderTimeout,
		WriteTimeout:      cfg.WriteTimeout,
		IdleTimeout:       cfg.IdleTimeout,
		MaxHeaderBytes:    cfg.MaxHeaderBytes,
	}

	go func() {
		log.Info().Str("addr", srv.Addr).Msg("http server starting")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("http server failed")
		}
	}()

	<-ctx.Done()
	log.Info().Msg("shutdown signal received")

	for _, t := range triggers {
		t.Stop()
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("http server shutdown")
	}

	if sqlDB, err := db.DB(); err == nil {
		_ = sqlDB.Close()
	}
	log.Info().Msg("server stopped")
}
