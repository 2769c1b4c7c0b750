// Package repo implements the data persistence layer for domain entities,
// backed by GORM. This file contains database bootstrapping helpers for
// Postgres (production) and SQLite (development, tests) plus schema
// migrations.
package repo

import (
	"os"
	"path/filepath"
	"time"

	sqlite "github.com/glebarez/sqlite"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/plugin/opentelemetry/tracing"

	"github.com/tbourn/go-scrobble-backend/internal/domain"
)

// Open connects to Postgres when databaseURL is non-empty and to a SQLite
// file otherwise. The OTel tracing plugin is installed on both so store
// operations show up in request traces.
func Open(databaseURL, sqlitePath string) (*gorm.DB, error) {
	if databaseURL != "" {
		return OpenPostgres(databaseURL)
	}
	return OpenSQLite(sqlitePath)
}

// OpenPostgres opens a Postgres database. Postgres is the store that gives
// the claim queries real FOR UPDATE SKIP LOCKED semantics.
func OpenPostgres(dsn string) (*gorm.DB, error) {
	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{})
	if err != nil {
		return nil, err
	}
	if err := db.Use(tracing.NewPlugin(tracing.WithoutMetrics())); err != nil {
		return nil, err
	}
	if sqlDB, err := db.DB(); err == nil {
		sqlDB.SetMaxOpenConns(20)
		sqlDB.SetMaxIdleConns(10)
		sqlDB.SetConnMaxIdleTime(5 * time.Minute)
		sqlDB.SetConnMaxLifetime(30 * time.Minute)
	}
	return db, nil
}

// OpenSQLite opens (or creates) a SQLite database and applies PRAGMAs.
// SQLite has no SKIP LOCKED; the claim helpers fall back to compare-and-swap
// flag updates, and the pool is capped at one connection so transactions
// serialize instead of surfacing SQLITE_BUSY.
func OpenSQLite(path string) (*gorm.DB, error) {
	// Fail early if the parent directory does not exist.
	if dir := filepath.Dir(path); dir != "." {
		if _, err := os.Stat(dir); err != nil {
			return nil, err
		}
	}

	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{})
	if err != nil {
		return nil, err
	}
	if err := db.Use(tracing.NewPlugin(tracing.WithoutMetrics())); err != nil {
		return nil, err
	}

	db.Exec("PRAGMA journal_mode=WAL;")
	db.Exec("PRAGMA synchronous=NORMAL;")
	db.Exec("PRAGMA foreign_keys=ON;")
	db.Exec("PRAGMA busy_timeout=5000;")

	if sqlDB, err := db.DB(); err == nil {
		sqlDB.SetMaxOpenConns(1)
		sqlDB.SetConnMaxIdleTime(5 * time.Minute)
	}

	return db, nil
}

// AutoMigrate creates or updates the schema for all persisted entities.
func AutoMigrate(db *gorm.DB) error {
	return db.AutoMigrate(
		&domain.User{},
		&domain.HistoryAccount{},
		&domain.RawListen{},
		&domain.Artist{},
		&domain.Album{},
		&domain.Track{},
		&domain.Listen{},
		&domain.CatalogSearchJob{},
	)
}

// supportsSkipLocked reports whether the connected dialect honors
// FOR UPDATE SKIP LOCKED.
func supportsSkipLocked(db *gorm.DB) bool {
	return db.Dialector.Name() == "postgres"
}
