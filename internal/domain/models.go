// Package domain defines the persistence models for users, history accounts,
// raw and canonical listens, catalog entities, and the catalog search queue.
// These types are mapped with GORM and form the core data layer of the
// listening-history reconciliation service.
package domain

import (
	"time"
)

// User is the identity anchor of the system. A user owns zero or one
// HistoryAccount and all RawListen rows imported for them.
//
// The two coordination fields implement cooperative locking for the update
// scheduler: IsUpdatingListeningHistory marks an in-flight import and
// LastUpdatedListeningHistoryAt drives fair oldest-first rotation across
// users (nulls, i.e. never-imported users, come first).
type User struct {
	ID                            uint       `json:"id"                                gorm:"primaryKey"`
	Name                          string     `json:"name"                              gorm:"type:varchar(128);not null"`
	IsUpdatingListeningHistory    bool       `json:"is_updating_listening_history"     gorm:"not null;default:false;index"`
	LastUpdatedListeningHistoryAt *time.Time `json:"last_updated_listening_history_at" gorm:"index"`
	CreatedAt                     time.Time  `json:"created_at"`
	UpdatedAt                     time.Time  `json:"updated_at"`

	HistoryAccount *HistoryAccount `json:"history_account,omitempty" gorm:"foreignKey:UserID"`
}

// TableName returns the database table name for User.
func (User) TableName() string { return "users" }

// HistoryAccount is the user's account on the external history service,
// created on first successful verification. One per user. Counters reflect
// what the history service reported at verification time and are refreshed
// only on re-verification.
type HistoryAccount struct {
	ID           uint      `json:"id"            gorm:"primaryKey"`
	UserID       uint      `json:"user_id"       gorm:"not null;uniqueIndex"`
	Username     string    `json:"username"      gorm:"type:varchar(128);not null;uniqueIndex"`
	URL          string    `json:"url"           gorm:"type:varchar(512)"`
	RegisteredAt time.Time `json:"registered_at"`
	PlayCount    int64     `json:"play_count"`
	TrackCount   int64     `json:"track_count"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// TableName returns the database table name for HistoryAccount.
func (HistoryAccount) TableName() string { return "history_accounts" }

// RawListen is one play event exactly as reported by the history service,
// before entity resolution. Track and artist names are denormalized strings.
//
// The natural key (user_id, track_name, artist_name, listened_at) makes raw
// listen ingestion idempotent: storing the same event twice yields one row.
// IsBeingAnalyzed and AnalyzedAt belong to the catalog-match path; a row is
// never mutated again once TrackID is set.
type RawListen struct {
	ID              uint       `json:"id"                gorm:"primaryKey"`
	UserID          uint       `json:"user_id"           gorm:"not null;index;uniqueIndex:ux_raw_listen_event,priority:1"`
	TrackName       string     `json:"track_name"        gorm:"type:varchar(512);not null;uniqueIndex:ux_raw_listen_event,priority:2;index:idx_raw_listen_pair,priority:1"`
	ArtistName      string     `json:"artist_name"       gorm:"type:varchar(512);not null;uniqueIndex:ux_raw_listen_event,priority:3;index:idx_raw_listen_pair,priority:2"`
	AlbumName       string     `json:"album_name"        gorm:"type:varchar(512)"`
	ListenedAt      time.Time  `json:"listened_at"       gorm:"not null;uniqueIndex:ux_raw_listen_event,priority:4;index"`
	IsBeingAnalyzed bool       `json:"is_being_analyzed" gorm:"not null;default:false"`
	AnalyzedAt      *time.Time `json:"analyzed_at,omitempty"`
	TrackID         *uint      `json:"track_id,omitempty" gorm:"index"`
	CreatedAt       time.Time  `json:"created_at"`
}

// TableName returns the database table name for RawListen.
func (RawListen) TableName() string { return "raw_listens" }

// Artist is a canonical catalog artist shared across users. NaturalKey is
// the case-folded external identifier (history-service mbid or catalog id)
// when one exists, the case-folded name otherwise; at most one row exists
// per key.
type Artist struct {
	ID         uint      `json:"id"         gorm:"primaryKey"`
	Name       string    `json:"name"       gorm:"type:varchar(512);not null"`
	MBID       string    `json:"mbid"       gorm:"type:varchar(64)"`
	CatalogID  string    `json:"catalog_id" gorm:"type:varchar(64);index"`
	NaturalKey string    `json:"-"          gorm:"type:varchar(600);not null;uniqueIndex"`
	ImageURL   string    `json:"image_url"  gorm:"type:varchar(512)"`
	CreatedAt  time.Time `json:"created_at"`
	UpdatedAt  time.Time `json:"updated_at"`
}

// TableName returns the database table name for Artist.
func (Artist) TableName() string { return "artists" }

// Album is a canonical catalog album, keyed like Artist.
type Album struct {
	ID         uint      `json:"id"         gorm:"primaryKey"`
	Name       string    `json:"name"       gorm:"type:varchar(512);not null"`
	MBID       string    `json:"mbid"       gorm:"type:varchar(64)"`
	ArtistID   *uint     `json:"artist_id,omitempty" gorm:"index"`
	NaturalKey string    `json:"-"          gorm:"type:varchar(600);not null;uniqueIndex"`
	ImageURL   string    `json:"image_url"  gorm:"type:varchar(512)"`
	CreatedAt  time.Time `json:"created_at"`
	UpdatedAt  time.Time `json:"updated_at"`
}

// TableName returns the database table name for Album.
func (Album) TableName() string { return "albums" }

// Track is a canonical catalog track. Catalog metadata (CatalogID, ImageURL,
// audio features) is absent until the catalog-match worker resolves the
// track against the catalog service. CatalogID carries a plain index, not a
// unique one (every unresolved track shares the empty value); repeated
// resolutions of the same catalog track converge on one row because the
// resolver transaction looks the id up before creating anything.
type Track struct {
	ID         uint   `json:"id"          gorm:"primaryKey"`
	Name       string `json:"name"        gorm:"type:varchar(512);not null"`
	MBID       string `json:"mbid"        gorm:"type:varchar(64)"`
	ArtistID   *uint  `json:"artist_id,omitempty" gorm:"index"`
	AlbumID    *uint  `json:"album_id,omitempty"  gorm:"index"`
	NaturalKey string `json:"-"           gorm:"type:varchar(600);not null;uniqueIndex"`
	CatalogID  string `json:"catalog_id"  gorm:"type:varchar(64);index"`
	ImageURL   string `json:"image_url"   gorm:"type:varchar(512)"`
	DurationMS int    `json:"duration_ms"`

	// Audio features, filled in by the enrichment worker once the track
	// has a catalog identity.
	HasAudioFeatures bool    `json:"has_audio_features" gorm:"not null;default:false"`
	Tempo            float64 `json:"tempo"`
	Energy           float64 `json:"energy"`
	Danceability     float64 `json:"danceability"`
	Valence          float64 `json:"valence"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`

	Artists []Artist `json:"artists,omitempty" gorm:"many2many:track_artists"`
}

// TableName returns the database table name for Track.
func (Track) TableName() string { return "tracks" }

// Listen is the canonical join of User x Track x timestamp. Listens are not
// deduplicated by time: two listens of the same track at different instants
// are distinct rows. RawListenID back-references the originating RawListen
// and is unique, so one raw event produces at most one canonical listen.
type Listen struct {
	ID          uint      `json:"id"          gorm:"primaryKey"`
	UserID      uint      `json:"user_id"     gorm:"not null;index:idx_user_listens,priority:1"`
	TrackID     uint      `json:"track_id"    gorm:"not null;index"`
	ListenedAt  time.Time `json:"listened_at" gorm:"not null;index:idx_user_listens,priority:2"`
	RawListenID *uint     `json:"raw_listen_id,omitempty" gorm:"uniqueIndex"`
	CreatedAt   time.Time `json:"created_at"`
}

// TableName returns the database table name for Listen.
func (Listen) TableName() string { return "listens" }

// CatalogSearchJob is one pending/claimed/completed catalog lookup for a
// distinct (track name, artist name) pair. The pair columns form the natural
// key, so repeated listens of the same track enqueue exactly one job.
//
// A job is pending while SearchedAt is null, claimed while IsBeingSearched
// is true, and terminal once SearchedAt is set, even when no track was
// found (TrackID stays null and the job is not retried automatically).
type CatalogSearchJob struct {
	ID              uint       `json:"id"                gorm:"primaryKey"`
	TrackName       string     `json:"track_name"        gorm:"type:varchar(512);not null;uniqueIndex:ux_catalog_job_pair,priority:1"`
	ArtistName      string     `json:"artist_name"       gorm:"type:varchar(512);not null;uniqueIndex:ux_catalog_job_pair,priority:2"`
	IsBeingSearched bool       `json:"is_being_searched" gorm:"not null;default:false"`
	SearchedAt      *time.Time `json:"searched_at,omitempty" gorm:"index"`
	TrackID         *uint      `json:"track_id,omitempty"`
	CreatedAt       time.Time  `json:"created_at"        gorm:"index"`
}

// TableName returns the database table name for CatalogSearchJob.
func (CatalogSearchJob) TableName() string { return "catalog_search_jobs" }
