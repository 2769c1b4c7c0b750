// Package config provides application configuration loaded from environment
// variables with defaults and validation. It centralizes server timeouts,
// logging, database settings, external service endpoints, worker intervals,
// and playlist cache sizing.
package config

import (
	"errors"
	"os"
	"strconv"
	"strings"
	"time"
)

// HistoryConfig defines the history service client settings.
type HistoryConfig struct {
	BaseURL  string        // HISTORY_BASE_URL
	APIKey   string        // HISTORY_API_KEY
	Timeout  time.Duration // HISTORY_TIMEOUT
	PageSize int           // HISTORY_PAGE_SIZE (fixed 200 unless overridden)
}

// CatalogConfig defines the catalog service client settings.
type CatalogConfig struct {
	BaseURL string        // CATALOG_BASE_URL
	Token   string        // CATALOG_TOKEN
	Timeout time.Duration // CATALOG_TIMEOUT
	RPS     float64       // CATALOG_RPS client-side pacing
	Burst   int           // CATALOG_BURST
}

// WorkerConfig defines the periodic trigger intervals and recovery knobs
// for the three job families.
type WorkerConfig struct {
	ImportInterval       time.Duration // IMPORT_INTERVAL between scheduler ticks
	MatchInterval        time.Duration // MATCH_INTERVAL between catalog-match ticks
	EnrichInterval       time.Duration // ENRICH_INTERVAL between feature-enrichment ticks
	MatchBackoff         time.Duration // MATCH_BACKOFF pause when rate limited without a hint
	IdleBackoff          time.Duration // IDLE_BACKOFF pause when the queue is empty
	MaxConcurrentImports int           // MAX_CONCURRENT_IMPORTS claim ceiling
	MaxStuckWaits        int           // MAX_STUCK_WAITS before force-clearing flags
	EnrichBatchSize      int           // ENRICH_BATCH_SIZE tracks per feature lookup
}

// CacheConfig defines playlist cache sizing.
type CacheConfig struct {
	CapacityTracks int           // CACHE_CAPACITY total track count across entries
	TTL            time.Duration // CACHE_TTL per-entry time to live
}

// OTELConfig defines OpenTelemetry observability settings.
type OTELConfig struct {
	Enabled     bool    // OTEL_ENABLED
	Endpoint    string  // OTEL_EXPORTER_OTLP_ENDPOINT (e.g. "otel:4317")
	Insecure    bool    // OTEL_EXPORTER_OTLP_INSECURE (true if no TLS)
	ServiceName string  // OTEL_SERVICE_NAME
	SampleRatio float64 // OTEL_TRACES_SAMPLER_ARG in [0..1]
}

// Config holds all configuration values for the application.
type Config struct {
	// Server
	Port              string        // just the number
	ReadTimeout       time.Duration // e.g. 15s
	ReadHeaderTimeout time.Duration // e.g. 10s
	WriteTimeout      time.Duration // e.g. 20s
	IdleTimeout       time.Duration // e.g. 60s
	MaxHeaderBytes    int           // bytes
	GinMode           string        // debug|release|test

	// Logging
	LogLevel    string // debug|info|warn|error|fatal|panic
	LogPretty   bool   // pretty console logs in dev
	APIBasePath string // base path for API routes

	// Database: Postgres when DATABASE_URL is set, SQLite at DB_PATH otherwise.
	DatabaseURL string
	DBPath      string

	// Rate limiting (inbound HTTP)
	RateRPS   float64 // tokens per second (>= 0)
	RateBurst int     // bucket size (>= 1)

	// CORS
	CORSAllowedOrigins []string

	History HistoryConfig
	Catalog CatalogConfig
	Workers WorkerConfig
	Cache   CacheConfig
	OTEL    OTELConfig
}

// MustLoad loads the configuration and panics if validation fails.
func MustLoad() Config {
	cfg, err := Load()
	if err != nil {
		panic(err)
	}
	return cfg
}

// Load reads configuration from environment variables, applies defaults,
// normalizes values, and validates the result.
func Load() (Config, error) {
	cfg := Config{
		// Server
		Port:              getenv("PORT", "8080"),
		ReadTimeout:       getdur("READ_TIMEOUT", 15*time.Second),
		ReadHeaderTimeout: getdur("READ_HEADER_TIMEOUT", 10*time.Second),
		WriteTimeout:      getdur("WRITE_TIMEOUT", 20*time.Second),
		IdleTimeout:       getdur("IDLE_TIMEOUT", 60*time.Second),
		MaxHeaderBytes:    getint("MAX_HEADER_BYTES", 1<<20),
		GinMode:           strings.ToLower(getenv("GIN_MODE", "release")),

		// Logging
		LogLevel:    strings.ToLower(getenv("LOG_LEVEL", "info")),
		LogPretty:   getbool("LOG_PRETTY", false),
		APIBasePath: normalizeBasePath(getenv("API_BASE_PATH", "/api/v1")),

		// Database
		DatabaseURL: getenv("DATABASE_URL", ""),
		DBPath:      getenv("DB_PATH", "app.db"),

		// Rate limiting
		RateRPS:   getfloat("RATE_RPS", 5.0),
		RateBurst: getint("RATE_BURST", 10),

		CORSAllowedOrigins: splitCSV(getenv("CORS_ALLOWED_ORIGINS", "")),

		History: HistoryConfig{
			BaseURL:  getenv("HISTORY_BASE_URL", "https://ws.audioscrobbler.com/2.0"),
			APIKey:   getenv("HISTORY_API_KEY", ""),
			Timeout:  getdur("HISTORY_TIMEOUT", 15*time.Second),
			PageSize: getint("HISTORY_PAGE_SIZE", 200),
		},
		Catalog: CatalogConfig{
			BaseURL: getenv("CATALOG_BASE_URL", "https://api.spotify.com/v1"),
			Token:   getenv("CATALOG_TOKEN", ""),
			Timeout: getdur("CATALOG_TIMEOUT", 15*time.Second),
			RPS:     getfloat("CATALOG_RPS", 3.0),
			Burst:   getint("CATALOG_BURST", 3),
		},
		Workers: WorkerConfig{
			ImportInterval:       getdur("IMPORT_INTERVAL", 30*time.Second),
			MatchInterval:        getdur("MATCH_INTERVAL", 2*time.Second),
			EnrichInterval:       getdur("ENRICH_INTERVAL", time.Minute),
			MatchBackoff:         getdur("MATCH_BACKOFF", 5*time.Minute),
			IdleBackoff:          getdur("IDLE_BACKOFF", time.Minute),
			MaxConcurrentImports: getint("MAX_CONCURRENT_IMPORTS", 1),
			MaxStuckWaits:        getint("MAX_STUCK_WAITS", 5),
			EnrichBatchSize:      getint("ENRICH_BATCH_SIZE", 50),
		},
		Cache: CacheConfig{
			CapacityTracks: getint("CACHE_CAPACITY", 10000),
			TTL:            getdur("CACHE_TTL", 12*time.Hour),
		},
		OTEL: OTELConfig{
			Enabled:     getbool("OTEL_ENABLED", false),
			Endpoint:    getenv("OTEL_EXPORTER_OTLP_ENDPOINT", "localhost:4317"),
			Insecure:    getbool("OTEL_EXPORTER_OTLP_INSECURE", true),
			ServiceName: getenv("OTEL_SERVICE_NAME", "go-scrobble-backend"),
			SampleRatio: getfloat("OTEL_TRACES_SAMPLER_ARG", 1.0),
		},
	}

	if err := cfg.validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// validate enforces invariants that would otherwise surface as confusing
// runtime behavior deep inside a worker.
func (c Config) validate() error {
	if _, err := strconv.Atoi(c.Port); err != nil {
		return errors.New("config: PORT must be numeric")
	}
	if c.RateRPS < 0 {
		return errors.New("config: RATE_RPS must be >= 0")
	}
	if c.RateBurst < 1 {
		return errors.New("config: RATE_BURST must be >= 1")
	}
	if c.History.PageSize < 1 || c.History.PageSize > 1000 {
		return errors.New("config: HISTORY_PAGE_SIZE must be in [1,1000]")
	}
	if c.Workers.MaxConcurrentImports < 1 {
		return errors.New("config: MAX_CONCURRENT_IMPORTS must be >= 1")
	}
	if c.Workers.MaxStuckWaits < 1 {
		return errors.New("config: MAX_STUCK_WAITS must be >= 1")
	}
	if c.Cache.CapacityTracks < 1 {
		return errors.New("config: CACHE_CAPACITY must be >= 1")
	}
	if c.OTEL.SampleRatio < 0 || c.OTEL.SampleRatio > 1 {
		return errors.New("config: OTEL_TRACES_SAMPLER_ARG must be in [0,1]")
	}
	return nil
}

// getenv returns the environment value for key or def when unset/empty.
func getenv(key, def string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return def
}

// getdur parses a duration environment variable, falling back to def.
func getdur(key string, def time.Duration) time.Duration {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return def
}

// getint parses an integer environment variable, falling back to def.
func getint(key string, def int) int {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return def
}

// getfloat parses a float environment variable, falling back to def.
func getfloat(key string, def float64) float64 {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return def
}

// getbool parses a boolean environment variable, falling back to def.
func getbool(key string, def bool) bool {
	v := strings.ToLower(strings.TrimSpace(os.Getenv(key)))
	switch v {
	case "1", "true", "yes", "y", "on":
		return true
	case "0", "false", "no", "n", "off":
		return false
	default:
		return def
	}
}

// splitCSV splits a comma-separated list, trimming blanks.
func splitCSV(s string) []string {
	if strings.TrimSpace(s) == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// normalizeBasePath guarantees a leading slash and no trailing slash.
func normalizeBasePath(p string) string {
	p = strings.TrimSpace(p)
	if p == "" || p == "/" {
		return ""
	}
	if !strings.HasPrefix(p, "/") {
		p = "/" + p
	}
	return strings.TrimRight(p, "/")
}
