// Package observability wires tracing and metrics for the service.
//
// This file defines the Prometheus collectors for the background pipeline, exposed alongside the
// HTTP metrics on /metrics. Labels are kept to small fixed sets so
// cardinality stays bounded.
package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// ImportsCompleted counts finished history imports (all batches stored).
	ImportsCompleted = promauto.NewCounter(prometheus.CounterOpts{
		Name: "history_imports_completed_total",
		Help: "Total number of completed per-user history imports.",
	})

	// ListensStored counts canonical listens inserted by the store layer.
	ListensStored = promauto.NewCounter(prometheus.CounterOpts{
		Name: "listens_stored_total",
		Help: "Total number of canonical listens inserted.",
	})

	// JobsCompleted counts terminal catalog search jobs by outcome
	// ("matched" or "no_match").
	JobsCompleted = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "catalog_search_jobs_completed_total",
		Help: "Total number of catalog search jobs marked searched.",
	}, []string{"outcome"})

	// CatalogRateLimits counts 429 pauses taken by the catalog workers.
	CatalogRateLimits = promauto.NewCounter(prometheus.CounterOpts{
		Name: "catalog_rate_limit_pauses_total",
		Help: "Total number of rate-limit pauses triggered by the catalog service.",
	})

	// TracksEnriched counts tracks that received audio features.
	TracksEnriched = promauto.NewCounter(prometheus.CounterOpts{
		Name: "tracks_enriched_total",
		Help: "Total number of tracks enriched with audio features.",
	})
)
