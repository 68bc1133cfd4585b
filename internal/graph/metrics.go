package graph

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	formatConversions = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "quiver_format_conversions_total",
		Help: "Total number of index format materializations, by source and target format",
	}, []string{"from", "to"})

	formatCacheHits = promauto.NewCounter(prometheus.CounterOpts{
		Name: "quiver_format_cache_hits_total",
		Help: "Total number of format requests served from the materialized cache",
	})

	formatInvalidations = promauto.NewCounter(prometheus.CounterOpts{
		Name: "quiver_format_invalidations_total",
		Help: "Total number of cache invalidations caused by structural mutation",
	})
)
