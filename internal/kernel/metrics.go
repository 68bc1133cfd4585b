package kernel

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	kernelCalls = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "quiver_kernel_calls_total",
		Help: "Total number of sparse kernel invocations, by kernel and direction",
	}, []string{"kernel", "direction"})

	kernelDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "quiver_kernel_duration_seconds",
		Help:    "Time spent inside sparse kernels",
		Buckets: prometheus.DefBuckets,
	}, []string{"kernel"})

	kernelEdges = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "quiver_kernel_edges_total",
		Help: "Total number of edges traversed by sparse kernels",
	}, []string{"kernel"})
)
