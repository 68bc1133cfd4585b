package transport

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	messagesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "quiver_transport_messages_total",
		Help: "Block transfers by direction.",
	}, []string{"direction"})

	transferEdges = promauto.NewCounter(prometheus.CounterOpts{
		Name: "quiver_transport_edges_total",
		Help: "Edges carried by received transfers.",
	})

	transferFailures = promauto.NewCounter(prometheus.CounterOpts{
		Name: "quiver_transport_failures_total",
		Help: "Failed transfers.",
	})
)
