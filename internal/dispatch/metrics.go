package dispatch

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var dispatchCalls = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "quiver_dispatch_calls_total",
	Help: "Message-passing dispatches by chosen plan.",
}, []string{"plan"})
