package model

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	expertTokensTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "strata",
		Subsystem: "moe",
		Name:      "expert_tokens_total",
		Help:      "Tokens dispatched to each routed expert.",
	}, []string{"expert"})

	layerForwardSeconds = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: "strata",
		Subsystem: "layer",
		Name:      "forward_seconds",
		Help:      "Wall time of a single decoder layer forward call.",
		Buckets:   prometheus.ExponentialBuckets(1e-5, 4, 10),
	})
)
