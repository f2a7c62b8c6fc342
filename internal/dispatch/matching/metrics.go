package matching

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	matchDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "dispatch_match_query_seconds",
		Help:    "Time spent resolving a driver feed query.",
		Buckets: prometheus.DefBuckets,
	}, []string{"result"})

	matchQueries = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "dispatch_match_queries_total",
		Help: "Total driver feed queries grouped by outcome.",
	}, []string{"result"})
)

func observeMatch(result string, start time.Time) {
	matchQueries.WithLabelValues(result).Inc()
	matchDuration.WithLabelValues(result).Observe(time.Since(start).Seconds())
}
