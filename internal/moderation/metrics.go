package moderation

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var moderationDuration = promauto.NewHistogram(prometheus.HistogramOpts{
	Name: "scribe_moderation_duration_sec",
	Help: "Duration of content moderation classifier calls",
})

var moderationCount = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "scribe_moderation_count",
	Help: "Number of moderation classifications, by result",
}, []string{"result"})

var moderationCacheHits = promauto.NewCounter(prometheus.CounterOpts{
	Name: "scribe_moderation_cache_hits",
	Help: "Number of moderation verdicts served from cache",
})

var classifierHTTPCount = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "scribe_moderation_http_count",
	Help: "Number of HTTP classifier API calls, by HTTP status code",
}, []string{"status"})
