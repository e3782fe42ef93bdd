package reply

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var generateDuration = promauto.NewHistogram(prometheus.HistogramOpts{
	Name: "scribe_reply_generate_duration_sec",
	Help: "Duration of reply generation calls",
})

var generateCount = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "scribe_reply_generate_count",
	Help: "Number of reply generation attempts, by result",
}, []string{"result"})
