package autoreply

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var scheduleCount = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "scribe_autoreply_schedule_count",
	Help: "Number of auto-reply jobs submitted, by result",
}, []string{"result"})

var outcomeCount = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "scribe_autoreply_outcome_count",
	Help: "Number of finished auto-reply jobs, by outcome",
}, []string{"outcome"})

var retryCount = promauto.NewCounter(prometheus.CounterOpts{
	Name: "scribe_autoreply_retry_count",
	Help: "Number of auto-reply attempts that failed and were retried",
})

var cancelCount = promauto.NewCounter(prometheus.CounterOpts{
	Name: "scribe_autoreply_cancel_count",
	Help: "Number of auto-reply jobs cancelled before running",
})

var jobDuration = promauto.NewHistogram(prometheus.HistogramOpts{
	Name: "scribe_autoreply_job_duration_sec",
	Help: "Duration of auto-reply job execution including retries",
})
