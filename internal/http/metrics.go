package httpapp

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var httpRequestCount = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "scribe_http_request_count",
	Help: "Number of HTTP requests, by method, route and status",
}, []string{"method", "route", "status"})

var httpRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
	Name: "scribe_http_request_duration_sec",
	Help: "Duration of HTTP request handling",
}, []string{"method", "route"})

var moderationBlocks = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "scribe_http_moderation_blocks",
	Help: "Number of writes rejected by content moderation, by content kind",
}, []string{"kind"})

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

// routeLabel collapses numeric path segments so metric cardinality stays
// bounded.
func routeLabel(path string) string {
	segments := splitPath(path)
	if len(segments) == 0 || segments[0] != "api" {
		return "other"
	}
	for i, seg := range segments {
		if _, err := strconv.ParseInt(seg, 10, 64); err == nil {
			segments[i] = ":id"
		}
	}
	return "/" + strings.Join(segments, "/")
}
