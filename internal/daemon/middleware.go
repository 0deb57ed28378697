package daemon

import (
	"net/http"
	"strconv"
	"time"

	"github.com/weavenet/weave/internal/metrics"
)

// statusRecorder wraps http.ResponseWriter to capture the status code.
type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (sr *statusRecorder) WriteHeader(code int) {
	sr.status = code
	sr.ResponseWriter.WriteHeader(code)
}

// InstrumentHandler wraps an HTTP handler with Prometheus metrics. If m
// is nil, the handler is returned unchanged (zero overhead).
func InstrumentHandler(next http.Handler, m *metrics.Metrics) http.Handler {
	if m == nil {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}

		next.ServeHTTP(rec, r)

		duration := time.Since(start).Seconds()
		status := strconv.Itoa(rec.status)
		m.DaemonRequestsTotal.WithLabelValues(r.URL.Path, status).Inc()
		m.DaemonRequestDurationSeconds.WithLabelValues(r.URL.Path).Observe(duration)
	})
}
