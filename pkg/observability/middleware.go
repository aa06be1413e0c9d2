package observability

import (
	"net/http"
	"strconv"
	"time"
)

// MetricsMiddleware records daytona_adk_http_requests_total and
// daytona_adk_http_request_duration_seconds for every request.
// The status label is the class ("2xx", "4xx", ...).
func MetricsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()

		rec := NewStatusRecorder(w)
		next.ServeHTTP(rec, r)

		statusClass := strconv.Itoa(rec.Status()/100) + "xx"
		HTTPRequestsTotal.WithLabelValues(r.Method, statusClass).Inc()
		HTTPRequestDuration.WithLabelValues(r.Method).Observe(time.Since(start).Seconds())
	})
}

// StatusRecorder wraps an http.ResponseWriter and remembers the first
// status code written. It keeps streaming (Flush) working.
type StatusRecorder struct {
	http.ResponseWriter
	status  int
	written bool
}

// NewStatusRecorder wraps w. The status defaults to 200.
func NewStatusRecorder(w http.ResponseWriter) *StatusRecorder {
	return &StatusRecorder{ResponseWriter: w, status: http.StatusOK}
}

// Status returns the recorded status code.
func (w *StatusRecorder) Status() int {
	return w.status
}

func (w *StatusRecorder) WriteHeader(status int) {
	if !w.written {
		w.status = status
		w.written = true
	}
	w.ResponseWriter.WriteHeader(status)
}

func (w *StatusRecorder) Write(b []byte) (int, error) {
	w.written = true
	return w.ResponseWriter.Write(b)
}

// Flush keeps streamable MCP responses (SSE) working through the wrapper.
func (w *StatusRecorder) Flush() {
	if f, ok := w.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

// Unwrap exposes the underlying writer to http.ResponseController.
func (w *StatusRecorder) Unwrap() http.ResponseWriter {
	return w.ResponseWriter
}
