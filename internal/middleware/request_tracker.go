package middleware

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
)

// TraceHeader carries a per-request trace id, echoed on the response.
const TraceHeader = "X-Trace-ID"

// RequestObserver records a finished request.
type RequestObserver interface {
	ObserveRequest(method, route string, code int, d time.Duration)
}

// RequestTracker reports request timings and status codes to an observer.
type RequestTracker struct {
	observer RequestObserver
	now      func() time.Time
}

// NewRequestTracker creates a new request tracker middleware. A nil observer
// disables recording.
func NewRequestTracker(observer RequestObserver) *RequestTracker {
	return &RequestTracker{observer: observer, now: time.Now}
}

// Middleware returns an HTTP middleware that tracks request metrics.
func (rt *RequestTracker) Middleware() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := rt.now()
			rw := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}

			next.ServeHTTP(rw, r)

			if rt.observer == nil {
				return
			}
			rt.observer.ObserveRequest(r.Method, routeOf(r), rw.statusCode, rt.now().Sub(start))
		})
	}
}

// routeOf returns the matched chi pattern so label cardinality stays bounded.
func routeOf(r *http.Request) string {
	if rctx := chi.RouteContext(r.Context()); rctx != nil {
		if p := rctx.RoutePattern(); p != "" {
			return p
		}
	}
	return "unmatched"
}

// TraceID ensures every request carries a trace id, generating one when the
// caller did not send it.
func TraceID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get(TraceHeader)
		if id == "" {
			id = uuid.NewString()
			r.Header.Set(TraceHeader, id)
		}
		w.Header().Set(TraceHeader, id)
		next.ServeHTTP(w, r)
	})
}

// responseWriter wraps http.ResponseWriter to capture status code and size
type responseWriter struct {
	http.ResponseWriter
	statusCode int
	size       int
	wrote      bool
}

func (rw *responseWriter) WriteHeader(code int) {
	if !rw.wrote {
		rw.statusCode = code
		rw.wrote = true
	}
	rw.ResponseWriter.WriteHeader(code)
}

func (rw *responseWriter) Write(b []byte) (int, error) {
	rw.wrote = true
	n, err := rw.ResponseWriter.Write(b)
	rw.size += n
	return n, err
}
