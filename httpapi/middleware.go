package httpapi

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"github.com/goliatone/go-outreach/core"
)

// Metrics counts requests and records their duration in milliseconds, tagged
// by method, route pattern and status code.
func Metrics(recorder core.MetricsRecorder) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := chimw.NewWrapResponseWriter(w, r.ProtoMajor)
			next.ServeHTTP(ww, r)

			status := ww.Status()
			if status == 0 {
				status = http.StatusOK
			}
			tags := map[string]string{
				"method": r.Method,
				"route":  routePattern(r),
				"code":   strconv.Itoa(status),
			}
			recorder.IncCounter(r.Context(), "outreach.http.requests.total", 1, tags)
			recorder.ObserveHistogram(r.Context(), "outreach.http.requests.duration_ms", float64(time.Since(start).Milliseconds()), tags)
		})
	}
}

func routePattern(r *http.Request) string {
	rc := chi.RouteContext(r.Context())
	if rc == nil {
		return r.URL.Path
	}
	if pattern := rc.RoutePattern(); pattern != "" {
		return pattern
	}
	return r.URL.Path
}
