package metrics

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
)

// UnmatchedRoute labels requests that reached no registered route, keeping
// arbitrary paths out of the route label.
const UnmatchedRoute = "unmatched"

// Middleware records count, latency and body size for every request served
// by a chi router. It must be mounted with Use so the route is resolved by
// the time the handler returns.
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := chimw.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)

		code := ww.Status()
		if code == 0 {
			// Nothing written; net/http answers 200.
			code = http.StatusOK
		}
		ObserveHTTPRequest(r.Method, routeLabel(r), code, ww.BytesWritten(), time.Since(start))
	})
}

func routeLabel(r *http.Request) string {
	rctx := chi.RouteContext(r.Context())
	if rctx == nil {
		return UnmatchedRoute
	}
	if pattern := rctx.RoutePattern(); pattern != "" {
		return pattern
	}
	return UnmatchedRoute
}
