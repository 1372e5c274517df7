package metrics

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/musicstream/backend/internal/middleware"
)

// Middleware counts requests labelled by the matched chi route pattern, which
// keeps video and song ids out of label values.
func (r *Recorder) Middleware(next http.Handler) http.Handler {
	if r == nil {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		wrapped := middleware.WrapResponseWriter(w)
		next.ServeHTTP(wrapped, req)

		route := ""
		if rctx := chi.RouteContext(req.Context()); rctx != nil {
			route = rctx.RoutePattern()
		}
		r.ObserveRequest(req.Method, route, wrapped.Status())
	})
}
