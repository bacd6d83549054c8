package middleware

import (
	"net/http"

	"github.com/go-chi/chi/v5/middleware"

	"github.com/examsift/grading-engine/pkg/requestid"
)

// RequestID injects a request id into the request context: the x-request-id
// header if the caller sent one, chi's generated id if present, a fresh uuid
// otherwise. Handlers read it back through the requestid package.
func RequestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get("x-request-id")
		if id == "" {
			id = middleware.GetReqID(r.Context())
		}
		if id == "" {
			id = requestid.Generate()
		}
		next.ServeHTTP(w, r.WithContext(requestid.ToContext(r.Context(), id)))
	})
}
