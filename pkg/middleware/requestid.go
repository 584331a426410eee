package middleware

import (
	"net/http"

	"github.com/google/uuid"

	"github.com/crestline/gatekeeper/pkg/contextkeys"
)

const requestIDHeader = "X-Request-ID"

// RequestID stamps each request with an ID for log and audit correlation.
// An incoming header value is trusted; otherwise a UUID is generated.
func RequestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get(requestIDHeader)
		if id == "" {
			id = uuid.NewString()
		}
		w.Header().Set(requestIDHeader, id)
		next.ServeHTTP(w, r.WithContext(contextkeys.WithRequestID(r.Context(), id)))
	})
}
