package middleware

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"

	"github.com/crestline/gatekeeper/pkg/contextkeys"
	"github.com/crestline/gatekeeper/pkg/identity"
)

const (
	sessionCookie = "gk_session"
	previewCookie = "gk_preview"
	previewHeader = "X-Preview-Token"
)

// SessionMiddleware resolves the acting user from session and preview
// credentials and stores it in the request context. Resolution never fails
// the request here; handlers that need an actor enforce it themselves.
type SessionMiddleware struct {
	resolver *identity.Resolver
}

// NewSessionMiddleware creates the actor resolution middleware
func NewSessionMiddleware(resolver *identity.Resolver) *SessionMiddleware {
	return &SessionMiddleware{resolver: resolver}
}

// Handler wraps an HTTP handler with actor resolution
func (m *SessionMiddleware) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		creds := extractCredentials(r)
		if creds.SessionToken == "" && creds.PreviewToken == "" {
			next.ServeHTTP(w, r)
			return
		}

		actor, session, err := m.resolver.ResolveActor(r.Context(), creds)
		if err == identity.ErrNoActor {
			next.ServeHTTP(w, r)
			return
		}
		if err != nil {
			writeJSONError(w, http.StatusInternalServerError, "failed to resolve actor")
			return
		}

		ctx := context.WithValue(r.Context(), contextkeys.ActorKey, actor)
		ctx = context.WithValue(ctx, contextkeys.SessionKey, session)
		if session.Kind == identity.KindPreview {
			ctx = context.WithValue(ctx, contextkeys.ImpersonatedKey, true)
		}
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// extractCredentials pulls session and preview tokens from cookies, the
// Authorization header, and the preview header. A preview token always wins
// over the real session during resolution.
func extractCredentials(r *http.Request) identity.Credentials {
	var creds identity.Credentials

	if c, err := r.Cookie(sessionCookie); err == nil {
		creds.SessionToken = c.Value
	}
	if creds.SessionToken == "" {
		if header := r.Header.Get("Authorization"); header != "" {
			parts := strings.SplitN(header, " ", 2)
			if len(parts) == 2 && parts[0] == "Bearer" {
				creds.SessionToken = parts[1]
			}
		}
	}

	if c, err := r.Cookie(previewCookie); err == nil {
		creds.PreviewToken = c.Value
	}
	if creds.PreviewToken == "" {
		creds.PreviewToken = r.Header.Get(previewHeader)
	}

	return creds
}

func writeJSONError(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{"error": message})
}
