package api

import (
	"errors"
	"net/http"

	"github.com/crestline/gatekeeper/pkg/authz"
	"github.com/crestline/gatekeeper/pkg/contextkeys"
	"github.com/crestline/gatekeeper/pkg/hierarchy"
	"github.com/crestline/gatekeeper/pkg/httputil"
	"github.com/crestline/gatekeeper/pkg/tenants"
)

// writeError maps typed failures to HTTP statuses. Forbidden responses
// carry only the reason code; invariant violations are conflicts because
// the requested state contradicts the committed graph.
func (s *Server) writeError(w http.ResponseWriter, err error) {
	var forbidden *authz.ForbiddenError
	if errors.As(err, &forbidden) {
		httputil.WriteForbiddenReason(w, string(forbidden.Reason))
		return
	}

	var violation *hierarchy.InvariantViolationError
	if errors.As(err, &violation) {
		httputil.WriteJSON(w, http.StatusConflict, map[string]string{
			"error":     "invariant violation",
			"invariant": violation.Invariant,
			"detail":    violation.Detail,
		})
		return
	}

	switch {
	case errors.Is(err, authz.ErrNoActor):
		httputil.WriteUnauthorized(w, "authentication required")
	case errors.Is(err, hierarchy.ErrMembershipNotFound):
		httputil.WriteNotFound(w, "membership not found")
	case errors.Is(err, hierarchy.ErrMembershipExists),
		errors.Is(err, hierarchy.ErrOwnershipTransferRequired):
		httputil.WriteConflict(w, err.Error())
	case tenants.IsNotFound(err):
		httputil.WriteNotFound(w, err.Error())
	default:
		s.logger.WithError(err).Error("request failed")
		httputil.WriteInternalError(w)
	}
}

// actor returns the resolved acting user, or ErrNoActor
func actor(r *http.Request) (*tenants.User, error) {
	if user, ok := r.Context().Value(contextkeys.ActorKey).(*tenants.User); ok && user != nil {
		return user, nil
	}
	return nil, authz.ErrNoActor
}

// requireLevel resolves the actor and checks their level against min for
// the tenant.
func (s *Server) requireLevel(r *http.Request, tenantID int64, min authz.Level) (*tenants.User, error) {
	user, err := actor(r)
	if err != nil {
		return nil, err
	}
	if _, err := s.resolver.RequireLevel(r.Context(), user.ID, tenantID, min); err != nil {
		return nil, err
	}
	return user, nil
}
