package api

import (
	"net/http"

	"github.com/crestline/gatekeeper/pkg/authz"
	"github.com/crestline/gatekeeper/pkg/httputil"
)

// AccessCheckRequest is the typed access-check command. UserID is optional:
// senior actors may check on behalf of another user; everyone else checks
// themselves.
type AccessCheckRequest struct {
	TenantID  int64  `json:"tenant_id"`
	ModuleKey string `json:"module_key"`
	UserID    *int64 `json:"user_id,omitempty"`
}

// accessCheck answers POST /api/v1/access-checks. An unauthenticated caller
// gets a deny with no_role rather than a 401: the decision surface never
// errors on absent actors, per the resolver contract.
func (s *Server) accessCheck(w http.ResponseWriter, r *http.Request) {
	var req AccessCheckRequest
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}
	if req.TenantID == 0 || req.ModuleKey == "" {
		httputil.WriteBadRequest(w, "tenant_id and module_key are required")
		return
	}

	user, err := actor(r)
	if err != nil {
		httputil.WriteSuccess(w, authz.Decision{Allowed: false, Reason: authz.ReasonNoRole})
		return
	}

	subjectID := user.ID
	if req.UserID != nil && *req.UserID != user.ID {
		// Checking someone else requires owner-level standing in the tenant.
		if _, err := s.resolver.RequireLevel(r.Context(), user.ID, req.TenantID, authz.LevelTenantOwner); err != nil {
			s.writeError(w, err)
			return
		}
		subjectID = *req.UserID
	}

	decision, err := s.resolver.HasModuleAccess(r.Context(), subjectID, req.TenantID, req.ModuleKey)
	if err != nil {
		s.writeError(w, err)
		return
	}
	httputil.WriteSuccess(w, decision)
}

// moduleConfig answers GET /api/v1/tenants/{tenantID}/modules/{key}/config.
// The merged document is safe to serve without an authorization context;
// seeing the page it configures is a separate, prior access check.
func (s *Server) moduleConfig(w http.ResponseWriter, r *http.Request) {
	tenantID, ok := httputil.ParsePathInt64OrError(w, r, "tenantID")
	if !ok {
		return
	}
	moduleKey := muxVar(r, "key")

	config, err := s.pipeline.MergedConfig(r.Context(), tenantID, moduleKey)
	if err != nil {
		s.writeError(w, err)
		return
	}
	httputil.WriteSuccess(w, config)
}
