package api

import (
	"net/http"

	"github.com/crestline/gatekeeper/pkg/authz"
	"github.com/crestline/gatekeeper/pkg/httputil"
)

// SetEntitlementRequest toggles the tenant master switch and limits
type SetEntitlementRequest struct {
	IsEnabled bool                   `json:"is_enabled"`
	Limits    map[string]interface{} `json:"limits,omitempty"`
}

// setEntitlement answers PUT /api/v1/tenants/{tenantID}/modules/{key}.
// The master switch is platform-administered; owners cannot enable modules
// their plan does not include.
func (s *Server) setEntitlement(w http.ResponseWriter, r *http.Request) {
	tenantID, ok := httputil.ParsePathInt64OrError(w, r, "tenantID")
	if !ok {
		return
	}
	moduleKey := muxVar(r, "key")
	if _, err := s.requireLevel(r, tenantID, authz.LevelPlatformAdmin); err != nil {
		s.writeError(w, err)
		return
	}

	var req SetEntitlementRequest
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}

	ent, err := s.entitlements.SetEntitlement(r.Context(), tenantID, moduleKey, req.IsEnabled, req.Limits)
	if err != nil {
		s.writeError(w, err)
		return
	}
	httputil.WriteSuccess(w, ent)
}

func (s *Server) listEntitlements(w http.ResponseWriter, r *http.Request) {
	tenantID, ok := httputil.ParsePathInt64OrError(w, r, "tenantID")
	if !ok {
		return
	}
	if _, err := s.requireLevel(r, tenantID, authz.LevelTenantOwner); err != nil {
		s.writeError(w, err)
		return
	}

	ents, err := s.entitlements.ListEntitlements(r.Context(), tenantID)
	if err != nil {
		s.writeError(w, err)
		return
	}
	httputil.WriteSuccess(w, ents)
}

// SetUserOverrideRequest toggles a module for one user
type SetUserOverrideRequest struct {
	IsEnabled bool `json:"is_enabled"`
}

func (s *Server) setUserOverride(w http.ResponseWriter, r *http.Request) {
	tenantID, ok := httputil.ParsePathInt64OrError(w, r, "tenantID")
	if !ok {
		return
	}
	userID, ok := httputil.ParsePathInt64OrError(w, r, "userID")
	if !ok {
		return
	}
	moduleKey := muxVar(r, "key")
	if _, err := s.requireLevel(r, tenantID, authz.LevelTenantOwner); err != nil {
		s.writeError(w, err)
		return
	}

	var req SetUserOverrideRequest
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}

	override, err := s.entitlements.SetUserOverride(r.Context(), userID, tenantID, moduleKey, req.IsEnabled)
	if err != nil {
		s.writeError(w, err)
		return
	}
	httputil.WriteSuccess(w, override)
}

func (s *Server) removeUserOverride(w http.ResponseWriter, r *http.Request) {
	tenantID, ok := httputil.ParsePathInt64OrError(w, r, "tenantID")
	if !ok {
		return
	}
	userID, ok := httputil.ParsePathInt64OrError(w, r, "userID")
	if !ok {
		return
	}
	moduleKey := muxVar(r, "key")
	if _, err := s.requireLevel(r, tenantID, authz.LevelTenantOwner); err != nil {
		s.writeError(w, err)
		return
	}

	if err := s.entitlements.RemoveUserOverride(r.Context(), userID, tenantID, moduleKey); err != nil {
		s.writeError(w, err)
		return
	}
	httputil.WriteNoContent(w)
}
