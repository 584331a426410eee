package api

import (
	"net/http"

	"github.com/crestline/gatekeeper/pkg/authz"
	"github.com/crestline/gatekeeper/pkg/hierarchy"
	"github.com/crestline/gatekeeper/pkg/httputil"
)

// PlatformRoleRequest grants or revokes a platform rank
type PlatformRoleRequest struct {
	UserID int64  `json:"user_id"`
	Rank   string `json:"rank"`
}

// grantPlatformRole answers POST /api/v1/platform-roles. Only super admins
// may change platform role grants.
func (s *Server) grantPlatformRole(w http.ResponseWriter, r *http.Request) {
	operator, err := s.requirePlatform(r, authz.LevelPlatformSuper)
	if err != nil {
		s.writeError(w, err)
		return
	}

	var req PlatformRoleRequest
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}
	if req.UserID == 0 || req.Rank == "" {
		httputil.WriteBadRequest(w, "user_id and rank are required")
		return
	}

	role, err := s.platform.Grant(r.Context(), req.UserID, hierarchy.PlatformRank(req.Rank), &operator.ID)
	if err != nil {
		s.writeError(w, err)
		return
	}
	httputil.WriteCreated(w, role)
}

func (s *Server) revokePlatformRole(w http.ResponseWriter, r *http.Request) {
	if _, err := s.requirePlatform(r, authz.LevelPlatformSuper); err != nil {
		s.writeError(w, err)
		return
	}

	var req PlatformRoleRequest
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}
	if req.UserID == 0 || req.Rank == "" {
		httputil.WriteBadRequest(w, "user_id and rank are required")
		return
	}

	if err := s.platform.Revoke(r.Context(), req.UserID, hierarchy.PlatformRank(req.Rank)); err != nil {
		s.writeError(w, err)
		return
	}
	httputil.WriteNoContent(w)
}
