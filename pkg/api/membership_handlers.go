package api

import (
	"net/http"

	"github.com/gorilla/mux"

	"github.com/crestline/gatekeeper/pkg/authz"
	"github.com/crestline/gatekeeper/pkg/hierarchy"
	"github.com/crestline/gatekeeper/pkg/httputil"
)

func muxVar(r *http.Request, key string) string {
	return mux.Vars(r)[key]
}

// AddMemberRequest creates a membership in a tenant
type AddMemberRequest struct {
	UserID       int64  `json:"user_id"`
	Rank         string `json:"rank"`
	SupervisorID *int64 `json:"supervisor_id,omitempty"`
}

// MembershipMutation is the typed PATCH command. Nil fields are untouched;
// rank and supervisor changes travel together because demotions need a new
// supervisor in the same transaction. The active flag cannot be combined
// with the other fields: each request maps to exactly one engine
// transaction, so a failure never leaves a partially applied mutation.
type MembershipMutation struct {
	Rank         *string `json:"rank,omitempty"`
	Active       *bool   `json:"active,omitempty"`
	SupervisorID *int64  `json:"supervisor_id,omitempty"`
}

func (s *Server) addMember(w http.ResponseWriter, r *http.Request) {
	tenantID, ok := httputil.ParsePathInt64OrError(w, r, "tenantID")
	if !ok {
		return
	}
	if _, err := s.requireLevel(r, tenantID, authz.LevelTenantOwner); err != nil {
		s.writeError(w, err)
		return
	}

	var req AddMemberRequest
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}
	if req.UserID == 0 || req.Rank == "" {
		httputil.WriteBadRequest(w, "user_id and rank are required")
		return
	}

	result, err := s.engine.AddMember(r.Context(), tenantID, req.UserID, hierarchy.Rank(req.Rank), req.SupervisorID)
	if err != nil {
		s.writeError(w, err)
		return
	}
	httputil.WriteCreated(w, result)
}

func (s *Server) mutateMember(w http.ResponseWriter, r *http.Request) {
	tenantID, ok := httputil.ParsePathInt64OrError(w, r, "tenantID")
	if !ok {
		return
	}
	userID, ok := httputil.ParsePathInt64OrError(w, r, "userID")
	if !ok {
		return
	}
	if _, err := s.requireLevel(r, tenantID, authz.LevelTenantOwner); err != nil {
		s.writeError(w, err)
		return
	}

	var req MembershipMutation
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}
	if req.Rank == nil && req.Active == nil && req.SupervisorID == nil {
		httputil.WriteBadRequest(w, "at least one of rank, active, supervisor_id is required")
		return
	}
	if req.Active != nil && (req.Rank != nil || req.SupervisorID != nil) {
		httputil.WriteBadRequest(w, "active cannot be combined with rank or supervisor_id")
		return
	}

	// Each arm is a single engine transaction. Rank changes may consume
	// supervisor_id, so the two fields travel together.
	var result *hierarchy.MutationResult
	var err error
	switch {
	case req.Rank != nil:
		result, err = s.engine.ChangeRank(r.Context(), tenantID, userID, hierarchy.Rank(*req.Rank), req.SupervisorID)
	case req.SupervisorID != nil:
		result, err = s.engine.SetSupervisor(r.Context(), tenantID, userID, *req.SupervisorID)
	default:
		result, err = s.engine.SetActive(r.Context(), tenantID, userID, *req.Active)
	}
	if err != nil {
		s.writeError(w, err)
		return
	}

	httputil.WriteSuccess(w, result)
}

func (s *Server) deleteMember(w http.ResponseWriter, r *http.Request) {
	tenantID, ok := httputil.ParsePathInt64OrError(w, r, "tenantID")
	if !ok {
		return
	}
	userID, ok := httputil.ParsePathInt64OrError(w, r, "userID")
	if !ok {
		return
	}
	if _, err := s.requireLevel(r, tenantID, authz.LevelTenantOwner); err != nil {
		s.writeError(w, err)
		return
	}

	result, err := s.engine.DeleteUser(r.Context(), tenantID, userID)
	if err != nil {
		s.writeError(w, err)
		return
	}
	httputil.WriteSuccess(w, result)
}

// TransferOwnershipRequest names the membership that becomes the owner
type TransferOwnershipRequest struct {
	NewOwnerUserID int64 `json:"new_owner_user_id"`
}

func (s *Server) transferOwnership(w http.ResponseWriter, r *http.Request) {
	tenantID, ok := httputil.ParsePathInt64OrError(w, r, "tenantID")
	if !ok {
		return
	}
	if _, err := s.requireLevel(r, tenantID, authz.LevelTenantOwner); err != nil {
		s.writeError(w, err)
		return
	}

	var req TransferOwnershipRequest
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}
	if req.NewOwnerUserID == 0 {
		httputil.WriteBadRequest(w, "new_owner_user_id is required")
		return
	}

	result, err := s.engine.TransferOwnership(r.Context(), tenantID, req.NewOwnerUserID)
	if err != nil {
		s.writeError(w, err)
		return
	}
	httputil.WriteSuccess(w, result)
}
