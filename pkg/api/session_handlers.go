package api

import (
	"net/http"

	"github.com/crestline/gatekeeper/pkg/audit"
	"github.com/crestline/gatekeeper/pkg/authz"
	"github.com/crestline/gatekeeper/pkg/contextkeys"
	"github.com/crestline/gatekeeper/pkg/httputil"
	"github.com/crestline/gatekeeper/pkg/identity"
	"github.com/crestline/gatekeeper/pkg/tenants"
)

// CreateSessionRequest issues a session token for a user. Token issuance is
// a platform operation; interactive sign-in lives outside this service.
type CreateSessionRequest struct {
	UserID int64 `json:"user_id"`
}

// SessionResponse returns the token exactly once; only its hash is stored
type SessionResponse struct {
	Token   string            `json:"token"`
	Session *identity.Session `json:"session"`
}

func (s *Server) createSession(w http.ResponseWriter, r *http.Request) {
	operator, err := s.requirePlatform(r, authz.LevelPlatformAdmin)
	if err != nil {
		s.writeError(w, err)
		return
	}

	var req CreateSessionRequest
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}
	if req.UserID == 0 {
		httputil.WriteBadRequest(w, "user_id is required")
		return
	}

	token, session, err := s.sessions.Create(r.Context(), req.UserID, identity.KindSession, nil, s.sessionTTL)
	if err != nil {
		s.writeError(w, err)
		return
	}

	event := audit.NewEvent(r.Context(), audit.ActionSessionCreate, audit.StatusSuccess)
	event.ActorUserID = &operator.ID
	event.TargetUserID = &req.UserID
	s.auditor.Log(r.Context(), event)

	httputil.WriteCreated(w, SessionResponse{Token: token, Session: session})
}

func (s *Server) revokeSession(w http.ResponseWriter, r *http.Request) {
	user, err := actor(r)
	if err != nil {
		s.writeError(w, err)
		return
	}
	session, ok := r.Context().Value(contextkeys.SessionKey).(*identity.Session)
	if !ok || session == nil {
		s.writeError(w, authz.ErrNoActor)
		return
	}

	if err := s.sessions.RevokeByID(r.Context(), session.ID); err != nil {
		s.writeError(w, err)
		return
	}

	event := audit.NewEvent(r.Context(), audit.ActionSessionRevoke, audit.StatusSuccess)
	event.ActorUserID = &user.ID
	event.TargetUserID = &session.UserID
	s.auditor.Log(r.Context(), event)

	httputil.WriteNoContent(w)
}

// StartPreviewRequest starts impersonation of another user. Only platform
// operators may preview; the preview token substitutes the acting identity
// without destroying the operator's real session.
type StartPreviewRequest struct {
	UserID int64 `json:"user_id"`
}

func (s *Server) startPreview(w http.ResponseWriter, r *http.Request) {
	operator, err := s.requirePlatform(r, authz.LevelPlatformAdmin)
	if err != nil {
		s.writeError(w, err)
		return
	}

	var req StartPreviewRequest
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}
	if req.UserID == 0 {
		httputil.WriteBadRequest(w, "user_id is required")
		return
	}

	token, session, err := s.sessions.Create(r.Context(), req.UserID, identity.KindPreview, &operator.ID, s.previewTTL)
	if err != nil {
		s.writeError(w, err)
		return
	}

	event := audit.NewEvent(r.Context(), audit.ActionPreviewStart, audit.StatusSuccess)
	event.ActorUserID = &operator.ID
	event.TargetUserID = &req.UserID
	s.auditor.Log(r.Context(), event)

	httputil.WriteCreated(w, SessionResponse{Token: token, Session: session})
}

// requirePlatform checks the actor holds a platform level. Platform roles
// are tenant-independent, so the classifier runs with no tenant scope.
func (s *Server) requirePlatform(r *http.Request, min authz.Level) (*tenants.User, error) {
	user, err := actor(r)
	if err != nil {
		return nil, err
	}
	level, err := s.resolver.RequireLevel(r.Context(), user.ID, 0, min)
	if err != nil {
		return nil, err
	}
	if !level.Platform() {
		return nil, &authz.ForbiddenError{Reason: authz.ReasonNoRole}
	}
	return user, nil
}
