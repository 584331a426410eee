package identity

import (
	"errors"
	"time"
)

// ErrNoActor indicates no resolvable actor: neither a valid preview token nor
// a valid session token was presented. Callers choose between redirect and
// 401 semantics; the resolver never decides that.
var ErrNoActor = errors.New("no resolvable actor")

// SessionKind distinguishes real sign-in sessions from preview sessions
type SessionKind string

const (
	// KindSession is a regular sign-in session
	KindSession SessionKind = "session"
	// KindPreview is an impersonation session created by a platform operator.
	// It substitutes the acting identity without touching the real session.
	KindPreview SessionKind = "preview"
)

// Session maps an opaque token to a user identity with expiry and explicit
// revocation. Only the token hash is stored.
type Session struct {
	ID          int64       `json:"id"`
	UserID      int64       `json:"user_id"`
	Kind        SessionKind `json:"kind"`
	CreatedBy   *int64      `json:"created_by,omitempty"` // Operator who opened a preview session
	TokenHash   string      `json:"-"`
	TokenPrefix string      `json:"token_prefix"`
	ExpiresAt   time.Time   `json:"expires_at"`
	RevokedAt   *time.Time  `json:"revoked_at,omitempty"`
	CreatedAt   time.Time   `json:"created_at"`
	LastSeenAt  *time.Time  `json:"last_seen_at,omitempty"`
}

// Valid reports whether the session is usable at the given instant
func (s *Session) Valid(now time.Time) bool {
	return s.RevokedAt == nil && now.Before(s.ExpiresAt)
}

// Credentials carries the raw tokens presented with a request. Either or
// both may be empty.
type Credentials struct {
	SessionToken string
	PreviewToken string
}
