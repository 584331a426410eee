package identity

import (
	"context"
	"fmt"

	"github.com/crestline/gatekeeper/pkg/tenants"
)

// SessionSource resolves a plaintext token to a live session, or nil
type SessionSource interface {
	Resolve(ctx context.Context, token string) (*Session, error)
}

// UserSource looks up users by id
type UserSource interface {
	UserByID(ctx context.Context, id int64) (*tenants.User, error)
}

// Resolver maps presented credentials to a concrete user identity.
//
// Resolution order: a valid preview token always wins over the real session,
// so a platform operator previewing as another user is never silently
// reverted to their own identity. All lookups are read-only.
type Resolver struct {
	sessions SessionSource
	users    UserSource
}

// NewResolver creates a new identity resolver
func NewResolver(sessions SessionSource, users UserSource) *Resolver {
	return &Resolver{sessions: sessions, users: users}
}

// ResolveActor returns the acting user for the given credentials, along with
// the session it was resolved from. When neither token resolves, it returns
// ErrNoActor; no other failure mode is mapped onto that sentinel.
func (r *Resolver) ResolveActor(ctx context.Context, creds Credentials) (*tenants.User, *Session, error) {
	if creds.PreviewToken != "" {
		user, session, err := r.resolveToken(ctx, creds.PreviewToken, KindPreview)
		if err != nil {
			return nil, nil, err
		}
		if user != nil {
			return user, session, nil
		}
		// Invalid preview tokens fall through to the real session.
	}

	if creds.SessionToken != "" {
		user, session, err := r.resolveToken(ctx, creds.SessionToken, KindSession)
		if err != nil {
			return nil, nil, err
		}
		if user != nil {
			return user, session, nil
		}
	}

	return nil, nil, ErrNoActor
}

func (r *Resolver) resolveToken(ctx context.Context, token string, kind SessionKind) (*tenants.User, *Session, error) {
	session, err := r.sessions.Resolve(ctx, token)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to resolve %s token: %w", kind, err)
	}
	if session == nil || session.Kind != kind {
		return nil, nil, nil
	}

	user, err := r.users.UserByID(ctx, session.UserID)
	if err != nil {
		if tenants.IsNotFound(err) {
			return nil, nil, nil
		}
		return nil, nil, fmt.Errorf("failed to load session user: %w", err)
	}
	if user.IsDeleted() {
		return nil, nil, nil
	}

	return user, session, nil
}
