package identity

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/crestline/gatekeeper/pkg/tenants"
)

type fakeSessionSource struct {
	sessions map[string]*Session
}

func (f *fakeSessionSource) Resolve(ctx context.Context, token string) (*Session, error) {
	return f.sessions[token], nil
}

type fakeUserSource struct {
	users map[int64]*tenants.User
}

func (f *fakeUserSource) UserByID(ctx context.Context, id int64) (*tenants.User, error) {
	user, ok := f.users[id]
	if !ok {
		return nil, &tenants.NotFoundError{Resource: "user", ID: "missing"}
	}
	return user, nil
}

func TestResolveActor(t *testing.T) {
	now := time.Now()
	sessions := &fakeSessionSource{sessions: map[string]*Session{
		"gk_real": {ID: 1, UserID: 10, Kind: KindSession, ExpiresAt: now.Add(time.Hour)},
		"gk_prev": {ID: 2, UserID: 20, Kind: KindPreview, ExpiresAt: now.Add(time.Hour)},
		"gk_gone": {ID: 3, UserID: 99, Kind: KindSession, ExpiresAt: now.Add(time.Hour)},
	}}
	users := &fakeUserSource{users: map[int64]*tenants.User{
		10: {ID: 10, Email: "operator@example.com"},
		20: {ID: 20, Email: "member@example.com"},
	}}
	resolver := NewResolver(sessions, users)
	ctx := context.Background()

	t.Run("session token resolves", func(t *testing.T) {
		user, session, err := resolver.ResolveActor(ctx, Credentials{SessionToken: "gk_real"})
		require.NoError(t, err)
		assert.Equal(t, int64(10), user.ID)
		assert.Equal(t, KindSession, session.Kind)
	})

	t.Run("preview token wins over session", func(t *testing.T) {
		user, session, err := resolver.ResolveActor(ctx, Credentials{
			SessionToken: "gk_real",
			PreviewToken: "gk_prev",
		})
		require.NoError(t, err)
		assert.Equal(t, int64(20), user.ID)
		assert.Equal(t, KindPreview, session.Kind)
	})

	t.Run("invalid preview falls through to session", func(t *testing.T) {
		user, _, err := resolver.ResolveActor(ctx, Credentials{
			SessionToken: "gk_real",
			PreviewToken: "gk_bogus",
		})
		require.NoError(t, err)
		assert.Equal(t, int64(10), user.ID)
	})

	t.Run("session token of the wrong kind does not resolve", func(t *testing.T) {
		_, _, err := resolver.ResolveActor(ctx, Credentials{SessionToken: "gk_prev"})
		assert.ErrorIs(t, err, ErrNoActor)
	})

	t.Run("missing user yields no actor", func(t *testing.T) {
		_, _, err := resolver.ResolveActor(ctx, Credentials{SessionToken: "gk_gone"})
		assert.ErrorIs(t, err, ErrNoActor)
	})

	t.Run("no credentials", func(t *testing.T) {
		_, _, err := resolver.ResolveActor(ctx, Credentials{})
		assert.ErrorIs(t, err, ErrNoActor)
	})
}

func TestResolveActorDeletedUser(t *testing.T) {
	now := time.Now()
	deletedAt := now.Add(-time.Hour)
	sessions := &fakeSessionSource{sessions: map[string]*Session{
		"gk_real": {ID: 1, UserID: 10, Kind: KindSession, ExpiresAt: now.Add(time.Hour)},
	}}
	users := &fakeUserSource{users: map[int64]*tenants.User{
		10: {ID: 10, Email: "gone@example.com", DeletedAt: &deletedAt},
	}}
	resolver := NewResolver(sessions, users)

	_, _, err := resolver.ResolveActor(context.Background(), Credentials{SessionToken: "gk_real"})
	assert.ErrorIs(t, err, ErrNoActor)
}

func TestSessionValid(t *testing.T) {
	now := time.Now()
	revoked := now.Add(-time.Minute)

	assert.True(t, (&Session{ExpiresAt: now.Add(time.Hour)}).Valid(now))
	assert.False(t, (&Session{ExpiresAt: now.Add(-time.Hour)}).Valid(now))
	assert.False(t, (&Session{ExpiresAt: now.Add(time.Hour), RevokedAt: &revoked}).Valid(now))
}
