package hierarchy

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/crestline/gatekeeper/pkg/audit"
	"github.com/crestline/gatekeeper/pkg/contextkeys"
	"github.com/crestline/gatekeeper/pkg/tenants"
)

// PlatformCacheInvalidator drops a user's cached decisions across every
// tenant. Platform roles are tenant-independent, so a grant or revoke
// changes the user's level everywhere at once.
type PlatformCacheInvalidator interface {
	InvalidateUserAllTenants(ctx context.Context, userID int64)
}

// PlatformStore manages tenant-independent platform role grants
type PlatformStore struct {
	db      *sql.DB
	auditor audit.Logger
	cache   PlatformCacheInvalidator
}

// NewPlatformStore creates a platform role store. cache may be nil.
func NewPlatformStore(db *sql.DB, auditor audit.Logger, cache PlatformCacheInvalidator) *PlatformStore {
	if auditor == nil {
		auditor = audit.NopLogger{}
	}
	return &PlatformStore{db: db, auditor: auditor, cache: cache}
}

// Grant gives the user a platform rank. Granting an already-held rank is a
// no-op.
func (s *PlatformStore) Grant(ctx context.Context, userID int64, rank PlatformRank, grantedBy *int64) (*PlatformRole, error) {
	if rank != PlatformSuperAdmin && rank != PlatformAdmin {
		return nil, fmt.Errorf("invalid platform rank %q", rank)
	}

	role := &PlatformRole{}
	err := s.db.QueryRowContext(ctx, `
		INSERT INTO platform_roles (user_id, rank, granted_by)
		VALUES ($1, $2, $3)
		ON CONFLICT (user_id, rank) DO UPDATE SET rank = EXCLUDED.rank
		RETURNING id, user_id, rank, granted_by, granted_at
	`, userID, rank, grantedBy).Scan(&role.ID, &role.UserID, &role.Rank, &role.GrantedBy, &role.GrantedAt)
	if err != nil {
		return nil, fmt.Errorf("failed to grant platform role: %w", err)
	}

	event := audit.NewEvent(ctx, audit.ActionPlatformRoleGrant, audit.StatusSuccess)
	event.TargetUserID = &userID
	event.ActorUserID = actorFromContext(ctx)
	event.Metadata = map[string]interface{}{"rank": string(rank)}
	s.auditor.Log(ctx, event)

	s.invalidate(ctx, userID)
	return role, nil
}

// Revoke removes a platform rank from the user
func (s *PlatformStore) Revoke(ctx context.Context, userID int64, rank PlatformRank) error {
	result, err := s.db.ExecContext(ctx, `
		DELETE FROM platform_roles WHERE user_id = $1 AND rank = $2
	`, userID, rank)
	if err != nil {
		return fmt.Errorf("failed to revoke platform role: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read revoke result: %w", err)
	}
	if affected == 0 {
		return &tenants.NotFoundError{Resource: "platform role", ID: fmt.Sprintf("%d/%s", userID, rank)}
	}

	event := audit.NewEvent(ctx, audit.ActionPlatformRoleRevoke, audit.StatusSuccess)
	event.TargetUserID = &userID
	event.ActorUserID = actorFromContext(ctx)
	event.Metadata = map[string]interface{}{"rank": string(rank)}
	s.auditor.Log(ctx, event)

	s.invalidate(ctx, userID)
	return nil
}

func (s *PlatformStore) invalidate(ctx context.Context, userID int64) {
	if s.cache != nil {
		s.cache.InvalidateUserAllTenants(ctx, userID)
	}
}

// RolesForUser returns the user's platform role grants
func (s *PlatformStore) RolesForUser(ctx context.Context, userID int64) ([]*PlatformRole, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, user_id, rank, granted_by, granted_at
		FROM platform_roles
		WHERE user_id = $1
		ORDER BY granted_at
	`, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to list platform roles: %w", err)
	}
	defer rows.Close()

	var roles []*PlatformRole
	for rows.Next() {
		role := &PlatformRole{}
		if err := rows.Scan(&role.ID, &role.UserID, &role.Rank, &role.GrantedBy, &role.GrantedAt); err != nil {
			return nil, fmt.Errorf("failed to scan platform role: %w", err)
		}
		roles = append(roles, role)
	}
	return roles, rows.Err()
}

func actorFromContext(ctx context.Context) *int64 {
	if actor, ok := ctx.Value(contextkeys.ActorKey).(*tenants.User); ok && actor != nil {
		return &actor.ID
	}
	return nil
}
