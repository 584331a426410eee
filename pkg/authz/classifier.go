package authz

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/crestline/gatekeeper/pkg/hierarchy"
)

// Classifier resolves an actor's level for a tenant. It runs on every
// protected request, so both lookups are single indexed reads with no graph
// walk.
type Classifier struct {
	db *sql.DB
}

// NewClassifier creates a level classifier. Read replicas are fine here;
// level lookups tolerate replication lag.
func NewClassifier(db *sql.DB) *Classifier {
	return &Classifier{db: db}
}

// ActorLevel returns the actor's level for the tenant. Platform roles win
// over tenant ranks; with neither, ok is false and the actor has no level
// in the tenant.
func (c *Classifier) ActorLevel(ctx context.Context, userID, tenantID int64) (Level, bool, error) {
	var platformRank hierarchy.PlatformRank
	err := c.db.QueryRowContext(ctx, `
		SELECT rank FROM platform_roles
		WHERE user_id = $1
		ORDER BY CASE rank WHEN $2 THEN 0 ELSE 1 END
		LIMIT 1
	`, userID, hierarchy.PlatformSuperAdmin).Scan(&platformRank)
	if err != nil && err != sql.ErrNoRows {
		return "", false, fmt.Errorf("failed to look up platform roles: %w", err)
	}
	if err == nil {
		switch platformRank {
		case hierarchy.PlatformSuperAdmin:
			return LevelPlatformSuper, true, nil
		case hierarchy.PlatformAdmin:
			return LevelPlatformAdmin, true, nil
		}
	}

	var rank hierarchy.Rank
	err = c.db.QueryRowContext(ctx, `
		SELECT rank FROM memberships
		WHERE tenant_id = $1 AND user_id = $2 AND is_active = TRUE AND deleted_at IS NULL
	`, tenantID, userID).Scan(&rank)
	if err == sql.ErrNoRows {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("failed to look up membership: %w", err)
	}

	switch rank {
	case hierarchy.RankTenantOwner:
		return LevelTenantOwner, true, nil
	case hierarchy.RankManager:
		return LevelManager, true, nil
	case hierarchy.RankMember:
		return LevelMember, true, nil
	}
	return "", false, fmt.Errorf("unknown membership rank %q", rank)
}
