package entitlements

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/crestline/gatekeeper/pkg/audit"
	"github.com/crestline/gatekeeper/pkg/contextkeys"
	"github.com/crestline/gatekeeper/pkg/tenants"
)

// CacheInvalidator drops cached access decisions after a committed toggle
type CacheInvalidator interface {
	InvalidateTenant(ctx context.Context, tenantID int64)
	InvalidateUser(ctx context.Context, tenantID, userID int64)
}

// PostgresStore persists tenant entitlements and per-user overrides
type PostgresStore struct {
	db      *sql.DB
	auditor audit.Logger
	cache   CacheInvalidator
}

// NewPostgresStore creates an entitlement store. auditor and cache may be
// nil.
func NewPostgresStore(db *sql.DB, auditor audit.Logger, cache CacheInvalidator) *PostgresStore {
	if auditor == nil {
		auditor = audit.NopLogger{}
	}
	return &PostgresStore{db: db, auditor: auditor, cache: cache}
}

// SetEntitlement upserts the tenant master switch and limits for a module.
// The audit row commits with the change.
func (s *PostgresStore) SetEntitlement(ctx context.Context, tenantID int64, moduleKey string, isEnabled bool, limits map[string]interface{}) (*Entitlement, error) {
	var limitsJSON []byte
	if limits != nil {
		var err error
		limitsJSON, err = json.Marshal(limits)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal limits: %w", err)
		}
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	ent := &Entitlement{}
	var storedLimits []byte
	err = tx.QueryRowContext(ctx, `
		INSERT INTO entitlements (tenant_id, module_key, is_enabled, limits)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (tenant_id, module_key)
		DO UPDATE SET is_enabled = EXCLUDED.is_enabled, limits = EXCLUDED.limits, updated_at = NOW()
		RETURNING id, tenant_id, module_key, is_enabled, limits, created_at, updated_at
	`, tenantID, moduleKey, isEnabled, nullableBytes(limitsJSON)).Scan(
		&ent.ID, &ent.TenantID, &ent.ModuleKey, &ent.IsEnabled, &storedLimits, &ent.CreatedAt, &ent.UpdatedAt)
	if err != nil {
		return nil, fmt.Errorf("failed to upsert entitlement: %w", err)
	}
	if len(storedLimits) > 0 {
		if err := json.Unmarshal(storedLimits, &ent.Limits); err != nil {
			return nil, fmt.Errorf("failed to unmarshal limits: %w", err)
		}
	}

	event := audit.NewEvent(ctx, audit.ActionEntitlementSet, audit.StatusSuccess)
	event.TenantID = &tenantID
	event.ActorUserID = actorID(ctx)
	event.Metadata = map[string]interface{}{
		"module_key": moduleKey,
		"is_enabled": isEnabled,
	}
	if err := s.auditor.LogTx(ctx, tx, event); err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit entitlement: %w", err)
	}

	if s.cache != nil {
		s.cache.InvalidateTenant(ctx, tenantID)
	}
	return ent, nil
}

// GetEntitlement returns the tenant entitlement for a module, or nil when
// none exists.
func (s *PostgresStore) GetEntitlement(ctx context.Context, tenantID int64, moduleKey string) (*Entitlement, error) {
	ent := &Entitlement{}
	var limitsJSON []byte
	err := s.db.QueryRowContext(ctx, `
		SELECT id, tenant_id, module_key, is_enabled, limits, created_at, updated_at
		FROM entitlements
		WHERE tenant_id = $1 AND module_key = $2
	`, tenantID, moduleKey).Scan(
		&ent.ID, &ent.TenantID, &ent.ModuleKey, &ent.IsEnabled, &limitsJSON, &ent.CreatedAt, &ent.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get entitlement: %w", err)
	}
	if len(limitsJSON) > 0 {
		if err := json.Unmarshal(limitsJSON, &ent.Limits); err != nil {
			return nil, fmt.Errorf("failed to unmarshal limits: %w", err)
		}
	}
	return ent, nil
}

// ListEntitlements returns all entitlements for a tenant
func (s *PostgresStore) ListEntitlements(ctx context.Context, tenantID int64) ([]*Entitlement, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, tenant_id, module_key, is_enabled, limits, created_at, updated_at
		FROM entitlements
		WHERE tenant_id = $1
		ORDER BY module_key
	`, tenantID)
	if err != nil {
		return nil, fmt.Errorf("failed to list entitlements: %w", err)
	}
	defer rows.Close()

	var ents []*Entitlement
	for rows.Next() {
		ent := &Entitlement{}
		var limitsJSON []byte
		if err := rows.Scan(&ent.ID, &ent.TenantID, &ent.ModuleKey, &ent.IsEnabled, &limitsJSON, &ent.CreatedAt, &ent.UpdatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan entitlement: %w", err)
		}
		if len(limitsJSON) > 0 {
			if err := json.Unmarshal(limitsJSON, &ent.Limits); err != nil {
				return nil, fmt.Errorf("failed to unmarshal limits: %w", err)
			}
		}
		ents = append(ents, ent)
	}
	return ents, rows.Err()
}

// ModuleEnabled reports the tenant master switch; a missing row reads as
// disabled.
func (s *PostgresStore) ModuleEnabled(ctx context.Context, tenantID int64, moduleKey string) (bool, error) {
	var enabled bool
	err := s.db.QueryRowContext(ctx, `
		SELECT is_enabled FROM entitlements WHERE tenant_id = $1 AND module_key = $2
	`, tenantID, moduleKey).Scan(&enabled)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to check module switch: %w", err)
	}
	return enabled, nil
}

// SetUserOverride upserts the per-user toggle for a module
func (s *PostgresStore) SetUserOverride(ctx context.Context, userID, tenantID int64, moduleKey string, isEnabled bool) (*UserEntitlement, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	ue := &UserEntitlement{}
	err = tx.QueryRowContext(ctx, `
		INSERT INTO user_entitlements (user_id, tenant_id, module_key, is_enabled)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (user_id, tenant_id, module_key)
		DO UPDATE SET is_enabled = EXCLUDED.is_enabled, updated_at = NOW()
		RETURNING id, user_id, tenant_id, module_key, is_enabled, created_at, updated_at
	`, userID, tenantID, moduleKey, isEnabled).Scan(
		&ue.ID, &ue.UserID, &ue.TenantID, &ue.ModuleKey, &ue.IsEnabled, &ue.CreatedAt, &ue.UpdatedAt)
	if err != nil {
		return nil, fmt.Errorf("failed to upsert user entitlement: %w", err)
	}

	event := audit.NewEvent(ctx, audit.ActionUserEntitlementSet, audit.StatusSuccess)
	event.TenantID = &tenantID
	event.TargetUserID = &userID
	event.ActorUserID = actorID(ctx)
	event.Metadata = map[string]interface{}{
		"module_key": moduleKey,
		"is_enabled": isEnabled,
	}
	if err := s.auditor.LogTx(ctx, tx, event); err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit user entitlement: %w", err)
	}

	if s.cache != nil {
		s.cache.InvalidateUser(ctx, tenantID, userID)
	}
	return ue, nil
}

// RemoveUserOverride deletes the per-user toggle, restoring the tenant
// default for that user.
func (s *PostgresStore) RemoveUserOverride(ctx context.Context, userID, tenantID int64, moduleKey string) error {
	result, err := s.db.ExecContext(ctx, `
		DELETE FROM user_entitlements WHERE user_id = $1 AND tenant_id = $2 AND module_key = $3
	`, userID, tenantID, moduleKey)
	if err != nil {
		return fmt.Errorf("failed to delete user entitlement: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read delete result: %w", err)
	}
	if affected == 0 {
		return &tenants.NotFoundError{Resource: "user entitlement", ID: fmt.Sprintf("%d/%d/%s", userID, tenantID, moduleKey)}
	}

	if s.cache != nil {
		s.cache.InvalidateUser(ctx, tenantID, userID)
	}
	return nil
}

// UserOverride returns the per-user toggle, or nil when no override exists
func (s *PostgresStore) UserOverride(ctx context.Context, userID, tenantID int64, moduleKey string) (*bool, error) {
	var enabled bool
	err := s.db.QueryRowContext(ctx, `
		SELECT is_enabled FROM user_entitlements
		WHERE user_id = $1 AND tenant_id = $2 AND module_key = $3
	`, userID, tenantID, moduleKey).Scan(&enabled)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get user entitlement: %w", err)
	}
	return &enabled, nil
}

func nullableBytes(b []byte) interface{} {
	if len(b) == 0 {
		return nil
	}
	return b
}

func actorID(ctx context.Context) *int64 {
	if actor, ok := ctx.Value(contextkeys.ActorKey).(*tenants.User); ok && actor != nil {
		return &actor.ID
	}
	return nil
}
