package hierarchy

import (
	"context"
	"database/sql"
	"fmt"
)

// querier is satisfied by *sql.DB and *sql.Tx. Invariant checks always run
// against the mutating transaction, never a stale pre-transaction read.
type querier interface {
	QueryRowContext(ctx context.Context, query string, args ...interface{}) *sql.Row
	QueryContext(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error)
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
}

const membershipColumns = `id, tenant_id, user_id, rank, supervisor_id, is_active, deleted_at, created_at, updated_at`

func scanMembership(row *sql.Row) (*Membership, error) {
	m := &Membership{}
	err := row.Scan(&m.ID, &m.TenantID, &m.UserID, &m.Rank, &m.SupervisorID,
		&m.IsActive, &m.DeletedAt, &m.CreatedAt, &m.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, ErrMembershipNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan membership: %w", err)
	}
	return m, nil
}

// getMembership loads the non-deleted membership for (tenant, user)
func getMembership(ctx context.Context, q querier, tenantID, userID int64) (*Membership, error) {
	row := q.QueryRowContext(ctx, `
		SELECT `+membershipColumns+`
		FROM memberships
		WHERE tenant_id = $1 AND user_id = $2 AND deleted_at IS NULL
	`, tenantID, userID)
	return scanMembership(row)
}

// activeOwner returns the tenant's active owner membership, or
// ErrMembershipNotFound if the tenant has none.
func activeOwner(ctx context.Context, q querier, tenantID int64) (*Membership, error) {
	row := q.QueryRowContext(ctx, `
		SELECT `+membershipColumns+`
		FROM memberships
		WHERE tenant_id = $1 AND rank = $2 AND is_active = TRUE AND deleted_at IS NULL
	`, tenantID, RankTenantOwner)
	return scanMembership(row)
}

// assertSingleTenantOwner fails unless the tenant has exactly one active,
// non-deleted owner membership. Called after every mutation that can change
// the ownership count, inside the mutating transaction.
func assertSingleTenantOwner(ctx context.Context, q querier, tenantID int64) error {
	var count int
	err := q.QueryRowContext(ctx, `
		SELECT COUNT(*)
		FROM memberships
		WHERE tenant_id = $1 AND rank = $2 AND is_active = TRUE AND deleted_at IS NULL
	`, tenantID, RankTenantOwner).Scan(&count)
	if err != nil {
		return fmt.Errorf("failed to count tenant owners: %w", err)
	}
	if count != 1 {
		return &InvariantViolationError{
			Invariant: InvariantSingleOwner,
			TenantID:  tenantID,
			Detail:    fmt.Sprintf("expected exactly 1 active owner, found %d", count),
		}
	}
	return nil
}

// supervisorEligible reports whether the membership can supervise members.
// Active managers and the active owner are eligible.
func supervisorEligible(m *Membership) bool {
	if m == nil || !m.IsActive || m.DeletedAt != nil {
		return false
	}
	return m.Rank == RankManager || m.Rank == RankTenantOwner
}

// validateSupervisorRule checks a draft membership before it is persisted.
// Cross-tenant supervisor references fail exactly like missing ones so
// existence never leaks across tenants.
func validateSupervisorRule(ctx context.Context, q querier, draft *Membership) error {
	if draft.Rank != RankMember {
		if draft.SupervisorID != nil {
			return &InvariantViolationError{
				Invariant: InvariantSupervisorRule,
				TenantID:  draft.TenantID,
				UserID:    draft.UserID,
				Detail:    fmt.Sprintf("rank %s must not carry a supervisor", draft.Rank),
			}
		}
		return nil
	}

	if draft.SupervisorID == nil {
		return &InvariantViolationError{
			Invariant: InvariantSupervisorRule,
			TenantID:  draft.TenantID,
			UserID:    draft.UserID,
			Detail:    "member must have a supervisor",
		}
	}
	if *draft.SupervisorID == draft.UserID {
		return &InvariantViolationError{
			Invariant: InvariantAcyclicGraph,
			TenantID:  draft.TenantID,
			UserID:    draft.UserID,
			Detail:    "user cannot supervise themselves",
		}
	}

	supervisor, err := getMembership(ctx, q, draft.TenantID, *draft.SupervisorID)
	if err == ErrMembershipNotFound {
		return supervisorIneligible(draft)
	}
	if err != nil {
		return err
	}
	if !supervisorEligible(supervisor) {
		return supervisorIneligible(draft)
	}

	// Walk the candidate supervisor's chain upward looking for the target
	// user. Any hit is a cycle.
	current := supervisor
	for depth := 0; depth < supervisorChainCap; depth++ {
		if current.SupervisorID == nil {
			return nil
		}
		if *current.SupervisorID == draft.UserID {
			return &InvariantViolationError{
				Invariant: InvariantAcyclicGraph,
				TenantID:  draft.TenantID,
				UserID:    draft.UserID,
				Detail:    "supervisor assignment would create a cycle",
			}
		}
		next, err := getMembership(ctx, q, draft.TenantID, *current.SupervisorID)
		if err == ErrMembershipNotFound {
			return nil
		}
		if err != nil {
			return err
		}
		current = next
	}
	return &InvariantViolationError{
		Invariant: InvariantAcyclicGraph,
		TenantID:  draft.TenantID,
		UserID:    draft.UserID,
		Detail:    "supervisor chain exceeds depth cap",
	}
}

// supervisorIneligible reports missing and ineligible supervisors with the
// same detail text on purpose.
func supervisorIneligible(draft *Membership) error {
	return &InvariantViolationError{
		Invariant: InvariantSupervisorRule,
		TenantID:  draft.TenantID,
		UserID:    draft.UserID,
		Detail:    "supervisor is not an eligible manager in this tenant",
	}
}

// reassignReports repoints every active member supervised by the departing
// user inside the same transaction as the departure. Preferred target is
// the departing manager's own supervisor if still eligible, then the active
// owner. With reports present and no eligible target the mutation is
// rejected rather than leaving dangling references.
func reassignReports(ctx context.Context, q querier, tenantID, departingUserID int64) (int, error) {
	var reports int
	err := q.QueryRowContext(ctx, `
		SELECT COUNT(*)
		FROM memberships
		WHERE tenant_id = $1 AND supervisor_id = $2 AND rank = $3
		  AND is_active = TRUE AND deleted_at IS NULL
	`, tenantID, departingUserID, RankMember).Scan(&reports)
	if err != nil {
		return 0, fmt.Errorf("failed to count supervised members: %w", err)
	}
	if reports == 0 {
		return 0, nil
	}

	target, err := fallbackSupervisor(ctx, q, tenantID, departingUserID)
	if err != nil {
		return 0, err
	}
	if target == nil {
		return 0, &InvariantViolationError{
			Invariant: InvariantNoOrphanMembers,
			TenantID:  tenantID,
			UserID:    departingUserID,
			Detail:    fmt.Sprintf("no eligible supervisor for %d supervised members", reports),
		}
	}

	result, err := q.ExecContext(ctx, `
		UPDATE memberships
		SET supervisor_id = $1, updated_at = NOW()
		WHERE tenant_id = $2 AND supervisor_id = $3 AND rank = $4
		  AND is_active = TRUE AND deleted_at IS NULL
	`, *target, tenantID, departingUserID, RankMember)
	if err != nil {
		return 0, fmt.Errorf("failed to reassign supervised members: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to read reassignment count: %w", err)
	}
	return int(affected), nil
}

// fallbackSupervisor picks the reassignment target for a departing
// supervisor's reports, or nil when no eligible target exists.
func fallbackSupervisor(ctx context.Context, q querier, tenantID, departingUserID int64) (*int64, error) {
	departing, err := getMembership(ctx, q, tenantID, departingUserID)
	if err != nil && err != ErrMembershipNotFound {
		return nil, err
	}
	if departing != nil && departing.SupervisorID != nil {
		own, err := getMembership(ctx, q, tenantID, *departing.SupervisorID)
		if err != nil && err != ErrMembershipNotFound {
			return nil, err
		}
		if err == nil && own.Rank == RankManager && own.IsActive && own.UserID != departingUserID {
			return &own.UserID, nil
		}
	}

	owner, err := activeOwner(ctx, q, tenantID)
	if err == ErrMembershipNotFound {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if owner.UserID == departingUserID {
		return nil, nil
	}
	return &owner.UserID, nil
}
