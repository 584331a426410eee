package hierarchy

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/lib/pq"

	"github.com/crestline/gatekeeper/pkg/audit"
	"github.com/crestline/gatekeeper/pkg/observability"
	"github.com/crestline/gatekeeper/pkg/tenants"
)

// ErrMembershipExists indicates the user already holds a membership in the
// tenant.
var ErrMembershipExists = errors.New("membership already exists for this user in this tenant")

// ErrOwnershipTransferRequired indicates a mutation tried to create or
// remove an owner rank directly. Ownership only moves through
// TransferOwnership, which keeps the owner count at exactly one.
var ErrOwnershipTransferRequired = errors.New("ownership changes must go through an ownership transfer")

// CacheInvalidator drops cached access decisions after a committed mutation.
// Implementations must be safe for concurrent use.
type CacheInvalidator interface {
	InvalidateTenant(ctx context.Context, tenantID int64)
	InvalidateUser(ctx context.Context, tenantID, userID int64)
}

// Engine applies membership graph mutations. Every mutation runs in one
// transaction: lock the tenant row, validate, mutate, re-assert invariants,
// write the audit row, commit. Concurrent mutations on the same tenant
// serialize on the tenant row lock, so invariant checks always see the
// latest committed graph.
type Engine struct {
	db      *sql.DB
	auditor audit.Logger
	cache   CacheInvalidator
	logger  *observability.Logger
	metrics *observability.Metrics
}

// NewEngine creates a membership mutation engine. cache and metrics may be
// nil.
func NewEngine(db *sql.DB, auditor audit.Logger, cache CacheInvalidator, logger *observability.Logger, metrics *observability.Metrics) *Engine {
	if auditor == nil {
		auditor = audit.NopLogger{}
	}
	return &Engine{
		db:      db,
		auditor: auditor,
		cache:   cache,
		logger:  logger,
		metrics: metrics,
	}
}

// AddMember creates a membership for the user in the tenant. The first
// membership of a tenant must be the owner; after that, owner memberships
// are only created by ownership transfer. A previously deleted membership is
// revived in place.
func (e *Engine) AddMember(ctx context.Context, tenantID, userID int64, rank Rank, supervisorID *int64) (*MutationResult, error) {
	const operation = "add_member"
	if !rank.Valid() {
		return nil, e.observe(operation, fmt.Errorf("invalid rank %q", rank))
	}

	tx, err := e.begin(ctx, tenantID)
	if err != nil {
		return nil, e.observe(operation, err)
	}
	defer tx.Rollback()

	if err := e.checkUserExists(ctx, tx, userID); err != nil {
		return nil, e.observe(operation, err)
	}

	var existingID int64
	var existingDeleted sql.NullTime
	err = tx.QueryRowContext(ctx, `
		SELECT id, deleted_at FROM memberships WHERE tenant_id = $1 AND user_id = $2
	`, tenantID, userID).Scan(&existingID, &existingDeleted)
	if err != nil && err != sql.ErrNoRows {
		return nil, e.observe(operation, fmt.Errorf("failed to look up membership: %w", err))
	}
	if err == nil && !existingDeleted.Valid {
		return nil, e.observe(operation, ErrMembershipExists)
	}
	revive := err == nil

	_, ownerErr := activeOwner(ctx, tx, tenantID)
	ownerExists := ownerErr == nil
	if ownerErr != nil && ownerErr != ErrMembershipNotFound {
		return nil, e.observe(operation, ownerErr)
	}
	if rank == RankTenantOwner && ownerExists {
		return nil, e.observe(operation, &InvariantViolationError{
			Invariant: InvariantSingleOwner,
			TenantID:  tenantID,
			UserID:    userID,
			Detail:    "tenant already has an active owner",
		})
	}
	if rank != RankTenantOwner && !ownerExists {
		return nil, e.observe(operation, &InvariantViolationError{
			Invariant: InvariantSingleOwner,
			TenantID:  tenantID,
			UserID:    userID,
			Detail:    "first membership must be the tenant owner",
		})
	}

	draft := &Membership{
		TenantID:     tenantID,
		UserID:       userID,
		Rank:         rank,
		SupervisorID: supervisorID,
		IsActive:     true,
	}
	if err := validateSupervisorRule(ctx, tx, draft); err != nil {
		return nil, e.observe(operation, err)
	}

	if revive {
		err = tx.QueryRowContext(ctx, `
			UPDATE memberships
			SET rank = $1, supervisor_id = $2, is_active = TRUE, deleted_at = NULL, updated_at = NOW()
			WHERE id = $3
			RETURNING `+membershipColumns+`
		`, rank, supervisorID, existingID).Scan(
			&draft.ID, &draft.TenantID, &draft.UserID, &draft.Rank, &draft.SupervisorID,
			&draft.IsActive, &draft.DeletedAt, &draft.CreatedAt, &draft.UpdatedAt)
	} else {
		err = tx.QueryRowContext(ctx, `
			INSERT INTO memberships (tenant_id, user_id, rank, supervisor_id, is_active)
			VALUES ($1, $2, $3, $4, TRUE)
			RETURNING `+membershipColumns+`
		`, tenantID, userID, rank, supervisorID).Scan(
			&draft.ID, &draft.TenantID, &draft.UserID, &draft.Rank, &draft.SupervisorID,
			&draft.IsActive, &draft.DeletedAt, &draft.CreatedAt, &draft.UpdatedAt)
	}
	if err != nil {
		if pqErr, ok := err.(*pq.Error); ok && pqErr.Code == "23505" {
			return nil, e.observe(operation, ErrMembershipExists)
		}
		return nil, e.observe(operation, fmt.Errorf("failed to persist membership: %w", err))
	}

	if err := assertSingleTenantOwner(ctx, tx, tenantID); err != nil {
		return nil, e.observe(operation, err)
	}

	event := e.event(ctx, audit.ActionMembershipCreate, tenantID, userID)
	event.Metadata = map[string]interface{}{"rank": string(rank)}
	if supervisorID != nil {
		event.Metadata["supervisor_id"] = *supervisorID
	}
	if err := e.commit(ctx, tx, event); err != nil {
		return nil, e.observe(operation, err)
	}

	e.invalidate(ctx, tenantID, userID)
	e.observe(operation, nil)
	return &MutationResult{Membership: draft}, nil
}

// ChangeRank changes a membership between manager and member. Demoting a
// manager cascades reassignment of their reports. Ownership is out of scope
// here; use TransferOwnership.
func (e *Engine) ChangeRank(ctx context.Context, tenantID, userID int64, newRank Rank, supervisorID *int64) (*MutationResult, error) {
	const operation = "change_rank"
	if !newRank.Valid() {
		return nil, e.observe(operation, fmt.Errorf("invalid rank %q", newRank))
	}
	if newRank == RankTenantOwner {
		return nil, e.observe(operation, ErrOwnershipTransferRequired)
	}

	tx, err := e.begin(ctx, tenantID)
	if err != nil {
		return nil, e.observe(operation, err)
	}
	defer tx.Rollback()

	current, err := getMembership(ctx, tx, tenantID, userID)
	if err != nil {
		return nil, e.observe(operation, err)
	}
	if current.Rank == RankTenantOwner {
		return nil, e.observe(operation, ErrOwnershipTransferRequired)
	}

	reassigned := 0
	if current.Rank == RankManager && newRank == RankMember {
		reassigned, err = reassignReports(ctx, tx, tenantID, userID)
		if err != nil {
			return nil, e.observe(operation, err)
		}
	}

	draft := &Membership{TenantID: tenantID, UserID: userID, Rank: newRank, SupervisorID: supervisorID, IsActive: current.IsActive}
	if err := validateSupervisorRule(ctx, tx, draft); err != nil {
		return nil, e.observe(operation, err)
	}

	updated := &Membership{}
	err = tx.QueryRowContext(ctx, `
		UPDATE memberships
		SET rank = $1, supervisor_id = $2, updated_at = NOW()
		WHERE id = $3
		RETURNING `+membershipColumns+`
	`, newRank, supervisorID, current.ID).Scan(
		&updated.ID, &updated.TenantID, &updated.UserID, &updated.Rank, &updated.SupervisorID,
		&updated.IsActive, &updated.DeletedAt, &updated.CreatedAt, &updated.UpdatedAt)
	if err != nil {
		return nil, e.observe(operation, fmt.Errorf("failed to update membership rank: %w", err))
	}

	if err := assertSingleTenantOwner(ctx, tx, tenantID); err != nil {
		return nil, e.observe(operation, err)
	}

	event := e.event(ctx, audit.ActionMembershipRankChange, tenantID, userID)
	event.Changes = &audit.ChangeDetails{
		Before: map[string]interface{}{"rank": string(current.Rank)},
		After:  map[string]interface{}{"rank": string(newRank)},
	}
	if reassigned > 0 {
		event.Metadata = map[string]interface{}{"reassigned_members": reassigned}
	}
	if err := e.commit(ctx, tx, event); err != nil {
		return nil, e.observe(operation, err)
	}

	e.invalidateGraph(ctx, tenantID, userID, reassigned)
	e.observe(operation, nil)
	e.observeReassigned(reassigned)
	return &MutationResult{Membership: updated, Reassigned: reassigned}, nil
}

// SetActive activates or deactivates a membership. Deactivating a manager
// cascades reassignment of their reports; deactivating the owner is always
// rejected. Reactivating a member re-validates its supervisor.
func (e *Engine) SetActive(ctx context.Context, tenantID, userID int64, active bool) (*MutationResult, error) {
	const operation = "set_active"
	tx, err := e.begin(ctx, tenantID)
	if err != nil {
		return nil, e.observe(operation, err)
	}
	defer tx.Rollback()

	current, err := getMembership(ctx, tx, tenantID, userID)
	if err != nil {
		return nil, e.observe(operation, err)
	}
	if current.IsActive == active {
		return &MutationResult{Membership: current}, nil
	}

	reassigned := 0
	if !active {
		if current.Rank == RankTenantOwner {
			return nil, e.observe(operation, &InvariantViolationError{
				Invariant: InvariantSingleOwner,
				TenantID:  tenantID,
				UserID:    userID,
				Detail:    "cannot deactivate the tenant owner",
			})
		}
		if current.Rank == RankManager {
			reassigned, err = reassignReports(ctx, tx, tenantID, userID)
			if err != nil {
				return nil, e.observe(operation, err)
			}
		}
	} else if current.Rank == RankMember {
		draft := &Membership{TenantID: tenantID, UserID: userID, Rank: RankMember, SupervisorID: current.SupervisorID, IsActive: true}
		if err := validateSupervisorRule(ctx, tx, draft); err != nil {
			return nil, e.observe(operation, err)
		}
	}

	updated := &Membership{}
	err = tx.QueryRowContext(ctx, `
		UPDATE memberships
		SET is_active = $1, updated_at = NOW()
		WHERE id = $2
		RETURNING `+membershipColumns+`
	`, active, current.ID).Scan(
		&updated.ID, &updated.TenantID, &updated.UserID, &updated.Rank, &updated.SupervisorID,
		&updated.IsActive, &updated.DeletedAt, &updated.CreatedAt, &updated.UpdatedAt)
	if err != nil {
		return nil, e.observe(operation, fmt.Errorf("failed to update membership active flag: %w", err))
	}

	if err := assertSingleTenantOwner(ctx, tx, tenantID); err != nil {
		return nil, e.observe(operation, err)
	}

	action := audit.ActionMembershipDeactivate
	if active {
		action = audit.ActionMembershipActivate
	}
	event := e.event(ctx, action, tenantID, userID)
	if reassigned > 0 {
		event.Metadata = map[string]interface{}{"reassigned_members": reassigned}
	}
	if err := e.commit(ctx, tx, event); err != nil {
		return nil, e.observe(operation, err)
	}

	e.invalidateGraph(ctx, tenantID, userID, reassigned)
	e.observe(operation, nil)
	e.observeReassigned(reassigned)
	return &MutationResult{Membership: updated, Reassigned: reassigned}, nil
}

// SetSupervisor repoints a member's supervisor
func (e *Engine) SetSupervisor(ctx context.Context, tenantID, userID, supervisorID int64) (*MutationResult, error) {
	const operation = "set_supervisor"
	tx, err := e.begin(ctx, tenantID)
	if err != nil {
		return nil, e.observe(operation, err)
	}
	defer tx.Rollback()

	current, err := getMembership(ctx, tx, tenantID, userID)
	if err != nil {
		return nil, e.observe(operation, err)
	}
	if current.Rank != RankMember {
		return nil, e.observe(operation, &InvariantViolationError{
			Invariant: InvariantSupervisorRule,
			TenantID:  tenantID,
			UserID:    userID,
			Detail:    fmt.Sprintf("rank %s must not carry a supervisor", current.Rank),
		})
	}

	draft := &Membership{TenantID: tenantID, UserID: userID, Rank: RankMember, SupervisorID: &supervisorID, IsActive: current.IsActive}
	if err := validateSupervisorRule(ctx, tx, draft); err != nil {
		return nil, e.observe(operation, err)
	}

	updated := &Membership{}
	err = tx.QueryRowContext(ctx, `
		UPDATE memberships
		SET supervisor_id = $1, updated_at = NOW()
		WHERE id = $2
		RETURNING `+membershipColumns+`
	`, supervisorID, current.ID).Scan(
		&updated.ID, &updated.TenantID, &updated.UserID, &updated.Rank, &updated.SupervisorID,
		&updated.IsActive, &updated.DeletedAt, &updated.CreatedAt, &updated.UpdatedAt)
	if err != nil {
		return nil, e.observe(operation, fmt.Errorf("failed to update supervisor: %w", err))
	}

	event := e.event(ctx, audit.ActionMembershipSupervisor, tenantID, userID)
	event.Changes = &audit.ChangeDetails{
		Before: map[string]interface{}{"supervisor_id": current.SupervisorID},
		After:  map[string]interface{}{"supervisor_id": supervisorID},
	}
	if err := e.commit(ctx, tx, event); err != nil {
		return nil, e.observe(operation, err)
	}

	e.invalidate(ctx, tenantID, userID)
	e.observe(operation, nil)
	return &MutationResult{Membership: updated}, nil
}

// DeleteUser removes a user from the tenant in one transaction: per-user
// entitlement overrides, the membership, the user row, and (through the
// schema's cascade) all sessions. Deleting the owner is always rejected.
func (e *Engine) DeleteUser(ctx context.Context, tenantID, userID int64) (*MutationResult, error) {
	const operation = "delete_user"
	tx, err := e.begin(ctx, tenantID)
	if err != nil {
		return nil, e.observe(operation, err)
	}
	defer tx.Rollback()

	current, err := getMembership(ctx, tx, tenantID, userID)
	if err != nil {
		return nil, e.observe(operation, err)
	}
	if current.Rank == RankTenantOwner {
		return nil, e.observe(operation, &InvariantViolationError{
			Invariant: InvariantSingleOwner,
			TenantID:  tenantID,
			UserID:    userID,
			Detail:    "cannot delete the tenant owner",
		})
	}

	reassigned := 0
	if current.Rank == RankManager && current.IsActive {
		reassigned, err = reassignReports(ctx, tx, tenantID, userID)
		if err != nil {
			return nil, e.observe(operation, err)
		}
	}

	if _, err := tx.ExecContext(ctx, `
		DELETE FROM user_entitlements WHERE user_id = $1 AND tenant_id = $2
	`, userID, tenantID); err != nil {
		return nil, e.observe(operation, fmt.Errorf("failed to delete user entitlements: %w", err))
	}
	if _, err := tx.ExecContext(ctx, `
		DELETE FROM memberships WHERE id = $1
	`, current.ID); err != nil {
		return nil, e.observe(operation, fmt.Errorf("failed to delete membership: %w", err))
	}
	if _, err := tx.ExecContext(ctx, `
		DELETE FROM users WHERE id = $1
	`, userID); err != nil {
		return nil, e.observe(operation, fmt.Errorf("failed to delete user: %w", err))
	}

	if err := assertSingleTenantOwner(ctx, tx, tenantID); err != nil {
		return nil, e.observe(operation, err)
	}

	event := e.event(ctx, audit.ActionMembershipUserDelete, tenantID, userID)
	event.Metadata = map[string]interface{}{"rank": string(current.Rank)}
	if reassigned > 0 {
		event.Metadata["reassigned_members"] = reassigned
	}
	if err := e.commit(ctx, tx, event); err != nil {
		return nil, e.observe(operation, err)
	}

	e.invalidateGraph(ctx, tenantID, userID, reassigned)
	e.observe(operation, nil)
	e.observeReassigned(reassigned)
	return &MutationResult{Reassigned: reassigned}, nil
}

// TransferOwnership demotes the current owner to manager and promotes the
// target membership to owner in one transaction. The target must be an
// active membership. Members the target supervised are repointed to the
// demoted owner.
func (e *Engine) TransferOwnership(ctx context.Context, tenantID, newOwnerUserID int64) (*MutationResult, error) {
	const operation = "transfer_ownership"
	tx, err := e.begin(ctx, tenantID)
	if err != nil {
		return nil, e.observe(operation, err)
	}
	defer tx.Rollback()

	owner, err := activeOwner(ctx, tx, tenantID)
	if err != nil {
		return nil, e.observe(operation, err)
	}
	if owner.UserID == newOwnerUserID {
		return &MutationResult{Membership: owner}, nil
	}

	target, err := getMembership(ctx, tx, tenantID, newOwnerUserID)
	if err != nil {
		return nil, e.observe(operation, err)
	}
	if !target.IsActive {
		return nil, e.observe(operation, &InvariantViolationError{
			Invariant: InvariantSingleOwner,
			TenantID:  tenantID,
			UserID:    newOwnerUserID,
			Detail:    "new owner membership must be active",
		})
	}

	// Demote first so the partial unique index never sees two owners.
	if _, err := tx.ExecContext(ctx, `
		UPDATE memberships SET rank = $1, supervisor_id = NULL, updated_at = NOW() WHERE id = $2
	`, RankManager, owner.ID); err != nil {
		return nil, e.observe(operation, fmt.Errorf("failed to demote current owner: %w", err))
	}

	// Members the target supervised move to the demoted owner, who is now
	// an eligible manager.
	reassigned := 0
	if target.Rank == RankManager {
		result, err := tx.ExecContext(ctx, `
			UPDATE memberships
			SET supervisor_id = $1, updated_at = NOW()
			WHERE tenant_id = $2 AND supervisor_id = $3 AND rank = $4
			  AND is_active = TRUE AND deleted_at IS NULL
		`, owner.UserID, tenantID, newOwnerUserID, RankMember)
		if err != nil {
			return nil, e.observe(operation, fmt.Errorf("failed to reassign new owner's members: %w", err))
		}
		affected, err := result.RowsAffected()
		if err != nil {
			return nil, e.observe(operation, fmt.Errorf("failed to read reassignment count: %w", err))
		}
		reassigned = int(affected)
	}

	promoted := &Membership{}
	err = tx.QueryRowContext(ctx, `
		UPDATE memberships
		SET rank = $1, supervisor_id = NULL, updated_at = NOW()
		WHERE id = $2
		RETURNING `+membershipColumns+`
	`, RankTenantOwner, target.ID).Scan(
		&promoted.ID, &promoted.TenantID, &promoted.UserID, &promoted.Rank, &promoted.SupervisorID,
		&promoted.IsActive, &promoted.DeletedAt, &promoted.CreatedAt, &promoted.UpdatedAt)
	if err != nil {
		return nil, e.observe(operation, fmt.Errorf("failed to promote new owner: %w", err))
	}

	if err := assertSingleTenantOwner(ctx, tx, tenantID); err != nil {
		return nil, e.observe(operation, err)
	}

	event := e.event(ctx, audit.ActionOwnershipTransfer, tenantID, newOwnerUserID)
	event.Changes = &audit.ChangeDetails{
		Before: map[string]interface{}{"owner_user_id": owner.UserID},
		After:  map[string]interface{}{"owner_user_id": newOwnerUserID},
	}
	if reassigned > 0 {
		event.Metadata = map[string]interface{}{"reassigned_members": reassigned}
	}
	if err := e.commit(ctx, tx, event); err != nil {
		return nil, e.observe(operation, err)
	}

	e.cacheInvalidateTenant(ctx, tenantID)
	e.observe(operation, nil)
	e.observeReassigned(reassigned)
	return &MutationResult{Membership: promoted, Reassigned: reassigned}, nil
}

// Membership returns the non-deleted membership for (tenant, user)
func (e *Engine) Membership(ctx context.Context, tenantID, userID int64) (*Membership, error) {
	return getMembership(ctx, e.db, tenantID, userID)
}

// begin opens the mutation transaction and locks the tenant row, which
// serializes all membership mutations per tenant.
func (e *Engine) begin(ctx context.Context, tenantID int64) (*sql.Tx, error) {
	tx, err := e.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	var id int64
	err = tx.QueryRowContext(ctx, `SELECT id FROM tenants WHERE id = $1 FOR UPDATE`, tenantID).Scan(&id)
	if err == sql.ErrNoRows {
		tx.Rollback()
		return nil, &tenants.NotFoundError{Resource: "tenant", ID: fmt.Sprintf("%d", tenantID)}
	}
	if err != nil {
		tx.Rollback()
		return nil, fmt.Errorf("failed to lock tenant row: %w", err)
	}
	return tx, nil
}

func (e *Engine) checkUserExists(ctx context.Context, q querier, userID int64) error {
	var deleted sql.NullTime
	err := q.QueryRowContext(ctx, `SELECT deleted_at FROM users WHERE id = $1`, userID).Scan(&deleted)
	if err == sql.ErrNoRows {
		return &tenants.NotFoundError{Resource: "user", ID: fmt.Sprintf("%d", userID)}
	}
	if err != nil {
		return fmt.Errorf("failed to look up user: %w", err)
	}
	if deleted.Valid {
		return &tenants.NotFoundError{Resource: "user", ID: fmt.Sprintf("%d", userID)}
	}
	return nil
}

// commit writes the audit row in the mutation transaction and commits.
// A failed audit write rolls the whole mutation back.
func (e *Engine) commit(ctx context.Context, tx *sql.Tx, event *audit.Event) error {
	if err := e.auditor.LogTx(ctx, tx, event); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit mutation: %w", err)
	}
	return nil
}

func (e *Engine) event(ctx context.Context, action audit.Action, tenantID, targetUserID int64) *audit.Event {
	event := audit.NewEvent(ctx, action, audit.StatusSuccess)
	event.TenantID = &tenantID
	event.TargetUserID = &targetUserID
	event.ActorUserID = actorFromContext(ctx)
	return event
}

func (e *Engine) invalidate(ctx context.Context, tenantID, userID int64) {
	if e.cache != nil {
		e.cache.InvalidateUser(ctx, tenantID, userID)
	}
}

// invalidateGraph drops the whole tenant's cached decisions after a cascade
// touched memberships beyond the target user.
func (e *Engine) invalidateGraph(ctx context.Context, tenantID, userID int64, reassigned int) {
	if reassigned > 0 {
		e.cacheInvalidateTenant(ctx, tenantID)
		return
	}
	e.invalidate(ctx, tenantID, userID)
}

func (e *Engine) cacheInvalidateTenant(ctx context.Context, tenantID int64) {
	if e.cache != nil {
		e.cache.InvalidateTenant(ctx, tenantID)
	}
}

// observe records the mutation outcome and passes the error through
func (e *Engine) observe(operation string, err error) error {
	if e.metrics != nil {
		outcome := "success"
		if err != nil {
			outcome = "failure"
			var iv *InvariantViolationError
			if errors.As(err, &iv) {
				outcome = "rejected"
				e.metrics.InvariantViolationsTotal.WithLabelValues(iv.Invariant).Inc()
			}
		}
		e.metrics.ObserveMutation(operation, outcome)
	}
	if err != nil && e.logger != nil && !IsInvariantViolation(err) {
		e.logger.WithError(err).WithField("operation", operation).Error("membership mutation failed")
	}
	return err
}

func (e *Engine) observeReassigned(n int) {
	if e.metrics != nil && n > 0 {
		e.metrics.ReassignedMembers.Observe(float64(n))
	}
}
