package hierarchy

import (
	"errors"
	"fmt"
	"time"
)

// Rank is a tenant-scoped membership rank
type Rank string

const (
	RankTenantOwner Rank = "tenant_owner"
	RankManager     Rank = "manager"
	RankMember      Rank = "member"
)

// Valid reports whether the rank is one of the known values
func (r Rank) Valid() bool {
	switch r {
	case RankTenantOwner, RankManager, RankMember:
		return true
	}
	return false
}

// PlatformRank is a tenant-independent platform rank
type PlatformRank string

const (
	PlatformSuperAdmin PlatformRank = "super_admin"
	PlatformAdmin      PlatformRank = "platform_admin"
)

// Membership links a user to a tenant with a rank and, for members, a
// supervisor. Unique per (tenant, user).
//
// Structural invariants, enforced by the Engine on every mutation:
//   - exactly one active, non-deleted tenant_owner membership per tenant
//   - manager and tenant_owner memberships carry no supervisor
//   - a member membership carries a supervisor resolving to an active
//     manager in the same tenant
//   - the supervision relation within one tenant is acyclic
type Membership struct {
	ID           int64      `json:"id"`
	TenantID     int64      `json:"tenant_id"`
	UserID       int64      `json:"user_id"`
	Rank         Rank       `json:"rank"`
	SupervisorID *int64     `json:"supervisor_id,omitempty"` // User id of the supervising manager
	IsActive     bool       `json:"is_active"`
	DeletedAt    *time.Time `json:"deleted_at,omitempty"`
	CreatedAt    time.Time  `json:"created_at"`
	UpdatedAt    time.Time  `json:"updated_at"`
}

// PlatformRole links a user to a platform rank. Unique per (user, rank).
// Holding either rank overrides tenant-scoped ranks for authorization.
type PlatformRole struct {
	ID        int64        `json:"id"`
	UserID    int64        `json:"user_id"`
	Rank      PlatformRank `json:"rank"`
	GrantedBy *int64       `json:"granted_by,omitempty"`
	GrantedAt time.Time    `json:"granted_at"`
}

// MutationResult is the outcome of a committed membership mutation
type MutationResult struct {
	Membership *Membership `json:"membership"`
	// Reassigned is the number of members whose supervisor was repointed as
	// a cascade of this mutation.
	Reassigned int `json:"reassigned"`
}

// Invariant names carried by InvariantViolationError
const (
	InvariantSingleOwner     = "single_tenant_owner"
	InvariantSupervisorRule  = "supervisor_rule"
	InvariantAcyclicGraph    = "acyclic_supervision"
	InvariantNoOrphanMembers = "no_orphan_members"
)

// InvariantViolationError indicates a mutation would break a structural
// invariant of the membership graph. The transaction is rolled back.
type InvariantViolationError struct {
	Invariant string
	TenantID  int64
	UserID    int64
	Detail    string
}

func (e *InvariantViolationError) Error() string {
	if e.Detail != "" {
		return fmt.Sprintf("invariant %s violated for tenant %d: %s", e.Invariant, e.TenantID, e.Detail)
	}
	return fmt.Sprintf("invariant %s violated for tenant %d", e.Invariant, e.TenantID)
}

// IsInvariantViolation checks whether an error is an InvariantViolationError
func IsInvariantViolation(err error) bool {
	var iv *InvariantViolationError
	return errors.As(err, &iv)
}

// ErrMembershipNotFound indicates the (tenant, user) membership does not
// exist or is deleted. Cross-tenant references surface identically, so
// existence never leaks across tenants.
var ErrMembershipNotFound = errors.New("membership not found")

// supervisorChainCap bounds the upward walk through supervisor chains.
// Business rules keep chains at depth one.
const supervisorChainCap = 32
