package authz

import (
	"errors"
	"fmt"
)

// Level is the effective authorization rank of an actor with respect to a
// tenant. Platform levels are tenant-independent and strictly senior to
// every tenant-scoped level.
type Level string

const (
	LevelPlatformSuper Level = "platform_super"
	LevelPlatformAdmin Level = "platform_admin"
	LevelTenantOwner   Level = "tenant_owner"
	LevelManager       Level = "manager"
	LevelMember        Level = "member"
)

// seniority orders levels for AtLeast comparisons. Higher is more senior.
var seniority = map[Level]int{
	LevelPlatformSuper: 5,
	LevelPlatformAdmin: 4,
	LevelTenantOwner:   3,
	LevelManager:       2,
	LevelMember:        1,
}

// Platform reports whether the level is tenant-independent
func (l Level) Platform() bool {
	return l == LevelPlatformSuper || l == LevelPlatformAdmin
}

// AtLeast reports whether the level is at least as senior as min
func (l Level) AtLeast(min Level) bool {
	return seniority[l] >= seniority[min]
}

// bypass reports whether the level skips per-user entitlement overrides.
// Managers do not: they sit in the per-user override tier with members.
func (l Level) bypass() bool {
	return l.Platform() || l == LevelTenantOwner
}

// Reason is the machine-readable explanation attached to an access decision.
// Callers receive only these codes, never free-text, so presentation layers
// can render a stable message per code.
type Reason string

const (
	// ReasonModuleDisabled: the tenant entitlement is missing or switched
	// off. The master switch overrides every rank and override.
	ReasonModuleDisabled Reason = "module_disabled"

	// ReasonRoleBypass: platform-level and owner actors are allowed without
	// consulting per-user overrides.
	ReasonRoleBypass Reason = "role_bypass"

	// ReasonUserOverride: an explicit per-user entitlement decided the
	// outcome, allow or deny.
	ReasonUserOverride Reason = "user_override"

	// ReasonTenantDefault: no per-user override exists and the tenant
	// master switch is on.
	ReasonTenantDefault Reason = "tenant_default"

	// ReasonNoRole: the actor has no level in the tenant.
	ReasonNoRole Reason = "no_role"
)

// Decision is the outcome of a module access check
type Decision struct {
	Allowed bool   `json:"allowed"`
	Reason  Reason `json:"reason"`
}

// ErrNoActor indicates a protected operation was reached without a
// resolvable actor.
var ErrNoActor = errors.New("no authenticated actor")

// ForbiddenError indicates the actor was resolved but the access check
// denied. It carries the reason code only; detail text never leaks the
// existence of cross-tenant resources.
type ForbiddenError struct {
	Reason Reason
}

func (e *ForbiddenError) Error() string {
	return fmt.Sprintf("forbidden: %s", e.Reason)
}

// IsForbidden checks whether an error is a ForbiddenError
func IsForbidden(err error) bool {
	var fe *ForbiddenError
	return errors.As(err, &fe)
}
