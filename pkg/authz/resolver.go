package authz

import (
	"context"
	"fmt"
	"time"

	"github.com/crestline/gatekeeper/pkg/audit"
	"github.com/crestline/gatekeeper/pkg/observability"
)

// LevelSource classifies an actor's level for a tenant
type LevelSource interface {
	ActorLevel(ctx context.Context, userID, tenantID int64) (Level, bool, error)
}

// EntitlementSource reads the tenant master switch and per-user overrides
type EntitlementSource interface {
	// ModuleEnabled reports the tenant master switch; a missing entitlement
	// row reads as disabled.
	ModuleEnabled(ctx context.Context, tenantID int64, moduleKey string) (bool, error)
	// UserOverride returns the per-user toggle, or nil when no override
	// exists.
	UserOverride(ctx context.Context, userID, tenantID int64, moduleKey string) (*bool, error)
}

// TenantSource reports whether a tenant is active. Suspended and expired
// tenants read every module as disabled.
type TenantSource interface {
	TenantActive(ctx context.Context, tenantID int64) (bool, error)
}

// DecisionCache caches access decisions keyed by (tenant, user, module).
// Implementations must be nil-safe on miss and tolerate concurrent use.
type DecisionCache interface {
	Get(ctx context.Context, tenantID, userID int64, moduleKey string) (*Decision, bool)
	Set(ctx context.Context, tenantID, userID int64, moduleKey string, decision Decision)
}

// Resolver answers module access checks. The decision order is fixed:
// tenant kill-switch, role bypass for senior ranks, per-user override for
// junior ranks defaulting open, no-role deny.
type Resolver struct {
	tenants      TenantSource
	levels       LevelSource
	entitlements EntitlementSource
	cache        DecisionCache
	auditor      audit.Logger
	metrics      *observability.Metrics
}

// NewResolver creates an entitlement resolver. cache, auditor and metrics
// may be nil.
func NewResolver(tenants TenantSource, levels LevelSource, entitlements EntitlementSource, cache DecisionCache, auditor audit.Logger, metrics *observability.Metrics) *Resolver {
	if auditor == nil {
		auditor = audit.NopLogger{}
	}
	return &Resolver{
		tenants:      tenants,
		levels:       levels,
		entitlements: entitlements,
		cache:        cache,
		auditor:      auditor,
		metrics:      metrics,
	}
}

// Evaluate is the pure decision function over the three inputs: the tenant
// master switch, the actor's level, and the per-user override. Every access
// check reduces to this.
func Evaluate(moduleEnabled bool, level Level, hasLevel bool, override *bool) Decision {
	if !moduleEnabled {
		return Decision{Allowed: false, Reason: ReasonModuleDisabled}
	}
	if !hasLevel {
		return Decision{Allowed: false, Reason: ReasonNoRole}
	}
	if level.bypass() {
		return Decision{Allowed: true, Reason: ReasonRoleBypass}
	}
	if override != nil {
		return Decision{Allowed: *override, Reason: ReasonUserOverride}
	}
	return Decision{Allowed: true, Reason: ReasonTenantDefault}
}

// HasModuleAccess decides whether the user may use the module in the tenant
func (r *Resolver) HasModuleAccess(ctx context.Context, userID, tenantID int64, moduleKey string) (Decision, error) {
	start := time.Now()

	if r.cache != nil {
		if decision, ok := r.cache.Get(ctx, tenantID, userID, moduleKey); ok {
			r.observe(*decision, start)
			return *decision, nil
		}
	}

	decision, err := r.resolve(ctx, userID, tenantID, moduleKey)
	if err != nil {
		return Decision{}, err
	}

	if r.cache != nil {
		r.cache.Set(ctx, tenantID, userID, moduleKey, decision)
	}
	r.observe(decision, start)
	if !decision.Allowed {
		r.auditDenial(ctx, userID, tenantID, moduleKey, decision.Reason)
	}
	return decision, nil
}

func (r *Resolver) resolve(ctx context.Context, userID, tenantID int64, moduleKey string) (Decision, error) {
	active, err := r.tenants.TenantActive(ctx, tenantID)
	if err != nil {
		return Decision{}, fmt.Errorf("failed to check tenant status: %w", err)
	}
	if !active {
		return Decision{Allowed: false, Reason: ReasonModuleDisabled}, nil
	}

	enabled, err := r.entitlements.ModuleEnabled(ctx, tenantID, moduleKey)
	if err != nil {
		return Decision{}, fmt.Errorf("failed to load tenant entitlement: %w", err)
	}
	if !enabled {
		return Evaluate(false, "", false, nil), nil
	}

	level, hasLevel, err := r.levels.ActorLevel(ctx, userID, tenantID)
	if err != nil {
		return Decision{}, fmt.Errorf("failed to classify actor level: %w", err)
	}
	if !hasLevel || level.bypass() {
		return Evaluate(true, level, hasLevel, nil), nil
	}

	override, err := r.entitlements.UserOverride(ctx, userID, tenantID, moduleKey)
	if err != nil {
		return Decision{}, fmt.Errorf("failed to load user entitlement: %w", err)
	}
	return Evaluate(true, level, true, override), nil
}

// RequireModuleAccess is the hard-failure variant of HasModuleAccess,
// returning a typed ForbiddenError carrying the reason code on deny.
func (r *Resolver) RequireModuleAccess(ctx context.Context, userID, tenantID int64, moduleKey string) error {
	decision, err := r.HasModuleAccess(ctx, userID, tenantID, moduleKey)
	if err != nil {
		return err
	}
	if !decision.Allowed {
		return &ForbiddenError{Reason: decision.Reason}
	}
	return nil
}

// RequireLevel fails unless the actor's level is at least min
func (r *Resolver) RequireLevel(ctx context.Context, userID, tenantID int64, min Level) (Level, error) {
	level, hasLevel, err := r.levels.ActorLevel(ctx, userID, tenantID)
	if err != nil {
		return "", fmt.Errorf("failed to classify actor level: %w", err)
	}
	if !hasLevel {
		return "", &ForbiddenError{Reason: ReasonNoRole}
	}
	if !level.AtLeast(min) {
		return "", &ForbiddenError{Reason: ReasonNoRole}
	}
	return level, nil
}

func (r *Resolver) observe(decision Decision, start time.Time) {
	if r.metrics != nil {
		r.metrics.ObserveAccessCheck(decision.Allowed, string(decision.Reason), time.Since(start))
	}
}

func (r *Resolver) auditDenial(ctx context.Context, userID, tenantID int64, moduleKey string, reason Reason) {
	event := audit.NewEvent(ctx, audit.ActionAccessDenied, audit.StatusDenied)
	event.TenantID = &tenantID
	event.TargetUserID = &userID
	event.Metadata = map[string]interface{}{
		"module_key": moduleKey,
		"reason":     string(reason),
	}
	r.auditor.Log(ctx, event)
}
