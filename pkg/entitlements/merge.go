package entitlements

import (
	"context"
	"fmt"

	"dario.cat/mergo"

	"github.com/crestline/gatekeeper/pkg/tenants"
)

// TenantSource supplies the tenant's industry classifier for preset
// selection.
type TenantSource interface {
	GetTenant(ctx context.Context, id int64) (*tenants.Tenant, error)
}

// entitlementReader is the slice of the store the pipeline needs
type entitlementReader interface {
	GetEntitlement(ctx context.Context, tenantID int64, moduleKey string) (*Entitlement, error)
}

// Pipeline produces the effective module configuration from three ordered
// layers: hard-coded module defaults, the tenant's industry preset, and the
// tenant's own entitlement limits. Later layers win key by key; arrays and
// scalars are replaced wholesale, never concatenated. The pipeline is
// read-only and re-evaluates on every call.
type Pipeline struct {
	tenants TenantSource
	store   entitlementReader
	presets *PresetSource
}

// NewPipeline creates a config merge pipeline. presets may be nil.
func NewPipeline(tenantSource TenantSource, store entitlementReader, presets *PresetSource) *Pipeline {
	return &Pipeline{tenants: tenantSource, store: store, presets: presets}
}

// MergedConfig returns the effective configuration for (tenant, module).
// The result is always a complete document even when the preset and tenant
// layers are absent.
func (p *Pipeline) MergedConfig(ctx context.Context, tenantID int64, moduleKey string) (map[string]interface{}, error) {
	merged := ModuleDefaults(moduleKey)

	tenant, err := p.tenants.GetTenant(ctx, tenantID)
	if err != nil {
		return nil, err
	}

	if p.presets != nil && tenant.Industry != nil {
		if preset := p.presets.IndustryPreset(*tenant.Industry, moduleKey); preset != nil {
			if err := mergeLayer(&merged, preset); err != nil {
				return nil, fmt.Errorf("failed to merge industry preset: %w", err)
			}
		}
	}

	ent, err := p.store.GetEntitlement(ctx, tenantID, moduleKey)
	if err != nil {
		return nil, err
	}
	if ent != nil && ent.Limits != nil {
		if err := mergeLayer(&merged, ent.Limits); err != nil {
			return nil, fmt.Errorf("failed to merge tenant limits: %w", err)
		}
	}

	return merged, nil
}

// mergeLayer merges src over dst: maps merge recursively with src winning,
// scalars and slices are replaced.
func mergeLayer(dst *map[string]interface{}, src map[string]interface{}) error {
	return mergo.Merge(dst, src, mergo.WithOverride)
}
