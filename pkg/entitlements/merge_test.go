package entitlements

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/crestline/gatekeeper/pkg/tenants"
)

type fakeTenantSource struct {
	tenant *tenants.Tenant
}

func (f *fakeTenantSource) GetTenant(ctx context.Context, id int64) (*tenants.Tenant, error) {
	return f.tenant, nil
}

type fakeEntitlementReader struct {
	entitlement *Entitlement
}

func (f *fakeEntitlementReader) GetEntitlement(ctx context.Context, tenantID int64, moduleKey string) (*Entitlement, error) {
	return f.entitlement, nil
}

func strPtr(s string) *string { return &s }

func writePresetFile(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "presets.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

const testPresets = `
presets:
  retail:
    inventory:
      max_items: 5000
      export:
        formats: ["csv", "xlsx"]
  hospitality:
    scheduling:
      self_service_swaps: true
`

func TestMergedConfigLayers(t *testing.T) {
	presets, err := NewPresetSource(writePresetFile(t, testPresets), nil)
	require.NoError(t, err)
	defer presets.Close()

	tenantSource := &fakeTenantSource{tenant: &tenants.Tenant{ID: 1, Industry: strPtr("retail")}}
	store := &fakeEntitlementReader{entitlement: &Entitlement{
		TenantID:  1,
		ModuleKey: "inventory",
		IsEnabled: true,
		Limits: map[string]interface{}{
			"max_items": 200,
			"export": map[string]interface{}{
				"max_rows": 500,
			},
		},
	}}
	pipeline := NewPipeline(tenantSource, store, presets)

	merged, err := pipeline.MergedConfig(context.Background(), 1, "inventory")
	require.NoError(t, err)

	// Tenant limits win over the preset, the preset wins over defaults.
	assert.Equal(t, 200, merged["max_items"])
	assert.Equal(t, 5, merged["max_locations"])
	assert.Equal(t, true, merged["low_stock_alerts"])

	export, ok := merged["export"].(map[string]interface{})
	require.True(t, ok)
	// Nested maps merge key by key; arrays are replaced wholesale.
	assert.Equal(t, 500, export["max_rows"])
	assert.Equal(t, []interface{}{"csv", "xlsx"}, export["formats"])
	assert.Equal(t, "", export["schedule_cron"])
}

func TestMergedConfigNoPresetNoEntitlement(t *testing.T) {
	tenantSource := &fakeTenantSource{tenant: &tenants.Tenant{ID: 1}}
	pipeline := NewPipeline(tenantSource, &fakeEntitlementReader{}, nil)

	merged, err := pipeline.MergedConfig(context.Background(), 1, "reporting")
	require.NoError(t, err)
	assert.Equal(t, ModuleDefaults("reporting"), merged)
}

func TestMergedConfigEmptyLimitsIsNoOp(t *testing.T) {
	tenantSource := &fakeTenantSource{tenant: &tenants.Tenant{ID: 1}}
	store := &fakeEntitlementReader{entitlement: &Entitlement{
		TenantID:  1,
		ModuleKey: "messaging",
		IsEnabled: true,
		Limits:    map[string]interface{}{},
	}}
	pipeline := NewPipeline(tenantSource, store, nil)

	merged, err := pipeline.MergedConfig(context.Background(), 1, "messaging")
	require.NoError(t, err)
	assert.Equal(t, ModuleDefaults("messaging"), merged)
}

func TestMergedConfigIdempotent(t *testing.T) {
	presets, err := NewPresetSource(writePresetFile(t, testPresets), nil)
	require.NoError(t, err)
	defer presets.Close()

	tenantSource := &fakeTenantSource{tenant: &tenants.Tenant{ID: 2, Industry: strPtr("hospitality")}}
	pipeline := NewPipeline(tenantSource, &fakeEntitlementReader{}, presets)

	first, err := pipeline.MergedConfig(context.Background(), 2, "scheduling")
	require.NoError(t, err)
	second, err := pipeline.MergedConfig(context.Background(), 2, "scheduling")
	require.NoError(t, err)
	assert.Equal(t, first, second)
	assert.Equal(t, true, first["self_service_swaps"])
}

func TestMergedConfigUnknownModule(t *testing.T) {
	tenantSource := &fakeTenantSource{tenant: &tenants.Tenant{ID: 1}}
	pipeline := NewPipeline(tenantSource, &fakeEntitlementReader{}, nil)

	merged, err := pipeline.MergedConfig(context.Background(), 1, "unknown")
	require.NoError(t, err)
	assert.Empty(t, merged)
}

func TestModuleDefaultsReturnsCopy(t *testing.T) {
	first := ModuleDefaults("inventory")
	first["max_items"] = 0
	export := first["export"].(map[string]interface{})
	export["max_rows"] = 0

	second := ModuleDefaults("inventory")
	assert.Equal(t, 1000, second["max_items"])
	assert.Equal(t, 10000, second["export"].(map[string]interface{})["max_rows"])
}
