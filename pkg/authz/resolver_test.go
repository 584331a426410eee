package authz

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func boolPtr(b bool) *bool { return &b }

func TestEvaluate(t *testing.T) {
	tests := []struct {
		name          string
		moduleEnabled bool
		level         Level
		hasLevel      bool
		override      *bool
		wantAllowed   bool
		wantReason    Reason
	}{
		{
			name:          "disabled module denies owner",
			moduleEnabled: false,
			level:         LevelTenantOwner,
			hasLevel:      true,
			wantAllowed:   false,
			wantReason:    ReasonModuleDisabled,
		},
		{
			name:          "disabled module denies explicit allow override",
			moduleEnabled: false,
			level:         LevelMember,
			hasLevel:      true,
			override:      boolPtr(true),
			wantAllowed:   false,
			wantReason:    ReasonModuleDisabled,
		},
		{
			name:          "disabled module denies platform super",
			moduleEnabled: false,
			level:         LevelPlatformSuper,
			hasLevel:      true,
			wantAllowed:   false,
			wantReason:    ReasonModuleDisabled,
		},
		{
			name:          "owner bypasses overrides",
			moduleEnabled: true,
			level:         LevelTenantOwner,
			hasLevel:      true,
			override:      boolPtr(false),
			wantAllowed:   true,
			wantReason:    ReasonRoleBypass,
		},
		{
			name:          "platform admin bypasses",
			moduleEnabled: true,
			level:         LevelPlatformAdmin,
			hasLevel:      true,
			wantAllowed:   true,
			wantReason:    ReasonRoleBypass,
		},
		{
			name:          "manager is subject to explicit deny",
			moduleEnabled: true,
			level:         LevelManager,
			hasLevel:      true,
			override:      boolPtr(false),
			wantAllowed:   false,
			wantReason:    ReasonUserOverride,
		},
		{
			name:          "member explicit deny wins over tenant default",
			moduleEnabled: true,
			level:         LevelMember,
			hasLevel:      true,
			override:      boolPtr(false),
			wantAllowed:   false,
			wantReason:    ReasonUserOverride,
		},
		{
			name:          "member explicit allow",
			moduleEnabled: true,
			level:         LevelMember,
			hasLevel:      true,
			override:      boolPtr(true),
			wantAllowed:   true,
			wantReason:    ReasonUserOverride,
		},
		{
			name:          "member defaults open without override",
			moduleEnabled: true,
			level:         LevelMember,
			hasLevel:      true,
			wantAllowed:   true,
			wantReason:    ReasonTenantDefault,
		},
		{
			name:          "no level denies",
			moduleEnabled: true,
			hasLevel:      false,
			wantAllowed:   false,
			wantReason:    ReasonNoRole,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			decision := Evaluate(tt.moduleEnabled, tt.level, tt.hasLevel, tt.override)
			assert.Equal(t, tt.wantAllowed, decision.Allowed)
			assert.Equal(t, tt.wantReason, decision.Reason)
		})
	}
}

func TestLevelAtLeast(t *testing.T) {
	assert.True(t, LevelPlatformSuper.AtLeast(LevelTenantOwner))
	assert.True(t, LevelPlatformAdmin.AtLeast(LevelTenantOwner))
	assert.True(t, LevelTenantOwner.AtLeast(LevelTenantOwner))
	assert.False(t, LevelManager.AtLeast(LevelTenantOwner))
	assert.False(t, LevelMember.AtLeast(LevelManager))
}

type fakeTenantSource struct {
	active bool
	err    error
}

func (f *fakeTenantSource) TenantActive(ctx context.Context, tenantID int64) (bool, error) {
	return f.active, f.err
}

type fakeLevelSource struct {
	level    Level
	hasLevel bool
}

func (f *fakeLevelSource) ActorLevel(ctx context.Context, userID, tenantID int64) (Level, bool, error) {
	return f.level, f.hasLevel, nil
}

type fakeEntitlementSource struct {
	enabled  bool
	override *bool
}

func (f *fakeEntitlementSource) ModuleEnabled(ctx context.Context, tenantID int64, moduleKey string) (bool, error) {
	return f.enabled, nil
}

func (f *fakeEntitlementSource) UserOverride(ctx context.Context, userID, tenantID int64, moduleKey string) (*bool, error) {
	return f.override, nil
}

func TestHasModuleAccess(t *testing.T) {
	ctx := context.Background()

	t.Run("member without override gets tenant default", func(t *testing.T) {
		r := NewResolver(
			&fakeTenantSource{active: true},
			&fakeLevelSource{level: LevelMember, hasLevel: true},
			&fakeEntitlementSource{enabled: true},
			nil, nil, nil,
		)
		decision, err := r.HasModuleAccess(ctx, 10, 1, "inventory")
		require.NoError(t, err)
		assert.True(t, decision.Allowed)
		assert.Equal(t, ReasonTenantDefault, decision.Reason)
	})

	t.Run("member with explicit deny", func(t *testing.T) {
		r := NewResolver(
			&fakeTenantSource{active: true},
			&fakeLevelSource{level: LevelMember, hasLevel: true},
			&fakeEntitlementSource{enabled: true, override: boolPtr(false)},
			nil, nil, nil,
		)
		decision, err := r.HasModuleAccess(ctx, 10, 1, "inventory")
		require.NoError(t, err)
		assert.False(t, decision.Allowed)
		assert.Equal(t, ReasonUserOverride, decision.Reason)
	})

	t.Run("suspended tenant reads as module disabled", func(t *testing.T) {
		r := NewResolver(
			&fakeTenantSource{active: false},
			&fakeLevelSource{level: LevelTenantOwner, hasLevel: true},
			&fakeEntitlementSource{enabled: true},
			nil, nil, nil,
		)
		decision, err := r.HasModuleAccess(ctx, 10, 1, "inventory")
		require.NoError(t, err)
		assert.False(t, decision.Allowed)
		assert.Equal(t, ReasonModuleDisabled, decision.Reason)
	})

	t.Run("owner bypass skips override lookup", func(t *testing.T) {
		r := NewResolver(
			&fakeTenantSource{active: true},
			&fakeLevelSource{level: LevelTenantOwner, hasLevel: true},
			&fakeEntitlementSource{enabled: true, override: boolPtr(false)},
			nil, nil, nil,
		)
		decision, err := r.HasModuleAccess(ctx, 10, 1, "inventory")
		require.NoError(t, err)
		assert.True(t, decision.Allowed)
		assert.Equal(t, ReasonRoleBypass, decision.Reason)
	})
}

func TestRequireModuleAccess(t *testing.T) {
	ctx := context.Background()
	r := NewResolver(
		&fakeTenantSource{active: true},
		&fakeLevelSource{},
		&fakeEntitlementSource{enabled: true},
		nil, nil, nil,
	)

	err := r.RequireModuleAccess(ctx, 10, 1, "inventory")
	require.Error(t, err)
	assert.True(t, IsForbidden(err))

	var forbidden *ForbiddenError
	require.ErrorAs(t, err, &forbidden)
	assert.Equal(t, ReasonNoRole, forbidden.Reason)
}
