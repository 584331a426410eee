package cache

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/crestline/gatekeeper/pkg/authz"
	"github.com/crestline/gatekeeper/pkg/observability"
)

func newTestCache(t *testing.T, ttl time.Duration) (*DecisionCache, *miniredis.Miniredis) {
	t.Helper()
	server := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: server.Addr()})
	t.Cleanup(func() { client.Close() })

	logger := observability.NewLogger(observability.ErrorLevel, nil)
	cache, err := NewDecisionCache(16, client, ttl, logger, nil)
	require.NoError(t, err)
	return cache, server
}

func TestDecisionCacheRoundTrip(t *testing.T) {
	cache, _ := newTestCache(t, time.Minute)
	ctx := context.Background()

	_, ok := cache.Get(ctx, 1, 9, "inventory")
	assert.False(t, ok)

	decision := authz.Decision{Allowed: true, Reason: authz.ReasonTenantDefault}
	cache.Set(ctx, 1, 9, "inventory", decision)

	got, ok := cache.Get(ctx, 1, 9, "inventory")
	require.True(t, ok)
	assert.Equal(t, decision, *got)
}

func TestDecisionCacheL2Backfill(t *testing.T) {
	cache, server := newTestCache(t, time.Minute)
	ctx := context.Background()

	decision := authz.Decision{Allowed: false, Reason: authz.ReasonUserOverride}
	cache.Set(ctx, 1, 9, "inventory", decision)

	// Drop L1 to force the redis path, then read back through it.
	cache.l1.Purge()
	require.True(t, server.Exists("gatekeeper:decision:1:9:inventory"))

	got, ok := cache.Get(ctx, 1, 9, "inventory")
	require.True(t, ok)
	assert.Equal(t, decision, *got)

	// The read repopulated L1.
	_, ok = cache.l1.Get("gatekeeper:decision:1:9:inventory")
	assert.True(t, ok)
}

func TestDecisionCacheTTL(t *testing.T) {
	cache, server := newTestCache(t, time.Second)
	ctx := context.Background()

	cache.Set(ctx, 1, 9, "inventory", authz.Decision{Allowed: true, Reason: authz.ReasonRoleBypass})

	server.FastForward(2 * time.Second)
	cache.l1.Purge()

	_, ok := cache.Get(ctx, 1, 9, "inventory")
	assert.False(t, ok)
}

func TestDecisionCacheInvalidateUser(t *testing.T) {
	cache, server := newTestCache(t, time.Minute)
	ctx := context.Background()

	allowed := authz.Decision{Allowed: true, Reason: authz.ReasonTenantDefault}
	cache.Set(ctx, 1, 9, "inventory", allowed)
	cache.Set(ctx, 1, 9, "reporting", allowed)
	cache.Set(ctx, 1, 10, "inventory", allowed)
	cache.Set(ctx, 2, 9, "inventory", allowed)

	cache.InvalidateUser(ctx, 1, 9)

	_, ok := cache.Get(ctx, 1, 9, "inventory")
	assert.False(t, ok)
	_, ok = cache.Get(ctx, 1, 9, "reporting")
	assert.False(t, ok)

	// Other users and tenants keep their entries.
	_, ok = cache.Get(ctx, 1, 10, "inventory")
	assert.True(t, ok)
	_, ok = cache.Get(ctx, 2, 9, "inventory")
	assert.True(t, ok)
	assert.True(t, server.Exists("gatekeeper:decision:2:9:inventory"))
}

func TestDecisionCacheInvalidateTenant(t *testing.T) {
	cache, server := newTestCache(t, time.Minute)
	ctx := context.Background()

	allowed := authz.Decision{Allowed: true, Reason: authz.ReasonTenantDefault}
	cache.Set(ctx, 1, 9, "inventory", allowed)
	cache.Set(ctx, 1, 10, "inventory", allowed)
	cache.Set(ctx, 2, 9, "inventory", allowed)

	cache.InvalidateTenant(ctx, 1)

	_, ok := cache.Get(ctx, 1, 9, "inventory")
	assert.False(t, ok)
	_, ok = cache.Get(ctx, 1, 10, "inventory")
	assert.False(t, ok)
	assert.False(t, server.Exists("gatekeeper:decision:1:9:inventory"))

	_, ok = cache.Get(ctx, 2, 9, "inventory")
	assert.True(t, ok)
}

func TestDecisionCacheInvalidateUserAllTenants(t *testing.T) {
	cache, server := newTestCache(t, time.Minute)
	ctx := context.Background()

	allowed := authz.Decision{Allowed: true, Reason: authz.ReasonRoleBypass}
	cache.Set(ctx, 1, 9, "inventory", allowed)
	cache.Set(ctx, 2, 9, "reporting", allowed)
	cache.Set(ctx, 1, 10, "inventory", allowed)
	// Tenant id equal to the user id must not be swept by accident.
	cache.Set(ctx, 9, 10, "inventory", allowed)

	cache.InvalidateUserAllTenants(ctx, 9)

	// The user's entries are gone in every tenant.
	_, ok := cache.Get(ctx, 1, 9, "inventory")
	assert.False(t, ok)
	_, ok = cache.Get(ctx, 2, 9, "reporting")
	assert.False(t, ok)
	assert.False(t, server.Exists("gatekeeper:decision:1:9:inventory"))
	assert.False(t, server.Exists("gatekeeper:decision:2:9:reporting"))

	// Other users keep theirs.
	_, ok = cache.Get(ctx, 1, 10, "inventory")
	assert.True(t, ok)
	_, ok = cache.Get(ctx, 9, 10, "inventory")
	assert.True(t, ok)
	assert.True(t, server.Exists("gatekeeper:decision:9:10:inventory"))
}

func TestDecisionCacheNilLoggerSurvivesRedisErrors(t *testing.T) {
	server := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: server.Addr()})
	t.Cleanup(func() { client.Close() })

	cache, err := NewDecisionCache(16, client, time.Minute, nil, nil)
	require.NoError(t, err)
	ctx := context.Background()

	// Kill redis so every remote call fails; the cache degrades to misses
	// instead of panicking on the default logger.
	server.Close()

	cache.Set(ctx, 1, 9, "inventory", authz.Decision{Allowed: true, Reason: authz.ReasonTenantDefault})
	cache.l1.Purge()
	_, ok := cache.Get(ctx, 1, 9, "inventory")
	assert.False(t, ok)
	cache.InvalidateUser(ctx, 1, 9)
}

func TestDecisionCacheWithoutRedis(t *testing.T) {
	cache, err := NewDecisionCache(16, nil, time.Minute, nil, nil)
	require.NoError(t, err)
	ctx := context.Background()

	decision := authz.Decision{Allowed: true, Reason: authz.ReasonRoleBypass}
	cache.Set(ctx, 1, 9, "inventory", decision)

	got, ok := cache.Get(ctx, 1, 9, "inventory")
	require.True(t, ok)
	assert.Equal(t, decision, *got)

	cache.InvalidateUser(ctx, 1, 9)
	_, ok = cache.Get(ctx, 1, 9, "inventory")
	assert.False(t, ok)
}

func TestDecisionCacheCorruptEntry(t *testing.T) {
	cache, server := newTestCache(t, time.Minute)
	ctx := context.Background()

	require.NoError(t, server.Set("gatekeeper:decision:1:9:inventory", "not json"))

	_, ok := cache.Get(ctx, 1, 9, "inventory")
	assert.False(t, ok)
	// The corrupt entry was dropped.
	assert.False(t, server.Exists("gatekeeper:decision:1:9:inventory"))
}
