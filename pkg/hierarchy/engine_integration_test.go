//go:build integration

package hierarchy_test

import (
	"context"
	"database/sql"
	"testing"
	"time"

	_ "github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	tcpostgres "github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/crestline/gatekeeper/pkg/entitlements"
	"github.com/crestline/gatekeeper/pkg/hierarchy"
	"github.com/crestline/gatekeeper/pkg/identity"
	"github.com/crestline/gatekeeper/pkg/storage/postgres"
	"github.com/crestline/gatekeeper/pkg/tenants"
)

func setupPostgresContainer(t *testing.T) *sql.DB {
	t.Helper()
	ctx := context.Background()

	provider, err := testcontainers.ProviderDocker.GetProvider()
	if err != nil {
		t.Skip("Docker not available, skipping integration tests")
	}
	provider.Close()

	container, err := tcpostgres.Run(ctx, "postgres:15-alpine",
		tcpostgres.WithDatabase("gatekeeper_test"),
		tcpostgres.WithUsername("gatekeeper"),
		tcpostgres.WithPassword("gatekeeper_test_password"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(60*time.Second)),
		tcpostgres.BasicWaitStrategies(),
	)
	if err != nil {
		t.Skipf("Failed to start PostgreSQL container: %v", err)
	}
	t.Cleanup(func() {
		cleanupCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if err := container.Terminate(cleanupCtx); err != nil {
			t.Logf("Warning: failed to terminate container: %v", err)
		}
	})

	connStr, err := container.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)

	db, err := sql.Open("postgres", connStr)
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	require.NoError(t, db.Ping())

	components := []struct {
		name       string
		migrations []postgres.Migration
	}{
		{"tenants", tenants.Migrations()},
		{"identity", identity.Migrations()},
		{"hierarchy", hierarchy.Migrations()},
		{"entitlements", entitlements.Migrations()},
	}
	for _, c := range components {
		require.NoError(t, postgres.RunMigrations(ctx, db, c.name, c.migrations))
	}

	return db
}

func seedUser(t *testing.T, svc tenants.Service, tenantID int64, email string) int64 {
	t.Helper()
	user := &tenants.User{TenantID: tenantID, Email: email, DisplayName: email}
	require.NoError(t, svc.CreateUser(context.Background(), user))
	return user.ID
}

func TestEngineLifecycle(t *testing.T) {
	db := setupPostgresContainer(t)
	ctx := context.Background()

	svc := tenants.NewPostgresService(db, nil)
	tenant := &tenants.Tenant{Name: "acme", DisplayName: "Acme Stores"}
	require.NoError(t, svc.CreateTenant(ctx, tenant))

	owner := seedUser(t, svc, tenant.ID, "owner@acme.test")
	manager := seedUser(t, svc, tenant.ID, "manager@acme.test")
	memberA := seedUser(t, svc, tenant.ID, "a@acme.test")
	memberB := seedUser(t, svc, tenant.ID, "b@acme.test")

	engine := hierarchy.NewEngine(db, nil, nil, nil, nil)

	t.Run("first membership must be the owner", func(t *testing.T) {
		_, err := engine.AddMember(ctx, tenant.ID, manager, hierarchy.RankManager, nil)
		assert.True(t, hierarchy.IsInvariantViolation(err))

		_, err = engine.AddMember(ctx, tenant.ID, owner, hierarchy.RankTenantOwner, nil)
		require.NoError(t, err)
	})

	t.Run("build the supervision graph", func(t *testing.T) {
		_, err := engine.AddMember(ctx, tenant.ID, manager, hierarchy.RankManager, nil)
		require.NoError(t, err)

		for _, id := range []int64{memberA, memberB} {
			_, err := engine.AddMember(ctx, tenant.ID, id, hierarchy.RankMember, &manager)
			require.NoError(t, err)
		}
	})

	t.Run("second owner is rejected", func(t *testing.T) {
		intruder := seedUser(t, svc, tenant.ID, "intruder@acme.test")
		_, err := engine.AddMember(ctx, tenant.ID, intruder, hierarchy.RankTenantOwner, nil)
		assert.True(t, hierarchy.IsInvariantViolation(err))
	})

	t.Run("cross-tenant supervisor is rejected", func(t *testing.T) {
		other := &tenants.Tenant{Name: "globex", DisplayName: "Globex"}
		require.NoError(t, svc.CreateTenant(ctx, other))
		otherOwner := seedUser(t, svc, other.ID, "owner@globex.test")
		_, err := engine.AddMember(ctx, other.ID, otherOwner, hierarchy.RankTenantOwner, nil)
		require.NoError(t, err)

		stray := seedUser(t, svc, other.ID, "stray@globex.test")
		_, err = engine.AddMember(ctx, other.ID, stray, hierarchy.RankMember, &manager)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "not an eligible manager")
	})

	t.Run("deactivating a manager reassigns reports to the owner", func(t *testing.T) {
		result, err := engine.SetActive(ctx, tenant.ID, manager, false)
		require.NoError(t, err)
		assert.Equal(t, 2, result.Reassigned)

		for _, id := range []int64{memberA, memberB} {
			m, err := engine.Membership(ctx, tenant.ID, id)
			require.NoError(t, err)
			require.NotNil(t, m.SupervisorID)
			assert.Equal(t, owner, *m.SupervisorID)
		}
	})

	t.Run("deactivating the owner is rejected", func(t *testing.T) {
		_, err := engine.SetActive(ctx, tenant.ID, owner, false)
		assert.True(t, hierarchy.IsInvariantViolation(err))

		m, err := engine.Membership(ctx, tenant.ID, owner)
		require.NoError(t, err)
		assert.True(t, m.IsActive)
	})

	t.Run("ownership transfer demotes and promotes atomically", func(t *testing.T) {
		_, err := engine.SetActive(ctx, tenant.ID, manager, true)
		require.NoError(t, err)

		result, err := engine.TransferOwnership(ctx, tenant.ID, manager)
		require.NoError(t, err)
		assert.Equal(t, hierarchy.RankTenantOwner, result.Membership.Rank)

		old, err := engine.Membership(ctx, tenant.ID, owner)
		require.NoError(t, err)
		assert.Equal(t, hierarchy.RankManager, old.Rank)
	})

	t.Run("deleting a member removes the user row", func(t *testing.T) {
		_, err := engine.DeleteUser(ctx, tenant.ID, memberA)
		require.NoError(t, err)

		_, err = svc.UserByID(ctx, memberA)
		assert.True(t, tenants.IsNotFound(err))

		_, err = engine.Membership(ctx, tenant.ID, memberA)
		assert.ErrorIs(t, err, hierarchy.ErrMembershipNotFound)
	})
}
