package tenants

import (
	"context"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newMockService(t *testing.T) (*PostgresService, sqlmock.Sqlmock) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return NewPostgresService(db, nil), mock
}

type recordingInvalidator struct {
	tenants []int64
}

func (r *recordingInvalidator) InvalidateTenant(_ context.Context, tenantID int64) {
	r.tenants = append(r.tenants, tenantID)
}

func TestGetTenant(t *testing.T) {
	svc, mock := newMockService(t)
	now := time.Now()

	t.Run("found", func(t *testing.T) {
		industry := "retail"
		mock.ExpectQuery(`SELECT id, name, display_name, status, activation_expires_at, industry, created_at, updated_at\s+FROM tenants`).
			WithArgs(int64(1)).
			WillReturnRows(sqlmock.NewRows([]string{"id", "name", "display_name", "status", "activation_expires_at", "industry", "created_at", "updated_at"}).
				AddRow(1, "acme", "Acme Stores", "active", nil, industry, now, now))

		tenant, err := svc.GetTenant(context.Background(), 1)
		require.NoError(t, err)
		assert.Equal(t, "acme", tenant.Name)
		require.NotNil(t, tenant.Industry)
		assert.Equal(t, "retail", *tenant.Industry)
	})

	t.Run("not found", func(t *testing.T) {
		mock.ExpectQuery(`FROM tenants`).WithArgs(int64(2)).
			WillReturnRows(sqlmock.NewRows([]string{"id", "name", "display_name", "status", "activation_expires_at", "industry", "created_at", "updated_at"}))

		_, err := svc.GetTenant(context.Background(), 2)
		assert.True(t, IsNotFound(err))
	})

	require.NoError(t, mock.ExpectationsWereMet())
}

func TestTenantActive(t *testing.T) {
	svc, mock := newMockService(t)
	now := time.Now()
	columns := []string{"id", "name", "display_name", "status", "activation_expires_at", "industry", "created_at", "updated_at"}

	t.Run("active tenant", func(t *testing.T) {
		mock.ExpectQuery(`FROM tenants`).WithArgs(int64(1)).
			WillReturnRows(sqlmock.NewRows(columns).AddRow(1, "acme", "Acme", "active", nil, nil, now, now))

		active, err := svc.TenantActive(context.Background(), 1)
		require.NoError(t, err)
		assert.True(t, active)
	})

	t.Run("suspended tenant", func(t *testing.T) {
		mock.ExpectQuery(`FROM tenants`).WithArgs(int64(1)).
			WillReturnRows(sqlmock.NewRows(columns).AddRow(1, "acme", "Acme", "suspended", nil, nil, now, now))

		active, err := svc.TenantActive(context.Background(), 1)
		require.NoError(t, err)
		assert.False(t, active)
	})

	t.Run("expired activation window", func(t *testing.T) {
		expired := now.Add(-time.Hour)
		mock.ExpectQuery(`FROM tenants`).WithArgs(int64(1)).
			WillReturnRows(sqlmock.NewRows(columns).AddRow(1, "acme", "Acme", "active", expired, nil, now, now))

		active, err := svc.TenantActive(context.Background(), 1)
		require.NoError(t, err)
		assert.False(t, active)
	})

	require.NoError(t, mock.ExpectationsWereMet())
}

func TestUpdateTenantStatus(t *testing.T) {
	svc, mock := newMockService(t)

	mock.ExpectExec(`UPDATE tenants SET status = \$1`).
		WithArgs("suspended", int64(1)).
		WillReturnResult(sqlmock.NewResult(0, 1))
	require.NoError(t, svc.UpdateTenantStatus(context.Background(), 1, TenantStatusSuspended))

	mock.ExpectExec(`UPDATE tenants SET status = \$1`).
		WithArgs("active", int64(99)).
		WillReturnResult(sqlmock.NewResult(0, 0))
	err := svc.UpdateTenantStatus(context.Background(), 99, TenantStatusActive)
	assert.True(t, IsNotFound(err))

	require.NoError(t, mock.ExpectationsWereMet())
}

func TestUpdateTenantStatusInvalidatesCache(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	invalidator := &recordingInvalidator{}
	svc := NewPostgresService(db, invalidator)

	mock.ExpectExec(`UPDATE tenants SET status = \$1`).
		WithArgs("suspended", int64(1)).
		WillReturnResult(sqlmock.NewResult(0, 1))
	require.NoError(t, svc.UpdateTenantStatus(context.Background(), 1, TenantStatusSuspended))
	assert.Equal(t, []int64{1}, invalidator.tenants)

	// A status change that hits no row keeps the cache untouched.
	mock.ExpectExec(`UPDATE tenants SET status = \$1`).
		WithArgs("active", int64(99)).
		WillReturnResult(sqlmock.NewResult(0, 0))
	err = svc.UpdateTenantStatus(context.Background(), 99, TenantStatusActive)
	assert.True(t, IsNotFound(err))
	assert.Equal(t, []int64{1}, invalidator.tenants)

	require.NoError(t, mock.ExpectationsWereMet())
}

func TestUserByID(t *testing.T) {
	svc, mock := newMockService(t)
	now := time.Now()
	columns := []string{"id", "tenant_id", "email", "display_name", "password_hash", "deleted_at", "created_at", "updated_at"}

	t.Run("includes soft-deleted users", func(t *testing.T) {
		deleted := now.Add(-time.Hour)
		mock.ExpectQuery(`FROM users\s+WHERE id = \$1`).WithArgs(int64(9)).
			WillReturnRows(sqlmock.NewRows(columns).AddRow(9, 1, "gone@acme.test", "Gone", "", deleted, now, now))

		user, err := svc.UserByID(context.Background(), 9)
		require.NoError(t, err)
		assert.True(t, user.IsDeleted())
	})

	t.Run("not found", func(t *testing.T) {
		mock.ExpectQuery(`FROM users\s+WHERE id = \$1`).WithArgs(int64(10)).
			WillReturnRows(sqlmock.NewRows(columns))

		_, err := svc.UserByID(context.Background(), 10)
		assert.True(t, IsNotFound(err))
	})

	require.NoError(t, mock.ExpectationsWereMet())
}

func TestTenantIsActive(t *testing.T) {
	now := time.Now()
	future := now.Add(time.Hour)
	past := now.Add(-time.Hour)

	assert.True(t, (&Tenant{Status: TenantStatusActive}).IsActive(now))
	assert.True(t, (&Tenant{Status: TenantStatusActive, ActivationExpiresAt: &future}).IsActive(now))
	assert.False(t, (&Tenant{Status: TenantStatusActive, ActivationExpiresAt: &past}).IsActive(now))
	assert.False(t, (&Tenant{Status: TenantStatusSuspended}).IsActive(now))
}
