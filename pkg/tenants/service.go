package tenants

import (
	"context"
	"database/sql"
	"fmt"
	"strconv"
	"time"

	"github.com/lib/pq"
)

// Service defines tenant, user, and module catalog access
type Service interface {
	CreateTenant(ctx context.Context, tenant *Tenant) error
	GetTenant(ctx context.Context, id int64) (*Tenant, error)
	UpdateTenantStatus(ctx context.Context, id int64, status TenantStatus) error
	SetTenantIndustry(ctx context.Context, id int64, industry *string) error

	CreateUser(ctx context.Context, user *User) error
	UserByID(ctx context.Context, id int64) (*User, error)
	UserByEmail(ctx context.Context, tenantID int64, email string) (*User, error)

	CreateModule(ctx context.Context, module *Module) error
	ModuleByKey(ctx context.Context, key string) (*Module, error)
	ListModules(ctx context.Context) ([]*Module, error)
}

// CacheInvalidator drops a tenant's cached access decisions after a status
// change. Suspending a tenant must take effect immediately, not after the
// cache TTL.
type CacheInvalidator interface {
	InvalidateTenant(ctx context.Context, tenantID int64)
}

// PostgresService implements Service against PostgreSQL
type PostgresService struct {
	db    *sql.DB
	cache CacheInvalidator
}

// NewPostgresService creates a new tenant service. cache may be nil.
func NewPostgresService(db *sql.DB, cache CacheInvalidator) *PostgresService {
	return &PostgresService{db: db, cache: cache}
}

// CreateTenant inserts a new tenant and fills in its generated fields
func (s *PostgresService) CreateTenant(ctx context.Context, tenant *Tenant) error {
	if tenant.Status == "" {
		tenant.Status = TenantStatusActive
	}
	query := `
		INSERT INTO tenants (name, display_name, status, activation_expires_at, industry)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING id, created_at, updated_at
	`
	err := s.db.QueryRowContext(ctx, query,
		tenant.Name, tenant.DisplayName, tenant.Status, tenant.ActivationExpiresAt, tenant.Industry,
	).Scan(&tenant.ID, &tenant.CreatedAt, &tenant.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to create tenant: %w", err)
	}
	return nil
}

// GetTenant retrieves a tenant by id
func (s *PostgresService) GetTenant(ctx context.Context, id int64) (*Tenant, error) {
	query := `
		SELECT id, name, display_name, status, activation_expires_at, industry, created_at, updated_at
		FROM tenants
		WHERE id = $1
	`
	tenant := &Tenant{}
	err := s.db.QueryRowContext(ctx, query, id).Scan(
		&tenant.ID, &tenant.Name, &tenant.DisplayName, &tenant.Status,
		&tenant.ActivationExpiresAt, &tenant.Industry, &tenant.CreatedAt, &tenant.UpdatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, &NotFoundError{Resource: "tenant", ID: strconv.FormatInt(id, 10)}
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get tenant: %w", err)
	}
	return tenant, nil
}

// TenantActive reports whether the tenant exists and is currently usable
func (s *PostgresService) TenantActive(ctx context.Context, id int64) (bool, error) {
	tenant, err := s.GetTenant(ctx, id)
	if err != nil {
		return false, err
	}
	return tenant.IsActive(time.Now()), nil
}

// UpdateTenantStatus sets the lifecycle status of a tenant
func (s *PostgresService) UpdateTenantStatus(ctx context.Context, id int64, status TenantStatus) error {
	result, err := s.db.ExecContext(ctx,
		`UPDATE tenants SET status = $1, updated_at = NOW() WHERE id = $2`, status, id)
	if err != nil {
		return fmt.Errorf("failed to update tenant status: %w", err)
	}
	if err := checkAffected(result, "tenant", id); err != nil {
		return err
	}
	if s.cache != nil {
		s.cache.InvalidateTenant(ctx, id)
	}
	return nil
}

// SetTenantIndustry sets or clears the industry classifier of a tenant
func (s *PostgresService) SetTenantIndustry(ctx context.Context, id int64, industry *string) error {
	result, err := s.db.ExecContext(ctx,
		`UPDATE tenants SET industry = $1, updated_at = NOW() WHERE id = $2`, industry, id)
	if err != nil {
		return fmt.Errorf("failed to set tenant industry: %w", err)
	}
	return checkAffected(result, "tenant", id)
}

// CreateUser inserts a new user. Emails are unique per tenant; a duplicate
// surfaces as a descriptive error rather than a bare constraint violation.
func (s *PostgresService) CreateUser(ctx context.Context, user *User) error {
	query := `
		INSERT INTO users (tenant_id, email, display_name, password_hash)
		VALUES ($1, $2, $3, $4)
		RETURNING id, created_at, updated_at
	`
	err := s.db.QueryRowContext(ctx, query,
		user.TenantID, user.Email, user.DisplayName, user.PasswordHash,
	).Scan(&user.ID, &user.CreatedAt, &user.UpdatedAt)
	if err != nil {
		if pqErr, ok := err.(*pq.Error); ok && pqErr.Code == "23505" {
			return fmt.Errorf("email %q already exists in tenant %d", user.Email, user.TenantID)
		}
		return fmt.Errorf("failed to create user: %w", err)
	}
	return nil
}

// UserByID retrieves a user by id, including soft-deleted users; callers
// that must exclude deleted users check IsDeleted.
func (s *PostgresService) UserByID(ctx context.Context, id int64) (*User, error) {
	query := `
		SELECT id, tenant_id, email, display_name, password_hash, deleted_at, created_at, updated_at
		FROM users
		WHERE id = $1
	`
	return s.scanUser(s.db.QueryRowContext(ctx, query, id), strconv.FormatInt(id, 10))
}

// UserByEmail retrieves a non-deleted user by tenant and email
func (s *PostgresService) UserByEmail(ctx context.Context, tenantID int64, email string) (*User, error) {
	query := `
		SELECT id, tenant_id, email, display_name, password_hash, deleted_at, created_at, updated_at
		FROM users
		WHERE tenant_id = $1 AND email = $2 AND deleted_at IS NULL
	`
	return s.scanUser(s.db.QueryRowContext(ctx, query, tenantID, email), email)
}

func (s *PostgresService) scanUser(row *sql.Row, id string) (*User, error) {
	user := &User{}
	err := row.Scan(
		&user.ID, &user.TenantID, &user.Email, &user.DisplayName,
		&user.PasswordHash, &user.DeletedAt, &user.CreatedAt, &user.UpdatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, &NotFoundError{Resource: "user", ID: id}
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get user: %w", err)
	}
	return user, nil
}

// CreateModule inserts a module catalog entry
func (s *PostgresService) CreateModule(ctx context.Context, module *Module) error {
	query := `
		INSERT INTO modules (key, name, description)
		VALUES ($1, $2, $3)
		ON CONFLICT (key) DO UPDATE SET name = EXCLUDED.name, description = EXCLUDED.description
		RETURNING id
	`
	err := s.db.QueryRowContext(ctx, query, module.Key, module.Name, module.Description).Scan(&module.ID)
	if err != nil {
		return fmt.Errorf("failed to create module: %w", err)
	}
	return nil
}

// ModuleByKey retrieves a module catalog entry
func (s *PostgresService) ModuleByKey(ctx context.Context, key string) (*Module, error) {
	query := `SELECT id, key, name, COALESCE(description, '') FROM modules WHERE key = $1`
	module := &Module{}
	err := s.db.QueryRowContext(ctx, query, key).Scan(
		&module.ID, &module.Key, &module.Name, &module.Description)
	if err == sql.ErrNoRows {
		return nil, &NotFoundError{Resource: "module", ID: key}
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get module: %w", err)
	}
	return module, nil
}

// ListModules returns the whole module catalog
func (s *PostgresService) ListModules(ctx context.Context) ([]*Module, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, key, name, COALESCE(description, '') FROM modules ORDER BY key`)
	if err != nil {
		return nil, fmt.Errorf("failed to list modules: %w", err)
	}
	defer rows.Close()

	var modules []*Module
	for rows.Next() {
		module := &Module{}
		if err := rows.Scan(&module.ID, &module.Key, &module.Name, &module.Description); err != nil {
			return nil, fmt.Errorf("failed to scan module: %w", err)
		}
		modules = append(modules, module)
	}
	return modules, rows.Err()
}

func checkAffected(result sql.Result, resource string, id int64) error {
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if affected == 0 {
		return &NotFoundError{Resource: resource, ID: strconv.FormatInt(id, 10)}
	}
	return nil
}
