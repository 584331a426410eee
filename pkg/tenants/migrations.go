package tenants

import "github.com/crestline/gatekeeper/pkg/storage/postgres"

// MigrationComponent is the schema_migrations component name for this package
const MigrationComponent = "tenants"

// Migrations returns the ordered schema migrations for tenants, users, and
// the module catalog.
func Migrations() []postgres.Migration {
	return []postgres.Migration{
		{
			Version:     1,
			Description: "Create tenants table",
			SQL: `
				CREATE TABLE IF NOT EXISTS tenants (
					id BIGSERIAL PRIMARY KEY,
					name VARCHAR(255) NOT NULL UNIQUE,
					display_name VARCHAR(255) NOT NULL,
					status VARCHAR(20) NOT NULL DEFAULT 'active',
					activation_expires_at TIMESTAMPTZ,
					industry VARCHAR(100),
					created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
					updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
				);

				CREATE INDEX IF NOT EXISTS idx_tenants_status ON tenants(status);
			`,
		},
		{
			Version:     2,
			Description: "Create users table",
			SQL: `
				CREATE TABLE IF NOT EXISTS users (
					id BIGSERIAL PRIMARY KEY,
					tenant_id BIGINT NOT NULL REFERENCES tenants(id) ON DELETE CASCADE,
					email VARCHAR(255) NOT NULL,
					display_name VARCHAR(255) NOT NULL,
					password_hash TEXT NOT NULL,
					deleted_at TIMESTAMPTZ,
					created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
					updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
					UNIQUE(tenant_id, email)
				);

				CREATE INDEX IF NOT EXISTS idx_users_tenant_id ON users(tenant_id);
			`,
		},
		{
			Version:     3,
			Description: "Create modules catalog table",
			SQL: `
				CREATE TABLE IF NOT EXISTS modules (
					id BIGSERIAL PRIMARY KEY,
					key VARCHAR(100) NOT NULL UNIQUE,
					name VARCHAR(255) NOT NULL,
					description TEXT
				);
			`,
		},
	}
}
