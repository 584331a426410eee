package entitlements

import "github.com/crestline/gatekeeper/pkg/storage/postgres"

// MigrationComponent is the schema_migrations component name for this package
const MigrationComponent = "entitlements"

// Migrations returns the ordered schema migrations for entitlements
func Migrations() []postgres.Migration {
	return []postgres.Migration{
		{
			Version:     1,
			Description: "Create entitlements table",
			SQL: `
				CREATE TABLE IF NOT EXISTS entitlements (
					id BIGSERIAL PRIMARY KEY,
					tenant_id BIGINT NOT NULL REFERENCES tenants(id) ON DELETE CASCADE,
					module_key VARCHAR(100) NOT NULL,
					is_enabled BOOLEAN NOT NULL DEFAULT FALSE,
					limits JSONB,
					created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
					updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
					UNIQUE(tenant_id, module_key)
				);

				CREATE INDEX IF NOT EXISTS idx_entitlements_tenant_id ON entitlements(tenant_id);
			`,
		},
		{
			Version:     2,
			Description: "Create user_entitlements table",
			SQL: `
				CREATE TABLE IF NOT EXISTS user_entitlements (
					id BIGSERIAL PRIMARY KEY,
					user_id BIGINT NOT NULL REFERENCES users(id) ON DELETE CASCADE,
					tenant_id BIGINT NOT NULL REFERENCES tenants(id) ON DELETE CASCADE,
					module_key VARCHAR(100) NOT NULL,
					is_enabled BOOLEAN NOT NULL,
					created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
					updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
					UNIQUE(user_id, tenant_id, module_key)
				);

				CREATE INDEX IF NOT EXISTS idx_user_entitlements_tenant_module
					ON user_entitlements(tenant_id, module_key);
			`,
		},
	}
}
