package hierarchy

import "github.com/crestline/gatekeeper/pkg/storage/postgres"

// MigrationComponent is the schema_migrations component name for this package
const MigrationComponent = "hierarchy"

// Migrations returns the ordered schema migrations for memberships and
// platform roles. The partial unique index on active owners is a storage
// backstop for the single-owner invariant; the Engine still asserts it
// inside every mutating transaction.
func Migrations() []postgres.Migration {
	return []postgres.Migration{
		{
			Version:     1,
			Description: "Create memberships table",
			SQL: `
				CREATE TABLE IF NOT EXISTS memberships (
					id BIGSERIAL PRIMARY KEY,
					tenant_id BIGINT NOT NULL REFERENCES tenants(id) ON DELETE CASCADE,
					user_id BIGINT NOT NULL REFERENCES users(id) ON DELETE CASCADE,
					rank VARCHAR(20) NOT NULL,
					supervisor_id BIGINT REFERENCES users(id),
					is_active BOOLEAN NOT NULL DEFAULT TRUE,
					deleted_at TIMESTAMPTZ,
					created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
					updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
					UNIQUE(tenant_id, user_id)
				);

				CREATE INDEX IF NOT EXISTS idx_memberships_tenant_id ON memberships(tenant_id);
				CREATE INDEX IF NOT EXISTS idx_memberships_user_id ON memberships(user_id);
				CREATE INDEX IF NOT EXISTS idx_memberships_supervisor_id ON memberships(supervisor_id);

				CREATE UNIQUE INDEX IF NOT EXISTS idx_memberships_single_owner
					ON memberships(tenant_id)
					WHERE rank = 'tenant_owner' AND is_active AND deleted_at IS NULL;
			`,
		},
		{
			Version:     2,
			Description: "Create platform_roles table",
			SQL: `
				CREATE TABLE IF NOT EXISTS platform_roles (
					id BIGSERIAL PRIMARY KEY,
					user_id BIGINT NOT NULL REFERENCES users(id) ON DELETE CASCADE,
					rank VARCHAR(20) NOT NULL,
					granted_by BIGINT REFERENCES users(id) ON DELETE SET NULL,
					granted_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
					UNIQUE(user_id, rank)
				);

				CREATE INDEX IF NOT EXISTS idx_platform_roles_user_id ON platform_roles(user_id);
			`,
		},
	}
}
