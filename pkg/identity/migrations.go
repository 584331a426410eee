package identity

import "github.com/crestline/gatekeeper/pkg/storage/postgres"

// MigrationComponent is the schema_migrations component name for this package
const MigrationComponent = "identity"

// Migrations returns the ordered schema migrations for sessions
func Migrations() []postgres.Migration {
	return []postgres.Migration{
		{
			Version:     1,
			Description: "Create sessions table",
			SQL: `
				CREATE TABLE IF NOT EXISTS sessions (
					id BIGSERIAL PRIMARY KEY,
					user_id BIGINT NOT NULL REFERENCES users(id) ON DELETE CASCADE,
					kind VARCHAR(20) NOT NULL DEFAULT 'session',
					created_by BIGINT REFERENCES users(id) ON DELETE SET NULL,
					token_hash VARCHAR(64) NOT NULL UNIQUE,
					token_prefix VARCHAR(20) NOT NULL,
					expires_at TIMESTAMPTZ NOT NULL,
					revoked_at TIMESTAMPTZ,
					created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
					last_seen_at TIMESTAMPTZ
				);

				CREATE INDEX IF NOT EXISTS idx_sessions_user_id ON sessions(user_id);
				CREATE INDEX IF NOT EXISTS idx_sessions_expires_at ON sessions(expires_at);
			`,
		},
	}
}
